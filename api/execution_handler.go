package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/karstlabs/gantry/execlog"
	"github.com/karstlabs/gantry/id"
)

// limitParam parses an optional ?limit= query value. Zero means no limit.
func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (a *API) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	jobID := id.Nil
	if raw := r.URL.Query().Get("job_id"); raw != "" {
		parsed, err := id.ParseJobID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid job_id")
			return
		}
		jobID = parsed
	}

	execs, err := a.eng.Tracker().History(r.Context(), tenant, jobID, limitParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (a *API) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	execID, err := id.ParseExecutionID(chi.URLParam(r, "executionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	ex, err := a.eng.Tracker().Get(r.Context(), execID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (a *API) handleExecutionLogs(w http.ResponseWriter, r *http.Request) {
	execID, err := id.ParseExecutionID(chi.URLParam(r, "executionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	minLevel := execlog.Level(r.URL.Query().Get("min_level"))
	if minLevel != "" && !minLevel.Valid() {
		writeError(w, http.StatusBadRequest, "invalid min_level")
		return
	}

	entries, err := a.eng.Tracker().Logs(r.Context(), execID, minLevel)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}
