package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/karstlabs/gantry/id"
)

func (a *API) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	resolved := r.URL.Query().Get("resolved") == "true"

	entries, err := a.eng.DLQ().List(r.Context(), tenant, resolved)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	count, err := a.eng.DLQ().Count(r.Context(), tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"open":    count,
	})
}

func (a *API) handleGetDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dlq entry id")
		return
	}

	entry, err := a.eng.DLQ().Get(r.Context(), entryID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type resolveRequest struct {
	Notes    string `json:"notes"`
	Resolver string `json:"resolver"`
}

func (a *API) handleResolveDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dlq entry id")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Resolver == "" {
		writeError(w, http.StatusBadRequest, "resolver is required")
		return
	}

	entry, err := a.eng.DLQ().Resolve(r.Context(), entryID, req.Notes, req.Resolver)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type replayRequest struct {
	Actor string `json:"actor"`
}

func (a *API) handleReplayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dlq entry id")
		return
	}

	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	ex, err := a.eng.DLQ().Replay(r.Context(), entryID, req.Actor, a.eng.StartReplay())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ex)
}
