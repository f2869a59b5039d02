package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/id"
)

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	defs, err := a.eng.Registry().List(r.Context(), tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": defs})
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	def, err := a.eng.Registry().Get(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if def.TenantID != tenant {
		writeDomainError(w, gantry.ErrJobNotFound)
		return
	}

	active, err := a.eng.Tracker().ActiveCount(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": def, "active_executions": active})
}
