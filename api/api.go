// Package api exposes the read surfaces and the two DLQ operator verbs
// over HTTP. Routes are tenant-scoped where the data is; responses are
// JSON throughout.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/karstlabs/gantry"
	"github.com/karstlabs/gantry/engine"
)

// API wires the HTTP handlers for a gantry engine.
type API struct {
	eng *engine.Engine
}

// New creates an API from an Engine.
func New(eng *engine.Engine) *API {
	return &API{eng: eng}
}

// Router builds the HTTP router.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", a.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Get("/jobs", a.handleListJobs)
			r.Get("/jobs/{jobID}", a.handleGetJob)
			r.Get("/executions", a.handleListExecutions)
			r.Get("/dlq", a.handleListDLQ)
			r.Get("/events", a.handleListEvents)
		})

		r.Get("/executions/{executionID}", a.handleGetExecution)
		r.Get("/executions/{executionID}/logs", a.handleExecutionLogs)

		r.Get("/dlq/{entryID}", a.handleGetDLQ)
		r.Post("/dlq/{entryID}/resolve", a.handleResolveDLQ)
		r.Post("/dlq/{entryID}/replay", a.handleReplayDLQ)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeDomainError maps sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gantry.ErrJobNotFound),
		errors.Is(err, gantry.ErrExecutionNotFound),
		errors.Is(err, gantry.ErrDLQNotFound),
		errors.Is(err, gantry.ErrEventNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, gantry.ErrDLQResolved):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
