package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/karstlabs/gantry/event"
)

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	name := event.Name(r.URL.Query().Get("name"))

	events, err := a.eng.Bus().List(r.Context(), tenant, name, limitParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
