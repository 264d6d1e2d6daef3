package controller

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sharetube/watchsync/internal/service/session"
	"github.com/sharetube/watchsync/pkg/rest"
)

func (c controller) createSession(w http.ResponseWriter, r *http.Request) {
	resp, err := c.sessionService.CreateSession(r.Context())
	if err != nil {
		c.writeRESTError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusCreated, rest.Envelope{"data": resp})
}

func (c controller) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := c.sessionService.CloseSession(r.Context(), &session.CloseSessionParams{
		SessionId:  chi.URLParam(r, "session-id"),
		AdminToken: strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
	}); err != nil {
		c.writeRESTError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (c controller) getPresences(w http.ResponseWriter, r *http.Request) {
	presences, err := c.sessionService.GetPresences(r.Context(), chi.URLParam(r, "session-id"))
	if err != nil {
		c.writeRESTError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": presences})
}

func (c controller) getMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := c.sessionService.GetMetrics(r.Context(), chi.URLParam(r, "session-id"))
	if err != nil {
		c.writeRESTError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": m})
}
