package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/internal/coordinator"
	"github.com/sharetube/watchsync/internal/service/session"
	"github.com/sharetube/watchsync/pkg/rest"
	"github.com/sharetube/watchsync/pkg/validator"
	"github.com/sharetube/watchsync/pkg/wsrouter"
)

var errInvalidInput = errors.New("invalid input")

const (
	codeNoHostAssigned  = "NO_HOST_ASSIGNED"
	codeStaleHost       = "STALE_HOST"
	codeUnknownUser     = "UNKNOWN_USER"
	codeNotCurrentHost  = "NOT_CURRENT_HOST"
	codeValidation      = "VALIDATION_ERROR"
	codePermission      = "PERMISSION_DENIED"
	codeSessionNotFound = "SESSION_NOT_FOUND"
	codeMembersLimit    = "MEMBERS_LIMIT_REACHED"
	codeAlreadyJoined   = "ALREADY_CONNECTED"
	codeInternal        = "INTERNAL"
)

// Close codes sent when a join is refused.
const (
	closeSessionNotFound   = 4004
	closeMembersLimit      = 4003
	closeAlreadyConnected  = 4009
	closeInvalidJoin       = 4000
	closeInternalJoinError = 4500
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorCodes = []struct {
	err  error
	code string
}{
	{coordinator.ErrNoHostAssigned, codeNoHostAssigned},
	{coordinator.ErrStaleHost, codeStaleHost},
	{coordinator.ErrUnknownUser, codeUnknownUser},
	{coordinator.ErrNotCurrentHost, codeNotCurrentHost},
	{coordinator.ErrInvalidPlayback, codeValidation},
	{coordinator.ErrInvalidQuality, codeValidation},
	{coordinator.ErrInvalidObservedTime, codeValidation},
	{coordinator.ErrInvalidPresence, codeValidation},
	{coordinator.ErrSessionClosed, codeSessionNotFound},
	{session.ErrValidation, codeValidation},
	{session.ErrPermissionDenied, codePermission},
	{session.ErrSessionNotFound, codeSessionNotFound},
	{session.ErrMembersLimitReached, codeMembersLimit},
	{session.ErrUserAlreadyConnected, codeAlreadyJoined},
	{errInvalidInput, codeValidation},
	{wsrouter.ErrInvalidMessage, codeValidation},
	{wsrouter.ErrUnknownMessageType, codeValidation},
}

func errorPayload(err error) ErrorPayload {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return ErrorPayload{Code: e.code, Message: err.Error()}
		}
	}

	return ErrorPayload{Code: codeInternal, Message: "internal error"}
}

func (c controller) handleWSError(ctx context.Context, _ *websocket.Conn, err error) {
	payload := errorPayload(err)
	if payload.Code == codeInternal {
		c.logger.ErrorContext(ctx, "failed to handle websocket message", "error", err)
	} else {
		c.logger.InfoContext(ctx, "websocket message rejected", "code", payload.Code, "error", err)
	}

	conn := c.getConnFromCtx(ctx)
	if conn == nil {
		return
	}

	if err := conn.WriteJSON(session.Output{Type: "ERROR", Payload: payload}); err != nil {
		c.logger.InfoContext(ctx, "failed to write error", "error", err)
	}
}

func (c controller) writeRESTError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrValidation):
		rest.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrPermissionDenied):
		rest.WriteError(w, http.StatusForbidden, session.ErrPermissionDenied.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		rest.WriteError(w, http.StatusNotFound, session.ErrSessionNotFound.Error())
	default:
		c.logger.ErrorContext(r.Context(), "request failed", "error", err)
		rest.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// validateInput checks input against its validate tags.
func (c controller) validateInput(input any) error {
	if errs, ok := c.validate.Validate(input); !ok {
		return fmt.Errorf("%w: %s", errInvalidInput, validator.Error(errs))
	}

	return nil
}

func joinCloseCode(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return closeSessionNotFound
	case errors.Is(err, session.ErrMembersLimitReached):
		return closeMembersLimit
	case errors.Is(err, session.ErrUserAlreadyConnected):
		return closeAlreadyConnected
	case errors.Is(err, session.ErrValidation):
		return closeInvalidJoin
	default:
		return closeInternalJoinError
	}
}
