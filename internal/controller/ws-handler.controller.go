package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/repository/connection"
	"github.com/sharetube/watchsync/internal/service/session"
	"github.com/sharetube/watchsync/pkg/ctxlogger"
	"github.com/sharetube/watchsync/pkg/rest"
	"github.com/sharetube/watchsync/pkg/validator"
)

type joinSessionQuery struct {
	UserId   string `json:"user-id" validate:"required,max=64"`
	Username string `json:"username" validate:"required,max=32"`
}

type JoinedSessionPayload struct {
	Presence  domain.UserPresence   `json:"presence"`
	Presences []domain.UserPresence `json:"presences"`
	HostId    string                `json:"hostId"`
	Sync      *domain.SyncResponse  `json:"sync,omitempty"`
}

func (c controller) joinSession(w http.ResponseWriter, r *http.Request) {
	sessionId := chi.URLParam(r, "session-id")
	query := joinSessionQuery{
		UserId:   r.URL.Query().Get("user-id"),
		Username: r.URL.Query().Get("username"),
	}
	if errs, ok := c.validate.Validate(query); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": errs, "error": validator.Error(errs)})
		return
	}

	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}
	defer ws.Close()
	if c.cfg.ReadLimit > 0 {
		ws.SetReadLimit(c.cfg.ReadLimit)
	}

	conn := connection.NewWSConn(ws, c.cfg.WriteWait)

	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("session_id", sessionId))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("user_id", query.UserId))

	joinResp, err := c.sessionService.JoinSession(ctx, &session.JoinSessionParams{
		SessionId: sessionId,
		UserId:    query.UserId,
		Username:  query.Username,
		Conn:      conn,
	})
	if err != nil {
		c.logger.InfoContext(ctx, "failed to join session", "error", err)
		conn.WriteJSON(session.Output{Type: "ERROR", Payload: errorPayload(err)})
		conn.WriteClose(joinCloseCode(err), "join refused")
		return
	}
	defer func() {
		if err := c.sessionService.LeaveSession(context.WithoutCancel(ctx), &session.LeaveSessionParams{
			SessionId: sessionId,
			UserId:    query.UserId,
			Conn:      conn,
		}); err != nil {
			c.logger.WarnContext(ctx, "failed to leave session", "error", err)
		}
	}()

	if err := conn.WriteJSON(session.Output{
		Type: "JOINED_SESSION",
		Payload: JoinedSessionPayload{
			Presence:  joinResp.Presence,
			Presences: joinResp.Presences,
			HostId:    joinResp.HostId,
			Sync:      joinResp.Sync,
		},
	}); err != nil {
		c.logger.WarnContext(ctx, "failed to write json", "error", err)
		return
	}

	ctx = context.WithValue(ctx, sessionIdCtxKey, sessionId)
	ctx = context.WithValue(ctx, userIdCtxKey, query.UserId)
	ctx = context.WithValue(ctx, connCtxKey, connection.Conn(conn))

	if err := c.wsmux.ServeConn(ctx, ws); err != nil {
		c.logger.InfoContext(ctx, "connection closed", "error", err)
	}
}
