package controller

import (
	"context"

	"github.com/sharetube/watchsync/internal/repository/connection"
)

type contextKey int

const (
	sessionIdCtxKey contextKey = iota
	userIdCtxKey
	connCtxKey
)

func (c controller) getSessionIdFromCtx(ctx context.Context) string {
	sessionId, ok := ctx.Value(sessionIdCtxKey).(string)
	if !ok {
		return ""
	}

	return sessionId
}

func (c controller) getUserIdFromCtx(ctx context.Context) string {
	userId, ok := ctx.Value(userIdCtxKey).(string)
	if !ok {
		return ""
	}

	return userId
}

// getConnFromCtx returns the serialized writer of the connection being served.
func (c controller) getConnFromCtx(ctx context.Context) connection.Conn {
	conn, ok := ctx.Value(connCtxKey).(connection.Conn)
	if !ok {
		return nil
	}

	return conn
}
