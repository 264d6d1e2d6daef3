package redis

import (
	"context"
	"fmt"

	"github.com/sharetube/watchsync/internal/repository/session"
)

func (r repo) CreateSession(ctx context.Context, params *session.CreateSessionParams) error {
	sessionKey := r.getSessionKey(params.SessionId)

	created, err := r.rc.HSetNX(ctx, sessionKey, "created_at", params.CreatedAt).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !created {
		return session.ErrSessionAlreadyExists
	}

	r.rc.Expire(ctx, sessionKey, r.expireDuration)

	return nil
}

func (r repo) GetSession(ctx context.Context, sessionId string) (session.Session, error) {
	sessionKey := r.getSessionKey(sessionId)
	res := r.rc.HGetAll(ctx, sessionKey)
	if err := res.Err(); err != nil {
		return session.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	if len(res.Val()) == 0 {
		return session.Session{}, session.ErrSessionNotFound
	}

	var s session.Session
	if err := res.Scan(&s); err != nil {
		return session.Session{}, fmt.Errorf("failed to scan session: %w", err)
	}

	return s, nil
}

func (r repo) IsSessionExists(ctx context.Context, sessionId string) (bool, error) {
	sessionKey := r.getSessionKey(sessionId)
	res, err := r.rc.Exists(ctx, sessionKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if session exists: %w", err)
	}

	return res > 0, nil
}

// ExpireSession refreshes the expiration of every key of the session.
func (r repo) ExpireSession(ctx context.Context, sessionId string) error {
	pipe := r.rc.TxPipeline()
	pipe.Expire(ctx, r.getSessionKey(sessionId), r.expireDuration)
	pipe.Expire(ctx, r.getPlaybackKey(sessionId), r.expireDuration)
	pipe.Expire(ctx, r.getMetricsKey(sessionId), r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to expire session: %w", err)
	}

	return nil
}

func (r repo) RemoveSession(ctx context.Context, sessionId string) error {
	res, err := r.rc.Del(ctx,
		r.getSessionKey(sessionId),
		r.getPlaybackKey(sessionId),
		r.getMetricsKey(sessionId),
	).Result()
	if err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}

	if res == 0 {
		return session.ErrSessionNotFound
	}

	r.logger.Debug("session removed", "session_id", sessionId)
	return nil
}
