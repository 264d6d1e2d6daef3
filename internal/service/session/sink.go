package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharetube/watchsync/internal/coordinator"
	"github.com/sharetube/watchsync/internal/repository/connection"
)

const closeCodePresenceTimedOut = 4008

// Deliver writes a coordinator push to the connections it addresses. A
// connection that fails a write is closed; its reader then leaves the session.
func (s *service) Deliver(ctx context.Context, push coordinator.Push) error {
	if push.Type == coordinator.PushPresenceRemoved {
		return s.evict(ctx, push)
	}

	conns := s.connRepo.List(push.SessionId)

	targets := push.To
	if len(targets) == 0 {
		targets = make([]string, 0, len(conns))
		for userId := range conns {
			targets = append(targets, userId)
		}
	}

	output := Output{Type: string(push.Type), Payload: push.Payload}

	var errs []error
	for _, userId := range targets {
		conn, ok := conns[userId]
		if !ok {
			continue
		}

		if err := conn.WriteJSON(output); err != nil {
			errs = append(errs, fmt.Errorf("failed to write to %s: %w", userId, err))
			conn.Close()
		}
	}

	return errors.Join(errs...)
}

// evict disconnects presences removed by the liveness sweep and stops the
// session once nobody is left. A user that joined again in the meantime keeps
// the new connection.
func (s *service) evict(ctx context.Context, push coordinator.Push) error {
	s.mu.Lock()
	c, live := s.sessions[push.SessionId]
	evicted := make(map[string]connection.Conn, len(push.To))
	for _, userId := range push.To {
		if live {
			if _, back := c.Presence(userId); back {
				continue
			}
		}

		conn, err := s.connRepo.Get(push.SessionId, userId)
		if err != nil {
			continue
		}
		if err := s.connRepo.Remove(push.SessionId, userId, conn); err == nil {
			evicted[userId] = conn
		}
	}

	var (
		snap    snapshot
		stopped bool
	)
	if live && c.Len() == 0 {
		snap, stopped = s.stopLocked(push.SessionId, c)
	}
	s.mu.Unlock()

	output := Output{Type: string(push.Type), Payload: push.Payload}
	for userId, conn := range evicted {
		conn.WriteJSON(output)
		conn.WriteClose(closeCodePresenceTimedOut, "presence timed out")
		conn.Close()
		s.logger.InfoContext(ctx, "evicted idle connection", "session_id", push.SessionId, "user_id", userId)
	}

	if stopped {
		s.save(ctx, snap)
	}

	return nil
}
