package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sharetube/watchsync/internal/coordinator"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/metrics"
	"github.com/sharetube/watchsync/internal/repository/connection"
	"github.com/sharetube/watchsync/internal/repository/session"
)

const closeCodeSessionClosed = 4000

func (s *service) CreateSession(ctx context.Context) (CreateSessionResponse, error) {
	sessionId := uuid.NewString()

	if err := s.sessionRepo.CreateSession(ctx, &session.CreateSessionParams{
		SessionId: sessionId,
		CreatedAt: domain.Millis(time.Now()),
	}); err != nil {
		return CreateSessionResponse{}, fmt.Errorf("failed to create session: %w", err)
	}

	adminToken, err := s.generateAdminToken(sessionId)
	if err != nil {
		return CreateSessionResponse{}, fmt.Errorf("failed to generate admin token: %w", err)
	}

	s.logger.InfoContext(ctx, "session created", "session_id", sessionId)
	return CreateSessionResponse{SessionId: sessionId, AdminToken: adminToken}, nil
}

// JoinSession registers the connection and the presence of a user. The first
// user of a session without host claims it.
func (s *service) JoinSession(ctx context.Context, params *JoinSessionParams) (JoinSessionResponse, error) {
	if err := validation.ValidateStructWithContext(ctx, params,
		validation.Field(&params.SessionId, SessionIdRule...),
		validation.Field(&params.UserId, UserIdRule...),
		validation.Field(&params.Username, UsernameRule...),
		validation.Field(&params.Conn, validation.Required),
	); err != nil {
		return JoinSessionResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	for {
		c, err := s.getOrCreate(ctx, params.SessionId)
		if err != nil {
			return JoinSessionResponse{}, fmt.Errorf("failed to get session: %w", err)
		}

		s.mu.Lock()
		if s.sessions[params.SessionId] != c {
			// stopped by the last leave before the lock was taken
			s.mu.Unlock()
			continue
		}
		joined, err := s.joinLocked(ctx, c, params)
		s.mu.Unlock()
		if err != nil {
			return JoinSessionResponse{}, err
		}

		if err := s.sessionRepo.ExpireSession(ctx, params.SessionId); err != nil {
			s.logger.WarnContext(ctx, "failed to refresh session expiration", "error", err)
		}

		resp := JoinSessionResponse{
			Presence:  joined,
			Presences: slices.Collect(c.Presences()),
			HostId:    c.HostId(),
		}
		if sync, err := c.OnSyncRequest(domain.SyncRequest{RequesterId: params.UserId}); err == nil {
			resp.Sync = &sync
		}

		return resp, nil
	}
}

// joinLocked enforces the members limit and registers the connection and the
// presence. It does no I/O.
func (s *service) joinLocked(ctx context.Context, c *coordinator.Coordinator, params *JoinSessionParams) (domain.UserPresence, error) {
	if _, present := c.Presence(params.UserId); !present && c.Len() >= s.cfg.MembersLimit {
		return domain.UserPresence{}, ErrMembersLimitReached
	}

	if err := s.connRepo.Add(params.SessionId, params.UserId, params.Conn); err != nil {
		if errors.Is(err, connection.ErrAlreadyExists) {
			return domain.UserPresence{}, ErrUserAlreadyConnected
		}
		return domain.UserPresence{}, fmt.Errorf("failed to add connection: %w", err)
	}

	joined, err := c.Join(domain.UserPresence{
		Id:       params.UserId,
		Username: params.Username,
	})
	if err != nil {
		s.connRepo.Remove(params.SessionId, params.UserId, params.Conn)
		return domain.UserPresence{}, fmt.Errorf("failed to join session: %w", err)
	}

	if c.HostId() == "" && c.Len() == 1 {
		if err := c.RequestHostTransfer(domain.HostTransfer{NewHostId: params.UserId}); err != nil {
			s.logger.WarnContext(ctx, "failed to claim host", "error", err)
		} else {
			joined, _ = c.Presence(params.UserId)
		}
	}

	return joined, nil
}

// LeaveSession drops the connection and the presence. A session left empty
// stops; its persisted state is kept for a later join.
func (s *service) LeaveSession(ctx context.Context, params *LeaveSessionParams) error {
	s.mu.Lock()
	if err := s.connRepo.Remove(params.SessionId, params.UserId, params.Conn); err != nil {
		s.mu.Unlock()
		return nil
	}

	c, ok := s.sessions[params.SessionId]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	if err := c.Leave(params.UserId); err != nil && !errors.Is(err, coordinator.ErrUnknownUser) {
		s.mu.Unlock()
		return fmt.Errorf("failed to leave session: %w", err)
	}

	var (
		snap    snapshot
		stopped bool
	)
	if c.Len() == 0 {
		snap, stopped = s.stopLocked(params.SessionId, c)
	}
	s.mu.Unlock()

	if stopped {
		s.save(ctx, snap)
	}

	return nil
}

// CloseSession stops the session, disconnects its users and deletes its
// persisted state. It requires the admin token issued on creation.
func (s *service) CloseSession(ctx context.Context, params *CloseSessionParams) error {
	if err := validation.ValidateStructWithContext(ctx, params,
		validation.Field(&params.SessionId, SessionIdRule...),
	); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	tokenSessionId, err := s.parseAdminToken(params.AdminToken)
	if err != nil || tokenSessionId != params.SessionId {
		return ErrPermissionDenied
	}
	sessionId := params.SessionId

	s.mu.Lock()
	if c, ok := s.sessions[sessionId]; ok {
		c.Close()
		delete(s.sessions, sessionId)
		metrics.ActiveSessions.Dec()
	}
	conns := s.connRepo.RemoveSession(sessionId)
	s.mu.Unlock()

	for _, conn := range conns {
		conn.WriteClose(closeCodeSessionClosed, "session closed")
		conn.Close()
	}

	if err := s.sessionRepo.RemoveSession(ctx, sessionId); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to remove session: %w", err)
	}

	s.logger.InfoContext(ctx, "session closed", "session_id", sessionId)
	return nil
}

func (s *service) GetPresences(ctx context.Context, sessionId string) ([]domain.UserPresence, error) {
	if err := validation.Validate(sessionId, SessionIdRule...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if c, err := s.get(sessionId); err == nil {
		return slices.Collect(c.Presences()), nil
	}

	if err := s.checkExists(ctx, sessionId); err != nil {
		return nil, err
	}

	return []domain.UserPresence{}, nil
}

func (s *service) GetMetrics(ctx context.Context, sessionId string) (GetMetricsResponse, error) {
	if err := validation.Validate(sessionId, SessionIdRule...); err != nil {
		return GetMetricsResponse{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if c, err := s.get(sessionId); err == nil {
		resp := GetMetricsResponse{
			Session: c.Metrics(),
			Users:   []domain.UserSyncMetrics{},
		}
		for p := range c.Presences() {
			if m, ok := c.UserMetrics(p.Id); ok {
				resp.Users = append(resp.Users, m)
			}
		}

		return resp, nil
	}

	if err := s.checkExists(ctx, sessionId); err != nil {
		return GetMetricsResponse{}, err
	}

	stored, err := s.sessionRepo.GetMetrics(ctx, sessionId)
	if err != nil && !errors.Is(err, session.ErrMetricsNotFound) {
		return GetMetricsResponse{}, fmt.Errorf("failed to get metrics: %w", err)
	}

	return GetMetricsResponse{
		Session: metricsFromRepo(stored),
		Users:   []domain.UserSyncMetrics{},
	}, nil
}

func (s *service) checkExists(ctx context.Context, sessionId string) error {
	exists, err := s.sessionRepo.IsSessionExists(ctx, sessionId)
	if err != nil {
		return fmt.Errorf("failed to check if session exists: %w", err)
	}
	if !exists {
		return ErrSessionNotFound
	}

	return nil
}
