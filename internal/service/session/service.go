package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/watchsync/internal/coordinator"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/metrics"
	"github.com/sharetube/watchsync/internal/repository/connection"
	"github.com/sharetube/watchsync/internal/repository/session"
)

var (
	ErrPermissionDenied     = errors.New("permission denied")
	ErrSessionNotFound      = errors.New("session not found")
	ErrMembersLimitReached  = errors.New("members limit reached")
	ErrUserAlreadyConnected = errors.New("user already connected")
	ErrValidation           = errors.New("validation error")
	ErrServiceClosed        = errors.New("service closed")
)

type iSessionRepo interface {
	CreateSession(context.Context, *session.CreateSessionParams) error
	IsSessionExists(context.Context, string) (bool, error)
	ExpireSession(context.Context, string) error
	RemoveSession(context.Context, string) error
	SetPlayback(context.Context, *session.SetPlaybackParams) error
	GetPlayback(context.Context, string) (session.Playback, error)
	UpdateMetrics(context.Context, *session.UpdateMetricsParams) error
	GetMetrics(context.Context, string) (session.Metrics, error)
}

type iConnRepo interface {
	Add(sessionId, userId string, conn connection.Conn) error
	Remove(sessionId, userId string, conn connection.Conn) error
	RemoveSession(sessionId string) map[string]connection.Conn
	Get(sessionId, userId string) (connection.Conn, error)
	List(sessionId string) map[string]connection.Conn
}

type Config struct {
	// Key signing session admin tokens.
	Secret       string
	MembersLimit int
	// Period of metrics persistence for live sessions.
	PersistInterval time.Duration
	Coordinator     coordinator.Config
}

type service struct {
	sessionRepo iSessionRepo
	connRepo    iConnRepo
	cfg         Config
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*coordinator.Coordinator
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(sessionRepo iSessionRepo, connRepo iConnRepo, cfg *Config, logger *slog.Logger) *service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &service{
		sessionRepo: sessionRepo,
		connRepo:    connRepo,
		cfg:         *cfg,
		logger:      logger,
		sessions:    make(map[string]*coordinator.Coordinator),
		ctx:         ctx,
		cancel:      cancel,
	}

	if s.cfg.PersistInterval > 0 {
		s.wg.Add(1)
		go s.persistLoop()
	}

	return s
}

// Close stops every live session, persisting its state first.
func (s *service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	live := s.sessions
	s.sessions = make(map[string]*coordinator.Coordinator)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for sessionId, c := range live {
		s.persist(ctx, c)
		c.Close()
		for _, conn := range s.connRepo.RemoveSession(sessionId) {
			conn.Close()
		}
	}
	metrics.ActiveSessions.Sub(float64(len(live)))

	s.cancel()
	s.wg.Wait()
}

func (s *service) coordinatorConfig() *coordinator.Config {
	cfg := s.cfg.Coordinator
	return &cfg
}

// getOrCreate returns the live coordinator of the session, creating it and
// restoring its persisted playback when the session is not live. Storage is
// read without holding s.mu.
func (s *service) getOrCreate(ctx context.Context, sessionId string) (*coordinator.Coordinator, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	if c, ok := s.sessions[sessionId]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	exists, err := s.sessionRepo.IsSessionExists(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrSessionNotFound
	}

	var seed *domain.PlaybackState
	playback, err := s.sessionRepo.GetPlayback(ctx, sessionId)
	switch {
	case err == nil:
		state := playbackFromRepo(playback)
		// the host that produced the state is gone
		state.IsPlaying = false
		seed = &state
	case errors.Is(err, session.ErrPlaybackNotFound):
	default:
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServiceClosed
	}
	if c, ok := s.sessions[sessionId]; ok {
		return c, nil
	}

	c := coordinator.New(sessionId, s, s.logger, s.coordinatorConfig())
	if seed != nil {
		c.Seed(*seed)
	}

	s.sessions[sessionId] = c
	metrics.ActiveSessions.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := c.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("session loop stopped", "session_id", sessionId, "error", err)
		}
	}()

	s.logger.Info("session started", "session_id", sessionId)
	return c, nil
}

func (s *service) get(sessionId string) (*coordinator.Coordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServiceClosed
	}

	c, ok := s.sessions[sessionId]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return c, nil
}

// stopLocked stops a live session and returns the state to persist once s.mu
// is released. The persisted state stays in storage until it expires.
func (s *service) stopLocked(sessionId string, c *coordinator.Coordinator) (snapshot, bool) {
	if s.sessions[sessionId] != c {
		return snapshot{}, false
	}

	snap := snapshotOf(c)
	c.Close()
	delete(s.sessions, sessionId)
	metrics.ActiveSessions.Dec()

	s.logger.Info("session stopped", "session_id", sessionId)
	return snap, true
}
