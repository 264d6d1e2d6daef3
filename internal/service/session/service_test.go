package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchsync/internal/coordinator"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/repository/connection/inmemory"
	sessionRedis "github.com/sharetube/watchsync/internal/repository/session/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingConn struct {
	mu        sync.Mutex
	outputs   []Output
	closed    bool
	closeCode int
}

func (c *recordingConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outputs = append(c.outputs, v.(Output))
	return nil
}

func (c *recordingConn) WriteClose(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeCode = code
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

func (c *recordingConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	types := make([]string, 0, len(c.outputs))
	for _, o := range c.outputs {
		types = append(types, o.Type)
	}

	return types
}

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *recordingConn) closedWith() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeCode
}

type testEnv struct {
	service *service
	redis   *miniredis.Miniredis
	rc      *redis.Client
}

type envSetup struct {
	coordinator coordinator.Config
	wrapRepo    func(iSessionRepo) iSessionRepo
}

type envOption func(*envSetup)

func withCoordinator(mutate func(*coordinator.Config)) envOption {
	return func(s *envSetup) {
		mutate(&s.coordinator)
	}
}

func withSessionRepo(wrap func(iSessionRepo) iSessionRepo) envOption {
	return func(s *envSetup) {
		s.wrapRepo = wrap
	}
}

func newTestEnv(t *testing.T, membersLimit int, opts ...envOption) *testEnv {
	t.Helper()

	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	setup := envSetup{coordinator: coordinator.DefaultConfig()}
	for _, opt := range opts {
		opt(&setup)
	}

	var sessionRepo iSessionRepo = sessionRedis.NewRepo(rc, time.Hour, logger)
	if setup.wrapRepo != nil {
		sessionRepo = setup.wrapRepo(sessionRepo)
	}

	service := NewService(
		sessionRepo,
		inmemory.NewRepo(logger),
		&Config{
			Secret:          "test-secret",
			MembersLimit:    membersLimit,
			PersistInterval: time.Hour,
			Coordinator:     setup.coordinator,
		},
		logger,
	)
	t.Cleanup(func() {
		service.Close()
		rc.Close()
	})

	return &testEnv{service: service, redis: s, rc: rc}
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()

	return e.createSessionWithToken(t).SessionId
}

func (e *testEnv) createSessionWithToken(t *testing.T) CreateSessionResponse {
	t.Helper()

	resp, err := e.service.CreateSession(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionId)
	require.NotEmpty(t, resp.AdminToken)

	return resp
}

func (e *testEnv) join(t *testing.T, sessionId, userId string) (JoinSessionResponse, *recordingConn) {
	t.Helper()

	conn := &recordingConn{}
	resp, err := e.service.JoinSession(context.Background(), &JoinSessionParams{
		SessionId: sessionId,
		UserId:    userId,
		Username:  "user-" + userId,
		Conn:      conn,
	})
	require.NoError(t, err)

	return resp, conn
}

func TestJoinSession(t *testing.T) {
	e := newTestEnv(t, 9)
	ctx := context.Background()
	sessionId := e.createSession(t)

	first, _ := e.join(t, sessionId, "alice")
	assert.Equal(t, "alice", first.HostId, "first user claims host")
	assert.True(t, first.Presence.IsHost)
	require.NotNil(t, first.Sync)
	assert.Equal(t, "alice", first.Sync.HostId)

	second, _ := e.join(t, sessionId, "bob")
	assert.Equal(t, "alice", second.HostId)
	assert.False(t, second.Presence.IsHost)
	require.Len(t, second.Presences, 2)
	assert.Equal(t, "alice", second.Presences[0].Id)

	presences, err := e.service.GetPresences(ctx, sessionId)
	require.NoError(t, err)
	assert.Len(t, presences, 2)
}

func TestJoinSessionErrors(t *testing.T) {
	e := newTestEnv(t, 2)
	ctx := context.Background()
	sessionId := e.createSession(t)

	_, err := e.service.JoinSession(ctx, &JoinSessionParams{SessionId: "not-a-uuid", UserId: "a", Username: "a", Conn: &recordingConn{}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.service.JoinSession(ctx, &JoinSessionParams{SessionId: uuid.NewString(), UserId: "a", Username: "a", Conn: &recordingConn{}})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	e.join(t, sessionId, "a")
	_, err = e.service.JoinSession(ctx, &JoinSessionParams{SessionId: sessionId, UserId: "a", Username: "a", Conn: &recordingConn{}})
	assert.ErrorIs(t, err, ErrUserAlreadyConnected)

	e.join(t, sessionId, "b")
	_, err = e.service.JoinSession(ctx, &JoinSessionParams{SessionId: sessionId, UserId: "c", Username: "c", Conn: &recordingConn{}})
	assert.ErrorIs(t, err, ErrMembersLimitReached)
}

func TestPushesReachConnections(t *testing.T) {
	e := newTestEnv(t, 9)
	sessionId := e.createSession(t)

	_, aliceConn := e.join(t, sessionId, "alice")
	e.join(t, sessionId, "bob")

	assert.Eventually(t, func() bool {
		for _, typ := range aliceConn.types() {
			if typ == string(coordinator.PushPresenceUpdated) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTransferHostAuthorization(t *testing.T) {
	e := newTestEnv(t, 9)
	ctx := context.Background()
	sessionId := e.createSession(t)
	e.join(t, sessionId, "alice")
	e.join(t, sessionId, "bob")

	err := e.service.TransferHost(ctx, &TransferHostParams{SessionId: sessionId, SenderId: "bob", PreviousHostId: "alice", NewHostId: "bob"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = e.service.TransferHost(ctx, &TransferHostParams{SessionId: sessionId, SenderId: "bob", NewHostId: "bob"})
	assert.ErrorIs(t, err, coordinator.ErrNotCurrentHost)

	err = e.service.TransferHost(ctx, &TransferHostParams{SessionId: sessionId, SenderId: "alice", PreviousHostId: "alice", NewHostId: "ghost"})
	assert.ErrorIs(t, err, coordinator.ErrUnknownUser)

	require.NoError(t, e.service.TransferHost(ctx, &TransferHostParams{SessionId: sessionId, SenderId: "alice", PreviousHostId: "alice", NewHostId: "bob"}))

	resp, err := e.service.SyncRequest(ctx, &SyncRequestParams{SessionId: sessionId, SenderId: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "bob", resp.HostId)

	err = e.service.UpdatePlayback(ctx, &UpdatePlaybackParams{SessionId: sessionId, SenderId: "alice", State: domain.PlaybackState{CurrentTime: 1}})
	assert.ErrorIs(t, err, coordinator.ErrStaleHost)
}

func TestPlaybackSurvivesEmptySession(t *testing.T) {
	e := newTestEnv(t, 9)
	ctx := context.Background()
	sessionId := e.createSession(t)

	_, conn := e.join(t, sessionId, "alice")
	require.NoError(t, e.service.UpdatePlayback(ctx, &UpdatePlaybackParams{
		SessionId: sessionId,
		SenderId:  "alice",
		State:     domain.PlaybackState{IsPlaying: true, CurrentTime: 300, Timestamp: domain.Millis(time.Now())},
	}))
	assert.Equal(t, "1", e.redis.HGet("session:"+sessionId+":playback", "is_playing"))

	require.NoError(t, e.service.LeaveSession(ctx, &LeaveSessionParams{SessionId: sessionId, UserId: "alice", Conn: conn}))
	_, err := e.service.SyncRequest(ctx, &SyncRequestParams{SessionId: sessionId, SenderId: "alice"})
	assert.ErrorIs(t, err, ErrSessionNotFound, "empty session stops")

	presences, err := e.service.GetPresences(ctx, sessionId)
	require.NoError(t, err)
	assert.Empty(t, presences)

	resp, _ := e.join(t, sessionId, "bob")
	require.NotNil(t, resp.Sync)
	assert.Equal(t, "bob", resp.Sync.HostId)
	assert.False(t, resp.Sync.PlaybackState.IsPlaying, "restored state waits for the new host")
	assert.InDelta(t, 300.0, resp.Sync.PlaybackState.CurrentTime, 1.0)
}

func fastSweep(cfg *coordinator.Config) {
	cfg.AwayAfter = 50 * time.Millisecond
	cfg.LivenessWindow = 100 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.HostGracePeriod = 20 * time.Millisecond
}

func TestTimedOutPresenceIsDisconnected(t *testing.T) {
	e := newTestEnv(t, 9, withCoordinator(fastSweep))
	ctx := context.Background()
	sessionId := e.createSession(t)

	_, conn := e.join(t, sessionId, "alice")

	require.Eventually(t, conn.isClosed, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, closeCodePresenceTimedOut, conn.closedWith())
	assert.Contains(t, conn.types(), string(coordinator.PushPresenceRemoved))

	require.Eventually(t, func() bool {
		_, err := e.service.get(sessionId)
		return errors.Is(err, ErrSessionNotFound)
	}, 2*time.Second, 10*time.Millisecond, "empty session stops")

	// the reader of the closed connection leaves afterwards
	require.NoError(t, e.service.LeaveSession(ctx, &LeaveSessionParams{SessionId: sessionId, UserId: "alice", Conn: conn}))

	resp, fresh := e.join(t, sessionId, "alice")
	assert.Equal(t, "alice", resp.HostId)
	assert.False(t, fresh.isClosed())
}

func TestTimedOutHostIsReplaced(t *testing.T) {
	e := newTestEnv(t, 9, withCoordinator(fastSweep))
	ctx := context.Background()
	sessionId := e.createSession(t)

	_, aliceConn := e.join(t, sessionId, "alice")
	_, bobConn := e.join(t, sessionId, "bob")

	require.Eventually(t, func() bool {
		e.service.Heartbeat(ctx, &HeartbeatParams{SessionId: sessionId, SenderId: "bob"})
		return aliceConn.isClosed()
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, bobConn.isClosed())

	require.Eventually(t, func() bool {
		e.service.Heartbeat(ctx, &HeartbeatParams{SessionId: sessionId, SenderId: "bob"})
		resp, err := e.service.SyncRequest(ctx, &SyncRequestParams{SessionId: sessionId, SenderId: "bob"})
		return err == nil && resp.HostId == "bob"
	}, 2*time.Second, 10*time.Millisecond, "remaining presence is elected after the grace period")

	err := e.service.Heartbeat(ctx, &HeartbeatParams{SessionId: sessionId, SenderId: "alice"})
	assert.ErrorIs(t, err, coordinator.ErrUnknownUser)

	_, err = e.service.JoinSession(ctx, &JoinSessionParams{SessionId: sessionId, UserId: "alice", Username: "alice", Conn: &recordingConn{}})
	assert.NoError(t, err, "evicted user can reconnect")
}

// slowExistsRepo blocks existence checks of one session until released.
type slowExistsRepo struct {
	iSessionRepo
	sessionId string
	entered   chan struct{}
	release   chan struct{}
}

func (r *slowExistsRepo) IsSessionExists(ctx context.Context, sessionId string) (bool, error) {
	if sessionId == r.sessionId {
		close(r.entered)
		<-r.release
	}

	return r.iSessionRepo.IsSessionExists(ctx, sessionId)
}

func TestStorageReadsDoNotBlockOtherSessions(t *testing.T) {
	slow := &slowExistsRepo{entered: make(chan struct{}), release: make(chan struct{})}
	e := newTestEnv(t, 9, withSessionRepo(func(r iSessionRepo) iSessionRepo {
		slow.iSessionRepo = r
		return slow
	}))
	ctx := context.Background()

	blocked := e.createSession(t)
	other := e.createSession(t)
	_, bobConn := e.join(t, other, "bob")
	slow.sessionId = blocked

	joinErr := make(chan error, 1)
	go func() {
		_, err := e.service.JoinSession(ctx, &JoinSessionParams{SessionId: blocked, UserId: "alice", Username: "alice", Conn: &recordingConn{}})
		joinErr <- err
	}()
	<-slow.entered

	done := make(chan error, 1)
	go func() {
		_, err := e.service.JoinSession(ctx, &JoinSessionParams{SessionId: other, UserId: "carol", Username: "carol", Conn: &recordingConn{}})
		if err == nil {
			err = e.service.LeaveSession(ctx, &LeaveSessionParams{SessionId: other, UserId: "bob", Conn: bobConn})
		}
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(slow.release)
		t.Fatal("join on another session waited for a storage read")
	}

	close(slow.release)
	require.NoError(t, <-joinErr)
}

func TestReportPositionAndMetrics(t *testing.T) {
	e := newTestEnv(t, 9)
	ctx := context.Background()
	sessionId := e.createSession(t)
	e.join(t, sessionId, "alice")
	_, bobConn := e.join(t, sessionId, "bob")

	now := domain.Millis(time.Now())
	require.NoError(t, e.service.UpdatePlayback(ctx, &UpdatePlaybackParams{
		SessionId: sessionId,
		SenderId:  "alice",
		State:     domain.PlaybackState{CurrentTime: 50, Timestamp: now},
	}))

	correction, err := e.service.ReportPosition(ctx, &ReportPositionParams{SessionId: sessionId, SenderId: "bob", ObservedTime: 50.1, Timestamp: now})
	require.NoError(t, err)
	assert.Nil(t, correction)

	correction, err = e.service.ReportPosition(ctx, &ReportPositionParams{SessionId: sessionId, SenderId: "bob", ObservedTime: 80, Timestamp: now})
	require.NoError(t, err)
	require.NotNil(t, correction)
	assert.InDelta(t, 50.0, correction.PlaybackState.CurrentTime, 1e-9)

	assert.Eventually(t, func() bool {
		for _, typ := range bobConn.types() {
			if typ == string(coordinator.PushSyncCorrection) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_, err = e.service.ReportPosition(ctx, &ReportPositionParams{SessionId: sessionId, SenderId: "bob", ObservedTime: -1})
	assert.ErrorIs(t, err, ErrValidation)

	// Both joins answered a sync request before the two reports.
	m, err := e.service.GetMetrics(ctx, sessionId)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Session.SyncAttempts)
	assert.Equal(t, 3, m.Session.SyncSuccesses)
	require.Len(t, m.Users, 2)
	assert.Equal(t, "bob", m.Users[1].UserId)
	assert.Equal(t, 3, m.Users[1].SyncAttempts)
	assert.Equal(t, 2, m.Users[1].SyncSuccesses)
	assert.Equal(t, domain.QualityFair, m.Users[1].NetworkQuality)
}

func TestNetworkQualityAndHeartbeat(t *testing.T) {
	e := newTestEnv(t, 9)
	ctx := context.Background()
	sessionId := e.createSession(t)
	e.join(t, sessionId, "alice")

	q, err := e.service.UpdateNetworkQuality(ctx, &UpdateNetworkQualityParams{SessionId: sessionId, SenderId: "alice", Quality: domain.QualityPoor})
	require.NoError(t, err)
	assert.Equal(t, domain.QualityFair, q)

	_, err = e.service.UpdateNetworkQuality(ctx, &UpdateNetworkQualityParams{SessionId: sessionId, SenderId: "alice", UserId: "bob", Quality: domain.QualityPoor})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = e.service.UpdateNetworkQuality(ctx, &UpdateNetworkQualityParams{SessionId: sessionId, SenderId: "alice", Quality: "great"})
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, e.service.Heartbeat(ctx, &HeartbeatParams{SessionId: sessionId, SenderId: "alice", Status: domain.StatusInactive}))
	presences, err := e.service.GetPresences(ctx, sessionId)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, presences[0].Status)

	assert.ErrorIs(t, e.service.Heartbeat(ctx, &HeartbeatParams{SessionId: sessionId, SenderId: "alice", Status: "sleeping"}), ErrValidation)
}

func TestCloseSession(t *testing.T) {
	e := newTestEnv(t, 9)
	ctx := context.Background()
	created := e.createSessionWithToken(t)
	other := e.createSessionWithToken(t)
	sessionId := created.SessionId
	_, conn := e.join(t, sessionId, "alice")

	err := e.service.CloseSession(ctx, &CloseSessionParams{SessionId: sessionId})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	err = e.service.CloseSession(ctx, &CloseSessionParams{SessionId: sessionId, AdminToken: other.AdminToken})
	assert.ErrorIs(t, err, ErrPermissionDenied, "token of another session")
	assert.False(t, conn.isClosed())

	require.NoError(t, e.service.CloseSession(ctx, &CloseSessionParams{SessionId: sessionId, AdminToken: created.AdminToken}))
	assert.True(t, conn.isClosed())
	assert.False(t, e.redis.Exists("session:"+sessionId))

	_, err = e.service.GetPresences(ctx, sessionId)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	err = e.service.CloseSession(ctx, &CloseSessionParams{SessionId: sessionId, AdminToken: created.AdminToken})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAdminTokenRejectsForeignSecret(t *testing.T) {
	e := newTestEnv(t, 9)
	created := e.createSessionWithToken(t)

	sessionId, err := e.service.parseAdminToken(created.AdminToken)
	require.NoError(t, err)
	assert.Equal(t, created.SessionId, sessionId)

	foreign := &service{cfg: Config{Secret: "other-secret"}}
	_, err = foreign.parseAdminToken(created.AdminToken)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestMetricsPersistedAfterStop(t *testing.T) {
	e := newTestEnv(t, 9)
	ctx := context.Background()
	sessionId := e.createSession(t)
	_, conn := e.join(t, sessionId, "alice")

	_, err := e.service.SyncRequest(ctx, &SyncRequestParams{SessionId: sessionId, SenderId: "alice"})
	require.NoError(t, err)
	require.NoError(t, e.service.LeaveSession(ctx, &LeaveSessionParams{SessionId: sessionId, UserId: "alice", Conn: conn}))

	m, err := e.service.GetMetrics(ctx, sessionId)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Session.SyncAttempts)
	assert.Equal(t, 2, m.Session.SyncSuccesses)
	assert.Empty(t, m.Users)
}

func TestServiceCloseStopsGoroutines(t *testing.T) {
	s := miniredis.RunT(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rc.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := NewService(sessionRedis.NewRepo(rc, time.Hour, logger), inmemory.NewRepo(logger), &Config{
		Secret:          "test-secret",
		MembersLimit:    9,
		PersistInterval: 10 * time.Millisecond,
		Coordinator:     coordinator.DefaultConfig(),
	}, logger)

	resp, err := service.CreateSession(context.Background())
	require.NoError(t, err)
	_, err = service.JoinSession(context.Background(), &JoinSessionParams{SessionId: resp.SessionId, UserId: "a", Username: "a", Conn: &recordingConn{}})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	service.Close()

	_, err = service.SyncRequest(context.Background(), &SyncRequestParams{SessionId: resp.SessionId, SenderId: "a"})
	assert.ErrorIs(t, err, ErrServiceClosed)
}
