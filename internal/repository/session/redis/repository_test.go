package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchsync/internal/repository/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ttl = time.Hour

func newTestRepo(t *testing.T) (*repo, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rc.Close() })

	return NewRepo(rc, ttl, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func ptr[T any](v T) *T {
	return &v
}

func TestCreateSession(t *testing.T) {
	r, s := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.CreateSession(ctx, &session.CreateSessionParams{SessionId: "s1", CreatedAt: 42}))
	assert.ErrorIs(t, r.CreateSession(ctx, &session.CreateSessionParams{SessionId: "s1", CreatedAt: 43}), session.ErrSessionAlreadyExists)

	got, err := r.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.CreatedAt)
	assert.Equal(t, ttl, s.TTL("session:s1"))

	exists, err := r.IsSessionExists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = r.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestPlaybackRoundTrip(t *testing.T) {
	r, s := newTestRepo(t)
	ctx := context.Background()

	_, err := r.GetPlayback(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrPlaybackNotFound)

	want := session.Playback{
		IsPlaying:    true,
		CurrentTime:  121.5,
		Seeking:      true,
		PlaybackRate: 1.25,
		Timestamp:    1_700_000_000_000,
		HostId:       "a",
	}
	require.NoError(t, r.SetPlayback(ctx, &session.SetPlaybackParams{SessionId: "s1", Playback: want}))

	got, err := r.GetPlayback(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, ttl, s.TTL("session:s1:playback"))
}

func TestUpdateMetricsKeepsUnsetFields(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.UpdateMetrics(ctx, &session.UpdateMetricsParams{
		SessionId:        "s1",
		SyncAttempts:     ptr(10),
		SyncSuccesses:    ptr(7),
		AverageSyncDelta: ptr(0.4),
		LastSyncTime:     ptr(int64(1000)),
		NetworkQuality:   ptr("fair"),
	}))
	require.NoError(t, r.UpdateMetrics(ctx, &session.UpdateMetricsParams{
		SessionId:    "s1",
		SyncAttempts: ptr(11),
	}))
	require.NoError(t, r.UpdateMetrics(ctx, &session.UpdateMetricsParams{SessionId: "s1"}))

	got, err := r.GetMetrics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.Metrics{
		SyncAttempts:     11,
		SyncSuccesses:    7,
		AverageSyncDelta: 0.4,
		LastSyncTime:     1000,
		NetworkQuality:   "fair",
	}, got)
}

func TestRemoveSession(t *testing.T) {
	r, s := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.CreateSession(ctx, &session.CreateSessionParams{SessionId: "s1"}))
	require.NoError(t, r.SetPlayback(ctx, &session.SetPlaybackParams{SessionId: "s1"}))

	s.FastForward(ttl / 2)
	require.NoError(t, r.ExpireSession(ctx, "s1"))
	assert.Equal(t, ttl, s.TTL("session:s1"))

	require.NoError(t, r.RemoveSession(ctx, "s1"))
	assert.False(t, s.Exists("session:s1"))
	assert.False(t, s.Exists("session:s1:playback"))
	assert.ErrorIs(t, r.RemoveSession(ctx, "s1"), session.ErrSessionNotFound)
}
