package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/syncclient"
	"github.com/sharetube/watchsync/pkg/ctxlogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *AppConfig {
	return &AppConfig{
		Secret:                "0123456789abcdef",
		Host:                  "127.0.0.1",
		Port:                  8080,
		LogLevel:              "debug",
		MembersLimit:          9,
		RateLimit:             100,
		SessionTTL:            time.Hour,
		PersistInterval:       time.Hour,
		RedisHost:             "localhost",
		RedisPort:             6379,
		GoodTolerance:         500 * time.Millisecond,
		FairTolerance:         time.Second,
		PoorTolerance:         2 * time.Second,
		MinCorrectionInterval: 2 * time.Second,
		MinSyncInterval:       time.Second,
		MaxSyncInterval:       5 * time.Second,
		TransferTimeout:       5 * time.Second,
		HostGracePeriod:       10 * time.Second,
		AwayAfter:             30 * time.Second,
		LivenessWindow:        2 * time.Minute,
	}
}

func TestAppConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"short secret", func(c *AppConfig) { c.Secret = "s" }},
		{"zero port", func(c *AppConfig) { c.Port = 0 }},
		{"unknown log level", func(c *AppConfig) { c.LogLevel = "loud" }},
		{"no members", func(c *AppConfig) { c.MembersLimit = 0 }},
		{"short ttl", func(c *AppConfig) { c.SessionTTL = time.Millisecond }},
		{"unordered tolerances", func(c *AppConfig) { c.FairTolerance = c.GoodTolerance / 2 }},
		{"unordered intervals", func(c *AppConfig) { c.MaxSyncInterval = c.MinSyncInterval / 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLoggerAddsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo)

	ctx := ctxlogger.AppendCtx(context.Background(), slog.String("request_id", "r1"))
	logger.InfoContext(ctx, "plain")
	logger.DebugContext(ctx, "filtered")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "plain", line["msg"])
	assert.Equal(t, "r1", line["request_id"])
	assert.NotContains(t, buf.String(), "filtered")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Port = -1

	assert.Error(t, Run(context.Background(), cfg))
}

func TestRunFailsWithoutRedis(t *testing.T) {
	cfg := testConfig()
	cfg.RedisHost = "127.0.0.1"
	cfg.RedisPort = 1

	assert.Error(t, Run(context.Background(), cfg))
}

type player struct {
	mu       sync.Mutex
	position float64
}

func (p *player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *player) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = seconds
	return nil
}

func TestSessionEndToEnd(t *testing.T) {
	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rc.Close()

	handler, closeSessions := buildHandler(rc, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(handler)
	defer srv.Close()
	defer closeSessions()

	resp, err := http.Post(srv.URL+"/api/v1/sessions", "application/json", nil)
	require.NoError(t, err)
	var created struct {
		Data struct {
			SessionId string `json:"sessionId"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	sessionId := created.Data.SessionId

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	hostPlayer := &player{}
	host, err := syncclient.Dial(ctx, hostPlayer, syncclient.Options{
		BaseURL: baseURL, SessionId: sessionId, UserId: "host", Username: "Host",
	})
	require.NoError(t, err)
	go host.Run(ctx)

	require.Eventually(t, func() bool { return host.HostId() == "host" }, 2*time.Second, 10*time.Millisecond)

	viewerPlayer := &player{}
	viewer, err := syncclient.Dial(ctx, viewerPlayer, syncclient.Options{
		BaseURL: baseURL, SessionId: sessionId, UserId: "viewer", Username: "Viewer",
		ReportInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	go viewer.Run(ctx)

	require.NoError(t, host.UpdatePlayback(domain.PlaybackState{CurrentTime: 612}))

	assert.Eventually(t, func() bool {
		return viewerPlayer.CurrentTime() == 612
	}, 3*time.Second, 10*time.Millisecond)

	resp, err = http.Get(srv.URL + "/api/v1/sessions/" + sessionId + "/presences")
	require.NoError(t, err)
	var presences struct {
		Data []domain.UserPresence `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presences))
	resp.Body.Close()

	want := []domain.UserPresence{
		{Id: "host", Username: "Host", IsHost: true, Status: domain.StatusActive, NetworkQuality: domain.QualityGood},
		{Id: "viewer", Username: "Viewer", Status: domain.StatusActive, NetworkQuality: domain.QualityGood},
	}
	if diff := cmp.Diff(want, presences.Data, cmpopts.IgnoreFields(domain.UserPresence{}, "LastActive", "PlaybackState", "NetworkQuality")); diff != "" {
		t.Errorf("presences mismatch (-want +got):\n%s", diff)
	}

	assert.Eventually(t, func() bool {
		return s.HGet("session:"+sessionId+":playback", "current_time") == "612"
	}, 2*time.Second, 10*time.Millisecond)
}
