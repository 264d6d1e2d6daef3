package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchsync/internal/controller"
	"github.com/sharetube/watchsync/internal/coordinator"
	"github.com/sharetube/watchsync/internal/repository/connection/inmemory"
	sessionRedis "github.com/sharetube/watchsync/internal/repository/session/redis"
	"github.com/sharetube/watchsync/internal/service/session"
	"github.com/sharetube/watchsync/pkg/ctxlogger"
	"github.com/sharetube/watchsync/pkg/redisclient"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

type AppConfig struct {
	Secret          string        `json:"-"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	LogLevel        string        `json:"log_level"`
	MembersLimit    int           `json:"members_limit"`
	RateLimit       int           `json:"rate_limit"`
	SessionTTL      time.Duration `json:"session_ttl"`
	PersistInterval time.Duration `json:"persist_interval"`
	RedisHost       string        `json:"redis_host"`
	RedisPort       int           `json:"redis_port"`
	RedisPassword   string        `json:"-"`
	RedisDB         int           `json:"redis_db"`
	// Coordinator tunables.
	GoodTolerance         time.Duration `json:"good_tolerance"`
	FairTolerance         time.Duration `json:"fair_tolerance"`
	PoorTolerance         time.Duration `json:"poor_tolerance"`
	MinCorrectionInterval time.Duration `json:"min_correction_interval"`
	MinSyncInterval       time.Duration `json:"min_sync_interval"`
	MaxSyncInterval       time.Duration `json:"max_sync_interval"`
	TransferTimeout       time.Duration `json:"transfer_timeout"`
	HostGracePeriod       time.Duration `json:"host_grace_period"`
	AwayAfter             time.Duration `json:"away_after"`
	LivenessWindow        time.Duration `json:"liveness_window"`
}

func (cfg *AppConfig) coordinatorConfig() coordinator.Config {
	c := coordinator.DefaultConfig()
	c.GoodTolerance = cfg.GoodTolerance
	c.FairTolerance = cfg.FairTolerance
	c.PoorTolerance = cfg.PoorTolerance
	c.MinCorrectionInterval = cfg.MinCorrectionInterval
	c.MinSyncInterval = cfg.MinSyncInterval
	c.MaxSyncInterval = cfg.MaxSyncInterval
	c.TransferTimeout = cfg.TransferTimeout
	c.HostGracePeriod = cfg.HostGracePeriod
	c.AwayAfter = cfg.AwayAfter
	c.LivenessWindow = cfg.LivenessWindow

	return c
}

func (cfg *AppConfig) Validate() error {
	if err := validation.ValidateStruct(cfg,
		validation.Field(&cfg.Secret, validation.Required, validation.Length(16, 0)),
		validation.Field(&cfg.Host, validation.Required, is.Host),
		validation.Field(&cfg.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&cfg.LogLevel, validation.Required, validation.By(validateLogLevel)),
		validation.Field(&cfg.MembersLimit, validation.Required, validation.Min(1)),
		validation.Field(&cfg.RateLimit, validation.Min(0)),
		validation.Field(&cfg.SessionTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&cfg.PersistInterval, validation.Min(time.Duration(0))),
		validation.Field(&cfg.RedisHost, validation.Required),
		validation.Field(&cfg.RedisPort, validation.Required, validation.Min(1), validation.Max(65535)),
	); err != nil {
		return err
	}

	c := cfg.coordinatorConfig()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid coordinator config: %w", err)
	}

	return nil
}

func validateLogLevel(value any) error {
	_, err := parseLogLevel(value.(string))
	return err
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, err
	}

	return level, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		}),
	}

	return slog.New(&h)
}

// buildHandler wires the repositories, the session service and the controller
// on top of rc. The returned close func stops every live session.
func buildHandler(rc *redis.Client, cfg *AppConfig, logger *slog.Logger) (http.Handler, func()) {
	sessionRepo := sessionRedis.NewRepo(rc, cfg.SessionTTL, logger)
	connectionRepo := inmemory.NewRepo(logger)
	sessionService := session.NewService(sessionRepo, connectionRepo, &session.Config{
		Secret:          cfg.Secret,
		MembersLimit:    cfg.MembersLimit,
		PersistInterval: cfg.PersistInterval,
		Coordinator:     cfg.coordinatorConfig(),
	}, logger)

	controller := controller.NewController(sessionService, &controller.Config{
		RateLimit: cfg.RateLimit,
		WriteWait: 10 * time.Second,
		ReadLimit: 64 << 10,
	}, logger)

	return controller.GetMux(), sessionService.Close
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logLevel, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, logLevel)

	rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	handler, closeSessions := buildHandler(rc, cfg, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}

		return nil
	})

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		closeSessions()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}

		return nil
	})

	return g.Wait()
}
