package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/service/session"
	"github.com/sharetube/watchsync/pkg/validator"
	"github.com/sharetube/watchsync/pkg/wsrouter"
)

type iSessionService interface {
	CreateSession(context.Context) (session.CreateSessionResponse, error)
	JoinSession(context.Context, *session.JoinSessionParams) (session.JoinSessionResponse, error)
	LeaveSession(context.Context, *session.LeaveSessionParams) error
	CloseSession(context.Context, *session.CloseSessionParams) error
	GetPresences(context.Context, string) ([]domain.UserPresence, error)
	GetMetrics(context.Context, string) (session.GetMetricsResponse, error)
	SyncRequest(context.Context, *session.SyncRequestParams) (domain.SyncResponse, error)
	UpdatePlayback(context.Context, *session.UpdatePlaybackParams) error
	ReportPosition(context.Context, *session.ReportPositionParams) (*domain.SyncResponse, error)
	TransferHost(context.Context, *session.TransferHostParams) error
	UpdateNetworkQuality(context.Context, *session.UpdateNetworkQualityParams) (domain.NetworkQuality, error)
	Heartbeat(context.Context, *session.HeartbeatParams) error
}

type Config struct {
	// Requests per minute and IP allowed on the session REST routes. Zero
	// disables the limit.
	RateLimit int
	WriteWait time.Duration
	// Maximum size in bytes of an inbound websocket message.
	ReadLimit int64
}

type controller struct {
	sessionService iSessionService
	upgrader       websocket.Upgrader
	validate       *validator.Validator
	wsmux          *wsrouter.WSRouter
	cfg            Config
	logger         *slog.Logger
}

func NewController(sessionService iSessionService, cfg *Config, logger *slog.Logger) *controller {
	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessionService: sessionService,
		validate:       validator.NewValidator(),
		cfg:            *cfg,
		logger:         logger,
	}
	c.wsmux = c.getWSRouter()

	return c
}

func (c controller) generateTimeBasedId() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
