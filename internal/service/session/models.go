package session

import (
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/repository/connection"
)

// Output is the envelope of every message written to a client.
type Output struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type CreateSessionResponse struct {
	SessionId string `json:"sessionId"`
	// AdminToken authorizes closing the session.
	AdminToken string `json:"adminToken"`
}

type CloseSessionParams struct {
	SessionId  string
	AdminToken string
}

type JoinSessionParams struct {
	SessionId string
	UserId    string
	Username  string
	Conn      connection.Conn
}

type JoinSessionResponse struct {
	Presence  domain.UserPresence
	Presences []domain.UserPresence
	HostId    string
	// Sync is nil while the session has no host.
	Sync *domain.SyncResponse
}

type LeaveSessionParams struct {
	SessionId string
	UserId    string
	Conn      connection.Conn
}

type SyncRequestParams struct {
	SessionId string
	SenderId  string
	Timestamp *int64
}

type UpdatePlaybackParams struct {
	SessionId string
	SenderId  string
	State     domain.PlaybackState
}

type ReportPositionParams struct {
	SessionId    string
	SenderId     string
	ObservedTime float64
	Timestamp    int64
}

type TransferHostParams struct {
	SessionId      string
	SenderId       string
	PreviousHostId string
	NewHostId      string
}

type UpdateNetworkQualityParams struct {
	SessionId string
	SenderId  string
	// UserId defaults to SenderId.
	UserId    string
	Quality   domain.NetworkQuality
	Timestamp *int64
}

type HeartbeatParams struct {
	SessionId string
	SenderId  string
	Status    domain.PresenceStatus
}

type GetMetricsResponse struct {
	Session domain.SyncMetrics       `json:"session"`
	Users   []domain.UserSyncMetrics `json:"users"`
}
