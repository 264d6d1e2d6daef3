package coordinator

import (
	"context"

	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/metrics"
)

type PushType string

const (
	PushSyncCorrection  PushType = "SYNC_CORRECTION"
	PushPlaybackState   PushType = "PLAYBACK_STATE"
	PushHostTransferred PushType = "HOST_TRANSFERRED"
	PushPresenceUpdated PushType = "PRESENCE_UPDATED"
	// PushPresenceRemoved addresses presences evicted by the liveness sweep.
	PushPresenceRemoved PushType = "PRESENCE_REMOVED"
)

// Push is an outbound message produced by a state change. An empty To
// addresses every connected presence of the session.
type Push struct {
	SessionId string
	Type      PushType
	To        []string
	Payload   any
}

type PresencePayload struct {
	Presences []domain.UserPresence `json:"presences"`
}

type PresenceRemovedPayload struct {
	UserId string `json:"userId"`
	Reason string `json:"reason"`
}

type HostTransferredPayload struct {
	Transfer  domain.HostTransfer   `json:"transfer"`
	Presences []domain.UserPresence `json:"presences"`
}

// Sink delivers pushes to the transport. Deliver is never called while the
// coordinator holds its lock.
type Sink interface {
	Deliver(ctx context.Context, push Push) error
}

// enqueue hands pushes to the Run loop without blocking. Pushes that do not fit
// are dropped; delivery is at-most-once.
func (c *Coordinator) enqueue(pushes []Push) {
	for _, push := range pushes {
		select {
		case c.outbox <- push:
		default:
			metrics.OutboxDroppedTotal.Inc()
			c.logger.Warn("outbox full, dropping push", "type", push.Type, "to", push.To)
		}
	}
}

func (c *Coordinator) deliver(ctx context.Context, push Push) {
	if c.sink == nil {
		return
	}

	if err := c.sink.Deliver(ctx, push); err != nil {
		c.logger.InfoContext(ctx, "failed to deliver push", "type", push.Type, "error", err)
	}
}
