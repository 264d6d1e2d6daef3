package coordinator

import (
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/metrics"
)

// RequestHostTransfer moves host authority from PreviousHostId to NewHostId.
// An empty PreviousHostId claims a session that has no host. The new host
// inherits the last known playback state at once; the old host is rejected
// with ErrStaleHost from this point on.
func (c *Coordinator) RequestHostTransfer(transfer domain.HostTransfer) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrSessionClosed
	}

	now := c.now()
	c.expireTransferLocked(now)

	if _, ok := c.store.Get(transfer.NewHostId); !ok || transfer.NewHostId == "" {
		c.mu.Unlock()
		metrics.ObserveHostTransfer(metrics.ResultRejected)
		return ErrUnknownUser
	}

	if transfer.PreviousHostId != c.hostId {
		c.mu.Unlock()
		metrics.ObserveHostTransfer(metrics.ResultRejected)
		return ErrNotCurrentHost
	}

	if transfer.NewHostId == c.hostId {
		c.mu.Unlock()
		metrics.ObserveHostTransfer(metrics.ResultIgnored)
		return nil
	}

	pushes := c.assignHostLocked(transfer, now)
	c.mu.Unlock()

	metrics.ObserveHostTransfer(metrics.ResultOK)
	c.logger.Info("host transferred", "previous_host_id", transfer.PreviousHostId, "new_host_id", transfer.NewHostId)
	c.enqueue(pushes)
	return nil
}

func (c *Coordinator) assignHostLocked(transfer domain.HostTransfer, now int64) []Push {
	c.store.SetHost(transfer.NewHostId)
	c.hostId = transfer.NewHostId
	c.hostlessSince = 0

	inherited := c.playbackLocked(now).At(now)
	inherited.HostId = transfer.NewHostId
	c.playback = &inherited

	c.store.Update(transfer.NewHostId, func(p *domain.UserPresence) {
		s := inherited
		p.PlaybackState = &s
	})

	c.state = StateTransferring
	c.transferStartedAt = now

	return []Push{{
		SessionId: c.sessionId,
		Type:      PushHostTransferred,
		Payload: HostTransferredPayload{
			Transfer:  transfer,
			Presences: c.presencesLocked(),
		},
	}}
}

// expireTransferLocked ends the transferring state once the new host has been
// silent for TransferTimeout; the inherited state stays authoritative.
func (c *Coordinator) expireTransferLocked(now int64) {
	if c.state != StateTransferring {
		return
	}

	if now-c.transferStartedAt >= c.cfg.TransferTimeout.Milliseconds() {
		c.state = StateHosted
		c.logger.Info("host transfer timed out, keeping inherited state", "host_id", c.hostId)
	}
}

// electLocked picks the earliest joined active presence, falling back to the
// earliest joined presence of any status.
func (c *Coordinator) electLocked() (string, bool) {
	var fallback string
	for p := range c.store.List() {
		if p.Status == domain.StatusActive {
			return p.Id, true
		}
		if fallback == "" {
			fallback = p.Id
		}
	}

	return fallback, fallback != ""
}
