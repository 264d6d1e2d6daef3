package coordinator

import (
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/metrics"
)

const reasonTimedOut = "timed out"

// Sweep applies the time-driven transitions: presences idle past AwayAfter
// become away, presences idle past LivenessWindow are removed, a session left
// without host for HostGracePeriod elects a new one, and an unanswered host
// transfer expires. Every removed presence gets a PushPresenceRemoved.
func (c *Coordinator) Sweep() {
	c.enqueue(c.sweep())
}

func (c *Coordinator) sweep() []Push {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}

	now := c.now()
	c.expireTransferLocked(now)

	var pushes []Push
	changed := false
	for p := range c.store.List() {
		idle := now - p.LastActive
		switch {
		case idle > c.cfg.LivenessWindow.Milliseconds():
			c.removeLocked(p.Id)
			changed = true
			pushes = append(pushes, Push{
				SessionId: c.sessionId,
				Type:      PushPresenceRemoved,
				To:        []string{p.Id},
				Payload:   PresenceRemovedPayload{UserId: p.Id, Reason: reasonTimedOut},
			})
			c.logger.Info("presence timed out", "user_id", p.Id, "idle_ms", idle)
		case idle > c.cfg.AwayAfter.Milliseconds() && p.Status == domain.StatusActive:
			c.store.Update(p.Id, func(p *domain.UserPresence) {
				p.Status = domain.StatusAway
			})
			changed = true
		}
	}

	if c.hostId == "" && c.store.Len() > 0 {
		if c.hostlessSince == 0 {
			c.hostlessSince = now
		}

		if now-c.hostlessSince >= c.cfg.HostGracePeriod.Milliseconds() {
			if id, ok := c.electLocked(); ok {
				pushes = append(pushes, c.assignHostLocked(domain.HostTransfer{NewHostId: id}, now)...)
				metrics.ObserveHostTransfer(metrics.ResultOK)
				c.logger.Info("elected host after grace period", "host_id", id)
				changed = false
			}
		}
	}

	if changed {
		pushes = append(pushes, c.presencePushLocked())
	}

	return pushes
}
