package coordinator

import (
	"math"
	"time"

	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/metrics"
)

// OnSyncRequest returns the authoritative playback state extrapolated to the
// coordinator clock. The response timestamp lets the requester estimate the
// transport latency.
func (c *Coordinator) OnSyncRequest(req domain.SyncRequest) (domain.SyncResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return domain.SyncResponse{}, ErrSessionClosed
	}

	now := c.now()
	c.expireTransferLocked(now)

	v, known := c.viewers[req.RequesterId]
	if known {
		c.touchLocked(req.RequesterId, now)
		v.metrics.SyncAttempts++
		v.metrics.LastSyncTime = now
	}
	c.session.SyncAttempts++
	c.session.LastSyncTime = now

	if c.hostId == "" {
		metrics.ObserveSyncRequest(metrics.ResultRejected)
		return domain.SyncResponse{}, ErrNoHostAssigned
	}

	if known {
		v.metrics.SyncSuccesses++
	}
	c.session.SyncSuccesses++
	metrics.ObserveSyncRequest(metrics.ResultOK)

	return c.responseLocked(now), nil
}

func (c *Coordinator) responseLocked(now int64) domain.SyncResponse {
	return domain.SyncResponse{
		Success:       true,
		HostId:        c.hostId,
		PlaybackState: c.playbackLocked(now).At(now),
		Timestamp:     now,
	}
}

func (c *Coordinator) playbackLocked(now int64) domain.PlaybackState {
	if c.playback == nil {
		return domain.PlaybackState{HostId: c.hostId, Timestamp: now}
	}

	return *c.playback
}

// OnHostPlaybackUpdate replaces the authoritative state. Updates from anyone
// but the current host fail with ErrStaleHost; updates older than the stored
// state are absorbed.
func (c *Coordinator) OnHostPlaybackUpdate(hostId string, state domain.PlaybackState) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrSessionClosed
	}

	now := c.now()
	c.expireTransferLocked(now)

	if hostId == "" || hostId != c.hostId || (state.HostId != "" && state.HostId != hostId) {
		c.mu.Unlock()
		metrics.ObservePlaybackUpdate(metrics.ResultRejected)
		return ErrStaleHost
	}

	if state.CurrentTime < 0 || math.IsNaN(state.CurrentTime) || math.IsInf(state.CurrentTime, 0) {
		c.mu.Unlock()
		metrics.ObservePlaybackUpdate(metrics.ResultRejected)
		return ErrInvalidPlayback
	}

	if state.Timestamp == 0 {
		state.Timestamp = now
	}
	state.HostId = hostId

	if c.state != StateTransferring && c.playback != nil && c.playback.HostId == hostId && state.Timestamp < c.playback.Timestamp {
		c.mu.Unlock()
		metrics.ObservePlaybackUpdate(metrics.ResultIgnored)
		c.logger.Debug("absorbed out-of-order playback update", "host_id", hostId, "timestamp", state.Timestamp)
		return nil
	}

	prev := c.playback
	c.playback = &state
	if c.state == StateTransferring {
		c.state = StateHosted
		c.logger.Info("host transfer completed", "host_id", hostId)
	}

	c.store.Update(hostId, func(p *domain.UserPresence) {
		s := state
		p.PlaybackState = &s
		if now > p.LastActive {
			p.LastActive = now
		}
	})

	var pushes []Push
	if c.discontinuousLocked(prev, state) {
		if push := c.statePushLocked(now); len(push.To) > 0 {
			pushes = append(pushes, push)
		}
	}
	c.mu.Unlock()

	metrics.ObservePlaybackUpdate(metrics.ResultOK)
	c.enqueue(pushes)
	return nil
}

// discontinuousLocked reports whether viewers would notice the change before
// the next cadence push: play/pause, a seek, or a jump beyond the tightest
// tolerance.
func (c *Coordinator) discontinuousLocked(prev *domain.PlaybackState, next domain.PlaybackState) bool {
	if prev == nil {
		return true
	}
	if prev.IsPlaying != next.IsPlaying || prev.Seeking != next.Seeking || prev.Buffering != next.Buffering {
		return true
	}
	if prev.Rate() != next.Rate() {
		return true
	}

	expected := prev.PositionAt(next.Timestamp)
	return math.Abs(next.CurrentTime-expected) > c.cfg.GoodTolerance.Seconds()
}

// OnViewerReport compares a viewer position with the host position at the same
// instant. It returns the correction pushed to the viewer, or nil when the
// viewer is within tolerance or was corrected too recently.
func (c *Coordinator) OnViewerReport(userId string, observedTime float64, timestamp int64) (*domain.SyncResponse, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}

	if observedTime < 0 || math.IsNaN(observedTime) || math.IsInf(observedTime, 0) {
		c.mu.Unlock()
		return nil, ErrInvalidObservedTime
	}

	v, ok := c.viewers[userId]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownUser
	}

	now := c.now()
	c.expireTransferLocked(now)

	if c.hostId == "" {
		c.mu.Unlock()
		return nil, ErrNoHostAssigned
	}

	if timestamp == 0 {
		timestamp = now
	}
	c.touchLocked(userId, now)

	if userId == c.hostId {
		c.mu.Unlock()
		return nil, nil
	}

	delta := observedTime - c.playbackLocked(now).PositionAt(timestamp)
	absDelta := math.Abs(delta)
	tolerance := c.cfg.tolerance(v.classifier.quality())

	c.recordDeltaLocked(v, absDelta, now)
	pushes := c.classifyLocked(userId, v, c.cfg.deltaQuality(v.metrics.AverageSyncDelta))

	if absDelta <= tolerance.Seconds() {
		v.metrics.SyncSuccesses++
		c.session.SyncSuccesses++
		c.mu.Unlock()

		metrics.ObserveViewerReport(metrics.OutcomeInSync, absDelta)
		c.enqueue(pushes)
		return nil, nil
	}

	if !v.limiter.AllowN(domain.TimeOf(now), 1) {
		c.mu.Unlock()

		metrics.ObserveViewerReport(metrics.OutcomeSuppressed, absDelta)
		c.enqueue(pushes)
		return nil, nil
	}

	correction := c.responseLocked(now)
	pushes = append(pushes, Push{
		SessionId: c.sessionId,
		Type:      PushSyncCorrection,
		To:        []string{userId},
		Payload:   correction,
	})
	c.mu.Unlock()

	metrics.ObserveViewerReport(metrics.OutcomeCorrected, absDelta)
	c.logger.Debug("viewer corrected", "user_id", userId, "delta", delta, "tolerance", tolerance)
	c.enqueue(pushes)

	return &correction, nil
}

// recordDeltaLocked folds |delta| into the exponential moving averages of the
// viewer and the session. The first sample seeds the average.
func (c *Coordinator) recordDeltaLocked(v *viewer, absDelta float64, now int64) {
	alpha := c.cfg.DeltaSmoothing

	v.metrics.SyncAttempts++
	v.metrics.LastSyncTime = now
	if v.hasDelta {
		v.metrics.AverageSyncDelta = alpha*absDelta + (1-alpha)*v.metrics.AverageSyncDelta
	} else {
		v.metrics.AverageSyncDelta = absDelta
		v.hasDelta = true
	}

	c.session.SyncAttempts++
	c.session.LastSyncTime = now
	if c.hasSessionDelta {
		c.session.AverageSyncDelta = alpha*absDelta + (1-alpha)*c.session.AverageSyncDelta
	} else {
		c.session.AverageSyncDelta = absDelta
		c.hasSessionDelta = true
	}
}

// classifyLocked feeds a quality sample to the viewer classifier and mirrors
// the result on the presence.
func (c *Coordinator) classifyLocked(userId string, v *viewer, sample domain.NetworkQuality) []Push {
	before := v.classifier.quality()
	after := v.classifier.observe(sample)
	v.metrics.NetworkQuality = after
	if before == after {
		return nil
	}

	c.store.Update(userId, func(p *domain.UserPresence) {
		p.NetworkQuality = after
	})
	c.logger.Debug("network quality reclassified", "user_id", userId, "from", before, "to", after)

	return []Push{c.presencePushLocked()}
}

// OnNetworkQualityUpdate feeds a reported quality through the hysteresis
// classifier and returns the resulting classification.
func (c *Coordinator) OnNetworkQualityUpdate(update domain.NetworkQualityUpdate) (domain.NetworkQuality, error) {
	if !update.Quality.IsValid() {
		return "", ErrInvalidQuality
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return "", ErrSessionClosed
	}

	v, ok := c.viewers[update.UserId]
	if !ok {
		c.mu.Unlock()
		return "", ErrUnknownUser
	}

	now := c.now()
	c.touchLocked(update.UserId, now)

	if update.Timestamp != nil {
		if *update.Timestamp <= v.lastQualityUpdate {
			q := v.classifier.quality()
			c.mu.Unlock()
			return q, nil
		}
		v.lastQualityUpdate = *update.Timestamp
	}

	pushes := c.classifyLocked(update.UserId, v, update.Quality)
	q := v.classifier.quality()
	c.mu.Unlock()

	c.enqueue(pushes)
	return q, nil
}

// SyncInterval is the cadence of proactive state pushes. It shrinks linearly
// from MaxSyncInterval when every viewer is good to MinSyncInterval when every
// viewer is poor.
func (c *Coordinator) SyncInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.syncIntervalLocked()
}

func (c *Coordinator) syncIntervalLocked() time.Duration {
	severity := c.meanSeverityLocked()
	span := c.cfg.MaxSyncInterval - c.cfg.MinSyncInterval

	return c.cfg.MaxSyncInterval - time.Duration(float64(span)*severity/2)
}

func (c *Coordinator) meanSeverityLocked() float64 {
	if len(c.viewers) == 0 {
		return 0
	}

	total := 0
	for _, v := range c.viewers {
		total += v.classifier.quality().Severity()
	}

	return float64(total) / float64(len(c.viewers))
}

// BroadcastState pushes the extrapolated host state to every viewer except the
// host.
func (c *Coordinator) BroadcastState() {
	c.mu.Lock()
	if c.state == StateClosed || c.hostId == "" {
		c.mu.Unlock()
		return
	}

	now := c.now()
	c.expireTransferLocked(now)
	push := c.statePushLocked(now)
	c.mu.Unlock()

	if len(push.To) == 0 {
		return
	}
	c.enqueue([]Push{push})
}

func (c *Coordinator) statePushLocked(now int64) Push {
	to := make([]string, 0, len(c.viewers))
	for p := range c.store.List() {
		if p.Id != c.hostId {
			to = append(to, p.Id)
		}
	}

	return Push{
		SessionId: c.sessionId,
		Type:      PushPlaybackState,
		To:        to,
		Payload:   c.responseLocked(now),
	}
}

// Metrics returns the session aggregate. Its network quality is the mean
// classified quality of the viewers, rounded.
func (c *Coordinator) Metrics() domain.SyncMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.session
	m.NetworkQuality = domain.QualityFromSeverity(int(math.Round(c.meanSeverityLocked())))
	return m
}

func (c *Coordinator) UserMetrics(userId string) (domain.UserSyncMetrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.viewers[userId]
	if !ok {
		return domain.UserSyncMetrics{}, false
	}

	return domain.UserSyncMetrics{UserId: userId, SyncMetrics: v.metrics}, true
}
