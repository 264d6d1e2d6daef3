package session

import (
	"context"
	"time"

	"github.com/sharetube/watchsync/internal/coordinator"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/repository/session"
)

func (s *service) persistLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PersistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			live := make([]*coordinator.Coordinator, 0, len(s.sessions))
			for _, c := range s.sessions {
				live = append(live, c)
			}
			s.mu.Unlock()

			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PersistInterval)
			for _, c := range live {
				s.persist(ctx, c)
			}
			cancel()
		}
	}
}

// snapshot is the persisted part of a live session, taken in memory so it can
// be written without holding the service lock.
type snapshot struct {
	sessionId string
	playback  *domain.PlaybackState
	metrics   domain.SyncMetrics
}

func snapshotOf(c *coordinator.Coordinator) snapshot {
	snap := snapshot{
		sessionId: c.SessionId(),
		metrics:   c.Metrics(),
	}
	if state, ok := c.Playback(); ok {
		snap.playback = &state
	}

	return snap
}

func (s *service) persist(ctx context.Context, c *coordinator.Coordinator) {
	s.save(ctx, snapshotOf(c))
}

// save writes the playback and the session metrics of a snapshot. Failures are
// logged; the live state stays authoritative.
func (s *service) save(ctx context.Context, snap snapshot) {
	sessionId := snap.sessionId

	if snap.playback != nil {
		if err := s.savePlayback(ctx, sessionId, *snap.playback); err != nil {
			s.logger.WarnContext(ctx, "failed to persist playback", "session_id", sessionId, "error", err)
		}
	}

	m := snap.metrics
	quality := string(m.NetworkQuality)
	params := session.UpdateMetricsParams{
		SessionId:        sessionId,
		SyncAttempts:     &m.SyncAttempts,
		SyncSuccesses:    &m.SyncSuccesses,
		AverageSyncDelta: &m.AverageSyncDelta,
		NetworkQuality:   &quality,
	}
	if m.LastSyncTime != 0 {
		params.LastSyncTime = &m.LastSyncTime
	}

	if err := s.sessionRepo.UpdateMetrics(ctx, &params); err != nil {
		s.logger.WarnContext(ctx, "failed to persist metrics", "session_id", sessionId, "error", err)
	}
}

func (s *service) savePlayback(ctx context.Context, sessionId string, state domain.PlaybackState) error {
	return s.sessionRepo.SetPlayback(ctx, &session.SetPlaybackParams{
		SessionId: sessionId,
		Playback: session.Playback{
			IsPlaying:    state.IsPlaying,
			CurrentTime:  state.CurrentTime,
			Buffering:    state.Buffering,
			Seeking:      state.Seeking,
			PlaybackRate: state.PlaybackRate,
			Timestamp:    state.Timestamp,
			HostId:       state.HostId,
		},
	})
}

func playbackFromRepo(p session.Playback) domain.PlaybackState {
	return domain.PlaybackState{
		IsPlaying:    p.IsPlaying,
		CurrentTime:  p.CurrentTime,
		Buffering:    p.Buffering,
		Seeking:      p.Seeking,
		PlaybackRate: p.PlaybackRate,
		Timestamp:    p.Timestamp,
		HostId:       p.HostId,
	}
}

func metricsFromRepo(m session.Metrics) domain.SyncMetrics {
	quality := domain.NetworkQuality(m.NetworkQuality)
	if !quality.IsValid() {
		quality = domain.QualityGood
	}

	return domain.SyncMetrics{
		SyncAttempts:     m.SyncAttempts,
		SyncSuccesses:    m.SyncSuccesses,
		AverageSyncDelta: m.AverageSyncDelta,
		LastSyncTime:     m.LastSyncTime,
		NetworkQuality:   quality,
	}
}
