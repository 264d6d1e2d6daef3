package syncclient

import (
	"fmt"
	"math"
	"time"

	"github.com/sharetube/watchsync/internal/domain"
)

const DefaultTolerance = 500 * time.Millisecond

// Player is the capability a follower drives.
type Player interface {
	CurrentTime() float64
	Seek(seconds float64) error
}

// Follower keeps a Player within tolerance of the authoritative playback.
type Follower struct {
	player    Player
	tolerance float64
}

func NewFollower(player Player, tolerance time.Duration) *Follower {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	return &Follower{player: player, tolerance: tolerance.Seconds()}
}

// Apply aligns the player with the answer to a sync request sent at
// requestedAt. Half of the round trip is taken as one-way latency. It reports
// whether the player was seeked.
func (f *Follower) Apply(requestedAt int64, resp domain.SyncResponse) (bool, error) {
	latency := max(resp.Timestamp-requestedAt, 0) / 2

	target := resp.PlaybackState.PositionAt(resp.Timestamp)
	if resp.PlaybackState.Advancing() {
		target += float64(latency) / 1000 * resp.PlaybackState.Rate()
	}

	return f.seekTo(target)
}

// ApplyState aligns the player with a pushed state, extrapolated to now.
func (f *Follower) ApplyState(state domain.PlaybackState, now int64) (bool, error) {
	return f.seekTo(state.PositionAt(now))
}

// Drift is the signed distance between the player and target.
func (f *Follower) Drift(target float64) float64 {
	return f.player.CurrentTime() - target
}

func (f *Follower) seekTo(target float64) (bool, error) {
	if math.Abs(f.Drift(target)) <= f.tolerance {
		return false, nil
	}

	if err := f.player.Seek(target); err != nil {
		return false, fmt.Errorf("failed to seek to %.3f: %w", target, err)
	}

	return true, nil
}
