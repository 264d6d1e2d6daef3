package domain

import "time"

const defaultPlaybackRate = 1.0

type PlaybackState struct {
	IsPlaying    bool    `json:"isPlaying"`
	CurrentTime  float64 `json:"currentTime"`
	Buffering    bool    `json:"buffering"`
	Seeking      bool    `json:"seeking"`
	PlaybackRate float64 `json:"playbackRate,omitempty"`
	Timestamp    int64   `json:"timestamp"`
	HostId       string  `json:"hostId"`
}

// Advancing reports whether the position moves with wall-clock time.
func (s PlaybackState) Advancing() bool {
	return s.IsPlaying && !s.Buffering && !s.Seeking
}

func (s PlaybackState) Rate() float64 {
	if s.PlaybackRate <= 0 {
		return defaultPlaybackRate
	}

	return s.PlaybackRate
}

// PositionAt linearly extrapolates the playback position to the given unix
// millisecond instant. Instants before Timestamp are not extrapolated backwards.
func (s PlaybackState) PositionAt(at int64) float64 {
	position := s.CurrentTime
	if s.Advancing() && at > s.Timestamp {
		position += float64(at-s.Timestamp) / 1000 * s.Rate()
	}

	if position < 0 {
		return 0
	}

	return position
}

// At returns a copy of s extrapolated to the given instant.
func (s PlaybackState) At(at int64) PlaybackState {
	s.CurrentTime = s.PositionAt(at)
	if at > s.Timestamp {
		s.Timestamp = at
	}

	return s
}

func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func TimeOf(ms int64) time.Time {
	return time.UnixMilli(ms)
}
