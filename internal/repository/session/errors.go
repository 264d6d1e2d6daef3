package session

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrPlaybackNotFound     = errors.New("playback not found")
	ErrMetricsNotFound      = errors.New("metrics not found")
)
