package domain

import "fmt"

type PresenceStatus string

const (
	StatusActive   PresenceStatus = "active"
	StatusInactive PresenceStatus = "inactive"
	StatusAway     PresenceStatus = "away"
)

func (s PresenceStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusAway:
		return true
	default:
		return false
	}
}

type NetworkQuality string

const (
	QualityGood NetworkQuality = "good"
	QualityFair NetworkQuality = "fair"
	QualityPoor NetworkQuality = "poor"
)

var qualityBySeverity = [...]NetworkQuality{QualityGood, QualityFair, QualityPoor}

func (q NetworkQuality) IsValid() bool {
	switch q {
	case QualityGood, QualityFair, QualityPoor:
		return true
	default:
		return false
	}
}

// Severity orders qualities from good (0) to poor (2).
func (q NetworkQuality) Severity() int {
	switch q {
	case QualityFair:
		return 1
	case QualityPoor:
		return 2
	default:
		return 0
	}
}

func QualityFromSeverity(severity int) NetworkQuality {
	if severity < 0 {
		severity = 0
	}
	if severity >= len(qualityBySeverity) {
		severity = len(qualityBySeverity) - 1
	}

	return qualityBySeverity[severity]
}

func ParseNetworkQuality(s string) (NetworkQuality, error) {
	q := NetworkQuality(s)
	if !q.IsValid() {
		return "", fmt.Errorf("unknown network quality %q", s)
	}

	return q, nil
}

type UserPresence struct {
	Id             string         `json:"id"`
	Username       string         `json:"username"`
	IsHost         bool           `json:"isHost"`
	Status         PresenceStatus `json:"status"`
	LastActive     int64          `json:"lastActive"`
	PlaybackState  *PlaybackState `json:"playbackState,omitempty"`
	NetworkQuality NetworkQuality `json:"networkQuality"`
}
