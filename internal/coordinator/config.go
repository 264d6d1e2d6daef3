package coordinator

import (
	"errors"
	"time"

	"github.com/sharetube/watchsync/internal/domain"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

type Config struct {
	// Drift tolerated before a viewer is corrected, by classified quality.
	GoodTolerance time.Duration
	FairTolerance time.Duration
	PoorTolerance time.Duration
	// Minimum time between two corrections sent to the same viewer.
	MinCorrectionInterval time.Duration
	// Weight of the newest sample in the running mean of |delta|, in (0, 1].
	DeltaSmoothing float64
	// Upper bounds of the running mean for the good and fair quality samples.
	GoodDelta time.Duration
	FairDelta time.Duration
	// Consecutive samples needed for each further quality step in one direction.
	// At least 2, so a repeated sample never moves quality by more than one step.
	QualityConfirmations int
	MinSyncInterval      time.Duration
	MaxSyncInterval      time.Duration
	TransferTimeout      time.Duration
	HostGracePeriod      time.Duration
	AwayAfter            time.Duration
	LivenessWindow       time.Duration
	SweepInterval        time.Duration
	OutboxSize           int
	Clock                Clock
}

func DefaultConfig() Config {
	return Config{
		GoodTolerance:         500 * time.Millisecond,
		FairTolerance:         time.Second,
		PoorTolerance:         2 * time.Second,
		MinCorrectionInterval: 2 * time.Second,
		DeltaSmoothing:        0.3,
		GoodDelta:             250 * time.Millisecond,
		FairDelta:             time.Second,
		QualityConfirmations:  2,
		MinSyncInterval:       time.Second,
		MaxSyncInterval:       5 * time.Second,
		TransferTimeout:       5 * time.Second,
		HostGracePeriod:       10 * time.Second,
		AwayAfter:             30 * time.Second,
		LivenessWindow:        2 * time.Minute,
		SweepInterval:         time.Second,
		OutboxSize:            256,
	}
}

func (c *Config) Validate() error {
	if c.GoodTolerance <= 0 || c.FairTolerance < c.GoodTolerance || c.PoorTolerance < c.FairTolerance {
		return errors.New("tolerances must be positive and ordered good <= fair <= poor")
	}
	if c.MinCorrectionInterval < 0 {
		return errors.New("min correction interval must not be negative")
	}
	if c.DeltaSmoothing <= 0 || c.DeltaSmoothing > 1 {
		return errors.New("delta smoothing must be in (0, 1]")
	}
	if c.GoodDelta <= 0 || c.FairDelta < c.GoodDelta {
		return errors.New("delta thresholds must be positive and ordered good <= fair")
	}
	if c.QualityConfirmations < 2 {
		return errors.New("quality confirmations must be at least 2")
	}
	if c.MinSyncInterval <= 0 || c.MaxSyncInterval < c.MinSyncInterval {
		return errors.New("sync intervals must be positive and ordered min <= max")
	}
	if c.TransferTimeout <= 0 {
		return errors.New("transfer timeout must be greater than 0")
	}
	if c.HostGracePeriod < 0 {
		return errors.New("host grace period must not be negative")
	}
	if c.AwayAfter <= 0 || c.LivenessWindow < c.AwayAfter {
		return errors.New("liveness window must not be shorter than away timeout")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be greater than 0")
	}
	if c.OutboxSize < 1 {
		return errors.New("outbox size must be greater than 0")
	}
	return nil
}

func (c *Config) tolerance(q domain.NetworkQuality) time.Duration {
	switch q {
	case domain.QualityFair:
		return c.FairTolerance
	case domain.QualityPoor:
		return c.PoorTolerance
	default:
		return c.GoodTolerance
	}
}

// deltaQuality classifies a running mean of |delta| in seconds.
func (c *Config) deltaQuality(avg float64) domain.NetworkQuality {
	switch {
	case avg <= c.GoodDelta.Seconds():
		return domain.QualityGood
	case avg <= c.FairDelta.Seconds():
		return domain.QualityFair
	default:
		return domain.QualityPoor
	}
}
