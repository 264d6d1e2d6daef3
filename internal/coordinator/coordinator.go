package coordinator

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/presence"
	"golang.org/x/time/rate"
)

var (
	ErrNoHostAssigned      = errors.New("no host assigned")
	ErrStaleHost           = errors.New("stale host")
	ErrUnknownUser         = errors.New("unknown user")
	ErrNotCurrentHost      = errors.New("not current host")
	ErrSessionClosed       = errors.New("session closed")
	ErrInvalidPresence     = errors.New("invalid presence")
	ErrInvalidPlayback     = errors.New("invalid playback state")
	ErrInvalidQuality      = errors.New("invalid network quality")
	ErrInvalidObservedTime = errors.New("invalid observed time")
)

type State int

const (
	StateUnsynced State = iota
	StateHosted
	StateTransferring
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnsynced:
		return "unsynced"
	case StateHosted:
		return "hosted"
	case StateTransferring:
		return "transferring"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type viewer struct {
	metrics           domain.SyncMetrics
	hasDelta          bool
	classifier        qualityClassifier
	limiter           *rate.Limiter
	lastQualityUpdate int64
}

// Coordinator owns the playback authority of one viewing session. Every
// mutating operation runs under mu; pushes produced by an operation are
// enqueued after mu is released and delivered by Run.
type Coordinator struct {
	sessionId string
	cfg       Config
	clock     Clock
	logger    *slog.Logger
	sink      Sink
	store     *presence.Store

	mu                sync.Mutex
	state             State
	hostId            string
	playback          *domain.PlaybackState
	hostlessSince     int64
	transferStartedAt int64
	viewers           map[string]*viewer
	session           domain.SyncMetrics
	hasSessionDelta   bool

	outbox    chan Push
	done      chan struct{}
	closeOnce sync.Once
}

func New(sessionId string, sink Sink, logger *slog.Logger, cfg *Config) *Coordinator {
	c := cfg
	if c == nil {
		d := DefaultConfig()
		c = &d
	}

	clock := c.Clock
	if clock == nil {
		clock = systemClock{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		sessionId: sessionId,
		cfg:       *c,
		clock:     clock,
		logger:    logger.With("session_id", sessionId),
		sink:      sink,
		store:     presence.NewStore(),
		state:     StateUnsynced,
		viewers:   make(map[string]*viewer),
		session:   domain.SyncMetrics{NetworkQuality: domain.QualityGood},
		outbox:    make(chan Push, c.OutboxSize),
		done:      make(chan struct{}),
	}
}

func (c *Coordinator) SessionId() string {
	return c.sessionId
}

func (c *Coordinator) now() int64 {
	return domain.Millis(c.clock.Now())
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Coordinator) HostId() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hostId
}

// Playback returns the stored authoritative state without extrapolation.
func (c *Coordinator) Playback() (domain.PlaybackState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.playback == nil {
		return domain.PlaybackState{}, false
	}

	return *c.playback, true
}

// Presences returns a join-ordered snapshot of the session presences. It does
// not take the coordinator lock.
func (c *Coordinator) Presences() iter.Seq[domain.UserPresence] {
	return c.store.List()
}

func (c *Coordinator) Presence(userId string) (domain.UserPresence, bool) {
	return c.store.Get(userId)
}

func (c *Coordinator) Len() int {
	return c.store.Len()
}

// Seed installs a last known playback state, typically restored from storage,
// while the session has no host. The next host inherits it.
func (c *Coordinator) Seed(state domain.PlaybackState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUnsynced || state.CurrentTime < 0 {
		return
	}

	c.playback = &state
}

// Join adds a presence, or refreshes it when the user is already present.
// Host authority is never granted by joining.
func (c *Coordinator) Join(p domain.UserPresence) (domain.UserPresence, error) {
	if p.Id == "" {
		return domain.UserPresence{}, ErrInvalidPresence
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return domain.UserPresence{}, ErrSessionClosed
	}

	now := c.now()
	if p.LastActive < now {
		p.LastActive = now
	}
	if !p.Status.IsValid() {
		p.Status = domain.StatusActive
	}
	if !p.NetworkQuality.IsValid() {
		p.NetworkQuality = domain.QualityGood
	}
	p.IsHost = p.Id == c.hostId && c.hostId != ""
	p.PlaybackState = nil

	if existing, ok := c.store.Get(p.Id); ok {
		p.PlaybackState = existing.PlaybackState
		p.NetworkQuality = existing.NetworkQuality
	}
	c.store.Upsert(p)

	if _, ok := c.viewers[p.Id]; !ok {
		c.viewers[p.Id] = c.newViewer(p.NetworkQuality)
	}
	if c.hostId == "" && c.hostlessSince == 0 {
		c.hostlessSince = now
	}

	joined, _ := c.store.Get(p.Id)
	pushes := []Push{c.presencePushLocked()}
	c.mu.Unlock()

	c.enqueue(pushes)
	c.logger.Debug("presence joined", "user_id", p.Id)

	return joined, nil
}

func (c *Coordinator) newViewer(q domain.NetworkQuality) *viewer {
	return &viewer{
		metrics:    domain.SyncMetrics{NetworkQuality: q},
		classifier: newQualityClassifier(q, c.cfg.QualityConfirmations),
		limiter:    rate.NewLimiter(rate.Every(c.cfg.MinCorrectionInterval), 1),
	}
}

// Heartbeat records activity of a presence. A zero at means now; timestamps
// older than the stored activity are absorbed.
func (c *Coordinator) Heartbeat(userId string, status domain.PresenceStatus, at int64) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrSessionClosed
	}

	if at == 0 {
		at = c.now()
	}

	changed := false
	found := c.store.Update(userId, func(p *domain.UserPresence) {
		if at < p.LastActive {
			return
		}
		p.LastActive = at
		if status == "" {
			status = domain.StatusActive
		}
		if status.IsValid() && status != p.Status {
			p.Status = status
			changed = true
		}
	})
	if !found {
		c.mu.Unlock()
		return ErrUnknownUser
	}

	var pushes []Push
	if changed {
		pushes = append(pushes, c.presencePushLocked())
	}
	c.mu.Unlock()

	c.enqueue(pushes)
	return nil
}

// Leave removes a presence. If the host leaves the session becomes unsynced and
// keeps the last playback state for the next host.
func (c *Coordinator) Leave(userId string) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrSessionClosed
	}

	if !c.removeLocked(userId) {
		c.mu.Unlock()
		return ErrUnknownUser
	}

	pushes := []Push{c.presencePushLocked()}
	c.mu.Unlock()

	c.enqueue(pushes)
	c.logger.Debug("presence left", "user_id", userId)
	return nil
}

func (c *Coordinator) removeLocked(userId string) bool {
	if !c.store.Remove(userId) {
		return false
	}
	delete(c.viewers, userId)

	if userId == c.hostId {
		c.hostId = ""
		c.state = StateUnsynced
		c.hostlessSince = c.now()
		c.store.ClearHost()
		c.logger.Info("host left session", "user_id", userId)
	}

	return true
}

// Close discards the session state. Every later operation fails with
// ErrSessionClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
}

func (c *Coordinator) closeLocked() {
	c.closeOnce.Do(func() {
		c.state = StateClosed
		c.hostId = ""
		c.playback = nil
		c.viewers = make(map[string]*viewer)
		for p := range c.store.List() {
			c.store.Remove(p.Id)
		}
		close(c.done)
	})
}

// Done is closed when the session is closed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Run delivers queued pushes, emits the playback state at the sync cadence and
// sweeps presences until ctx is done or the session is closed. Sweep pushes
// bypass the outbox so an eviction is never dropped.
func (c *Coordinator) Run(ctx context.Context) error {
	cadence := time.NewTimer(c.SyncInterval())
	defer cadence.Stop()

	sweep := time.NewTicker(c.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case push := <-c.outbox:
			c.deliver(ctx, push)
		case <-cadence.C:
			c.BroadcastState()
			cadence.Reset(c.SyncInterval())
		case <-sweep.C:
			for _, push := range c.sweep() {
				c.deliver(ctx, push)
			}
		}
	}
}

func (c *Coordinator) presencesLocked() []domain.UserPresence {
	return slices.Collect(c.store.List())
}

func (c *Coordinator) presencePushLocked() Push {
	return Push{
		SessionId: c.sessionId,
		Type:      PushPresenceUpdated,
		Payload:   PresencePayload{Presences: c.presencesLocked()},
	}
}

func (c *Coordinator) touchLocked(userId string, at int64) {
	c.store.Update(userId, func(p *domain.UserPresence) {
		if at > p.LastActive {
			p.LastActive = at
		}
	})
}
