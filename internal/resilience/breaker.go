// Package resilience provides retry, backoff and circuit breaking for backend calls.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State uint32

const (
	Closed   State = iota // calls flow
	Open                  // calls fail fast
	HalfOpen              // one probe at a time
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned while the breaker is failing fast, or while a half-open
// probe is already in flight.
var ErrOpen = errors.New("circuit breaker open")

// Breaker defaults.
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Live-recording calls give up on a failing model quickly.
	FastThreshold         = 3
	FastResetTimeout      = 10 * time.Second
	FastHalfOpenSuccesses = 2
)

// Config holds breaker settings.
type Config struct {
	Name              string        // dependency name for logs
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // open time before a probe is let through
	HalfOpenSuccesses int           // probe successes needed to close
}

// DefaultConfig returns settings for background calls.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// FastConfig returns settings for calls made while a user is recording, where
// a failing model should be skipped rather than waited on.
func FastConfig() Config {
	return Config{
		Threshold:         FastThreshold,
		ResetTimeout:      FastResetTimeout,
		HalfOpenSuccesses: FastHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = d.HalfOpenSuccesses
	}
	return c
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State     State
	Failures  int
	OpenedAt  time.Time
	Rejected  int64
	LastError string
}

// Breaker guards one backend dependency. Caller cancellation is not counted
// as a backend failure.
type Breaker struct {
	cfg  Config
	now  func() time.Time
	hook func(from, to State)

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probing   bool
	openedAt  time.Time
	rejected  int64
	lastError string
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// WithHook sets a state change callback. It runs outside the breaker's lock.
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.hook = fn
	return b
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string { return b.cfg.Name }

// State returns the current state. An open breaker whose reset timeout has
// passed reports HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Snapshot returns the breaker's counters.
func (b *Breaker) Snapshot() Snapshot {
	st := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: st, Failures: b.failures, OpenedAt: b.openedAt, Rejected: b.rejected, LastError: b.lastError}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.setLocked(Closed)
	b.mu.Unlock()
	b.notify(from, Closed)
}

// acquire admits a call or returns ErrOpen. probe reports whether the call is
// the half-open probe.
func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	from, to := b.state, b.state
	defer func() { b.notify(from, to) }()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.rejected++
			return false, ErrOpen
		}
		to = HalfOpen
		b.setLocked(HalfOpen)
		fallthrough
	case HalfOpen:
		if b.probing {
			b.rejected++
			return false, ErrOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

// record accounts for the outcome of an admitted call.
func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	from, to := b.state, b.state
	if probe {
		b.probing = false
	}

	switch {
	case err == nil:
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.cfg.HalfOpenSuccesses {
				to = Closed
			}
		}
	case errors.Is(err, context.Canceled):
		// The caller gave up; the backend said nothing.
	default:
		b.failures++
		b.lastError = err.Error()
		if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
			to = Open
		}
	}
	if to != from {
		b.setLocked(to)
	}
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) setLocked(to State) State {
	from := b.state
	b.state = to
	b.successes = 0
	b.probing = false
	switch to {
	case Closed:
		b.failures = 0
		b.openedAt = time.Time{}
	case Open:
		b.openedAt = b.now()
	}
	return from
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	switch to {
	case Open:
		slog.Warn("circuit breaker opened", "name", b.cfg.Name, "last_error", b.lastErrorSnapshot())
	default:
		slog.Info("circuit breaker "+to.String(), "name", b.cfg.Name)
	}
	if b.hook != nil {
		b.hook(from, to)
	}
}

func (b *Breaker) lastErrorSnapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// Do runs fn if the breaker admits it.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

// Call runs fn if b admits it and returns its value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Do(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
