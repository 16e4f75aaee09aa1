// Package breaker isolates failing upstream dependencies behind per-name
// circuit breakers.
package breaker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/solsticehq/centra/errs"
)

// State identifies the breaker's position in its three-state machine.
type State string

const (
	// StateClosed indicates normal operation: calls pass through.
	StateClosed State = "closed"
	// StateOpen indicates the breaker is rejecting calls until the next
	// attempt time.
	StateOpen State = "open"
	// StateHalfOpen indicates a single trial call is permitted.
	StateHalfOpen State = "half_open"
)

const (
	defaultFailureThreshold     = 5
	defaultOpenTimeout          = 30 * time.Second
	defaultHalfOpenResetTimeout = 15 * time.Second
)

// Config controls one breaker instance. Zero values fall back to defaults.
type Config struct {
	FailureThreshold     int
	OpenTimeout          time.Duration
	HalfOpenResetTimeout time.Duration
	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
	// OnTransition observes state changes; wired to logging and metrics by
	// the process entrypoint.
	OnTransition func(name string, from, to State)
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
	if c.HalfOpenResetTimeout <= 0 {
		c.HalfOpenResetTimeout = defaultHalfOpenResetTimeout
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Stats is a point-in-time snapshot of one breaker's call history.
type Stats struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failureCount"`
	TotalFailures   uint64    `json:"totalFailures"`
	TotalSuccesses  uint64    `json:"totalSuccesses"`
	TotalRejections uint64    `json:"totalRejections"`
	LastFailure     time.Time `json:"lastFailure"`
	LastSuccess     time.Time `json:"lastSuccess"`
	LastStateChange time.Time `json:"lastStateChange"`
	HealthPercent   int       `json:"healthPercent"`
}

// Breaker guards one named dependency. All state lives behind a mutex; the
// failure counter decays by one on each Closed-state success rather than
// resetting, so an occasional failure in a healthy stream never trips it.
type Breaker struct {
	name string
	cfg  Config

	mu              sync.Mutex
	state           State
	failureCount    int
	totalFailures   uint64
	totalSuccesses  uint64
	totalRejections uint64
	nextAttempt     time.Time
	trialInFlight   bool
	trialStartedAt  time.Time
	lastFailure     time.Time
	lastSuccess     time.Time
	lastStateChange time.Time
}

// New constructs a breaker for the named dependency.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: StateClosed,
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, promoting Open to HalfOpen is left to the
// admission path so observation never mutates.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsClosed reports whether calls currently pass through unconditionally.
func (b *Breaker) IsClosed() bool { return b.State() == StateClosed }

// IsOpen reports whether the breaker is rejecting calls.
func (b *Breaker) IsOpen() bool { return b.State() == StateOpen }

// IsHalfOpen reports whether the breaker is trialling recovery.
func (b *Breaker) IsHalfOpen() bool { return b.State() == StateHalfOpen }

// Do executes fn through the breaker, propagating rejections and failures.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	return DoWithFallback[T](ctx, b, fn, nil)
}

// DoWithFallback executes fn through the breaker. When the breaker rejects
// the call or fn fails, the fallback (if any) supplies the result instead of
// the error. A HalfOpen trial failure still forces the Open transition even
// when the fallback masks it from the caller.
func DoWithFallback[T any](ctx context.Context, b *Breaker, fn, fallback func(context.Context) (T, error)) (T, error) {
	if err := b.admit(); err != nil {
		if fallback != nil {
			return fallback(ctx)
		}
		var zero T
		return zero, err
	}

	out, err := fn(ctx)
	if err != nil {
		b.recordFailure()
		if fallback != nil {
			return fallback(ctx)
		}
		var zero T
		return zero, err
	}

	b.recordSuccess()
	return out, nil
}

// admit decides whether a call may proceed, performing the Open→HalfOpen
// promotion when the cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.cfg.Clock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Before(b.nextAttempt) {
			b.totalRejections++
			return b.rejectionError(now)
		}
		b.transition(StateHalfOpen, now)
		b.trialInFlight = true
		b.trialStartedAt = now
		return nil
	case StateHalfOpen:
		// One trial at a time; a trial stuck past the reset timeout is
		// presumed lost and a new one is admitted.
		if b.trialInFlight && now.Sub(b.trialStartedAt) < b.cfg.HalfOpenResetTimeout {
			b.totalRejections++
			return b.rejectionError(now)
		}
		b.trialInFlight = true
		b.trialStartedAt = now
		return nil
	default:
		return nil
	}
}

func (b *Breaker) rejectionError(now time.Time) error {
	retryAfter := b.nextAttempt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return errs.New(b.name, errs.CodeCircuitOpen,
		errs.WithMessage("circuit breaker open"),
		errs.WithRetryAfter(retryAfter))
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.cfg.Clock()
	b.totalFailures++
	b.lastFailure = now

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.nextAttempt = now.Add(b.cfg.OpenTimeout)
		b.transition(StateOpen, now)
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.nextAttempt = now.Add(b.cfg.OpenTimeout)
			b.transition(StateOpen, now)
		}
	case StateOpen:
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.cfg.Clock()
	b.totalSuccesses++
	b.lastSuccess = now

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.failureCount = 0
		b.transition(StateClosed, now)
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	case StateOpen:
	}
}

// Reset forces the breaker Closed and zeroes every counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.cfg.Clock()
	b.failureCount = 0
	b.totalFailures = 0
	b.totalSuccesses = 0
	b.totalRejections = 0
	b.trialInFlight = false
	b.nextAttempt = time.Time{}
	if b.state != StateClosed {
		b.transition(StateClosed, now)
	}
}

// ForceOpen trips the breaker for the optional duration (else the configured
// open timeout). Maintenance override; call history is preserved.
func (b *Breaker) ForceOpen(d ...time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.cfg.Clock()
	timeout := b.cfg.OpenTimeout
	if len(d) > 0 && d[0] > 0 {
		timeout = d[0]
	}
	b.trialInFlight = false
	b.nextAttempt = now.Add(timeout)
	if b.state != StateOpen {
		b.transition(StateOpen, now)
	}
}

// HealthPercentage reports the success share of all recorded calls, rounded
// to a whole percent. A breaker with no history is fully healthy.
func (b *Breaker) HealthPercentage() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthPercentLocked()
}

func (b *Breaker) healthPercentLocked() int {
	total := b.totalSuccesses + b.totalFailures
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(b.totalSuccesses) / float64(total) * 100))
}

// Stats snapshots the breaker's state and counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		TotalFailures:   b.totalFailures,
		TotalSuccesses:  b.totalSuccesses,
		TotalRejections: b.totalRejections,
		LastFailure:     b.lastFailure,
		LastSuccess:     b.lastSuccess,
		LastStateChange: b.lastStateChange,
		HealthPercent:   b.healthPercentLocked(),
	}
}

// transition records a state change. Caller holds the lock; the observer runs
// outside it to keep callbacks from re-entering the breaker.
func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	b.state = to
	b.lastStateChange = now
	if b.cfg.OnTransition != nil {
		go b.cfg.OnTransition(b.name, from, to)
	}
}
