// Package circuitbreaker implements the circuit breaker pattern used by the
// embedding service (spec §4.1, §9): a component that fails fast instead of
// retrying a known-broken dependency.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker is open and calls are being rejected.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the breaker's current state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a threshold-based circuit breaker. With MaxFailures set to 1
// and ResetTimeout set to 0, it behaves as the embedding service's one-shot
// breaker: the first failure opens it permanently until Reset is called.
type Breaker struct {
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       State
	failures    int
	lastFailure time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithMaxFailures sets the failure count that trips the breaker.
func WithMaxFailures(n int) Option {
	return func(b *Breaker) { b.maxFailures = n }
}

// WithResetTimeout sets the duration after which an open breaker becomes
// half-open. A zero timeout means the breaker never recovers on its own
// and must be Reset explicitly — this is the embedding service's mode.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) { b.resetTimeout = d }
}

// New creates a Breaker. Defaults: 1 failure trips it, no automatic reset
// (one-shot), matching the embedding service's required behavior.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		maxFailures:  1,
		resetTimeout: 0,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state, accounting for reset-timeout recovery.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentState()
}

func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.resetTimeout > 0 && time.Since(b.lastFailure) > b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether a call should be attempted.
func (b *Breaker) Allow() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentState() != StateOpen
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
}

// RecordFailure records a failure, tripping the breaker once the threshold
// is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= b.maxFailures {
		b.state = StateOpen
	}
}

// Reset forces the breaker back to closed, clearing all failure state.
// Used for explicit test teardown or operator-triggered recovery (§9).
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
	b.lastFailure = time.Time{}
}

// Do runs fn if the breaker allows it, recording the outcome. It returns
// ErrOpen without calling fn when the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
