// Package breaker implements a three-state circuit breaker; the LLM
// orchestrator keeps one per model.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Call when the breaker denies the request.
var ErrOpen = errors.New("breaker: circuit open, request rejected")

// Config controls the breaker's thresholds.
type Config struct {
	FailureThreshold int
	Timeout          time.Duration
	SuccessThreshold int
}

// DefaultConfig mirrors the original failure_threshold/timeout/success_threshold
// defaults (5, 60s, 3).
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Timeout: 60 * time.Second, SuccessThreshold: 3}
}

// Breaker is a single circuit breaker instance. Instances are passed
// explicitly to collaborators (dependency injection) rather than held as a
// package-level singleton, so tests can substitute a breaker with a fixed
// clock or deterministic thresholds.
type Breaker struct {
	cfg Config

	mu             sync.Mutex
	state          State
	failureCount   int
	successCount   int
	openedAt       time.Time
	lastFailureAt  time.Time
	hasOpenedAt    bool
	hasLastFailure bool

	now func() time.Time
}

// New creates a breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Breaker{cfg: cfg, state: Closed, now: time.Now}
}

// Stats is a snapshot of CircuitBreakerState (spec §3).
type Stats struct {
	State         State
	FailureCount  int
	SuccessCount  int
	OpenedAt      time.Time
	HasOpenedAt   bool
	LastFailureAt time.Time
}

// GetStats returns a consistent snapshot of the breaker's internal state.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:         b.state,
		FailureCount:  b.failureCount,
		SuccessCount:  b.successCount,
		OpenedAt:      b.openedAt,
		HasOpenedAt:   b.hasOpenedAt,
		LastFailureAt: b.lastFailureAt,
	}
}

// CanProceed is the gatekeeper. It drives the open->half-open transition as
// a side effect of being called, matching the original's can_proceed().
func (b *Breaker) CanProceed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if b.hasOpenedAt && b.now().Sub(b.openedAt) >= b.cfg.Timeout {
			b.state = HalfOpen
			b.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess drives half_open -> closed after success_threshold
// consecutive successes.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	if b.state == HalfOpen && b.successCount >= b.cfg.SuccessThreshold {
		b.state = Closed
		b.failureCount = 0
		b.successCount = 0
		b.hasOpenedAt = false
	}
}

// RecordFailure drives closed -> open and half_open -> open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureAt = b.now()
	b.hasLastFailure = true

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = b.now()
		b.hasOpenedAt = true
		b.successCount = 0
	case Closed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.now()
			b.hasOpenedAt = true
		}
	}
}

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.hasOpenedAt = false
	b.hasLastFailure = false
}

// Call executes fn guarded by the breaker, recording the outcome.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !b.CanProceed() {
		return ErrOpen
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
