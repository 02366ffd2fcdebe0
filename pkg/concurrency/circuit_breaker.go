package concurrency

import (
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState represents the state of the circuit breaker
type BreakerState int32

const (
	// StateClosed lets batches through
	StateClosed BreakerState = iota

	// StateOpen rejects batches until the cool-down passes
	StateOpen

	// StateHalfOpen lets batches through on probation
	StateHalfOpen
)

// String returns the string representation of the breaker state
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker stops admitting batches after a run of consecutive batch
// faults (worker panics, arena exhaustion) and re-admits them once the
// cool-down has elapsed and a few probation batches succeed.
type CircuitBreaker struct {
	state       atomic.Int32
	failures    atomic.Int64
	successes   atomic.Int64
	lastFailure atomic.Int64 // unix nanos

	threshold int64
	coolDown  time.Duration
	probation int64
	mu        sync.Mutex
}

// NewCircuitBreaker creates a breaker that opens after threshold consecutive
// failures and stays open for coolDown.
func NewCircuitBreaker(threshold int64, coolDown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 10
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, coolDown: coolDown, probation: 3}
}

// IsOpen reports whether batches are currently rejected. An open breaker
// whose cool-down has passed moves to half-open.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb.State() != StateOpen {
		return false
	}
	last := cb.lastFailure.Load()
	if last > 0 && time.Since(time.Unix(0, last)) > cb.coolDown {
		cb.transitionTo(StateHalfOpen)
		return false
	}
	return true
}

// RecordSuccess records a batch that completed
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	if cb.State() == StateHalfOpen && cb.successes.Add(1) >= cb.probation {
		cb.transitionTo(StateClosed)
	}
}

// RecordFailure records a batch that faulted
func (cb *CircuitBreaker) RecordFailure() {
	cb.successes.Store(0)
	cb.lastFailure.Store(time.Now().UnixNano())
	failures := cb.failures.Add(1)

	switch cb.State() {
	case StateClosed:
		if failures >= cb.threshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(cb.state.Load())
}

// ConsecutiveFailures returns the current run of failures
func (cb *CircuitBreaker) ConsecutiveFailures() int64 {
	return cb.failures.Load()
}

// Reset closes the breaker and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.transitionTo(StateClosed)
	cb.lastFailure.Store(0)
}

func (cb *CircuitBreaker) transitionTo(next BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if BreakerState(cb.state.Load()) == next {
		return
	}
	cb.state.Store(int32(next))
	switch next {
	case StateClosed:
		cb.failures.Store(0)
		cb.successes.Store(0)
	case StateHalfOpen:
		cb.successes.Store(0)
	}
}
