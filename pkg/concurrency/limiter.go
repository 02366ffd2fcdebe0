package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by Acquire while the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Metrics is a snapshot of limiter activity
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	TotalRejected   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter bounds how many batches run at once. Each admitted batch holds one
// slot for its whole run; its outcome feeds the circuit breaker.
type Limiter struct {
	sem            chan struct{}
	active         atomic.Int64
	acquired       atomic.Int64
	released       atomic.Int64
	rejected       atomic.Int64
	peak           atomic.Int64
	waitNs         atomic.Int64
	circuitBreaker *CircuitBreaker
}

// NewLimiter creates a limiter admitting maxConcurrent batches, with a
// breaker that opens after 100 consecutive faults for 30s
func NewLimiter(maxConcurrent int) *Limiter {
	return NewLimiterWithCircuitBreaker(maxConcurrent, NewCircuitBreaker(100, 30*time.Second))
}

// NewLimiterWithCircuitBreaker creates a limiter with custom breaker settings
func NewLimiterWithCircuitBreaker(maxConcurrent int, cb *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:            make(chan struct{}, maxConcurrent),
		circuitBreaker: cb,
	}
}

// NewLimiterFromConfig builds a limiter from loaded configuration
func NewLimiterFromConfig(cfg *Config) *Limiter {
	return NewLimiterWithCircuitBreaker(cfg.MaxBatches, NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCoolDown))
}

// Acquire waits for a slot. It fails fast while the breaker is open and
// returns the context error if ctx ends first.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.circuitBreaker.IsOpen() {
		l.rejected.Add(1)
		return ErrCircuitOpen
	}

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		l.waitNs.Add(time.Since(start).Nanoseconds())
		l.acquired.Add(1)
		l.updatePeak(l.active.Add(1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		l.released.Add(1)
	default:
	}
}

// GoSync runs fn in the caller's goroutine while holding a slot and records
// its outcome. Errors for which countable returns false are passed through
// without touching the breaker.
func (l *Limiter) GoSync(ctx context.Context, fn func() error, countable func(error) bool) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn()
	switch {
	case err == nil:
		l.circuitBreaker.RecordSuccess()
	case countable == nil || countable(err):
		l.circuitBreaker.RecordFailure()
	}
	return err
}

// CurrentActive returns the number of batches holding a slot
func (l *Limiter) CurrentActive() int64 {
	return l.active.Load()
}

// GetMetrics returns a snapshot of the counters
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:   l.acquired.Load(),
		TotalReleased:   l.released.Load(),
		TotalRejected:   l.rejected.Load(),
		PeakConcurrent:  l.peak.Load(),
		TotalWaitTimeNs: l.waitNs.Load(),
	}
}

// GetAverageWaitTime returns the mean time spent waiting for a slot
func (l *Limiter) GetAverageWaitTime() time.Duration {
	m := l.GetMetrics()
	if m.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(m.TotalWaitTimeNs / m.TotalAcquired)
}

// CircuitBreaker exposes the limiter's breaker
func (l *Limiter) CircuitBreaker() *CircuitBreaker {
	return l.circuitBreaker
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
