package concurrency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TALOS_MAX_JOBS", "12")
	t.Setenv("TALOS_AUTO_JOBS_MIN", "50")
	t.Setenv("TALOS_MAX_BATCHES", "3")
	t.Setenv("TALOS_ARENA_MAX_MB", "64")
	t.Setenv("TALOS_CIRCUIT_BREAKER_THRESHOLD", "7")
	t.Setenv("TALOS_CIRCUIT_BREAKER_TIMEOUT", "45")

	cfg := LoadConfig()

	assert.Equal(t, 12, cfg.MaxJobs)
	assert.Equal(t, 50, cfg.AutoJobsMin)
	assert.Equal(t, 3, cfg.MaxBatches)
	assert.Equal(t, 64<<20, cfg.ArenaMaxBytes)
	assert.Equal(t, int64(7), cfg.BreakerThreshold)
	assert.Equal(t, 45*time.Second, cfg.BreakerCoolDown)
	assert.Equal(t, ConfigSourceEnvVar, cfg.Source)
	assert.Contains(t, cfg.String(), "MaxJobs: 12")
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()
	assert.GreaterOrEqual(t, cfg.MaxJobs, 1)
	assert.Equal(t, DefaultAutoJobsMin, cfg.AutoJobsMin)
	assert.GreaterOrEqual(t, cfg.MaxBatches, 2)
	assert.Equal(t, 30*time.Second, cfg.BreakerCoolDown)
	assert.Equal(t, ConfigSourceAutoDetect, cfg.Source)
}

func TestConfig_AutoJobs(t *testing.T) {
	cfg := &Config{MaxJobs: 8, AutoJobsMin: 1000}
	assert.Equal(t, 1, cfg.AutoJobs(0))
	assert.Equal(t, 1, cfg.AutoJobs(999))
	assert.Equal(t, 8, cfg.AutoJobs(1000))
}

func TestLimiter_AcquireReleaseTracksMetrics(t *testing.T) {
	limiter := NewLimiter(2)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	require.NoError(t, limiter.Acquire(ctx))
	assert.Equal(t, int64(2), limiter.CurrentActive())
	limiter.Release()
	limiter.Release()
	limiter.Release() // extra release is ignored

	m := limiter.GetMetrics()
	assert.Equal(t, int64(2), m.TotalAcquired)
	assert.Equal(t, int64(2), m.TotalReleased)
	assert.Equal(t, int64(2), m.PeakConcurrent)
	assert.Zero(t, limiter.CurrentActive())
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	limiter := NewLimiter(1)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Acquire(ctx), context.DeadlineExceeded)
}

func TestLimiter_BreakerOpensOnCountableFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour)
	limiter := NewLimiterWithCircuitBreaker(1, cb)
	ctx := context.Background()
	boom := errors.New("boom")
	benign := errors.New("benign")
	onlyBoom := func(err error) bool { return errors.Is(err, boom) }

	assert.ErrorIs(t, limiter.GoSync(ctx, func() error { return benign }, onlyBoom), benign)
	assert.Zero(t, cb.ConsecutiveFailures())

	_ = limiter.GoSync(ctx, func() error { return boom }, onlyBoom)
	assert.Equal(t, StateClosed, cb.State())
	_ = limiter.GoSync(ctx, func() error { return boom }, onlyBoom)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, limiter.Acquire(ctx), ErrCircuitOpen)
	assert.Equal(t, int64(1), limiter.GetMetrics().TotalRejected)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Millisecond)
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	assert.False(t, cb.IsOpen())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	assert.False(t, cb.IsOpen())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State(), "failure on probation reopens")

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
