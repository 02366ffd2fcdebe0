// Package engine maps a transform over every text element of a host list,
// sequentially or across a pool of workers that each own an arena, and
// writes each result back by index exactly once.
package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/internal/arena"
	"github.com/wehubfusion/Talos/pkg/concurrency"
)

// Config configures an Engine. It is shared by every batch the engine runs.
type Config struct {
	// Arena configures each worker's arena and its reset/free policy.
	Arena arena.Config

	// Limiter, when set, bounds concurrent batches and trips its circuit
	// breaker on repeated batch faults.
	Limiter *concurrency.Limiter
}

// Options are per-batch settings.
type Options struct {
	// Jobs is the number of workers. It must be at least 1; 1 runs the
	// batch on the calling goroutine.
	Jobs int

	// InPlace writes results back into the source list instead of a new one.
	InPlace bool
}

// Engine runs batches. It is safe for concurrent use.
type Engine struct {
	config  Config
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// New creates an engine. A nil logger disables logging.
func New(config Config, logger *zap.Logger) (*Engine, error) {
	config.Arena.ApplyDefaults()
	if err := config.Arena.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config:  config,
		logger:  logger,
		tracer:  otel.Tracer("talos/engine"),
		metrics: &Metrics{},
	}, nil
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	return e.metrics.Snapshot()
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}
