// Package bulk is the user-facing set of list operations: regular
// expression search and rewrite, case mapping and script transforms, each
// applied to every element of a host list by the engine.
//
// Every operation validates its pattern or script before any worker starts,
// so a bad pattern never produces a partial result.
package bulk

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/internal/arena"
	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/engine"
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/host"
	"github.com/wehubfusion/Talos/pkg/pattern"
)

// Options are per-call settings shared by every operation.
type Options struct {
	// Jobs is the worker count. Zero picks one from the list length.
	Jobs int

	// InPlace writes results into the source list.
	InPlace bool

	// CaseInsensitive folds case in pattern operations.
	CaseInsensitive bool

	// Engine selects the regular expression backend.
	Engine pattern.Engine

	// MatchTimeout bounds a single backtracking match.
	MatchTimeout time.Duration
}

func (o Options) pattern() pattern.Options {
	return pattern.Options{
		CaseInsensitive: o.CaseInsensitive,
		Engine:          o.Engine,
		MatchTimeout:    o.MatchTimeout,
	}
}

// Runner runs bulk operations on one engine.
type Runner struct {
	engine *engine.Engine
	config *concurrency.Config
	logger *zap.Logger
}

// New creates a runner. cfg supplies the auto jobs policy.
func New(e *engine.Engine, cfg *concurrency.Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = concurrency.LoadConfig()
	}
	return &Runner{engine: e, config: cfg, logger: logger}
}

// NewFromConfig builds the engine, limiter and runner from loaded
// configuration.
func NewFromConfig(cfg *concurrency.Config, logger *zap.Logger) (*Runner, error) {
	e, err := engine.New(engine.Config{
		Arena:   arena.Config{MaxBytes: cfg.ArenaMaxBytes},
		Limiter: concurrency.NewLimiterFromConfig(cfg),
	}, logger)
	if err != nil {
		return nil, err
	}
	return New(e, cfg, logger), nil
}

// Engine returns the underlying engine.
func (r *Runner) Engine() *engine.Engine { return r.engine }

// Jobs resolves the worker count for a list of length elements. Negative
// counts are a precondition violation.
func (r *Runner) Jobs(requested, length int) int {
	switch {
	case requested < 0:
		panic(sdkerrors.Preconditionf("bulk: jobs must not be negative, got %d", requested))
	case requested == 0:
		return r.config.AutoJobs(length)
	default:
		return requested
	}
}

func (r *Runner) engineOptions(src *host.List, opts Options) engine.Options {
	return engine.Options{Jobs: r.Jobs(opts.Jobs, src.Len()), InPlace: opts.InPlace}
}

func (r *Runner) compile(expr string, opts Options) (pattern.Matcher, error) {
	m, err := pattern.Compile(expr, opts.pattern())
	if err != nil {
		r.logger.Debug("pattern rejected", zap.String("pattern", expr), zap.Error(err))
		return nil, sdkerrors.NewPatternCompile(expr, err)
	}
	return m, nil
}

func run[T any](ctx context.Context, r *Runner, src *host.List, opts Options, factory engine.TransformFactory[T], conv engine.Converter[T]) (*host.List, error) {
	return engine.Map(ctx, r.engine, src, r.engineOptions(src, opts), factory, conv)
}
