package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/internal/arena"
	"github.com/wehubfusion/Talos/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/host"
	"github.com/wehubfusion/Talos/pkg/iteration"
	"github.com/wehubfusion/Talos/pkg/output"
)

// drainBatch bounds how many queued results the coordinator converts per
// acquisition of the exclusivity lock.
const drainBatch = 256

// sink is the write side of the destination: an output.Builder, or the
// source list itself in in-place mode.
type sink interface {
	SetTransfer(i int, v host.Object)
}

// result is a raw transform output queued for conversion on the coordinator.
type result[T any] struct {
	index int
	value T
}

// batch is the per-call state shared by the dispatcher and its workers.
type batch[T any] struct {
	e       *Engine
	id      string
	view    host.View
	sink    sink
	factory TransformFactory[T]
	conv    Converter[T]
	detach  func(T) T
	direct  bool
	log     *zap.Logger

	faultOnce sync.Once
	fault     any
	cancel    context.CancelFunc
}

// Map applies the transform built by factory to every element of src and
// converts each result with conv. It returns a new list of the same length,
// or src itself when opts.InPlace is set. Any worker panic fails the whole
// call; no partially filled list is returned.
//
// opts.Jobs below 1 and non-text source elements are precondition
// violations and panic.
func Map[T any](ctx context.Context, e *Engine, src *host.List, opts Options, factory TransformFactory[T], conv Converter[T]) (*host.List, error) {
	if opts.Jobs < 1 {
		panic(sdkerrors.Preconditionf("engine: jobs must be at least 1, got %d", opts.Jobs))
	}

	var out *host.List
	run := func() error {
		var err error
		out, err = mapBatch(ctx, e, src, opts, factory, conv)
		return err
	}

	var err error
	if e.config.Limiter != nil {
		err = e.config.Limiter.GoSync(ctx, run, countsAsFault)
	} else {
		err = run()
	}
	if err != nil {
		return nil, admissionError(err)
	}
	return out, nil
}

// admissionError gives the limiter's own rejections an error code. Errors
// from the batch already carry one.
func admissionError(err error) error {
	switch {
	case sdkerrors.Code(err) != "":
		return err
	case errors.Is(err, concurrency.ErrCircuitOpen):
		return sdkerrors.NewUnavailable("engine circuit breaker is open", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return sdkerrors.NewError(sdkerrors.CodeCancelled, "batch cancelled before admission", err)
	}
	return err
}

// countsAsFault reports whether err should trip the circuit breaker.
func countsAsFault(err error) bool {
	return sdkerrors.IsCode(err, sdkerrors.CodeWorkerFault) || sdkerrors.IsCode(err, sdkerrors.CodeOutOfMemory)
}

func mapBatch[T any](ctx context.Context, e *Engine, src *host.List, opts Options, factory TransformFactory[T], conv Converter[T]) (*host.List, error) {
	n := src.Len()
	workers := iteration.Workers(n, opts.Jobs)
	parallel := workers > 1

	b := &batch[T]{
		e:       e,
		id:      uuid.NewString(),
		view:    src.View(),
		factory: factory,
		conv:    conv,
		direct:  conv.ThreadSafe(),
	}
	b.detach = func(v T) T { return v }
	if d, ok := conv.(Detacher[T]); ok {
		b.detach = d.Detach
	}
	b.log = e.logger.With(zap.String("batch_id", b.id))

	ctx, span := e.tracer.Start(ctx, "engine.map", trace.WithAttributes(
		attribute.String("talos.batch_id", b.id),
		attribute.Int("talos.elements", n),
		attribute.Int("talos.jobs", workers),
		attribute.Bool("talos.in_place", opts.InPlace),
		attribute.Bool("talos.direct_write", b.direct),
	))
	defer span.End()

	start := time.Now()
	b.transition(StateDispatching)

	var builder *output.Builder
	if opts.InPlace {
		b.sink = src
	} else {
		var err error
		if builder, err = output.New(n); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		b.sink = builder
	}

	var err error
	if parallel {
		b.transition(StateParallelRun)
		err = b.runParallel(ctx, iteration.Ranges(n, workers))
	} else {
		b.transition(StateSequentialRun)
		err = b.runSequential(ctx, n)
	}

	var list *host.List
	if err == nil {
		if opts.InPlace {
			list = src
		} else {
			list, err = builder.Finish()
		}
	}
	b.transition(StateDone)

	elapsed := time.Since(start)
	e.metrics.recordBatch(parallel, n, elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.log.Warn("batch failed",
			zap.Int("elements", n),
			zap.Int("jobs", workers),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	b.log.Debug("batch completed",
		zap.Int("elements", n),
		zap.Int("jobs", workers),
		zap.Bool("direct_write", b.direct),
		zap.Duration("duration", elapsed),
	)
	return list, nil
}

func (b *batch[T]) transition(s State) {
	b.log.Debug("batch state", zap.Stringer("state", s))
}

// runSequential processes every element on the calling goroutine with a
// single arena. Conversions that need the exclusivity lock take it per
// element.
func (b *batch[T]) runSequential(ctx context.Context, n int) (err error) {
	mgr := arena.NewManager(b.e.config.Arena)
	defer func() { b.e.metrics.recordArena(mgr.Stats()) }()

	index := -1
	defer func() {
		if r := recover(); r != nil {
			err = b.classify(r, 0, index, debug.Stack())
			if se, ok := err.(*sdkerrors.Error); ok && se.Code == sdkerrors.CodePrecondition {
				panic(se)
			}
		}
	}()

	transform := b.factory()
	for index = 0; index < n; index++ {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		v := transform(b.view.Text(index).Decode(mgr))
		b.sink.SetTransfer(index, b.convert(v))
		mgr.Tick()
	}
	return nil
}

func (b *batch[T]) convert(v T) host.Object {
	if b.direct {
		return b.conv.Convert(v, nil)
	}
	g := host.Acquire()
	defer g.Release()
	return b.conv.Convert(v, g)
}

// runParallel gives each worker one range and one arena. Thread-safe
// outputs are written by the workers; everything else is queued to the
// coordinator, which converts under the exclusivity lock.
func (b *batch[T]) runParallel(ctx context.Context, ranges []iteration.Range) error {
	ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	var results chan result[T]
	if !b.direct {
		results = make(chan result[T], b.view.Len())
	}

	var wg sync.WaitGroup
	for w, r := range ranges {
		wg.Add(1)
		go func(w int, r iteration.Range) {
			defer wg.Done()
			b.worker(ctx, w, r, results)
		}(w, r)
	}

	if results != nil {
		go func() {
			wg.Wait()
			close(results)
		}()
		b.drain(results)
	}
	wg.Wait()

	if b.fault != nil {
		if p, ok := b.fault.(*sdkerrors.Error); ok && p.Code == sdkerrors.CodePrecondition {
			panic(p)
		}
		return b.fault.(error)
	}
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	return nil
}

func (b *batch[T]) worker(ctx context.Context, w int, r iteration.Range, results chan<- result[T]) {
	mgr := arena.NewManager(b.e.config.Arena)
	defer func() { b.e.metrics.recordArena(mgr.Stats()) }()

	index := r.Start
	defer func() {
		if rec := recover(); rec != nil {
			b.setFault(b.classify(rec, w, index, debug.Stack()))
		}
	}()

	transform := b.factory()
	for ; index < r.End; index++ {
		if ctx.Err() != nil {
			return
		}
		v := transform(b.view.Text(index).Decode(mgr))
		if b.direct {
			b.sink.SetTransfer(index, b.conv.Convert(v, nil))
		} else {
			results <- result[T]{index: index, value: b.detach(v)}
		}
		mgr.Tick()
	}
}

// drain converts queued results until the channel closes. It blocks for one
// result, then takes the lock and converts whatever else is already queued.
func (b *batch[T]) drain(results <-chan result[T]) {
	b.transition(StateDraining)
	defer func() {
		if rec := recover(); rec != nil {
			b.setFault(b.classify(rec, -1, -1, debug.Stack()))
			for range results {
			}
		}
	}()

	for res := range results {
		b.convertQueued(res, results)
	}
}

func (b *batch[T]) convertQueued(first result[T], results <-chan result[T]) {
	g := host.Acquire()
	defer g.Release()

	b.sink.SetTransfer(first.index, b.conv.Convert(first.value, g))
	for k := 1; k < drainBatch; k++ {
		select {
		case next, ok := <-results:
			if !ok {
				return
			}
			b.sink.SetTransfer(next.index, b.conv.Convert(next.value, g))
		default:
			return
		}
	}
}

func (b *batch[T]) setFault(err error) {
	b.faultOnce.Do(func() {
		b.fault = err
		if b.cancel != nil {
			b.cancel()
		}
	})
}

// classify maps a recovered panic to the error the caller sees. Arena
// exhaustion is out-of-memory; a precondition error is passed through so
// it can be re-raised; anything else is a worker fault.
func (b *batch[T]) classify(rec any, worker, index int, stack []byte) error {
	if err, ok := rec.(error); ok {
		if errors.Is(err, arena.ErrExhausted) {
			return sdkerrors.NewOutOfMemory(fmt.Sprintf("worker %d exhausted its arena at index %d", worker, index), err)
		}
		var se *sdkerrors.Error
		if errors.As(err, &se) && se.Code == sdkerrors.CodePrecondition {
			return se
		}
	}
	b.log.Error("worker panicked",
		zap.Int("worker_id", worker),
		zap.Int("index", index),
		zap.Any("panic", rec),
	)
	return sdkerrors.NewWorkerFault(&sdkerrors.WorkerFault{
		Worker:    worker,
		Index:     index,
		Recovered: rec,
		Stack:     stack,
	})
}

func cancelled(ctx context.Context) error {
	return sdkerrors.NewError(sdkerrors.CodeCancelled, "batch cancelled", ctx.Err())
}
