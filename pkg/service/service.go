// Package service exposes the bulk operations as a NATS request/reply
// service. A request names an operation and its items; the reply carries
// the results, or a blob storage reference when it is too large to send.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/bulk"
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/iteration"
	"github.com/wehubfusion/Talos/pkg/storage"
)

// Stats counts handled requests.
type Stats struct {
	Handled   int64
	Failed    int64
	Offloaded int64
}

// Service answers batch requests.
type Service struct {
	runner    *bulk.Runner
	config    Config
	offloader *storage.Offloader
	logger    *zap.Logger
	tracer    trace.Tracer
	iterator  *iteration.Iterator

	mu       sync.Mutex
	sub      Subscription
	cancel   context.CancelFunc
	inFlight chan struct{}

	// admit guards closing and the wg.Add of every admitted request, so no
	// request is added once Stop has given up on the drain.
	admit   sync.Mutex
	closing bool
	wg      sync.WaitGroup

	handled   atomic.Int64
	failed    atomic.Int64
	offloaded atomic.Int64

	reportFault func(requestID string, err error)
}

// New creates a service. store may be nil, in which case large replies are
// sent inline.
func New(runner *bulk.Runner, config Config, store storage.BlobStore, logger *zap.Logger) (*Service, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		runner:    runner,
		config:    config,
		offloader: storage.NewOffloader(store, config.InlineLimit, logger),
		logger:    logger,
		tracer:    otel.Tracer("talos/service"),
		iterator: iteration.NewIterator(iteration.Config{
			Strategy:      iteration.StrategyParallel,
			MaxConcurrent: config.TaskConcurrency,
		}),
		inFlight: make(chan struct{}, config.MaxInFlight),
	}, nil
}

// SetFaultReporter registers fn to receive worker faults, allocation
// failures and internal errors. Request validation errors are not reported.
func (s *Service) SetFaultReporter(fn func(requestID string, err error)) {
	s.reportFault = fn
}

func (s *Service) report(requestID string, err error) {
	if s.reportFault == nil || err == nil {
		return
	}
	switch sdkerrors.Code(err) {
	case sdkerrors.CodeWorkerFault, sdkerrors.CodeOutOfMemory, sdkerrors.CodeInternal, sdkerrors.CodeOffload, "":
		s.reportFault(requestID, err)
	}
}

// Stats returns request counters.
func (s *Service) Stats() Stats {
	return Stats{
		Handled:   s.handled.Load(),
		Failed:    s.failed.Load(),
		Offloaded: s.offloaded.Load(),
	}
}

// drainPoll is how often Stop checks whether the subscription has drained.
const drainPoll = 10 * time.Millisecond

// Start subscribes to the configured subject. Requests are handled
// concurrently up to MaxInFlight. They carry ctx's values but not its
// cancellation; Stop decides when in-flight work is cancelled.
func (s *Service) Start(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return fmt.Errorf("service already started")
	}

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.admit.Lock()
	s.closing = false
	s.admit.Unlock()

	handler := Chain(RecoveryMiddleware(s.logger), LoggingMiddleware(s.logger))(s.serve)
	sub, err := conn.QueueSubscribe(s.config.Subject, s.config.Queue, func(msg *Msg) {
		if !s.admitRequest() {
			s.respondError(msg, "", sdkerrors.NewUnavailable("service is shutting down", nil))
			return
		}
		s.inFlight <- struct{}{}
		go func() {
			defer func() {
				<-s.inFlight
				s.wg.Done()
			}()
			if err := handler(base, msg); err != nil {
				s.failed.Add(1)
				s.respondError(msg, "", err)
			}
		}()
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", s.config.Subject, err)
	}
	s.sub, s.cancel = sub, cancel
	s.logger.Info("Batch service started",
		zap.String("subject", s.config.Subject),
		zap.String("queue", s.config.Queue),
		zap.Int("max_in_flight", s.config.MaxInFlight))
	return nil
}

func (s *Service) admitRequest() bool {
	s.admit.Lock()
	defer s.admit.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// refuse stops admitting requests. Admissions that won the race are
// already counted in wg.
func (s *Service) refuse() {
	s.admit.Lock()
	s.closing = true
	s.admit.Unlock()
}

// Stop drains the subscription and waits for queued and in-flight requests
// to be answered. Requests still running after DrainTimeout are cancelled
// and answered with CANCELLED.
func (s *Service) Stop() error {
	s.mu.Lock()
	sub, cancel := s.sub, s.cancel
	s.sub, s.cancel = nil, nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	defer cancel()

	var deadline <-chan time.Time
	if s.config.DrainTimeout > 0 {
		timer := time.NewTimer(s.config.DrainTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	// Drain returns before the queued messages are delivered
	err := sub.Drain()
	if err == nil && !waitDrained(sub, deadline) {
		s.logger.Warn("Subscription did not drain before the deadline")
		cancel()
		deadline = nil
	}
	s.refuse()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-deadline:
		s.logger.Warn("Drain timeout reached, cancelling in-flight requests",
			zap.Duration("drain_timeout", s.config.DrainTimeout))
		cancel()
		<-done
	}

	s.logger.Info("Batch service stopped",
		zap.Int64("handled", s.handled.Load()),
		zap.Int64("failed", s.failed.Load()))
	return err
}

func waitDrained(sub Subscription, deadline <-chan time.Time) bool {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for sub.IsValid() {
		select {
		case <-ticker.C:
		case <-deadline:
			return false
		}
	}
	return true
}

func (s *Service) serve(ctx context.Context, msg *Msg) error {
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
	}
	return msg.Respond(s.Handle(ctx, msg.Data))
}

// Handle decodes a request, runs it and encodes the reply. Replies above
// the inline limit are offloaded and replaced by a reference.
func (s *Service) Handle(ctx context.Context, data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.failed.Add(1)
		return s.encode(&Reply{
			ID:    uuid.NewString(),
			Error: newErrorBody(sdkerrors.NewError(sdkerrors.CodeInvalidRequest, "malformed request", err)),
		})
	}

	reply := s.Process(ctx, &req)
	out := s.encode(reply)

	// request ids come from clients; the blob name never does
	ref, err := s.offloader.Offload(ctx, uuid.NewString(), out, map[string]string{"request_id": reply.ID})
	if err != nil {
		err = sdkerrors.NewOffload(err)
		s.failed.Add(1)
		s.report(reply.ID, err)
		return s.encode(&Reply{ID: reply.ID, Error: newErrorBody(err), DurationMS: reply.DurationMS})
	}
	if ref != nil {
		s.offloaded.Add(1)
		return s.encode(&Reply{ID: reply.ID, Blob: ref, DurationMS: reply.DurationMS})
	}
	return out
}

// Process runs a decoded request. Errors are reported in the reply.
func (s *Service) Process(ctx context.Context, req *Request) *Reply {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	reply := &Reply{ID: req.ID}
	defer func() {
		reply.DurationMS = time.Since(start).Milliseconds()
		s.handled.Add(1)
		if reply.Error != nil {
			s.failed.Add(1)
		}
	}()

	ctx, span := s.tracer.Start(ctx, "service.batch", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.op", string(req.Op)),
		attribute.Int("request.tasks", len(req.Tasks)),
	))
	defer span.End()

	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	if err := req.Validate(s.config); err != nil {
		reply.Error = newErrorBody(err)
		span.SetStatus(codes.Error, err.Error())
		return reply
	}

	if len(req.Tasks) == 0 {
		results, err := s.runTask(ctx, &req.Task)
		if err != nil {
			s.report(req.ID, err)
			reply.Error = newErrorBody(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return reply
		}
		reply.Results = results
		return reply
	}

	tasks, err := iteration.Process(ctx, s.iterator, req.Tasks, func(ctx context.Context, t Task, _ int) (TaskReply, error) {
		results, err := s.runTask(ctx, &t)
		if err != nil {
			s.report(req.ID, err)
			return TaskReply{Error: newErrorBody(err)}, nil
		}
		return TaskReply{Results: results}, nil
	})
	if err != nil {
		reply.Error = newErrorBody(sdkerrors.NewError(sdkerrors.CodeCancelled, "request cancelled", err))
		span.SetStatus(codes.Error, err.Error())
		return reply
	}
	reply.Tasks = tasks
	return reply
}

func (s *Service) runTask(ctx context.Context, t *Task) (results []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if se, ok := r.(*sdkerrors.Error); ok {
				err = se
				return
			}
			s.logger.Error("Task panicked", zap.String("op", string(t.Op)), zap.Any("panic", r))
			err = sdkerrors.NewError(sdkerrors.CodeInternal, fmt.Sprintf("task panicked: %v", r), nil)
		}
	}()
	out, err := Execute(ctx, s.runner, t)
	if err != nil {
		return nil, err
	}
	return toResults(out), nil
}

func (s *Service) respondError(msg *Msg, id string, err error) {
	if id == "" {
		id = uuid.NewString()
	}
	if rerr := msg.Respond(s.encode(&Reply{ID: id, Error: newErrorBody(err)})); rerr != nil {
		s.logger.Warn("Failed to send error reply", zap.Error(rerr))
	}
}

func (s *Service) encode(reply *Reply) []byte {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("Failed to encode reply", zap.String("request_id", reply.ID), zap.Error(err))
		data, _ = json.Marshal(&Reply{
			ID:    reply.ID,
			Error: &ErrorBody{Code: sdkerrors.CodeInternal, Message: "failed to encode reply"},
		})
	}
	return data
}
