// Package inmem provides an in-memory Engine implementation for
// local, non-distributed dispatch. It is not durable or replay-safe:
// a process crash loses in-flight runs, recovered only through the
// Checkpoint Store's restart-recovery path.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agenthub/hub/pkg/engine"
	"github.com/agenthub/hub/pkg/run"
	"github.com/agenthub/hub/pkg/telemetry"
)

type eng struct {
	mu       sync.RWMutex
	handler  engine.RunHandler
	statuses map[string]run.Status

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

// Option configures New.
type Option func(*eng)

func WithLogger(l telemetry.Logger) Option   { return func(e *eng) { e.logger = l } }
func WithMetrics(m telemetry.Metrics) Option { return func(e *eng) { e.metrics = m } }
func WithTracer(t telemetry.Tracer) Option   { return func(e *eng) { e.tracer = t } }

// New returns an in-memory engine.Engine suitable for local
// development, tests, and single-process deployments.
func New(opts ...Option) engine.Engine {
	e := &eng{
		statuses: make(map[string]run.Status),
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		tracer:   telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *eng) RegisterRunHandler(handler engine.RunHandler) error {
	if handler == nil {
		return errors.New("engine: handler is nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handler != nil {
		return errors.New("engine: handler already registered")
	}
	e.handler = handler
	return nil
}

type handle struct {
	done   chan struct{}
	result run.Output
	err    error
	cancel context.CancelFunc
}

func (h *handle) Wait(ctx context.Context) (run.Output, error) {
	select {
	case <-ctx.Done():
		return run.Output{}, ctx.Err()
	case <-h.done:
		return h.result, h.err
	}
}

func (h *handle) Cancel(context.Context) error {
	h.cancel()
	return nil
}

type runCtx struct {
	ctx     context.Context
	runID   string
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

func (r *runCtx) Context() context.Context    { return r.ctx }
func (r *runCtx) RunID() string                { return r.runID }
func (r *runCtx) Logger() telemetry.Logger     { return r.logger }
func (r *runCtx) Metrics() telemetry.Metrics   { return r.metrics }
func (r *runCtx) Tracer() telemetry.Tracer     { return r.tracer }

func (e *eng) StartRun(ctx context.Context, req engine.StartRequest) (engine.Handle, error) {
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("engine: no run handler registered")
	}
	if req.RunID == "" {
		return nil, fmt.Errorf("engine: run id is required")
	}

	deadlineCtx, cancel := context.WithDeadline(ctx, req.Deadline)
	if req.Deadline.IsZero() {
		deadlineCtx, cancel = context.WithCancel(ctx)
	}

	e.mu.Lock()
	e.statuses[req.RunID] = run.StatusRunning
	e.mu.Unlock()

	hd := &handle{done: make(chan struct{}), cancel: cancel}
	rc := &runCtx{ctx: deadlineCtx, runID: req.RunID, logger: e.logger, metrics: e.metrics, tracer: e.tracer}

	go func() {
		defer close(hd.done)
		defer cancel()
		out, err := h(rc, req.Input)
		hd.result = out
		hd.err = err

		e.mu.Lock()
		switch {
		case err == nil:
			e.statuses[req.RunID] = run.StatusCompleted
		case errors.Is(err, context.Canceled):
			e.statuses[req.RunID] = run.StatusCancelled
		case errors.Is(err, context.DeadlineExceeded):
			e.statuses[req.RunID] = run.StatusTimeout
		default:
			e.statuses[req.RunID] = run.StatusFailed
		}
		e.mu.Unlock()
	}()

	return hd, nil
}

func (e *eng) QueryStatus(_ context.Context, runID string) (run.Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.statuses[runID]
	if !ok {
		return "", engine.ErrRunNotFound
	}
	return s, nil
}
