// Package engine abstracts the Run Executor's dispatch loop over a
// pluggable backend: an in-memory goroutine-per-run engine for local
// mode, or a Temporal-backed engine for distributed mode (§5
// "Distributed mode").
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/agenthub/hub/pkg/run"
	"github.com/agenthub/hub/pkg/telemetry"
)

// ErrRunNotFound is returned by QueryStatus for an unknown run id.
var ErrRunNotFound = errors.New("engine: run not found")

// RunHandler drives one run to completion. It is supplied by the Run
// Executor and registered once per Engine; the engine is responsible
// for invoking it with a RunContext bound to the concrete backend.
type RunHandler func(ctx RunContext, input run.Input) (run.Output, error)

// RunContext is the execution context a RunHandler observes. It
// exposes the deadline-bound context.Context handlers must poll at
// every suspension point (§5).
type RunContext interface {
	Context() context.Context
	RunID() string
	Logger() telemetry.Logger
	Metrics() telemetry.Metrics
	Tracer() telemetry.Tracer
}

// StartRequest starts a new run under the engine.
type StartRequest struct {
	RunID    string
	Input    run.Input
	Deadline time.Time
}

// Handle is a live or completed run started through an Engine.
type Handle interface {
	Wait(ctx context.Context) (run.Output, error)
	Cancel(ctx context.Context) error
}

// Engine drives runs to completion, local or distributed.
type Engine interface {
	RegisterRunHandler(handler RunHandler) error
	StartRun(ctx context.Context, req StartRequest) (Handle, error)
	QueryStatus(ctx context.Context, runID string) (run.Status, error)
}
