// Package executor implements the Run Executor: the per-run state
// machine that schedules steps, checkpoints partial progress, streams
// output, enforces timeouts, honors cancellation, and recovers queued
// work across restarts (§2, §4.4).
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/bus"
	"github.com/agenthub/hub/pkg/checkpoint"
	"github.com/agenthub/hub/pkg/engine"
	"github.com/agenthub/hub/pkg/handlers"
	"github.com/agenthub/hub/pkg/huberrors"
	"github.com/agenthub/hub/pkg/interrupt"
	"github.com/agenthub/hub/pkg/registry"
	"github.com/agenthub/hub/pkg/run"
	"github.com/agenthub/hub/pkg/telemetry"
	"github.com/agenthub/hub/pkg/thread"
)

// Config tunes the executor (§4.4, §6 environment tunables).
type Config struct {
	PoolSize           int
	CheckpointInterval time.Duration
	DefaultTimeout     time.Duration
	MaxTimeout         time.Duration
	GraceWindow        time.Duration
}

// DefaultConfig matches the defaults named in §4.4.
func DefaultConfig() Config {
	return Config{
		PoolSize:           8,
		CheckpointInterval: 10 * time.Second,
		DefaultTimeout:     60 * time.Second,
		MaxTimeout:         10 * time.Minute,
		GraceWindow:        5 * time.Second,
	}
}

// Deps wires the executor to its collaborating components.
type Deps struct {
	Registry    *registry.Registry
	Threads     thread.Store
	Router      *handlers.Router
	Checkpoints checkpoint.Store
	Interrupts  *interrupt.Subsystem
	Engine      engine.Engine
	Bus         *bus.Bus
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
}

// Executor is the Run Executor component.
type Executor struct {
	deps Deps
	cfg  Config

	mu          sync.RWMutex
	runs        map[string]*run.Run
	handles     map[string]engine.Handle
	activeCount map[agent.Ident]int
}

// New constructs an Executor and registers its run handler with the
// underlying Engine.
func New(deps Deps, cfg Config) (*Executor, error) {
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewNoopMetrics()
	}
	if cfg.CheckpointInterval == 0 {
		cfg = DefaultConfig()
	}
	e := &Executor{
		deps:        deps,
		cfg:         cfg,
		runs:        make(map[string]*run.Run),
		handles:     make(map[string]engine.Handle),
		activeCount: make(map[agent.Ident]int),
	}
	if err := deps.Engine.RegisterRunHandler(e.driveRun); err != nil {
		return nil, fmt.Errorf("executor: register run handler: %w", err)
	}
	return e, nil
}

// ActiveRuns implements registry.ActiveRunCounter.
func (e *Executor) ActiveRuns(agentID agent.Ident) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeCount[agentID]
}

// SubmitRequest is what Submit accepts.
type SubmitRequest struct {
	AgentID   agent.Ident
	AgentVer  agent.Version
	Input     run.Input
	TimeoutMS int64
	// ParentRunID and ParentToolCallID link a run spawned by an
	// agent_call step back to its parent (§9 "agent_call semantics").
	ParentRunID      string
	ParentToolCallID string
}

// Submit runs the §4.4 dispatch algorithm steps 1-4 synchronously
// (validate, materialize thread context, route, transition to
// running) and hands the run to the Engine; the remainder (invoke
// handler, stream, checkpoint, terminate) runs asynchronously and is
// observed via GetRun/Cancel or the Event Bus.
func (e *Executor) Submit(ctx context.Context, req SubmitRequest) (run.Run, error) {
	// Step 1: validate.
	a, err := e.deps.Registry.CheckDispatchable(ctx, req.AgentID, req.AgentVer)
	if err != nil {
		return run.Run{}, err
	}
	if req.Input.ThreadID != "" {
		t, err := e.deps.Threads.Get(ctx, req.Input.ThreadID)
		if err != nil {
			return run.Run{}, huberrors.NewWithCause(huberrors.CodeThreadNotFound, "thread not found", err)
		}
		if t.Status != thread.StatusActive {
			return run.Run{}, huberrors.New(huberrors.CodeThreadClosed, "thread is not active")
		}
		// Step 2: materialize run messages from thread context if empty.
		if len(req.Input.Messages) == 0 {
			win, err := e.deps.Threads.GetContext(ctx, req.Input.ThreadID, thread.ContextBudget{Strategy: thread.StrategyRecent, MaxTokens: a.Capabilities.MaxContextTokens})
			if err != nil {
				return run.Run{}, huberrors.NewWithCause(huberrors.CodeRunExecutionFailed, "get_context failed", err)
			}
			for _, m := range win.Messages {
				req.Input.Messages = append(req.Input.Messages, run.Message{Role: string(m.Role), Content: m.Content})
			}
		}
	}

	// Step 3: route. Routing itself happens lazily inside driveRun so
	// the handler's actual execution, including any suspension, runs
	// under the engine. We fail fast here so a run with no matching
	// handler never enters `running`.
	if _, err := e.deps.Router.Route(req.Input, a); err != nil {
		return run.Run{}, huberrors.NewWithCause(huberrors.CodeRunExecutionFailed, "no matching handler", err)
	}

	timeoutMS := req.TimeoutMS
	if timeoutMS == 0 || timeoutMS > a.Extensions.DefaultTimeoutMS && a.Extensions.DefaultTimeoutMS > 0 {
		if a.Extensions.DefaultTimeoutMS > 0 {
			timeoutMS = a.Extensions.DefaultTimeoutMS
		}
	}
	timeout := e.cfg.DefaultTimeout
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	if timeout > e.cfg.MaxTimeout {
		timeout = e.cfg.MaxTimeout
	}

	now := time.Now()
	r := &run.Run{
		RunID:            uuid.NewString(),
		AgentID:          a.AgentID,
		AgentVersion:     a.Version,
		ThreadID:         req.Input.ThreadID,
		ParentRunID:      req.ParentRunID,
		ParentToolCallID: req.ParentToolCallID,
		Status:           run.StatusPending,
		Input:            req.Input,
		Deadline:         now.Add(timeout),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	e.mu.Lock()
	e.runs[r.RunID] = r
	e.activeCount[a.AgentID]++
	e.mu.Unlock()

	e.transition(ctx, r, run.StatusRunning)

	handle, err := e.deps.Engine.StartRun(ctx, engine.StartRequest{RunID: r.RunID, Input: req.Input, Deadline: r.Deadline})
	if err != nil {
		e.transition(ctx, r, run.StatusFailed)
		e.release(a.AgentID)
		return run.Run{}, huberrors.NewWithCause(huberrors.CodeRunExecutionFailed, "start run failed", err)
	}
	e.mu.Lock()
	e.handles[r.RunID] = handle
	e.mu.Unlock()

	if e.cfg.GraceWindow > 0 {
		go e.enforceGraceWindow(r.RunID, r.Deadline.Add(e.cfg.GraceWindow))
	}

	return *r, nil
}

// enforceGraceWindow force-terminates runID as timeout if its handler
// hasn't returned by forceAt (§4.4: "force-terminate as timeout if the
// handler doesn't return within the grace window after the deadline
// fires", §8 boundary scenario 2). It is a backstop for handlers that
// don't honor ctx.Done() at their own I/O boundaries; the engine-level
// handle is also cancelled, though a handler that ignores its context
// may keep running in the background regardless.
func (e *Executor) enforceGraceWindow(runID string, forceAt time.Time) {
	timer := time.NewTimer(time.Until(forceAt))
	defer timer.Stop()
	<-timer.C

	e.mu.RLock()
	r, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok || r.Status.Terminal() {
		return
	}
	if r.Status == run.StatusInterrupted {
		// Suspended runs are exempt: §4.4 "time spent interrupted does
		// not count against the deadline". The interrupt's own
		// ExpiryPolicy/TimeoutMS (pkg/interrupt) bounds how long it
		// waits, not this run's original deadline.
		return
	}

	ctx := context.Background()
	e.deps.Logger.Warn(ctx, "executor: handler exceeded grace window, forcing timeout", telemetry.KV{K: "run_id", V: runID})
	e.transition(ctx, r, run.StatusTimeout)

	e.mu.RLock()
	handle := e.handles[runID]
	e.mu.RUnlock()
	if handle != nil {
		if err := handle.Cancel(ctx); err != nil {
			e.deps.Logger.Warn(ctx, "executor: grace window cancel failed", telemetry.KV{K: "run_id", V: runID}, telemetry.KV{K: "error", V: err.Error()})
		}
	}
}

// GetRun returns the current state of runID.
func (e *Executor) GetRun(runID string) (run.Run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	if !ok {
		return run.Run{}, run.ErrNotFound
	}
	return *r, nil
}

// Cancel transitions runID to cancelled (§4.4 cancellation): it is
// idempotent, and cancelling a terminal run is a no-op returning the
// current state.
func (e *Executor) Cancel(ctx context.Context, runID, reason string) (run.Run, error) {
	e.mu.Lock()
	r, ok := e.runs[runID]
	if !ok {
		e.mu.Unlock()
		return run.Run{}, run.ErrNotFound
	}
	if r.Status.Terminal() {
		result := *r
		e.mu.Unlock()
		return result, nil
	}
	handle := e.handles[runID]
	e.mu.Unlock()

	if err := e.deps.Interrupts.CancelByRun(ctx, runID); err != nil {
		e.deps.Logger.Warn(ctx, "executor: cancel owning interrupt failed", telemetry.KV{K: "run_id", V: runID})
	}
	if handle != nil {
		if err := handle.Cancel(ctx); err != nil {
			e.deps.Logger.Warn(ctx, "executor: engine cancel failed", telemetry.KV{K: "run_id", V: runID}, telemetry.KV{K: "error", V: err.Error()})
		}
	}

	e.mu.Lock()
	r.Status = run.StatusCancelled
	r.UpdatedAt = time.Now()
	delete(e.handles, runID)
	result := *r
	e.mu.Unlock()

	e.publish(ctx, "run:cancelled", &result)
	e.checkpointNow(ctx, &result)
	e.release(r.AgentID)
	return result, nil
}

func (e *Executor) release(agentID agent.Ident) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeCount[agentID] > 0 {
		e.activeCount[agentID]--
	}
}

// transition applies a status change, persists, and publishes the
// matching event (§4.4 step 9: "Terminal transitions publish the
// matching event and release the agent's concurrency slot"). It is a
// no-op if r is already terminal, so a racing forced timeout and a
// handler's own completion can never both apply.
func (e *Executor) transition(ctx context.Context, r *run.Run, next run.Status) {
	e.mu.Lock()
	if r.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	r.Status = next
	r.UpdatedAt = time.Now()
	snapshot := *r
	e.mu.Unlock()

	eventName := "run:" + string(next)
	e.publish(ctx, eventName, &snapshot)
	e.checkpointNow(ctx, &snapshot)
	if next.Terminal() {
		e.release(r.AgentID)
		e.mu.Lock()
		delete(e.handles, r.RunID)
		e.mu.Unlock()
	}
}

func (e *Executor) publish(ctx context.Context, eventType string, r *run.Run) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Publish(ctx, bus.Event{
		Type:      bus.EventType(eventType),
		RunID:     r.RunID,
		AgentID:   string(r.AgentID),
		ThreadID:  r.ThreadID,
		Timestamp: time.Now().UnixNano(),
		Payload:   *r,
	})
}

func (e *Executor) checkpointNow(ctx context.Context, r *run.Run) {
	if e.deps.Checkpoints == nil {
		return
	}
	snap := run.NewSnapshot(r, "", r.ThreadID)
	if err := e.deps.Checkpoints.Save(ctx, snap); err != nil {
		e.deps.Logger.Warn(ctx, "executor: checkpoint failed", telemetry.KV{K: "run_id", V: r.RunID}, telemetry.KV{K: "error", V: err.Error()})
	}
}
