// Package temporal provides a Temporal-backed Engine for distributed
// mode (§5 "Distributed mode"): a run becomes a Temporal workflow
// execution, Temporal's built-in retry/visibility-timeout mechanics
// satisfy the lease/sweep half of the queue contract, and the client
// connection is shared across N worker processes.
package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/agenthub/hub/pkg/engine"
	"github.com/agenthub/hub/pkg/run"
	"github.com/agenthub/hub/pkg/telemetry"
)

const (
	// WorkflowName is the Temporal workflow type the hub registers
	// its run dispatch loop under.
	WorkflowName = "hub.run.dispatch"
	// ActivityName executes one run to completion inside a Temporal
	// activity, so the run handler's actual I/O (LLM calls, tool
	// calls) happens outside the workflow's replay-sensitive context.
	ActivityName = "hub.run.execute"
)

// Engine is a Temporal-backed engine.Engine.
type Engine struct {
	client         client.Client
	taskQueue      string
	worker         worker.Worker
	handler        engine.RunHandler
	logger         telemetry.Logger
	disableTracing bool
}

// Config configures a Temporal Engine.
type Config struct {
	Client    client.Client
	TaskQueue string
	Logger    telemetry.Logger
	// DisableTracing skips the OpenTelemetry tracing interceptor
	// registered on the worker by default, for deployments that wire
	// spans some other way.
	DisableTracing bool
}

// New builds a Temporal-backed Engine bound to cfg.Client.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	return &Engine{client: cfg.Client, taskQueue: cfg.TaskQueue, logger: cfg.Logger, disableTracing: cfg.DisableTracing}
}

// RegisterRunHandler registers handler as the activity the dispatch
// workflow invokes, and starts the underlying Temporal worker.
func (e *Engine) RegisterRunHandler(handler engine.RunHandler) error {
	if handler == nil {
		return fmt.Errorf("temporal engine: handler is nil")
	}
	e.handler = handler
	opts := worker.Options{}
	if !e.disableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
		}
		opts.Interceptors = append(opts.Interceptors, tracer)
	}
	w := worker.New(e.client, e.taskQueue, opts)
	w.RegisterWorkflowWithOptions(runDispatchWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(e.executeRunActivity, activity.RegisterOptions{Name: ActivityName})
	e.worker = w
	return w.Start()
}

// StartRun starts req as a new Temporal workflow execution keyed by
// RunID, matching §5's "at-least-once work queue keyed by run_id".
func (e *Engine) StartRun(ctx context.Context, req engine.StartRequest) (engine.Handle, error) {
	opts := client.StartWorkflowOptions{
		ID:                       req.RunID,
		TaskQueue:                e.taskQueue,
		WorkflowExecutionTimeout: timeUntil(req.Deadline),
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, WorkflowName, dispatchInput{Input: req.Input})
	if err != nil {
		return nil, fmt.Errorf("temporal engine: start workflow: %w", err)
	}
	return &handle{client: e.client, run: run}, nil
}

// QueryStatus maps a Temporal workflow execution's status onto
// run.Status.
func (e *Engine) QueryStatus(ctx context.Context, runID string) (run.Status, error) {
	desc, err := e.client.DescribeWorkflowExecution(ctx, runID, "")
	if err != nil {
		return "", fmt.Errorf("temporal engine: describe: %w", err)
	}
	return statusFromTemporal(desc.WorkflowExecutionInfo.GetStatus()), nil
}
