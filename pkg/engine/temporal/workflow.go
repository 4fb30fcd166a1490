package temporal

import (
	"context"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/workflow"

	"github.com/agenthub/hub/pkg/run"
	"github.com/agenthub/hub/pkg/telemetry"
)

// dispatchInput is the workflow's input envelope.
type dispatchInput struct {
	Input run.Input
}

// runDispatchWorkflow is the Temporal workflow registered as
// WorkflowName. It delegates the actual run execution to an activity
// so replay never re-runs real I/O, then returns the activity's
// output as the workflow result.
func runDispatchWorkflow(ctx workflow.Context, in dispatchInput) (run.Output, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out run.Output
	err := workflow.ExecuteActivity(ctx, ActivityName, in.Input).Get(ctx, &out)
	return out, err
}

// executeRunActivity is the Temporal activity that invokes the
// engine's registered RunHandler. It adapts the activity's
// context.Context into the engine.RunContext handlers expect.
func (e *Engine) executeRunActivity(ctx context.Context, input run.Input) (run.Output, error) {
	runID := activity.GetInfo(ctx).WorkflowExecution.ID
	rc := &activityRunContext{ctx: ctx, runID: runID, logger: e.logger}
	return e.handler(rc, input)
}

type activityRunContext struct {
	ctx    context.Context
	runID  string
	logger telemetry.Logger
}

func (r *activityRunContext) Context() context.Context  { return r.ctx }
func (r *activityRunContext) RunID() string              { return r.runID }
func (r *activityRunContext) Logger() telemetry.Logger    { return r.logger }
func (r *activityRunContext) Metrics() telemetry.Metrics  { return telemetry.NewNoopMetrics() }
func (r *activityRunContext) Tracer() telemetry.Tracer    { return telemetry.NewNoopTracer() }

func timeUntil(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}

func statusFromTemporal(s enumspb.WorkflowExecutionStatus) run.Status {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return run.StatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return run.StatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return run.StatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return run.StatusCancelled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return run.StatusTimeout
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return run.StatusCancelled
	default:
		return run.StatusRunning
	}
}

type handle struct {
	client client.Client
	run    client.WorkflowRun
}

func (h *handle) Wait(ctx context.Context) (run.Output, error) {
	var out run.Output
	err := h.run.Get(ctx, &out)
	return out, err
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
