package executor

import (
	"context"
	"time"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/engine"
	"github.com/agenthub/hub/pkg/run"
	"github.com/agenthub/hub/pkg/telemetry"
)

// Recover re-enqueues every non-terminal checkpointed run on startup
// (§4.4 "On restart, any non-terminal run with a checkpoint is
// re-enqueued", §8 scenario 6). Resume picks up after the last
// completed step, or retries the last running step from its recorded
// input; terminal runs are skipped.
func (e *Executor) Recover(ctx context.Context) error {
	if e.deps.Checkpoints == nil {
		return nil
	}
	ids, err := e.deps.Checkpoints.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		snap, err := e.deps.Checkpoints.Load(ctx, id)
		if err != nil {
			e.deps.Logger.Warn(ctx, "executor: recover load failed", telemetry.KV{K: "run_id", V: id})
			continue
		}
		plan := snap.Plan()
		if plan.Skip {
			continue
		}

		r := &run.Run{
			RunID:     snap.RunID,
			AgentID:   agent.Ident(snap.AgentID),
			ThreadID:  snap.ThreadID,
			Status:    run.StatusRunning,
			Steps:     snap.Steps,
			Deadline:  time.Now().Add(e.cfg.DefaultTimeout),
			CreatedAt: snap.UpdatedAt,
			UpdatedAt: time.Now(),
		}
		if plan.RetryStepID != "" {
			for i := range r.Steps {
				if r.Steps[i].StepID == plan.RetryStepID {
					r.Steps[i].Status = run.StepStatusPending
					r.Steps[i].StartedAt = nil
				}
			}
		}

		e.mu.Lock()
		e.runs[r.RunID] = r
		e.activeCount[r.AgentID]++
		e.mu.Unlock()

		input := run.Input{ThreadID: r.ThreadID}
		handle, err := e.deps.Engine.StartRun(ctx, engine.StartRequest{RunID: r.RunID, Input: input, Deadline: r.Deadline})
		if err != nil {
			e.deps.Logger.Warn(ctx, "executor: recover start failed", telemetry.KV{K: "run_id", V: r.RunID})
			e.release(r.AgentID)
			continue
		}
		e.mu.Lock()
		e.handles[r.RunID] = handle
		e.mu.Unlock()
		if e.cfg.GraceWindow > 0 {
			go e.enforceGraceWindow(r.RunID, r.Deadline.Add(e.cfg.GraceWindow))
		}
		e.deps.Logger.Info(ctx, "executor: recovered run", telemetry.KV{K: "run_id", V: r.RunID})
	}
	return nil
}
