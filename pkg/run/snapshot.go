package run

import "time"

// Snapshot is the durable state the Run Executor writes to the
// Checkpoint Store each time Executor.transition changes the run's
// status, and whenever a step or the token usage changes (§4.4
// checkpointing). No snapshot is
// written on a timer: the executor's CheckpointInterval setting does
// not affect when snapshots are written. It is intentionally a flattened
// projection of Run rather than the struct itself, so the on-disk
// shape is stable even as Run gains fields.
type Snapshot struct {
	RunID          string
	AgentID        string
	ThreadID       string
	Status         Status
	Steps          []Step
	CurrentHandler string
	TokenUsage     TokenUsage
	ThreadCursor   string
	UpdatedAt      time.Time
}

// NewSnapshot projects r into its durable Snapshot form.
func NewSnapshot(r *Run, currentHandler, threadCursor string) Snapshot {
	steps := make([]Step, len(r.Steps))
	copy(steps, r.Steps)
	usage := TokenUsage{}
	if r.Output != nil {
		usage = r.Output.Usage
	}
	return Snapshot{
		RunID:          r.RunID,
		AgentID:        string(r.AgentID),
		ThreadID:       r.ThreadID,
		Status:         r.Status,
		Steps:          steps,
		CurrentHandler: currentHandler,
		TokenUsage:     usage,
		ThreadCursor:   threadCursor,
		UpdatedAt:      r.UpdatedAt,
	}
}

// ResumePlan describes how the executor should pick up a run from its
// last checkpoint (§4.4 restart recovery).
type ResumePlan struct {
	// Skip is true when the run is already terminal and restart
	// recovery must leave it alone.
	Skip bool
	// ResumeAfterStepID is the id of the last completed step; the
	// executor resumes dispatch immediately after it.
	ResumeAfterStepID string
	// RetryStepID is set instead of ResumeAfterStepID when the last
	// step was left `running` by the crash; it is retried from its
	// recorded input.
	RetryStepID string
}

// Plan computes the ResumePlan for a checkpointed snapshot, per §4.4:
// "if the handler is idempotent or if the last step was completed,
// resume picks up after the last completed step; otherwise the last
// running step is retried from its input. Resume skips
// completed/failed/cancelled/timeout runs."
func (s Snapshot) Plan() ResumePlan {
	if s.Status.Terminal() {
		return ResumePlan{Skip: true}
	}
	var lastCompleted, lastRunning string
	for _, step := range s.Steps {
		switch step.Status {
		case StepStatusCompleted:
			lastCompleted = step.StepID
		case StepStatusRunning:
			lastRunning = step.StepID
		}
	}
	if lastRunning != "" {
		return ResumePlan{RetryStepID: lastRunning}
	}
	return ResumePlan{ResumeAfterStepID: lastCompleted}
}
