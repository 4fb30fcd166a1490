package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/engine"
	"github.com/agenthub/hub/pkg/huberrors"
	"github.com/agenthub/hub/pkg/interrupt"
	"github.com/agenthub/hub/pkg/run"
)

// StepContext is the execution context a handler receives (§4.4 step
// 5): the run snapshot, the resolved agent, callbacks to mutate steps,
// and the means to suspend on an interrupt. Each callback is atomic
// and persisted, and step additions/completions are serialized per
// run (§5 parallelism boundaries).
type StepContext struct {
	ctx context.Context
	ex  *Executor
	rc  engine.RunContext
	r   *run.Run
	a   agent.Agent
}

type stepContextKey struct{}

// Context returns the deadline-bound context handlers must observe at
// every I/O boundary (§5 suspension points). The returned context also
// carries s itself, so a handler can recover it with FromContext to
// call AddStep, Suspend, or CallAgent mid-execution.
func (s *StepContext) Context() context.Context {
	return context.WithValue(s.ctx, stepContextKey{}, s)
}

// FromContext recovers the StepContext a running handler was invoked
// under, if any. Handlers that only need the plain deadline-bound
// context can ignore it; handlers that suspend or call out to another
// agent need it to reach Suspend/CallAgent.
func FromContext(ctx context.Context) (*StepContext, bool) {
	s, ok := ctx.Value(stepContextKey{}).(*StepContext)
	return s, ok
}

// Agent returns the resolved agent record for this run.
func (s *StepContext) Agent() agent.Agent { return s.a }

// AddStep appends a new pending step and returns its id (§4.4 step 5
// callback `add_step`). Step additions are serialized per run to
// preserve the linear step-order invariant (§5, §8).
func (s *StepContext) AddStep(stepType run.StepType, name string, input []byte) string {
	s.ex.mu.Lock()
	defer s.ex.mu.Unlock()
	step := run.Step{
		StepID:    uuid.NewString(),
		Type:      stepType,
		Name:      name,
		Status:    run.StepStatusPending,
		Input:     input,
		CreatedAt: time.Now(),
	}
	s.r.Steps = append(s.r.Steps, step)
	s.r.UpdatedAt = step.CreatedAt
	s.ex.checkpointNow(s.ctx, s.r)
	return step.StepID
}

// StartStep transitions a step to running.
func (s *StepContext) StartStep(stepID string) {
	s.ex.mu.Lock()
	defer s.ex.mu.Unlock()
	now := time.Now()
	for i := range s.r.Steps {
		if s.r.Steps[i].StepID == stepID {
			s.r.Steps[i].Status = run.StepStatusRunning
			s.r.Steps[i].StartedAt = &now
			break
		}
	}
	s.ex.publish(s.ctx, "step:started", s.r)
	s.ex.checkpointNow(s.ctx, s.r)
}

// CompleteStep transitions a step to completed or failed (§4.4 step 5
// callback `complete_step`). A step never returns to an earlier state
// (§5, §8 invariant).
func (s *StepContext) CompleteStep(stepID string, output []byte, stepErr *run.StepError) {
	s.ex.mu.Lock()
	now := time.Now()
	for i := range s.r.Steps {
		if s.r.Steps[i].StepID == stepID {
			if stepErr != nil {
				s.r.Steps[i].Status = run.StepStatusFailed
				s.r.Steps[i].Error = stepErr
			} else {
				s.r.Steps[i].Status = run.StepStatusCompleted
				s.r.Steps[i].Output = output
			}
			s.r.Steps[i].CompletedAt = &now
			break
		}
	}
	s.r.UpdatedAt = now
	snap := *s.r
	s.ex.mu.Unlock()
	s.ex.publish(s.ctx, "step:completed", &snap)
	s.ex.checkpointNow(s.ctx, &snap)
}

// UpdateTokenUsage adds delta to the run's aggregated token usage
// (§4.4 step 5 callback `update_token_usage`).
func (s *StepContext) UpdateTokenUsage(delta run.TokenUsage) {
	s.ex.mu.Lock()
	defer s.ex.mu.Unlock()
	if s.r.Output == nil {
		s.r.Output = &run.Output{}
	}
	s.r.Output.Usage.PromptTokens += delta.PromptTokens
	s.r.Output.Usage.CompletionTokens += delta.CompletionTokens
	s.r.Output.Usage.TotalTokens += delta.TotalTokens
	s.ex.checkpointNow(s.ctx, s.r)
}

// CallAgent hands control to another agent as an agent_call step (§9
// "Open question — agent_call semantics"): the decided default is
// that the child run inherits the parent's remaining deadline rather
// than starting a fresh one, so a chain of agent_call steps can never
// outlive the top-level run's budget. It blocks the calling handler
// until the child run reaches a terminal status, then reports the
// child's outcome as this step's completion.
func (s *StepContext) CallAgent(agentID agent.Ident, agentVer agent.Version, input run.Input) (run.Output, error) {
	stepID := s.AddStep(run.StepAgentCall, string(agentID), nil)
	s.ex.mu.Lock()
	for i := range s.r.Steps {
		if s.r.Steps[i].StepID == stepID {
			s.r.Steps[i].CalledAgent = agentID
		}
	}
	s.ex.mu.Unlock()
	s.StartStep(stepID)

	remaining := s.r.RemainingDeadline(time.Now())
	if remaining <= 0 {
		stepErr := &run.StepError{Code: string(huberrors.CodeRunTimeout), Message: "parent run has no remaining deadline for agent_call"}
		s.CompleteStep(stepID, nil, stepErr)
		return run.Output{}, stepErr
	}

	child, err := s.ex.Submit(s.ctx, SubmitRequest{
		AgentID:          agentID,
		AgentVer:         agentVer,
		Input:            input,
		TimeoutMS:        remaining.Milliseconds(),
		ParentRunID:      s.r.RunID,
		ParentToolCallID: stepID,
	})
	if err != nil {
		stepErr := &run.StepError{Code: string(huberrors.CodeRunExecutionFailed), Message: err.Error()}
		s.CompleteStep(stepID, nil, stepErr)
		return run.Output{}, err
	}

	child, err = s.waitForChild(child.RunID)
	if err != nil {
		stepErr := &run.StepError{Code: string(huberrors.CodeRunExecutionFailed), Message: err.Error()}
		s.CompleteStep(stepID, nil, stepErr)
		return run.Output{}, err
	}

	if !child.Status.Terminal() || child.Status != run.StatusCompleted {
		stepErr := child.Error
		if stepErr == nil {
			stepErr = &run.StepError{Code: string(huberrors.CodeRunExecutionFailed), Message: "agent_call child run did not complete"}
		}
		s.CompleteStep(stepID, nil, stepErr)
		return run.Output{}, stepErr
	}

	var out run.Output
	if child.Output != nil {
		out = *child.Output
	}
	encoded, _ := json.Marshal(out)
	s.CompleteStep(stepID, encoded, nil)
	return out, nil
}

// waitForChild polls the child run until it reaches a terminal status
// or the calling handler's own context is done.
func (s *StepContext) waitForChild(runID string) (run.Run, error) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		r, err := s.ex.GetRun(runID)
		if err != nil {
			return run.Run{}, err
		}
		if r.Status.Terminal() {
			return r, nil
		}
		select {
		case <-s.ctx.Done():
			return run.Run{}, s.ctx.Err()
		case <-ticker.C:
		}
	}
}

// Suspend creates an interrupt, transitions the run to interrupted,
// and blocks until it resolves, expires-and-continues, or
// expires-and-fails (§4.4 step 7, §9 "handler observes a resume signal
// ... and continues from the post-interrupt position"). It returns the
// interrupt's response, nil if it expired under a continue_without
// policy, or a *huberrors.Error carrying CodeInterruptExpired if it
// expired under the fail policy (§4.5 expiry, §8 boundary scenario 4)
// — the caller must propagate that error up as the step's failure so
// driveRun fails the run.
func (s *StepContext) Suspend(spec interrupt.Spec) (*interrupt.Response, error) {
	spec.RunID = s.r.RunID
	spec.ThreadID = s.r.ThreadID
	spec.AgentID = string(s.r.AgentID)

	if _, err := s.ex.deps.Interrupts.Create(s.ctx, spec); err != nil {
		return nil, err
	}

	s.ex.mu.Lock()
	suspendedAt := time.Now()
	s.r.Status = run.StatusInterrupted
	s.r.InterruptedAt = &suspendedAt
	s.r.UpdatedAt = suspendedAt
	s.ex.mu.Unlock()

	// The run's own context is bound to its original deadline, but
	// §4.4 says time spent interrupted does not count against it: a
	// slow-to-resolve interrupt must not time out a run that is
	// legitimately waiting on a human decision. So WaitResume blocks on
	// a context that only observes explicit cancellation of the run,
	// not its deadline firing; how long the suspension itself may last
	// is governed by the interrupt's own ExpiryPolicy/TimeoutMS
	// (pkg/interrupt), not by s.ctx.
	waitCtx, waitCancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.ctx.Done():
			if s.ctx.Err() == context.Canceled {
				waitCancel()
			}
		case <-waitCtx.Done():
		}
	}()

	sig, err := s.ex.deps.Interrupts.WaitResume(waitCtx, s.r.RunID)
	waitCancel()

	s.ex.mu.Lock()
	if s.r.InterruptedAt != nil {
		s.r.InterruptedFor += time.Since(*s.r.InterruptedAt)
		s.r.InterruptedAt = nil
	}
	if err == nil && !sig.ExpiredFailed {
		s.r.Status = run.StatusRunning
	}
	s.r.UpdatedAt = time.Now()
	s.ex.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if sig.ExpiredFailed {
		return nil, huberrors.New(huberrors.CodeInterruptExpired, "interrupt expired under fail policy")
	}
	s.ex.publish(s.ctx, "run:resumed", s.r)
	if sig.ExpiredNull {
		return nil, nil
	}
	return sig.Response, nil
}

// driveRun is the engine.RunHandler the Executor registers with its
// Engine. It performs §4.4 dispatch steps 3 (route), 5 (invoke
// handler), and 8 (terminal transition on handler return). It does not
// stream handler output, and a run driven here never enters the
// streaming status.
func (e *Executor) driveRun(rc engine.RunContext, input run.Input) (run.Output, error) {
	runID := rc.RunID()
	e.mu.RLock()
	r, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return run.Output{}, run.ErrNotFound
	}

	a, err := e.deps.Registry.Get(rc.Context(), agent.Key{AgentID: r.AgentID, Version: r.AgentVersion})
	if err != nil {
		e.transition(rc.Context(), r, run.StatusFailed)
		return run.Output{}, err
	}

	decision, err := e.deps.Router.Route(input, a)
	if err != nil {
		e.transition(rc.Context(), r, run.StatusFailed)
		return run.Output{}, huberrors.NewWithCause(huberrors.CodeRunExecutionFailed, "routing failed", err)
	}

	sc := &StepContext{ctx: rc.Context(), ex: e, rc: rc, r: r, a: a}

	out, stepErr := decision.Handler.Execute(sc.Context(), input, a)
	if stepErr != nil {
		e.mu.Lock()
		r.Error = stepErr
		e.mu.Unlock()
		if sc.Context().Err() == context.DeadlineExceeded {
			e.transition(rc.Context(), r, run.StatusTimeout)
			return run.Output{}, huberrors.New(huberrors.CodeRunTimeout, "run exceeded its deadline")
		}
		if sc.Context().Err() == context.Canceled {
			e.transition(rc.Context(), r, run.StatusCancelled)
			return run.Output{}, huberrors.New(huberrors.CodeRunCancelled, "run was cancelled")
		}
		if stepErr.Code == string(huberrors.CodeInterruptExpired) {
			e.transition(rc.Context(), r, run.StatusFailed)
			return run.Output{}, huberrors.New(huberrors.CodeInterruptExpired, stepErr.Message)
		}
		e.transition(rc.Context(), r, run.StatusFailed)
		return run.Output{}, huberrors.NewWithCause(huberrors.CodeRunExecutionFailed, stepErr.Message, stepErr)
	}

	e.mu.Lock()
	r.Output = &out
	e.mu.Unlock()
	e.transition(rc.Context(), r, run.StatusCompleted)
	return out, nil
}
