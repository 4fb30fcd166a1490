// Package run defines the Run and Step data model owned exclusively by
// the Run Executor (§3, §4.4), plus the Snapshot/ResumePlan shapes used for
// checkpointing and restart recovery.
package run

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/agenthub/hub/pkg/agent"
)

// Status is the run's lifecycle status (§4.4 state machine).
type Status string

const (
	StatusPending     Status = "pending"
	StatusQueued      Status = "queued"
	StatusRunning     Status = "running"
	StatusStreaming   Status = "streaming"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusTimeout     Status = "timeout"
)

// Terminal reports whether s is one of the run's terminal statuses. A
// terminal status is never overwritten (§8 invariant).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// transitions enumerates the state machine edges in §4.4, keyed by the
// current status.
var transitions = map[Status][]Status{
	StatusPending:     {StatusQueued, StatusRunning},
	StatusQueued:      {StatusRunning},
	StatusRunning:     {StatusStreaming, StatusInterrupted, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout},
	StatusStreaming:   {StatusInterrupted, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout},
	StatusInterrupted: {StatusRunning, StatusCancelled},
}

// CanTransition reports whether moving from s to next is legal.
func CanTransition(s, next Status) bool {
	if s.Terminal() {
		return false
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ErrNotFound is returned by the Run Executor for a run id it does not hold.
var ErrNotFound = errors.New("run not found")

// ErrIllegalTransition names a transition not present in the §4.4
// state machine. No function in this module returns it; CanTransition
// is the check for such a transition.
var ErrIllegalTransition = errors.New("illegal run status transition")

// StepType is the kind of work a Step performs (§3).
type StepType string

const (
	StepLLMCall           StepType = "llm_call"
	StepToolCall          StepType = "tool_call"
	StepAgentCall         StepType = "agent_call"
	StepDecision          StepType = "decision"
	StepSkillExecution    StepType = "skill_execution"
	StepKnowledgeQuery    StepType = "knowledge_query"
	StepParallelExecution StepType = "parallel_execution"
)

// StepStatus is a step's lifecycle status. It only ever moves forward:
// pending -> running -> {completed, failed}, never back (§5 ordering
// guarantees).
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// ParallelPolicy governs how a parallel_execution step's children
// failures affect the parent, resolving the §9 open question.
type ParallelPolicy string

const (
	// ParallelStrict fails the parent, once every child has finished,
	// if any child failed.
	ParallelStrict ParallelPolicy = "strict"
	// ParallelLenient completes the parent even when children fail.
	// Each failed child keeps its own failed step; the parent step's
	// Output stays empty.
	ParallelLenient ParallelPolicy = "lenient"
)

// Step is one atomic unit inside a run.
type Step struct {
	StepID       string
	Type         StepType
	Name         string
	Status       StepStatus
	Input        json.RawMessage
	Output       json.RawMessage
	Tool         string
	CalledAgent  agent.Ident
	ParallelPolicy ParallelPolicy
	ParentStepID string
	Error        *StepError
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// StepError is the "ok/err" discipline's error arm (§9): handlers
// never throw across component boundaries, they return a typed output
// or a StepError.
type StepError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *StepError) Error() string { return e.Code + ": " + e.Message }

// TokenUsage aggregates LLM token consumption for a run.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Input is a run's submitted input: messages plus a free-form context map.
type Input struct {
	Operation   string
	Messages    []Message
	Context     map[string]any
	ThreadID    string
	TimeoutMS   int64
}

// Message is one thread-style message carried in a run's input.
type Message struct {
	Role    string
	Content string
	Meta    map[string]any
}

// Output is a completed run's result.
type Output struct {
	Response   string
	Structured any
	Artifacts  []string
	Usage      TokenUsage
	DurationMS int64
}

// Run is one execution of an agent against an input (§3). The Run
// Executor owns it exclusively.
type Run struct {
	RunID          string
	AgentID        agent.Ident
	AgentVersion   agent.Version
	ThreadID       string
	ParentRunID    string
	ParentToolCallID string
	Status         Status
	Input          Input
	Output         *Output
	Steps          []Step
	Error          *StepError
	Deadline       time.Time
	InterruptedAt  *time.Time
	InterruptedFor time.Duration
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RemainingDeadline returns the time left until the run's deadline,
// excluding time spent interrupted (§4.4 timeouts: "Time spent
// interrupted does not count against the deadline").
func (r *Run) RemainingDeadline(now time.Time) time.Duration {
	d := r.Deadline.Add(r.InterruptedFor).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

