// Package thread defines the Thread Store: the append-only
// conversation log that carries context across runs (§2, §4.2).
package thread

import (
	"context"
	"errors"
	"time"

	"github.com/agenthub/hub/pkg/agent"
)

// Status is a thread's lifecycle status.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusClosed   Status = "closed"
	StatusArchived Status = "archived"
)

// Terminal reports whether new appends are rejected in this status
// (§4.2 invariants: "Closed or archived threads reject appends").
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusArchived
}

var (
	// ErrNotFound is returned for an unknown thread_id.
	ErrNotFound = errors.New("thread not found")
	// ErrClosed is returned by Append against a closed or archived
	// thread.
	ErrClosed = errors.New("thread closed")
	// ErrDuplicateIdempotencyKey names a re-append with an idempotency
	// key the thread has already seen (§8 round-trip: "repeated
	// Append with the same idempotency key appends exactly once").
	// The stores in this module do not return it: they deduplicate
	// such an Append by returning the original message and a nil error.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// Role is a message's originator.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry in a thread's ordered log.
type Message struct {
	MessageID      string
	ThreadID       string
	Sequence       int64
	Role           Role
	Content        string
	ToolCallID     string
	ToolName       string
	Model          string
	PromptTokens   int64
	CompletionTokens int64
	IdempotencyKey string
	CreatedAt      time.Time
	Meta           map[string]any
}

// Thread is an ordered, append-only message log tied to one agent.
type Thread struct {
	ThreadID  string
	AgentID   agent.Ident
	Status    Status
	Metadata  map[string]any
	Summary   *Summary
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is a versioned, out-of-band replacement for the thread's
// older messages (§4.2: "Summaries are versioned; re-summarization
// replaces rather than mutates").
type Summary struct {
	Version     int
	Text        string
	ThroughSeq  int64
	GeneratedAt time.Time
}

// SummaryPolicy configures how Summarize produces a Summary.
type SummaryPolicy struct {
	// TriggerThreshold is the message count above which Summarize is
	// expected to be invoked; enforcement is the caller's
	// responsibility, Summarize itself always (re)computes.
	TriggerThreshold int
	// MinTailMessages is always retained verbatim regardless of
	// strategy (§4.2: "a minimum number of tail messages is always
	// retained intact").
	MinTailMessages int
}

// ContextStrategy selects how get_context assembles a ContextWindow.
type ContextStrategy string

const (
	// StrategyRecent returns the newest messages until the budget is spent.
	StrategyRecent ContextStrategy = "recent"
	// StrategySummary replaces the oldest messages with the stored
	// summary, then appends recent messages verbatim.
	StrategySummary ContextStrategy = "summary"
	// StrategyHybrid includes the summary, a selection of pinned
	// "decision point" messages, and a tail of recent messages.
	StrategyHybrid ContextStrategy = "hybrid"
)

// ContextBudget bounds get_context's assembly.
type ContextBudget struct {
	Strategy    ContextStrategy
	MaxTokens   int
	PinnedIDs   []string
}

// ContextWindow is the assembled prompt context for an agent.
type ContextWindow struct {
	Summary      string
	Messages     []Message
	TokensUsed   int
	Strategy     ContextStrategy
}

// ListFilter narrows list_messages.
type ListFilter struct {
	Since    int64 // exclusive sequence lower bound
	Limit    int
	Reversed bool
}

// Store is the Thread Store's operation set (§4.2).
type Store interface {
	Create(ctx context.Context, agentID agent.Ident, metadata map[string]any, initial []Message) (Thread, error)
	Append(ctx context.Context, threadID string, msg Message) (Message, error)
	ListMessages(ctx context.Context, threadID string, filter ListFilter) ([]Message, error)
	UpdateStatus(ctx context.Context, threadID string, status Status) error
	Close(ctx context.Context, threadID string, summary, resolution string) error
	Archive(ctx context.Context, threadID string, retention time.Duration) error
	Summarize(ctx context.Context, threadID string, policy SummaryPolicy) (Summary, error)
	GetContext(ctx context.Context, threadID string, budget ContextBudget) (ContextWindow, error)
	Get(ctx context.Context, threadID string) (Thread, error)
}
