// Package interrupt implements the Interrupt Subsystem: the
// suspension/resume protocol that pauses runs for human-in-the-loop
// decisions (§2, §4.5), using a signal-channel pattern for suspension
// and resume.
package interrupt

import (
	"errors"
	"time"
)

// Type is the reason a run suspended (§3).
type Type string

const (
	TypeApprovalRequired     Type = "approval_required"
	TypeConfirmationRequired Type = "confirmation_required"
	TypeInputRequired        Type = "input_required"
	TypeClarificationRequired Type = "clarification_required"
	TypeSelectionRequired    Type = "selection_required"
	TypeConfidenceLow        Type = "confidence_low"
	TypeConflictDetected     Type = "conflict_detected"
	TypeErrorOccurred        Type = "error_occurred"
	TypeKnowledgeGap         Type = "knowledge_gap"
	TypeHighRiskOperation    Type = "high_risk_operation"
	TypePolicyViolation      Type = "policy_violation"
	TypeAnomalyDetected      Type = "anomaly_detected"
)

// Priority is the interrupt's urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Status is the interrupt's lifecycle status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusNotified Status = "notified"
	StatusViewed   Status = "viewed"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s ends the interrupt's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// NonTerminalActive reports whether s counts toward the "at most one
// interrupt per run in a non-terminal status" invariant (§3, §8).
func (s Status) NonTerminalActive() bool {
	switch s {
	case StatusPending, StatusNotified, StatusViewed:
		return true
	default:
		return false
	}
}

// Payload carries the suspension's question, options, and proposed
// action.
type Payload struct {
	Message        string
	Options        []string
	ProposedAction string
	Detail         map[string]any
}

// Response is what resolve() writes.
type Response struct {
	Value      string
	Approved   bool
	Selected   string
	Structured map[string]any
}

// ExpiryPolicy governs what happens to the owning run when an
// interrupt expires unresolved (§4.5 expiry).
type ExpiryPolicy string

const (
	// ExpiryFail fails the owning run with CAP_INTERRUPT_EXPIRED.
	ExpiryFail ExpiryPolicy = "fail"
	// ExpiryContinueWithoutResponse resumes the run with a null response.
	ExpiryContinueWithoutResponse ExpiryPolicy = "continue_without"
)

// Interrupt is a suspension point (§3).
type Interrupt struct {
	InterruptID string
	RunID       string
	ThreadID    string
	AgentID     string
	Type        Type
	Priority    Priority
	Status      Status
	Payload     Payload
	Response    *Response
	TimeoutMS   int64
	ExpiryPolicy ExpiryPolicy
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ResolvedAt  *time.Time
}

// Spec is what create() accepts.
type Spec struct {
	RunID       string
	ThreadID    string
	AgentID     string
	Type        Type
	Priority    Priority
	Payload     Payload
	TimeoutMS   int64
	ExpiryPolicy ExpiryPolicy
}

var (
	// ErrNotFound is returned for an unknown interrupt_id.
	ErrNotFound = errors.New("interrupt not found")
	// ErrConflict is returned when a run already has a non-terminal
	// interrupt (§3 invariant), or when competing resolves race
	// (§4.5: "At most one resolution wins; competing resolutions fail
	// with conflict").
	ErrConflict = errors.New("interrupt conflict")
	// ErrAlreadyTerminal is returned by Acknowledge and View against
	// an interrupt that already reached a terminal status. Resolve
	// reports that case as ErrConflict, and Cancel as a no-op.
	ErrAlreadyTerminal = errors.New("interrupt already terminal")
)

// Filter narrows list().
type Filter struct {
	RunID  string
	Status Status
}
