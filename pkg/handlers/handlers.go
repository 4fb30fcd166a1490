// Package handlers implements the Step Handler Registry & Router: the
// catalog of step handlers and the dispatcher that maps a run's input
// to the most appropriate handler via capability filters, pattern
// detection, and priority tie-breaking (§2, §4.3).
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/run"
)

// Operation is one of the input operation types the router can resolve to.
type Operation string

const (
	OperationRAG            Operation = "rag"
	OperationReasoning      Operation = "reasoning"
	OperationClassification Operation = "classification"
	OperationExtraction     Operation = "extraction"
	OperationGeneric        Operation = "generic"
	OperationToolCall       Operation = "tool_call"
	OperationAgentInvocation Operation = "agent_invocation"
)

// Metadata is what a handler advertises at registration (§3 "Handler Metadata").
type Metadata struct {
	Name                 string
	Version              agent.Version
	OperationType        Operation
	Description          string
	RequiredCapabilities []string
	Priority             int
	// InputSchema, if set, is a JSON Schema document (draft 2020-12)
	// that a run's Input.Context must validate against before this
	// handler is dispatched (§4.4 dispatch step 1 validation).
	InputSchema json.RawMessage
}

func (m Metadata) key() string { return m.Name + "@" + m.Version.String() }

// Handler executes one operation type. It follows the "ok/err"
// discipline (§9): success returns a typed run.Output, failure returns
// a *run.StepError; handlers never panic or throw across component
// boundaries.
type Handler interface {
	Execute(ctx context.Context, input run.Input, a agent.Agent) (run.Output, *run.StepError)
}

var errDuplicate = errors.New("handler: duplicate name+version")

type entry struct {
	meta    Metadata
	handler Handler
}

// Registry is the Step Handler Registry.
type Registry struct {
	mu      sync.RWMutex
	byKey   map[string]entry
	byOp    map[Operation][]entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byKey: make(map[string]entry),
		byOp:  make(map[Operation][]entry),
	}
}

// Register inserts a handler. Duplicate name+version is rejected
// (§4.3 "Registration").
func (reg *Registry) Register(meta Metadata, h Handler) error {
	if meta.Name == "" {
		return fmt.Errorf("handler: name is required")
	}
	if h == nil {
		return fmt.Errorf("handler: handler is nil")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	key := meta.key()
	if _, dup := reg.byKey[key]; dup {
		return errDuplicate
	}
	e := entry{meta: meta, handler: h}
	reg.byKey[key] = e
	reg.byOp[meta.OperationType] = append(reg.byOp[meta.OperationType], e)
	return nil
}

// candidatesFor returns every registered handler for op, snapshotted
// under the read lock.
func (reg *Registry) candidatesFor(op Operation) []entry {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]entry, len(reg.byOp[op]))
	copy(out, reg.byOp[op])
	return out
}

// ErrNoHandler is returned by Route when no candidate clears
// min_confidence.
var ErrNoHandler = errors.New("handlers: no matching handler")
