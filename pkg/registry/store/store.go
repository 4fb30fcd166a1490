// Package store defines the Agent Registry's durable backing store
// interface, so the registry can write through to memory (tests, local
// dev) or Redis (durable, multi-node) without changing its dispatch
// logic.
package store

import (
	"context"
	"errors"

	"github.com/agenthub/hub/pkg/agent"
)

// ErrNotFound is returned by Get for an unknown (agent_id, version).
var ErrNotFound = errors.New("agent not found")

// ErrConflict is returned by Create when it would collide with a
// non-terminal existing record at the same key (§4.1: "Registration
// fails with conflict if an agent with the same agent_id + version
// already exists in a non-terminal state").
var ErrConflict = errors.New("agent conflict")

// Store is the write-through backing store for Agent Registry records.
type Store interface {
	// Create inserts a new agent record, returning ErrConflict if one
	// already exists at the same key in a non-terminal lifecycle state.
	Create(ctx context.Context, a agent.Agent) error
	// Update replaces the record at a.Key(), returning ErrNotFound if
	// absent.
	Update(ctx context.Context, a agent.Agent) error
	// Delete removes the record at key.
	Delete(ctx context.Context, key agent.Key) error
	// Get returns the current record for key.
	Get(ctx context.Context, key agent.Key) (agent.Agent, error)
	// List returns every record, for discovery filtering and
	// registry re-warming on startup.
	List(ctx context.Context) ([]agent.Agent, error)
}
