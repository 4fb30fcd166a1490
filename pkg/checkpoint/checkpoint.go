// Package checkpoint defines the Checkpoint Store interface: a
// durable key->blob mapping for resumable run snapshots (§2, §4.4).
package checkpoint

import (
	"context"
	"errors"

	"github.com/agenthub/hub/pkg/run"
)

// ErrNotFound is returned by Load when no snapshot exists for a run id.
var ErrNotFound = errors.New("checkpoint not found")

// Store is the durable key->blob mapping the Run Executor writes
// snapshots to. It is assumed to provide strongly consistent
// read-after-write for a single run id (§6 persistence contract).
type Store interface {
	// Save durably writes snap, replacing any prior snapshot for the
	// same RunID.
	Save(ctx context.Context, snap run.Snapshot) error
	// Load returns the most recently saved snapshot for runID, or
	// ErrNotFound.
	Load(ctx context.Context, runID string) (run.Snapshot, error)
	// Delete removes the snapshot for runID. Deleting a run with no
	// snapshot is a no-op.
	Delete(ctx context.Context, runID string) error
	// ListNonTerminal returns every run id with a saved snapshot whose
	// Status is not terminal, for restart recovery (§4.4, §8 scenario
	// 6).
	ListNonTerminal(ctx context.Context) ([]string, error)
}
