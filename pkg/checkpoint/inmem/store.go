// Package inmem is an in-memory checkpoint.Store suitable for local
// development, tests, and single-process deployments.
package inmem

import (
	"context"
	"sync"

	"github.com/agenthub/hub/pkg/checkpoint"
	"github.com/agenthub/hub/pkg/run"
)

// Store is a mutex-guarded, in-memory checkpoint.Store.
type Store struct {
	mu    sync.RWMutex
	snaps map[string]run.Snapshot
}

// New returns an empty Store.
func New() *Store {
	return &Store{snaps: make(map[string]run.Snapshot)}
}

func (s *Store) Save(_ context.Context, snap run.Snapshot) error {
	if snap.RunID == "" {
		return errRunIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.RunID] = cloneSnapshot(snap)
	return nil
}

func (s *Store) Load(_ context.Context, runID string) (run.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[runID]
	if !ok {
		return run.Snapshot{}, checkpoint.ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

func (s *Store) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, runID)
	return nil
}

func (s *Store) ListNonTerminal(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, snap := range s.snaps {
		if !snap.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func cloneSnapshot(snap run.Snapshot) run.Snapshot {
	steps := make([]run.Step, len(snap.Steps))
	copy(steps, snap.Steps)
	snap.Steps = steps
	return snap
}

var errRunIDRequired = checkpointError("run id is required")

type checkpointError string

func (e checkpointError) Error() string { return string(e) }
