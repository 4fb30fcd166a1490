// Package memory is an in-memory registry store.Store: mutex-guarded
// map, defensive copy-out, explicit sentinel errors.
package memory

import (
	"context"
	"sync"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/registry/store"
)

// Store is a mutex-guarded, in-memory registry store.
type Store struct {
	mu     sync.RWMutex
	agents map[agent.Key]agent.Agent
}

// New returns an empty Store.
func New() *Store {
	return &Store{agents: make(map[agent.Key]agent.Agent)}
}

func (s *Store) Create(_ context.Context, a agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.agents[a.Key()]; ok && existing.LifecycleState != agent.LifecycleStopped {
		return store.ErrConflict
	}
	s.agents[a.Key()] = a
	return nil
}

func (s *Store) Update(_ context.Context, a agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.Key()]; !ok {
		return store.ErrNotFound
	}
	s.agents[a.Key()] = a
	return nil
}

func (s *Store) Delete(_ context.Context, key agent.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, key)
	return nil
}

func (s *Store) Get(_ context.Context, key agent.Key) (agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[key]
	if !ok {
		return agent.Agent{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) List(_ context.Context) ([]agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out, nil
}
