// Package redisstore is a durable registry store.Store backed by a
// goa.design/pulse replicated map, giving the Agent Registry a
// write-through, multi-node-consistent backing store for its health
// and registration state.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/registry/store"
)

// Store is a registry store.Store backed by a pulse rmap.Map, which
// replicates writes to every node sharing the same Redis client.
type Store struct {
	m *rmap.Map
}

// New joins (or creates) the named replicated map on client.
func New(ctx context.Context, client *redis.Client, name string) (*Store, error) {
	m, err := rmap.Join(ctx, name, client)
	if err != nil {
		return nil, fmt.Errorf("registry store: join map: %w", err)
	}
	return &Store{m: m}, nil
}

func keyOf(k agent.Key) string {
	return string(k.AgentID) + "@" + k.Version.String()
}

func (s *Store) Create(ctx context.Context, a agent.Agent) error {
	key := keyOf(a.Key())
	if existing, ok := s.m.Get(key); ok {
		var prev agent.Agent
		if err := json.Unmarshal([]byte(existing), &prev); err == nil && prev.LifecycleState != agent.LifecycleStopped {
			return store.ErrConflict
		}
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("registry store: marshal: %w", err)
	}
	if _, err := s.m.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("registry store: create: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, a agent.Agent) error {
	key := keyOf(a.Key())
	if _, ok := s.m.Get(key); !ok {
		return store.ErrNotFound
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("registry store: marshal: %w", err)
	}
	if _, err := s.m.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("registry store: update: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key agent.Key) error {
	if _, err := s.m.Delete(ctx, keyOf(key)); err != nil {
		return fmt.Errorf("registry store: delete: %w", err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key agent.Key) (agent.Agent, error) {
	data, ok := s.m.Get(keyOf(key))
	if !ok {
		return agent.Agent{}, store.ErrNotFound
	}
	var a agent.Agent
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return agent.Agent{}, fmt.Errorf("registry store: unmarshal: %w", err)
	}
	return a, nil
}

func (s *Store) List(_ context.Context) ([]agent.Agent, error) {
	all := s.m.Map()
	out := make([]agent.Agent, 0, len(all))
	for _, data := range all {
		var a agent.Agent
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("registry store: unmarshal: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
