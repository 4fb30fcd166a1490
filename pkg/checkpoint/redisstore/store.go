// Package redisstore is a durable checkpoint.Store backed by Redis,
// giving the Run Executor a persistence option that survives process
// restarts in distributed mode (§5 "Distributed mode ... sharing the
// checkpoint store").
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/agenthub/hub/pkg/checkpoint"
	"github.com/agenthub/hub/pkg/run"
)

const (
	keyPrefix    = "hub:checkpoint:"
	nonTermIndex = "hub:checkpoint:non-terminal"
)

// Store is a checkpoint.Store backed by a Redis client. Snapshots are
// stored as JSON blobs under keyPrefix+runID; a set index tracks
// non-terminal run ids for fast restart-recovery scans.
type Store struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(runID string) string { return keyPrefix + runID }

func (s *Store) Save(ctx context.Context, snap run.Snapshot) error {
	if snap.RunID == "" {
		return fmt.Errorf("checkpoint: run id is required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal snapshot: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key(snap.RunID), data, 0)
	if snap.Status.Terminal() {
		pipe.SRem(ctx, nonTermIndex, snap.RunID)
	} else {
		pipe.SAdd(ctx, nonTermIndex, snap.RunID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, runID string) (run.Snapshot, error) {
	data, err := s.client.Get(ctx, key(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return run.Snapshot{}, checkpoint.ErrNotFound
		}
		return run.Snapshot{}, fmt.Errorf("checkpoint: load: %w", err)
	}
	var snap run.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return run.Snapshot{}, fmt.Errorf("checkpoint: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) Delete(ctx context.Context, runID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key(runID))
	pipe.SRem(ctx, nonTermIndex, runID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}

func (s *Store) ListNonTerminal(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, nonTermIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list non-terminal: %w", err)
	}
	return ids, nil
}
