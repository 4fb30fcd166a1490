// Package inmem is a mutex-guarded, in-memory thread.Store: private
// struct with a sync.RWMutex and maps, defensive copy-out on read,
// explicit sentinel errors.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/thread"
)

type threadRecord struct {
	thread   thread.Thread
	messages []thread.Message
	seenKeys map[string]string // idempotency key -> message id
}

// Store is an in-memory thread.Store.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*threadRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{threads: make(map[string]*threadRecord)}
}

func (s *Store) Create(_ context.Context, agentID agent.Ident, metadata map[string]any, initial []thread.Message) (thread.Thread, error) {
	if agentID == "" {
		return thread.Thread{}, fmt.Errorf("thread: agent id is required")
	}
	now := time.Now()
	t := thread.Thread{
		ThreadID:  uuid.NewString(),
		AgentID:   agentID,
		Status:    thread.StatusActive,
		Metadata:  cloneMap(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec := &threadRecord{thread: t, seenKeys: make(map[string]string)}
	var seq int64
	for _, m := range initial {
		seq++
		m.ThreadID = t.ThreadID
		m.Sequence = seq
		if m.MessageID == "" {
			m.MessageID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		rec.messages = append(rec.messages, m)
		if m.IdempotencyKey != "" {
			rec.seenKeys[m.IdempotencyKey] = m.MessageID
		}
	}
	s.mu.Lock()
	s.threads[t.ThreadID] = rec
	s.mu.Unlock()
	return cloneThread(t), nil
}

func (s *Store) Get(_ context.Context, threadID string) (thread.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.threads[threadID]
	if !ok {
		return thread.Thread{}, thread.ErrNotFound
	}
	return cloneThread(rec.thread), nil
}

func (s *Store) Append(_ context.Context, threadID string, msg thread.Message) (thread.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[threadID]
	if !ok {
		return thread.Message{}, thread.ErrNotFound
	}
	if rec.thread.Status.Terminal() {
		return thread.Message{}, thread.ErrClosed
	}
	if msg.IdempotencyKey != "" {
		if existingID, dup := rec.seenKeys[msg.IdempotencyKey]; dup {
			for _, m := range rec.messages {
				if m.MessageID == existingID {
					return m, nil
				}
			}
		}
	}
	msg.ThreadID = threadID
	msg.Sequence = int64(len(rec.messages)) + 1
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	rec.messages = append(rec.messages, msg)
	if msg.IdempotencyKey != "" {
		rec.seenKeys[msg.IdempotencyKey] = msg.MessageID
	}
	rec.thread.UpdatedAt = msg.CreatedAt
	return msg, nil
}

func (s *Store) ListMessages(_ context.Context, threadID string, filter thread.ListFilter) ([]thread.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.threads[threadID]
	if !ok {
		return nil, thread.ErrNotFound
	}
	out := make([]thread.Message, 0, len(rec.messages))
	for _, m := range rec.messages {
		if m.Sequence <= filter.Since {
			continue
		}
		out = append(out, m)
	}
	if filter.Reversed {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		if filter.Reversed {
			out = out[:filter.Limit]
		} else {
			out = out[len(out)-filter.Limit:]
		}
	}
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, threadID string, status thread.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[threadID]
	if !ok {
		return thread.ErrNotFound
	}
	rec.thread.Status = status
	rec.thread.UpdatedAt = time.Now()
	return nil
}

func (s *Store) Close(_ context.Context, threadID string, summary, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[threadID]
	if !ok {
		return thread.ErrNotFound
	}
	now := time.Now()
	if summary != "" {
		v := 1
		if rec.thread.Summary != nil {
			v = rec.thread.Summary.Version + 1
		}
		rec.thread.Summary = &thread.Summary{Version: v, Text: summary, ThroughSeq: int64(len(rec.messages)), GeneratedAt: now}
	}
	if resolution != "" {
		if rec.thread.Metadata == nil {
			rec.thread.Metadata = map[string]any{}
		}
		rec.thread.Metadata["resolution"] = resolution
	}
	rec.thread.Status = thread.StatusClosed
	rec.thread.UpdatedAt = now
	return nil
}

func (s *Store) Archive(_ context.Context, threadID string, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[threadID]
	if !ok {
		return thread.ErrNotFound
	}
	if rec.thread.Metadata == nil {
		rec.thread.Metadata = map[string]any{}
	}
	if retention > 0 {
		rec.thread.Metadata["retention_until"] = time.Now().Add(retention)
	}
	rec.thread.Status = thread.StatusArchived
	rec.thread.UpdatedAt = time.Now()
	return nil
}

func (s *Store) Summarize(_ context.Context, threadID string, policy thread.SummaryPolicy) (thread.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.threads[threadID]
	if !ok {
		return thread.Summary{}, thread.ErrNotFound
	}
	tail := policy.MinTailMessages
	if tail <= 0 {
		tail = 1
	}
	cut := len(rec.messages) - tail
	if cut < 0 {
		cut = 0
	}
	text := summarizeHeuristic(rec.messages[:cut])
	v := 1
	if rec.thread.Summary != nil {
		v = rec.thread.Summary.Version + 1
	}
	summary := thread.Summary{Version: v, Text: text, ThroughSeq: int64(cut), GeneratedAt: time.Now()}
	rec.thread.Summary = &summary
	return summary, nil
}

// summarizeHeuristic stands in for an out-of-band LLM summarization
// call (explicitly out of scope, §1): it returns a fixed "summary of N
// messages" line so get_context always has something deterministic to
// work with in tests.
func summarizeHeuristic(msgs []thread.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	out := fmt.Sprintf("summary of %d messages", len(msgs))
	return out
}

func (s *Store) GetContext(_ context.Context, threadID string, budget thread.ContextBudget) (thread.ContextWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.threads[threadID]
	if !ok {
		return thread.ContextWindow{}, thread.ErrNotFound
	}
	strategy := budget.Strategy
	if strategy == "" {
		strategy = thread.StrategyRecent
	}
	switch strategy {
	case thread.StrategyRecent:
		return assembleRecent(rec.messages, budget), nil
	case thread.StrategySummary:
		return assembleSummary(rec, budget), nil
	case thread.StrategyHybrid:
		return assembleHybrid(rec, budget), nil
	default:
		return thread.ContextWindow{}, fmt.Errorf("thread: unknown context strategy %q", strategy)
	}
}

// estimateTokens is a deterministic stand-in for a tokenizer: four
// characters per token, floor 1. Real tokenization is a property of
// the LLM provider, out of scope (§1).
func estimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		return 1
	}
	return n
}

func assembleRecent(messages []thread.Message, budget thread.ContextBudget) thread.ContextWindow {
	var picked []thread.Message
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		cost := estimateTokens(messages[i].Content)
		if budget.MaxTokens > 0 && used+cost > budget.MaxTokens && len(picked) > 0 {
			break
		}
		picked = append(picked, messages[i])
		used += cost
	}
	reverse(picked)
	return thread.ContextWindow{Messages: picked, TokensUsed: used, Strategy: thread.StrategyRecent}
}

func assembleSummary(rec *threadRecord, budget thread.ContextBudget) thread.ContextWindow {
	summaryText := ""
	throughSeq := int64(0)
	if rec.thread.Summary != nil {
		summaryText = rec.thread.Summary.Text
		throughSeq = rec.thread.Summary.ThroughSeq
	}
	used := estimateTokens(summaryText)
	var tail []thread.Message
	for _, m := range rec.messages {
		if m.Sequence <= throughSeq {
			continue
		}
		tail = append(tail, m)
	}
	win := assembleRecent(tail, thread.ContextBudget{MaxTokens: maxInt(budget.MaxTokens-used, 0)})
	return thread.ContextWindow{Summary: summaryText, Messages: win.Messages, TokensUsed: used + win.TokensUsed, Strategy: thread.StrategySummary}
}

func assembleHybrid(rec *threadRecord, budget thread.ContextBudget) thread.ContextWindow {
	base := assembleSummary(rec, budget)
	pinned := make(map[string]bool, len(budget.PinnedIDs))
	for _, id := range budget.PinnedIDs {
		pinned[id] = true
	}
	var pins []thread.Message
	used := base.TokensUsed
	for _, m := range rec.messages {
		if !pinned[m.MessageID] {
			continue
		}
		already := false
		for _, e := range base.Messages {
			if e.MessageID == m.MessageID {
				already = true
				break
			}
		}
		if already {
			continue
		}
		cost := estimateTokens(m.Content)
		if budget.MaxTokens > 0 && used+cost > budget.MaxTokens {
			continue
		}
		pins = append(pins, m)
		used += cost
	}
	merged := append(append([]thread.Message{}, pins...), base.Messages...)
	return thread.ContextWindow{Summary: base.Summary, Messages: merged, TokensUsed: used, Strategy: thread.StrategyHybrid}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func reverse(msgs []thread.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func cloneThread(t thread.Thread) thread.Thread {
	t.Metadata = cloneMap(t.Metadata)
	if t.Summary != nil {
		s := *t.Summary
		t.Summary = &s
	}
	return t
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
