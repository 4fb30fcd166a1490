// Package mongostore is a durable thread.Store backed by MongoDB, an
// optional persistence backend for the conversation log (§6
// persistence contract: "ordered append for thread messages").
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/thread"
)

// Store is a thread.Store backed by two Mongo collections: one
// document per thread, and one document per message, indexed by
// (thread_id, sequence) for the ordered-append guarantee.
type Store struct {
	threads  *mongo.Collection
	messages *mongo.Collection
}

// New wraps the given database's "threads" and "thread_messages"
// collections.
func New(db *mongo.Database) *Store {
	return &Store{
		threads:  db.Collection("threads"),
		messages: db.Collection("thread_messages"),
	}
}

// EnsureIndexes creates the indexes the store's queries depend on. It
// should be called once during startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "sequence", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

type threadDoc struct {
	ID        string         `bson:"_id"`
	AgentID   string         `bson:"agent_id"`
	Status    thread.Status  `bson:"status"`
	Metadata  map[string]any `bson:"metadata,omitempty"`
	Summary   *thread.Summary `bson:"summary,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

type messageDoc struct {
	ID             string         `bson:"_id"`
	ThreadID       string         `bson:"thread_id"`
	Sequence       int64          `bson:"sequence"`
	Role           thread.Role    `bson:"role"`
	Content        string         `bson:"content"`
	ToolCallID     string         `bson:"tool_call_id,omitempty"`
	ToolName       string         `bson:"tool_name,omitempty"`
	Model          string         `bson:"model,omitempty"`
	PromptTokens   int64          `bson:"prompt_tokens,omitempty"`
	CompletionTokens int64        `bson:"completion_tokens,omitempty"`
	IdempotencyKey string         `bson:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
	Meta           map[string]any `bson:"meta,omitempty"`
}

func toDoc(t thread.Thread) threadDoc {
	return threadDoc{ID: t.ThreadID, AgentID: string(t.AgentID), Status: t.Status, Metadata: t.Metadata, Summary: t.Summary, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
}

func fromDoc(d threadDoc) thread.Thread {
	return thread.Thread{ThreadID: d.ID, AgentID: agent.Ident(d.AgentID), Status: d.Status, Metadata: d.Metadata, Summary: d.Summary, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

func toMsgDoc(m thread.Message) messageDoc {
	return messageDoc{
		ID: m.MessageID, ThreadID: m.ThreadID, Sequence: m.Sequence, Role: m.Role, Content: m.Content,
		ToolCallID: m.ToolCallID, ToolName: m.ToolName, Model: m.Model,
		PromptTokens: m.PromptTokens, CompletionTokens: m.CompletionTokens,
		IdempotencyKey: m.IdempotencyKey, CreatedAt: m.CreatedAt, Meta: m.Meta,
	}
}

func fromMsgDoc(d messageDoc) thread.Message {
	return thread.Message{
		MessageID: d.ID, ThreadID: d.ThreadID, Sequence: d.Sequence, Role: d.Role, Content: d.Content,
		ToolCallID: d.ToolCallID, ToolName: d.ToolName, Model: d.Model,
		PromptTokens: d.PromptTokens, CompletionTokens: d.CompletionTokens,
		IdempotencyKey: d.IdempotencyKey, CreatedAt: d.CreatedAt, Meta: d.Meta,
	}
}

func (s *Store) Create(ctx context.Context, agentID agent.Ident, metadata map[string]any, initial []thread.Message) (thread.Thread, error) {
	now := time.Now()
	t := thread.Thread{ThreadID: newID(), AgentID: agentID, Status: thread.StatusActive, Metadata: metadata, CreatedAt: now, UpdatedAt: now}
	if _, err := s.threads.InsertOne(ctx, toDoc(t)); err != nil {
		return thread.Thread{}, fmt.Errorf("thread: create: %w", err)
	}
	for i, m := range initial {
		m.ThreadID = t.ThreadID
		m.Sequence = int64(i) + 1
		if m.MessageID == "" {
			m.MessageID = newID()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if _, err := s.messages.InsertOne(ctx, toMsgDoc(m)); err != nil {
			return thread.Thread{}, fmt.Errorf("thread: create initial message: %w", err)
		}
	}
	return t, nil
}

func (s *Store) Get(ctx context.Context, threadID string) (thread.Thread, error) {
	var d threadDoc
	if err := s.threads.FindOne(ctx, bson.M{"_id": threadID}).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return thread.Thread{}, thread.ErrNotFound
		}
		return thread.Thread{}, fmt.Errorf("thread: get: %w", err)
	}
	return fromDoc(d), nil
}

func (s *Store) Append(ctx context.Context, threadID string, msg thread.Message) (thread.Message, error) {
	if msg.IdempotencyKey != "" {
		var existing messageDoc
		err := s.messages.FindOne(ctx, bson.M{"thread_id": threadID, "idempotency_key": msg.IdempotencyKey}).Decode(&existing)
		if err == nil {
			return fromMsgDoc(existing), nil
		}
		if err != mongo.ErrNoDocuments {
			return thread.Message{}, fmt.Errorf("thread: append: idempotency lookup: %w", err)
		}
	}
	t, err := s.Get(ctx, threadID)
	if err != nil {
		return thread.Message{}, err
	}
	if t.Status.Terminal() {
		return thread.Message{}, thread.ErrClosed
	}
	count, err := s.messages.CountDocuments(ctx, bson.M{"thread_id": threadID})
	if err != nil {
		return thread.Message{}, fmt.Errorf("thread: append: count: %w", err)
	}
	msg.ThreadID = threadID
	msg.Sequence = count + 1
	if msg.MessageID == "" {
		msg.MessageID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if _, err := s.messages.InsertOne(ctx, toMsgDoc(msg)); err != nil {
		return thread.Message{}, fmt.Errorf("thread: append: %w", err)
	}
	_, err = s.threads.UpdateOne(ctx, bson.M{"_id": threadID}, bson.M{"$set": bson.M{"updated_at": msg.CreatedAt}})
	if err != nil {
		return thread.Message{}, fmt.Errorf("thread: append: touch thread: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, threadID string, filter thread.ListFilter) ([]thread.Message, error) {
	q := bson.M{"thread_id": threadID, "sequence": bson.M{"$gt": filter.Since}}
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})
	if filter.Reversed {
		opts = options.Find().SetSort(bson.D{{Key: "sequence", Value: -1}})
	}
	if filter.Limit > 0 {
		opts = opts.SetLimit(int64(filter.Limit))
	}
	cur, err := s.messages.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("thread: list messages: %w", err)
	}
	defer cur.Close(ctx)
	var out []thread.Message
	for cur.Next(ctx) {
		var d messageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("thread: list messages: decode: %w", err)
		}
		out = append(out, fromMsgDoc(d))
	}
	return out, cur.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, threadID string, status thread.Status) error {
	res, err := s.threads.UpdateOne(ctx, bson.M{"_id": threadID}, bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}})
	if err != nil {
		return fmt.Errorf("thread: update status: %w", err)
	}
	if res.MatchedCount == 0 {
		return thread.ErrNotFound
	}
	return nil
}

func (s *Store) Close(ctx context.Context, threadID string, summary, resolution string) error {
	set := bson.M{"status": thread.StatusClosed, "updated_at": time.Now()}
	if summary != "" {
		v := 1
		if t, err := s.Get(ctx, threadID); err == nil && t.Summary != nil {
			v = t.Summary.Version + 1
		}
		set["summary"] = thread.Summary{Version: v, Text: summary, GeneratedAt: time.Now()}
	}
	if resolution != "" {
		set["metadata.resolution"] = resolution
	}
	res, err := s.threads.UpdateOne(ctx, bson.M{"_id": threadID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("thread: close: %w", err)
	}
	if res.MatchedCount == 0 {
		return thread.ErrNotFound
	}
	return nil
}

func (s *Store) Archive(ctx context.Context, threadID string, retention time.Duration) error {
	set := bson.M{"status": thread.StatusArchived, "updated_at": time.Now()}
	if retention > 0 {
		set["metadata.retention_until"] = time.Now().Add(retention)
	}
	res, err := s.threads.UpdateOne(ctx, bson.M{"_id": threadID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("thread: archive: %w", err)
	}
	if res.MatchedCount == 0 {
		return thread.ErrNotFound
	}
	return nil
}

func (s *Store) Summarize(ctx context.Context, threadID string, policy thread.SummaryPolicy) (thread.Summary, error) {
	t, err := s.Get(ctx, threadID)
	if err != nil {
		return thread.Summary{}, err
	}
	count, err := s.messages.CountDocuments(ctx, bson.M{"thread_id": threadID})
	if err != nil {
		return thread.Summary{}, fmt.Errorf("thread: summarize: count: %w", err)
	}
	tail := int64(policy.MinTailMessages)
	if tail <= 0 {
		tail = 1
	}
	through := count - tail
	if through < 0 {
		through = 0
	}
	v := 1
	if t.Summary != nil {
		v = t.Summary.Version + 1
	}
	summary := thread.Summary{Version: v, Text: fmt.Sprintf("summary through seq %d", through), ThroughSeq: through, GeneratedAt: time.Now()}
	_, err = s.threads.UpdateOne(ctx, bson.M{"_id": threadID}, bson.M{"$set": bson.M{"summary": summary, "updated_at": summary.GeneratedAt}})
	if err != nil {
		return thread.Summary{}, fmt.Errorf("thread: summarize: %w", err)
	}
	return summary, nil
}

func (s *Store) GetContext(ctx context.Context, threadID string, budget thread.ContextBudget) (thread.ContextWindow, error) {
	t, err := s.Get(ctx, threadID)
	if err != nil {
		return thread.ContextWindow{}, err
	}
	since := int64(0)
	summaryText := ""
	if budget.Strategy != thread.StrategyRecent && t.Summary != nil {
		since = t.Summary.ThroughSeq
		summaryText = t.Summary.Text
	}
	msgs, err := s.ListMessages(ctx, threadID, thread.ListFilter{Since: since})
	if err != nil {
		return thread.ContextWindow{}, err
	}
	used := 0
	var picked []thread.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := len(msgs[i].Content)/4 + 1
		if budget.MaxTokens > 0 && used+cost > budget.MaxTokens && len(picked) > 0 {
			break
		}
		picked = append([]thread.Message{msgs[i]}, picked...)
		used += cost
	}
	strategy := budget.Strategy
	if strategy == "" {
		strategy = thread.StrategyRecent
	}
	return thread.ContextWindow{Summary: summaryText, Messages: picked, TokensUsed: used, Strategy: strategy}, nil
}

func newID() string {
	return bson.NewObjectID().Hex()
}
