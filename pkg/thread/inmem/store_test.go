package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/hub/pkg/thread"
)

func TestCreate_RejectsMissingAgentID(t *testing.T) {
	s := New()
	_, err := s.Create(context.Background(), "", nil, nil)
	assert.Error(t, err)
}

func TestAppend_AssignsSequenceAndUpdatesThread(t *testing.T) {
	s := New()
	ctx := context.Background()
	th, err := s.Create(ctx, "agent-1", nil, nil)
	require.NoError(t, err)

	m1, err := s.Append(ctx, th.ThreadID, thread.Message{Role: thread.RoleUser, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), m1.Sequence)

	m2, err := s.Append(ctx, th.ThreadID, thread.Message{Role: thread.RoleAssistant, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), m2.Sequence)
}

func TestAppend_IdempotencyKeyDeduplicates(t *testing.T) {
	s := New()
	ctx := context.Background()
	th, err := s.Create(ctx, "agent-1", nil, nil)
	require.NoError(t, err)

	first, err := s.Append(ctx, th.ThreadID, thread.Message{Content: "a", IdempotencyKey: "k1"})
	require.NoError(t, err)
	second, err := s.Append(ctx, th.ThreadID, thread.Message{Content: "a-retry", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.MessageID, second.MessageID)

	msgs, err := s.ListMessages(ctx, th.ThreadID, thread.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestAppend_RejectsOnClosedThread(t *testing.T) {
	s := New()
	ctx := context.Background()
	th, err := s.Create(ctx, "agent-1", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx, th.ThreadID, "", ""))

	_, err = s.Append(ctx, th.ThreadID, thread.Message{Content: "x"})
	assert.ErrorIs(t, err, thread.ErrClosed)
}

func TestAppend_UnknownThreadReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.Append(context.Background(), "missing", thread.Message{})
	assert.ErrorIs(t, err, thread.ErrNotFound)
}

func TestListMessages_SinceAndLimitAndReversed(t *testing.T) {
	s := New()
	ctx := context.Background()
	th, err := s.Create(ctx, "agent-1", nil, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, th.ThreadID, thread.Message{Content: "m"})
		require.NoError(t, err)
	}

	since, err := s.ListMessages(ctx, th.ThreadID, thread.ListFilter{Since: 3})
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, int64(4), since[0].Sequence)

	limited, err := s.ListMessages(ctx, th.ThreadID, thread.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(4), limited[0].Sequence)
	assert.Equal(t, int64(5), limited[1].Sequence)

	reversed, err := s.ListMessages(ctx, th.ThreadID, thread.ListFilter{Reversed: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, reversed, 2)
	assert.Equal(t, int64(5), reversed[0].Sequence)
	assert.Equal(t, int64(4), reversed[1].Sequence)
}

func TestClose_StoresVersionedSummaryAndResolution(t *testing.T) {
	s := New()
	ctx := context.Background()
	th, err := s.Create(ctx, "agent-1", nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx, th.ThreadID, "done talking", "resolved"))
	got, err := s.Get(ctx, th.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, thread.StatusClosed, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 1, got.Summary.Version)
	assert.Equal(t, "resolved", got.Metadata["resolution"])
}

func TestArchive_SetsStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	th, err := s.Create(ctx, "agent-1", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Archive(ctx, th.ThreadID, 0))
	got, err := s.Get(ctx, th.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, thread.StatusArchived, got.Status)
}

func TestGetContext_RecentStrategyRespectsTokenBudget(t *testing.T) {
	s := New()
	ctx := context.Background()
	th, err := s.Create(ctx, "agent-1", nil, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, th.ThreadID, thread.Message{Content: "0123456789ABCDEF"}) // 16 chars -> 4 tokens
		require.NoError(t, err)
	}

	win, err := s.GetContext(ctx, th.ThreadID, thread.ContextBudget{Strategy: thread.StrategyRecent, MaxTokens: 4})
	require.NoError(t, err)
	assert.Equal(t, thread.StrategyRecent, win.Strategy)
	assert.Len(t, win.Messages, 1)
}

func TestGetContext_SummaryStrategyExcludesSummarizedTail(t *testing.T) {
	s := New()
	ctx := context.Background()
	th, err := s.Create(ctx, "agent-1", nil, nil)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := s.Append(ctx, th.ThreadID, thread.Message{Content: "msg"})
		require.NoError(t, err)
	}
	_, err = s.Summarize(ctx, th.ThreadID, thread.SummaryPolicy{MinTailMessages: 1})
	require.NoError(t, err)

	win, err := s.GetContext(ctx, th.ThreadID, thread.ContextBudget{Strategy: thread.StrategySummary, MaxTokens: 1000})
	require.NoError(t, err)
	assert.NotEmpty(t, win.Summary)
	assert.Len(t, win.Messages, 1)
}

func TestGetContext_HybridStrategyIncludesPinnedMessages(t *testing.T) {
	s := New()
	ctx := context.Background()
	th, err := s.Create(ctx, "agent-1", nil, nil)
	require.NoError(t, err)
	var pinnedID string
	for i := 0; i < 5; i++ {
		m, err := s.Append(ctx, th.ThreadID, thread.Message{Content: "msg"})
		require.NoError(t, err)
		if i == 0 {
			pinnedID = m.MessageID
		}
	}
	_, err = s.Summarize(ctx, th.ThreadID, thread.SummaryPolicy{MinTailMessages: 1})
	require.NoError(t, err)

	win, err := s.GetContext(ctx, th.ThreadID, thread.ContextBudget{
		Strategy: thread.StrategyHybrid, MaxTokens: 1000, PinnedIDs: []string{pinnedID},
	})
	require.NoError(t, err)
	found := false
	for _, m := range win.Messages {
		if m.MessageID == pinnedID {
			found = true
		}
	}
	assert.True(t, found, "pinned message should survive into hybrid context")
}

func TestGetContext_UnknownStrategyIsRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	th, err := s.Create(ctx, "agent-1", nil, nil)
	require.NoError(t, err)
	_, err = s.GetContext(ctx, th.ThreadID, thread.ContextBudget{Strategy: "bogus"})
	assert.Error(t, err)
}
