package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rcliao/memcore/internal/event"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func appendEvent(t *testing.T, s *SQLiteStore, session string, turn int, kind event.Kind, content string) *event.Event {
	t.Helper()
	ev, err := s.Append(context.Background(), AppendParams{
		SessionKey: session,
		TurnID:     turn,
		Kind:       kind,
		Content:    content,
	})
	require.NoError(t, err)
	return ev
}

func TestAppendAssignsIDAndTokens(t *testing.T) {
	s := newTestStore(t)
	ev := appendEvent(t, s, "sess", 1, event.KindUserMessage, "hello world!")

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, 3, ev.Tokens) // 12 bytes / 4
	assert.Equal(t, event.EmbeddingPending, ev.Metadata.EmbeddingStatus)
	assert.Equal(t, 5, ev.Metadata.Importance)

	got, err := s.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.Content, got.Content)
	assert.Equal(t, ev.TurnID, got.TurnID)
}

func TestAppendRejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, AppendParams{SessionKey: "sess", Kind: "banana"})
	assert.ErrorIs(t, err, event.ErrUnknownKind)

	_, err = s.Append(ctx, AppendParams{Kind: event.KindUserMessage})
	assert.Error(t, err, "empty session key")
}

func TestAppendOrderMatchesIDOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
		if err != nil {
			rt.Fatalf("open store: %v", err)
		}
		defer s.Close()

		n := rapid.IntRange(2, 15).Draw(rt, "num_events")
		var ids []string
		for i := 0; i < n; i++ {
			ev, err := s.Append(context.Background(), AppendParams{
				SessionKey: "sess",
				TurnID:     i,
				Kind:       event.KindAgentMessage,
				Content:    rapid.StringN(1, 50, 50).Draw(rt, "content"),
			})
			if err != nil {
				rt.Fatalf("append: %v", err)
			}
			ids = append(ids, ev.ID)
		}

		// Lexicographic id order must equal append order, even within one ms.
		for i := 1; i < len(ids); i++ {
			if ids[i-1] >= ids[i] {
				rt.Fatalf("ids not strictly increasing: %s then %s", ids[i-1], ids[i])
			}
		}

		events, err := s.Events(context.Background(), Filter{SessionKey: "sess"})
		if err != nil {
			rt.Fatalf("read: %v", err)
		}
		for i, e := range events {
			if e.ID != ids[i] {
				rt.Fatalf("read order diverges at %d", i)
			}
		}
	})
}

func TestEventsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := appendEvent(t, s, "a", 1, event.KindUserMessage, "question one")
	appendEvent(t, s, "a", 1, event.KindToolCall, "search files")
	t2, err := s.Append(ctx, AppendParams{
		SessionKey: "a", TurnID: 2, Kind: event.KindToolResult, Content: "result",
		Metadata: event.Metadata{TaskID: "task-9"},
	})
	require.NoError(t, err)
	appendEvent(t, s, "b", 1, event.KindUserMessage, "other session")

	bySession, err := s.Events(ctx, Filter{SessionKey: "a"})
	require.NoError(t, err)
	assert.Len(t, bySession, 3)

	byKind, err := s.Events(ctx, Filter{SessionKey: "a", Kinds: []event.Kind{event.KindUserMessage, event.KindToolCall}})
	require.NoError(t, err)
	assert.Len(t, byKind, 2)

	byTask, err := s.Events(ctx, Filter{SessionKey: "a", TaskID: "task-9"})
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.Equal(t, t2.ID, byTask[0].ID)

	// Forward iteration restartable from any id
	after, err := s.Events(ctx, Filter{SessionKey: "a", AfterID: u1.ID})
	require.NoError(t, err)
	assert.Len(t, after, 2)

	limited, err := s.Events(ctx, Filter{SessionKey: "a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, u1.ID, limited[0].ID)
}

func TestMarkEvictedHidesFromLiveView(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1 := appendEvent(t, s, "sess", 1, event.KindToolResult, "big output")
	e2 := appendEvent(t, s, "sess", 2, event.KindUserMessage, "keep me")
	marker := appendEvent(t, s, "sess", 1, event.KindCompactionMarker, event.MarshalMarker(event.Marker{StartTurnID: 1, EndTurnID: 1}))

	require.NoError(t, s.MarkEvicted(ctx, []string{e1.ID}, marker.ID))

	live, err := s.Events(ctx, Filter{SessionKey: "sess"})
	require.NoError(t, err)
	liveIDs := []string{}
	for _, e := range live {
		liveIDs = append(liveIDs, e.ID)
	}
	assert.NotContains(t, liveIDs, e1.ID)
	assert.Contains(t, liveIDs, e2.ID)

	// Durable history still holds the evicted event
	all, err := s.Events(ctx, Filter{SessionKey: "sess", IncludeEvicted: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := s.Get(ctx, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, "big output", got.Content)

	n, err := s.CountLive(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTotalLiveTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1 := appendEvent(t, s, "sess", 1, event.KindToolResult, "aaaabbbb")  // 2 tokens
	appendEvent(t, s, "sess", 2, event.KindUserMessage, "ccccddddeeee") // 3 tokens

	total, err := s.TotalLiveTokens(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	marker := appendEvent(t, s, "sess", 1, event.KindCompactionMarker, event.MarshalMarker(event.Marker{}))
	require.NoError(t, s.MarkEvicted(ctx, []string{e1.ID}, marker.ID))

	total, err = s.TotalLiveTokens(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 3+marker.Tokens, total)
}

func TestRecentReturnsAppendOrder(t *testing.T) {
	s := newTestStore(t)
	var want []string
	for i := 0; i < 5; i++ {
		ev := appendEvent(t, s, "sess", i, event.KindAgentMessage, "m")
		want = append(want, ev.ID)
	}

	recent, err := s.Recent(context.Background(), "sess", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, want[2], recent[0].ID)
	assert.Equal(t, want[4], recent[2].ID)
}

func TestSetEmbeddingStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ev := appendEvent(t, s, "sess", 1, event.KindUserMessage, "embed me")

	pending, err := s.PendingEmbeddings(ctx, "sess", 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, s.SetEmbeddingStatus(ctx, ev.ID, event.EmbeddingComplete))

	pending, err = s.PendingEmbeddings(ctx, "sess", 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, event.EmbeddingComplete, got.Metadata.EmbeddingStatus)
}

func TestMarkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := event.Marker{StartTurnID: 1, EndTurnID: 4, EventCount: 6, TokenCount: 200, TopicHints: []string{"auth"}}
	appendEvent(t, s, "sess", 4, event.KindCompactionMarker, event.MarshalMarker(m))
	appendEvent(t, s, "sess", 5, event.KindUserMessage, "not a marker")

	markers, err := s.Markers(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, 4, markers[0].Marker.EndTurnID)
	assert.Equal(t, []string{"auth"}, markers[0].Marker.TopicHints)
}
