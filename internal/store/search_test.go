package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memcore/internal/event"
)

func TestSearchLexical(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendEvent(t, s, "sess", 1, event.KindUserMessage, "how do I configure sqlite WAL mode")
	appendEvent(t, s, "sess", 2, event.KindAgentMessage, "sqlite uses journal_mode=wal, set it at open")
	appendEvent(t, s, "sess", 3, event.KindToolResult, "completely unrelated output")

	matches, err := s.SearchLexical(ctx, SearchParams{SessionKey: "sess", Query: "sqlite wal"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Greater(t, m.Score, 0.0)
	}
	// Both terms match both events; the earlier-position/occurrence balance
	// must still produce a deterministic order with recent turns first on tie.
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
}

func TestSearchLexicalPartialTermsRankLower(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendEvent(t, s, "sess", 1, event.KindUserMessage, "embedding cache eviction policy")
	appendEvent(t, s, "sess", 2, event.KindUserMessage, "cache of something else")

	matches, err := s.SearchLexical(ctx, SearchParams{SessionKey: "sess", Query: "embedding cache"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Contains(t, matches[0].Event.Content, "eviction", "full match outranks partial")
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestSearchLexicalIgnoresEvictedAndShortTerms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1 := appendEvent(t, s, "sess", 1, event.KindToolResult, "deployment logs galore")
	marker := appendEvent(t, s, "sess", 1, event.KindCompactionMarker, event.MarshalMarker(event.Marker{}))
	require.NoError(t, s.MarkEvicted(ctx, []string{e1.ID}, marker.ID))

	matches, err := s.SearchLexical(ctx, SearchParams{SessionKey: "sess", Query: "deployment"})
	require.NoError(t, err)
	assert.Empty(t, matches, "evicted events are excluded from default search")

	// Queries with only short terms match nothing rather than everything
	matches, err = s.SearchLexical(ctx, SearchParams{SessionKey: "sess", Query: "a of"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchLexicalKindFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendEvent(t, s, "sess", 1, event.KindUserMessage, "database schema question")
	appendEvent(t, s, "sess", 2, event.KindToolResult, "database schema dump output")

	matches, err := s.SearchLexical(ctx, SearchParams{
		SessionKey: "sess", Query: "database schema",
		Kinds: []event.Kind{event.KindUserMessage},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, event.KindUserMessage, matches[0].Event.Kind)
}
