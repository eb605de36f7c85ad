package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), "EstimateTokens(%q)", tt.text)
	}
}

func TestKindValidation(t *testing.T) {
	assert.True(t, KindUserMessage.Valid())
	assert.True(t, KindCompactionMarker.Valid())
	assert.False(t, Kind("banana").Valid())

	_, err := ParseKind("tool_call")
	assert.NoError(t, err)
	_, err = ParseKind("nope")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestNonEvictableKinds(t *testing.T) {
	protected := []Kind{KindCompactionMarker, KindPersonaState, KindSystemEvent}
	for _, k := range protected {
		assert.True(t, k.NonEvictable(), "%s must be protected", k)
	}
	evictable := []Kind{KindUserMessage, KindAgentMessage, KindToolCall, KindToolResult, KindArtifactReference}
	for _, k := range evictable {
		assert.False(t, k.NonEvictable(), "%s must be evictable", k)
	}
}

func TestImportanceOrDefault(t *testing.T) {
	assert.Equal(t, 5, Metadata{}.ImportanceOrDefault())
	assert.Equal(t, 7, Metadata{Importance: 7}.ImportanceOrDefault())
	assert.Equal(t, 5, Metadata{Importance: 42}.ImportanceOrDefault())
}

func makeRun(turns ...int) []Event {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	run := make([]Event, len(turns))
	for i, turn := range turns {
		run[i] = Event{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			TurnID:    turn,
			Kind:      KindUserMessage,
			Content:   "message content here",
			Tokens:    25,
		}
	}
	return run
}

func TestNewMarker(t *testing.T) {
	run := makeRun(3, 3, 4, 5)
	run[0].Metadata.Tags = []string{"auth", "constraint"}
	run[2].Kind = KindToolCall
	run[2].Content = "grep handlers"

	m := NewMarker(run)
	assert.Equal(t, 3, m.StartTurnID)
	assert.Equal(t, 5, m.EndTurnID)
	assert.Equal(t, 4, m.EventCount)
	assert.Equal(t, 100, m.TokenCount)
	assert.Equal(t, 0, m.Level)
	// "constraint" is a protection tag, not a topic
	assert.Contains(t, m.TopicHints, "auth")
	assert.Contains(t, m.TopicHints, "grep handlers")
	assert.NotContains(t, m.TopicHints, "constraint")
}

func TestMarkerRender(t *testing.T) {
	m := Marker{StartTurnID: 2, EndTurnID: 7, EventCount: 12, TokenCount: 340, TopicHints: []string{"auth", "sqlite"}}
	got := m.Render()
	assert.Equal(t, "[Events T2-T7 evicted (12 events, ~340 tokens). Key topics: auth, sqlite. Use recall(query) to retrieve.]", got)

	m.TopicHints = nil
	assert.Equal(t, "[Events T2-T7 evicted (12 events, ~340 tokens). Use recall(query) to retrieve.]", m.Render())
}

func TestMarkerFit(t *testing.T) {
	m := Marker{StartTurnID: 1, EndTurnID: 2, EventCount: 3, TokenCount: 50,
		TopicHints: []string{"one long topic hint", "another long topic hint", "a third one"}}
	fitted := m.Fit(22)
	assert.LessOrEqual(t, EstimateTokens(fitted.Render()), 22)
	// Ranges survive even when every hint is dropped
	tight := m.Fit(1)
	assert.Empty(t, tight.TopicHints)
	assert.Equal(t, 1, tight.StartTurnID)
}

func TestMarkerMerge(t *testing.T) {
	a := NewMarker(makeRun(1, 2))
	b := NewMarker(makeRun(3, 4))
	b.Level = 2

	m := a.Merge(b)
	assert.Equal(t, 1, m.StartTurnID)
	assert.Equal(t, 4, m.EndTurnID)
	assert.Equal(t, 4, m.EventCount)
	assert.Equal(t, a.TokenCount+b.TokenCount, m.TokenCount)
	assert.Equal(t, 3, m.Level, "level is one above the deeper input")
}

func TestMarkerRoundTrip(t *testing.T) {
	m := NewMarker(makeRun(5, 6, 7))
	parsed, err := ParseMarker(MarshalMarker(m))
	assert.NoError(t, err)
	assert.Equal(t, m.StartTurnID, parsed.StartTurnID)
	assert.Equal(t, m.TokenCount, parsed.TokenCount)

	_, err = ParseMarker("not json")
	assert.Error(t, err)
}

func TestDedupeHints(t *testing.T) {
	hints := []string{"Auth", "auth", "  sqlite ", "", "cache", "auth", "extra1", "extra2"}
	got := DedupeHints(hints, 4)
	assert.Equal(t, []string{"Auth", "sqlite", "cache", "extra1"}, got)
}
