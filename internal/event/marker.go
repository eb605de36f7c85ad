package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Marker is a compacted rollup replacing a contiguous run of evicted events.
// Markers are never mutated after creation except by merge-replacement, which
// produces a new marker at a higher level.
type Marker struct {
	StartTurnID int       `json:"start_turn_id"`
	EndTurnID   int       `json:"end_turn_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	TopicHints  []string  `json:"topic_hints"`
	EventCount  int       `json:"event_count"`
	TokenCount  int       `json:"token_count"`
	Level       int       `json:"level"`
}

// maxTopicHints caps the hints carried by a marker so its rendered form
// stays within the per-marker token cap.
const maxTopicHints = 5

// NewMarker builds a level-0 marker over a contiguous run of events.
// The events must be non-empty and in append order.
func NewMarker(run []Event) Marker {
	first, last := run[0], run[len(run)-1]
	tokens := 0
	var hints []string
	for _, e := range run {
		tokens += e.Tokens
		for _, tag := range e.Metadata.Tags {
			if tag != "constraint" {
				hints = append(hints, tag)
			}
		}
		if e.Kind == KindToolCall && len(e.Content) < 100 {
			hints = append(hints, e.Content[:min(50, len(e.Content))])
		}
	}
	return Marker{
		StartTurnID: first.TurnID,
		EndTurnID:   last.TurnID,
		StartTime:   first.Timestamp,
		EndTime:     last.Timestamp,
		TopicHints:  DedupeHints(hints, maxTopicHints),
		EventCount:  len(run),
		TokenCount:  tokens,
		Level:       0,
	}
}

// Merge combines two adjacent markers into a coarser one. The result's level
// is one above the deeper input.
func (m Marker) Merge(next Marker) Marker {
	return Marker{
		StartTurnID: m.StartTurnID,
		EndTurnID:   next.EndTurnID,
		StartTime:   m.StartTime,
		EndTime:     next.EndTime,
		TopicHints:  DedupeHints(append(append([]string{}, m.TopicHints...), next.TopicHints...), maxTopicHints),
		EventCount:  m.EventCount + next.EventCount,
		TokenCount:  m.TokenCount + next.TokenCount,
		Level:       max(m.Level, next.Level) + 1,
	}
}

// Render produces the human-readable form injected into context. The rendered
// form must fit within the configured per-marker token cap; callers trim
// topic hints via Fit when it does not.
func (m Marker) Render() string {
	topics := ""
	if len(m.TopicHints) > 0 {
		topics = fmt.Sprintf(" Key topics: %s.", strings.Join(m.TopicHints, ", "))
	}
	return fmt.Sprintf("[Events T%d-T%d evicted (%d events, ~%d tokens).%s Use recall(query) to retrieve.]",
		m.StartTurnID, m.EndTurnID, m.EventCount, m.TokenCount, topics)
}

// Fit drops topic hints from the end until the rendered form is within cap
// tokens. Hints are advisory; turn and token ranges are never dropped.
func (m Marker) Fit(cap int) Marker {
	for EstimateTokens(m.Render()) > cap && len(m.TopicHints) > 0 {
		m.TopicHints = m.TopicHints[:len(m.TopicHints)-1]
	}
	return m
}

// DedupeHints deduplicates hints case-insensitively, keeping the first k.
func DedupeHints(hints []string, k int) []string {
	seen := make(map[string]bool, len(hints))
	var out []string
	for _, h := range hints {
		norm := strings.ToLower(strings.TrimSpace(h))
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, strings.TrimSpace(h))
		if len(out) >= k {
			break
		}
	}
	return out
}

// MarshalMarker encodes a marker as the content of a compaction_marker event.
func MarshalMarker(m Marker) string {
	b, _ := json.Marshal(m)
	return string(b)
}

// ParseMarker decodes a compaction_marker event's content.
func ParseMarker(content string) (Marker, error) {
	var m Marker
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return Marker{}, fmt.Errorf("parse marker: %w", err)
	}
	return m, nil
}
