// Package consolidate groups a session's raw events into episodes and writes
// one durable summary event per episode, driven by a crash-safe cursor.
package consolidate

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/memcore/internal/event"
	"github.com/rcliao/memcore/internal/text"
)

// Outcome classifies how an episode ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeOngoing   Outcome = "ongoing"
)

// Episode is one consolidated slice of session history.
type Episode struct {
	ID             string    `json:"id"`
	StartEventID   string    `json:"start_event_id"`
	EndEventID     string    `json:"end_event_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	TurnCount      int       `json:"turn_count"`
	Topic          string    `json:"topic"`
	Participants   []string  `json:"participants"`
	Outcome        Outcome   `json:"outcome"`
	SourceEventIDs []string  `json:"source_event_ids"`
}

// sessionStartMark opens a fresh episode regardless of timing.
const sessionStartMark = "[session_start]"

// boundary reports whether next starts a new episode relative to prev.
func boundary(prev, next event.Event, gap time.Duration) bool {
	if next.Timestamp.Sub(prev.Timestamp) > gap {
		return true
	}
	if next.Metadata.TaskID != "" && prev.Metadata.TaskID != "" &&
		next.Metadata.TaskID != prev.Metadata.TaskID {
		return true
	}
	if next.Kind == event.KindSystemEvent && next.Content == sessionStartMark {
		return true
	}
	return false
}

// DetectEpisodes splits events (append order) into episodes. Compaction
// markers and prior episode summaries are bookkeeping, not history, and are
// excluded from grouping.
func DetectEpisodes(events []event.Event, gap time.Duration) []Episode {
	var filtered []event.Event
	for _, e := range events {
		if e.Kind == event.KindCompactionMarker || e.Metadata.HasTag("episode_summary") {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) == 0 {
		return nil
	}

	var episodes []Episode
	start := 0
	for i := 1; i <= len(filtered); i++ {
		if i == len(filtered) || boundary(filtered[i-1], filtered[i], gap) {
			episodes = append(episodes, buildEpisode(filtered[start:i]))
			start = i
		}
	}
	return episodes
}

func buildEpisode(run []event.Event) Episode {
	first, last := run[0], run[len(run)-1]

	turns := make(map[int]struct{})
	participants := make(map[string]struct{})
	ids := make([]string, len(run))
	topic := ""
	outcome := OutcomeOngoing

	for i, e := range run {
		ids[i] = e.ID
		turns[e.TurnID] = struct{}{}
		participants[string(e.Kind)] = struct{}{}
		if topic == "" && e.Kind == event.KindUserMessage {
			topic = text.Head(e.Content, 80)
		}
		if e.Metadata.HasTag("completed") {
			outcome = OutcomeCompleted
		}
	}
	if topic == "" {
		topic = text.Head(first.Content, 80)
	}

	var ps []string
	for p := range participants {
		ps = append(ps, p)
	}
	sort.Strings(ps)

	return Episode{
		ID:             uuid.NewString(),
		StartEventID:   first.ID,
		EndEventID:     last.ID,
		StartTime:      first.Timestamp,
		EndTime:        last.Timestamp,
		TurnCount:      len(turns),
		Topic:          topic,
		Participants:   ps,
		Outcome:        outcome,
		SourceEventIDs: ids,
	}
}
