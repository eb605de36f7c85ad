package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rcliao/memcore/internal/artifact"
	"github.com/rcliao/memcore/internal/event"
	"github.com/rcliao/memcore/internal/logging"
	"github.com/rcliao/memcore/internal/store"
	"github.com/rcliao/memcore/internal/text"
)

// SummarizeFunc condenses one episode's events into summary text. The
// default concatenates key content; callers may inject an LLM-backed one.
type SummarizeFunc func(ep Episode, events []event.Event) (string, error)

// Result reports one consolidation run.
type Result struct {
	EpisodesCreated int      `json:"episodes_created"`
	EventsProcessed int      `json:"events_processed"`
	DurationMs      int64    `json:"duration_ms"`
	SummaryEventIDs []string `json:"summary_event_ids"`
}

// cursor is the per-session progress record. It lives as a small JSON file
// under <baseDir>/consolidation and advances only after all summary writes
// for a run succeed, so a crash mid-run reprocesses rather than skips.
type cursor struct {
	SessionKey  string    `json:"session_key"`
	LastEventID string    `json:"last_event_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Runner drives idempotent, cursor-based consolidation.
type Runner struct {
	store     *store.SQLiteStore
	artifacts *artifact.Store
	summarize SummarizeFunc
	log       logging.Logger

	cursorDir         string
	gap               time.Duration
	artifactThreshold int
}

// Options tunes a Runner. Zero values take defaults.
type Options struct {
	Summarize         SummarizeFunc
	Logger            logging.Logger
	EpisodeGap        time.Duration // default 30m
	ArtifactThreshold int           // bytes; default 2000
}

// NewRunner builds a consolidation runner rooted at baseDir.
func NewRunner(s *store.SQLiteStore, artifacts *artifact.Store, baseDir string, opts Options) (*Runner, error) {
	dir := filepath.Join(baseDir, "consolidation")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create consolidation dir: %w", err)
	}
	if opts.Summarize == nil {
		opts.Summarize = DefaultSummarize
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOp{}
	}
	if opts.EpisodeGap <= 0 {
		opts.EpisodeGap = 30 * time.Minute
	}
	if opts.ArtifactThreshold <= 0 {
		opts.ArtifactThreshold = 2000
	}
	return &Runner{
		store:             s,
		artifacts:         artifacts,
		summarize:         opts.Summarize,
		log:               opts.Logger,
		cursorDir:         dir,
		gap:               opts.EpisodeGap,
		artifactThreshold: opts.ArtifactThreshold,
	}, nil
}

func (r *Runner) cursorPath(sessionKey string) string {
	return filepath.Join(r.cursorDir, sessionKey+".json")
}

// Cursor returns the last consolidated event id, or "" when never run.
func (r *Runner) Cursor(sessionKey string) (string, error) {
	b, err := os.ReadFile(r.cursorPath(sessionKey))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read cursor: %w", err)
	}
	var c cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return "", fmt.Errorf("parse cursor: %w", err)
	}
	return c.LastEventID, nil
}

func (r *Runner) advanceCursor(sessionKey, lastEventID string) error {
	b, _ := json.MarshalIndent(cursor{
		SessionKey:  sessionKey,
		LastEventID: lastEventID,
		UpdatedAt:   time.Now().UTC(),
	}, "", "  ")
	tmp := r.cursorPath(sessionKey) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return os.Rename(tmp, r.cursorPath(sessionKey))
}

// Consolidate processes events strictly after the cursor (or since, when
// given), writes one summary event per detected episode, and advances the
// cursor only after every write succeeded. Running it again immediately is
// a no-op.
func (r *Runner) Consolidate(ctx context.Context, sessionKey string, since *time.Time) (*Result, error) {
	started := time.Now()
	res := &Result{}

	f := store.Filter{SessionKey: sessionKey, IncludeEvicted: true}
	if since != nil {
		f.Since = *since
	} else {
		afterID, err := r.Cursor(sessionKey)
		if err != nil {
			return nil, err
		}
		f.AfterID = afterID
	}

	events, err := r.store.Events(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		res.DurationMs = time.Since(started).Milliseconds()
		return res, nil
	}

	episodes := DetectEpisodes(events, r.gap)
	for _, ep := range episodes {
		id, err := r.writeSummary(ctx, sessionKey, ep, events)
		if err != nil {
			// Cursor stays put: the whole range is reprocessed next run.
			return res, fmt.Errorf("consolidate episode %s: %w", ep.ID, err)
		}
		res.EpisodesCreated++
		res.SummaryEventIDs = append(res.SummaryEventIDs, id)
	}
	res.EventsProcessed = len(events)

	// Advance past the summaries written this run, not just the events read:
	// summary ids sort after the read range, so the next run starts beyond
	// them and sees nothing.
	cursorTo := events[len(events)-1].ID
	if n := len(res.SummaryEventIDs); n > 0 {
		cursorTo = res.SummaryEventIDs[n-1]
	}
	if err := r.advanceCursor(sessionKey, cursorTo); err != nil {
		return res, err
	}

	res.DurationMs = time.Since(started).Milliseconds()
	r.log.Info("consolidation complete", "session", sessionKey,
		"episodes", res.EpisodesCreated, "events", res.EventsProcessed,
		"duration_ms", res.DurationMs)
	return res, nil
}

// writeSummary appends one episode summary event, spilling long summaries to
// the artifact store first.
func (r *Runner) writeSummary(ctx context.Context, sessionKey string, ep Episode, all []event.Event) (string, error) {
	source := make(map[string]struct{}, len(ep.SourceEventIDs))
	for _, id := range ep.SourceEventIDs {
		source[id] = struct{}{}
	}
	var events []event.Event
	lastTurn := 0
	for _, e := range all {
		if _, ok := source[e.ID]; ok {
			events = append(events, e)
			lastTurn = e.TurnID
		}
	}

	summary, err := r.summarize(ep, events)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	meta := event.Metadata{Tags: []string{"episode_summary"}, TaskID: firstTaskID(events)}
	content := summary
	if r.artifacts != nil && len(summary) > r.artifactThreshold {
		preview, err := r.artifacts.Put(summary, artifact.TypeText)
		if err != nil {
			return "", fmt.Errorf("spill summary: %w", err)
		}
		meta.ArtifactID = preview.ArtifactID
		content = preview.Preview
	}

	ev, err := r.store.Append(ctx, store.AppendParams{
		SessionKey: sessionKey,
		TurnID:     lastTurn,
		Kind:       event.KindSystemEvent,
		Content:    content,
		Metadata:   meta,
	})
	if err != nil {
		return "", err
	}
	return ev.ID, nil
}

func firstTaskID(events []event.Event) string {
	for _, e := range events {
		if e.Metadata.TaskID != "" {
			return e.Metadata.TaskID
		}
	}
	return ""
}

// DefaultSummarize concatenates the episode header with the head of each
// conversational event. It is deliberately dumb but deterministic.
func DefaultSummarize(ep Episode, events []event.Event) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Episode %s (%s, %d turns, %s):\n",
		text.Head(ep.Topic, 60), ep.StartTime.Format("2006-01-02 15:04"), ep.TurnCount, ep.Outcome)
	for _, e := range events {
		switch e.Kind {
		case event.KindUserMessage, event.KindAgentMessage:
			fmt.Fprintf(&b, "- %s: %s\n", e.Kind, text.Head(e.Content, 120))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
