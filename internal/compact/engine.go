// Package compact implements the eviction policy for the live view: when a
// session's estimated tokens cross the trigger threshold, contiguous runs of
// evictable events are rolled up into compaction markers and logically
// removed. Evicted events stay durable and retrievable.
package compact

import (
	"context"
	"fmt"

	"github.com/rcliao/memcore/internal/config"
	"github.com/rcliao/memcore/internal/event"
	"github.com/rcliao/memcore/internal/logging"
	"github.com/rcliao/memcore/internal/store"
)

// Result reports what one Compact call did. Overflow is a report, not an
// error.
type Result struct {
	MarkersCreated   int `json:"markers_created"`
	EventsEvicted    int `json:"events_evicted"`
	TokensEvicted    int `json:"tokens_evicted"`
	MarkersMerged    int `json:"markers_merged"`
	ResidualOverflow int `json:"residual_overflow"`
	Cycles           int `json:"cycles"`
}

// Engine runs compaction for one store.
type Engine struct {
	store *store.SQLiteStore
	cfg   config.Config
	log   logging.Logger
}

// NewEngine builds a compaction engine. log may be nil.
func NewEngine(s *store.SQLiteStore, cfg config.Config, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NoOp{}
	}
	return &Engine{store: s, cfg: cfg, log: log}
}

// target is the live-token level compaction drives toward.
func (e *Engine) target() int {
	return int(e.cfg.TriggerThreshold * float64(e.cfg.ContextWindow))
}

// NeedsCompaction reports whether the session's live view has crossed the
// trigger threshold.
func (e *Engine) NeedsCompaction(ctx context.Context, sessionKey string) (bool, error) {
	total, err := e.store.TotalLiveTokens(ctx, sessionKey)
	if err != nil {
		return false, err
	}
	return total > e.target(), nil
}

// Compact evicts until the live view fits the target or nothing evictable
// remains. Running it when nothing is eligible is a no-op returning a
// zero-value Result. When the target cannot be reached even after maximal
// merging, the Result carries the residual overflow; protected events are
// never touched.
func (e *Engine) Compact(ctx context.Context, sessionKey string) (Result, error) {
	var res Result
	target := e.target()

	for {
		total, err := e.store.TotalLiveTokens(ctx, sessionKey)
		if err != nil {
			return res, err
		}
		if total <= target {
			return res, nil
		}

		live, err := e.store.Events(ctx, store.Filter{SessionKey: sessionKey})
		if err != nil {
			return res, err
		}

		run := e.pickRun(live)
		if len(run) == 0 {
			res.ResidualOverflow = total - target
			e.log.Warn("compaction could not reach target",
				"session", sessionKey, "overflow", res.ResidualOverflow)
			return res, nil
		}
		res.Cycles++

		// Respect the marker soft cap before adding another marker.
		merged, err := e.mergeOldestMarkers(ctx, sessionKey)
		if err != nil {
			return res, err
		}
		res.MarkersMerged += merged

		marker := event.NewMarker(run).Fit(e.cfg.MarkerTokenCap)
		if err := e.emitMarkerAndEvict(ctx, sessionKey, marker, run); err != nil {
			return res, err
		}

		res.MarkersCreated++
		res.EventsEvicted += len(run)
		res.TokensEvicted += marker.TokenCount
		e.log.Info("compacted run", "session", sessionKey,
			"turns", fmt.Sprintf("T%d-T%d", marker.StartTurnID, marker.EndTurnID),
			"events", marker.EventCount, "tokens", marker.TokenCount)
	}
}

// emitMarkerAndEvict appends the marker event and then removes the run from
// the live view. Append-before-evict: a crash in between leaves a redundant
// marker, never a silent gap.
func (e *Engine) emitMarkerAndEvict(ctx context.Context, sessionKey string, m event.Marker, run []event.Event) error {
	markerEvent, err := e.store.Append(ctx, store.AppendParams{
		SessionKey: sessionKey,
		TurnID:     m.EndTurnID,
		Kind:       event.KindCompactionMarker,
		Content:    event.MarshalMarker(m),
		Tokens:     event.EstimateTokens(m.Render()),
	})
	if err != nil {
		return fmt.Errorf("append marker: %w", err)
	}
	ids := make([]string, len(run))
	for i, ev := range run {
		ids[i] = ev.ID
	}
	return e.store.MarkEvicted(ctx, ids, markerEvent.ID)
}

// mergeOldestMarkers coarsens the two oldest markers while the soft cap
// would be exceeded by a new one. Each merge appends a replacement marker
// event and evicts the two it absorbs.
func (e *Engine) mergeOldestMarkers(ctx context.Context, sessionKey string) (int, error) {
	merged := 0
	for {
		markers, err := e.store.Markers(ctx, sessionKey)
		if err != nil {
			return merged, err
		}
		if len(markers)+1 <= e.cfg.MarkerSoftCap {
			return merged, nil
		}
		if len(markers) < 2 {
			return merged, nil
		}

		a, b := markers[0], markers[1]
		m := a.Marker.Merge(b.Marker).Fit(e.cfg.MarkerTokenCap)
		replacement, err := e.store.Append(ctx, store.AppendParams{
			SessionKey: sessionKey,
			TurnID:     m.EndTurnID,
			Kind:       event.KindCompactionMarker,
			Content:    event.MarshalMarker(m),
			Tokens:     event.EstimateTokens(m.Render()),
		})
		if err != nil {
			return merged, fmt.Errorf("append merged marker: %w", err)
		}
		if err := e.store.MarkEvicted(ctx, []string{a.EventID, b.EventID}, replacement.ID); err != nil {
			return merged, err
		}
		merged++
		e.log.Info("merged markers", "session", sessionKey, "level", m.Level,
			"turns", fmt.Sprintf("T%d-T%d", m.StartTurnID, m.EndTurnID))
	}
}

// evictionWeight orders victims by expendability: bulky tool output first,
// conversational content last.
func evictionWeight(k event.Kind) float64 {
	switch k {
	case event.KindToolResult:
		return 1.0
	case event.KindToolCall:
		return 0.8
	case event.KindArtifactReference:
		return 0.3
	default:
		return 0.5
	}
}

// evictable reports whether one event may ever leave the live view.
func (e *Engine) evictable(ev event.Event) bool {
	if ev.Kind.NonEvictable() {
		return false
	}
	if e.cfg.ProtectDebateSynthesis && ev.Kind == event.KindDebateSynthesis {
		return false
	}
	return !ev.Metadata.HasTag("constraint")
}

// pickRun selects the contiguous evictable run with the highest
// priority-weighted token mass, outside the protected hot tail.
func (e *Engine) pickRun(live []event.Event) []event.Event {
	protected := hotTailTurns(live, e.cfg.HotTailTurns)

	var best []event.Event
	var bestMass float64
	var cur []event.Event
	var curMass float64

	flush := func() {
		if curMass > bestMass {
			best, bestMass = cur, curMass
		}
		cur, curMass = nil, 0
	}

	for _, ev := range live {
		if _, hot := protected[ev.TurnID]; hot || !e.evictable(ev) {
			flush()
			continue
		}
		cur = append(cur, ev)
		curMass += evictionWeight(ev.Kind) * float64(ev.Tokens)
	}
	flush()
	return best
}

// hotTailTurns returns the most recent n distinct turn ids, which are kept
// verbatim.
func hotTailTurns(live []event.Event, n int) map[int]struct{} {
	protected := make(map[int]struct{}, n)
	for i := len(live) - 1; i >= 0 && len(protected) < n; i-- {
		protected[live[i].TurnID] = struct{}{}
	}
	return protected
}
