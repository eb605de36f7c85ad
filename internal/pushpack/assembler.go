// Package pushpack assembles the context payload pushed to a model turn:
// task state, retained compaction markers, and retrieved events, packed
// under a token budget with fractional allocations per section.
package pushpack

import (
	"context"
	"fmt"

	"github.com/rcliao/memcore/internal/config"
	"github.com/rcliao/memcore/internal/event"
	"github.com/rcliao/memcore/internal/search"
	"github.com/rcliao/memcore/internal/store"
)

// Request asks for one assembled pack.
type Request struct {
	SessionKey string
	Query      string
	Budget     int              // total token budget; falls back to config when 0
	Fractions  config.Fractions // zero value falls back to config
	TopN       int
}

// Section is one packed slice of context.
type Section struct {
	Name    string `json:"name"`    // "task_state", "marker", "event"
	EventID string `json:"event_id,omitempty"`
	Content string `json:"content"`
	Tokens  int    `json:"tokens"`
}

// Pack is the assembled payload. Identical inputs against identical index
// state produce identical packs.
type Pack struct {
	Sections    []Section      `json:"sections"`
	TotalTokens int            `json:"total_tokens"`
	BudgetUsed  map[string]int `json:"budget_used"`
	Truncated   bool           `json:"truncated"`
}

// Assembler builds packs from the store and the search index.
type Assembler struct {
	store *store.SQLiteStore
	index *search.Index
	cfg   config.Config
}

// NewAssembler builds a pack assembler.
func NewAssembler(s *store.SQLiteStore, ix *search.Index, cfg config.Config) *Assembler {
	return &Assembler{store: s, index: ix, cfg: cfg}
}

// Build assembles a pack: task state first (always present, truncated to its
// fraction if it alone exceeds it — the one budget exception), then markers
// most recent first, then retrieved events by fused score. Assembly stops
// the moment the running total would exceed the overall budget.
func (a *Assembler) Build(ctx context.Context, req Request) (*Pack, error) {
	budget := req.Budget
	if budget <= 0 {
		budget = a.cfg.RecallMaxTokens
	}
	fr := req.Fractions
	if fr.Task+fr.Markers+fr.Retrieved == 0 {
		fr = a.cfg.BudgetFractions
	}

	taskBudget := int(float64(budget) * fr.Task)
	markerBudget := int(float64(budget) * fr.Markers)
	retrievedBudget := int(float64(budget) * fr.Retrieved)

	pack := &Pack{BudgetUsed: map[string]int{}}

	// Task state: always included, truncated rather than dropped.
	st, err := a.store.TaskState(ctx, req.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("assemble pack: %w", err)
	}
	if st != nil {
		render := st.Render()
		tokens := event.EstimateTokens(render)
		if tokens > taskBudget {
			render = truncateToTokens(render, taskBudget)
			tokens = event.EstimateTokens(render)
			pack.Truncated = true
		}
		pack.Sections = append(pack.Sections, Section{Name: "task_state", Content: render, Tokens: tokens})
		pack.TotalTokens += tokens
		pack.BudgetUsed["task_state"] = tokens
	}

	// Markers, most recent first.
	markers, err := a.store.Markers(ctx, req.SessionKey)
	if err != nil {
		return nil, err
	}
	used := 0
	for i := len(markers) - 1; i >= 0; i-- {
		render := markers[i].Marker.Render()
		tokens := event.EstimateTokens(render)
		if used+tokens > markerBudget || pack.TotalTokens+tokens > budget {
			pack.Truncated = true
			break
		}
		pack.Sections = append(pack.Sections, Section{
			Name: "marker", EventID: markers[i].EventID, Content: render, Tokens: tokens,
		})
		used += tokens
		pack.TotalTokens += tokens
	}
	pack.BudgetUsed["markers"] = used

	// Retrieved events by fused score, deduplicated by id.
	candidates, err := a.index.Hybrid(ctx, search.Params{
		SessionKey: req.SessionKey,
		Query:      req.Query,
		TopN:       topN(req.TopN),
	})
	if err != nil {
		return nil, err
	}
	used = 0
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Event.ID]; dup {
			continue
		}
		seen[c.Event.ID] = struct{}{}
		tokens := c.Event.Tokens
		if used+tokens > retrievedBudget || pack.TotalTokens+tokens > budget {
			pack.Truncated = true
			break
		}
		pack.Sections = append(pack.Sections, Section{
			Name: "event", EventID: c.Event.ID, Content: c.Event.Content, Tokens: tokens,
		})
		used += tokens
		pack.TotalTokens += tokens
	}
	pack.BudgetUsed["retrieved"] = used

	return pack, nil
}

// truncateToTokens cuts text so its token estimate fits the budget.
func truncateToTokens(text string, tokens int) string {
	maxBytes := tokens * 4
	if maxBytes <= 0 {
		return ""
	}
	if len(text) <= maxBytes {
		return text
	}
	return text[:maxBytes-4] + "..."
}

func topN(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}
