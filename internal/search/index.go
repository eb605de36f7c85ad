// Package search fuses lexical and vector retrieval into one ranked
// candidate list.
package search

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rcliao/memcore/internal/config"
	"github.com/rcliao/memcore/internal/embedding"
	"github.com/rcliao/memcore/internal/event"
	"github.com/rcliao/memcore/internal/store"
)

// Params narrows a search: query text plus optional filters and a TopN cap.
type Params struct {
	SessionKey string
	Query      string
	TaskID     string
	Kinds      []event.Kind
	Since      time.Time
	Until      time.Time
	TopN       int
}

// Candidate is one ranked result with its score breakdown.
type Candidate struct {
	Event        event.Event `json:"event"`
	Score        float64     `json:"score"`
	LexicalScore float64     `json:"lexical_score"`
	VectorScore  float64     `json:"vector_score"`
}

// Index wires the event store, the embedding cache, and an optional query
// embedder into the three retrieval modes.
type Index struct {
	store    *store.SQLiteStore
	cache    *embedding.Cache
	embedder embedding.Embedder // nil disables vector search
	cfg      config.Config
	now      func() time.Time
}

// NewIndex builds a search index. embedder may be nil; Hybrid then degrades
// to lexical-only ranking.
func NewIndex(s *store.SQLiteStore, cache *embedding.Cache, embedder embedding.Embedder, cfg config.Config) *Index {
	return &Index{store: s, cache: cache, embedder: embedder, cfg: cfg, now: time.Now}
}

// Lexical runs term search over the live view.
func (ix *Index) Lexical(ctx context.Context, p Params) ([]Candidate, error) {
	matches, err := ix.store.SearchLexical(ctx, store.SearchParams{
		SessionKey: p.SessionKey,
		Query:      p.Query,
		TaskID:     p.TaskID,
		Kinds:      p.Kinds,
		Since:      p.Since,
		Until:      p.Until,
		Limit:      topN(p.TopN),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(matches))
	for i, m := range matches {
		out[i] = Candidate{Event: m.Event, Score: m.Score, LexicalScore: m.Score}
	}
	return out, nil
}

// Vector ranks live events by cosine similarity to queryVec. Events without
// a cached vector are skipped, never guessed at.
func (ix *Index) Vector(ctx context.Context, queryVec embedding.Vector, p Params) ([]Candidate, error) {
	events, err := ix.store.Events(ctx, store.Filter{
		SessionKey: p.SessionKey,
		Kinds:      p.Kinds,
		TaskID:     p.TaskID,
		Since:      p.Since,
		Until:      p.Until,
	})
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, e := range events {
		v, ok := ix.cache.Get(e.ID)
		if !ok {
			continue
		}
		score := embedding.CosineSimilarity(queryVec, v)
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{Event: e, Score: score, VectorScore: score})
	}
	Sort(out)
	return truncate(out, topN(p.TopN)), nil
}

// Hybrid fuses lexical and vector scores into one ranking: lexical scores
// are min-max normalized per query, vector scores are cosine in [0,1], and
// the fused score is their weighted sum. Ties break toward recency.
func (ix *Index) Hybrid(ctx context.Context, p Params) ([]Candidate, error) {
	n := topN(p.TopN)

	// Over-fetch each mode so fusion has real material to rank.
	wide := p
	wide.TopN = n * 3

	lex, err := ix.Lexical(ctx, wide)
	if err != nil {
		return nil, err
	}

	var vec []Candidate
	if ix.embedder != nil {
		vecs, err := ix.embedder.Embed(ctx, []string{p.Query})
		if err == nil && len(vecs) == 1 {
			vec, err = ix.Vector(ctx, vecs[0], wide)
			if err != nil {
				return nil, err
			}
		}
		// Embedder failures degrade to lexical-only, they never fail a query.
	}

	normalizeLexical(lex)

	byID := make(map[string]*Candidate, len(lex)+len(vec))
	var order []string
	for i := range lex {
		c := lex[i]
		byID[c.Event.ID] = &c
		order = append(order, c.Event.ID)
	}
	for i := range vec {
		if existing, ok := byID[vec[i].Event.ID]; ok {
			existing.VectorScore = vec[i].VectorScore
		} else {
			c := vec[i]
			byID[c.Event.ID] = &c
			order = append(order, c.Event.ID)
		}
	}

	fused := make([]Candidate, 0, len(order))
	queriedAt := ix.now()
	for _, id := range order {
		c := byID[id]
		c.Score = ix.cfg.LexicalWeight*c.LexicalScore + ix.cfg.VectorWeight*c.VectorScore
		c.Score *= ix.recencyDecay(c.Event.Timestamp, queriedAt)
		fused = append(fused, *c)
	}
	Sort(fused)
	return truncate(fused, n), nil
}

// recencyDecay halves an event's fused score every half-life. A zero or
// negative half-life disables decay.
func (ix *Index) recencyDecay(ts, now time.Time) float64 {
	if ix.cfg.RecencyHalfLifeDays <= 0 {
		return 1
	}
	age := now.Sub(ts)
	if age <= 0 {
		return 1
	}
	days := age.Hours() / 24
	return math.Pow(0.5, days/ix.cfg.RecencyHalfLifeDays)
}

// normalizeLexical rescales lexical scores into [0,1] so they are comparable
// with cosine scores. A single-hit result set maps to 1.
func normalizeLexical(cs []Candidate) {
	if len(cs) == 0 {
		return
	}
	lo, hi := cs[0].LexicalScore, cs[0].LexicalScore
	for _, c := range cs[1:] {
		if c.LexicalScore < lo {
			lo = c.LexicalScore
		}
		if c.LexicalScore > hi {
			hi = c.LexicalScore
		}
	}
	for i := range cs {
		if hi > lo {
			cs[i].LexicalScore = (cs[i].LexicalScore - lo) / (hi - lo)
		} else {
			cs[i].LexicalScore = 1
		}
	}
}

// Sort orders candidates by fused score descending, ties broken toward
// recency (higher turn id, then later event id).
func Sort(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		if cs[i].Event.TurnID != cs[j].Event.TurnID {
			return cs[i].Event.TurnID > cs[j].Event.TurnID
		}
		return cs[i].Event.ID > cs[j].Event.ID
	})
}

func truncate(cs []Candidate, n int) []Candidate {
	if len(cs) > n {
		return cs[:n]
	}
	return cs
}

func topN(n int) int {
	if n <= 0 {
		return 10
	}
	return n
}
