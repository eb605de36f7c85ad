package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/memcore/internal/event"
)

// SearchParams holds parameters for lexical search over the live view.
type SearchParams struct {
	SessionKey string
	Query      string
	TaskID     string
	Kinds      []event.Kind
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Match is a scored search hit.
type Match struct {
	Event event.Event `json:"event"`
	Score float64     `json:"score"`
}

// queryTerms splits a query into lowercase search terms, dropping short ones.
func queryTerms(query string) []string {
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if len(t) > 2 {
			terms = append(terms, t)
		}
	}
	return terms
}

// ftsQuery builds an OR query of quoted terms for FTS5 MATCH.
func ftsQuery(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// SearchLexical finds live events matching the query terms. Candidates come
// from the FTS5 index; scoring uses term frequency with a position boost,
// normalized by term count. Results are sorted by score descending, ties
// broken by recency (higher turn id first, then id).
func (s *SQLiteStore) SearchLexical(ctx context.Context, p SearchParams) ([]Match, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	terms := queryTerms(p.Query)
	if len(terms) == 0 {
		return nil, nil
	}

	f := Filter{
		SessionKey: p.SessionKey,
		Kinds:      p.Kinds,
		TaskID:     p.TaskID,
		Since:      p.Since,
		Until:      p.Until,
	}
	where, args := f.clauses()

	query := fmt.Sprintf(`%s WHERE rowid IN (
		SELECT rowid FROM events_fts WHERE events_fts MATCH ?
	) AND %s`, selectEvents, where)
	args = append([]interface{}{ftsQuery(terms)}, args...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if score := scoreLexical(e.Content, terms); score > 0 {
			matches = append(matches, Match{Event: e, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Event.TurnID != matches[j].Event.TurnID {
			return matches[i].Event.TurnID > matches[j].Event.TurnID
		}
		return matches[i].Event.ID > matches[j].Event.ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// scoreLexical scores content against query terms: base hit + log-scaled
// occurrence count + position boost for earlier matches, averaged over the
// number of terms so partial matches rank below full ones.
func scoreLexical(content string, terms []string) float64 {
	lower := strings.ToLower(content)
	var score float64
	for _, term := range terms {
		idx := strings.Index(lower, term)
		if idx < 0 {
			continue
		}
		score += 1.0
		occurrences := strings.Count(lower, term)
		score += math.Log2(float64(occurrences)+1) * 0.5
		score += (1.0 - float64(idx)/math.Max(float64(len(lower)), 1)) * 0.3
	}
	return score / float64(len(terms))
}
