// Package episodic keeps an in-memory buffer of recent raw entries not yet
// covered by consolidation. Losing it only delays recall; the event store
// remains the source of truth.
package episodic

import (
	"sort"
	"time"

	"github.com/rcliao/memcore/internal/text"
)

// Entry is one buffered item.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	Importance int       `json:"importance"` // 1-10
}

// Hit is a scored buffer match.
type Hit struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// SemanticFunc supplies externally-scored hits for CombinedQuery.
type SemanticFunc func(query string, topN int) []Hit

// Buffer holds entries for a TTL window, expiring from the front. It is
// owned by the session's single writer and not internally synchronized.
type Buffer struct {
	ttl     time.Duration
	now     func() time.Time
	entries []Entry // append order, timestamps non-decreasing
}

// NewBuffer creates a buffer with the given TTL (default 24h when zero).
func NewBuffer(ttl time.Duration) *Buffer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Buffer{ttl: ttl, now: time.Now}
}

// Add appends an entry and drops anything expired.
func (b *Buffer) Add(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	if e.Importance < 1 || e.Importance > 10 {
		e.Importance = 5
	}
	b.entries = append(b.entries, e)
	b.expire()
}

// expire drops entries older than the TTL. Entries are appended in time
// order, so expiry only ever trims the front.
func (b *Buffer) expire() {
	cutoff := b.now().Add(-b.ttl)
	i := 0
	for i < len(b.entries) && b.entries[i].Timestamp.Before(cutoff) {
		i++
	}
	b.entries = b.entries[i:]
}

// Search ranks live entries by word overlap with the query, weighted by
// importance. Zero-overlap entries are omitted.
func (b *Buffer) Search(query string, topN int) []Hit {
	b.expire()
	var hits []Hit
	for _, e := range b.entries {
		sim := text.Jaccard(query, e.Content)
		if sim == 0 {
			continue
		}
		hits = append(hits, Hit{Entry: e, Score: sim * float64(e.Importance) / 10})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entry.Timestamp.After(hits[j].Entry.Timestamp)
	})
	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}
	return hits
}

// CombinedQuery merges hot-buffer hits with externally-scored semantic hits,
// buffer first, deduplicated by entry id.
func (b *Buffer) CombinedQuery(query string, semantic SemanticFunc, topN int) []Hit {
	hits := b.Search(query, topN)
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		seen[h.Entry.ID] = struct{}{}
	}
	if semantic != nil {
		for _, h := range semantic(query, topN) {
			if _, dup := seen[h.Entry.ID]; dup {
				continue
			}
			seen[h.Entry.ID] = struct{}{}
			hits = append(hits, h)
		}
	}
	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}
	return hits
}

// Recent returns the live entries in append order.
func (b *Buffer) Recent() []Entry {
	b.expire()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the live entry count.
func (b *Buffer) Len() int {
	b.expire()
	return len(b.entries)
}

// Clear drops everything.
func (b *Buffer) Clear() {
	b.entries = nil
}
