package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/memcore/internal/event"
)

// Filter narrows an event read. The zero value reads everything.
type Filter struct {
	SessionKey     string
	Kinds          []event.Kind
	TaskID         string
	Since          time.Time
	Until          time.Time
	AfterID        string // exclusive; restarts a forward scan from any id
	Limit          int    // 0 = unlimited
	IncludeEvicted bool
}

func (f Filter) clauses() (string, []interface{}) {
	where := []string{"1=1"}
	var args []interface{}

	if !f.IncludeEvicted {
		where = append(where, "evicted_by IS NULL")
	}
	if f.SessionKey != "" {
		where = append(where, "session_key = ?")
		args = append(args, f.SessionKey)
	}
	if len(f.Kinds) > 0 {
		ph := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			ph[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, fmt.Sprintf("kind IN (%s)", strings.Join(ph, ", ")))
	}
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}
	if f.AfterID != "" {
		where = append(where, "id > ?")
		args = append(args, f.AfterID)
	}
	return strings.Join(where, " AND "), args
}

// Events returns matching events in append order (id ascending). By default
// only the live view is visible; set IncludeEvicted to scan full history.
func (s *SQLiteStore) Events(ctx context.Context, f Filter) ([]event.Event, error) {
	where, args := f.clauses()
	query := selectEvents + " WHERE " + where + " ORDER BY id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Recent returns the last n live events of a session, in append order.
func (s *SQLiteStore) Recent(ctx context.Context, sessionKey string, n int) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEvents+` WHERE session_key = ? AND evicted_by IS NULL
		 ORDER BY id DESC LIMIT ?`, sessionKey, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into append order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// TotalLiveTokens sums the token estimates of a session's live view.
func (s *SQLiteStore) TotalLiveTokens(ctx context.Context, sessionKey string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(tokens), 0) FROM events
		 WHERE session_key = ? AND evicted_by IS NULL`, sessionKey).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum live tokens: %w", err)
	}
	return total, nil
}

// CountLive counts a session's live events.
func (s *SQLiteStore) CountLive(ctx context.Context, sessionKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE session_key = ? AND evicted_by IS NULL`,
		sessionKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count live: %w", err)
	}
	return n, nil
}

// MarkerEvent pairs a live compaction_marker event with its parsed marker.
type MarkerEvent struct {
	EventID string
	Marker  event.Marker
}

// Markers returns the session's live markers in append order.
func (s *SQLiteStore) Markers(ctx context.Context, sessionKey string) ([]MarkerEvent, error) {
	events, err := s.Events(ctx, Filter{
		SessionKey: sessionKey,
		Kinds:      []event.Kind{event.KindCompactionMarker},
	})
	if err != nil {
		return nil, err
	}
	markers := make([]MarkerEvent, 0, len(events))
	for _, e := range events {
		m, err := event.ParseMarker(e.Content)
		if err != nil {
			return nil, fmt.Errorf("marker event %s: %w", e.ID, err)
		}
		markers = append(markers, MarkerEvent{EventID: e.ID, Marker: m})
	}
	return markers, nil
}

// PendingEmbeddings returns live events still awaiting an embedding, oldest
// first. Used to requeue the worker after a restart.
func (s *SQLiteStore) PendingEmbeddings(ctx context.Context, sessionKey string, limit int) ([]event.Event, error) {
	query := selectEvents + ` WHERE session_key = ? AND embedding_status = 'pending'
	 AND evicted_by IS NULL ORDER BY id ASC`
	args := []interface{}{sessionKey}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending embeddings: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
