package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath      string         `json:"db_path"`
	DBSizeBytes int64          `json:"db_size_bytes"`
	TotalEvents int            `json:"total_events"`
	LiveEvents  int            `json:"live_events"`
	LiveTokens  int            `json:"live_tokens"`
	TaskStates  int            `json:"task_states"`
	Sessions    []SessionStats `json:"sessions"`
}

// SessionStats holds per-session counts.
type SessionStats struct {
	SessionKey string `json:"session_key"`
	Events     int    `json:"events"`
	Live       int    `json:"live"`
	LiveTokens int    `json:"live_tokens"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.TotalEvents)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE evicted_by IS NULL`).Scan(&st.LiveEvents)
	s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(tokens), 0) FROM events WHERE evicted_by IS NULL`).Scan(&st.LiveTokens)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_states`).Scan(&st.TaskStates)

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_key,
		       COUNT(*) as cnt,
		       SUM(CASE WHEN evicted_by IS NULL THEN 1 ELSE 0 END) as live,
		       COALESCE(SUM(CASE WHEN evicted_by IS NULL THEN tokens ELSE 0 END), 0) as live_tokens
		FROM events
		GROUP BY session_key ORDER BY cnt DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ss SessionStats
		rows.Scan(&ss.SessionKey, &ss.Events, &ss.Live, &ss.LiveTokens)
		st.Sessions = append(st.Sessions, ss)
	}

	return st, nil
}
