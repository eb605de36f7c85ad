package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rcliao/memcore/internal/task"
)

// TaskState loads the session's live task state, or nil when none was set.
func (s *SQLiteStore) TaskState(ctx context.Context, sessionKey string) (*task.State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, task_id, phase, goals, constraints, open_loops, next_actions,
		        key_events, premise_version, extensions, updated_at, updated_by_turn
		 FROM task_states WHERE session_key = ?`, sessionKey)

	var st task.State
	var phase, updatedAt string
	var goals, constraints, openLoops, nextActions, keyEvents, extensions sql.NullString

	err := row.Scan(&st.Version, &st.TaskID, &phase, &goals, &constraints,
		&openLoops, &nextActions, &keyEvents, &st.PremiseVersion, &extensions,
		&updatedAt, &st.UpdatedByTurn)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load task state: %w", err)
	}

	st.Phase = task.Phase(phase)
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	unmarshalList(goals, &st.Goals)
	unmarshalList(constraints, &st.Constraints)
	unmarshalList(openLoops, &st.OpenLoops)
	unmarshalList(nextActions, &st.NextActions)
	unmarshalList(keyEvents, &st.KeyEvents)
	if extensions.Valid {
		json.Unmarshal([]byte(extensions.String), &st.Extensions)
	}
	return &st, nil
}

// PutTaskState upserts the session's single live state. Versioning and
// fingerprint recompute are the caller's concern (task.Apply).
func (s *SQLiteStore) PutTaskState(ctx context.Context, sessionKey string, st *task.State) error {
	if st == nil {
		return fmt.Errorf("put task state: nil state")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_states (session_key, version, task_id, phase, goals, constraints,
		                          open_loops, next_actions, key_events, premise_version,
		                          extensions, updated_at, updated_by_turn)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET
		   version = excluded.version,
		   task_id = excluded.task_id,
		   phase = excluded.phase,
		   goals = excluded.goals,
		   constraints = excluded.constraints,
		   open_loops = excluded.open_loops,
		   next_actions = excluded.next_actions,
		   key_events = excluded.key_events,
		   premise_version = excluded.premise_version,
		   extensions = excluded.extensions,
		   updated_at = excluded.updated_at,
		   updated_by_turn = excluded.updated_by_turn`,
		sessionKey, st.Version, st.TaskID, string(st.Phase),
		marshalList(st.Goals), marshalList(st.Constraints),
		marshalList(st.OpenLoops), marshalList(st.NextActions), marshalList(st.KeyEvents),
		st.PremiseVersion, marshalMap(st.Extensions),
		st.UpdatedAt.UTC().Format(time.RFC3339Nano), st.UpdatedByTurn)
	if err != nil {
		return fmt.Errorf("put task state: %w", err)
	}
	return nil
}

func marshalList(items []string) *string {
	if len(items) == 0 {
		return nil
	}
	b, _ := json.Marshal(items)
	s := string(b)
	return &s
}

func marshalMap(m map[string]string) *string {
	if len(m) == 0 {
		return nil
	}
	b, _ := json.Marshal(m)
	s := string(b)
	return &s
}

func unmarshalList(ns sql.NullString, dst *[]string) {
	if ns.Valid {
		json.Unmarshal([]byte(ns.String), dst)
	}
}
