// Package store provides the durable, append-only SQLite event log: event
// identity and ordering, the live view maintained by compaction, the FTS5
// lexical index, and per-session task state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memcore/internal/event"
)

// SQLiteStore implements the event log on SQLite. Append calls for one
// session must be serialized by the caller; reads may run concurrently.
type SQLiteStore struct {
	db      *sql.DB
	entropy *ulid.MonotonicEntropy
}

// NewSQLiteStore opens or creates the event database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db: db,
		// Monotonic entropy keeps ids strictly increasing even within the
		// same millisecond, so lexicographic order equals append order.
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id               TEXT PRIMARY KEY,
		session_key      TEXT NOT NULL,
		turn_id          INTEGER NOT NULL,
		kind             TEXT NOT NULL,
		content          TEXT NOT NULL,
		tokens           INTEGER NOT NULL,
		created_at       TEXT NOT NULL,
		task_id          TEXT,
		premise_ref      TEXT,
		superseded_by    TEXT,
		tags             TEXT,
		artifact_id      TEXT,
		embedding_status TEXT NOT NULL DEFAULT 'pending',
		importance       INTEGER NOT NULL DEFAULT 5,
		evicted_by       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_key, id);
	CREATE INDEX IF NOT EXISTS idx_events_session_kind ON events(session_key, kind);
	CREATE INDEX IF NOT EXISTS idx_events_live ON events(session_key, evicted_by);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	CREATE INDEX IF NOT EXISTS idx_events_embedding ON events(embedding_status);

	CREATE TABLE IF NOT EXISTS task_states (
		session_key     TEXT PRIMARY KEY,
		version         INTEGER NOT NULL,
		task_id         TEXT NOT NULL,
		phase           TEXT NOT NULL,
		goals           TEXT,
		constraints     TEXT,
		open_loops      TEXT,
		next_actions    TEXT,
		key_events      TEXT,
		premise_version TEXT NOT NULL,
		extensions      TEXT,
		updated_at      TEXT NOT NULL,
		updated_by_turn INTEGER NOT NULL
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
		content,
		content=events,
		content_rowid=rowid
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers for automatic sync. Events are immutable; the delete
	// trigger only matters for hard imports and tests.
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS events_ai AFTER INSERT ON events BEGIN
		INSERT INTO events_fts(rowid, content) VALUES (new.rowid, new.content);
	END`)
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS events_ad AFTER DELETE ON events BEGIN
		INSERT INTO events_fts(events_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	END`)

	// Backfill FTS for any rows not yet indexed
	s.db.Exec(`INSERT OR IGNORE INTO events_fts(rowid, content) SELECT rowid, content FROM events`)

	return nil
}

// AppendParams holds parameters for appending an event.
type AppendParams struct {
	SessionKey string
	TurnID     int
	Kind       event.Kind
	Content    string
	Tokens     int // estimated from content when 0
	Metadata   event.Metadata
}

// Append assigns an id and timestamp, persists durably, and returns the
// finalized record. Write failures propagate; nothing partial is committed.
func (s *SQLiteStore) Append(ctx context.Context, p AppendParams) (*event.Event, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", event.ErrUnknownKind, p.Kind)
	}
	if p.SessionKey == "" {
		return nil, fmt.Errorf("append: session key required")
	}

	now := time.Now().UTC()
	e := &event.Event{
		ID:         s.newID(),
		Timestamp:  now,
		TurnID:     p.TurnID,
		SessionKey: p.SessionKey,
		Kind:       p.Kind,
		Content:    p.Content,
		Tokens:     p.Tokens,
		Metadata:   p.Metadata,
	}
	if e.Tokens == 0 {
		e.Tokens = event.EstimateTokens(p.Content)
	}
	if e.Metadata.EmbeddingStatus == "" {
		e.Metadata.EmbeddingStatus = event.EmbeddingPending
	}
	e.Metadata.Importance = e.Metadata.ImportanceOrDefault()

	var tagsJSON *string
	if len(e.Metadata.Tags) > 0 {
		b, _ := json.Marshal(e.Metadata.Tags)
		t := string(b)
		tagsJSON = &t
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, session_key, turn_id, kind, content, tokens, created_at,
		                     task_id, premise_ref, superseded_by, tags, artifact_id,
		                     embedding_status, importance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionKey, e.TurnID, string(e.Kind), e.Content, e.Tokens,
		now.Format(time.RFC3339Nano),
		nullable(e.Metadata.TaskID), nullable(e.Metadata.PremiseRef),
		nullable(e.Metadata.SupersededBy), tagsJSON, nullable(e.Metadata.ArtifactID),
		string(e.Metadata.EmbeddingStatus), e.Metadata.Importance)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	return e, nil
}

// Get returns a single event by id, evicted or not.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx, selectEvents+` WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SetEmbeddingStatus records the async embedding outcome for an event. The
// status column is worker bookkeeping, not event content.
func (s *SQLiteStore) SetEmbeddingStatus(ctx context.Context, id string, st event.EmbeddingStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET embedding_status = ? WHERE id = ?`, string(st), id)
	if err != nil {
		return fmt.Errorf("set embedding status: %w", err)
	}
	return nil
}

// MarkEvicted removes events from the live view, recording which compaction
// marker replaced them. The rows stay durable and retrievable.
func (s *SQLiteStore) MarkEvicted(ctx context.Context, ids []string, markerEventID string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET evicted_by = ? WHERE id = ? AND evicted_by IS NULL`,
			markerEventID, id); err != nil {
			return fmt.Errorf("mark evicted %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectEvents = `SELECT id, session_key, turn_id, kind, content, tokens, created_at,
       task_id, premise_ref, superseded_by, tags, artifact_id, embedding_status, importance
FROM events`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (event.Event, error) {
	var e event.Event
	var kind, createdAt, embeddingStatus string
	var taskID, premiseRef, supersededBy, tagsJSON, artifactID sql.NullString

	err := row.Scan(
		&e.ID, &e.SessionKey, &e.TurnID, &kind, &e.Content, &e.Tokens, &createdAt,
		&taskID, &premiseRef, &supersededBy, &tagsJSON, &artifactID,
		&embeddingStatus, &e.Metadata.Importance,
	)
	if err != nil {
		return e, err
	}

	e.Kind = event.Kind(kind)
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.Metadata.EmbeddingStatus = event.EmbeddingStatus(embeddingStatus)
	if taskID.Valid {
		e.Metadata.TaskID = taskID.String
	}
	if premiseRef.Valid {
		e.Metadata.PremiseRef = premiseRef.String
	}
	if supersededBy.Valid {
		e.Metadata.SupersededBy = supersededBy.String
	}
	if artifactID.Valid {
		e.Metadata.ArtifactID = artifactID.String
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &e.Metadata.Tags)
	}

	return e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
