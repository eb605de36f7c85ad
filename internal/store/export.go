package store

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rcliao/memcore/internal/event"
)

// exportRecord is one JSONL line: the event plus eviction bookkeeping, which
// lives outside the immutable event itself.
type exportRecord struct {
	event.Event
	EvictedBy string `json:"evicted_by,omitempty"`
}

// ExportJSONL writes a session's full history (live and evicted) to w, one
// JSON object per line, in append order.
func (s *SQLiteStore) ExportJSONL(ctx context.Context, sessionKey string, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_key, turn_id, kind, content, tokens, created_at,
		        task_id, premise_ref, superseded_by, tags, artifact_id,
		        embedding_status, importance, evicted_by
		 FROM events WHERE session_key = ? ORDER BY id ASC`, sessionKey)
	if err != nil {
		return 0, fmt.Errorf("export query: %w", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	n := 0
	for rows.Next() {
		rec, err := scanExportRecord(rows)
		if err != nil {
			return n, err
		}
		if err := enc.Encode(rec); err != nil {
			return n, fmt.Errorf("encode event %s: %w", rec.ID, err)
		}
		n++
	}
	return n, rows.Err()
}

// ImportJSONL reads JSONL records from r and inserts them with their original
// ids and timestamps. Events whose id already exists are skipped, so an
// import is safe to repeat. Returns (imported, skipped).
func (s *SQLiteStore) ImportJSONL(ctx context.Context, r io.Reader) (int, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	imported, skipped := 0, 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec exportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return imported, skipped, fmt.Errorf("parse line %d: %w", imported+skipped+1, err)
		}
		if !rec.Kind.Valid() {
			return imported, skipped, fmt.Errorf("line %d: %w: %q", imported+skipped+1, event.ErrUnknownKind, rec.Kind)
		}

		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM events WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
			return imported, skipped, err
		}
		if exists > 0 {
			skipped++
			continue
		}

		var tagsJSON *string
		if len(rec.Metadata.Tags) > 0 {
			b, _ := json.Marshal(rec.Metadata.Tags)
			t := string(b)
			tagsJSON = &t
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO events (id, session_key, turn_id, kind, content, tokens, created_at,
			                     task_id, premise_ref, superseded_by, tags, artifact_id,
			                     embedding_status, importance, evicted_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.SessionKey, rec.TurnID, string(rec.Kind), rec.Content, rec.Tokens,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			nullable(rec.Metadata.TaskID), nullable(rec.Metadata.PremiseRef),
			nullable(rec.Metadata.SupersededBy), tagsJSON, nullable(rec.Metadata.ArtifactID),
			string(rec.Metadata.EmbeddingStatus), rec.Metadata.ImportanceOrDefault(),
			nullable(rec.EvictedBy))
		if err != nil {
			return imported, skipped, fmt.Errorf("import event %s: %w", rec.ID, err)
		}
		imported++
	}
	return imported, skipped, scanner.Err()
}

func scanExportRecord(row scanner) (exportRecord, error) {
	var rec exportRecord
	var kind, createdAt, embeddingStatus string
	var taskID, premiseRef, supersededBy, tagsJSON, artifactID, evictedBy sql.NullString

	err := row.Scan(
		&rec.ID, &rec.SessionKey, &rec.TurnID, &kind, &rec.Content, &rec.Tokens, &createdAt,
		&taskID, &premiseRef, &supersededBy, &tagsJSON, &artifactID,
		&embeddingStatus, &rec.Metadata.Importance, &evictedBy,
	)
	if err != nil {
		return rec, err
	}

	rec.Kind = event.Kind(kind)
	rec.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.Metadata.EmbeddingStatus = event.EmbeddingStatus(embeddingStatus)
	rec.Metadata.TaskID = taskID.String
	rec.Metadata.PremiseRef = premiseRef.String
	rec.Metadata.SupersededBy = supersededBy.String
	rec.Metadata.ArtifactID = artifactID.String
	rec.EvictedBy = evictedBy.String
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &rec.Metadata.Tags)
	}
	return rec, nil
}
