// Package artifact implements the content-addressed overflow store for event
// payloads that exceed the inline size threshold, with content-type-aware
// bounded previews.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContentType selects the preview strategy for a blob.
type ContentType string

const (
	TypeLog    ContentType = "log"
	TypeJSON   ContentType = "json"
	TypeCSV    ContentType = "csv"
	TypeSearch ContentType = "search"
	TypeText   ContentType = "text"
)

// ParseContentType validates a content type string.
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(s) {
	case TypeLog, TypeJSON, TypeCSV, TypeSearch, TypeText:
		return ContentType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownContentType, s)
}

// Preview is the stored metadata and bounded preview for an artifact.
type Preview struct {
	ArtifactID  string      `json:"artifact_id"`
	ContentType ContentType `json:"content_type"`
	Preview     string      `json:"preview"`
	TotalSize   int         `json:"total_size"`
	LineCount   int         `json:"line_count"`
}

// Store persists artifacts content-addressed under <baseDir>/artifacts.
// Blobs are written once and never mutated; identical content maps to the
// same artifact id.
type Store struct {
	baseDir string
	preview PreviewConfig
}

// NewStore creates the artifacts directory if needed.
func NewStore(baseDir string, cfg PreviewConfig) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &Store{baseDir: baseDir, preview: cfg}, nil
}

func (s *Store) blobPath(id string) string {
	return filepath.Join(s.baseDir, "artifacts", id)
}

func (s *Store) metaPath(id string) string {
	return filepath.Join(s.baseDir, "artifacts", id+".meta.json")
}

// Put stores content under its SHA-256 address and computes the preview
// synchronously. Re-storing identical content is a no-op returning the
// existing preview.
func (s *Store) Put(content string, contentType ContentType) (Preview, error) {
	sum := sha256.Sum256([]byte(content))
	id := hex.EncodeToString(sum[:])

	if p, err := s.Meta(id); err == nil {
		return p, nil
	}

	p := Preview{
		ArtifactID:  id,
		ContentType: contentType,
		Preview:     GeneratePreview(content, contentType, s.preview),
		TotalSize:   len(content),
		LineCount:   strings.Count(content, "\n") + 1,
	}

	if err := os.WriteFile(s.blobPath(id), []byte(content), 0o644); err != nil {
		return Preview{}, fmt.Errorf("write artifact %s: %w", id, err)
	}
	meta, err := json.Marshal(p)
	if err != nil {
		return Preview{}, fmt.Errorf("marshal artifact meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath(id), meta, 0o644); err != nil {
		return Preview{}, fmt.Errorf("write artifact meta %s: %w", id, err)
	}
	return p, nil
}

// Get returns the full content for an artifact id.
func (s *Store) Get(artifactID string) (string, error) {
	b, err := os.ReadFile(s.blobPath(artifactID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, artifactID)
		}
		return "", fmt.Errorf("read artifact %s: %w", artifactID, err)
	}
	return string(b), nil
}

// Meta returns the stored preview metadata for an artifact id.
func (s *Store) Meta(artifactID string) (Preview, error) {
	b, err := os.ReadFile(s.metaPath(artifactID))
	if err != nil {
		if os.IsNotExist(err) {
			return Preview{}, fmt.Errorf("%w: %s", ErrNotFound, artifactID)
		}
		return Preview{}, fmt.Errorf("read artifact meta %s: %w", artifactID, err)
	}
	var p Preview
	if err := json.Unmarshal(b, &p); err != nil {
		return Preview{}, fmt.Errorf("decode artifact meta %s: %w", artifactID, err)
	}
	return p, nil
}
