package consolidate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rcliao/memcore/internal/artifact"
	"github.com/rcliao/memcore/internal/config"
	"github.com/rcliao/memcore/internal/store"
)

// NightlyResult wraps one self-contained consolidation run.
type NightlyResult struct {
	SessionKey string  `json:"session_key"`
	Result     *Result `json:"result"`
}

// RunNightlyConsolidation opens the store at baseDir, consolidates one
// session, and closes everything. Safe to call from a timer, cron, or the
// CLI; concurrent runs against the same session are the caller's problem,
// matching the single-writer contract.
func RunNightlyConsolidation(ctx context.Context, baseDir, sessionKey string, opts Options) (*NightlyResult, error) {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, err
	}
	if opts.EpisodeGap <= 0 {
		opts.EpisodeGap = time.Duration(cfg.EpisodeGapMinutes) * time.Minute
	}
	if opts.ArtifactThreshold <= 0 {
		opts.ArtifactThreshold = cfg.ArtifactThresholdBytes
	}

	s, err := store.NewSQLiteStore(filepath.Join(baseDir, "events.db"))
	if err != nil {
		return nil, fmt.Errorf("nightly consolidation: %w", err)
	}
	defer s.Close()

	artifacts, err := artifact.NewStore(baseDir, artifact.PreviewConfig{
		LogTailLines:      cfg.LogTailLines,
		CSVSampleRows:     cfg.CSVSampleRows,
		JSONSkeletonDepth: cfg.JSONSkeletonDepth,
		TextPreviewChars:  cfg.TextPreviewChars,
	})
	if err != nil {
		return nil, err
	}

	r, err := NewRunner(s, artifacts, baseDir, opts)
	if err != nil {
		return nil, err
	}
	res, err := r.Consolidate(ctx, sessionKey, nil)
	if err != nil {
		return nil, err
	}
	return &NightlyResult{SessionKey: sessionKey, Result: res}, nil
}
