// Package engine wires the stores, the search index, the compactor, the
// assembler, and the episodic buffer behind one handle. All dependencies are
// injected explicitly; there is no global registry.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rcliao/memcore/internal/artifact"
	"github.com/rcliao/memcore/internal/compact"
	"github.com/rcliao/memcore/internal/config"
	"github.com/rcliao/memcore/internal/consolidate"
	"github.com/rcliao/memcore/internal/embedding"
	"github.com/rcliao/memcore/internal/episodic"
	"github.com/rcliao/memcore/internal/event"
	"github.com/rcliao/memcore/internal/logging"
	"github.com/rcliao/memcore/internal/pushpack"
	"github.com/rcliao/memcore/internal/search"
	"github.com/rcliao/memcore/internal/store"
	"github.com/rcliao/memcore/internal/task"
)

// Engine is the session-scoped handle over the whole memory subsystem.
type Engine struct {
	cfg       config.Config
	log       logging.Logger
	store     *store.SQLiteStore
	artifacts *artifact.Store
	cache     *embedding.Cache
	worker    *embedding.Worker
	index     *search.Index
	compactor *compact.Engine
	assembler *pushpack.Assembler
	runner    *consolidate.Runner
	buffer    *episodic.Buffer
}

// Options overrides engine construction. Zero values take config or env
// defaults.
type Options struct {
	Config   *config.Config
	Logger   logging.Logger
	Embedder embedding.Embedder // nil → from env; may stay nil (lexical only)
}

// Open builds an engine rooted at baseDir, creating the directory layout on
// first use.
func Open(baseDir string, opts Options) (*Engine, error) {
	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		var err error
		cfg, err = config.Load(baseDir)
		if err != nil {
			return nil, err
		}
	}

	log := opts.Logger
	if log == nil {
		log = logging.NoOp{}
	}

	s, err := store.NewSQLiteStore(filepath.Join(baseDir, "events.db"))
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	artifacts, err := artifact.NewStore(baseDir, artifact.PreviewConfig{
		LogTailLines:      cfg.LogTailLines,
		CSVSampleRows:     cfg.CSVSampleRows,
		JSONSkeletonDepth: cfg.JSONSkeletonDepth,
		TextPreviewChars:  cfg.TextPreviewChars,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	cache, err := embedding.NewCache(baseDir, cfg.Dimensions, cfg.MemCacheSize)
	if err != nil {
		s.Close()
		return nil, err
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = embedding.NewFromEnv()
	}

	e := &Engine{
		cfg:       cfg,
		log:       log,
		store:     s,
		artifacts: artifacts,
		cache:     cache,
		buffer:    episodic.NewBuffer(time.Duration(cfg.EpisodicTTLHours) * time.Hour),
	}

	if embedder != nil {
		status := func(ctx context.Context, eventID string, failed bool) {
			st := event.EmbeddingComplete
			if failed {
				st = event.EmbeddingFailed
			}
			if err := s.SetEmbeddingStatus(ctx, eventID, st); err != nil {
				log.Warn("embedding status update failed", "event_id", eventID, "err", err)
			}
		}
		e.worker = embedding.NewWorker(embedder, cache, status, log, cfg.EmbedBatch, 5*time.Second)
	}

	e.index = search.NewIndex(s, cache, embedder, cfg)
	e.compactor = compact.NewEngine(s, cfg, log)
	e.assembler = pushpack.NewAssembler(s, e.index, cfg)

	e.runner, err = consolidate.NewRunner(s, artifacts, baseDir, consolidate.Options{
		Logger:            log,
		EpisodeGap:        time.Duration(cfg.EpisodeGapMinutes) * time.Minute,
		ArtifactThreshold: cfg.ArtifactThresholdBytes,
	})
	if err != nil {
		e.Close()
		return nil, err
	}

	return e, nil
}

// Store exposes the event log for read paths and tooling.
func (e *Engine) Store() *store.SQLiteStore { return e.store }

// Artifacts exposes the artifact store.
func (e *Engine) Artifacts() *artifact.Store { return e.artifacts }

// Index exposes the search index.
func (e *Engine) Index() *search.Index { return e.index }

// Buffer exposes the episodic hot buffer.
func (e *Engine) Buffer() *episodic.Buffer { return e.buffer }

// Config returns the effective configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// defaultImportance maps kinds to ingestion-time importance scores.
func defaultImportance(k event.Kind) int {
	switch k {
	case event.KindUserMessage:
		return 7
	case event.KindToolResult, event.KindArtifactReference:
		return 3
	default:
		return 5
	}
}

// Ingest appends an event of any kind, queues its embedding, and mirrors it
// into the episodic buffer. Adjacent subsystems use this for their own kinds
// (persona_state, debate_synthesis, ...); conversational kinds have typed
// helpers below.
func (e *Engine) Ingest(ctx context.Context, sessionKey string, turnID int, kind event.Kind, content string, meta event.Metadata) (*event.Event, error) {
	return e.ingest(ctx, sessionKey, turnID, kind, content, meta)
}

// ingest appends one event, queues its embedding, and mirrors it into the
// episodic buffer.
func (e *Engine) ingest(ctx context.Context, sessionKey string, turnID int, kind event.Kind, content string, meta event.Metadata) (*event.Event, error) {
	if meta.Importance == 0 {
		meta.Importance = defaultImportance(kind)
	}
	ev, err := e.store.Append(ctx, store.AppendParams{
		SessionKey: sessionKey,
		TurnID:     turnID,
		Kind:       kind,
		Content:    content,
		Metadata:   meta,
	})
	if err != nil {
		return nil, err
	}
	if e.worker != nil {
		e.worker.Enqueue(ev.ID, ev.Content)
	}
	e.buffer.Add(episodic.Entry{
		ID:         ev.ID,
		Timestamp:  ev.Timestamp,
		Content:    ev.Content,
		Source:     string(kind),
		Importance: meta.Importance,
	})
	return ev, nil
}

// IngestUserMessage records a user turn.
func (e *Engine) IngestUserMessage(ctx context.Context, sessionKey string, turnID int, content string, meta event.Metadata) (*event.Event, error) {
	return e.ingest(ctx, sessionKey, turnID, event.KindUserMessage, content, meta)
}

// IngestAgentMessage records an agent turn.
func (e *Engine) IngestAgentMessage(ctx context.Context, sessionKey string, turnID int, content string, meta event.Metadata) (*event.Event, error) {
	return e.ingest(ctx, sessionKey, turnID, event.KindAgentMessage, content, meta)
}

// IngestToolCall records a tool invocation.
func (e *Engine) IngestToolCall(ctx context.Context, sessionKey string, turnID int, content string, meta event.Metadata) (*event.Event, error) {
	return e.ingest(ctx, sessionKey, turnID, event.KindToolCall, content, meta)
}

// IngestSystemEvent records a system-level event.
func (e *Engine) IngestSystemEvent(ctx context.Context, sessionKey string, turnID int, content string, meta event.Metadata) (*event.Event, error) {
	return e.ingest(ctx, sessionKey, turnID, event.KindSystemEvent, content, meta)
}

// IngestToolResult records tool output. Output above the artifact threshold
// is spilled to the artifact store; the event then carries the preview and
// an artifact reference instead of the full payload.
func (e *Engine) IngestToolResult(ctx context.Context, sessionKey string, turnID int, content string, contentType artifact.ContentType, meta event.Metadata) (*event.Event, error) {
	if len(content) <= e.cfg.ArtifactThresholdBytes {
		return e.ingest(ctx, sessionKey, turnID, event.KindToolResult, content, meta)
	}
	if contentType == "" {
		contentType = artifact.TypeText
	}
	preview, err := e.artifacts.Put(content, contentType)
	if err != nil {
		return nil, fmt.Errorf("spill tool result: %w", err)
	}
	meta.ArtifactID = preview.ArtifactID
	return e.ingest(ctx, sessionKey, turnID, event.KindArtifactReference, preview.Preview, meta)
}

// RecallRequest asks for ranked memory across one or more queries.
type RecallRequest struct {
	SessionKey string
	Queries    []string
	MaxTokens  int
	TaskID     string
	Kinds      []event.Kind
	TopN       int
}

// RecallResult carries the ranked, budget-packed events plus search stats.
type RecallResult struct {
	Events          []search.Candidate `json:"events"`
	TotalTokens     int                `json:"total_tokens"`
	TotalCandidates int                `json:"total_candidates"`
	QueryCount      int                `json:"query_count"`
}

// Recall runs every query through hybrid search, merges by best score per
// event, and packs the winners under the token budget.
func (e *Engine) Recall(ctx context.Context, req RecallRequest) (*RecallResult, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = e.cfg.RecallMaxTokens
	}

	res := &RecallResult{QueryCount: len(req.Queries)}
	best := make(map[string]search.Candidate)
	for _, q := range req.Queries {
		candidates, err := e.index.Hybrid(ctx, search.Params{
			SessionKey: req.SessionKey,
			Query:      q,
			TaskID:     req.TaskID,
			Kinds:      req.Kinds,
			TopN:       req.TopN,
		})
		if err != nil {
			return nil, err
		}
		res.TotalCandidates += len(candidates)
		for _, c := range candidates {
			if prev, ok := best[c.Event.ID]; !ok || c.Score > prev.Score {
				best[c.Event.ID] = c
			}
		}
	}

	merged := make([]search.Candidate, 0, len(best))
	for _, c := range best {
		merged = append(merged, c)
	}
	search.Sort(merged)

	for _, c := range merged {
		if res.TotalTokens+c.Event.Tokens > maxTokens {
			break
		}
		res.Events = append(res.Events, c)
		res.TotalTokens += c.Event.Tokens
	}
	logging.WithSession(e.log, req.SessionKey).Debug("recall",
		"queries", res.QueryCount, "candidates", res.TotalCandidates,
		"events", len(res.Events), "tokens", res.TotalTokens)
	return res, nil
}

// BuildPack assembles a budgeted context payload for a query.
func (e *Engine) BuildPack(ctx context.Context, sessionKey, query string, budget int) (*pushpack.Pack, error) {
	return e.assembler.Build(ctx, pushpack.Request{
		SessionKey: sessionKey,
		Query:      query,
		Budget:     budget,
	})
}

// MaybeCompact runs compaction when the live view has crossed the trigger
// threshold. Returns nil when nothing needed doing.
func (e *Engine) MaybeCompact(ctx context.Context, sessionKey string) (*compact.Result, error) {
	needed, err := e.compactor.NeedsCompaction(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, nil
	}
	res, err := e.Compact(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Compact forces a compaction pass regardless of the trigger.
func (e *Engine) Compact(ctx context.Context, sessionKey string) (compact.Result, error) {
	res, err := e.compactor.Compact(ctx, sessionKey)
	if err == nil && res.EventsEvicted > 0 {
		logging.WithSession(e.log, sessionKey).Info("compaction complete",
			"markers", res.MarkersCreated, "evicted", res.EventsEvicted,
			"tokens", res.TokensEvicted)
	}
	return res, err
}

// Consolidate runs the episode pipeline for a session.
func (e *Engine) Consolidate(ctx context.Context, sessionKey string, since *time.Time) (*consolidate.Result, error) {
	return e.runner.Consolidate(ctx, sessionKey, since)
}

// TaskState loads the session's live task state, or nil.
func (e *Engine) TaskState(ctx context.Context, sessionKey string) (*task.State, error) {
	return e.store.TaskState(ctx, sessionKey)
}

// UpdateTaskState applies a structural update, creating version 1 when the
// session has no state yet.
func (e *Engine) UpdateTaskState(ctx context.Context, sessionKey string, u task.Update, turnID int) (*task.State, error) {
	st, err := e.store.TaskState(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = task.New(u.TaskID)
	}
	st.Apply(u, turnID)
	if err := e.store.PutTaskState(ctx, sessionKey, st); err != nil {
		return nil, err
	}
	return st, nil
}

// FlushEmbeddings synchronously drains the embedding queue.
func (e *Engine) FlushEmbeddings(ctx context.Context) {
	if e.worker != nil {
		e.worker.Flush(ctx)
	}
}

// Close stops the embedding worker and closes the store.
func (e *Engine) Close() error {
	if e.worker != nil {
		e.worker.Stop(context.Background())
	}
	return e.store.Close()
}
