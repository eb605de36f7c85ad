package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memcore/internal/config"
	"github.com/rcliao/memcore/internal/embedding"
	"github.com/rcliao/memcore/internal/event"
	"github.com/rcliao/memcore/internal/task"
)

// flatEmbedder gives every text the same unit vector; enough to exercise the
// async pipeline without semantic behavior.
type flatEmbedder struct{}

func (flatEmbedder) Embed(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	vecs := make([]embedding.Vector, len(texts))
	for i := range texts {
		vecs[i] = embedding.Vector{1, 0, 0, 0}
	}
	return vecs, nil
}

func (flatEmbedder) Dims() int { return 4 }

func newTestEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Dimensions = 4
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := Open(t.TempDir(), Options{Config: &cfg, Embedder: flatEmbedder{}})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestIngestImportanceDefaults(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	user, err := e.IngestUserMessage(ctx, "sess", 1, "please fix the bug", event.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, 7, user.Metadata.Importance)

	agent, err := e.IngestAgentMessage(ctx, "sess", 1, "on it", event.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, 5, agent.Metadata.Importance)

	result, err := e.IngestToolResult(ctx, "sess", 2, "short output", "", event.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, event.KindToolResult, result.Kind)
	assert.Equal(t, 3, result.Metadata.Importance)
}

func TestToolResultSpillsToArtifact(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.ArtifactThresholdBytes = 100 })
	ctx := context.Background()

	big := strings.Repeat("log line with details\n", 50)
	ev, err := e.IngestToolResult(ctx, "sess", 1, big, "log", event.Metadata{})
	require.NoError(t, err)

	assert.Equal(t, event.KindArtifactReference, ev.Kind)
	require.NotEmpty(t, ev.Metadata.ArtifactID)
	assert.Less(t, len(ev.Content), len(big), "the event carries the preview, not the payload")

	full, err := e.Artifacts().Get(ev.Metadata.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, big, full)
}

func TestIngestFeedsEpisodicBuffer(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.IngestUserMessage(ctx, "sess", 1, "rotate the api keys", event.Metadata{})
	require.NoError(t, err)

	assert.Equal(t, 1, e.Buffer().Len())
	hits := e.Buffer().Search("rotate api keys", 5)
	require.Len(t, hits, 1)
}

func TestRecallMergesQueriesUnderBudget(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.IngestAgentMessage(ctx, "sess", 1, "database migration completed cleanly", event.Metadata{})
	require.NoError(t, err)
	_, err = e.IngestAgentMessage(ctx, "sess", 2, "cache invalidation still pending", event.Metadata{})
	require.NoError(t, err)
	e.FlushEmbeddings(ctx)

	res, err := e.Recall(ctx, RecallRequest{
		SessionKey: "sess",
		Queries:    []string{"database migration", "cache invalidation"},
		MaxTokens:  1000,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.QueryCount)
	assert.GreaterOrEqual(t, res.TotalCandidates, 2)
	require.Len(t, res.Events, 2, "each query surfaces its event, merged without duplicates")
	assert.LessOrEqual(t, res.TotalTokens, 1000)
}

func TestRecallBudgetStopsPacking(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.IngestAgentMessage(ctx, "sess", i, "repeated searchable phrase "+strings.Repeat("pad ", 20), event.Metadata{})
		require.NoError(t, err)
	}

	res, err := e.Recall(ctx, RecallRequest{
		SessionKey: "sess",
		Queries:    []string{"repeated searchable phrase"},
		MaxTokens:  60,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.TotalTokens, 60)
	assert.Less(t, len(res.Events), 5)
}

func TestMaybeCompactBelowThreshold(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.IngestUserMessage(ctx, "sess", 1, "tiny", event.Metadata{})
	require.NoError(t, err)

	res, err := e.MaybeCompact(ctx, "sess")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMaybeCompactAboveThreshold(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) {
		c.ContextWindow = 500
		c.HotTailTurns = 2
	})
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		_, err := e.IngestToolCall(ctx, "sess", i, strings.Repeat("work", 50), event.Metadata{})
		require.NoError(t, err)
	}

	res, err := e.MaybeCompact(ctx, "sess")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Greater(t, res.EventsEvicted, 0)
}

func TestUpdateTaskStateCreatesThenBumps(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	st, err := e.UpdateTaskState(ctx, "sess", task.Update{
		TaskID: "task-1",
		Phase:  task.PhaseExecuting,
		Goals:  []string{"first goal"},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Version, "New starts at 1, Apply bumps")
	fp := st.PremiseVersion

	st, err = e.UpdateTaskState(ctx, "sess", task.Update{Goals: []string{"revised goal"}}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Version)
	assert.NotEqual(t, fp, st.PremiseVersion)

	loaded, err := e.TaskState(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, st.Version, loaded.Version)
}
