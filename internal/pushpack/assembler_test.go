package pushpack

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memcore/internal/config"
	"github.com/rcliao/memcore/internal/embedding"
	"github.com/rcliao/memcore/internal/event"
	"github.com/rcliao/memcore/internal/search"
	"github.com/rcliao/memcore/internal/store"
	"github.com/rcliao/memcore/internal/task"
)

func newTestAssembler(t *testing.T) (*Assembler, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	cache, err := embedding.NewCache(dir, cfg.Dimensions, cfg.MemCacheSize)
	require.NoError(t, err)
	ix := search.NewIndex(s, cache, nil, cfg)
	return NewAssembler(s, ix, cfg), s
}

func seedSession(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	st := task.New("task-1")
	st.Apply(task.Update{
		Phase: task.PhaseExecuting,
		Goals: []string{"implement retrieval budgeting"},
	}, 1)
	require.NoError(t, s.PutTaskState(ctx, "sess", st))

	m := event.Marker{StartTurnID: 1, EndTurnID: 5, EventCount: 9, TokenCount: 500, TopicHints: []string{"setup"}}
	_, err := s.Append(ctx, store.AppendParams{
		SessionKey: "sess", TurnID: 5, Kind: event.KindCompactionMarker,
		Content: event.MarshalMarker(m),
	})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := s.Append(ctx, store.AppendParams{
			SessionKey: "sess", TurnID: 6 + i, Kind: event.KindAgentMessage,
			Content: "retrieval budgeting detail number " + strings.Repeat("x", 50),
		})
		require.NoError(t, err)
	}
}

func TestBuildRespectsOverallBudget(t *testing.T) {
	a, s := newTestAssembler(t)
	seedSession(t, s)

	budget := 60
	pack, err := a.Build(context.Background(), Request{SessionKey: "sess", Query: "retrieval budgeting", Budget: budget})
	require.NoError(t, err)

	assert.LessOrEqual(t, pack.TotalTokens, budget)
	sum := 0
	for _, sec := range pack.Sections {
		sum += sec.Tokens
	}
	assert.Equal(t, pack.TotalTokens, sum)
}

func TestBuildTaskStateAlwaysPresent(t *testing.T) {
	a, s := newTestAssembler(t)
	seedSession(t, s)

	// Budget so small the task render alone exceeds its fraction: it is
	// truncated, never dropped.
	pack, err := a.Build(context.Background(), Request{SessionKey: "sess", Query: "retrieval", Budget: 30})
	require.NoError(t, err)

	require.NotEmpty(t, pack.Sections)
	assert.Equal(t, "task_state", pack.Sections[0].Name)
	assert.True(t, pack.Truncated)
	assert.LessOrEqual(t, pack.BudgetUsed["task_state"], 3) // 10% of 30
}

func TestBuildSectionOrderAndFractions(t *testing.T) {
	a, s := newTestAssembler(t)
	seedSession(t, s)

	budget := 400
	pack, err := a.Build(context.Background(), Request{SessionKey: "sess", Query: "retrieval budgeting detail", Budget: budget})
	require.NoError(t, err)

	// task state, then markers, then events — never interleaved
	var order []string
	for _, sec := range pack.Sections {
		if len(order) == 0 || order[len(order)-1] != sec.Name {
			order = append(order, sec.Name)
		}
	}
	assert.Equal(t, []string{"task_state", "marker", "event"}, order)

	assert.LessOrEqual(t, pack.BudgetUsed["markers"], int(float64(budget)*0.15))
	assert.LessOrEqual(t, pack.BudgetUsed["retrieved"], int(float64(budget)*0.75))
}

func TestBuildDeterministic(t *testing.T) {
	a, s := newTestAssembler(t)
	seedSession(t, s)

	req := Request{SessionKey: "sess", Query: "retrieval budgeting", Budget: 300}
	first, err := a.Build(context.Background(), req)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := a.Build(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuildEmptySession(t *testing.T) {
	a, _ := newTestAssembler(t)

	pack, err := a.Build(context.Background(), Request{SessionKey: "nothing", Query: "anything", Budget: 100})
	require.NoError(t, err)
	assert.Empty(t, pack.Sections)
	assert.Zero(t, pack.TotalTokens)
}
