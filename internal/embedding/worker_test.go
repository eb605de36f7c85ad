package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns deterministic vectors, or an error when broken.
type stubEmbedder struct {
	dims   int
	broken bool
	calls  int
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	s.calls++
	if s.broken {
		return nil, errors.New("provider down")
	}
	vecs := make([]Vector, len(texts))
	for i := range texts {
		v := make(Vector, s.dims)
		v[0] = float32(len(texts[i]))
		vecs[i] = v
	}
	return vecs, nil
}

func (s *stubEmbedder) Dims() int { return s.dims }

type statusRecorder struct {
	mu     sync.Mutex
	failed map[string]bool
}

func (r *statusRecorder) record(ctx context.Context, id string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed == nil {
		r.failed = map[string]bool{}
	}
	r.failed[id] = failed
}

func TestWorkerFlush(t *testing.T) {
	cache, err := NewCache(t.TempDir(), 4, 10)
	require.NoError(t, err)
	emb := &stubEmbedder{dims: 4}
	rec := &statusRecorder{}

	w := NewWorker(emb, cache, rec.record, nil, 8, time.Hour)
	defer w.Stop(context.Background())

	for i := 0; i < 5; i++ {
		w.Enqueue(fmt.Sprintf("ev%d", i), "some event content")
	}
	w.Flush(context.Background())

	assert.Equal(t, int64(5), w.Processed())
	assert.Equal(t, 0, w.Pending())
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("ev%d", i)
		assert.True(t, cache.Has(id))
		assert.False(t, rec.failed[id])
	}
}

func TestWorkerSkipsCachedEvents(t *testing.T) {
	cache, err := NewCache(t.TempDir(), 4, 10)
	require.NoError(t, err)
	require.NoError(t, cache.Set("ev0", Vector{1, 0, 0, 0}))
	emb := &stubEmbedder{dims: 4}

	w := NewWorker(emb, cache, nil, nil, 8, time.Hour)
	defer w.Stop(context.Background())

	w.Enqueue("ev0", "already embedded")
	assert.Equal(t, 0, w.Pending())
	w.Flush(context.Background())
	assert.Equal(t, 0, emb.calls)
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	cache, err := NewCache(t.TempDir(), 4, 10)
	require.NoError(t, err)
	emb := &stubEmbedder{dims: 4}

	w := NewWorker(emb, cache, nil, nil, 8, time.Hour)
	w.Enqueue("ev0", "drained on stop")

	w.Stop(context.Background())
	assert.NotPanics(t, func() { w.Stop(context.Background()) })
	assert.Equal(t, int64(1), w.Processed())
}

func TestWorkerProviderFailureIsSoft(t *testing.T) {
	cache, err := NewCache(t.TempDir(), 4, 10)
	require.NoError(t, err)
	emb := &stubEmbedder{dims: 4, broken: true}
	rec := &statusRecorder{}

	w := NewWorker(emb, cache, rec.record, nil, 8, time.Hour)
	defer w.Stop(context.Background())

	w.Enqueue("ev0", "content a")
	w.Enqueue("ev1", "content b")
	w.Flush(context.Background())

	assert.Equal(t, int64(2), w.Failed())
	assert.Equal(t, int64(0), w.Processed())
	assert.True(t, rec.failed["ev0"])
	assert.True(t, rec.failed["ev1"])
	assert.False(t, cache.Has("ev0"))

	// A later flush with a recovered provider succeeds.
	emb.broken = false
	w.Enqueue("ev2", "content c")
	w.Flush(context.Background())
	assert.Equal(t, int64(1), w.Processed())
	assert.False(t, rec.failed["ev2"])
}
