package embedding

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcliao/memcore/internal/logging"
)

// Item is one queued embedding job.
type Item struct {
	ID   string
	Text string
}

// StatusFunc records the embedding outcome for an event (complete or failed).
type StatusFunc func(ctx context.Context, eventID string, failed bool)

// Worker batches events for background embedding. A provider failure marks
// the affected events failed and moves on; it never blocks ingestion or
// retrieval, it only excludes those events from vector search.
type Worker struct {
	embedder Embedder
	cache    *Cache
	status   StatusFunc
	log      logging.Logger
	batch    int
	interval time.Duration

	mu    sync.Mutex
	queue []Item

	processed atomic.Int64
	batches   atomic.Int64
	failed    atomic.Int64

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker starts the background loop. status may be nil.
func NewWorker(embedder Embedder, cache *Cache, status StatusFunc, log logging.Logger, batch int, interval time.Duration) *Worker {
	if batch <= 0 {
		batch = 32
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logging.NoOp{}
	}
	if status == nil {
		status = func(context.Context, string, bool) {}
	}
	w := &Worker{
		embedder: embedder,
		cache:    cache,
		status:   status,
		log:      log,
		batch:    batch,
		interval: interval,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue queues an event for embedding. Already-cached events are skipped.
func (w *Worker) Enqueue(id, text string) {
	if w.cache.Has(id) {
		return
	}
	w.mu.Lock()
	w.queue = append(w.queue, Item{ID: id, Text: text})
	n := len(w.queue)
	w.mu.Unlock()
	if n >= w.batch {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Processed returns the number of events embedded so far.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Batches returns the number of provider calls made.
func (w *Worker) Batches() int64 { return w.batches.Load() }

// Failed returns the number of events whose embedding failed.
func (w *Worker) Failed() int64 { return w.failed.Load() }

// Flush synchronously drains the queue.
func (w *Worker) Flush(ctx context.Context) {
	for {
		if !w.processBatch(ctx) {
			return
		}
	}
}

// Stop flushes remaining work and terminates the background loop. Safe to
// call more than once.
func (w *Worker) Stop(ctx context.Context) {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	w.Flush(ctx)
}

func (w *Worker) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
			w.Flush(context.Background())
		case <-ticker.C:
			w.Flush(context.Background())
		}
	}
}

// processBatch takes one batch off the queue and embeds it. Returns false
// when the queue was empty.
func (w *Worker) processBatch(ctx context.Context) bool {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return false
	}
	n := min(w.batch, len(w.queue))
	batch := make([]Item, n)
	copy(batch, w.queue[:n])
	w.queue = w.queue[n:]
	w.mu.Unlock()

	// Re-check the cache: another batch may have covered an id meanwhile.
	var todo []Item
	for _, it := range batch {
		if !w.cache.Has(it.ID) {
			todo = append(todo, it)
		}
	}
	if len(todo) == 0 {
		return true
	}

	texts := make([]string, len(todo))
	for i, it := range todo {
		texts[i] = it.Text
	}

	vecs, err := w.embedder.Embed(ctx, texts)
	w.batches.Add(1)
	if err != nil || len(vecs) != len(todo) {
		w.log.Warn("embedding batch failed", "count", len(todo), "err", err)
		for _, it := range todo {
			w.failed.Add(1)
			w.status(ctx, it.ID, true)
		}
		return true
	}

	for i, it := range todo {
		if err := w.cache.Set(it.ID, vecs[i]); err != nil {
			w.log.Warn("embedding store failed", "event_id", it.ID, "err", err)
			w.failed.Add(1)
			w.status(ctx, it.ID, true)
			continue
		}
		w.processed.Add(1)
		w.status(ctx, it.ID, false)
	}
	return true
}
