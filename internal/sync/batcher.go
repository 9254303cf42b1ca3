// ABOUTME: Debounced, size-bounded batching of remote-origin item writes
// ABOUTME: Bursts of merges become one multi-row write per window

package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/harper/feedradar/internal/logging"
	"github.com/harper/feedradar/internal/metrics"
	"github.com/harper/feedradar/internal/models"
)

const (
	DefaultBatchWindow = 250 * time.Millisecond
	DefaultBatchSize   = 128
)

// FlushFunc persists a batch of items in one write.
type FlushFunc func(ctx context.Context, items []models.Item) error

// Batcher coalesces item writes. A batch is flushed when no update arrived
// for the window, or as soon as it holds max items. Within a batch the last
// value for an item wins.
type Batcher struct {
	flush  FlushFunc
	log    logging.Logger
	window time.Duration
	max    int

	mu       gosync.Mutex
	pending  map[int64]models.Item
	order    []int64
	inflight map[int64]models.Item
	timer    *time.Timer
	closed   bool

	// flushMu keeps batches landing in the order they were cut.
	flushMu gosync.Mutex
}

// NewBatcher creates a batcher. Non-positive window or max select the
// defaults.
func NewBatcher(flush FlushFunc, log logging.Logger, window time.Duration, max int) *Batcher {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if max <= 0 {
		max = DefaultBatchSize
	}
	return &Batcher{
		flush:    flush,
		log:      log,
		window:   window,
		max:      max,
		pending:  make(map[int64]models.Item),
		inflight: make(map[int64]models.Item),
	}
}

// Update enqueues a write of item.
func (b *Batcher) Update(item models.Item) {
	b.mu.Lock()
	if _, ok := b.pending[item.ID]; !ok {
		b.order = append(b.order, item.ID)
	}
	b.pending[item.ID] = item

	if b.closed || len(b.order) >= b.max {
		batch := b.cutLocked()
		b.mu.Unlock()
		b.write(batch)
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.onTimer)
	} else {
		b.timer.Reset(b.window)
	}
	b.mu.Unlock()
}

// Get returns the not yet persisted value of an item, if any.
func (b *Batcher) Get(id int64) (models.Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if item, ok := b.pending[id]; ok {
		return item, true
	}
	item, ok := b.inflight[id]
	return item, ok
}

// Flush writes everything pending now.
func (b *Batcher) Flush() {
	b.mu.Lock()
	batch := b.cutLocked()
	b.mu.Unlock()
	b.write(batch)
}

// Close flushes what remains. Later updates are written immediately.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	batch := b.cutLocked()
	b.mu.Unlock()
	b.write(batch)
}

func (b *Batcher) onTimer() {
	b.Flush()
}

// cutLocked moves the pending set to inflight and returns it in arrival
// order.
func (b *Batcher) cutLocked() []models.Item {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.order) == 0 {
		return nil
	}
	batch := make([]models.Item, 0, len(b.order))
	for _, id := range b.order {
		item := b.pending[id]
		batch = append(batch, item)
		b.inflight[id] = item
	}
	b.pending = make(map[int64]models.Item)
	b.order = nil
	return batch
}

func (b *Batcher) write(batch []models.Item) {
	if len(batch) == 0 {
		return
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	metrics.BatchSize.Observe(float64(len(batch)))
	if err := b.flush(context.Background(), batch); err != nil {
		b.log.Error(context.Background(), "batched item write failed", "items", len(batch), "error", err)
	}

	b.mu.Lock()
	for _, item := range batch {
		// A newer copy may have been cut since; only drop this one.
		if cur, ok := b.inflight[item.ID]; ok && cur.Equal(&item) {
			delete(b.inflight, item.ID)
		}
	}
	b.mu.Unlock()
}
