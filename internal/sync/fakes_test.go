// ABOUTME: In-memory Local and Backend doubles for engine tests
// ABOUTME: Snapshots are RFC3339 timestamps so the engine can order them

package sync

import (
	"context"
	"slices"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harper/feedradar/internal/kv"
	"github.com/harper/feedradar/internal/logging"
	"github.com/harper/feedradar/internal/models"
	"github.com/harper/feedradar/internal/storage"
)

type feedCall struct {
	Source        string
	UserInitiated bool
}

type fakeLocal struct {
	mu        gosync.Mutex
	feeds     map[string]*models.Feed
	items     map[int64]models.Item
	added     []feedCall
	deleted   []feedCall
	refreshed []string
	cleared   int
	writes    int
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{feeds: map[string]*models.Feed{}, items: map[int64]models.Item{}}
}

func (l *fakeLocal) putFeed(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeds[source] = models.NewFeed(source)
}

func (l *fakeLocal) putItem(item models.Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[item.ID] = item
}

func (l *fakeLocal) item(id int64) (models.Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[id]
	return item, ok
}

func (l *fakeLocal) Feeds(ctx context.Context) ([]*models.Feed, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.Feed
	for _, f := range l.feeds {
		out = append(out, f)
	}
	return out, nil
}

func (l *fakeLocal) Item(ctx context.Context, id int64) (*models.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &item, nil
}

func (l *fakeLocal) TouchedItems(ctx context.Context) ([]*models.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.Item
	for _, item := range l.items {
		if item.Touched() {
			copied := item
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (l *fakeLocal) UpdateItems(ctx context.Context, items []models.Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, item := range items {
		if _, ok := l.items[item.ID]; ok {
			l.items[item.ID] = item
			l.writes++
		}
	}
	return nil
}

func (l *fakeLocal) AddFeed(ctx context.Context, source string, userInitiated bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, feedCall{source, userInitiated})
	if _, ok := l.feeds[source]; !ok {
		l.feeds[source] = models.NewFeed(source)
	}
	return nil
}

func (l *fakeLocal) DeleteFeed(ctx context.Context, source string, userInitiated bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = append(l.deleted, feedCall{source, userInitiated})
	delete(l.feeds, source)
	for id, item := range l.items {
		if item.Source == source {
			delete(l.items, id)
		}
	}
	return nil
}

func (l *fakeLocal) Refresh(ctx context.Context, sources ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshed = append(l.refreshed, sources...)
	return nil
}

func (l *fakeLocal) ClearAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleared++
	l.feeds = map[string]*models.Feed{}
	l.items = map[int64]models.Item{}
	return nil
}

// fakeBackend scripts Fetch results and per-record push outcomes.
type fakeBackend struct {
	mu          gosync.Mutex
	now         time.Time
	fetches     []*FetchedChanges
	zoneSaves   [][]string
	zoneDeletes [][]string
	pushed      [][]Record
	recordErr   func(Record) error
	fetchErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func snapshotAt(t time.Time) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano))
}

func (b *fakeBackend) SnapshotTime(snapshot []byte) (time.Time, bool) {
	if len(snapshot) == 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, string(snapshot))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (b *fakeBackend) Fetch(ctx context.Context, token []byte) (*FetchedChanges, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	if len(b.fetches) == 0 {
		return &FetchedChanges{}, nil
	}
	next := b.fetches[0]
	b.fetches = b.fetches[1:]
	return next, nil
}

func (b *fakeBackend) SendDatabaseChanges(ctx context.Context, saves, deletes []string) (*SentDatabaseChanges, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.zoneSaves = append(b.zoneSaves, saves)
	b.zoneDeletes = append(b.zoneDeletes, deletes)
	return &SentDatabaseChanges{Saved: slices.Clone(saves), Deleted: slices.Clone(deletes)}, nil
}

func (b *fakeBackend) SendRecordChanges(ctx context.Context, records []Record) (*SentRecordChanges, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushed = append(b.pushed, records)

	sent := &SentRecordChanges{}
	for _, rec := range records {
		if b.recordErr != nil {
			if err := b.recordErr(rec); err != nil {
				sent.Failed = append(sent.Failed, RecordFailure{ID: rec.ID, Err: err})
				continue
			}
		}
		b.now = b.now.Add(time.Second)
		at := b.now
		rec.ModifiedAt = &at
		rec.Snapshot = snapshotAt(at)
		sent.Saved = append(sent.Saved, rec)
	}
	return sent, nil
}

func startEngine(t *testing.T, backend Backend, local Local, store kv.Store) *Engine {
	t.Helper()
	e, err := New(backend, local, store, logging.NewNop(), WithBatching(time.Hour, 1000))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func flush(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Flush(ctx))
}

func status(t *testing.T, e *Engine) Status {
	t.Helper()
	s, err := e.Status(context.Background())
	require.NoError(t, err)
	return s
}

func remoteRecord(item models.Item, read, starred bool, at time.Time) Record {
	return Record{
		ID:         RecordIDFor(&item),
		IsRead:     read,
		IsStarred:  starred,
		ModifiedAt: &at,
		Snapshot:   snapshotAt(at),
	}
}
