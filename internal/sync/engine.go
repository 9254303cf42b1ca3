// ABOUTME: Sync reconciliation engine: a single goroutine that owns intent queues and orphans
// ABOUTME: Applies remote events to the local library and pushes local intents to the backend

package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	gosync "sync"
	"time"

	"github.com/harper/feedradar/internal/kv"
	"github.com/harper/feedradar/internal/logging"
	"github.com/harper/feedradar/internal/metrics"
	"github.com/harper/feedradar/internal/models"
	"github.com/harper/feedradar/internal/storage"
)

var (
	distantPast   = time.Time{}
	distantFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// Local is the engine's view of the local library.
type Local interface {
	Feeds(ctx context.Context) ([]*models.Feed, error)
	// Item returns storage.ErrNotFound when the item does not exist.
	Item(ctx context.Context, id int64) (*models.Item, error)
	TouchedItems(ctx context.Context) ([]*models.Item, error)
	UpdateItems(ctx context.Context, items []models.Item) error
	AddFeed(ctx context.Context, source string, userInitiated bool) error
	DeleteFeed(ctx context.Context, source string, userInitiated bool) error
	Refresh(ctx context.Context, sources ...string) error
	ClearAll(ctx context.Context) error
}

// Status summarizes what the engine still has to push.
type Status struct {
	ZoneSaves   int
	ZoneDeletes int
	RecordSaves int
	Orphans     int
	HasToken    bool
}

// Engine reconciles local edits with a remote Backend. All state is owned
// by the goroutine running Run; every public method posts work to it, so
// events, intents and merges are handled one at a time in arrival order.
type Engine struct {
	backend Backend
	local   Local
	store   kv.Store
	log     logging.Logger
	batcher *Batcher

	mu    gosync.Mutex
	queue []func(context.Context)
	wake  chan struct{}

	st *state

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       gosync.WaitGroup
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	window time.Duration
	size   int
}

// WithBatching overrides the update batcher window and size.
func WithBatching(window time.Duration, size int) Option {
	return func(o *engineOptions) {
		o.window = window
		o.size = size
	}
}

// New creates an engine, restoring persisted state from store.
func New(backend Backend, local Local, store kv.Store, log logging.Logger, opts ...Option) (*Engine, error) {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	st, err := loadState(store)
	if err != nil {
		return nil, err
	}

	log = log.With("component", "sync")
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Engine{
		backend:  backend,
		local:    local,
		store:    store,
		log:      log,
		batcher:  NewBatcher(local.UpdateItems, log, o.window, o.size),
		wake:     make(chan struct{}, 1),
		st:       st,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}, nil
}

// Run processes posted work until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		fn := e.next()
		if fn == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.wake:
			}
			continue
		}
		fn(ctx)
	}
}

func (e *Engine) next() func(context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	fn := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return fn
}

// post enqueues fn without waiting for it.
func (e *Engine) post(fn func(context.Context)) {
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// call runs fn on the engine goroutine and waits for its result.
func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	result := make(chan error, 1)
	e.post(func(runCtx context.Context) {
		result <- fn(runCtx)
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until everything posted so far has been handled and any
// batched writes have been persisted.
func (e *Engine) Flush(ctx context.Context) error {
	if err := e.call(ctx, func(context.Context) error { return nil }); err != nil {
		return err
	}
	e.batcher.Flush()
	return nil
}

// Close waits for background feed work started by remote events, drains the
// mailbox and flushes pending writes. Run must still be running.
func (e *Engine) Close(ctx context.Context) error {
	waited := make(chan struct{})
	go func() {
		e.bg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		e.bgCancel()
		return ctx.Err()
	}
	err := e.Flush(ctx)
	e.batcher.Close()
	e.bgCancel()
	return err
}

// background runs fn outside the engine goroutine so that library work that
// posts back to the engine cannot deadlock it.
func (e *Engine) background(fn func(ctx context.Context)) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn(e.bgCtx)
	}()
}

func (e *Engine) persist(ctx context.Context) {
	if err := e.st.save(e.store); err != nil {
		e.log.Error(ctx, "persist sync state", "error", err)
	}
}

// Local intents

// FeedAdded queues creation of the feed's zone.
func (e *Engine) FeedAdded(source string) {
	e.post(func(ctx context.Context) {
		e.st.saveZone(source)
		e.persist(ctx)
	})
}

// FeedDeleted queues deletion of the feed's zone and forgets its pending
// records and orphans.
func (e *Engine) FeedDeleted(source string) {
	e.post(func(ctx context.Context) {
		e.st.deleteZone(source)
		e.persist(ctx)
	})
}

// ItemsChanged queues a record save for each item.
func (e *Engine) ItemsChanged(items []models.Item) {
	if len(items) == 0 {
		return
	}
	ids := make([]RecordID, len(items))
	for i := range items {
		ids[i] = RecordIDFor(&items[i])
	}
	e.post(func(ctx context.Context) {
		for _, id := range ids {
			e.st.saveRecord(id)
		}
		e.persist(ctx)
	})
}

// ProcessOrphans retries orphaned records of source. Records whose item now
// exists are merged and dropped; the rest stay.
func (e *Engine) ProcessOrphans(source string) {
	e.post(func(ctx context.Context) {
		e.processOrphans(ctx, source)
	})
}

func (e *Engine) processOrphans(ctx context.Context, source string) {
	changed := false
	for _, rec := range e.st.orphansIn(source) {
		item, err := e.localItem(ctx, rec.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			e.log.Error(ctx, "load orphan target", "record", rec.ID.String(), "error", err)
			continue
		}
		if merged := e.mergedItem(item, rec); merged != nil {
			e.batcher.Update(*merged)
		}
		e.st.removeOrphan(rec.ID)
		changed = true
	}
	if changed {
		e.persist(ctx)
	}
}

// Status reports queue sizes.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var s Status
	err := e.call(ctx, func(context.Context) error {
		s = Status{
			ZoneSaves:   len(e.st.ZoneSaves),
			ZoneDeletes: len(e.st.ZoneDeletes),
			RecordSaves: len(e.st.RecordSaves),
			Orphans:     len(e.st.Orphans),
			HasToken:    len(e.st.Token) > 0,
		}
		return nil
	})
	return s, err
}

// Remote events

// HandleEvent applies a remote event.
func (e *Engine) HandleEvent(ev Event) {
	e.post(func(ctx context.Context) {
		e.handle(ctx, ev)
	})
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case AccountChanged:
		e.handleAccount(ctx, ev.Change)
	case ZonesAdded:
		e.handleZonesAdded(ctx, ev.Sources)
	case ZonesDeleted:
		e.handleZonesDeleted(ctx, ev.Sources)
	case RecordsModified:
		e.handleRecordsModified(ctx, ev.Records)
	case RecordsDeleted:
		for _, id := range ev.IDs {
			e.log.Fault(ctx, "record deleted without its zone", "record", id.String())
		}
	case SentDatabaseChanges:
		e.handleSentDatabase(ctx, ev)
	case SentRecordChanges:
		e.handleSentRecords(ctx, ev)
	case StateUpdated:
		e.st.Token = ev.Token
		e.persist(ctx)
	default:
		e.log.Fault(ctx, "unknown sync event", "event", fmt.Sprintf("%T", ev))
	}
}

func (e *Engine) handleAccount(ctx context.Context, change AccountChange) {
	switch change {
	case AccountSignIn:
		// Local state predates the link: push everything the user owns.
		feeds, err := e.local.Feeds(ctx)
		if err != nil {
			e.log.Error(ctx, "list feeds for sign-in", "error", err)
		}
		for _, f := range feeds {
			e.st.saveZone(f.Source)
		}
		touched, err := e.local.TouchedItems(ctx)
		if err != nil {
			e.log.Error(ctx, "list touched items for sign-in", "error", err)
		}
		for _, item := range touched {
			e.st.saveRecord(RecordIDFor(item))
		}
		e.log.Info(ctx, "account signed in", "zones", len(feeds), "records", len(touched))

	case AccountSignOut, AccountSwitch:
		e.batcher.Flush()
		if err := e.local.ClearAll(ctx); err != nil {
			e.log.Error(ctx, "wipe local data", "error", err)
		}
		e.st.reset()
		e.log.Info(ctx, "account changed, local data wiped", "change", string(change))
	}
	e.persist(ctx)
}

func (e *Engine) handleZonesAdded(ctx context.Context, sources []string) {
	for _, source := range sources {
		if slices.Contains(e.st.ZoneDeletes, source) {
			e.log.Debug(ctx, "ignoring zone pending deletion", "source", source)
			continue
		}
		e.background(func(ctx context.Context) {
			if err := e.local.AddFeed(ctx, source, false); err != nil {
				e.log.Error(ctx, "add feed from remote zone", "source", source, "error", err)
			}
		})
	}
}

func (e *Engine) handleZonesDeleted(ctx context.Context, sources []string) {
	for _, source := range sources {
		if err := e.local.DeleteFeed(ctx, source, false); err != nil {
			e.log.Error(ctx, "delete feed for remote zone", "source", source, "error", err)
		}
		e.st.ZoneSaves = remove(e.st.ZoneSaves, source)
		e.st.forgetZone(source)
	}
	e.persist(ctx)
}

func (e *Engine) handleRecordsModified(ctx context.Context, records []Record) {
	refresh := make(map[string]bool)
	for _, rec := range records {
		item, err := e.localItem(ctx, rec.ID)
		if errors.Is(err, storage.ErrNotFound) {
			e.st.addOrphan(rec)
			refresh[rec.ID.Zone] = true
			continue
		}
		if err != nil {
			e.log.Error(ctx, "load item for remote record", "record", rec.ID.String(), "error", err)
			continue
		}
		if merged := e.mergedItem(item, rec); merged != nil {
			e.batcher.Update(*merged)
		}
	}
	if len(refresh) == 0 {
		return
	}
	e.persist(ctx)

	// Only feeds stored locally are refreshed. A zone still being added
	// processes its orphans once its own first fetch merges.
	feeds, err := e.local.Feeds(ctx)
	if err != nil {
		e.log.Error(ctx, "list feeds for orphan refresh", "error", err)
		return
	}
	sources := make([]string, 0, len(refresh))
	for _, f := range feeds {
		if refresh[f.Source] {
			sources = append(sources, f.Source)
		}
	}
	if len(sources) == 0 {
		return
	}
	sort.Strings(sources)
	e.log.Debug(ctx, "orphaned records, refreshing feeds", "feeds", len(sources))
	e.background(func(ctx context.Context) {
		if err := e.local.Refresh(ctx, sources...); err != nil {
			e.log.Error(ctx, "refresh feeds for orphans", "error", err)
		}
	})
}

func (e *Engine) handleSentDatabase(ctx context.Context, sent SentDatabaseChanges) {
	for _, source := range sent.Saved {
		e.st.ZoneSaves = remove(e.st.ZoneSaves, source)
	}
	for _, source := range sent.Deleted {
		e.st.ZoneDeletes = remove(e.st.ZoneDeletes, source)
	}
	for _, f := range sent.Failed {
		switch Classify(f.Err) {
		case Transient:
			e.log.Info(ctx, "zone change failed, will retry", "source", f.Source, "error", f.Err)
			continue
		case Missing:
			e.log.Info(ctx, "zone already gone", "source", f.Source)
		default:
			e.log.Fault(ctx, "zone change failed", "source", f.Source, "error", f.Err)
		}
		e.st.ZoneSaves = remove(e.st.ZoneSaves, f.Source)
		e.st.ZoneDeletes = remove(e.st.ZoneDeletes, f.Source)
	}
	e.persist(ctx)
}

func (e *Engine) handleSentRecords(ctx context.Context, sent SentRecordChanges) {
	for _, rec := range sent.Saved {
		metrics.SyncOutcomes.WithLabelValues("ok").Inc()
		e.st.dequeueRecord(rec.ID)

		item, err := e.localItem(ctx, rec.ID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				e.log.Error(ctx, "load acknowledged item", "record", rec.ID.String(), "error", err)
			}
			continue
		}
		if acked := e.acknowledged(item, rec); acked != nil {
			e.batcher.Update(*acked)
		}
	}

	for _, f := range sent.Failed {
		class := Classify(f.Err)
		metrics.SyncOutcomes.WithLabelValues(string(class)).Inc()

		switch class {
		case Conflict:
			e.resolveConflict(ctx, f)
		case Missing:
			e.log.Info(ctx, "remote zone missing, deleting feed", "source", f.ID.Zone)
			if err := e.local.DeleteFeed(ctx, f.ID.Zone, false); err != nil {
				e.log.Error(ctx, "delete feed for missing zone", "source", f.ID.Zone, "error", err)
			}
			e.st.ZoneSaves = remove(e.st.ZoneSaves, f.ID.Zone)
			e.st.forgetZone(f.ID.Zone)
		case Transient:
			e.log.Info(ctx, "record save failed, will retry", "record", f.ID.String(), "error", f.Err)
		default:
			e.log.Fault(ctx, "record save failed", "record", f.ID.String(), "error", f.Err)
			e.st.dequeueRecord(f.ID)
		}
	}
	e.persist(ctx)
}

func (e *Engine) resolveConflict(ctx context.Context, f RecordFailure) {
	var re *RecordError
	if !errors.As(f.Err, &re) || re.ServerRecord == nil {
		e.log.Fault(ctx, "conflict without server record", "record", f.ID.String())
		e.st.dequeueRecord(f.ID)
		return
	}

	item, err := e.localItem(ctx, f.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.log.Error(ctx, "load conflicting item", "record", f.ID.String(), "error", err)
		}
		e.st.dequeueRecord(f.ID)
		return
	}

	rebased := e.mergedItem(item, *re.ServerRecord)
	if rebased == nil {
		// Local wins; adopt the server snapshot so the next push applies.
		copied := *item
		copied.SyncSnapshot = re.ServerRecord.Snapshot
		rebased = &copied
	}
	e.batcher.Update(*rebased)
	e.st.saveRecord(f.ID)
	e.log.Debug(ctx, "resolved record conflict", "record", f.ID.String())
}

// localItem returns the newest local copy of a record's item, including
// writes still waiting in the batcher.
func (e *Engine) localItem(ctx context.Context, id RecordID) (*models.Item, error) {
	itemID, err := id.ItemID()
	if err != nil {
		return nil, err
	}
	if item, ok := e.batcher.Get(itemID); ok {
		return &item, nil
	}
	return e.local.Item(ctx, itemID)
}

// mergedItem applies remote onto local when remote is strictly newer than
// the snapshot local was last synced at. A local item that was never synced
// is infinitely old; a remote record without a time is infinitely new.
func (e *Engine) mergedItem(local *models.Item, remote Record) *models.Item {
	localTime := distantPast
	if t, ok := e.backend.SnapshotTime(local.SyncSnapshot); ok {
		localTime = t
	}
	remoteTime := distantFuture
	if remote.ModifiedAt != nil {
		remoteTime = *remote.ModifiedAt
	}
	if !localTime.Before(remoteTime) {
		return nil
	}

	merged := *local
	merged.IsRead = remote.IsRead
	merged.IsStarred = remote.IsStarred
	merged.SyncSnapshot = remote.Snapshot
	return &merged
}

// acknowledged records the snapshot of a successful push. Local flags are
// kept: they may have changed again since the push was built.
func (e *Engine) acknowledged(local *models.Item, saved Record) *models.Item {
	if len(saved.Snapshot) == 0 {
		return nil
	}
	if t, ok := e.backend.SnapshotTime(local.SyncSnapshot); ok && saved.ModifiedAt != nil && !t.Before(*saved.ModifiedAt) {
		return nil
	}
	acked := *local
	acked.SyncSnapshot = saved.Snapshot
	return &acked
}

// Sync pulls remote changes, then pushes pending zone and record intents.
func (e *Engine) Sync(ctx context.Context) error {
	return e.call(ctx, func(context.Context) error {
		return e.sync(ctx)
	})
}

func (e *Engine) sync(ctx context.Context) error {
	changes, err := e.backend.Fetch(ctx, e.st.Token)
	if err != nil {
		return fmt.Errorf("fetch changes (%s): %w", Classify(err), err)
	}
	for _, ev := range changes.Events {
		e.handle(ctx, ev)
	}
	if changes.Token != nil {
		e.handle(ctx, StateUpdated{Token: changes.Token})
	}

	if len(e.st.ZoneSaves) > 0 || len(e.st.ZoneDeletes) > 0 {
		sent, err := e.backend.SendDatabaseChanges(ctx, slices.Clone(e.st.ZoneSaves), slices.Clone(e.st.ZoneDeletes))
		if err != nil {
			return fmt.Errorf("send zone changes (%s): %w", Classify(err), err)
		}
		e.handle(ctx, *sent)
	}

	records := e.pendingRecords(ctx)
	if len(records) > 0 {
		sent, err := e.backend.SendRecordChanges(ctx, records)
		if err != nil {
			return fmt.Errorf("send record changes (%s): %w", Classify(err), err)
		}
		e.handle(ctx, *sent)
	}

	e.log.Info(ctx, "sync complete",
		"zones_pending", len(e.st.ZoneSaves)+len(e.st.ZoneDeletes),
		"records_pending", len(e.st.RecordSaves),
		"orphans", len(e.st.Orphans))
	return nil
}

// pendingRecords builds the records to push, dropping intents whose item is
// gone.
func (e *Engine) pendingRecords(ctx context.Context) []Record {
	var records []Record
	dropped := false
	for _, id := range slices.Clone(e.st.RecordSaves) {
		item, err := e.localItem(ctx, id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				e.log.Error(ctx, "load item to push", "record", id.String(), "error", err)
				continue
			}
			e.st.dequeueRecord(id)
			dropped = true
			continue
		}
		records = append(records, Record{
			ID:        id,
			IsRead:    item.IsRead,
			IsStarred: item.IsStarred,
			Snapshot:  item.SyncSnapshot,
		})
	}
	if dropped {
		e.persist(ctx)
	}
	return records
}
