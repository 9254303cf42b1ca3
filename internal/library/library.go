// ABOUTME: Library orchestrates feeds: add, delete, refresh, flag toggles and mark-all-read
// ABOUTME: Implements the sync engine's Local view and reports local intents to a Syncer

package library

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harper/feedradar/internal/content"
	"github.com/harper/feedradar/internal/fetch"
	"github.com/harper/feedradar/internal/icon"
	"github.com/harper/feedradar/internal/kv"
	"github.com/harper/feedradar/internal/logging"
	"github.com/harper/feedradar/internal/media"
	"github.com/harper/feedradar/internal/metrics"
	"github.com/harper/feedradar/internal/models"
	"github.com/harper/feedradar/internal/parse"
	"github.com/harper/feedradar/internal/storage"
)

// iconTimeout bounds one background icon refresh.
const iconTimeout = 30 * time.Second

var (
	// ErrInvalidSource is returned for feed URLs that are not http(s).
	ErrInvalidSource = errors.New("feed source must be an http or https URL")
	// ErrNoURL is returned when extracting an item without a link.
	ErrNoURL = errors.New("item has no URL")
)

// Syncer receives local intents. *sync.Engine implements it.
type Syncer interface {
	FeedAdded(source string)
	FeedDeleted(source string)
	ItemsChanged(items []models.Item)
	ProcessOrphans(source string)
}

type nopSyncer struct{}

func (nopSyncer) FeedAdded(string)           {}
func (nopSyncer) FeedDeleted(string)         {}
func (nopSyncer) ItemsChanged([]models.Item) {}
func (nopSyncer) ProcessOrphans(string)      {}

// Report summarizes one refresh.
type Report struct {
	// Updated counts feeds that returned a new document.
	Updated int
	// Writes counts rows written by merges.
	Writes int
	// Changed counts items inserted or updated.
	Changed int
	// Failed lists sources whose document could not be parsed or merged.
	Failed []string
}

// Library is the local feed library.
type Library struct {
	store     *storage.SQLiteStore
	kv        kv.Store
	scheduler *fetch.Scheduler
	icons     *icon.Cache
	extractor *content.Extractor
	media     *media.Loader
	dataDir   string
	log       logging.Logger

	mu     sync.RWMutex
	syncer Syncer

	bg sync.WaitGroup
}

// Option configures a Library.
type Option func(*Library)

// WithIcons sets the icon cache.
func WithIcons(c *icon.Cache) Option {
	return func(l *Library) { l.icons = c }
}

// WithExtractor sets the reader-mode extractor.
func WithExtractor(e *content.Extractor) Option {
	return func(l *Library) { l.extractor = e }
}

// WithMediaLoader sets the ID3 metadata loader.
func WithMediaLoader(m *media.Loader) Option {
	return func(l *Library) { l.media = m }
}

// WithDataDir sets the directory holding the attachment cache.
func WithDataDir(dir string) Option {
	return func(l *Library) { l.dataDir = dir }
}

// New creates a Library over store. Per-feed preferences live in store's kv
// table.
func New(store *storage.SQLiteStore, scheduler *fetch.Scheduler, log logging.Logger, opts ...Option) *Library {
	l := &Library{
		store:     store,
		kv:        store.KV(),
		scheduler: scheduler,
		log:       log,
		syncer:    nopSyncer{},
	}
	for _, opt := range opts {
		opt(l)
	}

	client := fetch.NewClient(0)
	if l.icons == nil {
		l.icons = icon.New(client, l.kv, log)
	}
	if l.extractor == nil {
		l.extractor = content.NewExtractor(client)
	}
	if l.media == nil {
		l.media = media.NewLoader(client)
	}
	return l
}

// SetSyncer connects the library to a sync engine. nil disconnects it.
func (l *Library) SetSyncer(s Syncer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s == nil {
		s = nopSyncer{}
	}
	l.syncer = s
}

func (l *Library) sync() Syncer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.syncer
}

// Wait blocks until background icon refreshes have finished.
func (l *Library) Wait() {
	l.bg.Wait()
}

// Feeds

// Feeds lists every feed by display title.
func (l *Library) Feeds(ctx context.Context) ([]*models.Feed, error) {
	return l.store.ListFeeds(ctx)
}

// Feed returns the feed for source, or storage.ErrNotFound.
func (l *Library) Feed(ctx context.Context, source string) (*models.Feed, error) {
	return l.store.GetFeed(ctx, source)
}

// Icon returns the cached PNG icon of source, or kv.ErrNotFound.
func (l *Library) Icon(source string) ([]byte, error) {
	return l.icons.Get(source)
}

// ValidateSource checks that source is an absolute http(s) URL.
func ValidateSource(source string) error {
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	return nil
}

// AddFeed inserts the feed if it is missing and fetches it. User-initiated
// adds are reported to the syncer; adds from a remote zone are not.
func (l *Library) AddFeed(ctx context.Context, source string, userInitiated bool) error {
	if err := ValidateSource(source); err != nil {
		return err
	}
	created, err := l.store.AddFeed(ctx, models.NewFeed(source))
	if err != nil {
		return err
	}
	if created {
		l.log.Info(ctx, "feed added", "source", source, "user", userInitiated)
	}
	if userInitiated {
		l.sync().FeedAdded(source)
	}
	_, err = l.Fetch(ctx, source)
	return err
}

// DeleteFeed removes the feed with its items and attachments and purges its
// per-feed preferences. A user-initiated delete of a missing feed returns
// storage.ErrNotFound.
func (l *Library) DeleteFeed(ctx context.Context, source string, userInitiated bool) error {
	existed, err := l.store.DeleteFeed(ctx, source)
	if err != nil {
		return err
	}
	if err := kv.PurgeFeed(l.kv, source); err != nil {
		l.log.Warn(ctx, "purge feed preferences", "source", source, "error", err)
	}
	if !existed {
		if userInitiated {
			return storage.ErrNotFound
		}
		return nil
	}
	l.log.Info(ctx, "feed deleted", "source", source, "user", userInitiated)
	if userInitiated {
		l.sync().FeedDeleted(source)
	}
	return nil
}

// Refresh fetches sources, or every feed when none are given.
func (l *Library) Refresh(ctx context.Context, sources ...string) error {
	_, err := l.Fetch(ctx, sources...)
	return err
}

// Fetch is Refresh with a summary of what changed.
func (l *Library) Fetch(ctx context.Context, sources ...string) (*Report, error) {
	if len(sources) == 0 {
		feeds, err := l.store.ListFeeds(ctx)
		if err != nil {
			return nil, err
		}
		for _, f := range feeds {
			sources = append(sources, f.Source)
		}
	}

	var (
		mu     sync.Mutex
		report Report
	)
	l.scheduler.Fetch(ctx, sources, func(ctx context.Context, body []byte, source string) {
		result, err := l.ingest(ctx, body, source)

		mu.Lock()
		defer mu.Unlock()
		report.Updated++
		if err != nil {
			report.Failed = append(report.Failed, source)
			return
		}
		if result != nil {
			report.Writes += result.Writes()
			report.Changed += len(result.Changed)
		}
	})
	return &report, nil
}

// ingest normalizes and merges one downloaded document. A feed deleted while
// its download was in flight is skipped.
func (l *Library) ingest(ctx context.Context, body []byte, source string) (*storage.MergeResult, error) {
	doc, err := parse.Normalize(source, body)
	if err != nil {
		metrics.ParseFailures.Inc()
		l.log.Error(ctx, "parse feed", "source", source, "error", err)
		return nil, err
	}

	result, err := l.store.Merge(ctx, doc.Feed, doc.Items, doc.Attachments)
	if errors.Is(err, storage.ErrNotFound) {
		l.log.Debug(ctx, "feed removed during fetch", "source", source)
		return nil, nil
	}
	if err != nil {
		l.log.Error(ctx, "merge feed", "source", source, "error", err)
		return nil, err
	}
	l.log.Debug(ctx, "merged feed", "source", source, "items", len(doc.Items), "writes", result.Writes())

	if result.FeedChanged {
		l.refreshIcon(ctx, doc.Feed)
	}
	s := l.sync()
	s.ItemsChanged(result.Changed)
	s.ProcessOrphans(source)
	return result, nil
}

func (l *Library) refreshIcon(ctx context.Context, feed models.Feed) {
	l.bg.Add(1)
	go func() {
		defer l.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), iconTimeout)
		defer cancel()
		if err := l.icons.Refresh(ctx, feed); err != nil {
			l.log.Debug(ctx, "icon refresh failed", "source", feed.Source, "error", err)
		}
	}()
}

// Items

// Item returns the item with id, or storage.ErrNotFound.
func (l *Library) Item(ctx context.Context, id int64) (*models.Item, error) {
	return l.store.GetItem(ctx, id)
}

// Items lists items matching filter, newest first.
func (l *Library) Items(ctx context.Context, filter models.Filter, limit, offset int) ([]*models.Item, error) {
	return l.store.ListItems(ctx, filter, limit, offset)
}

// Count counts items matching filter.
func (l *Library) Count(ctx context.Context, filter models.Filter) (int, error) {
	return l.store.CountItems(ctx, filter)
}

// Search runs a full-text query over titles and content.
func (l *Library) Search(ctx context.Context, query string, limit int) ([]*models.Item, error) {
	return l.store.Search(ctx, query, limit)
}

// Attachments lists the attachments of an item.
func (l *Library) Attachments(ctx context.Context, itemID int64) ([]models.Attachment, error) {
	return l.store.ListAttachments(ctx, itemID)
}

// TouchedItems returns every read or starred item.
func (l *Library) TouchedItems(ctx context.Context) ([]*models.Item, error) {
	return l.store.TouchedItems(ctx)
}

// UpdateItems writes items that still exist. Used by the sync engine, so
// nothing is reported back to the syncer.
func (l *Library) UpdateItems(ctx context.Context, items []models.Item) error {
	_, err := l.store.UpdateItems(ctx, items)
	return err
}

// SetRead sets the read flag of an item.
func (l *Library) SetRead(ctx context.Context, id int64, read bool) (*models.Item, error) {
	return l.toggle(ctx, id, func(item *models.Item) bool {
		if item.IsRead == read {
			return false
		}
		item.IsRead = read
		return true
	})
}

// SetStarred sets the starred flag of an item.
func (l *Library) SetStarred(ctx context.Context, id int64, starred bool) (*models.Item, error) {
	return l.toggle(ctx, id, func(item *models.Item) bool {
		if item.IsStarred == starred {
			return false
		}
		item.IsStarred = starred
		return true
	})
}

func (l *Library) toggle(ctx context.Context, id int64, apply func(*models.Item) bool) (*models.Item, error) {
	item, err := l.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if !apply(item) {
		return item, nil
	}
	n, err := l.store.UpdateItems(ctx, []models.Item{*item})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}
	l.sync().ItemsChanged([]models.Item{*item})
	return item, nil
}

// MarkAllAsRead marks every unread item matching filter as read and returns
// how many changed.
func (l *Library) MarkAllAsRead(ctx context.Context, filter models.Filter) (int, error) {
	changed, err := l.store.MarkAllAsRead(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(changed) == 0 {
		return 0, nil
	}
	items := make([]models.Item, len(changed))
	for i, item := range changed {
		items[i] = *item
	}
	l.sync().ItemsChanged(items)
	return len(items), nil
}

// Extract returns the reader-mode text of an item, running the extractor
// and caching its result the first time.
func (l *Library) Extract(ctx context.Context, id int64) (string, error) {
	item, err := l.store.GetItem(ctx, id)
	if err != nil {
		return "", err
	}
	if item.Extracted != nil {
		return *item.Extracted, nil
	}
	if item.URL == nil || *item.URL == "" {
		return "", ErrNoURL
	}

	text, err := l.extractor.Extract(ctx, *item.URL)
	if err != nil {
		return "", err
	}
	item.Extracted = &text
	if _, err := l.store.UpdateItems(ctx, []models.Item{*item}); err != nil {
		return "", err
	}
	return text, nil
}

// Chapters returns the chapters of an item: those embedded in the ID3 tag
// of its first audio attachment, else those listed in its show notes.
func (l *Library) Chapters(ctx context.Context, id int64) ([]media.Chapter, error) {
	item, err := l.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	attachments, err := l.store.ListAttachments(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, a := range attachments {
		if a.Kind() != models.KindAudio {
			continue
		}
		meta, err := l.media.LoadMetadata(ctx, a.URL)
		if err != nil {
			l.log.Debug(ctx, "load media metadata", "url", a.URL, "error", err)
			break
		}
		if len(meta.Chapters) > 0 {
			return meta.Chapters, nil
		}
		break
	}
	if item.Content == nil {
		return nil, nil
	}
	return media.Chapters(*item.Content), nil
}

// ClearAll wipes every feed, item and attachment, the per-feed preferences
// and the attachment cache directory.
func (l *Library) ClearAll(ctx context.Context) error {
	if err := l.store.ClearAll(ctx); err != nil {
		return err
	}
	if l.dataDir == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Join(l.dataDir, models.AttachmentDir)); err != nil {
		return fmt.Errorf("remove attachment cache: %w", err)
	}
	return nil
}
