// ABOUTME: Tests for the library: fetch-merge-notify flow, flag toggles and feed lifecycle
// ABOUTME: Runs against a real SQLite store and an httptest feed server with ETag support

package library

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harper/feedradar/internal/condcache"
	"github.com/harper/feedradar/internal/fetch"
	"github.com/harper/feedradar/internal/kv"
	"github.com/harper/feedradar/internal/logging"
	"github.com/harper/feedradar/internal/models"
	"github.com/harper/feedradar/internal/storage"
)

const rssTemplate = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
<title>Example</title>
<link>%[1]s</link>
<image><url>%[1]s/icon.png</url></image>
<item><guid>a</guid><title>%[2]s</title><link>%[1]s/a</link><description>0:00 Intro&lt;br&gt;1:30 Main</description></item>
<item><guid>b</guid><title>Second</title><link>%[1]s/b</link></item>
</channel>
</rss>`

type feedServer struct {
	*httptest.Server

	mu      sync.Mutex
	titleA  string
	version int
	hits    atomic.Int32
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{titleA: "First", version: 1}

	var icon bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	img.Set(0, 0, color.White)
	require.NoError(t, png.Encode(&icon, img))

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/icon.png" {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(icon.Bytes())
			return
		}
		fs.hits.Add(1)

		fs.mu.Lock()
		etag := fmt.Sprintf(`"v%d"`, fs.version)
		title := fs.titleA
		fs.mu.Unlock()

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = fmt.Fprintf(w, rssTemplate, fs.URL, title)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) setTitle(title string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.titleA = title
	fs.version++
}

type recordingSyncer struct {
	mu      sync.Mutex
	added   []string
	deleted []string
	changed []models.Item
	orphans []string
}

func (r *recordingSyncer) FeedAdded(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, source)
}

func (r *recordingSyncer) FeedDeleted(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, source)
}

func (r *recordingSyncer) ItemsChanged(items []models.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, items...)
}

func (r *recordingSyncer) ProcessOrphans(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orphans = append(r.orphans, source)
}

func (r *recordingSyncer) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added, r.deleted, r.changed, r.orphans = nil, nil, nil, nil
}

func newTestLibrary(t *testing.T) (*Library, *storage.SQLiteStore, *recordingSyncer) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logging.NewNop()
	scheduler := fetch.NewScheduler(fetch.NewClient(5*time.Second), condcache.New(store.KV()), log, fetch.WithClearDelay(0))
	lib := New(store, scheduler, log, WithDataDir(dir))
	t.Cleanup(lib.Wait)

	syncer := &recordingSyncer{}
	lib.SetSyncer(syncer)
	return lib, store, syncer
}

func TestAddFeedFetchesAndReports(t *testing.T) {
	ctx := context.Background()
	lib, _, syncer := newTestLibrary(t)
	server := newFeedServer(t)

	require.NoError(t, lib.AddFeed(ctx, server.URL, true))

	feed, err := lib.Feed(ctx, server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Example", feed.DisplayTitle())

	items, err := lib.Items(ctx, models.Filter{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	assert.Equal(t, []string{server.URL}, syncer.added)
	assert.Len(t, syncer.changed, 2)
	assert.Equal(t, []string{server.URL}, syncer.orphans)

	lib.Wait()
	icon, err := lib.Icon(server.URL)
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(icon))
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Width)
}

func TestAddFeedFromRemoteIsNotReported(t *testing.T) {
	ctx := context.Background()
	lib, _, syncer := newTestLibrary(t)
	server := newFeedServer(t)

	require.NoError(t, lib.AddFeed(ctx, server.URL, false))
	assert.Empty(t, syncer.added)
	assert.Len(t, syncer.changed, 2)
}

func TestAddFeedRejectsInvalidSource(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	for _, source := range []string{"", "ftp://example.com/feed", "not a url", "/relative"} {
		err := lib.AddFeed(context.Background(), source, true)
		assert.ErrorIs(t, err, ErrInvalidSource, source)
	}
}

// Two items, mark one read, re-fetch with its title changed: exactly one
// write and the read flag survives. A 304 afterwards parses nothing.
func TestRefreshPreservesLocalState(t *testing.T) {
	ctx := context.Background()
	lib, _, syncer := newTestLibrary(t)
	server := newFeedServer(t)
	require.NoError(t, lib.AddFeed(ctx, server.URL, true))

	idA := models.ItemID(server.URL, "a")
	_, err := lib.SetRead(ctx, idA, true)
	require.NoError(t, err)

	server.setTitle("First, edited")
	syncer.reset()

	report, err := lib.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Writes)
	assert.Equal(t, 1, report.Changed)

	item, err := lib.Item(ctx, idA)
	require.NoError(t, err)
	assert.Equal(t, "First, edited", item.Title)
	assert.True(t, item.IsRead)
	require.Len(t, syncer.changed, 1)
	assert.Equal(t, idA, syncer.changed[0].ID)

	hits := server.hits.Load()
	report, err = lib.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, hits+1, server.hits.Load())
	assert.Zero(t, report.Updated)
	assert.Zero(t, report.Writes)
}

func TestRefreshReportsParseFailure(t *testing.T) {
	ctx := context.Background()
	lib, store, _ := newTestLibrary(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>not a feed</body></html>"))
	}))
	defer server.Close()

	_, err := store.AddFeed(ctx, models.NewFeed(server.URL))
	require.NoError(t, err)

	report, err := lib.Fetch(ctx, server.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{server.URL}, report.Failed)
	assert.Zero(t, report.Writes)
}

func TestSetReadAndStarred(t *testing.T) {
	ctx := context.Background()
	lib, _, syncer := newTestLibrary(t)
	server := newFeedServer(t)
	require.NoError(t, lib.AddFeed(ctx, server.URL, true))
	syncer.reset()

	id := models.ItemID(server.URL, "b")
	item, err := lib.SetStarred(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, item.IsStarred)

	// Setting the same value again is not a change.
	_, err = lib.SetStarred(ctx, id, true)
	require.NoError(t, err)
	assert.Len(t, syncer.changed, 1)

	_, err = lib.SetRead(ctx, id, true)
	require.NoError(t, err)
	_, err = lib.SetRead(ctx, id, false)
	require.NoError(t, err)
	assert.Len(t, syncer.changed, 3)

	touched, err := lib.TouchedItems(ctx)
	require.NoError(t, err)
	require.Len(t, touched, 1)
	assert.Equal(t, id, touched[0].ID)

	_, err = lib.SetRead(ctx, 12345, true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkAllAsRead(t *testing.T) {
	ctx := context.Background()
	lib, _, syncer := newTestLibrary(t)
	server := newFeedServer(t)
	require.NoError(t, lib.AddFeed(ctx, server.URL, true))
	_, err := lib.SetRead(ctx, models.ItemID(server.URL, "a"), true)
	require.NoError(t, err)
	syncer.reset()

	n, err := lib.MarkAllAsRead(ctx, models.Filter{Feed: &server.URL})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, syncer.changed, 1)

	unread, err := lib.Count(ctx, models.Unread())
	require.NoError(t, err)
	assert.Zero(t, unread)

	n, err = lib.MarkAllAsRead(ctx, models.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteFeed(t *testing.T) {
	ctx := context.Background()
	lib, store, syncer := newTestLibrary(t)
	server := newFeedServer(t)
	require.NoError(t, lib.AddFeed(ctx, server.URL, true))
	lib.Wait()

	require.NoError(t, lib.DeleteFeed(ctx, server.URL, true))
	assert.Equal(t, []string{server.URL}, syncer.deleted)

	_, err := lib.Feed(ctx, server.URL)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	count, err := lib.Count(ctx, models.Filter{})
	require.NoError(t, err)
	assert.Zero(t, count)

	for _, key := range kv.FeedKeys(server.URL) {
		_, err := store.KV().Get(key)
		assert.ErrorIs(t, err, kv.ErrNotFound, key)
	}

	assert.ErrorIs(t, lib.DeleteFeed(ctx, server.URL, true), storage.ErrNotFound)
	assert.NoError(t, lib.DeleteFeed(ctx, server.URL, false))
	assert.Len(t, syncer.deleted, 1)
}

func TestUpdateItemsIsNotReported(t *testing.T) {
	ctx := context.Background()
	lib, _, syncer := newTestLibrary(t)
	server := newFeedServer(t)
	require.NoError(t, lib.AddFeed(ctx, server.URL, true))
	syncer.reset()

	item, err := lib.Item(ctx, models.ItemID(server.URL, "a"))
	require.NoError(t, err)
	item.IsStarred = true
	require.NoError(t, lib.UpdateItems(ctx, []models.Item{*item}))
	assert.Empty(t, syncer.changed)

	got, err := lib.Item(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, got.IsStarred)
}

func TestChaptersFromShowNotes(t *testing.T) {
	ctx := context.Background()
	lib, _, _ := newTestLibrary(t)
	server := newFeedServer(t)
	require.NoError(t, lib.AddFeed(ctx, server.URL, true))

	chapters, err := lib.Chapters(ctx, models.ItemID(server.URL, "a"))
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, "Intro", chapters[0].Title)
	assert.Equal(t, 90*time.Second, chapters[1].Start)

	chapters, err = lib.Chapters(ctx, models.ItemID(server.URL, "b"))
	require.NoError(t, err)
	assert.Nil(t, chapters)
}

func TestExtractWithoutURL(t *testing.T) {
	ctx := context.Background()
	lib, store, _ := newTestLibrary(t)
	source := "https://example.com/feed"
	_, err := store.AddFeed(ctx, models.NewFeed(source))
	require.NoError(t, err)
	_, err = store.Merge(ctx, models.Feed{Source: source}, []models.Item{*models.NewItem(source, "x", "No link")}, nil)
	require.NoError(t, err)

	_, err = lib.Extract(ctx, models.ItemID(source, "x"))
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestExtractCachesResult(t *testing.T) {
	ctx := context.Background()
	lib, store, _ := newTestLibrary(t)

	var downloads atomic.Int32
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Story</title></head><body><article>
<h1>Story</h1>
<p>This is a long enough paragraph of article text for the readability parser to keep it as the main content of the page.</p>
<p>A second paragraph adds more weight to the article so that it clearly wins over any boilerplate around it.</p>
</article></body></html>`))
	}))
	defer page.Close()

	source := "https://example.com/feed"
	_, err := store.AddFeed(ctx, models.NewFeed(source))
	require.NoError(t, err)
	item := models.NewItem(source, "x", "Story")
	link := page.URL + "/story"
	item.URL = &link
	_, err = store.Merge(ctx, models.Feed{Source: source}, []models.Item{*item}, nil)
	require.NoError(t, err)

	text, err := lib.Extract(ctx, item.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "long enough paragraph")

	again, err := lib.Extract(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, text, again)
	assert.Equal(t, int32(1), downloads.Load())
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	lib, _, _ := newTestLibrary(t)
	server := newFeedServer(t)
	require.NoError(t, lib.AddFeed(ctx, server.URL, true))
	lib.Wait()

	cacheDir := filepath.Join(lib.dataDir, models.AttachmentDir, "1")
	require.NoError(t, os.MkdirAll(cacheDir, 0o700))

	require.NoError(t, lib.ClearAll(ctx))

	feeds, err := lib.Feeds(ctx)
	require.NoError(t, err)
	assert.Empty(t, feeds)
	_, err = lib.Icon(server.URL)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = os.Stat(filepath.Join(lib.dataDir, models.AttachmentDir))
	assert.True(t, os.IsNotExist(err))
}
