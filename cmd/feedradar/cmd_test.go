// ABOUTME: Tests for CLI commands
// ABOUTME: Tests command structure, flags, subcommands and end-to-end runs against a temp database

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/harper/feedradar/internal/kv"
	"github.com/harper/feedradar/internal/models"
	"github.com/harper/feedradar/internal/storage"
)

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "feedradar" {
		t.Errorf("expected Use to be 'feedradar', got %q", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("expected root command to have a short description")
	}
	for _, name := range []string{"db", "verbose"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected --%s flag to exist", name)
		}
	}
}

func TestFeedSubcommands(t *testing.T) {
	want := map[string]bool{"add": false, "list": false, "remove": false, "import": false, "export": false, "display": false}
	for _, c := range feedCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected feed %s subcommand", name)
		}
	}
}

func TestListCommandFlags(t *testing.T) {
	for _, name := range []string{"feed", "unread", "starred", "since", "before", "search", "limit", "offset", "save"} {
		if listCmd.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag to exist", name)
		}
	}
}

func TestShowCommandFlags(t *testing.T) {
	if showCmd.Flags().Lookup("extract") == nil {
		t.Error("expected --extract flag to exist")
	}
	if showCmd.Flags().Lookup("no-mark") == nil {
		t.Error("expected --no-mark flag to exist")
	}
}

func TestFlagCommands(t *testing.T) {
	tests := []struct {
		name string
		use  string
	}{
		{"read", readCmd.Use},
		{"unread", unreadCmd.Use},
		{"star", starCmd.Use},
		{"unstar", unstarCmd.Use},
	}
	for _, tt := range tests {
		if tt.use != tt.name+" <item-id>" {
			t.Errorf("expected Use %q, got %q", tt.name+" <item-id>", tt.use)
		}
	}
}

func TestSyncCommand(t *testing.T) {
	if syncCmd.Flags().Lookup("loop") == nil {
		t.Error("expected --loop flag to exist")
	}
	if syncRepairCmd.Flags().Lookup("force") == nil {
		t.Error("expected --force flag on repair")
	}
}

func TestFetchCommandFlags(t *testing.T) {
	if fetchCmd.Flags().Lookup("metrics-addr") == nil {
		t.Error("expected --metrics-addr flag to exist")
	}
	if fetchCmd.Flags().Lookup("every") == nil {
		t.Error("expected --every flag to exist")
	}
}

const testFeed = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
<title>CLI Feed</title>
<image><url>http://%[1]s/icon.png</url></image>
<item><guid>one</guid><title>One</title><link>http://%[1]s/one</link><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate><description>0:00 Intro&lt;br&gt;2:00 Outro</description></item>
<item><guid>two</guid><title>Two</title><pubDate>Tue, 03 Jan 2006 15:04:05 GMT</pubDate></item>
</channel>
</rss>`

// setupCLI points config at a temp dir and serves a small feed.
func setupCLI(t *testing.T) (db, source string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FEEDRADAR_DATA_DIR", t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/icon.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, testFeed, r.Host)
	}))
	t.Cleanup(srv.Close)

	return filepath.Join(t.TempDir(), "feedradar.db"), srv.URL + "/feed.xml"
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	resetFlags(rootCmd)
	return run(context.Background(), args)
}

// resetFlags undoes flag values left over from an earlier run.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func openStore(t *testing.T, db string) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddFetchAndRead(t *testing.T) {
	db, source := setupCLI(t)

	if err := runCLI(t, "--db", db, "feed", "add", source); err != nil {
		t.Fatalf("feed add: %v", err)
	}
	if err := runCLI(t, "--db", db, "feed", "add", source); err == nil {
		t.Error("expected error adding a duplicate feed")
	}
	if err := runCLI(t, "--db", db, "fetch"); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	id := models.ItemID(source, "one")
	if err := runCLI(t, "--db", db, "read", models.RecordName(id)); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := runCLI(t, "--db", db, "star", models.RecordName(id)); err != nil {
		t.Fatalf("star: %v", err)
	}

	store := openStore(t, db)
	item, err := store.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !item.IsRead || !item.IsStarred {
		t.Errorf("expected item read and starred, got read=%v starred=%v", item.IsRead, item.IsStarred)
	}
	count, err := store.CountItems(context.Background(), models.Filter{Feed: &source})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 items, got %d", count)
	}
}

func TestMarkReadAndRemove(t *testing.T) {
	db, source := setupCLI(t)

	if err := runCLI(t, "--db", db, "feed", "add", source); err != nil {
		t.Fatalf("feed add: %v", err)
	}
	if err := runCLI(t, "--db", db, "markread", "--feed", source); err != nil {
		t.Fatalf("markread: %v", err)
	}

	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	unread, err := store.CountItems(context.Background(), models.Filter{Feed: &source}.OnlyUnread())
	store.Close()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if unread != 0 {
		t.Errorf("expected 0 unread, got %d", unread)
	}

	if err := runCLI(t, "--db", db, "feed", "remove", source); err != nil {
		t.Fatalf("feed remove: %v", err)
	}
	if err := runCLI(t, "--db", db, "feed", "remove", source); err == nil {
		t.Error("expected error removing a missing feed")
	}
}

func TestChaptersFromShowNotes(t *testing.T) {
	db, source := setupCLI(t)

	if err := runCLI(t, "--db", db, "feed", "add", source); err != nil {
		t.Fatalf("feed add: %v", err)
	}
	if err := runCLI(t, "--db", db, "chapters", models.RecordName(models.ItemID(source, "one"))); err != nil {
		t.Fatalf("chapters: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	db, source := setupCLI(t)
	out := filepath.Join(t.TempDir(), "feeds.opml")

	if err := runCLI(t, "--db", db, "feed", "add", source); err != nil {
		t.Fatalf("feed add: %v", err)
	}
	if err := runCLI(t, "--db", db, "feed", "export", out); err != nil {
		t.Fatalf("export: %v", err)
	}

	other := filepath.Join(t.TempDir(), "other.db")
	if err := runCLI(t, "--db", other, "feed", "import", out); err != nil {
		t.Fatalf("import: %v", err)
	}

	store := openStore(t, other)
	if _, err := store.GetFeed(context.Background(), source); err != nil {
		t.Errorf("expected imported feed, got %v", err)
	}
}

func TestUnknownItem(t *testing.T) {
	db, _ := setupCLI(t)

	if err := runCLI(t, "--db", db, "read", "zz"); err == nil {
		t.Error("expected error for malformed id")
	}
	if err := runCLI(t, "--db", db, "show", "--no-mark", "ff"); err == nil {
		t.Error("expected error for unknown item")
	}
}

func TestFeedDisplay(t *testing.T) {
	db, source := setupCLI(t)

	if err := runCLI(t, "--db", db, "feed", "add", source); err != nil {
		t.Fatalf("feed add: %v", err)
	}
	if err := runCLI(t, "--db", db, "feed", "display", source, "sideways"); err == nil {
		t.Error("expected error for unknown display")
	}
	if err := runCLI(t, "--db", db, "feed", "display", source+"/missing", "web"); err == nil {
		t.Error("expected error for unknown feed")
	}
	if err := runCLI(t, "--db", db, "feed", "display", source, "web"); err != nil {
		t.Fatalf("feed display: %v", err)
	}
	if err := runCLI(t, "--db", db, "feed", "display", source); err != nil {
		t.Fatalf("feed display show: %v", err)
	}

	id := models.ItemID(source, "one")
	if err := runCLI(t, "--db", db, "show", models.RecordName(id)); err != nil {
		t.Fatalf("show: %v", err)
	}

	store := openStore(t, db)
	raw, err := store.KV().Get(kv.DisplayPrefix + source)
	if err != nil {
		t.Fatalf("get display: %v", err)
	}
	if string(raw) != "web" {
		t.Errorf("expected display web, got %q", raw)
	}
	item, err := store.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !item.IsRead {
		t.Error("expected shown item to be marked read")
	}
}

func TestListSavedFilter(t *testing.T) {
	db, source := setupCLI(t)

	if err := runCLI(t, "--db", db, "feed", "add", source); err != nil {
		t.Fatalf("feed add: %v", err)
	}
	if err := runCLI(t, "--db", db, "list", "--save", "--unread", "--feed", source); err != nil {
		t.Fatalf("list --save: %v", err)
	}
	if err := runCLI(t, "--db", db, "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := runCLI(t, "--db", db, "list", "--limit", "0"); err == nil {
		t.Error("expected error for zero limit")
	}

	store := openStore(t, db)
	raw, err := store.KV().Get("filter")
	if err != nil {
		t.Fatalf("get saved filter: %v", err)
	}
	want := fmt.Sprintf(`{"feed":%q,"is_read":false}`, source)
	if string(raw) != want {
		t.Errorf("expected saved filter %s, got %s", want, raw)
	}
}
