// ABOUTME: Test suite for OPML import and export
// ABOUTME: Covers nested folders, duplicate feeds, and write-then-parse of exported feeds

package opml

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harper/feedradar/internal/models"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head>
    <title>My Feeds</title>
  </head>
  <body>
    <outline text="Tech News">
      <outline type="rss" text="Hacker News" xmlUrl="https://hnrss.org/frontpage" />
      <outline type="rss" text="TechCrunch" title="TC" xmlUrl="https://techcrunch.com/feed/" />
      <outline text="Deep">
        <outline type="rss" text="Nested" xmlUrl="https://nested.example.com/feed" />
      </outline>
    </outline>
    <outline text="Blogs">
      <outline type="rss" text="Joel on Software" xmlUrl="https://www.joelonsoftware.com/feed/" />
      <outline type="rss" text="Hacker News again" xmlUrl="https://hnrss.org/frontpage" />
    </outline>
    <outline type="rss" text="No Folder Feed" xmlUrl=" https://example.com/feed " />
  </body>
</opml>`

func TestParseSubscriptions(t *testing.T) {
	doc, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Title != "My Feeds" {
		t.Errorf("Title = %q, want %q", doc.Title, "My Feeds")
	}

	subs := doc.Subscriptions()
	want := []Subscription{
		{URL: "https://hnrss.org/frontpage", Title: "Hacker News", Folder: "Tech News"},
		{URL: "https://techcrunch.com/feed/", Title: "TC", Folder: "Tech News"},
		{URL: "https://nested.example.com/feed", Title: "Nested", Folder: "Deep"},
		{URL: "https://www.joelonsoftware.com/feed/", Title: "Joel on Software", Folder: "Blogs"},
		{URL: "https://example.com/feed", Title: "No Folder Feed", Folder: ""},
	}
	if len(subs) != len(want) {
		t.Fatalf("Subscriptions() returned %d, want %d: %+v", len(subs), len(want), subs)
	}
	for i := range want {
		if subs[i] != want[i] {
			t.Errorf("subscription %d = %+v, want %+v", i, subs[i], want[i])
		}
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse(strings.NewReader("not xml at all")); err == nil {
		t.Error("expected an error for invalid OPML")
	}
}

func TestExportRoundTrip(t *testing.T) {
	title := "Example"
	feeds := []*models.Feed{
		{Source: "https://example.com/feed", Title: &title},
		{Source: "https://untitled.example.com/rss"},
	}

	var buf bytes.Buffer
	if err := FromFeeds("feedradar subscriptions", feeds).Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "<?xml") {
		t.Error("output should start with the XML header")
	}
	if !strings.Contains(out, `version="2.0"`) {
		t.Error("output should declare OPML 2.0")
	}

	doc, err := Parse(strings.NewReader(out))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	subs := doc.Subscriptions()
	if len(subs) != 2 {
		t.Fatalf("got %d subscriptions, want 2", len(subs))
	}
	if subs[0].Title != "Example" || subs[0].URL != "https://example.com/feed" {
		t.Errorf("unexpected first subscription %+v", subs[0])
	}
	if subs[1].Title != "https://untitled.example.com/rss" {
		t.Errorf("untitled feed should use its source as title, got %q", subs[1].Title)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "feeds.opml")
	doc := FromFeeds("test", []*models.Feed{{Source: "https://example.com/feed"}})
	if err := doc.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	parsed, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if parsed.Title != "test" || len(parsed.Subscriptions()) != 1 {
		t.Errorf("unexpected parsed document %+v", parsed)
	}
}

func TestParseFileMissing(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.opml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
