// ABOUTME: Test suite for Feed, Item, Attachment and Filter models
// ABOUTME: Validates derived ids, value equality, record names and display titles

package models

import (
	"strconv"
	"testing"
	"time"

	"github.com/harper/feedradar/internal/stablehash"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestNewFeed(t *testing.T) {
	source := "https://example.com/feed.xml"
	feed := NewFeed(source)

	if feed.Source != source {
		t.Errorf("expected Source to be %q, got %q", source, feed.Source)
	}
	if feed.Title != nil || feed.Icon != nil {
		t.Error("expected new feed to have no metadata")
	}
}

func TestFeed_DisplayTitle(t *testing.T) {
	feed := NewFeed("https://example.com/feed.xml")
	if got := feed.DisplayTitle(); got != feed.Source {
		t.Errorf("expected source fallback, got %q", got)
	}

	feed.Title = strPtr("")
	if got := feed.DisplayTitle(); got != feed.Source {
		t.Errorf("expected source fallback for empty title, got %q", got)
	}

	feed.Title = strPtr("Example")
	if got := feed.DisplayTitle(); got != "Example" {
		t.Errorf("expected title, got %q", got)
	}
}

func TestFeed_Equal(t *testing.T) {
	a := &Feed{Source: "s", Title: strPtr("t"), Icon: strPtr("i")}
	b := &Feed{Source: "s", Title: strPtr("t"), Icon: strPtr("i")}
	if !a.Equal(b) {
		t.Error("expected feeds with equal values to be equal")
	}

	b.Icon = nil
	if a.Equal(b) {
		t.Error("expected feeds with different icons to differ")
	}

	var nilFeed *Feed
	if nilFeed.Equal(a) {
		t.Error("expected nil feed to differ from non-nil feed")
	}
}

func TestItemID_UsesStableHash(t *testing.T) {
	source := "https://ex.com/f.xml"
	if got, want := ItemID(source, "a"), stablehash.Hash(source+"a"); got != want {
		t.Errorf("expected ItemID %d, got %d", want, got)
	}

	item := NewItem(source, "a", "Title")
	if item.ID != ItemID(source, "a") {
		t.Errorf("expected NewItem to derive id, got %d", item.ID)
	}
}

func TestRecordName_RoundTrip(t *testing.T) {
	ids := []int64{0, 1, 5381, -1, -9223372036854775808, 9223372036854775807}
	for _, id := range ids {
		name := RecordName(id)
		got, err := ParseRecordName(name)
		if err != nil {
			t.Fatalf("ParseRecordName(%q) failed: %v", name, err)
		}
		if got != id {
			t.Errorf("expected %d, got %d (name %q)", id, got, name)
		}
	}

	if got := RecordName(-1); got != "ffffffffffffffff" {
		t.Errorf("expected unsigned hex for -1, got %q", got)
	}

	if _, err := ParseRecordName("not-hex"); err == nil {
		t.Error("expected error for invalid record name")
	}
}

func TestItem_Equal(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewItem("s", "g", "Title")
	a.Time = &ts
	a.Author = strPtr("Ann")

	b := *a
	local := ts.In(time.FixedZone("X", 3600))
	b.Time = &local
	if !a.Equal(&b) {
		t.Error("expected same instant in different zones to be equal")
	}

	b.SyncSnapshot = []byte{1}
	if a.Equal(&b) {
		t.Error("expected different snapshots to differ")
	}
}

func TestItem_PreserveLocal(t *testing.T) {
	stored := NewItem("s", "g", "Old")
	stored.IsRead = true
	stored.IsStarred = true
	stored.SyncSnapshot = []byte("snap")
	stored.Extracted = strPtr("text")

	fresh := NewItem("s", "g", "New")
	fresh.PreserveLocal(stored)

	if !fresh.IsRead || !fresh.IsStarred {
		t.Error("expected flags to be preserved")
	}
	if string(fresh.SyncSnapshot) != "snap" || fresh.Extracted == nil || *fresh.Extracted != "text" {
		t.Error("expected opaque fields to be preserved")
	}
	if fresh.Title != "New" {
		t.Errorf("expected fetched title to win, got %q", fresh.Title)
	}
}

func TestAttachment_IDAndKind(t *testing.T) {
	itemID := ItemID("s", "g")
	att := NewAttachment(itemID, "https://cdn.ex.com/ep1.mp3", strPtr("audio/mpeg"), nil)

	if want := stablehash.Hash("https://cdn.ex.com/ep1.mp3" + strconv.FormatInt(itemID, 10)); att.ID != want {
		t.Errorf("expected attachment id %d, got %d", want, att.ID)
	}

	tests := []struct {
		mime *string
		want Kind
	}{
		{strPtr("audio/mpeg"), KindAudio},
		{strPtr("VIDEO/mp4"), KindVideo},
		{strPtr("image/png"), KindImage},
		{strPtr("application/pdf"), KindOther},
		{nil, KindOther},
	}
	for _, tt := range tests {
		a := Attachment{MIME: tt.mime}
		if got := a.Kind(); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestAttachment_LocalPath(t *testing.T) {
	att := Attachment{ID: 255, ItemID: 16, URL: "https://cdn.ex.com/media/ep1.mp3?token=x"}
	if got, want := att.LocalPath(), "attachments/10/ff/ep1.mp3"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	att.URL = "https://cdn.ex.com/"
	if got, want := att.LocalPath(), "attachments/10/ff/file"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestFilter_Matches(t *testing.T) {
	item := NewItem("s", "g", "t")
	item.IsStarred = true

	if !(Filter{}).Matches(item) {
		t.Error("expected empty filter to match")
	}
	if !Unread().Matches(item) {
		t.Error("expected unread filter to match unread item")
	}
	if (Filter{Feed: strPtr("other")}).Matches(item) {
		t.Error("expected feed filter to reject other feed")
	}
	if (Filter{IsStarred: boolPtr(false)}).Matches(item) {
		t.Error("expected unstarred filter to reject starred item")
	}
}

func TestFilter_Title(t *testing.T) {
	tests := []struct {
		name      string
		filter    Filter
		feedTitle string
		want      string
	}{
		{"inbox", Filter{}, "", "Inbox"},
		{"feed title", Filter{Feed: strPtr("https://ex.com")}, "Example", "Example"},
		{"feed source", Filter{Feed: strPtr("https://ex.com")}, "", "https://ex.com"},
		{"unread", Unread(), "", "Unread"},
		{"read starred", Filter{IsRead: boolPtr(true), IsStarred: boolPtr(true)}, "", "Read & Starred"},
		{"unstarred", Filter{IsStarred: boolPtr(false)}, "", "Unstarred"},
		{"only unread", Filter{IsStarred: boolPtr(true)}.OnlyUnread(), "", "Unread & Starred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Title(tt.feedTitle); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
