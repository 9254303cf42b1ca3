// ABOUTME: Feed normalizer mapping RSS, Atom and JSON Feed documents onto Feed/Item/Attachment
// ABOUTME: Detects the format with gofeed and derives every id with the stable hash

package parse

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/harper/feedradar/internal/models"
)

// ErrUnsupportedFormat is returned when the body is not RSS, Atom or JSON Feed.
var ErrUnsupportedFormat = errors.New("unsupported feed format")

// FaviconService builds the last-resort icon URL for a host.
const FaviconService = "https://www.google.com/s2/favicons?domain=%s&sz=128"

// Result is one normalized feed document.
type Result struct {
	Feed        models.Feed
	Items       []models.Item
	Attachments []models.Attachment
}

// Normalize parses body and maps it onto the canonical shape for source.
func Normalize(source string, body []byte) (*Result, error) {
	switch gofeed.DetectFeedType(bytes.NewReader(body)) {
	case gofeed.FeedTypeRSS:
		return normalizeRSS(source, body)
	case gofeed.FeedTypeAtom:
		return normalizeAtom(source, body)
	case gofeed.FeedTypeJSON:
		return normalizeJSON(source, body)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// builder accumulates normalized rows for one source.
type builder struct {
	source string
	result Result
}

func newBuilder(source string) *builder {
	return &builder{source: source, result: Result{Feed: models.Feed{Source: source}}}
}

// entry describes one provider entry after format-specific field selection.
type entry struct {
	guid    string
	title   string
	time    *time.Time
	author  string
	content string
	url     string
	media   []media
}

type media struct {
	url   string
	mime  string
	title string
}

// add appends the item and its attachments. Entries without a guid are
// dropped because the id cannot be derived.
func (b *builder) add(e entry) {
	guid := strings.TrimSpace(e.guid)
	if guid == "" {
		return
	}

	title := strings.TrimSpace(e.title)
	if title == "" {
		title = guid
	}

	item := models.NewItem(b.source, guid, title)
	if e.time != nil {
		t := e.time.UTC().Truncate(models.TimePrecision)
		item.Time = &t
	}
	item.Author = optional(e.author)
	item.Content = optional(e.content)
	item.URL = optional(e.url)
	b.result.Items = append(b.result.Items, *item)

	// The same URL listed twice derives the same attachment id; the first wins.
	seen := make(map[int64]bool, len(e.media))
	for _, m := range e.media {
		if m.url == "" || m.mime == "" {
			continue
		}
		a := models.NewAttachment(item.ID, m.url, optional(m.mime), optional(m.title))
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		b.result.Attachments = append(b.result.Attachments, a)
	}
}

func (b *builder) setFeed(title, icon string) {
	b.result.Feed.Title = optional(title)
	b.result.Feed.Icon = optional(icon)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// firstNonEmpty returns the first argument that is not blank.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// joinNames trims each name and joins the non-empty ones with ", ".
func joinNames(names []string) string {
	var kept []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			kept = append(kept, n)
		}
	}
	return strings.Join(kept, ", ")
}

// Favicon returns the favicon-service URL for the host of link, or "" when
// link has no host.
func Favicon(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return fmt.Sprintf(FaviconService, url.QueryEscape(u.Hostname()))
}
