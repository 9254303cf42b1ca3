// ABOUTME: JSON Feed branch of the normalizer
// ABOUTME: Parses RFC 3339 dates itself and keeps only attachments with a URL and MIME type

package parse

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed/json"
)

func normalizeJSON(source string, body []byte) (*Result, error) {
	feed, err := (&json.Parser{}).Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse json feed: %w", err)
	}

	b := newBuilder(source)

	icon := firstNonEmpty(feed.Favicon, feed.Icon)
	if icon == "" {
		icon = Favicon(firstNonEmpty(feed.HomePageURL, feed.FeedURL, source))
	}
	b.setFeed(feed.Title, icon)

	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		e := entry{
			guid:    item.ID,
			title:   item.Title,
			content: firstNonEmpty(item.ContentHTML, item.ContentText),
			url:     item.URL,
			time:    firstDate(item.DateModified, item.DatePublished),
		}

		if item.Author != nil {
			e.author = item.Author.Name
		}
		if e.author == "" {
			var names []string
			for _, a := range item.Authors {
				if a != nil {
					names = append(names, a.Name)
				}
			}
			e.author = joinNames(names)
		}

		if item.Attachments != nil {
			for _, a := range *item.Attachments {
				e.media = append(e.media, media{url: a.URL, mime: a.MimeType, title: a.Title})
			}
		}

		b.add(e)
	}
	return &b.result, nil
}

// firstDate returns the first value that parses as RFC 3339.
func firstDate(values ...string) *time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return &t
		}
	}
	return nil
}
