// ABOUTME: Atom branch of the normalizer
// ABOUTME: Uses entry id as identity, updated over published, and joins all author names

package parse

import (
	"bytes"
	"fmt"

	"github.com/mmcdole/gofeed/atom"
)

func normalizeAtom(source string, body []byte) (*Result, error) {
	feed, err := (&atom.Parser{}).Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse atom: %w", err)
	}

	b := newBuilder(source)

	icon := feed.Icon
	if icon == "" {
		icon = Favicon(firstNonEmpty(firstLink(feed.Links), source))
	}
	b.setFeed(feed.Title, icon)

	for _, item := range feed.Entries {
		if item == nil {
			continue
		}
		e := entry{
			guid:  item.ID,
			title: item.Title,
			url:   firstLink(item.Links),
			media: mediaContents(item.Extensions),
		}

		switch {
		case item.UpdatedParsed != nil:
			e.time = item.UpdatedParsed
		case item.PublishedParsed != nil:
			e.time = item.PublishedParsed
		}

		var names []string
		for _, author := range item.Authors {
			if author != nil {
				names = append(names, author.Name)
			}
		}
		e.author = joinNames(names)

		if item.Content != nil {
			e.content = item.Content.Value
		}
		e.content = firstNonEmpty(e.content, item.Summary)

		b.add(e)
	}
	return &b.result, nil
}

// firstLink prefers the first alternate link and falls back to the first
// link of any relation.
func firstLink(links []*atom.Link) string {
	for _, l := range links {
		if l != nil && l.Href != "" && (l.Rel == "" || l.Rel == "alternate") {
			return l.Href
		}
	}
	for _, l := range links {
		if l != nil && l.Href != "" {
			return l.Href
		}
	}
	return ""
}
