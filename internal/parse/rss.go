// ABOUTME: RSS 2.0 branch of the normalizer, including media RSS and iTunes extensions
// ABOUTME: Uses guid as identity, content:encoded over description, enclosure then media:content

package parse

import (
	"bytes"
	"fmt"

	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/gofeed/rss"
)

func normalizeRSS(source string, body []byte) (*Result, error) {
	feed, err := (&rss.Parser{}).Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}

	b := newBuilder(source)

	var icon string
	switch {
	case feed.Image != nil && feed.Image.URL != "":
		icon = feed.Image.URL
	case feed.ITunesExt != nil && feed.ITunesExt.Image != "":
		icon = feed.ITunesExt.Image
	default:
		icon = Favicon(firstNonEmpty(feed.Link, source))
	}
	b.setFeed(feed.Title, icon)

	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		e := entry{
			title:   item.Title,
			time:    item.PubDateParsed,
			content: firstNonEmpty(item.Content, item.Description),
			url:     item.Link,
		}
		if item.GUID != nil {
			e.guid = item.GUID.Value
		}

		e.author = item.Author
		if e.author == "" && item.DublinCoreExt != nil {
			e.author = joinNames(item.DublinCoreExt.Creator)
		}

		if item.Enclosure != nil {
			e.media = append(e.media, media{url: item.Enclosure.URL, mime: item.Enclosure.Type})
		}
		e.media = append(e.media, mediaContents(item.Extensions)...)

		b.add(e)
	}
	return &b.result, nil
}

// mediaContents collects media:content elements, including those wrapped in
// a media:group. Titles come from a media:title child.
func mediaContents(exts ext.Extensions) []media {
	ns, ok := exts["media"]
	if !ok {
		return nil
	}

	var out []media
	collect := func(contents []ext.Extension) {
		for _, c := range contents {
			m := media{url: c.Attrs["url"], mime: c.Attrs["type"]}
			if titles := c.Children["title"]; len(titles) > 0 {
				m.title = titles[0].Value
			}
			out = append(out, m)
		}
	}

	collect(ns["content"])
	for _, group := range ns["group"] {
		collect(group.Children["content"])
	}
	return out
}
