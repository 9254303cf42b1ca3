// ABOUTME: OPML import and export of feed subscriptions
// ABOUTME: Flattens nested outlines into subscriptions and writes feeds back as OPML 2.0

package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harper/feedradar/internal/models"
)

// Version is the OPML version written by Write.
const Version = "2.0"

// Document is a parsed OPML file.
type Document struct {
	Title    string
	Outlines []Outline
}

// Outline is a node of the OPML tree: a folder when XMLURL is empty, a
// feed otherwise.
type Outline struct {
	Text     string
	Title    string
	Type     string
	XMLURL   string
	HTMLURL  string
	Children []Outline
}

// Subscription is one feed found in a document, with the folder it was
// filed under.
type Subscription struct {
	URL    string
	Title  string
	Folder string
}

type opmlXML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    headXML  `xml:"head"`
	Body    bodyXML  `xml:"body"`
}

type headXML struct {
	Title string `xml:"title"`
}

type bodyXML struct {
	Outlines []outlineXML `xml:"outline"`
}

type outlineXML struct {
	Text     string       `xml:"text,attr"`
	Title    string       `xml:"title,attr,omitempty"`
	Type     string       `xml:"type,attr,omitempty"`
	XMLURL   string       `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string       `xml:"htmlUrl,attr,omitempty"`
	Children []outlineXML `xml:"outline,omitempty"`
}

// Parse reads OPML data from r.
func Parse(r io.Reader) (*Document, error) {
	var doc opmlXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode OPML: %w", err)
	}

	out := &Document{
		Title:    doc.Head.Title,
		Outlines: make([]Outline, len(doc.Body.Outlines)),
	}
	for i, o := range doc.Body.Outlines {
		out.Outlines[i] = fromXML(o)
	}
	return out, nil
}

// ParseFile reads OPML data from a file.
func ParseFile(path string) (*Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Subscriptions returns every feed in the document once, in document order.
// Nested folders are flattened; a feed keeps the name of its nearest folder.
func (d *Document) Subscriptions() []Subscription {
	seen := make(map[string]bool)
	var subs []Subscription
	var walk func(outlines []Outline, folder string)
	walk = func(outlines []Outline, folder string) {
		for _, o := range outlines {
			if url := strings.TrimSpace(o.XMLURL); url != "" {
				if !seen[url] {
					seen[url] = true
					subs = append(subs, Subscription{URL: url, Title: o.title(), Folder: folder})
				}
				continue
			}
			walk(o.Children, o.title())
		}
	}
	walk(d.Outlines, "")
	return subs
}

// FromFeeds builds a flat document listing feeds.
func FromFeeds(title string, feeds []*models.Feed) *Document {
	doc := &Document{Title: title, Outlines: make([]Outline, 0, len(feeds))}
	for _, f := range feeds {
		name := f.DisplayTitle()
		doc.Outlines = append(doc.Outlines, Outline{
			Text:   name,
			Title:  name,
			Type:   "rss",
			XMLURL: f.Source,
		})
	}
	return doc
}

// Write writes the document as OPML 2.0.
func (d *Document) Write(w io.Writer) error {
	doc := opmlXML{
		Version: Version,
		Head:    headXML{Title: d.Title},
		Body:    bodyXML{Outlines: make([]outlineXML, len(d.Outlines))},
	}
	for i, o := range d.Outlines {
		doc.Body.Outlines[i] = toXML(o)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode OPML: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteFile writes the document to path, creating parent directories.
func (d *Document) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := d.Write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (o Outline) title() string {
	if o.Title != "" {
		return o.Title
	}
	return o.Text
}

func fromXML(x outlineXML) Outline {
	o := Outline{
		Text:     x.Text,
		Title:    x.Title,
		Type:     x.Type,
		XMLURL:   x.XMLURL,
		HTMLURL:  x.HTMLURL,
		Children: make([]Outline, len(x.Children)),
	}
	for i, child := range x.Children {
		o.Children[i] = fromXML(child)
	}
	return o
}

func toXML(o Outline) outlineXML {
	x := outlineXML{
		Text:     o.Text,
		Title:    o.Title,
		Type:     o.Type,
		XMLURL:   o.XMLURL,
		HTMLURL:  o.HTMLURL,
		Children: make([]outlineXML, len(o.Children)),
	}
	for i, child := range o.Children {
		x.Children[i] = toXML(child)
	}
	return x
}
