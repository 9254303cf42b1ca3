// ABOUTME: Feed model representing a subscribed source identified by its URL
// ABOUTME: Feeds own items and attachments; deleting a feed cascades to both

package models

// Feed represents a subscription. Source is the identity and never changes.
type Feed struct {
	Source string  // Feed URL, also the remote zone name
	Title  *string // Feed title (from feed metadata)
	Icon   *string // Favicon or logo URL
}

// NewFeed creates a Feed for the given source URL with no metadata yet.
func NewFeed(source string) *Feed {
	return &Feed{Source: source}
}

// DisplayTitle returns the title, falling back to the source URL.
func (f *Feed) DisplayTitle() string {
	if f.Title != nil && *f.Title != "" {
		return *f.Title
	}
	return f.Source
}

// Equal compares every field by value.
func (f *Feed) Equal(other *Feed) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.Source == other.Source &&
		equalStringPtr(f.Title, other.Title) &&
		equalStringPtr(f.Icon, other.Icon)
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
