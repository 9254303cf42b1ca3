// ABOUTME: Filter predicate used to build item queries (feed, read, starred)
// ABOUTME: Non-persistent; only its JSON form is saved as CLI state

package models

import (
	"strings"
	"time"
)

// Filter narrows an item query. Nil fields match anything.
type Filter struct {
	Feed      *string `json:"feed,omitempty"`
	IsRead    *bool   `json:"is_read,omitempty"`
	IsStarred *bool   `json:"is_starred,omitempty"`

	// Since and Before bound the item time. Items without a time never
	// match a bounded filter.
	Since  *time.Time `json:"since,omitempty"`
	Before *time.Time `json:"before,omitempty"`
}

// Unread returns a filter matching unread items of any feed.
func Unread() Filter {
	f := false
	return Filter{IsRead: &f}
}

// OnlyUnread returns a copy of the filter that also forces isRead=false.
func (f Filter) OnlyUnread() Filter {
	unread := false
	f.IsRead = &unread
	return f
}

// Matches reports whether the item satisfies the filter.
func (f Filter) Matches(item *Item) bool {
	if f.Feed != nil && item.Source != *f.Feed {
		return false
	}
	if f.IsRead != nil && item.IsRead != *f.IsRead {
		return false
	}
	if f.IsStarred != nil && item.IsStarred != *f.IsStarred {
		return false
	}
	if f.Since != nil || f.Before != nil {
		if item.Time == nil {
			return false
		}
		if f.Since != nil && item.Time.Before(*f.Since) {
			return false
		}
		if f.Before != nil && !item.Time.Before(*f.Before) {
			return false
		}
	}
	return true
}

// Title returns a display title. feedTitle is used when the filter names a
// feed; pass "" to fall back to the source URL.
func (f Filter) Title(feedTitle string) string {
	if f.Feed != nil {
		if feedTitle != "" {
			return feedTitle
		}
		return *f.Feed
	}

	var parts []string
	if f.IsRead != nil {
		if *f.IsRead {
			parts = append(parts, "Read")
		} else {
			parts = append(parts, "Unread")
		}
	}
	if f.IsStarred != nil {
		if *f.IsStarred {
			parts = append(parts, "Starred")
		} else {
			parts = append(parts, "Unstarred")
		}
	}
	if len(parts) == 0 {
		return "Inbox"
	}
	return strings.Join(parts, " & ")
}
