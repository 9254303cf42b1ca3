// ABOUTME: Item model representing a single feed entry with user-owned read/starred state
// ABOUTME: Item ids are stable hashes of source+guid and double as remote record names

package models

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/harper/feedradar/internal/stablehash"
)

// Item represents one entry of a feed.
//
// IsRead and IsStarred belong to the user; SyncSnapshot and Extracted are
// opaque to everything except the sync backend and the content extractor.
// A fetch never overwrites any of the four.
type Item struct {
	ID           int64
	Source       string
	Title        string
	Time         *time.Time
	Author       *string
	Content      *string
	URL          *string
	IsRead       bool
	IsStarred    bool
	SyncSnapshot []byte
	Extracted    *string
}

// TimePrecision is the resolution item times are stored at. Normalized
// times are truncated to it so a stored item compares equal to a refetch.
const TimePrecision = time.Microsecond

// ItemID derives the id of an item from its feed source and provider guid.
func ItemID(source, guid string) int64 {
	return stablehash.Hash(source + guid)
}

// NewItem creates an Item with the derived id.
func NewItem(source, guid, title string) *Item {
	return &Item{
		ID:     ItemID(source, guid),
		Source: source,
		Title:  title,
	}
}

// RecordName returns the remote record name for an item id.
func RecordName(id int64) string {
	return fmt.Sprintf("%x", uint64(id))
}

// ParseRecordName reverses RecordName.
func ParseRecordName(name string) (int64, error) {
	u, err := strconv.ParseUint(name, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record name %q: %w", name, err)
	}
	return int64(u), nil
}

// RecordName returns the remote record name of the item.
func (i *Item) RecordName() string {
	return RecordName(i.ID)
}

// Touched reports whether the user has set any flag on the item.
func (i *Item) Touched() bool {
	return i.IsRead || i.IsStarred
}

// PreserveLocal copies the user-owned and opaque fields of stored onto i.
func (i *Item) PreserveLocal(stored *Item) {
	i.IsRead = stored.IsRead
	i.IsStarred = stored.IsStarred
	i.SyncSnapshot = stored.SyncSnapshot
	i.Extracted = stored.Extracted
}

// Equal compares every field by value. Times compare as instants.
func (i *Item) Equal(other *Item) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.ID == other.ID &&
		i.Source == other.Source &&
		i.Title == other.Title &&
		equalTimePtr(i.Time, other.Time) &&
		equalStringPtr(i.Author, other.Author) &&
		equalStringPtr(i.Content, other.Content) &&
		equalStringPtr(i.URL, other.URL) &&
		i.IsRead == other.IsRead &&
		i.IsStarred == other.IsStarred &&
		bytes.Equal(i.SyncSnapshot, other.SyncSnapshot) &&
		equalStringPtr(i.Extracted, other.Extracted)
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
