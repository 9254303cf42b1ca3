// ABOUTME: Per-feed display preference and the saved item filter, both kept in the kv layer
// ABOUTME: Display picks feed content, reader-mode text or the web link when showing an item

package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harper/feedradar/internal/kv"
	"github.com/harper/feedradar/internal/models"
)

// savedFilterKey holds the JSON of the filter used when a listing names none.
const savedFilterKey = "filter"

// Display selects how an item body is shown.
type Display string

const (
	DisplayContent   Display = "content"
	DisplayExtracted Display = "extracted"
	DisplayWeb       Display = "web"
)

// ErrInvalidDisplay is returned for an unknown display name.
var ErrInvalidDisplay = errors.New("display must be content, extracted or web")

// ParseDisplay validates a display name.
func ParseDisplay(s string) (Display, error) {
	switch d := Display(s); d {
	case DisplayContent, DisplayExtracted, DisplayWeb:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDisplay, s)
}

// Display returns the display preference of source, DisplayContent when
// none is set.
func (l *Library) Display(ctx context.Context, source string) Display {
	data, err := l.kv.Get(kv.DisplayPrefix + source)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			l.log.Warn(ctx, "read display preference", "source", source, "error", err)
		}
		return DisplayContent
	}
	d, err := ParseDisplay(string(data))
	if err != nil {
		return DisplayContent
	}
	return d
}

// SetDisplay stores the display preference of an existing feed.
func (l *Library) SetDisplay(ctx context.Context, source string, d Display) error {
	if _, err := ParseDisplay(string(d)); err != nil {
		return err
	}
	if _, err := l.store.GetFeed(ctx, source); err != nil {
		return err
	}
	if d == DisplayContent {
		return l.kv.Delete(kv.DisplayPrefix + source)
	}
	return l.kv.Set(kv.DisplayPrefix+source, []byte(d))
}

// SavedFilter returns the saved listing filter, the zero filter when none
// is saved.
func (l *Library) SavedFilter() (models.Filter, error) {
	var f models.Filter
	data, err := l.kv.Get(savedFilterKey)
	if errors.Is(err, kv.ErrNotFound) {
		return f, nil
	}
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return models.Filter{}, fmt.Errorf("decode saved filter: %w", err)
	}
	return f, nil
}

// SaveFilter persists f as the default listing filter. Time bounds are
// relative to when they were typed, so they are not saved.
func (l *Library) SaveFilter(f models.Filter) error {
	f.Since, f.Before = nil, nil
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return l.kv.Set(savedFilterKey, data)
}
