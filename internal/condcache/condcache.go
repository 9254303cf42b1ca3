// ABOUTME: Per-feed ETag/Last-Modified store and conditional request decorator
// ABOUTME: Entries live in the KV layer under conditionalHeaders:<source>

package condcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/harper/feedradar/internal/kv"
)

// Entry holds the validators returned by the last successful fetch.
type Entry struct {
	LastModified *string `json:"last_modified,omitempty"`
	ETag         *string `json:"etag,omitempty"`
}

// Cache reads and writes conditional-cache entries.
type Cache struct {
	store kv.Store
}

// New creates a Cache backed by store.
func New(store kv.Store) *Cache {
	return &Cache{store: store}
}

func key(source string) string {
	return kv.ConditionalHeadersPrefix + source
}

// Get returns the entry for source, or nil when none is stored.
func (c *Cache) Get(source string) (*Entry, error) {
	data, err := c.store.Get(key(source))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conditional headers: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode conditional headers: %w", err)
	}
	return &e, nil
}

// Decorate adds the cached validator for source to req. Last-Modified takes
// precedence; If-None-Match is only sent when no Last-Modified is known.
func (c *Cache) Decorate(req *http.Request, source string) error {
	e, err := c.Get(source)
	if err != nil || e == nil {
		return err
	}
	switch {
	case e.LastModified != nil:
		req.Header.Set("If-Modified-Since", *e.LastModified)
	case e.ETag != nil:
		req.Header.Set("If-None-Match", *e.ETag)
	}
	return nil
}

// Store saves the validators in h for source. Nothing is written when the
// response carries neither header.
func (c *Cache) Store(source string, h http.Header) error {
	var e Entry
	if v := h.Get("Last-Modified"); v != "" {
		e.LastModified = &v
	}
	if v := h.Get("ETag"); v != "" {
		e.ETag = &v
	}
	if e.LastModified == nil && e.ETag == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode conditional headers: %w", err)
	}
	if err := c.store.Set(key(source), data); err != nil {
		return fmt.Errorf("store conditional headers: %w", err)
	}
	return nil
}

// Delete removes the entry for source.
func (c *Cache) Delete(source string) error {
	return c.store.Delete(key(source))
}
