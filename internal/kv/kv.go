// ABOUTME: Key-value abstraction for per-feed preferences and sync state
// ABOUTME: Implemented by the SQLite store, the Charm KV adapter, and an in-memory map for tests

package kv

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is a flat byte-valued key-value store.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Keys returns all keys with the given prefix, sorted.
	Keys(prefix string) ([]string, error)
}

// Key prefixes for per-feed state. Each is followed by the feed source URL.
const (
	IconPrefix               = "icon:"
	DisplayPrefix            = "display:"
	ConditionalHeadersPrefix = "conditionalHeaders:"
)

// FeedKeys returns every per-feed key for source.
func FeedKeys(source string) []string {
	return []string{
		IconPrefix + source,
		DisplayPrefix + source,
		ConditionalHeadersPrefix + source,
	}
}

// PurgeFeed deletes every per-feed key for source.
func PurgeFeed(s Store, source string) error {
	var errs []error
	for _, key := range FeedKeys(source) {
		if err := s.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory is a map-backed Store, safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
