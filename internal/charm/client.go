// ABOUTME: Charm KV client wrapper using transactional Do API
// ABOUTME: Short-lived connections to avoid lock contention; implements kv.Store

package charm

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/charm/client"
	charmkv "github.com/charmbracelet/charm/kv"
	"github.com/dgraph-io/badger/v3"

	"github.com/harper/feedradar/internal/kv"
)

const (
	// Default Charm server
	DefaultCharmHost = "charm.2389.dev"

	// DBName is the name of the charm kv database for feedradar.
	DBName = "feedradar"
)

// Client holds configuration for KV operations.
// It does NOT hold a persistent connection: each operation opens the
// database, performs the operation, and closes it.
type Client struct {
	dbName   string
	autoSync bool
}

// NewClient creates a new client. An empty host keeps CHARM_HOST, falling
// back to DefaultCharmHost.
func NewClient(host string) (*Client, error) {
	switch {
	case host != "":
		if err := os.Setenv("CHARM_HOST", host); err != nil {
			return nil, fmt.Errorf("set charm host: %w", err)
		}
	case os.Getenv("CHARM_HOST") == "":
		if err := os.Setenv("CHARM_HOST", DefaultCharmHost); err != nil {
			return nil, fmt.Errorf("set charm host: %w", err)
		}
	}

	return &Client{
		dbName:   DBName,
		autoSync: true, // Auto-sync enabled for seamless multi-device sync
	}, nil
}

// NewTestClientWithDBName creates a Client for testing with a custom database name.
// Use this when you need isolated test databases.
func NewTestClientWithDBName(dbName string, autoSync bool) *Client {
	return &Client{
		dbName:   dbName,
		autoSync: autoSync,
	}
}

// DoReadOnly executes a function with read-only database access.
// Use this for batch read operations that need multiple Gets.
func (c *Client) DoReadOnly(fn func(k *charmkv.KV) error) error {
	return charmkv.DoReadOnly(c.dbName, fn)
}

// Do executes a function with write access to the database.
// Use this for batch write operations.
func (c *Client) Do(fn func(k *charmkv.KV) error) error {
	return charmkv.Do(c.dbName, func(k *charmkv.KV) error {
		if err := fn(k); err != nil {
			return err
		}
		if c.autoSync {
			return k.Sync()
		}
		return nil
	})
}

// SetAutoSync enables or disables automatic sync after writes.
func (c *Client) SetAutoSync(enabled bool) {
	c.autoSync = enabled
}

// Sync manually triggers a sync with the Charm server.
func (c *Client) Sync() error {
	return charmkv.Do(c.dbName, func(k *charmkv.KV) error {
		return k.Sync()
	})
}

// Pull syncs before a read when auto-sync is enabled.
func (c *Client) Pull() error {
	if !c.autoSync {
		return nil
	}
	return c.Sync()
}

// Reset wipes all local data.
func (c *Client) Reset() error {
	return charmkv.Do(c.dbName, func(k *charmkv.KV) error {
		return k.Reset()
	})
}

// ID returns the user's Charm ID. It identifies the sync account.
func (c *Client) ID() (string, error) {
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", err
	}
	return cc.ID()
}

// Key-value operations

// Get returns the value stored under key, or kv.ErrNotFound.
func (c *Client) Get(key string) ([]byte, error) {
	var value []byte
	err := c.DoReadOnly(func(k *charmkv.KV) error {
		data, err := k.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) || (err == nil && data == nil) {
			return kv.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %q: %w", key, err)
		}
		value = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores value under key.
func (c *Client) Set(key string, value []byte) error {
	return c.Do(func(k *charmkv.KV) error {
		if err := k.Set([]byte(key), value); err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
		return nil
	})
}

// Delete removes key. Missing keys are not an error.
func (c *Client) Delete(key string) error {
	return c.Do(func(k *charmkv.KV) error {
		if err := k.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		return nil
	})
}

// Keys returns the sorted keys that start with prefix.
func (c *Client) Keys(prefix string) ([]string, error) {
	var keys []string
	err := c.DoReadOnly(func(k *charmkv.KV) error {
		all, err := k.Keys()
		if err != nil {
			return fmt.Errorf("list keys: %w", err)
		}
		for _, key := range all {
			if strings.HasPrefix(string(key), prefix) {
				keys = append(keys, string(key))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

var _ kv.Store = (*Client)(nil)
