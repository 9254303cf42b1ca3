// ABOUTME: Tests for the bounded fetch scheduler
// ABOUTME: Covers concurrency limits, in-flight skipping, conditional GET, and loading-state clearing

package fetch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harper/feedradar/internal/condcache"
	"github.com/harper/feedradar/internal/fetch"
	"github.com/harper/feedradar/internal/kv"
	"github.com/harper/feedradar/internal/logging"
)

func newScheduler(opts ...fetch.Option) (*fetch.Scheduler, *condcache.Cache) {
	cache := condcache.New(kv.NewMemory())
	opts = append([]fetch.Option{fetch.WithClearDelay(0)}, opts...)
	return fetch.NewScheduler(fetch.NewClient(5*time.Second), cache, logging.NewNop(), opts...), cache
}

type collector struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (c *collector) onEach(_ context.Context, body []byte, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bodies == nil {
		c.bodies = make(map[string]string)
	}
	c.bodies[source] = string(body)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func TestScheduler_BoundedConcurrency(t *testing.T) {
	var inFlight, highWater int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			hw := atomic.LoadInt32(&highWater)
			if n <= hw || atomic.CompareAndSwapInt32(&highWater, hw, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte("body " + r.URL.Path))
	}))
	defer server.Close()

	const workers = 3
	s, _ := newScheduler(fetch.WithWorkers(workers))

	var sources []string
	for i := 0; i < 20; i++ {
		sources = append(sources, fmt.Sprintf("%s/feed/%d", server.URL, i))
	}

	var c collector
	s.Fetch(context.Background(), sources, c.onEach)

	assert.Equal(t, 20, c.count())
	assert.LessOrEqual(t, atomic.LoadInt32(&highWater), int32(workers))
	assert.Greater(t, atomic.LoadInt32(&highWater), int32(1), "expected downloads to overlap")
}

func TestScheduler_ConditionalGet(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("<rss/>"))
	}))
	defer server.Close()

	s, cache := newScheduler()

	calls := 0
	onEach := func(context.Context, []byte, string) { calls++ }

	s.Fetch(context.Background(), []string{server.URL}, onEach)
	require.Equal(t, 1, calls)

	entry, err := cache.Get(server.URL)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.NotNil(t, entry.ETag)
	assert.Equal(t, `"v1"`, *entry.ETag)

	s.Fetch(context.Background(), []string{server.URL}, onEach)
	assert.Equal(t, 1, calls, "304 must not invoke onEach")
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestScheduler_EmptyBodyIsNotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"empty"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s, cache := newScheduler()
	called := false
	s.Fetch(context.Background(), []string{server.URL}, func(context.Context, []byte, string) { called = true })

	assert.False(t, called)
	entry, err := cache.Get(server.URL)
	require.NoError(t, err)
	require.NotNil(t, entry, "headers are stored even for empty bodies")
}

func TestScheduler_FailureSkipsCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s, _ := newScheduler()
	called := false
	s.Fetch(context.Background(), []string{server.URL}, func(context.Context, []byte, string) { called = true })

	assert.False(t, called)
	assert.False(t, s.IsLoading(server.URL))
}

func TestScheduler_SkipsInFlight(t *testing.T) {
	release := make(chan struct{})
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		<-release
		w.Write([]byte("<rss/>"))
	}))
	defer server.Close()

	s, _ := newScheduler()

	done := make(chan struct{})
	go func() {
		s.Fetch(context.Background(), []string{server.URL}, func(context.Context, []byte, string) {})
		close(done)
	}()

	require.Eventually(t, func() bool { return s.IsLoading(server.URL) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{server.URL}, s.Loading())

	// A second request for the same source returns immediately.
	s.Fetch(context.Background(), []string{server.URL}, func(context.Context, []byte, string) {
		t.Error("in-flight source must be skipped")
	})

	close(release)
	<-done
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestScheduler_TrailingClearDelay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<rss/>"))
	}))
	defer server.Close()

	var mu sync.Mutex
	var transitions []bool
	s, _ := newScheduler(
		fetch.WithClearDelay(50*time.Millisecond),
		fetch.WithLoadingObserver(func(_ string, loading bool) {
			mu.Lock()
			transitions = append(transitions, loading)
			mu.Unlock()
		}),
	)

	s.Fetch(context.Background(), []string{server.URL}, func(context.Context, []byte, string) {})
	assert.True(t, s.IsLoading(server.URL), "flag stays set during the trailing delay")

	require.Eventually(t, func() bool { return !s.IsLoading(server.URL) }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestScheduler_HostRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<rss/>"))
	}))
	defer server.Close()

	s, _ := newScheduler(fetch.WithHostRate(1000, 1))
	var c collector
	s.Fetch(context.Background(), []string{server.URL + "/a", server.URL + "/b"}, c.onEach)
	assert.Equal(t, 2, c.count())
}
