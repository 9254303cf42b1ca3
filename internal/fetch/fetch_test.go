// ABOUTME: Tests for HTTP fetcher with ETag and Last-Modified caching support.
// ABOUTME: Uses httptest to simulate server responses including 304 Not Modified.

package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harper/feedradar/internal/condcache"
	"github.com/harper/feedradar/internal/fetch"
	"github.com/harper/feedradar/internal/kv"
)

func TestFetch_Fresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != fetch.UserAgent {
			t.Errorf("expected User-Agent %q, got %q", fetch.UserAgent, ua)
		}
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<rss>test content</rss>"))
	}))
	defer server.Close()

	client := fetch.NewClient(0)
	result, err := client.Fetch(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.NotModified() {
		t.Error("expected NotModified=false for fresh fetch")
	}
	if string(result.Body) != "<rss>test content</rss>" {
		t.Errorf("expected body '<rss>test content</rss>', got %q", string(result.Body))
	}
	if got := result.Header.Get("ETag"); got != `"abc123"` {
		t.Errorf("expected ETag '\"abc123\"', got %q", got)
	}
}

func TestFetch_Cached(t *testing.T) {
	etag := `"abc123"`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inm := r.Header.Get("If-None-Match"); inm != etag {
			t.Errorf("expected If-None-Match %q, got %q", etag, inm)
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	cache := condcache.New(kv.NewMemory())
	h := http.Header{}
	h.Set("ETag", etag)
	if err := cache.Store(server.URL, h); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	result, err := fetch.NewClient(0).Fetch(context.Background(), server.URL, cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NotModified() {
		t.Error("expected NotModified=true for 304 response")
	}
	if len(result.Body) != 0 {
		t.Errorf("expected empty body for 304 response, got %d bytes", len(result.Body))
	}
}

func TestFetch_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Not Found"))
	}))
	defer server.Close()

	result, err := fetch.NewClient(0).Fetch(context.Background(), server.URL, nil)
	if err == nil {
		t.Fatal("expected error for 404 response, got nil")
	}
	if result != nil {
		t.Errorf("expected nil result for error case, got %+v", result)
	}
}

func TestFetch_RejectsNonHTTP(t *testing.T) {
	_, err := fetch.NewClient(0).Fetch(context.Background(), "file:///etc/passwd", nil)
	if err == nil || !strings.Contains(err.Error(), "unsupported URL scheme") {
		t.Errorf("expected unsupported scheme error, got %v", err)
	}
}

func TestGet_TooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	client := fetch.NewClient(0)
	if _, _, err := client.Get(context.Background(), server.URL, 16); err == nil {
		t.Error("expected error for oversized body")
	}

	body, contentType, err := client.Get(context.Background(), server.URL, 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body) != 64 || contentType != "image/png" {
		t.Errorf("expected 64 bytes of image/png, got %d bytes of %q", len(body), contentType)
	}
}
