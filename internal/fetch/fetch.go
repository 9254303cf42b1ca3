// ABOUTME: HTTP client for feed downloads with conditional requests (ETag / Last-Modified)
// ABOUTME: Treats 304 Not Modified as an empty body and guards against SSRF and oversized responses

package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/harper/feedradar/internal/condcache"
)

const (
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
	UserAgent       = "feedradar/1.0 (feed reader)"
	DefaultTimeout  = 30 * time.Second
)

// Result contains the response from a feed download. An empty Body means
// the server reported no change.
type Result struct {
	Body   []byte
	Header http.Header
}

// NotModified reports whether the server had nothing new.
func (r *Result) NotModified() bool {
	return len(r.Body) == 0
}

// Client downloads feeds and other resources.
type Client struct {
	http *http.Client
}

// NewClient creates a Client with the given timeout. Zero uses DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// isPrivateIP checks if an IP address is in a private range (excluding loopback for tests).
func isPrivateIP(ip net.IP) bool {
	// Allow loopback addresses (localhost) for tests
	if ip.IsLoopback() {
		return false
	}
	return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

func checkHost(ctx context.Context, rawURL string) (*url.URL, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", parsedURL.Scheme)
	}

	// SSRF protection: block private IP ranges
	if addrs, err := net.DefaultResolver.LookupIPAddr(ctx, parsedURL.Hostname()); err == nil {
		for _, addr := range addrs {
			if isPrivateIP(addr.IP) {
				return nil, fmt.Errorf("access to private IP ranges is not allowed")
			}
		}
	}
	return parsedURL, nil
}

// Fetch downloads source, decorating the request with any validator cached
// for it. A nil cache sends an unconditional request. Returns an error for
// statuses other than 200 and 304.
func (c *Client) Fetch(ctx context.Context, source string, cache *condcache.Cache) (*Result, error) {
	if _, err := checkHost(ctx, source); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	if cache != nil {
		if err := cache.Decorate(req, source); err != nil {
			return nil, fmt.Errorf("decorate request: %w", err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{Header: resp.Header}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := readLimited(resp.Body, MaxResponseSize)
	if err != nil {
		return nil, err
	}
	return &Result{Body: body, Header: resp.Header}, nil
}

// Get downloads rawURL with a size limit and returns the body and its
// Content-Type. It is used for icons and article pages.
func (c *Client) Get(ctx context.Context, rawURL string, limit int64) ([]byte, string, error) {
	if _, err := checkHost(ctx, rawURL); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := readLimited(resp.Body, limit)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Open starts a GET of rawURL and returns the response body for streaming.
// Closing the body (or cancelling ctx) aborts the transfer.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if _, err := checkHost(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response too large (exceeds %d bytes)", limit)
	}
	return body, nil
}
