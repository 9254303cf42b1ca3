// ABOUTME: Reader-mode article extraction with go-readability
// ABOUTME: Output is sanitized HTML; concurrent requests for one URL share a download

package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/singleflight"

	"github.com/harper/feedradar/internal/fetch"
)

// ErrNoContent is returned when a page has no readable article.
var ErrNoContent = errors.New("no readable content")

// Downloader fetches a page body with a size limit.
type Downloader interface {
	Get(ctx context.Context, rawURL string, limit int64) ([]byte, string, error)
}

// Extractor turns article pages into clean reader-mode HTML.
type Extractor struct {
	client Downloader
	policy *bluemonday.Policy
	group  singleflight.Group
}

// NewExtractor creates an extractor using client for downloads.
func NewExtractor(client Downloader) *Extractor {
	return &Extractor{client: client, policy: bluemonday.UGCPolicy()}
}

// Extract downloads articleURL and returns its main content as sanitized
// HTML.
func (e *Extractor) Extract(ctx context.Context, articleURL string) (string, error) {
	v, err, _ := e.group.Do(articleURL, func() (any, error) {
		return e.extract(ctx, articleURL)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (e *Extractor) extract(ctx context.Context, articleURL string) (string, error) {
	pageURL, err := url.Parse(articleURL)
	if err != nil {
		return "", fmt.Errorf("invalid article URL: %w", err)
	}

	body, _, err := e.client.Get(ctx, articleURL, fetch.MaxResponseSize)
	if err != nil {
		return "", fmt.Errorf("download article: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("parse article: %w", err)
	}

	var text strings.Builder
	if err := article.RenderText(&text); err != nil || strings.TrimSpace(text.String()) == "" {
		return "", ErrNoContent
	}

	var html strings.Builder
	if err := article.RenderHTML(&html); err != nil {
		return "", fmt.Errorf("render article: %w", err)
	}
	clean := strings.TrimSpace(e.policy.Sanitize(html.String()))
	if clean == "" {
		return "", ErrNoContent
	}
	return clean, nil
}
