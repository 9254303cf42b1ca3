// ABOUTME: Feed icon cache: downloads, decodes and downsizes icons, stores them as PNG
// ABOUTME: Accepts PNG, JPEG, GIF, WebP and BMP sources

package icon

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/harper/feedradar/internal/fetch"
	"github.com/harper/feedradar/internal/kv"
	"github.com/harper/feedradar/internal/logging"
	"github.com/harper/feedradar/internal/models"
)

const (
	// MaxDownloadSize caps icon downloads.
	MaxDownloadSize = 2 * 1024 * 1024
	// Size is the bounding box icons are scaled to fit.
	Size = 128
)

// Cache stores scaled feed icons under kv.IconPrefix.
type Cache struct {
	client *fetch.Client
	store  kv.Store
	log    logging.Logger
}

// New creates an icon cache.
func New(client *fetch.Client, store kv.Store, log logging.Logger) *Cache {
	return &Cache{client: client, store: store, log: log}
}

// Refresh downloads and caches the icon of feed. A feed without an icon
// has its cached icon removed.
func (c *Cache) Refresh(ctx context.Context, feed models.Feed) error {
	key := kv.IconPrefix + feed.Source
	if feed.Icon == nil || *feed.Icon == "" {
		return c.store.Delete(key)
	}

	data, _, err := c.client.Get(ctx, *feed.Icon, MaxDownloadSize)
	if err != nil {
		c.log.Debug(ctx, "icon download failed", "source", feed.Source, "icon", *feed.Icon, "error", err)
		return fmt.Errorf("download icon: %w", err)
	}

	scaled, err := Scale(data, Size)
	if err != nil {
		c.log.Debug(ctx, "icon decode failed", "source", feed.Source, "error", err)
		return err
	}
	if err := c.store.Set(key, scaled); err != nil {
		return fmt.Errorf("store icon: %w", err)
	}
	return nil
}

// Get returns the cached PNG icon of source, or kv.ErrNotFound.
func (c *Cache) Get(source string) ([]byte, error) {
	return c.store.Get(kv.IconPrefix + source)
}

// Scale decodes data and re-encodes it as a PNG that fits within bound×bound,
// preserving the aspect ratio. Smaller images keep their size.
func Scale(data []byte, bound int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode icon: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("decode icon: empty image")
	}
	if w > bound || h > bound {
		if w >= h {
			w, h = bound, h*bound/w
		} else {
			w, h = w*bound/h, bound
		}
		w, h = clampMin(w), clampMin(h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode icon: %w", err)
	}
	return buf.Bytes(), nil
}

func clampMin(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
