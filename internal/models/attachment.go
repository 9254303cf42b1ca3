// ABOUTME: Attachment model for media referenced by an item (enclosures, media:content)
// ABOUTME: Derives a content kind from the MIME type and a deterministic local cache path

package models

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/harper/feedradar/internal/stablehash"
)

// AttachmentDir is the directory, relative to the data dir, that holds
// downloaded attachments.
const AttachmentDir = "attachments"

// Kind classifies an attachment by content type.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
	KindImage Kind = "image"
	KindOther Kind = "other"
)

// Attachment is a media resource referenced by an item.
type Attachment struct {
	ID     int64
	ItemID int64
	URL    string
	MIME   *string
	Title  *string
}

// AttachmentID derives the id of an attachment from its URL and owning item.
func AttachmentID(rawURL string, itemID int64) int64 {
	return stablehash.Hash(rawURL + strconv.FormatInt(itemID, 10))
}

// NewAttachment creates an Attachment with the derived id.
func NewAttachment(itemID int64, rawURL string, mime, title *string) Attachment {
	return Attachment{
		ID:     AttachmentID(rawURL, itemID),
		ItemID: itemID,
		URL:    rawURL,
		MIME:   mime,
		Title:  title,
	}
}

// Kind returns the content classification derived from the MIME type.
func (a Attachment) Kind() Kind {
	if a.MIME == nil {
		return KindOther
	}
	mime := strings.ToLower(*a.MIME)
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	default:
		return KindOther
	}
}

// LocalPath returns the cache path of the attachment relative to the data dir.
func (a Attachment) LocalPath() string {
	return path.Join(
		AttachmentDir,
		fmt.Sprintf("%x", uint64(a.ItemID)),
		fmt.Sprintf("%x", uint64(a.ID)),
		lastPathComponent(a.URL),
	)
}

func lastPathComponent(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}
