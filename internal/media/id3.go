// ABOUTME: Streaming ID3v2 tag loader that reads only the tag from a remote media file
// ABOUTME: Decodes CHAP chapter frames and APIC artwork from ID3v2.3 and ID3v2.4 tags

package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/harper/feedradar/internal/fetch"
)

const (
	headerSize = 10

	// MaxTagSize bounds the tag body read from the network.
	MaxTagSize = 64 * 1024 * 1024

	flagUnsynchronisation = 0x80
	flagExtendedHeader    = 0x40
)

// ErrHeaderNotFound is returned when the media does not begin with an ID3v2 tag.
var ErrHeaderNotFound = errors.New("id3 header not found")

// Picture is embedded artwork.
type Picture struct {
	MIME string
	Data []byte
}

// Metadata is the ID3v2 tag of a media file and what could be decoded from it.
type Metadata struct {
	// Version is the major version: 3 for ID3v2.3, 4 for ID3v2.4.
	Version  int
	Tag      []byte
	Chapters []Chapter
	Artwork  *Picture
}

// Opener streams a remote resource.
type Opener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Loader reads metadata from remote media without downloading the payload.
type Loader struct {
	client Opener
}

// NewLoader creates a Loader. A nil client uses a default fetch.Client.
func NewLoader(client Opener) *Loader {
	if client == nil {
		client = fetch.NewClient(0)
	}
	return &Loader{client: client}
}

// LoadMetadata streams url until the ID3v2 tag has been read and cancels
// the rest of the transfer.
func (l *Loader) LoadMetadata(ctx context.Context, url string) (*Metadata, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := l.client.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return ReadMetadata(body)
}

// ReadMetadata reads an ID3v2 tag from the start of r.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrHeaderNotFound
		}
		return nil, fmt.Errorf("failed to read id3 header: %w", err)
	}
	if !bytes.Equal(header[:3], []byte("ID3")) {
		return nil, ErrHeaderNotFound
	}
	for _, b := range header[6:10] {
		if b > 0x7F {
			return nil, ErrHeaderNotFound
		}
	}

	size := syncsafe(header[6:10])
	if size > MaxTagSize {
		return nil, fmt.Errorf("id3 tag too large (%d bytes)", size)
	}

	tag := make([]byte, headerSize+size)
	copy(tag, header)
	if _, err := io.ReadFull(r, tag[headerSize:]); err != nil {
		return nil, fmt.Errorf("failed to read id3 tag: %w", err)
	}

	meta := &Metadata{Version: int(header[3]), Tag: tag}
	decodeFrames(meta, header[5], tag[headerSize:])
	return meta, nil
}

func syncsafe(b []byte) int {
	return int(b[0])<<21 | int(b[1])<<14 | int(b[2])<<7 | int(b[3])
}

// decodeFrames fills in chapters and artwork. Malformed frames end decoding
// quietly; the raw tag is still returned.
func decodeFrames(meta *Metadata, flags byte, body []byte) {
	if meta.Version != 3 && meta.Version != 4 {
		return
	}
	if flags&flagUnsynchronisation != 0 && meta.Version == 3 {
		body = resync(body)
	}
	if flags&flagExtendedHeader != 0 {
		if len(body) < 4 {
			return
		}
		var skip int
		if meta.Version == 4 {
			skip = syncsafe(body[:4])
		} else {
			skip = int(binary.BigEndian.Uint32(body[:4])) + 4
		}
		if skip > len(body) {
			return
		}
		body = body[skip:]
	}

	for _, f := range readFrames(meta.Version, body) {
		switch f.id {
		case "CHAP":
			if c, ok := decodeChapter(meta.Version, f.data); ok {
				meta.Chapters = append(meta.Chapters, c)
			}
		case "APIC":
			if meta.Artwork == nil {
				meta.Artwork = decodePicture(f.data)
			}
		}
	}
}

type frame struct {
	id   string
	data []byte
}

func readFrames(version int, b []byte) []frame {
	var frames []frame
	for len(b) >= headerSize {
		if b[0] == 0 {
			break // padding
		}
		id := string(b[:4])
		var size int
		if version == 4 {
			size = syncsafe(b[4:8])
		} else {
			size = int(binary.BigEndian.Uint32(b[4:8]))
		}
		if size < 0 || headerSize+size > len(b) {
			break
		}
		frames = append(frames, frame{id: id, data: b[headerSize : headerSize+size]})
		b = b[headerSize+size:]
	}
	return frames
}

func decodeChapter(version int, b []byte) (Chapter, bool) {
	end := bytes.IndexByte(b, 0)
	if end < 0 || len(b) < end+1+16 {
		return Chapter{}, false
	}
	times := b[end+1:]
	startMS := binary.BigEndian.Uint32(times[0:4])
	endMS := binary.BigEndian.Uint32(times[4:8])

	c := Chapter{
		Start: time.Duration(startMS) * time.Millisecond,
		End:   time.Duration(endMS) * time.Millisecond,
	}
	for _, sub := range readFrames(version, times[16:]) {
		switch sub.id {
		case "TIT2":
			if len(sub.data) > 0 {
				c.Title = decodeText(sub.data[0], sub.data[1:])
			}
		case "APIC":
			c.Artwork = decodePicture(sub.data)
		}
	}
	return c, true
}

func decodePicture(b []byte) *Picture {
	if len(b) < 2 {
		return nil
	}
	enc := b[0]
	mimeEnd := bytes.IndexByte(b[1:], 0)
	if mimeEnd < 0 {
		return nil
	}
	mime := string(b[1 : 1+mimeEnd])
	rest := b[1+mimeEnd+1:]
	if len(rest) < 1 {
		return nil
	}
	rest = rest[1:] // picture type

	_, n := splitText(enc, rest)
	if n < 0 {
		return nil
	}
	return &Picture{MIME: mime, Data: rest[n:]}
}

// splitText returns the terminated string at the start of b and how many
// bytes it used, including the terminator. n is -1 when unterminated.
func splitText(enc byte, b []byte) ([]byte, int) {
	if enc == 1 || enc == 2 {
		for i := 0; i+1 < len(b); i += 2 {
			if b[i] == 0 && b[i+1] == 0 {
				return b[:i], i + 2
			}
		}
		return nil, -1
	}
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return nil, -1
	}
	return b[:i], i + 1
}

func decodeText(enc byte, b []byte) string {
	if s, n := splitText(enc, b); n >= 0 {
		b = s
	}

	var dec *encoding.Decoder
	switch enc {
	case 0:
		dec = charmap.ISO8859_1.NewDecoder()
	case 1:
		dec = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	case 2:
		dec = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	default:
		return string(b)
	}
	out, err := dec.Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// resync reverses ID3 unsynchronisation (0xFF 0x00 becomes 0xFF).
func resync(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		out = append(out, b[i])
		if b[i] == 0xFF && i+1 < len(b) && b[i+1] == 0x00 {
			i++
		}
	}
	return out
}
