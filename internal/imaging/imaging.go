// ABOUTME: Upload pipeline for chat images: content-hash dedupe plus thumbnails
// ABOUTME: Exists-then-write idempotence; thumbnails derived lazily, once per hash

package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"sync"

	"golang.org/x/image/draw"

	"github.com/2389/livedesk/internal/blob"
	"github.com/2389/livedesk/internal/wire"
)

// ErrUnsupportedType is returned for content types the pipeline cannot store.
var ErrUnsupportedType = errors.New("unsupported image type")

// Thumbnail bounds: the longest side of the thumbnail. The larger bound is
// used when the shorter side of the original is at least that large.
const (
	thumbBoundLarge = 240
	thumbBoundSmall = 80
)

// seenCap bounds the in-memory hash cache; beyond it the cache resets and
// the storage existence check becomes the only dedupe layer again.
const seenCap = 4096

// Processor stores uploaded images content-addressed and derives a bounded
// thumbnail for each distinct payload. Redundant uploads of identical bytes
// are cache hits: the second call never writes.
type Processor struct {
	storage blob.Storage
	logger  *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewProcessor creates a Processor over the given storage. Pass nil logger
// for default.
func NewProcessor(storage blob.Storage, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		storage: storage,
		logger:  logger.With("component", "imaging"),
		seen:    make(map[string]struct{}),
	}
}

// Store persists the image bytes and a thumbnail, both content-addressed,
// and returns the stored file name. Identical bytes submitted twice produce
// exactly one stored file per artifact.
func (p *Processor) Store(data []byte, contentType string) (string, error) {
	ext, err := extensionFor(contentType)
	if err != nil {
		return "", err
	}

	name := blob.HashName(data, ext)
	if p.checkSeen(name) {
		return name, nil
	}

	if !p.storage.Exists(name) {
		if err := p.storage.Write(name, data); err != nil {
			return "", fmt.Errorf("storing image: %w", err)
		}
	}

	thumb := ThumbName(name)
	if !p.storage.Exists(thumb) {
		thumbData, err := p.renderThumbnail(data, contentType)
		if err != nil {
			return "", fmt.Errorf("deriving thumbnail: %w", err)
		}
		if err := p.storage.Write(thumb, thumbData); err != nil {
			return "", fmt.Errorf("storing thumbnail: %w", err)
		}
	}

	p.markSeen(name)
	p.logger.Debug("image stored", "name", name)
	return name, nil
}

// ThumbName returns the thumbnail name for a stored image name.
func ThumbName(name string) string {
	return "thumb_" + name
}

func (p *Processor) checkSeen(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seen[name]
	return ok
}

func (p *Processor) markSeen(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.seen) >= seenCap {
		p.seen = make(map[string]struct{})
	}
	p.seen[name] = struct{}{}
}

// renderThumbnail decodes the original, scales it so its longest side hits
// the bound, and re-encodes it in the original format.
func (p *Processor) renderThumbnail(data []byte, contentType string) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	bound := thumbBoundSmall
	if min(w, h) >= thumbBoundLarge {
		bound = thumbBoundLarge
	}

	tw, th := fitBound(w, h, bound)
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	switch contentType {
	case wire.ContentPNG:
		err = png.Encode(&buf, dst)
	default:
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fitBound scales (w, h) so the longest side equals bound, preserving
// aspect ratio. Images already within the bound keep their size.
func fitBound(w, h, bound int) (int, int) {
	longest := max(w, h)
	if longest <= bound {
		return w, h
	}
	if w >= h {
		return bound, max(1, h*bound/w)
	}
	return max(1, w*bound/h), bound
}

func extensionFor(contentType string) (string, error) {
	switch contentType {
	case wire.ContentJPEG:
		return ".jpg", nil
	case wire.ContentPNG:
		return ".png", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
}
