// Package preprocess normalizes arbitrary input images into a bounded-size,
// re-encoded form suitable for fingerprinting and for transmission to a
// vision model.
package preprocess

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"

	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

// Config bounds the processed output.
type Config struct {
	MaxWidth  int
	MaxHeight int

	// Quality applies to jpeg output only (1..100).
	Quality int

	// MaintainAspectRatio clamps the larger dimension and scales the other
	// proportionally; when false both dimensions are forced, allowing
	// distortion.
	MaintainAspectRatio bool

	// Format is the re-encoding target: "png" or "jpeg".
	Format string

	// MaxPixels guards decoding; images above it fail with ErrImageTooLarge.
	MaxPixels int
}

// DefaultConfig returns the development defaults: 2048x2048 png, aspect
// ratio preserved, 64MP decode guard.
func DefaultConfig() Config {
	return Config{
		MaxWidth:            2048,
		MaxHeight:           2048,
		Quality:             85,
		MaintainAspectRatio: true,
		Format:              "png",
		MaxPixels:           64_000_000,
	}
}

// Preprocessor decodes, clamps and re-encodes images. Safe for concurrent
// use; it holds no mutable state.
type Preprocessor struct {
	cfg    Config
	logger logging.Logger
}

// New creates a Preprocessor with the given config. Zero-valued limits fall
// back to defaults.
func New(cfg Config, logger logging.Logger) *Preprocessor {
	def := DefaultConfig()
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = def.MaxWidth
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = def.MaxHeight
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = def.MaxPixels
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("preprocess")
	}
	return &Preprocessor{cfg: cfg, logger: logger}
}

// Process decodes raw encoded bytes (png/jpeg), clamps to the configured
// bounds and re-encodes. It never upscales an image already within bounds.
func (p *Preprocessor) Process(data []byte) (*model.ProcessedImage, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("preprocess: decoding image: %w", err)
	}

	b := src.Bounds()
	if b.Dx()*b.Dy() > p.cfg.MaxPixels {
		return nil, fmt.Errorf("preprocess: %dx%d exceeds %d pixel budget: %w",
			b.Dx(), b.Dy(), p.cfg.MaxPixels, model.ErrImageTooLarge)
	}

	im := model.FromImage(src)
	tw, th := p.targetSize(im.Width, im.Height)
	if tw != im.Width || th != im.Height {
		im = scale(im, tw, th)
	}

	buf, err := p.encode(im)
	if err != nil {
		return nil, err
	}

	out := &model.ProcessedImage{
		Buffer:        buf,
		Base64:        base64.StdEncoding.EncodeToString(buf),
		Fingerprint:   im.Fingerprint(),
		Format:        p.cfg.Format,
		Image:         im,
		Width:         im.Width,
		Height:        im.Height,
		OriginalSize:  len(data),
		ProcessedSize: len(buf),
	}
	if len(buf) < len(data) && len(data) > 0 {
		out.ReductionPercent = 100 * float64(len(data)-len(buf)) / float64(len(data))
	}
	return out, nil
}

// ProcessString accepts a base64 payload or a data-URL and delegates to
// Process, so fingerprints do not depend on the transport encoding.
func (p *Preprocessor) ProcessString(s string) (*model.ProcessedImage, error) {
	if strings.HasPrefix(s, "data:") {
		_, rest, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("preprocess: malformed data-URL")
		}
		s = rest
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("preprocess: decoding base64: %w", err)
	}
	return p.Process(data)
}

// ProcessBatch processes each input independently and preserves input order.
// errs is aligned with results; a nil entry means that input succeeded.
func (p *Preprocessor) ProcessBatch(inputs [][]byte) (results []*model.ProcessedImage, errs []error) {
	results = make([]*model.ProcessedImage, len(inputs))
	errs = make([]error, len(inputs))
	for i, data := range inputs {
		results[i], errs[i] = p.Process(data)
		if errs[i] != nil && p.logger != nil {
			p.logger.Warn("batch preprocess item failed",
				logging.Field{Key: "index", Value: i},
				logging.Field{Key: "error", Value: errs[i].Error()})
		}
	}
	return results, errs
}

// targetSize computes the output dimensions. Images within bounds keep their
// size; upscaling never happens.
func (p *Preprocessor) targetSize(w, h int) (int, int) {
	if w <= p.cfg.MaxWidth && h <= p.cfg.MaxHeight {
		return w, h
	}
	if !p.cfg.MaintainAspectRatio {
		return p.cfg.MaxWidth, p.cfg.MaxHeight
	}

	// Clamp the dimension that overflows the most and scale the other.
	sw := float64(p.cfg.MaxWidth) / float64(w)
	sh := float64(p.cfg.MaxHeight) / float64(h)
	s := sw
	if sh < s {
		s = sh
	}
	tw := int(float64(w)*s + 0.5)
	th := int(float64(h)*s + 0.5)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}

func (p *Preprocessor) encode(im *model.Image) ([]byte, error) {
	var buf bytes.Buffer
	switch p.cfg.Format {
	case "jpeg", "jpg":
		if err := jpeg.Encode(&buf, im.NRGBA(), &jpeg.Options{Quality: p.cfg.Quality}); err != nil {
			return nil, fmt.Errorf("preprocess: encoding jpeg: %w", err)
		}
	default:
		if err := png.Encode(&buf, im.NRGBA()); err != nil {
			return nil, fmt.Errorf("preprocess: encoding png: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func scale(im *model.Image, w, h int) *model.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), im.NRGBA(), im.NRGBA().Bounds(), draw.Src, nil)
	return &model.Image{Pix: dst.Pix, Width: w, Height: h, Channels: 4}
}
