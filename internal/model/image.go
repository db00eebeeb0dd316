package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"
	"image/draw"
)

// Image is a decoded pixel buffer plus its declared geometry. Images are
// owned by whichever stage produced them and are never mutated in place;
// transformations always produce a new Image.
type Image struct {
	// Pix holds the pixel data in RGBA order, 4 bytes per pixel, row-major.
	Pix []uint8

	Width    int
	Height   int
	Channels int
}

// FromImage converts any decoded stdlib image into the canonical RGBA form.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	return &Image{
		Pix:      rgba.Pix,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: 4,
	}
}

// NRGBA returns a stdlib view over the pixel buffer for encoding.
// The returned image shares Pix; callers must not draw into it.
func (im *Image) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    im.Pix,
		Stride: im.Width * 4,
		Rect:   image.Rect(0, 0, im.Width, im.Height),
	}
}

// At returns the RGBA channels of the pixel at (x, y). No bounds checking;
// callers iterate within Width/Height.
func (im *Image) At(x, y int) (r, g, b, a uint8) {
	i := (y*im.Width + x) * 4
	return im.Pix[i], im.Pix[i+1], im.Pix[i+2], im.Pix[i+3]
}

// TotalPixels returns Width*Height.
func (im *Image) TotalPixels() int {
	return im.Width * im.Height
}

// Fingerprint computes the content digest used as cache and dedup identity.
// It hashes the decoded pixel content plus geometry, so byte-identical input
// produces the same fingerprint regardless of how it was encoded in transit
// (raw bytes, base64 or data-URL).
func (im *Image) Fingerprint() string {
	h := sha256.New()
	var dims [12]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(im.Width))
	binary.BigEndian.PutUint32(dims[4:8], uint32(im.Height))
	binary.BigEndian.PutUint32(dims[8:12], uint32(im.Channels))
	h.Write(dims[:])
	h.Write(im.Pix)
	return hex.EncodeToString(h.Sum(nil))
}

// Viewport represents screen dimensions for a capture.
type Viewport struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name,omitempty"`
}

// CaptureRequest asks the capture collaborator for a screenshot.
type CaptureRequest struct {
	URL      string   `json:"url"`
	Viewport Viewport `json:"viewport"`

	// FullPage captures the whole scroll height rather than the viewport.
	FullPage bool `json:"full_page,omitempty"`
}

// CaptureResult is the collaborator's answer: encoded screenshot bytes plus
// whatever metadata the browser layer produced.
type CaptureResult struct {
	Buffer   []byte            `json:"-"`
	URL      string            `json:"url"`
	Viewport Viewport          `json:"viewport"`
	Title    string            `json:"title,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ProcessedImage is the preprocessor's output: a bounded-size re-encoded
// rendition of the input suitable for hashing and model transmission.
type ProcessedImage struct {
	// Buffer is the re-encoded image (png or jpeg per config).
	Buffer []byte `json:"-"`

	// Base64 is the standard encoding of Buffer, ready for a data-URL.
	Base64 string `json:"base64,omitempty"`

	// Fingerprint is the content digest of the decoded pixels.
	Fingerprint string `json:"fingerprint"`

	// Format is the encoding of Buffer, "png" or "jpeg".
	Format string `json:"format"`

	// Image is the decoded (and possibly downscaled) pixel form.
	Image *Image `json:"-"`

	Width  int `json:"width"`
	Height int `json:"height"`

	// OriginalSize and ProcessedSize are encoded byte counts before/after.
	OriginalSize  int `json:"original_size"`
	ProcessedSize int `json:"processed_size"`

	// ReductionPercent is how much smaller the processed encoding is,
	// 0 when the processed form is not smaller.
	ReductionPercent float64 `json:"reduction_percent"`
}
