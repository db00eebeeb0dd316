// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

var _ logging.Logger = (*DummyLogger)(nil)

// ─── Capturer ──────────────────────────────────────────────────────────

// DummyCapturer implements interfaces.Capturer without a browser. Every
// capture yields a solid-color PNG of the requested viewport size, so two
// captures of the same URL are pixel-identical. Set FailURLs[url] = true to
// force an error for a specific URL.
type DummyCapturer struct {
	// Fill is the background color; zero value is opaque black.
	Fill color.RGBA

	FailURLs map[string]bool

	mu       sync.Mutex
	Captures []string
	closed   bool
}

func (d *DummyCapturer) Capture(ctx context.Context, req *model.CaptureRequest) (*model.CaptureResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.Captures = append(d.Captures, req.URL)
	fail := d.FailURLs[req.URL]
	d.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("capturing %s: forced failure", req.URL)
	}

	w, h := req.Viewport.Width, req.Viewport.Height
	if w <= 0 || h <= 0 {
		w, h = 64, 48
	}

	fill := d.Fill
	fill.A = 255
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &model.CaptureResult{
		Buffer:   buf.Bytes(),
		URL:      req.URL,
		Viewport: model.Viewport{Width: w, Height: h},
		Title:    "dummy page",
	}, nil
}

func (d *DummyCapturer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *DummyCapturer) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

var _ interfaces.Capturer = (*DummyCapturer)(nil)

// ─── TaskSource ────────────────────────────────────────────────────────

// StaticTaskSource returns a fixed task list regardless of the root URL.
type StaticTaskSource struct {
	TaskList []model.TestTask
	Err      error

	mu    sync.Mutex
	Roots []string
}

func (s *StaticTaskSource) Tasks(ctx context.Context, root string) ([]model.TestTask, error) {
	s.mu.Lock()
	s.Roots = append(s.Roots, root)
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	return s.TaskList, nil
}
