// Package diff implements the pixel/structural comparer: similarity scoring,
// difference masks, connected-region analysis and the deterministic
// severity heuristics.
package diff

import (
	"fmt"
	"image/color"
	"math/rand"

	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
)

// Options control a single comparison.
type Options struct {
	// Threshold is the pass bar: passed == similarity >= Threshold.
	Threshold float64

	// IncludeAntiAliasing counts anti-aliasing artifacts as differences.
	// Off by default so rendering noise along edges is not flagged.
	IncludeAntiAliasing bool

	// Alpha scales the per-channel tolerance (0..1 of full channel range).
	Alpha float64

	// DiffColor paints differing pixels in the rendered diff image.
	DiffColor color.NRGBA
}

// DefaultOptions returns the standard comparison settings.
func DefaultOptions() Options {
	return Options{
		Threshold: 0.99,
		Alpha:     0.1,
		DiffColor: color.NRGBA{R: 255, A: 255},
	}
}

// Config bounds the engine's resource use.
type Config struct {
	// MaxImagePixels rejects comparisons outright (ErrImageTooLarge).
	MaxImagePixels int

	// LargeImageThreshold switches on the sampling pre-pass.
	LargeImageThreshold int

	// SampleRate is the fraction of pixels the pre-pass inspects.
	SampleRate float64

	// EarlyExitSimilarity bails out of full comparison when the sampled
	// similarity falls below it.
	EarlyExitSimilarity float64

	// MinRegionPixels filters connected components smaller than this.
	MinRegionPixels int

	// MemoCapacity is the LRU capacity for memoized results.
	MemoCapacity int

	// HeapLimitBytes clears the memo cache when heap use crosses it.
	HeapLimitBytes uint64
}

// DefaultConfig returns development defaults sized for full-page screenshots.
func DefaultConfig() Config {
	return Config{
		MaxImagePixels:      32_000_000,
		LargeImageThreshold: 4_000_000,
		SampleRate:          0.1,
		EarlyExitSimilarity: 0.7,
		MinRegionPixels:     10,
		MemoCapacity:        100,
		HeapLimitBytes:      1 << 30,
	}
}

// Engine performs comparisons. Safe for concurrent use; the memo cache holds
// the only mutable state and is guarded internally.
type Engine struct {
	cfg    Config
	memo   *memoCache
	logger logging.Logger
}

// NewEngine creates an Engine; zero-valued config fields take defaults.
func NewEngine(cfg Config, logger logging.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MaxImagePixels <= 0 {
		cfg.MaxImagePixels = def.MaxImagePixels
	}
	if cfg.LargeImageThreshold <= 0 {
		cfg.LargeImageThreshold = def.LargeImageThreshold
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.EarlyExitSimilarity <= 0 {
		cfg.EarlyExitSimilarity = def.EarlyExitSimilarity
	}
	if cfg.MinRegionPixels <= 0 {
		cfg.MinRegionPixels = def.MinRegionPixels
	}
	if cfg.MemoCapacity <= 0 {
		cfg.MemoCapacity = def.MemoCapacity
	}
	if cfg.HeapLimitBytes == 0 {
		cfg.HeapLimitBytes = def.HeapLimitBytes
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("diff")
	}
	return &Engine{
		cfg:    cfg,
		memo:   newMemoCache(cfg.MemoCapacity, cfg.HeapLimitBytes),
		logger: logger,
	}
}

// Compare runs the full pixel comparison pipeline between a baseline and a
// current rendering of the same interface.
func (e *Engine) Compare(baseline, current *model.Image, opts Options) (*model.DiffResult, error) {
	if baseline.Width != current.Width || baseline.Height != current.Height {
		return nil, fmt.Errorf("diff: baseline %dx%d vs current %dx%d: %w",
			baseline.Width, baseline.Height, current.Width, current.Height,
			model.ErrDimensionMismatch)
	}

	total := baseline.TotalPixels()
	if total > e.cfg.MaxImagePixels {
		return nil, fmt.Errorf("diff: %d pixels exceeds %d budget: %w",
			total, e.cfg.MaxImagePixels, model.ErrImageTooLarge)
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultOptions().Threshold
	}
	if opts.Alpha <= 0 {
		opts.Alpha = DefaultOptions().Alpha
	}
	if opts.DiffColor == (color.NRGBA{}) {
		opts.DiffColor = DefaultOptions().DiffColor
	}

	key := memoKey(baseline, current, opts)
	if cached, ok := e.memo.get(key); ok {
		return cached, nil
	}

	// Sampling pre-pass bounds the cost of obviously unrelated images.
	if total > e.cfg.LargeImageThreshold {
		if res, bail := e.samplePass(baseline, current, opts, total); bail {
			e.memo.put(key, res)
			return res, nil
		}
	}

	res := e.fullCompare(baseline, current, opts, total)
	e.memo.put(key, res)
	return res, nil
}

// samplePass inspects ~SampleRate of the pixels with a cheap per-channel
// absolute-difference test. The PRNG is seeded from the fingerprints so
// repeated comparisons of the same pair agree.
func (e *Engine) samplePass(baseline, current *model.Image, opts Options, total int) (*model.DiffResult, bool) {
	samples := int(float64(total) * e.cfg.SampleRate)
	if samples < 1 {
		return nil, false
	}

	rng := rand.New(rand.NewSource(seedFrom(baseline, current)))
	tol := channelTolerance(opts.Alpha)

	matched := 0
	for i := 0; i < samples; i++ {
		p := rng.Intn(total) * 4
		if maxChannelDelta(baseline.Pix, current.Pix, p) <= tol {
			matched++
		}
	}

	estimated := float64(matched) / float64(samples)
	if estimated >= e.cfg.EarlyExitSimilarity {
		return nil, false
	}

	if e.logger != nil {
		e.logger.Debug("sampling pre-pass early exit",
			logging.Field{Key: "estimated_similarity", Value: estimated},
			logging.Field{Key: "samples", Value: samples})
	}
	return &model.DiffResult{
		Similarity:      estimated,
		PixelDifference: int(float64(total) * (1 - estimated)),
		Passed:          estimated >= opts.Threshold,
		EarlyExit:       true,
	}, true
}

func (e *Engine) fullCompare(baseline, current *model.Image, opts Options, total int) *model.DiffResult {
	mask := make([]bool, total)
	tol := channelTolerance(opts.Alpha)

	differing := 0
	for y := 0; y < baseline.Height; y++ {
		row := y * baseline.Width
		for x := 0; x < baseline.Width; x++ {
			i := row + x
			if maxChannelDelta(baseline.Pix, current.Pix, i*4) <= tol {
				continue
			}
			if !opts.IncludeAntiAliasing && isAntiAliased(baseline, current, x, y, tol) {
				continue
			}
			mask[i] = true
			differing++
		}
	}

	similarity := float64(total-differing) / float64(total)
	res := &model.DiffResult{
		Similarity:      similarity,
		PixelDifference: differing,
		Passed:          similarity >= opts.Threshold,
		Regions:         analyzeRegions(mask, baseline.Width, baseline.Height, e.cfg.MinRegionPixels),
		DiffImage:       renderDiff(baseline, mask, opts.DiffColor),
	}
	return res
}

// AnalyzeRegions extracts the connected components of a difference mask
// using the engine's minimum-size filter.
func (e *Engine) AnalyzeRegions(mask []bool, width, height int) []model.Region {
	return analyzeRegions(mask, width, height, e.cfg.MinRegionPixels)
}

// ClearMemo drops all memoized results.
func (e *Engine) ClearMemo() {
	e.memo.clear()
}

// MemoLen reports how many results are memoized.
func (e *Engine) MemoLen() int {
	return e.memo.len()
}

func channelTolerance(alpha float64) int {
	t := int(alpha * 255)
	if t < 0 {
		t = 0
	}
	return t
}

// maxChannelDelta returns the largest per-channel absolute difference of the
// RGBA pixel starting at byte offset p.
func maxChannelDelta(a, b []uint8, p int) int {
	max := 0
	for c := 0; c < 4; c++ {
		d := int(a[p+c]) - int(b[p+c])
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max
}

// isAntiAliased treats a differing pixel as rendering noise when it sits on
// an edge in both images: its 3x3 neighborhood contains both brighter and
// darker neighbors beyond the tolerance.
func isAntiAliased(baseline, current *model.Image, x, y, tol int) bool {
	return onEdge(baseline, x, y, tol) && onEdge(current, x, y, tol)
}

func onEdge(im *model.Image, x, y, tol int) bool {
	c := brightness(im, x, y)
	sawBrighter, sawDarker := false, false
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= im.Width || ny >= im.Height {
				continue
			}
			d := brightness(im, nx, ny) - c
			if d > tol {
				sawBrighter = true
			} else if d < -tol {
				sawDarker = true
			}
			if sawBrighter && sawDarker {
				return true
			}
		}
	}
	return false
}

func brightness(im *model.Image, x, y int) int {
	r, g, b, _ := im.At(x, y)
	// Integer luma approximation (ITU-R 601 weights).
	return (299*int(r) + 587*int(g) + 114*int(b)) / 1000
}

// renderDiff paints the difference mask over a dimmed baseline so regions
// are readable in review tooling.
func renderDiff(baseline *model.Image, mask []bool, diffColor color.NRGBA) *model.Image {
	out := make([]uint8, len(baseline.Pix))
	for i := 0; i < baseline.TotalPixels(); i++ {
		p := i * 4
		if mask[i] {
			out[p] = diffColor.R
			out[p+1] = diffColor.G
			out[p+2] = diffColor.B
			out[p+3] = 255
		} else {
			out[p] = baseline.Pix[p] >> 2
			out[p+1] = baseline.Pix[p+1] >> 2
			out[p+2] = baseline.Pix[p+2] >> 2
			out[p+3] = 255
		}
	}
	return &model.Image{Pix: out, Width: baseline.Width, Height: baseline.Height, Channels: 4}
}

// seedFrom derives a deterministic PRNG seed from both fingerprints.
func seedFrom(a, b *model.Image) int64 {
	var seed int64
	fa, fb := a.Fingerprint(), b.Fingerprint()
	for i := 0; i < 8 && i < len(fa); i++ {
		seed = seed<<8 | int64(fa[i])
	}
	for i := 0; i < 8 && i < len(fb); i++ {
		seed ^= int64(fb[i]) << (uint(i%8) * 8)
	}
	return seed
}
