package diff

import (
	"fmt"

	"github.com/raysh454/miru/internal/model"
)

// SSIM constants for 8-bit dynamic range.
const (
	ssimWindow = 8
	ssimC1     = (0.01 * 255) * (0.01 * 255)
	ssimC2     = (0.03 * 255) * (0.03 * 255)
)

// SSIMCompare computes the mean structural similarity index over
// non-overlapping 8x8 luma windows. It is an independent perceptual score
// reported alongside the pixel-based result, never replacing it.
func (e *Engine) SSIMCompare(baseline, current *model.Image) (float64, error) {
	if baseline.Width != current.Width || baseline.Height != current.Height {
		return 0, fmt.Errorf("ssim: baseline %dx%d vs current %dx%d: %w",
			baseline.Width, baseline.Height, current.Width, current.Height,
			model.ErrDimensionMismatch)
	}

	grayA := toLuma(baseline)
	grayB := toLuma(current)
	w, h := baseline.Width, baseline.Height

	var sum float64
	windows := 0
	for wy := 0; wy+ssimWindow <= h; wy += ssimWindow {
		for wx := 0; wx+ssimWindow <= w; wx += ssimWindow {
			sum += windowSSIM(grayA, grayB, w, wx, wy)
			windows++
		}
	}
	if windows == 0 {
		// Image smaller than one window: fall back to a single window over
		// whatever pixels exist.
		return windowSSIMSized(grayA, grayB, w, 0, 0, w, h), nil
	}
	return sum / float64(windows), nil
}

func windowSSIM(a, b []float64, stride, wx, wy int) float64 {
	return windowSSIMSized(a, b, stride, wx, wy, ssimWindow, ssimWindow)
}

func windowSSIMSized(a, b []float64, stride, wx, wy, ww, wh int) float64 {
	n := float64(ww * wh)
	if n == 0 {
		return 1
	}

	var meanA, meanB float64
	for y := wy; y < wy+wh; y++ {
		for x := wx; x < wx+ww; x++ {
			meanA += a[y*stride+x]
			meanB += b[y*stride+x]
		}
	}
	meanA /= n
	meanB /= n

	var varA, varB, cov float64
	for y := wy; y < wy+wh; y++ {
		for x := wx; x < wx+ww; x++ {
			da := a[y*stride+x] - meanA
			db := b[y*stride+x] - meanB
			varA += da * da
			varB += db * db
			cov += da * db
		}
	}
	if n > 1 {
		varA /= n - 1
		varB /= n - 1
		cov /= n - 1
	}

	num := (2*meanA*meanB + ssimC1) * (2*cov + ssimC2)
	den := (meanA*meanA + meanB*meanB + ssimC1) * (varA + varB + ssimC2)
	return num / den
}

func toLuma(im *model.Image) []float64 {
	out := make([]float64, im.TotalPixels())
	for i := range out {
		p := i * 4
		out[i] = 0.299*float64(im.Pix[p]) + 0.587*float64(im.Pix[p+1]) + 0.114*float64(im.Pix[p+2])
	}
	return out
}
