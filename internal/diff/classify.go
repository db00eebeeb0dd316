package diff

import "github.com/raysh454/miru/internal/model"

// ClassifyChange buckets a change analysis into a deterministic kind.
// The thresholds are heuristic but fixed; reordering them changes results,
// so the checks run most-specific first.
func ClassifyChange(a *model.ChangeAnalysis) model.ChangeKind {
	if len(a.Regions) == 0 {
		return model.ChangeUnknown
	}

	// Large dominant region at low similarity: the page moved around.
	if a.Similarity < 0.9 {
		for _, r := range a.Regions {
			if (r.Width > 500 || r.Height > 500) && r.Significance > 0.5 {
				return model.ChangeLayout
			}
		}
	}

	// Medium focused region: content swapped inside a stable frame.
	if a.Similarity < 0.95 {
		for _, r := range a.Regions {
			if r.Width >= 100 && r.Width <= 800 &&
				r.Height >= 50 && r.Height <= 600 &&
				r.Significance > 0.4 {
				return model.ChangeContent
			}
		}
	}

	// Several small scattered regions: styling tweaks.
	if a.Similarity < 0.98 && len(a.Regions) > 1 {
		allSmall := true
		for _, r := range a.Regions {
			if r.Width >= 200 || r.Height >= 200 {
				allSmall = false
				break
			}
		}
		if allSmall {
			return model.ChangeStyling
		}
	}

	// Differences at very high similarity are usually animation frames.
	if a.Similarity > 0.95 {
		return model.ChangeAnimation
	}

	return model.ChangeUnknown
}

// Severity derives the deterministic severity for a classified analysis.
func Severity(a *model.ChangeAnalysis, kind model.ChangeKind) model.Severity {
	switch {
	case a.Similarity < 0.8,
		kind == model.ChangeLayout && a.PixelDifference > 300_000:
		return model.SeverityCritical
	case a.Similarity < 0.9,
		kind == model.ChangeContent && a.PixelDifference > 50_000:
		return model.SeverityHigh
	case a.Similarity < 0.95,
		kind == model.ChangeStyling && a.PixelDifference > 10_000:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Classify is the convenience wrapper producing the full deterministic
// verdict for a diff result.
func Classify(res *model.DiffResult, totalPixels int) model.Classification {
	analysis := &model.ChangeAnalysis{
		Similarity:      res.Similarity,
		PixelDifference: res.PixelDifference,
		Regions:         res.Regions,
		TotalPixels:     totalPixels,
	}
	kind := ClassifyChange(analysis)
	return model.Classification{
		Kind:     kind,
		Severity: Severity(analysis, kind),
	}
}
