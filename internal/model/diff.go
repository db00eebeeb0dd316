package model

// ChangeKind is the deterministic bucket a visual change falls into.
type ChangeKind string

const (
	ChangeLayout    ChangeKind = "layout"
	ChangeContent   ChangeKind = "content"
	ChangeStyling   ChangeKind = "styling"
	ChangeAnimation ChangeKind = "animation"
	ChangeUnknown   ChangeKind = "unknown"
)

// Severity is the deterministic severity scale shared by the diff engine and
// the merged verdict.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for merging; higher wins.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// Region is a maximal 4-connected component of differing pixels that
// survived the minimum-size filter.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`

	// PixelCount is the number of differing pixels inside the component
	// (not the bounding-box area).
	PixelCount int `json:"pixel_count"`

	// Significance is componentSize / totalPixels, in (0, 1].
	Significance float64 `json:"significance"`
}

// DiffResult is the outcome of one pixel/structural comparison. Immutable
// once produced.
type DiffResult struct {
	Similarity      float64 `json:"similarity"`
	PixelDifference int     `json:"pixel_difference"`
	Passed          bool    `json:"passed"`

	// Regions is empty unless pixel-level comparison ran to completion.
	Regions []Region `json:"regions,omitempty"`

	// DiffImage is the rendered difference mask; nil on early exit.
	DiffImage *Image `json:"-"`

	// EarlyExit marks results produced by the sampling pre-pass.
	EarlyExit bool `json:"early_exit"`

	// SSIM carries the structural similarity score when requested. It is
	// reported alongside the pixel result and never replaces it.
	SSIM float64 `json:"ssim,omitempty"`
}

// ChangeAnalysis is the region-level summary fed to classification.
type ChangeAnalysis struct {
	Similarity      float64  `json:"similarity"`
	PixelDifference int      `json:"pixel_difference"`
	Regions         []Region `json:"regions"`
	TotalPixels     int      `json:"total_pixels"`
}

// Classification is the deterministic verdict derived from a ChangeAnalysis.
type Classification struct {
	Kind     ChangeKind `json:"classification"`
	Severity Severity   `json:"severity"`
}
