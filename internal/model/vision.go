package model

// AISeverity is the scale vision models answer on. It is mapped onto the
// deterministic Severity scale when results are merged.
type AISeverity string

const (
	AISeverityNone     AISeverity = "none"
	AISeverityMinor    AISeverity = "minor"
	AISeverityModerate AISeverity = "moderate"
	AISeverityBreaking AISeverity = "breaking"
)

// MapAISeverity applies the fixed mapping onto the deterministic scale:
// none/minor -> low, moderate -> medium, breaking -> critical.
func MapAISeverity(s AISeverity) Severity {
	switch s {
	case AISeverityModerate:
		return SeverityMedium
	case AISeverityBreaking:
		return SeverityCritical
	default:
		return SeverityLow
	}
}

// LikelyIntentional applies the fixed intentionality mapping: none/minor
// changes are treated as intentional, moderate/breaking as regressions.
func LikelyIntentional(s AISeverity) bool {
	return s == AISeverityNone || s == AISeverityMinor
}

// VisionRequest is what the classification client hands a provider: both
// preprocessed images plus the comparison context the model needs to reason.
type VisionRequest struct {
	Baseline *ProcessedImage `json:"-"`
	Current  *ProcessedImage `json:"-"`

	TestName string   `json:"test_name,omitempty"`
	URL      string   `json:"url,omitempty"`
	Viewport Viewport `json:"viewport,omitempty"`

	// Diff is the deterministic result, included so the model sees the
	// pixel-level evidence alongside the screenshots.
	Diff *DiffResult `json:"diff,omitempty"`
}

// VisionAssessment is a provider's parsed answer.
type VisionAssessment struct {
	Severity    AISeverity `json:"severity"`
	Categories  []string   `json:"categories,omitempty"`
	Confidence  float64    `json:"confidence"`
	Reasoning   string     `json:"reasoning,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`
}

// MergedClassification is the classification client's final answer: the AI
// assessment (when one was obtained) projected onto the deterministic scale.
type MergedClassification struct {
	Severity          Severity   `json:"severity"`
	AISeverity        AISeverity `json:"ai_severity,omitempty"`
	Categories        []string   `json:"categories,omitempty"`
	Confidence        float64    `json:"confidence"`
	Reasoning         string     `json:"reasoning,omitempty"`
	Suggestions       []string   `json:"suggestions,omitempty"`
	LikelyIntentional bool       `json:"likely_intentional"`

	// Provider and Model identify who produced the assessment. Empty on a
	// degraded result.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Cached marks answers served from the vision result cache.
	Cached bool `json:"cached,omitempty"`

	// Degraded marks the unknown/medium fallback produced when every
	// provider in the chain failed; FailureReason says why.
	Degraded      bool   `json:"degraded,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// DegradedClassification builds the unknown/medium fallback the client
// returns when the provider chain is exhausted.
func DegradedClassification(reason string) *MergedClassification {
	return &MergedClassification{
		Severity:      SeverityMedium,
		Degraded:      true,
		FailureReason: reason,
	}
}
