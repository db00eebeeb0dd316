package model

import "time"

// TestTask is one (page x device) unit of work for the orchestrator.
type TestTask struct {
	// ID identifies the task for order-independent aggregation.
	ID string `json:"id"`

	// Name is the logical test name the baseline is filed under.
	Name string `json:"name"`

	URL      string   `json:"url"`
	Viewport Viewport `json:"viewport"`
}

// TaskVerdict summarizes how a task concluded.
type TaskVerdict string

const (
	VerdictPassed      TaskVerdict = "passed"
	VerdictFailed      TaskVerdict = "failed"
	VerdictNewBaseline TaskVerdict = "new_baseline"
	VerdictError       TaskVerdict = "error"
)

// TestResult is the per-task outcome. Failures are captured here rather than
// aborting the batch: one bad comparison must not fail a whole run.
type TestResult struct {
	TaskID   string   `json:"task_id"`
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Viewport Viewport `json:"viewport"`

	Verdict TaskVerdict `json:"verdict"`
	Passed  bool        `json:"passed"`
	Error   string      `json:"error,omitempty"`

	Diff           *DiffResult           `json:"diff,omitempty"`
	Deterministic  *Classification       `json:"deterministic,omitempty"`
	AIAssisted     *MergedClassification `json:"ai_assisted,omitempty"`
	FinalSeverity  Severity              `json:"final_severity,omitempty"`
	BaselineBranch string                `json:"baseline_branch,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
