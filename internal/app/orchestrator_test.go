package app

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/raysh454/miru/internal/diff"
	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
	"github.com/raysh454/miru/internal/preprocess"
	"github.com/raysh454/miru/internal/vision"
)

// stubCapturer serves canned screenshots keyed by URL.
type stubCapturer struct {
	mu    sync.Mutex
	shots map[string][]byte
	calls int
}

var _ interfaces.Capturer = (*stubCapturer)(nil)

func (c *stubCapturer) Capture(_ context.Context, req *model.CaptureRequest) (*model.CaptureResult, error) {
	c.mu.Lock()
	c.calls++
	buf := c.shots[req.URL]
	c.mu.Unlock()
	return &model.CaptureResult{Buffer: buf, URL: req.URL, Viewport: req.Viewport}, nil
}

func (c *stubCapturer) Close() error { return nil }

// memStore is an in-memory BaselineStore.
type memStore struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string][]byte)}
}

func (m *memStore) Save(testName string, image []byte, _ model.BaselineMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[testName] = append([]byte(nil), image...)
	return nil
}

func (m *memStore) Load(testName, _ string) (*model.Baseline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.saved[testName]
	if !ok {
		return &model.Baseline{Found: false}, nil
	}
	return &model.Baseline{Image: img, Found: true, LoadedFrom: "main"}, nil
}

// stubVision always answers with a fixed assessment.
type stubVision struct {
	severity model.AISeverity
	calls    int
	mu       sync.Mutex
}

var _ interfaces.VisionProvider = (*stubVision)(nil)

func (s *stubVision) Name() string                       { return "stub" }
func (s *stubVision) Model() string                      { return "stub-1" }
func (s *stubVision) IsAvailable(_ context.Context) bool { return true }
func (s *stubVision) Classify(_ context.Context, _ *model.VisionRequest) (*model.VisionAssessment, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &model.VisionAssessment{Severity: s.severity, Confidence: 0.9}, nil
}

// pngBytes renders a solid image with a colored block at (bx, by).
func pngBytes(t *testing.T, w, h int, bg, block color.NRGBA, bx, by, bw, bh int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := bg
			if x >= bx && x < bx+bw && y >= by && y < by+bh {
				c = block
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

func testOrchestrator(t *testing.T, cap *stubCapturer, store *memStore, ai *vision.Client) *Orchestrator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AIEnabled = ai != nil
	cfg.Concurrency = 2
	logger := logging.NewStdoutLogger("test")
	return NewOrchestrator(cfg,
		cap,
		preprocess.New(preprocess.Config{}, logger),
		diff.NewEngine(diff.Config{}, logger),
		store, ai, nil, logger)
}

func TestRunTaskNewBaseline(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	shot := pngBytes(t, 64, 64, white, white, 0, 0, 0, 0)

	cap := &stubCapturer{shots: map[string][]byte{"http://site/": shot}}
	store := newMemStore()
	o := testOrchestrator(t, cap, store, nil)

	res := o.RunTask(context.Background(), model.TestTask{Name: "home", URL: "http://site/"})
	if res.Verdict != model.VerdictNewBaseline {
		t.Fatalf("verdict = %q, want new_baseline (err: %s)", res.Verdict, res.Error)
	}
	if _, ok := store.saved["home"]; !ok {
		t.Fatalf("baseline not saved")
	}
}

func TestRunTaskPassesOnIdenticalCapture(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	shot := pngBytes(t, 64, 64, white, white, 0, 0, 0, 0)

	cap := &stubCapturer{shots: map[string][]byte{"http://site/": shot}}
	store := newMemStore()
	o := testOrchestrator(t, cap, store, nil)
	ctx := context.Background()

	o.RunTask(ctx, model.TestTask{Name: "home", URL: "http://site/"})
	res := o.RunTask(ctx, model.TestTask{Name: "home", URL: "http://site/"})
	if res.Verdict != model.VerdictPassed || !res.Passed {
		t.Fatalf("verdict = %q, want passed (err: %s)", res.Verdict, res.Error)
	}
	if res.Diff == nil || res.Diff.Similarity != 1.0 {
		t.Fatalf("similarity = %v, want 1.0", res.Diff)
	}
}

func TestRunTaskFailsAndClassifies(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	red := color.NRGBA{255, 0, 0, 255}
	baseline := pngBytes(t, 64, 64, white, white, 0, 0, 0, 0)
	changed := pngBytes(t, 64, 64, white, red, 8, 8, 32, 32)

	cap := &stubCapturer{shots: map[string][]byte{"http://site/": baseline}}
	store := newMemStore()
	o := testOrchestrator(t, cap, store, nil)
	ctx := context.Background()

	o.RunTask(ctx, model.TestTask{Name: "home", URL: "http://site/"})

	cap.mu.Lock()
	cap.shots["http://site/"] = changed
	cap.mu.Unlock()

	res := o.RunTask(ctx, model.TestTask{Name: "home", URL: "http://site/"})
	if res.Verdict != model.VerdictFailed {
		t.Fatalf("verdict = %q, want failed (err: %s)", res.Verdict, res.Error)
	}
	if res.Diff == nil || res.Diff.Passed {
		t.Fatalf("diff unexpectedly passed: %+v", res.Diff)
	}
	if res.Deterministic == nil || res.Deterministic.Kind == "" {
		t.Fatalf("no deterministic classification: %+v", res.Deterministic)
	}
	if res.FinalSeverity == "" {
		t.Fatalf("no final severity")
	}
}

func TestRunTaskMergesAISeverity(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	red := color.NRGBA{255, 0, 0, 255}
	baseline := pngBytes(t, 64, 64, white, white, 0, 0, 0, 0)
	// A small block keeps the deterministic severity low while the stub
	// vision provider reports breaking.
	changed := pngBytes(t, 64, 64, white, red, 2, 2, 6, 6)

	provider := &stubVision{severity: model.AISeverityBreaking}
	logger := logging.NewStdoutLogger("test")
	ai := vision.NewClient(vision.DefaultClientConfig(),
		[]interfaces.VisionProvider{provider},
		vision.NewCache(vision.DefaultCacheConfig(), nil, logger),
		vision.NewCostTracker(vision.CostConfig{DailyLimitUSD: 100, MonthlyLimitUSD: 100}, nil, logger),
		logger)

	cap := &stubCapturer{shots: map[string][]byte{"http://site/": baseline}}
	store := newMemStore()
	o := testOrchestrator(t, cap, store, ai)
	ctx := context.Background()

	o.RunTask(ctx, model.TestTask{Name: "home", URL: "http://site/"})
	cap.mu.Lock()
	cap.shots["http://site/"] = changed
	cap.mu.Unlock()

	res := o.RunTask(ctx, model.TestTask{Name: "home", URL: "http://site/"})
	if res.Verdict != model.VerdictFailed {
		t.Fatalf("verdict = %q, want failed (err: %s)", res.Verdict, res.Error)
	}
	if res.AIAssisted == nil {
		t.Fatalf("no AI assessment")
	}
	// breaking maps to critical, which outranks any deterministic answer.
	if res.FinalSeverity != model.SeverityCritical {
		t.Fatalf("final severity = %q, want critical", res.FinalSeverity)
	}
}

func TestRunSuiteAggregates(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	shot := pngBytes(t, 64, 64, white, white, 0, 0, 0, 0)

	cap := &stubCapturer{shots: map[string][]byte{
		"http://site/a": shot,
		"http://site/b": shot,
		"http://site/c": shot,
	}}
	store := newMemStore()
	o := testOrchestrator(t, cap, store, nil)

	tasks := []model.TestTask{
		{Name: "a", URL: "http://site/a"},
		{Name: "b", URL: "http://site/b"},
		{Name: "c", URL: "http://site/c"},
	}

	var progressCalls int
	var mu sync.Mutex
	summary := o.RunSuite(context.Background(), tasks, func(done, total int) {
		mu.Lock()
		progressCalls++
		mu.Unlock()
	})

	if summary.Total != 3 || summary.NewBaselines != 3 {
		t.Fatalf("total/new = %d/%d, want 3/3", summary.Total, summary.NewBaselines)
	}
	if progressCalls != 3 {
		t.Fatalf("progress calls = %d, want 3", progressCalls)
	}
	for i, r := range summary.Results {
		if r == nil {
			t.Fatalf("result %d missing", i)
		}
		if r.Name != tasks[i].Name {
			t.Fatalf("result %d out of order: %q", i, r.Name)
		}
		if r.TaskID == "" {
			t.Fatalf("result %d has no task ID", i)
		}
	}

	// Second run compares against the fresh baselines and passes.
	summary = o.RunSuite(context.Background(), tasks, nil)
	if summary.Passed != 3 || summary.Failed != 0 {
		t.Fatalf("passed/failed = %d/%d, want 3/0", summary.Passed, summary.Failed)
	}
}

func TestRunSuiteDegradesWhenBudgetExhausted(t *testing.T) {
	white := color.NRGBA{255, 255, 255, 255}
	red := color.NRGBA{255, 0, 0, 255}
	baseline := pngBytes(t, 64, 64, white, white, 0, 0, 0, 0)
	changedA := pngBytes(t, 64, 64, white, red, 8, 8, 32, 32)
	changedB := pngBytes(t, 64, 64, white, red, 16, 16, 32, 32)

	provider := &stubVision{severity: model.AISeverityModerate}
	logger := logging.NewStdoutLogger("test")
	costs := vision.NewCostTracker(vision.CostConfig{DailyLimitUSD: 1, MonthlyLimitUSD: 1}, nil, logger)
	costs.SetPrice("stub", "stub-1", 1.0)
	ai := vision.NewClient(vision.DefaultClientConfig(),
		[]interfaces.VisionProvider{provider},
		vision.NewCache(vision.DefaultCacheConfig(), nil, logger),
		costs, logger)

	cap := &stubCapturer{shots: map[string][]byte{
		"http://site/a": baseline,
		"http://site/b": baseline,
	}}
	store := newMemStore()
	o := testOrchestrator(t, cap, store, ai)
	o.cfg.Concurrency = 1
	ctx := context.Background()

	tasks := []model.TestTask{
		{Name: "a", URL: "http://site/a"},
		{Name: "b", URL: "http://site/b"},
	}
	o.RunSuite(ctx, tasks, nil)

	cap.mu.Lock()
	cap.shots["http://site/a"] = changedA
	cap.shots["http://site/b"] = changedB
	cap.mu.Unlock()

	summary := o.RunSuite(ctx, tasks, nil)
	if summary.Failed != 2 {
		t.Fatalf("failed = %d, want 2", summary.Failed)
	}
	// The first paid call exhausts the $1 budget; the second task must
	// finish with its deterministic answer and flag the degradation.
	if !summary.AIDegraded {
		t.Fatalf("run not flagged as AI-degraded")
	}
	withAI := 0
	for _, r := range summary.Results {
		if r.AIAssisted != nil {
			withAI++
		}
	}
	if withAI != 1 {
		t.Fatalf("results with AI = %d, want 1", withAI)
	}
}
