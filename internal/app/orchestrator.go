package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/miru/internal/diff"
	"github.com/raysh454/miru/internal/interfaces"
	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
	"github.com/raysh454/miru/internal/preprocess"
	"github.com/raysh454/miru/internal/vision"
)

type JobEventType string

const (
	JobEventStatus   JobEventType = "status"
	JobEventProgress JobEventType = "progress"
	JobEventResult   JobEventType = "result"
)

type JobEvent struct {
	JobID string       `json:"job_id"`
	Type  JobEventType `json:"type"`

	// For status changes
	Status JobStatus `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`

	// For progress (optional fields)
	Processed int `json:"processed,omitempty"`
	Total     int `json:"total,omitempty"`
}

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

type Job struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"` // "suite" | "discover"
	Target    string        `json:"target"`
	Status    JobStatus     `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Events    chan JobEvent `json:"-"`

	// Optional results:
	Summary *RunSummary      `json:"summary,omitempty"`
	Tasks   []model.TestTask `json:"tasks,omitempty"`
}

// RunSummary aggregates one suite run.
type RunSummary struct {
	Total        int            `json:"total"`
	Passed       int            `json:"passed"`
	Failed       int            `json:"failed"`
	NewBaselines int            `json:"new_baselines"`
	Errors       int            `json:"errors"`
	MaxSeverity  model.Severity `json:"max_severity,omitempty"`

	Results []*model.TestResult `json:"results"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// AIDegraded is set when the run fell back to deterministic-only
	// classification because the budget ran out mid-run.
	AIDegraded bool `json:"ai_degraded,omitempty"`

	Cost model.CostStats `json:"cost"`
}

// TaskSource enumerates pages for a suite when the caller supplies a root
// URL instead of explicit tasks.
type TaskSource interface {
	Tasks(ctx context.Context, root string) ([]model.TestTask, error)
}

// Orchestrator runs visual regression suites: capture, preprocess, compare
// against the baseline, classify, and optionally escalate ambiguous diffs to
// the vision chain.
type Orchestrator struct {
	cfg       *Config
	capturer  interfaces.Capturer
	pre       *preprocess.Preprocessor
	engine    *diff.Engine
	baselines BaselineStore
	ai        *vision.Client
	source    TaskSource
	logger    logging.Logger

	// aiDown disables AI escalation for the rest of a run once the budget
	// circuit breaker trips.
	aiMu   sync.Mutex
	aiDown bool

	jobsMu     sync.Mutex
	jobs       map[string]*Job
	jobCancels map[string]context.CancelFunc
}

// BaselineStore is the slice of the baseline package the orchestrator needs.
type BaselineStore interface {
	Save(testName string, image []byte, meta model.BaselineMetadata) error
	Load(testName, branch string) (*model.Baseline, error)
}

// NewOrchestrator ties the pipeline together. ai and source may be nil.
func NewOrchestrator(cfg *Config, capturer interfaces.Capturer, pre *preprocess.Preprocessor, engine *diff.Engine, baselines BaselineStore, ai *vision.Client, source TaskSource, logger logging.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("orchestrator")
	}
	return &Orchestrator{
		cfg:       cfg,
		capturer:  capturer,
		pre:       pre,
		engine:    engine,
		baselines: baselines,
		ai:        ai,
		source:    source,
		logger:    logger,
	}
}

// RunTask executes one capture-and-compare. Failures land in the result's
// Error field; one bad page must not fail a whole run.
func (o *Orchestrator) RunTask(ctx context.Context, task model.TestTask) *model.TestResult {
	res := &model.TestResult{
		TaskID:    task.ID,
		Name:      task.Name,
		URL:       task.URL,
		Viewport:  task.Viewport,
		StartedAt: time.Now().UTC(),
	}
	defer func() { res.EndedAt = time.Now().UTC() }()

	fail := func(err error) *model.TestResult {
		res.Verdict = model.VerdictError
		res.Error = err.Error()
		return res
	}

	shot, err := o.capturer.Capture(ctx, &model.CaptureRequest{
		URL:      task.URL,
		Viewport: task.Viewport,
		FullPage: false,
	})
	if err != nil {
		return fail(fmt.Errorf("capture: %w", err))
	}

	current, err := o.pre.Process(shot.Buffer)
	if err != nil {
		return fail(fmt.Errorf("preprocess: %w", err))
	}

	base, err := o.baselines.Load(task.Name, o.cfg.Branch)
	if err != nil {
		return fail(fmt.Errorf("baseline load: %w", err))
	}

	if !base.Found {
		if err := o.saveBaseline(task, current); err != nil {
			return fail(err)
		}
		res.Verdict = model.VerdictNewBaseline
		res.Passed = true
		return res
	}
	res.BaselineBranch = base.LoadedFrom

	baseProcessed, err := o.pre.Process(base.Image)
	if err != nil {
		return fail(fmt.Errorf("preprocess baseline: %w", err))
	}

	// Identical content short-circuits the comparison entirely.
	if baseProcessed.Fingerprint == current.Fingerprint {
		res.Verdict = model.VerdictPassed
		res.Passed = true
		res.Diff = &model.DiffResult{Similarity: 1.0, Passed: true}
		return res
	}

	diffRes, err := o.engine.Compare(baseProcessed.Image, current.Image, o.cfg.DiffOpts)
	if err != nil {
		return fail(fmt.Errorf("compare: %w", err))
	}
	res.Diff = diffRes

	if diffRes.Passed {
		res.Verdict = model.VerdictPassed
		res.Passed = true
		return res
	}

	cls := diff.Classify(diffRes, baseProcessed.Image.TotalPixels())
	res.Deterministic = &cls
	res.FinalSeverity = cls.Severity
	res.Verdict = model.VerdictFailed

	if o.cfg.AIEnabled && o.ai != nil && !o.aiDisabled() {
		merged, err := o.ai.Analyze(ctx, &model.VisionRequest{
			Baseline: baseProcessed,
			Current:  current,
			TestName: task.Name,
			URL:      task.URL,
			Viewport: task.Viewport,
			Diff:     diffRes,
		})
		switch {
		case errors.Is(err, model.ErrBudgetExceeded):
			o.disableAI()
			o.logger.Warn("budget exhausted, finishing run without AI",
				logging.Field{Key: "test", Value: task.Name})
		case err != nil:
			o.logger.Warn("vision analysis failed",
				logging.Field{Key: "test", Value: task.Name},
				logging.Field{Key: "error", Value: err.Error()})
		default:
			res.AIAssisted = merged
			res.FinalSeverity = model.MaxSeverity(cls.Severity, merged.Severity)
		}
	}

	if o.cfg.UpdateBaselines {
		if err := o.saveBaseline(task, current); err != nil {
			o.logger.Warn("baseline update failed",
				logging.Field{Key: "test", Value: task.Name},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
	return res
}

func (o *Orchestrator) saveBaseline(task model.TestTask, img *model.ProcessedImage) error {
	err := o.baselines.Save(task.Name, img.Buffer, model.BaselineMetadata{
		TestName:    task.Name,
		Branch:      o.cfg.Branch,
		URL:         task.URL,
		Viewport:    task.Viewport,
		Fingerprint: img.Fingerprint,
	})
	if err != nil {
		return fmt.Errorf("baseline save: %w", err)
	}
	return nil
}

// RunSuite fans the tasks out over a bounded worker pool and aggregates the
// results in task order. onProgress may be nil.
func (o *Orchestrator) RunSuite(ctx context.Context, tasks []model.TestTask, onProgress func(done, total int)) *RunSummary {
	summary := &RunSummary{
		Total:     len(tasks),
		StartedAt: time.Now().UTC(),
		Results:   make([]*model.TestResult, len(tasks)),
	}
	o.resetAI()

	concurrency := o.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var progressMu sync.Mutex
	done := 0

	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = uuid.New().String()
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			summary.Results[i] = o.RunTask(ctx, tasks[i])

			progressMu.Lock()
			done++
			d := done
			progressMu.Unlock()
			if onProgress != nil {
				onProgress(d, len(tasks))
			}
		}(i)
	}
	wg.Wait()

	for _, r := range summary.Results {
		switch r.Verdict {
		case model.VerdictPassed:
			summary.Passed++
		case model.VerdictFailed:
			summary.Failed++
			summary.MaxSeverity = model.MaxSeverity(summary.MaxSeverity, r.FinalSeverity)
		case model.VerdictNewBaseline:
			summary.NewBaselines++
		default:
			summary.Errors++
		}
	}
	summary.AIDegraded = o.aiDisabled()
	if o.ai != nil {
		summary.Cost = o.ai.CostStats()
	}
	summary.EndedAt = time.Now().UTC()

	o.logger.Info("suite finished",
		logging.Field{Key: "total", Value: summary.Total},
		logging.Field{Key: "passed", Value: summary.Passed},
		logging.Field{Key: "failed", Value: summary.Failed},
		logging.Field{Key: "errors", Value: summary.Errors})
	return summary
}

// DiscoverTasks enumerates a site into a task list via the configured source.
func (o *Orchestrator) DiscoverTasks(ctx context.Context, root string) ([]model.TestTask, error) {
	if o.source == nil {
		return nil, errors.New("orchestrator: no task source configured")
	}
	tasks, err := o.source.Tasks(ctx, root)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].ID = uuid.New().String()
	}
	return tasks, nil
}

func (o *Orchestrator) aiDisabled() bool {
	o.aiMu.Lock()
	defer o.aiMu.Unlock()
	return o.aiDown
}

func (o *Orchestrator) disableAI() {
	o.aiMu.Lock()
	defer o.aiMu.Unlock()
	o.aiDown = true
}

func (o *Orchestrator) resetAI() {
	o.aiMu.Lock()
	defer o.aiMu.Unlock()
	o.aiDown = false
}

func (o *Orchestrator) ensureJobMaps() {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	if o.jobs == nil {
		o.jobs = make(map[string]*Job)
	}
	if o.jobCancels == nil {
		o.jobCancels = make(map[string]context.CancelFunc)
	}
}

func (o *Orchestrator) emitJobEvent(jobID string, ev JobEvent) {
	o.jobsMu.Lock()
	job, ok := o.jobs[jobID]
	o.jobsMu.Unlock()
	if !ok || job == nil || job.Events == nil {
		return
	}

	// Non-blocking send; drop if buffer is full.
	select {
	case job.Events <- ev:
	default:
	}
}

func (o *Orchestrator) setJob(job *Job) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	o.jobs[job.ID] = job
}

func (o *Orchestrator) setCancel(jobID string, cancel context.CancelFunc) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	o.jobCancels[jobID] = cancel
}

func (o *Orchestrator) deleteCancel(jobID string) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	delete(o.jobCancels, jobID)
}

func (o *Orchestrator) getCancel(jobID string) context.CancelFunc {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	return o.jobCancels[jobID]
}

// StartSuiteJob runs a suite asynchronously. When tasks is empty the target
// is crawled for pages first. Progress and status stream over Job.Events.
func (o *Orchestrator) StartSuiteJob(ctx context.Context, target string, tasks []model.TestTask) (*Job, error) {
	o.ensureJobMaps()

	jobID := uuid.New().String()
	job := &Job{
		ID:        jobID,
		Type:      "suite",
		Target:    target,
		Status:    JobPending,
		StartedAt: time.Now().UTC(),
		Events:    make(chan JobEvent, 16),
	}
	o.setJob(job)

	jobCtx, cancel := context.WithCancel(ctx)
	o.setCancel(jobID, cancel)

	o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobPending})

	go func() {
		defer func() {
			o.jobsMu.Lock()
			if j, ok := o.jobs[jobID]; ok {
				j.EndedAt = time.Now().UTC()
			}
			j := o.jobs[jobID]
			o.jobsMu.Unlock()
			o.deleteCancel(jobID)

			// Close events channel so websocket loop can terminate cleanly
			if j != nil && j.Events != nil {
				close(j.Events)
			}
		}()

		o.setJobStatus(jobID, JobRunning, "")
		o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobRunning})

		runTasks := tasks
		if len(runTasks) == 0 {
			discovered, err := o.DiscoverTasks(jobCtx, target)
			if err != nil {
				o.finishJob(jobID, jobCtx, err)
				return
			}
			runTasks = discovered
		}
		o.jobsMu.Lock()
		if j, ok := o.jobs[jobID]; ok {
			j.Tasks = runTasks
		}
		o.jobsMu.Unlock()

		summary := o.RunSuite(jobCtx, runTasks, func(done, total int) {
			o.emitJobEvent(jobID, JobEvent{
				JobID:     jobID,
				Type:      JobEventProgress,
				Processed: done,
				Total:     total,
			})
		})

		select {
		case <-jobCtx.Done():
			o.finishJob(jobID, jobCtx, jobCtx.Err())
		default:
			o.jobsMu.Lock()
			if j, ok := o.jobs[jobID]; ok {
				j.Status = JobDone
				j.Summary = summary
			}
			o.jobsMu.Unlock()
			o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventResult, Status: JobDone})
		}
	}()

	return job, nil
}

func (o *Orchestrator) setJobStatus(jobID string, status JobStatus, errMsg string) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	if j, ok := o.jobs[jobID]; ok {
		j.Status = status
		j.Error = errMsg
	}
}

// finishJob records a failed or canceled terminal state.
func (o *Orchestrator) finishJob(jobID string, jobCtx context.Context, err error) {
	status := JobFailed
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	select {
	case <-jobCtx.Done():
		status = JobCanceled
		msg = jobCtx.Err().Error()
	default:
	}
	o.setJobStatus(jobID, status, msg)
	o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: status, Error: msg})
}

func (o *Orchestrator) CancelJob(jobID string) {
	cancel := o.getCancel(jobID)
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) GetJob(jobID string) *Job {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	return o.jobs[jobID]
}

func (o *Orchestrator) ListJobs() []*Job {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	jobs := make([]*Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}

// VisionClient exposes the AI client for the API surface (stats endpoints).
func (o *Orchestrator) VisionClient() *vision.Client {
	return o.ai
}
