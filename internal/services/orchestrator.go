package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notebook-ops/nbrunner/internal/engine"
	"github.com/notebook-ops/nbrunner/internal/models"
	"github.com/notebook-ops/nbrunner/internal/notebook"
	"github.com/notebook-ops/nbrunner/internal/progress"
	"github.com/notebook-ops/nbrunner/internal/repository"
	"github.com/notebook-ops/nbrunner/internal/storage"
)

var (
	// ErrTemplateResolution covers every failure turning a submission into a
	// runnable document: missing template, injection failure, missing input
	// file, working-directory I/O.
	ErrTemplateResolution = errors.New("template resolution failed")

	// ErrQueueFull means the bounded execution queue rejected the job.
	ErrQueueFull = errors.New("execution queue full")

	// ErrShuttingDown means the orchestrator no longer accepts submissions.
	ErrShuttingDown = errors.New("orchestrator shutting down")
)

// Tracker is the live progress sink. Implementations must tolerate failure;
// the orchestrator treats every Tracker error as soft.
type Tracker interface {
	Record(ctx context.Context, executionID uint, p progress.CellProgress) error
	Get(ctx context.Context, executionID uint) (progress.CellProgress, bool)
	Clear(ctx context.Context, executionID uint)
}

// Request is one execution submission. Exactly one of TemplateKey or
// InputPath selects the document.
type Request struct {
	Requester   string
	TemplateKey string
	Parameters  map[string]any
	TargetName  string
	InputPath   string
	OutputPath  string
	Kernel      string
}

// Receipt acknowledges a submission before the run starts.
type Receipt struct {
	ExecutionID uint   `json:"execution_id"`
	StatusPath  string `json:"status_path"`
}

// StatusView is an execution record plus, while the run is live, the last
// observed cell progress.
type StatusView struct {
	*models.Execution
	Progress *progress.CellProgress `json:"progress,omitempty"`
}

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	Workers          int
	QueueSize        int
	FirstCellTimeout time.Duration
	WorkDir          string
	DefaultKernel    string
	MaxErrorLen      int
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.FirstCellTimeout <= 0 {
		o.FirstCellTimeout = 30 * time.Second
	}
	if o.WorkDir == "" {
		o.WorkDir = os.TempDir()
	}
	if o.DefaultKernel == "" {
		o.DefaultKernel = "python3"
	}
	if o.MaxErrorLen <= 0 {
		o.MaxErrorLen = 2048
	}
}

type job struct {
	id   uint
	spec engine.RunSpec
}

// Orchestrator coordinates notebook executions: it resolves the document,
// persists the execution record, and drives the run on a bounded worker pool
// while callers poll for status.
type Orchestrator struct {
	templates storage.TemplateStore
	records   repository.ExecutionRepository
	eng       engine.Engine
	tracker   Tracker
	logger    *slog.Logger
	opts      Options

	queue   chan job
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	accepting bool
}

// NewOrchestrator wires the orchestrator and starts its workers. tracker may
// be nil when no live progress store is configured.
func NewOrchestrator(
	templates storage.TemplateStore,
	records repository.ExecutionRepository,
	eng engine.Engine,
	tracker Tracker,
	logger *slog.Logger,
	opts Options,
) *Orchestrator {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		templates: templates,
		records:   records,
		eng:       eng,
		tracker:   tracker,
		logger:    logger.With("component", "orchestrator"),
		opts:      opts,
		queue:     make(chan job, opts.QueueSize),
		baseCtx:   ctx,
		cancel:    cancel,
		accepting: true,
	}
	for i := 0; i < opts.Workers; i++ {
		o.wg.Add(1)
		go o.workerLoop()
	}
	return o
}

// Submit resolves the document, creates the pending record and enqueues the
// run. It returns as soon as the job is queued; it never waits on the run.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Receipt, error) {
	if strings.TrimSpace(req.Requester) == "" {
		return nil, fmt.Errorf("%w: requester is required", ErrTemplateResolution)
	}

	inputPath, err := o.resolveDocument(ctx, req)
	if err != nil {
		return nil, err
	}
	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = strings.TrimSuffix(inputPath, ".ipynb") + ".out.ipynb"
	}
	kernel := req.Kernel
	if kernel == "" {
		kernel = o.opts.DefaultKernel
	}

	var snapshot json.RawMessage
	if len(req.Parameters) > 0 {
		snapshot, err = json.Marshal(req.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%w: parameters not JSON-representable: %v", ErrTemplateResolution, err)
		}
	}

	rec, err := o.records.Create(ctx, &models.Execution{
		TemplateKey:    req.TemplateKey,
		Requester:      req.Requester,
		InputPath:      inputPath,
		ParametersUsed: snapshot,
		Status:         models.StatusPending,
		StartedAt:      time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	j := job{
		id: rec.ID,
		spec: engine.RunSpec{
			InputPath:  inputPath,
			OutputPath: outputPath,
			Kernel:     kernel,
			Parameters: req.Parameters,
		},
	}

	o.mu.Lock()
	if !o.accepting {
		o.mu.Unlock()
		o.rejectRecord(ctx, rec.ID, ErrShuttingDown.Error())
		return nil, ErrShuttingDown
	}
	select {
	case o.queue <- j:
		o.mu.Unlock()
	default:
		o.mu.Unlock()
		o.rejectRecord(ctx, rec.ID, ErrQueueFull.Error())
		return nil, ErrQueueFull
	}

	o.logger.Info("execution submitted",
		"execution_id", rec.ID,
		"requester", req.Requester,
		"template_key", req.TemplateKey,
		"input_path", inputPath,
	)
	return &Receipt{
		ExecutionID: rec.ID,
		StatusPath:  fmt.Sprintf("/api/v1/executions/%d", rec.ID),
	}, nil
}

// Status reads the execution record, merged with live cell progress while
// the run is not terminal.
func (o *Orchestrator) Status(ctx context.Context, id uint) (*StatusView, error) {
	rec, err := o.records.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &StatusView{Execution: rec}
	if o.tracker != nil && !rec.Status.Terminal() {
		if p, ok := o.tracker.Get(ctx, id); ok {
			view.Progress = &p
		}
	}
	return view, nil
}

// History lists execution records matching the filter.
func (o *Orchestrator) History(ctx context.Context, filter repository.ExecutionFilter) ([]*models.Execution, error) {
	return o.records.List(ctx, filter)
}

// Shutdown stops intake and waits for in-flight runs until ctx expires, at
// which point outstanding engine calls are cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.accepting {
		o.accepting = false
		close(o.queue)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		return ctx.Err()
	}
}

// resolveDocument turns the request into a concrete input path: either an
// injected copy of a stored template, or a pre-existing document on disk.
func (o *Orchestrator) resolveDocument(ctx context.Context, req Request) (string, error) {
	if req.TemplateKey == "" {
		if req.InputPath == "" {
			return "", fmt.Errorf("%w: template key or input path required", ErrTemplateResolution)
		}
		info, err := os.Stat(req.InputPath)
		if err != nil {
			return "", fmt.Errorf("%w: input %s: %v", ErrTemplateResolution, req.InputPath, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%w: input %s is a directory", ErrTemplateResolution, req.InputPath)
		}
		return req.InputPath, nil
	}

	content, err := o.templates.Fetch(ctx, req.TemplateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTemplateResolution, err)
	}
	resolved, err := notebook.Inject(content, req.Parameters)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTemplateResolution, err)
	}

	name := req.TargetName
	if name == "" {
		name = uuid.NewString() + ".ipynb"
	} else if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid target name %q", ErrTemplateResolution, req.TargetName)
	}

	dir := filepath.Join(o.opts.WorkDir, req.Requester)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: workdir: %v", ErrTemplateResolution, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, resolved, 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrTemplateResolution, path, err)
	}
	return path, nil
}

func (o *Orchestrator) workerLoop() {
	defer o.wg.Done()
	for j := range o.queue {
		o.run(j)
	}
}

// run drives one execution to a terminal state. Nothing that happens in here
// is allowed to escape as a process failure.
func (o *Orchestrator) run(j job) {
	logger := o.logger.With("execution_id", j.id)
	started := time.Now()

	finalized := false
	finalize := func(execErr error) {
		if finalized {
			return
		}
		finalized = true
		o.finalize(j, started, execErr, logger)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("execution panicked", "panic", r)
			finalize(fmt.Errorf("internal error: %v", r))
		}
	}()

	o.persistWithRetry(j.id, models.ExecutionPatch{Status: statusPtr(models.StatusRunning)}, logger)
	logger.Info("execution running", "input_path", j.spec.InputPath, "kernel", j.spec.Kernel)

	events := make(chan engine.Event, 16)
	errCh := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("internal error: %v", r)
			}
			close(events)
			errCh <- err
		}()
		err = o.eng.Execute(o.baseCtx, j.spec, events)
	}()

	o.superviseRun(j, events, logger)
	finalize(<-errCh)
}

// superviseRun consumes cell events until the engine finishes. The first-cell
// checkpoint is a bounded wait used only for early-failure observability: on
// timeout the run keeps going and pollers keep seeing "running".
func (o *Orchestrator) superviseRun(j job, events <-chan engine.Event, logger *slog.Logger) {
	timer := time.NewTimer(o.opts.FirstCellTimeout)
	defer timer.Stop()

	first := true
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if first {
				first = false
				timer.Stop()
				logger.Info("first cell completed", "total_cells", ev.Total)
			}
			o.recordProgress(j.id, ev, logger)
		case <-timer.C:
			first = false
			logger.Warn("first cell checkpoint elapsed, run continues",
				"timeout", o.opts.FirstCellTimeout)
		}
	}
}

func (o *Orchestrator) recordProgress(id uint, ev engine.Event, logger *slog.Logger) {
	if o.tracker == nil {
		return
	}
	err := o.tracker.Record(o.baseCtx, id, progress.CellProgress{
		Cell:          ev.Cell,
		Total:         ev.Total,
		FirstCellDone: true,
		ObservedAt:    time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("progress update dropped", "error", err)
	}
}

// finalize records the terminal transition exactly once. A failed status
// write never disturbs the run outcome; after retries the discrepancy is
// logged for an operator.
func (o *Orchestrator) finalize(j job, started time.Time, execErr error, logger *slog.Logger) {
	now := time.Now().UTC()
	elapsed := time.Since(started).Seconds()

	var patch models.ExecutionPatch
	if execErr != nil {
		msg := truncate(execErr.Error(), o.opts.MaxErrorLen)
		patch = models.ExecutionPatch{
			Status:               statusPtr(models.StatusFailed),
			ErrorMessage:         &msg,
			CompletedAt:          &now,
			ExecutionTimeSeconds: &elapsed,
		}
		logger.Error("execution failed", "error", execErr, "elapsed_seconds", elapsed)
	} else {
		patch = models.ExecutionPatch{
			Status:               statusPtr(models.StatusSucceeded),
			OutputPath:           &j.spec.OutputPath,
			CompletedAt:          &now,
			ExecutionTimeSeconds: &elapsed,
		}
		logger.Info("execution succeeded", "output_path", j.spec.OutputPath, "elapsed_seconds", elapsed)
	}

	o.persistWithRetry(j.id, patch, logger)
	if o.tracker != nil {
		o.tracker.Clear(o.baseCtx, j.id)
	}
}

// rejectRecord closes out a record whose job never reached the queue.
func (o *Orchestrator) rejectRecord(ctx context.Context, id uint, reason string) {
	now := time.Now().UTC()
	err := o.records.Update(ctx, id, models.ExecutionPatch{
		Status:       statusPtr(models.StatusFailed),
		ErrorMessage: &reason,
		CompletedAt:  &now,
	})
	if err != nil {
		o.logger.Error("could not mark rejected execution failed", "execution_id", id, "error", err)
	}
}

// persistWithRetry writes a status patch with bounded backoff. Exhausting the
// retries is logged, never fatal: the background run must not crash because
// the history store blinked.
func (o *Orchestrator) persistWithRetry(id uint, patch models.ExecutionPatch, logger *slog.Logger) {
	const attempts = 3
	backoff := 250 * time.Millisecond

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = o.records.Update(o.baseCtx, id, patch)
		if err == nil {
			return
		}
		if errors.Is(err, repository.ErrRecordNotFound) {
			break
		}
		logger.Warn("status write failed", "attempt", attempt, "error", err)
		if attempt < attempts {
			select {
			case <-time.After(backoff):
			case <-o.baseCtx.Done():
				return
			}
			backoff *= 2
		}
	}
	logger.Error("status write abandoned, record may lag the run", "error", err)
}

func statusPtr(s models.ExecutionStatus) *models.ExecutionStatus { return &s }

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
