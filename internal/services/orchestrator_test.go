package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notebook-ops/nbrunner/internal/engine"
	"github.com/notebook-ops/nbrunner/internal/models"
	"github.com/notebook-ops/nbrunner/internal/progress"
	"github.com/notebook-ops/nbrunner/internal/repository"
	"github.com/notebook-ops/nbrunner/internal/storage"
)

const trainTemplate = `{
	"cells": [
		{"cell_type": "code", "metadata": {"tags": ["parameters"]}, "outputs": [], "source": ["epochs = 1"]},
		{"cell_type": "code", "metadata": {}, "outputs": [], "source": ["train(epochs)"]}
	],
	"metadata": {"kernelspec": {"name": "python3"}},
	"nbformat": 4,
	"nbformat_minor": 5
}`

// fakeTemplateStore serves templates from memory.
type fakeTemplateStore struct {
	objects map[string][]byte
}

func newFakeTemplateStore() *fakeTemplateStore {
	return &fakeTemplateStore{objects: map[string][]byte{}}
}

func (f *fakeTemplateStore) Upload(ctx context.Context, key string, content []byte) error {
	f.objects[key] = content
	return nil
}

func (f *fakeTemplateStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	content, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return content, nil
}

func (f *fakeTemplateStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, content := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(content))})
		}
	}
	return out, nil
}

func (f *fakeTemplateStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeTemplateStore) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://store.local/" + key, nil
}

// fakeRecords is an in-memory ExecutionRepository that can simulate
// transient write failures.
type fakeRecords struct {
	mu          sync.Mutex
	nextID      uint
	rows        map[uint]*models.Execution
	failUpdates int
	updateCalls int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{rows: map[uint]*models.Execution{}}
}

func (f *fakeRecords) Create(ctx context.Context, exec *models.Execution) (*models.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	exec.ID = f.nextID
	clone := *exec
	f.rows[exec.ID] = &clone
	return exec, nil
}

func (f *fakeRecords) Update(ctx context.Context, id uint, patch models.ExecutionPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failUpdates > 0 {
		f.failUpdates--
		return fmt.Errorf("%w: injected fault", repository.ErrUnavailable)
	}
	row, ok := f.rows[id]
	if !ok {
		return fmt.Errorf("%w: execution %d", repository.ErrRecordNotFound, id)
	}
	if patch.Status != nil {
		row.Status = *patch.Status
	}
	if patch.OutputPath != nil {
		row.OutputPath = *patch.OutputPath
	}
	if patch.ErrorMessage != nil {
		row.ErrorMessage = *patch.ErrorMessage
	}
	if patch.CompletedAt != nil {
		row.CompletedAt = patch.CompletedAt
	}
	if patch.ExecutionTimeSeconds != nil {
		row.ExecutionTimeSeconds = *patch.ExecutionTimeSeconds
	}
	return nil
}

func (f *fakeRecords) FindByID(ctx context.Context, id uint) (*models.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: execution %d", repository.ErrRecordNotFound, id)
	}
	clone := *row
	return &clone, nil
}

func (f *fakeRecords) List(ctx context.Context, filter repository.ExecutionFilter) ([]*models.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Execution
	for _, row := range f.rows {
		if filter.Requester != "" && row.Requester != filter.Requester {
			continue
		}
		if filter.TemplateKey != "" && row.TemplateKey != filter.TemplateKey {
			continue
		}
		clone := *row
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeRecords) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeEngine emits scripted events, optionally blocking until released.
type fakeEngine struct {
	events   []engine.Event
	err      error
	perEvent time.Duration
	started  chan struct{}
	release  chan struct{}
	panics   bool
}

func (f *fakeEngine) Execute(ctx context.Context, spec engine.RunSpec, events chan<- engine.Event) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.panics {
		panic("engine blew up")
	}
	for _, ev := range f.events {
		if f.perEvent > 0 {
			select {
			case <-time.After(f.perEvent):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

// fakeTracker records progress in memory.
type fakeTracker struct {
	mu   sync.Mutex
	last map[uint]progress.CellProgress
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{last: map[uint]progress.CellProgress{}}
}

func (f *fakeTracker) Record(ctx context.Context, id uint, p progress.CellProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[id] = p
	return nil
}

func (f *fakeTracker) Get(ctx context.Context, id uint) (progress.CellProgress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.last[id]
	return p, ok
}

func (f *fakeTracker) Clear(ctx context.Context, id uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.last, id)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestOrchestrator(t *testing.T, eng engine.Engine, records *fakeRecords, opts Options) (*Orchestrator, *fakeTemplateStore) {
	t.Helper()
	store := newFakeTemplateStore()
	store.objects["ml/train.ipynb"] = []byte(trainTemplate)
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	o := NewOrchestrator(store, records, eng, newFakeTracker(), testLogger(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o, store
}

func waitTerminal(t *testing.T, o *Orchestrator, id uint) *models.Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, err := o.Status(context.Background(), id)
		require.NoError(t, err)
		if view.Status.Terminal() {
			return view.Execution
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %d never reached a terminal state", id)
	return nil
}

func TestSubmitFromTemplateRunsToSuccess(t *testing.T) {
	records := newFakeRecords()
	eng := &fakeEngine{
		events:   []engine.Event{{Cell: 1, Total: 2}, {Cell: 2, Total: 2}},
		perEvent: 20 * time.Millisecond,
	}
	o, _ := newTestOrchestrator(t, eng, records, Options{})

	receipt, err := o.Submit(context.Background(), Request{
		Requester:   "alice",
		TemplateKey: "ml/train.ipynb",
		Parameters:  map[string]any{"epochs": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("/api/v1/executions/%d", receipt.ExecutionID), receipt.StatusPath)

	// Immediately after submit the record is pending or running, never done.
	view, err := o.Status(context.Background(), receipt.ExecutionID)
	require.NoError(t, err)
	assert.Contains(t, []models.ExecutionStatus{models.StatusPending, models.StatusRunning}, view.Status)
	assert.Nil(t, view.CompletedAt)

	rec := waitTerminal(t, o, receipt.ExecutionID)
	assert.Equal(t, models.StatusSucceeded, rec.Status)
	assert.NotNil(t, rec.CompletedAt)
	assert.NotEmpty(t, rec.OutputPath)
	assert.Empty(t, rec.ErrorMessage)
	assert.Equal(t, "ml/train.ipynb", rec.TemplateKey)
	assert.JSONEq(t, `{"epochs": 5}`, string(rec.ParametersUsed))

	// The resolved working copy carries the injected binding.
	resolved, err := os.ReadFile(rec.InputPath)
	require.NoError(t, err)
	assert.Contains(t, string(resolved), "epochs = 5")
	assert.Equal(t, "alice", filepath.Base(filepath.Dir(rec.InputPath)))
}

func TestSubmitExistingDocument(t *testing.T) {
	records := newFakeRecords()
	eng := &fakeEngine{events: []engine.Event{{Cell: 1, Total: 1}}}
	o, _ := newTestOrchestrator(t, eng, records, Options{})

	input := filepath.Join(t.TempDir(), "report.ipynb")
	require.NoError(t, os.WriteFile(input, []byte(trainTemplate), 0o644))

	receipt, err := o.Submit(context.Background(), Request{Requester: "bob", InputPath: input})
	require.NoError(t, err)

	rec := waitTerminal(t, o, receipt.ExecutionID)
	assert.Equal(t, models.StatusSucceeded, rec.Status)
	assert.Equal(t, input, rec.InputPath)
	assert.Equal(t, strings.TrimSuffix(input, ".ipynb")+".out.ipynb", rec.OutputPath)
}

func TestSubmitMissingInputCreatesNoRecord(t *testing.T) {
	records := newFakeRecords()
	o, _ := newTestOrchestrator(t, &fakeEngine{}, records, Options{})

	_, err := o.Submit(context.Background(), Request{
		Requester: "alice",
		InputPath: "/nonexistent/notebook.ipynb",
	})
	require.ErrorIs(t, err, ErrTemplateResolution)
	assert.Zero(t, records.count())
}

func TestSubmitUnknownTemplateCreatesNoRecord(t *testing.T) {
	records := newFakeRecords()
	o, _ := newTestOrchestrator(t, &fakeEngine{}, records, Options{})

	_, err := o.Submit(context.Background(), Request{
		Requester:   "alice",
		TemplateKey: "ml/missing.ipynb",
	})
	require.ErrorIs(t, err, ErrTemplateResolution)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, records.count())
}

func TestSubmitAmbiguousTemplateCreatesNoRecord(t *testing.T) {
	records := newFakeRecords()
	o, store := newTestOrchestrator(t, &fakeEngine{}, records, Options{})
	store.objects["ml/notags.ipynb"] = []byte(`{"cells": [{"cell_type": "code", "metadata": {}, "source": []}], "metadata": {}}`)

	_, err := o.Submit(context.Background(), Request{
		Requester:   "alice",
		TemplateKey: "ml/notags.ipynb",
		Parameters:  map[string]any{"x": 1},
	})
	require.ErrorIs(t, err, ErrTemplateResolution)
	assert.Zero(t, records.count())
}

func TestEngineFailureCaptured(t *testing.T) {
	records := newFakeRecords()
	eng := &fakeEngine{
		events: []engine.Event{{Cell: 1, Total: 3}},
		err:    errors.New("KeyError: 'epochs' " + strings.Repeat("x", 5000)),
	}
	o, _ := newTestOrchestrator(t, eng, records, Options{MaxErrorLen: 256})

	receipt, err := o.Submit(context.Background(), Request{
		Requester:   "alice",
		TemplateKey: "ml/train.ipynb",
	})
	require.NoError(t, err)

	rec := waitTerminal(t, o, receipt.ExecutionID)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.ErrorMessage)
	assert.LessOrEqual(t, len(rec.ErrorMessage), 256)
	assert.NotNil(t, rec.CompletedAt)
	assert.Empty(t, rec.OutputPath)
}

func TestEnginePanicCaptured(t *testing.T) {
	records := newFakeRecords()
	o, _ := newTestOrchestrator(t, &fakeEngine{panics: true}, records, Options{})

	receipt, err := o.Submit(context.Background(), Request{
		Requester:   "alice",
		TemplateKey: "ml/train.ipynb",
	})
	require.NoError(t, err)

	rec := waitTerminal(t, o, receipt.ExecutionID)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "internal error")
}

func TestFirstCellTimeoutDoesNotAbortRun(t *testing.T) {
	records := newFakeRecords()
	// First event arrives well after the checkpoint window.
	eng := &fakeEngine{
		events:   []engine.Event{{Cell: 1, Total: 1}},
		perEvent: 80 * time.Millisecond,
	}
	o, _ := newTestOrchestrator(t, eng, records, Options{FirstCellTimeout: 10 * time.Millisecond})

	receipt, err := o.Submit(context.Background(), Request{
		Requester:   "alice",
		TemplateKey: "ml/train.ipynb",
	})
	require.NoError(t, err)

	// While the checkpoint has elapsed the job still reports running.
	time.Sleep(40 * time.Millisecond)
	view, err := o.Status(context.Background(), receipt.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, view.Status)

	rec := waitTerminal(t, o, receipt.ExecutionID)
	assert.Equal(t, models.StatusSucceeded, rec.Status)
}

func TestExecutionIDsAreUnique(t *testing.T) {
	records := newFakeRecords()
	eng := &fakeEngine{events: []engine.Event{{Cell: 1, Total: 1}}}
	o, _ := newTestOrchestrator(t, eng, records, Options{Workers: 4})

	seen := map[uint]bool{}
	for i := 0; i < 20; i++ {
		receipt, err := o.Submit(context.Background(), Request{
			Requester:   "alice",
			TemplateKey: "ml/train.ipynb",
		})
		require.NoError(t, err)
		require.False(t, seen[receipt.ExecutionID], "duplicate execution id %d", receipt.ExecutionID)
		seen[receipt.ExecutionID] = true
	}
}

func TestQueueBackpressure(t *testing.T) {
	records := newFakeRecords()
	eng := &fakeEngine{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	o, _ := newTestOrchestrator(t, eng, records, Options{Workers: 1, QueueSize: 1})
	defer close(eng.release)

	submit := func() (*Receipt, error) {
		return o.Submit(context.Background(), Request{
			Requester:   "alice",
			TemplateKey: "ml/train.ipynb",
		})
	}

	// First job occupies the single worker.
	_, err := submit()
	require.NoError(t, err)
	<-eng.started

	// Second fills the queue slot.
	_, err = submit()
	require.NoError(t, err)

	// Third has nowhere to go.
	receipt3, err := submit()
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Nil(t, receipt3)

	// The rejected submission still left a failed record behind.
	var rejected *models.Execution
	all, err := records.List(context.Background(), repository.ExecutionFilter{})
	require.NoError(t, err)
	for _, rec := range all {
		if rec.Status == models.StatusFailed {
			rejected = rec
		}
	}
	require.NotNil(t, rejected)
	assert.Contains(t, rejected.ErrorMessage, "queue full")
}

func TestStatusWriteRetryRecovers(t *testing.T) {
	records := newFakeRecords()
	records.failUpdates = 2 // running transition fails twice, then recovers
	eng := &fakeEngine{events: []engine.Event{{Cell: 1, Total: 1}}}
	o, _ := newTestOrchestrator(t, eng, records, Options{})

	receipt, err := o.Submit(context.Background(), Request{
		Requester:   "alice",
		TemplateKey: "ml/train.ipynb",
	})
	require.NoError(t, err)

	rec := waitTerminal(t, o, receipt.ExecutionID)
	assert.Equal(t, models.StatusSucceeded, rec.Status)
}

func TestShutdownWaitsForInflightRuns(t *testing.T) {
	records := newFakeRecords()
	eng := &fakeEngine{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	o, _ := newTestOrchestrator(t, eng, records, Options{Workers: 1})

	receipt, err := o.Submit(context.Background(), Request{
		Requester:   "alice",
		TemplateKey: "ml/train.ipynb",
	})
	require.NoError(t, err)
	<-eng.started

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(eng.release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	rec, err := o.Status(context.Background(), receipt.ExecutionID)
	require.NoError(t, err)
	assert.True(t, rec.Status.Terminal())

	// New submissions are refused after shutdown.
	_, err = o.Submit(context.Background(), Request{Requester: "alice", TemplateKey: "ml/train.ipynb"})
	require.ErrorIs(t, err, ErrShuttingDown)
}
