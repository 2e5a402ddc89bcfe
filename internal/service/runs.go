package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/raphaelgruber/resumerank/internal/db"
	"github.com/raphaelgruber/resumerank/internal/models"
	"github.com/raphaelgruber/resumerank/internal/progress"
	"github.com/raphaelgruber/resumerank/internal/scheduler"
)

var (
	// ErrRunNotFound is returned for unknown or expired run ids.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned when a caller-supplied run id is already in use.
	ErrRunExists = errors.New("run already exists")
)

// Runner executes a run's jobs. *scheduler.Scheduler satisfies it.
type Runner interface {
	Run(ctx context.Context, runID string, jobs []scheduler.Job) ([]models.Outcome, error)
}

// Store persists runs. *db.Client satisfies it.
type Store interface {
	CreateRun(ctx context.Context, id, description string, locator *string, total int) error
	UpdateRunProgress(ctx context.Context, id string, status models.RunStatus, completed int) error
	CompleteRun(ctx context.Context, id string, status models.RunStatus, outcomes []models.Outcome, runErr error) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
}

// RunRequest describes a run to create.
type RunRequest struct {
	ID          string // optional; generated when empty
	Description string
	Locator     *string
	Jobs        []scheduler.Job
}

// Run is a live run tracked by the RunManager.
type Run struct {
	ID          string
	Description string
	Locator     *string
	Status      models.RunStatus
	Progress    models.RunProgress
	Outcomes    []models.Outcome
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	jobs  []scheduler.Job
	final *progress.Event // terminal event sent to observers

	mu          sync.RWMutex
	lastPersist time.Time
}

// RunView is a point-in-time copy of a run, safe to serialize.
type RunView struct {
	ID          string             `json:"runId"`
	Status      models.RunStatus   `json:"status"`
	Description string             `json:"description"`
	Locator     *string            `json:"locator,omitempty"`
	Progress    models.RunProgress `json:"progress"`
	Outcomes    []models.Outcome   `json:"outcomes,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
}

// Snapshot returns a thread-safe copy of run state.
func (r *Run) Snapshot() RunView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RunView{
		ID:          r.ID,
		Status:      r.Status,
		Description: r.Description,
		Locator:     r.Locator,
		Progress:    r.Progress,
		Outcomes:    slices.Clone(r.Outcomes),
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

// RunManager tracks runs, forwards their progress to observers and persists
// them when a Store is configured. It implements scheduler.Publisher.
type RunManager struct {
	runs     *ttlcache.Cache[string, *Run]
	mu       sync.Mutex // serializes id reservation
	observer scheduler.Publisher
	store    Store
}

// NewRunManager creates a run manager. Finished runs are kept in memory for
// retention. store may be nil.
func NewRunManager(observer scheduler.Publisher, store Store, retention time.Duration) *RunManager {
	if retention <= 0 {
		retention = time.Hour
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Run](retention),
		ttlcache.WithDisableTouchOnHit[string, *Run](),
	)
	go cache.Start()

	return &RunManager{
		runs:     cache,
		observer: observer,
		store:    store,
	}
}

// Stop stops the retention sweeper.
func (m *RunManager) Stop() {
	m.runs.Stop()
}

// Create registers a new run in the created state.
func (m *RunManager) Create(ctx context.Context, req RunRequest) (*Run, error) {
	if len(req.Jobs) == 0 {
		return nil, ErrNoDocuments
	}

	id := req.ID
	if id == "" {
		id = newID()
	}

	run := &Run{
		ID:          id,
		Description: req.Description,
		Locator:     req.Locator,
		Status:      models.RunStatusCreated,
		Progress:    models.RunProgress{RunID: id, Total: len(req.Jobs)},
		StartedAt:   time.Now(),
		jobs:        req.Jobs,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runs.Has(id) {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, id)
	}
	if m.store != nil {
		if err := m.store.CreateRun(ctx, id, req.Description, req.Locator, len(req.Jobs)); err != nil {
			if errors.Is(err, db.ErrAlreadyExists) {
				return nil, fmt.Errorf("%w: %s", ErrRunExists, id)
			}
			return nil, fmt.Errorf("persist run: %w", err)
		}
	}
	// Live runs never expire; Execute re-arms the TTL once they finish.
	m.runs.Set(id, run, ttlcache.NoTTL)

	slog.Info("run created", "run_id", id, "jobs", len(req.Jobs))
	return run, nil
}

// Execute runs synchronously and returns the ranked outcomes. The error is
// non-nil when the run aborted; the outcomes are complete either way.
func (m *RunManager) Execute(ctx context.Context, run *Run, runner Runner) ([]models.Outcome, error) {
	m.setStatus(ctx, run, models.RunStatusRunning)

	outcomes, err := runner.Run(ctx, run.ID, run.jobs)

	status := models.RunStatusCompleted
	if err != nil {
		status = models.RunStatusAborted
	}
	m.finish(run, status, outcomes, err)
	return outcomes, err
}

// Start runs in the background. The run is detached from the caller's
// context so a closed request does not cancel it.
func (m *RunManager) Start(run *Run, runner Runner) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("run goroutine panicked", "run_id", run.ID, "panic", r)
				err := fmt.Errorf("internal panic: %v", r)
				m.finish(run, models.RunStatusFailed, nil, err)
				m.Close(run.ID, progress.Complete(progress.StatusFailed, err))
			}
		}()

		_, _ = m.Execute(context.Background(), run, runner)
	}()
}

// Get returns a run by id, falling back to the store for runs that expired
// from memory or belong to an earlier process.
func (m *RunManager) Get(ctx context.Context, id string) (RunView, error) {
	if item := m.runs.Get(id); item != nil {
		return item.Value().Snapshot(), nil
	}
	if m.store == nil {
		return RunView{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	rec, err := m.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return RunView{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return RunView{}, err
	}
	return viewFromRecord(rec), nil
}

// Status returns just the lifecycle state of a run.
func (m *RunManager) Status(ctx context.Context, id string) (models.RunStatus, error) {
	view, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return view.Status, nil
}

// List returns runs, most recent first. Outcomes are omitted.
func (m *RunManager) List(ctx context.Context) ([]RunView, error) {
	seen := make(map[string]bool)
	var views []RunView

	for id, item := range m.runs.Items() {
		view := item.Value().Snapshot()
		view.Outcomes = nil
		views = append(views, view)
		seen[id] = true
	}

	if m.store != nil {
		records, err := m.store.ListRuns(ctx, 100)
		if err != nil {
			return nil, fmt.Errorf("list stored runs: %w", err)
		}
		for i := range records {
			view := viewFromRecord(&records[i])
			if seen[view.ID] {
				continue
			}
			view.Outcomes = nil
			views = append(views, view)
		}
	}

	// Sort by start time descending (most recent first)
	slices.SortFunc(views, func(a, b RunView) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return views, nil
}

// Publish records progress on the run and forwards the event to its observer.
func (m *RunManager) Publish(runID string, ev progress.Event) {
	if item := m.runs.Get(runID); item != nil && ev.Type == progress.EventProgress {
		m.updateProgress(item.Value(), ev)
	}
	m.observer.Publish(runID, ev)
}

// Close records the terminal event and forwards it to the run's observer.
func (m *RunManager) Close(runID string, ev progress.Event) {
	if item := m.runs.Get(runID); item != nil {
		run := item.Value()
		run.mu.Lock()
		run.Progress.Done = true
		run.final = &ev
		run.mu.Unlock()
	}
	m.observer.Close(runID, ev)
}

// TerminalEvent returns the complete event of a finished run. ok is false
// while the run can still emit events.
func (m *RunManager) TerminalEvent(ctx context.Context, runID string) (ev progress.Event, ok bool) {
	if item := m.runs.Get(runID); item != nil {
		run := item.Value()
		run.mu.RLock()
		defer run.mu.RUnlock()
		if run.final != nil {
			return *run.final, true
		}
		if run.Status.Terminal() {
			return completeEvent(run.Status, run.Error), true
		}
		return progress.Event{}, false
	}

	view, err := m.Get(ctx, runID)
	if err != nil || !view.Status.Terminal() {
		return progress.Event{}, false
	}
	return completeEvent(view.Status, view.Error), true
}

func completeEvent(status models.RunStatus, errMsg string) progress.Event {
	var err error
	if errMsg != "" {
		err = errors.New(errMsg)
	}
	return progress.Complete(string(status), err)
}

// updateProgress applies a progress event, persisting at most every few
// seconds and always at the end of a batch.
func (m *RunManager) updateProgress(run *Run, ev progress.Event) {
	run.mu.Lock()
	// Jobs of one batch may report out of order; the count never goes back.
	if ev.Completed < run.Progress.Completed {
		run.mu.Unlock()
		return
	}
	run.Progress.Completed = ev.Completed
	run.Progress.BatchIndex = ev.BatchIndex
	run.Progress.TotalBatches = ev.TotalBatches
	if ev.CurrentItem != "" {
		run.Progress.CurrentItem = ev.CurrentItem
	}
	shouldPersist := m.store != nil &&
		(time.Since(run.lastPersist) > 5*time.Second || ev.Completed == ev.Total)
	if shouldPersist {
		run.lastPersist = time.Now()
	}
	status := run.Status
	completed := run.Progress.Completed
	run.mu.Unlock()

	if shouldPersist {
		if err := m.store.UpdateRunProgress(context.Background(), run.ID, status, completed); err != nil {
			slog.Warn("failed to persist run progress", "run_id", run.ID, "error", err)
		}
	}
}

func (m *RunManager) setStatus(ctx context.Context, run *Run, status models.RunStatus) {
	run.mu.Lock()
	run.Status = status
	completed := run.Progress.Completed
	run.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpdateRunProgress(ctx, run.ID, status, completed); err != nil {
			slog.Warn("failed to persist run status", "run_id", run.ID, "status", status, "error", err)
		}
	}
}

func (m *RunManager) finish(run *Run, status models.RunStatus, outcomes []models.Outcome, runErr error) {
	run.mu.Lock()
	run.Status = status
	run.Outcomes = outcomes
	if runErr != nil {
		run.Error = runErr.Error()
	}
	now := time.Now()
	run.CompletedAt = &now
	run.Progress.Done = true
	run.jobs = nil
	run.mu.Unlock()

	m.runs.Set(run.ID, run, ttlcache.DefaultTTL)

	if m.store != nil {
		// The caller's context may already be gone; the record must still land.
		if err := m.store.CompleteRun(context.Background(), run.ID, status, outcomes, runErr); err != nil {
			slog.Warn("failed to persist run completion", "run_id", run.ID, "error", err)
		}
	}

	if runErr != nil {
		slog.Error("run finished with error", "run_id", run.ID, "status", status, "error", runErr)
		return
	}
	slog.Info("run finished", "run_id", run.ID, "status", status, "outcomes", len(outcomes))
}

func viewFromRecord(rec *models.RunRecord) RunView {
	id, _ := models.RecordIDString(rec.ID)
	view := RunView{
		ID:          id,
		Status:      models.RunStatus(rec.Status),
		Description: rec.Description,
		Locator:     rec.Locator,
		Progress: models.RunProgress{
			RunID:     id,
			Total:     rec.Total,
			Completed: rec.Completed,
			Done:      models.RunStatus(rec.Status).Terminal(),
		},
		Outcomes:    rec.Outcomes,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.Error != nil {
		view.Error = *rec.Error
	}
	return view
}
