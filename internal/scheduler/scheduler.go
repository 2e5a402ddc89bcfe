// Package scheduler runs a list of scoring jobs in sequential, bounded
// batches and aggregates their outcomes into a ranked list.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/resumerank/internal/metrics"
	"github.com/raphaelgruber/resumerank/internal/models"
	"github.com/raphaelgruber/resumerank/internal/progress"
	"github.com/raphaelgruber/resumerank/internal/ratelimit"
)

// ErrRunAborted wraps the cause of a run that stopped before all jobs ran.
var ErrRunAborted = errors.New("run aborted")

// Job is one document to be scored against one description.
type Job struct {
	ID          string
	Name        string
	Document    string // document id at the source
	Text        string // inline document text; Document is ignored when set
	Description string
}

// WorkFunc performs the external work for a single job.
type WorkFunc func(ctx context.Context, job Job) (*models.ScoreResult, error)

// Publisher receives run progress. *progress.Registry satisfies it.
type Publisher interface {
	Publish(runID string, ev progress.Event)
	Close(runID string, ev progress.Event)
}

// Recorder receives run timings. *metrics.Collector satisfies it.
type Recorder interface {
	RecordTiming(op string, duration time.Duration)
	RecordFailure(op string, duration time.Duration)
}

// Config controls batching.
type Config struct {
	BatchSize           int
	DelayBetweenBatches time.Duration
	// ContinueOnError keeps the run going after ordinary job failures. When
	// false, the first failure aborts the run like a daily quota error.
	ContinueOnError bool
}

// Scheduler executes runs. It is safe for concurrent use by multiple runs.
type Scheduler struct {
	cfg       Config
	work      WorkFunc
	publisher Publisher
	classify  func(error) models.ErrorKind
	clock     ratelimit.Clock
	logger    *slog.Logger
	metrics   Recorder
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPublisher sets where progress events go.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithClassifier sets how job errors map to outcome error kinds.
func WithClassifier(fn func(error) models.ErrorKind) Option {
	return func(s *Scheduler) { s.classify = fn }
}

// WithClock replaces the clock used for the inter-batch delay.
func WithClock(c ratelimit.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics records run durations.
func WithMetrics(r Recorder) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// New creates a scheduler that runs work for every job.
func New(cfg Config, work WorkFunc, opts ...Option) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	s := &Scheduler{
		cfg:       cfg,
		work:      work,
		publisher: discard{},
		classify:  defaultClassify,
		clock:     ratelimit.SystemClock,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// TotalBatches returns how many batches a run of n jobs takes.
func (s *Scheduler) TotalBatches(n int) int {
	return (n + s.cfg.BatchSize - 1) / s.cfg.BatchSize
}

// run holds the mutable state of one Run call.
type run struct {
	id           string
	total        int
	totalBatches int

	mu        sync.Mutex
	outcomes  []models.Outcome
	completed int
	fatal     error
}

// Run processes jobs in order and returns one outcome per job, ranked by
// SortOutcomes.
//
// When the run aborts (daily quota, a failure with ContinueOnError unset, or
// ctx cancellation) the remaining jobs get synthetic aborted outcomes, the
// list is still complete, and the returned error wraps ErrRunAborted and the
// cause.
func (s *Scheduler) Run(ctx context.Context, runID string, jobs []Job) ([]models.Outcome, error) {
	start := time.Now()
	r := &run{
		id:           runID,
		total:        len(jobs),
		totalBatches: s.TotalBatches(len(jobs)),
		outcomes:     make([]models.Outcome, 0, len(jobs)),
	}
	logger := s.logger.With("run_id", runID)
	logger.Info("run started", "jobs", r.total, "batches", r.totalBatches, "batch_size", s.cfg.BatchSize)

	offset := 0
	for batch := range slices.Chunk(jobs, s.cfg.BatchSize) {
		batchIndex := offset/s.cfg.BatchSize + 1
		s.publisher.Publish(runID, progress.Progress(r.completedCount(), r.total, batchIndex, r.totalBatches, ""))
		logger.Debug("batch started", "batch", batchIndex, "size", len(batch))

		s.runBatch(ctx, r, batch, offset, batchIndex)
		offset += len(batch)

		cause := r.fatalErr()
		if cause == nil {
			cause = ctx.Err()
		}
		if cause == nil && offset < len(jobs) && s.cfg.DelayBetweenBatches > 0 {
			cause = s.clock.Sleep(ctx, s.cfg.DelayBetweenBatches)
		}
		if cause != nil {
			return s.abort(r, jobs[offset:], offset, cause, start)
		}
	}

	SortOutcomes(r.outcomes)
	s.publisher.Close(runID, progress.Complete(progress.StatusCompleted, nil))

	failed := 0
	for _, o := range r.outcomes {
		if !o.Success {
			failed++
		}
	}
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpRun, time.Since(start))
	}
	logger.Info("run completed", "jobs", r.total, "failed", failed, "duration_ms", time.Since(start).Milliseconds())
	return r.outcomes, nil
}

// runBatch runs every job of one batch concurrently and waits for all of them.
// Job errors never cancel siblings.
func (s *Scheduler) runBatch(ctx context.Context, r *run, batch []Job, offset, batchIndex int) {
	var g errgroup.Group
	g.SetLimit(len(batch))

	for i, job := range batch {
		index := offset + i
		g.Go(func() error {
			result, err := s.work(ctx, job)
			outcome := s.outcome(r.id, job, index, result, err)

			r.mu.Lock()
			r.outcomes = append(r.outcomes, outcome)
			r.completed++
			completed := r.completed
			if err != nil && r.fatal == nil && s.isFatal(err) {
				r.fatal = err
			}
			r.mu.Unlock()

			// Published outside the lock so a slow observer only delays this job.
			s.publisher.Publish(r.id, progress.Progress(completed, r.total, batchIndex, r.totalBatches, job.Name))
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) isFatal(err error) bool {
	if errors.Is(err, ratelimit.ErrDailyQuotaExceeded) {
		return true
	}
	return !s.cfg.ContinueOnError
}

func (s *Scheduler) outcome(runID string, job Job, index int, result *models.ScoreResult, err error) models.Outcome {
	o := models.Outcome{JobID: job.ID, Name: job.Name, Index: index}
	if err == nil {
		o.Success = true
		o.Score = result
		return o
	}
	o.ErrorKind = s.classify(err)
	o.Error = err.Error()
	s.logger.Warn("job failed", "run_id", runID, "job_id", job.ID, "name", job.Name, "kind", o.ErrorKind, "error", err)
	return o
}

// abort fills in the unprocessed jobs, ranks what was collected and closes
// the run's stream with an aborted status.
func (s *Scheduler) abort(r *run, remaining []Job, offset int, cause error, start time.Time) ([]models.Outcome, error) {
	msg := fmt.Sprintf("run aborted before this job started: %v", cause)
	for i, job := range remaining {
		r.outcomes = append(r.outcomes, models.Outcome{
			JobID:     job.ID,
			Name:      job.Name,
			Index:     offset + i,
			ErrorKind: models.ErrorKindAborted,
			Error:     msg,
		})
	}
	SortOutcomes(r.outcomes)

	s.publisher.Close(r.id, progress.Complete(progress.StatusAborted, cause))
	if s.metrics != nil {
		s.metrics.RecordFailure(metrics.OpRun, time.Since(start))
	}
	s.logger.Error("run aborted", "run_id", r.id, "skipped", len(remaining), "error", cause)
	return r.outcomes, fmt.Errorf("%w: %w", ErrRunAborted, cause)
}

func (r *run) completedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *run) fatalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// SortOutcomes orders successes by total score descending, then all
// failures. Ties keep submission order, so the result never depends on
// completion order.
func SortOutcomes(outcomes []models.Outcome) {
	slices.SortFunc(outcomes, func(a, b models.Outcome) int {
		switch {
		case a.Success && !b.Success:
			return -1
		case !a.Success && b.Success:
			return 1
		case a.Success && a.TotalScore() != b.TotalScore():
			if a.TotalScore() > b.TotalScore() {
				return -1
			}
			return 1
		}
		return a.Index - b.Index
	})
}

func defaultClassify(err error) models.ErrorKind {
	switch {
	case errors.Is(err, ratelimit.ErrDailyQuotaExceeded):
		return models.ErrorKindDailyQuota
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.ErrorKindCancelled
	default:
		return models.ErrorKindUnknown
	}
}

type discard struct{}

func (discard) Publish(string, progress.Event) {}
func (discard) Close(string, progress.Event)   {}
