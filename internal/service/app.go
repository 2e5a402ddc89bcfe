package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/raphaelgruber/resumerank/internal/config"
	"github.com/raphaelgruber/resumerank/internal/db"
	"github.com/raphaelgruber/resumerank/internal/documents"
	"github.com/raphaelgruber/resumerank/internal/llm"
	"github.com/raphaelgruber/resumerank/internal/metrics"
	"github.com/raphaelgruber/resumerank/internal/models"
	"github.com/raphaelgruber/resumerank/internal/progress"
	"github.com/raphaelgruber/resumerank/internal/ratelimit"
	"github.com/raphaelgruber/resumerank/internal/retry"
	"github.com/raphaelgruber/resumerank/internal/scheduler"
)

// ErrInvalidRequest is returned for submissions that cannot become a run.
var ErrInvalidRequest = errors.New("invalid request")

// SubmitRequest describes a run to create, either from a document locator or
// from inline documents.
type SubmitRequest struct {
	RunID       string
	Locator     string
	Documents   []InlineDocument
	Description string
}

// App holds all long-lived components of one process.
type App struct {
	Config    config.Config
	Metrics   *metrics.Collector
	Limiter   *ratelimit.Limiter
	Registry  *progress.Registry
	Screening *ScreeningService
	Scheduler *scheduler.Scheduler
	Runs      *RunManager

	db *db.Client
}

// Deps supplies the components NewAppWith cannot build from config. Source,
// Clock and Logger fall back to defaults; Store may be nil.
type Deps struct {
	Scorer Scorer
	Source documents.Source
	Store  *db.Client
	Clock  ratelimit.Clock
	Logger *slog.Logger
}

// NewApp builds an App from configuration: it connects the scoring model and,
// when persistence is enabled, the database.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc := metrics.NewCollector()

	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("scoring model: %w", err)
	}

	deps := Deps{
		Scorer: llm.NewScorer(model, mc),
		Source: documents.NewDirSource(cfg.DocumentRoot),
		Logger: logger,
	}

	if cfg.Persist {
		dbClient, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := dbClient.InitSchema(ctx); err != nil {
			_ = dbClient.Close(ctx)
			return nil, err
		}

		// Runs cannot be resumed after a restart; mark them failed
		ids, err := dbClient.FailInterruptedRuns(ctx)
		if err != nil {
			slog.Warn("failed to mark interrupted runs", "error", err)
		} else if len(ids) > 0 {
			slog.Info("marked interrupted runs as failed", "count", len(ids), "run_ids", ids)
		}
		deps.Store = dbClient
	}

	return newApp(cfg, mc, deps)
}

// NewAppWith builds an App around the given dependencies.
func NewAppWith(cfg config.Config, deps Deps) (*App, error) {
	if deps.Scorer == nil {
		return nil, errors.New("scorer is required")
	}
	if deps.Source == nil {
		deps.Source = documents.NewDirSource(cfg.DocumentRoot)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return newApp(cfg, metrics.NewCollector(), deps)
}

func newApp(cfg config.Config, mc *metrics.Collector, deps Deps) (*App, error) {
	clock := deps.Clock
	if clock == nil {
		clock = ratelimit.SystemClock
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		RequestsPerDay:    cfg.RequestsPerDay,
		RetryDelay:        cfg.RetryDelay,
	}, ratelimit.WithClock(clock), ratelimit.WithLogger(deps.Logger), ratelimit.WithMetrics(mc))
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	caller := retry.New(limiter, retry.Config{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: limiter.RetryDelay(),
		Retryable:  llm.IsRetryable,
	}, retry.WithClock(clock), retry.WithLogger(deps.Logger))

	registry := progress.NewRegistry(
		progress.WithKeepaliveInterval(cfg.KeepaliveInterval),
		progress.WithLogger(deps.Logger),
	)

	app := &App{
		Config:    cfg,
		Metrics:   mc,
		Limiter:   limiter,
		Registry:  registry,
		Screening: NewScreeningService(deps.Source, deps.Scorer, caller, mc),
		db:        deps.Store,
	}

	var store Store
	if deps.Store != nil {
		store = deps.Store
	}
	app.Runs = NewRunManager(registry, store, cfg.RunRetention)

	app.Scheduler = scheduler.New(scheduler.Config{
		BatchSize:           cfg.BatchSize,
		DelayBetweenBatches: cfg.BatchDelay,
		ContinueOnError:     cfg.ContinueOnError,
	}, app.Screening.Work,
		scheduler.WithPublisher(app.Runs),
		scheduler.WithClassifier(Classify),
		scheduler.WithClock(clock),
		scheduler.WithLogger(deps.Logger),
		scheduler.WithMetrics(mc),
	)

	return app, nil
}

// Prepare validates a submission, builds its jobs and registers the run.
func (a *App) Prepare(ctx context.Context, req SubmitRequest) (*Run, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}

	var (
		jobs    []scheduler.Job
		locator *string
		err     error
	)
	switch {
	case req.Locator != "" && len(req.Documents) > 0:
		return nil, fmt.Errorf("%w: locator and documents are mutually exclusive", ErrInvalidRequest)
	case req.Locator != "":
		jobs, err = a.Screening.BuildJobs(ctx, req.Locator, description)
		locator = &req.Locator
	case len(req.Documents) > 0:
		jobs, err = a.Screening.JobsFromDocuments(req.Documents, description)
	default:
		return nil, fmt.Errorf("%w: locator or documents is required", ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}

	return a.Runs.Create(ctx, RunRequest{
		ID:          req.RunID,
		Description: description,
		Locator:     locator,
		Jobs:        jobs,
	})
}

// RunSync executes a prepared run and waits for its ranked outcomes.
func (a *App) RunSync(ctx context.Context, run *Run) ([]models.Outcome, error) {
	return a.Runs.Execute(ctx, run, a.Scheduler)
}

// RunAsync executes a prepared run in the background.
func (a *App) RunAsync(run *Run) {
	a.Runs.Start(run, a.Scheduler)
}

// Subscribe attaches sink to a run's progress stream. A run that has already
// finished gets its complete event at once and the sink is closed.
func (a *App) Subscribe(ctx context.Context, runID string, sink progress.Sink) (*progress.Subscription, error) {
	if _, err := a.Runs.Get(ctx, runID); err != nil {
		return nil, err
	}

	sub := a.Registry.Subscribe(runID, sink)
	// Checked after subscribing so a run finishing in between is not missed.
	if ev, ok := a.Runs.TerminalEvent(ctx, runID); ok {
		a.Registry.Close(runID, ev)
		return sub, nil
	}
	a.Registry.Keepalive(runID)
	return sub, nil
}

// Ping checks the database when persistence is enabled.
func (a *App) Ping(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Ping(ctx)
}

// WipeData deletes all persisted runs. Without persistence it does nothing.
func (a *App) WipeData(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.WipeData(ctx)
}

// Close releases every component, reporting all failures.
func (a *App) Close(ctx context.Context) error {
	var errs *multierror.Error

	a.Runs.Stop()
	if a.db != nil {
		if err := a.db.Close(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errs.ErrorOrNil()
}
