// Package service wires document sources, the scorer and the scheduler into
// resume screening runs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/resumerank/internal/documents"
	"github.com/raphaelgruber/resumerank/internal/metrics"
	"github.com/raphaelgruber/resumerank/internal/models"
	"github.com/raphaelgruber/resumerank/internal/retry"
	"github.com/raphaelgruber/resumerank/internal/scheduler"
)

// ErrNoDocuments is returned when a run would have no jobs.
var ErrNoDocuments = errors.New("no documents to score")

// Scorer scores one document text against a description. *llm.Scorer
// satisfies it.
type Scorer interface {
	Score(ctx context.Context, text, description string) (*models.ScoreResult, error)
}

// InlineDocument is a document submitted with its text.
type InlineDocument struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// ScreeningService turns documents into jobs and performs the per-job work.
type ScreeningService struct {
	source  documents.Source
	scorer  Scorer
	caller  *retry.Caller
	metrics *metrics.Collector
}

// NewScreeningService creates a screening service. metrics may be nil.
func NewScreeningService(source documents.Source, scorer Scorer, caller *retry.Caller, m *metrics.Collector) *ScreeningService {
	return &ScreeningService{source: source, scorer: scorer, caller: caller, metrics: m}
}

// BuildJobs lists the documents at locator and creates one job per document,
// in listing order.
func (s *ScreeningService) BuildJobs(ctx context.Context, locator, description string) ([]scheduler.Job, error) {
	docs, err := s.source.List(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w at %s", ErrNoDocuments, locator)
	}

	jobs := make([]scheduler.Job, len(docs))
	for i, d := range docs {
		jobs[i] = scheduler.Job{
			ID:          newID(),
			Name:        d.Name,
			Document:    d.ID,
			Description: description,
		}
	}
	return jobs, nil
}

// JobsFromDocuments creates jobs for documents submitted inline.
func (s *ScreeningService) JobsFromDocuments(docs []InlineDocument, description string) ([]scheduler.Job, error) {
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	jobs := make([]scheduler.Job, len(docs))
	for i, d := range docs {
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("document-%d", i+1)
		}
		// An empty Text would make Work fetch from the source instead.
		if strings.TrimSpace(d.Text) == "" {
			return nil, fmt.Errorf("%w: document %q has no text", ErrInvalidRequest, name)
		}
		jobs[i] = scheduler.Job{
			ID:          newID(),
			Name:        name,
			Text:        d.Text,
			Description: description,
		}
	}
	return jobs, nil
}

// Work fetches the job's text and scores it through the retrying caller.
// Fetching is not rate limited; only the scoring call is.
func (s *ScreeningService) Work(ctx context.Context, job scheduler.Job) (*models.ScoreResult, error) {
	text := job.Text
	if text == "" {
		var err error
		text, err = s.fetch(ctx, job)
		if err != nil {
			return nil, err
		}
	}

	return retry.Do(ctx, s.caller, "score "+job.Name, func(ctx context.Context) (*models.ScoreResult, error) {
		return s.scorer.Score(ctx, text, job.Description)
	})
}

func (s *ScreeningService) fetch(ctx context.Context, job scheduler.Job) (string, error) {
	start := time.Now()
	text, err := s.source.FetchText(ctx, job.Document)
	duration := time.Since(start)

	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("no extractable text")
	}
	if err != nil {
		s.metrics.RecordFailure(metrics.OpDocumentFetch, duration)
		slog.Warn("document fetch failed", "job_id", job.ID, "document", job.Document, "error", err)
		return "", fmt.Errorf("%w: %s: %w", ErrDocumentFetch, job.Name, err)
	}

	s.metrics.RecordTiming(metrics.OpDocumentFetch, duration)
	slog.Debug("document fetched", "job_id", job.ID, "chars", len(text), "duration_ms", duration.Milliseconds())
	return text, nil
}

// newID returns a short id for runs and jobs.
func newID() string {
	return uuid.New().String()[:8]
}
