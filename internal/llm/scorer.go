package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/resumerank/internal/metrics"
	"github.com/raphaelgruber/resumerank/internal/models"
)

// maxDocumentChars bounds the resume text sent to the model.
const maxDocumentChars = 20000

const scoringSystemPrompt = `You are an experienced technical recruiter. Score the resume against the job description.

Respond with a single JSON object and nothing else:
{
  "subscores": {"skills": 0-100, "experience": 0-100, "education": 0-100, "communication": 0-100},
  "strengths": ["..."],
  "improvements": ["..."],
  "totalScore": 0-100,
  "narrative": "two or three sentences"
}

Guidelines:
- Base every judgement on evidence in the resume
- totalScore reflects overall fit, not an average of subscores
- Keep strengths and improvements to at most five items each`

// UsageRecorder receives per-call timing and token usage. *metrics.Collector satisfies it.
type UsageRecorder interface {
	RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64)
	RecordFailure(op string, duration time.Duration)
}

// Scorer scores documents against a description with one LLM call each.
type Scorer struct {
	model   *Model
	metrics UsageRecorder
}

// NewScorer creates a scorer. metrics may be nil.
func NewScorer(model *Model, metrics UsageRecorder) *Scorer {
	return &Scorer{model: model, metrics: metrics}
}

// Score performs exactly one scoring call. Errors wrap ErrQuotaRejected,
// ErrFatalAPI or ErrMalformedResponse where they apply.
func (s *Scorer) Score(ctx context.Context, text, description string) (*models.ScoreResult, error) {
	if len(text) > maxDocumentChars {
		text = text[:maxDocumentChars]
	}

	userPrompt := fmt.Sprintf(`Job description:
%s

Resume:
%s

JSON assessment:`, description, text)

	start := time.Now()
	raw, usage, err := s.model.GenerateWithSystem(ctx, scoringSystemPrompt, userPrompt)
	duration := time.Since(start)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordFailure(metrics.OpScore, duration)
		}
		return nil, fmt.Errorf("score: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordLLMUsage(metrics.OpScore, duration, usage.InputTokens, usage.OutputTokens)
	}

	result, err := ParseScore(raw)
	if err != nil {
		slog.Debug("unparseable scoring response", "model", s.model.Model(), "response_len", len(raw), "error", err)
		return nil, err
	}

	slog.Debug("document scored", "model", s.model.Model(), "total_score", result.TotalScore, "duration_ms", duration.Milliseconds())
	return result, nil
}

// scorePayload mirrors the response JSON. Pointers detect missing fields.
type scorePayload struct {
	Subscores    map[string]float64 `json:"subscores"`
	Strengths    []string           `json:"strengths"`
	Improvements []string           `json:"improvements"`
	TotalScore   *float64           `json:"totalScore"`
	Narrative    string             `json:"narrative"`
}

// ParseScore extracts the JSON object from a model response, tolerating
// surrounding prose or code fences.
func ParseScore(raw string) (*models.ScoreResult, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
	}

	var p scorePayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if p.TotalScore == nil {
		return nil, fmt.Errorf("%w: missing totalScore", ErrMalformedResponse)
	}
	if *p.TotalScore < 0 || *p.TotalScore > 100 {
		return nil, fmt.Errorf("%w: totalScore %.1f out of range", ErrMalformedResponse, *p.TotalScore)
	}

	if p.Subscores == nil {
		p.Subscores = map[string]float64{}
	}
	return &models.ScoreResult{
		Subscores:    p.Subscores,
		Strengths:    nonNil(p.Strengths),
		Improvements: nonNil(p.Improvements),
		TotalScore:   *p.TotalScore,
		Narrative:    strings.TrimSpace(p.Narrative),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
