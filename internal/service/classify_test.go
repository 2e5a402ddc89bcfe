package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raphaelgruber/resumerank/internal/documents"
	"github.com/raphaelgruber/resumerank/internal/llm"
	"github.com/raphaelgruber/resumerank/internal/models"
	"github.com/raphaelgruber/resumerank/internal/ratelimit"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"nil", nil, ""},
		{"daily quota", fmt.Errorf("score a.pdf: %w", ratelimit.ErrDailyQuotaExceeded), models.ErrorKindDailyQuota},
		{"cancelled", fmt.Errorf("score: acquire slot: %w", context.Canceled), models.ErrorKindCancelled},
		{"deadline", context.DeadlineExceeded, models.ErrorKindCancelled},
		{"fetch", fmt.Errorf("%w: a.pdf: broken", ErrDocumentFetch), models.ErrorKindDocumentFetch},
		{"source not found", fmt.Errorf("list: %w", documents.ErrNotFound), models.ErrorKindDocumentFetch},
		{"access denied", documents.ErrAccessDenied, models.ErrorKindDocumentFetch},
		{"quota rejected after retries", fmt.Errorf("score: retries exhausted after 3 attempt(s): %w", llm.ErrQuotaRejected), models.ErrorKindScoringRejected},
		{"malformed", fmt.Errorf("%w: totalScore missing", llm.ErrMalformedResponse), models.ErrorKindMalformedResponse},
		{"fatal api", fmt.Errorf("%w: invalid x-api-key", llm.ErrFatalAPI), models.ErrorKindScoringFatal},
		{"other", errors.New("connection reset"), models.ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
