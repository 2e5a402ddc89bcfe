package service

import (
	"context"
	"errors"

	"github.com/raphaelgruber/resumerank/internal/documents"
	"github.com/raphaelgruber/resumerank/internal/llm"
	"github.com/raphaelgruber/resumerank/internal/models"
	"github.com/raphaelgruber/resumerank/internal/ratelimit"
)

// ErrDocumentFetch marks failures to obtain a document's text.
var ErrDocumentFetch = errors.New("document fetch failed")

// Classify maps a job error to the error kind recorded on its outcome.
func Classify(err error) models.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ratelimit.ErrDailyQuotaExceeded):
		return models.ErrorKindDailyQuota
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.ErrorKindCancelled
	case errors.Is(err, ErrDocumentFetch),
		errors.Is(err, documents.ErrNotFound),
		errors.Is(err, documents.ErrAccessDenied),
		errors.Is(err, documents.ErrUnsupported):
		return models.ErrorKindDocumentFetch
	case errors.Is(err, llm.ErrQuotaRejected):
		return models.ErrorKindScoringRejected
	case errors.Is(err, llm.ErrMalformedResponse):
		return models.ErrorKindMalformedResponse
	case errors.Is(err, llm.ErrFatalAPI):
		return models.ErrorKindScoringFatal
	default:
		return models.ErrorKindUnknown
	}
}
