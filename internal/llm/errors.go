package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuotaRejected means the provider throttled the request. It is
	// transient and safe to retry after a delay.
	ErrQuotaRejected = errors.New("scoring service rejected request (quota)")

	// ErrMalformedResponse means the response could not be parsed into a score.
	ErrMalformedResponse = errors.New("malformed scoring response")

	// ErrFatalAPI indicates an unrecoverable API error (auth, billing) that
	// will fail again on retry.
	ErrFatalAPI = errors.New("fatal API error")
)

// IsRetryable reports whether err is a transient quota rejection.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQuotaRejected)
}

var fatalPatterns = []string{
	"credit balance",
	"insufficient_quota",
	"billing",
	"invalid api key",
	"invalid x-api-key",
	"api key not valid",
	"authentication",
	"unauthorized",
	"accessdenied",
	"401",
	"403",
}

var quotaPatterns = []string{
	"429",
	"529",
	"rate limit",
	"rate_limit",
	"too many requests",
	"throttl",
	"overloaded",
	"quota",
	"resource_exhausted",
}

// isFatalAPIError checks if an error is a non-recoverable API error.
func isFatalAPIError(err error) bool {
	return matchesAny(err, fatalPatterns)
}

// isQuotaRejection checks if an error is the provider throttling us.
func isQuotaRejection(err error) bool {
	return matchesAny(err, quotaPatterns)
}

func matchesAny(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapAPIError tags provider errors with ErrFatalAPI or ErrQuotaRejected.
// Fatal patterns win, so "insufficient_quota" is a billing problem, not a
// throttle. Anything else is returned unchanged.
func wrapAPIError(err error) error {
	switch {
	case err == nil:
		return nil
	case isFatalAPIError(err):
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	case isQuotaRejection(err):
		return fmt.Errorf("%w: %w", ErrQuotaRejected, err)
	default:
		return err
	}
}
