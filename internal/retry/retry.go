// Package retry wraps one external call per job with limiter admission and a
// bounded retry policy for transient quota rejections.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/resumerank/internal/ratelimit"
)

// Acquirer admits one outbound request. *ratelimit.Limiter satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Config controls the retry policy.
type Config struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries int
	RetryDelay time.Duration
	// Retryable reports whether err is a transient rejection worth retrying.
	// A nil Retryable retries nothing.
	Retryable func(error) bool
}

// Caller runs calls through the limiter with retries.
type Caller struct {
	limiter Acquirer
	cfg     Config
	clock   ratelimit.Clock
	logger  *slog.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithClock replaces the clock used for retry delays.
func WithClock(c ratelimit.Clock) Option {
	return func(rc *Caller) { rc.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(rc *Caller) { rc.logger = logger }
}

// New creates a Caller. MaxRetries below 1 is treated as 1.
func New(limiter Acquirer, cfg Config, opts ...Option) *Caller {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	c := &Caller{
		limiter: limiter,
		cfg:     cfg,
		clock:   ratelimit.SystemClock,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do acquires a limiter slot and invokes fn, retrying transient rejections.
//
// A daily quota error from the limiter is returned unchanged and never
// retried. Other failures, and exhausted retries, come back wrapped with the
// number of attempts made.
func Do[T any](ctx context.Context, c *Caller, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			if errors.Is(err, ratelimit.ErrDailyQuotaExceeded) {
				return zero, err
			}
			return zero, fmt.Errorf("%s: acquire slot: %w", name, err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if c.cfg.Retryable == nil || !c.cfg.Retryable(err) {
			return zero, fmt.Errorf("%s failed after %d attempt(s): %w", name, attempt, err)
		}
		if attempt >= c.cfg.MaxRetries {
			return zero, fmt.Errorf("%s: retries exhausted after %d attempt(s): %w", name, attempt, err)
		}

		c.logger.Warn("transient rejection, retrying",
			"call", name,
			"attempt", attempt,
			"max_attempts", c.cfg.MaxRetries,
			"delay_ms", c.cfg.RetryDelay.Milliseconds(),
			"error", err)

		if err := c.clock.Sleep(ctx, c.cfg.RetryDelay); err != nil {
			return zero, fmt.Errorf("%s: waiting to retry: %w", name, err)
		}
	}
}
