// Package ratelimit enforces the scoring service's per-minute and per-day
// request quotas for the whole process.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/resumerank/internal/metrics"
)

// ErrDailyQuotaExceeded is returned by Acquire once the calendar-day quota is
// used up. It is terminal for a run and never retried by the limiter.
var ErrDailyQuotaExceeded = errors.New("daily quota exceeded")

const (
	// window is the length of the rolling per-minute quota window.
	window = time.Minute

	// minWindowWait is the shortest suspension when the minute window is full.
	minWindowWait = time.Second
)

// Clock abstracts time so tests can drive the limiter deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Recorder receives wait timings. *metrics.Collector satisfies it.
type Recorder interface {
	RecordTiming(op string, duration time.Duration)
}

// Config holds the quotas of the downstream service.
type Config struct {
	RequestsPerMinute int
	RequestsPerDay    int
	// RetryDelay is the base delay callers use between retries of a
	// rejected request.
	RetryDelay time.Duration
	// Location defines calendar days for the daily reset. Defaults to time.Local.
	Location *time.Location
}

// Status is a point-in-time view of quota usage.
type Status struct {
	MinuteUsed  int    `json:"minuteUsed"`
	MinuteLimit int    `json:"minuteLimit"`
	DayUsed     int    `json:"dayUsed"`
	DayLimit    int    `json:"dayLimit"`
	Day         string `json:"day"`
	SpacingMs   int64  `json:"spacingMs"`
	// NextSlotMs estimates when the next request could be admitted; -1 once
	// the daily quota is spent.
	NextSlotMs int64 `json:"nextSlotMs"`
}

// Limiter admits requests under a rolling minute window, an even spacing
// between requests, and a calendar-day ceiling.
type Limiter struct {
	cfg     Config
	spacing time.Duration
	clock   Clock
	logger  *slog.Logger
	metrics Recorder

	// admit serializes Acquire callers, so waiters are let through one at a time.
	admit sync.Mutex

	// mu guards the quota state. It is never held while sleeping.
	mu       sync.Mutex
	window   []time.Time
	dayCount int
	day      string
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics records time spent waiting for admission.
func WithMetrics(r Recorder) Option {
	return func(l *Limiter) { l.metrics = r }
}

// New creates a limiter for the given quotas.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive, got %d", cfg.RequestsPerMinute)
	}
	if cfg.RequestsPerDay <= 0 {
		return nil, fmt.Errorf("requests per day must be positive, got %d", cfg.RequestsPerDay)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	l := &Limiter{
		cfg:     cfg,
		spacing: Spacing(cfg.RequestsPerMinute),
		clock:   SystemClock,
		logger:  slog.Default(),
		window:  make([]time.Time, 0, cfg.RequestsPerMinute),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ratelimit")
	return l, nil
}

// Spacing is the minimum gap between two admitted requests, ceil(60000/rpm) ms.
func Spacing(requestsPerMinute int) time.Duration {
	ms := (60000 + requestsPerMinute - 1) / requestsPerMinute
	return time.Duration(ms) * time.Millisecond
}

// RetryDelay returns the configured base retry delay.
func (l *Limiter) RetryDelay() time.Duration {
	return l.cfg.RetryDelay
}

// Acquire blocks until a request may be sent and records it.
// It fails immediately with ErrDailyQuotaExceeded when the day's quota is
// spent, and returns ctx.Err() if ctx ends while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.admit.Lock()
	defer l.admit.Unlock()

	start := l.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, err := l.tryAdmit()
		if err != nil {
			return err
		}
		if wait == 0 {
			if l.metrics != nil {
				l.metrics.RecordTiming(metrics.OpLimiterWait, l.clock.Now().Sub(start))
			}
			return nil
		}

		l.logger.Debug("waiting for rate limit slot", "wait_ms", wait.Milliseconds())
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAdmit evaluates the quotas at the current time. It records the request
// and returns zero when admitted, otherwise it returns how long to wait.
func (l *Limiter) tryAdmit() (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.rollDay(now)
	l.prune(now)

	if l.dayCount >= l.cfg.RequestsPerDay {
		l.logger.Warn("daily quota exhausted", "day", l.day, "limit", l.cfg.RequestsPerDay)
		return 0, fmt.Errorf("%w: %d of %d requests used on %s",
			ErrDailyQuotaExceeded, l.dayCount, l.cfg.RequestsPerDay, l.day)
	}

	if len(l.window) >= l.cfg.RequestsPerMinute {
		return max(window-now.Sub(l.window[0]), minWindowWait), nil
	}

	if n := len(l.window); n > 0 {
		if since := now.Sub(l.window[n-1]); since < l.spacing {
			return l.spacing - since, nil
		}
	}

	l.window = append(l.window, now)
	l.dayCount++
	return 0, nil
}

// rollDay resets the day counter when the calendar date has changed.
// Caller must hold mu.
func (l *Limiter) rollDay(now time.Time) {
	key := l.dayKey(now)
	if key == l.day {
		return
	}
	if l.day != "" {
		l.logger.Info("daily quota reset", "previous_day", l.day, "day", key, "used", l.dayCount)
	}
	l.day = key
	l.dayCount = 0
}

// prune drops timestamps that left the minute window. Caller must hold mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

func (l *Limiter) dayKey(t time.Time) string {
	return t.In(l.cfg.Location).Format(time.DateOnly)
}

// Status reports current usage without mutating state or waiting for
// in-flight acquirers. It must not be used for admission decisions.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-window)

	var live []time.Time
	for _, t := range l.window {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}

	day, dayUsed := l.day, l.dayCount
	if key := l.dayKey(now); key != day {
		day, dayUsed = key, 0
	}

	var next time.Duration
	switch {
	case dayUsed >= l.cfg.RequestsPerDay:
		next = -1
	case len(live) >= l.cfg.RequestsPerMinute:
		next = max(window-now.Sub(live[0]), minWindowWait)
	case len(live) > 0:
		next = max(l.spacing-now.Sub(live[len(live)-1]), 0)
	}

	nextMs := next.Milliseconds()
	if next < 0 {
		nextMs = -1
	}

	return Status{
		MinuteUsed:  len(live),
		MinuteLimit: l.cfg.RequestsPerMinute,
		DayUsed:     dayUsed,
		DayLimit:    l.cfg.RequestsPerDay,
		Day:         day,
		SpacingMs:   l.spacing.Milliseconds(),
		NextSlotMs:  nextMs,
	}
}
