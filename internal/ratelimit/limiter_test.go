package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when Sleep is called or Advance is used.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

var start = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, rpm, rpd int, clock *fakeClock) *Limiter {
	t.Helper()
	l, err := New(Config{
		RequestsPerMinute: rpm,
		RequestsPerDay:    rpd,
		Location:          time.UTC,
	}, WithClock(clock))
	require.NoError(t, err)
	return l
}

func TestSpacing(t *testing.T) {
	tests := []struct {
		rpm  int
		want time.Duration
	}{
		{1, 60 * time.Second},
		{4, 15 * time.Second},
		{7, 8572 * time.Millisecond},
		{15, 4 * time.Second},
		{60000, time.Millisecond},
		{100000, time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Spacing(tt.rpm), "rpm=%d", tt.rpm)
	}
}

func TestNewRejectsInvalidQuotas(t *testing.T) {
	_, err := New(Config{RequestsPerMinute: 0, RequestsPerDay: 10})
	assert.Error(t, err)

	_, err = New(Config{RequestsPerMinute: 10, RequestsPerDay: -1})
	assert.Error(t, err)
}

func TestAcquireSpacesRequestsEvenly(t *testing.T) {
	for _, rpm := range []int{4, 7, 15} {
		clock := newFakeClock(start)
		l := newTestLimiter(t, rpm, 1000, clock)
		ctx := context.Background()

		var admitted []time.Time
		for i := 0; i < 3*rpm; i++ {
			require.NoError(t, l.Acquire(ctx))
			admitted = append(admitted, clock.Now())
		}

		spacing := Spacing(rpm)
		for i := 1; i < len(admitted); i++ {
			gap := admitted[i].Sub(admitted[i-1])
			assert.GreaterOrEqual(t, gap, spacing, "rpm=%d request %d", rpm, i)
		}
	}
}

func TestAcquireFirstRequestDoesNotWait(t *testing.T) {
	clock := newFakeClock(start)
	l := newTestLimiter(t, 10, 100, clock)

	require.NoError(t, l.Acquire(context.Background()))
	assert.Empty(t, clock.Sleeps())
}

func TestAcquireWaitsForMinuteWindow(t *testing.T) {
	clock := newFakeClock(start)
	l := newTestLimiter(t, 2, 100, clock)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx)) // t=0
	require.NoError(t, l.Acquire(ctx)) // t=30s after spacing wait
	assert.Equal(t, []time.Duration{30 * time.Second}, clock.Sleeps())

	// Window is full; the oldest request leaves it 0.5s later, but the
	// limiter never sleeps less than a second.
	clock.Advance(29*time.Second + 500*time.Millisecond)
	require.NoError(t, l.Acquire(ctx))

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 2)
	assert.Equal(t, time.Second, sleeps[1])
	assert.Equal(t, start.Add(60*time.Second+500*time.Millisecond), clock.Now())
}

func TestAcquireNeverExceedsMinuteQuota(t *testing.T) {
	clock := newFakeClock(start)
	l := newTestLimiter(t, 5, 1000, clock)
	ctx := context.Background()

	var admitted []time.Time
	for i := 0; i < 23; i++ {
		require.NoError(t, l.Acquire(ctx))
		admitted = append(admitted, clock.Now())
	}

	for i := range admitted {
		inWindow := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < time.Minute; j++ {
			inWindow++
		}
		assert.LessOrEqual(t, inWindow, 5, "window starting at request %d", i)
	}
}

func TestAcquireDailyQuotaFailsWithoutWaiting(t *testing.T) {
	clock := newFakeClock(start)
	l := newTestLimiter(t, 60000, 3, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	before := len(clock.Sleeps())
	now := clock.Now()

	err := l.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDailyQuotaExceeded))
	assert.Len(t, clock.Sleeps(), before, "daily quota must not suspend")
	assert.Equal(t, now, clock.Now())

	// Still exhausted on retry the same day.
	clock.Advance(2 * time.Hour)
	assert.ErrorIs(t, l.Acquire(ctx), ErrDailyQuotaExceeded)
	assert.Equal(t, 3, l.Status().DayUsed)
}

func TestAcquireResetsOnNewCalendarDay(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC))
	l := newTestLimiter(t, 60000, 2, clock)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	require.ErrorIs(t, l.Acquire(ctx), ErrDailyQuotaExceeded)

	clock.Advance(2 * time.Minute)
	require.NoError(t, l.Acquire(ctx))

	status := l.Status()
	assert.Equal(t, "2026-03-11", status.Day)
	assert.Equal(t, 1, status.DayUsed)

	// A long-running process resets on the first acquire after any date change.
	require.NoError(t, l.Acquire(ctx))
	require.ErrorIs(t, l.Acquire(ctx), ErrDailyQuotaExceeded)
	clock.Advance(72 * time.Hour)
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 1, l.Status().DayUsed)
}

func TestAcquireDayBoundaryFollowsLocation(t *testing.T) {
	tz := time.FixedZone("UTC+2", 2*60*60)
	clock := newFakeClock(time.Date(2026, 3, 10, 21, 30, 0, 0, time.UTC)) // 23:30 local
	l, err := New(Config{RequestsPerMinute: 60000, RequestsPerDay: 1, Location: tz}, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.ErrorIs(t, l.Acquire(ctx), ErrDailyQuotaExceeded)

	clock.Advance(31 * time.Minute) // 00:01 local, still the 10th in UTC
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, "2026-03-11", l.Status().Day)
}

func TestAcquireHonorsCancellation(t *testing.T) {
	clock := newFakeClock(start)
	l := newTestLimiter(t, 1, 10, clock)

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, l.Status().DayUsed, "cancelled acquire records nothing")
}

func TestAcquireConcurrentCallersAreSerialized(t *testing.T) {
	clock := newFakeClock(start)
	l := newTestLimiter(t, 100, 1000, clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(ctx))
		}()
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.window, 20)
	assert.Equal(t, 20, l.dayCount)
	for i := 1; i < len(l.window); i++ {
		assert.GreaterOrEqual(t, l.window[i].Sub(l.window[i-1]), Spacing(100))
	}
}

func TestStatusIsReadOnly(t *testing.T) {
	clock := newFakeClock(start)
	l := newTestLimiter(t, 2, 5, clock)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	status := l.Status()
	assert.Equal(t, Status{
		MinuteUsed:  2,
		MinuteLimit: 2,
		DayUsed:     2,
		DayLimit:    5,
		Day:         "2026-03-10",
		SpacingMs:   30000,
		NextSlotMs:  30000,
	}, status)

	clock.Advance(2 * time.Minute)
	status = l.Status()
	assert.Equal(t, 0, status.MinuteUsed)
	assert.Equal(t, int64(0), status.NextSlotMs)

	l.mu.Lock()
	assert.Len(t, l.window, 2, "status must not prune")
	l.mu.Unlock()
}
