// Package throttle limits how often a function body runs.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Throttle runs a function at most once per interval. Calls that arrive
// while the interval has not elapsed, or while another throttled call is in
// flight, return immediately without running.
type Throttle struct {
	interval time.Duration
	now      func() time.Time

	// running is held for the duration of a call
	running sync.Mutex

	mu      sync.Mutex
	lastRun time.Time
}

// New returns a Throttle with the given interval.
func New(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		now:      time.Now,
	}
}

// WithClock replaces the clock used to measure the interval. This is
// primarily used for testing.
func (t *Throttle) WithClock(now func() time.Time) *Throttle {
	t.now = now
	return t
}

// Interval returns the configured interval.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// LastRun returns when the last throttled call started, or the zero time.
func (t *Throttle) LastRun() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun
}

// Due reports whether a call made now would run.
func (t *Throttle) Due() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dueLocked(t.now())
}

func (t *Throttle) dueLocked(now time.Time) bool {
	return t.lastRun.IsZero() || now.Sub(t.lastRun) >= t.interval
}

// CallIfDue runs fn if the interval has elapsed since the last throttled call
// and no other call is in flight. It reports whether fn ran.
func (t *Throttle) CallIfDue(ctx context.Context, fn func(context.Context)) bool {
	if !t.running.TryLock() {
		return false
	}
	defer t.running.Unlock()

	start := t.now()
	t.mu.Lock()
	if !t.dueLocked(start) {
		t.mu.Unlock()
		return false
	}
	t.lastRun = start
	t.mu.Unlock()

	fn(ctx)
	return true
}

// ForceCall runs fn regardless of the interval, waiting for any in-flight
// call to finish first. It does not move the schedule.
func (t *Throttle) ForceCall(ctx context.Context, fn func(context.Context)) {
	t.running.Lock()
	defer t.running.Unlock()
	fn(ctx)
}
