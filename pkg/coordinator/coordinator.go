// Package coordinator shares one throttled, cached fetch of a remote
// resource between many readers.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/throttle"
)

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 60 * time.Second

// FetchFunc retrieves the latest value of a resource.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Schedule is how often a coordinator may fetch and how long one fetch may
// take. It is fixed for the coordinator's lifetime.
type Schedule struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Coordinator caches the last successful result of a FetchFunc. Scheduled
// updates are throttled to once per Schedule.Interval; Refresh always
// fetches. A failed fetch never clears a previously cached value.
type Coordinator[T any] struct {
	name     string
	fetch    FetchFunc[T]
	schedule Schedule
	throttle *throttle.Throttle
	now      func() time.Time
	group    singleflight.Group

	mu        sync.RWMutex
	data      T
	populated bool
	fetchedAt time.Time
	lastErr   error
}

// New creates a coordinator named name. A zero Timeout means DefaultTimeout.
func New[T any](name string, fetch FetchFunc[T], schedule Schedule) *Coordinator[T] {
	if schedule.Timeout <= 0 {
		schedule.Timeout = DefaultTimeout
	}
	return &Coordinator[T]{
		name:     name,
		fetch:    fetch,
		schedule: schedule,
		throttle: throttle.New(schedule.Interval),
		now:      time.Now,
	}
}

// WithClock replaces the clock. This is primarily used for testing.
func (c *Coordinator[T]) WithClock(now func() time.Time) *Coordinator[T] {
	c.now = now
	c.throttle.WithClock(now)
	return c
}

// Name returns the coordinator's name.
func (c *Coordinator[T]) Name() string {
	return c.name
}

// Schedule returns the fixed polling schedule.
func (c *Coordinator[T]) Schedule() Schedule {
	return c.schedule
}

// Get returns the cached value, or def if no fetch has succeeded yet.
func (c *Coordinator[T]) Get(def T) T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.populated {
		return def
	}
	return c.data
}

// Snapshot returns the cached value, when it was fetched and whether any
// fetch has succeeded yet.
func (c *Coordinator[T]) Snapshot() (T, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data, c.fetchedAt, c.populated
}

// LastError returns the error from the most recent fetch, or nil if it
// succeeded.
func (c *Coordinator[T]) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Update is the scheduled path. It fetches only if the interval has elapsed
// since the last scheduled fetch and reports whether a fetch happened.
// Errors are logged and the cached value is kept.
func (c *Coordinator[T]) Update(ctx context.Context) bool {
	return c.throttle.CallIfDue(ctx, func(ctx context.Context) {
		_ = c.fetchAndStore(ctx)
	})
}

// Refresh fetches now regardless of the schedule. Concurrent callers share
// one fetch. The error is returned to the caller but the cached value is
// still kept on failure.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		var err error
		c.throttle.ForceCall(ctx, func(ctx context.Context) {
			err = c.fetchAndStore(ctx)
		})
		return nil, err
	})
	return err
}

func (c *Coordinator[T]) fetchAndStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.schedule.Timeout)
	defer cancel()

	v, err := c.fetch(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		err = fmt.Errorf("%s fetch failed: %w", c.name, err)
		log.Ctx(ctx).ErrorContext(
			ctx,
			"error updating coordinator",
			slog.String("coordinator", c.name),
			slog.Any("error", err),
		)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.data = v
	c.populated = true
	c.fetchedAt = c.now()
	c.lastErr = nil
	c.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "coordinator updated", slog.String("coordinator", c.name))
	return nil
}
