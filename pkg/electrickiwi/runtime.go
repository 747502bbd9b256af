package electrickiwi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kiwiwatt/kiwiwatt/pkg/auth"
	"github.com/kiwiwatt/kiwiwatt/pkg/coordinator"
	"github.com/kiwiwatt/kiwiwatt/pkg/kiwi"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/sensor"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

var ErrInvalidInterval = errors.New("unknown hour of power interval")

// Runtime is a loaded config entry: its session, coordinators and sensors.
type Runtime struct {
	EntryID    string
	Customer   string
	Connection string

	api          kiwi.API
	session      *auth.Session
	account      *coordinator.Coordinator[types.AccountBalance]
	hop          *coordinator.Coordinator[types.HOP]
	scanInterval time.Duration
	loc          *time.Location

	mu        sync.RWMutex
	intervals types.HOPIntervals

	accountSensors []*sensor.Sensor[types.AccountBalance]
	hopSensors     []*sensor.Sensor[types.HOP]

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// classifyAPIError maps an error from the vendor API during setup onto
// ErrAuthFailed or ErrNotReady.
func classifyAPIError(err error) error {
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrNotReady) {
		return err
	}
	var apiErr *kiwi.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrNotReady, err)
}

// Setup validates the entry's token and scopes, resolves the customer and
// connection and does the first fetch of each coordinator. The returned
// runtime is not polling yet, see Start.
func (i *Integration) Setup(ctx context.Context, entry types.ConfigEntry) (*Runtime, error) {
	ctx = log.WithEntry(ctx, entry.ID)

	session := auth.NewSession(i.oauth, entry.ID, entry.Token, i.entries, i.httpClient)
	if err := session.EnsureTokenValid(ctx); err != nil {
		return nil, err
	}
	if !session.HasScopes() {
		return nil, fmt.Errorf("%w: required scopes are not available, reauth required", ErrAuthFailed)
	}

	// the client outlives this call so it must not inherit its cancellation
	api := i.newAPI(i.opts.APIURL, session.Client(context.WithoutCancel(ctx)))

	active, err := api.GetActiveSession(ctx)
	if err != nil {
		return nil, classifyAPIError(err)
	}
	svc, ok := active.ElectricityService()
	if !ok {
		return nil, fmt.Errorf("%w: customer %d has no power connection", ErrNotReady, active.CustomerNumber)
	}

	rt := &Runtime{
		EntryID:      entry.ID,
		Customer:     active.CustomerNumberString(),
		Connection:   svc.Identifier,
		api:          api,
		session:      session,
		scanInterval: i.opts.ScanInterval,
		loc:          i.opts.Location,
	}
	rt.account = coordinator.New[types.AccountBalance](
		"account",
		func(ctx context.Context) (types.AccountBalance, error) {
			return api.GetAccountBalance(ctx, rt.Customer)
		},
		coordinator.Schedule{Interval: i.opts.AccountInterval, Timeout: i.opts.FetchTimeout},
	).WithClock(i.now)
	rt.hop = coordinator.New[types.HOP](
		"hop",
		func(ctx context.Context) (types.HOP, error) {
			return api.GetHOP(ctx, rt.Customer, rt.Connection)
		},
		coordinator.Schedule{Interval: i.opts.HOPInterval, Timeout: i.opts.FetchTimeout},
	).WithClock(i.now)

	// the first fetch counts as the first scheduled update
	rt.account.Update(ctx)
	if _, _, ok := rt.account.Snapshot(); !ok {
		return nil, classifyAPIError(rt.account.LastError())
	}
	rt.hop.Update(ctx)
	if _, _, ok := rt.hop.Snapshot(); !ok {
		return nil, classifyAPIError(rt.hop.LastError())
	}

	if intervals, err := api.GetHOPIntervals(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch hop intervals", slog.Any("error", err))
	} else {
		rt.intervals = intervals
	}

	now := func() time.Time {
		return i.now().In(rt.loc)
	}
	rt.accountSensors = sensor.Build(sensor.AccountDescriptions, rt.account, rt.Customer, rt.Connection, now)
	rt.hopSensors = sensor.Build(sensor.HOPDescriptions, rt.hop, rt.Customer, rt.Connection, now)
	return rt, nil
}

// Sensors returns every sensor of the entry.
func (r *Runtime) Sensors() []sensor.Entity {
	out := make([]sensor.Entity, 0, len(r.accountSensors)+len(r.hopSensors))
	for _, s := range r.accountSensors {
		out = append(out, s)
	}
	for _, s := range r.hopSensors {
		out = append(out, s)
	}
	return out
}

// Account returns the account balance coordinator.
func (r *Runtime) Account() *coordinator.Coordinator[types.AccountBalance] {
	return r.account
}

// HOP returns the Hour of Power coordinator.
func (r *Runtime) HOP() *coordinator.Coordinator[types.HOP] {
	return r.hop
}

// Intervals returns the selectable Hour of Power windows fetched at setup.
func (r *Runtime) Intervals() types.HOPIntervals {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.intervals
}

// Update runs the scheduled update of both coordinators. Each is throttled
// to its own interval.
func (r *Runtime) Update(ctx context.Context) {
	r.account.Update(ctx)
	r.hop.Update(ctx)
}

// Refresh forces both coordinators to fetch now.
func (r *Runtime) Refresh(ctx context.Context) error {
	return errors.Join(r.account.Refresh(ctx), r.hop.Refresh(ctx))
}

// SetHOP selects a new Hour of Power interval and refreshes the HOP
// coordinator.
func (r *Runtime) SetHOP(ctx context.Context, interval string) (types.HOP, error) {
	intervals := r.Intervals()
	if len(intervals.Intervals) > 0 {
		if _, ok := intervals.Intervals[interval]; !ok {
			return types.HOP{}, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
		}
	}
	h, err := r.api.SetHOP(ctx, r.Customer, r.Connection, interval)
	if err != nil {
		return types.HOP{}, err
	}
	if err := r.hop.Refresh(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to refresh hop after update", slog.Any("error", err))
	}
	return h, nil
}

// Publish sends every sensor to p.
func (r *Runtime) Publish(ctx context.Context, p Publisher) {
	if p == nil || !p.Enabled() {
		return
	}
	for _, s := range r.Sensors() {
		if err := p.PublishSensor(ctx, s); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish sensor",
				slog.String("sensor", s.UniqueID()),
				slog.Any("error", err),
			)
		}
	}
}

// Start begins polling and publishing every scan interval until Unload.
func (r *Runtime) Start(p Publisher) {
	ctx, cancel := context.WithCancel(log.WithEntry(context.Background(), r.EntryID))
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, p)
}

func (r *Runtime) run(ctx context.Context, p Publisher) {
	defer close(r.done)
	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()

	r.Publish(ctx, p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Update(ctx)
			r.Publish(ctx, p)
		}
	}
}

// Unload stops polling and waits for the poll loop to exit or ctx to end.
func (r *Runtime) Unload(ctx context.Context) {
	r.stopOnce.Do(func() {
		if r.cancel == nil {
			return
		}
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
		}
	})
}
