// Package electrickiwi wires an Electric Kiwi config entry into a running
// set of coordinators and sensors, and implements the OAuth config flow that
// creates entries.
package electrickiwi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"

	"github.com/kiwiwatt/kiwiwatt/pkg/auth"
	"github.com/kiwiwatt/kiwiwatt/pkg/clocktime"
	"github.com/kiwiwatt/kiwiwatt/pkg/common"
	"github.com/kiwiwatt/kiwiwatt/pkg/coordinator"
	"github.com/kiwiwatt/kiwiwatt/pkg/kiwi"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/sensor"
	"github.com/kiwiwatt/kiwiwatt/pkg/storage"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

const (
	Domain = "electric_kiwi"
	Name   = "Electric Kiwi"
)

var (
	ErrAuthFailed = auth.ErrAuthFailed
	ErrNotReady   = auth.ErrNotReady
	ErrNotLoaded  = errors.New("config entry not loaded")
)

const (
	DefaultAccountInterval = 6 * time.Hour
	DefaultHOPInterval     = 20 * time.Minute
	DefaultScanInterval    = 30 * time.Second
	DefaultTimeZone        = "Pacific/Auckland"
)

// Options are the polling and API settings shared by every entry.
type Options struct {
	APIURL          string
	AccountInterval time.Duration
	HOPInterval     time.Duration
	FetchTimeout    time.Duration
	ScanInterval    time.Duration
	Location        *time.Location
}

func (o Options) withDefaults() Options {
	if o.APIURL == "" {
		o.APIURL = kiwi.DefaultBaseURL
	}
	if o.AccountInterval <= 0 {
		o.AccountInterval = DefaultAccountInterval
	}
	if o.HOPInterval <= 0 {
		o.HOPInterval = DefaultHOPInterval
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = coordinator.DefaultTimeout
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = DefaultScanInterval
	}
	if o.Location == nil {
		o.Location = clocktime.Auckland
	}
	return o
}

// EntryStore persists config entries.
type EntryStore interface {
	auth.TokenSaver
	Get(ctx context.Context, entryID string) (types.ConfigEntry, error)
	List(ctx context.Context, domain string) ([]types.ConfigEntry, error)
	Save(ctx context.Context, entry types.ConfigEntry) (types.ConfigEntry, error)
	SetState(ctx context.Context, entryID string, state types.EntryState) error
	Delete(ctx context.Context, entryID string) error
}

var _ EntryStore = (*storage.Entries)(nil)

// Publisher receives sensor states after every scan.
type Publisher interface {
	Enabled() bool
	PublishSensor(ctx context.Context, s sensor.Entity) error
}

// APIFactory builds the vendor client on top of an authorized http.Client.
type APIFactory func(baseURL string, client *http.Client) kiwi.API

func defaultAPIFactory(baseURL string, client *http.Client) kiwi.API {
	return kiwi.NewClient(baseURL, client)
}

// Integration owns every loaded Electric Kiwi entry. Loaded entries are
// tracked explicitly here and handed back from Setup.
type Integration struct {
	opts       Options
	oauth      *auth.Config
	entries    EntryStore
	publisher  Publisher
	httpClient *http.Client
	newAPI     APIFactory
	newID      func() string
	now        func() time.Time

	mu       sync.Mutex
	runtimes map[string]*Runtime

	// entryLocks serializes Load and Unload of the same entry so a runtime
	// is never replaced without being stopped.
	entryLocks map[string]*sync.Mutex
}

// Configured registers the polling flags and returns an Integration.
func Configured(oauth *auth.Config, entries EntryStore, publisher Publisher) *Integration {
	apiURL := lflag.String("ek-api-url", kiwi.DefaultBaseURL, "Electric Kiwi Juice Hacker API base URL")
	accountInterval := lflag.Duration("ek-account-interval", DefaultAccountInterval, "Minimum time between account balance fetches")
	hopInterval := lflag.Duration("ek-hop-interval", DefaultHOPInterval, "Minimum time between Hour of Power fetches")
	fetchTimeout := lflag.Duration("ek-fetch-timeout", coordinator.DefaultTimeout, "Timeout for a single API fetch")
	scanInterval := lflag.Duration("ek-scan-interval", DefaultScanInterval, "How often sensors are updated and published")
	timeZone := lflag.String("ek-time-zone", DefaultTimeZone, "Time zone the Hour of Power window is expressed in")

	i := New(Options{}, oauth, entries, publisher)
	lflag.Do(func() {
		loc, err := time.LoadLocation(*timeZone)
		if err != nil {
			panic(fmt.Sprintf("invalid ek-time-zone %q: %v", *timeZone, err))
		}
		i.opts = Options{
			APIURL:          *apiURL,
			AccountInterval: *accountInterval,
			HOPInterval:     *hopInterval,
			FetchTimeout:    *fetchTimeout,
			ScanInterval:    *scanInterval,
			Location:        loc,
		}.withDefaults()
	})
	return i
}

// New returns an Integration with explicit options.
func New(opts Options, oauth *auth.Config, entries EntryStore, publisher Publisher) *Integration {
	return &Integration{
		opts:       opts.withDefaults(),
		oauth:      oauth,
		entries:    entries,
		publisher:  publisher,
		httpClient: common.HTTPClient(2 * coordinator.DefaultTimeout),
		newAPI:     defaultAPIFactory,
		newID:      uuid.NewString,
		now:        time.Now,
		runtimes:   map[string]*Runtime{},
		entryLocks: map[string]*sync.Mutex{},
	}
}

// WithAPIFactory replaces how vendor clients are built. This is primarily
// used for testing.
func (i *Integration) WithAPIFactory(f APIFactory) *Integration {
	i.newAPI = f
	return i
}

// WithHTTPClient replaces the client used for token and API requests.
func (i *Integration) WithHTTPClient(c *http.Client) *Integration {
	i.httpClient = c
	return i
}

// WithClock replaces the clock. This is primarily used for testing.
func (i *Integration) WithClock(now func() time.Time) *Integration {
	i.now = now
	return i
}

// Options returns the effective options.
func (i *Integration) Options() Options {
	return i.opts
}

// Load sets up the entry, records the resulting state and starts polling.
// An already loaded entry is unloaded first.
func (i *Integration) Load(ctx context.Context, entryID string) (*Runtime, error) {
	ctx = log.WithEntry(ctx, entryID)
	unlock := i.lockEntry(entryID)
	defer unlock()

	entry, err := i.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if old := i.take(entryID); old != nil {
		old.Unload(ctx)
	}

	rt, err := i.Setup(ctx, entry)
	if err != nil {
		state := types.EntryStateSetupError
		switch {
		case errors.Is(err, ErrAuthFailed):
			state = types.EntryStateReauth
		case errors.Is(err, ErrNotReady):
			state = types.EntryStateSetupRetry
		}
		log.Ctx(ctx).WarnContext(ctx, "entry setup failed", slog.String("state", string(state)), slog.Any("error", err))
		if serr := i.entries.SetState(ctx, entryID, state); serr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to record entry state", slog.Any("error", serr))
		}
		return nil, err
	}

	if err := i.entries.SetState(ctx, entryID, types.EntryStateLoaded); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to record entry state", slog.Any("error", err))
	}
	rt.Start(i.publisher)

	i.mu.Lock()
	old := i.runtimes[entryID]
	i.runtimes[entryID] = rt
	i.mu.Unlock()
	if old != nil {
		old.Unload(ctx)
	}

	log.Ctx(ctx).InfoContext(ctx, "entry loaded",
		slog.String("customer", rt.Customer),
		slog.String("connection", rt.Connection),
	)
	return rt, nil
}

// LoadAll loads every stored entry. Failures are logged; entries that fail
// stay in their recorded state until loaded again.
func (i *Integration) LoadAll(ctx context.Context) error {
	entries, err := i.entries.List(ctx, Domain)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	for _, entry := range entries {
		if _, err := i.Load(ctx, entry.ID); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to load entry", slog.String("entryID", entry.ID), slog.Any("error", err))
		}
	}
	return nil
}

func (i *Integration) lockEntry(entryID string) func() {
	i.mu.Lock()
	l, ok := i.entryLocks[entryID]
	if !ok {
		l = &sync.Mutex{}
		i.entryLocks[entryID] = l
	}
	i.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (i *Integration) take(entryID string) *Runtime {
	i.mu.Lock()
	defer i.mu.Unlock()
	rt := i.runtimes[entryID]
	delete(i.runtimes, entryID)
	return rt
}

// Unload stops the entry's runtime and removes it from the loaded set.
func (i *Integration) Unload(ctx context.Context, entryID string) error {
	ctx = log.WithEntry(ctx, entryID)
	unlock := i.lockEntry(entryID)
	defer unlock()

	rt := i.take(entryID)
	if rt == nil {
		return fmt.Errorf("%w: %s", ErrNotLoaded, entryID)
	}
	rt.Unload(ctx)
	if err := i.entries.SetState(ctx, entryID, types.EntryStateNotLoaded); err != nil && !errors.Is(err, storage.ErrEntryNotFound) {
		log.Ctx(ctx).ErrorContext(ctx, "failed to record entry state", slog.Any("error", err))
	}
	log.Ctx(ctx).InfoContext(ctx, "entry unloaded")
	return nil
}

// Delete unloads the entry if needed and removes it from storage.
func (i *Integration) Delete(ctx context.Context, entryID string) error {
	if err := i.Unload(ctx, entryID); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}
	return i.entries.Delete(ctx, entryID)
}

// Entries lists the stored Electric Kiwi entries.
func (i *Integration) Entries(ctx context.Context) ([]types.ConfigEntry, error) {
	return i.entries.List(ctx, Domain)
}

// Runtime returns the runtime of a loaded entry.
func (i *Integration) Runtime(entryID string) (*Runtime, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	rt, ok := i.runtimes[entryID]
	return rt, ok
}

// Runtimes returns every loaded runtime ordered by entry id.
func (i *Integration) Runtimes() []*Runtime {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*Runtime, 0, len(i.runtimes))
	for _, id := range slices.Sorted(maps.Keys(i.runtimes)) {
		out = append(out, i.runtimes[id])
	}
	return out
}

// Shutdown stops every runtime without touching stored entry state.
func (i *Integration) Shutdown(ctx context.Context) {
	i.mu.Lock()
	rts := i.runtimes
	i.runtimes = map[string]*Runtime{}
	i.mu.Unlock()
	for _, rt := range rts {
		rt.Unload(ctx)
	}
}
