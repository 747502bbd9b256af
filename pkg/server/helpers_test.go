package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kiwiwatt/kiwiwatt/pkg/auth"
	"github.com/kiwiwatt/kiwiwatt/pkg/electrickiwi"
	"github.com/kiwiwatt/kiwiwatt/pkg/kiwi"
	"github.com/kiwiwatt/kiwiwatt/pkg/kiwi/kiwimock"
	"github.com/kiwiwatt/kiwiwatt/pkg/lawnmower"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/storage"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	srv     *Server
	kiwi    *electrickiwi.Integration
	entries *storage.Entries
	mowers  *lawnmower.Component
	oauth   *auth.Config
	handler http.Handler
}

func happyAPI() *kiwimock.MockAPI {
	m := &kiwimock.MockAPI{}
	m.On("GetActiveSession", mock.Anything).Return(kiwimock.FixtureSession, nil)
	m.On("GetAccountBalance", mock.Anything, "123456").Return(kiwimock.FixtureAccountBalance, nil)
	m.On("GetHOP", mock.Anything, "123456", "00000000DDA").Return(kiwimock.FixtureHOP, nil)
	m.On("GetHOPIntervals", mock.Anything).Return(kiwimock.FixtureHOPIntervals, nil)
	return m
}

func testOAuth(tokenURL string) *auth.Config {
	return &auth.Config{
		ClientID:     "1234",
		ClientSecret: "5678",
		AuthorizeURL: "https://welcome.electrickiwi.co.nz/oauth/authorize",
		TokenURL:     tokenURL,
		RedirectURL:  "https://example.com/auth/external/callback",
	}
}

// newTestEnv builds a server on a real SQLite store in a temp dir with auth
// bypassed. api is returned by every vendor client.
func newTestEnv(t *testing.T, api kiwi.API, oauth *auth.Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	db := storage.NewSQLite(t.TempDir() + "/kiwiwatt.db")
	require.NoError(t, db.Init(ctx))
	cipher, err := auth.NewTokenCipher(testEncryptionKey)
	require.NoError(t, err)
	entries := storage.NewEntries(db, cipher)

	if oauth == nil {
		oauth = testOAuth("http://127.0.0.1:0/oauth/token")
	}
	ek := electrickiwi.New(electrickiwi.Options{}, oauth, entries, nil).
		WithAPIFactory(func(string, *http.Client) kiwi.API { return api })
	mowers := lawnmower.NewComponent()

	t.Cleanup(func() {
		ek.Shutdown(context.Background())
		_ = entries.Close()
	})

	srv := &Server{
		kiwi:       ek,
		mowers:     mowers,
		bypassAuth: true,
		serverName: "kiwiwatt",
	}
	return &testEnv{
		srv:     srv,
		kiwi:    ek,
		entries: entries,
		mowers:  mowers,
		oauth:   oauth,
		handler: srv.setupHandler(),
	}
}

func (e *testEnv) seedEntry(t *testing.T, id string) {
	t.Helper()
	_, err := e.entries.Save(context.Background(), types.ConfigEntry{
		ID:       id,
		Domain:   electrickiwi.Domain,
		Title:    electrickiwi.Name,
		AuthImpl: electrickiwi.Domain,
		Token: types.Token{
			AccessToken:  "mock-access-token",
			RefreshToken: "mock-refresh-token",
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour),
			Scope:        slices.Clone(auth.Scopes),
		},
		State: types.EntryStateNotLoaded,
	})
	require.NoError(t, err)
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type fakeMower struct {
	id       string
	features lawnmower.Feature

	mu       sync.Mutex
	activity lawnmower.Activity
	calls    []string
}

var _ lawnmower.Entity = (*fakeMower)(nil)

func (f *fakeMower) EntityID() string                     { return f.id }
func (f *fakeMower) SupportedFeatures() lawnmower.Feature { return f.features }

func (f *fakeMower) Activity(ctx context.Context) (lawnmower.Activity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activity, f.activity != ""
}

func (f *fakeMower) record(svc string, next lawnmower.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, svc)
	f.activity = next
	return nil
}

func (f *fakeMower) StartMowing(ctx context.Context, data map[string]any) error {
	return f.record("start_mowing", lawnmower.ActivityMowing)
}

func (f *fakeMower) Pause(ctx context.Context, data map[string]any) error {
	return f.record("pause", lawnmower.ActivityPaused)
}

func (f *fakeMower) Dock(ctx context.Context, data map[string]any) error {
	return f.record("dock", lawnmower.ActivityDocking)
}

func (f *fakeMower) EnableSchedule(ctx context.Context, data map[string]any) error {
	return f.record("enable_schedule", lawnmower.ActivityDockedScheduleEnabled)
}

func (f *fakeMower) DisableSchedule(ctx context.Context, data map[string]any) error {
	return f.record("disable_schedule", lawnmower.ActivityDockedScheduleDisabled)
}

func (f *fakeMower) getCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}
