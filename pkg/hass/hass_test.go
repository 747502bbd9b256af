package hass

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiwiwatt/kiwiwatt/pkg/log"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type fakeSensor struct {
	objectID string
	state    string
	ok       bool
}

func (f fakeSensor) UniqueID() string { return "1_2_" + f.objectID }
func (f fakeSensor) ObjectID() string { return f.objectID }
func (f fakeSensor) Name() string { return f.objectID }
func (f fakeSensor) State(ctx context.Context) (string, bool) {
	return f.state, f.ok
}
func (f fakeSensor) Attributes() map[string]any {
	return map[string]any{"attribution": "test"}
}

func TestPublishSensor(t *testing.T) {
	var got []map[string]any
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body)
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", "secret", ts.Client())
	ctx := context.Background()
	require.NoError(t, c.PublishSensor(ctx, fakeSensor{objectID: "total_running_balance", state: "184.09", ok: true}))
	require.NoError(t, c.PublishSensor(ctx, fakeSensor{objectID: "next_billing_date"}))

	require.Len(t, got, 2)
	assert.Equal(t, []string{"/api/states/sensor.total_running_balance", "/api/states/sensor.next_billing_date"}, paths)
	assert.Equal(t, "184.09", got[0]["state"])
	assert.Equal(t, map[string]any{"attribution": "test"}, got[0]["attributes"])
	assert.Equal(t, StateUnavailable, got[1]["state"])
}

func TestGetState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/states/lawn_mower.front":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"entity_id": "lawn_mower.front", "state": "mowing", "attributes": {"friendly_name": "Front"}, "last_changed": "2023-12-27T15:28:26.287133+00:00", "last_updated": "2023-12-27T15:28:26.287133+00:00"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message": "Entity not found."}`))
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "secret", ts.Client())
	st, err := c.GetState(context.Background(), "lawn_mower.front")
	require.NoError(t, err)
	assert.Equal(t, "mowing", st.State)
	assert.Equal(t, "Front", st.Attributes["friendly_name"])
	assert.Equal(t, 2023, st.LastChanged.Year())

	_, err = c.GetState(context.Background(), "lawn_mower.missing")
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestCallService(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/services/lawn_mower/broken" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad service"))
			return
		}
		assert.Equal(t, "/api/services/lawn_mower/dock", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "lawn_mower.front", body["entity_id"])
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "secret", ts.Client())
	ctx := context.Background()
	require.NoError(t, c.CallService(ctx, "lawn_mower", "dock", map[string]any{"entity_id": "lawn_mower.front"}))

	err := c.CallService(ctx, "lawn_mower", "broken", nil)
	assert.ErrorContains(t, err, "unexpected status 400: bad service")
}

func TestDisabled(t *testing.T) {
	c := NewClient("", "", nil)
	assert.False(t, c.Enabled())
	assert.Error(t, c.CallService(context.Background(), "lawn_mower", "dock", nil))

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
}
