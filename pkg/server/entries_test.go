package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kiwiwatt/kiwiwatt/pkg/auth"
	"github.com/kiwiwatt/kiwiwatt/pkg/kiwi/kiwimock"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

func TestListEntries(t *testing.T) {
	env := newTestEnv(t, happyAPI(), nil)
	env.seedEntry(t, "e1")

	w := env.do(t, http.MethodGet, "/api/entries", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[[]entryResponse](t, w)
	require.Len(t, res, 1)
	assert.Equal(t, "e1", res[0].ID)
	assert.False(t, res[0].Loaded)
	assert.Equal(t, types.EntryStateNotLoaded, res[0].State)
	assert.NotContains(t, w.Body.String(), "mock-access-token")

	require.NoError(t, env.kiwi.LoadAll(context.Background()))
	w = env.do(t, http.MethodGet, "/api/entries", nil)
	res = decodeBody[[]entryResponse](t, w)
	require.Len(t, res, 1)
	assert.True(t, res[0].Loaded)
	assert.Equal(t, types.EntryStateLoaded, res[0].State)
	assert.Equal(t, "123456", res[0].Customer)
	assert.Equal(t, "00000000DDA", res[0].Connection)
}

func TestReloadEntry(t *testing.T) {
	env := newTestEnv(t, happyAPI(), nil)
	env.seedEntry(t, "e1")

	w := env.do(t, http.MethodPost, "/api/entries/e1/reload", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[entryResponse](t, w)
	assert.True(t, res.Loaded)
	assert.Equal(t, types.EntryStateLoaded, res.State)

	w = env.do(t, http.MethodPost, "/api/entries/nope/reload", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReloadEntryNotReady(t *testing.T) {
	api := &kiwimock.MockAPI{}
	api.On("GetActiveSession", mock.Anything).Return(types.Session{}, assert.AnError)
	env := newTestEnv(t, api, nil)
	env.seedEntry(t, "e1")

	w := env.do(t, http.MethodPost, "/api/entries/e1/reload", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	entry, err := env.entries.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, types.EntryStateSetupRetry, entry.State)
}

func TestDeleteEntry(t *testing.T) {
	env := newTestEnv(t, happyAPI(), nil)
	env.seedEntry(t, "e1")
	require.NoError(t, env.kiwi.LoadAll(context.Background()))

	w := env.do(t, http.MethodDelete, "/api/entries/e1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, ok := env.kiwi.Runtime("e1")
	assert.False(t, ok)

	w = env.do(t, http.MethodDelete, "/api/entries/e1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthorize(t *testing.T) {
	env := newTestEnv(t, happyAPI(), nil)

	w := env.do(t, http.MethodPost, "/api/entries/authorize", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[urlResponse](t, w)
	u, err := url.Parse(res.URL)
	require.NoError(t, err)
	assert.Equal(t, "1234", u.Query().Get("client_id"))
	assert.NotEmpty(t, u.Query().Get("state"))

	env.seedEntry(t, "e1")
	w = env.do(t, http.MethodPost, "/api/entries/authorize", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"single_instance_allowed"}`, w.Body.String())
}

func TestAuthorizeMissingCredentials(t *testing.T) {
	env := newTestEnv(t, happyAPI(), &auth.Config{
		AuthorizeURL: "https://welcome.electrickiwi.co.nz/oauth/authorize",
		TokenURL:     "https://welcome.electrickiwi.co.nz/oauth/token",
	})
	w := env.do(t, http.MethodPost, "/api/entries/authorize", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"missing_credentials"}`, w.Body.String())
}

func TestReauthEntry(t *testing.T) {
	env := newTestEnv(t, happyAPI(), nil)
	env.seedEntry(t, "e1")

	w := env.do(t, http.MethodPost, "/api/entries/e1/reauth", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[urlResponse](t, w)
	u, err := url.Parse(res.URL)
	require.NoError(t, err)

	state, err := env.oauth.DecodeState(u.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "e1", state.EntryID)

	w = env.do(t, http.MethodPost, "/api/entries/nope/reauth", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImport(t *testing.T) {
	env := newTestEnv(t, happyAPI(), nil)

	w := env.do(t, http.MethodPost, "/api/entries/import", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/entries/import", map[string]any{
		"access_token":  "imported-token",
		"refresh_token": "r",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "read_connection_detail read_billing_frequency read_account_running_balance read_consumption_summary read_consumption_averages read_hop_intervals_config read_hop_connection save_hop_connection read_session",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decodeBody[entryResponse](t, w)
	assert.True(t, res.Loaded)
	assert.Equal(t, "123456", res.Customer)

	entry, err := env.entries.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "imported-token", entry.Token.AccessToken)
	assert.Equal(t, auth.Scopes, entry.Token.Scope)

	w = env.do(t, http.MethodPost, "/api/entries/import", map[string]any{"access_token": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCallback(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "abcd" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Write([]byte(`{"access_token":"mock-access-token","token_type":"bearer","refresh_token":"mock-refresh-token","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	env := newTestEnv(t, happyAPI(), testOAuth(tokenSrv.URL+"/oauth/token"))
	env.kiwi.WithHTTPClient(tokenSrv.Client())

	t.Run("Provider Error", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/auth/external/callback?error=access_denied", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "access_denied")
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	})

	t.Run("Missing Code", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/auth/external/callback?state=x", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Bad State", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/auth/external/callback?code=abcd&state=forged", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Success", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/entries/authorize", nil)
		require.Equal(t, http.StatusOK, w.Code)
		u, err := url.Parse(decodeBody[urlResponse](t, w).URL)
		require.NoError(t, err)

		q := url.Values{"code": {"abcd"}, "state": {u.Query().Get("state")}}
		w = env.do(t, http.MethodGet, "/auth/external/callback?"+q.Encode(), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "connected")

		entries, err := env.kiwi.Entries(context.Background())
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, types.EntryStateLoaded, entries[0].State)
		assert.Equal(t, "mock-access-token", entries[0].Token.AccessToken)
	})

	t.Run("Single Instance", func(t *testing.T) {
		state, err := env.oauth.EncodeState(auth.State{FlowID: "flow"}, time.Now())
		require.NoError(t, err)
		q := url.Values{"code": {"abcd"}, "state": {state}}
		w := env.do(t, http.MethodGet, "/auth/external/callback?"+q.Encode(), nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
