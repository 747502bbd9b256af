package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiwiwatt/kiwiwatt/pkg/lawnmower"
)

func mowerEnv(t *testing.T) (*testEnv, *fakeMower, *fakeMower) {
	t.Helper()
	env := newTestEnv(t, happyAPI(), nil)
	full := &fakeMower{id: "lawn_mower.front", features: lawnmower.FeatureAll, activity: lawnmower.ActivityDockedScheduleEnabled}
	basic := &fakeMower{id: "lawn_mower.back", features: lawnmower.FeatureStartMowing | lawnmower.FeatureDock, activity: lawnmower.ActivityMowing}
	env.mowers.Add(full)
	env.mowers.Add(basic)
	return env, full, basic
}

func TestListMowers(t *testing.T) {
	env, _, _ := mowerEnv(t)
	w := env.do(t, http.MethodGet, "/api/lawn_mower", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[[]mowerResponse](t, w)
	require.Len(t, res, 2)

	assert.Equal(t, "lawn_mower.back", res[0].EntityID)
	assert.Equal(t, "mowing", res[0].Activity)
	assert.Equal(t, []string{"start_mowing", "dock"}, res[0].Services)

	assert.Equal(t, "lawn_mower.front", res[1].EntityID)
	assert.True(t, res[1].Available)
	assert.Len(t, res[1].Services, 5)
}

func TestMowerService(t *testing.T) {
	env, full, basic := mowerEnv(t)

	w := env.do(t, http.MethodPost, "/api/services/lawn_mower/start_mowing", map[string]any{"entity_id": "lawn_mower.front"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"start_mowing"}, full.getCalls())

	w = env.do(t, http.MethodPost, "/api/services/lawn_mower/pause", map[string]any{"entity_id": "lawn_mower.back"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, basic.getCalls())

	w = env.do(t, http.MethodPost, "/api/services/lawn_mower/fly", map[string]any{"entity_id": "lawn_mower.front"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/services/lawn_mower/dock", map[string]any{"entity_id": "lawn_mower.side"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/services/lawn_mower/dock", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/services/lawn_mower/dock", map[string]any{"entity_id": []string{"lawn_mower.front", "lawn_mower.back"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"start_mowing", "dock"}, full.getCalls())
	assert.Equal(t, []string{"dock"}, basic.getCalls())
}

func TestReproduce(t *testing.T) {
	env, full, basic := mowerEnv(t)

	w := env.do(t, http.MethodPost, "/api/lawn_mower/reproduce", map[string]any{
		"states": []lawnmower.TargetState{
			{EntityID: "lawn_mower.front", State: "mowing"},
			{EntityID: "lawn_mower.back", State: "mowing"},
			{EntityID: "lawn_mower.missing", State: "docking"},
			{EntityID: "lawn_mower.front", State: "flying"},
		},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"start_mowing"}, full.getCalls())
	assert.Empty(t, basic.getCalls())

	w = env.do(t, http.MethodPost, "/api/lawn_mower/reproduce", map[string]any{
		"states": []lawnmower.TargetState{{EntityID: "lawn_mower.back", State: "paused"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
