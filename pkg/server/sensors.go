package server

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/kiwiwatt/kiwiwatt/pkg/electrickiwi"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

type sensorResponse struct {
	EntryID    string         `json:"entryID"`
	UniqueID   string         `json:"uniqueID"`
	EntityID   string         `json:"entityID"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes"`
}

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := []sensorResponse{}
	for _, rt := range s.kiwi.Runtimes() {
		for _, sensor := range rt.Sensors() {
			state, ok := sensor.State(ctx)
			if !ok {
				state = "unavailable"
			}
			res = append(res, sensorResponse{
				EntryID:    rt.EntryID,
				UniqueID:   sensor.UniqueID(),
				EntityID:   "sensor." + sensor.ObjectID(),
				Name:       sensor.Name(),
				State:      state,
				Available:  ok,
				Attributes: sensor.Attributes(),
			})
		}
	}
	writeJSON(w, res)
}

// runtimeFor picks the runtime named by entryID, or the only loaded one when
// entryID is empty.
func (s *Server) runtimeFor(entryID string) (*electrickiwi.Runtime, error) {
	if entryID != "" {
		rt, ok := s.kiwi.Runtime(entryID)
		if !ok {
			return nil, electrickiwi.ErrNotLoaded
		}
		return rt, nil
	}
	rts := s.kiwi.Runtimes()
	if len(rts) != 1 {
		return nil, electrickiwi.ErrNotLoaded
	}
	return rts[0], nil
}

type refreshResponse struct {
	Refreshed []string          `json:"refreshed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rts := s.kiwi.Runtimes()
	if id := r.URL.Query().Get("entryID"); id != "" {
		rt, err := s.runtimeFor(id)
		if err != nil {
			writeEntryError(w, r, err)
			return
		}
		rts = []*electrickiwi.Runtime{rt}
	}

	res := refreshResponse{Refreshed: []string{}}
	for _, rt := range rts {
		if err := rt.Refresh(ctx); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "refresh failed", slog.String("entryID", rt.EntryID), slog.Any("error", err))
			if res.Errors == nil {
				res.Errors = map[string]string{}
			}
			res.Errors[rt.EntryID] = err.Error()
			continue
		}
		res.Refreshed = append(res.Refreshed, rt.EntryID)
	}
	code := http.StatusOK
	if len(res.Errors) > 0 {
		code = http.StatusBadGateway
	}
	writeJSONStatus(w, code, res)
}

type hopIntervalResponse struct {
	ID        string `json:"id"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Active    bool   `json:"active"`
	Selected  bool   `json:"selected"`
}

func (s *Server) handleHOPIntervals(w http.ResponseWriter, r *http.Request) {
	rt, err := s.runtimeFor(r.URL.Query().Get("entryID"))
	if err != nil {
		writeEntryError(w, r, err)
		return
	}
	current := rt.HOP().Get(types.HOP{})
	intervals := rt.Intervals()
	res := make([]hopIntervalResponse, 0, len(intervals.Intervals))
	for id, interval := range intervals.Intervals {
		res = append(res, hopIntervalResponse{
			ID:        id,
			StartTime: interval.StartTime,
			EndTime:   interval.EndTime,
			Active:    interval.Active == 1,
			Selected:  id == current.Start.Interval,
		})
	}
	// interval ids are numeric strings
	slices.SortFunc(res, func(a, b hopIntervalResponse) int {
		if len(a.ID) != len(b.ID) {
			return len(a.ID) - len(b.ID)
		}
		return strings.Compare(a.ID, b.ID)
	})
	writeJSON(w, res)
}

func (s *Server) handleSetHOP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntryID  string `json:"entryID"`
		Interval string `json:"interval"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Interval == "" {
		writeJSONError(w, "interval is required", http.StatusBadRequest)
		return
	}
	rt, err := s.runtimeFor(req.EntryID)
	if err != nil {
		writeEntryError(w, r, err)
		return
	}
	hop, err := rt.SetHOP(r.Context(), req.Interval)
	if err != nil {
		if errors.Is(err, electrickiwi.ErrInvalidInterval) {
			writeJSONError(w, "unknown interval", http.StatusBadRequest)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to set hop", slog.Any("error", err))
		writeJSONError(w, "failed to set hour of power", http.StatusBadGateway)
		return
	}
	writeJSON(w, hop)
}
