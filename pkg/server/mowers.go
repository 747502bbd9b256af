package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiwiwatt/kiwiwatt/pkg/lawnmower"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
)

type mowerResponse struct {
	EntityID          string   `json:"entityID"`
	Activity          string   `json:"activity,omitempty"`
	Available         bool     `json:"available"`
	SupportedFeatures int      `json:"supportedFeatures"`
	Services          []string `json:"services"`
}

func (s *Server) handleListMowers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := []mowerResponse{}
	for _, id := range s.mowers.EntityIDs() {
		e, ok := s.mowers.Entity(id)
		if !ok {
			continue
		}
		features := e.SupportedFeatures()
		m := mowerResponse{
			EntityID:          id,
			SupportedFeatures: int(features),
			Services:          []string{},
		}
		if a, ok := e.Activity(ctx); ok {
			m.Activity = string(a)
			m.Available = true
		}
		for _, svc := range lawnmower.Services {
			if features.Has(svc.Feature()) {
				m.Services = append(m.Services, string(svc))
			}
		}
		res = append(res, m)
	}
	writeJSON(w, res)
}

func writeMowerError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, lawnmower.ErrUnknownService):
		writeJSONError(w, "unknown service", http.StatusNotFound)
	case errors.Is(err, lawnmower.ErrEntityNotFound):
		writeJSONError(w, "entity not found", http.StatusNotFound)
	case errors.Is(err, lawnmower.ErrNotSupported):
		writeJSONError(w, "service not supported by entity", http.StatusBadRequest)
	case errors.Is(err, lawnmower.ErrMissingTarget):
		writeJSONError(w, "entity_id is required", http.StatusBadRequest)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "lawn mower service failed", slog.Any("error", err))
		writeJSONError(w, "service call failed", http.StatusBadGateway)
	}
}

func (s *Server) handleMowerService(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{}
	if !decodeJSON(w, r, &data) {
		return
	}
	service := r.PathValue("service")
	if err := s.mowers.CallService(r.Context(), lawnmower.Domain, service, data); err != nil {
		writeMowerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReproduce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		States []lawnmower.TargetState `json:"states"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := lawnmower.ReproduceStates(r.Context(), s.mowers, req.States); err != nil {
		writeMowerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
