package lawnmower

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/levenlabs/go-lflag"

	"github.com/kiwiwatt/kiwiwatt/pkg/hass"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
)

// RemoteEntity is a lawn mower living in Home Assistant. Services are
// forwarded over the REST API and the activity is read from its state.
type RemoteEntity struct {
	id       string
	features Feature
	client   *hass.Client
}

// NewRemoteEntity returns an entity for the Home Assistant entity id.
func NewRemoteEntity(id string, features Feature, client *hass.Client) *RemoteEntity {
	return &RemoteEntity{id: id, features: features, client: client}
}

var _ Entity = (*RemoteEntity)(nil)

func (r *RemoteEntity) EntityID() string {
	return r.id
}

func (r *RemoteEntity) SupportedFeatures() Feature {
	return r.features
}

var _ Resolver = (*RemoteEntity)(nil)

// Resolve reads the current state. An entity Home Assistant no longer knows
// about returns an error wrapping ErrEntityNotFound.
func (r *RemoteEntity) Resolve(ctx context.Context) (Activity, bool, error) {
	st, err := r.client.GetState(ctx, r.id)
	if errors.Is(err, hass.ErrEntityNotFound) {
		return "", false, fmt.Errorf("%w: %w", ErrEntityNotFound, err)
	} else if err != nil {
		return "", false, err
	}
	a, ok := ParseActivity(st.State)
	return a, ok, nil
}

// Activity reads the current state. Unknown states such as "unavailable"
// report ok=false.
func (r *RemoteEntity) Activity(ctx context.Context) (Activity, bool) {
	a, ok, err := r.Resolve(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read lawn mower state", slog.Any("error", err))
		return "", false
	}
	return a, ok
}

func (r *RemoteEntity) forward(ctx context.Context, svc Service, data map[string]any) error {
	payload := make(map[string]any, len(data)+1)
	maps.Copy(payload, data)
	payload["entity_id"] = r.id
	return r.client.CallService(ctx, Domain, string(svc), payload)
}

func (r *RemoteEntity) StartMowing(ctx context.Context, data map[string]any) error {
	return r.forward(ctx, ServiceStartMowing, data)
}

// Pause and Dock take no extra data.
func (r *RemoteEntity) Pause(ctx context.Context, _ map[string]any) error {
	return r.forward(ctx, ServicePause, nil)
}

func (r *RemoteEntity) Dock(ctx context.Context, _ map[string]any) error {
	return r.forward(ctx, ServiceDock, nil)
}

func (r *RemoteEntity) EnableSchedule(ctx context.Context, data map[string]any) error {
	return r.forward(ctx, ServiceEnableSchedule, data)
}

func (r *RemoteEntity) DisableSchedule(ctx context.Context, data map[string]any) error {
	return r.forward(ctx, ServiceDisableSchedule, data)
}

// Configured registers the lawn mower flags and returns a component holding
// a RemoteEntity for each configured entity id.
func Configured(client *hass.Client) *Component {
	entities := lflag.String("lawn-mower-entities", "", "comma-delimited list of Home Assistant lawn_mower entity ids to expose")

	c := NewComponent()
	lflag.Do(func() {
		if *entities == "" {
			return
		}
		for _, id := range strings.Split(*entities, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if !strings.HasPrefix(id, Domain+".") {
				id = Domain + "." + id
			}
			c.Add(NewRemoteEntity(id, FeatureAll, client))
		}
	})
	return c
}
