package lawnmower

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/kiwiwatt/kiwiwatt/pkg/log"
)

var (
	ErrUnknownService = errors.New("unknown lawn mower service")
	ErrEntityNotFound = errors.New("lawn mower entity not found")
	ErrNotSupported   = errors.New("service not supported by entity")
	ErrMissingTarget  = errors.New("service call has no entity_id")
)

// Entity is a controllable lawn mower. data carries the optional free-form
// service data, without entity_id.
type Entity interface {
	EntityID() string
	Activity(ctx context.Context) (Activity, bool)
	SupportedFeatures() Feature

	StartMowing(ctx context.Context, data map[string]any) error
	Pause(ctx context.Context, data map[string]any) error
	Dock(ctx context.Context, data map[string]any) error
	EnableSchedule(ctx context.Context, data map[string]any) error
	DisableSchedule(ctx context.Context, data map[string]any) error
}

// Resolver is implemented by entities backed by a device that can go away.
// Resolve returns an error wrapping ErrEntityNotFound once it has.
type Resolver interface {
	Resolve(ctx context.Context) (Activity, bool, error)
}

// Component holds the registered lawn mower entities and dispatches service
// calls to them.
type Component struct {
	mu       sync.RWMutex
	entities map[string]Entity
}

// NewComponent returns an empty component.
func NewComponent() *Component {
	return &Component{entities: map[string]Entity{}}
}

var _ Host = (*Component)(nil)

// Add registers e, replacing any entity with the same id.
func (c *Component) Add(e Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[e.EntityID()] = e
}

// Remove unregisters an entity.
func (c *Component) Remove(entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entities, entityID)
}

// Entity returns a registered entity.
func (c *Component) Entity(entityID string) (Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[entityID]
	return e, ok
}

// EntityIDs returns the registered entity ids in sorted order.
func (c *Component) EntityIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.entities))
}

// CurrentState returns the entity's activity as a string. ok is false when
// the entity is not registered or its device no longer exists.
func (c *Component) CurrentState(ctx context.Context, entityID string) (string, bool) {
	e, ok := c.Entity(entityID)
	if !ok {
		return "", false
	}
	if r, isResolver := e.(Resolver); isResolver {
		a, ok, err := r.Resolve(ctx)
		switch {
		case errors.Is(err, ErrEntityNotFound):
			return "", false
		case err != nil:
			log.Ctx(ctx).WarnContext(ctx, "failed to read lawn mower state", slog.String("entityID", entityID), slog.Any("error", err))
			return "", true
		case !ok:
			return "", true
		}
		return string(a), true
	}
	a, ok := e.Activity(ctx)
	if !ok {
		return "", true
	}
	return string(a), true
}

// CallService dispatches domain.service to every entity named by
// data["entity_id"]. The remaining data is passed to the entity method.
func (c *Component) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if domain != Domain {
		return fmt.Errorf("%w: %s.%s", ErrUnknownService, domain, service)
	}
	svc, ok := ParseService(service)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	targets, rest, err := splitTarget(data)
	if err != nil {
		return err
	}

	for _, id := range targets {
		e, ok := c.Entity(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		if err := callEntity(log.WithEntity(ctx, id), e, svc, rest); err != nil {
			return err
		}
	}
	return nil
}

func callEntity(ctx context.Context, e Entity, svc Service, data map[string]any) error {
	if !e.SupportedFeatures().Has(svc.Feature()) {
		return fmt.Errorf("%w: %s does not support %s", ErrNotSupported, e.EntityID(), svc)
	}
	log.Ctx(ctx).DebugContext(ctx, "calling lawn mower service", slog.String("service", string(svc)))

	var err error
	switch svc {
	case ServiceStartMowing:
		err = e.StartMowing(ctx, data)
	case ServicePause:
		err = e.Pause(ctx, data)
	case ServiceDock:
		err = e.Dock(ctx, data)
	case ServiceEnableSchedule:
		err = e.EnableSchedule(ctx, data)
	case ServiceDisableSchedule:
		err = e.DisableSchedule(ctx, data)
	}
	if err != nil {
		return fmt.Errorf("%s on %s failed: %w", svc, e.EntityID(), err)
	}
	return nil
}

// splitTarget pulls entity_id (a string or a list of strings) out of data.
func splitTarget(data map[string]any) ([]string, map[string]any, error) {
	rest := make(map[string]any, len(data))
	var targets []string
	for k, v := range data {
		if k != "entity_id" {
			rest[k] = v
			continue
		}
		switch id := v.(type) {
		case string:
			targets = append(targets, id)
		case []string:
			targets = append(targets, id...)
		case []any:
			for _, item := range id {
				s, ok := item.(string)
				if !ok {
					return nil, nil, fmt.Errorf("invalid entity_id %v", item)
				}
				targets = append(targets, s)
			}
		default:
			return nil, nil, fmt.Errorf("invalid entity_id %v", v)
		}
	}
	if len(targets) == 0 {
		return nil, nil, ErrMissingTarget
	}
	return targets, rest, nil
}
