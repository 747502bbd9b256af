package lawnmower

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kiwiwatt/kiwiwatt/pkg/log"
)

// Host is where current states are read and services are invoked.
type Host interface {
	// CurrentState returns the entity's state. ok is false when the entity
	// does not exist.
	CurrentState(ctx context.Context, entityID string) (state string, ok bool)
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// TargetState is a state an entity should be driven into.
type TargetState struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

var serviceForActivity = map[Activity]Service{
	ActivityDockedScheduleDisabled: ServiceDisableSchedule,
	ActivityDockedScheduleEnabled:  ServiceEnableSchedule,
	ActivityDocking:                ServiceDock,
	ActivityMowing:                 ServiceStartMowing,
	ActivityPaused:                 ServicePause,
}

// ServiceForTargetState returns the service that drives an entity from
// current to target. ok is false when nothing should be called: the entity
// is already there or no service reaches target.
func ServiceForTargetState(current, target Activity) (Service, bool) {
	if current == target {
		return "", false
	}
	svc, ok := serviceForActivity[target]
	return svc, ok
}

// ReproduceState drives one entity into target. Missing entities and
// invalid states are logged and skipped.
func ReproduceState(ctx context.Context, host Host, target TargetState) error {
	ctx = log.WithEntity(ctx, target.EntityID)

	current, ok := host.CurrentState(ctx, target.EntityID)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "unable to find entity", slog.String("entity", target.EntityID))
		return nil
	}

	activity, ok := ParseActivity(target.State)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "invalid state specified",
			slog.String("entity", target.EntityID),
			slog.String("state", target.State),
		)
		return nil
	}

	if current == target.State {
		return nil
	}

	svc, ok := ServiceForTargetState(Activity(current), activity)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "no service reaches state",
			slog.String("entity", target.EntityID),
			slog.String("state", target.State),
		)
		return nil
	}

	return host.CallService(ctx, Domain, string(svc), map[string]any{"entity_id": target.EntityID})
}

// ReproduceStates drives every target concurrently. A failing target does
// not cancel the others; the first error is returned after all finish.
func ReproduceStates(ctx context.Context, host Host, targets []TargetState) error {
	var g errgroup.Group
	for _, target := range targets {
		g.Go(func() error {
			return ReproduceState(ctx, host, target)
		})
	}
	return g.Wait()
}
