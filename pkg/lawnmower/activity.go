// Package lawnmower implements the lawn mower device class: its activity
// states, the five entity services and reproduction of target states.
package lawnmower

// Domain is the service domain for lawn mowers.
const Domain = "lawn_mower"

// Activity is the closed set of states a lawn mower reports.
type Activity string

const (
	ActivityError                  Activity = "error"
	ActivityPaused                 Activity = "paused"
	ActivityMowing                 Activity = "mowing"
	ActivityDocking                Activity = "docking"
	ActivityDockedScheduleEnabled  Activity = "docked_schedule_enabled"
	ActivityDockedScheduleDisabled Activity = "docked_schedule_disabled"
)

// Activities lists every valid activity.
var Activities = []Activity{
	ActivityError,
	ActivityPaused,
	ActivityMowing,
	ActivityDocking,
	ActivityDockedScheduleEnabled,
	ActivityDockedScheduleDisabled,
}

// ParseActivity returns the activity named s. Unknown values are rejected,
// never mapped to a default.
func ParseActivity(s string) (Activity, bool) {
	for _, a := range Activities {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Feature is a bit set of what an entity supports.
type Feature int

const (
	FeatureStartMowing Feature = 1 << iota
	FeaturePause
	FeatureDock
	FeatureEnableSchedule
	FeatureDisableSchedule
	FeatureBattery
	FeatureLink
)

// FeatureAll enables every feature.
const FeatureAll = FeatureStartMowing | FeaturePause | FeatureDock | FeatureEnableSchedule | FeatureDisableSchedule | FeatureBattery | FeatureLink

// Has reports whether every bit of other is set.
func (f Feature) Has(other Feature) bool {
	return f&other == other
}

// Service names a lawn mower service.
type Service string

const (
	ServiceStartMowing     Service = "start_mowing"
	ServicePause           Service = "pause"
	ServiceEnableSchedule  Service = "enable_schedule"
	ServiceDisableSchedule Service = "disable_schedule"
	ServiceDock            Service = "dock"
)

// Services lists the registered services.
var Services = []Service{
	ServiceStartMowing,
	ServicePause,
	ServiceEnableSchedule,
	ServiceDisableSchedule,
	ServiceDock,
}

// Feature returns the feature an entity must support for s.
func (s Service) Feature() Feature {
	switch s {
	case ServiceStartMowing:
		return FeatureStartMowing
	case ServicePause:
		return FeaturePause
	case ServiceEnableSchedule:
		return FeatureEnableSchedule
	case ServiceDisableSchedule:
		return FeatureDisableSchedule
	case ServiceDock:
		return FeatureDock
	}
	return 0
}

// ParseService returns the service named s.
func ParseService(s string) (Service, bool) {
	for _, svc := range Services {
		if string(svc) == s {
			return svc, true
		}
	}
	return "", false
}
