// Package sensor projects coordinator snapshots into Home Assistant sensor
// states using declarative description tables.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kiwiwatt/kiwiwatt/pkg/log"
)

// Attribution is attached to every sensor as the "attribution" attribute.
const Attribution = "Data provided by the Juice Hacker API"

// DeviceClass is the Home Assistant sensor device class.
type DeviceClass string

const (
	DeviceClassNone      DeviceClass = ""
	DeviceClassMonetary  DeviceClass = "monetary"
	DeviceClassDate      DeviceClass = "date"
	DeviceClassTimestamp DeviceClass = "timestamp"
)

// StateClass is the Home Assistant sensor state class.
type StateClass string

const (
	StateClassNone        StateClass = ""
	StateClassTotal       StateClass = "total"
	StateClassMeasurement StateClass = "measurement"
)

const (
	UnitDollar     = "$"
	UnitPercentage = "%"
)

const (
	// dateLayout renders a date sensor as a naive local datetime.
	dateLayout = "2006-01-02T15:04:05"
	// timestampLayout renders timestamps in UTC with an explicit offset.
	timestampLayout = "2006-01-02T15:04:05-07:00"
)

// ValueFunc extracts a native value from a snapshot. now is the render time
// in the configured zone.
type ValueFunc[T any] func(data T, now time.Time) (any, error)

// Description declares one sensor over a snapshot of type T.
type Description[T any] struct {
	Key         string
	Name        string
	Icon        string
	DeviceClass DeviceClass
	StateClass  StateClass
	Unit        string
	Value       ValueFunc[T]
}

// Source is what a sensor reads from, normally a coordinator.
type Source[T any] interface {
	Snapshot() (T, time.Time, bool)
}

// Entity is the read side of a sensor used by publishers.
type Entity interface {
	UniqueID() string
	ObjectID() string
	Name() string
	State(ctx context.Context) (string, bool)
	Attributes() map[string]any
}

// Sensor renders a Description against a Source.
type Sensor[T any] struct {
	desc       Description[T]
	source     Source[T]
	customer   string
	connection string
	now        func() time.Time
}

// New returns a sensor for desc reading from source. customer and
// connection make up the unique id.
func New[T any](desc Description[T], source Source[T], customer, connection string, now func() time.Time) *Sensor[T] {
	if now == nil {
		now = time.Now
	}
	return &Sensor[T]{
		desc:       desc,
		source:     source,
		customer:   customer,
		connection: connection,
		now:        now,
	}
}

var _ Entity = (*Sensor[int])(nil)

// Key returns the description key.
func (s *Sensor[T]) Key() string {
	return s.desc.Key
}

// UniqueID is stable across restarts: <customer>_<connection>_<key>.
func (s *Sensor[T]) UniqueID() string {
	return fmt.Sprintf("%s_%s_%s", s.customer, s.connection, s.desc.Key)
}

// Name is the friendly name.
func (s *Sensor[T]) Name() string {
	return s.desc.Name
}

// ObjectID is the entity object id derived from the name, e.g.
// "Total running balance" becomes "total_running_balance".
func (s *Sensor[T]) ObjectID() string {
	return Slugify(s.desc.Name)
}

// DeviceClass returns the declared device class.
func (s *Sensor[T]) DeviceClass() DeviceClass {
	return s.desc.DeviceClass
}

// StateClass returns the declared state class.
func (s *Sensor[T]) StateClass() StateClass {
	return s.desc.StateClass
}

// Unit returns the native unit of measurement.
func (s *Sensor[T]) Unit() string {
	return s.desc.Unit
}

// NativeValue returns the extracted value. ok is false when the source has
// never been populated or extraction failed.
func (s *Sensor[T]) NativeValue(ctx context.Context) (any, bool) {
	data, _, ok := s.source.Snapshot()
	if !ok {
		return nil, false
	}
	v, err := s.desc.Value(data, s.now())
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to extract sensor value",
			slog.String("sensor", s.UniqueID()),
			slog.Any("error", err),
		)
		return nil, false
	}
	return v, true
}

// State renders the native value as the Home Assistant state string.
func (s *Sensor[T]) State(ctx context.Context) (string, bool) {
	v, ok := s.NativeValue(ctx)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case time.Time:
		if s.desc.DeviceClass == DeviceClassTimestamp {
			return val.UTC().Format(timestampLayout), true
		}
		return val.Format(dateLayout), true
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	default:
		return fmt.Sprint(val), true
	}
}

// Attributes are the extra state attributes published with the state.
func (s *Sensor[T]) Attributes() map[string]any {
	attrs := map[string]any{
		"attribution":   Attribution,
		"friendly_name": s.desc.Name,
	}
	if s.desc.Icon != "" {
		attrs["icon"] = s.desc.Icon
	}
	if s.desc.DeviceClass != DeviceClassNone {
		attrs["device_class"] = string(s.desc.DeviceClass)
	}
	if s.desc.StateClass != StateClassNone {
		attrs["state_class"] = string(s.desc.StateClass)
	}
	if s.desc.Unit != "" {
		attrs["unit_of_measurement"] = s.desc.Unit
	}
	return attrs
}

// Slugify lowercases s and replaces every run of non alphanumeric
// characters with a single underscore.
func Slugify(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Build returns one sensor per description, all sharing source.
func Build[T any](descs []Description[T], source Source[T], customer, connection string, now func() time.Time) []*Sensor[T] {
	out := make([]*Sensor[T], 0, len(descs))
	for _, d := range descs {
		out = append(out, New(d, source, customer, connection, now))
	}
	return out
}
