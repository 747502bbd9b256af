// Package clocktime works with daily wall-clock times such as the "4:00 PM"
// strings the Electric Kiwi API uses for Hour of Power windows.
package clocktime

import (
	"fmt"
	"strings"
	"time"
)

const layout = "3:04 PM"

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// Parse parses a 12-hour clock string like "4:00 PM" or "11:30 am".
func Parse(s string) (Clock, error) {
	t, err := time.Parse(layout, strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustParse is like Parse but panics on malformed input. The clock strings
// come from a fixed vendor table so a bad one is a programming error.
func MustParse(s string) Clock {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String formats the clock the same way the vendor does.
func (c Clock) String() string {
	return time.Date(0, 1, 1, c.Hour, c.Minute, 0, 0, time.UTC).Format(layout)
}

// On returns the instant for this clock on now's calendar date in now's
// location. A clock skipped by a DST gap is read in the offset in effect
// before the transition, so it lands gap-length late ("2:30 AM" becomes
// 3:30 on a spring-forward day at 2:00).
func (c Clock) On(now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), c.Hour, c.Minute, 0, 0, now.Location())
	if t.Hour() == c.Hour && t.Minute() == c.Minute {
		return t
	}
	_, offset := t.Add(-24 * time.Hour).Zone()
	wall := time.Date(now.Year(), now.Month(), now.Day(), c.Hour, c.Minute, 0, 0, time.UTC)
	return wall.Add(-time.Duration(offset) * time.Second).In(now.Location())
}

// Next returns the next instant strictly after now whose wall clock matches
// c. If today's occurrence is at or before now it rolls to tomorrow.
func (c Clock) Next(now time.Time) time.Time {
	candidate := c.On(now)
	if !candidate.After(now) {
		// AddDate keeps the wall clock so DST days come out 23 or 25 hours long
		candidate = candidate.AddDate(0, 0, 1)
		// re-anchor in case the wall clock landed in a DST gap yesterday
		candidate = c.On(candidate)
	}
	return candidate
}

// NextOccurrence returns the nearest future instant of the daily clock time
// s relative to now, in now's location.
func NextOccurrence(now time.Time, s string) time.Time {
	return MustParse(s).Next(now)
}

// LoadLocation loads a named zone and panics if it is unknown.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Errorf("failed to load %s location: %w", name, err))
	}
	return loc
}

// Auckland is the zone Electric Kiwi reports its clock times in.
var Auckland = LoadLocation("Pacific/Auckland")
