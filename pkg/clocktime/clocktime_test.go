package clocktime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		hour   int
		minute int
	}{
		{"4:00 PM", 16, 0},
		{"5:00 PM", 17, 0},
		{"12:00 AM", 0, 0},
		{"12:30 PM", 12, 30},
		{"9:15 am", 9, 15},
		{" 11:59 PM ", 23, 59},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, Clock{Hour: tt.hour, Minute: tt.minute}, c)
		})
	}

	_, err := Parse("16:00")
	assert.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
	assert.Panics(t, func() { MustParse("noon") })
}

func TestClockString(t *testing.T) {
	assert.Equal(t, "4:00 PM", Clock{Hour: 16}.String())
	assert.Equal(t, "12:05 AM", Clock{Minute: 5}.String())
}

func TestNextOccurrence(t *testing.T) {
	t.Run("AlreadyPassedRollsToTomorrow", func(t *testing.T) {
		now := time.Date(2023, 6, 21, 18, 0, 0, 0, Auckland)
		got := NextOccurrence(now, "4:00 PM")
		assert.Equal(t, "2023-06-22 16:00:00 +1200 NZST", got.String())
		assert.Equal(t, "2023-06-22T16:00:00+12:00", got.Format(time.RFC3339))
	})

	t.Run("LaterTodayStaysToday", func(t *testing.T) {
		now := time.Date(2023, 6, 21, 10, 0, 0, 0, Auckland)
		got := NextOccurrence(now, "4:00 PM")
		assert.Equal(t, "2023-06-21T16:00:00+12:00", got.Format(time.RFC3339))
	})

	t.Run("ExactlyNowRollsForward", func(t *testing.T) {
		now := time.Date(2023, 6, 21, 16, 0, 0, 0, Auckland)
		got := NextOccurrence(now, "4:00 PM")
		assert.Equal(t, time.Date(2023, 6, 22, 16, 0, 0, 0, Auckland), got)
	})

	t.Run("SecondsAreZeroed", func(t *testing.T) {
		now := time.Date(2023, 6, 21, 15, 59, 59, 999, Auckland)
		got := NextOccurrence(now, "4:00 PM")
		assert.Equal(t, time.Date(2023, 6, 21, 16, 0, 0, 0, Auckland), got)
	})

	t.Run("KeepsLocation", func(t *testing.T) {
		now := time.Date(2023, 6, 21, 10, 0, 0, 0, time.UTC)
		got := NextOccurrence(now, "4:00 PM")
		assert.Equal(t, time.UTC, got.Location())
		assert.Equal(t, time.Date(2023, 6, 21, 16, 0, 0, 0, time.UTC), got)
	})

	t.Run("AlwaysInFuture", func(t *testing.T) {
		start := time.Date(2023, 1, 1, 0, 0, 0, 0, Auckland)
		for i := 0; i < 24*4; i++ {
			now := start.Add(time.Duration(i) * 15 * time.Minute)
			got := NextOccurrence(now, "4:00 PM")
			assert.True(t, got.After(now), "now=%s got=%s", now, got)
			assert.True(t, got.Sub(now) <= 24*time.Hour, "now=%s got=%s", now, got)
			assert.Equal(t, 16, got.Hour())
			assert.Equal(t, 0, got.Minute())
		}
	})
}

func TestNextOccurrenceReapplied(t *testing.T) {
	t.Run("RegularDay", func(t *testing.T) {
		first := NextOccurrence(time.Date(2023, 6, 21, 10, 0, 0, 0, Auckland), "4:00 PM")
		second := NextOccurrence(first, "4:00 PM")
		assert.Equal(t, 24*time.Hour, second.Sub(first))
	})

	t.Run("SpringForward", func(t *testing.T) {
		// NZ daylight saving starts 2023-09-24 02:00
		first := NextOccurrence(time.Date(2023, 9, 23, 10, 0, 0, 0, Auckland), "4:00 PM")
		second := NextOccurrence(first, "4:00 PM")
		assert.Equal(t, 23*time.Hour, second.Sub(first))
		assert.Equal(t, 16, second.Hour())
	})

	t.Run("FallBack", func(t *testing.T) {
		// NZ daylight saving ends 2023-04-02 03:00
		first := NextOccurrence(time.Date(2023, 4, 1, 10, 0, 0, 0, Auckland), "4:00 PM")
		second := NextOccurrence(first, "4:00 PM")
		assert.Equal(t, 25*time.Hour, second.Sub(first))
		assert.Equal(t, 16, second.Hour())
	})
}

func TestNextOccurrenceDSTGap(t *testing.T) {
	// NZ clocks jump from 02:00 NZST to 03:00 NZDT on 2023-09-24, so
	// 2:30 AM never appears on the wall that day
	c := MustParse("2:30 AM")

	t.Run("OnShiftsForward", func(t *testing.T) {
		now := time.Date(2023, 9, 24, 1, 0, 0, 0, Auckland)
		got := c.On(now)
		assert.Equal(t, "2023-09-24T03:30:00+13:00", got.Format(time.RFC3339))
		assert.Equal(t, time.Date(2023, 9, 23, 14, 30, 0, 0, time.UTC), got.UTC())
	})

	t.Run("BeforeGapStaysToday", func(t *testing.T) {
		now := time.Date(2023, 9, 24, 1, 0, 0, 0, Auckland)
		got := c.Next(now)
		assert.Equal(t, "2023-09-24T03:30:00+13:00", got.Format(time.RFC3339))
	})

	t.Run("AfterGapBeforeShiftedStaysToday", func(t *testing.T) {
		now := time.Date(2023, 9, 24, 3, 15, 0, 0, Auckland)
		got := c.Next(now)
		assert.Equal(t, "2023-09-24T03:30:00+13:00", got.Format(time.RFC3339))
	})

	t.Run("AfterShiftedRollsToTomorrow", func(t *testing.T) {
		now := time.Date(2023, 9, 24, 3, 45, 0, 0, Auckland)
		got := c.Next(now)
		assert.Equal(t, "2023-09-25T02:30:00+13:00", got.Format(time.RFC3339))
	})

	t.Run("DayBeforeRollsIntoGap", func(t *testing.T) {
		now := time.Date(2023, 9, 23, 12, 0, 0, 0, Auckland)
		got := c.Next(now)
		assert.Equal(t, "2023-09-24T03:30:00+13:00", got.Format(time.RFC3339))
	})
}
