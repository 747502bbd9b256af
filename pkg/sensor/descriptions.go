package sensor

import (
	"errors"
	"fmt"
	"time"

	"github.com/kiwiwatt/kiwiwatt/pkg/clocktime"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

// brand prefixes every sensor name so object ids stay unique within Home
// Assistant.
const brand = "Electric Kiwi "

const (
	KeyTotalRunningBalance = "total_running_balance"
	KeyTotalCurrentBalance = "total_account_balance"
	KeyNextBillingDate     = "next_billing_date"
	KeyHOPPercentage       = "hop_power_savings"
	KeyHOPStart            = "hop_free_power_start"
	KeyHOPEnd              = "hop_free_power_end"
)

// AccountDescriptions are the sensors backed by the account balance.
var AccountDescriptions = []Description[types.AccountBalance]{
	{
		Key:         KeyTotalRunningBalance,
		Name:        brand + "total running balance",
		Icon:        "mdi:currency-usd",
		DeviceClass: DeviceClassMonetary,
		StateClass:  StateClassTotal,
		Unit:        UnitDollar,
		Value: func(b types.AccountBalance, _ time.Time) (any, error) {
			return b.TotalRunningBalance, nil
		},
	},
	{
		Key:         KeyTotalCurrentBalance,
		Name:        brand + "total current balance",
		Icon:        "mdi:currency-usd",
		DeviceClass: DeviceClassMonetary,
		StateClass:  StateClassTotal,
		Unit:        UnitDollar,
		Value: func(b types.AccountBalance, _ time.Time) (any, error) {
			return b.TotalAccountBalance, nil
		},
	},
	{
		Key:         KeyNextBillingDate,
		Name:        brand + "next billing date",
		Icon:        "mdi:calendar",
		DeviceClass: DeviceClassDate,
		Value: func(b types.AccountBalance, _ time.Time) (any, error) {
			d, err := time.Parse(types.BillingDateLayout, b.NextBillingDate)
			if err != nil {
				return nil, fmt.Errorf("invalid next billing date %q: %w", b.NextBillingDate, err)
			}
			return d, nil
		},
	},
	{
		Key:        KeyHOPPercentage,
		Name:       brand + "Hour of Power savings",
		StateClass: StateClassMeasurement,
		Unit:       UnitPercentage,
		Value: func(b types.AccountBalance, _ time.Time) (any, error) {
			if len(b.Connections) == 0 {
				return nil, errors.New("account has no connections")
			}
			return b.Connections[0].HOPPercentage, nil
		},
	},
}

// HOPDescriptions are the sensors backed by the selected Hour of Power.
// Their values are the next occurrence of the window's start and end.
var HOPDescriptions = []Description[types.HOP]{
	{
		Key:         KeyHOPStart,
		Name:        brand + "Hour of free power start",
		DeviceClass: DeviceClassTimestamp,
		Value: func(h types.HOP, now time.Time) (any, error) {
			return nextOccurrence(now, h.Start.StartTime)
		},
	},
	{
		Key:         KeyHOPEnd,
		Name:        brand + "Hour of free power end",
		DeviceClass: DeviceClassTimestamp,
		Value: func(h types.HOP, now time.Time) (any, error) {
			return nextOccurrence(now, h.End.EndTime)
		},
	},
}

// nextOccurrence parses with an error instead of panicking since the clock
// strings come from the API.
func nextOccurrence(now time.Time, s string) (any, error) {
	c, err := clocktime.Parse(s)
	if err != nil {
		return nil, err
	}
	return c.Next(now), nil
}
