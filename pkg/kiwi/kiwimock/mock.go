package kiwimock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kiwiwatt/kiwiwatt/pkg/kiwi"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

type MockAPI struct {
	mock.Mock
}

var _ kiwi.API = (*MockAPI)(nil)

func (m *MockAPI) GetActiveSession(ctx context.Context) (types.Session, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Session), args.Error(1)
}

func (m *MockAPI) GetAccountBalance(ctx context.Context, customerNumber string) (types.AccountBalance, error) {
	args := m.Called(ctx, customerNumber)
	return args.Get(0).(types.AccountBalance), args.Error(1)
}

func (m *MockAPI) GetHOP(ctx context.Context, customerNumber, connectionID string) (types.HOP, error) {
	args := m.Called(ctx, customerNumber, connectionID)
	return args.Get(0).(types.HOP), args.Error(1)
}

func (m *MockAPI) GetHOPIntervals(ctx context.Context) (types.HOPIntervals, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.HOPIntervals), args.Error(1)
}

func (m *MockAPI) SetHOP(ctx context.Context, customerNumber, connectionID, interval string) (types.HOP, error) {
	args := m.Called(ctx, customerNumber, connectionID, interval)
	return args.Get(0).(types.HOP), args.Error(1)
}

// Fixture values matching the vendor's documented examples.
var (
	FixtureSession = types.Session{
		CustomerNumber: 123456,
		CustomerName:   "Joe Dirt",
		Email:          "joe@dirt.kiwi",
		CustomerStatus: "Y",
		Services: []types.Service{
			{Service: "Power", Identifier: "00000000DDA", IsPrimaryService: true, ServiceStatus: "Y"},
		},
	}

	FixtureAccountBalance = types.AccountBalance{
		Connections: []types.AccountConnection{
			{ID: 3, HOPPercentage: "3.5", RunningBalance: "184.09", StartDate: "2020-10-04", UnbilledDays: 15},
		},
		LastBilledAmount:    "-66.31",
		LastBilledDate:      "2020-10-03",
		NextBillingDate:     "2020-11-03",
		IsPrepay:            "N",
		TotalAccountBalance: "-102.22",
		TotalBillingDays:    30,
		TotalRunningBalance: "184.09",
	}

	FixtureHOP = types.HOP{
		CustomerNumber: 123456,
		ConnectionID:   3,
		ServiceType:    "electricity",
		Start:          types.HOPStart{StartTime: "4:00 PM", Interval: "33"},
		End:            types.HOPEnd{EndTime: "5:00 PM", Interval: "34"},
	}

	FixtureHOPIntervals = types.HOPIntervals{
		HOPDuration: "60",
		Intervals: map[string]types.HOPInterval{
			"1":  {Active: 1, StartTime: "12:00 AM", EndTime: "1:00 AM"},
			"33": {Active: 1, StartTime: "4:00 PM", EndTime: "5:00 PM"},
			"34": {Active: 1, StartTime: "4:30 PM", EndTime: "5:30 PM"},
		},
	}
)
