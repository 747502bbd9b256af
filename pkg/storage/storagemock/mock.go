package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kiwiwatt/kiwiwatt/pkg/storage"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, error) {
	args := m.Called(ctx, entryID)
	return args.Get(0).(types.ConfigEntry), args.Error(1)
}

func (m *MockDatabase) ListEntries(ctx context.Context, domain string) ([]types.ConfigEntry, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ConfigEntry), args.Error(1)
}

func (m *MockDatabase) PutEntry(ctx context.Context, entry types.ConfigEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDatabase) DeleteEntry(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
