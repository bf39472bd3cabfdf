package cmd

import (
	"context"
	"time"

	"github.com/anicoll/lacrosse-integration/internal/pkg/accessory"
	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

type MockRefresher struct {
	RefreshFunc     func(ctx context.Context, tag string) bool
	AccessoriesList []*accessory.Accessory
	Requested       []string
}

func (m *MockRefresher) Refresh(ctx context.Context, tag string) bool {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, tag)
	}
	return false
}

func (m *MockRefresher) RequestRefresh(tag string) {
	m.Requested = append(m.Requested, tag)
}

func (m *MockRefresher) Accessories() []*accessory.Accessory {
	return m.AccessoriesList
}

type MockPopulator struct {
	PopulateFunc func(ctx context.Context, build func(model.DeviceConfig) *accessory.Accessory) ([]model.DeviceConfig, error)
}

func (m *MockPopulator) Populate(ctx context.Context, build func(model.DeviceConfig) *accessory.Accessory) ([]model.DeviceConfig, error) {
	return m.PopulateFunc(ctx, build)
}

type MockCleaner struct {
	CleanupFunc func(ctx context.Context, retention time.Duration) (int64, error)
}

func (m *MockCleaner) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, retention)
	}
	return 0, nil
}
