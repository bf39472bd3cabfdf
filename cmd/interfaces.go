package cmd

import (
	"context"
	"time"

	"github.com/anicoll/lacrosse-integration/internal/pkg/accessory"
	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

// refresher is what the scheduled jobs and the MQTT command topic need from
// the coordinator.
type refresher interface {
	Refresh(ctx context.Context, tag string) bool
	RequestRefresh(tag string)
	Accessories() []*accessory.Accessory
}

type populator interface {
	Populate(ctx context.Context, build func(model.DeviceConfig) *accessory.Accessory) ([]model.DeviceConfig, error)
}

type cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type historyStore interface {
	cleaner
	GetReadings(ctx context.Context, deviceID string, kind model.ServiceKind, from, to *time.Time) (model.Records, error)
	GetLatestReadings(ctx context.Context) (model.Records, error)
}

type refreshSubscriber interface {
	SubscribeRefresh(handler func(slug string)) error
}
