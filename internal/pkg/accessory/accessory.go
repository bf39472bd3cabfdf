package accessory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

var (
	ErrNoResponse      = errors.New("device not responding")
	ErrUnsupportedKind = errors.New("service not exposed by device")
)

type refresher interface {
	RequestRefresh(tag string)
}

type sink interface {
	UpdateReading(ctx context.Context, device model.DeviceConfig, kind model.ServiceKind, value *float64) error
}

// Accessory is the published view of one station.
type Accessory struct {
	name      string
	deviceID  string
	kinds     []model.ServiceKind
	refresher refresher
	sink      sink
	logger    *zap.Logger

	mu      sync.RWMutex
	details model.DeviceConfig
}

func New(device model.DeviceConfig, r refresher, s sink) *Accessory {
	return &Accessory{
		name:      device.Name,
		deviceID:  device.DeviceID,
		kinds:     model.ExposedKinds(device),
		refresher: r,
		sink:      s,
		logger:    zap.L().With(zap.String("device", device.Name)),
		details:   device,
	}
}

func (a *Accessory) Name() string {
	return a.name
}

func (a *Accessory) DeviceID() string {
	return a.deviceID
}

func (a *Accessory) Kinds() []model.ServiceKind {
	return a.kinds
}

func (a *Accessory) HasProbe() bool {
	return slices.Contains(a.kinds, model.ProbeTemperature)
}

func (a *Accessory) Info() model.AccessoryInfo {
	return model.AccessoryInfo{
		Manufacturer: model.Manufacturer,
		Model:        a.name,
		SerialNumber: a.deviceID,
	}
}

// Snapshot returns the last details received.
func (a *Accessory) Snapshot() model.DeviceConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.details
}

// Value returns the cached value for kind and asks for a background refresh.
// The refreshed value arrives through Update, not through this call.
func (a *Accessory) Value(kind model.ServiceKind) (float64, error) {
	if !slices.Contains(a.kinds, kind) {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	a.refresher.RequestRefresh(fmt.Sprintf("%s: %s", a.name, kind))

	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := model.ValueOf(a.details, kind)
	if !ok {
		return 0, ErrNoResponse
	}
	return v, nil
}

// Update replaces the device details and publishes every exposed kind. A
// device without services is published as unavailable.
func (a *Accessory) Update(ctx context.Context, device model.DeviceConfig) {
	a.mu.Lock()
	a.details = device
	a.mu.Unlock()

	for _, kind := range a.kinds {
		var value *float64
		if v, ok := model.ValueOf(device, kind); ok {
			value = &v
		}
		if err := a.sink.UpdateReading(ctx, device, kind, value); err != nil {
			a.logger.Error("failed to update reading", zap.String("kind", kind.String()), zap.Error(err))
		}
	}
}

// Slug identifies the device on MQTT topics.
func (a *Accessory) Slug() string {
	return model.DeviceConfig{DeviceID: a.deviceID, Name: a.name}.Slug()
}
