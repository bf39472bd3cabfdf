package publisher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/lacrosse-integration/internal/pkg/metrics"
	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("publisher already registered")

// Sink is a consumer of device state, e.g. MQTT, the history database or the
// websocket stream.
type Sink interface {
	PublishInitialDevices(ctx context.Context, devices []model.DeviceConfig) error
	// UpdateReading publishes one reading; a nil value marks it unavailable.
	UpdateReading(ctx context.Context, device model.DeviceConfig, kind model.ServiceKind, value *float64) error
}

// Publisher fans out to every registered sink and drops repeated values.
type Publisher struct {
	mu      sync.RWMutex
	sinks   map[string]Sink
	sensors sync.Map
	logger  *zap.Logger
}

func New() *Publisher {
	return &Publisher{
		sinks:  make(map[string]Sink),
		logger: zap.L(),
	}
}

func (p *Publisher) RegisterPublisher(name string, sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sinks[name]; ok {
		return fmt.Errorf("%w: %s", errAlreadyRegistered, name)
	}
	p.sinks[name] = sink
	return nil
}

// PublishInitialDevices registers devices with every sink. The initial values
// are only remembered once every sink has accepted them.
func (p *Publisher) PublishInitialDevices(ctx context.Context, devices []model.DeviceConfig) error {
	failed := false
	for _, name := range p.names() {
		if err := p.sink(name).PublishInitialDevices(ctx, devices); err != nil {
			p.logger.Error("failed to register devices", zap.Error(err), zap.String("publisher", name))
			metrics.SinkErrorsTotal.WithLabelValues(name).Inc()
			failed = true
			continue
		}
		p.logger.Debug("registered devices", zap.Int("count", len(devices)), zap.String("publisher", name))
	}
	if failed {
		return nil
	}
	for _, d := range devices {
		for _, kind := range model.ExposedKinds(d) {
			if v, ok := model.ValueOf(d, kind); ok {
				p.shouldUpdate(sensorKey(d, kind), d, kind, formatValue(&v))
			}
		}
	}
	return nil
}

// UpdateReading delivers a changed value to every sink. When a sink fails the
// value is forgotten so the next identical reading is delivered again.
func (p *Publisher) UpdateReading(ctx context.Context, device model.DeviceConfig, kind model.ServiceKind, value *float64) error {
	key := sensorKey(device, kind)
	newValue := formatValue(value)
	if !p.shouldUpdate(key, device, kind, newValue) {
		return nil
	}
	var errs []error
	for _, name := range p.names() {
		if err := p.sink(name).UpdateReading(ctx, device, kind, value); err != nil {
			p.logger.Error("failed to publish reading", zap.Error(err), zap.String("publisher", name))
			metrics.SinkErrorsTotal.WithLabelValues(name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
	}
	if len(errs) > 0 {
		p.sensors.CompareAndDelete(key, newValue)
	}
	return errors.Join(errs...)
}

func (p *Publisher) names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := lo.Keys(p.sinks)
	slices.Sort(names)
	return names
}

func (p *Publisher) sink(name string) Sink {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sinks[name]
}

func (p *Publisher) shouldUpdate(key string, device model.DeviceConfig, kind model.ServiceKind, newValue string) bool {
	oldValue, exists := p.sensors.Swap(key, newValue)
	if exists && oldValue.(string) == newValue {
		return false
	}
	p.logger.Info("sensor updated", zap.String("device", device.Name), zap.String("sensor", kind.String()), zap.String("value", newValue))
	return true
}

// sensorKey keys the last delivered value by device id, so stations sharing a
// display name are tracked separately.
func sensorKey(device model.DeviceConfig, kind model.ServiceKind) string {
	return fmt.Sprintf("%s/%s_%s", device.DeviceID, device.Name, kind)
}

func formatValue(v *float64) string {
	if v == nil {
		return "unavailable"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
