package lacrosse

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/lacrosse-integration/internal/pkg/metrics"
	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

// Fetch logs in when needed, retrieves the status page and returns every
// device it reports.
func (c *Client) Fetch(ctx context.Context) ([]model.DeviceConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	devices, err := c.getConfig(ctx)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.FetchDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return devices, err
}

// getStatus treats any failure as a lost session.
func (c *Client) getStatus(ctx context.Context) (string, error) {
	body, err := c.get(ctx, c.baseURL.String())
	if err != nil {
		c.invalidate()
		return "", err
	}
	if !hasStatusMarker(body) {
		c.invalidate()
		c.logger.Debug("status page without state information", zap.Int("size", len(body)))
		return "", fmt.Errorf("%w: status page without state information", ErrAuth)
	}
	return body, nil
}

func (c *Client) getConfig(ctx context.Context) ([]model.DeviceConfig, error) {
	var body string
	for attempt := 1; body == ""; attempt++ {
		if attempt > c.cfg.MaxLoginAttempts {
			return nil, fmt.Errorf("%w: after %d attempts", ErrLoginAttempts, c.cfg.MaxLoginAttempts)
		}
		if err := c.ensureLoggedIn(ctx); err != nil {
			return nil, err
		}
		var err error
		if body, err = c.getStatus(ctx); err != nil {
			c.logger.Warn("failed to get status", zap.Int("attempt", attempt), zap.Error(err))
		}
	}

	snap, err := extractSnapshot(body)
	if err != nil {
		c.logger.Error("failed to parse status page", zap.Error(err))
		return nil, err
	}
	devices := c.normalize(snap)
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	c.logger.Debug("fetched devices",
		zap.Int("provider_id", snap.providerID),
		zap.Bool("is_metric", snap.isMetric),
		zap.Int("count", len(devices)),
	)
	return devices, nil
}

func (c *Client) normalize(snap snapshot) []model.DeviceConfig {
	devices := make([]model.DeviceConfig, 0, len(snap.devices))
	for _, key := range slices.Sorted(maps.Keys(snap.devices)) {
		dev := snap.devices[key]
		if len(dev.Obs) == 0 {
			c.logger.Warn("device without observations", zap.String("key", key), zap.String("device_id", string(dev.DeviceID)))
			continue
		}
		obs := dev.Obs[0]
		devices = append(devices, model.DeviceConfig{
			DeviceID:        string(dev.DeviceID),
			Name:            string(dev.DeviceName),
			LastObservation: int64(obs.Timestamp),
			Services: map[model.ServiceKind]model.Reading{
				model.AmbientTemperature: temperature(float64(obs.AmbientTemp), snap.isMetric),
				model.ProbeTemperature:   temperature(float64(obs.ProbeTemp), snap.isMetric),
				model.CurrentHumidity:    {RawValue: float64(obs.Humidity), Value: float64(obs.Humidity)},
				model.LowBattery:         {RawValue: float64(obs.LowBattery), Value: float64(obs.LowBattery)},
			},
		})
	}
	return devices
}

func temperature(raw float64, isMetric bool) model.Reading {
	if isMetric {
		return model.Reading{RawValue: raw, Value: raw}
	}
	return model.Reading{RawValue: raw, Value: (raw - 32) * 5 / 9}
}
