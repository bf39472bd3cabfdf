package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	payloadOn      = "ON"
	payloadOff     = "OFF"
)

func (s *service) PublishInitialDevices(ctx context.Context, devices []model.DeviceConfig) error {
	for _, device := range devices {
		if err := s.RegisterDevice(device); err != nil {
			return err
		}
		for _, kind := range model.ExposedKinds(device) {
			var value *float64
			if v, ok := model.ValueOf(device, kind); ok {
				value = &v
			}
			if err := s.UpdateReading(ctx, device, kind, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// RegisterDevice publishes a retained discovery config for every exposed kind.
func (s *service) RegisterDevice(device model.DeviceConfig) error {
	for _, kind := range model.ExposedKinds(device) {
		payload, err := json.Marshal(registerMsg(device, kind))
		if err != nil {
			return err
		}
		topic := fmt.Sprintf("homeassistant/%s/%s_%s/config", component(kind), device.Slug(), kind)
		if err := s.publish(topic, 1, true, payload); err != nil {
			return err
		}
	}
	s.logger.Info("registered device", zap.String("device", device.Name))
	return nil
}

func (s *service) UpdateReading(_ context.Context, device model.DeviceConfig, kind model.ServiceKind, value *float64) error {
	if err := s.setAvailability(device, value != nil); err != nil {
		return err
	}
	if value == nil {
		return nil
	}
	return s.publish(stateTopic(device, kind), 0, false, formatState(kind, *value))
}

// setAvailability publishes the availability topic when it changes.
func (s *service) setAvailability(device model.DeviceConfig, online bool) error {
	slug := device.Slug()
	s.mu.Lock()
	current, known := s.online[slug]
	s.mu.Unlock()
	if known && current == online {
		return nil
	}

	payload := payloadOffline
	if online {
		payload = payloadOnline
	}
	if err := s.publish(availabilityTopic(device), 1, true, payload); err != nil {
		return err
	}
	s.mu.Lock()
	s.online[slug] = online
	s.mu.Unlock()
	return nil
}

func (s *service) publish(topic string, qos byte, retained bool, payload any) error {
	token := s.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish %s", ErrTimeout, topic)
	}
	return token.Error()
}

func baseTopic(device model.DeviceConfig) string {
	return fmt.Sprintf("%s/%s", topicPrefix, device.Slug())
}

func stateTopic(device model.DeviceConfig, kind model.ServiceKind) string {
	return fmt.Sprintf("%s/%s/state", baseTopic(device), kind)
}

func availabilityTopic(device model.DeviceConfig) string {
	return baseTopic(device) + "/availability"
}

func component(kind model.ServiceKind) string {
	if kind == model.LowBattery {
		return "binary_sensor"
	}
	return "sensor"
}

func formatState(kind model.ServiceKind, v float64) string {
	if kind == model.LowBattery {
		if model.BatteryStatusFromValue(v) == model.BatteryLevelLow {
			return payloadOn
		}
		return payloadOff
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func registerMsg(device model.DeviceConfig, kind model.ServiceKind) model.RegisterMessage {
	msg := model.RegisterMessage{
		Tilda:             baseTopic(device),
		Name:              fmt.Sprintf("%s %s", device.Name, kind),
		ID:                fmt.Sprintf("%s_%s", device.Slug(), kind),
		StateTopic:        fmt.Sprintf("~/%s/state", kind),
		AvailabilityTopic: "~/availability",
		DeviceClass:       kind.DeviceClass(),
		Device: model.RegisterDevice{
			Name:         device.Name,
			Identifiers:  []string{device.DeviceID},
			Model:        device.Name,
			Manufacturer: model.Manufacturer,
		},
	}
	if kind == model.LowBattery {
		msg.PayloadOn = payloadOn
		msg.PayloadOff = payloadOff
		return msg
	}
	msg.StateClass = "measurement"
	msg.Unit = kind.Unit()
	return msg
}
