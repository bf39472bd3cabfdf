package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

type mockToken struct {
	err     error
	timeout bool
}

func (t *mockToken) Wait() bool                     { return !t.timeout }
func (t *mockToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *mockToken) Error() error                   { return t.err }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type MockClient struct {
	paho_mqtt.Client

	PublishErr error

	mu        sync.Mutex
	published []published
	subscribe map[string]paho_mqtt.MessageHandler
}

func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	}
	m.published = append(m.published, published{topic: topic, qos: qos, retained: retained, payload: body})
	return &mockToken{err: m.PublishErr}
}

func (m *MockClient) Subscribe(topic string, _ byte, callback paho_mqtt.MessageHandler) paho_mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribe == nil {
		m.subscribe = make(map[string]paho_mqtt.MessageHandler)
	}
	m.subscribe[topic] = callback
	return &mockToken{}
}

func (m *MockClient) topics() map[string]published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]published)
	for _, p := range m.published {
		out[p.topic] = p
	}
	return out
}

type mockMessage struct {
	paho_mqtt.Message
	topic string
}

func (m mockMessage) Topic() string { return m.topic }

func newTestService(t *testing.T) (*service, *MockClient) {
	t.Helper()
	client := &MockClient{}
	s := New(client)
	s.logger = zaptest.NewLogger(t)
	return s, client
}

func station(probe float64) model.DeviceConfig {
	return model.DeviceConfig{
		DeviceID: "0001A2",
		Name:     "Back Yard",
		Services: map[model.ServiceKind]model.Reading{
			model.AmbientTemperature: {RawValue: 68, Value: 20},
			model.ProbeTemperature:   {RawValue: probe, Value: probe},
			model.CurrentHumidity:    {RawValue: 45, Value: 45},
			model.LowBattery:         {RawValue: 1, Value: 1},
		},
	}
}

func TestPublishInitialDevices(t *testing.T) {
	s, client := newTestService(t)
	require.NoError(t, s.PublishInitialDevices(context.Background(), []model.DeviceConfig{station(0)}))

	topics := client.topics()
	assert.Contains(t, topics, "homeassistant/sensor/back_yard_0001a2_ambient_temperature/config")
	assert.Contains(t, topics, "homeassistant/sensor/back_yard_0001a2_current_humidity/config")
	assert.Contains(t, topics, "homeassistant/binary_sensor/back_yard_0001a2_low_battery/config")
	assert.NotContains(t, topics, "homeassistant/sensor/back_yard_0001a2_probe_temperature/config")

	cfg := topics["homeassistant/sensor/back_yard_0001a2_ambient_temperature/config"]
	assert.True(t, cfg.retained)
	var msg model.RegisterMessage
	require.NoError(t, json.Unmarshal([]byte(cfg.payload), &msg))
	assert.Equal(t, "lacrosse/back_yard_0001a2", msg.Tilda)
	assert.Equal(t, "~/ambient_temperature/state", msg.StateTopic)
	assert.Equal(t, "°C", msg.Unit)
	assert.Equal(t, "La Crosse", msg.Device.Manufacturer)
	assert.Equal(t, []string{"0001A2"}, msg.Device.Identifiers)

	assert.Equal(t, "online", topics["lacrosse/back_yard_0001a2/availability"].payload)
	assert.Equal(t, "20", topics["lacrosse/back_yard_0001a2/ambient_temperature/state"].payload)
	assert.Equal(t, "ON", topics["lacrosse/back_yard_0001a2/low_battery/state"].payload)
}

func TestUpdateReading_Availability(t *testing.T) {
	s, client := newTestService(t)
	ctx := context.Background()
	d := station(12.5)

	require.NoError(t, s.UpdateReading(ctx, d, model.ProbeTemperature, nil))
	require.NoError(t, s.UpdateReading(ctx, d, model.AmbientTemperature, nil))
	v := 12.5
	require.NoError(t, s.UpdateReading(ctx, d, model.ProbeTemperature, &v))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.published, 3)
	assert.Equal(t, published{topic: "lacrosse/back_yard_0001a2/availability", qos: 1, retained: true, payload: "offline"}, client.published[0])
	assert.Equal(t, published{topic: "lacrosse/back_yard_0001a2/availability", qos: 1, retained: true, payload: "online"}, client.published[1])
	assert.Equal(t, "12.5", client.published[2].payload)
}

func TestUpdateReading_SimilarNamesKeepSeparateTopics(t *testing.T) {
	s, client := newTestService(t)
	ctx := context.Background()
	a := model.DeviceConfig{DeviceID: "1", Name: "Back Yard"}
	b := model.DeviceConfig{DeviceID: "2", Name: "back-yard"}
	v := 20.0

	require.NoError(t, s.UpdateReading(ctx, a, model.AmbientTemperature, &v))
	require.NoError(t, s.UpdateReading(ctx, b, model.AmbientTemperature, &v))

	topics := client.topics()
	assert.Equal(t, "online", topics["lacrosse/back_yard_1/availability"].payload)
	assert.Equal(t, "online", topics["lacrosse/back_yard_2/availability"].payload)
	assert.Equal(t, "20", topics["lacrosse/back_yard_1/ambient_temperature/state"].payload)
	assert.Equal(t, "20", topics["lacrosse/back_yard_2/ambient_temperature/state"].payload)
	assert.NotEqual(t, registerMsg(a, model.AmbientTemperature).ID, registerMsg(b, model.AmbientTemperature).ID)
}

func TestUpdateReading_PublishError(t *testing.T) {
	s, client := newTestService(t)
	client.PublishErr = errors.New("not connected")
	v := 1.0
	assert.Error(t, s.UpdateReading(context.Background(), station(0), model.CurrentHumidity, &v))
}

func TestSubscribeRefresh(t *testing.T) {
	s, client := newTestService(t)
	var got []string
	require.NoError(t, s.SubscribeRefresh(func(slug string) {
		got = append(got, slug)
	}))
	handler := client.subscribe[refreshTopic]
	require.NotNil(t, handler)

	handler(client, mockMessage{topic: "lacrosse/back_yard_0001a2/refresh"})
	handler(client, mockMessage{topic: "lacrosse//refresh"})
	handler(client, mockMessage{topic: "bogus"})

	assert.Equal(t, []string{"back_yard_0001a2"}, got)
}

func TestOnConnect_Resubscribes(t *testing.T) {
	s, client := newTestService(t)

	s.onConnect(client)
	assert.Empty(t, client.subscribe)

	require.NoError(t, s.SubscribeRefresh(func(string) {}))
	client.subscribe = nil
	s.onConnect(client)
	assert.Contains(t, client.subscribe, refreshTopic)
}

func TestFormatState(t *testing.T) {
	tests := map[string]struct {
		kind  model.ServiceKind
		value float64
		want  string
	}{
		"temperature":    {kind: model.AmbientTemperature, value: -3.25, want: "-3.25"},
		"humidity":       {kind: model.CurrentHumidity, value: 60, want: "60"},
		"battery low":    {kind: model.LowBattery, value: 1, want: "ON"},
		"battery normal": {kind: model.LowBattery, value: 0, want: "OFF"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatState(tc.kind, tc.value))
		})
	}
}
