package mqtt

import (
	"errors"
	"strings"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/anicoll/lacrosse-integration/internal/pkg/config"
)

const (
	topicPrefix    = "lacrosse"
	refreshTopic   = topicPrefix + "/+/refresh"
	publishTimeout = 5 * time.Second
)

var ErrTimeout = errors.New("mqtt operation timed out")

type service struct {
	client paho_mqtt.Client
	logger *zap.Logger

	mu        sync.Mutex
	online    map[string]bool
	onRefresh func(slug string)
}

func New(client paho_mqtt.Client) *service {
	return &service{
		client: client,
		logger: zap.L(),
		online: make(map[string]bool),
	}
}

// Dial builds a client that reconnects on its own and restores the refresh
// subscription after every connect.
func Dial(cfg *config.MqttConfig) *service {
	s := New(nil)
	opts := paho_mqtt.NewClientOptions().
		AddBroker(cfg.Host).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(10 * time.Second).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", zap.Error(err))
		})
	s.client = paho_mqtt.NewClient(opts)
	return s
}

func (s *service) Connect() error {
	token := s.client.Connect()
	res := token.WaitTimeout(publishTimeout)
	if err := token.Error(); err != nil {
		return err
	}
	if res {
		return nil
	}
	return errors.New("unable to connect in time")
}

func (s *service) Disconnect() {
	s.client.Disconnect(250)
}

// SubscribeRefresh calls handler with the device slug of every message on
// lacrosse/<slug>/refresh.
func (s *service) SubscribeRefresh(handler func(slug string)) error {
	s.mu.Lock()
	s.onRefresh = handler
	s.mu.Unlock()
	return s.subscribe()
}

func (s *service) onConnect(_ paho_mqtt.Client) {
	s.logger.Info("mqtt connected")
	s.mu.Lock()
	subscribed := s.onRefresh != nil
	s.mu.Unlock()
	if !subscribed {
		return
	}
	if err := s.subscribe(); err != nil {
		s.logger.Error("failed to resubscribe", zap.Error(err))
	}
}

func (s *service) subscribe() error {
	token := s.client.Subscribe(refreshTopic, 1, s.handleRefresh)
	if !token.WaitTimeout(publishTimeout) {
		return ErrTimeout
	}
	return token.Error()
}

func (s *service) handleRefresh(_ paho_mqtt.Client, msg paho_mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) != 3 || parts[1] == "" {
		s.logger.Warn("unexpected refresh topic", zap.String("topic", msg.Topic()))
		return
	}
	s.mu.Lock()
	handler := s.onRefresh
	s.mu.Unlock()
	if handler != nil {
		handler(parts[1])
	}
}
