package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/anicoll/lacrosse-integration/internal/pkg/metrics"
	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 10
	sendBuffer = 64
)

const (
	typeDevices = "devices"
	typeReading = "reading"
)

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan envelope
}

// Hub pushes device registrations and reading changes to websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	devices []model.DeviceConfig
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  zap.L(),
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) PublishInitialDevices(_ context.Context, devices []model.DeviceConfig) error {
	h.mu.Lock()
	h.devices = devices
	h.mu.Unlock()
	h.broadcast(envelope{Type: typeDevices, Data: devices})
	return nil
}

func (h *Hub) UpdateReading(_ context.Context, device model.DeviceConfig, kind model.ServiceKind, value *float64) error {
	h.broadcast(envelope{Type: typeReading, Data: model.ReadingEvent{
		DeviceID:  device.DeviceID,
		Name:      device.Name,
		Kind:      kind,
		Value:     value,
		Timestamp: device.LastObservation,
	}})
	return nil
}

// broadcast never blocks; clients that fall behind are dropped.
func (h *Hub) broadcast(msg envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow websocket client", zap.String("remote", c.conn.RemoteAddr().String()))
			delete(h.clients, c)
			close(c.send)
			metrics.StreamClients.Dec()
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan envelope, sendBuffer)}

	h.mu.Lock()
	if h.devices != nil {
		c.send <- envelope{Type: typeDevices, Data: h.devices}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.StreamClients.Inc()

	done := make(chan struct{})
	go h.read(c, done)
	h.write(r.Context(), c, done)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		metrics.StreamClients.Dec()
	}
}

// read drains incoming frames so control messages are handled.
func (h *Hub) read(c *client, done chan<- struct{}) {
	defer close(done)
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.logger.Debug("websocket closed", zap.Error(err))
			return
		}
	}
}

func (h *Hub) write(ctx context.Context, c *client, done <-chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		h.remove(c)
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Info("websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Info("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}
