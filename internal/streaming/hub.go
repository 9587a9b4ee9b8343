// Package streaming fans session events out to WebSocket clients. The hub
// subscribes to the event bus once and forwards matching events to every
// connected client that asked for them.
package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/common/logger"
	"github.com/systempromptio/systemprompt-os/internal/events/bus"
)

// Hub manages WebSocket clients and the event-bus subscription feeding them.
type Hub struct {
	eventBus bus.EventBus
	logger   *logger.Logger

	clients map[*Client]bool
	mu      sync.RWMutex

	sub      bus.Subscription
	upgrader websocket.Upgrader
}

// NewHub creates a streaming hub.
func NewHub(eventBus bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "streaming-hub")),
		clients:  make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The API carries no browser credentials; origin checks add
			// nothing here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start subscribes the hub to all session events.
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.eventBus.Subscribe("session.*", func(ctx context.Context, event *bus.Event) error {
		h.broadcast(event)
		return nil
	})
	if err != nil {
		return err
	}
	h.sub = sub
	h.logger.Info("streaming hub started")
	return nil
}

// Stop unsubscribes and disconnects all clients.
func (h *Hub) Stop() {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	h.logger.Info("streaming hub stopped")
}

// HandleWebSocket upgrades the request and runs the client pumps.
// GET /api/v1/stream
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
		logger:        h.logger,
	}
	h.register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.Int("clients", count))
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.Int("clients", count))
}

// broadcast forwards one bus event to every interested client. Slow clients
// drop messages rather than stalling the hub.
func (h *Hub) broadcast(event *bus.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	sessionID, _ := event.Data["session_id"].(string)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(sessionID) {
			continue
		}
		if !client.Send(payload) {
			h.logger.Warn("dropping event for slow client",
				zap.String("event_type", event.Type))
		}
	}
}
