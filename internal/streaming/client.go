package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/systempromptio/systemprompt-os/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // 1MB
)

// SubscriptionMessage is sent by clients to subscribe/unsubscribe.
type SubscriptionMessage struct {
	Action     string   `json:"action"` // subscribe, unsubscribe
	SessionIDs []string `json:"session_ids"`
}

// Client is one WebSocket connection. A client with no explicit
// subscriptions receives every session event.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subscriptions map[string]bool // session IDs; empty means all
	subMu         sync.RWMutex

	logger *logger.Logger
}

func (c *Client) wants(sessionID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[sessionID]
}

// Subscribe adds a session ID filter.
func (c *Client) Subscribe(sessionID string) {
	c.subMu.Lock()
	c.subscriptions[sessionID] = true
	c.subMu.Unlock()
}

// Unsubscribe removes a session ID filter.
func (c *Client) Unsubscribe(sessionID string) {
	c.subMu.Lock()
	delete(c.subscriptions, sessionID)
	c.subMu.Unlock()
}

// ReadPump reads subscription messages from the WebSocket connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}

		var subMsg SubscriptionMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			c.logger.Warn("Invalid subscription message", zap.Error(err))
			continue
		}

		switch subMsg.Action {
		case "subscribe":
			for _, id := range subMsg.SessionIDs {
				c.Subscribe(id)
			}
		case "unsubscribe":
			for _, id := range subMsg.SessionIDs {
				c.Unsubscribe(id)
			}
		default:
			c.logger.Warn("Unknown action", zap.String("action", subMsg.Action))
		}
	}
}

// WritePump writes messages to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send queues a message for the client, dropping it when the buffer is full.
func (c *Client) Send(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}
