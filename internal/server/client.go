package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/tilewall/internal/consts"
	"github.com/codefionn/tilewall/internal/coordinator"
	"github.com/codefionn/tilewall/internal/logger"
	"github.com/codefionn/tilewall/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = consts.Timeout10Seconds

	// Time allowed to read the next pong message from the peer.
	pongWait = consts.Timeout60Seconds

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client is one wall tile connected over WebSocket
type Client struct {
	ID    string
	hub   *Hub
	conn  *websocket.Conn
	coord *coordinator.Coordinator
	send  chan *protocol.Message

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for an upgraded connection
func NewClient(id string, hub *Hub, conn *websocket.Conn, coord *coordinator.Coordinator) *Client {
	return &Client{
		ID:    id,
		hub:   hub,
		conn:  conn,
		coord: coord,
		send:  make(chan *protocol.Message, consts.ClientSendBuffer),
	}
}

// Send queues msg without blocking. It reports false when the buffer is
// full or the client is gone; the message is dropped.
func (c *Client) Send(msg *protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		logger.Warn("Client %s send channel full, dropping %s", c.ID, msg.Type)
		return false
	}
}

// finish closes the send channel; the write pump flushes what is queued
// and then closes the connection.
func (c *Client) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump feeds inbound messages to the coordinator until the connection
// drops, then runs the disconnect cleanup.
func (c *Client) ReadPump() {
	defer func() {
		if err := c.coord.Disconnect(c.ID); err != nil {
			logger.Warn("Disconnect cleanup for %s incomplete: %v", c.ID, err)
		}
		c.hub.Unregister(c)
		c.finish()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(consts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Error("WebSocket read error from %s: %v", c.ID, err)
			}
			return
		}

		msg, err := protocol.Parse(raw)
		if err != nil {
			logger.Debug("Malformed message from %s: %v", c.ID, err)
			c.Send(protocol.NewError("", protocol.CodeInvalidRequest, err.Error()))
			continue
		}

		logger.Debug("WebSocket received from %s: %s", c.ID, msg.Type)
		c.coord.Handle(c.ID, msg)
	}
}

// WritePump writes queued messages and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				logger.Error("Failed to marshal message: %v", err)
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("Failed to write to %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
