// Package websocket serves the per-session event stream: buffered
// replay on connect, then live events.
package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/logger"
	"github.com/devcrew/devcrew/internal/stream"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Client is one WebSocket connection bound to a session subscription.
type Client struct {
	sessionID string
	conn      *websocket.Conn
	sub       *stream.Subscriber
	streams   *stream.Manager
	log       *logger.Logger
}

// NewClient wraps an upgraded connection around a live subscription.
func NewClient(sessionID string, conn *websocket.Conn, sub *stream.Subscriber, streams *stream.Manager, log *logger.Logger) *Client {
	return &Client{
		sessionID: sessionID,
		conn:      conn,
		sub:       sub,
		streams:   streams,
		log:       log.WithFields(zap.String("session_id", sessionID)),
	}
}

// Run drives both pumps and blocks until the connection ends.
func (c *Client) Run() {
	done := make(chan struct{})
	go c.readPump(done)
	c.writePump(done)
}

// readPump drains client frames. The core ignores their content; a read
// error ends the connection.
func (c *Client) readPump(done chan struct{}) {
	defer close(done)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
	}
}

// writePump forwards subscription events to the peer and keeps the
// connection alive with pings. Any write failure ends the connection.
func (c *Client) writePump(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.streams.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	for {
		select {
		case <-done:
			return

		case ev, ok := <-c.sub.Events():
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				c.log.Warn("event marshal failed", zap.Error(err))
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
