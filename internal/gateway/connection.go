// ABOUTME: Per-socket connection state with a single-writer outbound pump
// ABOUTME: All events for one client flow through one buffered channel

package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skillswap/chat-gateway/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// connection wraps one websocket. The out channel is the connection's
// subscription channel in the room manager; every topic the connection
// joins feeds the same channel so a single goroutine owns all writes.
type connection struct {
	id     string
	userID int64

	ws     *websocket.Conn
	out    chan room.Event
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newConnection(id string, userID int64, ws *websocket.Conn, bufferSize int, logger *slog.Logger) *connection {
	return &connection{
		id:     id,
		userID: userID,
		ws:     ws,
		out:    make(chan room.Event, bufferSize),
		done:   make(chan struct{}),
		logger: logger.With("connection_id", id, "user_id", userID),
	}
}

// send enqueues an event for delivery without blocking. Events are dropped
// when the buffer is full; clients recover missed state over the history
// endpoint on reconnect.
func (c *connection) send(event room.Event) bool {
	select {
	case <-c.done:
		return false
	case c.out <- event:
		return true
	default:
		c.logger.Warn("send buffer full, dropping event", "event", event.Name)
		return false
	}
}

// shutdown stops the write pump. Safe to call more than once.
func (c *connection) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
}

// writePump drains the outbound channel onto the socket and keeps the
// connection alive with pings. It is the only goroutine that writes.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case event := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(event); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
