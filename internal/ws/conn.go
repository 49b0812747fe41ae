// ABOUTME: Websocket connection implementing the transport contract
// ABOUTME: Buffered outbound queue with write and read pumps, idempotent close

package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/livedesk/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20 // images arrive base64-inline
	sendBuffer     = 64
)

// ErrConnClosed is returned by Send after the connection shut down.
var ErrConnClosed = errors.New("connection closed")

// eventFrame is the outbound envelope for server-pushed events.
type eventFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Conn wraps one websocket. It satisfies the transport contract: Send is
// non-blocking and Close is idempotent. A slow reader that fills the
// outbound buffer gets disconnected rather than stalling broadcasts.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan any
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	id := uuid.New().String()
	c := &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan any, sendBuffer),
		done:   make(chan struct{}),
		logger: logger.With("conn_id", id),
	}
	go c.writePump()
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Send queues an event frame for delivery.
func (c *Conn) Send(event string, payload any) error {
	return c.enqueue(eventFrame{Event: event, Data: payload})
}

// sendAck queues an ack envelope for delivery.
func (c *Conn) sendAck(ack wire.Ack) {
	if err := c.enqueue(ack); err != nil {
		c.logger.Warn("dropping ack", "ack_id", ack.AckID, "error", err)
	}
}

func (c *Conn) enqueue(frame any) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.logger.Warn("outbound buffer full, disconnecting")
		c.Close("slow consumer")
		return fmt.Errorf("%w: buffer full", ErrConnClosed)
	}
}

// Close shuts the connection down. Safe to call repeatedly and from any
// goroutine.
func (c *Conn) Close(reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
		c.logger.Debug("connection closed", "reason", reason)
	})
}

// writePump drains the outbound queue and keeps the connection alive with
// pings. Runs until Close.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.Close("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close("ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump decodes inbound frames and hands them to the handler, one at a
// time. It returns when the socket drops or Close is called.
func (c *Conn) readPump(handle func(frame wire.Frame)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.Close("read failed")
			return
		}
		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("undecodable frame", "error", err)
			continue
		}
		handle(frame)
	}
}
