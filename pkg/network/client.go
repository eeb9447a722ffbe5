package network

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coterie-games/townsquare/pkg/log"
	"github.com/coterie-games/townsquare/pkg/messages"
)

const (
	// sendQueueSize bounds the per-connection outbound queue. A stalled
	// connection fills its own queue and drops; it never blocks the room.
	sendQueueSize = 64

	writeWait = 5 * time.Second
	readWait  = 60 * time.Second

	maxInboundMessageSize = 64 << 10 // 64KB
)

// ClientConn wraps a WebSocket connection with a buffered outbound
// queue drained by a dedicated write pump.
type ClientConn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	send   chan *messages.Message
	closed bool
}

func NewClientConn(ws *websocket.Conn) *ClientConn {
	c := &ClientConn{
		ws:   ws,
		send: make(chan *messages.Message, sendQueueSize),
	}
	go c.writePump()
	return c
}

// Deliver enqueues a message without blocking. It reports false when
// the connection is closed or its queue is full.
func (c *ClientConn) Deliver(msg *messages.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops accepting messages and lets the write pump drain what is
// already queued before closing the underlying connection. Idempotent.
func (c *ClientConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump drains the outbound queue to the WebSocket.
func (c *ClientConn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		b, err := messages.Serialize(msg)
		if err != nil {
			log.Error("Failed to serialize %s message: %v", msg.Type, err)
			continue
		}
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
			return
		}
	}
}
