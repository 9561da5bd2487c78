package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"notifyhub/pkg/types"
)

// Connection implements the interfaces.Connection capability over a gorilla
// WebSocket connection
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent
// race conditions; a single writer goroutine owns the transport for its
// lifetime and every push goes through its buffered channel
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte // FUNCTIONAL DISCOVERY: 100 buffer keeps a slow client from stalling fan-out to others
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps a WebSocket connection and starts its writer goroutine
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, 100),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer for the underlying transport
// TECHNICAL DISCOVERY: writeCh is never closed. Concurrent pushers racing a
// close could otherwise send on a closed channel and panic the process;
// instead the loop exits on context cancellation and any messages still
// buffered are simply dropped with the connection.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			// FUNCTIONAL DISCOVERY: 5-second deadline bounds how long a
			// stalled client can hold the writer goroutine
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				_ = c.Close()
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// Transport failure transitions this connection to closed;
				// the read loop unwinds and removes it from the registry
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// enqueue hands data to the writer goroutine with a bounded wait
func (c *Connection) enqueue(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Push sends an envelope to the client as JSON (thread-safe)
func (c *Connection) Push(envelope *types.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.enqueue(data)
}

// PushText sends a raw text frame (thread-safe). Used by the textual
// fallback protocol.
func (c *Connection) PushText(data []byte) error {
	return c.enqueue(data)
}

// Close closes the connection and stops the writer goroutine. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done exposes connection termination for callers that monitor lifecycle
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
