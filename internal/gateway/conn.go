package gateway

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// errConnClosed is returned by sends after the connection has been torn
// down; late fetch results are discarded rather than written.
var errConnClosed = errors.New("connection closed")

// conn serializes writes to one WebSocket connection. Control responses and
// binary frames from the reader and fetch goroutines all funnel through the
// write mutex, so frames never interleave.
type conn struct {
	id string
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newConn(id string, ws *websocket.Conn) *conn {
	return &conn{id: id, ws: ws}
}

// sendJSON writes a control frame.
func (c *conn) sendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.ws.WriteJSON(v)
}

// sendBinary writes a binary frame. It returns only once the frame is fully
// handed to the transport, which is what lets the in-flight guard double as
// the ordering guarantee.
func (c *conn) sendBinary(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// close marks the connection closed and closes the underlying socket.
// Idempotent; concurrent senders observe the closed flag.
func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.ws.Close()
}
