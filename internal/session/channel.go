package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WSChannel adapts a gorilla websocket connection to Channel. Writes are
// serialized because gorilla allows one concurrent writer.
type WSChannel struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

// NewWSChannel wraps conn.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

// Send writes v as a JSON text frame.
func (c *WSChannel) Send(v any) error {
	if c.closed.Load() {
		return fmt.Errorf("send: %w", websocket.ErrCloseSent)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// Ping writes a ping control frame.
func (c *WSChannel) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Open reports whether Close has not been called yet.
func (c *WSChannel) Open() bool { return !c.closed.Load() }

// Close marks the channel closed, sends a close frame and releases the
// connection. It is safe to call more than once.
func (c *WSChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

// Conn exposes the underlying connection for the read loop.
func (c *WSChannel) Conn() *websocket.Conn { return c.conn }
