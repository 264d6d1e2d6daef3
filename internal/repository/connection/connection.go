package connection

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrAlreadyExists = errors.New("connection already exists")
	ErrNotFound      = errors.New("connection not found")
)

// Conn is a client connection of one presence. Implementations serialize
// concurrent writes.
type Conn interface {
	WriteJSON(v any) error
	WriteClose(code int, text string) error
	Close() error
}

type WSConn struct {
	ws        *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex
}

func NewWSConn(ws *websocket.Conn, writeWait time.Duration) *WSConn {
	return &WSConn{ws: ws, writeWait: writeWait}
}

func (c *WSConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeWait > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			return err
		}
	}

	return c.ws.WriteJSON(v)
}

func (c *WSConn) WriteClose(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func (c *WSConn) Close() error {
	return c.ws.Close()
}

func (c *WSConn) WS() *websocket.Conn {
	return c.ws
}
