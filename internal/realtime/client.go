package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	socketBufferSize  = 1024
	messageBufferSize = 32

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// ConnMetrics observes socket connects and disconnects.
type ConnMetrics interface {
	SocketConnected(role string, delta int)
}

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}
}

// client is one WebSocket connection. send is closed exactly once, by close.
type client struct {
	socket *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(socket *websocket.Conn) *client {
	return &client{socket: socket, send: make(chan []byte, messageBufferSize)}
}

// enqueue queues msg without blocking. It reports false when the client
// is closed or its buffer is full.
func (c *client) enqueue(msg []byte) bool {
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

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// read pumps inbound messages into handle until the socket fails.
func (c *client) read(handle func([]byte)) {
	defer c.socket.Close()
	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := c.socket.ReadMessage()
		if err != nil {
			return
		}
		if handle != nil {
			handle(msg)
		}
	}
}

// write drains send onto the socket and keeps the connection alive with
// pings. It returns once send is closed or a write fails.
func (c *client) write() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
