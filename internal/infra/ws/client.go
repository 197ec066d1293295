package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// client is one live websocket connection. The server only pushes; inbound
// frames are drained to keep pong handling alive.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte

	dead     chan struct{}
	deadOnce sync.Once
}

func newClient(conn *websocket.Conn, userID string) *client {
	return &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		dead:   make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump without blocking; a client that
// cannot keep up is marked dead and torn down by its pump. The send channel
// is never closed, so deliveries racing the teardown stay safe.
func (c *client) enqueue(frame []byte) {
	select {
	case <-c.dead:
	case c.send <- frame:
	default:
		c.close()
	}
}

func (c *client) close() {
	c.deadOnce.Do(func() {
		close(c.dead)
	})
}

func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.dead:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
