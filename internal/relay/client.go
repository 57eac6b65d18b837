package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ramsey-B/trellis/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 1 << 20

	sendBuffer = 256
)

// client is one websocket connection admitted to a room.
type client struct {
	conn         *websocket.Conn
	connectionID string
	user         models.User
	room         *Room

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn, connectionID string, user models.User, room *Room) *client {
	return &client{
		conn:         conn,
		connectionID: connectionID,
		user:         user,
		room:         room,
		send:         make(chan []byte, sendBuffer),
		closed:       make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump. A client that cannot keep up is
// dropped rather than allowed to stall the room.
func (c *client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.closed:
		return false
	default:
		c.close()
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// readPump feeds inbound frames to the room until the connection dies, then
// detaches the client.
func (c *client) readPump() {
	defer func() {
		c.room.leave(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.room.handleFrame(c, data)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
