package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Application close codes, in the 4000-4999 private range.
const (
	CloseBadRequest   = 4400
	CloseUnauthorized = 4401
	CloseForbidden    = 4403
	CloseSessionGone  = 4408
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second // must be < pongWait
	maxMessageSize = 16 * 1024
	sendBuffer     = 64
)

// Client is one live socket bound to a (session, player) pair. All writes
// go through the send channel into writePump; readPump owns all reads.
type Client struct {
	hub     *Hub
	server  *Server
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	expires *time.Timer

	sessionID string
	playerID  string
}

func newClient(hub *Hub, server *Server, conn *websocket.Conn, sessionID, playerID string) *Client {
	return &Client{
		hub:       hub,
		server:    server,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		sessionID: sessionID,
		playerID:  playerID,
	}
}

// enqueue buffers a frame for writePump. A client that cannot drain its
// buffer is closed so one stalled socket never blocks a broadcast.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.closeWith(websocket.CloseInternalServerErr, "send_buffer_overflow")
	}
}

// armExpiry schedules a 4401 close for when the client's access token
// lapses; the client is expected to refresh and reconnect.
func (c *Client) armExpiry(expiresAt int64) {
	delay := time.Until(time.UnixMilli(expiresAt))
	if delay < 0 {
		delay = 0
	}
	c.expires = time.AfterFunc(delay, func() {
		// Best effort; the close frame right behind it carries the same story.
		c.enqueue(ErrorFrame(CodeUnauthorized, "session_expired", 0))
		c.closeWith(CloseUnauthorized, "token_expired")
	})
}

// closeWith sends a close frame with the given code, then tears the
// connection down exactly once.
func (c *Client) closeWith(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		if c.expires != nil {
			c.expires.Stop()
		}
		c.hub.unregister(c)
		if c.conn != nil {
			// WriteControl is safe to race against writePump's data writes.
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			c.conn.Close()
		}
	})
}

// writePump owns every write on the connection: queued frames, keepalive
// pings, and the final close.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeWith(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
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
		case <-c.done:
			return
		}
	}
}

// readPump owns every read and dispatches inbound frames to the server.
func (c *Client) readPump() {
	defer c.closeWith(websocket.CloseNormalClosure, "")

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.server.handleMessage(c, data)
	}
}
