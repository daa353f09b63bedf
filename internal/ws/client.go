package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long we tolerate silence from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames; requests are small JSON objects.
	maxMessageSize = 64 * 1024

	// sendBuffer is the per-client outbound queue. A client that falls this
	// far behind gets dropped by the hub.
	sendBuffer = 256
)

// Client is one websocket connection. All writes to the peer go through the
// send queue and the single writer pump, which keeps per-connection message
// order intact.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, log zerolog.Logger) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		log:  log,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *Client) remote() string { return c.conn.RemoteAddr().String() }

// Send queues a unicast envelope for this client. Messages to a full or
// closed queue are dropped.
func (c *Client) Send(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Error().Err(err).Str("type", string(env.Type)).Msg("marshal reply")
		return
	}
	if !c.enqueue(data) {
		c.log.Warn().Str("remote", c.remote()).Str("type", string(env.Type)).Msg("reply dropped")
	}
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump consumes frames from the peer and hands them to handle. It owns
// the connection's read side and tears the client down on exit.
func (c *Client) readPump(handle func(data []byte)) {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Str("remote", c.remote()).Msg("read error")
			}
			return
		}
		handle(data)
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. It owns the connection's write side.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
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
		}
	}
}
