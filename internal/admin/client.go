package admin

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/desipipe/desipipe/internal/events"
	"github.com/desipipe/desipipe/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 256
)

// Client is one connected event-tail websocket connection. Grounded on
// the teacher's internal/api/websocket/client.go (same read/write pump
// shape, ping/pong keepalive, per-type subscription set).
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subMu sync.RWMutex
	subs  map[events.EventType]bool
}

// NewClient wraps conn, registered against hub.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString()[:8],
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[events.EventType]bool),
	}
}

// SubscribeAll marks the client interested in every event type; empty
// subs also means "everything" (see isSubscribed), so this is mostly
// documentation-by-call-site for a fully-open tail.
func (c *Client) SubscribeAll() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, t := range []events.EventType{
		events.EventTaskReady, events.EventTaskRunning, events.EventTaskSucceeded,
		events.EventTaskFailed, events.EventTaskKilled, events.EventTaskUnknown,
		events.EventWorkerLaunched, events.EventWorkerExited,
		events.EventQueueDepth, events.EventSystemMetrics,
	} {
		c.subs[t] = true
	}
}

func (c *Client) isSubscribed(t events.EventType) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	return c.subs[t]
}

// ReadPump drains (and discards, beyond keeping the connection alive)
// client-sent frames until the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Str("client_id", c.ID).Msg("admin: websocket read error")
			}
			return
		}
	}
}

// WritePump pumps the hub's fan-out onto the wire, plus periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
