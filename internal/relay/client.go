package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	authWait       = 10 * time.Second
	maxMessageSize = 5120
)

// Client is one authenticated relay connection. It implements
// presence.Handle; Send never blocks.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64

	// event kind -> handler, fixed at construction so the inbound
	// state machine is auditable in one place.
	handlers map[string]func(Event)

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	c := &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 256),
	}
	c.handlers = map[string]func(Event){
		EventTyping:  c.onTyping,
		EventAckRead: c.onAckRead,
	}
	return c
}

// Send queues a payload for the write pump. It reports false when the
// connection is gone or the buffer is full (slow client).
func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once, stopping the write pump.
func (c *Client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// onTyping forwards a fire-and-forget typing signal to the target
// peer. No ack, no persistence.
func (c *Client) onTyping(ev Event) {
	c.hub.PushTyping(ev.UserID, c.userID)
}

// onAckRead triggers the read-receipt push toward the original sender.
// The durable status change goes through the request path, not here.
func (c *Client) onAckRead(ev Event) {
	c.hub.PushReadReceipt(ev.UserID, ev.MessageID, c.userID)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("[relay] bad frame from user %d: %v", c.userID, err)
			continue
		}
		if handler, ok := c.handlers[ev.Type]; ok {
			handler(ev)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(payload)
			if err := w.Close(); err != nil {
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
