package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one UI subscriber's connection. Reads and writes run on
// their own goroutines (readPump/writePump); the topic set is the only
// state shared with the hub loop, so it carries its own lock.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan envelope
	subscriberID string

	mu     sync.Mutex
	topics map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn, subscriberID string) *Client {
	return &Client{
		hub:          h,
		conn:         conn,
		send:         make(chan envelope, sendQueueSize),
		subscriberID: subscriberID,
		topics:       make(map[string]bool),
	}
}

func (c *Client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

func (c *Client) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = true
}

// ServeHTTP upgrades the connection, runs the handshake (auth +
// snapshot), and starts the client's read/write pumps. It does not
// return until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subscriberID := "anonymous"
	if h.auth != nil {
		id, err := h.auth.Authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		subscriberID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := newClient(h, conn, subscriberID)
	h.Register(client)

	snap := h.Snapshot()
	client.writeJSON(envelope{Topic: "snapshot", Payload: snap, SentAt: time.Now().UTC()})

	go client.writePump()
	client.readPump()
}

func (c *Client) writeJSON(env envelope) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump processes inbound subscribe/request commands until the
// connection closes, then unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
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
			return
		}
		cmd, ok := parseCommand(string(raw))
		if !ok {
			continue
		}
		switch cmd.verb {
		case "subscribe":
			c.subscribe(cmd.topic)
		case "request":
			c.handleRequest(cmd.topic)
		}
	}
}

// handleRequest forwards a pull request to the hub loop, which is the
// only goroutine allowed to write to or close c.send. The send is
// best-effort: if the hub loop is backed up, the request is dropped
// rather than blocking the read pump.
func (c *Client) handleRequest(topic string) {
	select {
	case c.hub.requests <- clientRequest{client: c, topic: topic}:
	default:
	}
}

// writePump drains the client's send queue onto the socket and keeps the
// connection alive with periodic pings, until the channel is closed by
// the hub loop (on disconnect or queue overflow).
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
