// Package feed implements the binary market-feed client (spec.md §4.1):
// framing, authentication, subscription control, reconnection with
// exponential backoff, and ping/pong keepalive over a persistent
// connection to the vendor.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
	"github.com/Krishnaraj-Irkal/flowsense/internal/obslog"
	"github.com/Krishnaraj-Irkal/flowsense/libs/resilience"
)

// State is a position in the feed client's connection state machine:
// Disconnected → Connecting → Connected → Subscribed → (Degraded) →
// Closing → Disconnected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateDegraded
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateDegraded:
		return "degraded"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Config is the subset of process configuration the feed client needs.
type Config struct {
	Endpoint             string
	DepthEndpoint         string // optional second connection for 20-level ladders
	FeedToken             string
	ClientID              string
	ReconnectInitialDelay time.Duration
	ReconnectMaxAttempts  int
	KeepaliveInterval     time.Duration
}

// Client owns the vendor socket(s) and the keepalive timer, and publishes
// every decoded frame onto the shared event bus (spec.md §5: "The feed
// client owns its socket and its keepalive timer; all frames it parses
// are published on an ordered stream").
type Client struct {
	cfg Config
	bus *eventbus.Bus

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	depthConn     *websocket.Conn
	subscriptions map[InstrumentRef]bool

	breaker *resilience.CircuitBreaker

	oiBySecurity map[string]int32
}

// NewClient constructs a feed client publishing decoded events onto bus.
func NewClient(cfg Config, bus *eventbus.Bus) *Client {
	if cfg.ReconnectInitialDelay == 0 {
		cfg.ReconnectInitialDelay = 5 * time.Second
	}
	if cfg.ReconnectMaxAttempts == 0 {
		cfg.ReconnectMaxAttempts = 5
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = 30 * time.Second
	}
	return &Client{
		cfg:           cfg,
		bus:           bus,
		subscriptions: make(map[InstrumentRef]bool),
		breaker:       resilience.NewCircuitBreaker(resilience.DefaultConfig("feed-client")),
		oiBySecurity:  make(map[string]int32),
	}
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(ctx context.Context, s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		obslog.Event(ctx, "feed_state_change", obslog.Fields{"from": prev.String(), "to": s.String()})
	}
}

// Connect dials the vendor endpoint(s), authenticating with feedToken and
// clientId, and starts the read and keepalive loops. It returns once the
// connection is open; the read loop continues in the background until
// ctx is cancelled or a fatal disconnect occurs.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(ctx, StateConnecting)

	conn, err := c.dial(ctx, c.cfg.Endpoint)
	if err != nil {
		c.setState(ctx, StateDisconnected)
		return fmt.Errorf("connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if c.cfg.DepthEndpoint != "" {
		depthConn, err := c.dial(ctx, c.cfg.DepthEndpoint)
		if err != nil {
			obslog.Error(ctx, "feed_depth_connect_failed", err, nil)
		} else {
			c.mu.Lock()
			c.depthConn = depthConn
			c.mu.Unlock()
			go c.readLoop(ctx, depthConn)
		}
	}

	c.setState(ctx, StateConnected)
	go c.readLoop(ctx, conn)
	go c.keepaliveLoop(ctx, conn)

	obslog.Event(ctx, "feed_connected", obslog.Fields{"endpoint": c.cfg.Endpoint})
	c.bus.Publish(ctx, eventbus.TopicConnectionStatus, ConnectionStatus{Connected: true})
	return nil
}

func (c *Client) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.FeedToken)
	q.Set("clientId", c.cfg.ClientID)
	u.RawQuery = q.Encode()

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ConnectionStatus is published on TopicConnectionStatus.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

// Subscribe sends Full-subscription control messages for refs in
// vendor-sized batches (<=100 instruments per request, <=5000 total) and
// records them in the in-memory subscription set so reconnection can
// resubscribe.
func (c *Client) Subscribe(ctx context.Context, refs []InstrumentRef) error {
	c.mu.Lock()
	total := len(c.subscriptions) + len(refs)
	c.mu.Unlock()
	if total > maxInstrumentsTotal {
		return fmt.Errorf("%w: %d exceeds %d", ErrTooManyInstruments, total, maxInstrumentsTotal)
	}

	for _, batch := range chunkInstruments(refs, maxInstrumentsPerRequest) {
		msg := newSubscribeMessage(RequestSubscribe, batch)
		if err := c.writeJSON(ctx, c.conn, msg); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	if c.depthConn != nil {
		for _, batch := range chunkInstruments(refs, maxDepthInstruments) {
			msg := newSubscribeMessage(RequestSubscribeDepth, batch)
			if err := c.writeJSON(ctx, c.depthConn, msg); err != nil {
				obslog.Error(ctx, "feed_depth_subscribe_failed", err, nil)
			}
		}
	}

	c.mu.Lock()
	for _, r := range refs {
		c.subscriptions[r] = true
	}
	c.mu.Unlock()

	c.setState(ctx, StateSubscribed)
	return nil
}

// Unsubscribe removes refs from the vendor subscription and the
// in-memory set.
func (c *Client) Unsubscribe(ctx context.Context, refs []InstrumentRef) error {
	msg := newSubscribeMessage(RequestUnsubscribe, refs)
	if err := c.writeJSON(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	c.mu.Lock()
	for _, r := range refs {
		delete(c.subscriptions, r)
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	if conn == nil {
		return ErrNotConnected
	}
	_, err := c.breaker.ExecuteWithContext(ctx, func() (any, error) {
		return nil, conn.WriteJSON(v)
	})
	return err
}

// Close sends the unsubscribe control message for the full subscription
// set, closes the socket(s), and transitions to Disconnected. It is the
// client-initiated counterpart of a server disconnect, used on shutdown
// (spec.md §5).
func (c *Client) Close(ctx context.Context) error {
	c.setState(ctx, StateClosing)

	c.mu.Lock()
	refs := make([]InstrumentRef, 0, len(c.subscriptions))
	for r := range c.subscriptions {
		refs = append(refs, r)
	}
	conn, depthConn := c.conn, c.depthConn
	c.mu.Unlock()

	if len(refs) > 0 && conn != nil {
		_ = c.Unsubscribe(ctx, refs)
	}

	var errs []error
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if depthConn != nil {
		if err := depthConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.setState(ctx, StateDisconnected)
	return errors.Join(errs...)
}

// keepaliveLoop pings every KeepaliveInterval and answers server pings
// with pongs; the vendor disconnects after 40s of silence so the ticker
// period must stay well under that.
func (c *Client) keepaliveLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				obslog.Error(ctx, "feed_ping_failed", err, nil)
				return
			}
		}
	}
}

// readLoop reads frames until the connection closes or ctx is cancelled,
// decoding and publishing each one, then triggers reconnection unless the
// disconnect was auth-class or client-initiated.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, buf, err := conn.ReadMessage()
		if err != nil {
			if c.State() == StateClosing {
				return
			}
			obslog.Error(ctx, "feed_read_error", err, nil)
			c.handleDisconnect(ctx, nil)
			return
		}

		packet, err := Decode(buf)
		if err != nil {
			// Malformed frames are logged and dropped, never crash the
			// pipeline; no running count of them is kept.
			obslog.Error(ctx, "feed_decode_error", err, nil)
			continue
		}
		c.publish(ctx, packet)

		if packet.Disconnect != nil {
			c.handleDisconnect(ctx, packet.Disconnect)
			return
		}
	}
}

func (c *Client) publish(ctx context.Context, packet *DecodedPacket) {
	if packet.Tick != nil {
		if oi, ok := c.oiBySecurity[packet.Tick.SecurityID]; ok {
			_ = oi // reserved for callers that want OI merged onto the tick
		}
		c.bus.Publish(ctx, eventbus.TopicTick, packet.Tick)
	}
	if packet.PrevClose != nil {
		c.bus.Publish(ctx, "prevClose", packet.PrevClose)
	}
	if packet.Depth != nil {
		c.bus.Publish(ctx, eventbus.TopicDepth, packet.Depth)
	}
}

// handleDisconnect decides whether to reconnect. A server Disconnection
// packet with an auth-class reason is terminal; any other loss of
// connection schedules a bounded exponential-backoff reconnect.
func (c *Client) handleDisconnect(ctx context.Context, reason *DisconnectReason) {
	if reason != nil && reason.IsAuthClass() {
		c.setState(ctx, StateDisconnected)
		obslog.Event(ctx, "feed_auth_disconnect", obslog.Fields{"reason": reason.String()})
		c.bus.Publish(ctx, eventbus.TopicConnectionStatus, ConnectionStatus{Connected: false, Reason: reason.String()})
		return
	}

	c.setState(ctx, StateDegraded)
	reasonStr := "connection lost"
	if reason != nil {
		reasonStr = reason.String()
	}
	c.bus.Publish(ctx, eventbus.TopicConnectionStatus, ConnectionStatus{Connected: false, Reason: reasonStr})
	go c.reconnect(ctx)
}

// reconnect retries Connect with exponential backoff starting at
// ReconnectInitialDelay, capped at ReconnectMaxAttempts, resubscribing
// the full set on success.
func (c *Client) reconnect(ctx context.Context) {
	c.mu.Lock()
	refs := make([]InstrumentRef, 0, len(c.subscriptions))
	for r := range c.subscriptions {
		refs = append(refs, r)
	}
	c.mu.Unlock()

	delay := c.cfg.ReconnectInitialDelay
	for attempt := 1; attempt <= c.cfg.ReconnectMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		obslog.Event(ctx, "feed_reconnect_attempt", obslog.Fields{"attempt": attempt})
		if err := c.Connect(ctx); err == nil {
			if len(refs) > 0 {
				if err := c.Subscribe(ctx, refs); err != nil {
					obslog.Error(ctx, "feed_resubscribe_failed", err, nil)
				}
			}
			c.bus.Publish(ctx, eventbus.TopicConnectionStatus, ConnectionStatus{Connected: true})
			return
		}

		delay = time.Duration(float64(delay) * 1.5)
		delay += time.Duration(rand.Intn(500)) * time.Millisecond
	}

	obslog.Event(ctx, "feed_reconnect_exhausted", obslog.Fields{"attempts": c.cfg.ReconnectMaxAttempts})
	c.setState(ctx, StateDisconnected)
}
