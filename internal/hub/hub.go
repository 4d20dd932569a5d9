// Package hub fans internal pipeline events out to UI subscribers over a
// framed connection (spec.md §4.8). The register/unregister/broadcast
// shape is grounded on
// _examples/yoghaf-market-indikator/internal/broadcast/server.go's Hub:
// a single goroutine owns the client set so no lock is needed around it,
// a per-client buffered send channel absorbs bursts, and a full channel
// means the client is dropped rather than the pipeline stalling.
//
// Authentication is explicitly out of scope (spec.md §1): the hub only
// depends on the Authenticator interface below, not on any concrete
// token scheme.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
	"github.com/Krishnaraj-Irkal/flowsense/internal/feed"
	"github.com/Krishnaraj-Irkal/flowsense/internal/obslog"
	"github.com/Krishnaraj-Irkal/flowsense/internal/strategy"
)

// sendQueueSize is the high-water mark for a client's outbound queue
// (spec.md §4.8 "e.g., 1000 messages"); a client that cannot keep up is
// disconnected rather than allowed to back-pressure the pipeline.
const sendQueueSize = 1000

// clientTopics are the fan-out topics a subscriber can join.
const (
	TopicTicks     = "ticks"
	TopicCandles   = "candles"
	TopicSignals   = "signals"
	TopicPositions = "positions"
	TopicPortfolio = "portfolio"
)

// Authenticator validates an inbound connection and returns an opaque
// subscriber id for logging. It is the only seam the out-of-scope auth
// collaborator needs to fill; Hub never parses a token itself.
type Authenticator interface {
	Authenticate(r *http.Request) (subscriberID string, err error)
}

// stateCache mirrors the latest published state so a newly connected
// client can be sent a status snapshot without replaying history
// (spec.md §4.8 "missed messages are not replayed"). It has its own lock
// because snapshot reads happen from connection-handling goroutines
// outside the single hub loop.
type stateCache struct {
	mu sync.Mutex

	connected        bool
	connectionReason string

	instruments map[string]bool
	positions   map[string]domain.Position
	portfolio   *domain.Portfolio
}

func newStateCache() *stateCache {
	return &stateCache{
		instruments: make(map[string]bool),
		positions:   make(map[string]domain.Position),
	}
}

// Hub owns the client set and the event-to-topic fan-out. All client-set
// mutation happens inside Run's single goroutine.
type Hub struct {
	bus      *eventbus.Bus
	registry *strategy.Registry
	auth     Authenticator

	register   chan *Client
	unregister chan *Client
	requests   chan clientRequest

	clients map[*Client]bool
	cache   *stateCache
}

// clientRequest is a one-shot pull (spec.md §4.8 "request:{portfolio|
// positions|strategies}"). It is routed through the hub loop so that
// Hub.Run remains the only goroutine that ever writes to or closes a
// client's send channel.
type clientRequest struct {
	client *Client
	topic  string
}

// New constructs a Hub. auth may be nil, meaning every connection is
// accepted (the out-of-scope default for local/dev use).
func New(bus *eventbus.Bus, registry *strategy.Registry, auth Authenticator) *Hub {
	return &Hub{
		bus:        bus,
		registry:   registry,
		auth:       auth,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		requests:   make(chan clientRequest, 64),
		clients:    make(map[*Client]bool),
		cache:      newStateCache(),
	}
}

// Run owns the client set and the fan-out loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticks := h.bus.Subscribe(eventbus.TopicTick)
	candleUpdates := h.bus.Subscribe(eventbus.TopicCandleUpdate)
	candleCloses := h.bus.Subscribe(eventbus.TopicCandleClose)
	signals := h.bus.Subscribe(eventbus.TopicSignal)
	positionUpdates := h.bus.Subscribe(eventbus.TopicPositionUpdate)
	positionClosed := h.bus.Subscribe(eventbus.TopicPositionClosed)
	portfolioUpdates := h.bus.Subscribe(eventbus.TopicPortfolioUpdate)
	connStatus := h.bus.Subscribe(eventbus.TopicConnectionStatus)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.clients[c] = true
			obslog.Event(ctx, "hub_client_connected", obslog.Fields{"subscriberId": c.subscriberID, "clients": len(h.clients)})

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				obslog.Event(ctx, "hub_client_disconnected", obslog.Fields{"subscriberId": c.subscriberID, "clients": len(h.clients)})
			}

		case req := <-h.requests:
			if _, ok := h.clients[req.client]; ok {
				h.deliver(ctx, req.client, req.topic)
			}

		case msg := <-ticks:
			if tick, ok := msg.(*domain.Tick); ok {
				h.cache.touchInstrument(tick.SecurityID)
				h.broadcast(ctx, TopicTicks, tick)
			}

		case msg := <-candleUpdates:
			h.broadcast(ctx, TopicCandles, msg)

		case msg := <-candleCloses:
			if candle, ok := msg.(domain.Candle); ok {
				h.cache.touchInstrument(candle.SecurityID)
			}
			h.broadcast(ctx, TopicCandles, msg)

		case msg := <-signals:
			h.broadcast(ctx, TopicSignals, msg)

		case msg := <-positionUpdates:
			if p, ok := msg.(domain.Position); ok {
				h.cache.putPosition(p)
			}
			h.broadcast(ctx, TopicPositions, msg)

		case msg := <-positionClosed:
			if p, ok := msg.(domain.Position); ok {
				h.cache.removePosition(p.ID)
			}
			h.broadcast(ctx, TopicPositions, msg)

		case msg := <-portfolioUpdates:
			if p, ok := msg.(domain.Portfolio); ok {
				h.cache.putPortfolio(p)
			}
			h.broadcast(ctx, TopicPortfolio, msg)

		case msg := <-connStatus:
			if cs, ok := msg.(feed.ConnectionStatus); ok {
				h.cache.setConnection(cs.Connected, cs.Reason)
			}
		}
	}
}

// broadcast fans msg out to every client subscribed to topic. A client
// whose queue is already at the high-water mark is disconnected instead
// of blocking or dropping the message silently (spec.md §4.8).
func (h *Hub) broadcast(ctx context.Context, topic string, payload any) {
	env := envelope{Topic: topic, Payload: payload, SentAt: time.Now().UTC()}
	for c := range h.clients {
		if !c.subscribed(topic) {
			continue
		}
		select {
		case c.send <- env:
		default:
			obslog.Event(ctx, "hub_client_queue_overflow", obslog.Fields{"subscriberId": c.subscriberID, "topic": topic})
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// deliver answers a single client's pull request, using the same
// overflow-drop rule as broadcast.
func (h *Hub) deliver(ctx context.Context, c *Client, topic string) {
	var payload any
	switch topic {
	case TopicPortfolio:
		payload = h.portfolioSnapshot()
	case TopicPositions:
		payload = h.positionsSnapshot()
	case "strategies":
		payload = h.strategiesSnapshot()
	default:
		return
	}
	env := envelope{Topic: topic, Payload: payload, SentAt: time.Now().UTC()}
	select {
	case c.send <- env:
	default:
		obslog.Event(ctx, "hub_client_queue_overflow", obslog.Fields{"subscriberId": c.subscriberID, "topic": topic})
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Register enqueues a newly handshaken client for the hub loop to adopt.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister enqueues a disconnected client for cleanup.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

func (s *stateCache) touchInstrument(securityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[securityID] = true
}

func (s *stateCache) putPosition(p domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
}

func (s *stateCache) removePosition(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, id)
}

func (s *stateCache) putPortfolio(p domain.Portfolio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolio = &p
}

func (s *stateCache) setConnection(connected bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	s.connectionReason = reason
}
