package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
	"github.com/Krishnaraj-Irkal/flowsense/internal/feed"
	"github.com/Krishnaraj-Irkal/flowsense/internal/strategy"
)

type fakeStrategy struct{ name string }

func (f *fakeStrategy) Name() string                { return f.name }
func (f *fakeStrategy) Timeframe() domain.Interval  { return domain.Interval5m }
func (f *fakeStrategy) MaxTradesPerDay() int        { return 3 }
func (f *fakeStrategy) Intraday() bool              { return true }
func (f *fakeStrategy) ResetDaily()                 {}
func (f *fakeStrategy) OnCandle(ctx context.Context, candle domain.Candle, avgDepth domain.DepthMetrics, history []domain.Candle) (*strategy.Candidate, error) {
	return nil, nil
}

func newTestHub() (*Hub, *eventbus.Bus) {
	bus := eventbus.New()
	reg := strategy.NewRegistry()
	reg.Register(&fakeStrategy{name: "orb"})
	return New(bus, reg, nil), bus
}

func TestSnapshotReflectsCachedState(t *testing.T) {
	h, bus := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	bus.Publish(ctx, eventbus.TopicConnectionStatus, feed.ConnectionStatus{Connected: true})
	bus.Publish(ctx, eventbus.TopicPortfolioUpdate, domain.Portfolio{UserID: "default", TotalCapital: 20000})
	bus.Publish(ctx, eventbus.TopicPositionUpdate, domain.Position{ID: "p1", SecurityID: "1", Status: domain.PositionOpen})

	// Give the hub loop a chance to drain the bus (it reads from
	// unbuffered-equivalent fan-out channels asynchronously).
	time.Sleep(20 * time.Millisecond)

	snap := h.Snapshot()
	if !snap.Connected {
		t.Error("expected snapshot to report connected")
	}
	if snap.Portfolio == nil || snap.Portfolio.TotalCapital != 20000 {
		t.Errorf("expected cached portfolio, got %+v", snap.Portfolio)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].ID != "p1" {
		t.Errorf("expected 1 cached open position, got %+v", snap.Positions)
	}
	if len(snap.Strategies) != 1 || snap.Strategies[0].Name != "orb" {
		t.Errorf("expected registered strategy in snapshot, got %+v", snap.Strategies)
	}
}

func TestPositionClosedRemovesFromSnapshot(t *testing.T) {
	h, bus := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	bus.Publish(ctx, eventbus.TopicPositionUpdate, domain.Position{ID: "p1", SecurityID: "1", Status: domain.PositionOpen})
	time.Sleep(10 * time.Millisecond)
	bus.Publish(ctx, eventbus.TopicPositionClosed, domain.Position{ID: "p1", SecurityID: "1", Status: domain.PositionClosed})
	time.Sleep(10 * time.Millisecond)

	snap := h.Snapshot()
	if len(snap.Positions) != 0 {
		t.Errorf("expected closed position to be removed, got %+v", snap.Positions)
	}
}

func TestServeHTTPSubscribeAndBroadcast(t *testing.T) {
	h, bus := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	server := httptest.NewServer(h)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// First frame is always the connect-time snapshot.
	var snapEnv envelope
	if err := conn.ReadJSON(&snapEnv); err != nil {
		t.Fatalf("reading snapshot frame: %v", err)
	}
	if snapEnv.Topic != "snapshot" {
		t.Errorf("got topic %q, want snapshot", snapEnv.Topic)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("subscribe:signals")); err != nil {
		t.Fatalf("subscribe write failed: %v", err)
	}
	// Let the read pump process the subscribe command before publishing.
	time.Sleep(20 * time.Millisecond)

	sig := domain.Signal{ID: "sig-1", StrategyName: "orb", SecurityID: "1", Side: domain.SideBuy}
	bus.Publish(ctx, eventbus.TopicSignal, sig)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var sigEnv envelope
	if err := conn.ReadJSON(&sigEnv); err != nil {
		t.Fatalf("reading signal broadcast: %v", err)
	}
	if sigEnv.Topic != TopicSignals {
		t.Errorf("got topic %q, want %q", sigEnv.Topic, TopicSignals)
	}
	payload, ok := sigEnv.Payload.(map[string]any)
	if !ok || payload["id"] != "sig-1" {
		t.Errorf("unexpected signal payload: %+v", sigEnv.Payload)
	}
}

func TestServeHTTPRequestPortfolio(t *testing.T) {
	h, bus := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	bus.Publish(ctx, eventbus.TopicPortfolioUpdate, domain.Portfolio{UserID: "default", TotalCapital: 5000})
	time.Sleep(10 * time.Millisecond)

	server := httptest.NewServer(h)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var snapEnv envelope
	if err := conn.ReadJSON(&snapEnv); err != nil {
		t.Fatalf("reading snapshot frame: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("request:portfolio")); err != nil {
		t.Fatalf("request write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("reading portfolio response: %v", err)
	}
	if env.Topic != TopicPortfolio {
		t.Errorf("got topic %q, want %q", env.Topic, TopicPortfolio)
	}
	data, err := json.Marshal(env.Payload)
	if err != nil {
		t.Fatal(err)
	}
	var got domain.Portfolio
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.TotalCapital != 5000 {
		t.Errorf("got totalCapital %v, want 5000", got.TotalCapital)
	}
}
