package optionchain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
	"github.com/Krishnaraj-Irkal/flowsense/internal/strategy"
)

type fakeSink struct {
	mu   sync.Mutex
	seen map[string]strategy.OptionChainSentiment
}

func newFakeSink() *fakeSink { return &fakeSink{seen: make(map[string]strategy.OptionChainSentiment)} }

func (f *fakeSink) UpdateOptionChain(securityID string, sentiment strategy.OptionChainSentiment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[securityID] = sentiment
}

func (f *fakeSink) get(securityID string) (strategy.OptionChainSentiment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.seen[securityID]
	return s, ok
}

func TestPollerFetchesAndForwardsSentiment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("securityId") != "1" {
			t.Errorf("expected securityId=1, got %q", r.URL.Query().Get("securityId"))
		}
		json.NewEncoder(w).Encode(chainResponse{Direction: "BUY", Strength: 75})
	}))
	defer server.Close()

	bus := eventbus.New()
	sink := newFakeSink()
	events := bus.Subscribe(eventbus.TopicOptionChain)

	p := New(server.URL, minInterval, []domain.Instrument{{SecurityID: "1"}}, bus, sink)
	p.pollAll(context.Background())

	sentiment, ok := sink.get("1")
	if !ok {
		t.Fatal("expected sink to receive a sentiment update")
	}
	if sentiment.Direction != domain.SideBuy || sentiment.Strength != 75 {
		t.Errorf("got %+v, want BUY/75", sentiment)
	}

	select {
	case <-events:
	default:
		t.Error("expected an option-chain event on the bus")
	}
}

func TestPollerSkipsInstrumentOnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	bus := eventbus.New()
	sink := newFakeSink()
	p := New(server.URL, minInterval, []domain.Instrument{{SecurityID: "1"}}, bus, sink)
	p.pollAll(context.Background())

	if _, ok := sink.get("1"); ok {
		t.Error("expected no sentiment update on a failed fetch")
	}
}

func TestNewEnforcesMinimumInterval(t *testing.T) {
	bus := eventbus.New()
	p := New("http://example.invalid", time.Millisecond, nil, bus, newFakeSink())
	if p.interval != minInterval {
		t.Errorf("got interval %v, want %v", p.interval, minInterval)
	}
}
