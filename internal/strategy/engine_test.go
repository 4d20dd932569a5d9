package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
)

type fakeCandleStore struct {
	history []domain.Candle
}

func (f *fakeCandleStore) RecentCandles(ctx context.Context, securityID string, interval domain.Interval, n int) ([]domain.Candle, error) {
	return f.history, nil
}

type fakeSignalStore struct {
	saved []domain.Signal
}

func (f *fakeSignalStore) SaveSignal(ctx context.Context, sig domain.Signal) error {
	f.saved = append(f.saved, sig)
	return nil
}

type alwaysBuyStrategy struct {
	name   string
	called int
}

func (s *alwaysBuyStrategy) Name() string               { return s.name }
func (s *alwaysBuyStrategy) Timeframe() domain.Interval  { return domain.Interval5m }
func (s *alwaysBuyStrategy) MaxTradesPerDay() int        { return 1 }
func (s *alwaysBuyStrategy) Intraday() bool              { return false }
func (s *alwaysBuyStrategy) ResetDaily()                 { s.called = 0 }
func (s *alwaysBuyStrategy) OnCandle(ctx context.Context, candle domain.Candle, avgDepth domain.DepthMetrics, history []domain.Candle) (*Candidate, error) {
	s.called++
	return &Candidate{Side: domain.SideBuy, Price: candle.Close, Reason: "test"}, nil
}

func TestEngineEmitsSignalAndEnforcesDailyCap(t *testing.T) {
	registry := NewRegistry()
	strat := &alwaysBuyStrategy{name: "always-buy"}
	registry.Register(strat)

	bus := eventbus.New()
	store := &fakeCandleStore{}
	signals := &fakeSignalStore{}
	loc := time.FixedZone("IST", 5*3600+30*60)
	sizing := SizingConfig{TotalCapital: 20000, RiskPct: 0.01, StopLossPct: 0.01, TargetPct: 0.03, LotSize: 75}

	engine := NewEngine(registry, store, signals, bus, sizing, loc)
	signalCh := bus.Subscribe(eventbus.TopicSignal)

	candle := domain.Candle{
		SecurityID: "1",
		Interval:   domain.Interval5m,
		Close:      100,
		Timestamp:  time.Date(2026, 7, 30, 10, 0, 0, 0, loc),
		AvgImbalance: 1.5,
		AvgStrength:  10,
		AvgLiquidity: 80,
	}

	engine.handleCandle(context.Background(), candle)

	select {
	case msg := <-signalCh:
		sig, ok := msg.(domain.Signal)
		if !ok {
			t.Fatalf("got %T, want domain.Signal", msg)
		}
		if sig.StrategyName != "always-buy" || sig.SecurityID != "1" {
			t.Errorf("unexpected signal: %+v", sig)
		}
	default:
		t.Fatal("expected a signal to be published")
	}

	if len(signals.saved) != 1 {
		t.Fatalf("expected the signal to be persisted, got %d saved", len(signals.saved))
	}
	if got := engine.LifetimeSignalCount("always-buy"); got != 1 {
		t.Errorf("lifetime signal count = %d, want 1", got)
	}

	// Second candle on the same day should be blocked by the daily cap.
	engine.handleCandle(context.Background(), candle)
	select {
	case msg := <-signalCh:
		t.Errorf("expected daily cap to block a second signal, got %v", msg)
	default:
	}

	if strat.called != 1 {
		t.Errorf("strategy should only be invoked while under its daily cap, called %d times", strat.called)
	}

	engine.ResetDaily()
	engine.handleCandle(context.Background(), candle)
	select {
	case <-signalCh:
	default:
		t.Error("expected a signal after daily reset")
	}

	if got := engine.LifetimeSignalCount("always-buy"); got != 2 {
		t.Errorf("lifetime signal count should survive ResetDaily, got %d, want 2", got)
	}
}
