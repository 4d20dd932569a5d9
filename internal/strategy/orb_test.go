package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

func TestORBOpeningRangeAndBreakout(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+30*60)
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, loc)
	orb := NewORB(loc)
	ctx := context.Background()

	opening := []domain.Candle{
		{SecurityID: "1", Timestamp: day.Add(9*time.Hour + 15*time.Minute), High: 105, Low: 100},
		{SecurityID: "1", Timestamp: day.Add(9*time.Hour + 20*time.Minute), High: 108, Low: 99},
		{SecurityID: "1", Timestamp: day.Add(9*time.Hour + 25*time.Minute), High: 106, Low: 98},
	}
	for _, c := range opening {
		if cand, err := orb.OnCandle(ctx, c, domain.DepthMetrics{}, nil); err != nil || cand != nil {
			t.Fatalf("opening range candle produced candidate=%v err=%v, want nil,nil", cand, err)
		}
	}

	var history []domain.Candle
	for i := 0; i < 20; i++ {
		history = append(history, domain.Candle{SecurityID: "1", Volume: 100})
	}

	breakout := domain.Candle{
		SecurityID: "1",
		Timestamp:  day.Add(9*time.Hour + 35*time.Minute),
		Close:      110,
		High:       111,
		Low:        109,
		Volume:     500,
	}
	cand, err := orb.OnCandle(ctx, breakout, domain.DepthMetrics{OrderBookStrength: 1500}, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand == nil {
		t.Fatal("expected a breakout candidate, got nil")
	}
	if cand.Side != domain.SideBuy {
		t.Errorf("got side %v, want BUY", cand.Side)
	}
	if cand.StopLoss != 98 {
		t.Errorf("got stopLoss %v, want 98 (OR low)", cand.StopLoss)
	}

	// A second breakout candle must not re-trade the same direction.
	again, err := orb.OnCandle(ctx, breakout, domain.DepthMetrics{OrderBookStrength: 1500}, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != nil {
		t.Errorf("expected no repeat trade, got %v", again)
	}
}

func TestORBInsufficientVolumeSkips(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+30*60)
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, loc)
	orb := NewORB(loc)
	ctx := context.Background()

	orb.OnCandle(ctx, domain.Candle{SecurityID: "1", Timestamp: day.Add(9*time.Hour + 15*time.Minute), High: 105, Low: 100}, domain.DepthMetrics{}, nil)

	var history []domain.Candle
	for i := 0; i < 20; i++ {
		history = append(history, domain.Candle{SecurityID: "1", Volume: 1000})
	}

	breakout := domain.Candle{
		SecurityID: "1",
		Timestamp:  day.Add(9*time.Hour + 35*time.Minute),
		Close:      110,
		High:       111,
		Low:        109,
		Volume:     1100, // below 2x the trailing average
	}
	cand, err := orb.OnCandle(ctx, breakout, domain.DepthMetrics{OrderBookStrength: 1500}, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand != nil {
		t.Errorf("expected nil on insufficient volume, got %v", cand)
	}
}
