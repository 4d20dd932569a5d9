package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// confluenceCandleStore returns a long, strongly EMA-aligned run of rising
// closes on every interval so the confirmer reports an aligned BUY.
type confluenceCandleStore struct{}

func (confluenceCandleStore) RecentCandles(ctx context.Context, securityID string, interval domain.Interval, n int) ([]domain.Candle, error) {
	out := make([]domain.Candle, 50)
	for i := range out {
		out[i] = domain.Candle{SecurityID: securityID, Interval: interval, Close: 100 + float64(i)}
	}
	return out, nil
}

func TestConfluenceRequiresFourOfFiveAndAlignment(t *testing.T) {
	store := confluenceCandleStore{}
	s := NewConfluence(store)

	var window []domain.Candle
	base := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	// Five prior tightly-consolidated candles (confluence #5).
	for i := 0; i < 5; i++ {
		window = append(window, domain.Candle{
			SecurityID: "1",
			Interval:   domain.Interval5m,
			Timestamp:  base.Add(time.Duration(i) * 5 * time.Minute),
			Open:       100, High: 100.3, Low: 99.8, Close: 100.1,
			Volume: 1000,
		})
	}
	breakout := domain.Candle{
		SecurityID: "1",
		Interval:   domain.Interval5m,
		Timestamp:  base.Add(5 * 5 * time.Minute),
		Open:       100.1, High: 106, Low: 100, Close: 105.5,
		Volume: 2000, // > 1.3x average (confluence #2)
	}
	window = append(window, breakout)

	s.UpdateDepthAnalytics("1", DepthAnalyticsSnapshot{AbsorptionDirection: domain.SideBuy, AbsorptionStrength: 25})
	s.UpdateOptionChain("1", OptionChainSentiment{Direction: domain.SideBuy, Strength: 70})

	cand, err := s.OnCandle(context.Background(), breakout, domain.DepthMetrics{}, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand == nil {
		t.Fatal("expected a confluence candidate, got nil")
	}
	if cand.Side != domain.SideBuy {
		t.Errorf("got side %v, want BUY", cand.Side)
	}
	if cand.QualityScore < 80 {
		t.Errorf("expected a high quality score with 5/5 confluences, got %v", cand.QualityScore)
	}
}

func TestConfluenceRejectsWithoutBreakoutCandle(t *testing.T) {
	store := confluenceCandleStore{}
	s := NewConfluence(store)

	var window []domain.Candle
	base := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		window = append(window, domain.Candle{
			SecurityID: "1",
			Timestamp:  base.Add(time.Duration(i) * 5 * time.Minute),
			Open:       100, High: 100.1, Low: 99.9, Close: 100,
			Volume: 1000,
		})
	}

	cand, err := s.OnCandle(context.Background(), window[len(window)-1], domain.DepthMetrics{}, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand != nil {
		t.Errorf("expected nil without a breakout candle, got %v", cand)
	}
}
