package strategy

import (
	"context"
	"testing"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

func buildHistory(closes []float64, volumes []int64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{SecurityID: "1", Close: c, Volume: volumes[i]}
	}
	return out
}

func TestEMACrossoverTooShortHistory(t *testing.T) {
	s := NewEMACrossover()
	closes := make([]float64, 10)
	volumes := make([]int64, 10)
	for i := range closes {
		closes[i] = 100
		volumes[i] = 100
	}
	history := buildHistory(closes, volumes)
	cand, err := s.OnCandle(context.Background(), history[len(history)-1], domain.DepthMetrics{}, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand != nil {
		t.Errorf("expected nil with < 21 candles, got %v", cand)
	}
}

func TestEMACrossoverBullishWithVolumeSurge(t *testing.T) {
	s := NewEMACrossover()

	closes := make([]float64, 25)
	volumes := make([]int64, 25)
	for i := range closes {
		closes[i] = 100
		volumes[i] = 100
	}
	// A sharp run-up in the final bars drives EMA9 above EMA21.
	for i := 18; i < 25; i++ {
		closes[i] = 100 + float64(i-17)*5
	}
	volumes[24] = 500 // surge on the crossover bar

	history := buildHistory(closes, volumes)
	cand, err := s.OnCandle(context.Background(), history[len(history)-1], domain.DepthMetrics{}, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand == nil {
		t.Fatal("expected a bullish candidate, got nil")
	}
	if cand.Side != domain.SideBuy {
		t.Errorf("got side %v, want BUY", cand.Side)
	}
}
