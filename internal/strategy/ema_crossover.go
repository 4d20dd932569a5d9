package strategy

import (
	"context"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/indicators"
)

// EMACrossover trades 5m closes on EMA(9)/EMA(21) crossovers confirmed by
// a volume surge (spec.md §4.6.1).
type EMACrossover struct{}

// NewEMACrossover constructs the EMA crossover strategy.
func NewEMACrossover() *EMACrossover { return &EMACrossover{} }

func (s *EMACrossover) Name() string               { return "ema-crossover" }
func (s *EMACrossover) Timeframe() domain.Interval  { return domain.Interval5m }
func (s *EMACrossover) MaxTradesPerDay() int        { return 3 }
func (s *EMACrossover) Intraday() bool              { return true }
func (s *EMACrossover) ResetDaily()                 {}

// OnCandle requires at least 21 candles of history, recomputes EMA(9)/
// EMA(21), and requires a fresh crossover plus volume >= 1.2x the
// trailing 10-bar average.
func (s *EMACrossover) OnCandle(ctx context.Context, candle domain.Candle, avgDepth domain.DepthMetrics, history []domain.Candle) (*Candidate, error) {
	if len(history) < 21 {
		return nil, nil
	}

	closes := make([]float64, len(history))
	for i, c := range history {
		closes[i] = c.Close
	}

	fast := indicators.EMA(closes, 9)
	slow := indicators.EMA(closes, 21)
	direction := indicators.DetectEMACrossover(fast, slow)
	if direction == indicators.CrossoverNone {
		return nil, nil
	}

	trailing := history
	if len(trailing) > 10 {
		trailing = trailing[len(trailing)-10:]
	}
	avgVol := AverageVolume(trailing)
	if avgVol == 0 || float64(candle.Volume) < 1.2*avgVol {
		return nil, nil
	}

	side := domain.SideBuy
	reason := "bullish EMA(9)/EMA(21) crossover with volume confirmation"
	if direction == indicators.CrossoverBearish {
		side = domain.SideSell
		reason = "bearish EMA(9)/EMA(21) crossover with volume confirmation"
	}

	return &Candidate{
		Side:   side,
		Price:  candle.Close,
		Reason: reason,
	}, nil
}
