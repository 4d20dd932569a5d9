package strategy

import (
	"testing"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

func TestDefaultStopTarget(t *testing.T) {
	cfg := SizingConfig{StopLossPct: 0.01, TargetPct: 0.03}

	sl, target := DefaultStopTarget(domain.SideBuy, 100, cfg)
	if sl != 99 || target != 103 {
		t.Errorf("buy: got sl=%v target=%v, want 99/103", sl, target)
	}

	sl, target = DefaultStopTarget(domain.SideSell, 100, cfg)
	if sl != 101 || target != 97 {
		t.Errorf("sell: got sl=%v target=%v, want 101/97", sl, target)
	}
}

func TestPositionSize(t *testing.T) {
	cfg := SizingConfig{RiskPct: 0.01, StopLossPct: 0.01, LotSize: 75}
	// risk = 20000*0.01 = 200, per-unit risk = 100*0.01 = 1, raw qty = 200,
	// floored to lots of 75 -> 2 lots -> 150.
	got := PositionSize(20000, 100, cfg)
	if got != 150 {
		t.Errorf("got %d, want 150", got)
	}

	// Below one lot still returns the minimum lot.
	cfg2 := SizingConfig{RiskPct: 0.001, StopLossPct: 0.01, LotSize: 75}
	got2 := PositionSize(20000, 100, cfg2)
	if got2 != 75 {
		t.Errorf("got %d, want minimum lot 75", got2)
	}
}

func TestPassesDepthFilter(t *testing.T) {
	cases := []struct {
		name string
		side domain.Side
		dm   domain.DepthMetrics
		pass bool
	}{
		{"buy ok", domain.SideBuy, domain.DepthMetrics{LiquidityScore: 80, BidAskImbalance: 1.5, OrderBookStrength: 10}, true},
		{"buy weak imbalance", domain.SideBuy, domain.DepthMetrics{LiquidityScore: 80, BidAskImbalance: 1.1, OrderBookStrength: 10}, false},
		{"buy low liquidity", domain.SideBuy, domain.DepthMetrics{LiquidityScore: 50, BidAskImbalance: 1.5, OrderBookStrength: 10}, false},
		{"sell ok", domain.SideSell, domain.DepthMetrics{LiquidityScore: 80, BidAskImbalance: 0.5, OrderBookStrength: -10}, true},
		{"sell weak imbalance", domain.SideSell, domain.DepthMetrics{LiquidityScore: 80, BidAskImbalance: 0.9, OrderBookStrength: -10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PassesDepthFilter(tc.side, tc.dm)
			if got.Pass != tc.pass {
				t.Errorf("got pass=%v reason=%q, want %v", got.Pass, got.Reason, tc.pass)
			}
		})
	}
}

func TestIntradayWindow(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+30*60)
	day := time.Date(2026, 7, 30, 0, 0, 0, 0, loc)

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before open", day.Add(9 * time.Hour), false},
		{"at open", day.Add(9*time.Hour + 30*time.Minute), true},
		{"mid session", day.Add(12 * time.Hour), true},
		{"at close", day.Add(15*time.Hour + 15*time.Minute), true},
		{"after close", day.Add(15*time.Hour + 30*time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IntradayWindow(tc.t, loc); got != tc.want {
				t.Errorf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestAverageVolume(t *testing.T) {
	if got := AverageVolume(nil); got != 0 {
		t.Errorf("empty: got %v want 0", got)
	}
	candles := []domain.Candle{{Volume: 100}, {Volume: 200}, {Volume: 300}}
	if got := AverageVolume(candles); got != 200 {
		t.Errorf("got %v want 200", got)
	}
}
