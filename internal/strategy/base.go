package strategy

import (
	"math"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// SizingConfig carries the shared risk/sizing parameters read from
// process configuration (spec.md §6: riskPct, stopLossPct, targetPct,
// lotSize).
type SizingConfig struct {
	TotalCapital float64
	RiskPct      float64
	StopLossPct  float64
	TargetPct    float64
	LotSize      int
}

// DefaultStopTarget returns the 1%/3% stop and target for side at price,
// unless the strategy already supplied custom levels.
func DefaultStopTarget(side domain.Side, price float64, cfg SizingConfig) (stopLoss, target float64) {
	if side == domain.SideBuy {
		return price * (1 - cfg.StopLossPct), price * (1 + cfg.TargetPct)
	}
	return price * (1 + cfg.StopLossPct), price * (1 - cfg.TargetPct)
}

// PositionSize computes risk = totalCapital*riskPct, per-unit risk =
// entryPrice*stopLossPct, raw qty = risk/per-unit risk, rounded down to
// the nearest lot with a minimum of one lot (spec.md §4.6).
func PositionSize(totalCapital, entryPrice float64, cfg SizingConfig) int {
	if entryPrice <= 0 || cfg.LotSize <= 0 {
		return 0
	}
	risk := totalCapital * cfg.RiskPct
	perUnitRisk := entryPrice * cfg.StopLossPct
	if perUnitRisk <= 0 {
		return 0
	}
	rawQty := risk / perUnitRisk
	lots := math.Floor(rawQty / float64(cfg.LotSize))
	if lots < 1 {
		lots = 1
	}
	return int(lots) * cfg.LotSize
}

// DepthFilterResult is the shared depth-based rejection check applied to
// every candidate signal regardless of which strategy produced it.
type DepthFilterResult struct {
	Pass   bool
	Reason string
}

// PassesDepthFilter enforces spec.md §4.6's shared depth filters: BUY
// needs imbalance>=1.3 and strength>0; SELL needs imbalance<=0.77 and
// strength<0; either side needs liquidityScore>=60.
func PassesDepthFilter(side domain.Side, depth domain.DepthMetrics) DepthFilterResult {
	if depth.LiquidityScore < 60 {
		return DepthFilterResult{Pass: false, Reason: "liquidityScore below 60"}
	}
	switch side {
	case domain.SideBuy:
		if depth.BidAskImbalance < 1.3 || depth.OrderBookStrength <= 0 {
			return DepthFilterResult{Pass: false, Reason: "buy depth filter failed"}
		}
	case domain.SideSell:
		if depth.BidAskImbalance > 0.77 || depth.OrderBookStrength >= 0 {
			return DepthFilterResult{Pass: false, Reason: "sell depth filter failed"}
		}
	}
	return DepthFilterResult{Pass: true}
}

// IntradayWindow is the 09:30-15:15 local trading window intraday
// strategies are confined to.
func IntradayWindow(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	open := time.Date(local.Year(), local.Month(), local.Day(), 9, 30, 0, 0, loc)
	close := time.Date(local.Year(), local.Month(), local.Day(), 15, 15, 0, 0, loc)
	return !local.Before(open) && !local.After(close)
}

// AverageVolume returns the mean Volume across the given candles, or 0
// for an empty slice.
func AverageVolume(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var total int64
	for _, c := range candles {
		total += c.Volume
	}
	return float64(total) / float64(len(candles))
}
