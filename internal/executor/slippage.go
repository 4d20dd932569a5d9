package executor

import (
	"github.com/shopspring/decimal"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// baseSlippageBps is the fixed adverse-fill cost applied to every trade
// (spec.md §4.7 slippage model).
const baseSlippageBps = 5.0

// liquidityPenaltyThreshold is the liquidityScore below which a penalty
// applies.
const liquidityPenaltyThreshold = 70.0

// simulateFill returns the simulated fill price for side at signalPrice,
// applying the slippage model adversely to the trade direction: BUY fills
// above signalPrice, SELL fills below. Fill-price arithmetic runs through
// decimal so the 2-decimal rounding matches the ledger's precision rather
// than float64's binary rounding.
func simulateFill(side domain.Side, signalPrice, liquidityScore float64, lots int, jitter float64) float64 {
	bps := baseSlippageBps

	if liquidityScore < liquidityPenaltyThreshold {
		bps += (liquidityPenaltyThreshold - liquidityScore) / liquidityPenaltyThreshold * 2
	}
	if lots > 1 {
		bps += 0.5 * float64(lots-1)
	}
	bps += jitter

	pct := decimal.NewFromFloat(bps).Div(decimal.NewFromInt(10_000))
	price := decimal.NewFromFloat(signalPrice)

	var fill decimal.Decimal
	if side == domain.SideBuy {
		fill = price.Mul(decimal.NewFromInt(1).Add(pct))
	} else {
		fill = price.Mul(decimal.NewFromInt(1).Sub(pct))
	}

	result, _ := fill.Round(2).Float64()
	return result
}
