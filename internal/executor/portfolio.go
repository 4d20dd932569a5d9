package executor

import "github.com/shopspring/decimal"

// round2 rounds v to 2 decimal places using decimal arithmetic, matching
// the ledger's fill-price precision.
func round2(v float64) float64 {
	result, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return result
}

// realizedPnL computes sign*(exit-entry)*qty (spec.md §4.7 "Closing a
// position"), rounded to ledger precision.
func realizedPnL(sign, entry, exit float64, qty int) float64 {
	d := decimal.NewFromFloat(sign).
		Mul(decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))).
		Mul(decimal.NewFromInt(int64(qty)))
	result, _ := d.Round(2).Float64()
	return result
}
