// Package domain holds the entities shared across every pipeline stage:
// instruments, ticks, depth, candles, signals, orders, positions, and
// portfolios.
package domain

// ExchangeSegment identifies the class of instrument a securityId belongs to.
type ExchangeSegment string

const (
	SegmentIndex       ExchangeSegment = "index"
	SegmentEquity      ExchangeSegment = "equity"
	SegmentDerivatives ExchangeSegment = "derivatives"
)

// Instrument is immutable configuration for a tradeable security.
type Instrument struct {
	SecurityID      string          `json:"securityId" yaml:"securityId"`
	Symbol          string          `json:"symbol" yaml:"symbol"`
	ExchangeSegment ExchangeSegment `json:"exchangeSegment" yaml:"exchangeSegment"`
	LotSize         int             `json:"lotSize" yaml:"lotSize"`
	TickSize        float64         `json:"tickSize" yaml:"tickSize"`
}
