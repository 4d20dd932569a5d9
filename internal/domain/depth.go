package domain

import "time"

// DepthLevel is one rung of a bid or ask ladder.
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity int32   `json:"quantity"`
	Orders   int32   `json:"orders"`
}

// MarketDepth is up to 20 bid levels (descending price) and 20 ask levels
// (ascending price) for a security.
type MarketDepth struct {
	SecurityID string       `json:"securityId"`
	Bids       []DepthLevel `json:"bids"`
	Asks       []DepthLevel `json:"asks"`
	CapturedAt time.Time    `json:"capturedAt"`
}

// DepthMetrics is recomputed per tick and averaged per candle.
type DepthMetrics struct {
	BidAskImbalance   float64 `json:"bidAskImbalance"`
	DepthSpread       float64 `json:"depthSpread"`
	OrderBookStrength float64 `json:"orderBookStrength"`
	VolumeDelta       float64 `json:"volumeDelta"`
	LiquidityScore    float64 `json:"liquidityScore"`
}

// NeutralDepthMetrics is the default used when a candle closes with no ticks.
func NeutralDepthMetrics() DepthMetrics {
	return DepthMetrics{BidAskImbalance: 1, DepthSpread: 0, OrderBookStrength: 0}
}

// Tick is an enriched market-data event created on every full quote packet.
type Tick struct {
	SecurityID    string       `json:"securityId"`
	LTP           float64      `json:"ltp"`
	LTQ           int32        `json:"ltq"`
	LTT           time.Time    `json:"ltt"`
	Open          float64      `json:"open"`
	High          float64      `json:"high"`
	Low           float64      `json:"low"`
	Close         float64      `json:"close"`
	ATP           float64      `json:"atp"`
	Volume        int64        `json:"volume"`
	TotalBuyQty   int64        `json:"totalBuyQty"`
	TotalSellQty  int64        `json:"totalSellQty"`
	DepthMetrics  DepthMetrics `json:"depthMetrics"`
	CapturedAt    time.Time    `json:"capturedAt"`
}
