// Package depth computes order-book metrics from a Full packet
// (spec.md §4.2): imbalance, spread, weighted strength, rolling volume
// delta, and a bounded liquidity score. Every exported function is pure;
// the only state is the per-security volume-delta ring kept by Calculator.
package depth

import "github.com/Krishnaraj-Irkal/flowsense/internal/domain"

// levelWeights are applied to the five depth levels (best to worst) when
// computing order book strength.
var levelWeights = [5]float64{5, 4, 3, 2, 1}

// volumeSample is one (totalBuyQty, totalSellQty) observation for the
// rolling volume-delta ring.
type volumeSample struct {
	buy  int64
	sell int64
}

const volumeRingSize = 5

// Calculator tracks the bounded per-security volume ring needed for
// VolumeDelta; everything else is a pure function of a single packet.
type Calculator struct {
	rings map[string][]volumeSample
}

// NewCalculator returns an empty Calculator.
func NewCalculator() *Calculator {
	return &Calculator{rings: make(map[string][]volumeSample)}
}

// Compute derives DepthMetrics for one Full packet's depth ladder plus
// cumulative buy/sell totals, updating the security's rolling volume
// ring.
func (c *Calculator) Compute(securityID string, depth domain.MarketDepth, ltp float64, totalBuyQty, totalSellQty int64) domain.DepthMetrics {
	return domain.DepthMetrics{
		BidAskImbalance:   bidAskImbalance(depth),
		DepthSpread:       depthSpread(depth, ltp),
		OrderBookStrength: orderBookStrength(depth),
		VolumeDelta:       c.volumeDelta(securityID, totalBuyQty, totalSellQty),
		LiquidityScore:    liquidityScore(depth, ltp),
	}
}

func sumQty(levels []domain.DepthLevel) int64 {
	var total int64
	for _, l := range levels {
		total += int64(l.Quantity)
	}
	return total
}

// bidAskImbalance is sumBidQty/sumAskQty across the five levels; 10 is
// the sentinel when the ask side is zero (extreme buy pressure).
func bidAskImbalance(depth domain.MarketDepth) float64 {
	bid := sumQty(depth.Bids)
	ask := sumQty(depth.Asks)
	if ask == 0 {
		return 10
	}
	return float64(bid) / float64(ask)
}

// depthSpread is (bestAsk-bestBid)/ltp, fractional.
func depthSpread(depth domain.MarketDepth, ltp float64) float64 {
	if ltp == 0 || len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return 0
	}
	bestBid := depth.Bids[0].Price
	bestAsk := depth.Asks[0].Price
	return (bestAsk - bestBid) / ltp
}

// orderBookStrength is the weighted bid-minus-ask quantity across levels
// 1..5, weights [5,4,3,2,1].
func orderBookStrength(depth domain.MarketDepth) float64 {
	var strength float64
	for i := 0; i < len(depth.Bids) && i < 5; i++ {
		strength += levelWeights[i] * float64(depth.Bids[i].Quantity)
	}
	for i := 0; i < len(depth.Asks) && i < 5; i++ {
		strength -= levelWeights[i] * float64(depth.Asks[i].Quantity)
	}
	return strength
}

// volumeDelta keeps the last 5 (totalBuyQty, totalSellQty) samples per
// security; delta is (newBuy-oldBuy)-(newSell-oldSell) across the ring,
// or 0 with fewer than 2 samples.
func (c *Calculator) volumeDelta(securityID string, buy, sell int64) float64 {
	ring := c.rings[securityID]
	ring = append(ring, volumeSample{buy: buy, sell: sell})
	if len(ring) > volumeRingSize {
		ring = ring[len(ring)-volumeRingSize:]
	}
	c.rings[securityID] = ring

	if len(ring) < 2 {
		return 0
	}
	oldest := ring[0]
	newest := ring[len(ring)-1]
	return float64((newest.buy - oldest.buy) - (newest.sell - oldest.sell))
}

// liquidityScore starts at 100 and applies spread/depth/order-count
// penalties, clamped to [0,100].
func liquidityScore(depth domain.MarketDepth, ltp float64) float64 {
	score := 100.0

	if ltp > 0 && len(depth.Bids) > 0 && len(depth.Asks) > 0 {
		spreadPct := (depth.Asks[0].Price - depth.Bids[0].Price) / ltp
		switch {
		case spreadPct > 0.0015:
			score -= 30
		case spreadPct > 0.0010:
			score -= 20
		case spreadPct > 0.0005:
			score -= 10
		}
	}

	totalDepth := sumQty(depth.Bids) + sumQty(depth.Asks)
	switch {
	case totalDepth < 10000:
		score -= 25
	case totalDepth < 50000:
		score -= 10
	}

	avgOrders := averageOrders(depth)
	switch {
	case avgOrders < 10:
		score -= 15
	case avgOrders < 20:
		score -= 5
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func averageOrders(depth domain.MarketDepth) float64 {
	levels := append(append([]domain.DepthLevel{}, depth.Bids...), depth.Asks...)
	if len(levels) == 0 {
		return 0
	}
	var total int64
	for _, l := range levels {
		total += int64(l.Orders)
	}
	return float64(total) / float64(len(levels))
}
