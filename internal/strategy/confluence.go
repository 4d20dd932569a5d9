package strategy

import (
	"context"
	"sync"

	"github.com/Krishnaraj-Irkal/flowsense/internal/confirm"
	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// DepthAnalyticsSnapshot is the latest 20-level depth-analytics read for
// a security, cached from the depth:analytics stream.
type DepthAnalyticsSnapshot struct {
	AbsorptionDirection domain.Side
	AbsorptionStrength   float64 // percent, 0..100
	StrongestBidPrice    float64
	StrongestAskPrice    float64
}

// OptionChainSentiment is the latest option-chain read for a security,
// cached from the option-chain:analytics stream. Its absence (the stream
// is an optional external collaborator, spec.md §9 OQ1) simply drops
// confluence #4 rather than rejecting the signal.
type OptionChainSentiment struct {
	Direction domain.Side
	Strength  float64 // percent, 0..100
}

// Confluence is the multi-confluence strategy (spec.md §4.6.3): it
// requires at least 4 of 5 independent confirmations plus a passing
// multi-timeframe confirmer check.
type Confluence struct {
	candleStore confirm.CandleStore

	mu          sync.Mutex
	depth       map[string]DepthAnalyticsSnapshot
	optionChain map[string]OptionChainSentiment
}

// NewConfluence constructs the multi-confluence strategy against the
// given candle history store (used both for its own 20-candle lookback
// and for the C5 confirmer).
func NewConfluence(candleStore confirm.CandleStore) *Confluence {
	return &Confluence{
		candleStore: candleStore,
		depth:       make(map[string]DepthAnalyticsSnapshot),
		optionChain: make(map[string]OptionChainSentiment),
	}
}

func (s *Confluence) Name() string              { return "multi-confluence" }
func (s *Confluence) Timeframe() domain.Interval { return domain.Interval5m }
func (s *Confluence) MaxTradesPerDay() int      { return 0 }
func (s *Confluence) Intraday() bool            { return true }
func (s *Confluence) ResetDaily()               {}

// UpdateDepthAnalytics caches the latest depth-analytics read for a
// security; called by the engine when it forwards depth:analytics events.
func (s *Confluence) UpdateDepthAnalytics(securityID string, snapshot DepthAnalyticsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth[securityID] = snapshot
}

// UpdateOptionChain caches the latest option-chain sentiment for a
// security; called by the engine when it forwards
// option-chain:analytics events.
func (s *Confluence) UpdateOptionChain(securityID string, sentiment OptionChainSentiment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optionChain[securityID] = sentiment
}

func (s *Confluence) OnCandle(ctx context.Context, candle domain.Candle, avgDepth domain.DepthMetrics, history []domain.Candle) (*Candidate, error) {
	window := history
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	if len(window) < 6 {
		return nil, nil
	}
	prev := window[len(window)-2]

	direction, ok := breakoutDirection(candle, prev)
	if !ok {
		return nil, nil
	}

	score := 0
	// 1. Breakout candle (already established by direction detection).
	score++

	// 2. Volume >= 1.3x average.
	avgVol := AverageVolume(window)
	if avgVol > 0 && float64(candle.Volume) >= 1.3*avgVol {
		score++
	}

	// 3. Depth absorption or proximity to the strongest level.
	if s.depthConfluence(candle, direction) {
		score++
	}

	// 4. Option-chain sentiment (optional external input).
	if s.optionChainConfluence(candle.SecurityID, direction) {
		score++
	}

	// 5. Accumulation pattern: 5 prior candles within +/-1% of their mean.
	if isAccumulation(window) {
		score++
	}

	if score < 4 {
		return nil, nil
	}

	result, err := confirm.Confirm(ctx, s.candleStore, candle.SecurityID, candle.Interval)
	if err != nil {
		return nil, err
	}
	if result == nil || !result.IsAligned {
		return nil, nil
	}
	wantRec := confirm.RecommendBuy
	if direction == domain.SideSell {
		wantRec = confirm.RecommendSell
	}
	if result.Recommendation != wantRec {
		return nil, nil
	}

	reason := "multi-confluence bullish setup"
	if direction == domain.SideSell {
		reason = "multi-confluence bearish setup"
	}

	return &Candidate{
		Side:         direction,
		Price:        candle.Close,
		Reason:       reason,
		QualityScore: float64(score) / 5 * 100,
	}, nil
}

// breakoutDirection implements confluence #1: close>open, close in the
// top quartile of the bar's range, close>previous high (bullish); the
// mirror for bearish.
func breakoutDirection(candle, prev domain.Candle) (domain.Side, bool) {
	r := candle.High - candle.Low
	if r <= 0 {
		return "", false
	}
	topQuartile := candle.High - r*0.25
	bottomQuartile := candle.Low + r*0.25

	if candle.Close > candle.Open && candle.Close >= topQuartile && candle.Close > prev.High {
		return domain.SideBuy, true
	}
	if candle.Close < candle.Open && candle.Close <= bottomQuartile && candle.Close < prev.Low {
		return domain.SideSell, true
	}
	return "", false
}

func (s *Confluence) depthConfluence(candle domain.Candle, direction domain.Side) bool {
	s.mu.Lock()
	snap, ok := s.depth[candle.SecurityID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	if snap.AbsorptionDirection == direction && snap.AbsorptionStrength >= 20 {
		return true
	}

	ref := snap.StrongestBidPrice
	if direction == domain.SideSell {
		ref = snap.StrongestAskPrice
	}
	if ref == 0 {
		return false
	}
	return abs(candle.Close-ref)/ref <= 0.005
}

func (s *Confluence) optionChainConfluence(securityID string, direction domain.Side) bool {
	s.mu.Lock()
	sentiment, ok := s.optionChain[securityID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return sentiment.Direction == direction && sentiment.Strength >= 60
}

// isAccumulation reports whether the last 5 candles before the current
// one are all within +/-1% of their mean close (a tight consolidation).
func isAccumulation(window []domain.Candle) bool {
	if len(window) < 6 {
		return false
	}
	prior := window[len(window)-6 : len(window)-1]
	var sum float64
	for _, c := range prior {
		sum += c.Close
	}
	mean := sum / float64(len(prior))
	if mean == 0 {
		return false
	}
	for _, c := range prior {
		if abs(c.Close-mean)/mean > 0.01 {
			return false
		}
	}
	return true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
