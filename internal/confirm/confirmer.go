// Package confirm implements the multi-timeframe confirmer (spec.md
// §4.5): for an instrument and a primary interval, it determines trend on
// primary/mid/higher timeframes from stored candles and gates strategy
// signals on their alignment.
package confirm

import (
	"context"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/indicators"
)

// Direction is a timeframe's classified trend.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	Neutral Direction = "NEUTRAL"
)

// Recommendation is the confirmer's gating verdict.
type Recommendation string

const (
	RecommendBuy  Recommendation = "BUY"
	RecommendSell Recommendation = "SELL"
	RecommendWait Recommendation = "WAIT"
)

// timeframeHierarchy maps a primary interval to its mid and higher
// confirmation intervals (spec.md §4.5 table).
var timeframeHierarchy = map[domain.Interval][2]domain.Interval{
	domain.Interval1m:  {domain.Interval5m, domain.Interval15m},
	domain.Interval5m:  {domain.Interval15m, domain.Interval1h},
	domain.Interval15m: {domain.Interval1h, domain.Interval1d},
	domain.Interval1h:  {domain.Interval1d, domain.Interval1d},
}

// CandleStore is the read-only collaborator the confirmer needs: the last
// n closed candles for a security at an interval, most recent last.
type CandleStore interface {
	RecentCandles(ctx context.Context, securityID string, interval domain.Interval, n int) ([]domain.Candle, error)
}

// Result is the confirmer's full verdict, or nil when data is
// insufficient (the caller then treats the check as passing: fail-open
// for analysis absence, fail-closed for disalignment).
type Result struct {
	Primary        Direction
	Mid            Direction
	Higher         Direction
	IsAligned      bool
	AlignmentScore float64
	Recommendation Recommendation
}

const recentCandleWindow = 50

// Confirm classifies the (primary, mid, higher) trend for securityID and
// returns the alignment verdict, or nil if any interval lacks sufficient
// history.
func Confirm(ctx context.Context, store CandleStore, securityID string, primary domain.Interval) (*Result, error) {
	tier, ok := timeframeHierarchy[primary]
	if !ok {
		return nil, nil
	}
	mid, higher := tier[0], tier[1]

	primaryDir, ok := classify(ctx, store, securityID, primary)
	if !ok {
		return nil, nil
	}
	midDir, ok := classify(ctx, store, securityID, mid)
	if !ok {
		return nil, nil
	}
	higherDir, ok := classify(ctx, store, securityID, higher)
	if !ok {
		return nil, nil
	}

	aligned, direction := alignment(primaryDir, midDir, higherDir)
	score := alignmentScore(aligned, direction, primaryDir, midDir, higherDir)

	rec := RecommendWait
	if aligned {
		switch direction {
		case Bullish:
			rec = RecommendBuy
		case Bearish:
			rec = RecommendSell
		}
	}

	return &Result{
		Primary:        primaryDir,
		Mid:            midDir,
		Higher:         higherDir,
		IsAligned:      aligned,
		AlignmentScore: score,
		Recommendation: rec,
	}, nil
}

// classify loads the last 50 closed candles for interval and classifies
// the trend from EMA(9) vs EMA(21) on closes.
func classify(ctx context.Context, store CandleStore, securityID string, interval domain.Interval) (Direction, bool) {
	candles, err := store.RecentCandles(ctx, securityID, interval, recentCandleWindow)
	if err != nil || len(candles) < 22 {
		return Neutral, false
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ema9 := indicators.EMA(closes, 9)
	ema21 := indicators.EMA(closes, 21)
	if len(ema9) < 2 || len(ema21) < 1 {
		return Neutral, false
	}

	ema9Last := ema9[len(ema9)-1]
	ema9Prev := ema9[len(ema9)-2]
	ema21Last := ema21[len(ema21)-1]

	switch {
	case ema9Last > ema21Last && ema9Last > ema9Prev:
		return Bullish, true
	case ema9Last < ema21Last && ema9Last < ema9Prev:
		return Bearish, true
	default:
		return Neutral, true
	}
}

// alignment reports whether primary/mid/higher agree per spec.md §4.5:
// aligned if all three share one non-neutral direction, or higher and mid
// agree and primary is either that direction or neutral.
func alignment(primary, mid, higher Direction) (bool, Direction) {
	if higher != Neutral && higher == mid {
		if primary == higher || primary == Neutral {
			return true, higher
		}
		return false, Neutral
	}
	if primary != Neutral && primary == mid && mid == higher {
		return true, primary
	}
	return false, Neutral
}

// alignmentScore is in {0,50,75,100} plus a +15 bonus when higher is not
// neutral, capped at 100.
func alignmentScore(aligned bool, direction, primary, mid, higher Direction) float64 {
	if !aligned {
		return 0
	}

	agree := 0
	if primary == direction {
		agree++
	}
	if mid == direction {
		agree++
	}
	if higher == direction {
		agree++
	}

	var score float64
	switch agree {
	case 3:
		score = 100
	case 2:
		score = 75
	case 1:
		score = 50
	default:
		score = 0
	}

	if higher != Neutral {
		score += 15
	}
	if score > 100 {
		score = 100
	}
	return score
}
