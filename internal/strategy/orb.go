package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// orbState is the per-security opening-range state tracked across the
// session (spec.md §4.6.2).
type orbState struct {
	orHigh, orLow, orHeight float64
	frozen                  bool
	hasTradedBullish        bool
	hasTradedBearish        bool
}

// ORB is the Opening-Range Breakout strategy: it tracks the 09:15-09:30
// high/low on 1m candles, freezes it at 09:30, then watches for a
// breakout close through 14:00.
type ORB struct {
	loc *time.Location

	mu     sync.Mutex
	states map[string]*orbState
}

// NewORB constructs the opening-range breakout strategy for the given
// exchange timezone.
func NewORB(loc *time.Location) *ORB {
	return &ORB{loc: loc, states: make(map[string]*orbState)}
}

func (s *ORB) Name() string              { return "opening-range-breakout" }
func (s *ORB) Timeframe() domain.Interval { return domain.Interval1m }
func (s *ORB) MaxTradesPerDay() int      { return 2 }
func (s *ORB) Intraday() bool            { return true }

// ResetDaily clears every security's opening-range state for the new
// session.
func (s *ORB) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]*orbState)
}

func (s *ORB) stateFor(securityID string) *orbState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[securityID]
	if !ok {
		st = &orbState{}
		s.states[securityID] = st
	}
	return st
}

func (s *ORB) OnCandle(ctx context.Context, candle domain.Candle, avgDepth domain.DepthMetrics, history []domain.Candle) (*Candidate, error) {
	local := candle.Timestamp.In(s.loc)
	openingStart := time.Date(local.Year(), local.Month(), local.Day(), 9, 15, 0, 0, s.loc)
	openingEnd := time.Date(local.Year(), local.Month(), local.Day(), 9, 30, 0, 0, s.loc)
	tradingEnd := time.Date(local.Year(), local.Month(), local.Day(), 14, 0, 0, 0, s.loc)

	st := s.stateFor(candle.SecurityID)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Phase 1: accumulate the opening range.
	if !local.Before(openingStart) && local.Before(openingEnd) {
		if st.orHigh == 0 || candle.High > st.orHigh {
			st.orHigh = candle.High
		}
		if st.orLow == 0 || candle.Low < st.orLow {
			st.orLow = candle.Low
		}
		return nil, nil
	}

	if !local.Before(openingEnd) && !st.frozen {
		st.frozen = true
		st.orHeight = st.orHigh - st.orLow
	}

	if !st.frozen || local.Before(openingEnd) || local.After(tradingEnd) {
		return nil, nil
	}

	trailing := history
	if len(trailing) > 20 {
		trailing = trailing[len(trailing)-20:]
	}
	avgVol := AverageVolume(trailing)
	volumeOK := avgVol > 0 && float64(candle.Volume) >= 2*avgVol

	if candle.Close > st.orHigh && !st.hasTradedBullish {
		if volumeOK && avgDepth.OrderBookStrength >= 1000 {
			st.hasTradedBullish = true
			return &Candidate{
				Side:     domain.SideBuy,
				Price:    candle.Close,
				StopLoss: st.orLow,
				Target:   candle.Close + 2*st.orHeight,
				Reason:   "opening range breakout above OR high",
			}, nil
		}
	}

	if candle.Close < st.orLow && !st.hasTradedBearish {
		if volumeOK && avgDepth.OrderBookStrength <= -1000 {
			st.hasTradedBearish = true
			return &Candidate{
				Side:     domain.SideSell,
				Price:    candle.Close,
				StopLoss: st.orHigh,
				Target:   candle.Close - 2*st.orHeight,
				Reason:   "opening range breakdown below OR low",
			}, nil
		}
	}

	return nil, nil
}

