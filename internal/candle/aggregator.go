// Package candle folds enriched ticks into per-(securityId, interval)
// OHLC bars (spec.md §4.3), averaging depth metrics per bar and emitting
// a close event when a new bar's tick arrives.
package candle

import (
	"context"
	"sync"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
)

// building is the in-progress state for one (securityId, interval) key —
// the aggregator is single-writer per key (spec.md §5).
type building struct {
	candle domain.Candle

	sumImbalance float64
	sumSpread    float64
	sumStrength  float64
	sumLiquidity float64
	tickCount    int
}

// Aggregator maintains the in-memory table of open building candles for a
// configurable set of tracked intervals (default {1m, 5m}).
type Aggregator struct {
	loc       *time.Location
	intervals []domain.Interval
	bus       *eventbus.Bus

	mu    sync.Mutex
	table map[domain.CandleKey]*building
}

// New creates an Aggregator tracking the given intervals, using loc for
// bar-boundary truncation (spec.md §9: boundary logic must use the
// configured exchange zone, not the host zone).
func New(intervals []domain.Interval, loc *time.Location, bus *eventbus.Bus) *Aggregator {
	return &Aggregator{
		loc:       loc,
		intervals: intervals,
		bus:       bus,
		table:     make(map[domain.CandleKey]*building),
	}
}

// barStart floors t to the interval boundary: for intraday intervals it
// truncates to a multiple of the interval duration since local midnight;
// for 1d it truncates to local midnight itself.
func (a *Aggregator) barStart(interval domain.Interval, t time.Time) time.Time {
	local := t.In(a.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	if interval == domain.Interval1d {
		return midnight
	}
	elapsed := local.Sub(midnight)
	width := interval.Duration()
	floored := elapsed / width * width
	return midnight.Add(floored)
}

// OnTick updates every tracked interval's building candle for
// tick.SecurityID, closing and emitting the previous bar first if the
// tick crosses a boundary (spec.md §4.3 algorithm).
func (a *Aggregator) OnTick(ctx context.Context, tick *domain.Tick) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, interval := range a.intervals {
		key := domain.CandleKey{SecurityID: tick.SecurityID, Interval: interval}
		start := a.barStart(interval, tick.CapturedAt)

		b, exists := a.table[key]
		if exists && !b.candle.Timestamp.Equal(start) {
			a.closeLocked(ctx, key)
			b, exists = nil, false
		}

		if !exists {
			b = &building{candle: domain.Candle{
				SecurityID: tick.SecurityID,
				Interval:   interval,
				Open:       tick.LTP,
				High:       tick.LTP,
				Low:        tick.LTP,
				Close:      tick.LTP,
				Volume:     0,
				Timestamp:  start,
			}}
			a.table[key] = b
		}

		if tick.LTP > b.candle.High {
			b.candle.High = tick.LTP
		}
		if tick.LTP < b.candle.Low {
			b.candle.Low = tick.LTP
		}
		b.candle.Close = tick.LTP
		b.candle.Volume = tick.Volume // vendor volume is cumulative per session

		b.sumImbalance += tick.DepthMetrics.BidAskImbalance
		b.sumSpread += tick.DepthMetrics.DepthSpread
		b.sumStrength += tick.DepthMetrics.OrderBookStrength
		b.sumLiquidity += tick.DepthMetrics.LiquidityScore
		b.tickCount++

		a.bus.Publish(ctx, eventbus.TopicCandleUpdate, b.candle)
	}
}

// closeLocked finalizes and emits the building candle at key. Caller must
// hold a.mu.
func (a *Aggregator) closeLocked(ctx context.Context, key domain.CandleKey) {
	b, ok := a.table[key]
	if !ok {
		return
	}

	closed := b.candle
	closed.IsClosed = true
	if b.tickCount > 0 {
		closed.AvgImbalance = b.sumImbalance / float64(b.tickCount)
		closed.AvgSpread = b.sumSpread / float64(b.tickCount)
		closed.AvgStrength = b.sumStrength / float64(b.tickCount)
		closed.AvgLiquidity = b.sumLiquidity / float64(b.tickCount)
	} else {
		neutral := domain.NeutralDepthMetrics()
		closed.AvgImbalance = neutral.BidAskImbalance
		closed.AvgSpread = neutral.DepthSpread
		closed.AvgStrength = neutral.OrderBookStrength
		closed.AvgLiquidity = neutral.LiquidityScore
	}

	delete(a.table, key)
	a.bus.Publish(ctx, eventbus.TopicCandleClose, closed)
}

// CloseAll finalizes every open candle; called on shutdown (spec.md §4.3,
// §5).
func (a *Aggregator) CloseAll(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]domain.CandleKey, 0, len(a.table))
	for k := range a.table {
		keys = append(keys, k)
	}
	for _, k := range keys {
		a.closeLocked(ctx, k)
	}
}
