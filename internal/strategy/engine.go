// Package strategy's Engine ties the Registry, shared filters, and daily
// reset scheduling together into the single consumer of candle:close
// events, generalizing cmd/trader/main.go's inline dispatch loop into a
// standalone, testable component.
package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Krishnaraj-Irkal/flowsense/internal/confirm"
	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
	"github.com/Krishnaraj-Irkal/flowsense/internal/obslog"
)

// CandleStore is the read-only history collaborator the engine needs to
// hand each strategy its lookback window.
type CandleStore interface {
	confirm.CandleStore
}

// SignalStore persists every signal a strategy emits, keyed by its id, so
// the executor's later accept/reject decision can update the same row
// (spec.md §4.6 step 3, §4.9).
type SignalStore interface {
	SaveSignal(ctx context.Context, sig domain.Signal) error
}

// dailyCounter tracks how many signals each strategy has produced today.
type dailyCounter struct {
	counts map[string]int
}

func newDailyCounter() *dailyCounter {
	return &dailyCounter{counts: make(map[string]int)}
}

// Engine subscribes to candle:close, dispatches to every strategy
// registered for that interval, and applies the shared filters, default
// SL/target, and position sizing uniformly before publishing a Signal.
type Engine struct {
	registry *Registry
	store    CandleStore
	signals  SignalStore
	bus      *eventbus.Bus
	sizing   SizingConfig
	loc      *time.Location

	counter  *dailyCounter
	lifetime map[string]int

	historyWindow int
}

// NewEngine constructs the engine against a registry, candle store,
// signal store, and the shared sizing configuration.
func NewEngine(registry *Registry, store CandleStore, signals SignalStore, bus *eventbus.Bus, sizing SizingConfig, loc *time.Location) *Engine {
	return &Engine{
		registry:      registry,
		store:         store,
		signals:       signals,
		bus:           bus,
		sizing:        sizing,
		loc:           loc,
		counter:       newDailyCounter(),
		lifetime:      make(map[string]int),
		historyWindow: 50,
	}
}

// Run consumes candle:close events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ch := e.bus.Subscribe(eventbus.TopicCandleClose)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			candle, ok := msg.(domain.Candle)
			if !ok {
				continue
			}
			e.handleCandle(ctx, candle)
		}
	}
}

// ResetDaily clears every strategy's per-day state and the engine's own
// daily signal counters; called at the configured daily reset time.
func (e *Engine) ResetDaily() {
	e.counter = newDailyCounter()
	for _, s := range e.registry.List() {
		s.ResetDaily()
	}
}

func (e *Engine) handleCandle(ctx context.Context, candle domain.Candle) {
	strategies := e.registry.ForTimeframe(candle.Interval)
	if len(strategies) == 0 {
		return
	}

	history, err := e.store.RecentCandles(ctx, candle.SecurityID, candle.Interval, e.historyWindow)
	if err != nil {
		obslog.Error(ctx, "engine_history_lookup_failed", err, obslog.Fields{"securityId": candle.SecurityID})
		return
	}

	avgDepth := domain.DepthMetrics{
		BidAskImbalance:   candle.AvgImbalance,
		DepthSpread:       candle.AvgSpread,
		OrderBookStrength: candle.AvgStrength,
		LiquidityScore:    candle.AvgLiquidity,
	}

	for _, s := range strategies {
		e.evaluate(ctx, s, candle, avgDepth, history)
	}
}

func (e *Engine) evaluate(ctx context.Context, s Strategy, candle domain.Candle, avgDepth domain.DepthMetrics, history []domain.Candle) {
	if s.Intraday() && !IntradayWindow(candle.Timestamp, e.loc) {
		return
	}

	if cap := s.MaxTradesPerDay(); cap > 0 && e.counter.counts[s.Name()] >= cap {
		return
	}

	candidate, err := s.OnCandle(ctx, candle, avgDepth, history)
	if err != nil {
		obslog.Error(ctx, "strategy_error", err, obslog.Fields{"strategy": s.Name(), "securityId": candle.SecurityID})
		return
	}
	if candidate == nil {
		return
	}

	filter := PassesDepthFilter(candidate.Side, avgDepth)
	if !filter.Pass {
		obslog.Event(ctx, "signal_filtered", obslog.Fields{"strategy": s.Name(), "securityId": candle.SecurityID, "reason": filter.Reason})
		return
	}

	stopLoss, target := candidate.StopLoss, candidate.Target
	if stopLoss == 0 || target == 0 {
		stopLoss, target = DefaultStopTarget(candidate.Side, candidate.Price, e.sizing)
	}

	quantity := PositionSize(e.sizing.TotalCapital, candidate.Price, e.sizing)
	if quantity <= 0 {
		return
	}

	signal := domain.Signal{
		ID:            uuid.NewString(),
		StrategyName:  s.Name(),
		SecurityID:    candle.SecurityID,
		Side:          candidate.Side,
		Price:         candidate.Price,
		StopLoss:      stopLoss,
		Target:        target,
		Quantity:      quantity,
		Reason:        candidate.Reason,
		DepthSnapshot: avgDepth,
		QualityScore:  candidate.QualityScore,
		Status:        domain.SignalPending,
		CreatedAt:     candle.Timestamp,
	}

	if e.signals != nil {
		if err := e.signals.SaveSignal(ctx, signal); err != nil {
			obslog.Error(ctx, "signal_persist_failed", err, obslog.Fields{"signalId": signal.ID, "strategy": s.Name()})
		}
	}

	e.counter.counts[s.Name()]++
	e.lifetime[s.Name()]++
	e.bus.Publish(ctx, eventbus.TopicSignal, signal)
	obslog.Event(ctx, "signal_emitted", obslog.Fields{"strategy": s.Name(), "securityId": candle.SecurityID, "side": string(candidate.Side), "lifetimeCount": e.lifetime[s.Name()]})
}

// LifetimeSignalCount returns how many signals s has emitted since the
// process started (never cleared by ResetDaily).
func (e *Engine) LifetimeSignalCount(strategyName string) int {
	return e.lifetime[strategyName]
}
