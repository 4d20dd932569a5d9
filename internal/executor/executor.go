// Package executor simulates order fills against a virtual portfolio
// (spec.md §4.7). It is grounded on internal/modules/execution/engine.go's
// validate-then-size-then-fill pipeline and libs/risk/policy.go's
// Violation-coded rejections, generalized from a US-equities account model
// to the single-portfolio paper-trading ledger spec.md defines.
package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
	"github.com/Krishnaraj-Irkal/flowsense/internal/obslog"
)

// DefaultUserID is the single paper-trading account this engine executes
// against; spec.md's Portfolio is keyed by an opaque userId but the
// pipeline carries no per-signal user, so every signal targets this one
// account.
const DefaultUserID = "default"

// PortfolioStore persists the single-account portfolio row.
type PortfolioStore interface {
	GetPortfolio(ctx context.Context, userID string) (*domain.Portfolio, error)
	SavePortfolio(ctx context.Context, p *domain.Portfolio) error
}

// PositionStore persists orders and positions and answers the queries the
// executor needs for duplicate checks, tick monitoring, and EOD sweep.
type PositionStore interface {
	SaveOrder(ctx context.Context, o domain.Order) error
	SavePosition(ctx context.Context, p domain.Position) error
	OpenPositions(ctx context.Context) ([]domain.Position, error)
}

// SignalStore persists the accept/reject decision back onto the signal row
// the strategy engine already inserted (spec.md §4.6 step 3, §4.9).
type SignalStore interface {
	SaveSignal(ctx context.Context, sig domain.Signal) error
}

// Executor consumes signal and tick events and mutates the portfolio and
// position stores accordingly.
type Executor struct {
	portfolios PortfolioStore
	positions  PositionStore
	signals    SignalStore
	bus        *eventbus.Bus
	loc        *time.Location
	jitter     func() float64
	lotSize    int

	mu     sync.Mutex
	open   map[string]map[string]*domain.Position // securityID -> strategyName -> position
	halted bool

	lastEODMinute time.Time
}

// New constructs an Executor. jitter, if nil, defaults to a deterministic
// zero-jitter source (tests should pass their own). lotSize is the
// configured exchange lot size, used to derive the slippage model's
// extra-lots penalty.
func New(portfolios PortfolioStore, positions PositionStore, signals SignalStore, bus *eventbus.Bus, loc *time.Location, lotSize int, jitter func() float64) *Executor {
	if jitter == nil {
		jitter = func() float64 { return 0 }
	}
	if lotSize <= 0 {
		lotSize = 1
	}
	return &Executor{
		portfolios: portfolios,
		positions:  positions,
		signals:    signals,
		bus:        bus,
		loc:        loc,
		jitter:     jitter,
		lotSize:    lotSize,
		open:       make(map[string]map[string]*domain.Position),
	}
}

// Run consumes signal and tick events until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) {
	signals := e.bus.Subscribe(eventbus.TopicSignal)
	ticks := e.bus.Subscribe(eventbus.TopicTick)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-signals:
			if sig, ok := msg.(domain.Signal); ok {
				e.HandleSignal(ctx, sig)
			}
		case msg := <-ticks:
			if tick, ok := msg.(*domain.Tick); ok {
				e.HandleTick(ctx, tick)
			}
		}
	}
}

func (e *Executor) hasOpenPosition(securityID, strategyName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	byStrategy, ok := e.open[securityID]
	if !ok {
		return false
	}
	_, ok = byStrategy[strategyName]
	return ok
}

func (e *Executor) trackOpen(p *domain.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byStrategy, ok := e.open[p.SecurityID]
	if !ok {
		byStrategy = make(map[string]*domain.Position)
		e.open[p.SecurityID] = byStrategy
	}
	byStrategy[p.StrategyName] = p
}

func (e *Executor) untrackOpen(securityID, strategyName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if byStrategy, ok := e.open[securityID]; ok {
		delete(byStrategy, strategyName)
		if len(byStrategy) == 0 {
			delete(e.open, securityID)
		}
	}
}

func (e *Executor) isHalted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// positionWriteMaxAttempts/Backoff bound the retry spec.md §7 requires
// for position writes specifically ("loss of a position write is not
// acceptable"); other writes (orders, portfolio, tick snapshots) stay
// best-effort/logged.
const positionWriteMaxAttempts = 3

var positionWriteBackoff = 50 * time.Millisecond

// savePositionDurable retries a position write with linear backoff. On
// exhausting its attempts it halts the executor so no further signal is
// executed (spec.md §7 "halt new signal execution"); it does not affect
// tick-driven position updates already in flight.
func (e *Executor) savePositionDurable(ctx context.Context, p domain.Position) bool {
	var err error
	for attempt := 1; attempt <= positionWriteMaxAttempts; attempt++ {
		if err = e.positions.SavePosition(ctx, p); err == nil {
			return true
		}
		obslog.Error(ctx, "executor_save_position_retry", err, obslog.Fields{"positionId": p.ID, "attempt": attempt})
		if attempt < positionWriteMaxAttempts {
			time.Sleep(positionWriteBackoff * time.Duration(attempt))
		}
	}
	e.mu.Lock()
	e.halted = true
	e.mu.Unlock()
	obslog.Error(ctx, "executor_halted_position_write_failure", err, obslog.Fields{"positionId": p.ID})
	return false
}

func (e *Executor) positionsForSecurity(securityID string) []*domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	byStrategy, ok := e.open[securityID]
	if !ok {
		return nil
	}
	out := make([]*domain.Position, 0, len(byStrategy))
	for _, p := range byStrategy {
		out = append(out, p)
	}
	return out
}

// HandleSignal validates and, on success, atomically opens an order and a
// position against the target portfolio (spec.md §4.7 steps 1-7).
func (e *Executor) HandleSignal(ctx context.Context, sig domain.Signal) {
	now := sig.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	if e.isHalted() {
		obslog.Event(ctx, "signal_dropped_executor_halted", obslog.Fields{"signalId": sig.ID})
		return
	}

	portfolio, err := e.portfolios.GetPortfolio(ctx, DefaultUserID)
	if err != nil || portfolio == nil {
		e.rejectSignal(ctx, &sig, domain.RejectionNoPortfolio, now)
		return
	}

	if portfolio.CurrentDailyLoss >= portfolio.MaxDailyLoss {
		e.rejectSignal(ctx, &sig, domain.RejectionDailyLossLimit, now)
		return
	}

	required := round2(sig.Price * float64(sig.Quantity))
	if portfolio.AvailableCapital < required {
		e.rejectSignal(ctx, &sig, domain.RejectionInsufficientCapital, now)
		return
	}

	if e.hasOpenPosition(sig.SecurityID, sig.StrategyName) {
		e.rejectSignal(ctx, &sig, domain.RejectionDuplicatePosition, now)
		return
	}

	fillPrice := simulateFill(sig.Side, sig.Price, sig.DepthSnapshot.LiquidityScore, e.lots(sig.Quantity), e.jitter())

	order := domain.Order{
		ID:             uuid.NewString(),
		SignalID:       sig.ID,
		SecurityID:     sig.SecurityID,
		Side:           sig.Side,
		Quantity:       sig.Quantity,
		RequestedPrice: sig.Price,
		FillPrice:      fillPrice,
		Status:         domain.OrderExecuted,
		CreatedAt:      now,
		FilledAt:       &now,
	}

	positionSide := domain.PositionLong
	if sig.Side == domain.SideSell {
		positionSide = domain.PositionShort
	}
	position := domain.Position{
		ID:           uuid.NewString(),
		SecurityID:   sig.SecurityID,
		StrategyName: sig.StrategyName,
		Side:         positionSide,
		Quantity:     sig.Quantity,
		EntryPrice:   fillPrice,
		CurrentPrice: fillPrice,
		StopLoss:     sig.StopLoss,
		Target:       sig.Target,
		Status:       domain.PositionOpen,
		OpenedAt:     now,
	}

	// The position row is the one write spec.md treats as non-optional:
	// if it can't be made durable after retrying, abort before any
	// portfolio capital is committed and stop taking new signals.
	if !e.savePositionDurable(ctx, position) {
		return
	}

	portfolio.AvailableCapital -= required
	portfolio.UsedMargin += required

	if err := e.positions.SaveOrder(ctx, order); err != nil {
		obslog.Error(ctx, "executor_save_order_failed", err, obslog.Fields{"signalId": sig.ID})
	}
	if err := e.portfolios.SavePortfolio(ctx, portfolio); err != nil {
		obslog.Error(ctx, "executor_save_portfolio_failed", err, obslog.Fields{"userId": DefaultUserID})
	}

	sig.Status = domain.SignalExecuted
	sig.DecidedAt = &now
	e.saveSignal(ctx, sig)

	e.trackOpen(&position)

	e.bus.Publish(ctx, eventbus.TopicPositionUpdate, position)
	e.bus.Publish(ctx, eventbus.TopicPortfolioUpdate, *portfolio)
	obslog.Event(ctx, "signal_executed", obslog.Fields{"signalId": sig.ID, "securityId": sig.SecurityID, "fillPrice": fillPrice})
}

func (e *Executor) rejectSignal(ctx context.Context, sig *domain.Signal, reason domain.RejectionReason, now time.Time) {
	sig.Status = domain.SignalRejected
	sig.RejectionReason = reason
	sig.DecidedAt = &now
	e.saveSignal(ctx, *sig)
	obslog.Event(ctx, "signal_rejected", obslog.Fields{"signalId": sig.ID, "securityId": sig.SecurityID, "reason": string(reason)})
}

// saveSignal updates the signal row the engine already inserted with its
// accept/reject decision; a nil store (e.g. a replay run with no durable
// signal history) is a no-op.
func (e *Executor) saveSignal(ctx context.Context, sig domain.Signal) {
	if e.signals == nil {
		return
	}
	if err := e.signals.SaveSignal(ctx, sig); err != nil {
		obslog.Error(ctx, "signal_decision_persist_failed", err, obslog.Fields{"signalId": sig.ID})
	}
}

func (e *Executor) lots(quantity int) int {
	lots := quantity / e.lotSize
	if lots < 1 {
		lots = 1
	}
	return lots
}

// HandleTick updates every open position on tick.SecurityID, closing on a
// stop or target hit, otherwise emitting a price/PnL snapshot (spec.md
// §4.7 tick-monitoring steps).
func (e *Executor) HandleTick(ctx context.Context, tick *domain.Tick) {
	for _, p := range e.positionsForSecurity(tick.SecurityID) {
		p.CurrentPrice = tick.LTP
		p.UnrealizedPnL = p.Sign() * (tick.LTP - p.EntryPrice) * float64(p.Quantity)

		switch {
		case stopHit(p, tick.LTP):
			e.closePosition(ctx, p, tick.LTP, domain.CloseStop)
		case targetHit(p, tick.LTP):
			e.closePosition(ctx, p, tick.LTP, domain.CloseTarget)
		default:
			if err := e.positions.SavePosition(ctx, *p); err != nil {
				obslog.Error(ctx, "executor_save_position_failed", err, obslog.Fields{"positionId": p.ID})
			}
			e.bus.Publish(ctx, eventbus.TopicPositionUpdate, *p)
		}
	}
}

func stopHit(p *domain.Position, ltp float64) bool {
	if p.Side == domain.PositionLong {
		return ltp <= p.StopLoss
	}
	return ltp >= p.StopLoss
}

func targetHit(p *domain.Position, ltp float64) bool {
	if p.Side == domain.PositionLong {
		return ltp >= p.Target
	}
	return ltp <= p.Target
}

// closePosition realizes PnL, updates the portfolio, and emits
// positionClosed (spec.md §4.7 "Closing a position").
func (e *Executor) closePosition(ctx context.Context, p *domain.Position, exitPrice float64, reason domain.CloseReason) {
	realized := realizedPnL(p.Sign(), p.EntryPrice, exitPrice, p.Quantity)

	now := time.Now()
	p.CurrentPrice = exitPrice
	p.RealizedPnL = realized
	p.UnrealizedPnL = 0
	p.Status = domain.PositionClosed
	p.ClosedAt = &now
	p.CloseReason = reason

	portfolio, err := e.portfolios.GetPortfolio(ctx, DefaultUserID)
	if err != nil || portfolio == nil {
		obslog.Error(ctx, "executor_portfolio_missing_on_close", fmt.Errorf("no portfolio for %s", DefaultUserID), obslog.Fields{"positionId": p.ID})
		return
	}

	entryValue := round2(p.EntryPrice * float64(p.Quantity))
	portfolio.AvailableCapital += entryValue + realized
	portfolio.UsedMargin -= entryValue
	portfolio.TotalPnL += realized
	portfolio.TodayPnL += realized
	portfolio.TotalTrades++
	if realized > 0 {
		portfolio.WinningTrades++
	} else {
		portfolio.LosingTrades++
		portfolio.CurrentDailyLoss += math.Abs(realized)
	}
	portfolio.RecomputeWinRate()

	e.untrackOpen(p.SecurityID, p.StrategyName)

	e.savePositionDurable(ctx, *p)
	if err := e.portfolios.SavePortfolio(ctx, portfolio); err != nil {
		obslog.Error(ctx, "executor_save_portfolio_failed", err, obslog.Fields{"userId": DefaultUserID})
	}

	e.bus.Publish(ctx, eventbus.TopicPositionClosed, *p)
	e.bus.Publish(ctx, eventbus.TopicPortfolioUpdate, *portfolio)
	obslog.Event(ctx, "position_closed", obslog.Fields{"positionId": p.ID, "reason": string(reason), "realizedPnL": realized})
}
