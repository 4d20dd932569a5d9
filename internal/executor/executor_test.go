package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
)

type fakePortfolioStore struct {
	portfolio *domain.Portfolio
}

func (f *fakePortfolioStore) GetPortfolio(ctx context.Context, userID string) (*domain.Portfolio, error) {
	if f.portfolio == nil {
		return nil, nil
	}
	cp := *f.portfolio
	return &cp, nil
}

func (f *fakePortfolioStore) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	cp := *p
	f.portfolio = &cp
	return nil
}

type fakePositionStore struct {
	orders    []domain.Order
	positions map[string]domain.Position
	failSave  bool
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[string]domain.Position)}
}

func (f *fakePositionStore) SaveOrder(ctx context.Context, o domain.Order) error {
	f.orders = append(f.orders, o)
	return nil
}

func (f *fakePositionStore) SavePosition(ctx context.Context, p domain.Position) error {
	if f.failSave {
		return fmt.Errorf("simulated persistent write failure")
	}
	f.positions[p.ID] = p
	return nil
}

func (f *fakePositionStore) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range f.positions {
		if p.Status == domain.PositionOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeSignalStore struct {
	saved map[string]domain.Signal
}

func newFakeSignalStore() *fakeSignalStore {
	return &fakeSignalStore{saved: make(map[string]domain.Signal)}
}

func (f *fakeSignalStore) SaveSignal(ctx context.Context, sig domain.Signal) error {
	f.saved[sig.ID] = sig
	return nil
}

func newTestExecutor(portfolio *domain.Portfolio) (*Executor, *fakePortfolioStore, *fakePositionStore, *fakeSignalStore, *eventbus.Bus) {
	ps := &fakePortfolioStore{portfolio: portfolio}
	pos := newFakePositionStore()
	sigs := newFakeSignalStore()
	bus := eventbus.New()
	loc := time.FixedZone("IST", 5*3600+30*60)
	exec := New(ps, pos, sigs, bus, loc, 75, func() float64 { return 0 })
	return exec, ps, pos, sigs, bus
}

func TestHandleSignalExecutesAndUpdatesPortfolio(t *testing.T) {
	portfolio := &domain.Portfolio{UserID: DefaultUserID, TotalCapital: 20000, AvailableCapital: 20000, MaxDailyLoss: 600}
	exec, ps, pos, sigs, bus := newTestExecutor(portfolio)
	updates := bus.Subscribe(eventbus.TopicPositionUpdate)

	sig := domain.Signal{
		ID: "sig-1", StrategyName: "ema-crossover", SecurityID: "1",
		Side: domain.SideBuy, Price: 100, StopLoss: 99, Target: 103, Quantity: 75,
		DepthSnapshot: domain.DepthMetrics{LiquidityScore: 80},
		CreatedAt:     time.Now(),
	}
	exec.HandleSignal(context.Background(), sig)

	if ps.portfolio.AvailableCapital != 20000-100*75 {
		t.Errorf("got availableCapital %v, want %v", ps.portfolio.AvailableCapital, 20000-100*75)
	}
	if ps.portfolio.UsedMargin != 100*75 {
		t.Errorf("got usedMargin %v, want %v", ps.portfolio.UsedMargin, 100*75)
	}
	if len(pos.orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(pos.orders))
	}
	if pos.orders[0].FillPrice <= 100 {
		t.Errorf("BUY should fill above signal price with positive slippage, got %v", pos.orders[0].FillPrice)
	}

	select {
	case <-updates:
	default:
		t.Error("expected a positionUpdate to be published")
	}

	saved, ok := sigs.saved["sig-1"]
	if !ok {
		t.Fatal("expected the signal's decision to be persisted")
	}
	if saved.Status != domain.SignalExecuted {
		t.Errorf("got signal status %v, want executed", saved.Status)
	}
}

func TestHandleSignalRejectsNoPortfolio(t *testing.T) {
	exec, _, pos, sigs, _ := newTestExecutor(nil)
	sig := domain.Signal{ID: "sig-1", SecurityID: "1", Side: domain.SideBuy, Price: 100, Quantity: 75}
	exec.HandleSignal(context.Background(), sig)
	if len(pos.orders) != 0 {
		t.Errorf("expected no order when portfolio is missing, got %d", len(pos.orders))
	}
	if saved := sigs.saved["sig-1"]; saved.Status != domain.SignalRejected || saved.RejectionReason != domain.RejectionNoPortfolio {
		t.Errorf("expected the rejection to be persisted, got %+v", saved)
	}
}

func TestHandleSignalRejectsDailyLossLimit(t *testing.T) {
	portfolio := &domain.Portfolio{UserID: DefaultUserID, TotalCapital: 20000, AvailableCapital: 20000, MaxDailyLoss: 600, CurrentDailyLoss: 600}
	exec, _, pos, _, _ := newTestExecutor(portfolio)
	sig := domain.Signal{ID: "sig-1", SecurityID: "1", Side: domain.SideBuy, Price: 100, Quantity: 75}
	exec.HandleSignal(context.Background(), sig)
	if len(pos.orders) != 0 {
		t.Errorf("expected no order past the daily loss cap, got %d", len(pos.orders))
	}
}

func TestHandleSignalRejectsInsufficientCapital(t *testing.T) {
	portfolio := &domain.Portfolio{UserID: DefaultUserID, TotalCapital: 20000, AvailableCapital: 1000, MaxDailyLoss: 600}
	exec, _, pos, _, _ := newTestExecutor(portfolio)
	sig := domain.Signal{ID: "sig-1", SecurityID: "1", Side: domain.SideBuy, Price: 100, Quantity: 75}
	exec.HandleSignal(context.Background(), sig)
	if len(pos.orders) != 0 {
		t.Errorf("expected no order with insufficient capital, got %d", len(pos.orders))
	}
}

func TestHandleTickStopAndTarget(t *testing.T) {
	portfolio := &domain.Portfolio{UserID: DefaultUserID, TotalCapital: 20000, AvailableCapital: 20000, MaxDailyLoss: 600}
	exec, ps, _, _, bus := newTestExecutor(portfolio)
	closed := bus.Subscribe(eventbus.TopicPositionClosed)

	sig := domain.Signal{
		ID: "sig-1", StrategyName: "ema-crossover", SecurityID: "1",
		Side: domain.SideBuy, Price: 100, StopLoss: 99, Target: 103, Quantity: 75,
		DepthSnapshot: domain.DepthMetrics{LiquidityScore: 80},
		CreatedAt:     time.Now(),
	}
	exec.HandleSignal(context.Background(), sig)

	// A tick hitting the target should close the position with a
	// positive realized PnL and free up capital + margin.
	exec.HandleTick(context.Background(), &domain.Tick{SecurityID: "1", LTP: 104})

	select {
	case msg := <-closed:
		p, ok := msg.(domain.Position)
		if !ok {
			t.Fatalf("got %T, want domain.Position", msg)
		}
		if p.CloseReason != domain.CloseTarget {
			t.Errorf("got closeReason %v, want target", p.CloseReason)
		}
		if p.RealizedPnL <= 0 {
			t.Errorf("expected positive realized PnL, got %v", p.RealizedPnL)
		}
	default:
		t.Fatal("expected a positionClosed event")
	}

	if ps.portfolio.TotalTrades != 1 || ps.portfolio.WinningTrades != 1 {
		t.Errorf("expected 1 winning trade, got totalTrades=%d winningTrades=%d", ps.portfolio.TotalTrades, ps.portfolio.WinningTrades)
	}
}

func TestEODSquareOffIsIdempotentWithinMinute(t *testing.T) {
	portfolio := &domain.Portfolio{UserID: DefaultUserID, TotalCapital: 20000, AvailableCapital: 20000, MaxDailyLoss: 600}
	exec, _, _, _, bus := newTestExecutor(portfolio)
	closed := bus.Subscribe(eventbus.TopicPositionClosed)

	sig := domain.Signal{
		ID: "sig-1", StrategyName: "ema-crossover", SecurityID: "1",
		Side: domain.SideBuy, Price: 100, StopLoss: 90, Target: 200, Quantity: 75,
		DepthSnapshot: domain.DepthMetrics{LiquidityScore: 80},
		CreatedAt:     time.Now(),
	}
	exec.HandleSignal(context.Background(), sig)

	loc := time.FixedZone("IST", 5*3600+30*60)
	eodTime := time.Date(2026, 7, 30, 15, 20, 10, 0, loc)

	exec.MaybeSquareOff(context.Background(), eodTime)
	select {
	case <-closed:
	default:
		t.Fatal("expected the position to be squared off")
	}

	// A second call within the same minute must not re-close anything.
	exec.MaybeSquareOff(context.Background(), eodTime.Add(20*time.Second))
	select {
	case msg := <-closed:
		t.Errorf("expected no second close within the same minute, got %v", msg)
	default:
	}
}

func TestHandleSignalHaltsExecutorOnPersistentPositionWriteFailure(t *testing.T) {
	old := positionWriteBackoff
	positionWriteBackoff = time.Millisecond
	defer func() { positionWriteBackoff = old }()

	portfolio := &domain.Portfolio{UserID: DefaultUserID, TotalCapital: 20000, AvailableCapital: 20000, MaxDailyLoss: 600}
	exec, ps, pos, _, _ := newTestExecutor(portfolio)
	pos.failSave = true

	sig := domain.Signal{
		ID: "sig-1", StrategyName: "ema-crossover", SecurityID: "1",
		Side: domain.SideBuy, Price: 100, StopLoss: 99, Target: 103, Quantity: 75,
		DepthSnapshot: domain.DepthMetrics{LiquidityScore: 80},
		CreatedAt:     time.Now(),
	}
	exec.HandleSignal(context.Background(), sig)

	if ps.portfolio.AvailableCapital != 20000 {
		t.Errorf("expected no capital committed on a failed position write, got %v", ps.portfolio.AvailableCapital)
	}
	if len(pos.orders) != 0 {
		t.Errorf("expected no order saved when the position write never durably succeeds, got %d", len(pos.orders))
	}
	if !exec.isHalted() {
		t.Fatal("expected the executor to halt after exhausting position-write retries")
	}

	pos.failSave = false
	sig2 := sig
	sig2.ID = "sig-2"
	exec.HandleSignal(context.Background(), sig2)
	if len(pos.positions) != 0 {
		t.Error("expected a halted executor to drop new signals even once the store recovers")
	}
}
