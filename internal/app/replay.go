package app

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/candle"
	"github.com/Krishnaraj-Irkal/flowsense/internal/config"
	"github.com/Krishnaraj-Irkal/flowsense/internal/depth"
	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
	"github.com/Krishnaraj-Irkal/flowsense/internal/executor"
	"github.com/Krishnaraj-Irkal/flowsense/internal/feed"
	"github.com/Krishnaraj-Irkal/flowsense/internal/strategy"
)

// ReplaySummary tallies the outcome of a replay run (spec.md's replay
// subcommand is a backtest driver, not a live process, so it reports
// results instead of serving a hub).
type ReplaySummary struct {
	FramesDecoded  int
	TicksProcessed int
	TradesClosed   int
	WinCount       int
	TotalPnL       float64
	MaxDrawdown    float64
	GrossProfit    float64
	GrossLoss      float64
}

// WinRate is WinCount/TradesClosed, or 0 with no closed trades.
func (s ReplaySummary) WinRate() float64 {
	if s.TradesClosed == 0 {
		return 0
	}
	return float64(s.WinCount) / float64(s.TradesClosed)
}

// ProfitFactor is GrossProfit/GrossLoss, or 0 when there were no losses
// to divide by.
func (s ReplaySummary) ProfitFactor() float64 {
	if s.GrossLoss == 0 {
		return 0
	}
	return s.GrossProfit / s.GrossLoss
}

// memPortfolioStore and memPositionStore back the executor during replay
// with plain in-memory state: deterministic replay mode (spec.md §7's
// end-to-end scenarios) must not depend on Postgres being reachable.
type memPortfolioStore struct {
	mu sync.Mutex
	p  *domain.Portfolio
}

func (s *memPortfolioStore) GetPortfolio(ctx context.Context, userID string) (*domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil || s.p.UserID != userID {
		return nil, nil
	}
	cp := *s.p
	return &cp, nil
}

func (s *memPortfolioStore) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.p = &cp
	return nil
}

type memPositionStore struct {
	mu        sync.Mutex
	orders    []domain.Order
	positions map[string]domain.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]domain.Position)}
}

func (s *memPositionStore) SaveOrder(ctx context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	return nil
}

func (s *memPositionStore) SavePosition(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
	return nil
}

func (s *memPositionStore) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Status == domain.PositionOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

// memSignalStore backs the engine/executor's signal persistence during
// replay with plain in-memory state, matching memPortfolioStore/
// memPositionStore's rationale.
type memSignalStore struct {
	mu      sync.Mutex
	signals map[string]domain.Signal
}

func newMemSignalStore() *memSignalStore {
	return &memSignalStore{signals: make(map[string]domain.Signal)}
}

func (s *memSignalStore) SaveSignal(ctx context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sig.ID] = sig
	return nil
}

// memCandleStore serves confirm.CandleStore/strategy.CandleStore from
// the closed candles the aggregator publishes during replay.
type memCandleStore struct {
	mu      sync.Mutex
	history map[string][]domain.Candle
}

func newMemCandleStore() *memCandleStore {
	return &memCandleStore{history: make(map[string][]domain.Candle)}
}

func (s *memCandleStore) append(c domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := c.SecurityID + ":" + string(c.Interval)
	s.history[key] = append(s.history[key], c)
}

func (s *memCandleStore) RecentCandles(ctx context.Context, securityID string, interval domain.Interval, n int) ([]domain.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := securityID + ":" + string(interval)
	hist := s.history[key]
	if len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	out := make([]domain.Candle, len(hist))
	copy(out, hist)
	return out, nil
}

// RunReplay drives the full pipeline (depth → candle → strategy →
// executor) from a captured frame dump instead of a live feed
// connection, accumulating a ReplaySummary. Frames are read as a
// sequence of (4-byte big-endian length, frame bytes) records, the
// simplest self-describing container for the already-framed vendor
// packets this binary otherwise receives over the wire.
func RunReplay(ctx context.Context, cfg *config.Config, dumpPath string) (*ReplaySummary, error) {
	f, err := os.Open(dumpPath)
	if err != nil {
		return nil, fmt.Errorf("open feed dump: %w", err)
	}
	defer f.Close()

	loc := cfg.Location()
	bus := eventbus.New()

	intervals := make([]domain.Interval, 0, len(cfg.CandleIntervals))
	for _, s := range cfg.CandleIntervals {
		intervals = append(intervals, domain.Interval(s))
	}

	candleStore := newMemCandleStore()
	candles := bus.Subscribe(eventbus.TopicCandleClose)

	registry := strategy.NewRegistry()
	registry.Register(strategy.NewEMACrossover())
	registry.Register(strategy.NewORB(loc))
	registry.Register(strategy.NewConfluence(candleStore))

	sizing := strategy.SizingConfig{
		TotalCapital: cfg.TotalCapital,
		RiskPct:      cfg.RiskPct,
		StopLossPct:  cfg.StopLossPct,
		TargetPct:    cfg.TargetPct,
		LotSize:      cfg.LotSize,
	}
	signals := newMemSignalStore()
	engine := strategy.NewEngine(registry, candleStore, signals, bus, sizing, loc)

	portfolios := &memPortfolioStore{p: &domain.Portfolio{
		UserID:           executor.DefaultUserID,
		TotalCapital:     cfg.TotalCapital,
		AvailableCapital: cfg.TotalCapital,
		MaxDailyLoss:     cfg.TotalCapital * cfg.MaxDailyLossPct,
	}}
	positions := newMemPositionStore()
	exec := executor.New(portfolios, positions, signals, bus, loc, cfg.LotSize, nil)

	closedPositions := bus.Subscribe(eventbus.TopicPositionClosed)

	replayCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go engine.Run(replayCtx)
	go exec.Run(replayCtx)

	summary := &ReplaySummary{}
	var summaryMu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		var running float64
		peak := 0.0
		for {
			select {
			case <-replayCtx.Done():
				return
			case msg := <-candles:
				if c, ok := msg.(domain.Candle); ok {
					candleStore.append(c)
				}
			case msg := <-closedPositions:
				p, ok := msg.(domain.Position)
				if !ok {
					continue
				}
				summaryMu.Lock()
				summary.TradesClosed++
				summary.TotalPnL += p.RealizedPnL
				if p.RealizedPnL >= 0 {
					summary.WinCount++
					summary.GrossProfit += p.RealizedPnL
				} else {
					summary.GrossLoss += -p.RealizedPnL
				}
				running += p.RealizedPnL
				if running > peak {
					peak = running
				}
				if dd := peak - running; dd > summary.MaxDrawdown {
					summary.MaxDrawdown = dd
				}
				summaryMu.Unlock()
			}
		}
	}()

	depthCalc := depth.NewCalculator()
	aggregator := candle.New(intervals, loc, bus)
	latestDepth := make(map[string]domain.MarketDepth)

	for {
		frame, err := readFrame(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			cancel()
			return nil, fmt.Errorf("read frame: %w", err)
		}
		summary.FramesDecoded++

		packet, err := feed.Decode(frame)
		if err != nil {
			continue
		}
		if packet.Depth != nil {
			latestDepth[packet.Depth.SecurityID] = *packet.Depth
		}
		if packet.Tick != nil {
			if d, ok := latestDepth[packet.Tick.SecurityID]; ok {
				packet.Tick.DepthMetrics = depthCalc.Compute(packet.Tick.SecurityID, d, packet.Tick.LTP, packet.Tick.TotalBuyQty, packet.Tick.TotalSellQty)
			}
			aggregator.OnTick(replayCtx, packet.Tick)
			bus.Publish(replayCtx, eventbus.TopicTick, packet.Tick)
			summary.TicksProcessed++
		}
	}

	aggregator.CloseAll(replayCtx)
	time.Sleep(50 * time.Millisecond) // let in-flight bus messages drain before summarizing
	cancel()
	<-done

	return summary, nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
