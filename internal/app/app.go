// Package app is the composition root: it wires the feed client, depth
// calculator, candle aggregator, strategy engine, executor, subscriber
// hub, persistence adapter, and option-chain poller into one running
// process, generalizing cmd/trader/main.go's inline wiring (database
// pool, registry, signal generator, HTTP server, graceful shutdown)
// into a single reusable Run.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/candle"
	"github.com/Krishnaraj-Irkal/flowsense/internal/config"
	"github.com/Krishnaraj-Irkal/flowsense/internal/confirm"
	"github.com/Krishnaraj-Irkal/flowsense/internal/depth"
	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/eventbus"
	"github.com/Krishnaraj-Irkal/flowsense/internal/executor"
	"github.com/Krishnaraj-Irkal/flowsense/internal/feed"
	"github.com/Krishnaraj-Irkal/flowsense/internal/hub"
	"github.com/Krishnaraj-Irkal/flowsense/internal/obslog"
	"github.com/Krishnaraj-Irkal/flowsense/internal/optionchain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/storage"
	"github.com/Krishnaraj-Irkal/flowsense/internal/strategy"
	"github.com/Krishnaraj-Irkal/flowsense/libs/auth"
)

// App owns every long-running component and the background goroutines
// tying them together.
type App struct {
	cfg *config.Config
	loc *time.Location
	bus *eventbus.Bus

	pg    *storage.PostgresStore
	redis *storage.RedisStore

	feedClient *feed.Client
	depthCalc  *depth.Calculator
	aggregator *candle.Aggregator
	registry   *strategy.Registry
	engine     *strategy.Engine
	confluence *strategy.Confluence
	exec       *executor.Executor
	hub        *hub.Hub
	poller     *optionchain.Poller

	httpServer *http.Server

	instruments []domain.Instrument

	wg sync.WaitGroup
}

// New builds every component from cfg but starts nothing; call Run to
// start the process.
func New(ctx context.Context, cfg *config.Config, instruments []domain.Instrument) (*App, error) {
	loc := cfg.Location()
	bus := eventbus.New()

	pg, err := storage.ConnectPostgres(ctx, storage.PostgresConfig{DSN: cfg.PostgresDSN})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisStore, err := storage.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	if err := seedPortfolio(ctx, pg, cfg.TotalCapital, cfg.MaxDailyLossPct); err != nil {
		return nil, fmt.Errorf("seed portfolio: %w", err)
	}

	intervals := make([]domain.Interval, 0, len(cfg.CandleIntervals))
	for _, s := range cfg.CandleIntervals {
		intervals = append(intervals, domain.Interval(s))
	}

	feedClient := feed.NewClient(feed.Config{
		Endpoint:              cfg.FeedEndpoint,
		FeedToken:             cfg.FeedToken,
		ClientID:              cfg.ClientID,
		ReconnectInitialDelay: time.Duration(cfg.Reconnect.InitialDelayMs) * time.Millisecond,
		ReconnectMaxAttempts:  cfg.Reconnect.MaxAttempts,
		KeepaliveInterval:     time.Duration(cfg.KeepaliveIntervalSec) * time.Second,
	}, bus)

	registry := strategy.NewRegistry()
	registry.Register(strategy.NewEMACrossover())
	registry.Register(strategy.NewORB(loc))
	confluence := strategy.NewConfluence(redisStore)
	registry.Register(confluence)

	sizing := strategy.SizingConfig{
		TotalCapital: cfg.TotalCapital,
		RiskPct:      cfg.RiskPct,
		StopLossPct:  cfg.StopLossPct,
		TargetPct:    cfg.TargetPct,
		LotSize:      cfg.LotSize,
	}
	engine := strategy.NewEngine(registry, redisStore, pg, bus, sizing, loc)
	exec := executor.New(pg, pg, pg, bus, loc, cfg.LotSize, nil)

	h := hub.New(bus, registry, newHubAuthenticator(cfg.HubJWTSecret))

	var poller *optionchain.Poller
	if cfg.OptionChainEnabled && cfg.OptionChainURL != "" {
		poller = optionchain.New(cfg.OptionChainURL, 5*time.Minute, instruments, bus, confluence)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/health", healthHandler())

	return &App{
		cfg:         cfg,
		loc:         loc,
		bus:         bus,
		pg:          pg,
		redis:       redisStore,
		feedClient:  feedClient,
		depthCalc:   depth.NewCalculator(),
		aggregator:  candle.New(intervals, loc, bus),
		registry:    registry,
		engine:      engine,
		confluence:  confluence,
		exec:        exec,
		hub:         h,
		poller:      poller,
		instruments: instruments,
		httpServer:  &http.Server{Addr: cfg.HubListenAddr, Handler: mux},
	}, nil
}

// newHubAuthenticator returns nil (no authentication) when no secret is
// configured, consistent with spec.md §1 treating auth as an optional
// external collaborator rather than a hard requirement.
func newHubAuthenticator(secret string) hub.Authenticator {
	if secret == "" {
		return nil
	}
	manager, err := auth.NewJWTManager(auth.Config{Secret: []byte(secret)})
	if err != nil {
		return nil
	}
	return hub.NewJWTAuthenticator(manager)
}

func seedPortfolio(ctx context.Context, pg *storage.PostgresStore, totalCapital, maxDailyLossPct float64) error {
	existing, err := pg.GetPortfolio(ctx, executor.DefaultUserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return pg.SavePortfolio(ctx, &domain.Portfolio{
		UserID:           executor.DefaultUserID,
		TotalCapital:     totalCapital,
		AvailableCapital: totalCapital,
		MaxDailyLoss:     totalCapital * maxDailyLossPct,
	})
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// Run connects the feed, subscribes every component to the bus, starts
// the HTTP/hub listener, and blocks until ctx is cancelled, at which
// point it shuts every component down within the configured deadline
// (spec.md §5).
func (a *App) Run(ctx context.Context) error {
	if err := a.feedClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}

	refs := make([]feed.InstrumentRef, 0, len(a.instruments))
	for _, inst := range a.instruments {
		refs = append(refs, feed.InstrumentRef{ExchangeSegment: string(inst.ExchangeSegment), SecurityID: inst.SecurityID})
	}
	if len(refs) > 0 {
		if err := a.feedClient.Subscribe(ctx, refs); err != nil {
			return fmt.Errorf("subscribe instruments: %w", err)
		}
	}

	a.wg.Add(4)
	go func() { defer a.wg.Done(); a.runDepthEnrichment(ctx) }()
	go func() { defer a.wg.Done(); a.engine.Run(ctx) }()
	go func() { defer a.wg.Done(); a.exec.Run(ctx) }()
	go func() { defer a.wg.Done(); a.hub.Run(ctx) }()

	if a.poller != nil {
		a.wg.Add(1)
		go func() { defer a.wg.Done(); a.poller.Run(ctx) }()
	}

	a.wg.Add(1)
	go func() { defer a.wg.Done(); a.runScheduler(ctx) }()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		obslog.Event(ctx, "hub_listening", obslog.Fields{"addr": a.cfg.HubListenAddr})
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.Error(ctx, "hub_server_failed", err, nil)
		}
	}()

	<-ctx.Done()
	return a.shutdown()
}

// runDepthEnrichment joins each Full packet's tick with its own 5-level
// depth snapshot before handing it to the candle aggregator: feed
// publishes the raw tick and its depth separately (spec.md §4.1), so
// this loop caches the latest depth per security and fills
// Tick.DepthMetrics from it before aggregation. Executor and hub
// consume the raw, un-enriched tick directly off the bus since neither
// needs per-tick depth metrics.
func (a *App) runDepthEnrichment(ctx context.Context) {
	ticks := a.bus.Subscribe(eventbus.TopicTick)
	depths := a.bus.Subscribe(eventbus.TopicDepth)

	latest := make(map[string]domain.MarketDepth)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-depths:
			if d, ok := msg.(*domain.MarketDepth); ok {
				latest[d.SecurityID] = *d
			}
		case msg := <-ticks:
			tick, ok := msg.(*domain.Tick)
			if !ok {
				continue
			}
			if d, ok := latest[tick.SecurityID]; ok {
				tick.DepthMetrics = a.depthCalc.Compute(tick.SecurityID, d, tick.LTP, tick.TotalBuyQty, tick.TotalSellQty)
			}
			a.aggregator.OnTick(ctx, tick)
			if err := a.redis.AppendTick(ctx, tick); err != nil {
				obslog.Error(ctx, "tick_persist_failed", err, obslog.Fields{"securityId": tick.SecurityID})
			}
		}
	}
}

// runScheduler polls a 60s cadence (spec.md §5) for the daily reset and
// EOD square-off, and persists every closed candle it observes so the
// confirmer's and strategies' RecentCandles queries stay fed from
// storage, not just in-process state. Position/portfolio writes are
// already performed synchronously by the executor against the same
// PostgresStore, so there is nothing left for this loop to do with
// TopicPositionUpdate/TopicPositionClosed.
func (a *App) runScheduler(ctx context.Context) {
	candleCloses := a.bus.Subscribe(eventbus.TopicCandleClose)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	lastResetDay := -1
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-candleCloses:
			if c, ok := msg.(domain.Candle); ok {
				if err := a.redis.UpsertCandle(ctx, c); err != nil {
					obslog.Error(ctx, "candle_persist_failed", err, obslog.Fields{"securityId": c.SecurityID})
				}
			}
		case now := <-ticker.C:
			local := now.In(a.loc)
			if local.Format("15:04") == a.cfg.DailyResetAt && local.YearDay() != lastResetDay {
				a.engine.ResetDaily()
				if err := a.pg.ResetDaily(ctx); err != nil {
					obslog.Error(ctx, "daily_reset_failed", err, nil)
				}
				lastResetDay = local.YearDay()
				obslog.Event(ctx, "daily_reset_applied", nil)
			}
			a.exec.MaybeSquareOff(ctx, now)
		}
	}
}

// shutdown drains every component within the configured deadline
// (default 5s per spec.md §5), closing the feed, flushing in-flight
// candles, and stopping the HTTP/hub listener.
func (a *App) shutdown() error {
	deadline := time.Duration(a.cfg.ShutdownTimeoutSec) * time.Second
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	if err := a.feedClient.Close(shutdownCtx); err != nil {
		obslog.Error(shutdownCtx, "feed_close_failed", err, nil)
	}
	a.aggregator.CloseAll(shutdownCtx)
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		obslog.Error(shutdownCtx, "hub_server_shutdown_failed", err, nil)
	}

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		obslog.Event(shutdownCtx, "shutdown_deadline_exceeded", nil)
	}

	a.redis.Close()
	a.pg.Close()
	return nil
}

var _ confirm.CandleStore = (*storage.RedisStore)(nil)
