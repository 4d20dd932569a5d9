// Command flowsense is the single binary described by spec.md §6: a
// serve/replay/seed-instruments CLI wired by internal/app, generalizing
// cmd/trader/main.go's flag-parsing and signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/app"
	"github.com/Krishnaraj-Irkal/flowsense/internal/config"
	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/storage"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitFeedAuthFail = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitConfigError
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "replay":
		return runReplay(args[1:])
	case "seed-instruments":
		return runSeedInstruments(args[1:])
	default:
		printUsage()
		return exitConfigError
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: flowsense <serve|replay|seed-instruments> [-config path] [<feed-dump>|<file>]")
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFile := fs.String("config", "", "path to config file (optional, env vars take precedence)")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitConfigError
	}

	instruments, err := loadInstrumentUniverse(cfg)
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, instruments)
	if err != nil {
		log.Printf("startup error: %v", err)
		if isFeedAuthFailure(err) {
			return exitFeedAuthFail
		}
		return exitConfigError
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case <-sigChan:
		log.Println("shutdown signal received, gracefully stopping...")
		cancel()
		if err := <-errCh; err != nil {
			log.Printf("shutdown error: %v", err)
		}
	case err := <-errCh:
		cancel()
		if err != nil {
			log.Printf("pipeline failed: %v", err)
			if isFeedAuthFailure(err) {
				return exitFeedAuthFail
			}
			return exitConfigError
		}
	}

	log.Println("flowsense stopped")
	return exitOK
}

func isFeedAuthFailure(err error) bool {
	// Auth-class disconnect reasons (feed.DisconnectReason.IsAuthClass) are
	// recognised by their String() text inside the wrapped error message.
	return err != nil && (containsAny(err.Error(), "invalid token", "expired token", "invalid client", "duplicate connection", "max connections reached", "subscription limit exceeded"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) > 0 && len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func runReplay(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	configFile := fs.String("config", "", "path to config file (optional, env vars take precedence)")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: flowsense replay [-config path] <feed-dump>")
		return exitConfigError
	}
	dumpPath := fs.Arg(0)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitConfigError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	summary, err := app.RunReplay(ctx, cfg, dumpPath)
	if err != nil {
		log.Printf("replay failed: %v", err)
		return exitConfigError
	}

	fmt.Printf("frames decoded:   %d\n", summary.FramesDecoded)
	fmt.Printf("ticks processed:  %d\n", summary.TicksProcessed)
	fmt.Printf("trades closed:    %d\n", summary.TradesClosed)
	fmt.Printf("win rate:         %.1f%%\n", summary.WinRate()*100)
	fmt.Printf("total pnl:        %.2f\n", summary.TotalPnL)
	fmt.Printf("max drawdown:     %.2f\n", summary.MaxDrawdown)
	fmt.Printf("profit factor:    %.2f\n", summary.ProfitFactor())
	return exitOK
}

func runSeedInstruments(args []string) int {
	fs := flag.NewFlagSet("seed-instruments", flag.ContinueOnError)
	configFile := fs.String("config", "", "path to config file (optional, env vars take precedence)")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: flowsense seed-instruments [-config path] <file>")
		return exitConfigError
	}
	seedPath := fs.Arg(0)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitConfigError
	}

	instruments, err := config.LoadInstrumentSeedFile(seedPath)
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitConfigError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := storage.ConnectPostgres(ctx, storage.PostgresConfig{DSN: cfg.PostgresDSN})
	if err != nil {
		log.Printf("configuration error: %v", err)
		return exitConfigError
	}
	defer pg.Close()

	for _, inst := range instruments {
		if err := pg.SaveInstrument(ctx, inst); err != nil {
			log.Printf("failed to seed instrument %s: %v", inst.SecurityID, err)
			return exitConfigError
		}
		log.Printf("seeded instrument %s (%s)", inst.SecurityID, inst.Symbol)
	}
	return exitOK
}

// loadInstrumentUniverse derives the instrument set serve subscribes to
// from cfg.SubscriptionSet: the feed client only needs segment+securityId
// on the wire, so a minimal Instrument per entry is sufficient to drive
// the subscription and the option-chain poller.
func loadInstrumentUniverse(cfg *config.Config) ([]domain.Instrument, error) {
	if len(cfg.SubscriptionSet) == 0 {
		return nil, fmt.Errorf("subscriptionSet must list at least one instrument")
	}
	instruments := make([]domain.Instrument, 0, len(cfg.SubscriptionSet))
	for _, e := range cfg.SubscriptionSet {
		if e.SecurityID == "" {
			return nil, fmt.Errorf("subscriptionSet entry missing securityId")
		}
		instruments = append(instruments, domain.Instrument{
			SecurityID:      e.SecurityID,
			ExchangeSegment: domain.ExchangeSegment(e.Segment),
			LotSize:         cfg.LotSize,
		})
	}
	return instruments, nil
}
