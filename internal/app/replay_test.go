package app

import (
	"context"
	"testing"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

func TestReplaySummaryWinRate(t *testing.T) {
	s := ReplaySummary{TradesClosed: 4, WinCount: 3}
	if got, want := s.WinRate(), 0.75; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReplaySummaryWinRateNoTrades(t *testing.T) {
	s := ReplaySummary{}
	if got := s.WinRate(); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}

func TestReplaySummaryProfitFactor(t *testing.T) {
	s := ReplaySummary{GrossProfit: 300, GrossLoss: 100}
	if got, want := s.ProfitFactor(), 3.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReplaySummaryProfitFactorNoLosses(t *testing.T) {
	s := ReplaySummary{GrossProfit: 300}
	if got := s.ProfitFactor(); got != 0 {
		t.Errorf("got %v, want 0 (no losses to divide by)", got)
	}
}

func TestMemPortfolioStoreRoundTrip(t *testing.T) {
	store := &memPortfolioStore{}
	ctx := context.Background()

	if p, err := store.GetPortfolio(ctx, "default"); err != nil || p != nil {
		t.Fatalf("expected no portfolio before seeding, got %+v, err %v", p, err)
	}

	seeded := &domain.Portfolio{UserID: "default", TotalCapital: 20000, AvailableCapital: 20000}
	if err := store.SavePortfolio(ctx, seeded); err != nil {
		t.Fatalf("save portfolio: %v", err)
	}

	got, err := store.GetPortfolio(ctx, "default")
	if err != nil {
		t.Fatalf("get portfolio: %v", err)
	}
	if got == nil || got.TotalCapital != 20000 {
		t.Fatalf("got %+v, want total capital 20000", got)
	}
}

func TestMemCandleStoreReturnsMostRecentN(t *testing.T) {
	store := newMemCandleStore()
	for i := 0; i < 5; i++ {
		store.append(domain.Candle{SecurityID: "1", Interval: domain.Interval1m, Close: float64(i)})
	}

	got, err := store.RecentCandles(context.Background(), "1", domain.Interval1m, 2)
	if err != nil {
		t.Fatalf("recent candles: %v", err)
	}
	if len(got) != 2 || got[0].Close != 3 || got[1].Close != 4 {
		t.Fatalf("got %+v, want last two candles (closes 3, 4)", got)
	}
}
