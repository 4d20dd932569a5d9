package storage

import (
	"testing"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

func TestTickKeyIsPerSecurity(t *testing.T) {
	if got, want := tickKey("1"), "ticks:1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if tickKey("1") == tickKey("2") {
		t.Error("expected distinct securities to use distinct keys")
	}
}

func TestCandleKeyIsPerSecurityAndInterval(t *testing.T) {
	k5m := candleKey("1", domain.Interval5m)
	k1m := candleKey("1", domain.Interval1m)
	if k5m == k1m {
		t.Error("expected distinct intervals to use distinct keys")
	}
	if got, want := k1m, "candles:1:1m"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
