package executor

import (
	"context"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/obslog"
)

// eodSquareOffHour/Minute is the local time of day at which every open
// intraday position is force-closed (spec.md §4.7, §9 timers).
const eodSquareOffHour, eodSquareOffMinute = 15, 20

// MaybeSquareOff closes every open position at its current price with
// reason eod if now falls within the eodSquareOffHour:eodSquareOffMinute
// minute; the eodSquareOff configuration key is not consulted. The
// sweep is idempotent: once it has run for a given (date, minute) it will
// not run again until the minute advances, so calling this repeatedly
// from a coarse scheduler ticker is safe (spec.md §4.7 "must be
// idempotent within a minute").
func (e *Executor) MaybeSquareOff(ctx context.Context, now time.Time) {
	local := now.In(e.loc)
	if local.Hour() != eodSquareOffHour || local.Minute() != eodSquareOffMinute {
		return
	}

	bucket := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, e.loc)

	e.mu.Lock()
	already := e.lastEODMinute.Equal(bucket)
	if !already {
		e.lastEODMinute = bucket
	}
	e.mu.Unlock()
	if already {
		return
	}

	e.squareOffAll(ctx)
	obslog.Event(ctx, "eod_square_off_run", obslog.Fields{"bucket": bucket.Format(time.RFC3339)})
}

// squareOffAll closes every currently tracked open position at its last
// known CurrentPrice with reason eod.
func (e *Executor) squareOffAll(ctx context.Context) {
	e.mu.Lock()
	var all []*domain.Position
	for _, byStrategy := range e.open {
		for _, p := range byStrategy {
			all = append(all, p)
		}
	}
	e.mu.Unlock()

	for _, p := range all {
		e.closePosition(ctx, p, p.CurrentPrice, domain.CloseEOD)
	}
}
