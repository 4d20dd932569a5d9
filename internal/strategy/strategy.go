// Package strategy hosts the fixed set of trading strategies (spec.md
// §4.6): each conforms to Strategy, proposing a Candidate from a closed
// candle and average depth metrics; Engine applies the shared filters,
// position sizing, and daily-reset scheduling uniformly across all of
// them. The interface + registry shape is grounded on
// libs/strategies/strategy.go and libs/strategies/registry.go's
// mutex-guarded map, generalized from stock AnalysisInput to
// candle+depth-metric input.
package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// Candidate is a strategy's proposed trade before the engine applies
// shared filters, default SL/target, and position sizing. Zero
// StopLoss/Target means "use the shared default".
type Candidate struct {
	Side         domain.Side
	Price        float64
	StopLoss     float64
	Target       float64
	Reason       string
	QualityScore float64
}

// Strategy is the common contract every concrete strategy implements.
type Strategy interface {
	Name() string
	Timeframe() domain.Interval
	// MaxTradesPerDay returns the per-strategy daily cap, or 0 for
	// unlimited.
	MaxTradesPerDay() int
	// Intraday reports whether the time-window filter (09:30-15:15
	// local) applies; swing strategies are unrestricted.
	Intraday() bool
	// OnCandle is called once per matching closed candle with up to the
	// last 50 candles of history (oldest first, history[len-1] ==
	// candle).
	OnCandle(ctx context.Context, candle domain.Candle, avgDepth domain.DepthMetrics, history []domain.Candle) (*Candidate, error)
	// ResetDaily clears any strategy-specific per-day state (sticky
	// flags, counters) at the configured daily reset time.
	ResetDaily()
}

// Registry is a mutex-guarded map of active strategies, keyed by name.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy, replacing any prior strategy with the same
// name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get returns the named strategy.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", name)
	}
	return s, nil
}

// List returns every registered strategy.
func (r *Registry) List() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}

// ForTimeframe returns every registered strategy whose declared timeframe
// matches interval.
func (r *Registry) ForTimeframe(interval domain.Interval) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Strategy
	for _, s := range r.strategies {
		if s.Timeframe() == interval {
			out = append(out, s)
		}
	}
	return out
}
