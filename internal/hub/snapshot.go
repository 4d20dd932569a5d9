package hub

import (
	"sort"
	"time"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// StrategyStatus is the static configuration of one registered strategy,
// sent as part of the connect-time snapshot (spec.md §4.8 "strategy
// statuses").
type StrategyStatus struct {
	Name            string          `json:"name"`
	Timeframe       domain.Interval `json:"timeframe"`
	Intraday        bool            `json:"intraday"`
	MaxTradesPerDay int             `json:"maxTradesPerDay"`
}

// Snapshot is the full status payload sent to every client immediately
// after connecting (spec.md §4.8 "connection flags ... current open
// positions").
type Snapshot struct {
	Connected        bool              `json:"connected"`
	ConnectionReason string            `json:"connectionReason,omitempty"`
	Instruments      []string          `json:"instruments"`
	Strategies       []StrategyStatus  `json:"strategies"`
	Portfolio        *domain.Portfolio `json:"portfolio,omitempty"`
	Positions        []domain.Position `json:"positions"`
	GeneratedAt      time.Time         `json:"generatedAt"`
}

// Snapshot builds the current status snapshot from cached event state and
// the strategy registry.
func (h *Hub) Snapshot() Snapshot {
	h.cache.mu.Lock()
	snap := Snapshot{
		Connected:        h.cache.connected,
		ConnectionReason: h.cache.connectionReason,
		GeneratedAt:      time.Now().UTC(),
	}
	for id := range h.cache.instruments {
		snap.Instruments = append(snap.Instruments, id)
	}
	for _, p := range h.cache.positions {
		snap.Positions = append(snap.Positions, p)
	}
	if h.cache.portfolio != nil {
		cp := *h.cache.portfolio
		snap.Portfolio = &cp
	}
	h.cache.mu.Unlock()

	sort.Strings(snap.Instruments)
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].ID < snap.Positions[j].ID })

	for _, s := range h.registry.List() {
		snap.Strategies = append(snap.Strategies, StrategyStatus{
			Name:            s.Name(),
			Timeframe:       s.Timeframe(),
			Intraday:        s.Intraday(),
			MaxTradesPerDay: s.MaxTradesPerDay(),
		})
	}
	sort.Slice(snap.Strategies, func(i, j int) bool { return snap.Strategies[i].Name < snap.Strategies[j].Name })

	return snap
}

// positionsSnapshot returns the currently open positions, used to answer
// a request:positions pull.
func (h *Hub) positionsSnapshot() []domain.Position {
	h.cache.mu.Lock()
	defer h.cache.mu.Unlock()
	out := make([]domain.Position, 0, len(h.cache.positions))
	for _, p := range h.cache.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// portfolioSnapshot returns the cached portfolio, used to answer a
// request:portfolio pull.
func (h *Hub) portfolioSnapshot() *domain.Portfolio {
	h.cache.mu.Lock()
	defer h.cache.mu.Unlock()
	if h.cache.portfolio == nil {
		return nil
	}
	cp := *h.cache.portfolio
	return &cp
}

// strategiesSnapshot returns the registered strategy statuses, used to
// answer a request:strategies pull.
func (h *Hub) strategiesSnapshot() []StrategyStatus {
	var out []StrategyStatus
	for _, s := range h.registry.List() {
		out = append(out, StrategyStatus{
			Name:            s.Name(),
			Timeframe:       s.Timeframe(),
			Intraday:        s.Intraday(),
			MaxTradesPerDay: s.MaxTradesPerDay(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
