package domain

import "time"

// Side is the direction of a signal or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide is the direction of a held position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// SignalStatus tracks a signal through its terminal lifecycle.
type SignalStatus string

const (
	SignalPending  SignalStatus = "pending"
	SignalExecuted SignalStatus = "executed"
	SignalRejected SignalStatus = "rejected"
	SignalExpired  SignalStatus = "expired"
)

// RejectionReason is a closed, machine-readable set of executor rejection
// codes (spec.md §4.7, §7).
type RejectionReason string

const (
	RejectionNone               RejectionReason = ""
	RejectionDailyLossLimit     RejectionReason = "dailyLossLimit"
	RejectionInsufficientCapital RejectionReason = "insufficientCapital"
	RejectionNoPortfolio        RejectionReason = "noPortfolio"
	RejectionDuplicatePosition  RejectionReason = "duplicateOpenPosition"
	RejectionInvalidSignal      RejectionReason = "invalidSignal"
)

// Signal is produced by a strategy on a closed candle.
type Signal struct {
	ID             string          `json:"id"`
	StrategyName   string          `json:"strategyName"`
	SecurityID     string          `json:"securityId"`
	Side           Side            `json:"side"`
	Price          float64         `json:"price"`
	StopLoss       float64         `json:"stopLoss"`
	Target         float64         `json:"target"`
	Quantity       int             `json:"quantity"`
	Reason         string          `json:"reason"`
	DepthSnapshot  DepthMetrics    `json:"depthSnapshot"`
	QualityScore   float64         `json:"qualityScore"`
	Status         SignalStatus    `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	DecidedAt      *time.Time      `json:"decidedAt,omitempty"`
	RejectionReason RejectionReason `json:"rejectionReason,omitempty"`
}

// OrderStatus tracks a paper order.
type OrderStatus string

const (
	OrderExecuted OrderStatus = "executed"
	OrderRejected OrderStatus = "rejected"
)

// Order is a paper fill one-to-one with an executed signal.
type Order struct {
	ID             string      `json:"id"`
	SignalID       string      `json:"signalId"`
	SecurityID     string      `json:"securityId"`
	Side           Side        `json:"side"`
	Quantity       int         `json:"quantity"`
	RequestedPrice float64     `json:"requestedPrice"`
	FillPrice      float64     `json:"fillPrice"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	FilledAt       *time.Time  `json:"filledAt,omitempty"`
}

// PositionStatus tracks a paper position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseStop   CloseReason = "stop"
	CloseTarget CloseReason = "target"
	CloseEOD    CloseReason = "eod"
	CloseManual CloseReason = "manual"
)

// Position is opened by an executed signal and tracked on every subsequent
// tick for its security. At most one position per (StrategyName, SecurityID)
// may be open at any instant.
type Position struct {
	ID            string         `json:"id"`
	SecurityID    string         `json:"securityId"`
	StrategyName  string         `json:"strategyName"`
	Side          PositionSide   `json:"side"`
	Quantity      int            `json:"quantity"`
	EntryPrice    float64        `json:"entryPrice"`
	CurrentPrice  float64        `json:"currentPrice"`
	StopLoss      float64        `json:"stopLoss"`
	Target        float64        `json:"target"`
	UnrealizedPnL float64        `json:"unrealizedPnL"`
	RealizedPnL   float64        `json:"realizedPnL"`
	Status        PositionStatus `json:"status"`
	OpenedAt      time.Time      `json:"openedAt"`
	ClosedAt      *time.Time     `json:"closedAt,omitempty"`
	CloseReason   CloseReason    `json:"closeReason,omitempty"`
}

// Sign returns +1 for a long position, -1 for a short position.
func (p *Position) Sign() float64 {
	if p.Side == PositionShort {
		return -1
	}
	return 1
}

// Portfolio is one per user; a daily reset zeroes TodayPnL and
// CurrentDailyLoss.
type Portfolio struct {
	UserID            string  `json:"userId"`
	TotalCapital      float64 `json:"totalCapital"`
	AvailableCapital  float64 `json:"availableCapital"`
	UsedMargin        float64 `json:"usedMargin"`
	TodayPnL          float64 `json:"todayPnL"`
	TotalPnL          float64 `json:"totalPnL"`
	TotalTrades       int     `json:"totalTrades"`
	WinningTrades     int     `json:"winningTrades"`
	LosingTrades      int     `json:"losingTrades"`
	WinRate           float64 `json:"winRate"`
	MaxDailyLoss      float64 `json:"maxDailyLoss"`
	CurrentDailyLoss  float64 `json:"currentDailyLoss"`
}

// RecomputeWinRate keeps WinRate consistent with TotalTrades/WinningTrades
// (invariant 2 of spec.md §3).
func (p *Portfolio) RecomputeWinRate() {
	if p.TotalTrades > 0 {
		p.WinRate = float64(p.WinningTrades) / float64(p.TotalTrades)
	} else {
		p.WinRate = 0
	}
}
