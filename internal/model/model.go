// Package model defines the entities shared across the simulation engine:
// users, runners, bars, positions, orders, trades, and the per-tick audit
// trail. Keeping these shared types in model, which imports no other
// internal package, keeps the broker, engine, and storage layers free of
// import cycles.
package model

import "time"

// Activation is the lifecycle state of a Runner.
type Activation string

const (
	ActivationActive   Activation = "active"
	ActivationInactive Activation = "inactive"
	ActivationClosing  Activation = "closing"
	ActivationRemoved  Activation = "removed"
)

// User owns all simulation state. In practice a single "analytics" user
// is bootstrapped and every Runner belongs to it.
type User struct {
	ID       int64
	Username string
}

// Runner is a persistent (symbol, timeframe, strategy, parameters, budget)
// tuple evaluated on every scheduler tick.
type Runner struct {
	ID               int64
	UserID           int64
	Name             string
	StrategyKey      string
	Stock            string
	TimeframeMinutes int // 5, 1440, ...
	Parameters       map[string]any
	Budget           float64
	CurrentBudget    float64
	Activation       Activation
	ExitStrategy     string
	TimeRangeFrom    *time.Time
	TimeRangeTo      *time.Time
}

// IsActive reports whether the runner should be evaluated on a tick.
func (r Runner) IsActive() bool {
	return r.Activation == ActivationActive
}

// SimulationState is the scheduler's persisted cursor for one user.
// Exactly one row exists per user.
type SimulationState struct {
	UserID    int64
	IsRunning bool
	LastTS    *time.Time
}

// Bar is one OHLCV aggregation for a symbol, daily or intraday. Daily bars
// carry Date as the UTC instant corresponding to ET midnight of that
// session; intraday bars carry TS as a UTC instant and IntervalMin as the
// bar width.
type Bar struct {
	Symbol     string
	TS         time.Time // for intraday bars
	Date       time.Time // for daily bars (tf == 1440)
	IntervalMin int
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
}

// Timestamp returns the bar's authoritative instant regardless of whether
// it is a daily or intraday row.
func (b Bar) Timestamp() time.Time {
	if b.IntervalMin == 1440 {
		return b.Date
	}
	return b.TS
}

// OpenPosition is the mock broker's sole mutable record per runner: at
// most one exists at a time, keyed by RunnerID.
type OpenPosition struct {
	UserID        int64
	RunnerID      int64
	Symbol        string
	Account       string // always "mock"
	Quantity      int
	AvgPrice      float64
	CreatedAt     time.Time
	StopPrice     float64 // 0 means unset
	TrailPercent  float64 // 0 means unset
	HighestPrice  float64
	ActivationTS  time.Time // trailing stop may not fire before this instant
}

// HasStaticStop reports whether a static stop price is armed.
func (p OpenPosition) HasStaticStop() bool { return p.StopPrice > 0 }

// HasTrailingStop reports whether a trailing stop is armed.
func (p OpenPosition) HasTrailingStop() bool { return p.TrailPercent > 0 }

// OrderSide is BUY or SELL.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType enumerates the order types the mock broker understands.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MKT"
	OrderTypeLimit      OrderType = "LMT"
	OrderTypeStop       OrderType = "STOP"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
	OrderTypeTrailLimit OrderType = "TRAIL_LIMIT"
)

// Order is an append-only record of every fill the mock broker produces.
type Order struct {
	ID         int64
	UserID     int64
	RunnerID   int64
	Symbol     string
	Side       OrderSide
	OrderType  OrderType
	Quantity   int
	LimitPrice float64
	StopPrice  float64
	Status     string
	CreatedAt  time.Time
	FilledAt   time.Time
	Details    string
}

// ExecutedTrade is written only when a SELL closes a position.
type ExecutedTrade struct {
	ID         int64
	UserID     int64
	RunnerID   int64
	Symbol     string
	BuyTS      time.Time
	SellTS     time.Time
	BuyPrice   float64
	SellPrice  float64
	Quantity   int
	PnLAmount  float64
	PnLPercent float64
	Strategy   string
	Timeframe  string // "5m" or "1d"
}

// RunnerExecution is the per-tick audit row the engine writes via the
// event store. Its idempotency key is (CycleSeq, UserID, Symbol, Strategy,
// Timeframe); conflicting rows within a batch collapse by severity.
type RunnerExecution struct {
	ID            int64
	RunnerID      int64
	UserID        int64
	Symbol        string
	Strategy      string
	Status        string
	Reason        string
	Details       string
	CycleSeq      int64
	ExecutionTime time.Time
	Timeframe     int
}

// Severity returns the collapse priority used by the event store:
// error(50) > sell(40) > buy(30) > completed/no_action(20) > skipped-*(10) > other(0).
func (e RunnerExecution) Severity() int {
	switch {
	case e.Status == "error":
		return 50
	case e.Status == "sell":
		return 40
	case e.Status == "buy":
		return 30
	case e.Status == "completed" || e.Status == "no_action":
		return 20
	case len(e.Status) >= 8 && e.Status[:8] == "skipped-":
		return 10
	default:
		return 0
	}
}

// AnalyticsResult is the aggregator's summary row, unique per
// (Symbol, Strategy, Timeframe).
type AnalyticsResult struct {
	Symbol              string
	Strategy            string
	Timeframe           string
	StartTS             *time.Time
	EndTS               *time.Time
	FinalPnLAmount      float64
	FinalPnLPercent     float64
	TradesCount         int
	MaxDrawdown         *float64
	AvgPnLPerTrade      *float64
	AvgTradeDurationSec *float64
}

// Account holds cash/equity for a user under a named book, unique on
// (UserID, Name). The mock broker's book is always named "mock".
type Account struct {
	UserID int64
	Name   string
	Cash   float64
	Equity float64
}

// HealthStatus is the Health Gate FSM state.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthExcluded HealthStatus = "EXCLUDED"
)
