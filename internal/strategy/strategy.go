// Package strategy defines the decision contract every runner strategy
// implements, plus a small registry of concrete sample strategies used
// to exercise that contract end to end.
package strategy

import (
	"github.com/nitinkhare/stratsim/internal/model"
)

// Action is the verb half of a Decision.
type Action string

const (
	ActionBuy      Action = "BUY"
	ActionSell     Action = "SELL"
	ActionNoAction Action = "NO_ACTION"
)

// TrailStopOrder requests a trailing stop be armed on a BUY fill.
type TrailStopOrder struct {
	TrailingPercent float64
	TrailingAmount  float64
}

// StaticStopOrder requests a fixed-price stop be armed on a BUY fill.
type StaticStopOrder struct {
	StopPrice  float64
	OrderType  model.OrderType // STOP or STOP_LIMIT
	LimitPrice float64         // only meaningful for STOP_LIMIT
}

// Decision is the tagged variant strategies return from DecideBuy/
// DecideSell. Exactly one of the BUY/SELL-specific field groups is
// meaningful for a given Action; NoAction decisions pass through Reason
// and Details only.
type Decision struct {
	Action Action

	// BUY fields.
	Quantity        int
	OrderType       model.OrderType
	LimitPrice      float64
	TrailStopOrder  *TrailStopOrder
	StaticStopOrder *StaticStopOrder

	// SELL fields.
	// OrderType/LimitPrice above double as the sell order's shape.

	Reason  string
	Details string
}

// Context is the decision context the Runner Engine builds for every
// tick.
type Context struct {
	RunnerView            model.Runner
	Position              *model.OpenPosition
	CurrentPrice          float64
	Candles               []model.Bar
	DistanceFromTimeLimit *float64
}

// Strategy is the contract every runner strategy implements.
type Strategy interface {
	Key() string
	DecideBuy(ctx Context) Decision
	DecideSell(ctx Context) Decision
}

// Registry resolves a strategy by its configured key. Unknown keys are
// the caller's responsibility to treat as skipped-unknown-strategy.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a registry from the given strategies, keyed by
// Strategy.Key().
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Key()] = s
	}
	return r
}

// Lookup returns the strategy registered under key, or false if none is.
func (r *Registry) Lookup(key string) (Strategy, bool) {
	s, ok := r.strategies[key]
	return s, ok
}

// noAction is a small helper every strategy uses to build a NO_ACTION
// decision with a reason.
func noAction(reason string) Decision {
	return Decision{Action: ActionNoAction, Reason: reason}
}
