// Package broker implements the Mock Broker (C5): the sole owner of
// OpenPosition, Order, and ExecutedTrade state. It evaluates armed
// stops against each new bar before accepting new orders, and never
// calls back into the runner engine — the engine re-reads position
// state at the top of each iteration instead.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nitinkhare/stratsim/internal/model"
	"github.com/nitinkhare/stratsim/internal/strategy"
)

// Broker is the interface the Runner Engine drives. The module ships a
// single implementation (Mock); the interface exists so the engine
// never depends on the concrete type.
type Broker interface {
	Buy(ctx context.Context, runner model.Runner, symbol string, price float64, quantity int, decision strategy.Decision, at time.Time) (bool, error)
	SellAll(ctx context.Context, runner model.Runner, symbol string, price float64, decision strategy.Decision, at time.Time, reasonOverride string) (*model.ExecutedTrade, error)
	OnBar(ctx context.Context, runner model.Runner, open, high, low, close float64, at time.Time) (*model.ExecutedTrade, error)
	ArmTrailingStopOnce(ctx context.Context, runner model.Runner, entryPrice, trailPct float64, at time.Time, intervalMin int) error
	Position(ctx context.Context, runnerID int64) (*model.OpenPosition, error)
	MarkToMarketAll(ctx context.Context, userID int64, at time.Time) error
}

// Factory builds a Broker from a name. Registry resolves implementations
// by key; only "mock" is registered in this module.
type Factory func(cfg Config, store Store) (Broker, error)

// Registry resolves a Broker implementation by name.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds a registry pre-populated with the mock broker.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("mock", func(cfg Config, store Store) (Broker, error) {
		return NewMock(cfg, store), nil
	})
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Build resolves name to a Broker instance.
func (r *Registry) Build(name string, cfg Config, store Store) (Broker, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("broker: unknown implementation %q", name)
	}
	return f(cfg, store)
}
