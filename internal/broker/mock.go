package broker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nitinkhare/stratsim/internal/model"
	"github.com/nitinkhare/stratsim/internal/strategy"
)

// Config holds the broker's realism parameters; commission, spread, and
// slippage can also be overridden from the environment.
type Config struct {
	CommissionPerTrade float64 // default 1.00
	BidAskSpread       float64 // default 0.01
	SlippagePercent    float64 // default 0.0005
	TickSize           float64 // default 0.01
	StartingCash       float64 // default 1e7
}

// DefaultConfig returns the broker's documented defaults.
func DefaultConfig() Config {
	return Config{
		CommissionPerTrade: 1.00,
		BidAskSpread:       0.01,
		SlippagePercent:    0.0005,
		TickSize:           0.01,
		StartingCash:       1e7,
	}
}

// eps bounds the OHLC stop-crossing comparisons so a bar whose low lands
// exactly on a stop price still triggers.
const eps = 1e-9

// Store is the persistence surface the Mock Broker drives; implemented
// by internal/storage against Postgres.
type Store interface {
	GetPosition(ctx context.Context, runnerID int64) (*model.OpenPosition, error)
	UpsertPosition(ctx context.Context, pos model.OpenPosition) error
	DeletePosition(ctx context.Context, runnerID int64) error
	InsertOrder(ctx context.Context, order model.Order) error
	InsertExecutedTrade(ctx context.Context, trade model.ExecutedTrade) error
	GetAccount(ctx context.Context, userID int64) (*model.Account, error)
	UpsertAccount(ctx context.Context, account model.Account) error
}

// Mock is the store-backed mock broker. State per runner is at most one
// OpenPosition row; the broker never calls back into the engine.
type Mock struct {
	cfg   Config
	store Store
}

// NewMock builds a Mock broker over the given store.
func NewMock(cfg Config, store Store) *Mock {
	return &Mock{cfg: cfg, store: store}
}

// quantize rounds p to the nearest tick, matching the legacy
// round(round(p/tick)*tick, 6) behavior.
func quantize(p, tick float64) float64 {
	if tick <= 0 {
		return p
	}
	return math.Round(math.Round(p/tick)*tick*1e6) / 1e6
}

// adjust applies spread and slippage to an execution price for side,
// then quantizes to the configured tick size.
func (m *Mock) adjust(price float64, side model.OrderSide) float64 {
	if side == model.OrderSideBuy {
		price += m.cfg.BidAskSpread / 2
		price *= 1 + m.cfg.SlippagePercent
	} else {
		price -= m.cfg.BidAskSpread / 2
		price *= 1 - m.cfg.SlippagePercent
	}
	return quantize(price, m.cfg.TickSize)
}

// Position returns the runner's open position, or nil if flat.
func (m *Mock) Position(ctx context.Context, runnerID int64) (*model.OpenPosition, error) {
	return m.store.GetPosition(ctx, runnerID)
}

// Buy opens a position for runner at price, rejecting limit orders that
// cannot be marketed and closing any pre-existing position first via
// sell_all(reason="strategy_override_buy").
func (m *Mock) Buy(ctx context.Context, runner model.Runner, symbol string, price float64, quantity int, decision strategy.Decision, at time.Time) (bool, error) {
	if decision.OrderType == model.OrderTypeLimit && decision.LimitPrice < price {
		return false, nil
	}

	existing, err := m.store.GetPosition(ctx, runner.ID)
	if err != nil {
		return false, fmt.Errorf("broker: buy: load existing position: %w", err)
	}
	if existing != nil {
		if _, err := m.SellAll(ctx, runner, symbol, price, strategy.Decision{}, at, "strategy_override_buy"); err != nil {
			return false, fmt.Errorf("broker: buy: override close: %w", err)
		}
	}

	execPrice := m.adjust(price, model.OrderSideBuy)
	var stopPrice float64
	if decision.StaticStopOrder != nil {
		stopPrice = decision.StaticStopOrder.StopPrice
	}

	pos := model.OpenPosition{
		UserID:    runner.UserID,
		RunnerID:  runner.ID,
		Symbol:    symbol,
		Account:   "mock",
		Quantity:  quantity,
		AvgPrice:  execPrice,
		CreatedAt: at,
		StopPrice: stopPrice,
	}
	if err := m.store.UpsertPosition(ctx, pos); err != nil {
		return false, fmt.Errorf("broker: buy: upsert position: %w", err)
	}

	if err := m.debitCash(ctx, runner.UserID, execPrice*float64(quantity)+m.cfg.CommissionPerTrade); err != nil {
		return false, fmt.Errorf("broker: buy: debit cash: %w", err)
	}

	order := model.Order{
		UserID: runner.UserID, RunnerID: runner.ID, Symbol: symbol,
		Side: model.OrderSideBuy, OrderType: orderTypeOrDefault(decision.OrderType),
		Quantity: quantity, LimitPrice: decision.LimitPrice, StopPrice: stopPrice,
		Status: "filled", CreatedAt: at, FilledAt: at,
	}
	if err := m.store.InsertOrder(ctx, order); err != nil {
		return false, fmt.Errorf("broker: buy: insert order: %w", err)
	}
	return true, nil
}

// ArmTrailingStopOnce idempotently arms a trailing stop on runner's
// open position. A no-op if one is already armed.
func (m *Mock) ArmTrailingStopOnce(ctx context.Context, runner model.Runner, entryPrice, trailPct float64, at time.Time, intervalMin int) error {
	pos, err := m.store.GetPosition(ctx, runner.ID)
	if err != nil {
		return fmt.Errorf("broker: arm trailing stop: %w", err)
	}
	if pos == nil {
		return nil
	}
	if pos.TrailPercent > 0 {
		return nil
	}
	pos.TrailPercent = trailPct
	pos.HighestPrice = entryPrice
	pos.ActivationTS = at.Add(time.Duration(intervalMin) * time.Minute)
	return m.store.UpsertPosition(ctx, *pos)
}

// OnBar evaluates armed stops against the new bar's OHLC before any
// new order is accepted this tick: static stop first, then trailing
// stop (only once the 1-bar activation delay has elapsed). Either exit
// invokes SellAll at the computed exit price.
func (m *Mock) OnBar(ctx context.Context, runner model.Runner, open, high, low, close float64, at time.Time) (*model.ExecutedTrade, error) {
	pos, err := m.store.GetPosition(ctx, runner.ID)
	if err != nil {
		return nil, fmt.Errorf("broker: on bar: load position: %w", err)
	}
	if pos == nil {
		return nil, nil
	}

	if pos.HasStaticStop() && low <= pos.StopPrice+eps {
		return m.SellAll(ctx, runner, pos.Symbol, pos.StopPrice, strategy.Decision{}, at, "static_stop_hit")
	}

	if pos.HasTrailingStop() && !at.Before(pos.ActivationTS) {
		if high > pos.HighestPrice {
			pos.HighestPrice = high
		}
		trailStop := pos.HighestPrice * (1 - pos.TrailPercent/100)
		if err := m.store.UpsertPosition(ctx, *pos); err != nil {
			return nil, fmt.Errorf("broker: on bar: update trailing state: %w", err)
		}
		if low <= trailStop+eps {
			return m.SellAll(ctx, runner, pos.Symbol, trailStop, strategy.Decision{}, at, "trailing_stop_hit")
		}
	}

	return nil, nil
}

// SellAll closes runner's entire position at price, rejecting limit
// orders that cannot be marketed. Computes pnl_amount netting
// commission on both legs and pnl_percent against gross cost basis,
// per the legacy formula preserved verbatim (see DESIGN.md).
func (m *Mock) SellAll(ctx context.Context, runner model.Runner, symbol string, price float64, decision strategy.Decision, at time.Time, reasonOverride string) (*model.ExecutedTrade, error) {
	pos, err := m.store.GetPosition(ctx, runner.ID)
	if err != nil {
		return nil, fmt.Errorf("broker: sell all: load position: %w", err)
	}
	if pos == nil || pos.Quantity <= 0 {
		return nil, nil
	}
	if decision.OrderType == model.OrderTypeLimit && decision.LimitPrice > price {
		return nil, nil
	}

	execPrice := m.adjust(price, model.OrderSideSell)
	qty := pos.Quantity
	costBasis := pos.AvgPrice * float64(qty)
	pnlAmount := (execPrice-pos.AvgPrice)*float64(qty) - 2*m.cfg.CommissionPerTrade
	var pnlPercent float64
	if costBasis != 0 {
		pnlPercent = pnlAmount / costBasis * 100
	}

	timeframe := "5m"
	if runner.TimeframeMinutes == 1440 {
		timeframe = "1d"
	}

	trade := model.ExecutedTrade{
		UserID: runner.UserID, RunnerID: runner.ID, Symbol: symbol,
		BuyTS: pos.CreatedAt, SellTS: at, BuyPrice: pos.AvgPrice, SellPrice: execPrice,
		Quantity: qty, PnLAmount: round6(pnlAmount), PnLPercent: round6(pnlPercent),
		Strategy: runner.StrategyKey, Timeframe: timeframe,
	}
	if err := m.store.InsertExecutedTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("broker: sell all: insert trade: %w", err)
	}

	if err := m.store.DeletePosition(ctx, runner.ID); err != nil {
		return nil, fmt.Errorf("broker: sell all: delete position: %w", err)
	}

	if err := m.creditCash(ctx, runner.UserID, execPrice*float64(qty)-m.cfg.CommissionPerTrade); err != nil {
		return nil, fmt.Errorf("broker: sell all: credit cash: %w", err)
	}

	reason := reasonOverride
	if reason == "" {
		reason = decision.Reason
	}
	order := model.Order{
		UserID: runner.UserID, RunnerID: runner.ID, Symbol: symbol,
		Side: model.OrderSideSell, OrderType: orderTypeOrDefault(decision.OrderType),
		Quantity: qty, LimitPrice: decision.LimitPrice,
		Status: "filled", CreatedAt: at, FilledAt: at, Details: reason,
	}
	if err := m.store.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("broker: sell all: insert order: %w", err)
	}

	return &trade, nil
}

// MarkToMarketAll is a reserved hook; a no-op in the current design.
func (m *Mock) MarkToMarketAll(ctx context.Context, userID int64, at time.Time) error {
	return nil
}

func (m *Mock) debitCash(ctx context.Context, userID int64, amount float64) error {
	acct, err := m.account(ctx, userID)
	if err != nil {
		return err
	}
	acct.Cash -= amount
	return m.store.UpsertAccount(ctx, *acct)
}

func (m *Mock) creditCash(ctx context.Context, userID int64, amount float64) error {
	acct, err := m.account(ctx, userID)
	if err != nil {
		return err
	}
	acct.Cash += amount
	return m.store.UpsertAccount(ctx, *acct)
}

func (m *Mock) account(ctx context.Context, userID int64) (*model.Account, error) {
	acct, err := m.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("broker: load account: %w", err)
	}
	if acct == nil {
		acct = &model.Account{UserID: userID, Name: "mock"}
	}
	if acct.Cash == 0 && acct.Equity == 0 {
		acct.Cash = m.cfg.StartingCash
		acct.Equity = m.cfg.StartingCash
	}
	return acct, nil
}

func orderTypeOrDefault(t model.OrderType) model.OrderType {
	if t == "" {
		return model.OrderTypeMarket
	}
	return t
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
