// Package engine implements the Runner Engine (C4): the per-tick
// orchestration that fans out across active runners, consults the
// universe and health gates, prefetches candles, calls strategies,
// validates decisions, dispatches to the broker, and records the
// per-tick audit trail.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nitinkhare/stratsim/internal/broker"
	"github.com/nitinkhare/stratsim/internal/health"
	"github.com/nitinkhare/stratsim/internal/market"
	"github.com/nitinkhare/stratsim/internal/model"
	"github.com/nitinkhare/stratsim/internal/strategy"
	"github.com/nitinkhare/stratsim/internal/universe"
)

// Store is the persistence surface the engine needs beyond the
// broker's own Store (see internal/broker.Store).
type Store interface {
	ActiveRunners(ctx context.Context, userID int64) ([]model.Runner, error)
	GetAccount(ctx context.Context, userID int64) (*model.Account, error)
	UpsertAccount(ctx context.Context, account model.Account) error
	UpsertRunnerExecutions(ctx context.Context, rows []model.RunnerExecution) error
}

// Config mirrors internal/config.EngineConfig; duplicated here as a
// plain struct so the engine package has no dependency on the config
// package's JSON tags.
type Config struct {
	RunnerParallelism     int
	UnitBudget            float64
	MinCashFloor          float64
	TopupCashTo           float64
	RequireBarAdvance     bool
	RegularHoursOnly      bool
	CooldownAfterStopBars int
	MinIntradayTrailPct   float64
	ThinNoActionDetails   bool
	SummarizeSameBar      bool
	SuppressDailySameBar  bool
	DefaultStopLossPercent float64
	Environment           Environment
}

// Engine is the Runner Engine. It owns its mutable process-local state
// (last_bar_ts, cooldown counters) as instance fields rather than
// module-level globals.
type Engine struct {
	cfg      Config
	gateway  *market.Gateway
	universe *universe.Gate
	health   *health.Gate
	brokerD  broker.Broker
	registry *strategy.Registry
	store    Store

	mu          sync.Mutex
	lastBarTS   map[string]time.Time // key: runnerID|tf
	cooldown    map[string]int       // key: runnerID|tf, counts down advanced bars remaining
	loggedEmptyOnce map[string]bool  // key: symbol|tf|et-day, one skipped-no-data log per day
}

// New builds an Engine wired to its collaborators.
func New(cfg Config, gateway *market.Gateway, universeGate *universe.Gate, healthGate *health.Gate, b broker.Broker, registry *strategy.Registry, store Store) *Engine {
	return &Engine{
		cfg: cfg, gateway: gateway, universe: universeGate, health: healthGate,
		brokerD: b, registry: registry, store: store,
		lastBarTS: make(map[string]time.Time), cooldown: make(map[string]int),
		loggedEmptyOnce: make(map[string]bool),
	}
}

func barKey(runnerID int64, tfMin int) string {
	return fmt.Sprintf("%d|%d", runnerID, tfMin)
}

// Tick is the per-invocation contract: one sweep across userID's
// active runners at virtual time asOf.
func (e *Engine) Tick(ctx context.Context, userID int64, asOf time.Time) error {
	cycleSeq := asOf.Unix()

	if err := e.topUpCash(ctx, userID); err != nil {
		return fmt.Errorf("engine: top up cash: %w", err)
	}

	runners, err := e.store.ActiveRunners(ctx, userID)
	if err != nil {
		return fmt.Errorf("engine: load active runners: %w", err)
	}

	var executions []model.RunnerExecution
	var execMu sync.Mutex
	record := func(row model.RunnerExecution) {
		row.CycleSeq = cycleSeq
		row.ExecutionTime = asOf
		execMu.Lock()
		executions = append(executions, row)
		execMu.Unlock()
	}

	admitted := make([]model.Runner, 0, len(runners))
	for _, r := range runners {
		d := e.universe.Decide(ctx, r.Stock)
		if !d.Allowed {
			record(model.RunnerExecution{
				RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey,
				Status: "skipped-excluded-universe", Reason: d.DenyReason, Timeframe: r.TimeframeMinutes,
			})
			continue
		}
		admitted = append(admitted, r)
	}

	candles, err := e.prefetch(ctx, admitted, asOf)
	if err != nil {
		return fmt.Errorf("engine: prefetch candles: %w", err)
	}

	sem := make(chan struct{}, e.cfg.RunnerParallelism)
	var wg sync.WaitGroup
	for _, r := range admitted {
		r := r
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.processRunner(ctx, r, asOf, cycleSeq, candles, record)
		}()
	}
	wg.Wait()

	if len(executions) > 0 {
		if err := e.store.UpsertRunnerExecutions(ctx, executions); err != nil {
			return fmt.Errorf("engine: upsert runner executions: %w", err)
		}
	}

	return e.brokerD.MarkToMarketAll(ctx, userID, asOf)
}

type candleKey struct {
	symbol string
	tfMin  int
}

func (e *Engine) prefetch(ctx context.Context, runners []model.Runner, asOf time.Time) (map[candleKey][]model.Bar, error) {
	bySymbolTF := make(map[int]map[string]bool)
	for _, r := range runners {
		sym := e.universe.MapSymbol(r.Stock)
		if bySymbolTF[r.TimeframeMinutes] == nil {
			bySymbolTF[r.TimeframeMinutes] = make(map[string]bool)
		}
		bySymbolTF[r.TimeframeMinutes][sym] = true
	}

	out := make(map[candleKey][]model.Bar)
	for tf, symbols := range bySymbolTF {
		syms := make([]string, 0, len(symbols))
		for s := range symbols {
			syms = append(syms, s)
		}
		bulk, err := e.gateway.BarsBulkUntil(ctx, syms, tf, asOf, 300, e.cfg.RegularHoursOnly)
		if err != nil {
			return nil, err
		}
		for sym, bars := range bulk {
			out[candleKey{symbol: sym, tfMin: tf}] = bars
		}
	}
	return out, nil
}

func (e *Engine) processRunner(ctx context.Context, r model.Runner, asOf time.Time, cycleSeq int64, candles map[candleKey][]model.Bar, record func(model.RunnerExecution)) {
	strat, ok := e.registry.Lookup(r.StrategyKey)
	if !ok {
		record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-unknown-strategy", Timeframe: r.TimeframeMinutes})
		return
	}

	dataSymbol := e.universe.MapSymbol(r.Stock)

	if status, reason := e.health.Status(dataSymbol, r.TimeframeMinutes, asOf); status == model.HealthExcluded {
		record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-no-data", Reason: "health-excluded", Details: reason, Timeframe: r.TimeframeMinutes})
		return
	}

	bars := candles[candleKey{symbol: dataSymbol, tfMin: r.TimeframeMinutes}]
	if len(bars) == 0 {
		if _, ok, _ := e.gateway.EarliestDaily(ctx, dataSymbol); !ok {
			e.health.ExcludeForCoverage(dataSymbol, r.TimeframeMinutes, asOf)
		} else {
			e.health.RecordNoData(dataSymbol, r.TimeframeMinutes, asOf, false)
		}
		et := asOf.In(newYorkLike()).Format("2006-01-02")
		logKey := dataSymbol + "|" + fmt.Sprint(r.TimeframeMinutes) + "|" + et
		e.mu.Lock()
		already := e.loggedEmptyOnce[logKey]
		e.loggedEmptyOnce[logKey] = true
		e.mu.Unlock()
		if !already {
			record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-no-data", Timeframe: r.TimeframeMinutes})
		}
		return
	}

	last := bars[len(bars)-1]
	lastTS := last.Timestamp()

	if e.isStale(lastTS, asOf, r.TimeframeMinutes) {
		record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-stale-price", Timeframe: r.TimeframeMinutes})
		return
	}

	// Broker first: evaluate armed stops against the new bar.
	cdKey := barKey(r.ID, r.TimeframeMinutes)
	trade, err := e.brokerD.OnBar(ctx, r, last.Open, last.High, last.Low, last.Close, asOf)
	if err != nil {
		e.health.RecordNoData(dataSymbol, r.TimeframeMinutes, asOf, true)
		record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "error", Reason: err.Error(), Timeframe: r.TimeframeMinutes})
		return
	}
	e.health.MarkCleanPass(dataSymbol, r.TimeframeMinutes)
	if trade != nil {
		record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "sell", Reason: "broker_stop_triggered", Timeframe: r.TimeframeMinutes})
		e.mu.Lock()
		e.cooldown[cdKey] = e.cfg.CooldownAfterStopBars
		e.mu.Unlock()
	}

	// Bar-advance guard.
	e.mu.Lock()
	prevTS, hadPrev := e.lastBarTS[cdKey]
	barAdvanced := !hadPrev || lastTS.After(prevTS)
	if barAdvanced {
		if c, ok := e.cooldown[cdKey]; ok && c > 0 {
			e.cooldown[cdKey] = c - 1
		}
	}
	e.mu.Unlock()

	if e.cfg.RequireBarAdvance && !barAdvanced {
		if !(r.TimeframeMinutes == 1440 && e.cfg.SuppressDailySameBar) {
			record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-same-bar", Timeframe: r.TimeframeMinutes})
		}
		return
	}

	pos, err := e.brokerD.Position(ctx, r.ID)
	if err != nil {
		e.health.RecordNoData(dataSymbol, r.TimeframeMinutes, asOf, true)
		record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "error", Reason: err.Error(), Timeframe: r.TimeframeMinutes})
		return
	}

	sctx := strategy.Context{RunnerView: r, Position: pos, CurrentPrice: last.Close, Candles: bars}

	var decision strategy.Decision
	if pos != nil {
		decision = strat.DecideSell(sctx)
	} else {
		decision = strat.DecideBuy(sctx)
	}

	defaultStopLossPercent := paramFloat(r.Parameters, "default_stop_loss_percent", e.cfg.DefaultStopLossPercent)
	decision, err = ValidateDecision(e.cfg.Environment, defaultStopLossPercent, last.Close, decision)
	if err != nil {
		record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-build_failed", Reason: err.Error(), Timeframe: r.TimeframeMinutes})
		return
	}

	e.dispatch(ctx, r, dataSymbol, pos, decision, last, asOf, cdKey, record)

	e.mu.Lock()
	e.lastBarTS[cdKey] = lastTS
	e.mu.Unlock()
}

func (e *Engine) dispatch(ctx context.Context, r model.Runner, dataSymbol string, pos *model.OpenPosition, decision strategy.Decision, last model.Bar, asOf time.Time, cdKey string, record func(model.RunnerExecution)) {
	switch decision.Action {
	case strategy.ActionBuy:
		if pos != nil {
			record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-position-open", Timeframe: r.TimeframeMinutes})
			return
		}
		e.mu.Lock()
		cooldownRemaining := e.cooldown[cdKey]
		e.mu.Unlock()
		if cooldownRemaining > 0 {
			record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-cooldown", Timeframe: r.TimeframeMinutes})
			return
		}

		qty := decision.Quantity
		if qty == 0 {
			qty = int(e.cfg.UnitBudget / maxf(last.Close, 0.01))
		}
		if qty <= 0 {
			record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-no-budget", Timeframe: r.TimeframeMinutes})
			return
		}

		ok, err := e.brokerD.Buy(ctx, r, r.Stock, last.Close, qty, decision, asOf)
		if err != nil {
			e.health.RecordNoData(dataSymbol, r.TimeframeMinutes, asOf, true)
			record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "error", Reason: err.Error(), Timeframe: r.TimeframeMinutes})
			return
		}
		if !ok {
			record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-limit-not-marketable", Timeframe: r.TimeframeMinutes})
			return
		}

		var trailPct float64
		if pp := paramFloat(r.Parameters, "trailing_stop_percent", 0); pp > trailPct {
			trailPct = pp
		}
		if decision.TrailStopOrder != nil && decision.TrailStopOrder.TrailingPercent > trailPct {
			trailPct = decision.TrailStopOrder.TrailingPercent
		}
		if r.TimeframeMinutes != 1440 && e.cfg.MinIntradayTrailPct > trailPct {
			trailPct = e.cfg.MinIntradayTrailPct
		}
		if trailPct > 0 {
			if err := e.brokerD.ArmTrailingStopOnce(ctx, r, last.Close, trailPct, asOf, r.TimeframeMinutes); err != nil {
				e.health.RecordNoData(dataSymbol, r.TimeframeMinutes, asOf, true)
				record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "error", Reason: err.Error(), Timeframe: r.TimeframeMinutes})
				return
			}
		}
		record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "buy", Reason: decision.Reason, Details: decision.Details, Timeframe: r.TimeframeMinutes})

	case strategy.ActionSell:
		if pos == nil {
			record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-no-position", Timeframe: r.TimeframeMinutes})
			return
		}
		reason := decision.Reason
		if reason == "" {
			reason = "strategy_sell"
		}
		trade, err := e.brokerD.SellAll(ctx, r, r.Stock, last.Close, decision, asOf, reason)
		if err != nil {
			e.health.RecordNoData(dataSymbol, r.TimeframeMinutes, asOf, true)
			record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "error", Reason: err.Error(), Timeframe: r.TimeframeMinutes})
			return
		}
		if trade == nil {
			record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "skipped-limit-not-marketable", Timeframe: r.TimeframeMinutes})
			return
		}
		record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "sell", Reason: reason, Timeframe: r.TimeframeMinutes})

	case strategy.ActionNoAction:
		details := decision.Details
		if e.cfg.ThinNoActionDetails {
			details = ""
		}
		record(model.RunnerExecution{RunnerID: r.ID, UserID: r.UserID, Symbol: r.Stock, Strategy: r.StrategyKey, Status: "no_action", Reason: decision.Reason, Details: details, Timeframe: r.TimeframeMinutes})
	}
}

// isStale reports whether the most recent candle is too old to act on:
// a bar is stale iff it
// belongs to an earlier ET calendar day than asOf, or the gap between
// asOf and the bar exceeds one timeframe interval plus one second.
func (e *Engine) isStale(lastTS, asOf time.Time, tfMin int) bool {
	if lastTS.In(newYorkLike()).Format("2006-01-02") < asOf.In(newYorkLike()).Format("2006-01-02") {
		return true
	}
	maxGap := time.Duration(tfMin)*time.Minute + time.Second
	return asOf.Sub(lastTS) > maxGap
}

func newYorkLike() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

func (e *Engine) topUpCash(ctx context.Context, userID int64) error {
	acct, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if acct == nil {
		acct = &model.Account{UserID: userID, Name: "mock", Cash: e.cfg.TopupCashTo, Equity: e.cfg.TopupCashTo}
		return e.store.UpsertAccount(ctx, *acct)
	}
	if acct.Cash < e.cfg.MinCashFloor {
		acct.Cash = e.cfg.TopupCashTo
		return e.store.UpsertAccount(ctx, *acct)
	}
	return nil
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// paramFloat reads key from a runner's parameters map (decoded from
// JSONB, so numeric values surface as float64), falling back to
// fallback when the key is absent or not numeric.
func paramFloat(params map[string]any, key string, fallback float64) float64 {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return fallback
	}
}
