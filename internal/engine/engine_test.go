package engine

import (
	"context"
	"testing"
	"time"

	"github.com/nitinkhare/stratsim/internal/health"
	"github.com/nitinkhare/stratsim/internal/market"
	"github.com/nitinkhare/stratsim/internal/model"
	"github.com/nitinkhare/stratsim/internal/strategy"
	"github.com/nitinkhare/stratsim/internal/universe"
)

// fakeBarStore serves a fixed, monotonically-increasing bar series for
// a single symbol so the engine sees a fresh, non-stale bar at asOf.
type fakeBarStore struct {
	bars      []model.Bar
	dailyBars []model.Bar
}

func (f *fakeBarStore) DailyBarsUntil(ctx context.Context, symbol string, asOf time.Time, lookback int) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range f.dailyBars {
		if !b.TS.After(asOf) {
			out = append(out, b)
		}
	}
	if len(out) > lookback {
		out = out[len(out)-lookback:]
	}
	return out, nil
}

func (f *fakeBarStore) MinuteBarsUntil(ctx context.Context, symbol string, tfMin int, asOf time.Time, lookback int) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range f.bars {
		if !b.TS.After(asOf) {
			out = append(out, b)
		}
	}
	if len(out) > lookback {
		out = out[len(out)-lookback:]
	}
	return out, nil
}

func (f *fakeBarStore) EarliestDaily(ctx context.Context, symbol string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (f *fakeBarStore) EarliestMinute(ctx context.Context, symbol string, tfMin int) (time.Time, bool, error) {
	if len(f.bars) == 0 {
		return time.Time{}, false, nil
	}
	return f.bars[0].TS, true, nil
}
func (f *fakeBarStore) LatestMinute(ctx context.Context, symbol string, tfMin int) (time.Time, bool, error) {
	if len(f.bars) == 0 {
		return time.Time{}, false, nil
	}
	return f.bars[len(f.bars)-1].TS, true, nil
}
func (f *fakeBarStore) NextTimestampAfter(ctx context.Context, symbol string, tfMin int, after time.Time) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

type fakeCoverage struct{ bars []model.Bar }

func (f *fakeCoverage) EarliestDaily(ctx context.Context, symbol string) (time.Time, bool, error) {
	return time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), true, nil
}
func (f *fakeCoverage) HasMinute(ctx context.Context, symbol string, tfMin int) (bool, error) {
	return len(f.bars) > 0, nil
}

type fakeEngineStore struct {
	runners  []model.Runner
	accounts map[int64]model.Account
	executions []model.RunnerExecution
}

func (s *fakeEngineStore) ActiveRunners(ctx context.Context, userID int64) ([]model.Runner, error) {
	return s.runners, nil
}
func (s *fakeEngineStore) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	a, ok := s.accounts[userID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
func (s *fakeEngineStore) UpsertAccount(ctx context.Context, account model.Account) error {
	s.accounts[account.UserID] = account
	return nil
}
func (s *fakeEngineStore) UpsertRunnerExecutions(ctx context.Context, rows []model.RunnerExecution) error {
	s.executions = append(s.executions, rows...)
	return nil
}

type fakeBroker struct {
	positions    map[int64]*model.OpenPosition
	buys         int
	trailArmed   int
	lastTrailPct float64
}

func (b *fakeBroker) Buy(ctx context.Context, runner model.Runner, symbol string, price float64, quantity int, decision strategy.Decision, at time.Time) (bool, error) {
	b.buys++
	b.positions[runner.ID] = &model.OpenPosition{RunnerID: runner.ID, Symbol: symbol, Quantity: quantity, AvgPrice: price, CreatedAt: at}
	return true, nil
}
func (b *fakeBroker) SellAll(ctx context.Context, runner model.Runner, symbol string, price float64, decision strategy.Decision, at time.Time, reasonOverride string) (*model.ExecutedTrade, error) {
	delete(b.positions, runner.ID)
	return &model.ExecutedTrade{RunnerID: runner.ID}, nil
}
func (b *fakeBroker) OnBar(ctx context.Context, runner model.Runner, open, high, low, close float64, at time.Time) (*model.ExecutedTrade, error) {
	return nil, nil
}
func (b *fakeBroker) ArmTrailingStopOnce(ctx context.Context, runner model.Runner, entryPrice, trailPct float64, at time.Time, intervalMin int) error {
	b.trailArmed++
	b.lastTrailPct = trailPct
	return nil
}
func (b *fakeBroker) Position(ctx context.Context, runnerID int64) (*model.OpenPosition, error) {
	return b.positions[runnerID], nil
}
func (b *fakeBroker) MarkToMarketAll(ctx context.Context, userID int64, at time.Time) error {
	return nil
}

func TestTickSkipsUnknownStrategy(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)

	bars := []model.Bar{{Symbol: "AAPL", TS: base, IntervalMin: 5, Open: 100, High: 100, Low: 100, Close: 100, Volume: 100}}
	gw := market.NewGateway(&fakeBarStore{bars: bars})
	ug := universe.New(&fakeCoverage{bars: bars}, universe.Config{})
	hg := health.New(health.DefaultConfig())
	br := &fakeBroker{positions: map[int64]*model.OpenPosition{}}
	reg := strategy.NewRegistry()
	store := &fakeEngineStore{
		runners:  []model.Runner{{ID: 1, UserID: 1, Stock: "AAPL", StrategyKey: "nonexistent", TimeframeMinutes: 5}},
		accounts: map[int64]model.Account{},
	}

	eng := New(Config{RunnerParallelism: 2, UnitBudget: 2000, TopupCashTo: 1e7, CooldownAfterStopBars: 3}, gw, ug, hg, br, reg, store)
	if err := eng.Tick(ctx, 1, base); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(store.executions) != 1 || store.executions[0].Status != "skipped-unknown-strategy" {
		t.Fatalf("expected one skipped-unknown-strategy execution, got %+v", store.executions)
	}
}

func TestTickBuysOnBreakout(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)

	closes := make([]float64, 21)
	volumes := make([]int64, 21)
	bars := make([]model.Bar, 21)
	for i := range closes {
		closes[i] = 100
		volumes[i] = 1000
	}
	closes[20] = 120
	volumes[20] = 5000
	for i, c := range closes {
		bars[i] = model.Bar{Symbol: "AAPL", TS: base.Add(time.Duration(i) * 5 * time.Minute), IntervalMin: 5, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: volumes[i]}
	}
	asOf := bars[len(bars)-1].TS

	gw := market.NewGateway(&fakeBarStore{bars: bars})
	ug := universe.New(&fakeCoverage{bars: bars}, universe.Config{})
	hg := health.New(health.DefaultConfig())
	br := &fakeBroker{positions: map[int64]*model.OpenPosition{}}
	reg := strategy.NewRegistry(strategy.NewBreakout())
	store := &fakeEngineStore{
		runners:  []model.Runner{{ID: 1, UserID: 1, Stock: "AAPL", StrategyKey: "breakout", TimeframeMinutes: 5}},
		accounts: map[int64]model.Account{},
	}

	eng := New(Config{RunnerParallelism: 2, UnitBudget: 2000, TopupCashTo: 1e7, CooldownAfterStopBars: 3, MinIntradayTrailPct: 1.25}, gw, ug, hg, br, reg, store)
	if err := eng.Tick(ctx, 1, asOf); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if br.buys != 1 {
		t.Fatalf("expected exactly one buy, got %d", br.buys)
	}
	foundBuy := false
	for _, e := range store.executions {
		if e.Status == "buy" {
			foundBuy = true
		}
	}
	if !foundBuy {
		t.Fatalf("expected a buy RunnerExecution, got %+v", store.executions)
	}
}

// TestTickArmsTrailingStopOnDailyBuy verifies that a daily-timeframe (1440m)
// runner still gets a trailing stop armed on a BUY fill: the
// min_intraday_trail_pct floor is intraday-only, but arming itself is not.
func TestTickArmsTrailingStopOnDailyBuy(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC)

	closes := make([]float64, 21)
	volumes := make([]int64, 21)
	bars := make([]model.Bar, 21)
	for i := range closes {
		closes[i] = 100
		volumes[i] = 1000
	}
	closes[20] = 120
	volumes[20] = 5000
	for i, c := range closes {
		bars[i] = model.Bar{Symbol: "AAPL", TS: base.AddDate(0, 0, i), Date: base.AddDate(0, 0, i), IntervalMin: 1440, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: volumes[i]}
	}
	asOf := bars[len(bars)-1].TS

	gw := market.NewGateway(&fakeBarStore{dailyBars: bars})
	ug := universe.New(&fakeCoverage{bars: bars}, universe.Config{})
	hg := health.New(health.DefaultConfig())
	br := &fakeBroker{positions: map[int64]*model.OpenPosition{}}
	reg := strategy.NewRegistry(strategy.NewBreakout())
	store := &fakeEngineStore{
		runners: []model.Runner{{
			ID: 1, UserID: 1, Stock: "AAPL", StrategyKey: "breakout", TimeframeMinutes: 1440,
			Parameters: map[string]any{"trailing_stop_percent": 7.5},
		}},
		accounts: map[int64]model.Account{},
	}

	eng := New(Config{RunnerParallelism: 2, UnitBudget: 2000, TopupCashTo: 1e7, CooldownAfterStopBars: 3, MinIntradayTrailPct: 1.25}, gw, ug, hg, br, reg, store)
	if err := eng.Tick(ctx, 1, asOf); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if br.buys != 1 {
		t.Fatalf("expected exactly one buy, got %d", br.buys)
	}
	if br.trailArmed != 1 {
		t.Fatalf("expected a trailing stop to be armed on a daily-timeframe buy, got %d arm calls", br.trailArmed)
	}
	if br.lastTrailPct != 7.5 {
		t.Fatalf("expected trail pct to come from parameters.trailing_stop_percent (7.5, above breakout's 5%%), got %v", br.lastTrailPct)
	}
}

// TestTickSkipsHealthExcludedSymbol verifies that once the Health Gate has
// excluded a (symbol, timeframe) pair, the engine skips it without ever
// touching the broker, regardless of bar availability.
func TestTickSkipsHealthExcludedSymbol(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)

	bars := []model.Bar{{Symbol: "AAPL", TS: base, IntervalMin: 5, Open: 100, High: 100, Low: 100, Close: 100, Volume: 100}}
	gw := market.NewGateway(&fakeBarStore{bars: bars})
	ug := universe.New(&fakeCoverage{bars: bars}, universe.Config{})
	hg := health.New(health.DefaultConfig())
	hg.ExcludeForCoverage("AAPL", 5, base)
	br := &fakeBroker{positions: map[int64]*model.OpenPosition{}}
	reg := strategy.NewRegistry(strategy.NewBreakout())
	store := &fakeEngineStore{
		runners:  []model.Runner{{ID: 1, UserID: 1, Stock: "AAPL", StrategyKey: "breakout", TimeframeMinutes: 5}},
		accounts: map[int64]model.Account{},
	}

	eng := New(Config{RunnerParallelism: 2, UnitBudget: 2000, TopupCashTo: 1e7, CooldownAfterStopBars: 3}, gw, ug, hg, br, reg, store)
	if err := eng.Tick(ctx, 1, base); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if br.buys != 0 {
		t.Fatalf("expected no broker interaction for an excluded symbol, got %d buys", br.buys)
	}
	if len(store.executions) != 1 || store.executions[0].Status != "skipped-no-data" || store.executions[0].Reason != "health-excluded" {
		t.Fatalf("expected one skipped-no-data/health-excluded execution, got %+v", store.executions)
	}
}

// TestTickRecordsNoDataOnEmptyCandles verifies that a runner seeing no
// candles, for a symbol with no daily coverage at all, gets its pair
// coverage-excluded in the Health Gate instead of leaving it untouched.
func TestTickRecordsNoDataOnEmptyCandles(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)

	gw := market.NewGateway(&fakeBarStore{bars: nil})
	ug := universe.New(&fakeCoverage{bars: []model.Bar{{}}}, universe.Config{})
	hg := health.New(health.DefaultConfig())
	br := &fakeBroker{positions: map[int64]*model.OpenPosition{}}
	reg := strategy.NewRegistry(strategy.NewBreakout())
	store := &fakeEngineStore{
		runners:  []model.Runner{{ID: 1, UserID: 1, Stock: "AAPL", StrategyKey: "breakout", TimeframeMinutes: 5}},
		accounts: map[int64]model.Account{},
	}

	eng := New(Config{RunnerParallelism: 2, UnitBudget: 2000, TopupCashTo: 1e7, CooldownAfterStopBars: 3}, gw, ug, hg, br, reg, store)
	if err := eng.Tick(ctx, 1, base); err != nil {
		t.Fatalf("tick: %v", err)
	}
	status, reason := hg.Status("AAPL", 5, base)
	if status != model.HealthExcluded || reason != "coverage" {
		t.Fatalf("expected AAPL/5 to be coverage-excluded after a tick with no candles and no daily coverage, got status=%v reason=%q", status, reason)
	}
}
