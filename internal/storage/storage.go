// Package storage implements the Event Store (C7): Postgres-backed
// persistence for every entity in the data model, including the
// idempotent batched upsert of RunnerExecution rows with severity
// collapse.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nitinkhare/stratsim/internal/model"
)

// classifyErr wraps a write-path Postgres error as model.ErrFatalStorage
// when its SQLSTATE class is 23 (integrity constraint violation) or 42
// (syntax error / access rule violation, which covers schema drift),
// the two fatal kinds the error-handling contract calls out. Everything
// else (connection resets, timeouts, deadlocks) passes through
// unclassified and is treated as transient by the caller.
func classifyErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		if class := pgErr.Code[:2]; class == "23" || class == "42" {
			return fmt.Errorf("storage: %s: %w: %w", op, model.ErrFatalStorage, err)
		}
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}

// Postgres is the pgx/v5-backed implementation of every storage
// interface the engine, broker, scheduler, and market packages depend
// on (internal/broker.Store, internal/engine.Store,
// internal/scheduler.Store, internal/market.BarStore).
type Postgres struct {
	pool *pgxpool.Pool
}

// Open creates a pgxpool.Pool against connStr and verifies
// connectivity with a ping.
func Open(ctx context.Context, connStr string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// --- Bar queries (internal/market.BarStore) -------------------------

func (p *Postgres) DailyBarsUntil(ctx context.Context, symbol string, asOf time.Time, lookback int) ([]model.Bar, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT date, open, high, low, close, volume
		FROM (
			SELECT date, open, high, low, close, volume
			FROM bars_daily
			WHERE symbol = $1 AND date <= $2
			ORDER BY date DESC
			LIMIT $3
		) recent ORDER BY date ASC`, symbol, asOf, lookback)
	if err != nil {
		return nil, fmt.Errorf("storage: daily bars until: %w", err)
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("storage: scan daily bar: %w", err)
		}
		b.Symbol = symbol
		b.IntervalMin = 1440
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) MinuteBarsUntil(ctx context.Context, symbol string, tfMin int, asOf time.Time, lookback int) ([]model.Bar, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM (
			SELECT ts, open, high, low, close, volume
			FROM bars_minute
			WHERE symbol = $1 AND interval_min = $2 AND ts <= $3
			ORDER BY ts DESC
			LIMIT $4
		) recent ORDER BY ts ASC`, symbol, tfMin, asOf, lookback)
	if err != nil {
		return nil, fmt.Errorf("storage: minute bars until: %w", err)
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.TS, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("storage: scan minute bar: %w", err)
		}
		b.Symbol = symbol
		b.IntervalMin = tfMin
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) EarliestDaily(ctx context.Context, symbol string) (time.Time, bool, error) {
	var t time.Time
	err := p.pool.QueryRow(ctx, `SELECT MIN(date) FROM bars_daily WHERE symbol = $1`, symbol).Scan(&t)
	return scanOptionalTime(t, err)
}

func (p *Postgres) EarliestMinute(ctx context.Context, symbol string, tfMin int) (time.Time, bool, error) {
	var t time.Time
	err := p.pool.QueryRow(ctx, `SELECT MIN(ts) FROM bars_minute WHERE symbol = $1 AND interval_min = $2`, symbol, tfMin).Scan(&t)
	return scanOptionalTime(t, err)
}

func (p *Postgres) LatestMinute(ctx context.Context, symbol string, tfMin int) (time.Time, bool, error) {
	var t time.Time
	err := p.pool.QueryRow(ctx, `SELECT MAX(ts) FROM bars_minute WHERE symbol = $1 AND interval_min = $2`, symbol, tfMin).Scan(&t)
	return scanOptionalTime(t, err)
}

func (p *Postgres) NextTimestampAfter(ctx context.Context, symbol string, tfMin int, after time.Time) (time.Time, bool, error) {
	var t time.Time
	var err error
	if tfMin == 1440 {
		if symbol == "" {
			err = p.pool.QueryRow(ctx, `SELECT MIN(date) FROM bars_daily WHERE date > $1`, after).Scan(&t)
		} else {
			err = p.pool.QueryRow(ctx, `SELECT MIN(date) FROM bars_daily WHERE symbol = $1 AND date > $2`, symbol, after).Scan(&t)
		}
	} else {
		if symbol == "" {
			err = p.pool.QueryRow(ctx, `SELECT MIN(ts) FROM bars_minute WHERE interval_min = $1 AND ts > $2`, tfMin, after).Scan(&t)
		} else {
			err = p.pool.QueryRow(ctx, `SELECT MIN(ts) FROM bars_minute WHERE symbol = $1 AND interval_min = $2 AND ts > $3`, symbol, tfMin, after).Scan(&t)
		}
	}
	return scanOptionalTime(t, err)
}

// HasMinute satisfies internal/universe.Coverage directly (the universe
// gate only needs a boolean, unlike the gateway's EarliestMinute).
func (p *Postgres) HasMinute(ctx context.Context, symbol string, tfMin int) (bool, error) {
	_, ok, err := p.EarliestMinute(ctx, symbol, tfMin)
	return ok, err
}

func scanOptionalTime(t time.Time, err error) (time.Time, bool, error) {
	if err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if t.IsZero() {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// --- Positions / orders / trades (internal/broker.Store) ------------

func (p *Postgres) GetPosition(ctx context.Context, runnerID int64) (*model.OpenPosition, error) {
	var pos model.OpenPosition
	var stopPrice, trailPercent, highestPrice *float64
	var activationTS *time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, runner_id, symbol, account, quantity, avg_price, created_at, stop_price, trail_percent, highest_price, activation_ts
		FROM open_positions WHERE runner_id = $1`, runnerID).Scan(
		&pos.UserID, &pos.RunnerID, &pos.Symbol, &pos.Account, &pos.Quantity, &pos.AvgPrice, &pos.CreatedAt,
		&stopPrice, &trailPercent, &highestPrice, &activationTS)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get position: %w", err)
	}
	if stopPrice != nil {
		pos.StopPrice = *stopPrice
	}
	if trailPercent != nil {
		pos.TrailPercent = *trailPercent
	}
	if highestPrice != nil {
		pos.HighestPrice = *highestPrice
	}
	if activationTS != nil {
		pos.ActivationTS = *activationTS
	}
	return &pos, nil
}

func (p *Postgres) UpsertPosition(ctx context.Context, pos model.OpenPosition) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO open_positions (user_id, runner_id, symbol, account, quantity, avg_price, created_at, stop_price, trail_percent, highest_price, activation_ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (runner_id) DO UPDATE SET
			symbol = EXCLUDED.symbol, account = EXCLUDED.account, quantity = EXCLUDED.quantity,
			avg_price = EXCLUDED.avg_price, created_at = EXCLUDED.created_at,
			stop_price = EXCLUDED.stop_price, trail_percent = EXCLUDED.trail_percent,
			highest_price = EXCLUDED.highest_price, activation_ts = EXCLUDED.activation_ts`,
		pos.UserID, pos.RunnerID, pos.Symbol, pos.Account, pos.Quantity, pos.AvgPrice, pos.CreatedAt,
		nullableFloat(pos.StopPrice), nullableFloat(pos.TrailPercent), nullableFloat(pos.HighestPrice), nullableTime(pos.ActivationTS))
	return classifyErr("upsert position", err)
}

func (p *Postgres) DeletePosition(ctx context.Context, runnerID int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM open_positions WHERE runner_id = $1`, runnerID)
	return classifyErr("delete position", err)
}

func (p *Postgres) InsertOrder(ctx context.Context, order model.Order) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO orders (user_id, runner_id, symbol, side, order_type, quantity, limit_price, stop_price, status, created_at, filled_at, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		order.UserID, order.RunnerID, order.Symbol, order.Side, order.OrderType, order.Quantity,
		nullableFloat(order.LimitPrice), nullableFloat(order.StopPrice), order.Status, order.CreatedAt, order.FilledAt, order.Details)
	return classifyErr("insert order", err)
}

func (p *Postgres) InsertExecutedTrade(ctx context.Context, trade model.ExecutedTrade) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO executed_trades (user_id, runner_id, symbol, buy_ts, sell_ts, buy_price, sell_price, quantity, pnl_amount, pnl_percent, strategy, timeframe)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		trade.UserID, trade.RunnerID, trade.Symbol, trade.BuyTS, trade.SellTS, trade.BuyPrice, trade.SellPrice,
		trade.Quantity, trade.PnLAmount, trade.PnLPercent, trade.Strategy, trade.Timeframe)
	return classifyErr("insert executed trade", err)
}

// --- Accounts ---------------------------------------------------------

func (p *Postgres) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	var a model.Account
	a.UserID = userID
	err := p.pool.QueryRow(ctx, `SELECT name, cash, equity FROM accounts WHERE user_id = $1 AND name = 'mock'`, userID).Scan(&a.Name, &a.Cash, &a.Equity)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get account: %w", err)
	}
	return &a, nil
}

func (p *Postgres) UpsertAccount(ctx context.Context, account model.Account) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, name, cash, equity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, name) DO UPDATE SET cash = EXCLUDED.cash, equity = EXCLUDED.equity`,
		account.UserID, account.Name, account.Cash, account.Equity)
	return classifyErr("upsert account", err)
}

// --- Runners / simulation state (internal/engine.Store, internal/scheduler.Store) ---

func (p *Postgres) ActiveRunners(ctx context.Context, userID int64) ([]model.Runner, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, name, strategy_key, stock, timeframe_minutes, budget, current_budget, activation, exit_strategy
		FROM runners WHERE user_id = $1 AND activation = 'active'`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: active runners: %w", err)
	}
	defer rows.Close()

	var out []model.Runner
	for rows.Next() {
		var r model.Runner
		var activation string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.StrategyKey, &r.Stock, &r.TimeframeMinutes, &r.Budget, &r.CurrentBudget, &activation, &r.ExitStrategy); err != nil {
			return nil, fmt.Errorf("storage: scan runner: %w", err)
		}
		r.Activation = model.Activation(activation)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) LoadSimulationState(ctx context.Context, userID int64) (bool, *time.Time, error) {
	var isRunning bool
	var lastTS *time.Time
	err := p.pool.QueryRow(ctx, `SELECT is_running, last_ts FROM simulation_state WHERE user_id = $1`, userID).Scan(&isRunning, &lastTS)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("storage: load simulation state: %w", err)
	}
	return isRunning, lastTS, nil
}

func (p *Postgres) PersistCursor(ctx context.Context, userID int64, ts time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO simulation_state (user_id, is_running, last_ts) VALUES ($1, true, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_ts = EXCLUDED.last_ts`, userID, ts)
	return classifyErr("persist cursor", err)
}

// SetRunning flips SimulationState.is_running, used by the scheduler to
// stop the loop cleanly after a fatal storage error (§7) and by the
// control surface to start/pause a simulation.
func (p *Postgres) SetRunning(ctx context.Context, userID int64, running bool) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO simulation_state (user_id, is_running) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET is_running = EXCLUDED.is_running`, userID, running)
	return classifyErr("set running", err)
}

func (p *Postgres) EarliestBarTS(ctx context.Context) (time.Time, bool, error) {
	var t time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT LEAST(
			COALESCE((SELECT MIN(date) FROM bars_daily), 'infinity'::timestamptz),
			COALESCE((SELECT MIN(ts) FROM bars_minute), 'infinity'::timestamptz)
		)`).Scan(&t)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("storage: earliest bar ts: %w", err)
	}
	if t.IsZero() || t.Year() > 9000 {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

func (p *Postgres) ActiveUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM users`)
	if err != nil {
		return nil, fmt.Errorf("storage: active user ids: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- RunnerExecution idempotent batch upsert (C7) --------------------

// UpsertRunnerExecutions collapses rows that share an idempotency key
// within the batch by severity (see model.RunnerExecution.Severity),
// tie-breaking on non-empty details then latest execution_time, and
// upserts the survivors in a single transaction on conflict key
// (cycle_seq, user_id, symbol, strategy, timeframe).
func (p *Postgres) UpsertRunnerExecutions(ctx context.Context, rows []model.RunnerExecution) error {
	if len(rows) == 0 {
		return nil
	}
	collapsed := collapseBySeverity(rows)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classifyErr("begin runner execution tx", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range collapsed {
		_, err := tx.Exec(ctx, `
			INSERT INTO runner_executions (runner_id, user_id, symbol, strategy, status, reason, details, cycle_seq, execution_time, timeframe)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (cycle_seq, user_id, symbol, strategy, timeframe) DO UPDATE SET
				status = EXCLUDED.status, reason = EXCLUDED.reason, details = EXCLUDED.details,
				execution_time = EXCLUDED.execution_time, runner_id = EXCLUDED.runner_id`,
			r.RunnerID, r.UserID, r.Symbol, r.Strategy, r.Status, r.Reason, r.Details, r.CycleSeq, r.ExecutionTime, r.Timeframe)
		if err != nil {
			return classifyErr("upsert runner execution", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyErr("commit runner execution tx", err)
	}
	return nil
}

func idempotencyKey(r model.RunnerExecution) string {
	return fmt.Sprintf("%d|%d|%s|%s|%d", r.CycleSeq, r.UserID, r.Symbol, r.Strategy, r.Timeframe)
}

// collapseBySeverity collapses rows sharing an idempotency key down to
// the single highest-severity row, per RunnerExecution's priority order.
func collapseBySeverity(rows []model.RunnerExecution) []model.RunnerExecution {
	byKey := make(map[string]model.RunnerExecution, len(rows))
	order := make([]string, 0, len(rows))

	for _, r := range rows {
		k := idempotencyKey(r)
		existing, ok := byKey[k]
		if !ok {
			byKey[k] = r
			order = append(order, k)
			continue
		}
		byKey[k] = winner(existing, r)
	}

	out := make([]model.RunnerExecution, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

func winner(a, b model.RunnerExecution) model.RunnerExecution {
	if a.Severity() != b.Severity() {
		if a.Severity() > b.Severity() {
			return a
		}
		return b
	}
	if (a.Details != "") != (b.Details != "") {
		if a.Details != "" {
			return a
		}
		return b
	}
	if a.ExecutionTime.Equal(b.ExecutionTime) {
		return b // last-write-wins
	}
	if a.ExecutionTime.After(b.ExecutionTime) {
		return a
	}
	return b
}

// UpsertAnalyticsResult persists one of the aggregator's per-group summary rows.
func (p *Postgres) UpsertAnalyticsResult(ctx context.Context, r model.AnalyticsResult) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO analytics_results (symbol, strategy, timeframe, start_ts, end_ts, final_pnl_amount, final_pnl_percent, trades_count, max_drawdown, avg_pnl_per_trade, avg_trade_duration_sec)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (symbol, strategy, timeframe) DO UPDATE SET
			start_ts = EXCLUDED.start_ts, end_ts = EXCLUDED.end_ts,
			final_pnl_amount = EXCLUDED.final_pnl_amount, final_pnl_percent = EXCLUDED.final_pnl_percent,
			trades_count = EXCLUDED.trades_count, max_drawdown = EXCLUDED.max_drawdown,
			avg_pnl_per_trade = EXCLUDED.avg_pnl_per_trade, avg_trade_duration_sec = EXCLUDED.avg_trade_duration_sec`,
		r.Symbol, r.Strategy, r.Timeframe, r.StartTS, r.EndTS, r.FinalPnLAmount, r.FinalPnLPercent,
		r.TradesCount, r.MaxDrawdown, r.AvgPnLPerTrade, r.AvgTradeDurationSec)
	return classifyErr("upsert analytics result", err)
}

// ExecutedTradesForRunner returns every closed trade for runnerID,
// in the shape analytics.Aggregate takes for per-runner aggregates.
func (p *Postgres) ExecutedTradesForRunner(ctx context.Context, runnerID int64) ([]model.ExecutedTrade, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, runner_id, symbol, buy_ts, sell_ts, buy_price, sell_price, quantity, pnl_amount, pnl_percent, strategy, timeframe
		FROM executed_trades WHERE runner_id = $1 ORDER BY sell_ts ASC`, runnerID)
	if err != nil {
		return nil, fmt.Errorf("storage: executed trades for runner: %w", err)
	}
	defer rows.Close()

	var out []model.ExecutedTrade
	for rows.Next() {
		var t model.ExecutedTrade
		if err := rows.Scan(&t.ID, &t.UserID, &t.RunnerID, &t.Symbol, &t.BuyTS, &t.SellTS, &t.BuyPrice, &t.SellPrice, &t.Quantity, &t.PnLAmount, &t.PnLPercent, &t.Strategy, &t.Timeframe); err != nil {
			return nil, fmt.Errorf("storage: scan executed trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Reset truncates every simulation-scoped table and resets every
// Account's cash/equity to startingCash.
func (p *Postgres) Reset(ctx context.Context, startingCash float64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classifyErr("begin reset tx", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"runner_executions", "orders", "executed_trades", "open_positions", "analytics_results"} {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+table); err != nil {
			return classifyErr("truncate "+table, err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET cash = $1, equity = $1`, startingCash); err != nil {
		return classifyErr("reset accounts", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE simulation_state SET last_ts = NULL`); err != nil {
		return classifyErr("reset simulation state", err)
	}
	return classifyErr("commit reset tx", tx.Commit(ctx))
}

func nullableFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
