// Package main - Simulation Statistics CLI.
// Prints per-runner analytics (final P&L, P&L %, trade count, max
// drawdown, average P&L per trade) and the recent closed-trade history.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type analyticsRow struct {
	Symbol          string
	Strategy        string
	Timeframe       string
	FinalPnLAmount  float64
	FinalPnLPercent float64
	TradesCount     int
	MaxDrawdown     float64
	AvgPnLPerTrade  float64
}

type tradeRow struct {
	Symbol     string
	Strategy   string
	Quantity   int
	BuyPrice   float64
	SellPrice  float64
	PnLAmount  float64
	PnLPercent float64
	SellTS     time.Time
}

const (
	Reset  = "\033[0m"
	Red    = "\033[0;31m"
	Green  = "\033[0;32m"
	Yellow = "\033[1;33m"
	Blue   = "\033[0;34m"
	Cyan   = "\033[0;36m"
)

func main() {
	dbURL := flag.String("db", "", "database URL (falls back to SIM_DATABASE_URL)")
	symbol := flag.String("symbol", "", "restrict to one symbol (optional)")
	limit := flag.Int("trades", 20, "number of recent trades to show")
	flag.Parse()

	connStr := *dbURL
	if connStr == "" {
		connStr = os.Getenv("SIM_DATABASE_URL")
	}
	if connStr == "" {
		fmt.Fprintln(os.Stderr, "no database URL given: pass -db or set SIM_DATABASE_URL")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ping database: %v\n", err)
		os.Exit(1)
	}

	rows, err := getAnalytics(db, *symbol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load analytics: %v\n", err)
		os.Exit(1)
	}
	displayAnalytics(rows)

	trades, err := getRecentTrades(db, *symbol, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load trades: %v\n", err)
		os.Exit(1)
	}
	displayTrades(trades)
}

func getAnalytics(db *sql.DB, symbol string) ([]analyticsRow, error) {
	query := `
SELECT symbol, strategy, timeframe, final_pnl_amount, final_pnl_percent, trades_count,
       COALESCE(max_drawdown, 0), COALESCE(avg_pnl_per_trade, 0)
FROM analytics_results
WHERE ($1 = '' OR symbol = $1)
ORDER BY symbol, strategy, timeframe;`

	rows, err := db.Query(query, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []analyticsRow
	for rows.Next() {
		var r analyticsRow
		if err := rows.Scan(&r.Symbol, &r.Strategy, &r.Timeframe, &r.FinalPnLAmount, &r.FinalPnLPercent,
			&r.TradesCount, &r.MaxDrawdown, &r.AvgPnLPerTrade); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func getRecentTrades(db *sql.DB, symbol string, limit int) ([]tradeRow, error) {
	query := `
SELECT symbol, strategy, quantity, buy_price, sell_price, pnl_amount, pnl_percent, sell_ts
FROM executed_trades
WHERE ($1 = '' OR symbol = $1)
ORDER BY sell_ts DESC
LIMIT $2;`

	rows, err := db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tradeRow
	for rows.Next() {
		var t tradeRow
		if err := rows.Scan(&t.Symbol, &t.Strategy, &t.Quantity, &t.BuyPrice, &t.SellPrice,
			&t.PnLAmount, &t.PnLPercent, &t.SellTS); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func displayAnalytics(rows []analyticsRow) {
	fmt.Printf("%s================================================================%s\n", Cyan, Reset)
	fmt.Printf("%s                    RUNNER ANALYTICS                           %s\n", Cyan, Reset)
	fmt.Printf("%s================================================================%s\n", Cyan, Reset)
	fmt.Println()

	if len(rows) == 0 {
		fmt.Printf("%sno analytics computed yet%s\n\n", Yellow, Reset)
		return
	}

	fmt.Printf("%s%-10s %-18s %-6s %10s %9s %7s %10s %10s%s\n",
		Blue, "Symbol", "Strategy", "TF", "PnL", "PnL %", "Trades", "MaxDD %", "Avg/Trade", Reset)
	fmt.Printf("%s%s%s\n", Blue, strings.Repeat("-", 90), Reset)

	for _, r := range rows {
		pnlColor := Green
		if r.FinalPnLAmount < 0 {
			pnlColor = Red
		}
		fmt.Printf("%-10s %-18s %-6s %s%10.2f%s %8.2f%% %7d %9.2f%% %10.2f\n",
			r.Symbol, r.Strategy, r.Timeframe, pnlColor, r.FinalPnLAmount, Reset,
			r.FinalPnLPercent, r.TradesCount, r.MaxDrawdown, r.AvgPnLPerTrade)
	}
	fmt.Println()
}

func displayTrades(trades []tradeRow) {
	fmt.Printf("%s================================================================%s\n", Blue, Reset)
	fmt.Printf("%sRECENT TRADES%s\n", Blue, Reset)
	fmt.Printf("%s================================================================%s\n", Blue, Reset)
	fmt.Println()

	if len(trades) == 0 {
		fmt.Printf("%sno closed trades%s\n\n", Yellow, Reset)
		return
	}

	fmt.Printf("%s%-10s %-14s %-8s %10s %10s %10s %8s %-20s%s\n",
		Cyan, "Symbol", "Strategy", "Qty", "Buy", "Sell", "P&L", "P&L %", "Closed", Reset)
	fmt.Printf("%s%s%s\n", Cyan, strings.Repeat("-", 95), Reset)

	for _, t := range trades {
		pnlColor := Green
		if t.PnLAmount < 0 {
			pnlColor = Red
		}
		fmt.Printf("%-10s %-14s %-8d %10.2f %10.2f %s%10.2f%s %7.2f%% %-20s\n",
			t.Symbol, t.Strategy, t.Quantity, t.BuyPrice, t.SellPrice, pnlColor, t.PnLAmount, Reset,
			t.PnLPercent, t.SellTS.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
}
