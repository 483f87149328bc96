// reset-sim - wipe the simulator's runtime state (orders, trades,
// positions, analytics, the scheduler cursor) and refund every account
// to its starting cash, leaving bar data and runner definitions intact.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	dbURL := flag.String("db", "", "database URL (falls back to SIM_DATABASE_URL)")
	startingCash := flag.Float64("starting-cash", 1e7, "cash/equity every account resets to")
	confirm := flag.Bool("confirm", false, "confirm the reset (must be explicit)")
	flag.Parse()

	connStr := *dbURL
	if connStr == "" {
		connStr = os.Getenv("SIM_DATABASE_URL")
	}
	if connStr == "" {
		fmt.Fprintln(os.Stderr, "no database URL given: pass -db or set SIM_DATABASE_URL")
		os.Exit(1)
	}

	if !*confirm {
		fmt.Println("SAFETY CHECK - must confirm reset")
		fmt.Println()
		fmt.Println("This will DELETE every order, trade, position, and analytics row,")
		fmt.Println("reset every account to starting_cash, and clear the scheduler cursor.")
		fmt.Println("Bar data and runner definitions are left untouched.")
		fmt.Println()
		fmt.Printf("Starting cash: %.2f\n", *startingCash)
		fmt.Println()
		fmt.Println("To proceed, run:")
		fmt.Println("  reset-sim -confirm")
		fmt.Println()
		os.Exit(0)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "database ping failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("resetting simulation state at %s\n", time.Now().UTC().Format(time.RFC3339))

	tables := []string{"runner_executions", "orders", "executed_trades", "open_positions", "analytics_results"}
	for _, table := range tables {
		result, err := db.Exec("TRUNCATE TABLE " + table)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to truncate %s: %v\n", table, err)
			os.Exit(1)
		}
		affected, _ := result.RowsAffected()
		fmt.Printf("  truncated %-20s (%d rows)\n", table, affected)
	}

	if _, err := db.Exec(`UPDATE accounts SET cash = $1, equity = $1`, *startingCash); err != nil {
		fmt.Fprintf(os.Stderr, "failed to reset accounts: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  reset every account to cash=%.2f equity=%.2f\n", *startingCash, *startingCash)

	if _, err := db.Exec(`UPDATE simulation_state SET last_ts = NULL, is_running = false`); err != nil {
		fmt.Fprintf(os.Stderr, "failed to reset simulation_state: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("  cleared scheduler cursor, is_running=false")

	fmt.Println()
	fmt.Println("clean slate ready, run: engine -mode run")
}
