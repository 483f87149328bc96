// Package main is the entry point for the stratsim engine daemon.
//
// The engine:
//  1. Loads configuration
//  2. Connects to Postgres (internal/storage)
//  3. Wires the market gateway, universe gate, health gate, mock
//     broker, and strategy registry
//  4. Runs the scheduler's step loop, dispatching each tick to the
//     Runner Engine for the single user selected on the command line;
//     other users are not ticked
//
// Modes:
//   - "run":    drive the step loop continuously (respects is_running)
//   - "status": print the current cursor and pause state, then exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nitinkhare/stratsim/internal/broker"
	"github.com/nitinkhare/stratsim/internal/config"
	"github.com/nitinkhare/stratsim/internal/engine"
	"github.com/nitinkhare/stratsim/internal/health"
	"github.com/nitinkhare/stratsim/internal/market"
	"github.com/nitinkhare/stratsim/internal/scheduler"
	"github.com/nitinkhare/stratsim/internal/storage"
	"github.com/nitinkhare/stratsim/internal/strategy"
	"github.com/nitinkhare/stratsim/internal/universe"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	mode := flag.String("mode", "run", "run mode: run | status")
	userID := flag.Int64("user", 1, "simulation user id to drive")
	flag.Parse()

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Printf("config loaded: step_seconds=%d runner_parallelism=%d unit_budget=%.2f",
		cfg.Timing.StepSeconds, cfg.Engine.RunnerParallelism, cfg.Engine.UnitBudget)

	if cfg.DatabaseURL == "" {
		logger.Fatalf("database_url is required (set config.database_url or SIM_DATABASE_URL)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()
	logger.Println("database connected")

	gateway := market.NewGateway(store)

	universeGate := universe.New(store, universe.Config{
		AliasMap:          cfg.Universe.AliasMap,
		CutoffDate:        parseCutoff(cfg.Universe.CutoffDate, logger),
		PostIPOExclusion:  setOf(cfg.Universe.ExcludePostIPO),
		SnapshotAllowlist: nil,
	})

	healthGate := health.New(health.Config{
		TTL:                    time.Duration(cfg.Health.TTLDays) * 24 * time.Hour,
		DegradeThreshold:       cfg.Health.DegradeThreshold,
		ExcludeThresholdSessns: cfg.Health.ExcludeThresholdSessns,
		WindowDays:             cfg.Health.WindowDays,
	})

	brokerRegistry := broker.NewRegistry()
	activeBroker, err := brokerRegistry.Build("mock", broker.Config{
		CommissionPerTrade: cfg.Broker.CommissionPerTrade,
		BidAskSpread:       cfg.Broker.BidAskSpread,
		SlippagePercent:    cfg.Broker.SlippagePercent,
		TickSize:           cfg.Broker.TickSize,
		StartingCash:       cfg.Broker.StartingCash,
	}, store)
	if err != nil {
		logger.Fatalf("failed to build broker: %v", err)
	}

	strategyRegistry := strategy.NewRegistry(
		strategy.NewBreakout(),
		strategy.NewMACDCross(),
		strategy.NewBollingerReversion(),
	)
	logger.Println("strategy registry loaded: breakout, macd_cross, bollinger_reversion")

	eng := engine.New(engine.Config{
		RunnerParallelism:     cfg.Engine.RunnerParallelism,
		UnitBudget:            cfg.Engine.UnitBudget,
		MinCashFloor:          cfg.Engine.MinCashFloor,
		TopupCashTo:           cfg.Engine.TopupCashTo,
		RequireBarAdvance:     cfg.Engine.RequireBarAdvance,
		RegularHoursOnly:      cfg.Engine.RegularHoursOnly,
		CooldownAfterStopBars: cfg.Engine.CooldownAfterStopBars,
		MinIntradayTrailPct:   cfg.Engine.MinIntradayTrailPct,
		ThinNoActionDetails:   cfg.Engine.ThinNoActionDetails,
		SummarizeSameBar:      cfg.Engine.SummarizeSameBar,
		SuppressDailySameBar:  cfg.Engine.SuppressDailySameBar,
		DefaultStopLossPercent: cfg.Engine.DefaultStopLossPercent,
		Environment:           engine.EnvironmentAnalytics,
	}, gateway, universeGate, healthGate, activeBroker, strategyRegistry, store)

	switch *mode {
	case "status":
		runStatus(ctx, store, *userID, logger)

	case "run":
		var paceWatcher *config.PaceWatcher
		sched := scheduler.New(scheduler.Config{
			StepSeconds:     cfg.Timing.StepSeconds,
			PaceSeconds:     cfg.Timing.PaceSeconds,
			SleepWhenPaused: defaultSleep(cfg.Timing.SleepWhenPaused),
			EndTS:           endTSOf(cfg.Timing.SimEndEpoch),
		}, store, eng.Tick, logger)

		if cfg.PacePath != "" {
			paceWatcher = config.NewPaceWatcher(cfg.PacePath, 5*time.Second)
			paceWatcher.OnChange(func(p config.Pace) {
				logger.Printf("pace file changed: enabled=%v seconds=%.2f", p.Enabled, p.PaceSeconds)
			})
			paceWatcher.Start()
			defer paceWatcher.Stop()
			sched.SetPaceSource(func() (bool, float64) {
				p := paceWatcher.Current()
				return p.Enabled, p.PaceSeconds
			})
		}

		var notifier *scheduler.Notifier
		notifier, err = scheduler.NewNotifier(cfg.DatabaseURL, "sim_control", logger)
		if err != nil {
			logger.Printf("WARNING: LISTEN/NOTIFY unavailable, falling back to poll-only pause detection: %v", err)
		} else {
			defer notifier.Close()
			sched.SetWakeSource(notifier.Wake())
		}

		logger.Printf("starting step loop for user %d", *userID)
		if err := sched.Run(ctx, *userID); err != nil {
			logger.Fatalf("scheduler stopped with error: %v", err)
		}
		logger.Println("scheduler stopped")

	default:
		logger.Fatalf("unknown mode: %s (expected: run, status)", *mode)
	}
}

func runStatus(ctx context.Context, store *storage.Postgres, userID int64, logger *log.Logger) {
	running, lastTS, err := store.LoadSimulationState(ctx, userID)
	if err != nil {
		logger.Fatalf("failed to load simulation state: %v", err)
	}
	fmt.Println("=== Simulation Status ===")
	fmt.Printf("User:       %d\n", userID)
	fmt.Printf("Running:    %v\n", running)
	if lastTS != nil {
		fmt.Printf("Cursor:     %s\n", lastTS.Format(time.RFC3339))
	} else {
		fmt.Println("Cursor:     (not started)")
	}

	account, err := store.GetAccount(ctx, userID)
	if err != nil {
		logger.Printf("WARNING: failed to load account: %v", err)
		return
	}
	if account == nil {
		fmt.Println("Account:    (not yet funded)")
		return
	}
	fmt.Printf("Cash:       %.2f\n", account.Cash)
	fmt.Printf("Equity:     %.2f\n", account.Equity)
}

func parseCutoff(s string, logger *log.Logger) time.Time {
	if s == "" {
		return universe.DefaultCutoffDate
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		logger.Printf("WARNING: invalid universe.cutoff_date %q, using default: %v", s, err)
		return universe.DefaultCutoffDate
	}
	return t
}

func setOf(symbols []string) map[string]bool {
	if len(symbols) == 0 {
		return nil
	}
	out := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		out[s] = true
	}
	return out
}

func endTSOf(epoch int64) *time.Time {
	if epoch == 0 {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}

func defaultSleep(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
