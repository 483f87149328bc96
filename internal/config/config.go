// Package config loads the simulator's environment configuration: the
// timing, engine, broker, health, and universe option groups, layered
// as a JSON file with environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full set of tunables the simulator reads at startup.
type Config struct {
	Timing    TimingConfig    `json:"timing"`
	Engine    EngineConfig    `json:"engine"`
	Broker    BrokerConfig    `json:"broker"`
	Health    HealthConfig    `json:"health"`
	Universe  UniverseConfig  `json:"universe"`
	DatabaseURL string        `json:"database_url"`
	PacePath  string          `json:"pace_path"`
}

// TimingConfig governs the scheduler's step loop.
type TimingConfig struct {
	StepSeconds   int   `json:"step_seconds"`
	PaceSeconds   float64 `json:"pace_seconds"`
	SimStartEpoch int64 `json:"sim_start_epoch"`
	SimEndEpoch   int64 `json:"sim_end_epoch"`
	SleepWhenPaused time.Duration `json:"-"`
}

// EngineConfig governs the Runner Engine's per-tick behavior.
type EngineConfig struct {
	RunnerParallelism     int     `json:"runner_parallelism"`
	UnitBudget            float64 `json:"unit_budget"`
	MinCashFloor          float64 `json:"min_cash_floor"`
	TopupCashTo           float64 `json:"topup_cash_to"`
	RequireBarAdvance     bool    `json:"require_bar_advance"`
	RegularHoursOnly      bool    `json:"regular_hours_only"`
	CooldownAfterStopBars int     `json:"cooldown_after_stop_bars"`
	MinIntradayTrailPct   float64 `json:"min_intraday_trail_pct"`
	ThinNoActionDetails   bool    `json:"thin_no_action_details"`
	SummarizeSameBar      bool    `json:"summarize_same_bar"`
	SuppressDailySameBar  bool    `json:"suppress_daily_same_bar"`
	DefaultStopLossPercent float64 `json:"default_stop_loss_percent"`
}

// BrokerConfig governs the Mock Broker's realism parameters.
type BrokerConfig struct {
	CommissionPerTrade float64 `json:"commission_per_trade"`
	BidAskSpread       float64 `json:"bid_ask_spread"`
	SlippagePercent    float64 `json:"slippage_percent"`
	TickSize           float64 `json:"tick_size"`
	StartingCash       float64 `json:"starting_cash"`
}

// HealthConfig governs the Health Gate FSM.
type HealthConfig struct {
	TTLDays                int `json:"ttl_days"`
	DegradeThreshold       int `json:"degrade_threshold"`
	ExcludeThresholdSessns int `json:"exclude_threshold_sessions"`
	WindowDays             int `json:"window_days"`
}

// UniverseConfig governs the Universe Gate's admission rules.
type UniverseConfig struct {
	CutoffDate       string            `json:"cutoff_date"`
	AliasMap         map[string]string `json:"alias_map"`
	ExcludePostIPO   []string          `json:"exclude_post_ipo"`
	SnapshotPath     string            `json:"snapshot_path"`
}

// Default returns the simulator's documented defaults.
func Default() Config {
	return Config{
		Timing: TimingConfig{
			StepSeconds:     300,
			PaceSeconds:     0,
			SleepWhenPaused: 5 * time.Second,
		},
		Engine: EngineConfig{
			RunnerParallelism:     8,
			UnitBudget:            2000,
			MinCashFloor:          5e6,
			TopupCashTo:           1e7,
			RequireBarAdvance:     true,
			RegularHoursOnly:      true,
			CooldownAfterStopBars: 3,
			MinIntradayTrailPct:   1.25,
			ThinNoActionDetails:   true,
			SummarizeSameBar:      true,
			SuppressDailySameBar:  true,
			DefaultStopLossPercent: 5,
		},
		Broker: BrokerConfig{
			CommissionPerTrade: 1.00,
			BidAskSpread:       0.01,
			SlippagePercent:    0.0005,
			TickSize:           0.01,
			StartingCash:       1e7,
		},
		Health: HealthConfig{
			TTLDays:                5,
			DegradeThreshold:       3,
			ExcludeThresholdSessns: 10,
			WindowDays:             5,
		},
		Universe: UniverseConfig{
			CutoffDate: "2020-09-18",
			AliasMap:   map[string]string{"META": "FB", "ELV": "ANTM"},
		},
	}
}

// Load reads a JSON config file at path (if it exists) on top of
// Default(), then applies environment-variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("SIM_STEP_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timing.StepSeconds = n
		}
	}
	if v, ok := os.LookupEnv("SIM_PACE_SECONDS"); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Timing.PaceSeconds = n
		}
	}
	if v, ok := os.LookupEnv("SIM_RUNNER_PARALLELISM"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.RunnerParallelism = n
		}
	}
	if v, ok := os.LookupEnv("SIM_UNIT_BUDGET"); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.UnitBudget = n
		}
	}
	if v, ok := os.LookupEnv("SIM_COMMISSION_PER_TRADE"); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Broker.CommissionPerTrade = n
		}
	}
	if v, ok := os.LookupEnv("SIM_BID_ASK_SPREAD"); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Broker.BidAskSpread = n
		}
	}
	if v, ok := os.LookupEnv("SIM_SLIPPAGE_PERCENT"); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Broker.SlippagePercent = n
		}
	}
	if v, ok := os.LookupEnv("SIM_DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := os.LookupEnv("SIM_PACE_PATH"); ok {
		cfg.PacePath = v
	}
}

// Validate checks every field invariant the scheduler and engine rely
// on, returning the first violation found.
func (c Config) Validate() error {
	if c.Timing.StepSeconds <= 0 {
		return fmt.Errorf("config: timing.step_seconds must be positive, got %d", c.Timing.StepSeconds)
	}
	if c.Engine.RunnerParallelism <= 0 {
		return fmt.Errorf("config: engine.runner_parallelism must be positive, got %d", c.Engine.RunnerParallelism)
	}
	if c.Engine.UnitBudget <= 0 {
		return fmt.Errorf("config: engine.unit_budget must be positive, got %v", c.Engine.UnitBudget)
	}
	if c.Engine.MinCashFloor < 0 || c.Engine.TopupCashTo < c.Engine.MinCashFloor {
		return fmt.Errorf("config: engine.topup_cash_to must be >= min_cash_floor")
	}
	if c.Broker.TickSize <= 0 {
		return fmt.Errorf("config: broker.tick_size must be positive, got %v", c.Broker.TickSize)
	}
	if c.Broker.StartingCash <= 0 {
		return fmt.Errorf("config: broker.starting_cash must be positive, got %v", c.Broker.StartingCash)
	}
	if c.Health.WindowDays <= 0 {
		return fmt.Errorf("config: health.window_days must be positive, got %d", c.Health.WindowDays)
	}
	if _, err := time.Parse("2006-01-02", c.Universe.CutoffDate); err != nil {
		return fmt.Errorf("config: universe.cutoff_date must be YYYY-MM-DD: %w", err)
	}
	return nil
}
