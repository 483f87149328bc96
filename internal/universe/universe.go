// Package universe implements the Universe Gate (C2): a per-run
// admission filter over symbols, combining a static alias map, an IPO
// cutoff date, an optional snapshot allowlist, and coverage checks
// against the Market-Data Gateway.
package universe

import (
	"context"
	"strings"
	"time"

	"github.com/nitinkhare/stratsim/internal/market"
)

// Coverage is the subset of the gateway the universe gate needs to
// decide admissibility.
type Coverage interface {
	EarliestDaily(ctx context.Context, symbol string) (time.Time, bool, error)
	HasMinute(ctx context.Context, symbol string, tfMin int) (bool, error)
}

// Config holds the static admission rules, set from the JSON config.
type Config struct {
	AliasMap           map[string]string // e.g. META -> FB
	CutoffDate         time.Time         // default 2020-09-18
	PostIPOExclusion   map[string]bool
	PatchExcludeMinute map[string]bool
	SnapshotAllowlist  map[string]bool // nil means no snapshot restriction
}

// DefaultCutoffDate is the simulator's default IPO admission cutoff.
var DefaultCutoffDate = time.Date(2020, 9, 18, 0, 0, 0, 0, time.UTC)

// Decision records one symbol's admission outcome.
type Decision struct {
	Allowed    bool
	DataSymbol string // alias-mapped symbol to use for data lookups
	DenyReason string
}

// Gate is the Universe Gate. It is idempotent per run: once a symbol's
// decision is computed it is cached for the gate's lifetime.
type Gate struct {
	cfg      Config
	coverage Coverage

	decisions map[string]Decision
}

// New builds a Gate over the given coverage source and config.
func New(coverage Coverage, cfg Config) *Gate {
	if cfg.CutoffDate.IsZero() {
		cfg.CutoffDate = DefaultCutoffDate
	}
	return &Gate{cfg: cfg, coverage: coverage, decisions: make(map[string]Decision)}
}

// EnsureLoaded computes (and caches) the admission decision for every
// symbol in symbols that has not yet been decided this run.
func (g *Gate) EnsureLoaded(ctx context.Context, symbols []string) error {
	for _, raw := range symbols {
		sym := market.NormalizeSymbol(raw)
		if _, ok := g.decisions[sym]; ok {
			continue
		}
		g.decisions[sym] = g.decide(ctx, sym)
	}
	return nil
}

// Decide returns the cached decision for symbol, computing it first if
// this is the first time the symbol has been seen this run.
func (g *Gate) Decide(ctx context.Context, raw string) Decision {
	sym := market.NormalizeSymbol(raw)
	if d, ok := g.decisions[sym]; ok {
		return d
	}
	d := g.decide(ctx, sym)
	g.decisions[sym] = d
	return d
}

// MapSymbol returns the alias-mapped data symbol for sym, independent
// of admission status.
func (g *Gate) MapSymbol(raw string) string {
	sym := market.NormalizeSymbol(raw)
	if mapped, ok := g.cfg.AliasMap[sym]; ok {
		return mapped
	}
	return sym
}

func (g *Gate) decide(ctx context.Context, sym string) Decision {
	// 1. post-IPO exclusion set.
	if g.cfg.PostIPOExclusion[sym] {
		return Decision{Allowed: false, DenyReason: "post-ipo-exclusion"}
	}
	// 2. patch-exclude-minutes set.
	if g.cfg.PatchExcludeMinute[sym] {
		return Decision{Allowed: false, DenyReason: "patch-exclude-minutes"}
	}
	// 3. snapshot allowlist, if configured.
	if g.cfg.SnapshotAllowlist != nil && !g.cfg.SnapshotAllowlist[sym] {
		return Decision{Allowed: false, DenyReason: "not-in-snapshot-allowlist"}
	}

	dataSymbol := g.MapSymbol(sym)

	// 4. daily coverage must exist and predate the cutoff.
	earliest, ok, err := g.coverage.EarliestDaily(ctx, dataSymbol)
	if err != nil || !ok || earliest.After(g.cfg.CutoffDate) {
		return Decision{Allowed: false, DataSymbol: dataSymbol, DenyReason: "post-IPO after cutoff"}
	}

	// 5. minute coverage must exist at the 5-minute interval.
	hasMinute, err := g.coverage.HasMinute(ctx, dataSymbol, 5)
	if err != nil || !hasMinute {
		return Decision{Allowed: false, DataSymbol: dataSymbol, DenyReason: "no-minute-coverage"}
	}

	return Decision{Allowed: true, DataSymbol: dataSymbol}
}

// String renders the decision for logging/RunnerExecution details.
func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return strings.TrimSpace(d.DenyReason)
}
