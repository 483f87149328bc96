// Package health implements the Health Gate (C3): a per-(symbol,
// timeframe) quarantine FSM that excludes pairs producing excessive
// no-data or error signals, with TTL-bounded re-admission.
package health

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nitinkhare/stratsim/internal/model"
)

// Config holds the FSM's configurable thresholds (set from the JSON config).
type Config struct {
	TTL                    time.Duration // default 5 days
	DegradeThreshold       int           // default 3
	ExcludeThresholdSessns int           // default 10
	WindowDays             int           // default 5
}

// DefaultConfig returns the FSM's documented defaults.
func DefaultConfig() Config {
	return Config{
		TTL:                    5 * 24 * time.Hour,
		DegradeThreshold:       3,
		ExcludeThresholdSessns: 10,
		WindowDays:             5,
	}
}

type state struct {
	status             model.HealthStatus
	reason             string
	consecutiveNoData  int
	consecutiveErrors  int
	dayCounts          []dayCount // ordered oldest->newest, capped at WindowDays+2
	excludedUntil      time.Time
}

type dayCount struct {
	day   string // ET calendar day, YYYY-MM-DD
	count int
}

func key(symbol string, tfMin int) string {
	return strings.ToUpper(symbol) + "|" + strconv.Itoa(tfMin)
}

// Gate is the process-local Health Gate. It is safe for concurrent use;
// every mutation holds a single mutex since per-key contention is
// negligible.
type Gate struct {
	cfg Config
	mu  sync.Mutex
	m   map[string]*state
}

// New builds a Gate with the given configuration.
func New(cfg Config) *Gate {
	return &Gate{cfg: cfg, m: make(map[string]*state)}
}

func (g *Gate) get(symbol string, tfMin int) *state {
	k := key(symbol, tfMin)
	st, ok := g.m[k]
	if !ok {
		st = &state{status: model.HealthHealthy}
		g.m[k] = st
	}
	return st
}

// Status returns the current FSM state for (symbol, tfMin), resolving
// TTL expiry first.
func (g *Gate) Status(symbol string, tfMin int, now time.Time) (model.HealthStatus, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.get(symbol, tfMin)
	g.resolveTTL(st, now)
	return st.status, st.reason
}

func (g *Gate) resolveTTL(st *state, now time.Time) {
	if st.status == model.HealthExcluded && !st.excludedUntil.IsZero() && !now.Before(st.excludedUntil) {
		st.status = model.HealthHealthy
		st.reason = ""
		st.consecutiveNoData = 0
		st.consecutiveErrors = 0
		st.dayCounts = nil
		st.excludedUntil = time.Time{}
	}
}

// RecordNoData registers a no-data/error signal for (symbol, tfMin) on
// the ET calendar day containing now, advancing the FSM.
func (g *Gate) RecordNoData(symbol string, tfMin int, now time.Time, isError bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.get(symbol, tfMin)
	g.resolveTTL(st, now)
	if st.status == model.HealthExcluded {
		return
	}

	if isError {
		st.consecutiveErrors++
	} else {
		st.consecutiveNoData++
	}

	et := now.Format("2006-01-02")
	if loc, err := time.LoadLocation("America/New_York"); err == nil {
		et = now.In(loc).Format("2006-01-02")
	}
	if n := len(st.dayCounts); n > 0 && st.dayCounts[n-1].day == et {
		st.dayCounts[n-1].count++
	} else {
		st.dayCounts = append(st.dayCounts, dayCount{day: et, count: 1})
	}
	if cap := g.cfg.WindowDays + 2; len(st.dayCounts) > cap {
		st.dayCounts = st.dayCounts[len(st.dayCounts)-cap:]
	}

	if st.status == model.HealthHealthy &&
		(st.consecutiveNoData >= g.cfg.DegradeThreshold || st.consecutiveErrors >= g.cfg.DegradeThreshold) {
		st.status = model.HealthDegraded
		st.reason = "degraded-consecutive-failures"
	}

	if g.windowSum(st) >= g.cfg.ExcludeThresholdSessns {
		st.status = model.HealthExcluded
		st.reason = "coverage"
		st.excludedUntil = now.Add(g.cfg.TTL)
	}
}

func (g *Gate) windowSum(st *state) int {
	n := len(st.dayCounts)
	start := n - g.cfg.WindowDays
	if start < 0 {
		start = 0
	}
	sum := 0
	for i := start; i < n; i++ {
		sum += st.dayCounts[i].count
	}
	return sum
}

// ExcludeForCoverage immediately excludes (symbol, tfMin) with
// reason="coverage" and the configured TTL, for when the provider's
// earliest bar postdates the simulation start, or no bars exist at all.
func (g *Gate) ExcludeForCoverage(symbol string, tfMin int, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.get(symbol, tfMin)
	st.status = model.HealthExcluded
	st.reason = "coverage"
	st.excludedUntil = now.Add(g.cfg.TTL)
}

// MarkCleanPass resets the consecutive counters for (symbol, tfMin)
// after a tick that found usable data and no error.
func (g *Gate) MarkCleanPass(symbol string, tfMin int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.get(symbol, tfMin)
	st.consecutiveNoData = 0
	st.consecutiveErrors = 0
}
