package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nitinkhare/stratsim/internal/model"
)

// BarStore is the read-only query surface the Gateway is built on. It is
// implemented by internal/storage against the bars_daily/bars_minute
// tables; the bulk-ingestion job that populates those tables is a
// collaborator's concern.
type BarStore interface {
	// DailyBarsUntil returns up to `lookback` daily bars for symbol with
	// date <= asOf, oldest first.
	DailyBarsUntil(ctx context.Context, symbol string, asOf time.Time, lookback int) ([]model.Bar, error)
	// MinuteBarsUntil returns up to `lookback` minute bars of width
	// tfMin for symbol with ts <= asOf, oldest first.
	MinuteBarsUntil(ctx context.Context, symbol string, tfMin int, asOf time.Time, lookback int) ([]model.Bar, error)
	// EarliestDaily returns the earliest stored daily bar date for symbol.
	EarliestDaily(ctx context.Context, symbol string) (time.Time, bool, error)
	// EarliestMinute returns the earliest stored minute bar ts for (symbol, tfMin).
	EarliestMinute(ctx context.Context, symbol string, tfMin int) (time.Time, bool, error)
	// LatestMinute returns the latest stored minute bar ts for (symbol, tfMin).
	LatestMinute(ctx context.Context, symbol string, tfMin int) (time.Time, bool, error)
	// NextTimestampAfter returns the smallest bar timestamp strictly
	// greater than after for the given timeframe, optionally scoped to
	// one symbol (empty symbol scans across all symbols).
	NextTimestampAfter(ctx context.Context, symbol string, tfMin int, after time.Time) (time.Time, bool, error)
}

// Gateway is the Market-Data Gateway (C1): bar queries plus the indicator
// math every strategy runs against the returned window.
type Gateway struct {
	store BarStore
}

// NewGateway wraps a BarStore with the gateway's query and RTH-filtering
// behavior.
func NewGateway(store BarStore) *Gateway {
	return &Gateway{store: store}
}

// BarsUntil returns up to `lookback` bars for symbol at timeframe tfMin
// with timestamp <= asOf, oldest first. For tf=1440 (daily) rthOnly is
// ignored; for intraday timeframes it filters to regular trading hours,
// over-fetching to compensate.
func (g *Gateway) BarsUntil(ctx context.Context, symbol string, tfMin int, asOf time.Time, lookback int, rthOnly bool) ([]model.Bar, error) {
	if tfMin == 1440 {
		return g.store.DailyBarsUntil(ctx, symbol, asOf, lookback)
	}
	fetch := lookback
	if rthOnly {
		fetch = lookback * 3
	}
	bars, err := g.store.MinuteBarsUntil(ctx, symbol, tfMin, asOf, fetch)
	if err != nil {
		return nil, fmt.Errorf("market: bars until for %s: %w", symbol, err)
	}
	if !rthOnly {
		return bars, nil
	}
	filtered := make([]model.Bar, 0, lookback)
	for _, b := range bars {
		if IsRTH(b.TS) {
			filtered = append(filtered, b)
		}
	}
	if len(filtered) > lookback {
		filtered = filtered[len(filtered)-lookback:]
	}
	return filtered, nil
}

// BarsBulkUntil fetches BarsUntil for every symbol in one pass, grouped
// by the caller's per-timeframe bulk prefetch.
func (g *Gateway) BarsBulkUntil(ctx context.Context, symbols []string, tfMin int, asOf time.Time, lookback int, rthOnly bool) (map[string][]model.Bar, error) {
	out := make(map[string][]model.Bar, len(symbols))
	for _, sym := range symbols {
		bars, err := g.BarsUntil(ctx, sym, tfMin, asOf, lookback, rthOnly)
		if err != nil {
			return nil, err
		}
		out[sym] = bars
	}
	return out, nil
}

// maxSessionScanDays bounds how far next_session_ts will look forward
// before giving up and reporting no further bars exist.
const maxSessionScanDays = 400

// NextSessionTS returns the smallest stored bar timestamp strictly
// greater than asOf that lies inside regular trading hours, preferring
// referenceSymbol's own coverage when it has any, otherwise scanning
// across all symbols at that interval. Returns found=false when no
// qualifying bar exists within a 400-day forward scan.
func (g *Gateway) NextSessionTS(ctx context.Context, asOf time.Time, tfMin int, referenceSymbol string) (time.Time, bool, error) {
	scope := ""
	if referenceSymbol != "" {
		if _, ok, err := g.store.EarliestMinute(ctx, referenceSymbol, tfMin); err == nil && ok {
			scope = referenceSymbol
		} else if tfMin == 1440 {
			if _, ok, err := g.store.EarliestDaily(ctx, referenceSymbol); err == nil && ok {
				scope = referenceSymbol
			}
		}
	}

	cursor := asOf
	deadline := asOf.AddDate(0, 0, maxSessionScanDays)
	for {
		next, ok, err := g.store.NextTimestampAfter(ctx, scope, tfMin, cursor)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("market: next session ts: %w", err)
		}
		if !ok || next.After(deadline) {
			return time.Time{}, false, nil
		}
		if tfMin == 1440 || IsRTH(next) {
			return next, true, nil
		}
		cursor = next
	}
}

// LastCloseFor returns each symbol's most recent close at or before
// asOf, filtered to regular trading hours for intraday timeframes.
func (g *Gateway) LastCloseFor(ctx context.Context, symbols []string, tfMin int, asOf time.Time, rthOnly bool) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		bars, err := g.BarsUntil(ctx, sym, tfMin, asOf, 1, rthOnly)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			continue
		}
		out[sym] = bars[len(bars)-1].Close
	}
	return out, nil
}

// EarliestDaily reports the earliest daily bar date on file for symbol.
func (g *Gateway) EarliestDaily(ctx context.Context, symbol string) (time.Time, bool, error) {
	return g.store.EarliestDaily(ctx, symbol)
}

// HasDaily reports whether any daily bar exists for symbol.
func (g *Gateway) HasDaily(ctx context.Context, symbol string) (bool, error) {
	_, ok, err := g.store.EarliestDaily(ctx, symbol)
	return ok, err
}

// HasMinute reports whether any minute bar exists for (symbol, tfMin).
func (g *Gateway) HasMinute(ctx context.Context, symbol string, tfMin int) (bool, error) {
	_, ok, err := g.store.EarliestMinute(ctx, symbol, tfMin)
	return ok, err
}

// EarliestMinute reports the earliest minute bar ts on file.
func (g *Gateway) EarliestMinute(ctx context.Context, symbol string, tfMin int) (time.Time, bool, error) {
	return g.store.EarliestMinute(ctx, symbol, tfMin)
}

// LatestMinute reports the latest minute bar ts on file.
func (g *Gateway) LatestMinute(ctx context.Context, symbol string, tfMin int) (time.Time, bool, error) {
	return g.store.LatestMinute(ctx, symbol, tfMin)
}

// NormalizeSymbol upper-cases a symbol the way every gateway query
// expects it to arrive; the universe gate performs alias rewriting on
// top of this.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
