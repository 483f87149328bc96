// Package analytics implements the Aggregator (C8): per-runner realized
// P&L, trade counts, drawdown/Sharpe/profit-factor computed from closed
// ExecutedTrade rows.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/nitinkhare/stratsim/internal/model"
)

// Result is the computed aggregate for one (symbol, strategy, timeframe)
// group, mirroring model.AnalyticsResult.
type Result struct {
	Symbol              string
	Strategy            string
	Timeframe           string
	StartTS             *time.Time
	EndTS               *time.Time
	CompoundedReturnPct float64
	ProfitFactor        float64
	MaxDrawdownPct      float64
	SharpeRatio         float64
	FinalPnLAmount      float64
	FinalPnLPercent     float64
	TradesCount         int
	AvgPnLPerTrade      float64
	AvgTradeDurationSec float64
	EquityCurve         []float64
}

// Aggregate computes the full set of per-runner metrics from trades,
// which must all share the same (symbol, strategy, timeframe) and need
// not already be sorted.
func Aggregate(trades []model.ExecutedTrade) Result {
	if len(trades) == 0 {
		return Result{}
	}

	sorted := make([]model.ExecutedTrade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SellTS.Before(sorted[j].SellTS) })

	returns := make([]float64, len(sorted))
	var grossSellProceeds, totalPnLAmount float64
	var winsSum, lossesSum float64
	var totalDuration time.Duration

	for i, tr := range sorted {
		r := tr.PnLPercent / 100
		if r < -1 {
			r = -1
		}
		returns[i] = r

		totalPnLAmount += tr.PnLAmount
		grossSellProceeds += tr.SellPrice * float64(tr.Quantity)
		if tr.PnLAmount >= 0 {
			winsSum += tr.PnLAmount
		} else {
			lossesSum += -tr.PnLAmount
		}
		totalDuration += tr.SellTS.Sub(tr.BuyTS)
	}

	compounded := 1.0
	equity := make([]float64, len(returns))
	for i, r := range returns {
		compounded *= 1 + r
		equity[i] = compounded
	}
	compoundedPct := (compounded - 1) * 100

	var profitFactor float64
	switch {
	case lossesSum == 0 && winsSum == 0:
		profitFactor = 0
	case lossesSum == 0:
		profitFactor = 0 // no losing trades: represented as 0 rather than +Inf
	default:
		profitFactor = winsSum / lossesSum
	}

	maxDrawdown := maxDrawdownPct(equity)
	sharpe := sharpeRatio(returns)

	start := sorted[0].BuyTS
	end := sorted[len(sorted)-1].SellTS

	var finalPnLPercent float64
	if grossSellProceeds != 0 {
		finalPnLPercent = totalPnLAmount / grossSellProceeds * 100
	}

	return Result{
		Symbol: sorted[0].Symbol, Strategy: sorted[0].Strategy, Timeframe: sorted[0].Timeframe,
		StartTS: &start, EndTS: &end,
		CompoundedReturnPct: compoundedPct,
		ProfitFactor:        profitFactor,
		MaxDrawdownPct:      maxDrawdown,
		SharpeRatio:         sharpe,
		FinalPnLAmount:      totalPnLAmount,
		FinalPnLPercent:     finalPnLPercent,
		TradesCount:         len(sorted),
		AvgPnLPerTrade:      totalPnLAmount / float64(len(sorted)),
		AvgTradeDurationSec: totalDuration.Seconds() / float64(len(sorted)),
		EquityCurve:         equity,
	}
}

// maxDrawdownPct computes max((peak-equity)/peak) * 100 over the curve.
func maxDrawdownPct(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak == 0 {
			continue
		}
		dd := (peak - e) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD * 100
}

// sharpeRatio computes mean(r)/stdev(r, ddof=1) * sqrt(252), the
// annualized Sharpe ratio at a zero risk-free rate.
func sharpeRatio(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	var sumSq float64
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	variance := sumSq / float64(n-1)
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}
	return mean / stdev * math.Sqrt(252)
}

// ToModel converts a Result into the persisted model.AnalyticsResult
// row shape.
func (r Result) ToModel() model.AnalyticsResult {
	maxDD := r.MaxDrawdownPct
	avgPnL := r.AvgPnLPerTrade
	avgDur := r.AvgTradeDurationSec
	return model.AnalyticsResult{
		Symbol: r.Symbol, Strategy: r.Strategy, Timeframe: r.Timeframe,
		StartTS: r.StartTS, EndTS: r.EndTS,
		FinalPnLAmount: r.FinalPnLAmount, FinalPnLPercent: r.FinalPnLPercent,
		TradesCount: r.TradesCount, MaxDrawdown: &maxDD,
		AvgPnLPerTrade: &avgPnL, AvgTradeDurationSec: &avgDur,
	}
}
