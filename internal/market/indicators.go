// Package market implements the Market-Data Gateway: bar queries against
// the read-only candle tables, session-clock arithmetic, and the
// technical-indicator math strategies consume.
//
// These indicator functions are shared across every strategy. All are
// stateless and deterministic — given the same bar slice they return the
// same result.
package market

import (
	"math"

	"github.com/nitinkhare/stratsim/internal/model"
)

// CalculateSMA computes the Simple Moving Average of closing prices over
// the given period. Returns 0 if insufficient data.
func CalculateSMA(bars []model.Bar, period int) float64 {
	if len(bars) < period || period <= 0 {
		return 0
	}
	var sum float64
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}
	return sum / float64(period)
}

// CalculateEMA computes the Exponential Moving Average of closing prices
// over the given period, seeded with the SMA of the first `period` bars.
// Returns 0 if insufficient data.
func CalculateEMA(bars []model.Bar, period int) float64 {
	if len(bars) < period || period <= 0 {
		return 0
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := CalculateSMA(bars[:period], period)
	for i := period; i < len(bars); i++ {
		ema = bars[i].Close*k + ema*(1-k)
	}
	return ema
}

// emaSeries returns the EMA value at every index from `period-1` onward,
// used internally by MACD.
func emaSeries(bars []model.Bar, period int) []float64 {
	if len(bars) < period || period <= 0 {
		return nil
	}
	k := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(bars))
	seed := CalculateSMA(bars[:period], period)
	out[period-1] = seed
	ema := seed
	for i := period; i < len(bars); i++ {
		ema = bars[i].Close*k + ema*(1-k)
		out[i] = ema
	}
	return out
}

// CalculateATR computes the Average True Range over the given period.
// True Range = max(high-low, |high-prevClose|, |low-prevClose|). Falls
// back to the last bar's range if there is insufficient history.
func CalculateATR(bars []model.Bar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if len(bars) < period+1 {
		last := bars[len(bars)-1]
		return last.High - last.Low
	}
	var total float64
	for i := len(bars) - period; i < len(bars); i++ {
		curr, prev := bars[i], bars[i-1]
		tr := math.Max(curr.High-curr.Low, math.Max(math.Abs(curr.High-prev.Close), math.Abs(curr.Low-prev.Close)))
		total += tr
	}
	return total / float64(period)
}

// CalculateRSI computes the Relative Strength Index using Wilder
// smoothing. Returns 50 (neutral) if insufficient data.
func CalculateRSI(bars []model.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 50
	}
	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gainSum += change
		} else {
			lossSum += math.Abs(change)
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = math.Abs(change)
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// Donchian returns the (upper, lower) channel bounds over the last
// `period` bars: the highest high and lowest low.
func Donchian(bars []model.Bar, period int) (upper, lower float64) {
	if len(bars) == 0 || period <= 0 {
		return 0, 0
	}
	start := len(bars) - period
	if start < 0 {
		start = 0
	}
	upper, lower = bars[start].High, bars[start].Low
	for i := start + 1; i < len(bars); i++ {
		if bars[i].High > upper {
			upper = bars[i].High
		}
		if bars[i].Low < lower {
			lower = bars[i].Low
		}
	}
	return upper, lower
}

// HighestHigh returns the highest high over the last `period` bars.
func HighestHigh(bars []model.Bar, period int) float64 {
	upper, _ := Donchian(bars, period)
	return upper
}

// LowestLow returns the lowest low over the last `period` bars.
func LowestLow(bars []model.Bar, period int) float64 {
	_, lower := Donchian(bars, period)
	return lower
}

// Bollinger returns the (middle, upper, lower) bands over `period` bars
// at `sigma` standard deviations. Returns zeros if insufficient data.
func Bollinger(bars []model.Bar, period int, sigma float64) (mid, upper, lower float64) {
	mid = CalculateSMA(bars, period)
	if mid == 0 && period > len(bars) {
		return 0, 0, 0
	}
	start := len(bars) - period
	var sumSq float64
	for i := start; i < len(bars); i++ {
		d := bars[i].Close - mid
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(period))
	return mid, mid + sigma*std, mid - sigma*std
}

// MACD returns (macd, signal, histogram) using the classic 12/26/9
// configuration. Returns zeros if insufficient data for the slow EMA
// plus the signal smoothing.
func MACD(bars []model.Bar, fast, slow, signal int) (macdLine, signalLine, histogram float64) {
	if len(bars) < slow+signal {
		return 0, 0, 0
	}
	fastEMA := emaSeries(bars, fast)
	slowEMA := emaSeries(bars, slow)
	macdSeries := make([]float64, len(bars))
	for i := slow - 1; i < len(bars); i++ {
		macdSeries[i] = fastEMA[i] - slowEMA[i]
	}
	k := 2.0 / (float64(signal) + 1.0)
	var sum float64
	for i := slow - 1; i < slow-1+signal; i++ {
		sum += macdSeries[i]
	}
	sig := sum / float64(signal)
	for i := slow - 1 + signal; i < len(bars); i++ {
		sig = macdSeries[i]*k + sig*(1-k)
	}
	macdLine = macdSeries[len(bars)-1]
	signalLine = sig
	return macdLine, signalLine, macdLine - signalLine
}

// Stochastic returns the (%K, %D) oscillator values over `kPeriod` bars,
// with %D smoothed over `dPeriod` bars of %K.
func Stochastic(bars []model.Bar, kPeriod, dPeriod int) (k, d float64) {
	if len(bars) < kPeriod+dPeriod {
		return 50, 50
	}
	kValues := make([]float64, 0, dPeriod)
	for offset := dPeriod - 1; offset >= 0; offset-- {
		end := len(bars) - offset
		window := bars[end-kPeriod : end]
		high, low := Donchian(window, kPeriod)
		close := window[len(window)-1].Close
		if high == low {
			kValues = append(kValues, 50)
			continue
		}
		kValues = append(kValues, (close-low)/(high-low)*100)
	}
	k = kValues[len(kValues)-1]
	var sum float64
	for _, v := range kValues {
		sum += v
	}
	d = sum / float64(len(kValues))
	return k, d
}

// CalculateROC computes the Rate of Change (fraction, not percent) over
// the given period. Returns 0 if insufficient data or division by zero.
func CalculateROC(bars []model.Bar, period int) float64 {
	if len(bars) < period+1 || period <= 0 {
		return 0
	}
	current := bars[len(bars)-1].Close
	past := bars[len(bars)-1-period].Close
	if past == 0 {
		return 0
	}
	return (current - past) / past
}

// AverageVolume computes the mean volume over the last `period` bars.
func AverageVolume(bars []model.Bar, period int) float64 {
	if len(bars) == 0 || period <= 0 {
		return 0
	}
	start := len(bars) - period
	if start < 0 {
		start = 0
	}
	var total float64
	count := 0
	for i := start; i < len(bars); i++ {
		total += float64(bars[i].Volume)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
