package market

import (
	"math"
	"testing"
	"time"

	"github.com/nitinkhare/stratsim/internal/model"
)

func makeBars(closes []float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = model.Bar{
			Symbol:      "TEST",
			TS:          base.Add(time.Duration(i) * 5 * time.Minute),
			IntervalMin: 5,
			Open:        c,
			High:        c + 0.5,
			Low:         c - 0.5,
			Close:       c,
			Volume:      1000,
		}
	}
	return bars
}

func TestCalculateSMA(t *testing.T) {
	bars := makeBars([]float64{1, 2, 3, 4, 5})
	if got := CalculateSMA(bars, 5); got != 3 {
		t.Fatalf("SMA(5) = %v, want 3", got)
	}
	if got := CalculateSMA(bars, 10); got != 0 {
		t.Fatalf("SMA with insufficient data = %v, want 0", got)
	}
}

func TestCalculateEMAConverges(t *testing.T) {
	bars := makeBars([]float64{10, 10, 10, 10, 10, 10})
	got := CalculateEMA(bars, 3)
	if math.Abs(got-10) > 1e-9 {
		t.Fatalf("EMA of a flat series = %v, want 10", got)
	}
}

func TestCalculateRSINeutralOnInsufficientData(t *testing.T) {
	bars := makeBars([]float64{1, 2})
	if got := CalculateRSI(bars, 14); got != 50 {
		t.Fatalf("RSI with insufficient data = %v, want 50", got)
	}
}

func TestCalculateRSIAllGains(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	bars := makeBars(closes)
	if got := CalculateRSI(bars, 14); got != 100 {
		t.Fatalf("RSI of a monotone-up series = %v, want 100", got)
	}
}

func TestDonchian(t *testing.T) {
	bars := makeBars([]float64{10, 12, 8, 15, 9})
	upper, lower := Donchian(bars, 5)
	if upper != 15.5 {
		t.Fatalf("Donchian upper = %v, want 15.5", upper)
	}
	if lower != 7.5 {
		t.Fatalf("Donchian lower = %v, want 7.5", lower)
	}
}

func TestBollingerBandsWidenWithVolatility(t *testing.T) {
	flat := makeBars([]float64{10, 10, 10, 10, 10})
	_, upperFlat, lowerFlat := Bollinger(flat, 5, 2)
	if upperFlat != 10 || lowerFlat != 10 {
		t.Fatalf("Bollinger on a flat series should collapse to the mean, got %v/%v", upperFlat, lowerFlat)
	}

	volatile := makeBars([]float64{5, 15, 5, 15, 10})
	_, upperVol, lowerVol := Bollinger(volatile, 5, 2)
	if upperVol-lowerVol <= 0 {
		t.Fatalf("Bollinger band width on a volatile series should be positive, got %v", upperVol-lowerVol)
	}
}

func TestMACDInsufficientData(t *testing.T) {
	bars := makeBars([]float64{1, 2, 3})
	macd, signal, hist := MACD(bars, 12, 26, 9)
	if macd != 0 || signal != 0 || hist != 0 {
		t.Fatalf("MACD with insufficient data should be zero, got %v/%v/%v", macd, signal, hist)
	}
}

func TestStochasticBounds(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = float64(i)
	}
	bars := makeBars(closes)
	k, d := Stochastic(bars, 14, 3)
	if k < 0 || k > 100 || d < 0 || d > 100 {
		t.Fatalf("Stochastic out of bounds: k=%v d=%v", k, d)
	}
}

func TestAverageVolume(t *testing.T) {
	bars := makeBars([]float64{1, 2, 3})
	if got := AverageVolume(bars, 3); got != 1000 {
		t.Fatalf("AverageVolume = %v, want 1000", got)
	}
}

func TestHighestLowestLow(t *testing.T) {
	bars := makeBars([]float64{10, 20, 5, 30, 15})
	if got := HighestHigh(bars, 5); got != 30.5 {
		t.Fatalf("HighestHigh = %v, want 30.5", got)
	}
	if got := LowestLow(bars, 5); got != 4.5 {
		t.Fatalf("LowestLow = %v, want 4.5", got)
	}
}
