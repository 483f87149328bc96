package strategy

import (
	"testing"
	"time"

	"github.com/nitinkhare/stratsim/internal/model"
)

func barsOf(closes []float64, volumes []int64) []model.Bar {
	base := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		vol := int64(1000)
		if volumes != nil {
			vol = volumes[i]
		}
		bars[i] = model.Bar{
			Symbol: "TEST", TS: base.Add(time.Duration(i) * 5 * time.Minute), IntervalMin: 5,
			Open: c, High: c + 0.2, Low: c - 0.2, Close: c, Volume: vol,
		}
	}
	return bars
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(NewBreakout(), NewMACDCross(), NewBollingerReversion())

	if _, ok := reg.Lookup("breakout"); !ok {
		t.Fatalf("expected breakout to be registered")
	}
	if _, ok := reg.Lookup("does_not_exist"); ok {
		t.Fatalf("expected unknown key to miss")
	}
}

func TestBreakoutBuysOnVolumeConfirmedNewHigh(t *testing.T) {
	closes := make([]float64, 21)
	volumes := make([]int64, 21)
	for i := range closes {
		closes[i] = 100
		volumes[i] = 1000
	}
	closes[20] = 110 // breaks above the prior 20-bar high
	volumes[20] = 3000

	s := NewBreakout()
	decision := s.DecideBuy(Context{Candles: barsOf(closes, volumes)})
	if decision.Action != ActionBuy {
		t.Fatalf("expected BUY, got %v (%s)", decision.Action, decision.Reason)
	}
	if decision.TrailStopOrder == nil || decision.TrailStopOrder.TrailingPercent != 5.0 {
		t.Fatalf("expected a 5%% trailing stop, got %+v", decision.TrailStopOrder)
	}
}

func TestBreakoutNoActionWithoutBreakout(t *testing.T) {
	closes := make([]float64, 21)
	for i := range closes {
		closes[i] = 100
	}
	s := NewBreakout()
	decision := s.DecideBuy(Context{Candles: barsOf(closes, nil)})
	if decision.Action != ActionNoAction {
		t.Fatalf("expected NO_ACTION, got %v", decision.Action)
	}
}

func TestBreakoutSellsOnFailedBreakout(t *testing.T) {
	bars := barsOf([]float64{100, 99}, nil)
	s := NewBreakout()
	pos := &model.OpenPosition{AvgPrice: 100}
	decision := s.DecideSell(Context{Candles: bars, Position: pos})
	if decision.Action != ActionSell {
		t.Fatalf("expected SELL on failed breakout, got %v", decision.Action)
	}
}

func TestBollingerReversionBuysBelowLowerBand(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	closes[19] = 80 // sharp drop pierces the lower band
	s := NewBollingerReversion()
	decision := s.DecideBuy(Context{Candles: barsOf(closes, nil)})
	if decision.Action != ActionBuy {
		t.Fatalf("expected BUY, got %v (%s)", decision.Action, decision.Reason)
	}
}

func TestBollingerReversionSellsAtMidBand(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	s := NewBollingerReversion()
	pos := &model.OpenPosition{AvgPrice: 90}
	decision := s.DecideSell(Context{Candles: barsOf(closes, nil), Position: pos})
	if decision.Action != ActionSell {
		t.Fatalf("expected SELL at mid band, got %v", decision.Action)
	}
}

func TestMACDCrossNoActionOnInsufficientHistory(t *testing.T) {
	s := NewMACDCross()
	decision := s.DecideBuy(Context{Candles: barsOf([]float64{1, 2, 3}, nil)})
	if decision.Action != ActionNoAction {
		t.Fatalf("expected NO_ACTION, got %v", decision.Action)
	}
}
