package strategy

import (
	"fmt"

	"github.com/nitinkhare/stratsim/internal/market"
)

// Breakout buys when price closes above the N-bar high with volume
// confirmation, and exits on a failed breakout or a fixed trailing
// stop armed at entry. It exists to exercise the strategy contract end
// to end, not as a production-grade trading rule.
type Breakout struct {
	Lookback         int     // default 20
	VolumeMultiplier float64 // default 1.5
	TrailingPercent  float64 // default 5.0
}

// NewBreakout returns a Breakout strategy with its documented defaults.
func NewBreakout() *Breakout {
	return &Breakout{Lookback: 20, VolumeMultiplier: 1.5, TrailingPercent: 5.0}
}

func (s *Breakout) Key() string { return "breakout" }

func (s *Breakout) DecideBuy(ctx Context) Decision {
	if len(ctx.Candles) < s.Lookback+1 {
		return noAction(fmt.Sprintf("insufficient candle history: %d < %d", len(ctx.Candles), s.Lookback+1))
	}

	last := ctx.Candles[len(ctx.Candles)-1]
	prior := ctx.Candles[:len(ctx.Candles)-1]

	resistance := market.HighestHigh(prior, s.Lookback)
	if last.Close <= resistance {
		return noAction(fmt.Sprintf("price %.2f <= %d-bar high %.2f", last.Close, s.Lookback, resistance))
	}

	avgVol := market.AverageVolume(prior, s.Lookback)
	if avgVol > 0 && float64(last.Volume) < avgVol*s.VolumeMultiplier {
		return noAction(fmt.Sprintf("volume %d below %.1fx average %.0f", last.Volume, s.VolumeMultiplier, avgVol))
	}

	return Decision{
		Action:          ActionBuy,
		TrailStopOrder:  &TrailStopOrder{TrailingPercent: s.TrailingPercent},
		Reason:          fmt.Sprintf("breakout: close %.2f > %d-bar high %.2f on %dx volume", last.Close, s.Lookback, resistance, int(float64(last.Volume)/maxf(avgVol, 1))),
		Details:         fmt.Sprintf("resistance=%.2f avg_volume=%.0f", resistance, avgVol),
	}
}

func (s *Breakout) DecideSell(ctx Context) Decision {
	if ctx.Position == nil || len(ctx.Candles) == 0 {
		return noAction("no open position")
	}
	last := ctx.Candles[len(ctx.Candles)-1]
	if last.Close < ctx.Position.AvgPrice {
		return Decision{
			Action: ActionSell,
			Reason: fmt.Sprintf("price %.2f fell below entry %.2f, failed breakout", last.Close, ctx.Position.AvgPrice),
		}
	}
	return noAction("breakout intact")
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
