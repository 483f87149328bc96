package strategy

import (
	"fmt"

	"github.com/nitinkhare/stratsim/internal/market"
)

// BollingerReversion buys when price closes below the lower band (a
// mean-reversion entry) and sells on a return to the middle band or a
// minimum trailing stop.
type BollingerReversion struct {
	Period            int     // default 20
	Sigma             float64 // default 2.0
	TrailingPercent   float64 // default 4.0
}

// NewBollingerReversion returns a BollingerReversion strategy with its
// documented defaults.
func NewBollingerReversion() *BollingerReversion {
	return &BollingerReversion{Period: 20, Sigma: 2.0, TrailingPercent: 4.0}
}

func (s *BollingerReversion) Key() string { return "bollinger_reversion" }

func (s *BollingerReversion) DecideBuy(ctx Context) Decision {
	if len(ctx.Candles) < s.Period {
		return noAction(fmt.Sprintf("insufficient candle history: %d < %d", len(ctx.Candles), s.Period))
	}

	last := ctx.Candles[len(ctx.Candles)-1]
	mid, _, lower := market.Bollinger(ctx.Candles, s.Period, s.Sigma)
	if last.Close > lower {
		return noAction(fmt.Sprintf("close %.2f above lower band %.2f", last.Close, lower))
	}

	return Decision{
		Action:         ActionBuy,
		TrailStopOrder: &TrailStopOrder{TrailingPercent: s.TrailingPercent},
		Reason:         fmt.Sprintf("close %.2f pierced lower band %.2f (mid %.2f)", last.Close, lower, mid),
		Details:        fmt.Sprintf("mid=%.2f lower=%.2f", mid, lower),
	}
}

func (s *BollingerReversion) DecideSell(ctx Context) Decision {
	if ctx.Position == nil || len(ctx.Candles) < s.Period {
		return noAction("no open position or insufficient history")
	}
	last := ctx.Candles[len(ctx.Candles)-1]
	mid, _, _ := market.Bollinger(ctx.Candles, s.Period, s.Sigma)
	if last.Close >= mid {
		return Decision{
			Action: ActionSell,
			Reason: fmt.Sprintf("close %.2f reverted to mid band %.2f", last.Close, mid),
		}
	}
	return noAction("price has not reverted to mid band")
}
