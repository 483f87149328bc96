package strategy

import (
	"fmt"

	"github.com/nitinkhare/stratsim/internal/market"
	"github.com/nitinkhare/stratsim/internal/model"
)

// MACDCross buys on a bullish MACD/signal crossover confirmed by RSI not
// being overbought, and sells on a bearish crossover.
type MACDCross struct {
	Fast, Slow, Signal int // default 12, 26, 9
	RSIPeriod          int // default 14
	MaxRSIForEntry     float64
	StaticStopPercent  float64 // default 3.0
}

// NewMACDCross returns a MACDCross strategy with its documented defaults.
func NewMACDCross() *MACDCross {
	return &MACDCross{Fast: 12, Slow: 26, Signal: 9, RSIPeriod: 14, MaxRSIForEntry: 70, StaticStopPercent: 3.0}
}

func (s *MACDCross) Key() string { return "macd_cross" }

func (s *MACDCross) DecideBuy(ctx Context) Decision {
	if len(ctx.Candles) < s.Slow+s.Signal+1 {
		return noAction(fmt.Sprintf("insufficient candle history: %d < %d", len(ctx.Candles), s.Slow+s.Signal+1))
	}

	curr := ctx.Candles
	prev := ctx.Candles[:len(ctx.Candles)-1]

	macdNow, sigNow, _ := market.MACD(curr, s.Fast, s.Slow, s.Signal)
	macdPrev, sigPrev, _ := market.MACD(prev, s.Fast, s.Slow, s.Signal)

	crossedUp := macdPrev <= sigPrev && macdNow > sigNow
	if !crossedUp {
		return noAction("no bullish MACD crossover")
	}

	rsi := market.CalculateRSI(curr, s.RSIPeriod)
	if rsi > s.MaxRSIForEntry {
		return noAction(fmt.Sprintf("RSI %.1f above entry ceiling %.1f", rsi, s.MaxRSIForEntry))
	}

	last := curr[len(curr)-1]
	stopPrice := last.Close * (1 - s.StaticStopPercent/100)
	return Decision{
		Action:          ActionBuy,
		StaticStopOrder: &StaticStopOrder{StopPrice: stopPrice, OrderType: model.OrderTypeStop},
		Reason:          fmt.Sprintf("MACD crossed above signal (%.4f > %.4f), RSI %.1f", macdNow, sigNow, rsi),
		Details:         fmt.Sprintf("stop=%.2f", stopPrice),
	}
}

func (s *MACDCross) DecideSell(ctx Context) Decision {
	if ctx.Position == nil || len(ctx.Candles) < s.Slow+s.Signal+1 {
		return noAction("no open position or insufficient history")
	}

	curr := ctx.Candles
	prev := ctx.Candles[:len(ctx.Candles)-1]

	macdNow, sigNow, _ := market.MACD(curr, s.Fast, s.Slow, s.Signal)
	macdPrev, sigPrev, _ := market.MACD(prev, s.Fast, s.Slow, s.Signal)

	crossedDown := macdPrev >= sigPrev && macdNow < sigNow
	if !crossedDown {
		return noAction("no bearish MACD crossover")
	}
	return Decision{
		Action: ActionSell,
		Reason: fmt.Sprintf("MACD crossed below signal (%.4f < %.4f)", macdNow, sigNow),
	}
}
