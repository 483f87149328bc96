package engine

import (
	"fmt"

	"github.com/nitinkhare/stratsim/internal/model"
	"github.com/nitinkhare/stratsim/internal/strategy"
)

// Environment selects which decision-validation rules apply. Analytics
// mode relaxes the stop-order requirement on BUY decisions.
type Environment string

const (
	EnvironmentAnalytics Environment = "analytics"
	EnvironmentLive      Environment = "live"
)

// ValidateDecision checks a strategy decision's shape, returning the
// (possibly stop-order-enriched) decision and the first violation found
// as a plain error. Callers record a violation as skipped-build_failed
// with the error's message.
func ValidateDecision(env Environment, defaultStopLossPercent, currentPrice float64, d strategy.Decision) (strategy.Decision, error) {
	switch d.Action {
	case strategy.ActionNoAction:
		return d, nil
	case strategy.ActionSell:
		return d, validateOrderShape(d)
	case strategy.ActionBuy:
		if err := validateOrderShape(d); err != nil {
			return d, err
		}
		hasTrail := d.TrailStopOrder != nil && (d.TrailStopOrder.TrailingPercent > 0 || d.TrailStopOrder.TrailingAmount > 0)
		hasStatic := d.StaticStopOrder != nil && d.StaticStopOrder.StopPrice > 0
		if hasStatic && d.StaticStopOrder.OrderType == model.OrderTypeStopLimit && d.StaticStopOrder.LimitPrice <= 0 {
			return d, fmt.Errorf("static stop order_type=STOP_LIMIT requires a positive limit_price")
		}
		if !hasTrail && !hasStatic {
			if env == EnvironmentAnalytics {
				if defaultStopLossPercent > 0 {
					stop := StaticStopFromDefault(currentPrice, defaultStopLossPercent)
					d.StaticStopOrder = &stop
				}
				return d, nil
			}
			return d, fmt.Errorf("BUY requires a trail_stop_order or static_stop_order")
		}
		return d, nil
	default:
		return d, fmt.Errorf("unknown action %q", d.Action)
	}
}

func validateOrderShape(d strategy.Decision) error {
	if d.Quantity < 0 {
		return fmt.Errorf("quantity must be a positive integer, got %d", d.Quantity)
	}
	if d.OrderType == model.OrderTypeLimit && d.LimitPrice <= 0 {
		return fmt.Errorf("order_type=LMT requires a positive limit_price")
	}
	return nil
}

// StaticStopFromDefault builds the engine-injected static stop used in
// analytics mode when a BUY decision omits stop orders entirely.
func StaticStopFromDefault(currentPrice, defaultStopLossPercent float64) strategy.StaticStopOrder {
	return strategy.StaticStopOrder{
		StopPrice: currentPrice * (1 - defaultStopLossPercent/100),
		OrderType: model.OrderTypeStop,
	}
}
