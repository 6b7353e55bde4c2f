package engine

import (
	"math"

	"stratlab/internal/domain"
)

// ExecutionPrice returns the raw price at which order executes on bar, and
// false when a limit or stop trigger is not reached within the bar's range.
// Market orders fill at the open. A triggered limit never fills worse than its
// price: a bar that opens through the limit fills at the open. A triggered
// stop fills at the worse of the trigger and the open.
func ExecutionPrice(order domain.Order, bar domain.Bar) (float64, bool) {
	if order.Type == domain.OrderTypeMarket {
		return bar.Open, true
	}

	var triggered bool
	switch {
	case order.Type == domain.OrderTypeLimit && order.Side == domain.OrderSideBuy,
		order.Type == domain.OrderTypeStop && order.Side == domain.OrderSideSell:
		triggered = bar.Low <= order.Price
	case order.Type == domain.OrderTypeLimit && order.Side == domain.OrderSideSell,
		order.Type == domain.OrderTypeStop && order.Side == domain.OrderSideBuy:
		triggered = bar.High >= order.Price
	}
	if !triggered {
		return 0, false
	}
	// Limits take the better of trigger and open, stops the worse.
	if (order.Side == domain.OrderSideBuy) == (order.Type == domain.OrderTypeStop) {
		return math.Max(order.Price, bar.Open), true
	}
	return math.Min(order.Price, bar.Open), true
}

// Costs holds the proportional trading costs applied to every fill.
type Costs struct {
	Commission float64
	Slippage   float64
}

// Slipped moves price against a trader on side.
func (c Costs) Slipped(price float64, side domain.OrderSide) float64 {
	if side == domain.OrderSideBuy {
		return price * (1 + c.Slippage)
	}
	return price * (1 - c.Slippage)
}

// Fee returns the commission charged on a fill of qty at price.
func (c Costs) Fee(qty, price float64) float64 {
	return qty * price * c.Commission
}
