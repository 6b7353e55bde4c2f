package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidOrder is returned when a signal cannot be turned into an
// executable order.
var ErrInvalidOrder = errors.New("invalid order")

// Signal is one strategy output for one bar. It carries either a legacy
// direction (-1 sell, 0 flat, 1 buy) or a structured Order; a non-nil Order
// takes precedence.
type Signal struct {
	Direction int
	Order     *Order
}

// Hold returns the flat signal.
func Hold() Signal { return Signal{} }

// Buy returns the legacy buy signal.
func Buy() Signal { return Signal{Direction: 1} }

// Sell returns the legacy sell signal.
func Sell() Signal { return Signal{Direction: -1} }

// Direction wraps a legacy tri-state integer.
func Direction(d int) Signal { return Signal{Direction: d} }

// OrderSignal wraps a structured order.
func OrderSignal(o Order) Signal { return Signal{Order: &o} }

// IsHold reports whether the signal asks for no action.
func (s Signal) IsHold() bool { return s.Order == nil && s.Direction == 0 }

// Normalize validates the signal and converts it into an order for symbol.
// It returns (nil, nil) for a flat signal. Legacy directions become market
// orders with automatic sizing. An order without a symbol inherits symbol;
// an order for a different symbol is rejected.
func (s Signal) Normalize(symbol string) (*Order, error) {
	if s.Order == nil {
		switch s.Direction {
		case 0:
			return nil, nil
		case 1:
			return &Order{Symbol: symbol, Side: OrderSideBuy, Type: OrderTypeMarket}, nil
		case -1:
			return &Order{Symbol: symbol, Side: OrderSideSell, Type: OrderTypeMarket}, nil
		default:
			return nil, fmt.Errorf("%w: direction %d not in {-1,0,1}", ErrInvalidOrder, s.Direction)
		}
	}

	o := *s.Order
	if o.Symbol == "" {
		o.Symbol = symbol
	}
	if o.Symbol != symbol {
		return nil, fmt.Errorf("%w: order for %s received while processing %s", ErrInvalidOrder, o.Symbol, symbol)
	}
	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}
	if o.Type == "" {
		o.Type = OrderTypeMarket
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit, OrderTypeStop:
		if o.Price <= 0 {
			return nil, fmt.Errorf("%w: %s order requires a trigger price", ErrInvalidOrder, o.Type)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidOrder, o.Type)
	}
	if o.Qty < 0 {
		return nil, fmt.Errorf("%w: negative quantity %v", ErrInvalidOrder, o.Qty)
	}
	return &o, nil
}
