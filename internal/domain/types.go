// Package domain holds the data model shared by the strategy, engine,
// backtest and portfolio packages.
package domain

import "time"

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one OHLCV observation for one symbol at one timestamp (daily).
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType controls how an order is executed against the next bar.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// Order is a structured trading instruction produced by a strategy.
//
// Qty of 0 asks the engine to size the position automatically. Price is the
// trigger price and is required for limit and stop orders.
type Order struct {
	Symbol string
	Side   OrderSide
	Type   OrderType
	Qty    float64
	Price  float64
}

// ---------------------------------------------------------------------------
// Positions and trades
// ---------------------------------------------------------------------------

// PositionSide is the direction of an open position or closed trade.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is the open exposure in one symbol. Qty is signed: positive for
// long, negative for short, zero when flat.
type Position struct {
	Symbol     string
	Qty        float64
	EntryPrice float64
	EntryTime  time.Time

	// HighWaterMark is the most favourable price seen since entry: the
	// highest high for longs, the lowest low for shorts.
	HighWaterMark float64
	// TrailingStop is the current trailing stop level, 0 when unused.
	TrailingStop float64
	// Margin is the cash locked by a short position.
	Margin float64
}

// IsFlat reports whether no position is held.
func (p Position) IsFlat() bool { return p.Qty == 0 }

// Side returns the side of a non-flat position.
func (p Position) Side() PositionSide {
	if p.Qty < 0 {
		return PositionSideShort
	}
	return PositionSideLong
}

// ExitReason records what closed a trade.
type ExitReason string

const (
	ExitReasonSignal       ExitReason = "signal"
	ExitReasonStopLoss     ExitReason = "stop_loss"
	ExitReasonTakeProfit   ExitReason = "take_profit"
	ExitReasonTrailingStop ExitReason = "trailing_stop"
)

// Trade is the immutable record of a closed position.
type Trade struct {
	Symbol     string
	Side       PositionSide
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	PnL        float64 // net of commission on both legs
	ReturnPct  float64 // PnL relative to the entry notional
	ExitReason ExitReason
}
