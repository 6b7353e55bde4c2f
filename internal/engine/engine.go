// Package engine implements the per-symbol position state machine: it turns
// orders into fills, tracks the open position and applies risk exits.
package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"stratlab/internal/domain"
)

// ErrInsufficientCash is returned when an entry cannot be paid for.
var ErrInsufficientCash = errors.New("insufficient cash")

// Account holds the cash shared by every Engine of one simulation.
type Account struct {
	Cash float64
}

// StepResult describes what happened to one symbol on one bar.
type StepResult struct {
	// Closed is the trade closed on this bar, if any.
	Closed *domain.Trade
	// Opened reports whether a new position was entered on this bar.
	Opened bool
	// Rejected is set when an order was refused, e.g. for lack of cash.
	Rejected error
}

// Engine owns the position of a single symbol. It is not safe for
// concurrent use; the simulation loop drives it sequentially.
type Engine struct {
	symbol     string
	costs      Costs
	allowShort bool
	risk       *RiskManager

	pos      domain.Position
	entryFee float64
}

// NewEngine creates a flat Engine for symbol.
func NewEngine(symbol string, costs Costs, allowShort bool, risk *RiskManager) *Engine {
	if risk == nil {
		risk = &RiskManager{}
	}
	return &Engine{
		symbol:     symbol,
		costs:      costs,
		allowShort: allowShort,
		risk:       risk,
		pos:        domain.Position{Symbol: symbol},
	}
}

// Position returns a copy of the current position.
func (e *Engine) Position() domain.Position { return e.pos }

// Value marks the position to price: the holding value for longs, the
// locked margin plus unrealised P&L for shorts.
func (e *Engine) Value(price float64) float64 {
	switch {
	case e.pos.Qty > 0:
		return e.pos.Qty * price
	case e.pos.Qty < 0:
		return e.pos.Margin + (e.pos.EntryPrice-price)*-e.pos.Qty
	}
	return 0
}

// Step advances the engine by one bar. Risk exits are checked first against
// bar; if none fires, order (produced on the previous bar, may be nil) is
// executed. allocation is the notional used to size orders without an
// explicit quantity.
func (e *Engine) Step(acct *Account, bar domain.Bar, order *domain.Order, allocation float64) StepResult {
	var res StepResult

	if !e.pos.IsFlat() {
		if price, reason, ok := e.risk.CheckExit(&e.pos, bar); ok {
			res.Closed = e.close(acct, bar.Timestamp, price, reason)
			return res
		}
	}
	if order == nil {
		return res
	}

	price, ok := ExecutionPrice(*order, bar)
	if !ok {
		return res
	}

	if !e.pos.IsFlat() {
		held := domain.OrderSideBuy
		if e.pos.Qty < 0 {
			held = domain.OrderSideSell
		}
		if order.Side == held {
			return res
		}
		res.Closed = e.close(acct, bar.Timestamp, price, domain.ExitReasonSignal)
	}

	res.Opened, res.Rejected = e.open(acct, *order, price, bar.Timestamp, allocation)
	return res
}

func (e *Engine) open(acct *Account, order domain.Order, price float64, ts time.Time, allocation float64) (bool, error) {
	if order.Side == domain.OrderSideSell && !e.allowShort {
		return false, nil
	}

	fill := e.costs.Slipped(price, order.Side)
	if fill <= 0 {
		return false, fmt.Errorf("%s: non-positive fill price %v", e.symbol, fill)
	}
	perUnit := fill * (1 + e.costs.Commission)

	qty := order.Qty
	if qty == 0 {
		qty = math.Min(allocation/fill, acct.Cash/perUnit)
		if qty <= 0 {
			return false, fmt.Errorf("%s: %w for automatic size (cash %.2f)", e.symbol, ErrInsufficientCash, acct.Cash)
		}
	} else if qty*perUnit > acct.Cash {
		return false, fmt.Errorf("%s: %w for %v units at %.4f (cash %.2f)", e.symbol, ErrInsufficientCash, qty, fill, acct.Cash)
	}

	notional := qty * fill
	fee := e.costs.Fee(qty, fill)
	acct.Cash -= notional + fee

	e.pos = domain.Position{
		Symbol:     e.symbol,
		Qty:        qty,
		EntryPrice: fill,
		EntryTime:  ts,
	}
	if order.Side == domain.OrderSideSell {
		e.pos.Qty = -qty
		e.pos.Margin = notional
	}
	e.entryFee = fee
	e.risk.Arm(&e.pos)
	return true, nil
}

func (e *Engine) close(acct *Account, ts time.Time, price float64, reason domain.ExitReason) *domain.Trade {
	p := e.pos
	qty := math.Abs(p.Qty)

	var fill, gross float64
	side := p.Side()
	if side == domain.PositionSideLong {
		fill = e.costs.Slipped(price, domain.OrderSideSell)
		gross = (fill - p.EntryPrice) * qty
		acct.Cash += qty * fill
	} else {
		fill = e.costs.Slipped(price, domain.OrderSideBuy)
		gross = (p.EntryPrice - fill) * qty
		acct.Cash += p.Margin + gross
	}
	fee := e.costs.Fee(qty, fill)
	acct.Cash -= fee

	pnl := gross - fee - e.entryFee
	trade := &domain.Trade{
		Symbol:     e.symbol,
		Side:       side,
		EntryTime:  p.EntryTime,
		ExitTime:   ts,
		EntryPrice: p.EntryPrice,
		ExitPrice:  fill,
		Qty:        qty,
		PnL:        pnl,
		ReturnPct:  pnl / (p.EntryPrice * qty),
		ExitReason: reason,
	}

	e.pos = domain.Position{Symbol: e.symbol}
	e.entryFee = 0
	return trade
}
