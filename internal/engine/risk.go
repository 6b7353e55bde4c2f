package engine

import (
	"fmt"

	"stratlab/internal/domain"
)

// RiskManager evaluates the price-based exits of an open position: trailing
// stop, take profit and stop loss, in that order of precedence. A nil
// threshold disables that exit.
type RiskManager struct {
	stopLossPct     *float64
	takeProfitPct   *float64
	trailingStopPct *float64
}

// NewRiskManager creates a RiskManager with the specified thresholds.
//
//   - stopLossPct: adverse move from entry that closes the position
//     (e.g. 0.05 for 5%).
//   - takeProfitPct: favourable move from entry that closes the position.
//   - trailingStopPct: retracement from the best price since entry that
//     closes the position.
func NewRiskManager(stopLossPct, takeProfitPct, trailingStopPct *float64) (*RiskManager, error) {
	thresholds := []struct {
		name string
		v    *float64
	}{
		{"stop loss", stopLossPct},
		{"take profit", takeProfitPct},
		{"trailing stop", trailingStopPct},
	}
	for _, th := range thresholds {
		if th.v != nil && (*th.v <= 0 || *th.v >= 1) {
			return nil, fmt.Errorf("%s %v outside (0,1)", th.name, *th.v)
		}
	}
	return &RiskManager{
		stopLossPct:     stopLossPct,
		takeProfitPct:   takeProfitPct,
		trailingStopPct: trailingStopPct,
	}, nil
}

// Arm initialises the trailing state of a freshly opened position.
func (rm *RiskManager) Arm(pos *domain.Position) {
	pos.HighWaterMark = pos.EntryPrice
	pos.TrailingStop = 0
	if rm.trailingStopPct == nil {
		return
	}
	if pos.Qty > 0 {
		pos.TrailingStop = pos.EntryPrice * (1 - *rm.trailingStopPct)
	} else {
		pos.TrailingStop = pos.EntryPrice * (1 + *rm.trailingStopPct)
	}
}

// CheckExit updates the trailing state of pos with bar and reports whether a
// risk exit fires on it. The returned price is the raw fill before
// slippage: the exit level, or the bar's open when the bar gapped through
// the level.
//
// The high-water mark (the low-water mark for shorts) takes in the bar's own
// extreme before the trigger is tested, so a bar that runs up and then falls
// through the raised level exits at its open when the open is already past
// that level.
func (rm *RiskManager) CheckExit(pos *domain.Position, bar domain.Bar) (float64, domain.ExitReason, bool) {
	if pos.IsFlat() {
		return 0, "", false
	}
	if pos.Qty > 0 {
		return rm.checkLong(pos, bar)
	}
	return rm.checkShort(pos, bar)
}

func (rm *RiskManager) checkLong(pos *domain.Position, bar domain.Bar) (float64, domain.ExitReason, bool) {
	if rm.trailingStopPct != nil {
		if bar.High > pos.HighWaterMark {
			pos.HighWaterMark = bar.High
		}
		if level := pos.HighWaterMark * (1 - *rm.trailingStopPct); level > pos.TrailingStop {
			pos.TrailingStop = level
		}
		if bar.Low <= pos.TrailingStop {
			return fillBelow(bar.Open, pos.TrailingStop), domain.ExitReasonTrailingStop, true
		}
	}
	if rm.takeProfitPct != nil {
		target := pos.EntryPrice * (1 + *rm.takeProfitPct)
		if bar.High >= target {
			return fillAbove(bar.Open, target), domain.ExitReasonTakeProfit, true
		}
	}
	if rm.stopLossPct != nil {
		level := pos.EntryPrice * (1 - *rm.stopLossPct)
		if bar.Low <= level {
			return fillBelow(bar.Open, level), domain.ExitReasonStopLoss, true
		}
	}
	return 0, "", false
}

func (rm *RiskManager) checkShort(pos *domain.Position, bar domain.Bar) (float64, domain.ExitReason, bool) {
	if rm.trailingStopPct != nil {
		if bar.Low < pos.HighWaterMark {
			pos.HighWaterMark = bar.Low
		}
		if level := pos.HighWaterMark * (1 + *rm.trailingStopPct); level < pos.TrailingStop {
			pos.TrailingStop = level
		}
		if bar.High >= pos.TrailingStop {
			return fillAbove(bar.Open, pos.TrailingStop), domain.ExitReasonTrailingStop, true
		}
	}
	if rm.takeProfitPct != nil {
		target := pos.EntryPrice * (1 - *rm.takeProfitPct)
		if bar.Low <= target {
			return fillBelow(bar.Open, target), domain.ExitReasonTakeProfit, true
		}
	}
	if rm.stopLossPct != nil {
		level := pos.EntryPrice * (1 + *rm.stopLossPct)
		if bar.High >= level {
			return fillAbove(bar.Open, level), domain.ExitReasonStopLoss, true
		}
	}
	return 0, "", false
}

// fillBelow prices an exit at a level the market fell through: the open if
// the bar opened below it, else the level.
func fillBelow(open, level float64) float64 {
	if open < level {
		return open
	}
	return level
}

// fillAbove prices an exit at a level the market rose through.
func fillAbove(open, level float64) float64 {
	if open > level {
		return open
	}
	return level
}
