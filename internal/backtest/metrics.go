package backtest

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"stratlab/internal/domain"
)

// TradingDaysPerYear annualises daily Sharpe ratios.
const TradingDaysPerYear = 252

const daysPerYear = 365.25

// TotalReturn is (final − initial) / initial, 0 for a non-positive initial.
func TotalReturn(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return finite((final - initial) / initial)
}

// DailyReturns returns the period-over-period percentage changes of values.
// A change from a non-positive value counts as 0.
func DailyReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			out[i-1] = finite(values[i]/values[i-1] - 1)
		}
	}
	return out
}

// MaxDrawdown returns the largest peak-to-trough decline of values as a
// non-negative fraction of the peak.
func MaxDrawdown(values []float64) float64 {
	var peak, maxDD float64
	for i, v := range values {
		if i == 0 || v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return finite(maxDD)
}

// SharpeRatio returns the annualised Sharpe ratio of daily returns with a
// zero risk-free rate, using the sample standard deviation. It is 0 for
// fewer than two returns or zero variance.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return finite(math.Sqrt(TradingDaysPerYear) * mean / std)
}

// Years is the calendar span between first and last in years.
func Years(first, last time.Time) float64 {
	return last.Sub(first).Hours() / 24 / daysPerYear
}

// CAGR is the compound annual growth rate that turns initial into final over
// years. It is 0 for a span shorter than a day or a non-positive value.
func CAGR(initial, final, years float64) float64 {
	if initial <= 0 || final <= 0 || years < 1/daysPerYear {
		return 0
	}
	return finite(math.Pow(final/initial, 1/years) - 1)
}

// BuyAndHold is the return of holding from the first close of bars to the
// last.
func BuyAndHold(bars []domain.Bar) float64 {
	if len(bars) == 0 || bars[0].Close <= 0 {
		return 0
	}
	return finite(bars[len(bars)-1].Close/bars[0].Close - 1)
}

// WinRate is the fraction of trades with a positive return.
func WinRate(trades []domain.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.ReturnPct > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// AvgTradeReturn is the mean ReturnPct of trades.
func AvgTradeReturn(trades []domain.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	rets := make([]float64, len(trades))
	for i, t := range trades {
		rets[i] = t.ReturnPct
	}
	return finite(stat.Mean(rets, nil))
}

// ProfitFactor is gross profit over gross loss. It is 0 when there are no
// losing trades.
func ProfitFactor(trades []domain.Trade) float64 {
	var wins, losses []float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			wins = append(wins, t.PnL)
		case t.PnL < 0:
			losses = append(losses, -t.PnL)
		}
	}
	grossLoss := floats.Sum(losses)
	if grossLoss == 0 {
		return 0
	}
	return finite(floats.Sum(wins) / grossLoss)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
