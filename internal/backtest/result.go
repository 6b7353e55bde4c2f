package backtest

import (
	"time"

	"stratlab/internal/domain"
)

// EquityPoint is the marked-to-market portfolio value at one calendar slot.
type EquityPoint struct {
	Timestamp time.Time
	Value     float64
}

// Result is the outcome of one simulation run.
type Result struct {
	EquityCurve []EquityPoint
	Trades      []domain.Trade

	InitialCapital float64
	FinalValue     float64
	TotalReturn    float64
	CAGR           float64
	MaxDrawdown    float64
	SharpeRatio    float64
	WinRate        float64
	AvgTradeReturn float64
	TradeCount     int
	ProfitFactor   float64

	// Benchmark holds each symbol's buy-and-hold return over its own bars.
	// BenchmarkReturn is their equal-weighted mean; portfolio results weight
	// them by allocated capital.
	Benchmark       map[string]float64
	BenchmarkReturn float64
	BenchmarkCAGR   float64

	// Exposure holds each symbol's signed quantity at every calendar slot.
	Exposure map[string][]float64

	// Diagnostics lists per-asset problems the run recovered from:
	// *DataError, *StrategyError and *OrderError values.
	Diagnostics []error
}

// Values returns the equity curve values.
func (r *Result) Values() []float64 {
	out := make([]float64, len(r.EquityCurve))
	for i, p := range r.EquityCurve {
		out[i] = p.Value
	}
	return out
}

// DailyReturns returns the returns of the equity curve.
func (r *Result) DailyReturns() []float64 { return DailyReturns(r.Values()) }

// Years is the calendar span of the equity curve in years.
func (r *Result) Years() float64 {
	if len(r.EquityCurve) < 2 {
		return 0
	}
	return Years(r.EquityCurve[0].Timestamp, r.EquityCurve[len(r.EquityCurve)-1].Timestamp)
}

// Recompute derives every summary metric from EquityCurve, Trades,
// InitialCapital and BenchmarkReturn.
func (r *Result) Recompute() {
	values := r.Values()
	r.FinalValue = r.InitialCapital
	if len(values) > 0 {
		r.FinalValue = values[len(values)-1]
	}
	r.TotalReturn = TotalReturn(r.InitialCapital, r.FinalValue)
	years := r.Years()
	r.CAGR = CAGR(r.InitialCapital, r.FinalValue, years)
	r.BenchmarkCAGR = CAGR(1, 1+r.BenchmarkReturn, years)
	r.MaxDrawdown = MaxDrawdown(values)
	r.SharpeRatio = SharpeRatio(DailyReturns(values))
	r.WinRate = WinRate(r.Trades)
	r.AvgTradeReturn = AvgTradeReturn(r.Trades)
	r.TradeCount = len(r.Trades)
	r.ProfitFactor = ProfitFactor(r.Trades)
}
