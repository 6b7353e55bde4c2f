package portfolio

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"stratlab/internal/backtest"
	"stratlab/internal/domain"
)

// DefaultFrontierPoints is the number of frontier portfolios computed when
// the caller asks for none.
const DefaultFrontierPoints = 20

// shortfallPenalty weighs a missed target return against variance, both
// normalised, in the frontier objective.
const shortfallPenalty = 1e4

// FrontierPoint is one long-only portfolio on the efficient frontier.
// Returns and volatility are annualised.
type FrontierPoint struct {
	TargetReturn float64
	Return       float64
	Volatility   float64
	Sharpe       float64
	Weights      map[string]float64
}

// EfficientFrontier returns the minimum-variance long-only portfolios for
// points target returns spread evenly between the lowest and the highest
// mean return of the qualifying symbols, lowest target first.
func (m *Manager) EfficientFrontier(bars map[string][]domain.Bar, points int) ([]FrontierPoint, error) {
	if points <= 0 {
		points = DefaultFrontierPoints
	}
	mo, err := m.moments(bars)
	if err != nil {
		return nil, err
	}

	n := len(mo.symbols)
	lo, hi := floats.Min(mo.mu), floats.Max(mo.mu)
	retScale := hi - lo
	if retScale == 0 {
		retScale = 1
	}
	varScale := mat.Trace(mo.cov) / float64(n)
	if varScale <= 0 {
		varScale = 1
	}

	out := make([]FrontierPoint, 0, points)
	w := make([]float64, n)
	for k := 0; k < points; k++ {
		target := lo
		if points > 1 {
			target = lo + (hi-lo)*float64(k)/float64(points-1)
		}

		weights := []float64{1}
		if n > 1 {
			weights, err = m.solve(n, func(z []float64) float64 {
				softmax(w, z)
				short := math.Max(0, target-floats.Dot(w, mo.mu)) / retScale
				return variance(w, mo.cov)/varScale + shortfallPenalty*short*short
			})
			if err != nil {
				return nil, err
			}
		}

		p := FrontierPoint{
			TargetReturn: target * backtest.TradingDaysPerYear,
			Return:       floats.Dot(weights, mo.mu) * backtest.TradingDaysPerYear,
			Volatility:   math.Sqrt(math.Max(variance(weights, mo.cov), 0) * backtest.TradingDaysPerYear),
			Weights:      mo.weightMap(weights),
		}
		if p.Volatility > 0 {
			p.Sharpe = p.Return / p.Volatility
		}
		out = append(out, p)
	}
	return out, nil
}

func variance(w []float64, cov *mat.SymDense) float64 {
	wv := mat.NewVecDense(len(w), w)
	return mat.Inner(wv, cov, wv)
}
