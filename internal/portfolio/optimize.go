package portfolio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"stratlab/internal/domain"
)

// minWeight is the smallest weight kept after optimization.
const minWeight = 1e-4

// OptimizeWeights returns long-only weights summing to 1 that maximise the
// ratio of expected daily return to daily volatility. Means and covariances
// are estimated from returns on the dates every qualifying symbol shares.
func (m *Manager) OptimizeWeights(bars map[string][]domain.Bar) (map[string]float64, error) {
	mo, err := m.moments(bars)
	if err != nil {
		return nil, err
	}
	if len(mo.symbols) == 1 {
		return map[string]float64{mo.symbols[0]: 1}, nil
	}

	w := make([]float64, len(mo.symbols))
	weights, err := m.solve(len(mo.symbols), func(z []float64) float64 {
		softmax(w, z)
		return -sharpe(w, mo.mu, mo.cov)
	})
	if err != nil {
		return nil, err
	}
	return mo.weightMap(weights), nil
}

// moments holds the mean daily returns and their covariance for symbols.
type moments struct {
	symbols []string
	mu      []float64
	cov     *mat.SymDense
}

func (m *Manager) moments(bars map[string][]domain.Bar) (*moments, error) {
	symbols, series := returnsFor(bars, m.minObservations)
	switch len(symbols) {
	case 0:
		return nil, fmt.Errorf("%w: no symbol has %d returns", ErrInsufficientData, m.minObservations)
	case 1:
		sd := stat.StdDev(series[symbols[0]].values, nil)
		return &moments{
			symbols: symbols,
			mu:      []float64{stat.Mean(series[symbols[0]].values, nil)},
			cov:     mat.NewSymDense(1, []float64{sd * sd}),
		}, nil
	}

	dates := commonDates(symbols, series)
	if len(dates) < 2 {
		return nil, fmt.Errorf("%w: %d common return dates", ErrInsufficientData, len(dates))
	}

	n := len(symbols)
	x := mat.NewDense(len(dates), n, nil)
	for j, sym := range symbols {
		rs := series[sym]
		for i, ts := range dates {
			x.Set(i, j, rs.byDate[ts.UnixNano()])
		}
	}
	mu := make([]float64, n)
	for j := range mu {
		mu[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}
	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, x, nil)
	return &moments{symbols: symbols, mu: mu, cov: cov}, nil
}

func (mo *moments) weightMap(weights []float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for i, sym := range mo.symbols {
		out[sym] = weights[i]
	}
	return out
}

// solve minimises objective over softmax parameters starting from equal
// weights and returns the weights, with those below minWeight zeroed.
func (m *Manager) solve(n int, objective func(z []float64) float64) ([]float64, error) {
	res, err := optimize.Minimize(
		optimize.Problem{Func: objective},
		make([]float64, n),
		&optimize.Settings{
			MajorIterations: 5000,
			Converger:       &optimize.FunctionConverge{Absolute: 1e-12, Iterations: 200},
		},
		&optimize.NelderMead{},
	)
	if res == nil {
		return nil, fmt.Errorf("optimizing weights: %w", err)
	}
	if err != nil {
		m.log.Warn("optimizer stopped early", "error", err, "status", res.Status)
	}

	weights := make([]float64, n)
	softmax(weights, res.X)
	for i, v := range weights {
		if v < minWeight {
			weights[i] = 0
		}
	}
	floats.Scale(1/floats.Sum(weights), weights)
	return weights, nil
}

// RiskParityWeights returns weights proportional to the inverse volatility
// of each symbol's daily returns. Symbols with zero volatility are skipped.
func (m *Manager) RiskParityWeights(bars map[string][]domain.Bar) (map[string]float64, error) {
	symbols, series := returnsFor(bars, m.minObservations)
	inv := make(map[string]float64, len(symbols))
	var total float64
	for _, sym := range symbols {
		sd := stat.StdDev(series[sym].values, nil)
		if sd == 0 || math.IsNaN(sd) {
			continue
		}
		inv[sym] = 1 / sd
		total += 1 / sd
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: no symbol with non-zero volatility", ErrInsufficientData)
	}
	for sym, v := range inv {
		inv[sym] = v / total
	}
	return inv, nil
}

// softmax writes the softmax of z into dst.
func softmax(dst, z []float64) {
	peak := floats.Max(z)
	var sum float64
	for i, v := range z {
		dst[i] = math.Exp(v - peak)
		sum += dst[i]
	}
	floats.Scale(1/sum, dst)
}

func sharpe(w, mu []float64, cov *mat.SymDense) float64 {
	v := variance(w, cov)
	if v <= 0 {
		return 0
	}
	return floats.Dot(w, mu) / math.Sqrt(v)
}
