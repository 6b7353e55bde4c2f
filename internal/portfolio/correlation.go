package portfolio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"stratlab/internal/domain"
)

// CorrelationMatrix holds the pairwise Pearson correlation of daily returns
// over Symbols, in the same order. The diagonal is exactly 1.
type CorrelationMatrix struct {
	Symbols []string
	Matrix  *mat.SymDense
	// Excluded lists symbols dropped for having too few observations.
	Excluded []string
}

// At returns the correlation of a and b.
func (c *CorrelationMatrix) At(a, b string) (float64, bool) {
	i, j := c.index(a), c.index(b)
	if i < 0 || j < 0 {
		return 0, false
	}
	return c.Matrix.At(i, j), true
}

func (c *CorrelationMatrix) index(sym string) int {
	for i, s := range c.Symbols {
		if s == sym {
			return i
		}
	}
	return -1
}

// Correlation computes the correlation matrix of the daily returns of bars.
// Symbols with fewer than MinObservations returns are excluded; each pair is
// correlated over the dates both symbols have, and a pair with fewer than
// two common dates or zero variance correlates at 0.
func (m *Manager) Correlation(bars map[string][]domain.Bar) (*CorrelationMatrix, error) {
	symbols, series := returnsFor(bars, m.minObservations)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbol has %d returns", ErrInsufficientData, m.minObservations)
	}

	n := len(symbols)
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		corr.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			x, y := pairwise(series[symbols[i]], series[symbols[j]])
			corr.SetSym(i, j, pearson(x, y))
		}
	}

	var excluded []string
	for _, sym := range sortedKeys(bars) {
		if _, ok := series[sym]; !ok {
			excluded = append(excluded, sym)
		}
	}
	if len(excluded) > 0 {
		m.log.Warn("correlation: excluded symbols", "symbols", excluded, "min_observations", m.minObservations)
	}
	return &CorrelationMatrix{Symbols: symbols, Matrix: corr, Excluded: excluded}, nil
}

func pearson(x, y []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
