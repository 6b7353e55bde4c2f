package portfolio

import (
	"math"
	"sort"
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/domain"
)

// returnSeries holds the daily close-to-close returns of one asset, keyed by
// the date of the later bar.
type returnSeries struct {
	dates  []time.Time
	values []float64
	byDate map[int64]float64
}

func newReturnSeries(bars []domain.Bar) returnSeries {
	clean := backtest.Sanitize(bars)
	rs := returnSeries{byDate: make(map[int64]float64, len(clean))}
	for i := 1; i < len(clean); i++ {
		prev := clean[i-1].Close
		if prev <= 0 {
			continue
		}
		r := clean[i].Close/prev - 1
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		ts := clean[i].Timestamp
		rs.dates = append(rs.dates, ts)
		rs.values = append(rs.values, r)
		rs.byDate[ts.UnixNano()] = r
	}
	return rs
}

func (rs returnSeries) len() int { return len(rs.values) }

// returnsFor computes return series for every symbol with at least minObs
// observations. It returns the qualifying symbols sorted.
func returnsFor(bars map[string][]domain.Bar, minObs int) ([]string, map[string]returnSeries) {
	series := make(map[string]returnSeries, len(bars))
	symbols := make([]string, 0, len(bars))
	for sym, b := range bars {
		rs := newReturnSeries(b)
		if rs.len() < minObs {
			continue
		}
		series[sym] = rs
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, series
}

// pairwise returns the returns of a and b on the dates both have.
func pairwise(a, b returnSeries) (x, y []float64) {
	for i, ts := range a.dates {
		if v, ok := b.byDate[ts.UnixNano()]; ok {
			x = append(x, a.values[i])
			y = append(y, v)
		}
	}
	return x, y
}

// commonDates returns the dates present in every series, sorted.
func commonDates(symbols []string, series map[string]returnSeries) []time.Time {
	if len(symbols) == 0 {
		return nil
	}
	var out []time.Time
	for _, ts := range series[symbols[0]].dates {
		key := ts.UnixNano()
		all := true
		for _, sym := range symbols[1:] {
			if _, ok := series[sym].byDate[key]; !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, ts)
		}
	}
	return out
}
