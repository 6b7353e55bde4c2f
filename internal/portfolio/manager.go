// Package portfolio combines single-asset backtests into a weighted
// portfolio and analyses the assets' return correlation and optimal
// weights.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/domain"
	"stratlab/internal/strategy"
)

// DefaultMinObservations is the default number of daily returns an asset
// needs to take part in correlation and optimization.
const DefaultMinObservations = 20

// weightTolerance absorbs rounding in user-supplied weights.
const weightTolerance = 1e-9

// ErrInsufficientData is returned when too few returns are available.
var ErrInsufficientData = errors.New("insufficient return observations")

// Options configures a Manager.
type Options struct {
	TotalCapital float64
	// Base is the run configuration of every sub-account. Its capital and
	// position sizes are replaced per asset.
	Base            backtest.Config
	Workers         int
	MinObservations int
}

// Manager runs portfolio-level analyses. It is stateless between calls.
type Manager struct {
	totalCapital    float64
	base            backtest.Config
	workers         int
	minObservations int
	log             *slog.Logger
}

// NewManager creates a Manager. A nil logger uses slog.Default().
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinObservations <= 0 {
		opts.MinObservations = DefaultMinObservations
	}
	return &Manager{
		totalCapital:    opts.TotalCapital,
		base:            opts.Base,
		workers:         opts.Workers,
		minObservations: opts.MinObservations,
		log:             logger,
	}
}

// Result is the outcome of a portfolio simulation.
type Result struct {
	// Result aggregates every sub-account plus idle cash.
	*backtest.Result

	PerAsset    map[string]*backtest.Result
	Weights     map[string]float64
	Correlation *CorrelationMatrix
	// Failures holds the error of each sub-account that could not run.
	// Its capital stays idle.
	Failures map[string]error
}

// ValidateWeights checks that every weight is in [0,1] and that they sum to
// at most 1.
func ValidateWeights(weights map[string]float64) error {
	var sum float64
	for _, sym := range sortedKeys(weights) {
		w := weights[sym]
		if math.IsNaN(w) || w < 0 || w > 1 {
			return &backtest.ConfigError{Field: "weights." + sym, Err: fmt.Errorf("must be in [0,1], got %v", w)}
		}
		sum += w
	}
	if sum > 1+weightTolerance {
		return &backtest.ConfigError{Field: "weights", Err: fmt.Errorf("sum %v exceeds 1", sum)}
	}
	if sum == 0 {
		return &backtest.ConfigError{Field: "weights", Err: errors.New("no positive weight")}
	}
	return nil
}

// Simulate runs one backtest per weighted symbol, each in its own
// sub-account holding TotalCapital × weight and investing it fully, and sums
// the sub-account equity curves with the unallocated cash. The sub-accounts
// run in parallel.
func (m *Manager) Simulate(ctx context.Context, bars map[string][]domain.Bar, strategies map[string]strategy.Strategy, weights map[string]float64) (*Result, error) {
	if m.totalCapital <= 0 {
		return nil, &backtest.ConfigError{Field: "total_capital", Err: fmt.Errorf("must be positive, got %v", m.totalCapital)}
	}
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}

	var jobs []backtest.Job
	capital := make(map[string]float64)
	for _, sym := range sortedKeys(weights) {
		w := weights[sym]
		if w == 0 {
			continue
		}
		s := strategies[sym]
		if s == nil {
			return nil, &backtest.ConfigError{Field: "strategies", Err: fmt.Errorf("no strategy for weighted symbol %s", sym)}
		}
		capital[sym] = m.totalCapital * w
		cfg := m.base.WithCapital(capital[sym], 1.0)
		if err := cfg.Validate([]string{sym}); err != nil {
			return nil, err
		}
		jobs = append(jobs, backtest.Job{
			Name:       sym,
			Config:     cfg,
			Bars:       map[string][]domain.Bar{sym: bars[sym]},
			Strategies: map[string]strategy.Strategy{sym: s},
		})
	}

	results := backtest.RunBatch(ctx, jobs, m.workers, m.log)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Result{
		PerAsset: make(map[string]*backtest.Result, len(results)),
		Weights:  make(map[string]float64, len(results)),
		Failures: make(map[string]error),
	}
	var failures []error
	for _, r := range results {
		out.Weights[r.Name] = weights[r.Name]
		if r.Err != nil {
			out.Failures[r.Name] = r.Err
			failures = append(failures, fmt.Errorf("%s: %w", r.Name, r.Err))
			m.log.Warn("portfolio sub-account failed", "symbol", r.Name, "error", r.Err)
			continue
		}
		out.PerAsset[r.Name] = r.Result
	}
	if len(out.PerAsset) == 0 {
		return nil, errors.Join(append([]error{backtest.ErrNoData}, failures...)...)
	}

	out.Result = m.aggregate(out.PerAsset, capital)

	weighted := make(map[string][]domain.Bar, len(out.PerAsset))
	for sym := range out.PerAsset {
		weighted[sym] = bars[sym]
	}
	if len(weighted) >= 2 {
		corr, err := m.Correlation(weighted)
		if err != nil {
			m.log.Warn("portfolio correlation unavailable", "error", err)
		}
		out.Correlation = corr
	}

	m.log.Info("portfolio simulated",
		"assets", len(out.PerAsset),
		"failed", len(out.Failures),
		"total_return", out.TotalReturn,
		"max_drawdown", out.MaxDrawdown,
	)
	return out, nil
}

// aggregate sums per-asset equity curves on the union of their timestamps.
// Before an asset's first point its value is its allocated capital; after
// its last it carries its last value forward.
func (m *Manager) aggregate(perAsset map[string]*backtest.Result, capital map[string]float64) *backtest.Result {
	symbols := sortedKeys(perAsset)

	seen := make(map[int64]time.Time)
	idle := m.totalCapital
	for _, sym := range symbols {
		idle -= capital[sym]
		for _, p := range perAsset[sym].EquityCurve {
			seen[p.Timestamp.UnixNano()] = p.Timestamp
		}
	}
	if idle < 0 {
		idle = 0
	}
	cal := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		cal = append(cal, ts)
	}
	sort.Slice(cal, func(i, j int) bool { return cal[i].Before(cal[j]) })

	agg := &backtest.Result{
		InitialCapital: m.totalCapital,
		EquityCurve:    make([]backtest.EquityPoint, len(cal)),
		Exposure:       make(map[string][]float64, len(symbols)),
		Benchmark:      make(map[string]float64, len(symbols)),
	}
	for i, ts := range cal {
		agg.EquityCurve[i] = backtest.EquityPoint{Timestamp: ts, Value: idle}
	}

	for _, sym := range symbols {
		r := perAsset[sym]
		j := -1
		exposure := make([]float64, len(cal))
		for i, ts := range cal {
			for j+1 < len(r.EquityCurve) && !r.EquityCurve[j+1].Timestamp.After(ts) {
				j++
			}
			if j < 0 {
				agg.EquityCurve[i].Value += capital[sym]
				continue
			}
			agg.EquityCurve[i].Value += r.EquityCurve[j].Value
			exposure[i] = r.Exposure[sym][j]
		}
		agg.Exposure[sym] = exposure
		agg.Benchmark[sym] = r.BenchmarkReturn
		agg.BenchmarkReturn += r.BenchmarkReturn * capital[sym] / m.totalCapital
		agg.Trades = append(agg.Trades, r.Trades...)
		agg.Diagnostics = append(agg.Diagnostics, r.Diagnostics...)
	}
	sort.SliceStable(agg.Trades, func(i, j int) bool {
		return agg.Trades[i].ExitTime.Before(agg.Trades[j].ExitTime)
	})

	agg.Recompute()
	return agg
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
