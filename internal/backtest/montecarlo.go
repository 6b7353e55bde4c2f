package backtest

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Sampling selects how Monte Carlo paths draw their daily returns.
type Sampling string

const (
	// SamplingBootstrap draws historical daily returns with replacement.
	SamplingBootstrap Sampling = "bootstrap"
	// SamplingNormal draws from a normal distribution with the historical
	// mean and sample standard deviation.
	SamplingNormal Sampling = "normal"
)

// MonteCarloConfig configures MonteCarlo. Zero values take the defaults of
// DefaultMonteCarloConfig.
type MonteCarloConfig struct {
	Simulations int
	Days        int
	Sampling    Sampling
	Seed        uint64
}

// DefaultMonteCarloConfig returns 1000 one-year bootstrap paths.
func DefaultMonteCarloConfig() MonteCarloConfig {
	return MonteCarloConfig{
		Simulations: 1000,
		Days:        TradingDaysPerYear,
		Sampling:    SamplingBootstrap,
		Seed:        1,
	}
}

// MonteCarloResult summarises the simulated final values. VaR95 is the 5th
// percentile of the simulated total return, so a loss shows as a negative
// number.
type MonteCarloResult struct {
	Simulations int
	Days        int
	Sampling    Sampling

	MeanFinal   float64
	MedianFinal float64
	P5Final     float64
	P95Final    float64
	ProbProfit  float64
	VaR95       float64

	MeanMaxDrawdown float64
	// FinalValues holds every path's final value in ascending order.
	FinalValues []float64
}

// MonteCarlo simulates cfg.Simulations paths of cfg.Days daily returns drawn
// from returns, each starting at initial. The same Seed gives the same
// result.
func MonteCarlo(ctx context.Context, returns []float64, initial float64, cfg MonteCarloConfig) (*MonteCarloResult, error) {
	def := DefaultMonteCarloConfig()
	if cfg.Simulations <= 0 {
		cfg.Simulations = def.Simulations
	}
	if cfg.Days <= 0 {
		cfg.Days = def.Days
	}
	if cfg.Sampling == "" {
		cfg.Sampling = def.Sampling
	}
	if initial <= 0 {
		return nil, configErrorf("initial_capital", "must be positive, got %v", initial)
	}
	if len(returns) < 2 {
		return nil, fmt.Errorf("%w: %d daily returns to resample", ErrNoData, len(returns))
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	var draw func() float64
	switch cfg.Sampling {
	case SamplingBootstrap:
		draw = func() float64 { return returns[rng.IntN(len(returns))] }
	case SamplingNormal:
		mean, std := stat.MeanStdDev(returns, nil)
		draw = func() float64 { return mean + std*rng.NormFloat64() }
	default:
		return nil, configErrorf("sampling", "unknown method %q", cfg.Sampling)
	}

	finals := make([]float64, cfg.Simulations)
	drawdowns := make([]float64, cfg.Simulations)
	path := make([]float64, cfg.Days+1)
	var profitable int
	for i := range finals {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		path[0] = initial
		for d := 1; d <= cfg.Days; d++ {
			path[d] = math.Max(path[d-1]*(1+draw()), 0)
		}
		finals[i] = path[cfg.Days]
		drawdowns[i] = MaxDrawdown(path)
		if finals[i] > initial {
			profitable++
		}
	}
	sort.Float64s(finals)

	res := &MonteCarloResult{
		Simulations:     cfg.Simulations,
		Days:            cfg.Days,
		Sampling:        cfg.Sampling,
		MeanFinal:       stat.Mean(finals, nil),
		MedianFinal:     stat.Quantile(0.5, stat.Empirical, finals, nil),
		P5Final:         stat.Quantile(0.05, stat.Empirical, finals, nil),
		P95Final:        stat.Quantile(0.95, stat.Empirical, finals, nil),
		ProbProfit:      float64(profitable) / float64(cfg.Simulations),
		MeanMaxDrawdown: stat.Mean(drawdowns, nil),
		FinalValues:     finals,
	}
	res.VaR95 = TotalReturn(initial, res.P5Final)
	return res, nil
}
