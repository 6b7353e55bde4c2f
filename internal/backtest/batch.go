package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"stratlab/internal/domain"
	"stratlab/internal/strategy"
)

// Job is one independent backtest of a batch.
type Job struct {
	Name       string
	Config     Config
	Bars       map[string][]domain.Bar
	Strategies map[string]strategy.Strategy
	// Params records the strategy parameters of sweep jobs.
	Params map[string]float64
}

// JobResult is the outcome of one Job. Exactly one of Result and Err is set.
type JobResult struct {
	Name   string
	Params map[string]float64
	Result *Result
	Err    error
}

// RunBatch runs jobs on a pool of workers (GOMAXPROCS when workers <= 0)
// and returns one JobResult per job, in job order. Jobs share nothing, so a
// failing job does not affect the others. When ctx is cancelled, jobs that
// have not started yet are abandoned with ctx.Err().
func RunBatch(ctx context.Context, jobs []Job, workers int, logger *slog.Logger) []JobResult {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]JobResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, job := range jobs {
		results[i].Name = job.Name
		results[i].Params = job.Params
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			res, err := New(job.Config, logger.With("job", job.Name)).Run(ctx, job.Bars, job.Strategies)
			results[i].Result, results[i].Err = res, err
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.Info("batch complete", "jobs", len(jobs), "failed", failed, "workers", workers)
	return results
}

// ParamGrid returns the cartesian product of axes, ordered by parameter
// name and then by the order of each axis' values.
func ParamGrid(axes map[string][]float64) []map[string]float64 {
	names := make([]string, 0, len(axes))
	for name := range axes {
		names = append(names, name)
	}
	sort.Strings(names)

	grid := []map[string]float64{{}}
	for _, name := range names {
		next := make([]map[string]float64, 0, len(grid)*len(axes[name]))
		for _, base := range grid {
			for _, v := range axes[name] {
				p := make(map[string]float64, len(base)+1)
				for k, bv := range base {
					p[k] = bv
				}
				p[name] = v
				next = append(next, p)
			}
		}
		grid = next
	}
	return grid
}

// Sweep backtests factory over every parameter set of grid with cfg and
// bars. Parameter sets the factory rejects are reported in their JobResult
// without being run.
func Sweep(ctx context.Context, cfg Config, bars map[string][]domain.Bar, name string, factory strategy.Factory, grid []map[string]float64, workers int, logger *slog.Logger) []JobResult {
	var (
		jobs     []Job
		rejected []JobResult
		order    []int // position of each job or rejection in the output
	)
	for _, params := range grid {
		label := name + "(" + FormatParams(params) + ")"
		s, err := factory(params)
		if err != nil {
			order = append(order, -len(rejected)-1)
			rejected = append(rejected, JobResult{Name: label, Params: params, Err: fmt.Errorf("building %s: %w", label, err)})
			continue
		}
		order = append(order, len(jobs))
		jobs = append(jobs, Job{
			Name:       label,
			Config:     cfg,
			Bars:       bars,
			Strategies: ForAll(s, bars),
			Params:     params,
		})
	}

	ran := RunBatch(ctx, jobs, workers, logger)
	out := make([]JobResult, len(order))
	for i, idx := range order {
		if idx >= 0 {
			out[i] = ran[idx]
		} else {
			out[i] = rejected[-idx-1]
		}
	}
	return out
}

// FormatParams renders params as "a=1,b=2" in name order.
func FormatParams(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.FormatFloat(params[k], 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
