package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/stat"

	"stratlab/internal/domain"
	"stratlab/internal/strategy"
)

// WalkForwardConfig sizes the rolling windows of WalkForward in calendar
// slots (trading days).
type WalkForwardConfig struct {
	TrainBars int
	TestBars  int
	StepBars  int
	Workers   int
}

// DefaultWalkForwardConfig trains on a year, tests on the following quarter
// and rolls forward a month at a time.
func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{TrainBars: 252, TestBars: 63, StepBars: 21}
}

// WalkForwardWindow is one train/test split. Err is set when no parameter
// set could be trained or the test run failed; the window then does not
// count towards the averages.
type WalkForwardWindow struct {
	TrainStart, TrainEnd time.Time
	TestStart, TestEnd   time.Time

	Params      map[string]float64
	TrainSharpe float64

	Return      float64
	Sharpe      float64
	MaxDrawdown float64
	Err         error
}

// WalkForwardResult aggregates the out-of-sample windows. Consistency is the
// fraction of evaluated windows with a positive test return.
type WalkForwardResult struct {
	Windows     []WalkForwardWindow
	Evaluated   int
	AvgReturn   float64
	AvgSharpe   float64
	Consistency float64
}

// WalkForward rolls train/test windows over the unified calendar of bars. On
// each training window it sweeps grid and keeps the parameter set with the
// highest Sharpe ratio, the earliest on ties; that set is then backtested on
// the test window that immediately follows. The test run only sees bars of
// its own window.
func WalkForward(ctx context.Context, cfg Config, bars map[string][]domain.Bar, name string, factory strategy.Factory, grid []map[string]float64, wf WalkForwardConfig, logger *slog.Logger) (*WalkForwardResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if wf.TrainBars < 2 || wf.TestBars < 2 || wf.StepBars < 1 {
		return nil, configErrorf("walk_forward", "train %d, test %d and step %d bars too small", wf.TrainBars, wf.TestBars, wf.StepBars)
	}
	if len(grid) == 0 {
		return nil, configErrorf("grid", "no parameter sets")
	}

	cal := UnifiedCalendar(bars)
	span := wf.TrainBars + wf.TestBars
	if len(cal) < span {
		return nil, fmt.Errorf("%w: %d calendar days, walk-forward needs %d", ErrNoData, len(cal), span)
	}

	res := &WalkForwardResult{}
	var returns, sharpes []float64
	positive := 0
	for start := 0; start+span <= len(cal); start += wf.StepBars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := WalkForwardWindow{
			TrainStart: cal[start],
			TrainEnd:   cal[start+wf.TrainBars-1],
			TestStart:  cal[start+wf.TrainBars],
			TestEnd:    cal[start+span-1],
		}
		log := logger.With("train_start", w.TrainStart.Format(time.DateOnly), "test_start", w.TestStart.Format(time.DateOnly))

		w.Params, w.TrainSharpe, w.Err = bestParams(ctx, cfg, windowBars(bars, w.TrainStart, w.TrainEnd), name, factory, grid, wf.Workers, log)
		if w.Err == nil {
			w.Err = w.test(ctx, cfg, windowBars(bars, w.TestStart, w.TestEnd), factory, log)
		}
		if w.Err != nil {
			log.Warn("walk-forward window skipped", "error", w.Err)
		} else {
			returns = append(returns, w.Return)
			sharpes = append(sharpes, w.Sharpe)
			if w.Return > 0 {
				positive++
			}
		}
		res.Windows = append(res.Windows, w)
	}

	res.Evaluated = len(returns)
	if res.Evaluated > 0 {
		res.AvgReturn = stat.Mean(returns, nil)
		res.AvgSharpe = stat.Mean(sharpes, nil)
		res.Consistency = float64(positive) / float64(res.Evaluated)
	}
	logger.Info("walk-forward complete",
		"windows", len(res.Windows),
		"evaluated", res.Evaluated,
		"avg_return", res.AvgReturn,
		"consistency", res.Consistency,
	)
	return res, nil
}

func (w *WalkForwardWindow) test(ctx context.Context, cfg Config, bars map[string][]domain.Bar, factory strategy.Factory, log *slog.Logger) error {
	s, err := factory(w.Params)
	if err != nil {
		return err
	}
	r, err := New(cfg, log).RunStrategy(ctx, bars, s)
	if err != nil {
		return fmt.Errorf("testing %s: %w", FormatParams(w.Params), err)
	}
	w.Return, w.Sharpe, w.MaxDrawdown = r.TotalReturn, r.SharpeRatio, r.MaxDrawdown
	return nil
}

// bestParams sweeps grid over bars and returns the parameters of the run
// with the highest Sharpe ratio.
func bestParams(ctx context.Context, cfg Config, bars map[string][]domain.Bar, name string, factory strategy.Factory, grid []map[string]float64, workers int, log *slog.Logger) (map[string]float64, float64, error) {
	var (
		best    *JobResult
		lastErr error
	)
	results := Sweep(ctx, cfg, bars, name, factory, grid, workers, log)
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			lastErr = r.Err
			continue
		}
		if best == nil || r.Result.SharpeRatio > best.Result.SharpeRatio {
			best = r
		}
	}
	if best == nil {
		return nil, 0, fmt.Errorf("no parameter set trained: %w", lastErr)
	}
	return best.Params, best.Result.SharpeRatio, nil
}

// windowBars returns the bars of every symbol dated within [from, to].
// Symbols without a bar in the window are left out.
func windowBars(bars map[string][]domain.Bar, from, to time.Time) map[string][]domain.Bar {
	out := make(map[string][]domain.Bar, len(bars))
	for sym, series := range bars {
		var in []domain.Bar
		for _, b := range series {
			if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
				in = append(in, b)
			}
		}
		if len(in) > 0 {
			out[sym] = in
		}
	}
	return out
}
