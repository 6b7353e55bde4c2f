package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"stratlab/internal/backtest"
	"stratlab/internal/domain"
	"stratlab/internal/gather"
	"stratlab/internal/gather/us"
	"stratlab/internal/portfolio"
	"stratlab/internal/store"
	"stratlab/internal/strategy"
)

// ---------------------------------------------------------------------------
// Shared flags
// ---------------------------------------------------------------------------

func symbolsFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "symbols",
		Aliases: []string{"s"},
		Usage:   "comma-separated symbols",
	}
}

func rangeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "start", Usage: "first day, YYYY-MM-DD (defaults to gather.us_daily.start_date)"},
		&cli.StringFlag{Name: "end", Usage: "last day, YYYY-MM-DD (defaults to today)"},
	}
}

func strategyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "strategy", Value: "sma-cross", Usage: "registered strategy name"},
		&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "strategy parameter name=value (repeatable)"},
	}
}

func gridFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "strategy", Value: "sma-cross", Usage: "registered strategy name"},
		&cli.StringSliceFlag{
			Name:  "axis",
			Usage: "parameter axis name=v1:v2:... (repeatable)",
			Value: cli.NewStringSlice("short=5:10:20", "long=50:100:200"),
		},
		&cli.IntFlag{Name: "workers", Usage: "parallel backtests (defaults to GOMAXPROCS)"},
	}
}

func saveFlag() cli.Flag {
	return &cli.BoolFlag{Name: "save", Usage: "persist the run to the SQLite result store"}
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// ---------------------------------------------------------------------------
// fetch
// ---------------------------------------------------------------------------

var fetchCommand = &cli.Command{
	Name:  "fetch",
	Usage: "download daily bars from Alpaca into the Parquet store",
	Flags: withFlags([]cli.Flag{
		symbolsFlag(),
		&cli.StringFlag{Name: "symbols-file", Usage: "CSV file whose first column lists symbols"},
	}, rangeFlags()),
	Action: func(c *cli.Context) error {
		symbols := c.StringSlice("symbols")
		if path := c.String("symbols-file"); path != "" {
			fromFile, err := us.LoadCSVSymbols(path)
			if err != nil {
				return err
			}
			symbols = append(symbols, fromFile...)
		}
		if len(symbols) == 0 {
			symbols = cfg.Gather.USDaily.Symbols
		}

		r, err := dateRange(c)
		if err != nil {
			return err
		}
		var endDate func() (time.Time, error)
		if c.String("end") == "" {
			cal := us.NewCalendarClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
			r.End = time.Time{}
			endDate = func() (time.Time, error) { return us.LatestFinishedTradingDay(cal, time.Now()) }
		}

		job := cfg.Gather.USDaily
		g := us.NewDailyBarGatherer(
			us.NewMarketDataClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
			store.NewParquetStore(cfg.Storage.DataDir),
			us.DailyBarOptions{
				Symbols:         symbols,
				Range:           r,
				Feed:            cfg.Alpaca.Feed,
				BatchSize:       job.BatchSize,
				MaxWorkers:      job.MaxWorkers,
				RateLimitPerMin: job.RateLimitPerMin,
				MaxAttempts:     job.MaxAttempts,
				RetryDelay:      time.Second,
				EndDate:         endDate,
			},
			logger,
		)
		err = g.Run(c.Context)
		sum := g.Summary()
		fmt.Printf("fetched %d bars: %d symbols with data, %d empty, %d/%d batches failed\n",
			sum.Bars, sum.Hits, sum.Empty, sum.FailedBatches, sum.Batches)
		return err
	},
}

// ---------------------------------------------------------------------------
// backtest
// ---------------------------------------------------------------------------

var backtestCommand = &cli.Command{
	Name:  "backtest",
	Usage: "run one strategy over several symbols sharing one cash account",
	Flags: withFlags([]cli.Flag{
		symbolsFlag(),
		saveFlag(),
		&cli.Float64Flag{Name: "capital", Usage: "overrides backtest.initial_capital"},
		&cli.BoolFlag{Name: "trades", Usage: "list every closed trade"},
	}, rangeFlags(), strategyFlags()),
	Action: func(c *cli.Context) error {
		bars, symbols, err := loadBars(c)
		if err != nil {
			return err
		}
		name, params, strategies, err := buildStrategies(c, symbols)
		if err != nil {
			return err
		}

		ecfg := cfg.Backtest.EngineConfig()
		if c.IsSet("capital") {
			ecfg.InitialCapital = c.Float64("capital")
		}
		res, err := backtest.New(ecfg, logger).Run(c.Context, bars, strategies)
		if err != nil {
			return err
		}

		printSummary(os.Stdout, fmt.Sprintf("%s on %d symbols", name, len(symbols)), res)
		printDiagnostics(os.Stdout, res.Diagnostics)
		if c.Bool("trades") {
			printTrades(os.Stdout, res.Trades)
		}
		if c.Bool("save") {
			return saveRun(c.Context, &store.Run{
				Kind:     store.RunKindBacktest,
				Strategy: name,
				Symbols:  symbols,
				Params:   params,
				Result:   res,
			})
		}
		return nil
	},
}

// ---------------------------------------------------------------------------
// portfolio
// ---------------------------------------------------------------------------

var portfolioCommand = &cli.Command{
	Name:  "portfolio",
	Usage: "simulate a weighted portfolio of independent sub-accounts",
	Flags: withFlags([]cli.Flag{
		symbolsFlag(),
		saveFlag(),
		&cli.StringFlag{
			Name:  "weighting",
			Value: "equal",
			Usage: "equal, sharpe, risk-parity or config",
		},
		&cli.StringSliceFlag{Name: "weight", Aliases: []string{"w"}, Usage: "explicit weight SYMBOL=fraction (repeatable, overrides --weighting)"},
		&cli.Float64Flag{Name: "capital", Usage: "overrides portfolio.total_capital"},
	}, rangeFlags(), strategyFlags()),
	Action: func(c *cli.Context) error {
		bars, symbols, err := loadBars(c)
		if err != nil {
			return err
		}
		name, params, strategies, err := buildStrategies(c, symbols)
		if err != nil {
			return err
		}

		opts := portfolio.Options{
			TotalCapital:    cfg.Portfolio.TotalCapital,
			Base:            cfg.Backtest.EngineConfig(),
			Workers:         cfg.Portfolio.Workers,
			MinObservations: cfg.Portfolio.MinObservations,
		}
		if c.IsSet("capital") {
			opts.TotalCapital = c.Float64("capital")
		}
		mgr := portfolio.NewManager(opts, logger)

		weights, err := chooseWeights(c, mgr, bars, symbols)
		if err != nil {
			return err
		}
		res, err := mgr.Simulate(c.Context, bars, strategies, weights)
		if err != nil {
			return err
		}

		printSummary(os.Stdout, fmt.Sprintf("portfolio of %s on %d symbols", name, len(res.Weights)), res.Result)
		printWeights(os.Stdout, res)
		if res.Correlation != nil {
			printCorrelation(os.Stdout, res.Correlation)
		}
		printFailures(os.Stdout, res.Failures)
		if c.Bool("save") {
			return saveRun(c.Context, &store.Run{
				Kind:     store.RunKindPortfolio,
				Strategy: name,
				Symbols:  symbols,
				Params:   params,
				Result:   res.Result,
			})
		}
		return nil
	},
}

func chooseWeights(c *cli.Context, mgr *portfolio.Manager, bars map[string][]domain.Bar, symbols []string) (map[string]float64, error) {
	if explicit := c.StringSlice("weight"); len(explicit) > 0 {
		return parseWeights(explicit)
	}
	switch mode := c.String("weighting"); mode {
	case "equal":
		weights := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			weights[sym] = 1 / float64(len(symbols))
		}
		return weights, nil
	case "sharpe":
		return mgr.OptimizeWeights(bars)
	case "risk-parity":
		return mgr.RiskParityWeights(bars)
	case "config":
		if len(cfg.Portfolio.Weights) == 0 {
			return nil, errors.New("portfolio.weights is empty in the configuration")
		}
		return cfg.Portfolio.Weights, nil
	default:
		return nil, fmt.Errorf("unknown weighting %q", mode)
	}
}

// ---------------------------------------------------------------------------
// sweep
// ---------------------------------------------------------------------------

var sweepCommand = &cli.Command{
	Name:  "sweep",
	Usage: "backtest a grid of strategy parameters in parallel",
	Flags: withFlags([]cli.Flag{
		symbolsFlag(),
		&cli.IntFlag{Name: "top", Value: 10, Usage: "rows to print, best Sharpe first (0 prints all)"},
		&cli.BoolFlag{Name: "save-best", Usage: "persist the best run to the SQLite result store"},
	}, rangeFlags(), gridFlags()),
	Action: func(c *cli.Context) error {
		bars, symbols, err := loadBars(c)
		if err != nil {
			return err
		}
		name, factory, grid, err := sweepGrid(c)
		if err != nil {
			return err
		}

		results := backtest.Sweep(c.Context, cfg.Backtest.EngineConfig(), bars, name,
			factory, grid, c.Int("workers"), logger)
		if err := c.Context.Err(); err != nil {
			return err
		}

		ranked := rankSweep(results)
		printSweep(os.Stdout, ranked, c.Int("top"))

		if c.Bool("save-best") && len(ranked) > 0 && ranked[0].Err == nil {
			return saveRun(c.Context, &store.Run{
				Kind:     store.RunKindSweep,
				Strategy: name,
				Symbols:  symbols,
				Params:   ranked[0].Params,
				Result:   ranked[0].Result,
			})
		}
		return nil
	},
}

// rankSweep orders successful runs by Sharpe ratio, best first, followed by
// failed ones in grid order.
func rankSweep(results []backtest.JobResult) []backtest.JobResult {
	ranked := append([]backtest.JobResult(nil), results...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if (a.Err == nil) != (b.Err == nil) {
			return a.Err == nil
		}
		if a.Err != nil {
			return false
		}
		return a.Result.SharpeRatio > b.Result.SharpeRatio
	})
	return ranked
}

// ---------------------------------------------------------------------------
// walkforward
// ---------------------------------------------------------------------------

var walkForwardCommand = &cli.Command{
	Name:  "walkforward",
	Usage: "re-fit a parameter grid on rolling training windows and test out of sample",
	Flags: withFlags([]cli.Flag{
		symbolsFlag(),
		&cli.IntFlag{Name: "train", Value: backtest.DefaultWalkForwardConfig().TrainBars, Usage: "training window in trading days"},
		&cli.IntFlag{Name: "test", Value: backtest.DefaultWalkForwardConfig().TestBars, Usage: "test window in trading days"},
		&cli.IntFlag{Name: "step", Value: backtest.DefaultWalkForwardConfig().StepBars, Usage: "trading days between window starts"},
	}, rangeFlags(), gridFlags()),
	Action: func(c *cli.Context) error {
		bars, _, err := loadBars(c)
		if err != nil {
			return err
		}
		name, factory, grid, err := sweepGrid(c)
		if err != nil {
			return err
		}

		wf := backtest.WalkForwardConfig{
			TrainBars: c.Int("train"),
			TestBars:  c.Int("test"),
			StepBars:  c.Int("step"),
			Workers:   c.Int("workers"),
		}
		res, err := backtest.WalkForward(c.Context, cfg.Backtest.EngineConfig(), bars, name, factory, grid, wf, logger)
		if err != nil {
			return err
		}
		printWalkForward(os.Stdout, res)
		return nil
	},
}

// ---------------------------------------------------------------------------
// montecarlo
// ---------------------------------------------------------------------------

var monteCarloCommand = &cli.Command{
	Name:  "montecarlo",
	Usage: "backtest a strategy, then simulate paths drawn from its daily returns",
	Flags: withFlags([]cli.Flag{
		symbolsFlag(),
		&cli.IntFlag{Name: "simulations", Value: backtest.DefaultMonteCarloConfig().Simulations, Usage: "number of simulated paths"},
		&cli.IntFlag{Name: "days", Value: backtest.DefaultMonteCarloConfig().Days, Usage: "trading days per path"},
		&cli.StringFlag{Name: "sampling", Value: string(backtest.SamplingBootstrap), Usage: "bootstrap or normal"},
		&cli.Uint64Flag{Name: "seed", Value: backtest.DefaultMonteCarloConfig().Seed, Usage: "random seed"},
	}, rangeFlags(), strategyFlags()),
	Action: func(c *cli.Context) error {
		bars, symbols, err := loadBars(c)
		if err != nil {
			return err
		}
		name, _, strategies, err := buildStrategies(c, symbols)
		if err != nil {
			return err
		}

		ecfg := cfg.Backtest.EngineConfig()
		res, err := backtest.New(ecfg, logger).Run(c.Context, bars, strategies)
		if err != nil {
			return err
		}
		printSummary(os.Stdout, fmt.Sprintf("%s on %d symbols", name, len(symbols)), res)

		mc, err := backtest.MonteCarlo(c.Context, res.DailyReturns(), ecfg.InitialCapital, backtest.MonteCarloConfig{
			Simulations: c.Int("simulations"),
			Days:        c.Int("days"),
			Sampling:    backtest.Sampling(c.String("sampling")),
			Seed:        c.Uint64("seed"),
		})
		if err != nil {
			return err
		}
		printMonteCarlo(os.Stdout, ecfg.InitialCapital, mc)
		return nil
	},
}

// ---------------------------------------------------------------------------
// frontier
// ---------------------------------------------------------------------------

var frontierCommand = &cli.Command{
	Name:  "frontier",
	Usage: "trace the long-only efficient frontier of the symbols' daily returns",
	Flags: withFlags([]cli.Flag{
		symbolsFlag(),
		&cli.IntFlag{Name: "points", Value: portfolio.DefaultFrontierPoints, Usage: "portfolios on the frontier"},
	}, rangeFlags()),
	Action: func(c *cli.Context) error {
		bars, _, err := loadBars(c)
		if err != nil {
			return err
		}
		mgr := portfolio.NewManager(portfolio.Options{
			TotalCapital:    cfg.Portfolio.TotalCapital,
			Base:            cfg.Backtest.EngineConfig(),
			MinObservations: cfg.Portfolio.MinObservations,
		}, logger)

		points, err := mgr.EfficientFrontier(bars, c.Int("points"))
		if err != nil {
			return err
		}
		printFrontier(os.Stdout, points)
		return nil
	},
}

// ---------------------------------------------------------------------------
// runs
// ---------------------------------------------------------------------------

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "inspect saved runs",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "list saved runs, newest first",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum rows (0 lists all)"},
			},
			Action: func(c *cli.Context) error {
				rs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
				if err != nil {
					return err
				}
				defer rs.Close()

				runs, err := rs.ListRuns(c.Context, c.Int("limit"))
				if err != nil {
					return err
				}
				printRuns(os.Stdout, runs)
				return nil
			},
		},
		{
			Name:      "show",
			Usage:     "print a saved run",
			ArgsUsage: "RUN_ID",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "trades", Usage: "list every closed trade"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return cli.ShowSubcommandHelp(c)
				}
				rs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
				if err != nil {
					return err
				}
				defer rs.Close()

				run, err := rs.GetRun(c.Context, c.Args().First())
				if err != nil {
					return err
				}
				title := fmt.Sprintf("%s %s %s %v", run.ID, run.Kind, run.Strategy, run.Symbols)
				printSummary(os.Stdout, title, run.Result)
				printDiagnostics(os.Stdout, run.Result.Diagnostics)
				if c.Bool("trades") {
					printTrades(os.Stdout, run.Result.Trades)
				}
				return nil
			},
		},
	},
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// dateRange reads --start and --end, falling back to the gather start date
// and today.
func dateRange(c *cli.Context) (gather.DateRange, error) {
	start := c.String("start")
	if start == "" {
		start = cfg.Gather.USDaily.StartDate
	}
	r, err := gather.ParseDateRange(start, c.String("end"))
	if err != nil {
		return r, err
	}
	if r.End.IsZero() {
		now := time.Now().UTC()
		r.End = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return r, nil
}

// loadBars reads the requested symbols' bars from the Parquet store.
func loadBars(c *cli.Context) (map[string][]domain.Bar, []string, error) {
	symbols := us.NormalizeSymbols(c.StringSlice("symbols"))
	if len(symbols) == 0 {
		return nil, nil, errors.New("no symbols given (use --symbols)")
	}
	r, err := dateRange(c)
	if err != nil {
		return nil, nil, err
	}

	bars, err := store.NewParquetStore(cfg.Storage.DataDir).ReadSeries(
		c.Context, domain.MarketUS, symbols, r.Start, r.End.AddDate(0, 0, 1).Add(-time.Nanosecond))
	if err != nil {
		return nil, nil, fmt.Errorf("reading bars: %w", err)
	}
	for _, sym := range symbols {
		if len(bars[sym]) == 0 {
			logger.Warn("no stored bars", "symbol", sym, "start", r.Start.Format(time.DateOnly))
		}
	}
	return bars, symbols, nil
}

// buildStrategies creates one instance of the chosen strategy per symbol.
func buildStrategies(c *cli.Context, symbols []string) (string, map[string]float64, map[string]strategy.Strategy, error) {
	name := c.String("strategy")
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return "", nil, nil, err
	}

	reg := newRegistry()
	out := make(map[string]strategy.Strategy, len(symbols))
	for _, sym := range symbols {
		s, ok, err := reg.Get(name, params)
		if !ok {
			return "", nil, nil, fmt.Errorf("unknown strategy %q (have %v)", name, reg.List())
		}
		if err != nil {
			return "", nil, nil, fmt.Errorf("strategy %s: %w", name, err)
		}
		out[sym] = s
	}
	return name, params, out, nil
}

// sweepGrid resolves --strategy into a factory and --axis into a parameter
// grid.
func sweepGrid(c *cli.Context) (string, strategy.Factory, []map[string]float64, error) {
	axes, err := parseAxes(c.StringSlice("axis"))
	if err != nil {
		return "", nil, nil, err
	}

	reg := newRegistry()
	name := c.String("strategy")
	if _, ok, _ := reg.Get(name, nil); !ok {
		return "", nil, nil, fmt.Errorf("unknown strategy %q (have %v)", name, reg.List())
	}
	factory := func(params map[string]float64) (strategy.Strategy, error) {
		s, _, err := reg.Get(name, params)
		return s, err
	}
	return name, factory, backtest.ParamGrid(axes), nil
}

func saveRun(ctx context.Context, run *store.Run) error {
	rs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer rs.Close()

	id, err := rs.SaveRun(ctx, run)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	fmt.Printf("saved run %s\n", id)
	return nil
}
