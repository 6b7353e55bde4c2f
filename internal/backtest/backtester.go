// Package backtest runs strategies over historical daily bars: it aligns
// every asset on a unified calendar, drives one position engine per asset
// with shared cash and reports the equity curve, trade log and metrics.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"stratlab/internal/domain"
	"stratlab/internal/engine"
	"stratlab/internal/strategy"
)

// Backtester simulates a set of assets under one Config. It holds no state
// between runs and may be used from several goroutines.
type Backtester struct {
	cfg Config
	log *slog.Logger
}

// New creates a Backtester. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Backtester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backtester{cfg: cfg, log: logger}
}

// Config returns the run configuration.
func (b *Backtester) Config() Config { return b.cfg }

// ForAll maps every symbol of bars to s.
func ForAll(s strategy.Strategy, bars map[string][]domain.Bar) map[string]strategy.Strategy {
	out := make(map[string]strategy.Strategy, len(bars))
	for sym := range bars {
		out[sym] = s
	}
	return out
}

type asset struct {
	symbol string
	series AlignedSeries
	orders []*domain.Order // indexed by calendar slot
	eng    *engine.Engine
}

// Run simulates bars with the strategy assigned to each symbol.
//
// Configuration problems, including a symbol without a strategy, return a
// *ConfigError before anything is simulated. A symbol whose bars are empty
// or invalid is excluded and a strategy that fails leaves its symbol flat;
// both are reported in Result.Diagnostics. If no symbol is usable the error
// wraps ErrNoData.
func (b *Backtester) Run(ctx context.Context, bars map[string][]domain.Bar, strategies map[string]strategy.Strategy) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(bars))
	for sym := range bars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	if err := b.cfg.Validate(symbols); err != nil {
		return nil, err
	}
	for _, sym := range symbols {
		if strategies[sym] == nil {
			return nil, configErrorf("strategies", "no strategy for %s", sym)
		}
	}
	risk, err := b.cfg.riskManager()
	if err != nil {
		return nil, &ConfigError{Field: "risk", Err: err}
	}

	var diags []error
	usable := make(map[string][]domain.Bar, len(symbols))
	for _, sym := range symbols {
		clean, err := prepareBars(bars[sym])
		if err != nil {
			diags = b.diagnose(diags, &DataError{Symbol: sym, Err: err})
			continue
		}
		usable[sym] = clean
	}
	if len(usable) == 0 {
		return nil, errors.Join(append([]error{ErrNoData}, diags...)...)
	}

	cal := UnifiedCalendar(usable)
	assets := make([]*asset, 0, len(usable))
	for _, sym := range symbols {
		own, ok := usable[sym]
		if !ok {
			continue
		}
		a := &asset{
			symbol: sym,
			series: Align(cal, own),
			orders: make([]*domain.Order, len(cal)),
			eng:    engine.NewEngine(sym, b.cfg.costs(), b.cfg.AllowShort, risk),
		}
		s := strategies[sym]
		orders, err := strategy.Ingest(ctx, s, sym, own)
		if err != nil {
			diags = b.diagnose(diags, &StrategyError{Symbol: sym, Strategy: s.Name(), Err: err})
		} else {
			for slot, src := range a.series.Source {
				if src >= 0 {
					a.orders[slot] = orders[src]
				}
			}
		}
		assets = append(assets, a)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		InitialCapital: b.cfg.InitialCapital,
		EquityCurve:    make([]EquityPoint, 0, len(cal)),
		Exposure:       make(map[string][]float64, len(assets)),
		Benchmark:      make(map[string]float64, len(assets)),
	}
	for _, a := range assets {
		res.Exposure[a.symbol] = make([]float64, len(cal))
		res.Benchmark[a.symbol] = BuyAndHold(usable[a.symbol])
		res.BenchmarkReturn += res.Benchmark[a.symbol] / float64(len(assets))
	}
	acct := &engine.Account{Cash: b.cfg.InitialCapital}

	// The signal of slot i executes against the bar of slot i+1.
	for i := 0; i < len(cal)-1; i++ {
		value := mark(res, acct, assets, cal, i)
		for _, a := range assets {
			if !a.series.Present[i+1] {
				continue
			}
			step := a.eng.Step(acct, a.series.Bars[i+1], a.orders[i], value*b.cfg.SizeFor(a.symbol))
			if step.Closed != nil {
				res.Trades = append(res.Trades, *step.Closed)
			}
			if step.Rejected != nil {
				diags = b.diagnose(diags, &OrderError{Symbol: a.symbol, Bar: i + 1, Err: step.Rejected})
			}
		}
	}
	mark(res, acct, assets, cal, len(cal)-1)

	res.Diagnostics = diags
	res.Recompute()

	b.log.Debug("backtest complete",
		"assets", len(assets),
		"bars", len(cal),
		"trades", res.TradeCount,
		"total_return", res.TotalReturn,
	)
	return res, nil
}

// RunStrategy simulates every symbol of bars with s.
func (b *Backtester) RunStrategy(ctx context.Context, bars map[string][]domain.Bar, s strategy.Strategy) (*Result, error) {
	return b.Run(ctx, bars, ForAll(s, bars))
}

// mark values cash plus every open position at the close of slot i and
// appends the result to the equity curve.
func mark(res *Result, acct *engine.Account, assets []*asset, cal Calendar, i int) float64 {
	v := acct.Cash
	for _, a := range assets {
		pos := a.eng.Position()
		res.Exposure[a.symbol][i] = pos.Qty
		if !pos.IsFlat() {
			v += a.eng.Value(a.series.Bars[i].Close)
		}
	}
	res.EquityCurve = append(res.EquityCurve, EquityPoint{Timestamp: cal[i], Value: v})
	return v
}

func (b *Backtester) diagnose(diags []error, err error) []error {
	b.log.Warn("backtest diagnostic", "error", err)
	return append(diags, err)
}

func prepareBars(bars []domain.Bar) ([]domain.Bar, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	clean := Sanitize(bars)
	for _, bar := range clean {
		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			return nil, fmt.Errorf("%w: non-positive price on %s", ErrInvalidBar, bar.Timestamp.Format(time.DateOnly))
		}
	}
	return clean, nil
}
