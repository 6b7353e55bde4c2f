package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/domain"
	"stratlab/internal/portfolio"
	"stratlab/internal/store"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

func printSummary(w io.Writer, title string, r *backtest.Result) {
	fmt.Fprintf(w, "== %s ==\n", title)
	tw := newTable(w)
	var first, last string
	if n := len(r.EquityCurve); n > 0 {
		first = r.EquityCurve[0].Timestamp.Format(time.DateOnly)
		last = r.EquityCurve[n-1].Timestamp.Format(time.DateOnly)
	}
	fmt.Fprintf(tw, "period\t%s .. %s\n", first, last)
	fmt.Fprintf(tw, "initial capital\t%.2f\n", r.InitialCapital)
	fmt.Fprintf(tw, "final value\t%.2f\n", r.FinalValue)
	fmt.Fprintf(tw, "total return\t%s\n", pct(r.TotalReturn))
	fmt.Fprintf(tw, "cagr\t%s\n", pct(r.CAGR))
	fmt.Fprintf(tw, "buy & hold return\t%s\n", pct(r.BenchmarkReturn))
	fmt.Fprintf(tw, "buy & hold cagr\t%s\n", pct(r.BenchmarkCAGR))
	fmt.Fprintf(tw, "max drawdown\t%s\n", pct(r.MaxDrawdown))
	fmt.Fprintf(tw, "sharpe ratio\t%.3f\n", r.SharpeRatio)
	fmt.Fprintf(tw, "trades\t%d\n", r.TradeCount)
	fmt.Fprintf(tw, "win rate\t%s\n", pct(r.WinRate))
	fmt.Fprintf(tw, "avg trade return\t%s\n", pct(r.AvgTradeReturn))
	fmt.Fprintf(tw, "profit factor\t%.3f\n", r.ProfitFactor)
	tw.Flush()
}

func printDiagnostics(w io.Writer, diags []error) {
	if len(diags) == 0 {
		return
	}
	fmt.Fprintln(w, "\ndiagnostics:")
	for _, d := range diags {
		fmt.Fprintf(w, "  %v\n", d)
	}
}

func printTrades(w io.Writer, trades []domain.Trade) {
	fmt.Fprintln(w, "\ntrades:")
	tw := newTable(w)
	fmt.Fprintln(tw, "SYMBOL\tSIDE\tENTRY\tEXIT\tQTY\tENTRY PX\tEXIT PX\tPNL\tRETURN\tREASON")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.4f\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
			t.Symbol, t.Side,
			t.EntryTime.Format(time.DateOnly), t.ExitTime.Format(time.DateOnly),
			t.Qty, t.EntryPrice, t.ExitPrice, t.PnL, pct(t.ReturnPct), t.ExitReason)
	}
	tw.Flush()
}

func printWeights(w io.Writer, res *portfolio.Result) {
	fmt.Fprintln(w, "\nallocation:")
	tw := newTable(w)
	fmt.Fprintln(tw, "SYMBOL\tWEIGHT\tRETURN\tSHARPE\tDRAWDOWN\tTRADES")
	symbols := make([]string, 0, len(res.Weights))
	for sym := range res.Weights {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		sub, ok := res.PerAsset[sym]
		if !ok {
			fmt.Fprintf(tw, "%s\t%s\tfailed\t\t\t\n", sym, pct(res.Weights[sym]))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%s\t%d\n",
			sym, pct(res.Weights[sym]), pct(sub.TotalReturn), sub.SharpeRatio, pct(sub.MaxDrawdown), sub.TradeCount)
	}
	tw.Flush()
}

func printCorrelation(w io.Writer, c *portfolio.CorrelationMatrix) {
	fmt.Fprintln(w, "\ncorrelation:")
	tw := newTable(w)
	fmt.Fprintf(tw, "\t%s\n", strings.Join(c.Symbols, "\t"))
	for i, a := range c.Symbols {
		row := make([]string, len(c.Symbols))
		for j := range c.Symbols {
			row[j] = fmt.Sprintf("%.3f", c.Matrix.At(i, j))
		}
		fmt.Fprintf(tw, "%s\t%s\n", a, strings.Join(row, "\t"))
	}
	tw.Flush()
	if len(c.Excluded) > 0 {
		fmt.Fprintf(w, "excluded (too few observations): %s\n", strings.Join(c.Excluded, ", "))
	}
}

func printFailures(w io.Writer, failures map[string]error) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(w, "\nfailed sub-accounts (capital left idle):")
	symbols := make([]string, 0, len(failures))
	for sym := range failures {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		fmt.Fprintf(w, "  %s: %v\n", sym, failures[sym])
	}
}

// printSweep prints ranked sweep results. top <= 0 prints every row.
func printSweep(w io.Writer, ranked []backtest.JobResult, top int) {
	tw := newTable(w)
	fmt.Fprintln(tw, "RANK\tRUN\tRETURN\tSHARPE\tDRAWDOWN\tTRADES\tWIN RATE")
	for i, r := range ranked {
		if top > 0 && i >= top {
			break
		}
		if r.Err != nil {
			fmt.Fprintf(tw, "-\t%s\terror: %v\t\t\t\t\n", r.Name, r.Err)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.3f\t%s\t%d\t%s\n",
			i+1, r.Name, pct(r.Result.TotalReturn), r.Result.SharpeRatio,
			pct(r.Result.MaxDrawdown), r.Result.TradeCount, pct(r.Result.WinRate))
	}
	tw.Flush()
}

func printWalkForward(w io.Writer, res *backtest.WalkForwardResult) {
	tw := newTable(w)
	fmt.Fprintln(tw, "TRAIN\tTEST\tPARAMS\tTRAIN SHARPE\tRETURN\tSHARPE\tDRAWDOWN")
	for _, win := range res.Windows {
		train := win.TrainStart.Format(time.DateOnly) + " .. " + win.TrainEnd.Format(time.DateOnly)
		test := win.TestStart.Format(time.DateOnly) + " .. " + win.TestEnd.Format(time.DateOnly)
		if win.Err != nil {
			fmt.Fprintf(tw, "%s\t%s\terror: %v\t\t\t\t\n", train, test, win.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%s\t%.3f\t%s\n",
			train, test, backtest.FormatParams(win.Params), win.TrainSharpe,
			pct(win.Return), win.Sharpe, pct(win.MaxDrawdown))
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d of %d windows evaluated: avg return %s, avg sharpe %.3f, consistency %s\n",
		res.Evaluated, len(res.Windows), pct(res.AvgReturn), res.AvgSharpe, pct(res.Consistency))
}

func printMonteCarlo(w io.Writer, initial float64, res *backtest.MonteCarloResult) {
	fmt.Fprintf(w, "\nmonte carlo: %d %s paths of %d days from %.2f\n", res.Simulations, res.Sampling, res.Days, initial)
	tw := newTable(w)
	fmt.Fprintf(tw, "mean final value\t%.2f\n", res.MeanFinal)
	fmt.Fprintf(tw, "median final value\t%.2f\n", res.MedianFinal)
	fmt.Fprintf(tw, "5th percentile\t%.2f\n", res.P5Final)
	fmt.Fprintf(tw, "95th percentile\t%.2f\n", res.P95Final)
	fmt.Fprintf(tw, "probability of profit\t%s\n", pct(res.ProbProfit))
	fmt.Fprintf(tw, "value at risk (95%%)\t%s\n", pct(res.VaR95))
	fmt.Fprintf(tw, "mean max drawdown\t%s\n", pct(res.MeanMaxDrawdown))
	tw.Flush()
}

func printFrontier(w io.Writer, points []portfolio.FrontierPoint) {
	if len(points) == 0 {
		return
	}
	symbols := make([]string, 0, len(points[0].Weights))
	for sym := range points[0].Weights {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	tw := newTable(w)
	fmt.Fprintf(tw, "RETURN\tVOLATILITY\tSHARPE\t%s\n", strings.Join(symbols, "\t"))
	for _, p := range points {
		row := make([]string, len(symbols))
		for i, sym := range symbols {
			row[i] = pct(p.Weights[sym])
		}
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\n", pct(p.Return), pct(p.Volatility), p.Sharpe, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func printRuns(w io.Writer, runs []store.RunSummary) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tCREATED\tKIND\tSTRATEGY\tSYMBOLS\tRETURN\tSHARPE\tDRAWDOWN\tTRADES")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.3f\t%s\t%d\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Kind, r.Strategy,
			strings.Join(r.Symbols, ","), pct(r.TotalReturn), r.SharpeRatio, pct(r.MaxDrawdown), r.TradeCount)
	}
	tw.Flush()
}
