package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath(domain.MarketUS, "aapl", 2024)

	wantBarPath := filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}
	if !strings.Contains(bp, "AAPL") {
		t.Errorf("barPath should upper-case the symbol: %s", bp)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     50000000,
			TradeCount: 500000,
			VWAP:       185.25,
		},
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:       185.5,
			High:       187.0,
			Low:        185.0,
			Close:      186.0,
			Volume:     45000000,
			TradeCount: 450000,
			VWAP:       185.75,
		},
	}

	if err := ps.WriteBars(ctx, domain.MarketUS, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, domain.MarketUS, "AAPL", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 {
		t.Errorf("first bar Close = %v, want 185.5", got[0].Close)
	}
	if got[1].Close != 186.0 {
		t.Errorf("second bar Close = %v, want 186.0", got[1].Close)
	}
	if !got[0].Timestamp.Equal(bars[0].Timestamp) || got[0].Timestamp.Location() != time.UTC {
		t.Errorf("first bar Timestamp = %v, want %v in UTC", got[0].Timestamp, bars[0].Timestamp)
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars1 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 403.0,
			Volume: 30000000, TradeCount: 300000, VWAP: 402.0,
		},
	}
	if err := ps.WriteBars(ctx, domain.MarketUS, bars1); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// A second write for the same symbol+year merges; a repeated timestamp
	// replaces the stored bar.
	bars2 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			Open:      403.0, High: 410.0, Low: 402.0, Close: 408.0,
			Volume: 35000000, TradeCount: 350000, VWAP: 406.0,
		},
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 404.0,
			Volume: 30000000, TradeCount: 300000, VWAP: 402.0,
		},
	}
	if err := ps.WriteBars(ctx, domain.MarketUS, bars2); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, domain.MarketUS, "MSFT", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404.0 {
		t.Errorf("merged bar Close = %v, want 404", got[0].Close)
	}
}

func TestParquetStoreReadSeries(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1},
		{Symbol: "AAPL", Timestamp: time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC), Open: 2, High: 2, Low: 2, Close: 2},
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 3, High: 3, Low: 3, Close: 3},
	}
	if err := ps.WriteBars(ctx, domain.MarketUS, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	series, err := ps.ReadSeries(ctx, domain.MarketUS, []string{"AAPL", "GOOGL", "NONE"}, start, end)
	if err != nil {
		t.Fatalf("ReadSeries: %v", err)
	}
	if len(series["AAPL"]) != 2 {
		t.Fatalf("AAPL has %d bars, want 2", len(series["AAPL"]))
	}
	if series["AAPL"][0].Close != 2 {
		t.Errorf("AAPL first Close = %v, want 2 (sorted across years)", series["AAPL"][0].Close)
	}
	if len(series["GOOGL"]) != 1 {
		t.Errorf("GOOGL has %d bars, want 1", len(series["GOOGL"]))
	}
	if got, ok := series["NONE"]; !ok || len(got) != 0 {
		t.Errorf("NONE = %v (present %v), want empty series", got, ok)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 185.0, High: 186.0, Low: 184.0, Close: 185.5, Volume: 50000000},
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 140.0, High: 141.0, Low: 139.0, Close: 140.5, Volume: 20000000},
	}
	if err := ps.WriteBars(ctx, domain.MarketUS, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, domain.MarketUS)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("ListSymbols returned %d symbols, want 2", len(symbols))
	}
	if symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}

	none, err := ps.ListSymbols(ctx, domain.MarketCN)
	if err != nil || none != nil {
		t.Errorf("ListSymbols(cn) = %v, %v; want nil, nil", none, err)
	}
}

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return store
}

func TestSQLiteStoreOpen(t *testing.T) {
	store := openTestDB(t)
	if err := store.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func sampleResult() *backtest.Result {
	d0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	r := &backtest.Result{
		InitialCapital: 1000,
		EquityCurve: []backtest.EquityPoint{
			{Timestamp: d0, Value: 1000},
			{Timestamp: d0.AddDate(0, 0, 1), Value: 1010},
			{Timestamp: d0.AddDate(0, 0, 2), Value: 990},
		},
		Trades: []domain.Trade{{
			Symbol: "AAPL", Side: domain.PositionSideLong,
			EntryTime: d0.AddDate(0, 0, 1), ExitTime: d0.AddDate(0, 0, 2),
			EntryPrice: 101, ExitPrice: 99, Qty: 5, PnL: -10, ReturnPct: -10.0 / 505.0,
			ExitReason: domain.ExitReasonStopLoss,
		}},
		Diagnostics:     []error{errors.New("data MSFT: empty bar series")},
		BenchmarkReturn: 0.02,
	}
	r.Recompute()
	return r
}

func TestSQLiteStoreSaveGetRun(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	in := &Run{
		Kind:     RunKindBacktest,
		Strategy: "sma-cross",
		Symbols:  []string{"AAPL", "MSFT"},
		Params:   map[string]float64{"short": 5, "long": 20},
		Result:   sampleResult(),
	}
	id, err := store.SaveRun(ctx, in)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id == "" {
		t.Fatal("SaveRun returned empty id")
	}

	got, err := store.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Strategy != "sma-cross" || got.Kind != RunKindBacktest {
		t.Errorf("GetRun = %s/%s, want sma-cross/backtest", got.Strategy, got.Kind)
	}
	if len(got.Symbols) != 2 || got.Symbols[1] != "MSFT" {
		t.Errorf("Symbols = %v, want [AAPL MSFT]", got.Symbols)
	}
	if got.Params["long"] != 20 {
		t.Errorf("Params[long] = %v, want 20", got.Params["long"])
	}
	r := got.Result
	if r.TotalReturn != in.Result.TotalReturn {
		t.Errorf("TotalReturn = %v, want %v", r.TotalReturn, in.Result.TotalReturn)
	}
	if r.CAGR != in.Result.CAGR || r.BenchmarkReturn != 0.02 {
		t.Errorf("CAGR, BenchmarkReturn = %v, %v, want %v, 0.02", r.CAGR, r.BenchmarkReturn, in.Result.CAGR)
	}
	if math.Abs(r.BenchmarkCAGR-in.Result.BenchmarkCAGR) > 1e-12 {
		t.Errorf("BenchmarkCAGR = %v, want %v", r.BenchmarkCAGR, in.Result.BenchmarkCAGR)
	}
	if len(r.EquityCurve) != 3 || r.EquityCurve[2].Value != 990 {
		t.Errorf("EquityCurve = %v, want 3 points ending at 990", r.EquityCurve)
	}
	if !r.EquityCurve[1].Timestamp.Equal(in.Result.EquityCurve[1].Timestamp) {
		t.Errorf("EquityCurve[1].Timestamp = %v, want %v", r.EquityCurve[1].Timestamp, in.Result.EquityCurve[1].Timestamp)
	}
	if len(r.Trades) != 1 || r.Trades[0].ExitReason != domain.ExitReasonStopLoss {
		t.Errorf("Trades = %+v, want one stop-loss trade", r.Trades)
	}
	if len(r.Diagnostics) != 1 || r.Diagnostics[0].Error() != "data MSFT: empty bar series" {
		t.Errorf("Diagnostics = %v", r.Diagnostics)
	}
}

func TestSQLiteStoreGetRunNotFound(t *testing.T) {
	store := openTestDB(t)
	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun error = %v, want ErrRunNotFound", err)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, strategy := range []string{"first", "second", "third"} {
		_, err := store.SaveRun(ctx, &Run{
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Kind:      RunKindSweep,
			Strategy:  strategy,
			Symbols:   []string{"AAPL"},
			Result:    sampleResult(),
		})
		if err != nil {
			t.Fatalf("SaveRun(%s): %v", strategy, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d runs, want 2", len(runs))
	}
	if runs[0].Strategy != "third" || runs[1].Strategy != "second" {
		t.Errorf("ListRuns order = [%s %s], want [third second]", runs[0].Strategy, runs[1].Strategy)
	}
	if runs[0].TradeCount != 1 {
		t.Errorf("TradeCount = %d, want 1", runs[0].TradeCount)
	}

	all, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns(0): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(0) returned %d runs, want 3", len(all))
	}
}
