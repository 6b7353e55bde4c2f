package us

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stratlab/internal/domain"
	"stratlab/internal/gather"
	"stratlab/internal/store"
)

// fakeFetcher serves bars for known symbols and fails the first failN calls.
type fakeFetcher struct {
	mu    sync.Mutex
	bars  map[string][]marketdata.Bar
	calls [][]string
	failN int
}

func (f *fakeFetcher) GetMultiBars(symbols []string, _ marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), symbols...))
	if f.failN > 0 {
		f.failN--
		return nil, errors.New("503 service unavailable")
	}
	out := make(map[string][]marketdata.Bar)
	for _, s := range symbols {
		if b, ok := f.bars[s]; ok {
			out[s] = b
		}
	}
	return out, nil
}

func day(d int) time.Time { return time.Date(2024, 1, d, 5, 0, 0, 0, time.UTC) }

func newFake() *fakeFetcher {
	return &fakeFetcher{bars: map[string][]marketdata.Bar{
		"AAPL": {
			{Timestamp: day(2), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000, TradeCount: 10, VWAP: 100.2},
			{Timestamp: day(3), Open: 100.5, High: 102, Low: 100, Close: 101, Volume: 1200, TradeCount: 12, VWAP: 101},
		},
		"MSFT": {
			{Timestamp: day(2), Open: 300, High: 305, Low: 299, Close: 304, Volume: 500, TradeCount: 5, VWAP: 302},
		},
	}}
}

func TestDailyBarGathererName(t *testing.T) {
	g := NewDailyBarGatherer(newFake(), nil, DailyBarOptions{}, nil)
	if got := g.Name(); got != "us-daily" {
		t.Errorf("DailyBarGatherer.Name() = %q, want %q", got, "us-daily")
	}
}

func TestDailyBarGathererRun(t *testing.T) {
	fetcher := newFake()
	s := store.NewParquetStore(t.TempDir())
	g := NewDailyBarGatherer(fetcher, s, DailyBarOptions{
		Symbols:    []string{"aapl", "MSFT", "ZZZZ", "AAPL"},
		Range:      gather.DateRange{Start: day(1), End: day(5)},
		BatchSize:  2,
		MaxWorkers: 2,
	}, nil)

	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(fetcher.calls) != 2 {
		t.Fatalf("GetMultiBars called %d times, want 2", len(fetcher.calls))
	}
	var batchSizes []int
	for _, c := range fetcher.calls {
		batchSizes = append(batchSizes, len(c))
	}
	sort.Ints(batchSizes)
	if batchSizes[0] != 1 || batchSizes[1] != 2 {
		t.Errorf("batch sizes = %v, want [1 2]", batchSizes)
	}

	sum := g.Summary()
	if sum.Bars != 3 || sum.Hits != 2 || sum.Empty != 1 || sum.FailedBatches != 0 {
		t.Errorf("Summary = %+v, want 3 bars, 2 hits, 1 empty, 0 failed", sum)
	}

	bars, err := s.ReadBars(context.Background(), domain.MarketUS, "AAPL", day(1), day(5))
	if err != nil {
		t.Fatalf("ReadBars returned error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(bars))
	}
	if bars[1].Close != 101 || bars[1].Volume != 1200 {
		t.Errorf("bars[1] = %+v, want close 101 volume 1200", bars[1])
	}
}

func TestDailyBarGathererRetries(t *testing.T) {
	fetcher := newFake()
	fetcher.failN = 2
	g := NewDailyBarGatherer(fetcher, store.NewParquetStore(t.TempDir()), DailyBarOptions{
		Symbols:     []string{"AAPL"},
		Range:       gather.DateRange{Start: day(1), End: day(5)},
		MaxAttempts: 3,
	}, nil)

	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(fetcher.calls) != 3 {
		t.Errorf("GetMultiBars called %d times, want 3", len(fetcher.calls))
	}
}

func TestDailyBarGathererReportsFailedBatches(t *testing.T) {
	fetcher := newFake()
	fetcher.failN = 10
	g := NewDailyBarGatherer(fetcher, store.NewParquetStore(t.TempDir()), DailyBarOptions{
		Symbols:     []string{"AAPL", "MSFT"},
		Range:       gather.DateRange{Start: day(1), End: day(5)},
		BatchSize:   1,
		MaxAttempts: 2,
	}, nil)

	if err := g.Run(context.Background()); err == nil {
		t.Fatal("Run returned nil error with every batch failing")
	}
	if got := g.Summary().FailedBatches; got != 2 {
		t.Errorf("FailedBatches = %d, want 2", got)
	}
}

func TestDailyBarGathererEndDate(t *testing.T) {
	called := false
	g := NewDailyBarGatherer(newFake(), store.NewParquetStore(t.TempDir()), DailyBarOptions{
		Symbols: []string{"AAPL"},
		Range:   gather.DateRange{Start: day(1)},
		EndDate: func() (time.Time, error) {
			called = true
			return day(3), nil
		},
	}, nil)

	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !called {
		t.Error("EndDate was not consulted for an open-ended range")
	}
}

func TestDailyBarGathererNoSymbols(t *testing.T) {
	g := NewDailyBarGatherer(newFake(), nil, DailyBarOptions{Symbols: []string{" ", ""}}, nil)
	if err := g.Run(context.Background()); err == nil {
		t.Fatal("Run returned nil error without symbols")
	}
}

// fakeCalendar returns a fixed list of trading days.
type fakeCalendar []string

func (c fakeCalendar) GetCalendar(alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	days := make([]alpaca.CalendarDay, len(c))
	for i, d := range c {
		days[i] = alpaca.CalendarDay{Date: d}
	}
	return days, nil
}

func TestLatestFinishedTradingDay(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cal := fakeCalendar{"2024-01-08", "2024-01-09", "2024-01-10"}

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"before cutoff", time.Date(2024, 1, 10, 15, 0, 0, 0, et), "2024-01-09"},
		{"after cutoff", time.Date(2024, 1, 10, 21, 0, 0, 0, et), "2024-01-10"},
		{"weekend", time.Date(2024, 1, 13, 12, 0, 0, 0, et), "2024-01-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LatestFinishedTradingDay(cal, tt.now)
			if err != nil {
				t.Fatalf("LatestFinishedTradingDay returned error: %v", err)
			}
			if got.Format(time.DateOnly) != tt.want {
				t.Errorf("LatestFinishedTradingDay = %s, want %s", got.Format(time.DateOnly), tt.want)
			}
		})
	}
}

func TestLatestFinishedTradingDayEmpty(t *testing.T) {
	if _, err := LatestFinishedTradingDay(fakeCalendar{}, time.Now()); err == nil {
		t.Fatal("LatestFinishedTradingDay returned nil error for an empty calendar")
	}
}
