package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"stratlab/internal/domain"
	"stratlab/internal/gather"
	"stratlab/internal/store"
	"stratlab/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*DailyBarGatherer)(nil)
var _ BarFetcher = (*marketdata.Client)(nil)

// BarFetcher is the subset of the Alpaca market data client used by
// DailyBarGatherer.
type BarFetcher interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// NewMarketDataClient creates an Alpaca market data client. An empty dataURL
// uses the SDK default.
func NewMarketDataClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// ---------------------------------------------------------------------------
// DailyBarGatherer
// ---------------------------------------------------------------------------

// DailyBarOptions configures a DailyBarGatherer.
type DailyBarOptions struct {
	Symbols []string
	Range   gather.DateRange
	Feed    string

	BatchSize       int // symbols per API call
	MaxWorkers      int
	RateLimitPerMin int // <= 0 disables pacing
	MaxAttempts     int
	RetryDelay      time.Duration

	// EndDate resolves the last day to fetch when Range.End is zero.
	EndDate func() (time.Time, error)
}

// Summary reports the outcome of the last Run.
type Summary struct {
	Batches       int
	FailedBatches int
	Bars          int64
	Hits          int64 // symbols that returned at least one bar
	Empty         int64 // symbols that returned nothing
}

// DailyBarGatherer fetches daily OHLCV bars for a fixed symbol list from the
// Alpaca market data API and writes them to a BarStore.
type DailyBarGatherer struct {
	fetcher BarFetcher
	store   store.BarStore
	opts    DailyBarOptions
	limiter *rate.Limiter
	log     *slog.Logger

	summary Summary
}

// NewDailyBarGatherer creates a DailyBarGatherer. Zero-valued options fall
// back to one worker, batches of 100 and a single attempt.
func NewDailyBarGatherer(fetcher BarFetcher, s store.BarStore, opts DailyBarOptions, logger *slog.Logger) *DailyBarGatherer {
	if logger == nil {
		logger = slog.Default()
	}
	opts.Symbols = NormalizeSymbols(opts.Symbols)
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	opts.MaxWorkers = max(opts.MaxWorkers, 1)
	opts.MaxAttempts = max(opts.MaxAttempts, 1)
	if opts.Feed == "" {
		opts.Feed = "sip"
	}

	limit := rate.Inf
	if opts.RateLimitPerMin > 0 {
		limit = rate.Limit(float64(opts.RateLimitPerMin) / 60.0)
	}

	return &DailyBarGatherer{
		fetcher: fetcher,
		store:   s,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Summary returns the counters of the last Run.
func (g *DailyBarGatherer) Summary() Summary { return g.summary }

// Run fetches every configured symbol in batches and writes the bars to the
// store. Failed batches are logged and reported together once all batches
// have been attempted.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	if len(g.opts.Symbols) == 0 {
		return errors.New("no symbols to fetch")
	}
	start, end := g.opts.Range.Start, g.opts.Range.End
	if end.IsZero() {
		if g.opts.EndDate == nil {
			end = time.Now().UTC()
		} else {
			var err error
			if end, err = g.opts.EndDate(); err != nil {
				return fmt.Errorf("determining end date: %w", err)
			}
		}
	}
	// Cover the whole final day.
	end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)

	batches := Batches(g.opts.Symbols, g.opts.BatchSize)
	g.summary = Summary{Batches: len(batches)}
	g.log.Info("starting us-daily",
		"symbols", len(g.opts.Symbols),
		"batches", len(batches),
		"start", start.Format(time.DateOnly),
		"end", end.Format(time.DateOnly),
	)

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		failures  []error
		totalBars atomic.Int64
		totalHits atomic.Int64
		totalMiss atomic.Int64
		runStart  = time.Now()
	)

	workers := min(g.opts.MaxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				batch := batches[batchIdx]
				label := fmt.Sprintf("%d/%d", batchIdx+1, len(batches))

				bars, err := g.fetchBatch(ctx, batch, start, end)
				if err == nil && len(bars) > 0 {
					err = g.store.WriteBars(ctx, domain.MarketUS, bars)
				}
				if err != nil {
					g.log.Error("batch failed", "batch", label, "err", err)
					mu.Lock()
					failures = append(failures, fmt.Errorf("batch %s: %w", label, err))
					mu.Unlock()
					continue
				}

				hits := make(map[string]struct{}, len(batch))
				for _, b := range bars {
					hits[b.Symbol] = struct{}{}
				}
				totalBars.Add(int64(len(bars)))
				totalHits.Add(int64(len(hits)))
				totalMiss.Add(int64(len(batch) - len(hits)))

				g.log.Info("batch done",
					"batch", label,
					"bars", len(bars),
					"hits", len(hits),
					"empty", len(batch)-len(hits),
				)
			}
		}()
	}
	wg.Wait()

	g.summary.FailedBatches = len(failures)
	g.summary.Bars = totalBars.Load()
	g.summary.Hits = totalHits.Load()
	g.summary.Empty = totalMiss.Load()

	if err := ctx.Err(); err != nil {
		return err
	}

	g.log.Info("complete",
		"bars", g.summary.Bars,
		"hits", g.summary.Hits,
		"empty", g.summary.Empty,
		"failed", g.summary.FailedBatches,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d batches failed: %w", len(failures), len(batches), errors.Join(failures...))
	}
	return nil
}

// fetchBatch waits for a rate-limit token and fetches one batch, retrying
// transient failures.
func (g *DailyBarGatherer) fetchBatch(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	err := util.Retry(ctx, g.opts.MaxAttempts, g.opts.RetryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		multiBars, err := g.fetcher.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(g.opts.Feed),
		})
		if err != nil {
			return fmt.Errorf("GetMultiBars: %w", err)
		}
		bars = convertBars(multiBars)
		return nil
	})
	return bars, err
}

func convertBars(multiBars map[string][]marketdata.Bar) []domain.Bar {
	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp.UTC(),
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars
}
