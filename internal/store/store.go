// Package store defines storage interfaces for daily bar series and finished
// backtest runs, with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"stratlab/internal/backtest"
	"stratlab/internal/domain"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under market, merging with what is
	// already stored.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, market domain.Market, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ReadSeries returns the bars of several symbols within [start, end],
	// each sorted by timestamp. Symbols without data map to an empty series.
	ReadSeries(ctx context.Context, market domain.Market, symbols []string, start, end time.Time) (map[string][]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// RunKind distinguishes the operation that produced a stored run.
type RunKind string

const (
	RunKindBacktest  RunKind = "backtest"
	RunKindPortfolio RunKind = "portfolio"
	RunKindSweep     RunKind = "sweep"
)

// Run is a finished simulation together with what produced it.
type Run struct {
	ID        string
	CreatedAt time.Time
	Kind      RunKind
	Strategy  string
	Symbols   []string
	Params    map[string]float64
	// Result is stored without Exposure; Diagnostics come back as plain
	// error messages.
	Result *backtest.Result
}

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID          string
	CreatedAt   time.Time
	Kind        RunKind
	Strategy    string
	Symbols     []string
	TotalReturn float64
	SharpeRatio float64
	MaxDrawdown float64
	TradeCount  int
}

// ResultStore persists finished runs.
type ResultStore interface {
	// SaveRun stores run and returns its ID, generating one when run.ID is
	// empty.
	SaveRun(ctx context.Context, run *Run) (string, error)

	// GetRun loads a run with its equity curve and trades.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}
