package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stratlab/internal/backtest"
	"stratlab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	created_at       INTEGER NOT NULL,
	kind             TEXT NOT NULL,
	strategy         TEXT NOT NULL,
	symbols          TEXT NOT NULL,
	params           TEXT NOT NULL,
	initial_capital  REAL NOT NULL,
	final_value      REAL NOT NULL,
	total_return     REAL NOT NULL,
	cagr             REAL NOT NULL,
	benchmark_return REAL NOT NULL,
	max_drawdown     REAL NOT NULL,
	sharpe_ratio     REAL NOT NULL,
	win_rate         REAL NOT NULL,
	avg_trade_return REAL NOT NULL,
	trade_count      INTEGER NOT NULL,
	profit_factor    REAL NOT NULL,
	diagnostics      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at);

CREATE TABLE IF NOT EXISTS run_trades (
	run_id      TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	entry_time  INTEGER NOT NULL,
	exit_time   INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	qty         REAL NOT NULL,
	pnl         REAL NOT NULL,
	return_pct  REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS run_equity (
	run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	seq    INTEGER NOT NULL,
	ts     INTEGER NOT NULL,
	value  REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts run, its trades and its equity curve in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) (string, error) {
	if run.Result == nil {
		return "", errors.New("run has no result")
	}
	id := run.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return "", fmt.Errorf("encoding params: %w", err)
	}
	diags := make([]string, len(run.Result.Diagnostics))
	for i, d := range run.Result.Diagnostics {
		diags[i] = d.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback() //nolint:errcheck

	r := run.Result
	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		id, created_at, kind, strategy, symbols, params,
		initial_capital, final_value, total_return, cagr, benchmark_return, max_drawdown, sharpe_ratio,
		win_rate, avg_trade_return, trade_count, profit_factor, diagnostics
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, created.UnixMilli(), string(run.Kind), run.Strategy, strings.Join(run.Symbols, ","), string(params),
		r.InitialCapital, r.FinalValue, r.TotalReturn, r.CAGR, r.BenchmarkReturn, r.MaxDrawdown, r.SharpeRatio,
		r.WinRate, r.AvgTradeReturn, r.TradeCount, r.ProfitFactor, strings.Join(diags, "\n"),
	)
	if err != nil {
		return "", fmt.Errorf("inserting run %s: %w", id, err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_trades (
		run_id, seq, symbol, side, entry_time, exit_time, entry_price, exit_price, qty, pnl, return_pct, exit_reason
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer tradeStmt.Close()
	for i, t := range r.Trades {
		if _, err := tradeStmt.ExecContext(ctx, id, i, t.Symbol, string(t.Side),
			t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(), t.EntryPrice, t.ExitPrice,
			t.Qty, t.PnL, t.ReturnPct, string(t.ExitReason)); err != nil {
			return "", fmt.Errorf("inserting trade %d of run %s: %w", i, id, err)
		}
	}

	equityStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_equity (run_id, seq, ts, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer equityStmt.Close()
	for i, p := range r.EquityCurve {
		if _, err := equityStmt.ExecContext(ctx, id, i, p.Timestamp.UnixMilli(), p.Value); err != nil {
			return "", fmt.Errorf("inserting equity point %d of run %s: %w", i, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// GetRun loads run id with its trades and equity curve.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var (
		run              Run
		created          int64
		kind, symbols    string
		params, diagText string
		r                backtest.Result
	)
	err := s.db.QueryRowContext(ctx, `SELECT
		id, created_at, kind, strategy, symbols, params,
		initial_capital, final_value, total_return, cagr, benchmark_return, max_drawdown, sharpe_ratio,
		win_rate, avg_trade_return, trade_count, profit_factor, diagnostics
		FROM runs WHERE id = ?`, id).Scan(
		&run.ID, &created, &kind, &run.Strategy, &symbols, &params,
		&r.InitialCapital, &r.FinalValue, &r.TotalReturn, &r.CAGR, &r.BenchmarkReturn, &r.MaxDrawdown, &r.SharpeRatio,
		&r.WinRate, &r.AvgTradeReturn, &r.TradeCount, &r.ProfitFactor, &diagText,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}

	run.CreatedAt = time.UnixMilli(created).UTC()
	run.Kind = RunKind(kind)
	run.Symbols = splitSymbols(symbols)
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("decoding params of run %s: %w", id, err)
	}
	if diagText != "" {
		for _, line := range strings.Split(diagText, "\n") {
			r.Diagnostics = append(r.Diagnostics, errors.New(line))
		}
	}

	if r.Trades, err = s.loadTrades(ctx, id); err != nil {
		return nil, err
	}
	if r.EquityCurve, err = s.loadEquity(ctx, id); err != nil {
		return nil, err
	}
	r.BenchmarkCAGR = backtest.CAGR(1, 1+r.BenchmarkReturn, r.Years())
	run.Result = &r
	return &run, nil
}

func (s *SQLiteStore) loadTrades(ctx context.Context, id string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		symbol, side, entry_time, exit_time, entry_price, exit_price, qty, pnl, return_pct, exit_reason
		FROM run_trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading trades of run %s: %w", id, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t            domain.Trade
			side, reason string
			entry, exit  int64
		)
		if err := rows.Scan(&t.Symbol, &side, &entry, &exit, &t.EntryPrice, &t.ExitPrice,
			&t.Qty, &t.PnL, &t.ReturnPct, &reason); err != nil {
			return nil, err
		}
		t.Side = domain.PositionSide(side)
		t.ExitReason = domain.ExitReason(reason)
		t.EntryTime = time.UnixMilli(entry).UTC()
		t.ExitTime = time.UnixMilli(exit).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) loadEquity(ctx context.Context, id string) ([]backtest.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, value FROM run_equity WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading equity of run %s: %w", id, err)
	}
	defer rows.Close()

	var curve []backtest.EquityPoint
	for rows.Next() {
		var (
			ts int64
			p  backtest.EquityPoint
		)
		if err := rows.Scan(&ts, &p.Value); err != nil {
			return nil, err
		}
		p.Timestamp = time.UnixMilli(ts).UTC()
		curve = append(curve, p)
	}
	return curve, rows.Err()
}

// ListRuns returns the newest runs first. A non-positive limit lists all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, created_at, kind, strategy, symbols, total_return, sharpe_ratio, max_drawdown, trade_count
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			rs            RunSummary
			created       int64
			kind, symbols string
		)
		if err := rows.Scan(&rs.ID, &created, &kind, &rs.Strategy, &symbols,
			&rs.TotalReturn, &rs.SharpeRatio, &rs.MaxDrawdown, &rs.TradeCount); err != nil {
			return nil, err
		}
		rs.CreatedAt = time.UnixMilli(created).UTC()
		rs.Kind = RunKind(kind)
		rs.Symbols = splitSymbols(symbols)
		out = append(out, rs)
	}
	return out, rows.Err()
}

func splitSymbols(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
