package backtest

import (
	"errors"
	"fmt"
)

// ErrNoData is returned when no asset in a run has usable bars.
var ErrNoData = errors.New("no usable bar data")

// ErrNoBars marks an empty or missing bar series.
var ErrNoBars = errors.New("empty bar series")

// ErrInvalidBar marks a bar with a non-positive price.
var ErrInvalidBar = errors.New("invalid bar")

// DataError reports a symbol excluded from a run because its bar series is
// missing or unusable.
type DataError struct {
	Symbol string
	Err    error
}

func (e *DataError) Error() string { return fmt.Sprintf("data %s: %v", e.Symbol, e.Err) }
func (e *DataError) Unwrap() error { return e.Err }

// StrategyError reports a strategy that failed while producing signals for
// a symbol. The symbol is held flat for the whole run.
type StrategyError struct {
	Symbol   string
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s on %s: %v", e.Strategy, e.Symbol, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// ConfigError reports an invalid run configuration. It is always returned
// before any simulation starts.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config %s: %v", e.Field, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// OrderError reports an order the engine refused, e.g. for lack of cash.
// The run continues.
type OrderError struct {
	Symbol string
	Bar    int
	Err    error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order %s at bar %d: %v", e.Symbol, e.Bar, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}
