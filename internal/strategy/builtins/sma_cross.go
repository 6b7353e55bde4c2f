// Package builtins provides built-in strategy implementations that ship with
// stratlab.
package builtins

import (
	"context"
	"fmt"

	"stratlab/internal/domain"
	"stratlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) (*SMACross, error) {
	if short <= 0 || long <= 0 {
		return nil, fmt.Errorf("sma-cross: periods must be positive, got %d/%d", short, long)
	}
	if short >= long {
		return nil, fmt.Errorf("sma-cross: short period %d must be below long period %d", short, long)
	}
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// GenerateSignals emits 1 on a golden cross, -1 on a dead cross and 0
// otherwise. Bars before the long window is full are always 0.
func (s *SMACross) GenerateSignals(_ context.Context, bars []domain.Bar) ([]domain.Signal, error) {
	signals := make([]domain.Signal, len(bars))
	short := sma(bars, s.shortPeriod)
	long := sma(bars, s.longPeriod)

	for i := s.longPeriod; i < len(bars); i++ {
		prevDiff := short[i-1] - long[i-1]
		diff := short[i] - long[i]
		switch {
		case diff > 0 && prevDiff <= 0:
			signals[i] = domain.Buy()
		case diff < 0 && prevDiff >= 0:
			signals[i] = domain.Sell()
		}
	}
	return signals, nil
}

// sma returns the simple moving average of closes; entries before the window
// is full are zero.
func sma(bars []domain.Bar, period int) []float64 {
	out := make([]float64, len(bars))
	var sum float64
	for i, b := range bars {
		sum += b.Close
		if i >= period {
			sum -= bars[i-period].Close
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}
