package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stratlab/internal/domain"
)

// ErrSignalLength is returned when a strategy does not produce exactly one
// signal per bar.
var ErrSignalLength = errors.New("signal count does not match bar count")

// Ingest runs s over the bars of one symbol and returns one normalized order
// per bar, nil where the strategy holds. A panic inside the strategy is
// recovered and reported as an error, as is any invalid signal; callers
// treat the symbol as flat when Ingest fails.
func Ingest(ctx context.Context, s Strategy, symbol string, bars []domain.Bar) (orders []*domain.Order, err error) {
	defer func() {
		if r := recover(); r != nil {
			orders = nil
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()

	signals, err := s.GenerateSignals(ctx, bars)
	if err != nil {
		return nil, fmt.Errorf("generating signals: %w", err)
	}
	if len(signals) != len(bars) {
		return nil, fmt.Errorf("%w: %d signals for %d bars", ErrSignalLength, len(signals), len(bars))
	}

	orders = make([]*domain.Order, len(signals))
	for i, sig := range signals {
		o, err := sig.Normalize(symbol)
		if err != nil {
			return nil, fmt.Errorf("bar %d (%s): %w", i, bars[i].Timestamp.Format(time.DateOnly), err)
		}
		orders[i] = o
	}
	return orders, nil
}
