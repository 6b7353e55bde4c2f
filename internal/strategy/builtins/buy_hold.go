package builtins

import (
	"context"
	"fmt"

	"stratlab/internal/domain"
	"stratlab/internal/strategy"
)

var _ strategy.Strategy = BuyAndHold{}

// BuyAndHold buys on the first bar and never sells. Useful as a benchmark.
type BuyAndHold struct{}

// Name returns "buy-and-hold".
func (BuyAndHold) Name() string { return "buy-and-hold" }

// GenerateSignals returns a buy on bar 0 and holds afterwards.
func (BuyAndHold) GenerateSignals(_ context.Context, bars []domain.Bar) ([]domain.Signal, error) {
	signals := make([]domain.Signal, len(bars))
	if len(bars) > 0 {
		signals[0] = domain.Buy()
	}
	return signals, nil
}

// Register adds the built-in strategies to r.
//
// sma-cross reads the "short" and "long" params (defaults 5 and 25).
func Register(r *strategy.Registry) {
	r.Register("sma-cross", func(params map[string]float64) (strategy.Strategy, error) {
		short, long := 5, 25
		if v, ok := params["short"]; ok {
			short = int(v)
		}
		if v, ok := params["long"]; ok {
			long = int(v)
		}
		return NewSMACross(short, long)
	})
	r.Register("buy-and-hold", func(params map[string]float64) (strategy.Strategy, error) {
		if len(params) > 0 {
			return nil, fmt.Errorf("buy-and-hold takes no parameters")
		}
		return BuyAndHold{}, nil
	})
}
