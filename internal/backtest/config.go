package backtest

import (
	"sort"

	"stratlab/internal/engine"
)

// Config is the explicit, per-run configuration of a Backtester.
type Config struct {
	InitialCapital float64
	Commission     float64 // fraction of notional per fill
	Slippage       float64 // fraction of price per fill
	AllowShort     bool

	// PositionSize is the fraction of portfolio value allocated to a new
	// position. PositionSizes overrides it per symbol.
	PositionSize  float64
	PositionSizes map[string]float64

	// Risk exits; nil disables the exit.
	StopLossPct     *float64
	TakeProfitPct   *float64
	TrailingStopPct *float64
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100_000,
		Commission:     0.001,
		Slippage:       0.001,
		PositionSize:   0.1,
	}
}

// Validate checks the configuration against the symbols of a run. Keys of
// PositionSizes must all be symbols of the run.
func (c Config) Validate(symbols []string) error {
	if c.InitialCapital <= 0 {
		return configErrorf("initial_capital", "must be positive, got %v", c.InitialCapital)
	}
	if c.Commission < 0 || c.Commission >= 1 {
		return configErrorf("commission", "must be in [0,1), got %v", c.Commission)
	}
	if c.Slippage < 0 || c.Slippage >= 1 {
		return configErrorf("slippage", "must be in [0,1), got %v", c.Slippage)
	}
	if c.PositionSize <= 0 || c.PositionSize > 1 {
		return configErrorf("position_size", "must be in (0,1], got %v", c.PositionSize)
	}

	known := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		known[s] = true
	}
	keys := make([]string, 0, len(c.PositionSizes))
	for k := range c.PositionSizes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := c.PositionSizes[k]
		if v <= 0 || v > 1 {
			return configErrorf("position_size."+k, "must be in (0,1], got %v", v)
		}
		if !known[k] {
			return configErrorf("position_size."+k, "symbol is not part of the run")
		}
	}

	if _, err := c.riskManager(); err != nil {
		return &ConfigError{Field: "risk", Err: err}
	}
	return nil
}

// SizeFor returns the allocation fraction for symbol.
func (c Config) SizeFor(symbol string) float64 {
	if v, ok := c.PositionSizes[symbol]; ok {
		return v
	}
	return c.PositionSize
}

// WithCapital returns a copy of c with a different initial capital and a
// flat position size, as used for portfolio sub-accounts.
func (c Config) WithCapital(capital, positionSize float64) Config {
	c.InitialCapital = capital
	c.PositionSize = positionSize
	c.PositionSizes = nil
	return c
}

func (c Config) costs() engine.Costs {
	return engine.Costs{Commission: c.Commission, Slippage: c.Slippage}
}

func (c Config) riskManager() (*engine.RiskManager, error) {
	return engine.NewRiskManager(c.StopLossPct, c.TakeProfitPct, c.TrailingStopPct)
}
