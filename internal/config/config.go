package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"stratlab/internal/backtest"
	"stratlab/internal/util"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for stratlab.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
	Gather    GatherConfig    `yaml:"gather"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs. BaseURL is the
// trading API, used only for the market calendar.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls data gathering.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string   `yaml:"start_date"`
	Symbols         []string `yaml:"symbols"`
	BatchSize       int      `yaml:"batch_size"`
	MaxWorkers      int      `yaml:"max_workers"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	MaxAttempts     int      `yaml:"max_attempts"`
}

// BacktestConfig mirrors backtest.Config in YAML form.
type BacktestConfig struct {
	InitialCapital  float64      `yaml:"initial_capital"`
	Commission      float64      `yaml:"commission"`
	Slippage        float64      `yaml:"slippage"`
	AllowShort      bool         `yaml:"allow_short"`
	PositionSize    PositionSize `yaml:"position_size"`
	StopLossPct     *float64     `yaml:"stop_loss_pct"`
	TakeProfitPct   *float64     `yaml:"take_profit_pct"`
	TrailingStopPct *float64     `yaml:"trailing_stop_pct"`
}

// PositionSize is either a single fraction or a per-symbol mapping:
//
//	position_size: 0.2
//	position_size: {AAPL: 0.5, MSFT: 0.25}
type PositionSize struct {
	Default   float64
	PerSymbol map[string]float64
}

// UnmarshalYAML accepts a scalar or a mapping. Mapping keys are upper-cased.
func (p *PositionSize) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		p.PerSymbol = nil
		return node.Decode(&p.Default)
	case yaml.MappingNode:
		var raw map[string]float64
		if err := node.Decode(&raw); err != nil {
			return err
		}
		sizes, err := util.UpperKeys(raw)
		if err != nil {
			return fmt.Errorf("line %d: position_size: %w", node.Line, err)
		}
		p.PerSymbol = sizes
		return nil
	}
	return fmt.Errorf("line %d: position_size must be a number or a mapping", node.Line)
}

// PortfolioConfig configures portfolio simulation.
type PortfolioConfig struct {
	TotalCapital    float64            `yaml:"total_capital"`
	MinObservations int                `yaml:"min_observations"`
	Workers         int                `yaml:"workers"`
	Weights         map[string]float64 `yaml:"weights"`
}

// ---------------------------------------------------------------------------
// Defaults and conversion
// ---------------------------------------------------------------------------

// Default returns the configuration used for fields a file leaves unset.
func Default() *Config {
	d := backtest.DefaultConfig()
	return &Config{
		Storage: Storage{DataDir: "data", SQLitePath: "stratlab.db"},
		Alpaca:  Alpaca{BaseURL: "https://paper-api.alpaca.markets", Feed: "sip"},
		Logging: Logging{Level: "info", Format: "json"},
		Gather: GatherConfig{USDaily: GatherJobConfig{
			StartDate:       "2020-01-01",
			MaxWorkers:      4,
			BatchSize:       100,
			RateLimitPerMin: 200,
			MaxAttempts:     3,
		}},
		Backtest: BacktestConfig{
			InitialCapital: d.InitialCapital,
			Commission:     d.Commission,
			Slippage:       d.Slippage,
			PositionSize:   PositionSize{Default: d.PositionSize},
		},
		Portfolio: PortfolioConfig{
			TotalCapital:    d.InitialCapital,
			MinObservations: 20,
		},
	}
}

// EngineConfig converts the YAML form into a backtest.Config. A per-symbol
// position size mapping without a scalar default falls back to the engine
// default for unlisted symbols.
func (b BacktestConfig) EngineConfig() backtest.Config {
	cfg := backtest.Config{
		InitialCapital:  b.InitialCapital,
		Commission:      b.Commission,
		Slippage:        b.Slippage,
		AllowShort:      b.AllowShort,
		PositionSize:    b.PositionSize.Default,
		PositionSizes:   b.PositionSize.PerSymbol,
		StopLossPct:     b.StopLossPct,
		TakeProfitPct:   b.TakeProfitPct,
		TrailingStopPct: b.TrailingStopPct,
	}
	if cfg.PositionSize == 0 {
		cfg.PositionSize = backtest.DefaultConfig().PositionSize
	}
	return cfg
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over Default(),
// and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Portfolio.Weights, err = util.UpperKeys(cfg.Portfolio.Weights); err != nil {
		return nil, fmt.Errorf("parsing %s: portfolio.weights: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default() with
// environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return cfg, err
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
