package config

import (
	"os"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "stratlab-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"ALPACA_BASE_URL", "ALPACA_DATA_URL", "LOG_LEVEL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
storage:
  data_dir: "/tmp/stratlab"
backtest:
  commission: 0.002
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/stratlab" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/stratlab")
	}
	if cfg.Storage.SQLitePath != "stratlab.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "stratlab.db")
	}

	// -- Logging --
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}

	// -- Gather --
	if cfg.Gather.USDaily.BatchSize != 100 {
		t.Errorf("Gather.USDaily.BatchSize = %d, want %d", cfg.Gather.USDaily.BatchSize, 100)
	}

	// -- Backtest --
	if cfg.Backtest.Commission != 0.002 {
		t.Errorf("Backtest.Commission = %f, want %f", cfg.Backtest.Commission, 0.002)
	}
	if cfg.Backtest.Slippage != 0.001 {
		t.Errorf("Backtest.Slippage = %f, want %f", cfg.Backtest.Slippage, 0.001)
	}
	if cfg.Backtest.InitialCapital != 100000 {
		t.Errorf("Backtest.InitialCapital = %f, want %f", cfg.Backtest.InitialCapital, 100000.0)
	}
	if cfg.Backtest.StopLossPct != nil {
		t.Errorf("Backtest.StopLossPct = %v, want nil", *cfg.Backtest.StopLossPct)
	}

	// -- Portfolio --
	if cfg.Portfolio.MinObservations != 20 {
		t.Errorf("Portfolio.MinObservations = %d, want %d", cfg.Portfolio.MinObservations, 20)
	}
}

func TestLoadPositionSizeScalar(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
backtest:
  position_size: 0.25
  stop_loss_pct: 0.05
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	ec := cfg.Backtest.EngineConfig()
	if ec.PositionSize != 0.25 {
		t.Errorf("PositionSize = %f, want %f", ec.PositionSize, 0.25)
	}
	if ec.PositionSizes != nil {
		t.Errorf("PositionSizes = %v, want nil", ec.PositionSizes)
	}
	if ec.StopLossPct == nil || *ec.StopLossPct != 0.05 {
		t.Errorf("StopLossPct = %v, want 0.05", ec.StopLossPct)
	}
}

func TestLoadPositionSizeMapping(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
backtest:
  position_size:
    AAPL: 0.5
    MSFT: 0.2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	ec := cfg.Backtest.EngineConfig()
	if got := ec.SizeFor("AAPL"); got != 0.5 {
		t.Errorf("SizeFor(AAPL) = %f, want %f", got, 0.5)
	}
	if got := ec.SizeFor("MSFT"); got != 0.2 {
		t.Errorf("SizeFor(MSFT) = %f, want %f", got, 0.2)
	}
	// Unlisted symbols use the engine default.
	if got := ec.SizeFor("GOOG"); got != 0.1 {
		t.Errorf("SizeFor(GOOG) = %f, want %f", got, 0.1)
	}
}

func TestLoadUpperCasesSymbolKeys(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
backtest:
  position_size:
    aapl: 0.5
    Msft: 0.2
portfolio:
  weights:
    aapl: 0.6
    msft: 0.4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	ec := cfg.Backtest.EngineConfig()
	if got := ec.SizeFor("AAPL"); got != 0.5 {
		t.Errorf("SizeFor(AAPL) = %f, want %f", got, 0.5)
	}
	if got := ec.SizeFor("MSFT"); got != 0.2 {
		t.Errorf("SizeFor(MSFT) = %f, want %f", got, 0.2)
	}
	if got := cfg.Portfolio.Weights["AAPL"]; got != 0.6 {
		t.Errorf("Portfolio.Weights[AAPL] = %f, want %f", got, 0.6)
	}
	if _, ok := cfg.Portfolio.Weights["aapl"]; ok {
		t.Errorf("Portfolio.Weights kept lower-case key: %v", cfg.Portfolio.Weights)
	}
}

func TestLoadDuplicateSymbolKeys(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
portfolio:
  weights:
    aapl: 0.5
    AAPL: 0.5
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() with duplicate weight symbols returned nil error")
	}
}

func TestLoadPositionSizeInvalid(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
backtest:
  position_size: [0.1, 0.2]
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() returned nil error for a sequence position_size")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q (env override)", cfg.Logging.Level, "debug")
	}
}

func TestLoadCanonicalAlpacaEnv(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "{}\n")

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("APCA_API_KEY_ID", "canonical-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "canonical-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "canonical-key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/stratlab.yaml"); err == nil {
		t.Fatal("Load() returned nil error for a missing file")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/env/data")

	cfg, err := LoadOrDefault("/nonexistent/stratlab.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() returned error: %v", err)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Backtest.PositionSize.Default != 0.1 {
		t.Errorf("Backtest.PositionSize.Default = %f, want %f", cfg.Backtest.PositionSize.Default, 0.1)
	}
}

func TestLoadOrDefaultParseError(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "backtest: [unterminated\n")

	if _, err := LoadOrDefault(path); err == nil {
		t.Fatal("LoadOrDefault() returned nil error for malformed YAML")
	}
}
