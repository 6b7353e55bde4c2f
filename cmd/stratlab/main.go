package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"stratlab/internal/config"
	"stratlab/internal/strategy"
	"stratlab/internal/strategy/builtins"
	"stratlab/internal/util"
)

const version = "0.1.0"

var (
	configPath string
	logLevel   string
	logFormat  string

	cfg      *config.Config
	logger   *slog.Logger
	flushLog func() error
)

func main() {
	app := &cli.App{
		Name:                 "stratlab",
		Usage:                "backtest trading strategies and simulate portfolios on daily bars",
		Version:              version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Value:       "config/stratlab.yaml",
				Usage:       "path to the YAML configuration file",
				EnvVars:     []string{"STRATLAB_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "overrides logging.level (debug, info, warn, error)",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "overrides logging.format (json, console)",
				Destination: &logFormat,
			},
		},
		Before: setup,
		After: func(*cli.Context) error {
			if flushLog != nil {
				_ = flushLog()
			}
			return nil
		},
		Commands: []*cli.Command{
			fetchCommand,
			backtestCommand,
			portfolioCommand,
			sweepCommand,
			walkForwardCommand,
			monteCarloCommand,
			frontierCommand,
			runsCommand,
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stratlab: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the logger before any command
// runs.
func setup(*cli.Context) error {
	var err error
	if cfg, err = config.LoadOrDefault(configPath); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger, flushLog, err = util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	util.SetDefault(logger)
	return nil
}

// newRegistry returns a registry holding the built-in strategies.
func newRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	builtins.Register(r)
	return r
}
