package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/meridian-lab/helmsman/internal/backtest"
	"github.com/meridian-lab/helmsman/internal/config"
	"github.com/meridian-lab/helmsman/internal/engine"
	"github.com/meridian-lab/helmsman/internal/gateway"
	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/risk"
)

// backtestAction loads the configuration, assembles the engine around a
// simulated venue, and replays the configured data to completion.
func backtestAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Flags override the file so one config can drive many runs.
	if cmd.String("data") != "" {
		cfg.Backtest.DataPath = cmd.String("data")
	}

	if symbols := cmd.StringSlice("symbol"); len(symbols) > 0 {
		cfg.Backtest.Symbols = symbols
	}

	if cmd.String("interval") != "" {
		cfg.Backtest.Interval = cmd.String("interval")
	}

	if cmd.String("output") != "" {
		cfg.Backtest.OutputDir = cmd.String("output")
	}

	cfg.Backtest.ShowProgress = !cmd.Bool("quiet")

	appLogger, err := newLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Sync()

	manager, err := risk.NewManager(cfg.Risk, appLogger)
	if err != nil {
		return err
	}

	eng, err := engine.NewEngine(cfg.Engine, cfg.BuildProvider(), manager, appLogger)
	if err != nil {
		return err
	}

	runner, err := backtest.NewRunner(cfg.Backtest, eng, gateway.NewSimGateway(), appLogger)
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	fmt.Printf("Trades:        %d\n", result.Metrics.TotalTrades)
	fmt.Printf("Win rate:      %.2f%%\n", result.Metrics.WinRate*100)
	fmt.Printf("Total PnL:     %s\n", result.Metrics.TotalPnL.StringFixed(2))
	fmt.Printf("Max drawdown:  %.2f%%\n", result.Metrics.MaxDrawdown*100)
	fmt.Printf("Final equity:  %s\n", result.FinalEquity.StringFixed(2))

	if cfg.Backtest.OutputDir != "" {
		fmt.Printf("Results written to %s\n", cfg.Backtest.OutputDir)
	}

	return nil
}

func newLogger(development bool) (*logger.Logger, error) {
	if development {
		return logger.NewDevelopmentLogger()
	}

	return logger.NewLogger()
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Replay historical market data through a trading strategy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the YAML run configuration",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "Candle file to replay (CSV or Parquet), overrides the config",
			},
			&cli.StringSliceFlag{
				Name:    "symbol",
				Aliases: []string{"s"},
				Usage:   "Symbols to replay, overrides the config",
			},
			&cli.StringFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Resample interval (e.g. 5m, 1h), overrides the config",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Directory for metrics.yaml and trades.yaml",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Disable the progress bar",
			},
		},
		Action: backtestAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
