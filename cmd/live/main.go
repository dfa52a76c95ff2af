package main

import (
	"context"
	"fmt"
	"iter"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/meridian-lab/helmsman/internal/config"
	"github.com/meridian-lab/helmsman/internal/control"
	"github.com/meridian-lab/helmsman/internal/engine"
	"github.com/meridian-lab/helmsman/internal/gateway"
	"github.com/meridian-lab/helmsman/internal/live"
	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/market"
	"github.com/meridian-lab/helmsman/internal/risk"
	"github.com/meridian-lab/helmsman/internal/types"
)

const shutdownGrace = 10 * time.Second

// markingSource forwards ticks from the real stream into the simulated venue
// so paper fills happen at the latest observed price.
type markingSource struct {
	inner market.Source
	sim   *gateway.SimGateway
}

func (s *markingSource) Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.MarketData, error] {
	return func(yield func(types.MarketData, error) bool) {
		for data, err := range s.inner.Stream(ctx, symbols, interval) {
			if err == nil {
				s.sim.SetPrice(data.Symbol, decimal.NewFromFloat(data.Close))
			}

			if !yield(data, err) {
				return
			}
		}
	}
}

// exitAlert logs failed exits at error level so operators can page on them.
func exitAlert(appLogger *logger.Logger) live.AlertFunc {
	return func(order types.Order, alertErr error) {
		appLogger.Error("exit order failed, position needs attention",
			zap.String("symbol", order.Symbol),
			zap.String("order_id", order.ID),
			zap.Error(alertErr))
	}
}

// liveAction assembles a live session from the configuration and blocks until
// the process receives SIGINT or SIGTERM.
func liveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if symbols := cmd.StringSlice("symbol"); len(symbols) > 0 {
		cfg.Live.Symbols = symbols
	}

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

	var source market.Source = market.NewBinanceSource(appLogger)

	var venue gateway.Gateway

	switch cfg.Gateway.Mode {
	case config.ModeBinance:
		venue = gateway.NewBinanceGateway(cfg.Gateway.Binance, appLogger)
	default:
		sim := gateway.NewSimGateway()
		source = &markingSource{inner: source, sim: sim}
		venue = sim

		appLogger.Info("paper trading against simulated venue")
	}

	runner, err := live.NewRunner(cfg.Live, eng, venue, source, appLogger, exitAlert(appLogger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ControlAddr != "" {
		server := control.NewServer(cfg.ControlAddr, runner, appLogger)

		go func() {
			if serveErr := server.ListenAndServe(); serveErr != nil {
				appLogger.Error("control server failed", zap.Error(serveErr))
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()

			if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
				appLogger.Warn("control server shutdown failed", zap.Error(shutdownErr))
			}
		}()
	}

	appLogger.Info("live session starting",
		zap.Strings("symbols", cfg.Live.Symbols),
		zap.String("mode", string(cfg.Gateway.Mode)))

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("live session failed: %w", err)
	}

	metrics := runner.Metrics()
	appLogger.Info("live session finished",
		zap.Int("trades", metrics.TotalTrades),
		zap.String("total_pnl", metrics.TotalPnL.StringFixed(2)),
		zap.String("cash", runner.Equity().Cash.StringFixed(2)))

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
		Name:  "live",
		Usage: "Run a trading strategy against a live market data stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the YAML run configuration",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "symbol",
				Aliases: []string{"s"},
				Usage:   "Symbols to trade, overrides the config",
			},
		},
		Action: liveAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
