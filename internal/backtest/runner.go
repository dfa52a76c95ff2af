// Package backtest replays historical candles through the execution engine on
// a single goroutine, so identical inputs always produce identical results.
package backtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/meridian-lab/helmsman/internal/engine"
	"github.com/meridian-lab/helmsman/internal/gateway"
	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/market"
	"github.com/meridian-lab/helmsman/internal/types"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

// Config selects the data to replay and where to write results.
type Config struct {
	DataPath string   `yaml:"data_path" json:"data_path" validate:"required"`
	Symbols  []string `yaml:"symbols" json:"symbols" validate:"required,min=1"`
	// Interval resamples the data before replay; empty replays raw rows.
	Interval string `yaml:"interval" json:"interval"`
	// Slippage is applied to every simulated fill.
	Slippage decimal.Decimal `yaml:"slippage" json:"slippage"`
	// OutputDir receives metrics.yaml and trades.yaml when set.
	OutputDir    string `yaml:"output_dir" json:"output_dir"`
	ShowProgress bool   `yaml:"show_progress" json:"show_progress"`
}

// Validate checks the config against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid backtest configuration", err)
	}

	return nil
}

// Result is everything a finished replay produced.
type Result struct {
	Metrics     types.PerformanceMetrics `yaml:"metrics" json:"metrics"`
	Trades      []types.Trade            `yaml:"trades" json:"trades"`
	EquityCurve types.EquityCurve        `yaml:"equity_curve" json:"equity_curve"`
	FinalEquity decimal.Decimal          `yaml:"final_equity" json:"final_equity"`
}

// Runner drives one backtest: source ticks in, simulated fills out.
type Runner struct {
	config  Config
	engine  *engine.Engine
	gateway *gateway.SimGateway
	logger  *logger.Logger
}

// NewRunner creates a backtest runner around an engine and a simulated venue.
func NewRunner(config Config, eng *engine.Engine, gw *gateway.SimGateway, log *logger.Logger) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	gw.SetSlippage(config.Slippage)

	return &Runner{
		config:  config,
		engine:  eng,
		gateway: gw,
		logger:  log,
	}, nil
}

// Run replays the configured data to completion. Positions still held when the
// data runs out are force closed at the last known price so every entry has a
// matching exit in the trade log.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	source, err := market.NewHistoricalSource(r.config.DataPath, r.logger)
	if err != nil {
		return Result{}, err
	}
	defer source.Close()

	var bar *progressbar.ProgressBar

	if r.config.ShowProgress {
		count, countErr := source.Count(r.config.Symbols)
		if countErr != nil {
			return Result{}, countErr
		}

		bar = progressbar.Default(int64(count))
		bar.Describe(fmt.Sprintf("Replaying %s", filepath.Base(r.config.DataPath)))
	}

	var (
		curve    types.EquityCurve
		lastTick types.MarketData
	)

	for data, streamErr := range source.Stream(ctx, r.config.Symbols, r.config.Interval) {
		if streamErr != nil {
			return Result{}, streamErr
		}

		if bar != nil {
			_ = bar.Add(1)
		}

		if !data.Valid() {
			r.logger.Debug("skipping invalid tick", zap.String("symbol", data.Symbol), zap.Time("time", data.Time))

			continue
		}

		lastTick = data
		tickTime := data.Time

		r.gateway.SetPrice(data.Symbol, data.ClosePrice())
		r.gateway.SetClock(func() time.Time { return tickTime })

		r.executeIntents(ctx, r.engine.Evaluate(data))
		r.executeIntents(ctx, r.engine.RiskSweep(data.Time))

		curve = append(curve, types.EquityPoint{
			Time:   data.Time,
			Equity: r.engine.MarkToMarket(nil),
		})
	}

	if !lastTick.Time.IsZero() {
		r.executeIntents(ctx, r.engine.ForceCloseIntents(types.ReasonShutdown, lastTick.Time))

		curve = append(curve, types.EquityPoint{
			Time:   lastTick.Time,
			Equity: r.engine.MarkToMarket(nil),
		})
	}

	trades := r.engine.Trades()

	result := Result{
		Metrics:     types.ComputeMetrics(trades, curve),
		Trades:      trades,
		EquityCurve: curve,
		FinalEquity: r.engine.MarkToMarket(nil),
	}

	if r.config.OutputDir != "" {
		if err := r.writeResult(result); err != nil {
			return result, err
		}
	}

	return result, nil
}

// writeResult exports metrics and the trade log as YAML.
func (r *Runner) writeResult(result Result) error {
	if err := os.MkdirAll(r.config.OutputDir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to create output directory", err)
	}

	metricsPath := filepath.Join(r.config.OutputDir, "metrics.yaml")
	if err := types.WriteMetrics(metricsPath, result.Metrics); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to write metrics", err)
	}

	tradesData, err := yaml.Marshal(result.Trades)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to marshal trades", err)
	}

	tradesPath := filepath.Join(r.config.OutputDir, "trades.yaml")
	if err := os.WriteFile(tradesPath, tradesData, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to write trades", err)
	}

	r.logger.Info("backtest result written", zap.String("dir", r.config.OutputDir))

	return nil
}

// executeIntents submits the engine's intents to the simulated venue and
// feeds fills (or aborts) straight back.
func (r *Runner) executeIntents(ctx context.Context, intents []types.Order) {
	for _, order := range intents {
		fill, err := r.gateway.SubmitMarketOrder(ctx, order)
		if err != nil {
			r.logger.Warn("order failed in simulation",
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
			r.engine.AbortOrder(order.ID)

			continue
		}

		if applyErr := r.engine.ApplyFill(fill); applyErr != nil {
			r.logger.Error("fill rejected by engine",
				zap.String("order_id", order.ID),
				zap.Error(applyErr),
			)
		}
	}
}
