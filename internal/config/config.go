// Package config loads the YAML run configuration shared by the backtest and
// live binaries.
package config

import (
	"os"

	"github.com/shopspring/decimal"

	"github.com/meridian-lab/helmsman/internal/backtest"
	"github.com/meridian-lab/helmsman/internal/engine"
	"github.com/meridian-lab/helmsman/internal/gateway"
	"github.com/meridian-lab/helmsman/internal/live"
	"github.com/meridian-lab/helmsman/internal/risk"
	"github.com/meridian-lab/helmsman/internal/strategy"
	"github.com/meridian-lab/helmsman/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Mode selects the execution venue for live runs.
type Mode string

const (
	// ModePaper executes against the in-process simulated venue while
	// consuming real market data.
	ModePaper Mode = "paper"
	// ModeBinance executes against the Binance spot API.
	ModeBinance Mode = "binance"
)

// StrategyConfig selects and parameterizes the signal provider.
type StrategyConfig struct {
	// Name is one of the built-in providers: sma_cross or momentum.
	Name string `yaml:"name" json:"name"`
	// Params are provider-specific knobs, e.g. fast_period/slow_period for
	// sma_cross.
	Params map[string]float64 `yaml:"params" json:"params"`
}

// GatewayConfig selects the venue for live trading.
type GatewayConfig struct {
	Mode    Mode                  `yaml:"mode" json:"mode"`
	Binance gateway.BinanceConfig `yaml:"binance" json:"binance"`
}

// Config is the full run configuration.
type Config struct {
	Engine   engine.Config   `yaml:"engine" json:"engine"`
	Risk     risk.Config     `yaml:"risk" json:"risk"`
	Strategy StrategyConfig  `yaml:"strategy" json:"strategy"`
	Backtest backtest.Config `yaml:"backtest" json:"backtest"`
	Live     live.Config     `yaml:"live" json:"live"`
	Gateway  GatewayConfig   `yaml:"gateway" json:"gateway"`
	// ControlAddr enables the HTTP control API when set, e.g. ":8087".
	ControlAddr string `yaml:"control_addr" json:"control_addr"`
	// Development switches the logger to human-readable output.
	Development bool `yaml:"development" json:"development"`
}

// Load reads and validates a config file. Only the sections every run needs
// are validated here; the backtest and live sections are checked by their
// runners.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the sections shared by all run types.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}

	if err := c.Risk.Validate(); err != nil {
		return err
	}

	switch c.Strategy.Name {
	case "sma_cross", "momentum":
	case "":
		return errors.New(errors.ErrCodeStrategyNotLoaded, "no strategy configured")
	default:
		return errors.Newf(errors.ErrCodeStrategyNotLoaded, "unknown strategy %q", c.Strategy.Name)
	}

	switch c.Gateway.Mode {
	case "", ModePaper, ModeBinance:
	default:
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown gateway mode %q", c.Gateway.Mode)
	}

	return nil
}

// Param returns a strategy parameter, or fallback when unset.
func (s *StrategyConfig) Param(name string, fallback float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}

	return fallback
}

// BuildProvider constructs the configured signal provider. Call Validate
// first; an unknown name falls back to sma_cross defaults.
func (c *Config) BuildProvider() strategy.Provider {
	switch c.Strategy.Name {
	case "momentum":
		return strategy.NewMomentum(
			int(c.Strategy.Param("lookback", 10)),
			decimal.NewFromFloat(c.Strategy.Param("enter_threshold", 0.02)),
			decimal.NewFromFloat(c.Strategy.Param("exit_drawdown", 0.03)),
		)
	default:
		return strategy.NewSMACross(
			int(c.Strategy.Param("fast_period", 10)),
			int(c.Strategy.Param("slow_period", 30)),
		)
	}
}
