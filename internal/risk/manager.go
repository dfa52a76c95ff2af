// Package risk sizes new positions and gates entries against account-level
// limits. The manager is consulted by the execution engine before every entry
// order; exits are never blocked by risk checks.
package risk

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

// KellyConfig enables Kelly-criterion sizing. WinRate and RewardRatio are
// estimates the operator supplies; the resulting fraction is still capped by
// MaxPositionFraction.
type KellyConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	WinRate     float64 `yaml:"win_rate" json:"win_rate" validate:"gte=0,lte=1"`
	RewardRatio float64 `yaml:"reward_ratio" json:"reward_ratio" validate:"gte=0"`
}

// Config holds the limits the manager enforces. All fractions are expressed
// against total equity, e.g. 0.1 means 10%.
type Config struct {
	MaxPositionFraction    float64     `yaml:"max_position_fraction" json:"max_position_fraction" validate:"gt=0,lte=1"`
	MaxOpenPositions       int         `yaml:"max_open_positions" json:"max_open_positions" validate:"gte=1"`
	DailyLossLimitFraction float64     `yaml:"daily_loss_limit_fraction" json:"daily_loss_limit_fraction" validate:"gt=0,lte=1"`
	Kelly                  KellyConfig `yaml:"kelly" json:"kelly"`
}

// Validate checks the config against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid risk configuration", err)
	}

	if c.Kelly.Enabled && c.Kelly.RewardRatio <= 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "kelly sizing requires a positive reward ratio")
	}

	return nil
}

// DefaultConfig returns conservative limits suitable for backtests.
func DefaultConfig() Config {
	return Config{
		MaxPositionFraction:    0.1,
		MaxOpenPositions:       3,
		DailyLossLimitFraction: 0.03,
	}
}

// Manager applies the configured limits. It holds no mutable state; all
// account inputs are passed per call so the engine remains the single owner of
// position and equity bookkeeping.
type Manager struct {
	config Config
	logger *logger.Logger
}

// NewManager creates a risk manager with a validated config.
func NewManager(config Config, log *logger.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Manager{
		config: config,
		logger: log,
	}, nil
}

// SizePosition returns the quantity to buy at price given total equity. Sizing
// never fails: non-positive inputs yield a zero quantity, which the engine
// treats as "do not enter".
func (m *Manager) SizePosition(equity, price decimal.Decimal) decimal.Decimal {
	if !equity.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}

	fraction := m.positionFraction()
	if !fraction.IsPositive() {
		return decimal.Zero
	}

	return equity.Mul(fraction).Div(price)
}

// positionFraction resolves the fraction of equity to commit. With Kelly
// enabled the fraction is winRate - (1-winRate)/rewardRatio, floored at zero
// and capped at MaxPositionFraction.
func (m *Manager) positionFraction() decimal.Decimal {
	maxFraction := decimal.NewFromFloat(m.config.MaxPositionFraction)
	if !m.config.Kelly.Enabled {
		return maxFraction
	}

	winRate := decimal.NewFromFloat(m.config.Kelly.WinRate)
	rewardRatio := decimal.NewFromFloat(m.config.Kelly.RewardRatio)
	if !rewardRatio.IsPositive() {
		return decimal.Zero
	}

	one := decimal.NewFromInt(1)
	kelly := winRate.Sub(one.Sub(winRate).Div(rewardRatio))

	if kelly.IsNegative() {
		return decimal.Zero
	}

	if kelly.GreaterThan(maxFraction) {
		return maxFraction
	}

	return kelly
}

// ApproveEntry decides whether a new position may be opened. openPositions
// counts positions currently OPEN or CLOSING. dailyPnL is the realized PnL
// accumulated since the last UTC day roll.
func (m *Manager) ApproveEntry(openPositions int, equity, dailyPnL decimal.Decimal) error {
	if openPositions >= m.config.MaxOpenPositions {
		m.logger.Debug("entry rejected: max open positions reached",
			zap.Int("open_positions", openPositions),
			zap.Int("max_open_positions", m.config.MaxOpenPositions),
		)

		return errors.Newf(errors.ErrCodeRiskLimitBreached,
			"max open positions reached (%d/%d)", openPositions, m.config.MaxOpenPositions)
	}

	if m.DailyLossBreached(equity, dailyPnL) {
		m.logger.Warn("entry rejected: daily loss limit breached",
			zap.String("daily_pnl", dailyPnL.String()),
			zap.String("equity", equity.String()),
		)

		return errors.Newf(errors.ErrCodeRiskLimitBreached,
			"daily loss limit breached (pnl %s, equity %s)", dailyPnL.String(), equity.String())
	}

	return nil
}

// DailyLossBreached reports whether the day's realized loss exceeds the
// configured fraction of equity. The periodic risk sweep uses this to decide
// whether open positions must be flattened.
func (m *Manager) DailyLossBreached(equity, dailyPnL decimal.Decimal) bool {
	limit := equity.Mul(decimal.NewFromFloat(m.config.DailyLossLimitFraction)).Neg()

	return dailyPnL.LessThan(limit)
}

// MaxOpenPositions exposes the configured cap for status reporting.
func (m *Manager) MaxOpenPositions() int {
	return m.config.MaxOpenPositions
}
