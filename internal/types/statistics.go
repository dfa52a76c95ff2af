package types

import (
	"math"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/meridian-lab/helmsman/pkg/errors"
)

// EquityPoint is one sample of the equity curve: cash plus the mark-to-market
// value of open positions at that tick.
type EquityPoint struct {
	Time   time.Time       `yaml:"time" json:"time"`
	Equity decimal.Decimal `yaml:"equity" json:"equity"`
}

// EquityCurve is the timestamp-ordered series of equity samples for a run.
type EquityCurve []EquityPoint

// PerformanceMetrics are read-only aggregates derived from the trade log and
// equity curve after a run. They can be recomputed at any time from those two
// inputs and are never independently mutated.
type PerformanceMetrics struct {
	TotalTrades   int             `yaml:"total_trades" json:"total_trades"`
	WinningTrades int             `yaml:"winning_trades" json:"winning_trades"`
	LosingTrades  int             `yaml:"losing_trades" json:"losing_trades"`
	WinRate       float64         `yaml:"win_rate" json:"win_rate"`
	TotalPnL      decimal.Decimal `yaml:"total_pnl" json:"total_pnl"`
	AvgPnL        decimal.Decimal `yaml:"avg_pnl" json:"avg_pnl"`
	// MaxDrawdown is the largest peak-to-trough decline of the equity curve,
	// expressed as a positive fraction of the peak.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
	SharpeRatio float64 `yaml:"sharpe_ratio" json:"sharpe_ratio"`
	// SortinoRatio penalizes only downside volatility.
	SortinoRatio float64 `yaml:"sortino_ratio" json:"sortino_ratio"`
	// ProfitFactor is gross profit over gross loss; zero when there are no
	// losing trades.
	ProfitFactor float64 `yaml:"profit_factor" json:"profit_factor"`
}

const (
	// Annualization assumes daily samples; kept for comparability with prior
	// reports even when the replay interval is finer.
	annualizationPeriods = 252
	riskFreeRate         = 0.02
)

// ComputeMetrics derives PerformanceMetrics from a trade log and equity curve.
func ComputeMetrics(trades []Trade, curve EquityCurve) PerformanceMetrics {
	var m PerformanceMetrics

	m.TotalTrades = len(trades)

	totalPnL := decimal.Zero
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero

	for _, t := range trades {
		totalPnL = totalPnL.Add(t.PnL)

		switch {
		case t.PnL.IsPositive():
			m.WinningTrades++

			grossProfit = grossProfit.Add(t.PnL)
		case t.PnL.IsNegative():
			m.LosingTrades++

			grossLoss = grossLoss.Add(t.PnL.Neg())
		}
	}

	m.TotalPnL = totalPnL

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.AvgPnL = totalPnL.Div(decimal.NewFromInt(int64(m.TotalTrades)))
	} else {
		m.AvgPnL = decimal.Zero
	}

	if grossLoss.IsPositive() {
		m.ProfitFactor, _ = grossProfit.Div(grossLoss).Float64()
	}

	m.MaxDrawdown = maxDrawdown(curve)

	returns := curveReturns(curve)
	m.SharpeRatio = sharpeRatio(returns)
	m.SortinoRatio = sortinoRatio(returns)

	return m
}

// maxDrawdown scans the curve once, tracking the running peak.
func maxDrawdown(curve EquityCurve) float64 {
	var worst float64

	peak := decimal.Zero

	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}

		if !peak.IsPositive() {
			continue
		}

		dd, _ := peak.Sub(p.Equity).Div(peak).Float64()
		if dd > worst {
			worst = dd
		}
	}

	return worst
}

// curveReturns converts the equity curve into per-sample fractional returns.
func curveReturns(curve EquityCurve) []float64 {
	if len(curve) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(curve)-1)

	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Equity.Float64()
		cur, _ := curve[i].Equity.Float64()

		if prev == 0 {
			continue
		}

		returns = append(returns, cur/prev-1)
	}

	return returns
}

func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	std := stdDev(returns)
	if std == 0 {
		return 0
	}

	excess := meanExcess(returns)

	return excess / std * math.Sqrt(annualizationPeriods)
}

func sortinoRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	perPeriodRf := riskFreeRate / annualizationPeriods

	var downside []float64

	for _, r := range returns {
		if r-perPeriodRf < 0 {
			downside = append(downside, r-perPeriodRf)
		}
	}

	if len(downside) < 2 {
		return 0
	}

	std := stdDev(downside)
	if std == 0 {
		return 0
	}

	return meanExcess(returns) / std * math.Sqrt(annualizationPeriods)
}

func meanExcess(returns []float64) float64 {
	perPeriodRf := riskFreeRate / annualizationPeriods

	var sum float64
	for _, r := range returns {
		sum += r - perPeriodRf
	}

	return sum / float64(len(returns))
}

// stdDev is the sample standard deviation.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	return math.Sqrt(sq / float64(len(values)-1))
}

// WriteMetrics writes the metrics to a YAML file.
func WriteMetrics(path string, metrics PerformanceMetrics) error {
	data, err := yaml.Marshal(metrics)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to marshal metrics to YAML", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(errors.ErrCodeUnknown, err, "failed to write metrics to %s", path)
	}

	return nil
}
