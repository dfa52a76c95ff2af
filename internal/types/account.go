package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EquityState is the process-wide account bookkeeping: cash, cumulative
// commission, realized PnL, and the daily PnL window the risk manager checks.
// Initialized once per run and mutated only by the execution engine on fills.
type EquityState struct {
	Cash            decimal.Decimal `yaml:"cash" json:"cash"`
	TotalCommission decimal.Decimal `yaml:"total_commission" json:"total_commission"`
	RealizedPnL     decimal.Decimal `yaml:"realized_pnl" json:"realized_pnl"`
	DailyPnL        decimal.Decimal `yaml:"daily_pnl" json:"daily_pnl"`
	// Day anchors the daily PnL window (UTC date).
	Day time.Time `yaml:"day" json:"day"`
}

// NewEquityState initializes the account with the starting capital.
func NewEquityState(initialCapital decimal.Decimal, at time.Time) EquityState {
	return EquityState{
		Cash:            initialCapital,
		TotalCommission: decimal.Zero,
		RealizedPnL:     decimal.Zero,
		DailyPnL:        decimal.Zero,
		Day:             at.UTC().Truncate(24 * time.Hour),
	}
}

// RollDay resets the daily PnL window when the UTC date advances past the
// anchored day.
func (e *EquityState) RollDay(at time.Time) {
	day := at.UTC().Truncate(24 * time.Hour)
	if day.After(e.Day) {
		e.Day = day
		e.DailyPnL = decimal.Zero
	}
}

// ApplyEntry debits the entry notional plus commission from cash.
func (e *EquityState) ApplyEntry(notional, commission decimal.Decimal) {
	e.Cash = e.Cash.Sub(notional).Sub(commission)
	e.TotalCommission = e.TotalCommission.Add(commission)
}

// ApplyExit credits the exit notional net of commission to cash and records
// the realized PnL in both the cumulative and daily windows.
func (e *EquityState) ApplyExit(notional, commission, pnl decimal.Decimal, at time.Time) {
	e.RollDay(at)
	e.Cash = e.Cash.Add(notional).Sub(commission)
	e.TotalCommission = e.TotalCommission.Add(commission)
	e.RealizedPnL = e.RealizedPnL.Add(pnl)
	e.DailyPnL = e.DailyPnL.Add(pnl)
}
