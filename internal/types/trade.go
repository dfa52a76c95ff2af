package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the immutable record of a closed position. Created exactly once per
// close and never mutated afterward.
type Trade struct {
	Strategy        string          `yaml:"strategy" json:"strategy"`
	Symbol          string          `yaml:"symbol" json:"symbol"`
	EntryPrice      decimal.Decimal `yaml:"entry_price" json:"entry_price"`
	ExitPrice       decimal.Decimal `yaml:"exit_price" json:"exit_price"`
	Quantity        decimal.Decimal `yaml:"quantity" json:"quantity"`
	EntryTime       time.Time       `yaml:"entry_time" json:"entry_time"`
	ExitTime        time.Time       `yaml:"exit_time" json:"exit_time"`
	EntryCommission decimal.Decimal `yaml:"entry_commission" json:"entry_commission"`
	ExitCommission  decimal.Decimal `yaml:"exit_commission" json:"exit_commission"`
	// PnL = (exit - entry) x quantity - entry commission - exit commission.
	PnL    decimal.Decimal `yaml:"pnl" json:"pnl"`
	Reason CloseReason     `yaml:"reason" json:"reason"`
}

// Return is the trade's PnL relative to its entry value.
func (t Trade) Return() decimal.Decimal {
	entryValue := t.Quantity.Mul(t.EntryPrice)
	if entryValue.IsZero() {
		return decimal.Zero
	}

	return t.PnL.Div(entryValue)
}
