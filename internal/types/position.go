package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type PositionStatus string

const (
	// PositionStatusOpen means the position is held and monitored.
	PositionStatusOpen PositionStatus = "OPEN"
	// PositionStatusClosing means an exit order is in flight. While CLOSING no
	// further exit intent may be emitted for the position.
	PositionStatusClosing PositionStatus = "CLOSING"
	// PositionStatusClosed means the exit fill was confirmed and a Trade was
	// emitted. Closed positions are removed from the active set.
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Position is one open exposure per (strategy, instrument). At most one OPEN
// position may exist per pair at any time. The execution engine exclusively
// owns all mutation; everyone else works on copies.
type Position struct {
	Strategy        string          `yaml:"strategy" json:"strategy"`
	Symbol          string          `yaml:"symbol" json:"symbol"`
	EntryPrice      decimal.Decimal `yaml:"entry_price" json:"entry_price"`
	Quantity        decimal.Decimal `yaml:"quantity" json:"quantity"`
	EntryTime       time.Time       `yaml:"entry_time" json:"entry_time"`
	Status          PositionStatus  `yaml:"status" json:"status"`
	EntryCommission decimal.Decimal `yaml:"entry_commission" json:"entry_commission"`

	StopLoss     optional.Option[decimal.Decimal] `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit   optional.Option[decimal.Decimal] `yaml:"take_profit" json:"take_profit"`
	TrailingStop optional.Option[decimal.Decimal] `yaml:"trailing_stop" json:"trailing_stop"`
}

// Notional returns quantity x price.
func (p *Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// EntryValue returns quantity x entry price.
func (p *Position) EntryValue() decimal.Decimal {
	return p.Quantity.Mul(p.EntryPrice)
}

// UnrealizedPnL values the open position at the given price, net of the entry
// commission already paid.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(p.Quantity).Sub(p.EntryCommission)
}

// RatchetTrailingStop moves the trailing stop to price x (1 - distance) if that
// is above the current level. A trailing stop only moves in the position's
// favor; unfavorable price moves leave it where it is. Returns true when the
// level moved.
func (p *Position) RatchetTrailingStop(price decimal.Decimal, distance decimal.Decimal) bool {
	candidate := price.Mul(decimal.NewFromInt(1).Sub(distance))

	if p.TrailingStop.IsSome() && candidate.LessThanOrEqual(p.TrailingStop.Unwrap()) {
		return false
	}

	p.TrailingStop = optional.Some(candidate)

	return true
}

// StopTriggered checks the protective levels against the given price and
// returns the close reason for the first level crossed. Trailing stop and
// fixed stop both report as stop_loss.
func (p *Position) StopTriggered(price decimal.Decimal) (CloseReason, bool) {
	if p.StopLoss.IsSome() && price.LessThanOrEqual(p.StopLoss.Unwrap()) {
		return ReasonStopLoss, true
	}

	if p.TrailingStop.IsSome() && price.LessThanOrEqual(p.TrailingStop.Unwrap()) {
		return ReasonStopLoss, true
	}

	if p.TakeProfit.IsSome() && price.GreaterThanOrEqual(p.TakeProfit.Unwrap()) {
		return ReasonTakeProfit, true
	}

	return "", false
}
