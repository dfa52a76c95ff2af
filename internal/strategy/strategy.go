// Package strategy defines the signal interface the runners evaluate on every
// tick, plus the built-in providers. Providers are selected at construction
// time; the engine never inspects their concrete type.
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/meridian-lab/helmsman/internal/types"
)

// Provider answers entry/exit questions for an instrument. Implementations may
// keep their own rolling state (fed through Observe) but must be side-effect
// free with respect to engine state.
type Provider interface {
	// Name identifies the strategy in positions, trades, and logs.
	Name() string
	// Observe feeds one tick into the provider's rolling state. Called before
	// ShouldEnter/ShouldExit for the same tick.
	Observe(data types.MarketData)
	// ShouldEnter reports whether a new long position should be opened.
	ShouldEnter(symbol string, price decimal.Decimal) bool
	// ShouldExit reports whether the open position entered at entryPrice
	// should be closed.
	ShouldExit(symbol string, price decimal.Decimal, entryPrice decimal.Decimal) bool
}

// Signal is the outcome of one provider evaluation, handed to the engine.
type Signal struct {
	Enter bool
	Exit  bool
}

// Evaluate runs the provider against a tick. When a position is open only the
// exit question is asked, otherwise only the entry question; asking both would
// let a provider flap between answers within a single tick.
func Evaluate(p Provider, data types.MarketData, entryPrice *decimal.Decimal) Signal {
	p.Observe(data)

	price := data.ClosePrice()

	if entryPrice != nil {
		return Signal{Exit: p.ShouldExit(data.Symbol, price, *entryPrice)}
	}

	return Signal{Enter: p.ShouldEnter(data.Symbol, price)}
}
