package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/meridian-lab/helmsman/internal/types"
)

// Momentum enters when the return over the lookback window exceeds the entry
// threshold and exits when the move gives back more than the exit fraction
// from the entry price.
type Momentum struct {
	lookback       int
	enterThreshold decimal.Decimal
	exitDrawdown   decimal.Decimal
	windows        map[string][]decimal.Decimal
}

func NewMomentum(lookback int, enterThreshold, exitDrawdown decimal.Decimal) *Momentum {
	if lookback < 2 {
		lookback = 2
	}

	return &Momentum{
		lookback:       lookback,
		enterThreshold: enterThreshold,
		exitDrawdown:   exitDrawdown,
		windows:        make(map[string][]decimal.Decimal),
	}
}

// Name implements Provider.
func (m *Momentum) Name() string {
	return "momentum"
}

// Observe implements Provider.
func (m *Momentum) Observe(data types.MarketData) {
	window := append(m.windows[data.Symbol], data.ClosePrice())
	if len(window) > m.lookback {
		window = window[len(window)-m.lookback:]
	}

	m.windows[data.Symbol] = window
}

func (m *Momentum) lookbackReturn(symbol string) (decimal.Decimal, bool) {
	window := m.windows[symbol]
	if len(window) < m.lookback {
		return decimal.Zero, false
	}

	oldest := window[0]
	if oldest.IsZero() {
		return decimal.Zero, false
	}

	return window[len(window)-1].Sub(oldest).Div(oldest), true
}

// ShouldEnter implements Provider.
func (m *Momentum) ShouldEnter(symbol string, _ decimal.Decimal) bool {
	ret, ok := m.lookbackReturn(symbol)
	if !ok {
		return false
	}

	return ret.GreaterThanOrEqual(m.enterThreshold)
}

// ShouldExit implements Provider. Exits when price falls below
// entry x (1 - exitDrawdown) or the lookback momentum flips negative.
func (m *Momentum) ShouldExit(symbol string, price decimal.Decimal, entryPrice decimal.Decimal) bool {
	floor := entryPrice.Mul(decimal.NewFromInt(1).Sub(m.exitDrawdown))
	if price.LessThanOrEqual(floor) {
		return true
	}

	ret, ok := m.lookbackReturn(symbol)
	if !ok {
		return false
	}

	return ret.LessThanOrEqual(m.enterThreshold.Neg())
}

var _ Provider = (*Momentum)(nil)
