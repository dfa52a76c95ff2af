package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/meridian-lab/helmsman/internal/types"
)

// SMACross enters on the tick where the fast moving average crosses above the
// slow one and exits while the fast average sits below the slow one. Windows
// and cross state are tracked per symbol.
type SMACross struct {
	fastPeriod int
	slowPeriod int
	state      map[string]*smaState
}

type smaState struct {
	window    []decimal.Decimal
	prevAbove bool
	havePrev  bool
	crossUp   bool
	below     bool
}

// NewSMACross creates an SMA crossover provider. slowPeriod must be larger
// than fastPeriod; until slowPeriod ticks have been observed for a symbol the
// provider answers false.
func NewSMACross(fastPeriod, slowPeriod int) *SMACross {
	if fastPeriod < 1 {
		fastPeriod = 1
	}

	if slowPeriod <= fastPeriod {
		slowPeriod = fastPeriod + 1
	}

	return &SMACross{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		state:      make(map[string]*smaState),
	}
}

// Name implements Provider.
func (s *SMACross) Name() string {
	return "sma_cross"
}

// Observe implements Provider. Cross detection happens here so that
// ShouldEnter/ShouldExit stay pure queries over the latest tick.
func (s *SMACross) Observe(data types.MarketData) {
	st, ok := s.state[data.Symbol]
	if !ok {
		st = &smaState{}
		s.state[data.Symbol] = st
	}

	st.window = append(st.window, data.ClosePrice())
	if len(st.window) > s.slowPeriod {
		st.window = st.window[len(st.window)-s.slowPeriod:]
	}

	st.crossUp = false
	st.below = false

	if len(st.window) < s.slowPeriod {
		return
	}

	fast := mean(st.window[len(st.window)-s.fastPeriod:])
	slow := mean(st.window)
	above := fast.GreaterThan(slow)

	st.crossUp = above && st.havePrev && !st.prevAbove
	st.below = !above
	st.prevAbove = above
	st.havePrev = true
}

// ShouldEnter implements Provider. True only on the tick of an upward cross,
// so a freshly primed window does not trigger an immediate entry.
func (s *SMACross) ShouldEnter(symbol string, _ decimal.Decimal) bool {
	st, ok := s.state[symbol]
	if !ok {
		return false
	}

	return st.crossUp
}

// ShouldExit implements Provider.
func (s *SMACross) ShouldExit(symbol string, _ decimal.Decimal, _ decimal.Decimal) bool {
	st, ok := s.state[symbol]
	if !ok {
		return false
	}

	return st.below
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}

	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

var _ Provider = (*SMACross)(nil)
