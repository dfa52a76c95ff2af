package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/helmsman/internal/types"
)

type StrategyTestSuite struct {
	suite.Suite
}

func TestStrategySuite(t *testing.T) {
	suite.Run(t, new(StrategyTestSuite))
}

func feed(p Provider, symbol string, prices ...float64) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, price := range prices {
		p.Observe(types.MarketData{
			Symbol: symbol,
			Time:   start.Add(time.Duration(i) * time.Minute),
			Close:  price,
		})
	}
}

func (suite *StrategyTestSuite) TestSMACrossNotPrimed() {
	p := NewSMACross(2, 4)
	feed(p, "BTCUSDT", 100, 101)

	suite.False(p.ShouldEnter("BTCUSDT", decimal.NewFromInt(101)))
	suite.False(p.ShouldExit("BTCUSDT", decimal.NewFromInt(101), decimal.NewFromInt(100)))
}

func (suite *StrategyTestSuite) TestSMACrossEnterOnUpwardCross() {
	p := NewSMACross(2, 4)

	// Downtrend first: fast below slow once the window is full
	feed(p, "BTCUSDT", 110, 108, 106, 104)
	suite.False(p.ShouldEnter("BTCUSDT", decimal.NewFromInt(104)))

	feed(p, "BTCUSDT", 103)
	suite.False(p.ShouldEnter("BTCUSDT", decimal.NewFromInt(103)))

	// Sharp reversal: fast average crosses above slow
	feed(p, "BTCUSDT", 112)
	suite.True(p.ShouldEnter("BTCUSDT", decimal.NewFromInt(112)))
}

func (suite *StrategyTestSuite) TestSMACrossNoReentryWithoutNewCross() {
	p := NewSMACross(2, 4)
	feed(p, "BTCUSDT", 110, 108, 106, 104, 103, 112)
	suite.True(p.ShouldEnter("BTCUSDT", decimal.NewFromInt(112)))

	// Still above: no second entry signal
	feed(p, "BTCUSDT", 118)
	suite.False(p.ShouldEnter("BTCUSDT", decimal.NewFromInt(118)))
}

func (suite *StrategyTestSuite) TestSMACrossNoEntryOnFreshlyPrimedUptrend() {
	p := NewSMACross(2, 4)

	// The very first full window already has fast > slow; without a prior
	// sample to compare against this must not count as a cross.
	feed(p, "BTCUSDT", 100, 104, 108, 112)
	suite.False(p.ShouldEnter("BTCUSDT", decimal.NewFromInt(112)))
}

func (suite *StrategyTestSuite) TestSMACrossExitOnDownwardCross() {
	p := NewSMACross(2, 4)
	feed(p, "BTCUSDT", 100, 104, 108, 112)
	suite.False(p.ShouldExit("BTCUSDT", decimal.NewFromInt(112), decimal.NewFromInt(100)))

	feed(p, "BTCUSDT", 95)
	suite.True(p.ShouldExit("BTCUSDT", decimal.NewFromInt(95), decimal.NewFromInt(100)))
}

func (suite *StrategyTestSuite) TestSMACrossTracksSymbolsIndependently() {
	p := NewSMACross(2, 4)
	feed(p, "BTCUSDT", 110, 108, 106, 104, 103, 112)
	feed(p, "ETHUSDT", 100, 100)

	suite.True(p.ShouldEnter("BTCUSDT", decimal.NewFromInt(112)))
	suite.False(p.ShouldEnter("ETHUSDT", decimal.NewFromInt(100)))
}

func (suite *StrategyTestSuite) TestMomentumEnter() {
	p := NewMomentum(3, decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.02))

	feed(p, "BTCUSDT", 100, 103)
	suite.False(p.ShouldEnter("BTCUSDT", decimal.NewFromInt(103)))

	// 100 -> 106 over the window: +6% >= 5%
	feed(p, "BTCUSDT", 106)
	suite.True(p.ShouldEnter("BTCUSDT", decimal.NewFromInt(106)))
}

func (suite *StrategyTestSuite) TestMomentumExitOnDrawdownFloor() {
	p := NewMomentum(3, decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.02))
	feed(p, "BTCUSDT", 100, 103, 106)

	entry := decimal.NewFromInt(106)
	// 106 * 0.98 = 103.88
	suite.True(p.ShouldExit("BTCUSDT", decimal.NewFromFloat(103.5), entry))
	suite.False(p.ShouldExit("BTCUSDT", decimal.NewFromInt(105), entry))
}

func (suite *StrategyTestSuite) TestMomentumExitOnReversal() {
	p := NewMomentum(3, decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.5))
	feed(p, "BTCUSDT", 106, 100, 100)

	// Lookback return is -5.66%, below -5% threshold; floor not hit
	suite.True(p.ShouldExit("BTCUSDT", decimal.NewFromInt(100), decimal.NewFromInt(102)))
}

func (suite *StrategyTestSuite) TestEvaluateAsksOnlyOneQuestion() {
	p := NewMomentum(2, decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.02))

	tick := types.MarketData{Symbol: "BTCUSDT", Time: time.Now(), Close: 110}

	// Flat: no open position, only the entry question is asked
	feed(p, "BTCUSDT", 100)

	sig := Evaluate(p, tick, nil)
	suite.True(sig.Enter)
	suite.False(sig.Exit)

	// Open position: only the exit question is asked
	entry := decimal.NewFromInt(120)
	sig = Evaluate(p, tick, &entry)
	suite.False(sig.Enter)
	suite.True(sig.Exit)
}
