package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type EquityStateTestSuite struct {
	suite.Suite
	state EquityState
	start time.Time
}

func TestEquityStateSuite(t *testing.T) {
	suite.Run(t, new(EquityStateTestSuite))
}

func (suite *EquityStateTestSuite) SetupTest() {
	suite.start = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	suite.state = NewEquityState(decimal.NewFromInt(10000), suite.start)
}

func (suite *EquityStateTestSuite) TestApplyEntry() {
	suite.state.ApplyEntry(decimal.NewFromInt(1000), decimal.NewFromInt(1))

	suite.True(suite.state.Cash.Equal(decimal.NewFromInt(8999)))
	suite.True(suite.state.TotalCommission.Equal(decimal.NewFromInt(1)))
	suite.True(suite.state.RealizedPnL.IsZero())
}

func (suite *EquityStateTestSuite) TestApplyExit() {
	suite.state.ApplyEntry(decimal.NewFromInt(1000), decimal.NewFromInt(1))
	suite.state.ApplyExit(decimal.NewFromInt(1100), decimal.NewFromFloat(1.1), decimal.NewFromFloat(97.9), suite.start.Add(time.Hour))

	// 8999 + 1100 - 1.1
	suite.True(suite.state.Cash.Equal(decimal.NewFromFloat(10097.9)))
	suite.True(suite.state.TotalCommission.Equal(decimal.NewFromFloat(2.1)))
	suite.True(suite.state.RealizedPnL.Equal(decimal.NewFromFloat(97.9)))
	suite.True(suite.state.DailyPnL.Equal(decimal.NewFromFloat(97.9)))
}

func (suite *EquityStateTestSuite) TestDailyPnLResetsOnNewDay() {
	suite.state.ApplyExit(decimal.Zero, decimal.Zero, decimal.NewFromInt(-300), suite.start)
	suite.True(suite.state.DailyPnL.Equal(decimal.NewFromInt(-300)))

	nextDay := suite.start.Add(24 * time.Hour)
	suite.state.RollDay(nextDay)
	suite.True(suite.state.DailyPnL.IsZero())

	// Cumulative PnL is not reset
	suite.True(suite.state.RealizedPnL.Equal(decimal.NewFromInt(-300)))
}

func (suite *EquityStateTestSuite) TestRollDaySameDayNoReset() {
	suite.state.ApplyExit(decimal.Zero, decimal.Zero, decimal.NewFromInt(-300), suite.start)
	suite.state.RollDay(suite.start.Add(2 * time.Hour))
	suite.True(suite.state.DailyPnL.Equal(decimal.NewFromInt(-300)))
}
