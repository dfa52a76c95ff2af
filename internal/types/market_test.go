package types

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type MarketDataTestSuite struct {
	suite.Suite
}

func TestMarketDataSuite(t *testing.T) {
	suite.Run(t, new(MarketDataTestSuite))
}

func (suite *MarketDataTestSuite) TestValid() {
	data := MarketData{
		Symbol: "BTCUSDT",
		Time:   time.Now(),
		Open:   100,
		High:   105,
		Low:    99,
		Close:  104,
		Volume: 12.5,
	}
	suite.True(data.Valid())
}

func (suite *MarketDataTestSuite) TestInvalidTicks() {
	cases := []struct {
		name string
		data MarketData
	}{
		{"missing symbol", MarketData{Close: 100}},
		{"zero close", MarketData{Symbol: "BTCUSDT", Close: 0}},
		{"negative close", MarketData{Symbol: "BTCUSDT", Close: -1}},
		{"nan close", MarketData{Symbol: "BTCUSDT", Close: math.NaN()}},
		{"inf close", MarketData{Symbol: "BTCUSDT", Close: math.Inf(1)}},
	}

	for _, tc := range cases {
		suite.False(tc.data.Valid(), tc.name)
	}
}

func (suite *MarketDataTestSuite) TestClosePrice() {
	data := MarketData{Symbol: "BTCUSDT", Close: 104.25}
	suite.True(data.ClosePrice().Equal(decimal.NewFromFloat(104.25)))
}
