package market

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/types"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

const testCSV = `time,symbol,open,high,low,close,volume
2024-01-01 00:00:00,BTCUSDT,100,101,99,100.5,10
2024-01-01 00:01:00,BTCUSDT,100.5,102,100,101.5,12
2024-01-01 00:00:30,ETHUSDT,50,51,49,50.5,5
2024-01-01 00:02:00,BTCUSDT,101.5,103,101,102.5,8
`

type HistoricalSourceTestSuite struct {
	suite.Suite
	source *HistoricalSource
}

func TestHistoricalSourceSuite(t *testing.T) {
	suite.Run(t, new(HistoricalSourceTestSuite))
}

func (suite *HistoricalSourceTestSuite) SetupTest() {
	path := filepath.Join(suite.T().TempDir(), "candles.csv")
	suite.Require().NoError(os.WriteFile(path, []byte(testCSV), 0o600))

	source, err := NewHistoricalSource(path, logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.source = source
}

func (suite *HistoricalSourceTestSuite) TearDownTest() {
	if suite.source != nil {
		suite.Require().NoError(suite.source.Close())
	}
}

func (suite *HistoricalSourceTestSuite) collect(symbols []string, interval string) []types.MarketData {
	var out []types.MarketData

	for data, err := range suite.source.Stream(context.Background(), symbols, interval) {
		suite.Require().NoError(err)
		out = append(out, data)
	}

	return out
}

func (suite *HistoricalSourceTestSuite) TestStreamOrderedByTime() {
	ticks := suite.collect([]string{"BTCUSDT", "ETHUSDT"}, "")
	suite.Require().Len(ticks, 4)

	for i := 1; i < len(ticks); i++ {
		suite.False(ticks[i].Time.Before(ticks[i-1].Time), "ticks out of order at %d", i)
	}

	// The ETH tick interleaves between the first two BTC bars
	suite.Equal("ETHUSDT", ticks[1].Symbol)
}

func (suite *HistoricalSourceTestSuite) TestStreamFiltersSymbols() {
	ticks := suite.collect([]string{"ETHUSDT"}, "")
	suite.Require().Len(ticks, 1)
	suite.Equal("ETHUSDT", ticks[0].Symbol)
	suite.InDelta(50.5, ticks[0].Close, 1e-9)
}

func (suite *HistoricalSourceTestSuite) TestStreamResamples() {
	// All three BTC minute bars collapse into one 5m bucket
	ticks := suite.collect([]string{"BTCUSDT"}, "5m")
	suite.Require().Len(ticks, 1)

	bar := ticks[0]
	suite.InDelta(100, bar.Open, 1e-9)
	suite.InDelta(103, bar.High, 1e-9)
	suite.InDelta(99, bar.Low, 1e-9)
	suite.InDelta(102.5, bar.Close, 1e-9)
	suite.InDelta(30, bar.Volume, 1e-9)
}

func (suite *HistoricalSourceTestSuite) TestStreamUnsupportedInterval() {
	var streamErr error

	for _, err := range suite.source.Stream(context.Background(), []string{"BTCUSDT"}, "7m") {
		streamErr = err

		break
	}

	suite.True(errors.HasCode(streamErr, errors.ErrCodeInvalidParameter))
}

func (suite *HistoricalSourceTestSuite) TestCount() {
	count, err := suite.source.Count([]string{"BTCUSDT"})
	suite.Require().NoError(err)
	suite.Equal(3, count)

	count, err = suite.source.Count([]string{"BTCUSDT", "ETHUSDT"})
	suite.Require().NoError(err)
	suite.Equal(4, count)
}

func (suite *HistoricalSourceTestSuite) TestStreamStopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen int

	for _, err := range suite.source.Stream(ctx, []string{"BTCUSDT", "ETHUSDT"}, "") {
		suite.Require().NoError(err)
		seen++

		cancel()

		break
	}

	suite.Equal(1, seen)
}
