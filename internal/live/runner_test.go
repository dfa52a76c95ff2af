package live

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/helmsman/internal/engine"
	"github.com/meridian-lab/helmsman/internal/gateway"
	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/risk"
	"github.com/meridian-lab/helmsman/internal/types"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

// chanSource feeds ticks pushed by the test into the runner.
type chanSource struct {
	ch chan types.MarketData
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan types.MarketData, 16)}
}

func (s *chanSource) push(data types.MarketData) {
	s.ch <- data
}

func (s *chanSource) Stream(ctx context.Context, _ []string, _ string) iter.Seq2[types.MarketData, error] {
	return func(yield func(types.MarketData, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-s.ch:
				if !ok {
					return
				}

				if !yield(data, nil) {
					return
				}
			}
		}
	}
}

// gatedGateway blocks submissions once armed so a test can pin the worker
// inside a submit call.
type gatedGateway struct {
	*gateway.SimGateway
	armed   atomic.Bool
	entered atomic.Int32
	gate    chan struct{}
}

func newGatedGateway(sim *gateway.SimGateway) *gatedGateway {
	return &gatedGateway{SimGateway: sim, gate: make(chan struct{})}
}

func (g *gatedGateway) SubmitMarketOrder(ctx context.Context, order types.Order) (types.FillResult, error) {
	if g.armed.Load() {
		g.entered.Add(1)
		<-g.gate
	}

	return g.SimGateway.SubmitMarketOrder(ctx, order)
}

// thresholdProvider enters at or below enterAt, exits at or above exitAt.
type thresholdProvider struct {
	enterAt decimal.Decimal
	exitAt  decimal.Decimal
}

func (p *thresholdProvider) Name() string               { return "threshold" }
func (p *thresholdProvider) Observe(_ types.MarketData) {}

func (p *thresholdProvider) ShouldEnter(_ string, price decimal.Decimal) bool {
	return price.LessThanOrEqual(p.enterAt)
}

func (p *thresholdProvider) ShouldExit(_ string, price decimal.Decimal, _ decimal.Decimal) bool {
	return price.GreaterThanOrEqual(p.exitAt)
}

type LiveRunnerTestSuite struct {
	suite.Suite

	source  *chanSource
	gateway *gateway.SimGateway
	engine  *engine.Engine
	runner  *Runner

	alertMu sync.Mutex
	alerts  []error

	cancel context.CancelFunc
	done   chan struct{}
}

func TestLiveRunnerSuite(t *testing.T) {
	suite.Run(t, new(LiveRunnerTestSuite))
}

func (suite *LiveRunnerTestSuite) SetupTest() {
	suite.alerts = nil
	suite.source = newChanSource()
	suite.gateway = gateway.NewSimGateway()
	suite.gateway.SetPrice("BTCUSDT", decimal.NewFromInt(100))

	suite.buildRunner(engine.Config{
		InitialCapital: decimal.NewFromInt(10000),
	})
}

func (suite *LiveRunnerTestSuite) buildRunner(engineConfig engine.Config) {
	provider := &thresholdProvider{
		enterAt: decimal.NewFromInt(100),
		exitAt:  decimal.NewFromInt(110),
	}

	manager, err := risk.NewManager(risk.Config{
		MaxPositionFraction:    0.01,
		MaxOpenPositions:       3,
		DailyLossLimitFraction: 0.03,
	}, logger.NewNopLogger())
	suite.Require().NoError(err)

	eng, err := engine.NewEngine(engineConfig, provider, manager, logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.engine = eng

	alert := func(order types.Order, alertErr error) {
		suite.alertMu.Lock()
		defer suite.alertMu.Unlock()

		suite.alerts = append(suite.alerts, alertErr)
	}

	runner, err := NewRunner(Config{
		Symbols:           []string{"BTCUSDT"},
		QueueSize:         8,
		MonitorInterval:   10 * time.Millisecond,
		RiskSweepInterval: 20 * time.Millisecond,
	}, eng, suite.gateway, suite.source, logger.NewNopLogger(), alert)
	suite.Require().NoError(err)
	suite.runner = runner
}

func (suite *LiveRunnerTestSuite) startRunner() {
	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	suite.done = make(chan struct{})

	go func() {
		defer close(suite.done)

		_ = suite.runner.Run(ctx)
	}()
}

func (suite *LiveRunnerTestSuite) stopRunner() {
	suite.cancel()

	select {
	case <-suite.done:
	case <-time.After(5 * time.Second):
		suite.FailNow("runner did not shut down")
	}
}

func (suite *LiveRunnerTestSuite) tick(price float64) types.MarketData {
	return suite.tickFor("BTCUSDT", price)
}

func (suite *LiveRunnerTestSuite) tickFor(symbol string, price float64) types.MarketData {
	return types.MarketData{
		Symbol: symbol,
		Time:   time.Now(),
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: 1,
	}
}

func (suite *LiveRunnerTestSuite) alertCount() int {
	suite.alertMu.Lock()
	defer suite.alertMu.Unlock()

	return len(suite.alerts)
}

func (suite *LiveRunnerTestSuite) TestEntryAndSignalExit() {
	suite.startRunner()
	defer suite.stopRunner()

	suite.source.push(suite.tick(100))

	suite.Eventually(func() bool {
		return len(suite.runner.Positions()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	suite.gateway.SetPrice("BTCUSDT", decimal.NewFromInt(110))
	suite.source.push(suite.tick(110))

	suite.Eventually(func() bool {
		return len(suite.runner.Trades()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	trade := suite.runner.Trades()[0]
	suite.Equal(types.ReasonSignal, trade.Reason)
	suite.True(trade.ExitPrice.Equal(decimal.NewFromInt(110)))
}

func (suite *LiveRunnerTestSuite) TestShutdownForceClosesPositions() {
	suite.startRunner()

	suite.source.push(suite.tick(100))

	suite.Eventually(func() bool {
		return len(suite.runner.Positions()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	suite.stopRunner()

	trades := suite.runner.Trades()
	suite.Require().Len(trades, 1)
	suite.Equal(types.ReasonShutdown, trades[0].Reason)
	suite.Empty(suite.runner.Positions())
}

func (suite *LiveRunnerTestSuite) TestPauseBlocksEntriesOnly() {
	suite.startRunner()
	defer suite.stopRunner()

	suite.runner.Pause()
	suite.True(suite.runner.Paused())

	suite.source.push(suite.tick(100))

	// The entry intent is dropped; nothing ever opens
	time.Sleep(100 * time.Millisecond)
	suite.Empty(suite.runner.Positions())

	suite.runner.Resume()
	suite.source.push(suite.tick(99))

	suite.Eventually(func() bool {
		return len(suite.runner.Positions()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func (suite *LiveRunnerTestSuite) TestMonitorTriggersStopLoss() {
	suite.buildRunner(engine.Config{
		InitialCapital:   decimal.NewFromInt(10000),
		StopLossFraction: decimal.NewFromFloat(0.05),
	})

	suite.startRunner()
	defer suite.stopRunner()

	suite.source.push(suite.tick(100))

	suite.Eventually(func() bool {
		return len(suite.runner.Positions()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// No further ticks: the monitor poll must notice the drop on its own
	suite.gateway.SetPrice("BTCUSDT", decimal.NewFromInt(90))

	suite.Eventually(func() bool {
		trades := suite.runner.Trades()

		return len(trades) == 1 && trades[0].Reason == types.ReasonStopLoss
	}, 2*time.Second, 5*time.Millisecond)
}

func (suite *LiveRunnerTestSuite) TestExitFailureRaisesAlertAndShutdownRecovers() {
	suite.startRunner()

	suite.source.push(suite.tick(100))

	suite.Eventually(func() bool {
		return len(suite.runner.Positions()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The signal exit fails at the venue; the position sticks in CLOSING
	suite.gateway.FailNext(errors.New(errors.ErrCodeRetryExhausted, "venue down"))
	suite.gateway.SetPrice("BTCUSDT", decimal.NewFromInt(110))
	suite.source.push(suite.tick(110))

	suite.Eventually(func() bool {
		return suite.alertCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	positions := suite.runner.Positions()
	suite.Require().Len(positions, 1)
	suite.Equal(types.PositionStatusClosing, positions[0].Status)

	// Shutdown re-emits the exit and the venue accepts it this time
	suite.stopRunner()

	trades := suite.runner.Trades()
	suite.Require().Len(trades, 1)
	suite.Equal(types.ReasonShutdown, trades[0].Reason)
}

func (suite *LiveRunnerTestSuite) TestManualClose() {
	suite.startRunner()
	defer suite.stopRunner()

	suite.source.push(suite.tick(100))

	suite.Eventually(func() bool {
		return len(suite.runner.Positions()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	suite.Require().NoError(suite.runner.ClosePosition("BTCUSDT"))

	suite.Eventually(func() bool {
		trades := suite.runner.Trades()

		return len(trades) == 1 && trades[0].Reason == types.ReasonManual
	}, 2*time.Second, 5*time.Millisecond)

	suite.Error(suite.runner.ClosePosition("BTCUSDT"))
}

func (suite *LiveRunnerTestSuite) TestShutdownRejectsQueuedOrders() {
	sim := gateway.NewSimGateway()
	sim.SetPrice("BTCUSDT", decimal.NewFromInt(100))
	sim.SetPrice("ETHUSDT", decimal.NewFromInt(100))
	gated := newGatedGateway(sim)

	provider := &thresholdProvider{
		enterAt: decimal.NewFromInt(100),
		exitAt:  decimal.NewFromInt(110),
	}

	manager, err := risk.NewManager(risk.Config{
		MaxPositionFraction:    0.01,
		MaxOpenPositions:       3,
		DailyLossLimitFraction: 0.03,
	}, logger.NewNopLogger())
	suite.Require().NoError(err)

	eng, err := engine.NewEngine(engine.Config{
		InitialCapital: decimal.NewFromInt(10000),
	}, provider, manager, logger.NewNopLogger())
	suite.Require().NoError(err)

	runner, err := NewRunner(Config{
		Symbols:           []string{"BTCUSDT", "ETHUSDT"},
		QueueSize:         8,
		MonitorInterval:   time.Hour,
		RiskSweepInterval: time.Hour,
	}, eng, gated, suite.source, logger.NewNopLogger(), nil)
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = runner.Run(ctx)
	}()

	suite.source.push(suite.tickFor("BTCUSDT", 100))
	suite.source.push(suite.tickFor("ETHUSDT", 100))

	suite.Eventually(func() bool {
		return len(runner.Positions()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	// Pin the worker inside the first exit submission; the second exit stays
	// queued behind it
	gated.armed.Store(true)
	sim.SetPrice("BTCUSDT", decimal.NewFromInt(110))
	sim.SetPrice("ETHUSDT", decimal.NewFromInt(110))
	suite.source.push(suite.tickFor("BTCUSDT", 110))
	suite.source.push(suite.tickFor("ETHUSDT", 110))

	suite.Eventually(func() bool {
		return gated.entered.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()

	// Let the runner enter draining before the venue unblocks
	time.Sleep(50 * time.Millisecond)
	gated.armed.Store(false)
	close(gated.gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		suite.FailNow("runner did not shut down")
	}

	trades := runner.Trades()
	suite.Require().Len(trades, 2)

	reasons := make(map[types.CloseReason]int)
	for _, trade := range trades {
		reasons[trade.Reason]++
	}

	// The in-flight exit completes as a signal exit; the queued one is
	// rejected and re-emitted by the shutdown force close
	suite.Equal(1, reasons[types.ReasonSignal])
	suite.Equal(1, reasons[types.ReasonShutdown])
	suite.Empty(runner.Positions())
}

func (suite *LiveRunnerTestSuite) TestEquityCurveSampled() {
	suite.startRunner()
	defer suite.stopRunner()

	suite.Eventually(func() bool {
		return len(suite.runner.EquityCurve()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	for _, point := range suite.runner.EquityCurve() {
		suite.True(point.Equity.Equal(decimal.NewFromInt(10000)))
	}
}

func (suite *LiveRunnerTestSuite) TestConfigValidation() {
	_, err := NewRunner(Config{}, nil, suite.gateway, suite.source, logger.NewNopLogger(), nil)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}
