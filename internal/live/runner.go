// Package live runs the execution engine against a streaming tick source and
// a real (or paper) venue. One worker goroutine owns all order submissions, so
// the venue sees at most one in-flight order at a time.
package live

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/meridian-lab/helmsman/internal/engine"
	"github.com/meridian-lab/helmsman/internal/gateway"
	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/market"
	"github.com/meridian-lab/helmsman/internal/types"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

const (
	defaultQueueSize         = 64
	defaultMonitorInterval   = time.Second
	defaultRiskSweepInterval = 5 * time.Second
	// submitTimeout bounds a single order submission, retries included.
	submitTimeout = 30 * time.Second
)

// AlertFunc is called when an exit could not be executed and the position is
// stuck CLOSING. Operators should treat this as a page.
type AlertFunc func(order types.Order, err error)

// Config tunes the live loop. Zero values fall back to the defaults above.
type Config struct {
	Symbols  []string `yaml:"symbols" json:"symbols" validate:"required,min=1"`
	Interval string   `yaml:"interval" json:"interval"`
	// QueueSize bounds the order queue between the evaluation paths and the
	// submission worker.
	QueueSize         int           `yaml:"queue_size" json:"queue_size"`
	MonitorInterval   time.Duration `yaml:"monitor_interval" json:"monitor_interval"`
	RiskSweepInterval time.Duration `yaml:"risk_sweep_interval" json:"risk_sweep_interval"`
}

// Validate checks the config against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid live configuration", err)
	}

	return nil
}

func (c *Config) withDefaults() Config {
	out := *c

	if out.Interval == "" {
		out.Interval = "1m"
	}

	if out.QueueSize <= 0 {
		out.QueueSize = defaultQueueSize
	}

	if out.MonitorInterval <= 0 {
		out.MonitorInterval = defaultMonitorInterval
	}

	if out.RiskSweepInterval <= 0 {
		out.RiskSweepInterval = defaultRiskSweepInterval
	}

	return out
}

// Runner wires the tick stream, the engine, and the venue together.
type Runner struct {
	config  Config
	engine  *engine.Engine
	gateway gateway.Gateway
	source  market.Source
	logger  *logger.Logger
	alert   AlertFunc

	orderCh  chan types.Order
	paused   atomic.Bool
	draining atomic.Bool

	curveMu sync.Mutex
	curve   types.EquityCurve
}

// NewRunner creates a live runner. alert may be nil.
func NewRunner(config Config, eng *engine.Engine, gw gateway.Gateway, source market.Source, log *logger.Logger, alert AlertFunc) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	config = config.withDefaults()

	if log == nil {
		log = logger.NewNopLogger()
	}

	if alert == nil {
		alert = func(types.Order, error) {}
	}

	return &Runner{
		config:  config,
		engine:  eng,
		gateway: gw,
		source:  source,
		logger:  log,
		alert:   alert,
		orderCh: make(chan types.Order, config.QueueSize),
	}, nil
}

// Run blocks until ctx is canceled, then shuts down in order: stop intake,
// reject everything still queued, force close open positions at the venue,
// and return once the last gateway call finished.
func (r *Runner) Run(ctx context.Context) error {
	var producers sync.WaitGroup

	var worker sync.WaitGroup

	worker.Add(1)

	go func() {
		defer worker.Done()
		r.workerLoop()
	}()

	producers.Add(3)

	go func() {
		defer producers.Done()
		r.ingestLoop(ctx)
	}()

	go func() {
		defer producers.Done()
		r.monitorLoop(ctx)
	}()

	go func() {
		defer producers.Done()
		r.sweepLoop(ctx)
	}()

	<-ctx.Done()
	r.logger.Info("shutdown requested, stopping intake")

	// Reject queued-but-not-submitted orders from this point on; the order
	// already in flight at the gateway still completes.
	r.draining.Store(true)

	// All producers observe ctx and stop enqueueing before the channel closes.
	producers.Wait()
	close(r.orderCh)
	worker.Wait()

	r.forceCloseAll()

	r.logger.Info("shutdown complete")

	return nil
}

// ingestLoop feeds stream ticks into the engine and queues the intents.
func (r *Runner) ingestLoop(ctx context.Context) {
	for data, err := range r.source.Stream(ctx, r.config.Symbols, r.config.Interval) {
		if err != nil {
			r.logger.Error("tick stream error", zap.Error(err))

			continue
		}

		intents := r.engine.Evaluate(data)

		for _, order := range intents {
			if r.paused.Load() && order.Side == types.SideBuy {
				r.logger.Info("paused, dropping entry intent", zap.String("symbol", order.Symbol))
				r.engine.AbortOrder(order.ID)

				continue
			}

			r.enqueue(order)
		}
	}
}

// monitorLoop polls the venue price for every held position, feeds it to the
// engine, and queues any stop-triggered exits. It also samples the equity
// curve.
func (r *Runner) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, pos := range r.engine.Positions() {
				price, err := r.gateway.GetPrice(ctx, pos.Symbol)
				if err != nil {
					r.logger.Warn("price poll failed", zap.String("symbol", pos.Symbol), zap.Error(err))

					continue
				}

				r.engine.UpdatePrice(pos.Symbol, price)
			}

			for _, order := range r.engine.CheckStops(now) {
				r.enqueue(order)
			}

			r.curveMu.Lock()
			r.curve = append(r.curve, types.EquityPoint{
				Time:   now,
				Equity: r.engine.MarkToMarket(nil),
			})
			r.curveMu.Unlock()
		}
	}
}

// sweepLoop periodically checks the daily loss limit and queues the flattening
// exits when it is breached.
func (r *Runner) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.RiskSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, order := range r.engine.RiskSweep(now) {
				r.enqueue(order)
			}
		}
	}
}

// workerLoop is the single submission path to the venue. During drain it
// rejects queued orders instead of submitting them; force close re-emits the
// exits afterwards.
func (r *Runner) workerLoop() {
	for order := range r.orderCh {
		if r.draining.Load() {
			r.logger.Warn("rejecting queued order during shutdown", zap.String("order_id", order.ID))
			r.engine.AbortOrder(order.ID)

			continue
		}

		r.submit(order)
	}
}

// submit executes one order against the venue and feeds the outcome back.
func (r *Runner) submit(order types.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	fill, err := r.gateway.SubmitMarketOrder(ctx, order)
	if err != nil {
		r.engine.AbortOrder(order.ID)

		if order.Side == types.SideSell {
			r.logger.Error("exit failed, position stuck closing",
				zap.String("symbol", order.Symbol),
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
			r.alert(order, err)
		} else {
			r.logger.Warn("entry failed",
				zap.String("symbol", order.Symbol),
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
		}

		return
	}

	if applyErr := r.engine.ApplyFill(fill); applyErr != nil {
		r.logger.Error("fill rejected by engine",
			zap.String("order_id", order.ID),
			zap.Error(applyErr),
		)
	}
}

// enqueue hands an order to the worker. A full queue rejects the order
// immediately; blocking the evaluation paths on a slow venue would stall tick
// processing.
func (r *Runner) enqueue(order types.Order) {
	if r.draining.Load() {
		r.engine.AbortOrder(order.ID)

		return
	}

	select {
	case r.orderCh <- order:
	default:
		r.logger.Error("order queue full, rejecting intent",
			zap.String("order_id", order.ID),
			zap.String("symbol", order.Symbol),
		)
		r.engine.AbortOrder(order.ID)

		if order.Side == types.SideSell {
			r.alert(order, errors.New(errors.ErrCodeQueueFull, "order queue full"))
		}
	}
}

// forceCloseAll closes every remaining position directly against the venue.
// Runs after the worker has stopped, so submissions are sequential.
func (r *Runner) forceCloseAll() {
	intents := r.engine.ForceCloseIntents(types.ReasonShutdown, time.Now())

	for _, order := range intents {
		r.submit(order)
	}
}

// Pause stops new entries; exits, stops, and sweeps keep working.
func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("strategy paused")
}

// Resume lifts a pause.
func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("strategy resumed")
}

// Paused reports whether entries are currently blocked.
func (r *Runner) Paused() bool {
	return r.paused.Load()
}

// ClosePosition requests a manual close. The exit is queued like any other
// intent.
func (r *Runner) ClosePosition(symbol string) error {
	order, err := r.engine.ClosePosition(symbol, time.Now())
	if err != nil {
		return err
	}

	r.enqueue(order)

	return nil
}

// Positions returns a snapshot of the held positions.
func (r *Runner) Positions() []types.Position {
	return r.engine.Positions()
}

// Trades returns a snapshot of the closed trades.
func (r *Runner) Trades() []types.Trade {
	return r.engine.Trades()
}

// EquityCurve returns the equity samples collected by the monitor loop.
func (r *Runner) EquityCurve() types.EquityCurve {
	r.curveMu.Lock()
	defer r.curveMu.Unlock()

	out := make(types.EquityCurve, len(r.curve))
	copy(out, r.curve)

	return out
}

// Metrics recomputes performance metrics from the current trade log and
// equity curve.
func (r *Runner) Metrics() types.PerformanceMetrics {
	return types.ComputeMetrics(r.Trades(), r.EquityCurve())
}

// Equity returns the account bookkeeping snapshot.
func (r *Runner) Equity() types.EquityState {
	return r.engine.EquityState()
}
