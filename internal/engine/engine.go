// Package engine holds the execution engine: the single owner of positions,
// account equity, and order intents. Runners feed it ticks and fills; it never
// talks to a gateway itself, it only emits intents for the runner to execute.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/risk"
	"github.com/meridian-lab/helmsman/internal/strategy"
	"github.com/meridian-lab/helmsman/internal/types"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

// Config holds the account and protective-level parameters. Fractions are
// relative to the entry price; a zero fraction disables that level.
type Config struct {
	InitialCapital       decimal.Decimal `yaml:"initial_capital" json:"initial_capital"`
	CommissionRate       decimal.Decimal `yaml:"commission_rate" json:"commission_rate"`
	StopLossFraction     decimal.Decimal `yaml:"stop_loss_fraction" json:"stop_loss_fraction"`
	TakeProfitFraction   decimal.Decimal `yaml:"take_profit_fraction" json:"take_profit_fraction"`
	TrailingStopFraction decimal.Decimal `yaml:"trailing_stop_fraction" json:"trailing_stop_fraction"`
}

// Validate checks the config against its constraints.
func (c *Config) Validate() error {
	one := decimal.NewFromInt(1)

	if !c.InitialCapital.IsPositive() {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "initial capital must be positive, got %s", c.InitialCapital)
	}

	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThanOrEqual(one) {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "commission rate must be in [0, 1), got %s", c.CommissionRate)
	}

	for _, fraction := range []decimal.Decimal{c.StopLossFraction, c.TakeProfitFraction, c.TrailingStopFraction} {
		if fraction.IsNegative() || fraction.GreaterThanOrEqual(one) {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "protective fractions must be in [0, 1), got %s", fraction)
		}
	}

	return nil
}

// positionKey identifies the at-most-one open position per strategy and
// instrument.
type positionKey struct {
	strategy string
	symbol   string
}

// pendingOrder tracks an intent the runner is executing. entry distinguishes
// opens from closes; key ties the fill back to the position slot.
type pendingOrder struct {
	order  types.Order
	key    positionKey
	entry  bool
	reason types.CloseReason
}

// Engine is the execution engine. All mutation happens under mu so runners may
// call it from ingestion, monitor, and worker goroutines concurrently.
type Engine struct {
	mu sync.Mutex

	config   Config
	provider strategy.Provider
	risk     *risk.Manager
	logger   *logger.Logger

	equity         types.EquityState
	positions      map[positionKey]*types.Position
	pendingEntries map[positionKey]string
	pendingOrders  map[string]pendingOrder
	trades         []types.Trade
	lastPrice      map[string]decimal.Decimal
}

// NewEngine creates an execution engine with the given strategy provider and
// risk manager. The equity day anchor is set by the first tick.
func NewEngine(config Config, provider strategy.Provider, riskManager *risk.Manager, log *logger.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if provider == nil {
		return nil, errors.New(errors.ErrCodeStrategyNotLoaded, "no strategy provider configured")
	}

	if riskManager == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "no risk manager configured")
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Engine{
		config:         config,
		provider:       provider,
		risk:           riskManager,
		logger:         log,
		equity:         types.NewEquityState(config.InitialCapital, time.Unix(0, 0)),
		positions:      make(map[positionKey]*types.Position),
		pendingEntries: make(map[positionKey]string),
		pendingOrders:  make(map[string]pendingOrder),
		lastPrice:      make(map[string]decimal.Decimal),
	}, nil
}

// Evaluate processes one tick: it feeds the strategy, ratchets trailing stops,
// checks protective levels, and returns the order intents (at most one) the
// runner should execute. Invalid ticks are skipped without touching any state.
func (e *Engine) Evaluate(data types.MarketData) []types.Order {
	if !data.Valid() {
		e.logger.Debug("skipping invalid tick", zap.String("symbol", data.Symbol), zap.Time("time", data.Time))

		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price := data.ClosePrice()
	e.lastPrice[data.Symbol] = price
	e.equity.RollDay(data.Time)

	key := positionKey{strategy: e.provider.Name(), symbol: data.Symbol}
	pos, open := e.positions[key]

	var entryPrice *decimal.Decimal
	if open {
		ep := pos.EntryPrice
		entryPrice = &ep
	}

	sig := strategy.Evaluate(e.provider, data, entryPrice)

	if open {
		// An exit is already in flight; nothing more to do for this slot.
		if pos.Status == types.PositionStatusClosing {
			return nil
		}

		if e.config.TrailingStopFraction.IsPositive() {
			pos.RatchetTrailingStop(price, e.config.TrailingStopFraction)
		}

		// Protective levels win over the strategy signal.
		if reason, hit := pos.StopTriggered(price); hit {
			return []types.Order{e.emitExitLocked(pos, key, reason, data.Time)}
		}

		if sig.Exit {
			return []types.Order{e.emitExitLocked(pos, key, types.ReasonSignal, data.Time)}
		}

		return nil
	}

	// Entry in flight for this slot; do not stack a second one.
	if _, inFlight := e.pendingEntries[key]; inFlight {
		return nil
	}

	if !sig.Enter {
		return nil
	}

	equity := e.totalEquityLocked()

	if err := e.risk.ApproveEntry(e.openCountLocked(), equity, e.equity.DailyPnL); err != nil {
		e.logger.Debug("entry not approved", zap.String("symbol", data.Symbol), zap.Error(err))

		return nil
	}

	quantity := e.risk.SizePosition(equity, price)
	if !quantity.IsPositive() {
		return nil
	}

	one := decimal.NewFromInt(1)

	cost := quantity.Mul(price).Mul(one.Add(e.config.CommissionRate))
	if cost.GreaterThan(e.equity.Cash) {
		e.logger.Warn("entry skipped: insufficient balance",
			zap.String("symbol", data.Symbol),
			zap.String("cost", cost.String()),
			zap.String("cash", e.equity.Cash.String()),
		)

		return nil
	}

	order := types.Order{
		ID:           uuid.NewString(),
		Symbol:       data.Symbol,
		Side:         types.SideBuy,
		Type:         types.OrderTypeMarket,
		Quantity:     quantity,
		Reason:       types.ReasonSignal,
		StrategyName: e.provider.Name(),
		CreatedAt:    data.Time,
	}

	e.pendingEntries[key] = order.ID
	e.pendingOrders[order.ID] = pendingOrder{order: order, key: key, entry: true, reason: types.ReasonSignal}

	e.logger.Info("entry intent",
		zap.String("symbol", data.Symbol),
		zap.String("quantity", quantity.String()),
		zap.String("order_id", order.ID),
	)

	return []types.Order{order}
}

// UpdatePrice records a price observed outside the tick stream, e.g. by the
// live monitor polling the gateway. It feeds the same best-known-price table
// that CheckStops and MarkToMarket read.
func (e *Engine) UpdatePrice(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPrice[symbol] = price
}

// CheckStops re-evaluates protective levels against the last known prices
// without feeding the strategy. The live monitor loop calls this between
// ticks.
func (e *Engine) CheckStops(at time.Time) []types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var intents []types.Order

	for key, pos := range e.positions {
		if pos.Status != types.PositionStatusOpen {
			continue
		}

		price, ok := e.lastPrice[pos.Symbol]
		if !ok {
			continue
		}

		if e.config.TrailingStopFraction.IsPositive() {
			pos.RatchetTrailingStop(price, e.config.TrailingStopFraction)
		}

		if reason, hit := pos.StopTriggered(price); hit {
			intents = append(intents, e.emitExitLocked(pos, key, reason, at))
		}
	}

	return intents
}

// RiskSweep flattens all positions when the daily loss limit is breached.
// Returns nil when the account is inside its limits.
func (e *Engine) RiskSweep(at time.Time) []types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.equity.RollDay(at)

	if !e.risk.DailyLossBreached(e.totalEquityLocked(), e.equity.DailyPnL) {
		return nil
	}

	e.logger.Warn("daily loss limit breached, flattening positions",
		zap.String("daily_pnl", e.equity.DailyPnL.String()),
	)

	return e.forceCloseLocked(types.ReasonRiskSweep, at)
}

// ForceCloseIntents emits exit intents for every position that is OPEN, or
// CLOSING with no exit order in flight (an earlier exit attempt was aborted).
// Used for shutdown and the risk sweep.
func (e *Engine) ForceCloseIntents(reason types.CloseReason, at time.Time) []types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.forceCloseLocked(reason, at)
}

func (e *Engine) forceCloseLocked(reason types.CloseReason, at time.Time) []types.Order {
	var intents []types.Order

	for key, pos := range e.positions {
		if pos.Status == types.PositionStatusClosing && e.hasPendingExitLocked(key) {
			continue
		}

		intents = append(intents, e.emitExitLocked(pos, key, reason, at))
	}

	return intents
}

// ClosePosition emits a manual exit intent for the strategy's position in
// symbol. Fails when no position exists or an exit is already in flight.
func (e *Engine) ClosePosition(symbol string, at time.Time) (types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := positionKey{strategy: e.provider.Name(), symbol: symbol}

	pos, ok := e.positions[key]
	if !ok {
		return types.Order{}, errors.Newf(errors.ErrCodePositionNotFound, "no open position for %s", symbol)
	}

	if pos.Status == types.PositionStatusClosing && e.hasPendingExitLocked(key) {
		return types.Order{}, errors.Newf(errors.ErrCodePositionClosing, "exit already in flight for %s", symbol)
	}

	return e.emitExitLocked(pos, key, types.ReasonManual, at), nil
}

// emitExitLocked transitions the position to CLOSING and registers the exit
// intent. Caller holds mu.
func (e *Engine) emitExitLocked(pos *types.Position, key positionKey, reason types.CloseReason, at time.Time) types.Order {
	pos.Status = types.PositionStatusClosing

	order := types.Order{
		ID:           uuid.NewString(),
		Symbol:       pos.Symbol,
		Side:         types.SideSell,
		Type:         types.OrderTypeMarket,
		Quantity:     pos.Quantity,
		Reason:       reason,
		StrategyName: pos.Strategy,
		CreatedAt:    at,
	}

	e.pendingOrders[order.ID] = pendingOrder{order: order, key: key, entry: false, reason: reason}

	e.logger.Info("exit intent",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", string(reason)),
		zap.String("order_id", order.ID),
	)

	return order
}

// ApplyFill confirms an executed order. Entry fills open the position at the
// executed quantity; exit fills realize the executed slice and free the slot
// once the position is fully closed. A fill for an unknown order is a
// bookkeeping fault.
func (e *Engine) ApplyFill(fill types.FillResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	po, ok := e.pendingOrders[fill.OrderID]
	if !ok {
		return errors.Newf(errors.ErrCodeFillMismatch, "fill for unknown order %s", fill.OrderID)
	}

	delete(e.pendingOrders, fill.OrderID)

	if po.entry {
		return e.applyEntryFillLocked(po, fill)
	}

	return e.applyExitFillLocked(po, fill)
}

func (e *Engine) applyEntryFillLocked(po pendingOrder, fill types.FillResult) error {
	delete(e.pendingEntries, po.key)

	if !fill.ExecutedQuantity.IsPositive() {
		e.logger.Warn("entry fill with zero quantity, dropping intent", zap.String("order_id", fill.OrderID))

		return nil
	}

	if fill.Partial {
		e.logger.Warn("partial entry fill, accepting executed quantity",
			zap.String("order_id", fill.OrderID),
			zap.String("requested", po.order.Quantity.String()),
			zap.String("executed", fill.ExecutedQuantity.String()),
		)
	}

	notional := fill.Price.Mul(fill.ExecutedQuantity)
	commission := notional.Mul(e.config.CommissionRate)

	one := decimal.NewFromInt(1)

	pos := &types.Position{
		Strategy:        po.key.strategy,
		Symbol:          po.key.symbol,
		EntryPrice:      fill.Price,
		Quantity:        fill.ExecutedQuantity,
		EntryTime:       fill.Timestamp,
		Status:          types.PositionStatusOpen,
		EntryCommission: commission,
	}

	if e.config.StopLossFraction.IsPositive() {
		pos.StopLoss = optional.Some(fill.Price.Mul(one.Sub(e.config.StopLossFraction)))
	}

	if e.config.TakeProfitFraction.IsPositive() {
		pos.TakeProfit = optional.Some(fill.Price.Mul(one.Add(e.config.TakeProfitFraction)))
	}

	if e.config.TrailingStopFraction.IsPositive() {
		pos.RatchetTrailingStop(fill.Price, e.config.TrailingStopFraction)
	}

	e.equity.ApplyEntry(notional, commission)
	e.positions[po.key] = pos

	e.logger.Info("position opened",
		zap.String("symbol", pos.Symbol),
		zap.String("entry_price", pos.EntryPrice.String()),
		zap.String("quantity", pos.Quantity.String()),
	)

	return nil
}

func (e *Engine) applyExitFillLocked(po pendingOrder, fill types.FillResult) error {
	pos, ok := e.positions[po.key]
	if !ok {
		return errors.Newf(errors.ErrCodeFillMismatch, "exit fill for missing position %s/%s", po.key.strategy, po.key.symbol)
	}

	if !fill.ExecutedQuantity.IsPositive() {
		e.logger.Warn("exit fill with zero quantity, keeping position closing", zap.String("order_id", fill.OrderID))

		return nil
	}

	executed := fill.ExecutedQuantity
	if executed.GreaterThan(pos.Quantity) {
		executed = pos.Quantity
	}

	remainder := pos.Quantity.Sub(executed)

	// A partial exit realizes only the executed slice of the position. The
	// entry commission is pro-rated so the eventual full close books the
	// same totals as a single fill would have.
	entryCommission := pos.EntryCommission
	if remainder.IsPositive() {
		entryCommission = pos.EntryCommission.Mul(executed).Div(pos.Quantity)
	}

	notional := fill.Price.Mul(executed)
	exitCommission := notional.Mul(e.config.CommissionRate)
	pnl := fill.Price.Sub(pos.EntryPrice).Mul(executed).Sub(entryCommission).Sub(exitCommission)

	e.equity.ApplyExit(notional, exitCommission, pnl, fill.Timestamp)

	trade := types.Trade{
		Strategy:        pos.Strategy,
		Symbol:          pos.Symbol,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       fill.Price,
		Quantity:        executed,
		EntryTime:       pos.EntryTime,
		ExitTime:        fill.Timestamp,
		EntryCommission: entryCommission,
		ExitCommission:  exitCommission,
		PnL:             pnl,
		Reason:          po.reason,
	}

	e.trades = append(e.trades, trade)

	if remainder.IsPositive() {
		pos.Quantity = remainder
		pos.EntryCommission = pos.EntryCommission.Sub(entryCommission)

		e.logger.Warn("partial exit fill, remainder stays closing",
			zap.String("order_id", fill.OrderID),
			zap.String("requested", po.order.Quantity.String()),
			zap.String("executed", executed.String()),
			zap.String("remainder", remainder.String()),
		)

		return nil
	}

	delete(e.positions, po.key)

	e.logger.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("pnl", pnl.String()),
		zap.String("reason", string(po.reason)),
	)

	return nil
}

// AbortOrder discards an intent whose execution failed for good. An aborted
// entry frees the slot for a later signal; an aborted exit leaves the position
// CLOSING so a later force close or manual close can retry it.
func (e *Engine) AbortOrder(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	po, ok := e.pendingOrders[orderID]
	if !ok {
		return
	}

	delete(e.pendingOrders, orderID)

	if po.entry {
		delete(e.pendingEntries, po.key)
		e.logger.Warn("entry aborted", zap.String("symbol", po.order.Symbol), zap.String("order_id", orderID))

		return
	}

	e.logger.Error("exit aborted, position stays closing",
		zap.String("symbol", po.order.Symbol),
		zap.String("order_id", orderID),
	)
}

func (e *Engine) hasPendingExitLocked(key positionKey) bool {
	for _, po := range e.pendingOrders {
		if !po.entry && po.key == key {
			return true
		}
	}

	return false
}

// openCountLocked counts positions holding a slot, OPEN or CLOSING, plus
// entries in flight.
func (e *Engine) openCountLocked() int {
	return len(e.positions) + len(e.pendingEntries)
}

// totalEquityLocked values the account at entry prices: cash plus the entry
// value of every held position. Price-independent, so sizing and risk checks
// do not swing with the current tick.
func (e *Engine) totalEquityLocked() decimal.Decimal {
	total := e.equity.Cash
	for _, pos := range e.positions {
		total = total.Add(pos.EntryValue())
	}

	return total
}

// TotalEquity is the locked variant of totalEquityLocked for callers outside
// the engine.
func (e *Engine) TotalEquity() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.totalEquityLocked()
}

// MarkToMarket values the account at the given prices: cash plus quantity
// times price for every held position. Falls back to the last known price,
// then the entry price, when a symbol is missing from prices.
func (e *Engine) MarkToMarket(prices map[string]decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := e.equity.Cash

	for _, pos := range e.positions {
		price, ok := prices[pos.Symbol]
		if !ok {
			price, ok = e.lastPrice[pos.Symbol]
		}

		if !ok {
			price = pos.EntryPrice
		}

		total = total.Add(pos.Quantity.Mul(price))
	}

	return total
}

// Positions returns a copy of the held positions.
func (e *Engine) Positions() []types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}

	return out
}

// Trades returns a copy of the closed trades in close order.
func (e *Engine) Trades() []types.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.Trade, len(e.trades))
	copy(out, e.trades)

	return out
}

// EquityState returns a snapshot of the account bookkeeping.
func (e *Engine) EquityState() types.EquityState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.equity
}

// PendingOrderCount reports how many intents are awaiting execution.
func (e *Engine) PendingOrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.pendingOrders)
}
