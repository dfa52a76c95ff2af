package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-lab/helmsman/internal/types"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

// SimGateway is an in-process execution venue. Backtests drive it with the
// replayed tick prices; paper trading drives it with live prices. Orders fill
// immediately at the mark price adjusted by the configured slippage.
type SimGateway struct {
	mu sync.Mutex

	prices   map[string]decimal.Decimal
	balances map[string]decimal.Decimal
	// slippage worsens every fill: buys fill at mark x (1 + slippage), sells
	// at mark x (1 - slippage).
	slippage decimal.Decimal
	// failures are scripted errors returned by upcoming submissions, consumed
	// in order. Tests use this to exercise abort paths.
	failures []error
	// clock supplies fill timestamps; settable so backtests stamp fills with
	// replay time instead of wall time.
	clock func() time.Time

	submitted []types.Order
}

// NewSimGateway creates a simulated venue with no slippage and wall-clock
// timestamps.
func NewSimGateway() *SimGateway {
	return &SimGateway{
		prices:   make(map[string]decimal.Decimal),
		balances: make(map[string]decimal.Decimal),
		clock:    time.Now,
	}
}

// SetPrice sets the mark price orders in symbol fill at.
func (g *SimGateway) SetPrice(symbol string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prices[symbol] = price
}

// SetBalance sets the free balance reported for an asset.
func (g *SimGateway) SetBalance(asset string, balance decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.balances[asset] = balance
}

// SetSlippage sets the fractional slippage applied to fills.
func (g *SimGateway) SetSlippage(slippage decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.slippage = slippage
}

// SetClock overrides the fill timestamp source.
func (g *SimGateway) SetClock(clock func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.clock = clock
}

// FailNext queues errors to be returned by the next submissions, in order.
func (g *SimGateway) FailNext(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures = append(g.failures, errs...)
}

// SubmittedOrders returns every order the venue accepted, in submission order.
func (g *SimGateway) SubmittedOrders() []types.Order {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]types.Order, len(g.submitted))
	copy(out, g.submitted)

	return out
}

// GetPrice implements Gateway.
func (g *SimGateway) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	price, ok := g.prices[symbol]
	if !ok {
		return decimal.Zero, errors.Newf(errors.ErrCodeDataNotFound, "no mark price for %s", symbol)
	}

	return price, nil
}

// GetBalance implements Gateway.
func (g *SimGateway) GetBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.balances[asset], nil
}

// SubmitMarketOrder implements Gateway. The fill price is the current mark
// price worsened by slippage in the order's direction.
func (g *SimGateway) SubmitMarketOrder(ctx context.Context, order types.Order) (types.FillResult, error) {
	if err := order.Validate(); err != nil {
		return types.FillResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return types.FillResult{}, errors.Wrap(errors.ErrCodeOrderFailed, "context canceled", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.failures) > 0 {
		err := g.failures[0]
		g.failures = g.failures[1:]

		return types.FillResult{}, err
	}

	mark, ok := g.prices[order.Symbol]
	if !ok {
		return types.FillResult{}, errors.Newf(errors.ErrCodeDataNotFound, "no mark price for %s", order.Symbol)
	}

	one := decimal.NewFromInt(1)

	price := mark
	if g.slippage.IsPositive() {
		if order.Side == types.SideBuy {
			price = mark.Mul(one.Add(g.slippage))
		} else {
			price = mark.Mul(one.Sub(g.slippage))
		}
	}

	g.submitted = append(g.submitted, order)

	return types.FillResult{
		OrderID:          order.ID,
		Price:            price,
		ExecutedQuantity: order.Quantity,
		Timestamp:        g.clock(),
	}, nil
}

// CancelOrder implements Gateway. Market orders fill immediately, so there is
// never anything resting to cancel.
func (g *SimGateway) CancelOrder(_ context.Context, _, _ string) error {
	return nil
}

var _ Gateway = (*SimGateway)(nil)
