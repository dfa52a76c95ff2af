// Package gateway abstracts order execution venues. The runners submit the
// engine's intents through a Gateway and feed the resulting fills back into
// the engine.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/meridian-lab/helmsman/internal/types"
)

// Gateway is the execution venue. SubmitMarketOrder blocks until the venue
// confirms a fill or the attempt fails for good; transient venue errors are
// retried inside the implementation.
type Gateway interface {
	// GetPrice returns the current price for a symbol.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetBalance returns the free balance for an asset.
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	// SubmitMarketOrder executes a market order and returns the aggregated
	// fill. The fill's OrderID always equals the submitted order's ID.
	SubmitMarketOrder(ctx context.Context, order types.Order) (types.FillResult, error)
	// CancelOrder cancels a resting order by its client order ID.
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
