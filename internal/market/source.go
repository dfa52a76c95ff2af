// Package market provides tick sources: historical files replayed through
// DuckDB and live Binance kline websockets. Both yield the same stream shape
// so the runners do not care where ticks come from.
package market

import (
	"context"
	"iter"

	"github.com/meridian-lab/helmsman/internal/types"
)

// Source yields market data ticks in time order.
type Source interface {
	// Stream returns an iterator over ticks for the given symbols. The
	// iterator yields MarketData and error pairs; cancel the context to stop
	// streaming. Uses the Go 1.23+ iter.Seq2 pattern.
	Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.MarketData, error]
}
