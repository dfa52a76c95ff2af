package market

import (
	"context"
	"iter"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/types"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

// WsKlineHandler receives kline events from the websocket.
type WsKlineHandler = binance.WsKlineHandler

// WsErrorHandler receives websocket transport errors.
type WsErrorHandler = binance.ErrHandler

// WebSocketService abstracts the Binance kline websocket for testing.
type WebSocketService interface {
	WsKlineServe(symbol, interval string, handler WsKlineHandler, errHandler WsErrorHandler) (doneC, stopC chan struct{}, err error)
}

// realWebSocketService dials the actual Binance websocket endpoint.
type realWebSocketService struct{}

func (realWebSocketService) WsKlineServe(symbol, interval string, handler WsKlineHandler, errHandler WsErrorHandler) (chan struct{}, chan struct{}, error) {
	return binance.WsKlineServe(symbol, interval, handler, errHandler)
}

// BinanceSource streams live candles from the Binance kline websocket. Only
// finalized candles are yielded, so each tick is a closed bar.
type BinanceSource struct {
	ws     WebSocketService
	logger *logger.Logger
}

// NewBinanceSource creates a live source against the Binance websocket API.
func NewBinanceSource(log *logger.Logger) *BinanceSource {
	return newBinanceSourceWithWebSocket(realWebSocketService{}, log)
}

// newBinanceSourceWithWebSocket is used by tests to inject a mock websocket.
func newBinanceSourceWithWebSocket(ws WebSocketService, log *logger.Logger) *BinanceSource {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &BinanceSource{ws: ws, logger: log}
}

type streamItem struct {
	data types.MarketData
	err  error
}

// Stream implements Source. One websocket connection is opened per symbol and
// their candles are fanned into a single time-ordered-per-symbol stream.
func (s *BinanceSource) Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.MarketData, error] {
	return func(yield func(types.MarketData, error) bool) {
		items := make(chan streamItem, len(symbols)*4)
		stops := make([]chan struct{}, 0, len(symbols))

		handler := func(event *binance.WsKlineEvent) {
			if event == nil || !event.Kline.IsFinal {
				return
			}

			data, err := convertKlineEvent(event)

			select {
			case items <- streamItem{data: data, err: err}:
			case <-ctx.Done():
			}
		}

		errHandler := func(err error) {
			select {
			case items <- streamItem{err: errors.Wrap(errors.ErrCodeStreamClosed, "websocket error", err)}:
			case <-ctx.Done():
			}
		}

		for _, symbol := range symbols {
			_, stopC, err := s.ws.WsKlineServe(symbol, interval, handler, errHandler)
			if err != nil {
				for _, stop := range stops {
					close(stop)
				}

				yield(types.MarketData{}, errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err,
					"failed to open kline stream for %s", symbol))

				return
			}

			s.logger.Info("kline stream opened", zap.String("symbol", symbol), zap.String("interval", interval))
			stops = append(stops, stopC)
		}

		defer func() {
			for _, stop := range stops {
				close(stop)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case item := <-items:
				if !yield(item.data, item.err) {
					return
				}
			}
		}
	}
}

// convertKlineEvent maps a finalized websocket kline to a MarketData tick.
// The bar is stamped with its open time.
func convertKlineEvent(event *binance.WsKlineEvent) (types.MarketData, error) {
	open, err := strconv.ParseFloat(event.Kline.Open, 64)
	if err != nil {
		return types.MarketData{}, errors.Wrap(errors.ErrCodeInvalidTick, "unparseable open price", err)
	}

	high, err := strconv.ParseFloat(event.Kline.High, 64)
	if err != nil {
		return types.MarketData{}, errors.Wrap(errors.ErrCodeInvalidTick, "unparseable high price", err)
	}

	low, err := strconv.ParseFloat(event.Kline.Low, 64)
	if err != nil {
		return types.MarketData{}, errors.Wrap(errors.ErrCodeInvalidTick, "unparseable low price", err)
	}

	closePrice, err := strconv.ParseFloat(event.Kline.Close, 64)
	if err != nil {
		return types.MarketData{}, errors.Wrap(errors.ErrCodeInvalidTick, "unparseable close price", err)
	}

	volume, err := strconv.ParseFloat(event.Kline.Volume, 64)
	if err != nil {
		return types.MarketData{}, errors.Wrap(errors.ErrCodeInvalidTick, "unparseable volume", err)
	}

	return types.MarketData{
		Symbol: event.Symbol,
		Time:   time.UnixMilli(event.Kline.StartTime),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}

var _ Source = (*BinanceSource)(nil)
