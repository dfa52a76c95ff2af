package gateway

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/types"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

const (
	// binanceMaxRetries bounds the retry loop for transient venue errors.
	binanceMaxRetries = 3
	// binanceInitialBackoff is the first retry delay; subsequent delays grow
	// exponentially.
	binanceInitialBackoff = 500 * time.Millisecond
	// binanceQuantityPrecision is the decimal precision quantities are
	// truncated to before submission.
	binanceQuantityPrecision = 8
)

// Service interfaces for mocking the Binance API

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// ListPricesService interface for fetching ticker prices.
type ListPricesService interface {
	Symbol(symbol string) ListPricesService
	Do(ctx context.Context) ([]*binance.SymbolPrice, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// CancelOrderService interface for canceling orders.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrigClientOrderID(id string) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

// BinanceClient interface abstracts the Binance client for testing.
type BinanceClient interface {
	NewCreateOrderService() CreateOrderService
	NewListPricesService() ListPricesService
	NewGetAccountService() GetAccountService
	NewCancelOrderService() CancelOrderService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewListPricesService() ListPricesService {
	return &realListPricesService{service: r.client.NewListPricesService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

func (r *realBinanceClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{service: r.client.NewCancelOrderService()}
}

// Real service wrappers

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	s.service = s.service.NewClientOrderID(id)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realListPricesService struct {
	service *binance.ListPricesService
}

func (s *realListPricesService) Symbol(symbol string) ListPricesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListPricesService) Do(ctx context.Context) ([]*binance.SymbolPrice, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

type realCancelOrderService struct {
	service *binance.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCancelOrderService) OrigClientOrderID(id string) CancelOrderService {
	s.service = s.service.OrigClientOrderID(id)

	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return s.service.Do(ctx)
}

// BinanceConfig holds the API credentials and endpoint selection.
type BinanceConfig struct {
	APIKey    string `yaml:"api_key" json:"api_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	// BaseURL overrides the endpoint; takes precedence over UseTestnet.
	BaseURL    string `yaml:"base_url" json:"base_url"`
	UseTestnet bool   `yaml:"use_testnet" json:"use_testnet"`
}

// BinanceGateway implements Gateway against the Binance spot API. It is
// stateless; the engine owns all position bookkeeping.
type BinanceGateway struct {
	client         BinanceClient
	logger         *logger.Logger
	retries        uint64
	initialBackoff time.Duration
}

// NewBinanceGateway creates a gateway against Binance spot. With
// config.UseTestnet it connects to the testnet endpoint.
func NewBinanceGateway(config BinanceConfig, log *logger.Logger) *BinanceGateway {
	if config.UseTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(config.APIKey, config.SecretKey)
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL
	}

	return newBinanceGatewayWithClient(&realBinanceClient{client: client}, log)
}

// newBinanceGatewayWithClient is used by tests to inject a mock client.
func newBinanceGatewayWithClient(client BinanceClient, log *logger.Logger) *BinanceGateway {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &BinanceGateway{
		client:         client,
		logger:         log,
		retries:        binanceMaxRetries,
		initialBackoff: binanceInitialBackoff,
	}
}

// GetPrice implements Gateway.
func (g *BinanceGateway) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err, "failed to fetch price for %s", symbol)
	}

	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}

		price, parseErr := decimal.NewFromString(p.Price)
		if parseErr != nil {
			return decimal.Zero, errors.Wrapf(errors.ErrCodeInvalidPrice, parseErr, "unparseable price for %s", symbol)
		}

		return price, nil
	}

	return decimal.Zero, errors.Newf(errors.ErrCodeDataNotFound, "no price returned for %s", symbol)
}

// GetBalance implements Gateway. Returns the free balance for the asset; an
// asset absent from the account reads as zero.
func (g *BinanceGateway) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to fetch account info", err)
	}

	for _, balance := range account.Balances {
		if balance.Asset != asset {
			continue
		}

		free, parseErr := decimal.NewFromString(balance.Free)
		if parseErr != nil {
			return decimal.Zero, errors.Wrapf(errors.ErrCodeInvalidParameter, parseErr, "unparseable balance for %s", asset)
		}

		return free, nil
	}

	return decimal.Zero, nil
}

// SubmitMarketOrder implements Gateway. Transient venue errors are retried
// with exponential backoff; a rejection is returned immediately. On
// exhaustion the caller gets ErrCodeRetryExhausted and must treat the order
// as aborted.
func (g *BinanceGateway) SubmitMarketOrder(ctx context.Context, order types.Order) (types.FillResult, error) {
	if err := order.Validate(); err != nil {
		return types.FillResult{}, err
	}

	if order.Type != types.OrderTypeMarket {
		return types.FillResult{}, errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order type %s", order.Type)
	}

	// The venue enforces LOT_SIZE; sized quantities carry more precision than
	// it accepts.
	order.Quantity = order.Quantity.Truncate(binanceQuantityPrecision)
	if !order.Quantity.IsPositive() {
		return types.FillResult{}, errors.Newf(errors.ErrCodeInvalidQuantity,
			"quantity truncates to zero at venue precision for %s", order.Symbol)
	}

	side := binance.SideTypeBuy
	if order.Side == types.SideSell {
		side = binance.SideTypeSell
	}

	var response *binance.CreateOrderResponse

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, g.retries), ctx)

	attempt := func() error {
		resp, err := g.client.NewCreateOrderService().
			Symbol(order.Symbol).
			Side(side).
			Type(binance.OrderTypeMarket).
			Quantity(order.Quantity.String()).
			NewClientOrderID(order.ID).
			Do(ctx)
		if err != nil {
			if isRejection(err) {
				return backoff.Permanent(errors.Wrap(errors.ErrCodeOrderRejected, "order rejected by venue", err))
			}

			g.logger.Warn("order submission failed, retrying",
				zap.String("order_id", order.ID),
				zap.Error(err),
			)

			return err
		}

		response = resp

		return nil
	}

	if err := backoff.Retry(attempt, policy); err != nil {
		if errors.HasCode(err, errors.ErrCodeOrderRejected) {
			return types.FillResult{}, err
		}

		return types.FillResult{}, errors.Wrapf(errors.ErrCodeRetryExhausted, err,
			"order %s failed after %d attempts", order.ID, g.retries+1)
	}

	return aggregateFill(order, response)
}

// aggregateFill collapses the venue's partial fills into one FillResult at the
// quantity-weighted average price.
func aggregateFill(order types.Order, response *binance.CreateOrderResponse) (types.FillResult, error) {
	executed, err := decimal.NewFromString(response.ExecutedQuantity)
	if err != nil {
		return types.FillResult{}, errors.Wrap(errors.ErrCodeFillMismatch, "unparseable executed quantity", err)
	}

	var notional decimal.Decimal

	for _, fill := range response.Fills {
		price, priceErr := decimal.NewFromString(fill.Price)
		if priceErr != nil {
			return types.FillResult{}, errors.Wrap(errors.ErrCodeFillMismatch, "unparseable fill price", priceErr)
		}

		quantity, qtyErr := decimal.NewFromString(fill.Quantity)
		if qtyErr != nil {
			return types.FillResult{}, errors.Wrap(errors.ErrCodeFillMismatch, "unparseable fill quantity", qtyErr)
		}

		notional = notional.Add(price.Mul(quantity))
	}

	avgPrice := decimal.Zero
	if executed.IsPositive() {
		avgPrice = notional.Div(executed)
	}

	return types.FillResult{
		OrderID:          order.ID,
		Price:            avgPrice,
		ExecutedQuantity: executed,
		Timestamp:        time.UnixMilli(response.TransactTime),
		Partial:          executed.LessThan(order.Quantity),
	}, nil
}

// CancelOrder implements Gateway.
func (g *BinanceGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := g.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeOrderFailed, err, "failed to cancel order %s", orderID)
	}

	return nil
}

// isRejection distinguishes venue rejections (bad request, insufficient
// funds) from transient transport failures. A structured API error means the
// venue understood and refused the order; transport errors never carry one.
func isRejection(err error) bool {
	var apiErr *common.APIError

	return errors.As(err, &apiErr)
}

var _ Gateway = (*BinanceGateway)(nil)
