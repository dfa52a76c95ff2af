package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/meridian-lab/helmsman/pkg/errors"
)

type Side string

type OrderType string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// CloseReason records why an order intent was emitted. Entry intents always
// carry ReasonSignal; exit intents carry the trigger that produced them.
type CloseReason string

const (
	ReasonSignal     CloseReason = "signal"
	ReasonStopLoss   CloseReason = "stop_loss"
	ReasonTakeProfit CloseReason = "take_profit"
	ReasonRiskSweep  CloseReason = "risk_sweep"
	ReasonShutdown   CloseReason = "shutdown"
	// ReasonManual marks exits requested through the control API.
	ReasonManual CloseReason = "manual"
)

// Order is an execution intent produced by the engine and consumed by an
// OrderGateway. It is transient: once a fill or failure is recorded the intent
// is discarded.
type Order struct {
	ID           string          `yaml:"id" json:"id" validate:"required,uuid"`
	Symbol       string          `yaml:"symbol" json:"symbol" validate:"required"`
	Side         Side            `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Type         OrderType       `yaml:"type" json:"type" validate:"required,oneof=MARKET LIMIT"`
	Quantity     decimal.Decimal `yaml:"quantity" json:"quantity"`
	Reason       CloseReason     `yaml:"reason" json:"reason" validate:"required"`
	StrategyName string          `yaml:"strategy_name" json:"strategy_name" validate:"required"`
	CreatedAt    time.Time       `yaml:"created_at" json:"created_at"`

	// LimitPrice is only set for LIMIT orders.
	LimitPrice optional.Option[decimal.Decimal] `yaml:"limit_price" json:"limit_price"`
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	if !o.Quantity.IsPositive() {
		return errors.Newf(errors.ErrCodeInvalidQuantity, "order quantity must be positive, got %s", o.Quantity)
	}

	if o.Type == OrderTypeLimit {
		if o.LimitPrice.IsNone() {
			return errors.New(errors.ErrCodeInvalidPrice, "limit order requires a limit price")
		}

		if price := o.LimitPrice.Unwrap(); !price.IsPositive() {
			return errors.Newf(errors.ErrCodeInvalidPrice, "limit price must be positive, got %s", price)
		}
	}

	return nil
}

// FillResult is the gateway's confirmation that an order executed.
type FillResult struct {
	OrderID          string          `yaml:"order_id" json:"order_id"`
	Price            decimal.Decimal `yaml:"price" json:"price"`
	ExecutedQuantity decimal.Decimal `yaml:"executed_quantity" json:"executed_quantity"`
	Timestamp        time.Time       `yaml:"timestamp" json:"timestamp"`
	// Partial is true when the executed quantity is less than the requested
	// quantity. Partial entry fills open the position at the filled quantity;
	// partial exit fills realize the executed slice and leave the remainder
	// closing.
	Partial bool `yaml:"partial" json:"partial"`
}
