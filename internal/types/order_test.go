package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/helmsman/pkg/errors"
)

type OrderTestSuite struct {
	suite.Suite
}

func TestOrderSuite(t *testing.T) {
	suite.Run(t, new(OrderTestSuite))
}

func (suite *OrderTestSuite) validOrder() Order {
	return Order{
		ID:           uuid.New().String(),
		Symbol:       "BTCUSDT",
		Side:         SideBuy,
		Type:         OrderTypeMarket,
		Quantity:     decimal.NewFromFloat(0.5),
		Reason:       ReasonSignal,
		StrategyName: "sma_cross",
		CreatedAt:    time.Now(),
	}
}

func (suite *OrderTestSuite) TestValidOrder() {
	order := suite.validOrder()
	suite.NoError(order.Validate())
}

func (suite *OrderTestSuite) TestMissingSymbol() {
	order := suite.validOrder()
	order.Symbol = ""
	suite.Error(order.Validate())
}

func (suite *OrderTestSuite) TestInvalidSide() {
	order := suite.validOrder()
	order.Side = "HOLD"
	suite.Error(order.Validate())
}

func (suite *OrderTestSuite) TestNonPositiveQuantity() {
	order := suite.validOrder()
	order.Quantity = decimal.Zero

	err := order.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidQuantity))
}

func (suite *OrderTestSuite) TestLimitOrderRequiresPrice() {
	order := suite.validOrder()
	order.Type = OrderTypeLimit

	err := order.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPrice))

	order.LimitPrice = optional.Some(decimal.NewFromInt(100))
	suite.NoError(order.Validate())
}

func (suite *OrderTestSuite) TestLimitOrderRejectsNonPositivePrice() {
	order := suite.validOrder()
	order.Type = OrderTypeLimit
	order.LimitPrice = optional.Some(decimal.Zero)

	err := order.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPrice))
}

func (suite *OrderTestSuite) TestNonUUIDID() {
	order := suite.validOrder()
	order.ID = "not-a-uuid"
	suite.Error(order.Validate())
}
