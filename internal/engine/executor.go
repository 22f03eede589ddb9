package engine

import (
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/utss-engine/internal/logger"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"go.uber.org/zap"
)

// Order is a request produced by a fired rule, before execution costs.
type Order struct {
	Symbol     string
	Direction  types.TradeDirection
	Quantity   float64
	Type       types.OrderType
	LimitPrice float64
	Reason     string
}

// Fill is the realized execution of an order: slipped price, commission,
// lot-rounded quantity.
type Fill struct {
	Symbol     string
	Direction  types.TradeDirection
	Quantity   float64
	Price      float64
	Commission float64
	Slippage   float64
	Time       time.Time
	Reason     string
}

// Executor models execution costs. It is stateless; the same order against
// the same price always produces the same fill.
type Executor struct {
	config types.BacktestConfig
	logger *logger.Logger
}

// NewExecutor creates an executor for the given cost configuration.
func NewExecutor(config types.BacktestConfig, log *logger.Logger) *Executor {
	return &Executor{config: config, logger: log}
}

// Execute converts an order into a fill at the given market price. None
// means the order did not execute: quantity rounded to zero or an
// unmarketable limit. Dropped orders are silent at this layer; the run
// loop records the warning.
func (x *Executor) Execute(order Order, marketPrice float64, t time.Time) optional.Option[Fill] {
	quantity := roundToLot(order.Quantity, x.config.LotSize)
	if quantity <= 0 {
		x.logger.Debug("order rounded to zero quantity",
			zap.String("symbol", order.Symbol),
			zap.Float64("requested", order.Quantity))

		return optional.None[Fill]()
	}

	fillPrice := x.slippedPrice(order.Direction, marketPrice)

	if order.Type == types.OrderTypeLimit {
		if !limitMarketable(order.Direction, fillPrice, order.LimitPrice) {
			return optional.None[Fill]()
		}
	}

	notional := quantity * fillPrice

	return optional.Some(Fill{
		Symbol:     order.Symbol,
		Direction:  order.Direction,
		Quantity:   quantity,
		Price:      fillPrice,
		Commission: x.commission(notional),
		Slippage:   quantity * math.Abs(fillPrice-marketPrice),
		Time:       t,
		Reason:     order.Reason,
	})
}

// slippedPrice moves the fill against the trader: buys and covers pay up,
// sells and shorts receive less.
func (x *Executor) slippedPrice(direction types.TradeDirection, price float64) float64 {
	switch direction {
	case types.TradeDirectionBuy, types.TradeDirectionCover:
		return price * (1 + x.config.SlippageRate)
	case types.TradeDirectionSell, types.TradeDirectionShort:
		return price * (1 - x.config.SlippageRate)
	default:
		return price
	}
}

func limitMarketable(direction types.TradeDirection, fillPrice, limitPrice float64) bool {
	switch direction {
	case types.TradeDirectionBuy, types.TradeDirectionCover:
		return fillPrice <= limitPrice
	case types.TradeDirectionSell, types.TradeDirectionShort:
		return fillPrice >= limitPrice
	default:
		return false
	}
}

// commission applies the tiered schedule when present, flat rate otherwise.
// Tiers are checked in order and the first matching band wins.
func (x *Executor) commission(notional float64) float64 {
	if len(x.config.TieredCommission) == 0 {
		return notional * x.config.CommissionRate
	}

	for _, tier := range x.config.TieredCommission {
		if tier.UpTo.IsSome() && notional <= tier.UpTo.Unwrap() {
			return tier.Fee
		}

		if tier.Above.IsSome() && notional > tier.Above.Unwrap() {
			return tier.Fee
		}
	}

	return 0
}

// roundToLot floors a quantity to the nearest lot multiple.
func roundToLot(quantity float64, lotSize int) float64 {
	if lotSize <= 1 {
		return math.Floor(quantity)
	}

	lots := math.Floor(quantity / float64(lotSize))

	return lots * float64(lotSize)
}
