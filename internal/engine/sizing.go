package engine

import (
	"math"

	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
)

// defaultSizing applies when a trade action carries no sizing block.
var defaultSizing = &types.Sizing{Type: types.SizingTypePercentEquity, Percent: 10}

// ResolveQuantity turns a sizing node into a raw order quantity before lot
// rounding. Zero means the order should be dropped; the caller records the
// warning. Quantities are always non-negative, direction is carried by the
// order itself.
func (e *Evaluator) ResolveQuantity(s *types.Sizing, symbol string, price float64, index int) float64 {
	if s == nil {
		s = defaultSizing
	}

	if price <= 0 {
		return 0
	}

	equity := e.portfolio.Equity()
	cash := e.portfolio.Cash()

	switch s.Type {
	case types.SizingTypeFixedAmount:
		return s.Amount / price

	case types.SizingTypeFixedQuantity:
		return s.Quantity

	case types.SizingTypePercentEquity:
		return equity * s.Percent / 100 / price

	case types.SizingTypePercentCash:
		return cash * s.Percent / 100 / price

	case types.SizingTypePercentPosition:
		pos, ok := e.portfolio.Position(symbol)
		if !ok {
			return 0
		}

		return math.Abs(pos.Quantity) * s.Percent / 100

	case types.SizingTypeRiskBased:
		return e.riskBasedQuantity(s, equity, index)

	case types.SizingTypeKelly:
		return e.kellyQuantity(s, equity, price)

	case types.SizingTypeVolatilityAdjusted:
		return e.volAdjustedQuantity(s, symbol, equity, price, index)

	case types.SizingTypeConditional:
		for _, sizingCase := range s.Cases {
			if e.EvalCondition(sizingCase.When, index) {
				return e.ResolveQuantity(sizingCase.Sizing, symbol, price, index)
			}
		}

		if s.Default != nil {
			return e.ResolveQuantity(s.Default, symbol, price, index)
		}

		return 0

	default:
		return 0
	}
}

// riskBasedQuantity risks risk_percent of equity per trade: quantity such
// that losing the full stop distance costs exactly that much.
func (e *Evaluator) riskBasedQuantity(s *types.Sizing, equity float64, index int) float64 {
	if s.StopDistance == nil {
		e.warn(errors.ErrCodeInvalidSizing, index, "risk_based sizing has no stop_distance")

		return 0
	}

	stop := e.EvalSignal(s.StopDistance, index)
	if stop.IsNone() || stop.Unwrap() <= 0 {
		e.warn(errors.ErrCodeInvalidSizing, index, "risk_based sizing: non-positive or undefined stop distance")

		return 0
	}

	return equity * s.RiskPercent / 100 / stop.Unwrap()
}

// kellyQuantity derives the Kelly fraction from closed trade history when
// enough trades exist, falling back to even-odds assumptions otherwise.
// The scaled fraction is capped at 25% of equity.
func (e *Evaluator) kellyQuantity(s *types.Sizing, equity, price float64) float64 {
	winRate := 0.5
	avgWin := 1.0
	avgLoss := 1.0

	trades := e.portfolio.ClosedTrades()
	if len(trades) > s.Lookback {
		trades = trades[len(trades)-s.Lookback:]
	}

	if len(trades) >= minKellyTrades {
		wins, losses := 0, 0
		winSum, lossSum := 0.0, 0.0

		for _, trade := range trades {
			if trade.PnL > 0 {
				wins++
				winSum += trade.PnL
			} else if trade.PnL < 0 {
				losses++
				lossSum -= trade.PnL
			}
		}

		if wins > 0 && losses > 0 {
			winRate = float64(wins) / float64(len(trades))
			avgWin = winSum / float64(wins)
			avgLoss = lossSum / float64(losses)
		}
	}

	if avgLoss <= 0 {
		return equity * 0.02 / price
	}

	b := avgWin / avgLoss
	kelly := (b*winRate - (1 - winRate)) / b
	kelly = math.Max(0, kelly*s.Fraction)
	kelly = math.Min(kelly, maxKellyFraction)

	return equity * kelly / price
}

const (
	minKellyTrades   = 10
	maxKellyFraction = 0.25
)

// volAdjustedQuantity targets position_value * realized_vol ≈ target_vol *
// equity. With no usable volatility estimate it falls back to an ATR basis,
// then to an assumed 2% move.
func (e *Evaluator) volAdjustedQuantity(s *types.Sizing, symbol string, equity, price float64, index int) float64 {
	targetVol := s.TargetVol
	if targetVol <= 0 {
		targetVol = 0.01
	}

	if vol, ok := e.Vol(symbol, s.Lookback, index); ok && vol > 0 {
		return targetVol * equity / (vol * price)
	}

	if atr, ok := e.ATRAt(symbol, s.Lookback, index); ok && atr > 0 {
		return targetVol * equity / atr
	}

	return targetVol * equity / (price * 0.02)
}
