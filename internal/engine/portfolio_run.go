package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/rxtech-lab/utss-engine/internal/dataset"
	"github.com/rxtech-lab/utss-engine/internal/logger"
	"github.com/rxtech-lab/utss-engine/internal/metrics"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
	"go.uber.org/zap"
)

// PortfolioBacktest runs one strategy over multiple symbols sharing a
// single portfolio, with periodic rebalancing. Bar series must be
// index-aligned across symbols; alignment happens upstream, never here.
type PortfolioBacktest struct {
	strategy   *types.Strategy
	data       *dataset.Dataset
	config     types.BacktestConfig
	params     map[string]float64
	logger     *logger.Logger
	symbols    []string
	evaluators map[string]*Evaluator
	portfolio  *Portfolio
	executor   *Executor
	barCount   int

	rebalances int
	warnings   []types.Warning
}

// NewPortfolioBacktest links the strategy once per symbol against a shared
// portfolio. All symbols must carry the same bar count.
func NewPortfolioBacktest(
	strategy *types.Strategy,
	data *dataset.Dataset,
	config types.BacktestConfig,
	params map[string]float64,
	log *logger.Logger,
) (*PortfolioBacktest, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	symbols := data.Symbols()
	portfolio := NewPortfolio(config.InitialCapital, log)
	evaluators := make(map[string]*Evaluator, len(symbols))
	barCount := -1

	for _, symbol := range symbols {
		bars, err := data.Bars(symbol)
		if err != nil {
			return nil, err
		}

		if barCount >= 0 && len(bars) != barCount {
			return nil, errors.Newf(errors.ErrCodeBacktestDataError,
				"symbol %q has %d bars, expected %d; align series before running", symbol, len(bars), barCount)
		}

		barCount = len(bars)

		evaluator, err := NewEvaluator(strategy, data, symbol, params, portfolio, log)
		if err != nil {
			return nil, err
		}

		evaluators[symbol] = evaluator
	}

	return &PortfolioBacktest{
		strategy:   strategy,
		data:       data,
		config:     config,
		params:     params,
		logger:     log,
		symbols:    symbols,
		evaluators: evaluators,
		portfolio:  portfolio,
		executor:   NewExecutor(config, log),
		barCount:   barCount,
		rebalances: 0,
		warnings:   nil,
	}, nil
}

// Run executes the full aligned bar range.
func (pb *PortfolioBacktest) Run(ctx context.Context) (*types.PortfolioResult, error) {
	for i := 0; i < pb.barCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeBacktestCancelled, "backtest cancelled", err)
		}

		prices := pb.pricesAt(i)

		for _, symbol := range pb.symbols {
			pb.checkConstraints(symbol, i, prices[symbol])
		}

		for _, symbol := range pb.symbols {
			evaluator := pb.evaluators[symbol]

			for _, rule := range evaluator.FiredRules(i) {
				pb.dispatch(symbol, rule, i, prices)
			}
		}

		if i == pb.barCount-1 {
			for _, symbol := range pb.symbols {
				pb.closeSymbol(symbol, i, prices[symbol], exitReasonEndOfRun)
			}
		}

		t := pb.evaluators[pb.symbols[0]].bars[i].Time
		pb.portfolio.MarkToMarket(t, prices)
	}

	return pb.buildResult(), nil
}

func (pb *PortfolioBacktest) pricesAt(index int) map[string]float64 {
	prices := make(map[string]float64, len(pb.symbols))
	for _, symbol := range pb.symbols {
		prices[symbol] = pb.evaluators[symbol].bars[index].Close
	}

	return prices
}

func (pb *PortfolioBacktest) dispatch(symbol string, rule *types.Rule, index int, prices map[string]float64) {
	action := rule.Then

	switch action.Type {
	case types.ActionTypeTrade:
		target := symbol
		if action.Symbol != "" {
			target = action.Symbol
		}

		pb.executeTrade(target, rule, index, prices)

	case types.ActionTypeRebalance:
		pb.rebalance(action, index, prices)

	case types.ActionTypeAlert:
		pb.logger.Info("alert",
			zap.String("rule", rule.Name),
			zap.String("message", action.Message),
			zap.Int("bar", index))

	case types.ActionTypeHold:
	}
}

func (pb *PortfolioBacktest) executeTrade(symbol string, rule *types.Rule, index int, prices map[string]float64) {
	evaluator, ok := pb.evaluators[symbol]
	if !ok {
		pb.warn(errors.ErrCodeSymbolNotFound, index, "rule %q targets unknown symbol %q", rule.Name, symbol)

		return
	}

	action := rule.Then
	price := prices[symbol]

	quantity := evaluator.ResolveQuantity(action.Sizing, symbol, price, index)
	quantity = pb.clampQuantity(symbol, action.Direction, quantity, price)

	if quantity <= 0 {
		pb.warn(errors.ErrCodeOrderDropped, index, "rule %q: order for %s resolved to zero", rule.Name, symbol)

		return
	}

	reason := action.Reason
	if reason == "" {
		reason = rule.Name
	}

	order := Order{
		Symbol:     symbol,
		Direction:  action.Direction,
		Quantity:   quantity,
		Type:       action.OrderType,
		LimitPrice: action.LimitPrice,
		Reason:     reason,
	}

	t := evaluator.bars[index].Time
	if fill := pb.executor.Execute(order, price, t); fill.IsSome() {
		pb.portfolio.ApplyFill(fill.Unwrap())
	} else {
		pb.warn(errors.ErrCodeOrderDropped, index, "rule %q: order for %s dropped", rule.Name, symbol)
	}
}

func (pb *PortfolioBacktest) clampQuantity(symbol string, direction types.TradeDirection, quantity, price float64) float64 {
	if quantity <= 0 || price <= 0 {
		return 0
	}

	switch direction {
	case types.TradeDirectionSell:
		pos, ok := pb.portfolio.Position(symbol)
		if !ok || pos.Quantity <= 0 {
			return 0
		}

		return math.Min(quantity, pos.Quantity)

	case types.TradeDirectionCover:
		pos, ok := pb.portfolio.Position(symbol)
		if !ok || pos.Quantity >= 0 {
			return 0
		}

		return math.Min(quantity, -pos.Quantity)

	case types.TradeDirectionBuy:
		return math.Min(quantity, pb.portfolio.Cash()/(price*(1+pb.config.SlippageRate)))

	case types.TradeDirectionShort:
		if pb.config.MarginRequirement <= 0 {
			return quantity
		}

		return math.Min(quantity, pb.portfolio.Cash()/(price*pb.config.MarginRequirement))

	default:
		return 0
	}
}

// rebalance compares current weights against the scheme's targets and
// emits orders only for symbols whose deviation exceeds the threshold.
// Orders close the full gap, not just the excess over the threshold.
func (pb *PortfolioBacktest) rebalance(action *types.Action, index int, prices map[string]float64) {
	equity := pb.portfolio.Equity()
	if equity <= 0 {
		return
	}

	threshold := action.Threshold
	if threshold <= 0 {
		threshold = types.DefaultRebalanceThreshold
	}

	targets := targetWeights(action, pb.symbols, pb.returnWindows(index))
	t := pb.evaluators[pb.symbols[0]].bars[index].Time
	ordered := false

	// Sells run before buys so freed cash funds the additions.
	for _, pass := range []bool{false, true} {
		for _, symbol := range pb.symbols {
			price := prices[symbol]
			if price <= 0 {
				continue
			}

			current := 0.0
			if pos, ok := pb.portfolio.Position(symbol); ok {
				current = pos.Quantity * price / equity
			}

			target := targets[symbol]
			deviation := target - current

			if math.Abs(deviation) <= threshold {
				continue
			}

			buying := deviation > 0
			if buying != pass {
				continue
			}

			quantity := math.Abs(deviation) * equity / price

			direction := types.TradeDirectionBuy
			if !buying {
				direction = types.TradeDirectionSell
				if pos, ok := pb.portfolio.Position(symbol); ok {
					quantity = math.Min(quantity, pos.Quantity)
				} else {
					continue
				}
			}

			order := Order{
				Symbol:     symbol,
				Direction:  direction,
				Quantity:   quantity,
				Type:       types.OrderTypeMarket,
				LimitPrice: 0,
				Reason:     "rebalance",
			}

			if fill := pb.executor.Execute(order, price, t); fill.IsSome() {
				pb.portfolio.ApplyFill(fill.Unwrap())

				ordered = true
			}
		}
	}

	if ordered {
		pb.rebalances++
	}
}

// returnWindows collects each symbol's recent simple returns for the
// volatility-based weight schemes.
func (pb *PortfolioBacktest) returnWindows(index int) map[string][]float64 {
	windows := make(map[string][]float64, len(pb.symbols))

	for _, symbol := range pb.symbols {
		bars := pb.evaluators[symbol].bars

		start := index - rebalanceLookback
		if start < 1 {
			start = 1
		}

		var returns []float64

		for i := start; i <= index && i < len(bars); i++ {
			prev := bars[i-1].Close
			if prev == 0 {
				continue
			}

			returns = append(returns, bars[i].Close/prev-1)
		}

		windows[symbol] = returns
	}

	return windows
}

func (pb *PortfolioBacktest) checkConstraints(symbol string, index int, price float64) {
	pos, ok := pb.portfolio.Position(symbol)
	if !ok {
		return
	}

	constraints := pb.strategy.Constraints
	long := pos.Quantity > 0

	if c := constraints.StopLoss; c != nil {
		if (long && price <= pos.AvgEntryPrice*(1-c.Percent/100)) ||
			(!long && price >= pos.AvgEntryPrice*(1+c.Percent/100)) {
			pb.closeSymbol(symbol, index, price, exitReasonStopLoss)
			return
		}
	}

	if c := constraints.TakeProfit; c != nil {
		if (long && price >= pos.AvgEntryPrice*(1+c.Percent/100)) ||
			(!long && price <= pos.AvgEntryPrice*(1-c.Percent/100)) {
			pb.closeSymbol(symbol, index, price, exitReasonTakeProfit)
			return
		}
	}

	if c := constraints.TrailingStop; c != nil {
		if (long && price <= pos.HighWaterPrice*(1-c.Percent/100)) ||
			(!long && price >= pos.HighWaterPrice*(1+c.Percent/100)) {
			pb.closeSymbol(symbol, index, price, exitReasonTrailingStop)
		}
	}
}

func (pb *PortfolioBacktest) closeSymbol(symbol string, index int, price float64, reason string) {
	pos, ok := pb.portfolio.Position(symbol)
	if !ok {
		return
	}

	direction := types.TradeDirectionSell
	if pos.Quantity < 0 {
		direction = types.TradeDirectionCover
	}

	order := Order{
		Symbol:     symbol,
		Direction:  direction,
		Quantity:   math.Abs(pos.Quantity),
		Type:       types.OrderTypeMarket,
		LimitPrice: 0,
		Reason:     reason,
	}

	t := pb.evaluators[symbol].bars[index].Time
	if fill := pb.executor.Execute(order, price, t); fill.IsSome() {
		pb.portfolio.ApplyFill(fill.Unwrap())
	}
}

func (pb *PortfolioBacktest) warn(code errors.ErrorCode, index int, format string, args ...any) {
	first := pb.evaluators[pb.symbols[0]]
	w := types.Warning{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		BarIndex: index,
		Time:     first.bars[clampIndex(index, len(first.bars))].Time,
	}

	pb.warnings = append(pb.warnings, w)
}

func (pb *PortfolioBacktest) buildResult() *types.PortfolioResult {
	snapshots := pb.portfolio.Snapshots()

	finalEquity := pb.config.InitialCapital
	if len(snapshots) > 0 {
		finalEquity = snapshots[len(snapshots)-1].Equity
	}

	trades := pb.portfolio.ClosedTrades()

	perSymbol := make(map[string]float64, len(pb.symbols))
	for _, trade := range trades {
		perSymbol[trade.Symbol] += trade.PnL
	}

	warnings := pb.warnings
	for _, symbol := range pb.symbols {
		warnings = append(warnings, pb.evaluators[symbol].Warnings()...)
	}

	single := &types.BacktestResult{
		StrategyID:     pb.strategy.Info.ID,
		Symbol:         "",
		InitialCapital: pb.config.InitialCapital,
		FinalEquity:    finalEquity,
		Trades:         trades,
		EquityCurve:    snapshots,
		Metrics:        types.Metrics{},
		Warnings:       nil,
	}

	return &types.PortfolioResult{
		StrategyID:     pb.strategy.Info.ID,
		Symbols:        pb.symbols,
		InitialCapital: pb.config.InitialCapital,
		FinalEquity:    finalEquity,
		Trades:         trades,
		EquityCurve:    snapshots,
		Metrics:        metrics.Compute(single, pb.config, nil),
		PerSymbolPnL:   perSymbol,
		RebalanceCount: pb.rebalances,
		Warnings:       warnings,
	}
}
