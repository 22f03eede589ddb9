package engine

import (
	"context"
	"math"

	"github.com/rxtech-lab/utss-engine/internal/dataset"
	"github.com/rxtech-lab/utss-engine/internal/logger"
	"github.com/rxtech-lab/utss-engine/internal/metrics"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
	"go.uber.org/zap"
)

// Exit reasons recorded on trades closed by the engine rather than a rule.
const (
	exitReasonStopLoss     = "stop_loss"
	exitReasonTakeProfit   = "take_profit"
	exitReasonTrailingStop = "trailing_stop"
	exitReasonEndOfRun     = "end_of_backtest"
)

// Backtest runs one strategy over one symbol. A run is strictly
// sequential and deterministic: the same strategy, data, and parameter
// binding always produce identical trades and equity curve.
type Backtest struct {
	strategy  *types.Strategy
	data      *dataset.Dataset
	config    types.BacktestConfig
	symbol    string
	params    map[string]float64
	logger    *logger.Logger
	evaluator *Evaluator
	portfolio *Portfolio
	executor  *Executor
}

// NewBacktest links the strategy against the dataset and parameter
// binding. All fatal errors surface here, before Run.
func NewBacktest(
	strategy *types.Strategy,
	data *dataset.Dataset,
	config types.BacktestConfig,
	symbol string,
	params map[string]float64,
	log *logger.Logger,
) (*Backtest, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	portfolio := NewPortfolio(config.InitialCapital, log)

	evaluator, err := NewEvaluator(strategy, data, symbol, params, portfolio, log)
	if err != nil {
		return nil, err
	}

	return &Backtest{
		strategy:  strategy,
		data:      data,
		config:    config,
		symbol:    symbol,
		params:    params,
		logger:    log,
		evaluator: evaluator,
		portfolio: portfolio,
		executor:  NewExecutor(config, log),
	}, nil
}

// Run executes the full bar range.
func (b *Backtest) Run(ctx context.Context) (*types.BacktestResult, error) {
	return b.RunRange(ctx, 0, len(b.evaluator.bars))
}

// RunRange executes bars [start, end). Walk-forward windows use this to
// score slices without copying data. Cancellation is checked between
// bars; a run never stops mid-bar.
func (b *Backtest) RunRange(ctx context.Context, start, end int) (*types.BacktestResult, error) {
	bars := b.evaluator.bars

	if start < 0 || end > len(bars) || start >= end {
		return nil, errors.Newf(errors.ErrCodeInvalidWindow, "invalid bar range [%d, %d) over %d bars", start, end, len(bars))
	}

	for i := start; i < end; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeBacktestCancelled, "backtest cancelled", err)
		}

		bar := bars[i]
		if math.IsNaN(bar.Close) || bar.Close <= 0 {
			b.evaluator.warn(errors.ErrCodeInsufficientData, i, "skipping bar with unusable close price")
			continue
		}

		b.checkConstraints(i)

		for _, rule := range b.evaluator.FiredRules(i) {
			b.dispatch(rule, i)
		}

		if i == end-1 {
			b.closeAll(i, exitReasonEndOfRun)
		}

		b.portfolio.MarkToMarket(bar.Time, map[string]float64{b.symbol: bar.Close})
	}

	return b.buildResult(), nil
}

// checkConstraints applies strategy-level protective exits before rule
// evaluation on each bar.
func (b *Backtest) checkConstraints(index int) {
	pos, ok := b.portfolio.Position(b.symbol)
	if !ok {
		return
	}

	price := b.evaluator.bars[index].Close
	constraints := b.strategy.Constraints
	long := pos.Quantity > 0

	if c := constraints.StopLoss; c != nil {
		breached := (long && price <= pos.AvgEntryPrice*(1-c.Percent/100)) ||
			(!long && price >= pos.AvgEntryPrice*(1+c.Percent/100))
		if breached {
			b.closeAll(index, exitReasonStopLoss)
			return
		}
	}

	if c := constraints.TakeProfit; c != nil {
		hit := (long && price >= pos.AvgEntryPrice*(1+c.Percent/100)) ||
			(!long && price <= pos.AvgEntryPrice*(1-c.Percent/100))
		if hit {
			b.closeAll(index, exitReasonTakeProfit)
			return
		}
	}

	if c := constraints.TrailingStop; c != nil {
		breached := (long && price <= pos.HighWaterPrice*(1-c.Percent/100)) ||
			(!long && price >= pos.HighWaterPrice*(1+c.Percent/100))
		if breached {
			b.closeAll(index, exitReasonTrailingStop)
		}
	}
}

func (b *Backtest) dispatch(rule *types.Rule, index int) {
	action := rule.Then

	switch action.Type {
	case types.ActionTypeTrade:
		b.executeTrade(rule, index)

	case types.ActionTypeAlert:
		b.logger.Info("alert",
			zap.String("rule", rule.Name),
			zap.String("message", action.Message),
			zap.Int("bar", index))

	case types.ActionTypeRebalance:
		b.evaluator.warn(errors.ErrCodeInvalidOrder, index,
			"rule %q: rebalance actions need a multi-symbol run", rule.Name)

	case types.ActionTypeHold:
	}
}

func (b *Backtest) executeTrade(rule *types.Rule, index int) {
	action := rule.Then
	bar := b.evaluator.bars[index]
	price := bar.Close

	quantity := b.evaluator.ResolveQuantity(action.Sizing, b.symbol, price, index)
	quantity = b.clampQuantity(action.Direction, quantity, price, index, rule.Name)

	if quantity <= 0 {
		return
	}

	reason := action.Reason
	if reason == "" {
		reason = rule.Name
	}

	order := Order{
		Symbol:     b.symbol,
		Direction:  action.Direction,
		Quantity:   quantity,
		Type:       action.OrderType,
		LimitPrice: action.LimitPrice,
		Reason:     reason,
	}

	fill := b.executor.Execute(order, price, bar.Time)
	if fill.IsNone() {
		b.evaluator.warn(errors.ErrCodeOrderDropped, index,
			"rule %q: order for %.4f %s dropped", rule.Name, quantity, b.symbol)

		return
	}

	b.portfolio.ApplyFill(fill.Unwrap())
}

// clampQuantity bounds an order by what the portfolio can actually do:
// closes never exceed the open position, buys never exceed cash, shorts
// never exceed margin capacity.
func (b *Backtest) clampQuantity(direction types.TradeDirection, quantity, price float64, index int, ruleName string) float64 {
	if quantity <= 0 {
		if quantity < 0 {
			b.evaluator.warn(errors.ErrCodeOrderDropped, index, "rule %q: negative quantity", ruleName)
		} else {
			b.evaluator.warn(errors.ErrCodeOrderDropped, index, "rule %q: sizing resolved to zero", ruleName)
		}

		return 0
	}

	switch direction {
	case types.TradeDirectionSell:
		pos, ok := b.portfolio.Position(b.symbol)
		if !ok || pos.Quantity <= 0 {
			b.evaluator.warn(errors.ErrCodeOrderDropped, index, "rule %q: sell with no long position", ruleName)

			return 0
		}

		return math.Min(quantity, pos.Quantity)

	case types.TradeDirectionCover:
		pos, ok := b.portfolio.Position(b.symbol)
		if !ok || pos.Quantity >= 0 {
			b.evaluator.warn(errors.ErrCodeOrderDropped, index, "rule %q: cover with no short position", ruleName)

			return 0
		}

		return math.Min(quantity, -pos.Quantity)

	case types.TradeDirectionBuy:
		slipped := price * (1 + b.config.SlippageRate)
		if slipped <= 0 {
			return 0
		}

		return math.Min(quantity, b.portfolio.Cash()/slipped)

	case types.TradeDirectionShort:
		if b.config.MarginRequirement <= 0 {
			return quantity
		}

		capacity := b.portfolio.Cash() / (price * b.config.MarginRequirement)

		return math.Min(quantity, capacity)

	default:
		return 0
	}
}

// closeAll flattens the position at the current bar close with full
// execution costs.
func (b *Backtest) closeAll(index int, reason string) {
	pos, ok := b.portfolio.Position(b.symbol)
	if !ok {
		return
	}

	bar := b.evaluator.bars[index]

	direction := types.TradeDirectionSell
	if pos.Quantity < 0 {
		direction = types.TradeDirectionCover
	}

	order := Order{
		Symbol:     b.symbol,
		Direction:  direction,
		Quantity:   math.Abs(pos.Quantity),
		Type:       types.OrderTypeMarket,
		LimitPrice: 0,
		Reason:     reason,
	}

	if fill := b.executor.Execute(order, bar.Close, bar.Time); fill.IsSome() {
		b.portfolio.ApplyFill(fill.Unwrap())
	}
}

func (b *Backtest) buildResult() *types.BacktestResult {
	snapshots := b.portfolio.Snapshots()

	finalEquity := b.config.InitialCapital
	if len(snapshots) > 0 {
		finalEquity = snapshots[len(snapshots)-1].Equity
	}

	result := &types.BacktestResult{
		StrategyID:     b.strategy.Info.ID,
		Symbol:         b.symbol,
		InitialCapital: b.config.InitialCapital,
		FinalEquity:    finalEquity,
		Trades:         b.portfolio.ClosedTrades(),
		EquityCurve:    snapshots,
		Metrics:        types.Metrics{},
		Warnings:       b.evaluator.Warnings(),
	}

	result.Metrics = metrics.Compute(result, b.config, b.benchmarkReturns(len(snapshots)))

	return result
}

// benchmarkReturns aligns the benchmark close series with the run's
// snapshot count, tail-aligned so both series end on the last bar.
func (b *Backtest) benchmarkReturns(n int) []float64 {
	bench := b.data.Benchmark()
	if len(bench) < 2 || n < 2 {
		return nil
	}

	closes := make([]float64, 0, len(bench))
	for _, bar := range bench {
		closes = append(closes, bar.Close)
	}

	if len(closes) > n {
		closes = closes[len(closes)-n:]
	}

	returns := make([]float64, 0, len(closes)-1)

	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}

		returns = append(returns, closes[i]/closes[i-1]-1)
	}

	return returns
}
