package engine

import (
	"math"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/utss-engine/internal/indicator"
	"github.com/rxtech-lab/utss-engine/internal/types"
)

// EvalSignal evaluates a signal node at a bar index. None means undefined:
// not enough warmup, history before the first bar, or a missing side
// channel without a default. Undefinedness never raises; conditions treat
// it as false.
func (e *Evaluator) EvalSignal(s *types.Signal, index int) optional.Option[float64] {
	index += s.Offset
	if index < 0 || index >= len(e.bars) {
		return optional.None[float64]()
	}

	symbol := e.symbol
	if s.Symbol != "" {
		symbol = s.Symbol
	}

	switch s.Type {
	case types.SignalTypePrice:
		return e.priceAt(symbol, types.PriceField(s.Field), index)

	case types.SignalTypeIndicator:
		series := e.indicatorSeries(s, symbol)
		if index >= len(series) || math.IsNaN(series[index]) {
			return optional.None[float64]()
		}

		return optional.Some(series[index])

	case types.SignalTypeFundamental:
		return e.data.Fundamental(symbol, s.Metric, index)

	case types.SignalTypeCalendar:
		return e.calendarAt(symbol, s.Field, index)

	case types.SignalTypeEvent:
		bars, err := e.data.Bars(symbol)
		if err != nil || index >= len(bars) {
			return optional.None[float64]()
		}

		if e.data.NearEvent(s.Event, bars[index].Time, s.DaysBefore, s.DaysAfter) {
			return optional.Some(1.0)
		}

		return optional.Some(0.0)

	case types.SignalTypePortfolio:
		return e.portfolioAt(symbol, s.Field)

	case types.SignalTypeConstant:
		return optional.Some(s.Value)

	case types.SignalTypeArithmetic:
		return e.arithmeticAt(s, index)

	case types.SignalTypeExpr:
		prog := e.linked.signalProgs[s]
		if prog == nil {
			return optional.None[float64]()
		}

		value, ok := prog.Eval(&exprEnv{eval: e, index: index, symbol: symbol}, 0)
		if !ok {
			return optional.None[float64]()
		}

		return optional.Some(value)

	case types.SignalTypeExternal:
		value := e.data.External(s.Key, index)
		if value.IsNone() {
			return optional.Some(s.Default)
		}

		return value

	case types.SignalTypeRef:
		target := e.linked.signalTargets[s]
		if target == nil {
			return optional.None[float64]()
		}

		return e.EvalSignal(target, index)

	case types.SignalTypeParam:
		if value, ok := e.params[s.Param]; ok {
			return optional.Some(value)
		}

		if value, ok := e.strategy.Parameters.Defaults[s.Param]; ok {
			return optional.Some(value)
		}

		return optional.None[float64]()

	default:
		return optional.None[float64]()
	}
}

func (e *Evaluator) priceAt(symbol string, field types.PriceField, index int) optional.Option[float64] {
	bars, err := e.data.Bars(symbol)
	if err != nil || index < 0 || index >= len(bars) {
		return optional.None[float64]()
	}

	value, ok := bars[index].Price(field)
	if !ok {
		return optional.None[float64]()
	}

	return optional.Some(value)
}

// calendarAt exposes date components of the bar timestamp. day_of_week is
// zero-based Monday, matching common market-calendar conventions.
func (e *Evaluator) calendarAt(symbol, field string, index int) optional.Option[float64] {
	bars, err := e.data.Bars(symbol)
	if err != nil || index >= len(bars) {
		return optional.None[float64]()
	}

	t := bars[index].Time

	switch field {
	case "day_of_week":
		return optional.Some(float64((int(t.Weekday()) + 6) % 7))
	case "day_of_month":
		return optional.Some(float64(t.Day()))
	case "month":
		return optional.Some(float64(int(t.Month())))
	case "year":
		return optional.Some(float64(t.Year()))
	case "hour":
		return optional.Some(float64(t.Hour()))
	case "minute":
		return optional.Some(float64(t.Minute()))
	default:
		return optional.None[float64]()
	}
}

func (e *Evaluator) portfolioAt(symbol, field string) optional.Option[float64] {
	if e.portfolio == nil {
		return optional.None[float64]()
	}

	switch field {
	case "cash":
		return optional.Some(e.portfolio.Cash())
	case "equity":
		return optional.Some(e.portfolio.Equity())
	case "unrealized_pnl":
		return optional.Some(e.portfolio.UnrealizedPnL())
	case "realized_pnl":
		return optional.Some(e.portfolio.RealizedPnL())
	case "drawdown_pct":
		return optional.Some(e.portfolio.DrawdownPct())
	case "position_quantity":
		if pos, ok := e.portfolio.Position(symbol); ok {
			return optional.Some(pos.Quantity)
		}

		return optional.Some(0.0)
	case "position_entry_price":
		if pos, ok := e.portfolio.Position(symbol); ok {
			return optional.Some(pos.AvgEntryPrice)
		}

		return optional.Some(0.0)
	default:
		return optional.None[float64]()
	}
}

func (e *Evaluator) arithmeticAt(s *types.Signal, index int) optional.Option[float64] {
	values := make([]float64, 0, len(s.Operands))

	for _, operand := range s.Operands {
		v := e.EvalSignal(operand, index)
		if v.IsNone() {
			return optional.None[float64]()
		}

		values = append(values, v.Unwrap())
	}

	switch s.Op {
	case "add", "+":
		sum := 0.0
		for _, v := range values {
			sum += v
		}

		return optional.Some(sum)

	case "subtract", "-":
		result := values[0]
		for _, v := range values[1:] {
			result -= v
		}

		return optional.Some(result)

	case "multiply", "*":
		product := 1.0
		for _, v := range values {
			product *= v
		}

		return optional.Some(product)

	case "divide", "/":
		result := values[0]

		for _, v := range values[1:] {
			if v == 0 {
				return optional.None[float64]()
			}

			result /= v
		}

		return optional.Some(result)

	case "min":
		result := values[0]
		for _, v := range values[1:] {
			result = math.Min(result, v)
		}

		return optional.Some(result)

	case "max":
		result := values[0]
		for _, v := range values[1:] {
			result = math.Max(result, v)
		}

		return optional.Some(result)

	case "abs":
		return optional.Some(math.Abs(values[0]))

	case "negate":
		return optional.Some(-values[0])

	default:
		return optional.None[float64]()
	}
}

// indicatorSeries returns the memoized full-length indicator series for a
// signal node. Each distinct (symbol, indicator, params) combination is
// computed exactly once per run. Params come from the linker when the node
// carried "$param.name" references, so bindings reach indicator periods.
func (e *Evaluator) indicatorSeries(s *types.Signal, symbol string) []float64 {
	params := s.Params
	if resolved, ok := e.linked.signalParams[s]; ok {
		params = resolved
	}

	field := paramString(params, "field", "close")
	output := paramString(params, "output", "")

	key := memoKey(symbol, s.Indicator, field, output, params)
	if series, ok := e.memo[key]; ok {
		return series
	}

	series := e.computeIndicator(s, symbol, field, output, params)
	e.memo[key] = series

	return series
}

func (e *Evaluator) computeIndicator(s *types.Signal, symbol, field, output string, params map[string]any) []float64 {
	bars, err := e.data.Bars(symbol)
	if err != nil {
		return nil
	}

	source := indicator.Field(bars, types.PriceField(field))

	switch s.Indicator {
	case "sma":
		return indicator.SMA(source, paramInt(params, "period", 20))
	case "ema":
		return indicator.EMA(source, paramInt(params, "period", 20))
	case "wma":
		return indicator.WMA(source, paramInt(params, "period", 20))
	case "rsi":
		return indicator.RSI(source, paramInt(params, "period", 14))
	case "macd":
		line, signalLine, histogram := indicator.MACD(source,
			paramInt(params, "fast", 12),
			paramInt(params, "slow", 26),
			paramInt(params, "signal", 9))

		switch output {
		case "signal":
			return signalLine
		case "histogram":
			return histogram
		default:
			return line
		}
	case "atr":
		return indicator.ATR(bars, paramInt(params, "period", 14))
	case "bollinger":
		middle, upper, lower := indicator.Bollinger(source,
			paramInt(params, "period", 20),
			paramFloat(params, "mult", 2))

		switch output {
		case "upper":
			return upper
		case "lower":
			return lower
		default:
			return middle
		}
	case "stddev":
		return indicator.StdDev(source, paramInt(params, "period", 20))
	case "momentum":
		return indicator.Momentum(source, paramInt(params, "period", 10))
	case "roc":
		return indicator.ROC(source, paramInt(params, "period", 10))
	case "highest":
		return indicator.Highest(source, paramInt(params, "period", 20))
	case "lowest":
		return indicator.Lowest(source, paramInt(params, "period", 20))
	case "volatility":
		return indicator.RealizedVol(source, paramInt(params, "period", 20))
	default:
		return nil
	}
}

func paramInt(params map[string]any, name string, fallback int) int {
	value, ok := params[name]
	if !ok {
		return fallback
	}

	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func paramFloat(params map[string]any, name string, fallback float64) float64 {
	value, ok := params[name]
	if !ok {
		return fallback
	}

	switch v := value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return fallback
	}
}

func paramString(params map[string]any, name, fallback string) string {
	if value, ok := params[name].(string); ok {
		return value
	}

	return fallback
}
