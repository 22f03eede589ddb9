package engine

import (
	"math"

	"github.com/rxtech-lab/utss-engine/internal/indicator"
	"github.com/rxtech-lab/utss-engine/internal/types"
)

var priceFields = map[string]bool{
	"open":   true,
	"high":   true,
	"low":    true,
	"close":  true,
	"volume": true,
	"vwap":   true,
	"hl2":    true,
	"hlc3":   true,
	"ohlc4":  true,
}

// exprEnv adapts the evaluator to the formula grammar. Identifiers resolve
// in order: price field, named signal, parameter. Indicator calls share the
// run's memo with the structured indicator nodes, so a formula and a
// structured node requesting the same series compute it once.
type exprEnv struct {
	eval   *Evaluator
	index  int
	symbol string
}

func (env *exprEnv) Value(name string, offset int) (float64, bool) {
	index := env.index + offset
	if index < 0 {
		return 0, false
	}

	if priceFields[name] {
		value := env.eval.priceAt(env.symbol, types.PriceField(name), index)
		if value.IsNone() {
			return 0, false
		}

		return value.Unwrap(), true
	}

	if signal, ok := env.eval.strategy.Signals[name]; ok {
		value := env.eval.EvalSignal(signal, index)
		if value.IsNone() {
			return 0, false
		}

		return value.Unwrap(), true
	}

	if value, ok := env.eval.params[name]; ok {
		return value, true
	}

	if value, ok := env.eval.strategy.Parameters.Defaults[name]; ok {
		return value, true
	}

	return 0, false
}

// exprIndicatorOutputs maps formula-only indicator names onto the
// structured vocabulary's secondary outputs.
var exprIndicatorOutputs = map[string][2]string{
	"macd_signal":     {"macd", "signal"},
	"macd_histogram":  {"macd", "histogram"},
	"bollinger_upper": {"bollinger", "upper"},
	"bollinger_lower": {"bollinger", "lower"},
}

func (env *exprEnv) Indicator(name, field string, params []float64, offset int) (float64, bool) {
	index := env.index + offset
	if index < 0 {
		return 0, false
	}

	output := ""
	if mapped, ok := exprIndicatorOutputs[name]; ok {
		name, output = mapped[0], mapped[1]
	}

	series := env.eval.indicatorSeriesPositional(env.symbol, name, field, output, params)
	if index >= len(series) || math.IsNaN(series[index]) {
		return 0, false
	}

	return series[index], true
}

// indicatorSeriesPositional is the formula-grammar entry into the indicator
// memo: positional numeric parameters instead of a named map.
func (e *Evaluator) indicatorSeriesPositional(symbol, name, field, output string, params []float64) []float64 {
	named := make(map[string]any, len(params))

	switch name {
	case "macd":
		keys := []string{"fast", "slow", "signal"}
		for i, v := range params {
			if i < len(keys) {
				named[keys[i]] = v
			}
		}
	case "bollinger":
		keys := []string{"period", "mult"}
		for i, v := range params {
			if i < len(keys) {
				named[keys[i]] = v
			}
		}
	default:
		if len(params) > 0 {
			named["period"] = params[0]
		}
	}

	if output != "" {
		named["output"] = output
	}

	if field != "" {
		named["field"] = field
	}

	key := memoKey(symbol, name, field, output, named)
	if series, ok := e.memo[key]; ok {
		return series
	}

	node := &types.Signal{Type: types.SignalTypeIndicator, Indicator: name, Params: named}

	series := e.computeIndicator(node, symbol, field, output, named)
	e.memo[key] = series

	return series
}

// Vol returns the realized volatility of the run symbol's closes at a bar
// index, used by sizing and rebalancing.
func (e *Evaluator) Vol(symbol string, lookback, index int) (float64, bool) {
	series := e.indicatorSeriesPositional(symbol, "volatility", "close", "", []float64{float64(lookback)})
	if index < 0 || index >= len(series) || math.IsNaN(series[index]) {
		return 0, false
	}

	return series[index], true
}

// ATRAt returns the average true range at a bar index, the fallback basis
// for volatility-adjusted sizing.
func (e *Evaluator) ATRAt(symbol string, period, index int) (float64, bool) {
	bars, err := e.data.Bars(symbol)
	if err != nil {
		return 0, false
	}

	key := memoKey(symbol, "atr", "", "", map[string]any{"period": period})

	series, ok := e.memo[key]
	if !ok {
		series = indicator.ATR(bars, period)
		e.memo[key] = series
	}

	if index < 0 || index >= len(series) || math.IsNaN(series[index]) {
		return 0, false
	}

	return series[index], true
}
