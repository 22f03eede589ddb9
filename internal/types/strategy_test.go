package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSignalShorthandForms(t *testing.T) {
	var ref Signal
	require.NoError(t, yaml.Unmarshal([]byte(`{$ref: fast_ma}`), &ref))
	assert.Equal(t, SignalTypeRef, ref.Type)
	assert.Equal(t, "fast_ma", ref.Ref)

	var param Signal
	require.NoError(t, yaml.Unmarshal([]byte(`{$param: period}`), &param))
	assert.Equal(t, SignalTypeParam, param.Type)
	assert.Equal(t, "period", param.Param)

	// A typeless node that is neither shorthand reads the price series.
	var price Signal
	require.NoError(t, yaml.Unmarshal([]byte(`{field: close}`), &price))
	assert.Equal(t, SignalTypePrice, price.Type)
	assert.Equal(t, "close", price.Field)

	// Explicit types are never overridden.
	var expl Signal
	require.NoError(t, yaml.Unmarshal([]byte(`{type: constant, value: 30}`), &expl))
	assert.Equal(t, SignalTypeConstant, expl.Type)
	assert.InDelta(t, 30, expl.Value, 1e-9)
}

func TestConditionDefaults(t *testing.T) {
	var ref Condition
	require.NoError(t, yaml.Unmarshal([]byte(`{$ref: oversold}`), &ref))
	assert.Equal(t, ConditionTypeRef, ref.Type)
	assert.Equal(t, "oversold", ref.Ref)

	var cmp Condition
	require.NoError(t, yaml.Unmarshal([]byte(`
left: {field: close}
operator: ">"
right: {type: constant, value: 100}
`), &cmp))
	assert.Equal(t, ConditionTypeComparison, cmp.Type)
	require.NotNil(t, cmp.Left)
	assert.Equal(t, SignalTypePrice, cmp.Left.Type)
}

func TestCrossDirectionDefaultsToAbove(t *testing.T) {
	var c Condition
	require.NoError(t, yaml.Unmarshal([]byte(`
type: cross
signal: {$ref: fast_ma}
threshold: {$ref: slow_ma}
`), &c))

	assert.Equal(t, CrossAbove, c.Direction)

	var below Condition
	require.NoError(t, yaml.Unmarshal([]byte(`
type: cross
direction: below
signal: {$ref: fast_ma}
threshold: {$ref: slow_ma}
`), &below))

	assert.Equal(t, CrossBelow, below.Direction)
}

func TestRuleEnabledDefaultsTrue(t *testing.T) {
	var r Rule
	require.NoError(t, yaml.Unmarshal([]byte(`
name: entry
when: {$ref: oversold}
then: {type: hold}
`), &r))

	assert.True(t, r.Enabled)

	var disabled Rule
	require.NoError(t, yaml.Unmarshal([]byte(`
name: entry
enabled: false
when: {$ref: oversold}
then: {type: hold}
`), &disabled))

	assert.False(t, disabled.Enabled)
}

func TestActionDefaults(t *testing.T) {
	var a Action
	require.NoError(t, yaml.Unmarshal([]byte(`{}`), &a))

	assert.Equal(t, ActionTypeTrade, a.Type)
	assert.Equal(t, TradeDirectionBuy, a.Direction)
	assert.Equal(t, OrderTypeMarket, a.OrderType)

	var reb Action
	require.NoError(t, yaml.Unmarshal([]byte(`{type: rebalance, method: equal}`), &reb))

	assert.Equal(t, ActionTypeRebalance, reb.Type)
	assert.InDelta(t, DefaultRebalanceThreshold, reb.Threshold, 1e-9)

	// Trade-only defaults stay out of non-trade actions.
	var alert Action
	require.NoError(t, yaml.Unmarshal([]byte(`{type: alert, message: hi}`), &alert))
	assert.Empty(t, alert.Direction)
	assert.Empty(t, alert.OrderType)
}

func TestSizingDefaults(t *testing.T) {
	var s Sizing
	require.NoError(t, yaml.Unmarshal([]byte(`{percent: 0.1}`), &s))
	assert.Equal(t, SizingTypePercentEquity, s.Type)

	var kelly Sizing
	require.NoError(t, yaml.Unmarshal([]byte(`{type: kelly}`), &kelly))
	assert.InDelta(t, 0.5, kelly.Fraction, 1e-9)
	assert.Equal(t, 20, kelly.Lookback)

	var vol Sizing
	require.NoError(t, yaml.Unmarshal([]byte(`{type: volatility_adjusted, target_vol: 0.15}`), &vol))
	assert.Equal(t, 20, vol.Lookback)

	var explicit Sizing
	require.NoError(t, yaml.Unmarshal([]byte(`{type: kelly, fraction: 0.25, lookback: 50}`), &explicit))
	assert.InDelta(t, 0.25, explicit.Fraction, 1e-9)
	assert.Equal(t, 50, explicit.Lookback)
}

func TestLoadStrategy(t *testing.T) {
	strategy, err := LoadStrategy([]byte(`
info:
  id: golden-cross
  name: Golden Cross
signals:
  fast_ma:
    type: indicator
    indicator: sma
    params: {period: 50}
  slow_ma:
    type: indicator
    indicator: sma
    params: {period: 200}
parameters:
  defaults:
    period: 50
rules:
  - name: entry
    when:
      type: cross
      signal: {$ref: fast_ma}
      threshold: {$ref: slow_ma}
    then:
      direction: buy
`))
	require.NoError(t, err)

	assert.Equal(t, "golden-cross", strategy.Info.ID)
	assert.Len(t, strategy.Signals, 2)
	require.Len(t, strategy.Rules, 1)

	rule := strategy.Rules[0]
	assert.True(t, rule.Enabled)
	assert.Equal(t, ConditionTypeCross, rule.When.Type)
	assert.Equal(t, CrossAbove, rule.When.Direction)
	assert.Equal(t, TradeDirectionBuy, rule.Then.Direction)
	assert.InDelta(t, 50, strategy.Parameters.Defaults["period"], 1e-9)
}

func TestLoadStrategyRejectsMalformedYAML(t *testing.T) {
	_, err := LoadStrategy([]byte("rules: [unclosed"))
	assert.Error(t, err)
}
