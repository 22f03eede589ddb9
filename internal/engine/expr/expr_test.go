package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapEnv serves identifiers from fixed series and indicator calls as a
// plain moving average, enough to exercise every grammar construct.
type mapEnv struct {
	index  int
	series map[string][]float64
}

func (m *mapEnv) Value(name string, offset int) (float64, bool) {
	s, ok := m.series[name]
	if !ok {
		return 0, false
	}

	i := m.index + offset
	if i < 0 || i >= len(s) {
		return 0, false
	}

	return s[i], true
}

func (m *mapEnv) Indicator(name, field string, params []float64, offset int) (float64, bool) {
	if name != "sma" || len(params) != 1 {
		return 0, false
	}

	s, ok := m.series[field]
	if !ok {
		return 0, false
	}

	period := int(params[0])
	end := m.index + offset

	if end-period+1 < 0 || end >= len(s) {
		return 0, false
	}

	sum := 0.0
	for i := end - period + 1; i <= end; i++ {
		sum += s[i]
	}

	return sum / float64(period), true
}

func evalAt(t *testing.T, source string, env *mapEnv) (float64, bool) {
	t.Helper()

	prog, err := Compile(source)
	require.NoError(t, err)

	return prog.Eval(env, 0)
}

func TestArithmeticPrecedence(t *testing.T) {
	env := &mapEnv{index: 0, series: map[string][]float64{"close": {10}}}

	cases := []struct {
		source string
		want   float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 - 4 - 3", 3},
		{"8 / 2 / 2", 2},
		{"-close + 12", 2},
		{"abs(3 - close)", 7},
		{"min(close, 7)", 7},
		{"max(close, 7)", 10},
		{"close * 2 - 5", 15},
		{"2 + close[-0]", 12},
	}

	for _, tc := range cases {
		got, ok := evalAt(t, tc.source, env)
		require.True(t, ok, tc.source)
		assert.InDelta(t, tc.want, got, 1e-9, tc.source)
	}
}

func TestComparisonAndBooleanOperators(t *testing.T) {
	env := &mapEnv{index: 0, series: map[string][]float64{"close": {10}, "open": {8}}}

	cases := []struct {
		source string
		want   float64
	}{
		{"close > open", 1},
		{"close < open", 0},
		{"close >= 10", 1},
		{"close <= 9.99", 0},
		{"close == 10", 1},
		{"close != 10", 0},
		{"close > 5 && open > 5", 1},
		{"close > 5 and open > 100", 0},
		{"close > 100 || open > 5", 1},
		{"close > 100 or open > 100", 0},
		{"!(close > 100)", 1},
		{"not (close > 5)", 0},
	}

	for _, tc := range cases {
		got, ok := evalAt(t, tc.source, env)
		require.True(t, ok, tc.source)
		assert.InDelta(t, tc.want, got, 1e-9, tc.source)
	}
}

func TestHistoryIndexing(t *testing.T) {
	env := &mapEnv{index: 2, series: map[string][]float64{"close": {100, 105, 110}}}

	got, ok := evalAt(t, "close[-1]", env)
	require.True(t, ok)
	assert.InDelta(t, 105, got, 1e-9)

	got, ok = evalAt(t, "close - close[-2]", env)
	require.True(t, ok)
	assert.InDelta(t, 10, got, 1e-9)

	// History before the first bar is undefined.
	_, ok = evalAt(t, "close[-3]", env)
	assert.False(t, ok)
}

func TestIndicatorCall(t *testing.T) {
	env := &mapEnv{index: 2, series: map[string][]float64{"close": {10, 20, 30}}}

	got, ok := evalAt(t, "sma(close, 3)", env)
	require.True(t, ok)
	assert.InDelta(t, 20, got, 1e-9)

	got, ok = evalAt(t, "close > sma(close, 3)", env)
	require.True(t, ok)
	assert.InDelta(t, 1, got, 1e-9)

	// Shifting an indicator call shifts its whole window.
	_, ok = evalAt(t, "sma(close, 3)[-1]", env)
	assert.False(t, ok)
}

func TestCrossoverBuiltins(t *testing.T) {
	env := &mapEnv{
		series: map[string][]float64{
			"a": {1, 1, 2},
			"b": {2, 1, 1},
		},
	}

	// No history at bar 0, equality at bar 1, strict cross at bar 2.
	for i, want := range []float64{0, 0, 1} {
		env.index = i

		got, ok := evalAt(t, "crossover(a, b)", env)
		if i == 0 {
			assert.False(t, ok, "bar %d", i)
			continue
		}

		require.True(t, ok, "bar %d", i)
		assert.InDelta(t, want, got, 1e-9, "bar %d", i)
	}

	env.index = 2

	got, ok := evalAt(t, "crossunder(b, a)", env)
	require.True(t, ok)
	assert.InDelta(t, 1, got, 1e-9)
}

func TestUndefinedPropagation(t *testing.T) {
	env := &mapEnv{index: 0, series: map[string][]float64{"close": {10}}}

	for _, source := range []string{
		"volume + 1",
		"close / 0",
		"close > volume",
		"abs(volume)",
		"min(close, volume)",
		"close[-1]",
	} {
		prog, err := Compile(source)
		require.NoError(t, err, source)

		_, ok := prog.Eval(env, 0)
		assert.False(t, ok, source)

		_, ok = prog.EvalBool(env, 0)
		assert.False(t, ok, source)
	}
}

func TestCompileErrors(t *testing.T) {
	for _, source := range []string{
		"",
		"close +",
		"(close > 1",
		"close[1]",
		"close[-1.5] extra",
		"crossover(a)",
		"abs(a, b)",
		"1 2",
		"close > > 1",
	} {
		_, err := Compile(source)
		assert.Error(t, err, source)
	}
}

func TestProgramSource(t *testing.T) {
	prog, err := Compile("close > 10")
	require.NoError(t, err)
	assert.Equal(t, "close > 10", prog.Source())
}

func TestCrossHelpers(t *testing.T) {
	assert.False(t, CrossAbove(1, 2, 1, 1)) // equal now, not a cross
	assert.True(t, CrossAbove(1, 1, 2, 1))  // equal before counts as at-or-below
	assert.False(t, CrossAbove(2, 1, 3, 1)) // already above

	assert.True(t, CrossBelow(1, 1, 0, 1))
	assert.False(t, CrossBelow(0, 1, 0, 1))
}
