package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The canonical crossover table: signal [1,1,2] against threshold
// [2,1,1]. No cross at index 0 (no history), none at index 1 (equal is
// not strictly above), a cross at index 2.
func TestCrossAboveTruthTable(t *testing.T) {
	strategy := loadStrategy(t, `
info:
  id: cross-table
rules:
  - name: x
    when:
      type: cross
      direction: above
      signal:
        type: external
        key: a
        default: -1
      threshold:
        type: external
        key: b
        default: -1
    then:
      type: hold
`)

	data := datasetWithCloses(t, "TEST", []float64{1, 1, 1})
	data.SetExternal("a", []float64{1, 1, 2})
	data.SetExternal("b", []float64{2, 1, 1})

	evaluator := newTestEvaluator(t, strategy, data, "TEST", 10000)
	cond := strategy.Rules[0].When

	assert.False(t, evaluator.EvalCondition(cond, 0))
	assert.False(t, evaluator.EvalCondition(cond, 1))
	assert.True(t, evaluator.EvalCondition(cond, 2))
}

// The structured cross node and the crossover() formula must agree on
// every bar, including the equality boundary.
func TestCrossStructuredAndFormulaAgree(t *testing.T) {
	strategy := loadStrategy(t, `
info:
  id: cross-agreement
signals:
  a:
    type: external
    key: a
    default: -1
  b:
    type: external
    key: b
    default: -1
rules:
  - name: structured
    when:
      type: cross
      direction: above
      signal:
        $ref: a
      threshold:
        $ref: b
    then:
      type: hold
  - name: formula
    when:
      type: expr
      formula: crossover(a, b)
    then:
      type: hold
`)

	aSeries := []float64{1, 1, 2, 3, 2, 2, 5, 4, 4, 6}
	bSeries := []float64{2, 1, 1, 3, 3, 2, 2, 4, 5, 5}

	data := datasetWithCloses(t, "TEST", make([]float64, len(aSeries)))
	data.SetExternal("a", aSeries)
	data.SetExternal("b", bSeries)

	evaluator := newTestEvaluator(t, strategy, data, "TEST", 10000)
	structured := strategy.Rules[0].When
	formula := strategy.Rules[1].When

	for i := range aSeries {
		assert.Equal(t,
			evaluator.EvalCondition(structured, i),
			evaluator.EvalCondition(formula, i),
			"bar %d", i)
	}
}

func TestComparisonUndefinedOperandIsFalse(t *testing.T) {
	strategy := loadStrategy(t, `
info:
  id: warmup
rules:
  - name: x
    when:
      type: comparison
      operator: gt
      left:
        type: indicator
        indicator: sma
        params:
          period: 5
      right:
        type: constant
        value: 0
    then:
      type: hold
`)

	data := datasetWithCloses(t, "TEST", []float64{10, 11, 12, 13, 14, 15})
	evaluator := newTestEvaluator(t, strategy, data, "TEST", 10000)
	cond := strategy.Rules[0].When

	// Inside the 5-bar warmup the SMA is undefined, so the comparison is
	// false even though every close is positive.
	for i := 0; i < 4; i++ {
		assert.False(t, evaluator.EvalCondition(cond, i), "bar %d", i)
	}

	assert.True(t, evaluator.EvalCondition(cond, 4))
	assert.True(t, evaluator.EvalCondition(cond, 5))
}

func TestRangeInclusiveBoundary(t *testing.T) {
	strategy := loadStrategy(t, `
info:
  id: range
rules:
  - name: inclusive
    when:
      type: range
      min: 100
      max: 110
      inclusive: true
      signal:
        type: price
        field: close
    then:
      type: hold
  - name: strict
    when:
      type: range
      min: 100
      max: 110
      signal:
        type: price
        field: close
    then:
      type: hold
`)

	data := datasetWithCloses(t, "TEST", []float64{100, 105, 110, 111})
	evaluator := newTestEvaluator(t, strategy, data, "TEST", 10000)

	inclusive := strategy.Rules[0].When
	strict := strategy.Rules[1].When

	assert.True(t, evaluator.EvalCondition(inclusive, 0))
	assert.True(t, evaluator.EvalCondition(inclusive, 1))
	assert.True(t, evaluator.EvalCondition(inclusive, 2))
	assert.False(t, evaluator.EvalCondition(inclusive, 3))

	assert.False(t, evaluator.EvalCondition(strict, 0))
	assert.True(t, evaluator.EvalCondition(strict, 1))
	assert.False(t, evaluator.EvalCondition(strict, 2))
}

func TestTemporalModifiers(t *testing.T) {
	strategy := loadStrategy(t, `
info:
  id: temporal
signals:
  hot:
    type: external
    key: hot
    default: 0
conditions:
  is_hot:
    type: comparison
    operator: gt
    left:
      $ref: hot
    right:
      type: constant
      value: 0
rules:
  - name: for3
    when:
      type: temporal
      modifier: for_bars
      bars: 3
      condition:
        $ref: is_hot
    then:
      type: hold
  - name: within3
    when:
      type: temporal
      modifier: within_bars
      bars: 3
      condition:
        $ref: is_hot
    then:
      type: hold
  - name: first
    when:
      type: temporal
      modifier: first_time
      condition:
        $ref: is_hot
    then:
      type: hold
  - name: second
    when:
      type: temporal
      modifier: nth_time
      n: 2
      condition:
        $ref: is_hot
    then:
      type: hold
`)

	//                         0  1  2  3  4  5  6  7
	hot := []float64{0, 1, 1, 1, 0, 1, 0, 0}

	data := datasetWithCloses(t, "TEST", make([]float64, len(hot)))
	data.SetExternal("hot", hot)

	evaluator := newTestEvaluator(t, strategy, data, "TEST", 10000)

	forBars := strategy.Rules[0].When
	withinBars := strategy.Rules[1].When
	firstTime := strategy.Rules[2].When
	nthTime := strategy.Rules[3].When

	expectForBars := []bool{false, false, false, true, false, false, false, false}
	expectWithin := []bool{false, true, true, true, true, true, true, true}
	expectFirst := []bool{false, true, false, false, false, false, false, false}
	expectSecond := []bool{false, false, false, false, false, true, false, false}

	for i := range hot {
		assert.Equal(t, expectForBars[i], evaluator.EvalCondition(forBars, i), "for_bars bar %d", i)
		assert.Equal(t, expectWithin[i], evaluator.EvalCondition(withinBars, i), "within_bars bar %d", i)
		assert.Equal(t, expectFirst[i], evaluator.EvalCondition(firstTime, i), "first_time bar %d", i)
		assert.Equal(t, expectSecond[i], evaluator.EvalCondition(nthTime, i), "nth_time bar %d", i)
	}
}

func TestSequenceAdvancesAndExpires(t *testing.T) {
	strategy := loadStrategy(t, `
info:
  id: sequence
signals:
  a:
    type: external
    key: a
    default: 0
  b:
    type: external
    key: b
    default: 0
rules:
  - name: pattern
    when:
      type: sequence
      expire_bars: 4
      steps:
        - condition:
            type: comparison
            operator: gt
            left:
              $ref: a
            right:
              type: constant
              value: 0
        - condition:
            type: comparison
            operator: gt
            left:
              $ref: b
            right:
              type: constant
              value: 0
          within_bars: 2
    then:
      type: hold
`)

	//               0  1  2  3  4  5  6  7
	aSeries := []float64{1, 0, 0, 0, 1, 0, 0, 0}
	bSeries := []float64{0, 0, 0, 1, 0, 1, 0, 0}

	data := datasetWithCloses(t, "TEST", make([]float64, len(aSeries)))
	data.SetExternal("a", aSeries)
	data.SetExternal("b", bSeries)

	evaluator := newTestEvaluator(t, strategy, data, "TEST", 10000)
	cond := strategy.Rules[0].When

	// Step one matches at bar 0, but b fires only at bar 3, outside the
	// two-bar window, so the first attempt expires. The second attempt
	// starts at bar 4 and completes at bar 5.
	expected := []bool{false, false, false, false, false, true, false, false}

	for i := range aSeries {
		assert.Equal(t, expected[i], evaluator.EvalCondition(cond, i), "bar %d", i)
	}
}

func TestChangeCondition(t *testing.T) {
	strategy := loadStrategy(t, `
info:
  id: change
rules:
  - name: spike
    when:
      type: change
      bars: 1
      percent: true
      min_change: 5
      direction: above
      signal:
        type: price
        field: close
    then:
      type: hold
`)

	data := datasetWithCloses(t, "TEST", []float64{100, 104, 110, 108})
	evaluator := newTestEvaluator(t, strategy, data, "TEST", 10000)
	cond := strategy.Rules[0].When

	assert.False(t, evaluator.EvalCondition(cond, 0))
	assert.False(t, evaluator.EvalCondition(cond, 1)) // +4%, below threshold
	assert.True(t, evaluator.EvalCondition(cond, 2))  // +5.77%
	assert.False(t, evaluator.EvalCondition(cond, 3)) // down move
}

func TestBooleanComposition(t *testing.T) {
	strategy := loadStrategy(t, `
info:
  id: boolean
rules:
  - name: combo
    when:
      type: and
      conditions:
        - type: always
        - type: not
          condition:
            type: comparison
            operator: gt
            left:
              type: price
              field: close
            right:
              type: constant
              value: 105
    then:
      type: hold
`)

	data := datasetWithCloses(t, "TEST", []float64{100, 110})
	evaluator := newTestEvaluator(t, strategy, data, "TEST", 10000)
	cond := strategy.Rules[0].When

	require.True(t, evaluator.EvalCondition(cond, 0))
	require.False(t, evaluator.EvalCondition(cond, 1))
}
