package engine

import (
	"math"

	"github.com/rxtech-lab/utss-engine/internal/engine/expr"
	"github.com/rxtech-lab/utss-engine/internal/types"
)

// condState is the per-instance record a stateful condition carries across
// bars. States live in a slice indexed by the slot the linker assigned, are
// owned by the run, and reset at run start. nextIndex tracks how far the
// instance has observed its child; evaluation at a later bar first catches
// up bar by bar so rules that skip bars (regime filters, short-circuited
// parents) still see consistent history.
type condState struct {
	nextIndex int

	// temporal
	trueStreak    int
	lastTrueIndex int
	prevTrue      bool
	triggerCount  int
	lastEdgeIndex int

	// sequence
	step          int
	stepMatchedAt int
	startedAt     int
}

func newCondState() condState {
	return condState{
		nextIndex:     0,
		trueStreak:    0,
		lastTrueIndex: -1,
		prevTrue:      false,
		triggerCount:  0,
		lastEdgeIndex: -1,
		step:          0,
		stepMatchedAt: -1,
		startedAt:     -1,
	}
}

// EvalCondition evaluates a condition node at a bar index. An undefined
// operand makes the condition false, never an error.
func (e *Evaluator) EvalCondition(c *types.Condition, index int) bool {
	switch c.Type {
	case types.ConditionTypeAlways:
		return true

	case types.ConditionTypeComparison:
		return e.evalComparison(c, index)

	case types.ConditionTypeCross:
		return e.evalCross(c, index)

	case types.ConditionTypeRange:
		value := e.EvalSignal(c.Signal, index)
		if value.IsNone() {
			return false
		}

		v := value.Unwrap()
		if c.Inclusive {
			return v >= c.Min && v <= c.Max
		}

		return v > c.Min && v < c.Max

	case types.ConditionTypeAnd:
		for _, child := range c.Conditions {
			if !e.EvalCondition(child, index) {
				return false
			}
		}

		return true

	case types.ConditionTypeOr:
		for _, child := range c.Conditions {
			if e.EvalCondition(child, index) {
				return true
			}
		}

		return false

	case types.ConditionTypeNot:
		return !e.EvalCondition(c.Condition, index)

	case types.ConditionTypeTemporal:
		return e.evalTemporal(c, index)

	case types.ConditionTypeSequence:
		return e.evalSequence(c, index)

	case types.ConditionTypeChange:
		return e.evalChange(c, index)

	case types.ConditionTypeExpr:
		prog := e.linked.condProgs[c]
		if prog == nil {
			return false
		}

		result, ok := prog.EvalBool(&exprEnv{eval: e, index: index, symbol: e.symbol}, 0)

		return ok && result

	case types.ConditionTypeRef:
		target := e.linked.condTargets[c]
		if target == nil {
			return false
		}

		return e.EvalCondition(target, index)

	default:
		return false
	}
}

func (e *Evaluator) evalComparison(c *types.Condition, index int) bool {
	left := e.EvalSignal(c.Left, index)
	right := e.EvalSignal(c.Right, index)

	if left.IsNone() || right.IsNone() {
		return false
	}

	l, r := left.Unwrap(), right.Unwrap()

	switch c.Operator {
	case "gt", ">":
		return l > r
	case "gte", ">=":
		return l >= r
	case "lt", "<":
		return l < r
	case "lte", "<=":
		return l <= r
	case "eq", "==":
		return l == r
	case "neq", "!=":
		return l != r
	default:
		return false
	}
}

// evalCross detects a strict crossover between two signal series. Equality
// on the previous bar counts as "was at or below"; equality on the current
// bar is not a cross. The formula path's crossover() uses the same helper.
func (e *Evaluator) evalCross(c *types.Condition, index int) bool {
	curSignal := e.EvalSignal(c.Signal, index)
	curThreshold := e.EvalSignal(c.Threshold, index)
	prevSignal := e.EvalSignal(c.Signal, index-1)
	prevThreshold := e.EvalSignal(c.Threshold, index-1)

	if curSignal.IsNone() || curThreshold.IsNone() || prevSignal.IsNone() || prevThreshold.IsNone() {
		return false
	}

	if c.Direction == types.CrossBelow {
		return expr.CrossBelow(prevSignal.Unwrap(), prevThreshold.Unwrap(), curSignal.Unwrap(), curThreshold.Unwrap())
	}

	return expr.CrossAbove(prevSignal.Unwrap(), prevThreshold.Unwrap(), curSignal.Unwrap(), curThreshold.Unwrap())
}

func (e *Evaluator) evalChange(c *types.Condition, index int) bool {
	bars := c.Bars
	if bars <= 0 {
		bars = 1
	}

	current := e.EvalSignal(c.Signal, index)
	past := e.EvalSignal(c.Signal, index-bars)

	if current.IsNone() || past.IsNone() {
		return false
	}

	delta := current.Unwrap() - past.Unwrap()

	magnitude := delta
	if c.Percent {
		if past.Unwrap() == 0 {
			return false
		}

		magnitude = delta / past.Unwrap() * 100
	}

	switch c.Direction {
	case types.CrossAbove:
		return delta > 0 && magnitude >= c.MinChange
	case types.CrossBelow:
		return delta < 0 && -magnitude >= c.MinChange
	default:
		return math.Abs(magnitude) >= c.MinChange
	}
}

// catchUpTemporal advances a temporal instance's child observation to the
// given bar, updating streaks, last-true position, and rising-edge count.
func (e *Evaluator) catchUpTemporal(c *types.Condition, state *condState, index int) {
	for j := state.nextIndex; j <= index; j++ {
		value := e.EvalCondition(c.Condition, j)

		if value {
			state.trueStreak++
			state.lastTrueIndex = j

			if !state.prevTrue {
				state.triggerCount++
				state.lastEdgeIndex = j
			}
		} else {
			state.trueStreak = 0
		}

		state.prevTrue = value
	}

	if index >= state.nextIndex {
		state.nextIndex = index + 1
	}
}

func (e *Evaluator) evalTemporal(c *types.Condition, index int) bool {
	slot, ok := e.linked.condSlots[c]
	if !ok {
		return false
	}

	state := &e.states[slot]
	e.catchUpTemporal(c, state, index)

	switch c.Modifier {
	case types.TemporalForBars:
		// True for the last N consecutive bars including the current one.
		return c.Bars > 0 && state.trueStreak >= c.Bars

	case types.TemporalWithinBars:
		// True at least once in the last N bars including the current one.
		return state.lastTrueIndex >= 0 && index-state.lastTrueIndex < c.Bars

	case types.TemporalSinceBars:
		// At least N bars have elapsed since the child was last true.
		return state.lastTrueIndex >= 0 && index-state.lastTrueIndex >= c.Bars

	case types.TemporalFirstTime:
		return state.lastEdgeIndex == index && state.triggerCount == 1

	case types.TemporalNthTime:
		return state.lastEdgeIndex == index && state.triggerCount == c.N

	default:
		return false
	}
}

// evalSequence advances an ordered multi-bar pattern. The final step
// matching completes the sequence: the condition is true on exactly that
// bar and the instance resets to step zero.
func (e *Evaluator) evalSequence(c *types.Condition, index int) bool {
	slot, ok := e.linked.condSlots[c]
	if !ok {
		return false
	}

	state := &e.states[slot]
	completed := false

	for j := state.nextIndex; j <= index; j++ {
		completed = e.stepSequence(c, state, j) && j == index
	}

	if index >= state.nextIndex {
		state.nextIndex = index + 1
	}

	return completed
}

func (e *Evaluator) stepSequence(c *types.Condition, state *condState, index int) bool {
	if c.ResetOn != nil && e.EvalCondition(c.ResetOn, index) {
		state.step = 0
		state.startedAt = -1
	}

	if state.step > 0 && c.ExpireBars > 0 && index-state.startedAt > c.ExpireBars {
		state.step = 0
		state.startedAt = -1
	}

	if state.step > 0 {
		step := c.Steps[state.step]
		if step.WithinBars > 0 && index-state.stepMatchedAt > step.WithinBars {
			state.step = 0
			state.startedAt = -1
		}
	}

	step := c.Steps[state.step]

	if state.step > 0 && index-state.stepMatchedAt < step.MinBars {
		return false
	}

	if !e.EvalCondition(step.Condition, index) {
		return false
	}

	if state.step == 0 {
		state.startedAt = index
	}

	state.stepMatchedAt = index
	state.step++

	if state.step == len(c.Steps) {
		state.step = 0
		state.startedAt = -1

		return true
	}

	return false
}
