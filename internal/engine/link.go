package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rxtech-lab/utss-engine/internal/engine/expr"
	"github.com/rxtech-lab/utss-engine/internal/types"
	"github.com/rxtech-lab/utss-engine/pkg/errors"
)

// knownIndicators is the vocabulary the structured indicator node and the
// formula grammar both accept. Unknown names are rejected at link time.
var knownIndicators = map[string]bool{
	"sma":        true,
	"ema":        true,
	"wma":        true,
	"rsi":        true,
	"macd":       true,
	"atr":        true,
	"bollinger":  true,
	"stddev":     true,
	"momentum":   true,
	"roc":        true,
	"highest":    true,
	"lowest":     true,
	"volatility": true,
}

// linked is the resolved form of a strategy tree. References are turned
// into direct pointers, formulas are compiled, and every stateful
// condition instance gets an arena slot, all before the first bar.
type linked struct {
	signalTargets map[*types.Signal]*types.Signal
	condTargets   map[*types.Condition]*types.Condition
	condSlots     map[*types.Condition]int
	slotCount     int
	signalProgs   map[*types.Signal]*expr.Program
	condProgs     map[*types.Condition]*expr.Program
	signalParams  map[*types.Signal]map[string]any
	sortedRules   []*types.Rule
	regimes       map[*types.Rule]*types.Condition
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

type linker struct {
	strategy *types.Strategy
	params   map[string]float64
	out      *linked

	signalMarks map[*types.Signal]visitState
	condMarks   map[*types.Condition]visitState
}

// link validates and resolves a strategy tree against a parameter binding.
// All structural errors (unknown node types, dangling references, cycles,
// unbound parameters, malformed formulas) surface here with the offending
// node path, before any simulation work starts.
func link(strategy *types.Strategy, params map[string]float64) (*linked, error) {
	l := &linker{
		strategy: strategy,
		params:   params,
		out: &linked{
			signalTargets: make(map[*types.Signal]*types.Signal),
			condTargets:   make(map[*types.Condition]*types.Condition),
			condSlots:     make(map[*types.Condition]int),
			slotCount:     0,
			signalProgs:   make(map[*types.Signal]*expr.Program),
			condProgs:     make(map[*types.Condition]*expr.Program),
			signalParams:  make(map[*types.Signal]map[string]any),
			sortedRules:   nil,
			regimes:       make(map[*types.Rule]*types.Condition),
		},
		signalMarks: make(map[*types.Signal]visitState),
		condMarks:   make(map[*types.Condition]visitState),
	}

	// Named nodes are walked in sorted order so slot assignment is
	// deterministic across runs.
	names := make([]string, 0, len(strategy.Signals))
	for name := range strategy.Signals {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if err := l.walkSignal(strategy.Signals[name], "signals."+name); err != nil {
			return nil, err
		}
	}

	condNames := make([]string, 0, len(strategy.Conditions))
	for name := range strategy.Conditions {
		condNames = append(condNames, name)
	}

	sort.Strings(condNames)

	for _, name := range condNames {
		if err := l.walkCondition(strategy.Conditions[name], "conditions."+name); err != nil {
			return nil, err
		}
	}

	for i, rule := range strategy.Rules {
		path := fmt.Sprintf("rules[%d]", i)

		if rule.When == nil {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "%s: rule %q has no condition", path, rule.Name)
		}

		if err := l.walkCondition(rule.When, path+".when"); err != nil {
			return nil, err
		}

		if rule.Then == nil {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "%s: rule %q has no action", path, rule.Name)
		}

		if err := l.walkAction(rule.Then, path+".then"); err != nil {
			return nil, err
		}

		if rule.Regime != "" {
			regime, ok := strategy.Conditions[rule.Regime]
			if !ok {
				return nil, errors.Newf(errors.ErrCodeDanglingRef, "%s: regime %q is not a named condition", path, rule.Regime)
			}

			l.out.regimes[rule] = regime
		}
	}

	l.sortRules()

	return l.out, nil
}

// sortRules orders enabled rules by priority descending, then declaration
// order ascending. The sort is stable so equal priorities keep their
// declared order.
func (l *linker) sortRules() {
	rules := make([]*types.Rule, 0, len(l.strategy.Rules))

	for _, rule := range l.strategy.Rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	l.out.sortedRules = rules
}

func (l *linker) walkSignal(s *types.Signal, path string) error {
	if s == nil {
		return errors.Newf(errors.ErrCodeUnknownNodeType, "%s: nil signal node", path)
	}

	switch l.signalMarks[s] {
	case visited:
		return nil
	case visiting:
		return errors.Newf(errors.ErrCodeReferenceCycle, "%s: signal reference cycle", path)
	case unvisited:
	}

	l.signalMarks[s] = visiting
	defer func() { l.signalMarks[s] = visited }()

	switch s.Type {
	case types.SignalTypePrice, types.SignalTypeCalendar, types.SignalTypeConstant,
		types.SignalTypePortfolio, types.SignalTypeEvent:

	case types.SignalTypeIndicator:
		if !knownIndicators[s.Indicator] {
			return errors.Newf(errors.ErrCodeUnknownIndicator, "%s: unknown indicator %q", path, s.Indicator)
		}

		resolved, err := l.resolveIndicatorParams(s.Params, path)
		if err != nil {
			return err
		}

		if resolved != nil {
			l.out.signalParams[s] = resolved
		}

	case types.SignalTypeFundamental:
		if s.Metric == "" {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: fundamental signal needs a metric", path)
		}

	case types.SignalTypeExternal:
		if s.Key == "" {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: external signal needs a key", path)
		}

	case types.SignalTypeArithmetic:
		if len(s.Operands) == 0 {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: arithmetic signal needs operands", path)
		}

		for i, operand := range s.Operands {
			if err := l.walkSignal(operand, fmt.Sprintf("%s.operands[%d]", path, i)); err != nil {
				return err
			}
		}

	case types.SignalTypeExpr:
		prog, err := expr.Compile(s.Formula)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeExprParseFailed, err, "%s: invalid formula", path)
		}

		l.out.signalProgs[s] = prog

	case types.SignalTypeRef:
		target, ok := l.strategy.Signals[s.Ref]
		if !ok {
			return errors.Newf(errors.ErrCodeDanglingRef, "%s: signal $ref %q not found", path, s.Ref)
		}

		if err := l.walkSignal(target, "signals."+s.Ref); err != nil {
			return err
		}

		l.out.signalTargets[s] = target

	case types.SignalTypeParam:
		if _, ok := l.params[s.Param]; ok {
			break
		}

		if _, ok := l.strategy.Parameters.Defaults[s.Param]; !ok {
			return errors.Newf(errors.ErrCodeUnboundParameter, "%s: $param %q has no binding or default", path, s.Param)
		}

	default:
		return errors.Newf(errors.ErrCodeUnknownNodeType, "%s: unknown signal type %q", path, s.Type)
	}

	return nil
}

// resolveIndicatorParams substitutes "$param.name" string values in an
// indicator's params against the binding and the strategy defaults, which
// is how optimizers vary indicator periods. The resolved copy is stored
// per node so the shared strategy tree is never mutated; runs with
// different bindings see different params.
func (l *linker) resolveIndicatorParams(params map[string]any, path string) (map[string]any, error) {
	var resolved map[string]any

	for name, value := range params {
		ref, ok := value.(string)
		if !ok || !strings.HasPrefix(ref, "$param.") {
			continue
		}

		paramName := strings.TrimPrefix(ref, "$param.")

		bound, ok := l.params[paramName]
		if !ok {
			bound, ok = l.strategy.Parameters.Defaults[paramName]
		}

		if !ok {
			return nil, errors.Newf(errors.ErrCodeUnboundParameter,
				"%s.params.%s: $param %q has no binding or default", path, name, paramName)
		}

		if resolved == nil {
			resolved = make(map[string]any, len(params))
			for k, v := range params {
				resolved[k] = v
			}
		}

		resolved[name] = bound
	}

	return resolved, nil
}

func (l *linker) walkCondition(c *types.Condition, path string) error {
	if c == nil {
		return errors.Newf(errors.ErrCodeUnknownNodeType, "%s: nil condition node", path)
	}

	switch l.condMarks[c] {
	case visited:
		return nil
	case visiting:
		return errors.Newf(errors.ErrCodeReferenceCycle, "%s: condition reference cycle", path)
	case unvisited:
	}

	l.condMarks[c] = visiting
	defer func() { l.condMarks[c] = visited }()

	switch c.Type {
	case types.ConditionTypeAlways:

	case types.ConditionTypeComparison:
		if c.Left == nil || c.Right == nil {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: comparison needs left and right signals", path)
		}

		if err := l.walkSignal(c.Left, path+".left"); err != nil {
			return err
		}

		if err := l.walkSignal(c.Right, path+".right"); err != nil {
			return err
		}

	case types.ConditionTypeCross:
		if c.Signal == nil || c.Threshold == nil {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: cross needs signal and threshold", path)
		}

		if err := l.walkSignal(c.Signal, path+".signal"); err != nil {
			return err
		}

		if err := l.walkSignal(c.Threshold, path+".threshold"); err != nil {
			return err
		}

	case types.ConditionTypeRange, types.ConditionTypeChange:
		if c.Signal == nil {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: %s needs a signal", path, c.Type)
		}

		if err := l.walkSignal(c.Signal, path+".signal"); err != nil {
			return err
		}

	case types.ConditionTypeAnd, types.ConditionTypeOr:
		if len(c.Conditions) == 0 {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: %s needs child conditions", path, c.Type)
		}

		for i, child := range c.Conditions {
			if err := l.walkCondition(child, fmt.Sprintf("%s.conditions[%d]", path, i)); err != nil {
				return err
			}
		}

	case types.ConditionTypeNot:
		if c.Condition == nil {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: not needs a child condition", path)
		}

		if err := l.walkCondition(c.Condition, path+".condition"); err != nil {
			return err
		}

	case types.ConditionTypeTemporal:
		if c.Condition == nil {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: temporal needs a child condition", path)
		}

		switch c.Modifier {
		case types.TemporalForBars, types.TemporalWithinBars, types.TemporalSinceBars,
			types.TemporalFirstTime, types.TemporalNthTime:
		default:
			return errors.Newf(errors.ErrCodeUnknownNodeType, "%s: unknown temporal modifier %q", path, c.Modifier)
		}

		if err := l.walkCondition(c.Condition, path+".condition"); err != nil {
			return err
		}

		l.assignSlot(c)

	case types.ConditionTypeSequence:
		if len(c.Steps) == 0 {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: sequence needs steps", path)
		}

		for i, step := range c.Steps {
			if step.Condition == nil {
				return errors.Newf(errors.ErrCodeMissingParameter, "%s.steps[%d]: step needs a condition", path, i)
			}

			if err := l.walkCondition(step.Condition, fmt.Sprintf("%s.steps[%d].condition", path, i)); err != nil {
				return err
			}
		}

		if c.ResetOn != nil {
			if err := l.walkCondition(c.ResetOn, path+".reset_on"); err != nil {
				return err
			}
		}

		l.assignSlot(c)

	case types.ConditionTypeExpr:
		prog, err := expr.Compile(c.Formula)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeExprParseFailed, err, "%s: invalid formula", path)
		}

		l.out.condProgs[c] = prog

	case types.ConditionTypeRef:
		target, ok := l.strategy.Conditions[c.Ref]
		if !ok {
			return errors.Newf(errors.ErrCodeDanglingRef, "%s: condition $ref %q not found", path, c.Ref)
		}

		if err := l.walkCondition(target, "conditions."+c.Ref); err != nil {
			return err
		}

		l.out.condTargets[c] = target

	default:
		return errors.Newf(errors.ErrCodeUnknownNodeType, "%s: unknown condition type %q", path, c.Type)
	}

	return nil
}

func (l *linker) walkAction(a *types.Action, path string) error {
	switch a.Type {
	case types.ActionTypeTrade:
		if a.Sizing != nil {
			if err := l.walkSizing(a.Sizing, path+".sizing"); err != nil {
				return err
			}
		}

	case types.ActionTypeRebalance:
		switch a.Method {
		case types.WeightMethodEqual, types.WeightMethodInverseVol, types.WeightMethodRiskParity:
		case types.WeightMethodTargets:
			if len(a.Targets) == 0 {
				return errors.Newf(errors.ErrCodeMissingParameter, "%s: targets rebalance needs a target map", path)
			}
		default:
			return errors.Newf(errors.ErrCodeUnknownNodeType, "%s: unknown weight method %q", path, a.Method)
		}

	case types.ActionTypeAlert, types.ActionTypeHold:

	default:
		return errors.Newf(errors.ErrCodeUnknownNodeType, "%s: unknown action type %q", path, a.Type)
	}

	return nil
}

func (l *linker) walkSizing(s *types.Sizing, path string) error {
	switch s.Type {
	case types.SizingTypeFixedAmount, types.SizingTypeFixedQuantity,
		types.SizingTypePercentEquity, types.SizingTypePercentCash,
		types.SizingTypePercentPosition, types.SizingTypeKelly,
		types.SizingTypeVolatilityAdjusted:

	case types.SizingTypeRiskBased:
		if s.StopDistance != nil {
			if err := l.walkSignal(s.StopDistance, path+".stop_distance"); err != nil {
				return err
			}
		}

	case types.SizingTypeConditional:
		if len(s.Cases) == 0 {
			return errors.Newf(errors.ErrCodeMissingParameter, "%s: conditional sizing needs cases", path)
		}

		for i, sizingCase := range s.Cases {
			casePath := fmt.Sprintf("%s.cases[%d]", path, i)

			if sizingCase.When == nil || sizingCase.Sizing == nil {
				return errors.Newf(errors.ErrCodeMissingParameter, "%s: case needs when and sizing", casePath)
			}

			if err := l.walkCondition(sizingCase.When, casePath+".when"); err != nil {
				return err
			}

			if err := l.walkSizing(sizingCase.Sizing, casePath+".sizing"); err != nil {
				return err
			}
		}

		if s.Default != nil {
			if err := l.walkSizing(s.Default, path+".default"); err != nil {
				return err
			}
		}

	default:
		return errors.Newf(errors.ErrCodeInvalidSizing, "%s: unknown sizing type %q", path, s.Type)
	}

	return nil
}

// assignSlot gives a stateful condition instance its arena index. A node
// walked twice (shared via $ref) keeps its first slot, so shared stateful
// conditions share state, matching reference semantics.
func (l *linker) assignSlot(c *types.Condition) {
	if _, ok := l.out.condSlots[c]; ok {
		return
	}

	l.out.condSlots[c] = l.out.slotCount
	l.out.slotCount++
}
