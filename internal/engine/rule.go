package engine

import (
	"github.com/rxtech-lab/utss-engine/internal/types"
)

// FiredRules returns every enabled rule whose condition holds at the bar,
// in dispatch order: priority descending, declaration order ascending.
// All matching rules fire; conflicting trades on one symbol resolve by
// execution order, last fill winning on position state.
func (e *Evaluator) FiredRules(index int) []*types.Rule {
	var fired []*types.Rule

	for _, rule := range e.linked.sortedRules {
		if regime, ok := e.linked.regimes[rule]; ok {
			if !e.EvalCondition(regime, index) {
				continue
			}
		}

		if e.EvalCondition(rule.When, index) {
			fired = append(fired, rule)
		}
	}

	return fired
}
