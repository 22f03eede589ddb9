// Package expr implements the restricted formula grammar strategies can
// embed in expr signal and condition nodes. A formula is a pure function
// of the evaluation context: price fields, named signals, parameters,
// indicator calls, bracket-indexed history (close[-1]), arithmetic,
// comparisons, boolean operators, and crossover detection.
package expr

// Env supplies values to a compiled program. Both lookups return ok=false
// when the value is undefined at the requested offset (warmup, history
// before the first bar); undefinedness propagates to the whole formula.
type Env interface {
	// Value resolves an identifier (price field, named signal, parameter)
	// at the given bar offset (0 is the current bar, -1 the previous).
	Value(name string, offset int) (float64, bool)

	// Indicator resolves an indicator call such as sma(close, 20). The
	// field is the source series identifier, params the numeric arguments.
	Indicator(name, field string, params []float64, offset int) (float64, bool)
}

// CrossAbove reports a strict upward crossover: the signal was at or below
// the threshold on the previous bar and strictly above it now. The
// structured cross condition and the crossover() formula function share
// this definition so both paths agree at the equality boundary.
func CrossAbove(prevSignal, prevThreshold, curSignal, curThreshold float64) bool {
	return prevSignal <= prevThreshold && curSignal > curThreshold
}

// CrossBelow is the mirror of CrossAbove.
func CrossBelow(prevSignal, prevThreshold, curSignal, curThreshold float64) bool {
	return prevSignal >= prevThreshold && curSignal < curThreshold
}

// Program is a compiled formula.
type Program struct {
	source string
	root   node
}

// Source returns the original formula text.
func (p *Program) Source() string {
	return p.source
}

// Eval evaluates the formula at the given bar offset. Boolean results are
// encoded as 1 and 0. ok is false when any referenced value is undefined.
func (p *Program) Eval(env Env, offset int) (float64, bool) {
	return p.root.eval(env, offset)
}

// EvalBool evaluates the formula as a condition: any non-zero result is true.
func (p *Program) EvalBool(env Env, offset int) (bool, bool) {
	value, ok := p.Eval(env, offset)
	if !ok {
		return false, false
	}

	return value != 0, true
}

// Compile parses a formula into a Program.
func Compile(source string) (*Program, error) {
	tokens, err := lex(source)
	if err != nil {
		return nil, err
	}

	parser := &parser{tokens: tokens, source: source, pos: 0}

	root, err := parser.parseExpr()
	if err != nil {
		return nil, err
	}

	if !parser.atEnd() {
		return nil, parser.errorf("unexpected token %q", parser.peek().text)
	}

	return &Program{source: source, root: root}, nil
}
