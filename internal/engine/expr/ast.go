package expr

import "math"

type node interface {
	eval(env Env, offset int) (float64, bool)
}

type numberNode struct {
	value float64
}

func (n *numberNode) eval(_ Env, _ int) (float64, bool) {
	return n.value, true
}

type identNode struct {
	name string
}

func (n *identNode) eval(env Env, offset int) (float64, bool) {
	return env.Value(n.name, offset)
}

type indicatorNode struct {
	name   string
	field  string
	params []float64
}

func (n *indicatorNode) eval(env Env, offset int) (float64, bool) {
	return env.Indicator(n.name, n.field, n.params, offset)
}

// shiftNode applies bracket-indexed history: child[-2] shifts the whole
// sub-expression two bars back.
type shiftNode struct {
	child node
	shift int
}

func (n *shiftNode) eval(env Env, offset int) (float64, bool) {
	return n.child.eval(env, offset+n.shift)
}

type unaryNode struct {
	op    string
	child node
}

func (n *unaryNode) eval(env Env, offset int) (float64, bool) {
	value, ok := n.child.eval(env, offset)
	if !ok {
		return 0, false
	}

	switch n.op {
	case "neg":
		return -value, true
	case "not":
		return boolToFloat(value == 0), true
	default:
		return 0, false
	}
}

type binaryNode struct {
	op    string
	left  node
	right node
}

func (n *binaryNode) eval(env Env, offset int) (float64, bool) {
	left, ok := n.left.eval(env, offset)
	if !ok {
		return 0, false
	}

	right, ok := n.right.eval(env, offset)
	if !ok {
		return 0, false
	}

	switch n.op {
	case "+":
		return left + right, true
	case "-":
		return left - right, true
	case "*":
		return left * right, true
	case "/":
		if right == 0 {
			return 0, false
		}

		return left / right, true
	case "<":
		return boolToFloat(left < right), true
	case "<=":
		return boolToFloat(left <= right), true
	case ">":
		return boolToFloat(left > right), true
	case ">=":
		return boolToFloat(left >= right), true
	case "==":
		return boolToFloat(left == right), true
	case "!=":
		return boolToFloat(left != right), true
	case "and":
		return boolToFloat(left != 0 && right != 0), true
	case "or":
		return boolToFloat(left != 0 || right != 0), true
	default:
		return 0, false
	}
}

type builtinNode struct {
	name string
	args []node
}

func (n *builtinNode) eval(env Env, offset int) (float64, bool) {
	switch n.name {
	case "crossover", "crossunder":
		curA, ok := n.args[0].eval(env, offset)
		if !ok {
			return 0, false
		}

		curB, ok := n.args[1].eval(env, offset)
		if !ok {
			return 0, false
		}

		prevA, ok := n.args[0].eval(env, offset-1)
		if !ok {
			return 0, false
		}

		prevB, ok := n.args[1].eval(env, offset-1)
		if !ok {
			return 0, false
		}

		if n.name == "crossover" {
			return boolToFloat(CrossAbove(prevA, prevB, curA, curB)), true
		}

		return boolToFloat(CrossBelow(prevA, prevB, curA, curB)), true

	case "abs":
		value, ok := n.args[0].eval(env, offset)
		if !ok {
			return 0, false
		}

		return math.Abs(value), true

	case "min", "max":
		left, ok := n.args[0].eval(env, offset)
		if !ok {
			return 0, false
		}

		right, ok := n.args[1].eval(env, offset)
		if !ok {
			return 0, false
		}

		if n.name == "min" {
			return math.Min(left, right), true
		}

		return math.Max(left, right), true

	default:
		return 0, false
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
