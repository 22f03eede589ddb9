package expr

import (
	"github.com/rxtech-lab/utss-engine/pkg/errors"
)

// builtins take full sub-expressions as arguments, unlike indicator calls
// whose first argument names a source series.
var builtins = map[string]bool{
	"crossover":  true,
	"crossunder": true,
	"abs":        true,
	"min":        true,
	"max":        true,
}

type parser struct {
	tokens []token
	source string
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}

	return t
}

func (p *parser) atEnd() bool {
	return p.peek().kind == tokenEOF
}

func (p *parser) errorf(format string, args ...any) error {
	return errors.Newf(errors.ErrCodeExprParseFailed, "%q: "+format, append([]any{p.source}, args...)...)
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		return t, p.errorf("expected %s, got %q", what, t.text)
	}

	return p.next(), nil
}

// parseExpr parses the lowest-precedence level: boolean or.
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.matchOp("||") || p.matchIdent("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: "or", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.matchOp("&&") || p.matchIdent("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: "and", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.matchOp("!") || p.matchIdent("not") {
		child, err := p.parseNot()
		if err != nil {
			return nil, err
		}

		return &unaryNode{op: "not", child: child}, nil
	}

	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	for _, op := range []string{"<=", ">=", "==", "!=", "<", ">"} {
		if p.matchOp(op) {
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}

			return &binaryNode{op: op, left: left, right: right}, nil
		}
	}

	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.matchOp("+"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}

			left = &binaryNode{op: "+", left: left, right: right}
		case p.matchOp("-"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}

			left = &binaryNode{op: "-", left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.matchOp("*"):
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}

			left = &binaryNode{op: "*", left: left, right: right}
		case p.matchOp("/"):
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}

			left = &binaryNode{op: "/", left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.matchOp("-") {
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &unaryNode{op: "neg", child: child}, nil
	}

	return p.parsePostfix()
}

// parsePostfix handles bracket-indexed history: close[-1], sma(close, 20)[-2].
func (p *parser) parsePostfix() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tokenLBracket {
		return base, nil
	}

	p.next()

	negative := p.matchOp("-")

	numTok, err := p.expect(tokenNumber, "history offset")
	if err != nil {
		return nil, err
	}

	if _, err := p.expect(tokenRBracket, "]"); err != nil {
		return nil, err
	}

	offset := int(numTok.value)
	if negative {
		offset = -offset
	}

	if offset > 0 {
		return nil, p.errorf("history offset must be zero or negative, got %d", offset)
	}

	return &shiftNode{child: base, shift: offset}, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()

	switch t.kind {
	case tokenNumber:
		p.next()

		return &numberNode{value: t.value}, nil

	case tokenLParen:
		p.next()

		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}

		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return nil, err
		}

		return inner, nil

	case tokenIdent:
		p.next()

		if p.peek().kind != tokenLParen {
			return &identNode{name: t.text}, nil
		}

		return p.parseCall(t.text)

	default:
		return nil, p.errorf("unexpected token %q", t.text)
	}
}

func (p *parser) parseCall(name string) (node, error) {
	p.next() // consume (

	if builtins[name] {
		var args []node

		for p.peek().kind != tokenRParen {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}

			args = append(args, arg)

			if p.peek().kind == tokenComma {
				p.next()
			}
		}

		p.next() // consume )

		switch name {
		case "crossover", "crossunder", "min", "max":
			if len(args) != 2 {
				return nil, p.errorf("%s expects 2 arguments, got %d", name, len(args))
			}
		case "abs":
			if len(args) != 1 {
				return nil, p.errorf("abs expects 1 argument, got %d", len(args))
			}
		}

		return &builtinNode{name: name, args: args}, nil
	}

	// Indicator call: first argument is the source series identifier,
	// remaining arguments are numeric parameters.
	fieldTok, err := p.expect(tokenIdent, "source series")
	if err != nil {
		return nil, err
	}

	var params []float64

	for p.peek().kind == tokenComma {
		p.next()

		negative := p.matchOp("-")

		numTok, err := p.expect(tokenNumber, "indicator parameter")
		if err != nil {
			return nil, err
		}

		value := numTok.value
		if negative {
			value = -value
		}

		params = append(params, value)
	}

	if _, err := p.expect(tokenRParen, ")"); err != nil {
		return nil, err
	}

	return &indicatorNode{name: name, field: fieldTok.text, params: params}, nil
}

func (p *parser) matchOp(op string) bool {
	t := p.peek()
	if t.kind == tokenOp && t.text == op {
		p.next()

		return true
	}

	return false
}

func (p *parser) matchIdent(word string) bool {
	t := p.peek()
	if t.kind == tokenIdent && t.text == word {
		p.next()

		return true
	}

	return false
}
