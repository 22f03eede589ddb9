package expr

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/rxtech-lab/utss-engine/pkg/errors"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenIdent
	tokenOp
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
)

type token struct {
	kind  tokenKind
	text  string
	value float64
	pos   int
}

// twoCharOps are matched before single-character operators.
var twoCharOps = []string{"<=", ">=", "==", "!=", "&&", "||"}

func lex(source string) ([]token, error) {
	var tokens []token

	i := 0
	for i < len(source) {
		c := rune(source[i])

		switch {
		case unicode.IsSpace(c):
			i++

		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(source) && (unicode.IsDigit(rune(source[i])) || source[i] == '.') {
				i++
			}

			text := source[start:i]

			value, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, errors.Newf(errors.ErrCodeExprParseFailed, "invalid number %q at position %d", text, start)
			}

			tokens = append(tokens, token{kind: tokenNumber, text: text, value: value, pos: start})

		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(source) && (unicode.IsLetter(rune(source[i])) || unicode.IsDigit(rune(source[i])) || source[i] == '_') {
				i++
			}

			tokens = append(tokens, token{kind: tokenIdent, text: source[start:i], value: 0, pos: start})

		case c == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", value: 0, pos: i})
			i++

		case c == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", value: 0, pos: i})
			i++

		case c == '[':
			tokens = append(tokens, token{kind: tokenLBracket, text: "[", value: 0, pos: i})
			i++

		case c == ']':
			tokens = append(tokens, token{kind: tokenRBracket, text: "]", value: 0, pos: i})
			i++

		case c == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", value: 0, pos: i})
			i++

		default:
			matched := false

			for _, op := range twoCharOps {
				if strings.HasPrefix(source[i:], op) {
					tokens = append(tokens, token{kind: tokenOp, text: op, value: 0, pos: i})
					i += len(op)
					matched = true

					break
				}
			}

			if matched {
				continue
			}

			if strings.ContainsRune("+-*/<>!", c) {
				tokens = append(tokens, token{kind: tokenOp, text: string(c), value: 0, pos: i})
				i++

				continue
			}

			return nil, errors.Newf(errors.ErrCodeExprParseFailed, "unexpected character %q at position %d", string(c), i)
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, text: "", value: 0, pos: len(source)})

	return tokens, nil
}
