package formula

import (
	"strconv"
	"unicode"

	"curvefit/internal/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPow
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int // rune offset into the formula
}

// lex splits a formula into tokens. Identifiers are maximal runs of letters,
// digits and underscores so that symbol lookup is always by whole name.
func lex(src string) ([]token, error) {
	runes := []rune(src)
	var tokens []token
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case isDigit(r) || (r == '.' && i+1 < len(runes) && isDigit(runes[i+1])):
			start := i
			i = scanNumber(runes, i)
			text := string(runes[start:i])
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, errors.Formula(errors.ReasonSyntax, text, start, "malformed number")
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: v, pos: start})
		case isIdentStart(r):
			start := i
			for i < len(runes) && isIdentPart(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i]), pos: start})
		default:
			kind, width := operator(runes, i)
			if kind == tokEOF {
				return nil, errors.Formula(errors.ReasonSyntax, string(r), i, "unexpected character")
			}
			tokens = append(tokens, token{kind: kind, text: string(runes[i : i+width]), pos: i})
			i += width
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(runes)})
	return tokens, nil
}

func scanNumber(runes []rune, i int) int {
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	// exponent only when digits follow, so "2e" stays a number and a name
	if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
		j := i + 1
		if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
			j++
		}
		if j < len(runes) && isDigit(runes[j]) {
			for j < len(runes) && isDigit(runes[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

func operator(runes []rune, i int) (tokenKind, int) {
	switch runes[i] {
	case '+':
		return tokPlus, 1
	case '-', '−':
		return tokMinus, 1
	case '*', '·', '×':
		if runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '*' {
			return tokPow, 2
		}
		return tokStar, 1
	case '/':
		return tokSlash, 1
	case '^':
		return tokPow, 1
	case '(':
		return tokLParen, 1
	case ')':
		return tokRParen, 1
	case ',':
		return tokComma, 1
	}
	return tokEOF, 0
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return isIdentStart(r) || unicode.IsDigit(r) }

// validIdent reports whether s lexes as exactly one identifier.
func validIdent(s string) bool {
	runes := []rune(s)
	if len(runes) == 0 || !isIdentStart(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !isIdentPart(r) {
			return false
		}
	}
	return true
}
