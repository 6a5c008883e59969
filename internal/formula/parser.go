package formula

import (
	"math"
	"strconv"
	"strings"

	"curvefit/internal/errors"
)

// evalFn is a compiled expression node.
type evalFn func(x, p []float64) float64

// node is a compiled subtree; constant subtrees are folded at compile time.
type node struct {
	fn    evalFn
	konst bool
	value float64
}

func constNode(v float64) node {
	return node{fn: func(_, _ []float64) float64 { return v }, konst: true, value: v}
}

type symbols struct {
	variables map[string]int
	params    map[int]int // parameter index -> position in the vector
	declared  int         // explicit parameter count, 0 when inferred
	prefix    string
}

// paramIndex matches <prefix><digits> exactly; leading zeros are rejected so
// that p1 and p01 never alias.
func (s *symbols) paramIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, s.prefix) {
		return 0, false
	}
	digits := name[len(s.prefix):]
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

type parser struct {
	tokens []token
	pos    int
	sym    *symbols
}

func (ps *parser) peek() token { return ps.tokens[ps.pos] }

func (ps *parser) next() token {
	t := ps.tokens[ps.pos]
	if t.kind != tokEOF {
		ps.pos++
	}
	return t
}

func (ps *parser) expect(kind tokenKind, what string) (token, error) {
	t := ps.next()
	if t.kind != kind {
		return t, errors.Formula(errors.ReasonSyntax, t.text, t.pos, "expected %s", what)
	}
	return t, nil
}

// expr := term (('+' | '-') term)*
func (ps *parser) parseExpr() (node, error) {
	left, err := ps.parseTerm()
	if err != nil {
		return node{}, err
	}
	for {
		op := ps.peek().kind
		if op != tokPlus && op != tokMinus {
			return left, nil
		}
		ps.next()
		right, err := ps.parseTerm()
		if err != nil {
			return node{}, err
		}
		left = binary(op, left, right)
	}
}

// term := unary (('*' | '/') unary)*
func (ps *parser) parseTerm() (node, error) {
	left, err := ps.parseUnary()
	if err != nil {
		return node{}, err
	}
	for {
		op := ps.peek().kind
		if op != tokStar && op != tokSlash {
			return left, nil
		}
		ps.next()
		right, err := ps.parseUnary()
		if err != nil {
			return node{}, err
		}
		left = binary(op, left, right)
	}
}

// unary := ('-' | '+') unary | power
func (ps *parser) parseUnary() (node, error) {
	switch ps.peek().kind {
	case tokMinus:
		ps.next()
		arg, err := ps.parseUnary()
		if err != nil {
			return node{}, err
		}
		if arg.konst {
			return constNode(-arg.value), nil
		}
		f := arg.fn
		return node{fn: func(x, p []float64) float64 { return -f(x, p) }}, nil
	case tokPlus:
		ps.next()
		return ps.parseUnary()
	}
	return ps.parsePower()
}

// power := primary ('^' unary)?  (right associative, so -x^2 == -(x^2))
func (ps *parser) parsePower() (node, error) {
	base, err := ps.parsePrimary()
	if err != nil {
		return node{}, err
	}
	if ps.peek().kind != tokPow {
		return base, nil
	}
	ps.next()
	exp, err := ps.parseUnary()
	if err != nil {
		return node{}, err
	}
	return binary(tokPow, base, exp), nil
}

func (ps *parser) parsePrimary() (node, error) {
	t := ps.next()
	switch t.kind {
	case tokNumber:
		return constNode(t.num), nil
	case tokLParen:
		inner, err := ps.parseExpr()
		if err != nil {
			return node{}, err
		}
		if _, err := ps.expect(tokRParen, "')'"); err != nil {
			return node{}, err
		}
		return inner, nil
	case tokIdent:
		if ps.peek().kind == tokLParen {
			return ps.parseCall(t)
		}
		return ps.resolve(t)
	case tokEOF:
		return node{}, errors.Formula(errors.ReasonSyntax, "", t.pos, "unexpected end of formula")
	}
	return node{}, errors.Formula(errors.ReasonSyntax, t.text, t.pos, "unexpected token")
}

func (ps *parser) resolve(t token) (node, error) {
	if idx, ok := ps.sym.variables[t.text]; ok {
		return node{fn: func(x, _ []float64) float64 { return x[idx] }}, nil
	}
	if n, ok := ps.sym.paramIndex(t.text); ok {
		pos, ok := ps.sym.params[n]
		if !ok {
			return node{}, errors.Formula(errors.ReasonUnknownSymbol, t.text, t.pos,
				"parameter index %d outside the %d declared parameter(s)", n, ps.sym.declared)
		}
		return node{fn: func(_, p []float64) float64 { return p[pos] }}, nil
	}
	if v, ok := constants[t.text]; ok {
		return constNode(v), nil
	}
	if _, ok := functions[t.text]; ok {
		return node{}, errors.Formula(errors.ReasonSyntax, t.text, t.pos, "function %s requires arguments", t.text)
	}
	return node{}, errors.Formula(errors.ReasonUnknownSymbol, t.text, t.pos, "unknown symbol %q", t.text)
}

func (ps *parser) parseCall(name token) (node, error) {
	fn, ok := functions[name.text]
	if !ok {
		_, isVar := ps.sym.variables[name.text]
		_, isConst := constants[name.text]
		if isVar || isConst {
			return node{}, errors.Formula(errors.ReasonSyntax, name.text, name.pos, "%s is not a function", name.text)
		}
		return node{}, errors.Formula(errors.ReasonUnknownSymbol, name.text, name.pos, "unknown function %q", name.text)
	}
	ps.next() // '('
	var args []node
	if ps.peek().kind != tokRParen {
		for {
			arg, err := ps.parseExpr()
			if err != nil {
				return node{}, err
			}
			args = append(args, arg)
			if ps.peek().kind != tokComma {
				break
			}
			ps.next()
		}
	}
	if _, err := ps.expect(tokRParen, "')' after function arguments"); err != nil {
		return node{}, err
	}
	if len(args) != fn.arity {
		return node{}, errors.Formula(errors.ReasonArity, name.text, name.pos,
			"%s takes %d argument(s), got %d", name.text, fn.arity, len(args))
	}
	return call(fn, args), nil
}

func call(fn function, args []node) node {
	if fn.arity == 1 {
		f, a := fn.f1, args[0]
		if a.konst {
			return constNode(f(a.value))
		}
		af := a.fn
		return node{fn: func(x, p []float64) float64 { return f(af(x, p)) }}
	}
	f, a, b := fn.f2, args[0], args[1]
	if a.konst && b.konst {
		return constNode(f(a.value, b.value))
	}
	af, bf := a.fn, b.fn
	return node{fn: func(x, p []float64) float64 { return f(af(x, p), bf(x, p)) }}
}

func binary(op tokenKind, l, r node) node {
	lf, rf := l.fn, r.fn
	var fn evalFn
	switch op {
	case tokPlus:
		fn = func(x, p []float64) float64 { return lf(x, p) + rf(x, p) }
	case tokMinus:
		fn = func(x, p []float64) float64 { return lf(x, p) - rf(x, p) }
	case tokStar:
		fn = func(x, p []float64) float64 { return lf(x, p) * rf(x, p) }
	case tokSlash:
		fn = func(x, p []float64) float64 { return lf(x, p) / rf(x, p) }
	case tokPow:
		if r.konst && r.value == 2 {
			fn = func(x, p []float64) float64 {
				v := lf(x, p)
				return v * v
			}
		} else {
			fn = func(x, p []float64) float64 { return math.Pow(lf(x, p), rf(x, p)) }
		}
	}
	if l.konst && r.konst {
		return constNode(fn(nil, nil))
	}
	return node{fn: fn}
}
