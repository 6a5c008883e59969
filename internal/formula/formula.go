// Package formula turns user-written model formulas into compiled numeric
// functions.
//
// Only arithmetic, parentheses, an allow-list of math functions, the
// constants pi/π/e, the declared independent variables and parameters of the
// form <prefix><index> are accepted. Formulas come from untrusted input, so
// nothing else ever resolves: there is no attribute access, no name lookup
// beyond the declared symbols and no way to call into Go.
//
// A formula is parsed once into a tree of closures; evaluating it afterwards
// never touches the source text. Division by zero, domain errors and
// overflow surface as NaN or ±Inf rather than panics.
package formula

import (
	"sort"
	"strconv"
	"strings"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// DefaultParameterPrefix is the parameter name pattern prefix: p0, p1, ...
const DefaultParameterPrefix = "p"

// Options controls how a formula is compiled.
type Options struct {
	// Name labels the resulting model; defaults to "custom".
	Name string
	// ParameterCount declares k parameters p0..p(k-1). Zero means infer
	// the parameter set from the distinct indices used in the formula.
	ParameterCount int
	// ParameterPrefix overrides DefaultParameterPrefix.
	ParameterPrefix string
}

// Program is a compiled formula.
type Program struct {
	source     string
	variables  []string
	parameters []string
	eval       evalFn
}

// Source returns the formula text the program was compiled from.
func (p *Program) Source() string { return p.source }

// Parameters returns the parameter names in vector order.
func (p *Program) Parameters() []string { return append([]string(nil), p.parameters...) }

// Eval evaluates the program for one observation.
func (p *Program) Eval(x, params []float64) float64 { return p.eval(x, params) }

// Compile parses text against the declared variables.
func Compile(text string, variables []string, opts Options) (*Program, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.Formula(errors.ReasonSyntax, "", 0, "empty formula")
	}
	if opts.ParameterCount < 0 {
		return nil, errors.Formula(errors.ReasonSyntax, "", -1, "negative parameter count %d", opts.ParameterCount)
	}
	prefix := opts.ParameterPrefix
	if prefix == "" {
		prefix = DefaultParameterPrefix
	}
	if !validIdent(prefix) {
		return nil, errors.Formula(errors.ReasonInvalidVariable, prefix, -1, "invalid parameter prefix")
	}

	sym := &symbols{
		variables: make(map[string]int, len(variables)),
		params:    make(map[int]int),
		declared:  opts.ParameterCount,
		prefix:    prefix,
	}
	if len(variables) == 0 {
		return nil, errors.Formula(errors.ReasonInvalidVariable, "", -1, "at least one independent variable is required")
	}
	for i, name := range variables {
		if err := checkVariable(sym, name); err != nil {
			return nil, err
		}
		sym.variables[name] = i
	}

	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}

	var names []string
	if opts.ParameterCount > 0 {
		names = make([]string, opts.ParameterCount)
		for i := range names {
			sym.params[i] = i
			names[i] = prefix + strconv.Itoa(i)
		}
	} else {
		indices := usedParameters(sym, tokens)
		if len(indices) == 0 {
			return nil, errors.Formula(errors.ReasonNoParameters, "", -1,
				"formula uses no parameters of the form %s0, %s1, ...", prefix, prefix)
		}
		names = make([]string, len(indices))
		for pos, idx := range indices {
			sym.params[idx] = pos
			names[pos] = prefix + strconv.Itoa(idx)
		}
	}

	ps := &parser{tokens: tokens, sym: sym}
	root, err := ps.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := ps.peek(); t.kind != tokEOF {
		return nil, errors.Formula(errors.ReasonSyntax, t.text, t.pos, "unexpected token after expression")
	}

	return &Program{
		source:     text,
		variables:  append([]string(nil), variables...),
		parameters: names,
		eval:       root.fn,
	}, nil
}

// Parse compiles text into a custom ModelSpec. Custom models have no
// closed-form estimator.
func Parse(text string, variables []string, opts Options) (*fit.ModelSpec, error) {
	prog, err := Compile(text, variables, opts)
	if err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = "custom"
	}
	return fit.NewModelSpec(fit.ModelSpecConfig{
		Name:           name,
		Family:         "custom",
		Kind:           fit.KindCustom,
		ParameterNames: prog.parameters,
		VariableNames:  prog.variables,
		Formula:        strings.TrimSpace(text),
		Func:           fit.Func(prog.eval),
	})
}

func checkVariable(sym *symbols, name string) error {
	if !validIdent(name) {
		return errors.Formula(errors.ReasonInvalidVariable, name, -1, "variable name is not an identifier")
	}
	if reserved(name) {
		return errors.Formula(errors.ReasonInvalidVariable, name, -1, "variable name collides with a built-in function or constant")
	}
	if _, ok := sym.paramIndex(name); ok {
		return errors.Formula(errors.ReasonInvalidVariable, name, -1, "variable name matches the parameter pattern %s<n>", sym.prefix)
	}
	if _, dup := sym.variables[name]; dup {
		return errors.Formula(errors.ReasonInvalidVariable, name, -1, "duplicate variable name")
	}
	return nil
}

// usedParameters returns the distinct parameter indices in ascending order.
func usedParameters(sym *symbols, tokens []token) []int {
	seen := make(map[int]bool)
	for _, t := range tokens {
		if t.kind != tokIdent {
			continue
		}
		if _, isVar := sym.variables[t.text]; isVar {
			continue
		}
		if n, ok := sym.paramIndex(t.text); ok {
			seen[n] = true
		}
	}
	indices := make([]int, 0, len(seen))
	for n := range seen {
		indices = append(indices, n)
	}
	sort.Ints(indices)
	return indices
}
