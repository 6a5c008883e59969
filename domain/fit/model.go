package fit

import (
	"encoding/json"
	"fmt"

	"curvefit/internal/errors"
)

// Kind tags the closed set of model variants.
type Kind string

const (
	KindBuiltin Kind = "builtin"
	KindCustom  Kind = "custom"
)

// Func evaluates a model at one observation x for parameters p.
type Func func(x, p []float64) float64

// Model is the capability set every fittable function exposes.
type Model interface {
	Evaluate(x [][]float64, p []float64, dst []float64) []float64
	ParameterCount() int
	Arity() int
}

// ModelSpec is an immutable descriptor plus callable for a fittable function.
// Construct it with NewModelSpec; the zero value is not usable.
type ModelSpec struct {
	name      string
	family    string
	variant   string
	kind      Kind
	arity     int
	params    []string
	variables []string
	formula   string
	estimator string
	fn        Func
}

// ModelSpecConfig carries the fields of a ModelSpec under construction.
type ModelSpecConfig struct {
	Name           string
	Family         string
	Variant        string
	Kind           Kind
	ParameterNames []string
	VariableNames  []string
	Formula        string
	Estimator      string
	Func           Func
}

// NewModelSpec validates cfg and freezes it into a ModelSpec.
func NewModelSpec(cfg ModelSpecConfig) (*ModelSpec, error) {
	if cfg.Func == nil {
		return nil, errors.InternalError("model function is required")
	}
	if len(cfg.VariableNames) == 0 {
		return nil, errors.InvalidInput("model needs at least one independent variable")
	}
	if len(cfg.ParameterNames) == 0 {
		return nil, errors.InvalidInput("model needs at least one parameter")
	}
	if cfg.Kind != KindBuiltin && cfg.Kind != KindCustom {
		return nil, errors.InvalidInput(fmt.Sprintf("unknown model kind %q", cfg.Kind))
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Family + "/" + cfg.Variant
	}
	return &ModelSpec{
		name:      name,
		family:    cfg.Family,
		variant:   cfg.Variant,
		kind:      cfg.Kind,
		arity:     len(cfg.VariableNames),
		params:    append([]string(nil), cfg.ParameterNames...),
		variables: append([]string(nil), cfg.VariableNames...),
		formula:   cfg.Formula,
		estimator: cfg.Estimator,
		fn:        cfg.Func,
	}, nil
}

func (m *ModelSpec) Name() string      { return m.name }
func (m *ModelSpec) Family() string    { return m.family }
func (m *ModelSpec) Variant() string   { return m.variant }
func (m *ModelSpec) Kind() Kind        { return m.kind }
func (m *ModelSpec) Arity() int        { return m.arity }
func (m *ModelSpec) Formula() string   { return m.formula }
func (m *ModelSpec) Estimator() string { return m.estimator }
func (m *ModelSpec) Func() Func        { return m.fn }

// ParameterCount returns k, the length of the parameter vector.
func (m *ModelSpec) ParameterCount() int { return len(m.params) }

// ParameterNames returns a copy of the parameter names in vector order.
func (m *ModelSpec) ParameterNames() []string { return append([]string(nil), m.params...) }

// VariableNames returns a copy of the independent variable names.
func (m *ModelSpec) VariableNames() []string { return append([]string(nil), m.variables...) }

// At evaluates the model at a single observation.
func (m *ModelSpec) At(x, p []float64) float64 {
	return m.fn(x, p)
}

// Evaluate computes the model over columnar samples x[variable][observation]
// and writes into dst, which is allocated when too short.
func (m *ModelSpec) Evaluate(x [][]float64, p []float64, dst []float64) []float64 {
	if len(x) == 0 {
		return dst[:0]
	}
	n := len(x[0])
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	row := make([]float64, len(x))
	for i := 0; i < n; i++ {
		for v := range x {
			row[v] = x[v][i]
		}
		dst[i] = m.fn(row, p)
	}
	return dst
}

// CheckArity fails with ModelError(ArityMismatch) when ds does not match.
func (m *ModelSpec) CheckArity(ds *Dataset) error {
	if ds.Arity() != m.arity {
		return errors.Model(errors.ReasonArityMismatch,
			"model %s expects %d independent variable(s), dataset %q has %d",
			m.name, m.arity, ds.Name, ds.Arity())
	}
	return nil
}

func (m *ModelSpec) String() string {
	if m.formula != "" {
		return fmt.Sprintf("%s [%s]", m.name, m.formula)
	}
	return m.name
}

// MarshalJSON renders the descriptor; the callable is not serialised.
func (m *ModelSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name       string   `json:"name"`
		Family     string   `json:"family,omitempty"`
		Variant    string   `json:"variant,omitempty"`
		Kind       Kind     `json:"kind"`
		Arity      int      `json:"arity"`
		Parameters []string `json:"parameters"`
		Variables  []string `json:"variables"`
		Formula    string   `json:"formula,omitempty"`
	}{m.name, m.family, m.variant, m.kind, m.arity, m.params, m.variables, m.formula})
}

var _ Model = (*ModelSpec)(nil)
