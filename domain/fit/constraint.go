package fit

import (
	"fmt"
	"math"
)

// ParameterConstraint is a user override for one parameter. Nil fields fall
// back to the estimator's value.
type ParameterConstraint struct {
	Initial *float64 `json:"initial,omitempty" yaml:"initial,omitempty"`
	Lower   *float64 `json:"lower,omitempty" yaml:"lower,omitempty"`
	Upper   *float64 `json:"upper,omitempty" yaml:"upper,omitempty"`
}

// Overrides maps parameter index to constraint.
type Overrides map[int]ParameterConstraint

// Float returns a pointer to v, for building constraints inline.
func Float(v float64) *float64 { return &v }

// Bound is a closed interval; infinite sides mean unconstrained.
type Bound struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Unbounded returns (-Inf, +Inf).
func Unbounded() Bound {
	return Bound{Lower: math.Inf(-1), Upper: math.Inf(1)}
}

// AtLeast returns [lo, +Inf).
func AtLeast(lo float64) Bound {
	return Bound{Lower: lo, Upper: math.Inf(1)}
}

// Contains reports whether v lies inside the bound.
func (b Bound) Contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

// Clip projects v onto the bound.
func (b Bound) Clip(v float64) float64 {
	if v < b.Lower {
		return b.Lower
	}
	if v > b.Upper {
		return b.Upper
	}
	return v
}

func (b Bound) String() string {
	return fmt.Sprintf("[%g, %g]", b.Lower, b.Upper)
}

// MarshalJSON writes infinite sides as null since JSON has no infinity.
func (b Bound) MarshalJSON() ([]byte, error) {
	side := func(v float64) string {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return "null"
		}
		return fmt.Sprintf("%g", v)
	}
	return []byte(fmt.Sprintf(`{"lower":%s,"upper":%s}`, side(b.Lower), side(b.Upper))), nil
}

// GuessSource records where initial values came from.
type GuessSource string

const (
	SourceHeuristic GuessSource = "heuristic"
	// SourceDefault is the all-ones fallback for custom formulas. It is a
	// known convergence risk for ill-scaled data.
	SourceDefault GuessSource = "default"
)

// Guess is the estimator output: initial values and bounds, one per parameter.
type Guess struct {
	Initial []float64   `json:"initial"`
	Bounds  []Bound     `json:"bounds"`
	Source  GuessSource `json:"source"`
}

// Lower returns the lower bounds as a vector.
func (g *Guess) Lower() []float64 {
	out := make([]float64, len(g.Bounds))
	for i, b := range g.Bounds {
		out[i] = b.Lower
	}
	return out
}

// Upper returns the upper bounds as a vector.
func (g *Guess) Upper() []float64 {
	out := make([]float64, len(g.Bounds))
	for i, b := range g.Bounds {
		out[i] = b.Upper
	}
	return out
}
