// Package estimate computes initial parameter guesses and bounds for a model
// from raw data, and merges user overrides into them.
//
// Built-in models carry a closed-form heuristic selected by the model's
// estimator tag. Custom formulas have none and start from all ones with no
// bounds; that fallback is a known convergence risk for ill-scaled data and
// callers should supply overrides when they can.
package estimate

import (
	"fmt"
	"math"
	"sort"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// Estimate validates overrides, runs the model's heuristic and merges the
// two. Overrides are checked before any data is looked at.
func Estimate(spec *fit.ModelSpec, ds *fit.Dataset, overrides fit.Overrides) (fit.Guess, error) {
	if err := spec.CheckArity(ds); err != nil {
		return fit.Guess{}, err
	}
	if err := ValidateOverrides(overrides, spec.ParameterCount()); err != nil {
		return fit.Guess{}, err
	}
	return Merge(Heuristic(spec, ds), overrides)
}

// Heuristic returns the unmerged guess for spec on ds. It never fails: when a
// heuristic cannot use the data it falls back to the default guess.
func Heuristic(spec *fit.ModelSpec, ds *fit.Dataset) fit.Guess {
	k := spec.ParameterCount()
	h, ok := heuristics[spec.Estimator()]
	if !ok || spec.Kind() == fit.KindCustom {
		return Default(k)
	}
	if ds.Len() < k || ds.Arity() != spec.Arity() {
		return Default(k)
	}
	init, bounds := h(ds, k)
	if len(init) != k {
		return Default(k)
	}
	if bounds == nil {
		bounds = unbounded(k)
	}
	for i, v := range init {
		if !finite(v) {
			init[i] = 1
		}
	}
	return fit.Guess{Initial: init, Bounds: bounds, Source: fit.SourceHeuristic}
}

// Default is the all-ones, unbounded guess used for custom formulas.
func Default(k int) fit.Guess {
	init := make([]float64, k)
	for i := range init {
		init[i] = 1
	}
	return fit.Guess{Initial: init, Bounds: unbounded(k), Source: fit.SourceDefault}
}

// ValidateOverrides checks each override in isolation: index in range, no
// NaN, no infinite initial value, lower <= upper when both are given.
func ValidateOverrides(overrides fit.Overrides, k int) error {
	for _, i := range sortedKeys(overrides) {
		c := overrides[i]
		if i < 0 || i >= k {
			return errors.Estimator(errors.ReasonUnknownParameter, i,
				"override for parameter %d, model has %d parameter(s)", i, k)
		}
		if c.Initial != nil && !finite(*c.Initial) {
			return errors.Estimator(errors.ReasonNonFinite, i, "initial value for parameter %d is not finite", i)
		}
		if c.Lower != nil && (math.IsNaN(*c.Lower) || math.IsInf(*c.Lower, 1)) {
			return errors.Estimator(errors.ReasonNonFinite, i, "lower bound for parameter %d is %v", i, *c.Lower)
		}
		if c.Upper != nil && (math.IsNaN(*c.Upper) || math.IsInf(*c.Upper, -1)) {
			return errors.Estimator(errors.ReasonNonFinite, i, "upper bound for parameter %d is %v", i, *c.Upper)
		}
		if c.Lower != nil && c.Upper != nil && *c.Lower > *c.Upper {
			return errors.Estimator(errors.ReasonBoundInversion, i,
				"parameter %d: lower bound %g exceeds upper bound %g", i, *c.Lower, *c.Upper)
		}
	}
	return nil
}

// Merge applies overrides on top of base without modifying either.
//
// A user initial value replaces the heuristic one; each user bound side
// replaces the matching heuristic side and leaves the other alone. The merged
// bounds must not invert and a user initial value must lie inside them.
// Heuristic initial values are clipped into the merged bounds.
func Merge(base fit.Guess, overrides fit.Overrides) (fit.Guess, error) {
	k := len(base.Initial)
	if err := ValidateOverrides(overrides, k); err != nil {
		return fit.Guess{}, err
	}
	out := fit.Guess{
		Initial: append([]float64(nil), base.Initial...),
		Bounds:  append([]fit.Bound(nil), base.Bounds...),
		Source:  base.Source,
	}
	if len(out.Bounds) != k {
		out.Bounds = unbounded(k)
	}
	for i := 0; i < k; i++ {
		c, ok := overrides[i]
		b := out.Bounds[i]
		if ok && c.Lower != nil {
			b.Lower = *c.Lower
		}
		if ok && c.Upper != nil {
			b.Upper = *c.Upper
		}
		if b.Lower > b.Upper {
			return fit.Guess{}, errors.Estimator(errors.ReasonBoundInversion, i,
				"parameter %d: merged bounds %s are inverted", i, b)
		}
		out.Bounds[i] = b
		if ok && c.Initial != nil {
			if !b.Contains(*c.Initial) {
				return fit.Guess{}, errors.Estimator(errors.ReasonInitialOutOfBounds, i,
					"parameter %d: initial value %g outside %s", i, *c.Initial, b)
			}
			out.Initial[i] = *c.Initial
			continue
		}
		out.Initial[i] = b.Clip(out.Initial[i])
	}
	return out, nil
}

// Describe renders a guess for logs.
func Describe(spec *fit.ModelSpec, g fit.Guess) string {
	names := spec.ParameterNames()
	s := string(g.Source) + ":"
	for i, v := range g.Initial {
		s += fmt.Sprintf(" %s=%.6g in %s", names[i], v, g.Bounds[i])
	}
	return s
}

func sortedKeys(o fit.Overrides) []int {
	keys := make([]int, 0, len(o))
	for i := range o {
		keys = append(keys, i)
	}
	sort.Ints(keys)
	return keys
}

func unbounded(k int) []fit.Bound {
	b := make([]fit.Bound, k)
	for i := range b {
		b[i] = fit.Unbounded()
	}
	return b
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
