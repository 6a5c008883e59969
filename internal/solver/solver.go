// Package solver holds the nonlinear least-squares optimizers the fit
// executor delegates to.
//
// An Optimizer sees only a residual function, a starting point and box
// bounds; it knows nothing about models or datasets.
package solver

import (
	"context"
	"fmt"
	"math"
	"strings"

	"curvefit/domain/fit"
)

// Method names accepted by New.
const (
	MethodLM         = "lm"
	MethodNelderMead = "nelder-mead"
)

// Problem is a bounded least-squares problem: minimise Σ rᵢ(p)².
type Problem struct {
	// Residuals writes the M residuals at p into dst.
	Residuals func(dst, p []float64)
	M         int
	Initial   []float64
	// Lower and Upper may be nil for an unbounded problem.
	Lower []float64
	Upper []float64
}

// Result is the optimizer's best point and how it got there.
type Result struct {
	Parameters  []float64
	Cost        float64 // Σ rᵢ² at Parameters
	Status      fit.Status
	Converged   bool
	Iterations  int
	Evaluations int
}

// Optimizer minimises a Problem. Running out of iterations or time is not an
// error: the best point so far comes back with Converged=false. An error is
// returned only when no usable point exists.
type Optimizer interface {
	Minimize(ctx context.Context, p Problem) (*Result, error)
	Name() string
}

// Settings are shared stopping criteria.
type Settings struct {
	MaxIterations int
	// FTol stops when an accepted step reduces the cost by less than
	// FTol·cost. XTol stops when the step is below XTol·(|p| + XTol).
	// GTol stops when every Jacobian column is within GTol of orthogonal
	// to the residual vector.
	FTol float64
	XTol float64
	GTol float64
}

// DefaultSettings returns the stopping criteria used when none are given.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations: 200,
		FTol:          1e-12,
		XTol:          1e-12,
		GTol:          1e-12,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.FTol <= 0 {
		s.FTol = d.FTol
	}
	if s.XTol <= 0 {
		s.XTol = d.XTol
	}
	if s.GTol <= 0 {
		s.GTol = d.GTol
	}
	return s
}

// New returns the optimizer for method.
func New(method string, s Settings) (Optimizer, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", MethodLM, "levenberg-marquardt":
		return NewLevenbergMarquardt(s), nil
	case MethodNelderMead, "neldermead", "simplex":
		return NewNelderMead(s), nil
	}
	return nil, fmt.Errorf("unknown optimizer method %q", method)
}

// Cost returns Σ r² or +Inf if any residual is non-finite.
func Cost(r []float64) float64 {
	var s float64
	for _, v := range r {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(1)
		}
		s += v * v
	}
	return s
}

// project clips p into [lower, upper] in place.
func project(p, lower, upper []float64) {
	for i := range p {
		if lower != nil && p[i] < lower[i] {
			p[i] = lower[i]
		}
		if upper != nil && p[i] > upper[i] {
			p[i] = upper[i]
		}
	}
}

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}
