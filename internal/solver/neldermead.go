package solver

import (
	"context"
	"math"

	"gonum.org/v1/gonum/optimize"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// NelderMead minimises the sum of squares with gonum's simplex method.
// Bounds are enforced by evaluating at the projected point and adding a
// quadratic penalty for the distance outside the box.
type NelderMead struct {
	settings Settings
}

func NewNelderMead(s Settings) *NelderMead {
	s = s.withDefaults()
	// simplex iterations are far cheaper than LM iterations
	s.MaxIterations *= 50
	return &NelderMead{settings: s}
}

func (nm *NelderMead) Name() string { return MethodNelderMead }

func (nm *NelderMead) Minimize(ctx context.Context, prob Problem) (*Result, error) {
	k := len(prob.Initial)
	start := append([]float64(nil), prob.Initial...)
	project(start, prob.Lower, prob.Upper)

	r := make([]float64, prob.M)
	prob.Residuals(r, start)
	startCost := Cost(r)
	if math.IsInf(startCost, 1) {
		return nil, errors.Fit(errors.ReasonNonFiniteResidual, "residuals are not finite at the starting point")
	}
	penalty := 1e3 * math.Max(startCost, 1)

	inside := make([]float64, k)
	objective := func(u []float64) float64 {
		copy(inside, u)
		project(inside, prob.Lower, prob.Upper)
		var out float64
		for j := range u {
			d := u[j] - inside[j]
			out += d * d
		}
		prob.Residuals(r, inside)
		return Cost(r) + penalty*out
	}

	problem := optimize.Problem{
		Func: objective,
		Status: func() (optimize.Status, error) {
			if ctx.Err() != nil {
				return optimize.RuntimeLimit, nil
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations: nm.settings.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   nm.settings.FTol * math.Max(startCost, 1e-300),
			Relative:   nm.settings.FTol,
			Iterations: 20 * (k + 1),
		},
	}

	out, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if out == nil {
		return nil, errors.Wrap(err, "nelder-mead")
	}
	best := append([]float64(nil), out.X...)
	project(best, prob.Lower, prob.Upper)
	prob.Residuals(r, best)

	status := mapStatus(out.Status)
	if ctx.Err() != nil {
		status = fit.StatusTimeBudget
	}
	return &Result{
		Parameters:  best,
		Cost:        Cost(r),
		Status:      status,
		Converged:   status == fit.StatusConverged,
		Iterations:  out.MajorIterations,
		Evaluations: out.FuncEvaluations + 2,
	}, nil
}

func mapStatus(s optimize.Status) fit.Status {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.FunctionThreshold,
		optimize.MethodConverge, optimize.StepConvergence, optimize.GradientThreshold:
		return fit.StatusConverged
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit:
		return fit.StatusMaxIterations
	case optimize.RuntimeLimit:
		return fit.StatusTimeBudget
	}
	return fit.StatusStalled
}
