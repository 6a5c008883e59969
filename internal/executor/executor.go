// Package executor runs one bounded least-squares fit of a model to a dataset
// and derives the parameter covariance at the solution.
package executor

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
	"curvefit/internal/solver"
)

// Options control weighting, covariance scaling and the optimizer budget.
type Options struct {
	// Optimizer overrides Method when set.
	Optimizer solver.Optimizer
	Method    string
	Settings  solver.Settings
	// TimeBudget bounds the optimizer call; zero means no deadline.
	TimeBudget time.Duration

	// IgnoreUncertainties forces unit weights even when sigma is present.
	IgnoreUncertainties bool
	// AbsoluteSigma keeps (JᵀWJ)⁻¹ unscaled; otherwise it is multiplied
	// by χ²_w/(N−k).
	AbsoluteSigma bool
}

// Fit minimises Σ wᵢ²(yᵢ − f(xᵢ; p))² starting from guess. Validation
// failures (arity, N < k, non-finite start) return an error before the
// optimizer is touched. An unconverged run is not an error: the outcome
// carries the best parameters with Converged=false and no covariance.
func Fit(ctx context.Context, spec *fit.ModelSpec, ds *fit.Dataset, guess fit.Guess, opts Options) (*fit.Outcome, error) {
	if err := spec.CheckArity(ds); err != nil {
		return nil, err
	}
	n, k := ds.Len(), spec.ParameterCount()
	if n < k {
		return nil, errors.Fit(errors.ReasonUnderdetermined,
			"model %s has %d parameters but dataset %q has %d observations", spec.Name(), k, ds.Name, n)
	}
	if len(guess.Initial) != k || (guess.Bounds != nil && len(guess.Bounds) != k) {
		return nil, errors.InvalidInput("initial guess does not match the parameter count")
	}

	weights, warnings := Weights(ds, opts.IgnoreUncertainties)
	if guess.Source == fit.SourceDefault {
		warnings = append(warnings, fit.WarnDefaultInitialGuess)
	}
	residuals := weightedResiduals(spec, ds, weights)

	r := make([]float64, n)
	residuals(r, guess.Initial)
	if math.IsInf(solver.Cost(r), 1) {
		return nil, errors.Fit(errors.ReasonNonFiniteResidual,
			"model %s is not finite at the initial guess on dataset %q", spec.Name(), ds.Name)
	}

	opt := opts.Optimizer
	if opt == nil {
		var err error
		if opt, err = solver.New(opts.Method, opts.Settings); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, err)
		}
	}
	if opts.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeBudget)
		defer cancel()
	}

	prob := solver.Problem{Residuals: residuals, M: n, Initial: guess.Initial}
	if guess.Bounds != nil {
		prob.Lower, prob.Upper = guess.Lower(), guess.Upper()
	}
	res, err := opt.Minimize(ctx, prob)
	if err != nil {
		if errors.IsFitError(err) {
			return nil, err
		}
		appErr := errors.Fit(errors.ReasonOptimizerFailure, "%s failed on model %s", opt.Name(), spec.Name())
		appErr.Cause = err
		return nil, appErr
	}

	out := &fit.Outcome{
		Parameters:  res.Parameters,
		Converged:   res.Converged,
		Status:      res.Status,
		Method:      opt.Name(),
		Iterations:  res.Iterations,
		Evaluations: res.Evaluations,
		WeightedSSR: res.Cost,
		Weighted:    weights != nil,
		Warnings:    warnings,
	}
	if !out.Converged {
		return out, nil
	}

	cov, ok := Covariance(residuals, n, out.Parameters)
	if !ok {
		out.Converged = false
		out.Status = fit.StatusSingular
		return out, nil
	}
	if !opts.AbsoluteSigma {
		dof := n - k
		if dof == 0 {
			out.Warnings = append(out.Warnings, fit.WarnZeroDegreesOfFreedom)
			return out, nil
		}
		cov.ScaleSym(res.Cost/float64(dof), cov)
	}
	out.Covariance = toRows(cov)
	return out, nil
}

// Weights returns 1/σᵢ per observation, or nil for an unweighted fit.
// Observations without a usable sigma get unit weight and a
// partial-uncertainties warning.
func Weights(ds *fit.Dataset, ignore bool) ([]float64, []string) {
	if ignore || ds.Sigma == nil {
		return nil, nil
	}
	have := ds.UncertaintyCount()
	if have == 0 {
		return nil, []string{fit.WarnIgnoredUncertainties}
	}
	w := make([]float64, ds.Len())
	for i := range w {
		if ds.HasUncertainty(i) {
			w[i] = 1 / ds.Sigma[i]
		} else {
			w[i] = 1
		}
	}
	if have < ds.Len() {
		return w, []string{fit.WarnPartialUncertainties}
	}
	return w, nil
}

// Covariance inverts JᵀJ of the (weighted) residual Jacobian at p. It
// reports false when the normal matrix is singular or ill-conditioned.
func Covariance(residuals func(dst, p []float64), m int, p []float64) (*mat.SymDense, bool) {
	jac := solver.Jacobian(residuals, m, p)
	var a mat.SymDense
	a.SymOuterK(1, jac.T())

	var chol mat.Cholesky
	if !chol.Factorize(&a) {
		return nil, false
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, false
	}
	return &inv, true
}

func weightedResiduals(spec *fit.ModelSpec, ds *fit.Dataset, w []float64) func(dst, p []float64) {
	pred := make([]float64, ds.Len())
	return func(dst, p []float64) {
		pred = spec.Evaluate(ds.X, p, pred)
		for i, y := range ds.Y {
			d := y - pred[i]
			if w != nil {
				d *= w[i]
			}
			dst[i] = d
		}
	}
}

func toRows(s *mat.SymDense) [][]float64 {
	k := s.SymmetricDim()
	out := make([][]float64, k)
	for i := range out {
		out[i] = make([]float64, k)
		for j := range out[i] {
			out[i][j] = s.At(i, j)
		}
	}
	return out
}
