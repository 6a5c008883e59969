package solver

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// maxRejections bounds the damping increases tried within one iteration.
const maxRejections = 40

// LevenbergMarquardt is a box-constrained Levenberg–Marquardt solver.
// Parameters sitting on a bound with the descent direction pointing outward
// form the active set and are frozen for the iteration; the damped system is
// solved over the free parameters and trial points are projected onto the
// bounds. Damping follows Nielsen's update with Marquardt's diagonal scaling.
type LevenbergMarquardt struct {
	settings Settings
}

func NewLevenbergMarquardt(s Settings) *LevenbergMarquardt {
	return &LevenbergMarquardt{settings: s.withDefaults()}
}

func (lm *LevenbergMarquardt) Name() string { return MethodLM }

func (lm *LevenbergMarquardt) Minimize(ctx context.Context, prob Problem) (*Result, error) {
	s := lm.settings
	k := len(prob.Initial)
	evals := 0
	residuals := func(dst, p []float64) {
		evals++
		prob.Residuals(dst, p)
	}

	p := append([]float64(nil), prob.Initial...)
	project(p, prob.Lower, prob.Upper)
	r := make([]float64, prob.M)
	residuals(r, p)
	cost := Cost(r)
	if math.IsInf(cost, 1) {
		return nil, errors.Fit(errors.ReasonNonFiniteResidual, "residuals are not finite at the starting point")
	}

	res := &Result{Parameters: p, Cost: cost, Status: fit.StatusMaxIterations}
	done := func(status fit.Status) (*Result, error) {
		res.Parameters = p
		res.Cost = cost
		res.Status = status
		res.Converged = status == fit.StatusConverged
		res.Evaluations = evals
		return res, nil
	}
	if cost == 0 {
		return done(fit.StatusConverged)
	}

	mu, nu := 1e-3, 2.0
	trial := make([]float64, k)
	step := make([]float64, k)
	rTrial := make([]float64, prob.M)
	g := mat.NewVecDense(k, nil)
	gFree := mat.NewVecDense(k, nil)
	delta := mat.NewVecDense(k, nil)

	for res.Iterations = 0; res.Iterations < s.MaxIterations; res.Iterations++ {
		if ctx.Err() != nil {
			return done(fit.StatusTimeBudget)
		}

		jac := Jacobian(residuals, prob.M, p)
		if !finiteMatrix(jac) {
			return done(fit.StatusOptimizerError)
		}
		var a mat.SymDense
		a.SymOuterK(1, jac.T())
		g.MulVec(jac.T(), mat.NewVecDense(prob.M, r))

		active := activeSet(g, p, prob.Lower, prob.Upper)
		if gradientConverged(jac, g, r, s.GTol, active) {
			return done(fit.StatusConverged)
		}
		gFree.CopyVec(g)
		for j, frozen := range active {
			if frozen {
				gFree.SetVec(j, 0)
			}
		}

		accepted := false
		for try := 0; try < maxRejections && !accepted; try++ {
			damped := mat.NewSymDense(k, nil)
			damped.CopySym(&a)
			for j := 0; j < k; j++ {
				if active[j] {
					for i := 0; i < k; i++ {
						damped.SetSym(i, j, 0)
					}
					damped.SetSym(j, j, 1)
					continue
				}
				d := a.At(j, j)
				if d <= 0 {
					d = 1e-12
				}
				damped.SetSym(j, j, a.At(j, j)+mu*d)
			}
			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				mu *= nu
				nu *= 2
				continue
			}
			if err := chol.SolveVecTo(delta, gFree); err != nil && !finiteVec(delta) {
				mu *= nu
				nu *= 2
				continue
			}

			for j := 0; j < k; j++ {
				trial[j] = p[j] - delta.AtVec(j)
			}
			project(trial, prob.Lower, prob.Upper)
			for j := range step {
				step[j] = trial[j] - p[j]
			}
			if norm(step) <= s.XTol*(norm(p)+s.XTol) {
				return done(fit.StatusConverged)
			}

			residuals(rTrial, trial)
			trialCost := Cost(rTrial)
			actual := cost - trialCost
			predicted := predictedReduction(&a, g, step)

			var rho float64
			switch {
			case math.IsInf(trialCost, 1):
				rho = -1
			case predicted > 0:
				rho = actual / predicted
			case actual > 0:
				rho = 1
			default:
				rho = -1
			}
			if rho <= 0 {
				mu *= nu
				nu *= 2
				continue
			}

			accepted = true
			copy(p, trial)
			copy(r, rTrial)
			prev := cost
			cost = trialCost
			mu *= math.Max(1.0/3, 1-math.Pow(2*rho-1, 3))
			nu = 2
			if cost == 0 || (actual <= s.FTol*prev && predicted <= s.FTol*prev) {
				res.Iterations++
				return done(fit.StatusConverged)
			}
		}
		if !accepted {
			return done(fit.StatusStalled)
		}
	}
	return done(fit.StatusMaxIterations)
}

// predictedReduction is cost − ‖r + J·h‖² under the linear model:
// −2hᵀg − hᵀAh.
func predictedReduction(a *mat.SymDense, g *mat.VecDense, h []float64) float64 {
	hv := mat.NewVecDense(len(h), append([]float64(nil), h...))
	var ah mat.VecDense
	ah.MulVec(a, hv)
	return -2*mat.Dot(hv, g) - mat.Dot(hv, &ah)
}

// activeSet marks parameters pinned at a bound whose descent direction −g
// points out of the box.
func activeSet(g *mat.VecDense, p, lower, upper []float64) []bool {
	active := make([]bool, len(p))
	for j := range p {
		gj := g.AtVec(j)
		switch {
		case lower != nil && p[j] <= lower[j] && gj > 0:
			active[j] = true
		case upper != nil && p[j] >= upper[j] && gj < 0:
			active[j] = true
		}
	}
	return active
}

// gradientConverged checks the cosine between each free Jacobian column and
// the residual vector. Active columns are ignored.
func gradientConverged(jac *mat.Dense, g *mat.VecDense, r []float64, gtol float64, active []bool) bool {
	rn := norm(r)
	if rn == 0 {
		return true
	}
	m, k := jac.Dims()
	worst := 0.0
	for j := 0; j < k; j++ {
		if active[j] {
			continue
		}
		gj := g.AtVec(j)
		var cn float64
		for i := 0; i < m; i++ {
			v := jac.At(i, j)
			cn += v * v
		}
		if cn == 0 {
			continue
		}
		worst = math.Max(worst, math.Abs(gj)/(math.Sqrt(cn)*rn))
	}
	return worst <= gtol
}

func finiteVec(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
