// Package fitstats computes goodness-of-fit statistics and parameter
// uncertainties from a fit outcome. Undefined quantities are reported as nil,
// never as NaN.
package fitstats

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// DefaultConfidenceLevel is used when a caller passes zero.
const DefaultConfidenceLevel = 0.95

// Summarize scores outcome against ds. R² and the information criteria use
// raw residuals y − f(x); χ² uses only observations with a usable sigma.
func Summarize(spec *fit.ModelSpec, ds *fit.Dataset, outcome *fit.Outcome, level float64) (*fit.Report, error) {
	level, err := checkLevel(level)
	if err != nil {
		return nil, err
	}
	if err := spec.CheckArity(ds); err != nil {
		return nil, err
	}
	k := spec.ParameterCount()
	if outcome == nil || len(outcome.Parameters) != k {
		return nil, errors.InvalidInput("outcome does not match the model parameter count")
	}

	pred := spec.Evaluate(ds.X, outcome.Parameters, nil)
	resid := make([]float64, ds.Len())
	for i, y := range ds.Y {
		resid[i] = y - pred[i]
	}
	return summarize(spec.ParameterNames(), ds, resid, outcome.Parameters, outcome.Covariance, level, !outcome.Converged), nil
}

// SummarizeSlice scores a residual slice with its own parameter sub-vector
// and covariance sub-block. Total fits use it for per-dataset reports.
func SummarizeSlice(names []string, ds *fit.Dataset, resid, params []float64, cov [][]float64, level float64, partial bool) (*fit.Report, error) {
	level, err := checkLevel(level)
	if err != nil {
		return nil, err
	}
	if len(resid) != ds.Len() || len(params) != len(names) {
		return nil, errors.InvalidInput("residual slice does not match the dataset")
	}
	return summarize(names, ds, resid, params, cov, level, partial), nil
}

func summarize(names []string, ds *fit.Dataset, resid, params []float64, cov [][]float64, level float64, partial bool) *fit.Report {
	n, k := ds.Len(), len(params)
	rep := &fit.Report{
		N:               n,
		K:               k,
		DOF:             n - k,
		ConfidenceLevel: level,
		Partial:         partial,
	}

	yMean, _ := stats.Mean(ds.Y)
	var chi2 float64
	nSigma := 0
	for i, r := range resid {
		rep.SSRes += r * r
		d := ds.Y[i] - yMean
		rep.SSTot += d * d
		if ds.HasUncertainty(i) {
			z := r / ds.Sigma[i]
			chi2 += z * z
			nSigma++
		}
	}
	if n > 0 {
		rep.RMSE = math.Sqrt(rep.SSRes / float64(n))
	}

	if rep.SSTot > 0 {
		r2 := 1 - rep.SSRes/rep.SSTot
		rep.R2 = &r2
		if n > k {
			adj := 1 - (1-r2)*float64(n-1)/float64(n-k)
			rep.AdjustedR2 = &adj
		}
	}
	if nSigma > 0 {
		rep.ChiSquare = &chi2
		if nSigma > k {
			red := chi2 / float64(nSigma-k)
			rep.ReducedChiSquare = &red
		}
	}
	if rep.SSRes > 0 && n > 0 {
		ll := float64(n) * math.Log(rep.SSRes/float64(n))
		aic := ll + 2*float64(k)
		bic := ll + float64(k)*math.Log(float64(n))
		rep.AIC, rep.BIC = &aic, &bic
	}

	rep.Parameters = parameterEstimates(names, params, cov, n-k, level)
	rep.Residuals = residualSummary(resid)
	return rep
}

func parameterEstimates(names []string, params []float64, cov [][]float64, dof int, level float64) []fit.ParameterEstimate {
	out := make([]fit.ParameterEstimate, len(params))
	t := 0.0
	if dof > 0 {
		t = TQuantile(level, dof)
	}
	for i, v := range params {
		out[i] = fit.ParameterEstimate{Name: names[i], Value: v}
		if cov == nil || dof <= 0 || i >= len(cov) {
			continue
		}
		variance := cov[i][i]
		if !(variance >= 0) || math.IsInf(variance, 1) {
			continue
		}
		se := math.Sqrt(variance)
		lo, hi := v-t*se, v+t*se
		out[i].StdErr = &se
		out[i].Lower = &lo
		out[i].Upper = &hi
	}
	return out
}

func residualSummary(resid []float64) fit.ResidualSummary {
	if len(resid) == 0 {
		return fit.ResidualSummary{}
	}
	data := stats.Float64Data(resid)
	m, _ := data.Mean()
	sd, _ := data.StandardDeviation()
	hi, _ := data.Max()
	lo, _ := data.Min()
	return fit.ResidualSummary{Mean: m, StdDev: sd, MaxAbs: math.Max(math.Abs(hi), math.Abs(lo))}
}

// TQuantile returns the two-sided Student t critical value for level with
// dof degrees of freedom.
func TQuantile(level float64, dof int) float64 {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(dof)}.Quantile((1 + level) / 2)
}

func checkLevel(level float64) (float64, error) {
	if level == 0 {
		return DefaultConfidenceLevel, nil
	}
	if !(level > 0 && level < 1) {
		return 0, errors.ConfigInvalid("confidence level must lie in (0, 1)")
	}
	return level, nil
}
