package fitstats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// Prediction is the model value at one point with its propagated standard
// error. ConfLower/ConfUpper bound the mean response; PredLower/PredUpper
// bound a new observation and also carry the residual variance. StdErr and
// both intervals are nil without covariance, the intervals are nil when
// dof ≤ 0, and the prediction interval is nil without a residual variance.
type Prediction struct {
	X         []float64 `json:"x"`
	Value     float64   `json:"value"`
	StdErr    *float64  `json:"std_err,omitempty"`
	ConfLower *float64  `json:"confidence_lower,omitempty"`
	ConfUpper *float64  `json:"confidence_upper,omitempty"`
	PredLower *float64  `json:"prediction_lower,omitempty"`
	PredUpper *float64  `json:"prediction_upper,omitempty"`
}

// ResidualVariance returns SS_res/dof for rep, or 0 when dof ≤ 0.
func ResidualVariance(rep *fit.Report) float64 {
	if rep == nil || rep.DOF <= 0 {
		return 0
	}
	return rep.SSRes / float64(rep.DOF)
}

// Predict evaluates spec at the columnar points x and propagates the
// parameter covariance to first order: se² = ∇ₚf · Σ · ∇ₚfᵀ. A positive
// residualVariance s² widens the prediction interval to √(se² + s²).
func Predict(spec *fit.ModelSpec, params []float64, cov [][]float64, x [][]float64, dof int, level, residualVariance float64) ([]Prediction, error) {
	level, err := checkLevel(level)
	if err != nil {
		return nil, err
	}
	k := spec.ParameterCount()
	if len(params) != k {
		return nil, errors.InvalidInput("parameter vector does not match the model")
	}
	if cov != nil {
		if len(cov) != k {
			return nil, errors.InvalidInput("covariance does not match the model")
		}
		for a, row := range cov {
			if len(row) != k {
				return nil, errors.InvalidInput(fmt.Sprintf("covariance row %d has %d entries, want %d", a, len(row), k))
			}
		}
	}
	if len(x) != spec.Arity() {
		return nil, errors.Model(errors.ReasonArityMismatch,
			"model %s expects %d independent variable(s), got %d", spec.Name(), spec.Arity(), len(x))
	}
	if residualVariance < 0 || math.IsNaN(residualVariance) || math.IsInf(residualVariance, 0) {
		return nil, errors.InvalidInput("residual variance must be finite and non-negative")
	}

	n := 0
	if len(x) > 0 {
		n = len(x[0])
	}
	for v, col := range x {
		if len(col) != n {
			return nil, errors.InvalidInput(fmt.Sprintf("variable %d has %d points, want %d", v, len(col), n))
		}
	}
	t := math.NaN()
	if dof > 0 {
		t = TQuantile(level, dof)
	}

	out := make([]Prediction, n)
	grad := make([]float64, k)
	for i := range out {
		row := make([]float64, len(x))
		for v := range x {
			row[v] = x[v][i]
		}
		out[i] = Prediction{X: row, Value: spec.At(row, params)}
		if cov == nil {
			continue
		}
		parameterGradient(grad, spec, row, params)
		var variance float64
		for a := 0; a < k; a++ {
			for b := 0; b < k; b++ {
				variance += grad[a] * cov[a][b] * grad[b]
			}
		}
		if !(variance >= 0) || math.IsInf(variance, 1) {
			continue
		}
		se := math.Sqrt(variance)
		out[i].StdErr = &se
		if dof <= 0 {
			continue
		}
		lo, hi := out[i].Value-t*se, out[i].Value+t*se
		out[i].ConfLower, out[i].ConfUpper = &lo, &hi
		if residualVariance > 0 {
			w := t * math.Sqrt(variance+residualVariance)
			plo, phi := out[i].Value-w, out[i].Value+w
			out[i].PredLower, out[i].PredUpper = &plo, &phi
		}
	}
	return out, nil
}

// parameterGradient differentiates f(row; p) with respect to p, stepping
// each parameter relative to its magnitude.
func parameterGradient(dst []float64, spec *fit.ModelSpec, row, params []float64) {
	scale := make([]float64, len(params))
	for j, v := range params {
		scale[j] = math.Abs(v)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	shifted := make([]float64, len(params))
	f := func(u []float64) float64 {
		for j := range shifted {
			shifted[j] = params[j] + scale[j]*u[j]
		}
		return spec.At(row, shifted)
	}
	fd.Gradient(dst, f, make([]float64, len(params)), &fd.Settings{Formula: fd.Central})
	for j := range dst {
		dst[j] /= scale[j]
	}
}
