package solver

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Jacobian approximates ∂rᵢ/∂pⱼ at p by central differences. Each parameter
// is stepped relative to its own magnitude, or 1 when it is zero.
func Jacobian(residuals func(dst, p []float64), m int, p []float64) *mat.Dense {
	k := len(p)
	scale := make([]float64, k)
	for j, v := range p {
		scale[j] = math.Abs(v)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	shifted := make([]float64, k)
	f := func(y, u []float64) {
		for j := range shifted {
			shifted[j] = p[j] + scale[j]*u[j]
		}
		residuals(y, shifted)
	}
	jac := mat.NewDense(m, k, nil)
	fd.Jacobian(jac, f, make([]float64, k), &fd.JacobianSettings{Formula: fd.Central})
	for j := 0; j < k; j++ {
		for i := 0; i < m; i++ {
			jac.Set(i, j, jac.At(i, j)/scale[j])
		}
	}
	return jac
}

// finiteMatrix reports whether every element of a is finite.
func finiteMatrix(a mat.Matrix) bool {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := a.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
