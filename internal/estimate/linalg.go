package estimate

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	gstat "gonum.org/v1/gonum/stat"
)

// leastSquares solves min ||a·c - b|| by QR. ok is false for
// underdetermined or rank-deficient systems.
func leastSquares(a *mat.Dense, b []float64) ([]float64, bool) {
	r, c := a.Dims()
	if r < c || r != len(b) {
		return nil, false
	}
	var qr mat.QR
	qr.Factorize(a)
	sol := mat.NewVecDense(c, nil)
	if err := qr.SolveVecTo(sol, false, mat.NewVecDense(r, append([]float64(nil), b...))); err != nil {
		return nil, false
	}
	out := make([]float64, c)
	for i := range out {
		out[i] = sol.AtVec(i)
		if !finite(out[i]) {
			return nil, false
		}
	}
	return out, true
}

// vandermonde builds the design matrix [1 x x² ... x^degree].
func vandermonde(x []float64, degree int) *mat.Dense {
	a := mat.NewDense(len(x), degree+1, nil)
	for i := range x {
		for j, p := 0, 1.0; j <= degree; j, p = j+1, p*x[i] {
			a.Set(i, j, p)
		}
	}
	return a
}

// regress fits y = intercept + slope·x.
func regress(x, y []float64) (intercept, slope float64, ok bool) {
	if len(x) < 2 || len(x) != len(y) {
		return 0, 0, false
	}
	if minOf(x) == maxOf(x) {
		return 0, 0, false
	}
	intercept, slope = gstat.LinearRegression(x, y, nil, false)
	return intercept, slope, finite(intercept) && finite(slope)
}

func mean(v []float64) float64 {
	m, err := stats.Mean(v)
	if err != nil {
		return 0
	}
	return m
}

func median(v []float64) float64 {
	m, err := stats.Median(v)
	if err != nil {
		return 0
	}
	return m
}

func maxOf(v []float64) float64 {
	m, err := stats.Max(v)
	if err != nil {
		return math.NaN()
	}
	return m
}

func minOf(v []float64) float64 {
	m, err := stats.Min(v)
	if err != nil {
		return math.NaN()
	}
	return m
}

// sortedByX returns copies of x and y ordered by x.
func sortedByX(x, y []float64) ([]float64, []float64) {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	xs := make([]float64, len(x))
	ys := make([]float64, len(y))
	for i, j := range idx {
		xs[i], ys[i] = x[j], y[j]
	}
	return xs, ys
}

// dominantSign is -1 when the largest magnitude sample is negative.
func dominantSign(y []float64) float64 {
	if math.Abs(minOf(y)) > math.Abs(maxOf(y)) {
		return -1
	}
	return 1
}
