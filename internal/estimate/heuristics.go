package estimate

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"curvefit/domain/fit"
	"curvefit/internal/registry"
)

// heuristic returns initial values and bounds for a k-parameter model. A nil
// bounds slice means unbounded; a short initial slice selects the default.
type heuristic func(ds *fit.Dataset, k int) ([]float64, []fit.Bound)

var heuristics = map[string]heuristic{
	registry.EstPolynomial:        polynomial,
	registry.EstPlane:             plane,
	registry.EstSinusoid:          func(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) { return harmonic(ds, false) },
	registry.EstCosinusoid:        func(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) { return harmonic(ds, true) },
	registry.EstReciprocal:        func(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) { return inversePower(ds, 1) },
	registry.EstInverseSquare:     func(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) { return inversePower(ds, 2) },
	registry.EstRational:          rational,
	registry.EstExponential:       exponential,
	registry.EstExponentialOffset: exponentialOffset,
	registry.EstLogarithmic:       logarithmic,
	registry.EstPowerLaw:          powerLaw,
	registry.EstGaussian:          gaussian,
	registry.EstLogistic:          logistic,
}

func polynomial(ds *fit.Dataset, k int) ([]float64, []fit.Bound) {
	if c, ok := leastSquares(vandermonde(ds.X[0], k-1), ds.Y); ok {
		return c, nil
	}
	init := make([]float64, k)
	init[0] = mean(ds.Y)
	return init, nil
}

func plane(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) {
	n := ds.Len()
	a := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		a.Set(i, 0, 1)
		a.Set(i, 1, ds.X[0][i])
		a.Set(i, 2, ds.X[1][i])
	}
	if c, ok := leastSquares(a, ds.Y); ok {
		return c, nil
	}
	return []float64{mean(ds.Y), 0, 0}, nil
}

// harmonic estimates A·sin(ωx+φ)+c (or cos). ω comes from the spacing of
// mean-level crossings; A, φ and c from a linear fit on sin(ωx), cos(ωx).
func harmonic(ds *fit.Dataset, cosine bool) ([]float64, []fit.Bound) {
	xs, ys := sortedByX(ds.X[0], ds.Y)
	offset := mean(ys)
	omega := crossingFrequency(xs, ys, offset)
	bounds := []fit.Bound{fit.AtLeast(0), fit.AtLeast(0), fit.Unbounded(), fit.Unbounded()}

	n := len(xs)
	a := mat.NewDense(n, 3, nil)
	for i, x := range xs {
		a.Set(i, 0, math.Sin(omega*x))
		a.Set(i, 1, math.Cos(omega*x))
		a.Set(i, 2, 1)
	}
	c, ok := leastSquares(a, ys)
	if !ok {
		return []float64{(maxOf(ys) - minOf(ys)) / 2, omega, 0, offset}, bounds
	}
	s, co := c[0], c[1]
	amp := math.Hypot(s, co)
	// A·sin(ωx+φ) = A·cosφ·sin ωx + A·sinφ·cos ωx
	phase := math.Atan2(co, s)
	if cosine {
		// A·cos(ωx+φ) = A·cosφ·cos ωx − A·sinφ·sin ωx
		phase = math.Atan2(-s, co)
	}
	return []float64{amp, omega, phase, c[2]}, bounds
}

// crossingFrequency returns the angular frequency implied by the mean
// spacing of level crossings. A hysteresis band keeps noise near the level
// from registering as crossings. Falls back to one period over the x range.
func crossingFrequency(xs, ys []float64, level float64) float64 {
	band := 0.1 * (maxOf(ys) - minOf(ys)) / 2
	var crossings []float64
	state, prev := 0.0, -1
	pending := math.NaN()
	for i := range xs {
		d := ys[i] - level
		if d == 0 {
			continue
		}
		if prev >= 0 {
			dp := ys[prev] - level
			if (dp < 0) != (d < 0) {
				pending = xs[prev] + (xs[i]-xs[prev])*dp/(dp-d)
			}
		}
		prev = i
		if math.Abs(d) <= band {
			continue
		}
		sign := math.Copysign(1, d)
		if state != 0 && sign != state && !math.IsNaN(pending) {
			crossings = append(crossings, pending)
		}
		state = sign
	}
	if len(crossings) >= 2 {
		half := (crossings[len(crossings)-1] - crossings[0]) / float64(len(crossings)-1)
		if half > 0 {
			return math.Pi / half
		}
	}
	if span := xs[len(xs)-1] - xs[0]; span > 0 {
		return 2 * math.Pi / span
	}
	return 1
}

// inversePower regresses y on 1/x^power for p0/x^power + p1.
func inversePower(ds *fit.Dataset, power float64) ([]float64, []fit.Bound) {
	var u, y []float64
	for i, x := range ds.X[0] {
		if x == 0 {
			continue
		}
		u = append(u, math.Pow(x, -power))
		y = append(y, ds.Y[i])
	}
	if a, b, ok := regress(u, y); ok {
		return []float64{b, a}, nil
	}
	return []float64{1, mean(ds.Y)}, nil
}

// rational linearises (p0·x + p1)/(x + p2) = y as x·y = p0·x + p1 − p2·y.
func rational(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) {
	n := ds.Len()
	a := mat.NewDense(n, 3, nil)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		x, y := ds.X[0][i], ds.Y[i]
		a.Set(i, 0, x)
		a.Set(i, 1, 1)
		a.Set(i, 2, -y)
		b[i] = x * y
	}
	if c, ok := leastSquares(a, b); ok {
		return c, nil
	}
	return []float64{mean(ds.Y), 0, 1}, nil
}

// exponential regresses ln|y| on x over samples sharing the dominant sign.
func exponential(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) {
	s := dominantSign(ds.Y)
	var x, ly []float64
	for i, y := range ds.Y {
		if s*y > 0 {
			x = append(x, ds.X[0][i])
			ly = append(ly, math.Log(s*y))
		}
	}
	if a, b, ok := regress(x, ly); ok {
		return []float64{s * math.Exp(a), b}, nil
	}
	return []float64{mean(ds.Y), 0}, nil
}

// exponentialOffset uses dy/dx = p1·(y − p2) on central differences for the
// rate and asymptote, then p0 by regression through the origin.
func exponentialOffset(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) {
	xs, ys := sortedByX(ds.X[0], ds.Y)
	var mid, slope []float64
	for i := 1; i+1 < len(xs); i++ {
		dx := xs[i+1] - xs[i-1]
		if dx == 0 {
			continue
		}
		mid = append(mid, ys[i])
		slope = append(slope, (ys[i+1]-ys[i-1])/dx)
	}
	a, rate, ok := regress(mid, slope)
	if !ok || rate == 0 {
		init, _ := exponential(ds, 2)
		return append(init, 0), nil
	}
	asym := -a / rate
	var num, den float64
	for i, x := range xs {
		e := math.Exp(rate * x)
		num += e * (ys[i] - asym)
		den += e * e
	}
	amp := 1.0
	if den > 0 && finite(den) {
		amp = num / den
	}
	return []float64{amp, rate, asym}, nil
}

func logarithmic(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) {
	var lx, y []float64
	for i, x := range ds.X[0] {
		if x > 0 {
			lx = append(lx, math.Log(x))
			y = append(y, ds.Y[i])
		}
	}
	if a, b, ok := regress(lx, y); ok {
		return []float64{b, a}, nil
	}
	return []float64{1, mean(ds.Y)}, nil
}

// powerLaw regresses ln|y| on ln x for positive x.
func powerLaw(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) {
	s := dominantSign(ds.Y)
	var lx, ly []float64
	for i, x := range ds.X[0] {
		if x > 0 && s*ds.Y[i] > 0 {
			lx = append(lx, math.Log(x))
			ly = append(ly, math.Log(s*ds.Y[i]))
		}
	}
	if a, b, ok := regress(lx, ly); ok {
		return []float64{s * math.Exp(a), b}, nil
	}
	return []float64{mean(ds.Y), 1}, nil
}

// gaussian fits a parabola to ln|y| near the peak; when that is not concave
// it falls back to peak position, height and FWHM.
func gaussian(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) {
	bounds := []fit.Bound{fit.Unbounded(), fit.Unbounded(), fit.AtLeast(0)}
	xs, ys := sortedByX(ds.X[0], ds.Y)
	s := dominantSign(ys)
	peak, at := 0.0, 0
	for i, y := range ys {
		if s*y > peak {
			peak, at = s*y, i
		}
	}
	if peak <= 0 {
		return []float64{mean(ys), median(xs), (xs[len(xs)-1] - xs[0]) / 4}, bounds
	}

	var px, ly []float64
	for i, y := range ys {
		if s*y > 0.1*peak {
			px = append(px, xs[i])
			ly = append(ly, math.Log(s*y))
		}
	}
	if len(px) >= 3 {
		if c, ok := leastSquares(vandermonde(px, 2), ly); ok && c[2] < 0 {
			mu := -c[1] / (2 * c[2])
			width := math.Sqrt(-1 / (2 * c[2]))
			height := s * math.Exp(c[0]-c[2]*mu*mu)
			return []float64{height, mu, width}, bounds
		}
	}

	left, right := xs[0], xs[len(xs)-1]
	for i := at; i >= 0; i-- {
		if s*ys[i] < peak/2 {
			left = xs[i]
			break
		}
	}
	for i := at; i < len(xs); i++ {
		if s*ys[i] < peak/2 {
			right = xs[i]
			break
		}
	}
	width := (right - left) / (2 * math.Sqrt(2*math.Ln2))
	if width <= 0 {
		width = 1
	}
	return []float64{s * peak, xs[at], width}, bounds
}

// logistic sets the ceiling just above the largest sample and linearises
// ln(p0/y − 1) = −p1·(x − p2).
func logistic(ds *fit.Dataset, _ int) ([]float64, []fit.Bound) {
	top := maxOf(ds.Y)
	mid := median(ds.X[0])
	if !(top > 0) {
		return []float64{1, 1, mid}, nil
	}
	ceiling := 1.05 * top
	var x, z []float64
	for i, y := range ds.Y {
		if y > 0 {
			x = append(x, ds.X[0][i])
			z = append(z, math.Log(ceiling/y-1))
		}
	}
	a, b, ok := regress(x, z)
	if !ok || b == 0 {
		return []float64{ceiling, 1, mid}, nil
	}
	rate := -b
	return []float64{ceiling, rate, a / rate}, nil
}
