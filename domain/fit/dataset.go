package fit

import (
	"math"

	"curvefit/internal/errors"
)

// Observation is one row of a dataset. Sigma is the standard deviation of Y
// and may be nil.
type Observation struct {
	X     []float64 `json:"x"`
	Y     float64   `json:"y"`
	Sigma *float64  `json:"sigma,omitempty"`
}

// Dataset holds observations column-wise: X[variable][observation].
// Sigma is nil when no uncertainties were supplied; otherwise it has one
// entry per observation and NaN marks an observation without uncertainty.
type Dataset struct {
	Name  string      `json:"name"`
	X     [][]float64 `json:"x"`
	Y     []float64   `json:"y"`
	Sigma []float64   `json:"sigma,omitempty"`
}

// NewDataset validates the columns. The slices are referenced, not copied;
// the core never writes to them.
func NewDataset(name string, x [][]float64, y, sigma []float64) (*Dataset, error) {
	if len(x) == 0 {
		return nil, errors.Model(errors.ReasonInvalidDataset, "dataset %q has no independent variables", name)
	}
	n := len(y)
	for v, col := range x {
		if len(col) != n {
			return nil, errors.Model(errors.ReasonInvalidDataset,
				"dataset %q: variable %d has %d values, expected %d", name, v, len(col), n)
		}
		for i, val := range col {
			if !finite(val) {
				return nil, errors.Model(errors.ReasonInvalidDataset,
					"dataset %q: non-finite x[%d][%d]", name, v, i)
			}
		}
	}
	for i, val := range y {
		if !finite(val) {
			return nil, errors.Model(errors.ReasonInvalidDataset, "dataset %q: non-finite y[%d]", name, i)
		}
	}
	if sigma != nil && len(sigma) != n {
		return nil, errors.Model(errors.ReasonInvalidDataset,
			"dataset %q: %d uncertainties for %d observations", name, len(sigma), n)
	}
	return &Dataset{Name: name, X: x, Y: y, Sigma: sigma}, nil
}

// FromObservations builds a columnar dataset from tuples.
func FromObservations(name string, obs []Observation) (*Dataset, error) {
	if len(obs) == 0 {
		return nil, errors.Model(errors.ReasonInvalidDataset, "dataset %q is empty", name)
	}
	arity := len(obs[0].X)
	x := make([][]float64, arity)
	for v := range x {
		x[v] = make([]float64, len(obs))
	}
	y := make([]float64, len(obs))
	var sigma []float64
	for i, o := range obs {
		if len(o.X) != arity {
			return nil, errors.Model(errors.ReasonInvalidDataset,
				"dataset %q: observation %d has %d variables, expected %d", name, i, len(o.X), arity)
		}
		for v, val := range o.X {
			x[v][i] = val
		}
		y[i] = o.Y
		if o.Sigma != nil {
			if sigma == nil {
				sigma = make([]float64, len(obs))
				for j := range sigma {
					sigma[j] = math.NaN()
				}
			}
			sigma[i] = *o.Sigma
		}
	}
	return NewDataset(name, x, y, sigma)
}

// Len returns the number of observations.
func (d *Dataset) Len() int { return len(d.Y) }

// Arity returns the number of independent variables.
func (d *Dataset) Arity() int { return len(d.X) }

// HasUncertainty reports whether observation i carries a usable sigma.
func (d *Dataset) HasUncertainty(i int) bool {
	if d.Sigma == nil {
		return false
	}
	s := d.Sigma[i]
	return finite(s) && s > 0
}

// UncertaintyCount counts observations with a usable sigma.
func (d *Dataset) UncertaintyCount() int {
	n := 0
	for i := range d.Y {
		if d.HasUncertainty(i) {
			n++
		}
	}
	return n
}

// Row copies observation i's independent variables into dst.
func (d *Dataset) Row(i int, dst []float64) []float64 {
	if cap(dst) < len(d.X) {
		dst = make([]float64, len(d.X))
	}
	dst = dst[:len(d.X)]
	for v := range d.X {
		dst[v] = d.X[v][i]
	}
	return dst
}

// Slice returns a view of observations [from, to).
func (d *Dataset) Slice(name string, from, to int) *Dataset {
	x := make([][]float64, len(d.X))
	for v := range d.X {
		x[v] = d.X[v][from:to]
	}
	var sigma []float64
	if d.Sigma != nil {
		sigma = d.Sigma[from:to]
	}
	return &Dataset{Name: name, X: x, Y: d.Y[from:to], Sigma: sigma}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
