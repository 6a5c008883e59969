package estimate

import (
	stderrors "errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
	"curvefit/internal/formula"
	"curvefit/internal/registry"
)

func lookup(t *testing.T, family, variant string) *fit.ModelSpec {
	t.Helper()
	spec, err := registry.Default().Lookup(family, variant)
	require.NoError(t, err)
	return spec
}

// synth samples spec on an evenly spaced grid.
func synth(t *testing.T, spec *fit.ModelSpec, p []float64, from, to, step float64) *fit.Dataset {
	t.Helper()
	var xs []float64
	for x := from; x <= to+1e-9; x += step {
		xs = append(xs, x)
	}
	cols := make([][]float64, spec.Arity())
	for v := range cols {
		cols[v] = make([]float64, len(xs))
		for i, x := range xs {
			cols[v][i] = x + float64(v)*math.Sin(3*x)
		}
	}
	y := spec.Evaluate(cols, p, nil)
	ds, err := fit.NewDataset("synthetic", cols, y, nil)
	require.NoError(t, err)
	return ds
}

// TestHeuristic_ExactLinearisations checks families whose heuristic is an
// exact transform recover clean parameters directly.
func TestHeuristic_ExactLinearisations(t *testing.T) {
	tests := []struct {
		family, variant string
		params          []float64
		from, to, step  float64
	}{
		{"polynomial", "linear", []float64{1, 2}, 0, 5, 0.5},
		{"polynomial", "cubic", []float64{1, -2, 0.5, 0.1}, -3, 3, 0.25},
		{"polynomial", "plane", []float64{0.5, 2, -1}, 0, 5, 0.25},
		{"inverse", "reciprocal", []float64{3, 1}, 0.5, 5, 0.25},
		{"inverse", "inverse_square", []float64{-2, 4}, 0.5, 5, 0.25},
		{"inverse", "rational", []float64{2, 1, 1.5}, 0, 10, 0.25},
		{"special", "exponential", []float64{1.5, 0.3}, 0, 5, 0.25},
		{"special", "exponential", []float64{-2, -0.4}, 0, 5, 0.25},
		{"special", "logarithmic", []float64{2, 0.5}, 0.5, 10, 0.5},
		{"special", "power_law", []float64{2.5, 1.7}, 0.5, 10, 0.5},
		{"special", "gaussian", []float64{4, 2, 0.7}, -2, 6, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.family+"/"+tt.variant, func(t *testing.T) {
			spec := lookup(t, tt.family, tt.variant)
			ds := synth(t, spec, tt.params, tt.from, tt.to, tt.step)

			g := Heuristic(spec, ds)
			assert.Equal(t, fit.SourceHeuristic, g.Source)
			require.Len(t, g.Initial, len(tt.params))
			for i, want := range tt.params {
				assert.InDelta(t, want, g.Initial[i], 1e-6, "parameter %d", i)
			}
		})
	}
}

func TestHeuristic_Sinusoid(t *testing.T) {
	for _, variant := range []string{"sine", "cosine"} {
		t.Run(variant, func(t *testing.T) {
			spec := lookup(t, "trigonometric", variant)
			truth := []float64{2, 1.5, 0.3, 1}
			ds := synth(t, spec, truth, 0, 20, 0.05)

			g := Heuristic(spec, ds)
			assert.InEpsilon(t, truth[0], g.Initial[0], 0.05, "amplitude")
			assert.InEpsilon(t, truth[1], g.Initial[1], 0.02, "frequency")
			assert.InDelta(t, truth[3], g.Initial[3], 0.1, "offset")
			assert.Equal(t, 0.0, g.Bounds[0].Lower)
			assert.Equal(t, 0.0, g.Bounds[1].Lower)
		})
	}
}

func TestHeuristic_ExponentialOffset(t *testing.T) {
	spec := lookup(t, "special", "exponential_offset")
	ds := synth(t, spec, []float64{3, -0.5, 2}, 0, 10, 0.1)

	g := Heuristic(spec, ds)
	assert.InDelta(t, 2.0, g.Initial[2], 1e-6, "asymptote")
	assert.InDelta(t, -0.5, g.Initial[1], 0.01, "rate")
	assert.InDelta(t, 3.0, g.Initial[0], 0.05, "amplitude")
}

func TestHeuristic_Logistic(t *testing.T) {
	spec := lookup(t, "special", "logistic")
	ds := synth(t, spec, []float64{5, 1.2, 4}, 0, 10, 0.1)

	g := Heuristic(spec, ds)
	assert.Greater(t, g.Initial[0], 5.0, "ceiling sits above the data")
	assert.Greater(t, g.Initial[1], 0.0, "increasing curve")
	assert.InDelta(t, 4.0, g.Initial[2], 2.0, "midpoint")
}

// TestHeuristic_AlwaysFinite feeds every built-in awkward data: negative
// abscissae, a constant target and a minimal sample.
func TestHeuristic_AlwaysFinite(t *testing.T) {
	x := []float64{-3, -2, -1, 0, 1, 2, 3}
	flat := []float64{2, 2, 2, 2, 2, 2, 2}
	for _, spec := range registry.Default().Models() {
		t.Run(spec.Name(), func(t *testing.T) {
			cols := [][]float64{x}
			if spec.Arity() == 2 {
				cols = append(cols, []float64{9, 4, 1, 0, 1, 4, 9})
			}
			ds, err := fit.NewDataset("flat", cols, flat, nil)
			require.NoError(t, err)

			g := Heuristic(spec, ds)
			require.Len(t, g.Initial, spec.ParameterCount())
			for i, v := range g.Initial {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "parameter %d = %v", i, v)
			}
		})
	}
}

func TestHeuristic_TooFewObservations(t *testing.T) {
	spec := lookup(t, "polynomial", "quintic")
	ds, err := fit.NewDataset("tiny", [][]float64{{1, 2}}, []float64{1, 2}, nil)
	require.NoError(t, err)

	g := Heuristic(spec, ds)
	assert.Equal(t, fit.SourceDefault, g.Source)
	assert.Len(t, g.Initial, 6)
}

func TestEstimate_CustomFormulaDefaults(t *testing.T) {
	spec, err := formula.Parse("p0*exp(-p1*x) + p2", []string{"x"}, formula.Options{})
	require.NoError(t, err)
	ds := synth(t, lookup(t, "polynomial", "linear"), []float64{1, 1}, 0, 5, 1)

	g, err := Estimate(spec, ds, nil)
	require.NoError(t, err)
	assert.Equal(t, fit.SourceDefault, g.Source)
	assert.Equal(t, []float64{1, 1, 1}, g.Initial)
	for _, b := range g.Bounds {
		assert.True(t, math.IsInf(b.Lower, -1))
		assert.True(t, math.IsInf(b.Upper, 1))
	}
}

func TestEstimate_ArityMismatch(t *testing.T) {
	spec := lookup(t, "polynomial", "plane")
	ds := synth(t, lookup(t, "polynomial", "linear"), []float64{1, 1}, 0, 5, 1)

	_, err := Estimate(spec, ds, nil)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrArityMismatch))
}

// TestEstimate_BoundInversionEveryFamily rejects lower > upper for every
// built-in model and a custom formula.
func TestEstimate_BoundInversionEveryFamily(t *testing.T) {
	custom, err := formula.Parse("p0*x + p1", []string{"x"}, formula.Options{})
	require.NoError(t, err)
	models := append(registry.Default().Models(), custom)

	inverted := fit.Overrides{0: {Lower: fit.Float(2), Upper: fit.Float(1)}}
	for _, spec := range models {
		t.Run(spec.Name(), func(t *testing.T) {
			ds := synth(t, spec, onesPlus(spec.ParameterCount()), 1, 5, 0.25)

			_, err := Estimate(spec, ds, inverted)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrBoundInversion))
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func onesPlus(k int) []float64 {
	p := make([]float64, k)
	for i := range p {
		p[i] = 1 + 0.1*float64(i)
	}
	return p
}

func TestMerge(t *testing.T) {
	base := fit.Guess{
		Initial: []float64{4, 2, 0.7},
		Bounds:  []fit.Bound{fit.Unbounded(), fit.Unbounded(), fit.AtLeast(0)},
		Source:  fit.SourceHeuristic,
	}

	t.Run("initial replaces heuristic", func(t *testing.T) {
		g, err := Merge(base, fit.Overrides{1: {Initial: fit.Float(2.5)}})
		require.NoError(t, err)
		assert.Equal(t, []float64{4, 2.5, 0.7}, g.Initial)
	})

	t.Run("partial bound keeps other side", func(t *testing.T) {
		g, err := Merge(base, fit.Overrides{2: {Upper: fit.Float(5)}})
		require.NoError(t, err)
		assert.Equal(t, fit.Bound{Lower: 0, Upper: 5}, g.Bounds[2])
	})

	t.Run("heuristic initial is clipped", func(t *testing.T) {
		g, err := Merge(base, fit.Overrides{0: {Upper: fit.Float(3)}})
		require.NoError(t, err)
		assert.Equal(t, 3.0, g.Initial[0])
	})

	t.Run("base is not modified", func(t *testing.T) {
		_, err := Merge(base, fit.Overrides{0: {Initial: fit.Float(-1), Lower: fit.Float(-2)}})
		require.NoError(t, err)
		assert.Equal(t, 4.0, base.Initial[0])
		assert.True(t, math.IsInf(base.Bounds[0].Lower, -1))
	})

	errs := []struct {
		name      string
		overrides fit.Overrides
		sentinel  error
		reason    string
		param     int
	}{
		{"override inversion", fit.Overrides{1: {Lower: fit.Float(3), Upper: fit.Float(1)}}, errors.ErrBoundInversion, errors.ReasonBoundInversion, 1},
		{"merged inversion", fit.Overrides{2: {Upper: fit.Float(-1)}}, errors.ErrBoundInversion, errors.ReasonBoundInversion, 2},
		{"initial outside", fit.Overrides{0: {Initial: fit.Float(10), Upper: fit.Float(5)}}, errors.ErrInitialOutOfBound, errors.ReasonInitialOutOfBounds, 0},
		{"initial below heuristic bound", fit.Overrides{2: {Initial: fit.Float(-0.5)}}, errors.ErrInitialOutOfBound, errors.ReasonInitialOutOfBounds, 2},
		{"unknown parameter", fit.Overrides{3: {Initial: fit.Float(1)}}, errors.ErrEstimator, errors.ReasonUnknownParameter, 3},
		{"nan initial", fit.Overrides{0: {Initial: fit.Float(math.NaN())}}, errors.ErrEstimator, errors.ReasonNonFinite, 0},
		{"upper at -inf", fit.Overrides{0: {Upper: fit.Float(math.Inf(-1))}}, errors.ErrEstimator, errors.ReasonNonFinite, 0},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(base, tt.overrides)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, tt.sentinel))

			var ae *errors.AppError
			require.True(t, stderrors.As(err, &ae))
			assert.Equal(t, tt.reason, ae.Reason)
			assert.Equal(t, tt.param, ae.Param)
		})
	}
}

func TestMerge_InfiniteBoundSidesAllowed(t *testing.T) {
	g, err := Merge(Default(1), fit.Overrides{0: {Lower: fit.Float(math.Inf(-1)), Upper: fit.Float(3)}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, g.Initial[0])
	assert.Equal(t, 3.0, g.Bounds[0].Upper)
}
