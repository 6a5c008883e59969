package executor

import (
	"context"
	stderrors "errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
	"curvefit/internal/estimate"
	"curvefit/internal/formula"
	"curvefit/internal/registry"
	"curvefit/internal/solver"
)

type mockOptimizer struct {
	mock.Mock
}

func (m *mockOptimizer) Minimize(ctx context.Context, p solver.Problem) (*solver.Result, error) {
	args := m.Called(ctx, p)
	res, _ := args.Get(0).(*solver.Result)
	return res, args.Error(1)
}

func (m *mockOptimizer) Name() string { return "mock" }

func model(t *testing.T, family, variant string) *fit.ModelSpec {
	t.Helper()
	spec, err := registry.Default().Lookup(family, variant)
	require.NoError(t, err)
	return spec
}

func dataset(t *testing.T, x, y, sigma []float64) *fit.Dataset {
	t.Helper()
	ds, err := fit.NewDataset("test", [][]float64{x}, y, sigma)
	require.NoError(t, err)
	return ds
}

// TestFit_LinearExample fits y = 1 + 2x with small deterministic noise and
// checks the covariance against the closed-form OLS result.
func TestFit_LinearExample(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	noise := []float64{0.1, -0.1, 0.05, -0.05, 0}
	y := make([]float64, len(x))
	for i := range x {
		y[i] = 1 + 2*x[i] + noise[i]
	}
	spec := model(t, "polynomial", "linear")
	ds := dataset(t, x, y, nil)

	out, err := Fit(context.Background(), spec, ds, estimate.Default(2), Options{})
	require.NoError(t, err)
	require.True(t, out.Converged, "status %s", out.Status)
	assert.Equal(t, solver.MethodLM, out.Method)
	assert.False(t, out.Weighted)

	// closed-form OLS
	n := float64(len(x))
	var sx, sxx, sy, sxy float64
	for i := range x {
		sx += x[i]
		sxx += x[i] * x[i]
		sy += y[i]
		sxy += x[i] * y[i]
	}
	det := n*sxx - sx*sx
	slope := (n*sxy - sx*sy) / det
	intercept := (sy - slope*sx) / n
	assert.InDelta(t, intercept, out.Parameters[0], 1e-8)
	assert.InDelta(t, slope, out.Parameters[1], 1e-8)

	var ssr float64
	for i := range x {
		d := y[i] - intercept - slope*x[i]
		ssr += d * d
	}
	assert.InDelta(t, ssr, out.WeightedSSR, 1e-10)

	s2 := ssr / (n - 2)
	require.True(t, out.HasCovariance())
	assert.InDelta(t, s2*sxx/det, out.Covariance[0][0], 1e-8)
	assert.InDelta(t, -s2*sx/det, out.Covariance[0][1], 1e-8)
	assert.InDelta(t, s2*n/det, out.Covariance[1][1], 1e-8)
	assert.Equal(t, out.Covariance[0][1], out.Covariance[1][0])
}

// TestFit_UnderdeterminedNeverCallsOptimizer covers 2 observations against a
// 3-parameter model.
func TestFit_UnderdeterminedNeverCallsOptimizer(t *testing.T) {
	opt := new(mockOptimizer)
	spec := model(t, "polynomial", "quadratic")
	ds := dataset(t, []float64{1, 2}, []float64{3, 5}, nil)

	_, err := Fit(context.Background(), spec, ds, estimate.Default(3), Options{Optimizer: opt})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrUnderdetermined))
	assert.True(t, errors.IsValidation(err))
	opt.AssertNotCalled(t, "Minimize", mock.Anything, mock.Anything)
}

func TestFit_ValidationBeforeOptimizer(t *testing.T) {
	plane := model(t, "polynomial", "plane")
	reciprocal := model(t, "inverse", "reciprocal")
	line := model(t, "polynomial", "linear")

	tests := []struct {
		name     string
		spec     *fit.ModelSpec
		ds       *fit.Dataset
		guess    fit.Guess
		sentinel error
	}{
		{
			name:     "arity mismatch",
			spec:     plane,
			ds:       dataset(t, []float64{1, 2, 3, 4}, []float64{1, 2, 3, 4}, nil),
			guess:    estimate.Default(3),
			sentinel: errors.ErrArityMismatch,
		},
		{
			name:     "pole at the initial guess",
			spec:     reciprocal,
			ds:       dataset(t, []float64{0, 1, 2}, []float64{1, 2, 3}, nil),
			guess:    estimate.Default(2),
			sentinel: errors.ErrNonFiniteResidual,
		},
		{
			name:     "guess length",
			spec:     line,
			ds:       dataset(t, []float64{0, 1, 2}, []float64{1, 2, 3}, nil),
			guess:    estimate.Default(3),
			sentinel: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := new(mockOptimizer)
			_, err := Fit(context.Background(), tt.spec, tt.ds, tt.guess, Options{Optimizer: opt})
			require.Error(t, err)
			if tt.sentinel != nil {
				assert.True(t, stderrors.Is(err, tt.sentinel), "got %v", err)
			}
			opt.AssertNumberOfCalls(t, "Minimize", 0)
		})
	}
}

func TestFit_UnconvergedHasNoCovariance(t *testing.T) {
	opt := new(mockOptimizer)
	opt.On("Minimize", mock.Anything, mock.Anything).Return(&solver.Result{
		Parameters: []float64{0.9, 2.1},
		Cost:       0.5,
		Status:     fit.StatusMaxIterations,
		Iterations: 200,
	}, nil).Once()

	ds := dataset(t, []float64{0, 1, 2, 3}, []float64{1, 3, 5, 7}, nil)
	out, err := Fit(context.Background(), model(t, "polynomial", "linear"), ds, estimate.Default(2), Options{Optimizer: opt})
	require.NoError(t, err)
	assert.False(t, out.Converged)
	assert.Equal(t, fit.StatusMaxIterations, out.Status)
	assert.Nil(t, out.Covariance)
	assert.Equal(t, []float64{0.9, 2.1}, out.Parameters)
	assert.Equal(t, "mock", out.Method)
	opt.AssertExpectations(t)
}

// TestFit_SingularNormalMatrix uses a parameter the model output does not
// depend on, so JᵀJ has a zero column.
func TestFit_SingularNormalMatrix(t *testing.T) {
	spec, err := formula.Parse("p0*x + 0*p1", []string{"x"}, formula.Options{})
	require.NoError(t, err)

	opt := new(mockOptimizer)
	opt.On("Minimize", mock.Anything, mock.Anything).Return(&solver.Result{
		Parameters: []float64{2, 1},
		Status:     fit.StatusConverged,
		Converged:  true,
	}, nil)

	ds := dataset(t, []float64{1, 2, 3}, []float64{2, 4, 6}, nil)
	out, err := Fit(context.Background(), spec, ds, estimate.Default(2), Options{Optimizer: opt})
	require.NoError(t, err)
	assert.False(t, out.Converged)
	assert.Equal(t, fit.StatusSingular, out.Status)
	assert.Nil(t, out.Covariance)
	assert.Equal(t, []float64{2, 1}, out.Parameters)
	assert.Contains(t, out.Warnings, fit.WarnDefaultInitialGuess)
}

func TestFit_OptimizerFailure(t *testing.T) {
	opt := new(mockOptimizer)
	opt.On("Minimize", mock.Anything, mock.Anything).Return(nil, stderrors.New("boom"))

	ds := dataset(t, []float64{0, 1, 2}, []float64{1, 3, 5}, nil)
	_, err := Fit(context.Background(), model(t, "polynomial", "linear"), ds, estimate.Default(2), Options{Optimizer: opt})
	require.Error(t, err)
	assert.True(t, errors.IsFitError(err))
	assert.Equal(t, errors.ReasonOptimizerFailure, errors.GetReason(err))
	assert.False(t, errors.IsValidation(err))
}

func TestFit_ZeroDegreesOfFreedom(t *testing.T) {
	ds := dataset(t, []float64{1, 2}, []float64{3, 5}, nil)
	out, err := Fit(context.Background(), model(t, "polynomial", "linear"), ds, estimate.Default(2), Options{})
	require.NoError(t, err)
	assert.True(t, out.Converged)
	assert.Nil(t, out.Covariance)
	assert.Contains(t, out.Warnings, fit.WarnZeroDegreesOfFreedom)
	assert.InDelta(t, 1.0, out.Parameters[0], 1e-8)
	assert.InDelta(t, 2.0, out.Parameters[1], 1e-8)
}

// TestFit_AbsoluteSigma checks that with absolute sigma the covariance is
// (XᵀWX)⁻¹ regardless of the residual size.
func TestFit_AbsoluteSigma(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	y := []float64{1.3, 2.7, 5.4, 6.6, 9.2}
	sigma := []float64{0.5, 0.5, 0.5, 0.5, 0.5}
	ds := dataset(t, x, y, sigma)

	out, err := Fit(context.Background(), model(t, "polynomial", "linear"), ds, estimate.Default(2), Options{AbsoluteSigma: true})
	require.NoError(t, err)
	require.True(t, out.Converged)
	assert.True(t, out.Weighted)

	n, sx, sxx := 5.0, 10.0, 30.0
	det := n*sxx - sx*sx
	s2 := 0.25
	assert.InDelta(t, s2*sxx/det, out.Covariance[0][0], 1e-8)
	assert.InDelta(t, s2*n/det, out.Covariance[1][1], 1e-8)
}

func TestWeights(t *testing.T) {
	x := []float64{0, 1, 2}
	y := []float64{1, 2, 3}

	t.Run("none", func(t *testing.T) {
		w, warn := Weights(dataset(t, x, y, nil), false)
		assert.Nil(t, w)
		assert.Empty(t, warn)
	})
	t.Run("full", func(t *testing.T) {
		w, warn := Weights(dataset(t, x, y, []float64{0.5, 2, 1}), false)
		assert.Equal(t, []float64{2, 0.5, 1}, w)
		assert.Empty(t, warn)
	})
	t.Run("partial", func(t *testing.T) {
		w, warn := Weights(dataset(t, x, y, []float64{0.5, math.NaN(), 0}), false)
		assert.Equal(t, []float64{2, 1, 1}, w)
		assert.Equal(t, []string{fit.WarnPartialUncertainties}, warn)
	})
	t.Run("all invalid", func(t *testing.T) {
		w, warn := Weights(dataset(t, x, y, []float64{0, -1, math.NaN()}), false)
		assert.Nil(t, w)
		assert.Equal(t, []string{fit.WarnIgnoredUncertainties}, warn)
	})
	t.Run("ignored", func(t *testing.T) {
		w, warn := Weights(dataset(t, x, y, []float64{0.5, 2, 1}), true)
		assert.Nil(t, w)
		assert.Empty(t, warn)
	})
}

func TestFit_PartialUncertaintiesProceed(t *testing.T) {
	x := []float64{0, 1, 2, 3}
	y := []float64{1, 3, 5, 7}
	ds := dataset(t, x, y, []float64{0.1, math.NaN(), 0.1, 0.1})

	out, err := Fit(context.Background(), model(t, "polynomial", "linear"), ds, estimate.Default(2), Options{})
	require.NoError(t, err)
	assert.True(t, out.Weighted)
	assert.Contains(t, out.Warnings, fit.WarnPartialUncertainties)
	assert.InDelta(t, 2.0, out.Parameters[1], 1e-8)
}
