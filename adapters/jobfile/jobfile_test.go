package jobfile

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
	"curvefit/internal/registry"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) LookupBuiltinModel(family, variant string) (*fit.ModelSpec, error) {
	args := m.Called(family, variant)
	spec, _ := args.Get(0).(*fit.ModelSpec)
	return spec, args.Error(1)
}

func (m *mockSource) ParseCustomFormula(text string, variables []string, parameterCount int) (*fit.ModelSpec, error) {
	args := m.Called(text, variables, parameterCount)
	spec, _ := args.Get(0).(*fit.ModelSpec)
	return spec, args.Error(1)
}

const totalJob = `
mode: Total
model: special/exponential
shared: [false, true]
overrides:
  1: {initial: -0.4, upper: 0}
weighting:
  absolute_sigma: true
datasets:
  - path: a.csv
    columns: {x: [t], y: counts, sigma: err}
  - name: inline
    x: [[0, 1, 2, 3]]
    y: [5, 3.1, 1.8, 1.1]
`

func TestParse_TotalJob(t *testing.T) {
	job, err := Parse([]byte(totalJob))
	require.NoError(t, err)

	assert.Equal(t, ModeTotal, job.Mode)
	assert.Equal(t, []bool{false, true}, job.Shared)
	require.Contains(t, job.Overrides, 1)
	assert.Equal(t, -0.4, *job.Overrides[1].Initial)
	assert.Equal(t, 0.0, *job.Overrides[1].Upper)
	assert.Nil(t, job.Overrides[1].Lower)
	require.NotNil(t, job.Weighting.AbsoluteSigma)
	assert.True(t, *job.Weighting.AbsoluteSigma)
	require.Len(t, job.Datasets, 2)
	assert.Equal(t, []string{"t"}, job.Datasets[0].Columns.X)
	assert.Equal(t, "err", job.Datasets[0].Columns.Sigma)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown mode", "mode: grid\nmodel: a/b\ndatasets: [{y: [1]}]"},
		{"no datasets", "model: a/b"},
		{"single with two datasets", "model: a/b\ndatasets: [{y: [1]}, {y: [2]}]"},
		{"model and formula", "model: a/b\nformula: {expression: p0*x, variables: [x]}\ndatasets: [{y: [1]}]"},
		{"neither model nor formula", "mode: batch\ndatasets: [{y: [1]}]"},
		{"shared outside total", "model: a/b\nshared: [true]\ndatasets: [{y: [1]}]"},
		{"unknown metric", "mode: checker\nmetric: mse\ndatasets: [{y: [1]}]"},
		{"path and inline", "model: a/b\ndatasets: [{path: a.csv, y: [1]}]"},
		{"path and remote", "model: a/b\ndatasets: [{path: a.csv, remote: {url: 'http://h/x'}}]"},
		{"relative remote url", "model: a/b\ndatasets: [{remote: {url: /x}}]"},
		{"unknown key", "model: a/b\nmodels: []\ndatasets: [{y: [1]}]"},
		{"bad yaml", "model: [a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
		})
	}
}

func TestJob_ScoreMetric(t *testing.T) {
	job, err := Parse([]byte("mode: checker\ndatasets: [{y: [1]}]"))
	require.NoError(t, err)
	assert.Equal(t, fit.ScoreMetric(""), job.ScoreMetric())

	job, err = Parse([]byte("mode: checker\nmetric: AIC\ndatasets: [{y: [1]}]"))
	require.NoError(t, err)
	assert.Equal(t, fit.ScoreAIC, job.ScoreMetric())
}

func TestJob_ResolveModel(t *testing.T) {
	reg := registry.Default()
	linear, err := reg.LookupName("polynomial/linear")
	require.NoError(t, err)

	t.Run("builtin", func(t *testing.T) {
		src := new(mockSource)
		src.On("LookupBuiltinModel", "polynomial", "linear").Return(linear, nil)
		job := &Job{Model: "polynomial/linear"}
		spec, err := job.ResolveModel(src)
		require.NoError(t, err)
		assert.Same(t, linear, spec)
		src.AssertExpectations(t)
	})

	t.Run("formula", func(t *testing.T) {
		src := new(mockSource)
		src.On("ParseCustomFormula", "p0*x", []string{"x"}, 1).Return(linear, nil)
		job := &Job{Formula: &Formula{Expression: "p0*x", Variables: []string{"x"}, Parameters: 1}}
		_, err := job.ResolveModel(src)
		require.NoError(t, err)
		src.AssertExpectations(t)
	})

	t.Run("malformed name", func(t *testing.T) {
		src := new(mockSource)
		job := &Job{Model: "linear"}
		_, err := job.ResolveModel(src)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrUnknownModel)
		src.AssertNotCalled(t, "LookupBuiltinModel", mock.Anything, mock.Anything)
	})
}

func TestJob_ResolveCandidates(t *testing.T) {
	src := new(mockSource)
	job := &Job{}
	specs, err := job.ResolveCandidates(src)
	require.NoError(t, err)
	assert.Nil(t, specs)

	unknown := errors.Model(errors.ReasonUnknownModel, "no such model")
	src.On("LookupBuiltinModel", "polynomial", "linear").Return(&fit.ModelSpec{}, nil)
	src.On("LookupBuiltinModel", "nope", "x").Return(nil, unknown)
	job.Candidates = []string{"polynomial/linear", "nope/x"}
	_, err = job.ResolveCandidates(src)
	assert.ErrorIs(t, err, unknown)
}

func TestJob_LoadDatasets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("t,counts,err\n0,4,0.2\n1,2.5,0.2\n"), 0o644))

	job, err := Parse([]byte(totalJob))
	require.NoError(t, err)
	datasets, err := job.LoadDatasets(context.Background(), dir, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, datasets, 2)

	assert.Equal(t, "a", datasets[0].Name)
	assert.Equal(t, []float64{4, 2.5}, datasets[0].Y)
	assert.Equal(t, []float64{0.2, 0.2}, datasets[0].Sigma)
	assert.Equal(t, "inline", datasets[1].Name)
	assert.Equal(t, 4, datasets[1].Len())
	assert.Nil(t, datasets[1].Sigma)
}

func TestJob_LoadDatasets_MissingFile(t *testing.T) {
	job, err := Parse([]byte("model: a/b\ndatasets: [{path: missing.csv}]"))
	require.NoError(t, err)
	_, err = job.LoadDatasets(context.Background(), t.TempDir(), zerolog.Nop())
	assert.Error(t, err)
}

func TestJob_LoadDatasets_Remote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"t": 0, "v": 1}, {"t": 1, "v": 3}, {"t": 2, "v": 5}]}`)
	}))
	defer srv.Close()

	doc := fmt.Sprintf(`
model: polynomial/linear
datasets:
  - name: station
    remote: {url: %q, data_path: data}
    columns: {x: [t], y: v}
`, srv.URL)
	job, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.False(t, job.Inline())

	datasets, err := job.LoadDatasets(context.Background(), "", zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "station", datasets[0].Name)
	assert.Equal(t, []float64{1, 3, 5}, datasets[0].Y)
}
