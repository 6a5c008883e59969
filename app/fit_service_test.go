package app

import (
	"bytes"
	"context"
	stderrors "errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"curvefit/domain/fit"
	"curvefit/internal/config"
	"curvefit/internal/errors"
	"curvefit/internal/metrics"
	"curvefit/internal/registry"
	"curvefit/internal/solver"
	"curvefit/ports"
)

func newService(t *testing.T) *FitService {
	t.Helper()
	cfg := config.DefaultEngineConfig()
	cfg.Workers = 4
	return NewFitService(registry.Default(), cfg, zerolog.Nop(), nil)
}

func grid(from, to, step float64) []float64 {
	var xs []float64
	for x := from; x <= to+1e-9; x += step {
		xs = append(xs, x)
	}
	return xs
}

// sample evaluates spec on xs (second column x + sin(3x) for arity 2).
func sample(t *testing.T, name string, spec *fit.ModelSpec, p, xs []float64) *fit.Dataset {
	t.Helper()
	cols := make([][]float64, spec.Arity())
	for v := range cols {
		cols[v] = make([]float64, len(xs))
		for i, x := range xs {
			cols[v][i] = x + float64(v)*math.Sin(3*x)
		}
	}
	ds, err := fit.NewDataset(name, cols, spec.Evaluate(cols, p, nil), nil)
	require.NoError(t, err)
	return ds
}

type mockOptimizer struct {
	mock.Mock
}

func (m *mockOptimizer) Minimize(ctx context.Context, p solver.Problem) (*solver.Result, error) {
	args := m.Called(ctx, p)
	res, _ := args.Get(0).(*solver.Result)
	return res, args.Error(1)
}

func (m *mockOptimizer) Name() string { return "mock" }

// TestSingle_RoundTripEveryBuiltin generates exact data from each built-in
// model and fits it back.
func TestSingle_RoundTripEveryBuiltin(t *testing.T) {
	tests := []struct {
		name   string
		params []float64
		xs     []float64
	}{
		{"polynomial/linear", []float64{1, 2}, grid(0, 5, 0.25)},
		{"polynomial/quadratic", []float64{1, -2, 0.5}, grid(-3, 3, 0.25)},
		{"polynomial/cubic", []float64{1, -2, 0.5, 0.1}, grid(-3, 3, 0.25)},
		{"polynomial/quartic", []float64{1, 0.5, -0.3, 0.1, 0.02}, grid(-2, 2, 0.1)},
		{"polynomial/quintic", []float64{1, 0.5, -0.3, 0.1, 0.02, -0.003}, grid(-2, 2, 0.1)},
		{"polynomial/plane", []float64{0.5, 2, -1}, grid(0, 5, 0.25)},
		{"trigonometric/sine", []float64{2, 1.5, 0.3, 1}, grid(0, 20, 0.05)},
		{"trigonometric/cosine", []float64{2, 1.5, 0.3, 1}, grid(0, 20, 0.05)},
		{"inverse/reciprocal", []float64{3, 1}, grid(0.5, 5, 0.25)},
		{"inverse/inverse_square", []float64{-2, 4}, grid(0.5, 5, 0.25)},
		{"inverse/rational", []float64{2, 1, 1.5}, grid(0, 10, 0.25)},
		{"special/exponential", []float64{1.5, 0.3}, grid(0, 5, 0.25)},
		{"special/exponential_offset", []float64{3, -0.5, 2}, grid(0, 10, 0.1)},
		{"special/logarithmic", []float64{2, 0.5}, grid(0.5, 10, 0.5)},
		{"special/power_law", []float64{2.5, 1.7}, grid(0.5, 10, 0.5)},
		{"special/gaussian", []float64{4, 2, 0.7}, grid(-2, 6, 0.05)},
		{"special/logistic", []float64{5, 1.2, 4}, grid(0, 10, 0.1)},
	}
	svc := newService(t)
	require.Len(t, tests, svc.Registry().Len(), "every built-in is covered")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := svc.Registry().LookupName(tt.name)
			require.NoError(t, err)
			ds := sample(t, tt.name, spec, tt.params, tt.xs)

			res, err := svc.Single(context.Background(), SingleRequest{Model: spec, Dataset: ds})
			require.NoError(t, err)
			assert.Equal(t, fit.StateScored, res.State)
			require.True(t, res.Converged(), "status %s", res.Outcome.Status)

			pred := spec.Evaluate(ds.X, res.Outcome.Parameters, nil)
			for i, y := range ds.Y {
				assert.InDelta(t, y, pred[i], 1e-6*(1+math.Abs(y)), "observation %d", i)
			}
			require.NotNil(t, res.Report.R2)
			assert.InDelta(t, 1.0, *res.Report.R2, 1e-9)
		})
	}
}

func TestSingle_UnderdeterminedIsRejectedBeforeOptimizer(t *testing.T) {
	opt := new(mockOptimizer)
	svc := newService(t).WithOptimizer(opt)
	spec, err := svc.LookupBuiltinModel("polynomial", "quadratic")
	require.NoError(t, err)
	ds, err := fit.NewDataset("two", [][]float64{{1, 2}}, []float64{1, 4}, nil)
	require.NoError(t, err)

	res, err := svc.Single(context.Background(), SingleRequest{Model: spec, Dataset: ds})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrUnderdetermined))
	assert.Equal(t, fit.StateRejected, res.State)
	assert.Nil(t, res.Outcome)
	opt.AssertNotCalled(t, "Minimize", mock.Anything, mock.Anything)
}

func TestSingle_UnderdeterminedEveryBuiltin(t *testing.T) {
	svc := newService(t)
	for _, spec := range svc.Registry().Models() {
		t.Run(spec.Name(), func(t *testing.T) {
			k := spec.ParameterCount()
			cols := make([][]float64, spec.Arity())
			for v := range cols {
				cols[v] = make([]float64, k-1)
				for i := range cols[v] {
					cols[v][i] = float64(i + 1)
				}
			}
			ds, err := fit.NewDataset("short", cols, make([]float64, k-1), nil)
			require.NoError(t, err)

			res, err := svc.Single(context.Background(), SingleRequest{Model: spec, Dataset: ds})
			assert.True(t, stderrors.Is(err, errors.ErrUnderdetermined))
			assert.Equal(t, fit.StateRejected, res.State)
		})
	}
}

func TestSingle_CustomFormula(t *testing.T) {
	svc := newService(t)
	spec, err := svc.ParseCustomFormula("p0*exp(p1*x)", []string{"x"}, 0)
	require.NoError(t, err)
	truth, err := svc.LookupBuiltinModel("special", "exponential")
	require.NoError(t, err)
	ds := sample(t, "growth", truth, []float64{1.5, 0.8}, grid(0, 3, 0.1))

	res, err := svc.Single(context.Background(), SingleRequest{Model: spec, Dataset: ds})
	require.NoError(t, err)
	require.True(t, res.Converged())
	assert.Equal(t, fit.SourceDefault, res.Guess.Source)
	assert.Contains(t, res.Outcome.Warnings, fit.WarnDefaultInitialGuess)
	assert.InDelta(t, 1.5, res.Outcome.Parameters[0], 1e-6)
	assert.InDelta(t, 0.8, res.Outcome.Parameters[1], 1e-6)
}

func TestSingle_OverrideValidationRejects(t *testing.T) {
	svc := newService(t)
	spec, err := svc.LookupBuiltinModel("special", "gaussian")
	require.NoError(t, err)
	ds := sample(t, "peak", spec, []float64{4, 2, 0.7}, grid(-2, 6, 0.1))

	res, err := svc.Single(context.Background(), SingleRequest{
		Model:     spec,
		Dataset:   ds,
		Overrides: fit.Overrides{1: {Lower: fit.Float(3), Upper: fit.Float(1)}},
	})
	assert.True(t, stderrors.Is(err, errors.ErrBoundInversion))
	assert.Equal(t, fit.StateRejected, res.State)
	assert.Nil(t, res.Guess)
}

func TestSingle_BindingBoundConverges(t *testing.T) {
	svc := newService(t)
	spec, err := svc.LookupBuiltinModel("polynomial", "linear")
	require.NoError(t, err)
	ds := sample(t, "line", spec, []float64{1, 2}, grid(0, 5, 0.25))

	res, err := svc.Single(context.Background(), SingleRequest{
		Model:     spec,
		Dataset:   ds,
		Overrides: fit.Overrides{1: {Upper: fit.Float(1.5)}},
	})
	require.NoError(t, err)
	assert.Equal(t, fit.StateScored, res.State)
	require.True(t, res.Converged(), "status %s", res.Outcome.Status)
	assert.Equal(t, 1.5, res.Outcome.Parameters[1])
	assert.InDelta(t, 2.25, res.Outcome.Parameters[0], 1e-8)
	assert.NotNil(t, res.Outcome.Covariance)
}

func TestBatch_KeepsOrderAndPerEntryErrors(t *testing.T) {
	svc := newService(t)
	spec, err := svc.LookupBuiltinModel("polynomial", "linear")
	require.NoError(t, err)
	short, err := fit.NewDataset("short", [][]float64{{1}}, []float64{2}, nil)
	require.NoError(t, err)
	datasets := []*fit.Dataset{
		sample(t, "a", spec, []float64{1, 2}, grid(0, 5, 0.5)),
		short,
		sample(t, "c", spec, []float64{-1, 0.5}, grid(0, 5, 0.5)),
	}

	batch, err := svc.Batch(context.Background(), BatchRequest{Model: spec, Datasets: datasets})
	require.NoError(t, err)
	require.Len(t, batch.Entries, 3)
	for i, e := range batch.Entries {
		assert.Equal(t, datasets[i].Name, e.Dataset)
		assert.Equal(t, batch.RunID, e.RunID)
	}
	assert.Equal(t, fit.StateScored, batch.Entries[0].State)
	assert.Equal(t, fit.StateRejected, batch.Entries[1].State)
	assert.True(t, stderrors.Is(batch.Entries[1].Err, errors.ErrUnderdetermined))
	assert.InDelta(t, 0.5, batch.Entries[2].Outcome.Parameters[1], 1e-8)
}

// TestChecker_NeverDropsCandidates fits every arity-1 built-in to an
// exponential decay sampled from x = 0, where several models have a pole.
func TestChecker_NeverDropsCandidates(t *testing.T) {
	svc := newService(t)
	truth, err := svc.LookupBuiltinModel("special", "exponential")
	require.NoError(t, err)
	ds := sample(t, "decay", truth, []float64{2, -0.5}, grid(0, 5, 0.25))

	res, err := svc.RunCheckerMode(context.Background(), ds, nil, fit.ScoreAuto)
	require.NoError(t, err)
	assert.Equal(t, fit.ScoreRMSE, res.Metric)

	compatible := svc.Registry().Compatible(1)
	require.Len(t, res.Ranked, len(compatible))
	seen := map[string]bool{}
	for i, r := range res.Ranked {
		assert.Equal(t, i+1, r.Rank)
		seen[r.Result.Model.Name()] = true
	}
	assert.Len(t, seen, len(compatible))

	tier := func(r fit.RankedResult) int {
		switch {
		case r.Result.State == fit.StateRejected:
			return 3
		case !r.Result.Converged():
			return 2
		case r.Score == nil:
			return 1
		}
		return 0
	}
	for i := 1; i < len(res.Ranked); i++ {
		prev, cur := res.Ranked[i-1], res.Ranked[i]
		assert.LessOrEqual(t, tier(prev), tier(cur), "rank %d", cur.Rank)
		if tier(prev) == 0 && tier(cur) == 0 {
			assert.LessOrEqual(t, *prev.Score, *cur.Score)
		}
	}

	best := res.Ranked[0]
	assert.Contains(t, []string{"special/exponential", "special/exponential_offset"}, best.Result.Model.Name())
	require.NotNil(t, best.Score)
	assert.Less(t, *best.Score, 1e-6)

	last := res.Ranked[len(res.Ranked)-1]
	assert.Equal(t, fit.StateRejected, last.Result.State, "logarithmic is undefined at x = 0")
}

func TestRank_TiersAndStableTies(t *testing.T) {
	spec, err := registry.Default().Lookup("polynomial", "linear")
	require.NoError(t, err)
	scored := func(name string, rmse float64, converged bool) fit.Result {
		state := fit.StateScored
		if !converged {
			state = fit.StateScoredPartial
		}
		return fit.Result{
			Model:   spec,
			Dataset: name,
			State:   state,
			Outcome: &fit.Outcome{Converged: converged},
			Report:  &fit.Report{RMSE: rmse},
		}
	}
	results := []fit.Result{
		{Model: spec, Dataset: "rejected", State: fit.StateRejected},
		scored("partial", 0.01, false),
		scored("b", 0.5, true),
		scored("undefined", math.NaN(), true),
		scored("a", 0.1, true),
		scored("b-tie", 0.5, true),
	}

	ranked := Rank(results, fit.ScoreRMSE)
	var order []string
	for _, r := range ranked {
		order = append(order, r.Result.Dataset)
	}
	assert.Equal(t, []string{"a", "b", "b-tie", "undefined", "partial", "rejected"}, order)
	assert.Nil(t, ranked[3].Score)
	assert.Equal(t, 0.1, *ranked[0].Score)
}

// TestTotal_SharedDecay fits two decays with a common rate and private
// amplitudes.
func TestTotal_SharedDecay(t *testing.T) {
	svc := newService(t)
	spec, err := svc.LookupBuiltinModel("special", "exponential")
	require.NoError(t, err)
	xs := grid(0, 5, 0.25)
	a := sample(t, "a", spec, []float64{2, -0.5}, xs)
	b := sample(t, "b", spec, []float64{5, -0.5}, xs[:12])

	res, err := svc.RunTotalFit(context.Background(), []*fit.Dataset{a, b}, spec, []bool{false, true}, nil)
	require.NoError(t, err)
	assert.Equal(t, fit.StateScored, res.State)
	require.True(t, res.Outcome.Converged, "status %s", res.Outcome.Status)

	// joint vector: shared rate, then the amplitude of a, then of b
	require.Len(t, res.Outcome.Parameters, 3)
	assert.InDelta(t, -0.5, res.Outcome.Parameters[0], 1e-6)
	assert.Equal(t, a.Len()+b.Len(), res.Report.N)
	assert.Equal(t, 3, res.Report.K)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, "a", res.Entries[0].Dataset)
	assert.InDelta(t, 2.0, res.Entries[0].Parameters[0], 1e-6)
	assert.InDelta(t, 5.0, res.Entries[1].Parameters[0], 1e-6)
	assert.Equal(t, res.Entries[0].Parameters[1], res.Entries[1].Parameters[1])
	assert.Equal(t, b.Len(), res.Entries[1].Report.N)
	assert.Equal(t, []string{"p0", "p1"}, []string{res.Entries[1].Report.Parameters[0].Name, res.Entries[1].Report.Parameters[1].Name})
}

func TestTotal_AllSharedByDefault(t *testing.T) {
	svc := newService(t)
	spec, err := svc.LookupBuiltinModel("polynomial", "linear")
	require.NoError(t, err)
	a := sample(t, "a", spec, []float64{1, 2}, grid(0, 4, 0.5))
	b := sample(t, "b", spec, []float64{1, 2}, grid(5, 9, 0.5))

	res, err := svc.RunTotalFit(context.Background(), []*fit.Dataset{a, b}, spec, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, res.Shared)
	require.Len(t, res.Outcome.Parameters, 2)
	assert.InDelta(t, 1.0, res.Outcome.Parameters[0], 1e-8)
	assert.InDelta(t, 2.0, res.Outcome.Parameters[1], 1e-8)
}

func TestTotal_Validation(t *testing.T) {
	svc := newService(t)
	line, err := svc.LookupBuiltinModel("polynomial", "linear")
	require.NoError(t, err)
	plane, err := svc.LookupBuiltinModel("polynomial", "plane")
	require.NoError(t, err)
	ds := sample(t, "a", line, []float64{1, 2}, grid(0, 4, 0.5))
	tiny, err := fit.NewDataset("tiny", [][]float64{{1}}, []float64{1}, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      TotalRequest
		sentinel error
	}{
		{"mask length", TotalRequest{Model: line, Datasets: []*fit.Dataset{ds}, Shared: []bool{true}}, &errors.AppError{Code: errors.CodeModel, Reason: errors.ReasonInvalidShareMask}},
		{"arity", TotalRequest{Model: plane, Datasets: []*fit.Dataset{ds}}, errors.ErrArityMismatch},
		{"underdetermined", TotalRequest{Model: line, Datasets: []*fit.Dataset{tiny, tiny}, Shared: []bool{false, false}}, errors.ErrUnderdetermined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Total(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, tt.sentinel), "got %v", err)
			assert.Equal(t, fit.StateRejected, res.State)
		})
	}
}

func TestSingle_LogsInitialGuess(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.DefaultEngineConfig()
	svc := NewFitService(registry.Default(), cfg, zerolog.New(&buf).Level(zerolog.DebugLevel), nil)
	spec, err := svc.LookupBuiltinModel("polynomial", "linear")
	require.NoError(t, err)

	_, err = svc.Single(context.Background(), SingleRequest{Model: spec, Dataset: sample(t, "a", spec, []float64{1, 2}, grid(0, 4, 0.5))})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"message":"initial guess"`)
	assert.Contains(t, buf.String(), "p0=1 in [-Inf, +Inf] p1=2")
}

func TestFitService_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheusMetrics(reg)
	require.NoError(t, err)
	cfg := config.DefaultEngineConfig()
	svc := NewFitService(nil, cfg, zerolog.Nop(), m)

	spec, err := svc.LookupBuiltinModel("polynomial", "linear")
	require.NoError(t, err)
	_, err = svc.Single(context.Background(), SingleRequest{Model: spec, Dataset: sample(t, "a", spec, []float64{1, 2}, grid(0, 4, 0.5))})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fits.WithLabelValues(ModeSingle, string(fit.StateScored))))
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveResult(ctx context.Context, mode string, res *fit.Result) error {
	return m.Called(ctx, mode, res).Error(0)
}

func (m *mockStore) SaveTotal(ctx context.Context, res *fit.TotalResult) error {
	return m.Called(ctx, res).Error(0)
}

func (m *mockStore) ListRun(ctx context.Context, runID string) ([]ports.RunRecord, error) {
	args := m.Called(ctx, runID)
	recs, _ := args.Get(0).([]ports.RunRecord)
	return recs, args.Error(1)
}

func (m *mockStore) RecentRuns(ctx context.Context, limit int) ([]ports.RunRecord, error) {
	args := m.Called(ctx, limit)
	recs, _ := args.Get(0).([]ports.RunRecord)
	return recs, args.Error(1)
}

func TestFitService_WithStore(t *testing.T) {
	store := &mockStore{}
	base := newService(t)
	svc := base.WithStore(store)
	assert.Nil(t, base.store)

	spec, err := svc.LookupBuiltinModel("polynomial", "linear")
	require.NoError(t, err)
	a := sample(t, "a", spec, []float64{1, 2}, grid(0, 4, 0.5))
	b := sample(t, "b", spec, []float64{1, 2}, grid(5, 9, 0.5))

	store.On("SaveResult", mock.Anything, ModeSingle, mock.MatchedBy(func(r *fit.Result) bool {
		return r.Dataset == "a" && r.State == fit.StateScored
	})).Return(nil).Once()
	_, err = svc.Single(context.Background(), SingleRequest{Model: spec, Dataset: a})
	require.NoError(t, err)

	store.On("SaveResult", mock.Anything, ModeSingle, mock.MatchedBy(func(r *fit.Result) bool {
		return r.Dataset == "b"
	})).Return(stderrors.New("connection refused")).Once()
	_, err = svc.Single(context.Background(), SingleRequest{Model: spec, Dataset: b})
	require.NoError(t, err, "storage failures never fail the fit")

	store.On("SaveTotal", mock.Anything, mock.MatchedBy(func(r *fit.TotalResult) bool {
		return len(r.Entries) == 2 && r.State != fit.StateRejected
	})).Return(nil).Once()
	_, err = svc.Total(context.Background(), TotalRequest{Model: spec, Datasets: []*fit.Dataset{a, b}})
	require.NoError(t, err)

	store.AssertExpectations(t)
}
