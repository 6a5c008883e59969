package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"curvefit/domain/core"
	"curvefit/domain/fit"
	"curvefit/internal/errors"
	"curvefit/internal/estimate"
	"curvefit/internal/fitstats"
)

// TotalRequest fits one model jointly across datasets. Shared[j] marks
// parameter j as common to all datasets; nil shares every parameter.
type TotalRequest struct {
	Model     *fit.ModelSpec
	Datasets  []*fit.Dataset
	Shared    []bool
	Overrides fit.Overrides
	Weighting Weighting
}

// jointLayout maps (dataset, base parameter) to a slot of the joint vector:
// shared slots first, then each dataset's private slots in turn.
type jointLayout struct {
	k       int
	shared  []bool
	nShared int
	nPriv   int
	// slot[j] is the shared slot or the private offset of parameter j.
	slot []int
}

func newJointLayout(shared []bool) jointLayout {
	l := jointLayout{k: len(shared), shared: shared, slot: make([]int, len(shared))}
	for j, s := range shared {
		if s {
			l.slot[j] = l.nShared
			l.nShared++
		} else {
			l.slot[j] = l.nPriv
			l.nPriv++
		}
	}
	return l
}

func (l jointLayout) size(datasets int) int { return l.nShared + datasets*l.nPriv }

func (l jointLayout) index(d, j int) int {
	if l.shared[j] {
		return l.slot[j]
	}
	return l.nShared + d*l.nPriv + l.slot[j]
}

// params extracts dataset d's base parameter vector from the joint vector.
func (l jointLayout) params(dst, joint []float64, d int) []float64 {
	for j := 0; j < l.k; j++ {
		dst[j] = joint[l.index(d, j)]
	}
	return dst
}

// Total runs one joint optimisation. The dataset index travels as an extra,
// last independent column of the concatenated dataset.
func (s *FitService) Total(ctx context.Context, req TotalRequest) (*fit.TotalResult, error) {
	start := time.Now()
	runID := core.NewRunID()
	result := &fit.TotalResult{RunID: runID.String(), Model: req.Model, State: fit.StateValidated}

	state := fit.StateRejected
	defer func() {
		iterations := 0
		if result.Outcome != nil {
			iterations = result.Outcome.Iterations
		}
		s.metrics.ObserveFit(ModeTotal, state, iterations, time.Since(start))
		if s.store != nil {
			if err := s.store.SaveTotal(ctx, result); err != nil {
				s.log.Error().Err(err).Str("run_id", result.RunID).Msg("failed to store total fit")
			}
		}
	}()
	reject := func(err error) (*fit.TotalResult, error) {
		result.State = fit.StateRejected
		s.log.Warn().Str("run_id", result.RunID).Str("mode", ModeTotal).Err(err).Msg("total fit rejected")
		return result, err
	}

	spec := req.Model
	if spec == nil || len(req.Datasets) == 0 {
		return reject(errors.InvalidInput("total fit needs a model and at least one dataset"))
	}
	k := spec.ParameterCount()
	shared := req.Shared
	if shared == nil {
		shared = make([]bool, k)
		for j := range shared {
			shared[j] = true
		}
	}
	if len(shared) != k {
		return reject(errors.Model(errors.ReasonInvalidShareMask,
			"share mask has %d entries, model %s has %d parameters", len(shared), spec.Name(), k))
	}
	result.Shared = append([]bool(nil), shared...)
	for _, ds := range req.Datasets {
		if ds == nil {
			return reject(errors.InvalidInput("total fit datasets must not be nil"))
		}
		if err := spec.CheckArity(ds); err != nil {
			return reject(err)
		}
	}

	layout := newJointLayout(shared)
	jointSpec, err := jointModel(spec, layout, len(req.Datasets))
	if err != nil {
		return reject(err)
	}
	jointDs, err := concatenate(req.Datasets)
	if err != nil {
		return reject(err)
	}
	if jointDs.Len() < jointSpec.ParameterCount() {
		return reject(errors.Fit(errors.ReasonUnderdetermined,
			"joint model has %d parameters but the datasets hold %d observations",
			jointSpec.ParameterCount(), jointDs.Len()))
	}

	guess, err := jointGuess(spec, req.Datasets, req.Overrides, layout)
	if err != nil {
		return reject(err)
	}
	result.State = fit.StateGuessComputed

	out, err := s.RunFit(ctx, jointSpec, jointDs, guess, req.Weighting)
	if err != nil {
		return reject(err)
	}
	result.Outcome = out
	result.State = fit.StateFitted

	global, err := fitstats.Summarize(jointSpec, jointDs, out, s.cfg.ConfidenceLevel)
	if err != nil {
		return reject(errors.Wrap(err, "summarize joint fit"))
	}
	result.Report = global

	names := spec.ParameterNames()
	result.Entries = make([]fit.TotalEntry, len(req.Datasets))
	for d, ds := range req.Datasets {
		p := layout.params(make([]float64, k), out.Parameters, d)
		cov := subBlock(out.Covariance, layout, d)
		pred := spec.Evaluate(ds.X, p, nil)
		resid := make([]float64, ds.Len())
		for i, y := range ds.Y {
			resid[i] = y - pred[i]
		}
		rep, err := fitstats.SummarizeSlice(names, ds, resid, p, cov, s.cfg.ConfidenceLevel, !out.Converged)
		if err != nil {
			return reject(errors.Wrapf(err, "summarize dataset %q", ds.Name))
		}
		result.Entries[d] = fit.TotalEntry{Dataset: ds.Name, Parameters: p, Covariance: cov, Report: rep}
	}

	result.State = fit.StateScored
	if !out.Converged {
		result.State = fit.StateScoredPartial
	}
	state = result.State
	s.log.Info().
		Str("run_id", result.RunID).
		Str("mode", ModeTotal).
		Str("model", spec.Name()).
		Int("datasets", len(req.Datasets)).
		Str("state", string(result.State)).
		Int("iterations", out.Iterations).
		Dur("duration", time.Since(start)).
		Msg("fit finished")
	return result, nil
}

// jointModel wraps spec so that it evaluates dataset d's parameter
// sub-vector, d being read from the trailing column.
func jointModel(spec *fit.ModelSpec, l jointLayout, datasets int) (*fit.ModelSpec, error) {
	base := spec.Func()
	arity := spec.Arity()
	k := spec.ParameterCount()
	fn := func(x, p []float64) float64 {
		d := int(x[arity])
		q := make([]float64, k)
		return base(x[:arity], l.params(q, p, d))
	}

	baseNames := spec.ParameterNames()
	names := make([]string, l.size(datasets))
	for d := 0; d < datasets; d++ {
		for j, name := range baseNames {
			if l.shared[j] {
				names[l.index(d, j)] = name
			} else {
				names[l.index(d, j)] = fmt.Sprintf("%s_%d", name, d)
			}
		}
	}
	return fit.NewModelSpec(fit.ModelSpecConfig{
		Name:           spec.Name() + " (total)",
		Family:         spec.Family(),
		Variant:        spec.Variant(),
		Kind:           spec.Kind(),
		ParameterNames: names,
		VariableNames:  append(spec.VariableNames(), "dataset"),
		Formula:        spec.Formula(),
		Func:           fn,
	})
}

// concatenate stacks the datasets and appends the dataset index column.
// Sigma is kept when any dataset carries it; the rest are filled with NaN.
func concatenate(datasets []*fit.Dataset) (*fit.Dataset, error) {
	arity := datasets[0].Arity()
	total, withSigma := 0, false
	for _, ds := range datasets {
		total += ds.Len()
		withSigma = withSigma || ds.Sigma != nil
	}

	x := make([][]float64, arity+1)
	for v := range x {
		x[v] = make([]float64, 0, total)
	}
	y := make([]float64, 0, total)
	var sigma []float64
	if withSigma {
		sigma = make([]float64, 0, total)
	}
	names := ""
	for d, ds := range datasets {
		for v := 0; v < arity; v++ {
			x[v] = append(x[v], ds.X[v]...)
		}
		for range ds.Y {
			x[arity] = append(x[arity], float64(d))
		}
		y = append(y, ds.Y...)
		if withSigma {
			if ds.Sigma != nil {
				sigma = append(sigma, ds.Sigma...)
			} else {
				for range ds.Y {
					sigma = append(sigma, math.NaN())
				}
			}
		}
		if d > 0 {
			names += "+"
		}
		names += ds.Name
	}
	return fit.NewDataset(names, x, y, sigma)
}

// jointGuess estimates every dataset separately, then averages shared
// parameters and intersects their bounds.
func jointGuess(spec *fit.ModelSpec, datasets []*fit.Dataset, overrides fit.Overrides, l jointLayout) (fit.Guess, error) {
	size := l.size(len(datasets))
	g := fit.Guess{
		Initial: make([]float64, size),
		Bounds:  make([]fit.Bound, size),
		Source:  fit.SourceHeuristic,
	}
	for i := range g.Bounds {
		g.Bounds[i] = fit.Unbounded()
	}
	for d, ds := range datasets {
		local, err := estimate.Estimate(spec, ds, overrides)
		if err != nil {
			return fit.Guess{}, errors.Wrapf(err, "dataset %q", ds.Name)
		}
		if local.Source == fit.SourceDefault {
			g.Source = fit.SourceDefault
		}
		for j := range local.Initial {
			slot := l.index(d, j)
			b := local.Bounds[j]
			if l.shared[j] {
				g.Initial[slot] += local.Initial[j] / float64(len(datasets))
				g.Bounds[slot].Lower = math.Max(g.Bounds[slot].Lower, b.Lower)
				g.Bounds[slot].Upper = math.Min(g.Bounds[slot].Upper, b.Upper)
			} else {
				g.Initial[slot] = local.Initial[j]
				g.Bounds[slot] = b
			}
		}
	}
	for i, b := range g.Bounds {
		if b.Lower > b.Upper {
			return fit.Guess{}, errors.Estimator(errors.ReasonBoundInversion, i,
				"shared parameter bounds do not overlap across datasets: %s", b)
		}
		g.Initial[i] = b.Clip(g.Initial[i])
	}
	return g, nil
}

// subBlock extracts dataset d's covariance from the joint covariance.
func subBlock(cov [][]float64, l jointLayout, d int) [][]float64 {
	if cov == nil {
		return nil
	}
	out := make([][]float64, l.k)
	for a := range out {
		out[a] = make([]float64, l.k)
		for b := range out[a] {
			out[a][b] = cov[l.index(d, a)][l.index(d, b)]
		}
	}
	return out
}
