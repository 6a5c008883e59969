package app

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"curvefit/domain/core"
	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// SingleRequest fits one model to one dataset.
type SingleRequest struct {
	Model     *fit.ModelSpec
	Dataset   *fit.Dataset
	Overrides fit.Overrides
	Weighting Weighting
}

// BatchRequest fits one model independently to each dataset.
type BatchRequest struct {
	Model     *fit.ModelSpec
	Datasets  []*fit.Dataset
	Overrides fit.Overrides
	Weighting Weighting
}

// CheckerRequest ranks candidate models on one dataset. Nil candidates
// means every registry model compatible with the dataset arity.
type CheckerRequest struct {
	Dataset    *fit.Dataset
	Candidates []*fit.ModelSpec
	Metric     fit.ScoreMetric
	Weighting  Weighting
}

// Single runs one pipeline. The result is always returned; err is the
// rejection cause when the request failed validation.
func (s *FitService) Single(ctx context.Context, req SingleRequest) (*fit.Result, error) {
	if req.Model == nil || req.Dataset == nil {
		return nil, errors.InvalidInput("single fit needs a model and a dataset")
	}
	res := s.pipeline(ctx, core.NewRunID(), ModeSingle, req.Model, req.Dataset, req.Overrides, req.Weighting)
	return &res, res.Err
}

// Batch fits the model to every dataset through the worker pool. Entries
// keep input order and carry their own errors.
func (s *FitService) Batch(ctx context.Context, req BatchRequest) (*fit.BatchResult, error) {
	if req.Model == nil {
		return nil, errors.InvalidInput("batch fit needs a model")
	}
	if len(req.Datasets) == 0 {
		return nil, errors.InvalidInput("batch fit needs at least one dataset")
	}
	runID := core.NewRunID()
	entries := make([]fit.Result, len(req.Datasets))
	s.fanOut(ctx, len(req.Datasets), func(ctx context.Context, i int) {
		entries[i] = s.pipeline(ctx, runID, ModeBatch, req.Model, req.Datasets[i], req.Overrides, req.Weighting)
	})
	return &fit.BatchResult{RunID: runID.String(), Model: req.Model, Entries: entries}, nil
}

// Checker fits every candidate and ranks them best first. No candidate is
// dropped: rejected and unconverged fits rank after converged ones.
func (s *FitService) Checker(ctx context.Context, req CheckerRequest) (*fit.CheckerResult, error) {
	if req.Dataset == nil {
		return nil, errors.InvalidInput("checker mode needs a dataset")
	}
	candidates := req.Candidates
	if candidates == nil {
		candidates = s.registry.Compatible(req.Dataset.Arity())
	}
	if len(candidates) == 0 {
		return nil, errors.Model(errors.ReasonUnknownModel,
			"no candidate models for dataset %q with %d variable(s)", req.Dataset.Name, req.Dataset.Arity())
	}
	metric := req.Metric
	if metric == "" {
		metric = s.cfg.ScoreMetric
	}
	metric = metric.Resolve(req.Dataset.UncertaintyCount() > 0 && !req.Weighting.IgnoreUncertainties)

	runID := core.NewRunID()
	results := make([]fit.Result, len(candidates))
	s.fanOut(ctx, len(candidates), func(ctx context.Context, i int) {
		results[i] = s.pipeline(ctx, runID, ModeChecker, candidates[i], req.Dataset, nil, req.Weighting)
	})

	s.log.Info().
		Str("run_id", runID.String()).
		Str("dataset", req.Dataset.Name).
		Str("metric", string(metric)).
		Int("candidates", len(candidates)).
		Msg("checker finished")
	return &fit.CheckerResult{
		RunID:   runID.String(),
		Dataset: req.Dataset.Name,
		Metric:  metric,
		Ranked:  Rank(results, metric),
	}, nil
}

// Rank orders checker results: converged with a defined score ascending,
// then converged without a score, then unconverged, then rejected. Ties
// keep input order.
func Rank(results []fit.Result, metric fit.ScoreMetric) []fit.RankedResult {
	type scored struct {
		tier  int
		score float64
		ok    bool
		res   fit.Result
	}
	items := make([]scored, len(results))
	for i, r := range results {
		it := scored{res: r}
		switch {
		case r.State == fit.StateRejected || r.Report == nil:
			it.tier = 3
		case !r.Converged():
			it.tier = 2
		default:
			it.score, it.ok = r.Report.Score(metric)
			if it.ok {
				it.tier = 0
			} else {
				it.tier = 1
			}
		}
		items[i] = it
	}
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].tier != items[b].tier {
			return items[a].tier < items[b].tier
		}
		if items[a].tier == 0 {
			return items[a].score < items[b].score
		}
		return false
	})

	ranked := make([]fit.RankedResult, len(items))
	for i, it := range items {
		ranked[i] = fit.RankedResult{Rank: i + 1, Result: it.res}
		if it.ok {
			v := it.score
			ranked[i].Score = &v
		}
	}
	return ranked
}

// fanOut runs n independent jobs on at most cfg.Workers goroutines. Jobs
// write their own slot, so results are re-associated by index.
func (s *FitService) fanOut(ctx context.Context, n int, job func(ctx context.Context, i int)) {
	g, ctx := errgroup.WithContext(ctx)
	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			job(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}
