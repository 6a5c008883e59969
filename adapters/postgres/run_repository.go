package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
	"curvefit/ports"
)

// RunRepositoryImpl implements ports.RunStore for PostgreSQL
type RunRepositoryImpl struct {
	db *sqlx.DB
}

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(db *sqlx.DB) ports.RunStore {
	return &RunRepositoryImpl{db: db}
}

const insertRun = `
	INSERT INTO fit_runs (run_id, mode, model, dataset, state, converged, iterations,
		r2, rmse, aic, reduced_chi_square, error, result, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

const selectRuns = `
	SELECT id, run_id, mode, model, dataset, state, converged, iterations,
		r2, rmse, aic, reduced_chi_square, error, result, created_at
	FROM fit_runs
`

// SaveResult stores one fit entry with its headline statistics.
func (r *RunRepositoryImpl) SaveResult(ctx context.Context, mode string, res *fit.Result) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "encode fit result")
	}
	iterations := 0
	if res.Outcome != nil {
		iterations = res.Outcome.Iterations
	}
	r2, rmse, aic, chi := headline(res.Report)

	_, err = r.db.ExecContext(ctx, insertRun,
		res.RunID, mode, modelName(res.Model), res.Dataset, string(res.State), res.Converged(), iterations,
		r2, rmse, aic, chi, res.Error, doc, time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "insert run %s", res.RunID)
	}
	return nil
}

// SaveTotal stores a joint fit; dataset holds the joined dataset names.
func (r *RunRepositoryImpl) SaveTotal(ctx context.Context, res *fit.TotalResult) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "encode total result")
	}
	converged, iterations := false, 0
	if res.Outcome != nil {
		converged, iterations = res.Outcome.Converged, res.Outcome.Iterations
	}
	names := ""
	for i, e := range res.Entries {
		if i > 0 {
			names += "+"
		}
		names += e.Dataset
	}
	r2, rmse, aic, chi := headline(res.Report)

	_, err = r.db.ExecContext(ctx, insertRun,
		res.RunID, "total", modelName(res.Model), names, string(res.State), converged, iterations,
		r2, rmse, aic, chi, "", doc, time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "insert run %s", res.RunID)
	}
	return nil
}

// ListRun returns the rows of one run in insertion order.
func (r *RunRepositoryImpl) ListRun(ctx context.Context, runID string) ([]ports.RunRecord, error) {
	var records []ports.RunRecord
	err := r.db.SelectContext(ctx, &records, selectRuns+`WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "list run %s", runID)
	}
	if len(records) == 0 {
		return nil, errors.NotFound("run " + runID)
	}
	return records, nil
}

// RecentRuns returns the newest rows first.
func (r *RunRepositoryImpl) RecentRuns(ctx context.Context, limit int) ([]ports.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []ports.RunRecord
	err := r.db.SelectContext(ctx, &records, selectRuns+`ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list recent runs")
	}
	return records, nil
}

func headline(rep *fit.Report) (r2, rmse, aic, chi *float64) {
	if rep == nil {
		return nil, nil, nil, nil
	}
	v := rep.RMSE
	return rep.R2, &v, rep.AIC, rep.ReducedChiSquare
}

func modelName(spec *fit.ModelSpec) string {
	if spec == nil {
		return ""
	}
	return spec.Name()
}
