package migration

import (
	"context"

	"github.com/jmoiron/sqlx"

	"curvefit/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the run history schema. Every statement is
// idempotent, so Run may be repeated.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createFitRunsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create fit_runs table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createFitRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fit_runs (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL,
			mode VARCHAR(16) NOT NULL,
			model VARCHAR(255) NOT NULL,
			dataset TEXT NOT NULL,
			state VARCHAR(32) NOT NULL,
			converged BOOLEAN NOT NULL DEFAULT false,
			iterations INTEGER NOT NULL DEFAULT 0,
			r2 DOUBLE PRECISION,
			rmse DOUBLE PRECISION,
			aic DOUBLE PRECISION,
			reduced_chi_square DOUBLE PRECISION,
			error TEXT NOT NULL DEFAULT '',
			result JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_fit_runs_run_id ON fit_runs(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fit_runs_model ON fit_runs(model)`,
		`CREATE INDEX IF NOT EXISTS idx_fit_runs_created_at ON fit_runs(created_at DESC)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
