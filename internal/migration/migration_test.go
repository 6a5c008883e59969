package migration

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CreatesSchema(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS fit_runs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_fit_runs_run_id`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_fit_runs_model`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_fit_runs_created_at`).WillReturnResult(sqlmock.NewResult(0, 0))

	runner := NewRunner()
	require.NoError(t, runner.Run(context.Background(), db))
	assert.Equal(t, "1.0.0", runner.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_StopsOnFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS fit_runs`).WillReturnError(stderrors.New("permission denied"))

	err = NewRunner().Run(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fit_runs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
