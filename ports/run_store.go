// Package ports declares the boundaries the fit service talks to.
package ports

import (
	"context"
	"encoding/json"
	"time"

	"curvefit/domain/fit"
)

// RunStore persists finished fits for later inspection.
type RunStore interface {
	// SaveResult stores one single, batch or checker entry.
	SaveResult(ctx context.Context, mode string, res *fit.Result) error
	// SaveTotal stores a joint fit as one row.
	SaveTotal(ctx context.Context, res *fit.TotalResult) error
	// ListRun returns every row written under runID, oldest first.
	ListRun(ctx context.Context, runID string) ([]RunRecord, error)
	// RecentRuns returns the newest rows, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// RunRecord is one stored fit. Result holds the full JSON document.
type RunRecord struct {
	ID               int64           `db:"id" json:"id"`
	RunID            string          `db:"run_id" json:"run_id"`
	Mode             string          `db:"mode" json:"mode"`
	Model            string          `db:"model" json:"model"`
	Dataset          string          `db:"dataset" json:"dataset"`
	State            string          `db:"state" json:"state"`
	Converged        bool            `db:"converged" json:"converged"`
	Iterations       int             `db:"iterations" json:"iterations"`
	R2               *float64        `db:"r2" json:"r2,omitempty"`
	RMSE             *float64        `db:"rmse" json:"rmse,omitempty"`
	AIC              *float64        `db:"aic" json:"aic,omitempty"`
	ReducedChiSquare *float64        `db:"reduced_chi_square" json:"reduced_chi_square,omitempty"`
	Error            string          `db:"error" json:"error,omitempty"`
	Result           json.RawMessage `db:"result" json:"result"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}
