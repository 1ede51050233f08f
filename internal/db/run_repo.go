package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"peakcast/internal/types"
)

// ModelRunRepository provides data access for the model_runs table, which
// tracks the processing state machine for each (model, run time) pair. The
// run coordinator is the only writer.
type ModelRunRepository struct {
	db DBTX
}

// NewModelRunRepository creates a new ModelRunRepository backed by the given
// database connection (pool or transaction).
func NewModelRunRepository(db DBTX) *ModelRunRepository {
	return &ModelRunRepository{db: db}
}

const modelRunColumns = `id, model_id, run_datetime, status,
	COALESCE(error, ''), resorts_processed, COALESCE(claimed_by, ''),
	started_at, completed_at, created_at`

func scanModelRun(row pgx.Row, run *types.ModelRun) error {
	return row.Scan(
		&run.ID,
		&run.ModelID,
		&run.RunTime,
		&run.Status,
		&run.Error,
		&run.ResortsProcessed,
		&run.ClaimedBy,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
	)
}

// GetOrCreate returns the run row for (modelID, runTime), creating it with
// status pending if absent. The boolean reports whether a new row was
// created. INSERT ... ON CONFLICT DO NOTHING followed by a SELECT keeps the
// operation safe under concurrent callers.
func (r *ModelRunRepository) GetOrCreate(ctx context.Context, modelID string, runTime time.Time) (*types.ModelRun, bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO model_runs (model_id, run_datetime, status)
		 VALUES ($1, $2, 'pending')
		 ON CONFLICT (model_id, run_datetime) DO NOTHING`,
		modelID, runTime)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to create model run", err)
	}
	created := tag.RowsAffected() > 0

	var run types.ModelRun
	err = scanModelRun(r.db.QueryRow(ctx,
		`SELECT `+modelRunColumns+` FROM model_runs
		 WHERE model_id = $1 AND run_datetime = $2`,
		modelID, runTime), &run)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to load model run", err)
	}
	return &run, created, nil
}

// Claim marks the run as processing, stamps started_at, and records the
// claiming engine instance. The write is committed before any extraction
// work begins so concurrent instances observe the claim.
func (r *ModelRunRepository) Claim(ctx context.Context, id int64, instanceID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE model_runs
		 SET status = 'processing', started_at = $2, claimed_by = $3, error = NULL
		 WHERE id = $1`,
		id, at, instanceID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to claim model run", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundModelRun, "model run not found", nil)
	}
	return nil
}

// Complete marks the run completed with its final resort count.
func (r *ModelRunRepository) Complete(ctx context.Context, id int64, resortsProcessed int, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE model_runs
		 SET status = 'completed', completed_at = $2, resorts_processed = $3
		 WHERE id = $1`,
		id, at, resortsProcessed)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete model run", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundModelRun, "model run not found", nil)
	}
	return nil
}

// MarkFailed records a failure message on the run. Used both for extraction
// failures and for stale-claim resets.
func (r *ModelRunRepository) MarkFailed(ctx context.Context, id int64, message string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE model_runs SET status = 'failed', error = $2 WHERE id = $1`,
		id, message)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark model run failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundModelRun, "model run not found", nil)
	}
	return nil
}

// LatestCompleted returns the newest completed run for a model, or nil when
// the model has never completed a run.
func (r *ModelRunRepository) LatestCompleted(ctx context.Context, modelID string) (*types.ModelRun, error) {
	var run types.ModelRun
	err := scanModelRun(r.db.QueryRow(ctx,
		`SELECT `+modelRunColumns+` FROM model_runs
		 WHERE model_id = $1 AND status = 'completed'
		 ORDER BY run_datetime DESC
		 LIMIT 1`,
		modelID), &run)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest completed run", err)
	}
	return &run, nil
}

// LatestCompletedAll returns the newest completed run per model in a single
// query, keyed by model id.
func (r *ModelRunRepository) LatestCompletedAll(ctx context.Context) (map[string]types.ModelRun, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (model_id) `+modelRunColumns+`
		 FROM model_runs
		 WHERE status = 'completed'
		 ORDER BY model_id, run_datetime DESC`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest completed runs", err)
	}
	defer rows.Close()

	result := make(map[string]types.ModelRun)
	for rows.Next() {
		var run types.ModelRun
		if err := scanModelRun(rows, &run); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan model run", err)
		}
		result[run.ModelID] = run
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating model runs", err)
	}
	return result, nil
}

// LatestAll returns the newest run per model regardless of status, keyed by
// model id. The ops model list uses this to show in-flight and failed runs,
// not just completed ones.
func (r *ModelRunRepository) LatestAll(ctx context.Context) (map[string]types.ModelRun, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (model_id) `+modelRunColumns+`
		 FROM model_runs
		 ORDER BY model_id, created_at DESC`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest runs", err)
	}
	defer rows.Close()

	result := make(map[string]types.ModelRun)
	for rows.Next() {
		var run types.ModelRun
		if err := scanModelRun(rows, &run); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan model run", err)
		}
		result[run.ModelID] = run
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating model runs", err)
	}
	return result, nil
}

// Count returns the total number of model run rows.
func (r *ModelRunRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM model_runs`).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count model runs", err)
	}
	return count, nil
}
