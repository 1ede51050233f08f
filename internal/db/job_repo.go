package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"peakcast/internal/types"
)

// JobHistoryRepository provides data access for the job_history table.
// History rows are append-only telemetry with one operational exception: the
// average duration of completed model_run jobs feeds the stale-claim timeout.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository backed by the
// given database connection (pool or transaction).
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a job_history row with status 'started' and returns the
// auto-generated id. modelID may be empty for jobs not tied to one model
// (the blend sweep).
func (r *JobHistoryRepository) Start(ctx context.Context, jobType types.JobType, modelID string, at time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, model_id, status, started_at)
		 VALUES ($1, $2, 'started', $3)
		 RETURNING id`,
		string(jobType), nilIfEmpty(modelID), at,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish closes a job_history row with its outcome. errMsg may be set on a
// completed job too: a blend sweep that skipped some resorts completes with
// a note like "2 blends failed".
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status types.JobStatus, resortsProcessed int, duration time.Duration, errMsg string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET status = $2, completed_at = $3, duration_seconds = $4,
		     resorts_processed = $5, error = $6
		 WHERE id = $1`,
		id, string(status), at, duration.Seconds(), resortsProcessed, nilIfEmpty(errMsg),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}

// AvgCompletedDuration returns the average duration in seconds of completed
// model_run jobs for one model, or nil when no history exists.
func (r *JobHistoryRepository) AvgCompletedDuration(ctx context.Context, modelID string) (*float64, error) {
	var avg *float64
	err := r.db.QueryRow(ctx,
		`SELECT AVG(duration_seconds) FROM job_history
		 WHERE job_type = 'model_run' AND model_id = $1 AND status = 'completed'`,
		modelID).Scan(&avg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query average job duration", err)
	}
	return avg, nil
}

const jobColumns = `id, job_type, COALESCE(model_id, ''), status, started_at,
	completed_at, duration_seconds, resorts_processed, COALESCE(error, ''),
	metadata`

func scanJob(row pgx.Row, j *types.JobRecord) error {
	return row.Scan(
		&j.ID,
		&j.JobType,
		&j.ModelID,
		&j.Status,
		&j.StartedAt,
		&j.CompletedAt,
		&j.DurationSeconds,
		&j.ResortsProcessed,
		&j.Error,
		&j.Metadata,
	)
}

// List returns job history rows newest first, with the total row count for
// pagination. jobType filters when non-empty.
func (r *JobHistoryRepository) List(ctx context.Context, limit, offset int, jobType string) ([]types.JobRecord, int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM job_history
		 WHERE ($1 = '' OR job_type = $1)`,
		jobType).Scan(&total)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count job history", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM job_history
		 WHERE ($1 = '' OR job_type = $1)
		 ORDER BY started_at DESC
		 LIMIT $2 OFFSET $3`,
		jobType, limit, offset)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to query job history", err)
	}
	defer rows.Close()

	var jobs []types.JobRecord
	for rows.Next() {
		var j types.JobRecord
		if err := scanJob(rows, &j); err != nil {
			return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job history entry", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "error iterating job history", err)
	}
	return jobs, total, nil
}

// WindowStats aggregates job counts since the given time and derives the
// error rate (failed over total; zero when the window is empty).
func (r *JobHistoryRepository) WindowStats(ctx context.Context, since time.Time) (types.JobWindowStats, error) {
	var stats types.JobWindowStats
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE status = 'failed')
		 FROM job_history
		 WHERE started_at >= $1`,
		since).Scan(&stats.TotalJobs, &stats.CompletedJobs, &stats.FailedJobs)
	if err != nil {
		return stats, types.NewAppError(types.ErrCodeInternalDB, "failed to query job window stats", err)
	}
	if stats.TotalJobs > 0 {
		stats.ErrorRate = float64(stats.FailedJobs) / float64(stats.TotalJobs)
	}
	return stats, nil
}
