package db

import (
	"context"
	"time"

	"peakcast/internal/types"
)

// statsWindow is the lookback over which job outcomes are aggregated for the
// stats surface.
const statsWindow = 24 * time.Hour

// StatsRepository assembles the aggregate read-only snapshot exposed by the
// ops stats endpoint. It composes the per-table repositories rather than
// duplicating their queries.
type StatsRepository struct {
	jobs   *JobHistoryRepository
	runs   *ModelRunRepository
	blends *BlendRepository
}

// NewStatsRepository creates a new StatsRepository backed by the given
// database connection (pool or transaction).
func NewStatsRepository(db DBTX) *StatsRepository {
	return &StatsRepository{
		jobs:   NewJobHistoryRepository(db),
		runs:   NewModelRunRepository(db),
		blends: NewBlendRepository(db),
	}
}

// EngineStats returns job outcomes over the window ending at now, plus total
// model run and blend row counts. CacheSizeBytes is left zero; the caller
// owns the tile cache and fills it in.
func (r *StatsRepository) EngineStats(ctx context.Context, now time.Time) (types.EngineStats, error) {
	window, err := r.jobs.WindowStats(ctx, now.Add(-statsWindow))
	if err != nil {
		return types.EngineStats{}, err
	}

	runs, err := r.runs.Count(ctx)
	if err != nil {
		return types.EngineStats{}, err
	}

	blends, err := r.blends.Count(ctx)
	if err != nil {
		return types.EngineStats{}, err
	}

	return types.EngineStats{
		Last24h:             window,
		TotalModelRuns:      runs,
		TotalBlendForecasts: blends,
	}, nil
}
