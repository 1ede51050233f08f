package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"peakcast/internal/types"
)

// BlendRepository provides data access for the blend_forecasts table: the
// single current blended series per (resort, elevation), overwritten in
// place on every sweep.
type BlendRepository struct {
	db DBTX
}

// NewBlendRepository creates a new BlendRepository backed by the given
// database connection (pool or transaction).
func NewBlendRepository(db DBTX) *BlendRepository {
	return &BlendRepository{db: db}
}

// Upsert writes the blend row for (resort, elevation), replacing any
// previous blend and bumping updated_at.
func (r *BlendRepository) Upsert(ctx context.Context, b *types.BlendForecast) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO blend_forecasts
		 (resort_slug, elevation_type, times_utc, hourly_data, hourly_units,
		  enhanced_hourly_data, enhanced_hourly_units, ensemble_ranges,
		  blend_weights, source_model_runs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (resort_slug, elevation_type)
		 DO UPDATE SET
		   times_utc = EXCLUDED.times_utc,
		   hourly_data = EXCLUDED.hourly_data,
		   hourly_units = EXCLUDED.hourly_units,
		   enhanced_hourly_data = EXCLUDED.enhanced_hourly_data,
		   enhanced_hourly_units = EXCLUDED.enhanced_hourly_units,
		   ensemble_ranges = EXCLUDED.ensemble_ranges,
		   blend_weights = EXCLUDED.blend_weights,
		   source_model_runs = EXCLUDED.source_model_runs,
		   updated_at = NOW()`,
		b.ResortSlug,
		string(b.Elevation),
		b.TimesUTC,
		b.HourlyData,
		b.HourlyUnits,
		b.EnhancedData,
		b.EnhancedUnits,
		b.EnsembleRanges,
		b.BlendWeights,
		b.SourceModelRuns,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert blend forecast", err).
			WithDetails(map[string]any{
				"resort":    b.ResortSlug,
				"elevation": string(b.Elevation),
			})
	}
	return nil
}

// Get returns the current blend for (resort, elevation), or nil when no
// blend has been computed yet.
func (r *BlendRepository) Get(ctx context.Context, resortSlug string, elevation types.ElevationType) (*types.BlendForecast, error) {
	var b types.BlendForecast
	err := r.db.QueryRow(ctx,
		`SELECT id, resort_slug, elevation_type, times_utc, hourly_data,
		        hourly_units, enhanced_hourly_data, enhanced_hourly_units,
		        ensemble_ranges, blend_weights, source_model_runs,
		        created_at, updated_at
		 FROM blend_forecasts
		 WHERE resort_slug = $1 AND elevation_type = $2`,
		resortSlug, string(elevation),
	).Scan(
		&b.ID,
		&b.ResortSlug,
		&b.Elevation,
		&b.TimesUTC,
		&b.HourlyData,
		&b.HourlyUnits,
		&b.EnhancedData,
		&b.EnhancedUnits,
		&b.EnsembleRanges,
		&b.BlendWeights,
		&b.SourceModelRuns,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query blend forecast", err)
	}
	return &b, nil
}

// Count returns the number of stored blend rows.
func (r *BlendRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM blend_forecasts`).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count blend forecasts", err)
	}
	return count, nil
}
