package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"peakcast/internal/types"
)

// ForecastRepository provides data access for the forecasts table: one row
// per (resort, model, elevation, run time) holding the normalized hourly
// series as jsonb.
type ForecastRepository struct {
	db DBTX
}

// NewForecastRepository creates a new ForecastRepository backed by the given
// database connection (pool or transaction).
func NewForecastRepository(db DBTX) *ForecastRepository {
	return &ForecastRepository{db: db}
}

// Upsert inserts or replaces the forecast row for the full 4-tuple key.
// Reprocessing a run overwrites its own rows; newer runs add rows beside
// older ones.
func (r *ForecastRepository) Upsert(ctx context.Context, f *types.NormalizedForecast) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO forecasts
		 (resort_slug, model_id, elevation_type, run_datetime,
		  times_utc, hourly_data, hourly_units,
		  enhanced_hourly_data, enhanced_hourly_units, ensemble_ranges)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (resort_slug, model_id, elevation_type, run_datetime)
		 DO UPDATE SET
		   times_utc = EXCLUDED.times_utc,
		   hourly_data = EXCLUDED.hourly_data,
		   hourly_units = EXCLUDED.hourly_units,
		   enhanced_hourly_data = EXCLUDED.enhanced_hourly_data,
		   enhanced_hourly_units = EXCLUDED.enhanced_hourly_units,
		   ensemble_ranges = EXCLUDED.ensemble_ranges`,
		f.ResortSlug,
		f.ModelID,
		string(f.Elevation),
		f.RunTime,
		f.TimesUTC,
		f.HourlyData,
		f.HourlyUnits,
		f.EnhancedData,
		f.EnhancedUnits,
		f.EnsembleRanges,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert forecast", err).
			WithDetails(map[string]any{
				"resort": f.ResortSlug,
				"model":  f.ModelID,
			})
	}
	return nil
}

// Latest returns the newest stored forecast for (resort, model, elevation)
// by run time, or nil when none exists. Absence is a normal condition for
// models that have not produced data yet.
func (r *ForecastRepository) Latest(ctx context.Context, resortSlug, modelID string, elevation types.ElevationType) (*types.NormalizedForecast, error) {
	var f types.NormalizedForecast
	err := r.db.QueryRow(ctx,
		`SELECT id, resort_slug, model_id, elevation_type, run_datetime,
		        times_utc, hourly_data, hourly_units,
		        enhanced_hourly_data, enhanced_hourly_units, ensemble_ranges,
		        created_at
		 FROM forecasts
		 WHERE resort_slug = $1 AND model_id = $2 AND elevation_type = $3
		 ORDER BY run_datetime DESC
		 LIMIT 1`,
		resortSlug, modelID, string(elevation),
	).Scan(
		&f.ID,
		&f.ResortSlug,
		&f.ModelID,
		&f.Elevation,
		&f.RunTime,
		&f.TimesUTC,
		&f.HourlyData,
		&f.HourlyUnits,
		&f.EnhancedData,
		&f.EnhancedUnits,
		&f.EnsembleRanges,
		&f.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest forecast", err)
	}
	return &f, nil
}

// Freshness returns the newest stored series per (model, elevation) for one
// resort, with the hour count taken from the jsonb time axis.
func (r *ForecastRepository) Freshness(ctx context.Context, resortSlug string) ([]types.ModelForecastStatus, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (model_id, elevation_type)
		        model_id, elevation_type, run_datetime, created_at,
		        jsonb_array_length(times_utc)
		 FROM forecasts
		 WHERE resort_slug = $1
		 ORDER BY model_id, elevation_type, run_datetime DESC`,
		resortSlug)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query forecast freshness", err)
	}
	defer rows.Close()

	var statuses []types.ModelForecastStatus
	for rows.Next() {
		var s types.ModelForecastStatus
		if err := rows.Scan(&s.ModelID, &s.Elevation, &s.RunTime, &s.CreatedAt, &s.Hours); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan forecast freshness", err)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating forecast freshness", err)
	}
	return statuses, nil
}

