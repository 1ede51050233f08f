package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"peakcast/internal/types"
)

// ResortRepository provides data access for the resorts table. Resorts are
// the fixed extraction targets; rows change only when the seed list does.
type ResortRepository struct {
	db DBTX
}

// NewResortRepository creates a new ResortRepository backed by the given
// database connection (pool or transaction).
func NewResortRepository(db DBTX) *ResortRepository {
	return &ResortRepository{db: db}
}

const resortColumns = `id, slug, name, state, country, lat, lon,
	base_elevation_m, summit_elevation_m, created_at, updated_at`

func scanResort(row pgx.Row, r *types.Resort) error {
	return row.Scan(
		&r.ID,
		&r.Slug,
		&r.Name,
		&r.State,
		&r.Country,
		&r.Lat,
		&r.Lon,
		&r.BaseElevationM,
		&r.SummitElevationM,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
}

// List returns all resorts ordered by slug.
func (r *ResortRepository) List(ctx context.Context) ([]types.Resort, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+resortColumns+` FROM resorts ORDER BY slug`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query resorts", err)
	}
	defer rows.Close()

	var resorts []types.Resort
	for rows.Next() {
		var resort types.Resort
		if err := scanResort(rows, &resort); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan resort", err)
		}
		resorts = append(resorts, resort)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating resorts", err)
	}
	return resorts, nil
}

// Get returns a single resort by slug. Returns ErrCodeNotFoundResort when
// the slug does not exist.
func (r *ResortRepository) Get(ctx context.Context, slug string) (*types.Resort, error) {
	var resort types.Resort
	err := scanResort(r.db.QueryRow(ctx,
		`SELECT `+resortColumns+` FROM resorts WHERE slug = $1`, slug), &resort)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundResort, "resort not found", nil).
			WithDetails(map[string]any{"slug": slug})
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get resort", err)
	}
	return &resort, nil
}

// Count returns the number of seeded resorts.
func (r *ResortRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM resorts`).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count resorts", err)
	}
	return count, nil
}

// Upsert inserts or updates resorts keyed by slug and returns the number of
// rows written. Used by the startup seed so coordinate or elevation fixes in
// the seed list propagate without manual migration.
func (r *ResortRepository) Upsert(ctx context.Context, resorts []types.Resort) (int, error) {
	count := 0
	for i := range resorts {
		resort := &resorts[i]
		_, err := r.db.Exec(ctx,
			`INSERT INTO resorts
			 (slug, name, state, country, lat, lon, base_elevation_m, summit_elevation_m)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (slug) DO UPDATE SET
			   name = EXCLUDED.name,
			   state = EXCLUDED.state,
			   country = EXCLUDED.country,
			   lat = EXCLUDED.lat,
			   lon = EXCLUDED.lon,
			   base_elevation_m = EXCLUDED.base_elevation_m,
			   summit_elevation_m = EXCLUDED.summit_elevation_m,
			   updated_at = NOW()`,
			resort.Slug,
			resort.Name,
			resort.State,
			resort.Country,
			resort.Lat,
			resort.Lon,
			resort.BaseElevationM,
			resort.SummitElevationM,
		)
		if err != nil {
			return count, types.NewAppError(types.ErrCodeInternalDB, "failed to upsert resort", err).
				WithDetails(map[string]any{"slug": resort.Slug})
		}
		count++
	}
	return count, nil
}
