package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"peakcast/internal/types"
)

func testBlend() *types.BlendForecast {
	runTime := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	return &types.BlendForecast{
		ResortSlug: "jackson-hole",
		Elevation:  types.ElevationSummit,
		ForecastPayload: types.ForecastPayload{
			TimesUTC: types.TimeList{runTime},
			HourlyData: types.HourlyData{
				types.VarTemperature2m: {fptr(-3.1)},
			},
			HourlyUnits: types.UnitMap{types.VarTemperature2m: types.UnitCelsius},
		},
		BlendWeights: types.WeightMap{
			"hrrr": 3.0, "gfs": 2.0, "nbm": 2.0, "ifs": 2.0,
			"aifs": 2.0, "gefs": 1.0, "ecmwf_ens": 1.0,
		},
		SourceModelRuns: types.SourceRunMap{
			"hrrr": "2026-01-15T12:00:00Z",
			"gfs":  "2026-01-15T06:00:00Z",
		},
	}
}

// ============================================================
// BlendRepository Tests
// ============================================================

func TestBlendRepository_Upsert_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBlendRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 10 {
			return false
		}
		weights, ok := args[8].(types.WeightMap)
		return args[0] == "jackson-hole" && args[1] == "summit" && ok && weights["hrrr"] == 3.0
	})).Run(func(args mock.Arguments) {
		sql := args.Get(1).(string)
		assert.Contains(t, sql, "ON CONFLICT (resort_slug, elevation_type)")
		assert.Contains(t, sql, "updated_at = NOW()")
	}).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Upsert(ctx, testBlend())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestBlendRepository_Upsert_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBlendRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Upsert(ctx, testBlend())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.Equal(t, "jackson-hole", appErr.Details["resort"])
	db.AssertExpectations(t)
}

func TestBlendRepository_Get_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBlendRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 4
			*dest[1].(*string) = "jackson-hole"
			*dest[2].(*types.ElevationType) = types.ElevationBase
			*dest[3].(*types.TimeList) = types.TimeList{now}
			*dest[4].(*types.HourlyData) = types.HourlyData{
				types.VarTemperature2m: {fptr(1.3)},
			}
			*dest[5].(*types.UnitMap) = types.UnitMap{types.VarTemperature2m: types.UnitCelsius}
			*dest[6].(**types.EnhancedData) = nil
			*dest[7].(*types.UnitMap) = nil
			*dest[8].(*types.EnsembleRanges) = types.EnsembleRanges{
				types.VarEnhancedSnowfall: {P10: []float64{0}, P90: []float64{4.2}},
			}
			*dest[9].(*types.WeightMap) = types.WeightMap{"hrrr": 3.0}
			*dest[10].(*types.SourceRunMap) = types.SourceRunMap{"hrrr": "2026-01-15T12:00:00Z"}
			*dest[11].(*time.Time) = now
			*dest[12].(*time.Time) = now
			return nil
		},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 2 && args[0] == "jackson-hole" && args[1] == "base"
	})).Return(row)

	b, err := repo.Get(ctx, "jackson-hole", types.ElevationBase)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, types.ElevationBase, b.Elevation)
	assert.Equal(t, 3.0, b.BlendWeights["hrrr"])
	require.Contains(t, b.EnsembleRanges, types.VarEnhancedSnowfall)
	assert.Equal(t, []float64{4.2}, b.EnsembleRanges[types.VarEnhancedSnowfall].P90)
	db.AssertExpectations(t)
}

func TestBlendRepository_Get_NoneIsNotAnError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBlendRepository(db)
	ctx := context.Background()

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	b, err := repo.Get(ctx, "big-sky", types.ElevationSummit)
	require.NoError(t, err)
	assert.Nil(t, b)
	db.AssertExpectations(t)
}

func TestBlendRepository_Count(t *testing.T) {
	db := new(mockDBTX)
	repo := NewBlendRepository(db)
	ctx := context.Background()

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 40
			return nil
		},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), count)
	db.AssertExpectations(t)
}
