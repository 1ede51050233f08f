package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"peakcast/internal/types"
)

func TestEnsureSchema_AppliesEmbeddedSQL(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			for _, table := range []string{"resorts", "model_runs", "forecasts", "blend_forecasts", "job_history"} {
				assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table)
			}
		}).
		Return(pgconn.NewCommandTag("CREATE TABLE"), nil)

	err := EnsureSchema(ctx, db)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestEnsureSchema_DBError(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("permission denied"))

	err := EnsureSchema(ctx, db)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

// Every statement must be idempotent so the schema can be applied on each
// startup.
func TestSchemaSQL_Idempotent(t *testing.T) {
	for _, line := range strings.Split(schemaSQL, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "CREATE TABLE") {
			assert.Contains(t, trimmed, "IF NOT EXISTS", "table statement missing IF NOT EXISTS: %s", trimmed)
		}
		if strings.HasPrefix(trimmed, "CREATE INDEX") || strings.HasPrefix(trimmed, "CREATE UNIQUE INDEX") {
			assert.Contains(t, trimmed, "IF NOT EXISTS", "index statement missing IF NOT EXISTS: %s", trimmed)
		}
	}
}

func TestNilIfEmpty(t *testing.T) {
	assert.Nil(t, nilIfEmpty(""))

	p := nilIfEmpty("hrrr")
	require.NotNil(t, p)
	assert.Equal(t, "hrrr", *p)
}
