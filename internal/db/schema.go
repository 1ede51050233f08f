package db

import (
	"context"
	_ "embed"

	"peakcast/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema applies the embedded schema. Every statement uses
// IF NOT EXISTS, so calling this on every startup is safe and replaces a
// separate migration step for the engine's five tables.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	return nil
}
