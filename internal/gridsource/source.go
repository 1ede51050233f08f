// Package gridsource retrieves raw numerical-model output and samples it at
// point coordinates.
//
// The engine core consumes the GridSource interface and never assumes a file
// format: it needs offset-level availability (PrepareBatch) and per-variable
// nearest-neighbor sampling (SampleVariable), nothing more. This package also
// ships the production implementation, S3TileStore, which reads tile bundles
// from mirrored S3 buckets through a local disk cache.
//
// A tile bundle is one object per (model, run, forecast hour):
//
//	{store_model}/{YYYYMMDD}/{HH}z/{product}/f{FFF}.tile.zst
//
// containing a zstd-compressed frame of a 4-byte little-endian header length,
// a JSON grid header (geometry plus the ordered variable list), and one
// row-major little-endian float32 plane per listed variable. Grid points with
// no data are NaN and sample as nil.
package gridsource

import (
	"context"
	"fmt"
	"time"

	"peakcast/internal/nwp"
	"peakcast/internal/types"
)

// Coord is one sampling coordinate.
type Coord struct {
	Lat float64
	Lon float64
}

// GridSource provides raw model output for point sampling.
//
// PrepareBatch makes the given forecast-hour offsets ready for sampling,
// running at most maxConcurrency transfers at once, and returns the offsets
// that actually have a usable source. The result is always a subsequence of
// the request: hours the provider has not published yet are silently absent,
// never padded. An error is returned only for cancellation or misuse, not for
// unavailable hours.
//
// SampleVariable returns one value per coordinate for a single prepared
// offset. A nil entry means the grid holds no data at that point. An error
// means the variable could not be read at all for this offset; callers decide
// whether that is fatal (the extraction pipeline absorbs it as nulls).
type GridSource interface {
	PrepareBatch(ctx context.Context, model nwp.Model, runTime time.Time, offsets []int, maxConcurrency int) ([]int, error)
	SampleVariable(ctx context.Context, model nwp.Model, runTime time.Time, offset int, variable types.RawVariable, coords []Coord) ([]*float64, error)
}

// tileKey builds the object key for one forecast hour's tile bundle. Run
// times are keyed by UTC date and cycle hour, matching how providers publish.
func tileKey(model nwp.Model, runTime time.Time, offset int) string {
	rt := runTime.UTC()
	return fmt.Sprintf("%s/%s/%02dz/%s/f%03d.tile.zst",
		model.StoreModel, rt.Format("20060102"), rt.Hour(), model.Product, offset)
}
