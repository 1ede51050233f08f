// Package extract drives a GridSource across a model's forecast-hour range
// for many resorts at once. Long ranges are split into fixed-size chunks
// processed sequentially so peak memory stays bounded regardless of horizon;
// within a chunk, per-hour and per-variable failures degrade to nulls instead
// of failing the run. Deciding whether "nothing at all" is fatal belongs to
// the coordinator, not this package.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"peakcast/internal/gridsource"
	"peakcast/internal/nwp"
	"peakcast/internal/types"
)

// Default tuning, overridable through PipelineConfig.
const (
	// DefaultChunkSize is the number of forecast hours prepared per batch.
	DefaultChunkSize = 48

	// DefaultMaxConcurrentDownloads caps parallel tile transfers in a chunk.
	DefaultMaxConcurrentDownloads = 4
)

// Pipeline pulls raw samples for every (resort, forecast hour) cell of one
// model run.
type Pipeline struct {
	source        gridsource.GridSource
	chunkSize     int
	maxConcurrent int
	logger        *slog.Logger
}

// PipelineConfig carries the dependencies and tuning for NewPipeline.
// Zero-valued tuning fields fall back to the package defaults.
type PipelineConfig struct {
	Source                 gridsource.GridSource
	ChunkSize              int
	MaxConcurrentDownloads int
	Logger                 *slog.Logger
}

// NewPipeline creates an extraction pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("extract: grid source is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = DefaultMaxConcurrentDownloads
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		source:        cfg.Source,
		chunkSize:     cfg.ChunkSize,
		maxConcurrent: cfg.MaxConcurrentDownloads,
		logger:        cfg.Logger,
	}, nil
}

// ExtractAllHours samples every raw variable for every resort across the
// requested forecast hours.
//
// The returned offsets are the hours that actually had a usable source, a
// subsequence of the request. samplesByOffset holds one RawSample per resort,
// in resort order, for each available offset. Variables the model excludes,
// variables missing upstream, and individual sampling failures all surface as
// nil cells. The only errors returned are cancellation and misuse; an
// entirely unpublished run comes back as zero available offsets.
func (p *Pipeline) ExtractAllHours(ctx context.Context, model nwp.Model, runTime time.Time, offsets []int, resorts []types.Resort) ([]int, map[int][]types.RawSample, error) {
	if len(resorts) == 0 {
		return nil, nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"at least one resort is required",
			nil,
		)
	}

	coords := make([]gridsource.Coord, len(resorts))
	for i, r := range resorts {
		coords[i] = gridsource.Coord{Lat: r.Lat, Lon: r.Lon}
	}

	chunks := chunkOffsets(offsets, p.chunkSize)
	p.logger.InfoContext(ctx, "starting extraction",
		"model", model.ID,
		"run_time", runTime,
		"offsets", len(offsets),
		"chunks", len(chunks),
		"resorts", len(resorts),
	)

	available := make([]int, 0, len(offsets))
	samplesByOffset := make(map[int][]types.RawSample, len(offsets))

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		chunkAvail, err := p.source.PrepareBatch(ctx, model, runTime, chunk, p.maxConcurrent)
		if err != nil {
			return nil, nil, fmt.Errorf("preparing chunk %d/%d for %s: %w", i+1, len(chunks), model.ID, err)
		}
		if len(chunkAvail) == 0 {
			p.logger.DebugContext(ctx, "chunk has no available hours",
				"model", model.ID,
				"chunk", i+1,
				"requested", len(chunk),
			)
			continue
		}

		chunkSamples := p.extractChunk(ctx, model, runTime, chunkAvail, coords)

		available = append(available, chunkAvail...)
		for offset, samples := range chunkSamples {
			samplesByOffset[offset] = samples
		}
	}

	p.logger.InfoContext(ctx, "extraction finished",
		"model", model.ID,
		"run_time", runTime,
		"available_offsets", len(available),
		"requested_offsets", len(offsets),
	)
	return available, samplesByOffset, nil
}

// extractChunk loads every raw variable for one prepared chunk. Each variable
// is loaded in a strict batch pass first; when that fails (accumulation
// fields are routinely absent at hour 0), a lenient per-offset pass records
// whatever loads, independently per hour.
func (p *Pipeline) extractChunk(ctx context.Context, model nwp.Model, runTime time.Time, offsets []int, coords []gridsource.Coord) map[int][]types.RawSample {
	samples := make(map[int][]types.RawSample, len(offsets))
	for _, offset := range offsets {
		samples[offset] = make([]types.RawSample, len(coords))
	}

	for _, variable := range types.RawVariables {
		if model.Excludes(variable) {
			continue
		}

		valuesByOffset, err := p.loadBatch(ctx, model, runTime, offsets, variable, coords)
		if err != nil {
			p.logger.WarnContext(ctx, "batch load failed, retrying per hour",
				"model", model.ID,
				"variable", string(variable),
				"error", err,
			)
			valuesByOffset = p.loadPerOffset(ctx, model, runTime, offsets, variable, coords)
		}

		for offset, values := range valuesByOffset {
			row := samples[offset]
			for i, v := range values {
				if v != nil {
					row[i].Set(variable, v)
				}
			}
		}
	}

	return samples
}

// loadBatch samples one variable across all offsets, aborting on the first
// failure.
func (p *Pipeline) loadBatch(ctx context.Context, model nwp.Model, runTime time.Time, offsets []int, variable types.RawVariable, coords []gridsource.Coord) (map[int][]*float64, error) {
	out := make(map[int][]*float64, len(offsets))
	for _, offset := range offsets {
		values, err := p.source.SampleVariable(ctx, model, runTime, offset, variable, coords)
		if err != nil {
			return nil, fmt.Errorf("sampling %s at offset %d: %w", variable, offset, err)
		}
		out[offset] = values
	}
	return out, nil
}

// loadPerOffset samples one variable hour by hour, recording each offset's
// success independently so one bad hour does not blank the whole variable.
func (p *Pipeline) loadPerOffset(ctx context.Context, model nwp.Model, runTime time.Time, offsets []int, variable types.RawVariable, coords []gridsource.Coord) map[int][]*float64 {
	out := make(map[int][]*float64, len(offsets))
	for _, offset := range offsets {
		values, err := p.source.SampleVariable(ctx, model, runTime, offset, variable, coords)
		if err != nil {
			p.logger.DebugContext(ctx, "variable unavailable at offset",
				"model", model.ID,
				"variable", string(variable),
				"offset", offset,
			)
			continue
		}
		out[offset] = values
	}
	return out
}

// chunkOffsets splits the requested hours into consecutive chunks of at most
// size entries, preserving order.
func chunkOffsets(offsets []int, size int) [][]int {
	if len(offsets) == 0 {
		return nil
	}
	chunks := make([][]int, 0, (len(offsets)+size-1)/size)
	for start := 0; start < len(offsets); start += size {
		end := start + size
		if end > len(offsets) {
			end = len(offsets)
		}
		chunks = append(chunks, offsets[start:end])
	}
	return chunks
}
