package blend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"peakcast/internal/nwp"
	"peakcast/internal/types"
)

// ForecastSource serves the newest normalized forecast per
// (resort, model, elevation), nil when none exists. Implemented by
// db.ForecastRepository.
type ForecastSource interface {
	Latest(ctx context.Context, resortSlug, modelID string, elevation types.ElevationType) (*types.NormalizedForecast, error)
}

// BlendStore persists the single current blend row per (resort, elevation).
type BlendStore interface {
	Upsert(ctx context.Context, blend *types.BlendForecast) error
}

// ResortStore lists the resorts the sweep covers.
type ResortStore interface {
	List(ctx context.Context) ([]types.Resort, error)
}

// JobStore records the sweep's job_history row.
type JobStore interface {
	Start(ctx context.Context, jobType types.JobType, modelID string, at time.Time) (int64, error)
	Finish(ctx context.Context, id int64, status types.JobStatus, resortsProcessed int, duration time.Duration, errMsg string, at time.Time) error
}

// SweepMetrics abstracts the sweep's telemetry counters. May be nil.
type SweepMetrics interface {
	RecordBlendSweep(computed, failed int, duration time.Duration)
}

// Engine computes and stores blended forecasts.
type Engine struct {
	models    []nwp.Model
	ensemble  map[string]bool
	weights   types.WeightMap
	forecasts ForecastSource
	blends    BlendStore
	resorts   ResortStore
	jobs      JobStore
	clock     clockwork.Clock
	metrics   SweepMetrics
	logger    *slog.Logger
}

// Config holds the dependencies for creating a blend Engine.
type Config struct {
	Registry  nwp.Registry
	Forecasts ForecastSource
	Blends    BlendStore
	Resorts   ResortStore
	Jobs      JobStore

	// WeightOverrides replaces a model's registry blend weight. Setting a
	// model to zero removes it from the blend entirely.
	WeightOverrides map[string]float64
	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock
	// Metrics may be nil if metric emission is not configured.
	Metrics SweepMetrics
	Logger  *slog.Logger
}

// New creates a blend Engine. The blend model set is fixed at construction:
// every scheduled model whose effective weight is positive, in blend
// priority order.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("blend: registry is required")
	}
	if cfg.Forecasts == nil {
		return nil, fmt.Errorf("blend: forecast source is required")
	}
	if cfg.Blends == nil {
		return nil, fmt.Errorf("blend: blend store is required")
	}
	if cfg.Resorts == nil {
		return nil, fmt.Errorf("blend: resort store is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("blend: job store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var models []nwp.Model
	ensemble := make(map[string]bool)
	weights := make(types.WeightMap)
	for _, model := range cfg.Registry.Scheduled() {
		weight := model.BlendWeight
		if override, ok := cfg.WeightOverrides[model.ID]; ok {
			weight = override
		}
		if weight <= 0 {
			continue
		}
		models = append(models, model)
		weights[model.ID] = weight
		if model.Ensemble {
			ensemble[model.ID] = true
		}
	}

	return &Engine{
		models:    models,
		ensemble:  ensemble,
		weights:   weights,
		forecasts: cfg.Forecasts,
		blends:    cfg.Blends,
		resorts:   cfg.Resorts,
		jobs:      cfg.Jobs,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// Weights returns the effective blend weight map.
func (e *Engine) Weights() types.WeightMap {
	out := make(types.WeightMap, len(e.weights))
	for k, v := range e.weights {
		out[k] = v
	}
	return out
}

// ComputeResortBlend blends the latest forecasts for one (resort, elevation)
// and stores the result. It returns false when no model has any forecast for
// the pair, which is not an error: the pair simply has nothing to blend yet.
func (e *Engine) ComputeResortBlend(ctx context.Context, resortSlug string, elevation types.ElevationType) (bool, error) {
	var inputs []ModelForecast
	sourceRuns := make(types.SourceRunMap)

	for _, model := range e.models {
		forecast, err := e.forecasts.Latest(ctx, resortSlug, model.ID, elevation)
		if err != nil {
			return false, fmt.Errorf("loading latest %s forecast for %s: %w", model.ID, resortSlug, err)
		}
		if forecast == nil {
			continue
		}
		inputs = append(inputs, ModelForecast{ModelID: model.ID, Payload: &forecast.ForecastPayload})
		sourceRuns[model.ID] = forecast.RunTime.UTC().Format(time.RFC3339)
	}

	if len(inputs) == 0 {
		e.logger.DebugContext(ctx, "no forecasts available for blend",
			"resort", resortSlug,
			"elevation", string(elevation),
		)
		return false, nil
	}

	payload, err := ComputeBlend(inputs, e.weights)
	if err != nil {
		return false, err
	}

	var ensembleInputs []ModelForecast
	for _, in := range inputs {
		if e.ensemble[in.ModelID] {
			ensembleInputs = append(ensembleInputs, in)
		}
	}
	if len(ensembleInputs) > 0 {
		payload.EnsembleRanges = ComputeEnsembleRanges(ensembleInputs, types.RangeVariables)
	}

	blend := &types.BlendForecast{
		ResortSlug:      resortSlug,
		Elevation:       elevation,
		ForecastPayload: *payload,
		BlendWeights:    e.weights,
		SourceModelRuns: sourceRuns,
	}
	if err := e.blends.Upsert(ctx, blend); err != nil {
		return false, fmt.Errorf("storing %s %s blend: %w", resortSlug, elevation, err)
	}
	return true, nil
}

// ComputeAllBlends sweeps every resort and elevation type, wrapped in one
// job_history row. Per-pair failures are logged and counted but do not abort
// the sweep; the job completes with a note like "2 blends failed". It
// returns the number of blends computed.
func (e *Engine) ComputeAllBlends(ctx context.Context) (int, error) {
	start := e.clock.Now().UTC()
	jobID, err := e.jobs.Start(ctx, types.JobTypeBlend, "", start)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to record job start, continuing", "error", err)
		jobID = 0
	}

	resorts, err := e.resorts.List(ctx)
	if err != nil {
		e.finishJob(ctx, jobID, types.JobStatusFailed, 0, start, err.Error())
		return 0, err
	}

	computed, failed := 0, 0
	for i := range resorts {
		if err := ctx.Err(); err != nil {
			e.finishJob(ctx, jobID, types.JobStatusFailed, computed, start, err.Error())
			return computed, err
		}
		for _, elevation := range types.ElevationTypes {
			ok, err := e.ComputeResortBlend(ctx, resorts[i].Slug, elevation)
			if err != nil {
				e.logger.ErrorContext(ctx, "blend failed",
					"resort", resorts[i].Slug,
					"elevation", string(elevation),
					"error", err,
				)
				failed++
				continue
			}
			if ok {
				computed++
			}
		}
	}

	errMsg := ""
	if failed > 0 {
		errMsg = fmt.Sprintf("%d blends failed", failed)
	}
	e.finishJob(ctx, jobID, types.JobStatusCompleted, computed, start, errMsg)

	duration := e.clock.Now().UTC().Sub(start)
	if e.metrics != nil {
		e.metrics.RecordBlendSweep(computed, failed, duration)
	}
	e.logger.InfoContext(ctx, "blend sweep complete",
		"computed", computed,
		"failed", failed,
		"resorts", len(resorts),
		"duration", duration.Round(time.Millisecond).String(),
	)
	return computed, nil
}

func (e *Engine) finishJob(ctx context.Context, jobID int64, status types.JobStatus, computed int, start time.Time, errMsg string) {
	if jobID == 0 {
		return
	}
	now := e.clock.Now().UTC()
	if err := e.jobs.Finish(ctx, jobID, status, computed, now.Sub(start), errMsg, now); err != nil {
		e.logger.WarnContext(ctx, "failed to finish job history entry",
			"job_id", jobID,
			"error", err,
		)
	}
}
