// Package coordinator drives the model_runs state machine. Process is the
// single entry point for turning one (model, run time) pair into persisted
// per-resort forecasts: it claims the run row, extracts raw grid samples,
// normalizes them per resort and elevation, and settles the run as completed
// or failed. Concurrent engine instances coordinate through the database
// claim; abandoned claims are recovered by a history-derived stale timeout.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"peakcast/internal/normalize"
	"peakcast/internal/nwp"
	"peakcast/internal/types"
)

// RunStore abstracts the model_runs operations Process needs. Implemented by
// db.ModelRunRepository.
type RunStore interface {
	// GetOrCreate returns the run row for (model, runTime), inserting a
	// pending row when none exists. The bool reports whether it inserted.
	GetOrCreate(ctx context.Context, modelID string, runTime time.Time) (*types.ModelRun, bool, error)
	// Claim transitions the run to processing, stamping started_at and the
	// claiming instance and clearing any previous error.
	Claim(ctx context.Context, id int64, instanceID string, at time.Time) error
	// Complete marks the run completed with the resort count.
	Complete(ctx context.Context, id int64, resortsProcessed int, at time.Time) error
	// MarkFailed marks the run failed with an error message.
	MarkFailed(ctx context.Context, id int64, message string) error
}

// JobStore records job_history rows and serves the duration statistics the
// stale-claim timeout derives from.
type JobStore interface {
	Start(ctx context.Context, jobType types.JobType, modelID string, at time.Time) (int64, error)
	Finish(ctx context.Context, id int64, status types.JobStatus, resortsProcessed int, duration time.Duration, errMsg string, at time.Time) error
	// AvgCompletedDuration returns the mean duration in seconds of completed
	// model_run jobs for one model, nil when no history exists.
	AvgCompletedDuration(ctx context.Context, modelID string) (*float64, error)
}

// ResortStore lists the locations to extract forecasts for.
type ResortStore interface {
	List(ctx context.Context) ([]types.Resort, error)
}

// ForecastStore persists normalized per-model forecasts.
type ForecastStore interface {
	Upsert(ctx context.Context, forecast *types.NormalizedForecast) error
}

// Extractor pulls raw grid samples for a model run. Implemented by
// extract.Pipeline.
type Extractor interface {
	ExtractAllHours(ctx context.Context, model nwp.Model, runTime time.Time, offsets []int, resorts []types.Resort) ([]int, map[int][]types.RawSample, error)
}

// RunMetrics abstracts the telemetry counters the coordinator emits.
// The metrics value may be nil if emission is not configured.
type RunMetrics interface {
	// RecordModelRun counts one settled run with its outcome and duration.
	RecordModelRun(modelID string, status types.JobStatus, duration time.Duration, resorts int)
	// RecordHoursExtracted counts forecast hours that produced data.
	RecordHoursExtracted(modelID string, hours int)
	// RecordStaleLockReset counts abandoned claims that were recovered.
	RecordStaleLockReset(modelID string)
}

// Coordinator processes model runs. Safe for concurrent use; the database
// claim is the mutual exclusion point between instances.
type Coordinator struct {
	registry  nwp.Registry
	runs      RunStore
	jobs      JobStore
	resorts   ResortStore
	forecasts ForecastStore
	extractor Extractor

	instanceID    string
	staleFallback time.Duration
	clock         clockwork.Clock
	metrics       RunMetrics
	logger        *slog.Logger
}

// Config holds the dependencies for creating a Coordinator.
type Config struct {
	Registry  nwp.Registry
	Runs      RunStore
	Jobs      JobStore
	Resorts   ResortStore
	Forecasts ForecastStore
	Extractor Extractor

	// InstanceID identifies this engine instance in claimed_by, for
	// diagnostics when inspecting stuck runs.
	InstanceID string
	// StaleFallback bounds the stale-claim timeout when a model has no
	// completed history. Defaults to DefaultStaleFallback.
	StaleFallback time.Duration
	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock
	// Metrics may be nil if metric emission is not configured.
	Metrics RunMetrics
	Logger  *slog.Logger
}

// New creates a Coordinator with the given configuration.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("coordinator: registry is required")
	}
	if cfg.Runs == nil {
		return nil, fmt.Errorf("coordinator: run store is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("coordinator: job store is required")
	}
	if cfg.Resorts == nil {
		return nil, fmt.Errorf("coordinator: resort store is required")
	}
	if cfg.Forecasts == nil {
		return nil, fmt.Errorf("coordinator: forecast store is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("coordinator: extractor is required")
	}
	if cfg.StaleFallback <= 0 {
		cfg.StaleFallback = DefaultStaleFallback
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		registry:      cfg.Registry,
		runs:          cfg.Runs,
		jobs:          cfg.Jobs,
		resorts:       cfg.Resorts,
		forecasts:     cfg.Forecasts,
		extractor:     cfg.Extractor,
		instanceID:    cfg.InstanceID,
		staleFallback: cfg.StaleFallback,
		clock:         cfg.Clock,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}, nil
}

// Process extracts and stores forecasts for one (model, run time) pair and
// returns the number of resorts that produced valid data. It is idempotent:
// a completed run returns (0, nil) without touching the grid store, and a run
// another instance is still processing is skipped unless its claim has gone
// stale. Failures are persisted on the run and job rows before returning.
func (c *Coordinator) Process(ctx context.Context, modelID string, runTime time.Time) (int, error) {
	model, err := c.registry.Resolve(modelID)
	if err != nil {
		return 0, err
	}
	runTime = runTime.UTC()

	run, _, err := c.runs.GetOrCreate(ctx, model.ID, runTime)
	if err != nil {
		return 0, err
	}

	switch run.Status {
	case types.RunStatusCompleted:
		c.logger.InfoContext(ctx, "model run already completed, skipping",
			"model", model.ID,
			"run_time", runTime.Format(time.RFC3339),
		)
		return 0, nil
	case types.RunStatusProcessing:
		reclaimed, err := c.reclaimStale(ctx, model.ID, run)
		if err != nil {
			return 0, err
		}
		if !reclaimed {
			return 0, nil
		}
	}

	start := c.clock.Now().UTC()
	if err := c.runs.Claim(ctx, run.ID, c.instanceID, start); err != nil {
		return 0, err
	}

	jobID, err := c.jobs.Start(ctx, types.JobTypeModelRun, model.ID, start)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to record job start, continuing",
			"model", model.ID,
			"error", err,
		)
		jobID = 0
	}

	resorts, err := c.resorts.List(ctx)
	if err != nil {
		return 0, c.failRun(ctx, run, jobID, start, err)
	}
	if len(resorts) == 0 {
		return 0, c.failRun(ctx, run, jobID, start, types.NewAppError(
			types.ErrCodeNotFoundResort, "no resorts to process", nil))
	}

	c.logger.InfoContext(ctx, "processing model run",
		"model", model.ID,
		"run_time", runTime.Format(time.RFC3339),
		"resorts", len(resorts),
	)

	available, samples, err := c.extractor.ExtractAllHours(ctx, model, runTime, model.OffsetRange(), resorts)
	if err != nil {
		return 0, c.failRun(ctx, run, jobID, start, err)
	}
	if len(available) == 0 {
		return 0, c.failRun(ctx, run, jobID, start, types.NewAppError(
			types.ErrCodeUpstreamNoForecastHours,
			fmt.Sprintf("no forecast hours extracted for %s run %s",
				model.ID, runTime.Format(time.RFC3339)),
			nil,
		))
	}

	times := make(types.TimeList, len(available))
	for i, offset := range available {
		times[i] = runTime.Add(time.Duration(offset) * time.Hour)
	}

	processed := 0
	for ri := range resorts {
		resort := &resorts[ri]
		rows := make([]types.RawSample, len(available))
		for i, offset := range available {
			rows[i] = samples[offset][ri]
		}

		hourly, units, err := normalize.BuildHourlyData(rows, model.MeterScaled)
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to normalize resort data",
				"model", model.ID,
				"resort", resort.Slug,
				"error", err,
			)
			continue
		}
		if allNull(hourly) {
			c.logger.WarnContext(ctx, "all data null for resort, skipping upsert",
				"model", model.ID,
				"resort", resort.Slug,
			)
			continue
		}

		if err := c.storeForecasts(ctx, model, runTime, times, hourly, units, resort); err != nil {
			c.logger.ErrorContext(ctx, "failed to store resort forecasts",
				"model", model.ID,
				"resort", resort.Slug,
				"error", err,
			)
			continue
		}
		processed++
	}

	if processed == 0 {
		return 0, c.failRun(ctx, run, jobID, start, types.NewAppError(
			types.ErrCodeExtractionAllNull,
			fmt.Sprintf("extraction produced no valid data for any resort (%s run %s)",
				model.ID, runTime.Format(time.RFC3339)),
			nil,
		))
	}

	finishedAt := c.clock.Now().UTC()
	duration := finishedAt.Sub(start)
	if err := c.runs.Complete(ctx, run.ID, processed, finishedAt); err != nil {
		return 0, err
	}
	if jobID != 0 {
		if err := c.jobs.Finish(ctx, jobID, types.JobStatusCompleted, processed, duration, "", finishedAt); err != nil {
			c.logger.WarnContext(ctx, "failed to finish job history entry",
				"job_id", jobID,
				"error", err,
			)
		}
	}
	if c.metrics != nil {
		c.metrics.RecordModelRun(model.ID, types.JobStatusCompleted, duration, processed)
		c.metrics.RecordHoursExtracted(model.ID, len(available))
	}

	c.logger.InfoContext(ctx, "model run completed",
		"model", model.ID,
		"run_time", runTime.Format(time.RFC3339),
		"resorts_processed", processed,
		"hours", len(available),
		"duration", duration.Round(time.Second).String(),
	)
	return processed, nil
}

// reclaimStale decides what to do with a run another instance claimed. It
// returns true when the claim was stale and has been reset, false when the
// run is legitimately in flight and should be left alone.
func (c *Coordinator) reclaimStale(ctx context.Context, modelID string, run *types.ModelRun) (bool, error) {
	if run.StartedAt == nil {
		c.logger.WarnContext(ctx, "model run stuck in processing with no start time, resetting",
			"model", modelID,
			"run_time", run.RunTime.Format(time.RFC3339),
		)
		if err := c.runs.MarkFailed(ctx, run.ID, "stale lock reset (no start time)"); err != nil {
			return false, err
		}
		if c.metrics != nil {
			c.metrics.RecordStaleLockReset(modelID)
		}
		return true, nil
	}

	avg, err := c.jobs.AvgCompletedDuration(ctx, modelID)
	if err != nil {
		return false, err
	}
	timeout := staleTimeout(avg, c.staleFallback)
	elapsed := c.clock.Now().UTC().Sub(run.StartedAt.UTC())
	if elapsed <= timeout {
		c.logger.InfoContext(ctx, "model run already processing, skipping",
			"model", modelID,
			"run_time", run.RunTime.Format(time.RFC3339),
			"elapsed", elapsed.Round(time.Second).String(),
		)
		return false, nil
	}

	c.logger.WarnContext(ctx, "model run stuck in processing, resetting stale lock",
		"model", modelID,
		"run_time", run.RunTime.Format(time.RFC3339),
		"elapsed", elapsed.Round(time.Second).String(),
		"timeout", timeout.String(),
		"claimed_by", run.ClaimedBy,
	)
	msg := fmt.Sprintf("stale lock reset after %.0fs", elapsed.Seconds())
	if err := c.runs.MarkFailed(ctx, run.ID, msg); err != nil {
		return false, err
	}
	if c.metrics != nil {
		c.metrics.RecordStaleLockReset(modelID)
	}
	return true, nil
}

// storeForecasts upserts one NormalizedForecast per elevation type, each
// carrying the shared hourly series plus the elevation's snow/rain split.
func (c *Coordinator) storeForecasts(ctx context.Context, model nwp.Model, runTime time.Time, times types.TimeList, hourly types.HourlyData, units types.UnitMap, resort *types.Resort) error {
	for _, elevation := range types.ElevationTypes {
		snow, rain, _ := normalize.HourlySnowfall(
			hourly[types.VarPrecipitation],
			hourly[types.VarTemperature2m],
			hourly[types.VarFreezingLevelHeight],
			resort.Elevation(elevation),
		)
		forecast := &types.NormalizedForecast{
			ResortSlug: resort.Slug,
			ModelID:    model.ID,
			Elevation:  elevation,
			RunTime:    runTime,
			ForecastPayload: types.ForecastPayload{
				TimesUTC:      times,
				HourlyData:    hourly,
				HourlyUnits:   units,
				EnhancedData:  &types.EnhancedData{Snowfall: snow, Rain: rain},
				EnhancedUnits: types.EnhancedUnits(),
			},
		}
		if err := c.forecasts.Upsert(ctx, forecast); err != nil {
			return fmt.Errorf("upserting %s %s forecast: %w", resort.Slug, elevation, err)
		}
	}
	return nil
}

// failRun settles the run and job rows as failed with the error text, then
// hands the cause back so callers can propagate it.
func (c *Coordinator) failRun(ctx context.Context, run *types.ModelRun, jobID int64, start time.Time, cause error) error {
	now := c.clock.Now().UTC()
	if err := c.runs.MarkFailed(ctx, run.ID, cause.Error()); err != nil {
		c.logger.ErrorContext(ctx, "failed to mark model run failed",
			"model", run.ModelID,
			"run_id", run.ID,
			"error", err,
		)
	}
	if jobID != 0 {
		if err := c.jobs.Finish(ctx, jobID, types.JobStatusFailed, 0, now.Sub(start), cause.Error(), now); err != nil {
			c.logger.ErrorContext(ctx, "failed to finish job history entry",
				"job_id", jobID,
				"error", err,
			)
		}
	}
	if c.metrics != nil {
		c.metrics.RecordModelRun(run.ModelID, types.JobStatusFailed, now.Sub(start), 0)
	}
	c.logger.ErrorContext(ctx, "model run failed",
		"model", run.ModelID,
		"run_time", run.RunTime.Format(time.RFC3339),
		"error", cause,
	)
	return cause
}

// allNull reports whether every series in the hourly data is entirely null.
func allNull(hourly types.HourlyData) bool {
	for _, series := range hourly {
		for _, v := range series {
			if v != nil {
				return false
			}
		}
	}
	return true
}
