package types

import (
	"time"
)

// Resort is one forecast location: a fixed coordinate with two reference
// elevations. Rows are seeded once at bootstrap and read-only afterwards.
type Resort struct {
	ID               int64     `json:"id" db:"id"`
	Slug             string    `json:"slug" db:"slug"`
	Name             string    `json:"name" db:"name"`
	State            string    `json:"state" db:"state"`
	Country          string    `json:"country" db:"country"`
	Lat              float64   `json:"lat" db:"lat"`
	Lon              float64   `json:"lon" db:"lon"`
	BaseElevationM   float64   `json:"base_elevation_m" db:"base_elevation_m"`
	SummitElevationM float64   `json:"summit_elevation_m" db:"summit_elevation_m"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Elevation returns the reference elevation in meters for the given type.
func (r *Resort) Elevation(t ElevationType) float64 {
	if t == ElevationBase {
		return r.BaseElevationM
	}
	return r.SummitElevationM
}

// ModelRun is one attempt to process one (model, run time) pair. At most one
// row exists per pair (uniqueness enforced by the store); the coordinator is
// the only writer. ClaimedBy records the engine instance that currently holds
// or last held the processing claim, for diagnostics only.
type ModelRun struct {
	ID               int64      `json:"id" db:"id"`
	ModelID          string     `json:"model_id" db:"model_id"`
	RunTime          time.Time  `json:"run_datetime" db:"run_datetime"`
	Status           RunStatus  `json:"status" db:"status"`
	Error            string     `json:"error,omitempty" db:"error"`
	ResortsProcessed int        `json:"resorts_processed" db:"resorts_processed"`
	ClaimedBy        string     `json:"claimed_by,omitempty" db:"claimed_by"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// JobRecord is one append-only job_history row: a single execution attempt
// of a model run or blend sweep. Telemetry only, with one exception: the
// average duration of completed model_run jobs feeds the stale-lock timeout.
type JobRecord struct {
	ID               int64      `json:"id" db:"id"`
	JobType          JobType    `json:"job_type" db:"job_type"`
	ModelID          string     `json:"model_id,omitempty" db:"model_id"`
	Status           JobStatus  `json:"status" db:"status"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DurationSeconds  *float64   `json:"duration_seconds,omitempty" db:"duration_seconds"`
	ResortsProcessed int        `json:"resorts_processed" db:"resorts_processed"`
	Error            string     `json:"error,omitempty" db:"error"`
	Metadata         Metadata   `json:"metadata,omitempty" db:"metadata"`
}

// Metadata is free-form jsonb attached to a job record (engine instance id,
// candidate run time, chunk counts).
type Metadata map[string]any

// ForecastPayload is the hourly series payload shared by per-model and
// blended forecasts. Field names mirror the persisted jsonb columns.
type ForecastPayload struct {
	TimesUTC       TimeList       `json:"times_utc"`
	HourlyData     HourlyData     `json:"hourly_data"`
	HourlyUnits    UnitMap        `json:"hourly_units"`
	EnhancedData   *EnhancedData  `json:"enhanced_hourly_data,omitempty"`
	EnhancedUnits  UnitMap        `json:"enhanced_hourly_units,omitempty"`
	EnsembleRanges EnsembleRanges `json:"ensemble_ranges,omitempty"`
}

// Hours returns the series length.
func (p *ForecastPayload) Hours() int {
	return len(p.TimesUTC)
}

// NormalizedForecast is the per (resort, model, elevation) hourly series for
// one model run. Upserts key on the full 4-tuple including run time; newer
// runs supersede rather than replace older ones, and read paths take the
// most recent run time.
type NormalizedForecast struct {
	ID         int64         `json:"id" db:"id"`
	ResortSlug string        `json:"resort_slug" db:"resort_slug"`
	ModelID    string        `json:"model_id" db:"model_id"`
	Elevation  ElevationType `json:"elevation_type" db:"elevation_type"`
	RunTime    time.Time     `json:"run_datetime" db:"run_datetime"`
	ForecastPayload
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BlendForecast is the single current blended forecast for one
// (resort, elevation) pair, overwritten in place on every sweep. It carries
// the weight map used and the source model run times that contributed.
type BlendForecast struct {
	ID         int64         `json:"id" db:"id"`
	ResortSlug string        `json:"resort_slug" db:"resort_slug"`
	Elevation  ElevationType `json:"elevation_type" db:"elevation_type"`
	ForecastPayload
	BlendWeights    WeightMap    `json:"blend_weights" db:"blend_weights"`
	SourceModelRuns SourceRunMap `json:"source_model_runs" db:"source_model_runs"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// WeightMap maps model id to its blend weight.
type WeightMap map[string]float64

// SourceRunMap maps model id to the run time (RFC 3339) that fed a blend.
type SourceRunMap map[string]string

// RunSummary describes the latest completed run for one model, for the
// engine status surface.
type RunSummary struct {
	RunTime          time.Time  `json:"run_datetime"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ResortsProcessed int        `json:"resorts_processed"`
}

// ModelForecastStatus is one entry of a resort's freshness summary: the
// newest stored series for one (model, elevation).
type ModelForecastStatus struct {
	ModelID   string        `json:"model_id"`
	Elevation ElevationType `json:"elevation_type"`
	RunTime   time.Time     `json:"run_datetime"`
	CreatedAt time.Time     `json:"created_at"`
	Hours     int           `json:"hours"`
}

// ResortFreshness summarizes how current a resort's stored forecasts are.
type ResortFreshness struct {
	ResortSlug     string                `json:"resort_slug"`
	Models         []ModelForecastStatus `json:"model_forecasts"`
	BlendAvailable bool                  `json:"blend_available"`
	BlendUpdatedAt *time.Time            `json:"blend_updated_at,omitempty"`
}

// JobWindowStats aggregates job_history rows over a time window.
type JobWindowStats struct {
	TotalJobs     int     `json:"total_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	ErrorRate     float64 `json:"error_rate"`
}

// EngineStats is the aggregate metrics snapshot exposed to the read layer.
type EngineStats struct {
	Last24h             JobWindowStats `json:"last_24h"`
	CacheSizeBytes      int64          `json:"cache_size_bytes"`
	TotalModelRuns      int64          `json:"total_model_runs"`
	TotalBlendForecasts int64          `json:"total_blend_forecasts"`
}
