package nwp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"peakcast/internal/types"
)

// Registry is the authoritative source of model configuration. It is the
// single place where model schedules, step layouts, and product exclusions
// are defined.
type Registry interface {
	// Resolve validates a model identifier or alias and returns the
	// canonical model. Unknown identifiers return a validation error
	// listing the available models.
	Resolve(id string) (Model, error)

	// All returns every known model, scheduled or not, in canonical order.
	All() []Model

	// Scheduled returns the models with a grid source, in blend priority
	// order. This order decides which model supplies the variable list and
	// units when forecasts are blended.
	Scheduled() []Model
}

// staticRegistry is a compile-time model registry backed by in-memory tables.
// It implements Registry and is the standard implementation for production use.
type staticRegistry struct {
	models map[string]Model
	order  []string
}

// modelOrder fixes the canonical ordering. The gridded models come first in
// blend priority order; icon and jma have no grid source yet and sort last.
var modelOrder = []string{
	"hrrr", "gfs", "nbm", "ifs", "aifs", "gefs", "ecmwf_ens",
	"icon", "jma",
}

// modelDefaults defines the hardcoded model configuration:
//
//	| Model     | Steps            | Update | Buffer | MinOffset | Weight | Retention |
//	|-----------|------------------|--------|--------|-----------|--------|-----------|
//	| hrrr      | 1h to 48         | 1h     | 3h     | 0         | 3.0    | 24h       |
//	| gfs       | 1h/120, 3h/384   | 6h     | 3h     | 0         | 2.0    | 72h       |
//	| nbm       | 1h/36, 3h/168    | 3h     | 3h     | 0         | 2.0    | 48h       |
//	| ifs       | 3h/144, 6h/240   | 12h    | 6h     | 3         | 2.0    | 72h       |
//	| aifs      | 6h to 360        | 12h    | 6h     | 6         | 2.0    | 72h       |
//	| gefs      | 3h/240, 6h/384   | 6h     | 3h     | 3         | 1.0    | 72h       |
//	| ecmwf_ens | 3h/144, 6h/360   | 12h    | 6h     | 3         | 1.0    | 72h       |
//
// Exclusions mirror what each product actually publishes: nbm, aifs and
// ecmwf_ens carry no usable snowfall, gust, or freezing level fields, and
// ifs carries no freezing level. The ECMWF family publishes accumulated
// precipitation and snowfall in meters, hence MeterScaled.
var modelDefaults = map[string]Model{
	"hrrr": {
		ID:                 "hrrr",
		DisplayName:        "HRRR",
		Provider:           "NOAA",
		Description:        "High-Resolution Rapid Refresh, NOAA's 3 km short-range model",
		StoreModel:         "hrrr",
		Product:            "sfc",
		MaxForecastDays:    2,
		ResolutionDegrees:  0.03,
		UpdateInterval:     time.Hour,
		AvailabilityBuffer: 3 * time.Hour,
		PollInterval:       time.Hour,
		Steps:              []StepRange{{End: 48, Step: 1}},
		BlendWeight:        3.0,
		CacheRetention:     24 * time.Hour,
	},
	"gfs": {
		ID:                 "gfs",
		DisplayName:        "GFS",
		Provider:           "NOAA",
		Description:        "Global Forecast System, NOAA's primary global model",
		StoreModel:         "gfs",
		Product:            "pgrb2.0p25",
		MaxForecastDays:    16,
		ResolutionDegrees:  0.25,
		UpdateInterval:     6 * time.Hour,
		AvailabilityBuffer: 3 * time.Hour,
		PollInterval:       6 * time.Hour,
		Steps:              []StepRange{{End: 120, Step: 1}, {End: 384, Step: 3}},
		BlendWeight:        2.0,
		CacheRetention:     72 * time.Hour,
	},
	"nbm": {
		ID:                 "nbm",
		DisplayName:        "NBM",
		Provider:           "NOAA",
		Description:        "National Blend of Models, NOAA's statistically post-processed blend",
		StoreModel:         "nbm",
		Product:            "co",
		MaxForecastDays:    7,
		ResolutionDegrees:  0.025,
		UpdateInterval:     3 * time.Hour,
		AvailabilityBuffer: 3 * time.Hour,
		PollInterval:       3 * time.Hour,
		Steps:              []StepRange{{End: 36, Step: 1}, {End: 168, Step: 3}},
		Excluded: []types.RawVariable{
			types.RawSnowfall, types.RawWindGust, types.RawFreezingLevel,
		},
		BlendWeight:    2.0,
		CacheRetention: 48 * time.Hour,
	},
	"ifs": {
		ID:                 "ifs",
		DisplayName:        "IFS",
		Provider:           "ECMWF",
		Description:        "Integrated Forecasting System, ECMWF's operational global model",
		StoreModel:         "ifs",
		Product:            "oper",
		MaxForecastDays:    10,
		ResolutionDegrees:  0.25,
		UpdateInterval:     12 * time.Hour,
		AvailabilityBuffer: 6 * time.Hour,
		PollInterval:       12 * time.Hour,
		Steps:              []StepRange{{End: 144, Step: 3}, {End: 240, Step: 6}},
		MinOffset:          3,
		MeterScaled:        true,
		Excluded:           []types.RawVariable{types.RawFreezingLevel},
		BlendWeight:        2.0,
		CacheRetention:     72 * time.Hour,
	},
	"aifs": {
		ID:                 "aifs",
		DisplayName:        "AIFS",
		Provider:           "ECMWF",
		Description:        "Artificial Intelligence Forecasting System, ECMWF's data-driven model",
		StoreModel:         "aifs",
		Product:            "oper",
		MaxForecastDays:    15,
		ResolutionDegrees:  0.25,
		UpdateInterval:     12 * time.Hour,
		AvailabilityBuffer: 6 * time.Hour,
		PollInterval:       12 * time.Hour,
		Steps:              []StepRange{{End: 360, Step: 6}},
		MinOffset:          6,
		MeterScaled:        true,
		Excluded: []types.RawVariable{
			types.RawSnowfall, types.RawWindGust, types.RawFreezingLevel,
		},
		BlendWeight:    2.0,
		CacheRetention: 72 * time.Hour,
	},
	"gefs": {
		ID:                 "gefs",
		DisplayName:        "GEFS",
		Provider:           "NOAA",
		Description:        "Global Ensemble Forecast System, NOAA's 30-member ensemble",
		StoreModel:         "gefs",
		Product:            "atmos.5",
		MaxForecastDays:    16,
		ResolutionDegrees:  0.25,
		UpdateInterval:     6 * time.Hour,
		AvailabilityBuffer: 3 * time.Hour,
		PollInterval:       6 * time.Hour,
		Steps:              []StepRange{{End: 240, Step: 3}, {End: 384, Step: 6}},
		MinOffset:          3,
		Ensemble:           true,
		BlendWeight:        1.0,
		CacheRetention:     72 * time.Hour,
	},
	"ecmwf_ens": {
		ID:                 "ecmwf_ens",
		DisplayName:        "ECMWF ENS",
		Provider:           "ECMWF",
		Description:        "ECMWF ensemble prediction system with 51 members",
		StoreModel:         "ifs",
		Product:            "enfo",
		MaxForecastDays:    15,
		ResolutionDegrees:  0.25,
		UpdateInterval:     12 * time.Hour,
		AvailabilityBuffer: 6 * time.Hour,
		PollInterval:       12 * time.Hour,
		Steps:              []StepRange{{End: 144, Step: 3}, {End: 360, Step: 6}},
		MinOffset:          3,
		Ensemble:           true,
		MeterScaled:        true,
		Excluded: []types.RawVariable{
			types.RawSnowfall, types.RawWindGust, types.RawFreezingLevel,
		},
		BlendWeight:    1.0,
		CacheRetention: 72 * time.Hour,
	},
	"icon": {
		ID:                "icon",
		DisplayName:       "ICON",
		Provider:          "DWD",
		Description:       "Icosahedral Nonhydrostatic model from DWD",
		MaxForecastDays:   7,
		ResolutionDegrees: 0.125,
		UpdateInterval:    6 * time.Hour,
	},
	"jma": {
		ID:                "jma",
		DisplayName:       "JMA",
		Provider:          "JMA",
		Description:       "Japan Meteorological Agency global model",
		MaxForecastDays:   11,
		ResolutionDegrees: 0.25,
		UpdateInterval:    6 * time.Hour,
	},
}

// modelAliases maps convenience names onto canonical identifiers.
var modelAliases = map[string]string{
	"noaa":            "gfs",
	"global":          "gfs",
	"ecmwf":           "ifs",
	"european":        "ifs",
	"ai":              "aifs",
	"german":          "icon",
	"dwd":             "icon",
	"japan":           "jma",
	"hrrr3km":         "hrrr",
	"ensemble":        "gefs",
	"ens":             "ecmwf_ens",
	"national_blend":  "nbm",
	"blend_of_models": "nbm",
}

// NewStaticRegistry returns a Registry backed by the hardcoded model tables.
// This is the standard production implementation; no database or external
// service is required.
func NewStaticRegistry() Registry {
	// Copy the defaults into a new map so callers cannot mutate the package-level variable.
	m := make(map[string]Model, len(modelDefaults))
	for k, v := range modelDefaults {
		m[k] = v
	}
	return &staticRegistry{models: m, order: modelOrder}
}

// Resolve validates a model identifier or alias and returns the canonical model.
func (r *staticRegistry) Resolve(id string) (Model, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))

	if m, ok := r.models[normalized]; ok {
		return m, nil
	}
	if canonical, ok := modelAliases[normalized]; ok {
		return r.models[canonical], nil
	}

	available := make([]string, 0, len(r.models))
	for k := range r.models {
		available = append(available, k)
	}
	sort.Strings(available)
	return Model{}, types.NewAppError(
		types.ErrCodeValidationModelUnknown,
		fmt.Sprintf("unknown model %q, available models: %s", id, strings.Join(available, ", ")),
		nil,
	).WithDetails(map[string]any{"model": id})
}

// All returns every known model in canonical order.
func (r *staticRegistry) All() []Model {
	out := make([]Model, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// Scheduled returns the gridded models in blend priority order.
func (r *staticRegistry) Scheduled() []Model {
	out := make([]Model, 0, len(r.order))
	for _, id := range r.order {
		if m := r.models[id]; m.Gridded() {
			out = append(out, m)
		}
	}
	return out
}
