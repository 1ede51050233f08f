// Package nwp defines the registry of numerical weather prediction models
// the engine ingests, along with each model's publication schedule, forecast
// step layout, and product quirks.
package nwp

import (
	"time"

	"peakcast/internal/types"
)

// StepRange describes one segment of a model's forecast step schedule:
// hours up to and including End are published every Step hours.
type StepRange struct {
	End  int
	Step int
}

// Model is the static configuration for one forecast model.
type Model struct {
	// ID is the canonical model identifier (e.g. "gfs").
	ID string

	DisplayName string
	Provider    string
	Description string

	// StoreModel and Product are the object key segments under which the
	// model's grid tiles live in the tile store. ECMWF ENS shares the "ifs"
	// store with a different product. Models with an empty StoreModel have
	// no grid source and are never scheduled.
	StoreModel string
	Product    string

	MaxForecastDays   int
	ResolutionDegrees float64

	// UpdateInterval is the cadence at which the provider publishes new
	// runs. Run times are aligned to multiples of this interval.
	UpdateInterval time.Duration

	// AvailabilityBuffer is how long after the nominal run time the data
	// is expected to be fully published.
	AvailabilityBuffer time.Duration

	// PollInterval is how often the scheduler checks for a new run.
	PollInterval time.Duration

	// Steps is the piecewise forecast step schedule. A nil Steps means
	// hourly output out to MaxForecastDays.
	Steps []StepRange

	// MinOffset is the first forecast hour worth extracting. Models that
	// publish no useful data at analysis time set this above zero.
	MinOffset int

	Ensemble bool

	// MeterScaled marks products whose accumulated precipitation and
	// snowfall fields are in meters rather than mm (the ECMWF family).
	MeterScaled bool

	// Excluded lists raw variables the product does not carry.
	Excluded []types.RawVariable

	// BlendWeight is the model's default weight in the multi-model blend.
	// Zero means the model does not participate.
	BlendWeight float64

	// CacheRetention is how long downloaded grid tiles are kept on disk.
	CacheRetention time.Duration
}

// Gridded reports whether the model has a grid source and can be scheduled.
func (m Model) Gridded() bool {
	return m.StoreModel != ""
}

// Excludes reports whether the product omits the given raw variable.
func (m Model) Excludes(v types.RawVariable) bool {
	for _, ex := range m.Excluded {
		if ex == v {
			return true
		}
	}
	return false
}

// OffsetRange expands the step schedule into the ordered list of forecast
// hours to extract. Each segment starts one step after the previous
// segment's end (the first starts at zero), and hours below MinOffset are
// dropped.
func (m Model) OffsetRange() []int {
	if len(m.Steps) == 0 {
		maxHour := m.MaxForecastDays * 24
		hours := make([]int, 0, maxHour+1)
		for h := m.MinOffset; h <= maxHour; h++ {
			hours = append(hours, h)
		}
		return hours
	}

	var hours []int
	prevEnd := 0
	for i, seg := range m.Steps {
		start := prevEnd
		if i > 0 {
			start = prevEnd + seg.Step
		}
		for h := start; h <= seg.End; h += seg.Step {
			if h >= m.MinOffset {
				hours = append(hours, h)
			}
		}
		prevEnd = seg.End
	}
	return hours
}

// MaxOffset returns the last forecast hour the model publishes.
func (m Model) MaxOffset() int {
	if len(m.Steps) == 0 {
		return m.MaxForecastDays * 24
	}
	return m.Steps[len(m.Steps)-1].End
}
