package types

// RawSample holds the raw field values sampled from one grid at one
// (forecast hour, coordinate). Nil means the field was unavailable: excluded
// for the model, missing from the grid, or failed to sample. Accumulated
// fields (precipitation, snowfall) are running totals since the run start,
// in the model's native unit.
type RawSample struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	Precipitation *float64 `json:"precipitation,omitempty"`
	Snowfall      *float64 `json:"snowfall,omitempty"`
	WindU         *float64 `json:"wind_u,omitempty"`
	WindV         *float64 `json:"wind_v,omitempty"`
	WindGust      *float64 `json:"wind_gust,omitempty"`
	FreezingLevel *float64 `json:"freezing_level,omitempty"`
}

// Set assigns the value for the given raw variable.
func (s *RawSample) Set(v RawVariable, val *float64) {
	switch v {
	case RawTemperature:
		s.Temperature = val
	case RawPrecipitation:
		s.Precipitation = val
	case RawSnowfall:
		s.Snowfall = val
	case RawWindU:
		s.WindU = val
	case RawWindV:
		s.WindV = val
	case RawWindGust:
		s.WindGust = val
	case RawFreezingLevel:
		s.FreezingLevel = val
	}
}

// Get returns the value for the given raw variable, nil if unset.
func (s *RawSample) Get(v RawVariable) *float64 {
	switch v {
	case RawTemperature:
		return s.Temperature
	case RawPrecipitation:
		return s.Precipitation
	case RawSnowfall:
		return s.Snowfall
	case RawWindU:
		return s.WindU
	case RawWindV:
		return s.WindV
	case RawWindGust:
		return s.WindGust
	case RawFreezingLevel:
		return s.FreezingLevel
	default:
		return nil
	}
}

// HourlyData maps a canonical variable key to its hourly value sequence.
// Nil entries mark hours where the variable was unavailable; sequence length
// always equals the forecast's hour count.
type HourlyData map[string][]*float64

// UnitMap maps a variable key to its unit label.
type UnitMap map[string]string

// EnhancedData carries the derived snow/rain split for one elevation type.
// Values are always concrete (zero when nothing falls), never null, so the
// query layer can sum them without nil checks.
type EnhancedData struct {
	Snowfall []float64 `json:"enhanced_snowfall"` // cm
	Rain     []float64 `json:"rain"`              // mm
}

// Series returns the named enhanced series, or nil when the key is not an
// enhanced variable. Used by the blend engine's enhanced-first lookups.
func (e *EnhancedData) Series(key string) []float64 {
	if e == nil {
		return nil
	}
	switch key {
	case VarEnhancedSnowfall:
		return e.Snowfall
	case VarRain:
		return e.Rain
	default:
		return nil
	}
}

// EnhancedUnits is the fixed unit map persisted alongside EnhancedData.
func EnhancedUnits() UnitMap {
	return UnitMap{VarEnhancedSnowfall: UnitCm, VarRain: UnitMm}
}

// VariableRange holds per-hour 10th/90th-percentile bounds for one variable,
// computed across ensemble models. Hours with no contributing values carry
// (0, 0). P10[i] <= P90[i] for every i.
type VariableRange struct {
	P10 []float64 `json:"p10"`
	P90 []float64 `json:"p90"`
}

// EnsembleRanges maps a variable key to its percentile bounds.
type EnsembleRanges map[string]VariableRange

// RangeVariables lists the variables ensemble ranges are computed for.
var RangeVariables = []string{VarEnhancedSnowfall, VarTemperature2m, VarPrecipitation}
