package types

// Canonical hourly variable keys.
// Every normalized series carries exactly these six keys; excluded or missing
// variables appear as all-null sequences, never as absent keys. The read-only
// query layer depends on these exact strings.
const (
	VarTemperature2m       = "temperature_2m"
	VarWindSpeed10m        = "wind_speed_10m"
	VarWindGusts10m        = "wind_gusts_10m"
	VarSnowfall            = "snowfall"
	VarPrecipitation       = "precipitation"
	VarFreezingLevelHeight = "freezing_level_height"
)

// CanonicalVariables lists the six keys in presentation order.
var CanonicalVariables = []string{
	VarTemperature2m,
	VarWindSpeed10m,
	VarWindGusts10m,
	VarSnowfall,
	VarPrecipitation,
	VarFreezingLevelHeight,
}

// Canonical unit labels, keyed by variable above.
const (
	UnitCelsius = "C"
	UnitKmh     = "kmh"
	UnitCm      = "cm"
	UnitMm      = "mm"
	UnitMeters  = "m"
)

// Derived "enhanced" variable keys, produced per elevation type from
// precipitation, temperature, and freezing level. The snow/rain split also
// yields a per-hour snow flag, but only the depth series are persisted.
const (
	VarEnhancedSnowfall = "enhanced_snowfall"
	VarRain             = "rain"
)

// RawVariable identifies one field requested from a GridSource. Raw
// variables are model-product fields; the normalization step maps them onto
// the canonical keys (de-accumulation, unit conversion, U/V composition).
type RawVariable string

const (
	RawTemperature   RawVariable = "temperature"    // 2m air temperature, K
	RawPrecipitation RawVariable = "precipitation"  // accumulated total precipitation
	RawSnowfall      RawVariable = "snowfall"       // accumulated snowfall
	RawWindU         RawVariable = "wind_u"         // 10m U component, m/s
	RawWindV         RawVariable = "wind_v"         // 10m V component, m/s
	RawWindGust      RawVariable = "wind_gust"      // 10m gust, m/s
	RawFreezingLevel RawVariable = "freezing_level" // 0C isotherm height, m
)

// RawVariables lists every field the extraction pipeline attempts, in
// request order.
var RawVariables = []RawVariable{
	RawTemperature,
	RawPrecipitation,
	RawSnowfall,
	RawWindU,
	RawWindV,
	RawWindGust,
	RawFreezingLevel,
}

// CanonicalKey returns the canonical variable a raw field feeds, used to
// match raw fields against per-model exclusion sets (which are expressed in
// canonical keys). Wind components both feed the derived speed series.
func (v RawVariable) CanonicalKey() string {
	switch v {
	case RawTemperature:
		return VarTemperature2m
	case RawPrecipitation:
		return VarPrecipitation
	case RawSnowfall:
		return VarSnowfall
	case RawWindU, RawWindV:
		return VarWindSpeed10m
	case RawWindGust:
		return VarWindGusts10m
	case RawFreezingLevel:
		return VarFreezingLevelHeight
	default:
		return string(v)
	}
}
