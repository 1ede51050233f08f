// Package normalize turns raw grid samples into the canonical hourly series
// stored per (resort, model, elevation). All kernels are pure; nil marks a
// missing value and propagates instead of erroring.
package normalize

import (
	"fmt"
	"math"

	"peakcast/internal/types"
)

const (
	msToKmh     = 3.6
	gustFactor  = 1.5
	kelvinZeroC = 273.15
	meterToCm   = 100.0
	meterToMm   = 1000.0
)

// WindSpeed derives speed in km/h from U/V components in m/s. Either
// component nil yields nil for that hour.
func WindSpeed(u, v []*float64) ([]*float64, error) {
	if len(u) != len(v) {
		return nil, fmt.Errorf("wind u and v series must be same length: %d vs %d", len(u), len(v))
	}
	result := make([]*float64, len(u))
	for i := range u {
		if u[i] == nil || v[i] == nil {
			continue
		}
		ui, vi := *u[i], *v[i]
		speed := math.Sqrt(ui*ui+vi*vi) * msToKmh
		result[i] = &speed
	}
	return result, nil
}

// estimateGusts derives gusts as a fixed multiple of the wind speed, for
// models that publish no gust field at all.
func estimateGusts(speedKmh []*float64) []*float64 {
	return scale(speedKmh, gustFactor)
}

// scale returns a copy of values with every non-nil entry multiplied by
// factor.
func scale(values []*float64, factor float64) []*float64 {
	result := make([]*float64, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		scaled := *v * factor
		result[i] = &scaled
	}
	return result
}

// shift returns a copy of values with delta added to every non-nil entry.
func shift(values []*float64, delta float64) []*float64 {
	result := make([]*float64, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		shifted := *v + delta
		result[i] = &shifted
	}
	return result
}

func allNil(values []*float64) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}

// BuildHourlyData converts raw per-hour samples (ordered by forecast hour)
// into the six canonical series and their units. meterScaled marks models
// whose accumulated precipitation and snowfall arrive in meters; those are
// scaled to millimeters before the shared pipeline. Empty input yields empty
// maps.
//
// Meter-scaled snowfall is water equivalent rather than depth; those models
// either exclude the snowfall field or rely downstream on the enhanced
// series.
func BuildHourlyData(samples []types.RawSample, meterScaled bool) (types.HourlyData, types.UnitMap, error) {
	if len(samples) == 0 {
		return types.HourlyData{}, types.UnitMap{}, nil
	}

	n := len(samples)
	temps := make([]*float64, n)
	precipAccum := make([]*float64, n)
	snowAccum := make([]*float64, n)
	windU := make([]*float64, n)
	windV := make([]*float64, n)
	rawGusts := make([]*float64, n)
	freezing := make([]*float64, n)
	for i := range samples {
		s := &samples[i]
		temps[i] = s.Temperature
		precipAccum[i] = s.Precipitation
		snowAccum[i] = s.Snowfall
		windU[i] = s.WindU
		windV[i] = s.WindV
		rawGusts[i] = s.WindGust
		freezing[i] = s.FreezingLevel
	}

	if meterScaled {
		precipAccum = scale(precipAccum, meterToMm)
		snowAccum = scale(snowAccum, meterToMm)
	}

	precipHourly := DeAccumulate(precipAccum)
	snowHourly := DeAccumulate(snowAccum)

	speed, err := WindSpeed(windU, windV)
	if err != nil {
		return nil, nil, err
	}

	// Direct gusts arrive in m/s. Only models with no gust field at all
	// (the meter-scaled family) get the speed-derived estimate; a partially
	// missing gust series keeps its gaps.
	var gusts []*float64
	if meterScaled && allNil(rawGusts) {
		gusts = estimateGusts(speed)
	} else {
		gusts = scale(rawGusts, msToKmh)
	}

	hourly := types.HourlyData{
		types.VarTemperature2m:       shift(temps, -kelvinZeroC),
		types.VarWindSpeed10m:        speed,
		types.VarWindGusts10m:        gusts,
		types.VarSnowfall:            scale(snowHourly, meterToCm),
		types.VarPrecipitation:       precipHourly,
		types.VarFreezingLevelHeight: freezing,
	}
	units := types.UnitMap{
		types.VarTemperature2m:       types.UnitCelsius,
		types.VarWindSpeed10m:        types.UnitKmh,
		types.VarWindGusts10m:        types.UnitKmh,
		types.VarSnowfall:            types.UnitCm,
		types.VarPrecipitation:       types.UnitMm,
		types.VarFreezingLevelHeight: types.UnitMeters,
	}
	return hourly, units, nil
}
