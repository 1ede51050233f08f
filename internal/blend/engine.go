// Package blend computes the multi-model weighted blend and ensemble
// prediction ranges from the latest normalized forecast of each model, and
// sweeps every (resort, elevation) pair to keep one current blend row apiece.
package blend

import (
	"sort"

	"peakcast/internal/types"
)

// ModelForecast pairs a model with its latest payload for one (resort,
// elevation). Inputs are ordered: the first entry is the template that
// supplies the blend's time axis and unit map, so callers pass models in
// blend priority order.
type ModelForecast struct {
	ModelID string
	Payload *types.ForecastPayload
}

// ComputeBlend returns the weighted per-hour mean of the input forecasts.
// Output length is the minimum input length; longer series are truncated at
// the tail. Hours where no model reports a value blend to null for the
// canonical variables and to zero for the enhanced ones. Models absent from
// the weight map contribute with weight 1.
func ComputeBlend(inputs []ModelForecast, weights types.WeightMap) (*types.ForecastPayload, error) {
	if len(inputs) == 0 {
		return nil, types.NewAppError(types.ErrCodeBlendNoForecasts, "no forecasts to blend", nil)
	}

	minHours := inputs[0].Payload.Hours()
	for _, in := range inputs[1:] {
		if h := in.Payload.Hours(); h < minHours {
			minHours = h
		}
	}

	blended := make(types.HourlyData, len(types.CanonicalVariables))
	for _, key := range types.CanonicalVariables {
		series := make([]*float64, minHours)
		for hour := 0; hour < minHours; hour++ {
			var weightedSum, totalWeight float64
			for _, in := range inputs {
				values, ok := in.Payload.HourlyData[key]
				if !ok || hour >= len(values) || values[hour] == nil {
					continue
				}
				w := weightFor(weights, in.ModelID)
				weightedSum += *values[hour] * w
				totalWeight += w
			}
			if totalWeight > 0 {
				v := weightedSum / totalWeight
				series[hour] = &v
			}
		}
		blended[key] = series
	}

	enhanced := &types.EnhancedData{
		Snowfall: blendEnhanced(inputs, weights, types.VarEnhancedSnowfall, minHours),
		Rain:     blendEnhanced(inputs, weights, types.VarRain, minHours),
	}

	times := make(types.TimeList, minHours)
	copy(times, inputs[0].Payload.TimesUTC)

	return &types.ForecastPayload{
		TimesUTC:      times,
		HourlyData:    blended,
		HourlyUnits:   inputs[0].Payload.HourlyUnits,
		EnhancedData:  enhanced,
		EnhancedUnits: types.EnhancedUnits(),
	}, nil
}

// blendEnhanced averages one enhanced series across models. Enhanced values
// are always concrete, so hours no model covers come out as zero, not null.
func blendEnhanced(inputs []ModelForecast, weights types.WeightMap, key string, minHours int) []float64 {
	out := make([]float64, minHours)
	for hour := 0; hour < minHours; hour++ {
		var weightedSum, totalWeight float64
		for _, in := range inputs {
			series := in.Payload.EnhancedData.Series(key)
			if hour >= len(series) {
				continue
			}
			w := weightFor(weights, in.ModelID)
			weightedSum += series[hour] * w
			totalWeight += w
		}
		if totalWeight > 0 {
			out[hour] = weightedSum / totalWeight
		}
	}
	return out
}

// ComputeEnsembleRanges derives per-hour 10th/90th-percentile bounds across
// the given forecasts, which should come from ensemble models only. For each
// variable the enhanced series is preferred when it carries the key,
// otherwise the hourly series is used. Hours with no values yield (0, 0).
func ComputeEnsembleRanges(inputs []ModelForecast, variables []string) types.EnsembleRanges {
	if len(inputs) == 0 {
		return nil
	}
	if len(variables) == 0 {
		variables = types.RangeVariables
	}

	minHours := inputs[0].Payload.Hours()
	for _, in := range inputs[1:] {
		if h := in.Payload.Hours(); h < minHours {
			minHours = h
		}
	}

	ranges := make(types.EnsembleRanges, len(variables))
	for _, key := range variables {
		p10 := make([]float64, minHours)
		p90 := make([]float64, minHours)
		for hour := 0; hour < minHours; hour++ {
			var values []float64
			for _, in := range inputs {
				if series := in.Payload.EnhancedData.Series(key); series != nil {
					if hour < len(series) {
						values = append(values, series[hour])
					}
					continue
				}
				if series, ok := in.Payload.HourlyData[key]; ok && hour < len(series) && series[hour] != nil {
					values = append(values, *series[hour])
				}
			}
			if len(values) == 0 {
				continue
			}
			sort.Float64s(values)
			n := len(values)
			p10[hour] = values[int(float64(n)*0.1)]
			p90[hour] = values[min(n-1, int(float64(n)*0.9))]
		}
		ranges[key] = types.VariableRange{P10: p10, P90: p90}
	}
	return ranges
}

// weightFor returns the model's blend weight, defaulting to 1 for models
// missing from the map.
func weightFor(weights types.WeightMap, modelID string) float64 {
	if w, ok := weights[modelID]; ok {
		return w
	}
	return 1.0
}
