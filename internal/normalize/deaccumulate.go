package normalize

// DeAccumulate converts run-accumulated series (total precipitation,
// snowfall) into per-step increments. The first value is its own increment.
// Nil entries propagate without disturbing the running accumulator, and
// negative increments from float noise clamp to zero.
func DeAccumulate(values []*float64) []*float64 {
	result := make([]*float64, len(values))
	prev := 0.0

	for i, val := range values {
		if val == nil {
			continue
		}
		inc := *val - prev
		if i == 0 {
			inc = *val
		}
		if inc < 0 {
			inc = 0
		}
		v := inc
		result[i] = &v
		prev = *val
	}
	return result
}
