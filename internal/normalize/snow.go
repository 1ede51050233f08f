package normalize

// snowRatioCurve holds (temperature C, snow-to-liquid ratio) reference
// points, warmest first. Between points the ratio interpolates linearly;
// outside the range it clamps to the end points.
var snowRatioCurve = []struct {
	tempC float64
	ratio float64
}{
	{2.0, 0.0},
	{0.0, 8.0},
	{-3.0, 10.0},
	{-6.0, 12.0},
	{-9.0, 15.0},
	{-12.0, 18.0},
	{-15.0, 20.0},
	{-20.0, 25.0},
	{-25.0, 30.0},
}

const (
	// snowThresholdC is the air temperature at or below which precipitation
	// counts as snow, absent a freezing-level override.
	snowThresholdC = 2.0
	// mixedZoneBufferM is the half-width of the rain/snow transition band
	// around the freezing level.
	mixedZoneBufferM = 300.0
)

// SnowRatio returns the snow-to-liquid ratio for a temperature in Celsius.
// Warmer than +2C is rain (ratio 0); colder than -25C caps at 30:1.
func SnowRatio(tempC float64) float64 {
	if tempC >= snowRatioCurve[0].tempC {
		return snowRatioCurve[0].ratio
	}
	coldest := snowRatioCurve[len(snowRatioCurve)-1]
	if tempC <= coldest.tempC {
		return coldest.ratio
	}

	for i := 0; i < len(snowRatioCurve)-1; i++ {
		warm, cold := snowRatioCurve[i], snowRatioCurve[i+1]
		if cold.tempC <= tempC && tempC < warm.tempC {
			fraction := (warm.tempC - tempC) / (warm.tempC - cold.tempC)
			return warm.ratio + (cold.ratio-warm.ratio)*fraction
		}
	}
	return 10.0
}

// SnowfallFromPrecip converts one hour of liquid precipitation (mm) into
// snow depth (cm) via the temperature-dependent ratio, reporting whether the
// hour is snow at all. When the freezing level is known, the elevation
// relative to it overrides the temperature threshold outside the mixed band.
func SnowfallFromPrecip(precipMm, tempC float64, freezingLevelM *float64, elevationM float64) (float64, bool) {
	if precipMm <= 0 {
		return 0, false
	}

	isSnow := tempC <= snowThresholdC
	if freezingLevelM != nil {
		if elevationM > *freezingLevelM+mixedZoneBufferM {
			isSnow = true
		} else if elevationM < *freezingLevelM-mixedZoneBufferM {
			isSnow = false
		}
	}
	if !isSnow {
		return 0, false
	}

	ratio := SnowRatio(tempC)
	if ratio <= 0 {
		return 0, false
	}

	// precip times ratio is snow depth in mm; divide by 10 for cm.
	return precipMm * ratio / 10.0, true
}

// HourlySnowfall derives the enhanced snow/rain split for one elevation from
// hourly precipitation (mm), temperature (C), and freezing level (m). Output
// series are concrete and aligned with the precipitation series: hours with
// nil or non-positive precipitation are dry, and a nil temperature falls
// back to 0C.
func HourlySnowfall(precip, temp, freezing []*float64, elevationM float64) (snowCm, rainMm []float64, isSnow []bool) {
	n := len(precip)
	snowCm = make([]float64, n)
	rainMm = make([]float64, n)
	isSnow = make([]bool, n)

	for i, p := range precip {
		if p == nil || *p <= 0 {
			continue
		}

		tempC := 0.0
		if i < len(temp) && temp[i] != nil {
			tempC = *temp[i]
		}
		var freezingLevel *float64
		if i < len(freezing) {
			freezingLevel = freezing[i]
		}

		snow, snowy := SnowfallFromPrecip(*p, tempC, freezingLevel, elevationM)
		snowCm[i] = snow
		isSnow[i] = snowy
		if !snowy {
			rainMm[i] = *p
		}
	}
	return snowCm, rainMm, isSnow
}
