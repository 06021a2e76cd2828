package pilot

import "math"

// Config holds the per-tick pilot processor configuration.
type Config struct {
	ScanInterval        int64 // ms
	SampleCount         int
	CutoffVoltageMV     int64
	NoiseToleranceMV    int64
	MaxTransitionClocks int
	Boundaries          Boundaries
}

// Window is a fully classified CP sample window. It is immutable once
// published: producers build a new Window per tick and hand cache a
// pointer swap, never mutate a published one.
type Window struct {
	Samples []int64 // millivolts

	Highs            int
	Lows             int
	HighOutliers     int
	LowOutliers      int
	HighsMax         int64
	LowsMin          int64
	MeasuredDutyPct  float64
	Classification   State
	TransitionsTotal int
}

// adcToMillivolts converts a 12-bit ADC code to millivolts given the
// reference voltage in millivolts.
func adcToMillivolts(code int64, vrefMV int64) int64 {
	return code * vrefMV / 4096
}

// BuildWindow runs the classification pipeline over raw ADC codes: bucketing
// by cutoff, outlier removal by standard deviation, and duty computation.
// It does not classify (see Boundaries.Classify) nor publish (see Cache).
func BuildWindow(adcCodes []int64, vrefMV int64, cfg Config) Window {
	samples := make([]int64, len(adcCodes))
	for i, code := range adcCodes {
		samples[i] = adcToMillivolts(code, vrefMV)
	}

	var highsRaw, lowsRaw []int64
	for _, mv := range samples {
		if mv >= cfg.CutoffVoltageMV {
			highsRaw = append(highsRaw, mv)
		} else {
			lowsRaw = append(lowsRaw, mv)
		}
	}

	highSurvivors, highOutliers, highsMax := removeOutliers(highsRaw, cfg.NoiseToleranceMV, true)
	lowSurvivors, lowOutliers, lowsMin := removeOutliers(lowsRaw, cfg.NoiseToleranceMV, false)

	total := len(samples)
	outliersTotal := highOutliers + lowOutliers
	var dutyPct float64
	if total > 0 {
		dutyPct = math.Round((float64(len(highSurvivors))+float64(outliersTotal)/2) / float64(total) * 100)
	}

	return Window{
		Samples:         samples,
		Highs:           len(highSurvivors),
		Lows:            len(lowSurvivors),
		HighOutliers:    highOutliers,
		LowOutliers:     lowOutliers,
		HighsMax:        highsMax,
		LowsMin:         lowsMin,
		MeasuredDutyPct: dutyPct,
	}
}

// removeOutliers computes mean/stddev of values, strips samples whose
// deviation exceeds max(sigma, noiseToleranceMV), and returns the
// surviving samples, the outlier count, and the surviving extreme
// (max for the high bucket, min for the low bucket).
func removeOutliers(values []int64, noiseToleranceMV int64, wantMax bool) (survivors []int64, outliers int, extreme int64) {
	if len(values) == 0 {
		return nil, 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(values))
	sigma := math.Sqrt(variance)

	threshold := sigma
	if float64(noiseToleranceMV) > threshold {
		threshold = float64(noiseToleranceMV)
	}

	first := true
	for _, v := range values {
		if math.Abs(float64(v)-mean) > threshold {
			outliers++
			continue
		}
		survivors = append(survivors, v)
		if first {
			extreme = v
			first = false
			continue
		}
		if wantMax && v > extreme {
			extreme = v
		}
		if !wantMax && v < extreme {
			extreme = v
		}
	}
	return survivors, outliers, extreme
}
