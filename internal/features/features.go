// Package features extracts the statistical feature set used by the
// theft-detection models from an hourly consumption series.
package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// rollingWindow is the window size (hours) for rolling statistics.
const rollingWindow = 24

// Vector holds named feature values for one consumption profile.
type Vector map[string]float64

// Names returns the canonical feature ordering expected by the
// tree-model exports. Must match the order used at training time.
func Names() []string {
	return []string{
		"mean", "std", "median", "min", "max", "range",
		"q25", "q75", "iqr", "skewness", "kurtosis", "cv",
		"mean_diff", "std_diff", "trend_slope",
		"zero_count", "zero_ratio", "negative_count", "negative_ratio",
		"low_consumption_count", "low_consumption_ratio",
		"high_consumption_count", "high_consumption_ratio",
		"mad", "rolling_std_mean", "rolling_std_std",
		"hour_mean", "hour_std", "peak_hour",
		"is_weekend_dominant", "morning_hour_ratio",
		"evening_hour_ratio", "night_hour_ratio", "sequence_length",
	}
}

// Slice returns the feature values in canonical order.
// Missing names map to 0.
func (v Vector) Slice() []float64 {
	names := Names()
	out := make([]float64, len(names))
	for i, name := range names {
		out[i] = v[name]
	}
	return out
}

// Extract computes the feature vector for an hourly consumption series.
// All NaN/Inf intermediates are scrubbed to 0 so downstream scorers and
// rules never see non-finite values.
func Extract(readings []float64) Vector {
	v := Vector{}
	n := len(readings)
	if n == 0 {
		for _, name := range Names() {
			v[name] = 0
		}
		v["hourly_range"] = 0
		return v
	}

	// Statistical features
	mean := stat.Mean(readings, nil)
	std := popStd(readings, mean)
	v["mean"] = mean
	v["std"] = std

	sorted := make([]float64, n)
	copy(sorted, readings)
	sort.Float64s(sorted)

	v["median"] = stat.Quantile(0.5, stat.LinInterp, sorted, nil)
	v["min"] = floats.Min(readings)
	v["max"] = floats.Max(readings)
	v["range"] = v["max"] - v["min"]
	v["q25"] = stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	v["q75"] = stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	v["iqr"] = v["q75"] - v["q25"]
	if n >= 3 {
		v["skewness"] = stat.Skew(readings, nil)
	}
	if n >= 4 {
		v["kurtosis"] = stat.ExKurtosis(readings, nil)
	}
	if mean != 0 {
		v["cv"] = std / mean
	}

	// Temporal features
	if n > 1 {
		diffs := make([]float64, n-1)
		for i := 1; i < n; i++ {
			diffs[i-1] = readings[i] - readings[i-1]
		}
		dm := stat.Mean(diffs, nil)
		v["mean_diff"] = dm
		v["std_diff"] = popStd(diffs, dm)

		xs := make([]float64, n)
		for i := range xs {
			xs[i] = float64(i)
		}
		_, slope := stat.LinearRegression(xs, readings, nil, false)
		v["trend_slope"] = slope
	}

	// Consumption patterns
	var zeros, negatives, low, high int
	lowThreshold := mean * 0.1
	if mean <= 0 {
		lowThreshold = 0.1
	}
	highThreshold := mean * 2.0
	if mean <= 0 {
		highThreshold = 5.0
	}
	for _, r := range readings {
		if r == 0 {
			zeros++
		}
		if r < 0 {
			negatives++
		}
		if r < lowThreshold {
			low++
		}
		if r > highThreshold {
			high++
		}
	}
	fn := float64(n)
	v["zero_count"] = float64(zeros)
	v["zero_ratio"] = float64(zeros) / fn
	v["negative_count"] = float64(negatives)
	v["negative_ratio"] = float64(negatives) / fn
	v["low_consumption_count"] = float64(low)
	v["low_consumption_ratio"] = float64(low) / fn
	v["high_consumption_count"] = float64(high)
	v["high_consumption_ratio"] = float64(high) / fn

	// Median absolute deviation
	devs := make([]float64, n)
	for i, r := range readings {
		devs[i] = math.Abs(r - v["median"])
	}
	sort.Float64s(devs)
	v["mad"] = stat.Quantile(0.5, stat.LinInterp, devs, nil)

	// Rolling statistics over a 24h window
	if n >= rollingWindow {
		rolling := make([]float64, 0, n-rollingWindow+1)
		for i := rollingWindow; i <= n; i++ {
			w := readings[i-rollingWindow : i]
			rolling = append(rolling, stat.StdDev(w, nil))
		}
		rm := stat.Mean(rolling, nil)
		v["rolling_std_mean"] = rm
		if len(rolling) > 1 {
			v["rolling_std_std"] = stat.StdDev(rolling, nil)
		}
	} else {
		v["rolling_std_mean"] = std
	}

	// Hour-of-day profile
	if n >= 24 {
		hourlyMeans := make([]float64, 0, 24)
		peakHour := 0
		peakMean := math.Inf(-1)
		for hour := 0; hour < 24; hour++ {
			var sum float64
			var count int
			for i := hour; i < n; i += 24 {
				sum += readings[i]
				count++
			}
			if count == 0 {
				continue
			}
			hm := sum / float64(count)
			if hm > peakMean {
				peakMean = hm
				peakHour = hour
			}
			hourlyMeans = append(hourlyMeans, hm)
		}
		hmMean := stat.Mean(hourlyMeans, nil)
		v["hour_mean"] = hmMean
		v["hour_std"] = popStd(hourlyMeans, hmMean)
		v["peak_hour"] = float64(peakHour)
	} else {
		v["hour_mean"] = mean
		v["hour_std"] = std
	}

	// Weekend dominance needs timestamps, which hourly snapshots lack.
	v["is_weekend_dominant"] = 0

	// Hour distribution: morning 6-12, evening 18-22, night 22-6.
	total := floats.Sum(readings)
	if n >= 24 && total > 0 {
		var morning, evening, night float64
		for i, r := range readings {
			switch hour := i % 24; {
			case hour >= 6 && hour < 12:
				morning += r
			case hour >= 18 && hour < 22:
				evening += r
			default:
				if hour >= 22 || hour < 6 {
					night += r
				}
			}
		}
		v["morning_hour_ratio"] = morning / total
		v["evening_hour_ratio"] = evening / total
		v["night_hour_ratio"] = night / total
	} else {
		v["morning_hour_ratio"] = 0.33
		v["evening_hour_ratio"] = 0.33
		v["night_hour_ratio"] = 0.33
	}

	v["sequence_length"] = fn

	// Daily variation of the trailing 24h, used by the peak-pattern rule.
	if n >= 24 {
		last := readings[n-24:]
		v["hourly_range"] = floats.Max(last) - floats.Min(last)
	}

	for name, val := range v {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			v[name] = 0
		}
	}

	return v
}

// popStd computes the population standard deviation.
func popStd(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
