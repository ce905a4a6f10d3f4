package features

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestExtractBasicStats(t *testing.T) {
	readings := []float64{1, 2, 3, 4, 5}
	v := Extract(readings)

	if !almostEqual(v["mean"], 3.0, 1e-9) {
		t.Errorf("mean = %f, want 3.0", v["mean"])
	}
	if !almostEqual(v["median"], 3.0, 1e-9) {
		t.Errorf("median = %f, want 3.0", v["median"])
	}
	if !almostEqual(v["min"], 1.0, 1e-9) {
		t.Errorf("min = %f, want 1.0", v["min"])
	}
	if !almostEqual(v["max"], 5.0, 1e-9) {
		t.Errorf("max = %f, want 5.0", v["max"])
	}
	if !almostEqual(v["range"], 4.0, 1e-9) {
		t.Errorf("range = %f, want 4.0", v["range"])
	}
	if !almostEqual(v["sequence_length"], 5.0, 1e-9) {
		t.Errorf("sequence_length = %f, want 5", v["sequence_length"])
	}
}

func TestExtractZeroAndNegativeCounts(t *testing.T) {
	readings := []float64{0, 0, -1.5, 2, 3, 0}
	v := Extract(readings)

	if v["zero_count"] != 3 {
		t.Errorf("zero_count = %f, want 3", v["zero_count"])
	}
	if !almostEqual(v["zero_ratio"], 0.5, 1e-9) {
		t.Errorf("zero_ratio = %f, want 0.5", v["zero_ratio"])
	}
	if v["negative_count"] != 1 {
		t.Errorf("negative_count = %f, want 1", v["negative_count"])
	}
}

func TestExtractTrendSlope(t *testing.T) {
	// Strictly increasing series has slope 1.
	readings := make([]float64, 48)
	for i := range readings {
		readings[i] = float64(i)
	}
	v := Extract(readings)
	if !almostEqual(v["trend_slope"], 1.0, 1e-9) {
		t.Errorf("trend_slope = %f, want 1.0", v["trend_slope"])
	}

	// Declining series has negative slope.
	for i := range readings {
		readings[i] = float64(48 - i)
	}
	v = Extract(readings)
	if v["trend_slope"] >= 0 {
		t.Errorf("trend_slope = %f, want negative", v["trend_slope"])
	}
}

func TestExtractEmptyInput(t *testing.T) {
	v := Extract(nil)
	for _, name := range Names() {
		if v[name] != 0 {
			t.Errorf("feature %s = %f, want 0 for empty input", name, v[name])
		}
	}
}

func TestExtractConstantSeries(t *testing.T) {
	readings := make([]float64, 72)
	for i := range readings {
		readings[i] = 2.5
	}
	v := Extract(readings)

	if v["std"] != 0 {
		t.Errorf("std = %f, want 0", v["std"])
	}
	if v["cv"] != 0 {
		t.Errorf("cv = %f, want 0", v["cv"])
	}
	// Constant input produces NaN skewness upstream; must be scrubbed.
	for name, val := range v {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			t.Errorf("feature %s is not finite: %f", name, val)
		}
	}
}

func TestExtractNightRatio(t *testing.T) {
	// All consumption between 22:00 and 06:00 over three days.
	readings := make([]float64, 72)
	for i := range readings {
		hour := i % 24
		if hour >= 22 || hour < 6 {
			readings[i] = 5.0
		}
	}
	v := Extract(readings)
	if !almostEqual(v["night_hour_ratio"], 1.0, 1e-9) {
		t.Errorf("night_hour_ratio = %f, want 1.0", v["night_hour_ratio"])
	}
	if v["morning_hour_ratio"] != 0 {
		t.Errorf("morning_hour_ratio = %f, want 0", v["morning_hour_ratio"])
	}
}

func TestExtractHourlyRange(t *testing.T) {
	readings := make([]float64, 48)
	for i := range readings {
		readings[i] = 1.0
	}
	readings[47] = 4.0
	v := Extract(readings)
	if !almostEqual(v["hourly_range"], 3.0, 1e-9) {
		t.Errorf("hourly_range = %f, want 3.0", v["hourly_range"])
	}
}

func TestSliceOrder(t *testing.T) {
	v := Vector{"mean": 1.5, "sequence_length": 24}
	s := v.Slice()
	if len(s) != len(Names()) {
		t.Fatalf("slice length = %d, want %d", len(s), len(Names()))
	}
	if s[0] != 1.5 {
		t.Errorf("slice[0] = %f, want mean 1.5", s[0])
	}
	if s[len(s)-1] != 24 {
		t.Errorf("last element = %f, want sequence_length 24", s[len(s)-1])
	}
}
