// Package datagen produces synthetic labeled consumption datasets for
// demos and model evaluation.
package datagen

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
)

// Theft pattern names.
const (
	PatternSuddenDrop       = "sudden_drop"
	PatternZeroUsage        = "zero_usage"
	PatternNightSpikes      = "night_spikes"
	PatternNegativeReadings = "negative_readings"
)

var patterns = []string{
	PatternSuddenDrop,
	PatternZeroUsage,
	PatternNightSpikes,
	PatternNegativeReadings,
}

// Params controls dataset generation.
type Params struct {
	Consumers int     `json:"numConsumers"`
	Days      int     `json:"numDays"`
	TheftRate float64 `json:"theftRate"`
	Seed      int64   `json:"seed,omitempty"`
}

// Validate checks the generation bounds.
func (p Params) Validate() error {
	if p.Consumers < 10 || p.Consumers > 1000 {
		return fmt.Errorf("numConsumers must be between 10 and 1000, got %d", p.Consumers)
	}
	if p.Days < 1 || p.Days > 365 {
		return fmt.Errorf("numDays must be between 1 and 365, got %d", p.Days)
	}
	if p.TheftRate < 0 || p.TheftRate > 0.5 {
		return fmt.Errorf("theftRate must be between 0 and 0.5, got %f", p.TheftRate)
	}
	return nil
}

// Consumer is one generated consumption series with its label.
type Consumer struct {
	ID       string
	Readings []float64
	IsTheft  bool
	Pattern  string
}

// Generate builds a labeled synthetic dataset. Honest consumers follow
// a household load shape with daily, weekly and seasonal cycles plus
// noise; thieves get one of four tampering patterns overlaid.
func Generate(p Params) []Consumer {
	rng := rand.New(rand.NewSource(p.Seed))
	if p.Seed == 0 {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	theftCount := int(math.Round(float64(p.Consumers) * p.TheftRate))
	consumers := make([]Consumer, p.Consumers)

	for i := range consumers {
		c := Consumer{
			ID:      fmt.Sprintf("CONS_%04d", i+1),
			IsTheft: i < theftCount,
		}
		c.Readings = normalSeries(rng, p.Days)
		if c.IsTheft {
			c.Pattern = patterns[rng.Intn(len(patterns))]
			applyTheft(rng, c.Readings, c.Pattern)
		}
		consumers[i] = c
	}

	// Shuffle so thieves are not clustered at the top of the file.
	rng.Shuffle(len(consumers), func(i, j int) {
		consumers[i], consumers[j] = consumers[j], consumers[i]
	})

	return consumers
}

// normalSeries produces an honest household's hourly consumption.
func normalSeries(rng *rand.Rand, days int) []float64 {
	base := 0.5 + rng.Float64()*1.5
	readings := make([]float64, 0, days*24)

	for day := 0; day < days; day++ {
		weekend := day%7 >= 5
		seasonal := 1.0 + 0.2*math.Sin(2*math.Pi*float64(day)/365.0)

		for hour := 0; hour < 24; hour++ {
			load := base * hourFactor(hour) * seasonal
			if weekend {
				load *= 1.15
			}
			load += rng.NormFloat64() * base * 0.1
			if load < 0 {
				load = 0
			}
			readings = append(readings, load)
		}
	}
	return readings
}

// hourFactor shapes the daily load curve: low overnight, a morning
// bump and an evening peak.
func hourFactor(hour int) float64 {
	switch {
	case hour >= 0 && hour < 6:
		return 0.4
	case hour >= 6 && hour < 9:
		return 1.2
	case hour >= 9 && hour < 17:
		return 0.8
	case hour >= 17 && hour < 22:
		return 1.5
	default:
		return 0.7
	}
}

// applyTheft overlays a tampering pattern onto the series, starting at
// a random point in the first half so the anomaly has room to show.
func applyTheft(rng *rand.Rand, readings []float64, pattern string) {
	if len(readings) == 0 {
		return
	}
	start := rng.Intn(len(readings)/2 + 1)

	switch pattern {
	case PatternSuddenDrop:
		factor := 0.1 + rng.Float64()*0.2
		for i := start; i < len(readings); i++ {
			readings[i] *= factor
		}
	case PatternZeroUsage:
		for i := start; i < len(readings); i++ {
			if rng.Float64() < 0.7 {
				readings[i] = 0
			}
		}
	case PatternNightSpikes:
		for i := start; i < len(readings); i++ {
			hour := i % 24
			if hour >= 22 || hour < 6 {
				readings[i] *= 3.0 + rng.Float64()*2.0
			} else {
				readings[i] *= 0.3
			}
		}
	case PatternNegativeReadings:
		for i := start; i < len(readings); i++ {
			if rng.Float64() < 0.3 {
				readings[i] = -readings[i]
			}
		}
	}
}

// WriteCSV writes the trailing 24h snapshot of each consumer, rounded
// to one decimal, in the upload format the predict endpoint accepts.
func WriteCSV(w io.Writer, consumers []Consumer) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, 26)
	header = append(header, "consumer_id")
	for h := 0; h < 24; h++ {
		header = append(header, fmt.Sprintf("hour_%d", h))
	}
	header = append(header, "true_theft_label")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, c := range consumers {
		row := make([]string, 0, 26)
		row = append(row, c.ID)

		snapshot := c.Readings
		if len(snapshot) > 24 {
			snapshot = snapshot[len(snapshot)-24:]
		}
		for _, v := range snapshot {
			row = append(row, strconv.FormatFloat(math.Round(v*10)/10, 'f', 1, 64))
		}
		for i := len(snapshot); i < 24; i++ {
			row = append(row, "0.0")
		}

		label := "0"
		if c.IsTheft {
			label = "1"
		}
		row = append(row, label)

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
