package models

import (
	"context"

	"github.com/gridwatch/kestrel/internal/features"
)

// PatternScorer approximates an autoencoder reconstruction error with a
// weighted blend of the pattern features that dominate theft signatures.
// Zero runs and negative readings carry the most weight because honest
// meters rarely produce either.
type PatternScorer struct{}

// NewPatternScorer returns the reconstruction-proxy scorer.
func NewPatternScorer() *PatternScorer {
	return &PatternScorer{}
}

func (s *PatternScorer) Name() string { return NameAutoencoder }

// Loaded is always true: the pattern formula has no external model.
func (s *PatternScorer) Loaded() bool { return true }

func (s *PatternScorer) Score(_ context.Context, _ []float64, feats features.Vector) (float64, error) {
	cvComponent := feats["cv"] / 2.0
	if cvComponent > 1.0 {
		cvComponent = 1.0
	}
	score := 0.3*feats["zero_ratio"] +
		0.4*feats["negative_ratio"] +
		0.2*cvComponent +
		0.1*feats["low_consumption_ratio"]
	return clamp01(score), nil
}
