package models

import (
	"context"

	"github.com/gridwatch/kestrel/internal/features"
)

// boostedExport is the JSON layout of a gradient-boosted model. Leaves
// carry raw margin contributions, summed with the base score and
// squashed through the logistic function.
type boostedExport struct {
	BaseScore float64     `json:"baseScore"`
	Trees     []*treeNode `json:"trees"`
}

// BoostedScorer evaluates an XGBoost-style additive tree ensemble.
type BoostedScorer struct {
	model *boostedExport
}

// NewBoostedScorer loads a boosted-tree export from path. The scorer
// is usable (in fallback mode) even when loading fails.
func NewBoostedScorer(path string) (*BoostedScorer, error) {
	var export boostedExport
	if err := loadModelFile(path, &export); err != nil {
		return &BoostedScorer{}, err
	}
	return &BoostedScorer{model: &export}, nil
}

func (s *BoostedScorer) Name() string { return NameXGBoost }

func (s *BoostedScorer) Loaded() bool {
	return s.model != nil && len(s.model.Trees) > 0
}

func (s *BoostedScorer) Score(_ context.Context, _ []float64, feats features.Vector) (float64, error) {
	if !s.Loaded() {
		return NeutralScore, nil
	}
	x := feats.Slice()
	margin := s.model.BaseScore
	for _, tree := range s.model.Trees {
		margin += tree.predict(x)
	}
	return clamp01(sigmoid(margin)), nil
}
