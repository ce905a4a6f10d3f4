package models

import (
	"context"

	"github.com/gridwatch/kestrel/internal/features"
)

// forestExport is the JSON layout of a trained random forest. Each
// tree's leaves carry the theft-class probability.
type forestExport struct {
	Trees []*treeNode `json:"trees"`
}

// ForestScorer averages the leaf probabilities of a bagged tree
// ensemble. With no export loaded it returns the neutral score.
type ForestScorer struct {
	forest *forestExport
}

// NewForestScorer loads a random forest export from path. The scorer
// is usable (in fallback mode) even when loading fails.
func NewForestScorer(path string) (*ForestScorer, error) {
	var export forestExport
	if err := loadModelFile(path, &export); err != nil {
		return &ForestScorer{}, err
	}
	return &ForestScorer{forest: &export}, nil
}

func (s *ForestScorer) Name() string { return NameRandomForest }

func (s *ForestScorer) Loaded() bool {
	return s.forest != nil && len(s.forest.Trees) > 0
}

func (s *ForestScorer) Score(_ context.Context, _ []float64, feats features.Vector) (float64, error) {
	if !s.Loaded() {
		return NeutralScore, nil
	}
	x := feats.Slice()
	var sum float64
	for _, tree := range s.forest.Trees {
		sum += tree.predict(x)
	}
	return clamp01(sum / float64(len(s.forest.Trees))), nil
}
