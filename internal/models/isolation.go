package models

import (
	"context"
	"math"

	"github.com/gridwatch/kestrel/internal/features"
)

// isoNode is one node of an exported isolation tree. Leaves record the
// number of training samples that reached them.
type isoNode struct {
	Feature   int      `json:"feature"`
	Threshold float64  `json:"threshold"`
	Left      *isoNode `json:"left,omitempty"`
	Right     *isoNode `json:"right,omitempty"`
	Size      int      `json:"size"`
}

// isolationExport is the JSON layout of a trained isolation forest.
type isolationExport struct {
	Trees      []*isoNode `json:"trees"`
	SampleSize int        `json:"sampleSize"`
}

// IsolationScorer computes the standard isolation forest anomaly score
// s = 2^(-E[h(x)]/c(psi)) and maps the negated sample score through the
// logistic function, so more isolated profiles score higher.
type IsolationScorer struct {
	model *isolationExport
}

// NewIsolationScorer loads an isolation forest export from path. The
// scorer is usable (in fallback mode) even when loading fails.
func NewIsolationScorer(path string) (*IsolationScorer, error) {
	var export isolationExport
	if err := loadModelFile(path, &export); err != nil {
		return &IsolationScorer{}, err
	}
	return &IsolationScorer{model: &export}, nil
}

func (s *IsolationScorer) Name() string { return NameIsolationForest }

func (s *IsolationScorer) Loaded() bool {
	return s.model != nil && len(s.model.Trees) > 0
}

func (s *IsolationScorer) Score(_ context.Context, _ []float64, feats features.Vector) (float64, error) {
	if !s.Loaded() {
		return NeutralScore, nil
	}
	x := feats.Slice()
	var total float64
	for _, tree := range s.model.Trees {
		total += pathLength(tree, x, 0)
	}
	avgPath := total / float64(len(s.model.Trees))

	psi := s.model.SampleSize
	if psi < 2 {
		psi = 256
	}
	anomaly := math.Pow(2, -avgPath/avgPathLength(psi))
	scoreSample := -anomaly
	return clamp01(1.0 / (1.0 + math.Exp(scoreSample))), nil
}

// pathLength walks an isolation tree and returns the adjusted depth at
// which x is isolated.
func pathLength(n *isoNode, x []float64, depth float64) float64 {
	for n != nil && (n.Left != nil || n.Right != nil) {
		if n.Feature < 0 || n.Feature >= len(x) {
			break
		}
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	if n == nil {
		return depth
	}
	return depth + avgPathLength(n.Size)
}

// avgPathLength is c(n), the average path length of an unsuccessful
// BST search over n samples.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2.0*(math.Log(fn-1)+0.5772156649) - 2.0*(fn-1)/fn
}
