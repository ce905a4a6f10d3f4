package models

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// treeNode is one node of an exported decision tree. Leaves carry only
// a value; internal nodes split on feature <= threshold (left branch).
type treeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      *treeNode `json:"left,omitempty"`
	Right     *treeNode `json:"right,omitempty"`
	Value     float64   `json:"value"`
}

func (n *treeNode) isLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// predict walks the tree for a feature slice and returns the leaf value.
func (n *treeNode) predict(x []float64) float64 {
	for n != nil && !n.isLeaf() {
		if n.Feature < 0 || n.Feature >= len(x) {
			return 0.5
		}
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	if n == nil {
		return 0.5
	}
	return n.Value
}

// loadModelFile decodes a JSON model export into dst.
// Returns os.ErrNotExist (wrapped) when the file is absent.
func loadModelFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse model %s: %w", path, err)
	}
	return nil
}

// sigmoid is the logistic function.
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// clamp01 bounds a score to [0, 1].
func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0.5
	}
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
