// Package models implements the five-member scoring ensemble: a
// reconstruction-pattern proxy, a remote sequence model, and three
// tree models loaded from JSON exports.
package models

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/gridwatch/kestrel/internal/domain"
	"github.com/gridwatch/kestrel/internal/features"
)

// Scorer names. They key the model-info endpoint and the score maps,
// and match the modelScores JSON field names.
const (
	NameAutoencoder     = "autoencoder"
	NameLSTM            = "lstm"
	NameXGBoost         = "xgboost"
	NameRandomForest    = "randomforest"
	NameIsolationForest = "isolationforest"
)

// NeutralScore is returned when a scorer cannot produce a real score.
// It sits at the decision midpoint so a missing model neither flags
// nor clears a profile on its own.
const NeutralScore = 0.5

// Scorer produces a theft probability in [0, 1] for one profile.
type Scorer interface {
	Name() string
	// Loaded reports whether the scorer has a real model behind it,
	// as opposed to running on its fallback.
	Loaded() bool
	Score(ctx context.Context, readings []float64, feats features.Vector) (float64, error)
}

// Registry holds the ensemble members in scoring order.
type Registry struct {
	scorers []Scorer
	logger  *slog.Logger
}

// NewRegistry builds the five ensemble scorers from config. Missing
// model files are logged and the affected scorer falls back to its
// neutral behavior; the registry itself never fails to construct.
func NewRegistry(cfg domain.ModelsConfig, logger *slog.Logger) *Registry {
	r := &Registry{logger: logger}

	r.scorers = append(r.scorers, NewPatternScorer())
	r.scorers = append(r.scorers, NewSequenceScorer(cfg.LSTMUrl, cfg.LSTMTimeout, logger))

	boosted, err := NewBoostedScorer(filepath.Join(cfg.Dir, "xgboost.json"))
	if err != nil {
		logger.Warn("xgboost model unavailable, using neutral fallback", "error", err)
	}
	r.scorers = append(r.scorers, boosted)

	forest, err := NewForestScorer(filepath.Join(cfg.Dir, "random_forest.json"))
	if err != nil {
		logger.Warn("random forest model unavailable, using neutral fallback", "error", err)
	}
	r.scorers = append(r.scorers, forest)

	iso, err := NewIsolationScorer(filepath.Join(cfg.Dir, "isolation_forest.json"))
	if err != nil {
		logger.Warn("isolation forest model unavailable, using neutral fallback", "error", err)
	}
	r.scorers = append(r.scorers, iso)

	return r
}

// ScoreAll runs every ensemble member and collects the named scores.
// A scorer error downgrades that member to the neutral score rather
// than failing the whole assessment.
func (r *Registry) ScoreAll(ctx context.Context, readings []float64, feats features.Vector) domain.ModelScores {
	scores := make(map[string]float64, len(r.scorers))
	for _, s := range r.scorers {
		score, err := s.Score(ctx, readings, feats)
		if err != nil {
			r.logger.Warn("scorer failed, using neutral score",
				"scorer", s.Name(), "error", err)
			score = NeutralScore
		}
		scores[s.Name()] = clamp01(score)
	}
	return domain.ModelScores{
		Autoencoder:     scores[NameAutoencoder],
		LSTM:            scores[NameLSTM],
		XGBoost:         scores[NameXGBoost],
		RandomForest:    scores[NameRandomForest],
		IsolationForest: scores[NameIsolationForest],
	}
}

// Info reports the load state of each ensemble member.
func (r *Registry) Info() map[string]bool {
	info := make(map[string]bool, len(r.scorers))
	for _, s := range r.scorers {
		info[s.Name()] = s.Loaded()
	}
	return info
}
