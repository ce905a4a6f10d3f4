// Package ensemble implements the Profile Aggregated Decision Processor.
// It combines the model scores and rule results for one consumption
// profile into a final theft assessment.
package ensemble

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gridwatch/kestrel/internal/domain"
)

// EngineVersion is stamped into assessment metadata.
const EngineVersion = "kestrel-1.0"

// Weights holds the ensemble member weights. They sum to 1.
type Weights struct {
	Autoencoder     float64
	LSTM            float64
	XGBoost         float64
	RandomForest    float64
	IsolationForest float64
}

// DefaultWeights returns the production ensemble weighting. The
// reconstruction and sequence members carry the most weight because
// they track temporal structure the tree models flatten away.
func DefaultWeights() Weights {
	return Weights{
		Autoencoder:     0.25,
		LSTM:            0.25,
		XGBoost:         0.20,
		RandomForest:    0.15,
		IsolationForest: 0.15,
	}
}

// Processor turns model scores and rule results into an assessment.
type Processor struct {
	Weights Weights

	// Threshold is the classification cutoff: ensemble scores at or
	// above it are flagged as theft.
	Threshold float64
}

// NewProcessor creates a processor with default weights.
func NewProcessor(threshold float64) *Processor {
	if threshold <= 0 {
		threshold = domain.DefaultClassificationThreshold
	}
	return &Processor{
		Weights:   DefaultWeights(),
		Threshold: threshold,
	}
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TenantID    string
	ProfileID   string
	ConsumerID  string
	TraceID     string
	ModelScores domain.ModelScores
	RuleResults []domain.RuleResult
	TrueLabel   *int
	StartTime   time.Time

	// Stage timings collected by the pipeline.
	FeaturesMs int64
	ModelsMs   int64
	RulesMs    int64
}

// Process combines model scores and rule results into an assessment.
func (p *Processor) Process(_ context.Context, input *DecisionInput) *domain.Assessment {
	start := time.Now()

	score := p.Combine(input.ModelScores)

	assessment := &domain.Assessment{
		ID:            uuid.New().String(),
		TenantID:      input.TenantID,
		ProfileID:     input.ProfileID,
		ConsumerID:    input.ConsumerID,
		EnsembleScore: score,
		RiskCategory:  RiskCategory(score),
		ModelScores:   input.ModelScores,
		RuleResults:   input.RuleResults,
		RuleScore:     RuleScore(input.RuleResults),
		RuleCount:     len(input.RuleResults),
		TrueLabel:     input.TrueLabel,
		Timestamp:     time.Now().UTC(),
	}

	// The classification comes from the model ensemble alone; rules
	// contribute reasons and the advisory rule score.
	if score >= p.Threshold {
		assessment.Prediction = 1
		assessment.Status = domain.StatusAlert
	} else {
		assessment.Prediction = 0
		assessment.Status = domain.StatusNoAlert
	}

	decisionMs := time.Since(start).Milliseconds()
	totalMs := int64(0)
	if !input.StartTime.IsZero() {
		totalMs = time.Since(input.StartTime).Milliseconds()
	}

	assessment.Metadata = domain.AssessmentMetadata{
		TraceID:        input.TraceID,
		FeaturesMs:     input.FeaturesMs,
		ModelsMs:       input.ModelsMs,
		RulesMs:        input.RulesMs,
		DecisionMs:     decisionMs,
		TotalMs:        totalMs,
		RulesEvaluated: len(input.RuleResults),
		EngineVersion:  EngineVersion,
	}

	return assessment
}

// Combine computes the weighted ensemble score from the member scores.
func (p *Processor) Combine(s domain.ModelScores) float64 {
	score := p.Weights.Autoencoder*s.Autoencoder +
		p.Weights.LSTM*s.LSTM +
		p.Weights.XGBoost*s.XGBoost +
		p.Weights.RandomForest*s.RandomForest +
		p.Weights.IsolationForest*s.IsolationForest
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// RiskCategory buckets an ensemble score into a risk label.
func RiskCategory(score float64) string {
	switch {
	case score > 0.7:
		return domain.RiskHigh
	case score > 0.4:
		return domain.RiskMedium
	case score > 0.2:
		return domain.RiskLow
	default:
		return domain.RiskMinimal
	}
}

// RuleScore aggregates rule severities into a normalized score:
// the mean severity weight across evaluated rules, capped at 1.
func RuleScore(results []domain.RuleResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var total float64
	for _, r := range results {
		total += r.Severity()
	}
	score := total / float64(len(results))
	if score > 1 {
		return 1
	}
	return score
}

// ShouldAlert returns true if the assessment flagged theft.
func ShouldAlert(a *domain.Assessment) bool {
	return a.Status == domain.StatusAlert
}
