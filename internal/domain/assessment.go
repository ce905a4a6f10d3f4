package domain

import (
	"time"
)

// Assessment represents the complete theft assessment for one consumer profile.
type Assessment struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	ProfileID  string `json:"profileId"`
	ConsumerID string `json:"consumerId"`

	// Status is "ALRT" (theft suspected) or "NALT".
	Status string `json:"status"`

	// Prediction is the binary classification: 1 = theft suspected.
	Prediction int `json:"prediction"`

	// EnsembleScore is the weighted combination of the five model scores, in [0,1].
	EnsembleScore float64 `json:"ensembleScore"`

	// RiskCategory is one of Minimal/Low/Medium/High.
	RiskCategory string `json:"riskCategory"`

	// ModelScores holds the individual model confidences.
	ModelScores ModelScores `json:"modelScores"`

	// Rule results
	RuleResults []RuleResult `json:"ruleResults"`
	RuleScore   float64      `json:"ruleScore"`
	RuleCount   int          `json:"ruleCount"`

	// TrueLabel carries the ground-truth label when the upload had one.
	TrueLabel *int `json:"trueTheftLabel,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Processing metadata
	Metadata AssessmentMetadata `json:"metadata"`
}

// ModelScores holds the per-model confidence scores, each in [0,1].
type ModelScores struct {
	Autoencoder     float64 `json:"autoencoder"`
	LSTM            float64 `json:"lstm"`
	XGBoost         float64 `json:"xgboost"`
	RandomForest    float64 `json:"randomforest"`
	IsolationForest float64 `json:"isolationforest"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId"`
	FeaturesMs     int64  `json:"featuresMs"`
	ModelsMs       int64  `json:"modelsMs"`
	RulesMs        int64  `json:"rulesMs"`
	DecisionMs     int64  `json:"decisionMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// AssessmentResponse is the API response for a single assessment.
type AssessmentResponse struct {
	AssessmentID  string             `json:"assessmentId"`
	ProfileID     string             `json:"profileId,omitempty"`
	ConsumerID    string             `json:"consumerId"`
	Status        string             `json:"status"`
	Prediction    int                `json:"prediction"`
	EnsembleScore float64            `json:"ensembleScore"`
	RiskCategory  string             `json:"riskCategory"`
	ModelScores   ModelScores        `json:"modelScores"`
	Reasons       []string           `json:"reasons,omitempty"`
	Metadata      AssessmentMetadata `json:"metadata"`
}

// Decision status constants
const (
	StatusAlert   = "ALRT" // Alert - theft suspected
	StatusNoAlert = "NALT" // No alert - profile passed
)

// Risk categories bucketed from the ensemble score.
const (
	RiskHigh    = "High"
	RiskMedium  = "Medium"
	RiskLow     = "Low"
	RiskMinimal = "Minimal"
)

// ToResponse converts an Assessment to an API response.
func (a *Assessment) ToResponse() *AssessmentResponse {
	var reasons []string
	for _, r := range a.RuleResults {
		if r.Severity() > 0 && r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}

	return &AssessmentResponse{
		AssessmentID:  a.ID,
		ProfileID:     a.ProfileID,
		ConsumerID:    a.ConsumerID,
		Status:        a.Status,
		Prediction:    a.Prediction,
		EnsembleScore: a.EnsembleScore,
		RiskCategory:  a.RiskCategory,
		ModelScores:   a.ModelScores,
		Reasons:       reasons,
		Metadata:      a.Metadata,
	}
}

// BatchSummary aggregates the results of one CSV batch.
type BatchSummary struct {
	Total            int                `json:"total"`
	TheftDetected    int                `json:"theftDetected"`
	NormalDetected   int                `json:"normalDetected"`
	TheftPercentage  float64            `json:"theftPercentage"`
	RiskDistribution map[string]int     `json:"riskDistribution"`
	AverageScores    map[string]float64 `json:"averageScores"`
	ThresholdUsed    float64            `json:"thresholdUsed"`
}

// BatchResult is the stored record of one upload, served by /predictions/latest.
type BatchResult struct {
	ID          string                `json:"id"`
	TenantID    string                `json:"tenantId"`
	Assessments []*AssessmentResponse `json:"predictions"`
	Summary     BatchSummary          `json:"summary"`
	Timestamp   time.Time             `json:"timestamp"`
}
