package domain

import (
	"time"
)

// ConsumptionProfile represents one consumer's hourly consumption series
// submitted for theft assessment.
type ConsumptionProfile struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// ConsumerID is the meter/customer identifier from the upload.
	ConsumerID string `json:"consumerId"`

	// Readings are hourly consumption values in kWh.
	Readings []float64 `json:"readings"`

	// TrueLabel is the optional ground-truth theft label (0 or 1)
	// carried through from labeled benchmark datasets.
	TrueLabel *int `json:"trueTheftLabel,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ProfileRequest is the API request payload for manual assessment.
type ProfileRequest struct {
	ConsumerID string                 `json:"consumerId"`
	HourlyData []float64              `json:"hourlyData"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToProfile converts a request to a ConsumptionProfile domain object.
func (r *ProfileRequest) ToProfile() *ConsumptionProfile {
	now := time.Now().UTC()
	return &ConsumptionProfile{
		ConsumerID: r.ConsumerID,
		Readings:   r.HourlyData,
		Timestamp:  now,
		CreatedAt:  now,
		Metadata:   r.Metadata,
	}
}
