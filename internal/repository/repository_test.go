package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gridwatch/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetProfile", func(t *testing.T) {
		label := 1
		profile := &domain.ConsumptionProfile{
			ID:         "profile-001",
			ConsumerID: "meter-001",
			Readings:   []float64{1.2, 0.8, 0.0, 2.5},
			TrueLabel:  &label,
			Timestamp:  time.Now().UTC(),
			CreatedAt:  time.Now().UTC(),
			Metadata:   map[string]any{"source": "upload"},
		}

		if err := repo.SaveProfile(ctx, tenantID, profile); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}

		retrieved, err := repo.GetProfile(ctx, tenantID, profile.ID)
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}

		if retrieved.ID != profile.ID {
			t.Errorf("expected ID %s, got %s", profile.ID, retrieved.ID)
		}
		if retrieved.ConsumerID != profile.ConsumerID {
			t.Errorf("expected ConsumerID %s, got %s", profile.ConsumerID, retrieved.ConsumerID)
		}
		if len(retrieved.Readings) != 4 || retrieved.Readings[3] != 2.5 {
			t.Errorf("readings not preserved: %v", retrieved.Readings)
		}
		if retrieved.TrueLabel == nil || *retrieved.TrueLabel != 1 {
			t.Error("true label not preserved")
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
	})

	t.Run("ProfileWithoutLabel", func(t *testing.T) {
		profile := &domain.ConsumptionProfile{
			ID:         "profile-002",
			ConsumerID: "meter-001",
			Readings:   []float64{1.0, 1.1},
			Timestamp:  time.Now().UTC(),
			CreatedAt:  time.Now().UTC(),
		}
		if err := repo.SaveProfile(ctx, tenantID, profile); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}

		retrieved, err := repo.GetProfile(ctx, tenantID, profile.ID)
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if retrieved.TrueLabel != nil {
			t.Errorf("expected nil true label, got %v", *retrieved.TrueLabel)
		}
	})

	t.Run("GetProfilesByConsumer", func(t *testing.T) {
		since := time.Now().Add(-1 * time.Hour)
		profiles, err := repo.GetProfilesByConsumer(ctx, tenantID, "meter-001", since)
		if err != nil {
			t.Fatalf("GetProfilesByConsumer failed: %v", err)
		}
		if len(profiles) != 2 {
			t.Errorf("expected 2 profiles, got %d", len(profiles))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetProfile(ctx, "tenant-002", "profile-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		profile := &domain.ConsumptionProfile{ID: "profile-test"}

		err := repo.SaveProfile(ctx, "", profile)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.GetProfile(ctx, "", "profile-001")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		assessment := &domain.Assessment{
			ID:            "assessment-001",
			ProfileID:     "profile-001",
			ConsumerID:    "meter-001",
			Status:        domain.StatusAlert,
			Prediction:    1,
			EnsembleScore: 0.62,
			RiskCategory:  domain.RiskMedium,
			ModelScores: domain.ModelScores{
				Autoencoder: 0.8, LSTM: 0.5, XGBoost: 0.6,
				RandomForest: 0.55, IsolationForest: 0.6,
			},
			RuleResults: []domain.RuleResult{
				{RuleID: "zero-consumption", Score: 0.4, SubRuleRef: domain.RuleOutcomeCritical},
			},
			RuleScore: 1.0,
			RuleCount: 1,
			Timestamp: time.Now().UTC(),
			Metadata:  domain.AssessmentMetadata{TraceID: "trace-001"},
		}

		if err := repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		retrieved, err := repo.GetAssessment(ctx, tenantID, assessment.ID)
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}

		if retrieved.ID != assessment.ID {
			t.Errorf("expected ID %s, got %s", assessment.ID, retrieved.ID)
		}
		if retrieved.EnsembleScore != assessment.EnsembleScore {
			t.Errorf("expected score %.2f, got %.2f", assessment.EnsembleScore, retrieved.EnsembleScore)
		}
		if retrieved.Status != assessment.Status {
			t.Errorf("expected Status %s, got %s", assessment.Status, retrieved.Status)
		}
		if retrieved.ModelScores.Autoencoder != 0.8 {
			t.Errorf("model scores not preserved: %+v", retrieved.ModelScores)
		}
		if len(retrieved.RuleResults) != 1 {
			t.Errorf("rule results not preserved: %v", retrieved.RuleResults)
		}
	})

	t.Run("CountFlaggedAssessments", func(t *testing.T) {
		// One more alert and one pass for the same consumer
		alerts := []*domain.Assessment{
			{
				ID: "assessment-002", ProfileID: "profile-002", ConsumerID: "meter-001",
				Status: domain.StatusAlert, Prediction: 1, EnsembleScore: 0.7,
				RiskCategory: domain.RiskMedium, Timestamp: time.Now().UTC(),
			},
			{
				ID: "assessment-003", ProfileID: "profile-002", ConsumerID: "meter-001",
				Status: domain.StatusNoAlert, Prediction: 0, EnsembleScore: 0.1,
				RiskCategory: domain.RiskMinimal, Timestamp: time.Now().UTC(),
			},
		}
		for _, a := range alerts {
			if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
				t.Fatalf("SaveAssessment failed: %v", err)
			}
		}

		since := time.Now().Add(-1 * time.Hour)
		count, err := repo.CountFlaggedAssessments(ctx, tenantID, "meter-001", since)
		if err != nil {
			t.Fatalf("CountFlaggedAssessments failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 flagged assessments, got %d", count)
		}
	})

	t.Run("SaveAndGetLatestBatch", func(t *testing.T) {
		first := &domain.BatchResult{
			ID: "batch-001",
			Assessments: []*domain.AssessmentResponse{
				{AssessmentID: "assessment-001", ConsumerID: "meter-001", Prediction: 1},
			},
			Summary:   domain.BatchSummary{Total: 1, TheftDetected: 1, ThresholdUsed: 0.435},
			Timestamp: time.Now().UTC().Add(-time.Minute),
		}
		second := &domain.BatchResult{
			ID: "batch-002",
			Assessments: []*domain.AssessmentResponse{
				{AssessmentID: "assessment-002", ConsumerID: "meter-001", Prediction: 0},
			},
			Summary:   domain.BatchSummary{Total: 1, NormalDetected: 1, ThresholdUsed: 0.435},
			Timestamp: time.Now().UTC(),
		}

		if err := repo.SaveBatch(ctx, tenantID, first); err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}
		if err := repo.SaveBatch(ctx, tenantID, second); err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}

		latest, err := repo.GetLatestBatch(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetLatestBatch failed: %v", err)
		}
		if latest.ID != "batch-002" {
			t.Errorf("expected latest batch batch-002, got %s", latest.ID)
		}
		if latest.Summary.NormalDetected != 1 {
			t.Errorf("summary not preserved: %+v", latest.Summary)
		}
	})

	t.Run("RuleConfigRoundTrip", func(t *testing.T) {
		lower := 0.3
		rule := &domain.RuleConfig{
			ID:         "zero-consumption",
			Name:       "Zero consumption run",
			Version:    "1.0.0",
			Expression: "zero_ratio",
			Bands: []domain.RuleBand{
				{LowerLimit: &lower, SubRuleRef: domain.RuleOutcomeCritical, Reason: "sustained zero consumption"},
			},
			Weight:  1.0,
			Enabled: true,
		}

		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		retrieved, err := repo.GetRuleConfig(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if retrieved.Expression != rule.Expression {
			t.Errorf("expression not preserved: %s", retrieved.Expression)
		}
		if len(retrieved.Bands) != 1 || *retrieved.Bands[0].LowerLimit != 0.3 {
			t.Errorf("bands not preserved: %+v", retrieved.Bands)
		}

		configs, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(configs) != 1 {
			t.Errorf("expected 1 rule config, got %d", len(configs))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetProfile(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetAssessment(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetLatestBatch(ctx, "empty-tenant")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
