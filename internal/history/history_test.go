package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gridwatch/kestrel/internal/cache"
	"github.com/gridwatch/kestrel/internal/domain"
	"github.com/gridwatch/kestrel/internal/repository"
)

func TestFlagHistoryService(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: t.TempDir() + "/history-test.db",
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(repo, lruCache)

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("EmptyDatabase", func(t *testing.T) {
		count, err := svc.GetFlagCount(ctx, tenantID, "consumer-001", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty database, got %d", count)
		}
	})

	t.Run("WithFlaggedAssessments", func(t *testing.T) {
		// Three alerts and one pass for the same consumer
		for i := 0; i < 4; i++ {
			status := domain.StatusAlert
			prediction := 1
			if i == 3 {
				status = domain.StatusNoAlert
				prediction = 0
			}
			a := &domain.Assessment{
				ID:            fmt.Sprintf("assessment-%d", i),
				TenantID:      tenantID,
				ProfileID:     fmt.Sprintf("profile-%d", i),
				ConsumerID:    "consumer-001",
				Status:        status,
				Prediction:    prediction,
				EnsembleScore: 0.6,
				RiskCategory:  domain.RiskMedium,
				Timestamp:     time.Now().UTC(),
			}
			if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
				t.Fatalf("failed to save assessment: %v", err)
			}
		}

		count, err := svc.GetFlagCount(ctx, tenantID, "consumer-001", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 3 {
			t.Errorf("expected count 3, got %d", count)
		}

		// Unknown consumer
		count, err = svc.GetFlagCount(ctx, tenantID, "unknown-consumer", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for unknown consumer, got %d", count)
		}
	})

	t.Run("CachedCounterFastPath", func(t *testing.T) {
		svc.RecordFlag(ctx, tenantID, "consumer-cached", time.Hour)
		svc.RecordFlag(ctx, tenantID, "consumer-cached", time.Hour)

		// No assessments were persisted for this consumer, so a
		// non-zero count can only come from the cached counter.
		count, err := svc.GetFlagCount(ctx, tenantID, "consumer-cached", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 2 {
			t.Errorf("expected cached count 2, got %d", count)
		}

		// A lookup with a different window must not read the hourly
		// counter; it falls through to the repository.
		count, err = svc.GetFlagCount(ctx, tenantID, "consumer-cached", 7200)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected repository count 0 for mismatched window, got %d", count)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		count, err := svc.GetFlagCount(ctx, "other-tenant", "consumer-001", 3600)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for different tenant, got %d", count)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		_, err := svc.GetFlagCount(ctx, "", "consumer-001", 3600)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("RequiresConsumerID", func(t *testing.T) {
		_, err := svc.GetFlagCount(ctx, tenantID, "", 3600)
		if err == nil {
			t.Error("expected error for empty consumerID")
		}
	})

	t.Run("FlagCountGetter", func(t *testing.T) {
		getter := svc.GetFlagCountGetter()
		if getter == nil {
			t.Fatal("GetFlagCountGetter returned nil")
		}

		count, err := getter(ctx, tenantID, "consumer-001", 3600)
		if err != nil {
			t.Fatalf("FlagCountGetter failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected count 3, got %d", count)
		}
	})
}

func TestNoDataSource(t *testing.T) {
	svc := &Service{}

	ctx := context.Background()
	_, err := svc.GetFlagCount(ctx, "tenant", "consumer", 3600)
	if err == nil {
		t.Error("expected error with no data source")
	}
}
