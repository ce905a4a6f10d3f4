package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gridwatch/kestrel/internal/domain"
)

func snapshot(consumerID string, score float64, risk string) *domain.ProfileSnapshot {
	return &domain.ProfileSnapshot{
		ConsumerID:    consumerID,
		ReadingCount:  168,
		MeanKWh:       1.42,
		EnsembleScore: score,
		RiskCategory:  risk,
		Timestamp:     time.Now().UTC(),
	}
}

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "utility-north"

	t.Run("SetAndGet", func(t *testing.T) {
		raw, err := json.Marshal(snapshot("CONS_0001", 0.58, domain.RiskMedium))
		if err != nil {
			t.Fatalf("marshal snapshot: %v", err)
		}

		if err := cache.Set(ctx, tenantID, "profile:p-001", raw, time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "profile:p-001")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		var snap domain.ProfileSnapshot
		if err := json.Unmarshal(val, &snap); err != nil {
			t.Fatalf("unmarshal cached snapshot: %v", err)
		}
		if snap.ConsumerID != "CONS_0001" {
			t.Errorf("expected consumer CONS_0001, got %s", snap.ConsumerID)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "profile:unknown")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "profile:p-002", []byte("{}"), time.Minute)

		if err := cache.Delete(ctx, tenantID, "profile:p-002"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "profile:p-002")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "profile:expiring", []byte("{}"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, tenantID, "profile:expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "profile:expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "profile:a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "profile:b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "profile:c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' becomes the eviction candidate.
		_, _ = smallCache.Get(ctx, tenantID, "profile:a")

		_ = smallCache.Set(ctx, tenantID, "profile:d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, tenantID, "profile:b")
		if val != nil {
			t.Error("expected 'profile:b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, tenantID, "profile:a")
		if val == nil {
			t.Error("expected 'profile:a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		// Two utilities assessing the same meter ID must not share
		// cached state.
		north, _ := json.Marshal(snapshot("CONS_0001", 0.2, domain.RiskMinimal))
		south, _ := json.Marshal(snapshot("CONS_0001", 0.8, domain.RiskHigh))

		_ = cache.Set(ctx, "utility-north-iso", "profile:shared", north, time.Minute)
		_ = cache.Set(ctx, "utility-south-iso", "profile:shared", south, time.Minute)

		var got domain.ProfileSnapshot
		val, _ := cache.Get(ctx, "utility-north-iso", "profile:shared")
		json.Unmarshal(val, &got)
		if got.RiskCategory != domain.RiskMinimal {
			t.Errorf("north utility: expected %s, got %s", domain.RiskMinimal, got.RiskCategory)
		}

		val, _ = cache.Get(ctx, "utility-south-iso", "profile:shared")
		json.Unmarshal(val, &got)
		if got.RiskCategory != domain.RiskHigh {
			t.Errorf("south utility: expected %s, got %s", domain.RiskHigh, got.RiskCategory)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}

		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID")
		}

		if _, err := cache.GetCounter(ctx, "", "flags:3600:CONS_0001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("FlagCounterWindow", func(t *testing.T) {
		window := 100 * time.Millisecond
		key := "flags:3600:CONS_0042"

		count1, err := cache.IncrementCounter(ctx, tenantID, key, window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, tenantID, key, window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		// Wait for the alert window to lapse.
		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, tenantID, key, window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("GetCounterDoesNotIncrement", func(t *testing.T) {
		key := "flags:3600:CONS_0043"

		// Absent counter reads as zero.
		count, err := cache.GetCounter(ctx, tenantID, key)
		if err != nil {
			t.Fatalf("GetCounter failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 for absent counter, got %d", count)
		}

		_, _ = cache.IncrementCounter(ctx, tenantID, key, time.Minute)
		_, _ = cache.IncrementCounter(ctx, tenantID, key, time.Minute)

		for i := 0; i < 3; i++ {
			count, err = cache.GetCounter(ctx, tenantID, key)
			if err != nil {
				t.Fatalf("GetCounter failed: %v", err)
			}
			if count != 2 {
				t.Fatalf("read %d: expected 2, got %d", i, count)
			}
		}
	})

	t.Run("GetCounterExpiredWindow", func(t *testing.T) {
		key := "flags:60:CONS_0044"

		_, _ = cache.IncrementCounter(ctx, tenantID, key, 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		count, err := cache.GetCounter(ctx, tenantID, key)
		if err != nil {
			t.Fatalf("GetCounter failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 for expired counter, got %d", count)
		}
	})

	t.Run("ProfileSnapshotCache", func(t *testing.T) {
		data := snapshot("CONS_0001", 0.58, domain.RiskMedium)

		if err := cache.SetProfileSnapshot(ctx, tenantID, "profile-001", data, time.Minute); err != nil {
			t.Fatalf("SetProfileSnapshot failed: %v", err)
		}

		retrieved, err := cache.GetProfileSnapshot(ctx, tenantID, "profile-001")
		if err != nil {
			t.Fatalf("GetProfileSnapshot failed: %v", err)
		}

		if retrieved.ConsumerID != data.ConsumerID {
			t.Errorf("expected ConsumerID %s, got %s", data.ConsumerID, retrieved.ConsumerID)
		}
		if retrieved.EnsembleScore != data.EnsembleScore {
			t.Errorf("expected score %.2f, got %.2f", data.EnsembleScore, retrieved.EnsembleScore)
		}
		if retrieved.RiskCategory != data.RiskCategory {
			t.Errorf("expected risk %s, got %s", data.RiskCategory, retrieved.RiskCategory)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "profile:k1", []byte("{}"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "profile:k2", []byte("{}"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "profile:k", []byte("{}"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, tenantID, "profile:k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		if _, err := New(cfg); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
