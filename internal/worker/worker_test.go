package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridwatch/kestrel/internal/bus"
	"github.com/gridwatch/kestrel/internal/domain"
	"github.com/gridwatch/kestrel/internal/ensemble"
	"github.com/gridwatch/kestrel/internal/models"
	"github.com/gridwatch/kestrel/internal/rules"
)

func testRegistry(t *testing.T) *models.Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return models.NewRegistry(domain.ModelsConfig{Dir: t.TempDir()}, logger)
}

func normalReadings(n int) []float64 {
	readings := make([]float64, n)
	for i := range readings {
		readings[i] = 1.0
	}
	return readings
}

func TestWorker(t *testing.T) {
	// Create channel bus
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	// Create rule engine with test rules (no hardcoded builtin rules)
	engine, _ := rules.NewEngine(nil, 5)

	testRules := []*domain.RuleConfig{
		{
			ID:         "test-rule-001",
			Name:       "Zero Usage Check",
			Expression: "zero_ratio > 0.5",
			Weight:     1.0,
			Enabled:    true,
		},
		{
			ID:         "test-rule-002",
			Name:       "Negative Reading Check",
			Expression: "negative_count > 0.0",
			Weight:     1.0,
			Enabled:    true,
		},
	}
	engine.LoadRules(testRules)

	registry := testRegistry(t)
	processor := ensemble.NewProcessor(0)

	// Create worker
	worker := NewWorker(eventBus, nil, registry, engine, processor)

	t.Run("StartAndStop", func(t *testing.T) {
		cfg := Config{
			TenantIDs:   []string{"tenant-001"},
			WorkerCount: 1,
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessProfile", func(t *testing.T) {
		// Create fresh worker for this test
		w := NewWorker(eventBus, nil, registry, engine, processor)

		cfg := Config{
			TenantIDs: []string{"tenant-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track assessment results
		var assessmentReceived atomic.Bool
		var assessmentPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicAssessment, func(ctx context.Context, msg *domain.Message) error {
			assessmentPayload = msg.Payload
			assessmentReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		// Publish a normal consumption profile
		profMsg := ProfileMessage{
			ProfileID:  "profile-001",
			TenantID:   "tenant-test",
			TraceID:    "trace-001",
			ConsumerID: "CONS_0001",
			Readings:   normalReadings(48),
		}

		payload, _ := json.Marshal(profMsg)
		err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicProfileIngested, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !assessmentReceived.Load() {
			t.Error("expected assessment to be published")
		}

		if assessmentPayload != nil {
			var assessment domain.Assessment
			if err := json.Unmarshal(assessmentPayload, &assessment); err != nil {
				t.Fatalf("failed to parse assessment: %v", err)
			}

			if assessment.ProfileID != "profile-001" {
				t.Errorf("expected profileID 'profile-001', got '%s'", assessment.ProfileID)
			}
			if assessment.TenantID != "tenant-test" {
				t.Errorf("expected tenantID 'tenant-test', got '%s'", assessment.TenantID)
			}
			if assessment.Metadata.TraceID != "trace-001" {
				t.Errorf("expected traceID 'trace-001', got '%s'", assessment.Metadata.TraceID)
			}

			// Flat usage at 1 kWh with neutral tree models sits below
			// the classification threshold.
			if assessment.Status != domain.StatusNoAlert {
				t.Errorf("expected status %s, got %s", domain.StatusNoAlert, assessment.Status)
			}
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		// Create worker with a low threshold processor
		lowThresholdProcessor := ensemble.NewProcessor(0.1)

		w := NewWorker(eventBus, nil, registry, engine, lowThresholdProcessor)

		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track alerts
		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// Publish an all-zero profile, the classic bypassed-meter signature
		profMsg := ProfileMessage{
			ProfileID:  "profile-alert",
			TenantID:   "tenant-alert",
			ConsumerID: "CONS_0099",
			Readings:   make([]float64, 48),
		}

		payload, _ := json.Marshal(profMsg)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicProfileIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if !alertReceived.Load() {
			t.Error("expected alert to be published for zero-usage profile")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, registry, engine, processor)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("BoundedConcurrency", func(t *testing.T) {
		w := NewWorker(eventBus, nil, registry, engine, processor)

		// A single worker slot must still drain every queued profile.
		cfg := Config{
			TenantIDs:   []string{"tenant-bounded"},
			WorkerCount: 1,
		}
		w.Start(cfg)
		defer w.Stop()

		var assessed atomic.Int32
		eventBus.Subscribe(context.Background(), "tenant-bounded", domain.TopicAssessment, func(ctx context.Context, msg *domain.Message) error {
			assessed.Add(1)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		const profiles = 5
		for i := 0; i < profiles; i++ {
			profMsg := ProfileMessage{
				ProfileID:  "profile-bounded",
				TenantID:   "tenant-bounded",
				ConsumerID: "CONS_0100",
				Readings:   normalReadings(48),
			}
			payload, _ := json.Marshal(profMsg)
			eventBus.Publish(context.Background(), "tenant-bounded", domain.TopicProfileIngested, payload)
		}

		deadline := time.Now().Add(2 * time.Second)
		for assessed.Load() < profiles && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
		}
		if assessed.Load() != profiles {
			t.Errorf("expected %d assessments, got %d", profiles, assessed.Load())
		}
	})
}

func TestProfileMessageParsing(t *testing.T) {
	label := 1
	msg := ProfileMessage{
		ProfileID:  "profile-123",
		TenantID:   "tenant-001",
		TraceID:    "trace-456",
		ConsumerID: "CONS_0042",
		Readings:   []float64{1.2, 0.8, 0.0, 2.4},
		TrueLabel:  &label,
		FlagWindow: 7200,
	}

	// Marshal and unmarshal
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed ProfileMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.ProfileID != msg.ProfileID {
		t.Errorf("expected ProfileID '%s', got '%s'", msg.ProfileID, parsed.ProfileID)
	}
	if len(parsed.Readings) != len(msg.Readings) {
		t.Errorf("expected %d readings, got %d", len(msg.Readings), len(parsed.Readings))
	}
	if parsed.TrueLabel == nil || *parsed.TrueLabel != 1 {
		t.Error("expected true label to round-trip")
	}
	if parsed.FlagWindow != msg.FlagWindow {
		t.Errorf("expected FlagWindow %d, got %d", msg.FlagWindow, parsed.FlagWindow)
	}
}
