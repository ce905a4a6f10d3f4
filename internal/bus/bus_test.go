package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridwatch/kestrel/internal/domain"
)

// profileEvent mirrors the payload the ingest path publishes for the
// async worker.
type profileEvent struct {
	ProfileID  string    `json:"profileId"`
	ConsumerID string    `json:"consumerId"`
	Readings   []float64 `json:"readings"`
}

func ingestPayload(t *testing.T, consumerID string, readings []float64) []byte {
	t.Helper()
	data, err := json.Marshal(profileEvent{
		ProfileID:  "profile-" + consumerID,
		ConsumerID: consumerID,
		Readings:   readings,
	})
	if err != nil {
		t.Fatalf("marshal profile event: %v", err)
	}
	return data
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "utility-north"

	t.Run("ProfileIngestedDelivery", func(t *testing.T) {
		var received atomic.Bool
		var receivedMsg *domain.Message

		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, tenantID, domain.TopicProfileIngested, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			received.Store(true)
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		time.Sleep(10 * time.Millisecond)

		payload := ingestPayload(t, "CONS_0001", []float64{1.2, 0.9, 0.0, 1.4})
		if err := bus.Publish(ctx, tenantID, domain.TopicProfileIngested, payload); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for profile event")
		}

		if !received.Load() {
			t.Fatal("profile event not received")
		}

		var event profileEvent
		if err := json.Unmarshal(receivedMsg.Payload, &event); err != nil {
			t.Fatalf("unmarshal delivered payload: %v", err)
		}
		if event.ConsumerID != "CONS_0001" {
			t.Errorf("expected consumer CONS_0001, got %s", event.ConsumerID)
		}
		if receivedMsg.TenantID != tenantID {
			t.Errorf("expected tenantID %q, got %q", tenantID, receivedMsg.TenantID)
		}
		if receivedMsg.Topic != domain.TopicProfileIngested {
			t.Errorf("expected topic %q, got %q", domain.TopicProfileIngested, receivedMsg.Topic)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		// Utilities must never see each other's alerts.
		var north atomic.Int32
		var south atomic.Int32

		bus.Subscribe(ctx, "utility-north-iso", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			north.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "utility-south-iso", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			south.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, "utility-north-iso", domain.TopicAlert, ingestPayload(t, "CONS_0007", []float64{0, 0, 0}))
		time.Sleep(50 * time.Millisecond)

		if north.Load() != 1 {
			t.Errorf("north utility should receive 1 alert, got %d", north.Load())
		}
		if south.Load() != 0 {
			t.Errorf("south utility should receive 0 alerts, got %d", south.Load())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", domain.TopicAlert, []byte("{}")); err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err := bus.Subscribe(ctx, "", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicAssessment, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, tenantID, domain.TopicAssessment, ingestPayload(t, "CONS_0002", []float64{1.1}))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 assessment before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()
		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, tenantID, domain.TopicAssessment, ingestPayload(t, "CONS_0002", []float64{1.1}))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 assessment after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("AlertFanOut", func(t *testing.T) {
		// A dashboard and a notifier both listening on the alert topic
		// each get their own copy.
		var dashboard, notifier atomic.Int32

		bus.Subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			dashboard.Add(1)
			return nil
		})
		bus.Subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			notifier.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, tenantID, domain.TopicAlert, ingestPayload(t, "CONS_0099", []float64{0, 0, 0, 0}))
		time.Sleep(50 * time.Millisecond)

		if dashboard.Load() != 1 || notifier.Load() != 1 {
			t.Errorf("expected both alert subscribers to receive, got %d and %d",
				dashboard.Load(), notifier.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicAssessment, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != domain.TopicAssessment {
			t.Errorf("expected topic %q, got %q", domain.TopicAssessment, sub.Topic())
		}
	})
}

func TestChannelBusDropsWhenInboxFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "utility-slow"

	blocked := make(chan struct{})
	release := make(chan struct{})

	bus.Subscribe(ctx, tenantID, domain.TopicProfileIngested, func(ctx context.Context, msg *domain.Message) error {
		close(blocked)
		<-release
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	// First message occupies the handler, second fills the inbox, the
	// rest must be counted as dropped instead of blocking the publisher.
	payload := ingestPayload(t, "CONS_0050", []float64{1.0})
	bus.Publish(ctx, tenantID, domain.TopicProfileIngested, payload)
	<-blocked
	bus.Publish(ctx, tenantID, domain.TopicProfileIngested, payload)
	bus.Publish(ctx, tenantID, domain.TopicProfileIngested, payload)
	bus.Publish(ctx, tenantID, domain.TopicProfileIngested, payload)

	if bus.Dropped() == 0 {
		t.Error("expected dropped messages to be counted with a full inbox")
	}
	close(release)
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()
	tenantID := "utility-north"

	bus.Subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, tenantID, domain.TopicAlert, []byte("{}")); err == nil {
		t.Error("expected publish error after close")
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		bus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type: "kafka",
		}

		if _, err := New(cfg); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusBatchUploadBurst(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "utility-burst"

	var received atomic.Int32
	const profileCount = 100

	var wg sync.WaitGroup
	wg.Add(profileCount)

	bus.Subscribe(ctx, tenantID, domain.TopicProfileIngested, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	// A CSV upload publishes one event per row in quick succession.
	for i := 0; i < profileCount; i++ {
		bus.Publish(ctx, tenantID, domain.TopicProfileIngested, ingestPayload(t, "CONS_0001", []float64{1.0, 0.8}))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != profileCount {
			t.Errorf("expected %d profile events, got %d", profileCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d profile events", received.Load(), profileCount)
	}
}
