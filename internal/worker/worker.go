// Package worker provides async profile processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gridwatch/kestrel/internal/domain"
	"github.com/gridwatch/kestrel/internal/ensemble"
	"github.com/gridwatch/kestrel/internal/features"
	"github.com/gridwatch/kestrel/internal/models"
	"github.com/gridwatch/kestrel/internal/rules"
)

// Worker processes consumption profiles asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	registry  *models.Registry
	engine    *rules.Engine
	processor *ensemble.Processor

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount caps how many profiles are processed concurrently
	// across all subscriptions.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, registry *models.Registry, engine *rules.Engine, processor *ensemble.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		registry:  registry,
		engine:    engine,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 5
	}
	w.sem = make(chan struct{}, workers)

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicProfileIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.dispatch(ctx, msg.TenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	// Subscribe to profile ingested topic
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicProfileIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.dispatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicProfileIngested,
	)

	return nil
}

// dispatch bounds concurrent profile processing with the worker
// semaphore and tracks in-flight work so Stop can drain it.
func (w *Worker) dispatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
	defer func() { <-w.sem }()

	return w.processProfile(ctx, tenantID, msg)
}

// ProfileMessage is the message payload for profile processing.
type ProfileMessage struct {
	ProfileID  string    `json:"profileId"`
	TenantID   string    `json:"tenantId"`
	TraceID    string    `json:"traceId"`
	ConsumerID string    `json:"consumerId"`
	Readings   []float64 `json:"readings"`
	TrueLabel  *int      `json:"trueTheftLabel,omitempty"`
	FlagWindow int       `json:"flagWindow,omitempty"`
}

// processProfile runs a profile through the full assessment pipeline.
func (w *Worker) processProfile(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	// Parse message
	var profMsg ProfileMessage
	if err := json.Unmarshal(msg.Payload, &profMsg); err != nil {
		slog.Error("failed to parse profile message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if profMsg.TenantID != "" {
		tenantID = profMsg.TenantID
	}

	traceID := profMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing profile",
		"profile_id", profMsg.ProfileID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// 1. Extract features
	featStart := time.Now()
	feats := features.Extract(profMsg.Readings)
	featuresMs := time.Since(featStart).Milliseconds()

	// 2. Score ensemble members
	modelStart := time.Now()
	scores := w.registry.ScoreAll(ctx, profMsg.Readings, feats)
	modelsMs := time.Since(modelStart).Milliseconds()

	// 3. Evaluate rules
	flagWindow := profMsg.FlagWindow
	if flagWindow == 0 {
		flagWindow = 86400 // Default 24 hours
	}

	ruleStart := time.Now()
	ruleResults, err := w.engine.EvaluateAll(ctx, &rules.EvaluateInput{
		TenantID:   tenantID,
		ProfileID:  profMsg.ProfileID,
		ConsumerID: profMsg.ConsumerID,
		Features:   feats,
		FlagWindow: flagWindow,
	})
	if err != nil {
		slog.Error("rule evaluation failed",
			"profile_id", profMsg.ProfileID,
			"error", err,
		)
		return err
	}
	rulesMs := time.Since(ruleStart).Milliseconds()

	// 4. Process decision
	assessment := w.processor.Process(ctx, &ensemble.DecisionInput{
		TenantID:    tenantID,
		ProfileID:   profMsg.ProfileID,
		ConsumerID:  profMsg.ConsumerID,
		TraceID:     traceID,
		ModelScores: scores,
		RuleResults: ruleResults,
		TrueLabel:   profMsg.TrueLabel,
		StartTime:   start,
		FeaturesMs:  featuresMs,
		ModelsMs:    modelsMs,
		RulesMs:     rulesMs,
	})

	// 5. Save assessment
	if w.repo != nil {
		if err := w.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to save assessment",
				"profile_id", profMsg.ProfileID,
				"error", err,
			)
		}
	}

	// 6. Publish result to assessment topic
	resultPayload, _ := json.Marshal(assessment)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAssessment, resultPayload); err != nil {
		slog.Error("failed to publish assessment",
			"profile_id", profMsg.ProfileID,
			"error", err,
		)
	}

	// 7. If theft suspected, publish to alert topic
	if ensemble.ShouldAlert(assessment) {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"profile_id", profMsg.ProfileID,
				"error", err,
			)
		}
	}

	slog.Info("profile processed",
		"profile_id", profMsg.ProfileID,
		"tenant_id", tenantID,
		"status", assessment.Status,
		"score", assessment.EnsembleScore,
		"risk", assessment.RiskCategory,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
