package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gridwatch/kestrel/internal/datagen"
	"github.com/gridwatch/kestrel/internal/domain"
	"github.com/gridwatch/kestrel/internal/ensemble"
	"github.com/gridwatch/kestrel/internal/features"
	"github.com/gridwatch/kestrel/internal/history"
	"github.com/gridwatch/kestrel/internal/ingest"
	"github.com/gridwatch/kestrel/internal/models"
	"github.com/gridwatch/kestrel/internal/rules"
)

// maxUploadBytes caps CSV uploads at 16 MiB.
const maxUploadBytes = 16 << 20

// defaultFlagWindowSecs is the trailing window for repeat-offender
// lookups when the request does not specify one.
const defaultFlagWindowSecs = 86400

// snapshotTTL is how long per-profile snapshots stay cached.
const snapshotTTL = 30 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	registry  *models.Registry
	processor *ensemble.Processor
	history   *history.Service
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, registry *models.Registry, processor *ensemble.Processor, hist *history.Service, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		registry:  registry,
		processor: processor,
		history:   hist,
		version:   version,
	}
}

// assess runs one consumption profile through the full pipeline:
// feature extraction, model scoring, rule evaluation, decision, and
// persistence side effects.
func (h *Handler) assess(r *http.Request, profile *domain.ConsumptionProfile, start time.Time) *domain.Assessment {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	featStart := time.Now()
	feats := features.Extract(profile.Readings)
	featuresMs := time.Since(featStart).Milliseconds()

	modelStart := time.Now()
	scores := h.registry.ScoreAll(ctx, profile.Readings, feats)
	modelsMs := time.Since(modelStart).Milliseconds()

	ruleStart := time.Now()
	ruleResults, err := h.engine.EvaluateAll(ctx, &rules.EvaluateInput{
		TenantID:       tenantID,
		ProfileID:      profile.ID,
		ConsumerID:     profile.ConsumerID,
		Features:       feats,
		FlagWindow:     defaultFlagWindowSecs,
		AdditionalData: nil,
	})
	if err != nil {
		slog.Error("rule evaluation failed",
			"profile_id", profile.ID,
			"error", err,
		)
		ruleResults = nil
	}
	rulesMs := time.Since(ruleStart).Milliseconds()

	assessment := h.processor.Process(ctx, &ensemble.DecisionInput{
		TenantID:    tenantID,
		ProfileID:   profile.ID,
		ConsumerID:  profile.ConsumerID,
		TraceID:     traceID,
		ModelScores: scores,
		RuleResults: ruleResults,
		TrueLabel:   profile.TrueLabel,
		StartTime:   start,
		FeaturesMs:  featuresMs,
		ModelsMs:    modelsMs,
		RulesMs:     rulesMs,
	})

	if h.repo != nil {
		if err := h.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to save assessment",
				"profile_id", profile.ID,
				"error", err,
			)
		}
	}

	if h.cache != nil {
		snap := &domain.ProfileSnapshot{
			ConsumerID:    profile.ConsumerID,
			ReadingCount:  len(profile.Readings),
			MeanKWh:       feats["mean"],
			EnsembleScore: assessment.EnsembleScore,
			RiskCategory:  assessment.RiskCategory,
			Timestamp:     assessment.Timestamp,
		}
		if err := h.cache.SetProfileSnapshot(ctx, tenantID, profile.ID, snap, snapshotTTL); err != nil {
			slog.Debug("failed to cache profile snapshot", "error", err)
		}
	}

	if ensemble.ShouldAlert(assessment) {
		if h.history != nil {
			h.history.RecordFlag(ctx, tenantID, profile.ConsumerID, time.Duration(defaultFlagWindowSecs)*time.Second)
		}
		if h.bus != nil {
			payload, _ := json.Marshal(assessment)
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
				slog.Debug("failed to publish alert", "error", err)
			}
		}
	}

	return assessment
}

// PredictResponse is the response for POST /predict.
type PredictResponse struct {
	Predictions []*domain.AssessmentResponse `json:"predictions"`
	Summary     domain.BatchSummary          `json:"summary"`
	Metadata    struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Predict handles POST /predict: a multipart CSV upload of consumption
// profiles, one consumer per row. Every row is assessed and the batch
// is stored so /predictions/latest can serve it again.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "multipart field 'file' with a CSV upload is required",
		})
		return
	}
	defer file.Close()

	profiles, err := ingest.ParseCSV(file, tenantID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CSV: " + err.Error(),
		})
		return
	}

	responses := make([]*domain.AssessmentResponse, 0, len(profiles))
	assessments := make([]*domain.Assessment, 0, len(profiles))
	for _, profile := range profiles {
		if h.repo != nil {
			if err := h.repo.SaveProfile(ctx, tenantID, profile); err != nil {
				slog.Error("failed to save profile",
					"consumer_id", profile.ConsumerID,
					"error", err,
				)
			}
		}
		assessment := h.assess(r, profile, start)
		assessments = append(assessments, assessment)
		responses = append(responses, assessment.ToResponse())
	}

	summary := summarize(assessments, h.processor.Threshold)

	batch := &domain.BatchResult{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Assessments: responses,
		Summary:     summary,
		Timestamp:   time.Now().UTC(),
	}
	if h.repo != nil {
		if err := h.repo.SaveBatch(ctx, tenantID, batch); err != nil {
			slog.Error("failed to save batch", "batch_id", batch.ID, "error", err)
		}
	}

	slog.Info("batch assessed",
		"tenant_id", tenantID,
		"profiles", summary.Total,
		"flagged", summary.TheftDetected,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	resp := PredictResponse{
		Predictions: responses,
		Summary:     summary,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// PredictManual handles POST /predict/manual: a single profile sent as
// JSON instead of a CSV upload.
func (h *Handler) PredictManual(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.HourlyData) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "hourlyData is required",
		})
		return
	}
	if req.ConsumerID == "" {
		req.ConsumerID = "manual-" + uuid.New().String()[:8]
	}

	profile := req.ToProfile()
	profile.ID = uuid.New().String()
	profile.TenantID = tenantID

	if h.repo != nil {
		if err := h.repo.SaveProfile(ctx, tenantID, profile); err != nil {
			slog.Error("failed to save profile", "consumer_id", profile.ConsumerID, "error", err)
		}
	}

	assessment := h.assess(r, profile, start)

	writeJSON(w, http.StatusOK, assessment.ToResponse())
}

// LatestPredictions handles GET /predictions/latest.
func (h *Handler) LatestPredictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	batch, err := h.repo.GetLatestBatch(ctx, tenantID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no predictions recorded yet",
		})
		return
	}

	writeJSON(w, http.StatusOK, batch)
}

// GetAssessment retrieves an assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	if assessmentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "assessment id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	assessment, err := h.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		slog.Error("failed to get assessment", "id", assessmentID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "assessment not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// ConsumerResponse is the response for GET /consumers/{id}.
type ConsumerResponse struct {
	ConsumerID   string                       `json:"consumerId"`
	ProfileCount int                          `json:"profileCount"`
	FlagCount    int64                        `json:"flagCount"`
	Profiles     []*domain.ConsumptionProfile `json:"profiles"`
}

// GetConsumer returns a consumer's recent profiles and how often the
// consumer was flagged in the trailing 30 days.
func (h *Handler) GetConsumer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	consumerID := chi.URLParam(r, "id")

	if consumerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "consumer id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	since := time.Now().AddDate(0, 0, -30)
	profiles, err := h.repo.GetProfilesByConsumer(ctx, tenantID, consumerID, since)
	if err != nil {
		slog.Error("failed to get consumer profiles", "consumer_id", consumerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load consumer profiles",
		})
		return
	}
	if len(profiles) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "consumer not found",
		})
		return
	}

	var flagCount int64
	if h.history != nil {
		flagCount, _ = h.history.GetFlagCount(ctx, tenantID, consumerID, 30*24*3600)
	}

	writeJSON(w, http.StatusOK, ConsumerResponse{
		ConsumerID:   consumerID,
		ProfileCount: len(profiles),
		FlagCount:    flagCount,
		Profiles:     profiles,
	})
}

// ModelsInfo reports which ensemble members have real models loaded,
// along with the weights and threshold in effect.
func (h *Handler) ModelsInfo(w http.ResponseWriter, r *http.Request) {
	weights := h.processor.Weights
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": h.registry.Info(),
		"weights": map[string]float64{
			models.NameAutoencoder:     weights.Autoencoder,
			models.NameLSTM:            weights.LSTM,
			models.NameXGBoost:         weights.XGBoost,
			models.NameRandomForest:    weights.RandomForest,
			models.NameIsolationForest: weights.IsolationForest,
		},
		"threshold": h.processor.Threshold,
		"version":   h.version,
	})
}

// GenerateData handles POST /generate-data: builds a labeled synthetic
// consumption dataset and streams it back as CSV in the upload format
// /predict accepts.
func (h *Handler) GenerateData(w http.ResponseWriter, r *http.Request) {
	var params datagen.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := params.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	consumers := datagen.Generate(params)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="synthetic_consumption.csv"`)
	if err := datagen.WriteCSV(w, consumers); err != nil {
		slog.Error("failed to write generated CSV", "error", err)
	}

	slog.Info("synthetic dataset generated",
		"consumers", params.Consumers,
		"days", params.Days,
		"theft_rate", params.TheftRate,
	)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all loaded rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	// Return rules currently loaded in the engine (sourced from database)
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	// Check rules loaded in the engine (from database)
	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule creates a new rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	// Create rule config (global tenant)
	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.engine.LoadRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	// Persist to repository (global tenant ID)
	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	// Load rules from database (global rules)
	dbRules, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	// Reload into engine
	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// summarize aggregates a batch of assessments into the upload summary.
func summarize(assessments []*domain.Assessment, threshold float64) domain.BatchSummary {
	summary := domain.BatchSummary{
		Total:            len(assessments),
		RiskDistribution: map[string]int{},
		AverageScores:    map[string]float64{},
		ThresholdUsed:    threshold,
	}
	if len(assessments) == 0 {
		return summary
	}

	var sumEnsemble float64
	sums := map[string]float64{}
	for _, a := range assessments {
		if a.Prediction == 1 {
			summary.TheftDetected++
		} else {
			summary.NormalDetected++
		}
		summary.RiskDistribution[a.RiskCategory]++

		sumEnsemble += a.EnsembleScore
		sums[models.NameAutoencoder] += a.ModelScores.Autoencoder
		sums[models.NameLSTM] += a.ModelScores.LSTM
		sums[models.NameXGBoost] += a.ModelScores.XGBoost
		sums[models.NameRandomForest] += a.ModelScores.RandomForest
		sums[models.NameIsolationForest] += a.ModelScores.IsolationForest
	}

	n := float64(len(assessments))
	summary.TheftPercentage = float64(summary.TheftDetected) / n * 100
	summary.AverageScores["ensemble"] = sumEnsemble / n
	for name, sum := range sums {
		summary.AverageScores[name] = sum / n
	}

	return summary
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
