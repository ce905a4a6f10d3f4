// Kestrel - Electricity theft detection for smart meter fleets.
// Copyright (c) 2025 GridWatch
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridwatch/kestrel/internal/api"
	"github.com/gridwatch/kestrel/internal/bus"
	"github.com/gridwatch/kestrel/internal/cache"
	"github.com/gridwatch/kestrel/internal/domain"
	"github.com/gridwatch/kestrel/internal/ensemble"
	"github.com/gridwatch/kestrel/internal/history"
	"github.com/gridwatch/kestrel/internal/models"
	"github.com/gridwatch/kestrel/internal/repository"
	"github.com/gridwatch/kestrel/internal/rules"
	"github.com/gridwatch/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if dir := os.Getenv("KESTREL_MODELS_DIR"); dir != "" {
		cfg.Models.Dir = dir
	}
	if url := os.Getenv("KESTREL_LSTM_URL"); url != "" {
		cfg.Models.LSTMUrl = url
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"models_dir", cfg.Models.Dir,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize flag-history service
	historySvc := history.NewService(repo, cacheImpl)
	slog.Info("flag history service initialized")

	// Initialize Rule Engine with flag-count getter
	engine, err := rules.NewEngine(historySvc.GetFlagCountGetter(), 100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}

	// Seed builtin rules on first start, then load from database
	if err := loadRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize model ensemble
	registry := models.NewRegistry(cfg.Models, logger)
	slog.Info("model registry initialized", "models", registry.Info())

	// Initialize decision processor
	processor := ensemble.NewProcessor(cfg.Ensemble.Threshold)
	slog.Info("ensemble processor initialized", "threshold", processor.Threshold)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, registry, engine, processor)

		// Get tenant IDs to process (from environment or default)
		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			// Could parse comma-separated list here
			tenantIDs = []string{envTenants}
		}

		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, registry, processor, historySvc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// loadRules loads rules from the database into the engine. An empty
// database gets the builtin theft-detection rule set seeded first so a
// fresh install detects the classic tampering patterns out of the box.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) == 0 {
		slog.Info("no rules in database, seeding builtin rule set")
		for _, cfg := range rules.BuiltinRules() {
			cfg.TenantID = GlobalTenantID
			if err := repo.SaveRuleConfig(ctx, GlobalTenantID, cfg); err != nil {
				slog.Warn("failed to seed builtin rule", "id", cfg.ID, "error", err)
			}
		}
		dbRules, err = repo.ListRuleConfigs(ctx, GlobalTenantID)
		if err != nil {
			return err
		}
	}

	slog.Info("loading rules from database", "count", len(dbRules))
	return engine.LoadRules(dbRules)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║    Electricity Theft Detection Engine     ║")
	fmt.Println("  ║       Eyes on every meter.                ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict            - Assess a CSV of consumption profiles")
	fmt.Println("    POST /predict/manual     - Assess a single profile")
	fmt.Println("    GET  /predictions/latest - Latest batch results")
	fmt.Println("    GET  /assessments/{id}   - Get assessment by ID")
	fmt.Println("    GET  /consumers/{id}     - Consumer history and flag count")
	fmt.Println("    GET  /rules              - List all rules")
	fmt.Println("    POST /rules              - Create a new rule")
	fmt.Println("    POST /rules/reload       - Hot-reload rules from database")
	fmt.Println("    GET  /models/info        - Ensemble member status")
	fmt.Println("    POST /generate-data      - Generate a synthetic dataset")
	fmt.Println("    GET  /health             - Health check")
	fmt.Println()
}
