// Kestrel - Lead scoring and predictive analytics for revenue teams.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/predict"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := loadConfig()

	opts := &slog.HandlerOptions{Level: logLevel(cfg.Logging.Level)}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"workers", cfg.Scoring.Workers,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics.Init()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	ruleset, model, err := loadArtifacts(cfg.Scoring)
	if err != nil {
		slog.Error("failed to load scoring artifacts", "error", err)
		os.Exit(1)
	}

	engine, err := rules.NewEngine(cfg.Scoring.Workers)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	tenants := getEnvList("KESTREL_TENANTS", nil)
	if err := loadSegmentRules(ctx, repo, engine, tenants); err != nil {
		slog.Error("failed to load segment rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	artifacts := pipeline.NewArtifacts(repo, cacheImpl, cfg.Cache.EntryTTL, ruleset, model, logger)
	scoringSvc := pipeline.NewService(pipeline.ServiceConfig{
		Store:     repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Runner:    pipeline.NewRunner(engine, cfg.Scoring.Workers, logger),
		Artifacts: artifacts,
		LockTTL:   cfg.Scoring.LockTTL,
		Logger:    logger,
	})
	orchestrator := analytics.NewOrchestrator(engine, cfg.Predictive, logger)
	analyticsSvc := analytics.NewService(repo, artifacts, orchestrator, busImpl, logger)

	// Async runs (Pro tier or opted in)
	async := cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true"
	var asyncWorker *worker.Worker
	if async {
		asyncWorker = worker.NewWorker(busImpl, scoringSvc, analyticsSvc)
		if err := asyncWorker.Start(worker.Config{TenantIDs: tenants}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			async = false
		} else {
			slog.Info("async worker started", "tenant_count", len(tenants))
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Engine:    engine,
		Scoring:   scoringSvc,
		Artifacts: artifacts,
		Analytics: analyticsSvc,
		Version:   Version,
		Async:     async,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"async", async,
	)
	printBanner(cfg, Version)

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

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadArtifacts reads the fallback ruleset and model used by tenants that
// have not stored their own.
func loadArtifacts(cfg domain.ScoringConfig) (domain.Ruleset, *domain.ModelArtifact, error) {
	ruleset := domain.DefaultRuleset()
	if cfg.RulesetPath != "" {
		rs, err := scoring.LoadRuleset(cfg.RulesetPath)
		if err != nil {
			return ruleset, nil, err
		}
		ruleset = *rs
		slog.Info("ruleset loaded", "path", cfg.RulesetPath, "version", ruleset.Version)
	}

	var model *domain.ModelArtifact
	if cfg.ModelPath != "" {
		m, err := predict.LoadModel(cfg.ModelPath)
		if err != nil {
			return ruleset, nil, err
		}
		model = m
		slog.Info("conversion model loaded", "path", cfg.ModelPath, "version", model.Version)
	} else {
		slog.Info("no conversion model configured, predictions fall back to base rates")
	}
	return ruleset, model, nil
}

// loadSegmentRules loads the stored global rules, or the builtin segments when
// none are stored, plus the stored rules of each listed tenant.
func loadSegmentRules(ctx context.Context, repo domain.Repository, engine *rules.Engine, tenants []string) error {
	global, err := repo.ListSegmentRules(ctx, rules.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list global rules from database", "error", err)
	}
	if len(global) == 0 {
		global = rules.BuiltinSegments()
		slog.Info("no global rules in database, loading builtin segments", "count", len(global))
	}
	if err := engine.LoadRules(global); err != nil {
		return err
	}

	for _, tenantID := range tenants {
		stored, err := repo.ListSegmentRules(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("list rules for tenant %s: %w", tenantID, err)
		}
		if err := engine.ReloadRules(tenantID, stored); err != nil {
			return fmt.Errorf("load rules for tenant %s: %w", tenantID, err)
		}
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - lead scoring & predictive analytics")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /leads               - Upsert lead records")
	fmt.Println("    POST /score               - Score inline leads")
	fmt.Println("    POST /runs                - Score stored leads")
	fmt.Println("    GET  /leads/{id}/history  - Score history of a lead")
	fmt.Println("    POST /analytics           - Run analytics")
	fmt.Println("    GET  /analytics/{id}      - Get analytics report")
	fmt.Println("    GET  /ruleset, PUT        - Active scoring ruleset")
	fmt.Println("    GET  /model, PUT          - Conversion model")
	fmt.Println("    GET  /rules, POST         - Segment rules")
	fmt.Println("    POST /rules/reload        - Hot-reload segment rules")
	fmt.Println("    GET  /health, /metrics    - Health and metrics")
	fmt.Println()
}
