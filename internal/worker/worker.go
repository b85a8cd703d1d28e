// Package worker executes scoring and analytics runs requested over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// ScoringRunner performs a store-backed scoring run.
type ScoringRunner interface {
	RunScoring(ctx context.Context, tenantID string, since time.Time) (*domain.BatchResult, error)
}

// AnalyticsRunner performs a store-backed analytics run.
type AnalyticsRunner interface {
	Run(ctx context.Context, tenantID, reportID string, params domain.AnalyticsParameters) (*domain.AnalyticsReport, error)
}

// Worker consumes run requests from the EventBus.
type Worker struct {
	bus       domain.EventBus
	scoring   ScoringRunner
	analytics AnalyticsRunner

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = every tenant)
	TenantIDs []string
}

// NewWorker creates a new async worker. Either runner may be nil, in which
// case its topic is not consumed.
func NewWorker(bus domain.EventBus, scoring ScoringRunner, analytics AnalyticsRunner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		scoring:   scoring,
		analytics: analytics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the request topics for the given tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	for _, tenantID := range tenants {
		if err := w.subscribe(tenantID); err != nil {
			return fmt.Errorf("start worker for tenant %s: %w", tenantID, err)
		}
	}

	slog.Info("workers started",
		"tenants", tenants,
		"subscriptions", len(w.subscriptions),
	)
	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	handlers := map[string]domain.MessageHandler{}
	if w.scoring != nil {
		handlers[domain.TopicScoringRequested] = w.handleScoring
	}
	if w.analytics != nil {
		handlers[domain.TopicAnalyticsRequested] = w.handleAnalytics
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for topic, handler := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, handler)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}
	return nil
}

// tenantOf prefers the tenant named in the payload over the envelope's.
func tenantOf(msg *domain.Message, payloadTenant string) string {
	if payloadTenant != "" {
		return payloadTenant
	}
	return msg.TenantID
}

func (w *Worker) handleScoring(ctx context.Context, msg *domain.Message) error {
	var req domain.ScoringRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse scoring request", "message_id", msg.ID, "error", err)
		return err
	}
	tenantID := tenantOf(msg, req.TenantID)

	slog.Debug("processing scoring request", "tenant_id", tenantID, "request_id", req.RunID)

	result, err := w.scoring.RunScoring(ctx, tenantID, req.Since)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		slog.Info("scoring request skipped, run in progress", "tenant_id", tenantID, "request_id", req.RunID)
		return nil
	}
	if err != nil {
		slog.Error("scoring run failed", "tenant_id", tenantID, "request_id", req.RunID, "error", err)
		return err
	}

	slog.Info("scoring request processed",
		"tenant_id", tenantID,
		"request_id", req.RunID,
		"run_id", result.Summary.RunID,
		"processed", result.Summary.Processed,
	)
	return nil
}

func (w *Worker) handleAnalytics(ctx context.Context, msg *domain.Message) error {
	var req domain.AnalyticsRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse analytics request", "message_id", msg.ID, "error", err)
		return err
	}
	tenantID := tenantOf(msg, req.TenantID)

	start := time.Now()
	report, err := w.analytics.Run(ctx, tenantID, req.ReportID, req.Parameters)
	if err != nil {
		slog.Error("analytics run failed", "tenant_id", tenantID, "report_id", req.ReportID, "error", err)
		return err
	}

	slog.Info("analytics request processed",
		"tenant_id", tenantID,
		"report_id", report.ID,
		"state", report.State,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

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
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
