package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store is the part of the repository an analytics run reads and writes.
type Store interface {
	FetchLeadsDueForScoring(ctx context.Context, tenantID string, since time.Time) ([]domain.LeadRecord, error)
	SaveReport(ctx context.Context, tenantID string, report *domain.AnalyticsReport) error
}

// Artifacts resolves the tenant's active ruleset and model.
type Artifacts interface {
	Ruleset(ctx context.Context, tenantID string) (domain.Ruleset, error)
	Model(ctx context.Context, tenantID string) (*domain.ModelArtifact, error)
}

// Service runs store-backed analytics: fetch every lead of a tenant, analyze,
// persist the report and announce it on the bus.
type Service struct {
	store        Store
	artifacts    Artifacts
	orchestrator *Orchestrator
	bus          domain.EventBus
	logger       *slog.Logger

	now func() time.Time
}

// NewService creates an analytics service. The bus may be nil.
func NewService(store Store, artifacts Artifacts, orchestrator *Orchestrator, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		artifacts:    artifacts,
		orchestrator: orchestrator,
		bus:          bus,
		logger:       logger,
		now:          time.Now,
	}
}

// Submit registers a running report and asks a worker to execute it.
func (s *Service) Submit(ctx context.Context, tenantID string, params domain.AnalyticsParameters) (*domain.AnalyticsReport, error) {
	if s.bus == nil {
		return nil, fmt.Errorf("no event bus configured")
	}
	pending := &domain.AnalyticsReport{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		State:       domain.RunRunning,
		Parameters:  params,
		GeneratedAt: s.now().UTC(),
	}
	if err := s.store.SaveReport(ctx, tenantID, pending); err != nil {
		return nil, fmt.Errorf("save pending report: %w", err)
	}

	payload, err := json.Marshal(domain.AnalyticsRequest{ReportID: pending.ID, TenantID: tenantID, Parameters: params})
	if err != nil {
		return nil, err
	}
	if err := s.bus.Publish(ctx, tenantID, domain.TopicAnalyticsRequested, payload); err != nil {
		return nil, fmt.Errorf("publish analytics request: %w", err)
	}
	return pending, nil
}

// Run executes one analytics run. A structurally invalid batch is stored as
// an idle report carrying the error so a pending report never stays running.
func (s *Service) Run(ctx context.Context, tenantID, reportID string, params domain.AnalyticsParameters) (*domain.AnalyticsReport, error) {
	if reportID == "" {
		reportID = uuid.New().String()
	}

	records, err := s.store.FetchLeadsDueForScoring(ctx, tenantID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("fetch leads: %w", err)
	}
	rs, err := s.artifacts.Ruleset(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load ruleset: %w", err)
	}
	model, err := s.artifacts.Model(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	report, runErr := s.orchestrator.Analyze(ctx, Input{
		ReportID:   reportID,
		TenantID:   tenantID,
		Records:    records,
		Ruleset:    rs,
		Model:      model,
		Parameters: params,
		Reference:  s.now(),
	})
	if runErr != nil {
		report = &domain.AnalyticsReport{
			ID:             reportID,
			TenantID:       tenantID,
			State:          domain.RunIdle,
			Parameters:     params,
			RulesetVersion: rs.Version,
			GeneratedAt:    s.now().UTC(),
			Analyses: []domain.AnalysisStatus{
				{Name: "prepare", Outcome: domain.OutcomeFailed, Error: runErr.Error()},
			},
		}
	}

	if err := s.store.SaveReport(ctx, tenantID, report); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	s.announce(ctx, report)

	if runErr != nil {
		return report, runErr
	}
	return report, nil
}

func (s *Service) announce(ctx context.Context, report *domain.AnalyticsReport) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.AnalyticsCompletedEvent{
		ReportID: report.ID,
		TenantID: report.TenantID,
		State:    report.State,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, report.TenantID, domain.TopicAnalyticsCompleted, payload); err != nil {
		s.logger.Warn("failed to publish analytics completion", "report_id", report.ID, "error", err)
	}
}
