package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("kestrel-pipeline")

// ErrRunInProgress is returned when a tenant already holds the scoring lock.
var ErrRunInProgress = errors.New("scoring run already in progress")

// DefaultLockTTL bounds a tenant's scoring run lock.
const DefaultLockTTL = 10 * time.Minute

// CommitTimeout bounds writing and publishing a computed batch. The commit
// phase ignores cancellation of the caller's context.
const CommitTimeout = 2 * time.Minute

// Service performs the I/O around the pure Runner: fetch, persist, audit and
// publish.
type Service struct {
	store     domain.LeadStore
	cache     domain.Cache
	bus       domain.EventBus
	runner    *Runner
	artifacts *Artifacts
	lockTTL   time.Duration
	logger    *slog.Logger

	// now is the reference clock; replaced in tests.
	now func() time.Time
}

// ServiceConfig wires a Service. Cache and Bus are optional.
type ServiceConfig struct {
	Store     domain.LeadStore
	Cache     domain.Cache
	Bus       domain.EventBus
	Runner    *Runner
	Artifacts *Artifacts
	LockTTL   time.Duration
	Logger    *slog.Logger
}

// NewService creates a scoring service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Runner == nil {
		cfg.Runner = NewRunner(nil, DefaultWorkers, cfg.Logger)
	}
	return &Service{
		store:     cfg.Store,
		cache:     cfg.Cache,
		bus:       cfg.Bus,
		runner:    cfg.Runner,
		artifacts: cfg.Artifacts,
		lockTTL:   cfg.LockTTL,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Runner returns the underlying batch runner.
func (s *Service) Runner() *Runner { return s.runner }

// RunScoring scores every lead of the tenant due since the given time,
// persists the results and publishes the run summary and hot-lead events.
// Only one run per tenant proceeds at a time.
func (s *Service) RunScoring(ctx context.Context, tenantID string, since time.Time) (*domain.BatchResult, error) {
	ctx, span := tracer.Start(ctx, "scoring.run")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	release, err := s.lock(ctx, tenantID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	records, err := s.store.FetchLeadsDueForScoring(ctx, tenantID, since)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetch leads: %w", err)
	}

	rs := domain.DefaultRuleset()
	if s.artifacts != nil {
		if rs, err = s.artifacts.Ruleset(ctx, tenantID); err != nil {
			return nil, fmt.Errorf("load ruleset: %w", err)
		}
	}

	result, err := s.runner.Run(ctx, tenantID, records, rs, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.commit(ctx, tenantID, result)

	span.SetAttributes(
		attribute.Int("leads.processed", result.Summary.Processed),
		attribute.Int("leads.hot", len(result.Summary.HotLeads)),
	)
	s.logger.Info("scoring run completed",
		"run_id", result.Summary.RunID,
		"tenant_id", tenantID,
		"processed", result.Summary.Processed,
		"scored", result.Summary.Scored,
		"unchanged", result.Summary.Unchanged,
		"degraded", result.Summary.Degraded,
		"skipped", result.Summary.Skipped,
		"hot", len(result.Summary.HotLeads),
		"duration_ms", result.Summary.DurationMs,
	)
	return result, nil
}

func (s *Service) lock(ctx context.Context, tenantID string) (func(), error) {
	if s.cache == nil {
		return func() {}, nil
	}
	ok, err := s.cache.Acquire(ctx, tenantID, domain.CacheKeyRunLock, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return func() {
		// released with a fresh context so a cancelled run still unlocks
		if err := s.cache.Delete(context.Background(), tenantID, domain.CacheKeyRunLock); err != nil {
			s.logger.Warn("failed to release run lock", "tenant_id", tenantID, "error", err)
		}
	}, nil
}

// commit persists and publishes a computed batch. Leads scored before a
// cancellation are still written.
func (s *Service) commit(ctx context.Context, tenantID string, result *domain.BatchResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CommitTimeout)
	defer cancel()

	s.persist(ctx, tenantID, result)
	s.observe(result)
	s.publish(ctx, tenantID, result)
}

// persist writes every computed lead. A store failure on one lead is logged
// and does not stop the others.
func (s *Service) persist(ctx context.Context, tenantID string, result *domain.BatchResult) {
	for i := range result.Results {
		res := &result.Results[i]
		if res.LeadID == "" {
			continue
		}
		if res.Outcome == domain.OutcomeFailed {
			s.logActivity(ctx, tenantID, res.LeadID, domain.ActivityScoreSkipped, map[string]any{
				"error": res.Error,
			})
			continue
		}

		if err := s.store.PersistScoreUpdate(ctx, tenantID, res.LeadID, res.Breakdown); err != nil {
			s.logger.Error("failed to persist score", "tenant_id", tenantID, "lead_id", res.LeadID, "error", err)
			continue
		}

		meta := map[string]any{
			"run_id":      result.Summary.RunID,
			"score":       res.Breakdown.Composite,
			"temperature": res.Breakdown.Temperature,
		}
		if len(res.Segments) > 0 {
			meta["segments"] = res.Segments
		}
		if res.Unchanged {
			s.logActivity(ctx, tenantID, res.LeadID, domain.ActivityScoreUnchanged, meta)
			continue
		}

		if err := s.store.AppendScoreHistory(ctx, tenantID, res.History); err != nil {
			s.logger.Error("failed to append score history", "tenant_id", tenantID, "lead_id", res.LeadID, "error", err)
			continue
		}
		metrics.HistoryEntries.Inc()
		meta["previous_score"] = res.History.PreviousScore
		meta["delta"] = res.History.Delta
		meta["reason"] = res.History.Reason
		s.logActivity(ctx, tenantID, res.LeadID, domain.ActivityScoreUpdated, meta)
	}
}

func (s *Service) logActivity(ctx context.Context, tenantID, leadID, activity string, meta map[string]any) {
	if err := s.store.AppendActivityLog(ctx, tenantID, leadID, activity, meta); err != nil {
		s.logger.Warn("failed to append activity", "tenant_id", tenantID, "lead_id", leadID, "activity", activity, "error", err)
	}
}

func (s *Service) observe(result *domain.BatchResult) {
	for _, res := range result.Results {
		metrics.LeadsScored.WithLabelValues(string(res.Outcome)).Inc()
	}
	metrics.HotLeads.Add(float64(len(result.Summary.HotLeads)))
	metrics.ScoringRunDuration.Observe(float64(result.Summary.DurationMs) / 1000)
}

// publish hands the summary and hot leads to the workflow layer. Delivery
// failures are logged; the run itself already succeeded.
func (s *Service) publish(ctx context.Context, tenantID string, result *domain.BatchResult) {
	if s.bus == nil {
		return
	}
	if payload, err := json.Marshal(result.Summary); err == nil {
		if err := s.bus.Publish(ctx, tenantID, domain.TopicScoringCompleted, payload); err != nil {
			s.logger.Warn("failed to publish run summary", "tenant_id", tenantID, "error", err)
		}
	}

	for _, res := range result.Results {
		if res.Breakdown == nil || res.Breakdown.Temperature != domain.TemperatureHot {
			continue
		}
		payload, err := json.Marshal(domain.HotLeadEvent{
			RunID:       result.Summary.RunID,
			TenantID:    tenantID,
			LeadID:      res.LeadID,
			Composite:   res.Breakdown.Composite,
			Temperature: res.Breakdown.Temperature,
			Segments:    res.Segments,
		})
		if err != nil {
			continue
		}
		if err := s.bus.Publish(ctx, tenantID, domain.TopicLeadHot, payload); err != nil {
			s.logger.Warn("failed to publish hot lead", "tenant_id", tenantID, "lead_id", res.LeadID, "error", err)
		}
	}
}
