// Package analytics orchestrates one analytics run over a lead batch: extract
// and score once, then fan out the statistical, predictive, cohort and segment
// analyses and assemble an immutable report.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/cohort"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/predict"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/stats"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("kestrel-analytics")

// ErrRunStarted is returned when a Run is executed twice.
var ErrRunStarted = errors.New("analytics run already started")

// Run tracks the lifecycle of one analytics run:
// idle -> running -> completed | partially_failed.
type Run struct {
	mu     sync.RWMutex
	state  domain.RunState
	report *domain.AnalyticsReport
}

// NewRun returns an idle run.
func NewRun() *Run {
	return &Run{state: domain.RunIdle}
}

// State returns the current state.
func (r *Run) State() domain.RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Report returns the assembled report, or nil until the run finished.
func (r *Run) Report() *domain.AnalyticsReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.report
}

func (r *Run) start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != domain.RunIdle {
		return ErrRunStarted
	}
	r.state = domain.RunRunning
	return nil
}

func (r *Run) finish(report *domain.AnalyticsReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = report.State
	r.report = report
}

// abort returns a run that failed before any analysis started to idle.
func (r *Run) abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = domain.RunIdle
}

// Input is everything one run needs. The orchestrator performs no I/O.
type Input struct {
	ReportID   string
	TenantID   string
	Records    []domain.LeadRecord
	Ruleset    domain.Ruleset
	Model      *domain.ModelArtifact
	Parameters domain.AnalyticsParameters
	// Reference is the time recency and cohort ages are measured against.
	Reference time.Time
}

// Orchestrator runs analytics over lead batches.
type Orchestrator struct {
	segments   *rules.Engine
	predictive domain.PredictiveConfig
	logger     *slog.Logger
}

// NewOrchestrator creates an orchestrator. The segment engine may be nil, in
// which case the segments analysis reports no tags.
func NewOrchestrator(segments *rules.Engine, predictive domain.PredictiveConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{segments: segments, predictive: predictive, logger: logger}
}

// Analyze executes a fresh run.
func (o *Orchestrator) Analyze(ctx context.Context, in Input) (*domain.AnalyticsReport, error) {
	return o.Execute(ctx, NewRun(), in)
}

// Execute drives run through its states. A structurally invalid batch is a
// hard error; failures of individual analyses only mark the report
// partially_failed.
func (o *Orchestrator) Execute(ctx context.Context, run *Run, in Input) (*domain.AnalyticsReport, error) {
	if err := run.start(); err != nil {
		return nil, err
	}
	started := time.Now()

	ctx, span := tracer.Start(ctx, "analytics.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", in.TenantID),
		attribute.Int("leads.count", len(in.Records)),
	)

	params := resolveParameters(in.Parameters, in.Ruleset)
	ref := in.Reference
	if ref.IsZero() {
		ref = time.Now()
	}
	ref = ref.UTC()

	leads, failed, err := o.prepare(ctx, in, params, ref)
	if err != nil {
		run.abort()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	reportID := in.ReportID
	if reportID == "" {
		reportID = uuid.New().String()
	}
	report := &domain.AnalyticsReport{
		ID:             reportID,
		TenantID:       in.TenantID,
		Parameters:     params,
		RulesetVersion: in.Ruleset.Version,
		GeneratedAt:    ref,
		LeadCount:      len(leads),
		FailedLeads:    failed,
	}
	for _, l := range leads {
		if l.features.Degraded {
			report.DegradedCount++
		}
	}

	analyses := []struct {
		name string
		run  func() error
	}{
		{domain.AnalysisDescriptive, func() error { return descriptive(report, leads) }},
		{domain.AnalysisCorrelation, func() error { return correlation(report, leads) }},
		{domain.AnalysisTrend, func() error { return trends(report, leads, params) }},
		{domain.AnalysisOutliers, func() error { return outliers(report, leads, params) }},
		{domain.AnalysisPredictive, func() error { return o.predictions(report, leads, in, params, ref) }},
		{domain.AnalysisCohort, func() error { return cohorts(report, leads, params, ref) }},
		{domain.AnalysisSegments, func() error { return segments(report, leads) }},
	}

	statuses := make([]domain.AnalysisStatus, len(analyses))
	var g errgroup.Group
	for i, a := range analyses {
		g.Go(func() error {
			statuses[i] = domain.AnalysisStatus{Name: a.name, Outcome: domain.OutcomeOK}
			err := ctx.Err()
			if err == nil {
				err = a.run()
			}
			if err != nil {
				statuses[i].Outcome = domain.OutcomeFailed
				statuses[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Analyses = statuses
	report.State = domain.RunCompleted
	for _, s := range statuses {
		if s.Outcome != domain.OutcomeOK {
			report.State = domain.RunPartiallyFailed
			o.logger.Warn("analysis failed",
				"report_id", report.ID,
				"tenant_id", report.TenantID,
				"analysis", s.Name,
				"error", s.Error,
			)
		}
	}

	run.finish(report)
	metrics.AnalyticsRuns.WithLabelValues(string(report.State)).Inc()
	metrics.AnalyticsRunDuration.Observe(time.Since(started).Seconds())
	span.SetAttributes(attribute.String("analytics.state", string(report.State)))

	o.logger.Info("analytics run finished",
		"report_id", report.ID,
		"tenant_id", report.TenantID,
		"state", report.State,
		"leads", report.LeadCount,
		"degraded", report.DegradedCount,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return report, nil
}

// prepare extracts, filters and scores the batch once.
func (o *Orchestrator) prepare(ctx context.Context, in Input, params domain.AnalyticsParameters, ref time.Time) ([]scored, int, error) {
	extractions, err := features.ExtractBatch(in.Records, ref)
	if err != nil {
		return nil, 0, err
	}

	leads := make([]scored, 0, len(extractions))
	failed := 0
	for _, x := range extractions {
		if x.Err != nil {
			failed++
			continue
		}
		if !inWindow(x.Features.CreatedAt, params) {
			continue
		}
		l := scored{features: x.Features, breakdown: scoring.Score(x.Features, in.Ruleset)}
		if o.segments != nil {
			l.tags = o.segments.Tags(ctx, in.TenantID, rules.Input{Features: &l.features, Breakdown: &l.breakdown})
		}
		leads = append(leads, l)
	}
	return leads, failed, nil
}

// inWindow applies the creation-date window. With a window set, leads without
// a creation date are excluded.
func inWindow(created time.Time, p domain.AnalyticsParameters) bool {
	if p.WindowStart == nil && p.WindowEnd == nil {
		return true
	}
	if created.IsZero() {
		return false
	}
	if p.WindowStart != nil && created.Before(*p.WindowStart) {
		return false
	}
	if p.WindowEnd != nil && !created.Before(*p.WindowEnd) {
		return false
	}
	return true
}

// resolveParameters fills zero parameters from the ruleset and defaults.
func resolveParameters(p domain.AnalyticsParameters, rs domain.Ruleset) domain.AnalyticsParameters {
	if p.Granularity == "" {
		p.Granularity = rs.CohortGranularity
	}
	if p.Granularity == "" {
		p.Granularity = domain.GranularityMonth
	}
	if p.OutlierMethod == "" {
		p.OutlierMethod = rs.OutlierMethod
	}
	if p.OutlierMethod == "" {
		p.OutlierMethod = domain.OutlierIQR
	}
	if p.ConfidenceLevel == 0 {
		p.ConfidenceLevel = stats.DefaultConfidenceLevel
	}
	if p.Alpha == 0 {
		p.Alpha = stats.DefaultAlpha
	}
	if p.ForecastHorizon == 0 {
		p.ForecastHorizon = defaultHorizon
	}
	if p.MaxCohortOffsets == 0 {
		p.MaxCohortOffsets = cohort.DefaultMaxOffsets
	}
	return p
}

func descriptive(report *domain.AnalyticsReport, leads []scored) error {
	out := make(map[string]domain.Summary)
	var firstErr error
	for _, s := range descriptiveSeries(leads) {
		summary, err := stats.Describe(s.Values)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", s.Name, err)
			}
			continue
		}
		out[s.Name] = summary
	}
	if len(out) == 0 {
		return firstErr
	}
	report.Descriptive = out
	return nil
}

func correlation(report *domain.AnalyticsReport, leads []scored) error {
	m, err := stats.CorrelationMatrix(correlationSeries(leads))
	if err != nil {
		return err
	}
	report.Correlations = &m
	return nil
}

func trends(report *domain.AnalyticsReport, leads []scored, p domain.AnalyticsParameters) error {
	out := make(map[string]domain.Trend)
	var firstErr error
	record := func(name string, t domain.Trend, err error) {
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			return
		}
		out[name] = t
	}

	xs, ys := scoreByCreation(leads)
	t, err := stats.LinearTrend(xs, ys, p.ConfidenceLevel)
	record(SeriesScoreByDate, t, err)

	t, err = stats.TrendOverIndex(leadVolume(leads, p.Granularity), p.ConfidenceLevel)
	record(SeriesLeadVolume, t, err)

	t, err = stats.TrendOverIndex(revenueSeries(leads, p.Granularity), p.ConfidenceLevel)
	record(SeriesRevenue, t, err)

	if len(out) == 0 {
		return firstErr
	}
	report.Trends = out
	return nil
}

func outliers(report *domain.AnalyticsReport, leads []scored, p domain.AnalyticsParameters) error {
	values := make([]float64, len(leads))
	for i, l := range leads {
		values[i] = l.breakdown.Composite
	}
	r, err := stats.Outliers(values, p.OutlierMethod)
	if err != nil {
		return err
	}
	for i := range r.Outliers {
		r.Outliers[i].LeadID = leads[r.Outliers[i].Index].features.LeadID
	}
	report.Outliers = &r
	return nil
}

func (o *Orchestrator) predictions(report *domain.AnalyticsReport, leads []scored, in Input, p domain.AnalyticsParameters, ref time.Time) error {
	feats := featureList(leads)
	conversions, fallback := predict.PredictBatch(in.Model, feats, in.Ruleset)
	out := &domain.PredictiveReport{Conversions: conversions, ConversionFallback: fallback}
	for _, c := range conversions {
		out.ExpectedConversions += c.Probability
	}
	out.ExpectedConversions = scoring.Round2(out.ExpectedConversions)

	forecast, err := predict.ForecastRevenue(revenueSeries(leads, p.Granularity), p.ForecastHorizon, predict.ForecastOptions{
		SeasonLength: p.SeasonLength,
		Level:        p.ConfidenceLevel,
	})
	if err != nil {
		return fmt.Errorf("revenue forecast: %w", err)
	}
	out.Revenue = &forecast

	var deals []float64
	for _, f := range feats {
		if f.Converted() && f.DealValue > 0 {
			deals = append(deals, f.DealValue)
		}
	}
	var retention *float64
	if table, err := cohort.Build(feats, cohort.Options{Granularity: p.Granularity, MaxOffsets: p.MaxCohortOffsets, Reference: ref}); err == nil {
		retention = cohort.RetentionRate(table)
	}
	clv := predict.EstimateCLV(deals, retention, predict.CLVOptionsFromConfig(o.predictive))
	out.CLV = &clv

	report.Predictive = out
	return nil
}

func cohorts(report *domain.AnalyticsReport, leads []scored, p domain.AnalyticsParameters, ref time.Time) error {
	table, err := cohort.Build(featureList(leads), cohort.Options{
		Granularity: p.Granularity,
		MaxOffsets:  p.MaxCohortOffsets,
		Reference:   ref,
	})
	if err != nil {
		return err
	}
	report.Cohorts = &table
	return nil
}

func segments(report *domain.AnalyticsReport, leads []scored) error {
	out := make(map[string]domain.SegmentSummary)
	sums := make(map[string]float64)
	for _, l := range leads {
		for _, tag := range l.tags {
			s := out[tag]
			s.Tag = tag
			s.Count++
			if l.breakdown.Temperature == domain.TemperatureHot {
				s.HotCount++
			}
			sums[tag] += l.breakdown.Composite
			out[tag] = s
		}
	}
	for tag, s := range out {
		s.MeanScore = scoring.Round2(sums[tag] / float64(s.Count))
		out[tag] = s
	}
	report.Segments = out
	return nil
}
