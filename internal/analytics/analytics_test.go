package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/predict"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var reference = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

// batch returns two leads per month from January to June 2025. Every third
// lead closes won; lead-05 has no industry.
func batch() []domain.LeadRecord {
	titles := []string{"ceo", "vp sales", "marketing manager", "analyst"}
	var records []domain.LeadRecord
	for i := 0; i < 12; i++ {
		created := time.Date(2025, time.Month(1+i/2), 3+10*(i%2), 0, 0, 0, 0, time.UTC)
		r := domain.LeadRecord{
			"id":                 fmt.Sprintf("lead-%02d", i),
			"job_title":          titles[i%len(titles)],
			"company_size":       100 * (i + 1),
			"industry":           "software",
			"website_visits":     i * 2,
			"pages_viewed":       i * 4,
			"email_opens":        i % 5,
			"email_clicks":       i % 3,
			"downloads":          i % 2,
			"source":             "webinar",
			"status":             "new",
			"created_at":         created.Format(time.RFC3339),
			"last_engagement_at": reference.AddDate(0, 0, -(i * 7)).Format(time.RFC3339),
		}
		if i%3 == 0 {
			r["status"] = "closed_won"
			r["status_changed_at"] = created.AddDate(0, 0, 10).Format(time.RFC3339)
			r["deal_value"] = 1000 + 100*i
		}
		if i == 5 {
			delete(r, "industry")
		}
		records = append(records, r)
	}
	return records
}

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.LoadRules(rules.BuiltinSegments()); err != nil {
		t.Fatalf("failed to load segments: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return NewOrchestrator(engine, domain.DefaultConfig().Predictive, nil)
}

func statusOf(report *domain.AnalyticsReport, name string) domain.AnalysisStatus {
	for _, s := range report.Analyses {
		if s.Name == name {
			return s
		}
	}
	return domain.AnalysisStatus{}
}

func TestAnalyze(t *testing.T) {
	o := newOrchestrator(t)
	report, err := o.Analyze(context.Background(), Input{
		ReportID:  "report-001",
		TenantID:  "tenant-001",
		Records:   batch(),
		Ruleset:   domain.DefaultRuleset(),
		Reference: reference,
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if report.State != domain.RunCompleted {
		t.Errorf("expected completed, got %s: %+v", report.State, report.Analyses)
	}
	if len(report.Analyses) != 7 {
		t.Errorf("expected 7 analyses, got %d", len(report.Analyses))
	}
	if report.LeadCount != 12 {
		t.Errorf("expected 12 leads, got %d", report.LeadCount)
	}
	if report.DegradedCount != 1 {
		t.Errorf("expected 1 degraded lead, got %d", report.DegradedCount)
	}
	if report.RulesetVersion != "default-v1" {
		t.Errorf("expected ruleset version default-v1, got %s", report.RulesetVersion)
	}
	if !report.GeneratedAt.Equal(reference) {
		t.Errorf("expected generatedAt %v, got %v", reference, report.GeneratedAt)
	}

	t.Run("Descriptive", func(t *testing.T) {
		s, ok := report.Descriptive[SeriesComposite]
		if !ok || s.Count != 12 {
			t.Fatalf("expected composite summary over 12 leads, got %+v", s)
		}
		if s.Min < 0 || s.Max > 100 {
			t.Errorf("composite summary out of bounds: %+v", s)
		}
		if d, ok := report.Descriptive[SeriesDealValue]; !ok || d.Count != 4 {
			t.Errorf("expected deal value summary over 4 deals, got %+v", d)
		}
	})

	t.Run("Correlation", func(t *testing.T) {
		m := report.Correlations
		if m == nil || len(m.Names) != 7 {
			t.Fatalf("expected 7x7 matrix, got %+v", m)
		}
		for i := range m.Names {
			c := m.Coefficients[i][i]
			if c == nil || math.Abs(*c-1) > 1e-9 {
				t.Errorf("diagonal %s: expected 1, got %v", m.Names[i], c)
			}
		}
	})

	t.Run("Trends", func(t *testing.T) {
		for _, name := range []string{SeriesScoreByDate, SeriesLeadVolume, SeriesRevenue} {
			if _, ok := report.Trends[name]; !ok {
				t.Errorf("missing trend %s", name)
			}
		}
		if v := report.Trends[SeriesLeadVolume]; math.Abs(v.Slope) > 1e-9 {
			t.Errorf("expected flat lead volume, got slope %v", v.Slope)
		}
	})

	t.Run("Predictive", func(t *testing.T) {
		p := report.Predictive
		if p == nil {
			t.Fatal("expected predictive report")
		}
		if !p.ConversionFallback || len(p.Conversions) != 12 {
			t.Errorf("expected 12 fallback predictions, got %d (fallback=%v)", len(p.Conversions), p.ConversionFallback)
		}
		if math.Abs(p.ExpectedConversions-4) > 1e-9 {
			t.Errorf("expected 4 expected conversions, got %v", p.ExpectedConversions)
		}
		if p.Revenue == nil || len(p.Revenue.Points) != defaultHorizon {
			t.Errorf("expected %d forecast points, got %+v", defaultHorizon, p.Revenue)
		}
		if p.CLV == nil || p.CLV.AvgDealValue != 1450 {
			t.Errorf("expected average deal value 1450, got %+v", p.CLV)
		}
	})

	t.Run("Cohorts", func(t *testing.T) {
		if report.Cohorts == nil || len(report.Cohorts.Cohorts) != 6 {
			t.Fatalf("expected 6 monthly cohorts, got %+v", report.Cohorts)
		}
		if report.Cohorts.Cohorts[0].Key != "2025-01" || report.Cohorts.Cohorts[0].Size != 2 {
			t.Errorf("unexpected first cohort %+v", report.Cohorts.Cohorts[0])
		}
	})

	t.Run("Segments", func(t *testing.T) {
		s, ok := report.Segments["needs-enrichment"]
		if !ok || s.Count != 1 {
			t.Errorf("expected one lead needing enrichment, got %+v", report.Segments)
		}
	})
}

func TestAnalyzeWithModel(t *testing.T) {
	o := newOrchestrator(t)
	model := &domain.ModelArtifact{
		Version:      "m1",
		Features:     []string{predict.FeatureComposite},
		Coefficients: map[string]float64{predict.FeatureComposite: 0},
		Means:        map[string]float64{predict.FeatureComposite: 0},
		Scales:       map[string]float64{predict.FeatureComposite: 1},
	}
	report, err := o.Analyze(context.Background(), Input{
		Records:   batch(),
		Ruleset:   domain.DefaultRuleset(),
		Model:     model,
		Reference: reference,
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	p := report.Predictive
	if p.ConversionFallback {
		t.Error("expected model predictions, got fallback")
	}
	if math.Abs(p.ExpectedConversions-6) > 1e-9 {
		t.Errorf("expected 6 expected conversions at p=0.5, got %v", p.ExpectedConversions)
	}
	if p.Conversions[0].ModelVersion != "m1" {
		t.Errorf("expected model version m1, got %s", p.Conversions[0].ModelVersion)
	}
	if report.ID == "" {
		t.Error("expected generated report ID")
	}
}

func TestAnalyzeWindow(t *testing.T) {
	o := newOrchestrator(t)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	records := append(batch(), domain.LeadRecord{"id": "undated"})

	report, err := o.Analyze(context.Background(), Input{
		Records:    records,
		Ruleset:    domain.DefaultRuleset(),
		Parameters: domain.AnalyticsParameters{WindowStart: &start, WindowEnd: &end},
		Reference:  reference,
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if report.LeadCount != 6 {
		t.Errorf("expected 6 leads in window, got %d", report.LeadCount)
	}
}

func TestAnalyzeDegradedBatches(t *testing.T) {
	o := newOrchestrator(t)

	t.Run("EmptyBatch", func(t *testing.T) {
		report, err := o.Analyze(context.Background(), Input{Ruleset: domain.DefaultRuleset(), Reference: reference})
		if err != nil {
			t.Fatalf("empty batch must not error: %v", err)
		}
		if report.State != domain.RunPartiallyFailed {
			t.Errorf("expected partially_failed, got %s", report.State)
		}
		if s := statusOf(report, domain.AnalysisDescriptive); s.Outcome != domain.OutcomeFailed || s.Error == "" {
			t.Errorf("expected failed descriptive analysis, got %+v", s)
		}
		if s := statusOf(report, domain.AnalysisCohort); s.Outcome != domain.OutcomeOK {
			t.Errorf("expected cohort analysis ok, got %+v", s)
		}
		if report.Predictive == nil || !report.Predictive.Revenue.Fallback {
			t.Error("expected revenue forecast fallback")
		}
	})

	t.Run("PerLeadFailure", func(t *testing.T) {
		records := append(batch(), domain.LeadRecord{"job_title": "ceo"})
		report, err := o.Analyze(context.Background(), Input{Records: records, Ruleset: domain.DefaultRuleset(), Reference: reference})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if report.FailedLeads != 1 || report.LeadCount != 12 {
			t.Errorf("expected 12 leads and 1 failure, got %d and %d", report.LeadCount, report.FailedLeads)
		}
	})

	t.Run("InvalidBatch", func(t *testing.T) {
		run := NewRun()
		_, err := o.Execute(context.Background(), run, Input{
			Records: []domain.LeadRecord{{"job_title": "ceo"}, {"email": "x@example.com"}},
			Ruleset: domain.DefaultRuleset(),
		})
		if !errors.Is(err, domain.ErrInvalidBatch) {
			t.Errorf("expected ErrInvalidBatch, got %v", err)
		}
		if run.State() != domain.RunIdle {
			t.Errorf("expected run to stay idle, got %s", run.State())
		}
	})

	t.Run("UnknownOutlierMethod", func(t *testing.T) {
		report, err := o.Analyze(context.Background(), Input{
			Records:    batch(),
			Ruleset:    domain.DefaultRuleset(),
			Parameters: domain.AnalyticsParameters{OutlierMethod: "mad"},
			Reference:  reference,
		})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if report.State != domain.RunPartiallyFailed {
			t.Errorf("expected partially_failed, got %s", report.State)
		}
		if s := statusOf(report, domain.AnalysisOutliers); s.Outcome != domain.OutcomeFailed {
			t.Errorf("expected failed outlier analysis, got %+v", s)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		report, err := o.Analyze(ctx, Input{Records: batch(), Ruleset: domain.DefaultRuleset(), Reference: reference})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		for _, s := range report.Analyses {
			if s.Outcome != domain.OutcomeFailed {
				t.Errorf("analysis %s: expected failed after cancellation, got %s", s.Name, s.Outcome)
			}
		}
		if report.State != domain.RunPartiallyFailed {
			t.Errorf("expected partially_failed, got %s", report.State)
		}
	})
}

func TestRunStates(t *testing.T) {
	o := newOrchestrator(t)
	run := NewRun()
	if run.State() != domain.RunIdle || run.Report() != nil {
		t.Fatalf("expected idle run without report")
	}

	report, err := o.Execute(context.Background(), run, Input{Records: batch(), Ruleset: domain.DefaultRuleset(), Reference: reference})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.State() != report.State || run.Report() != report {
		t.Errorf("run state %s does not reflect report %s", run.State(), report.State)
	}

	if _, err := o.Execute(context.Background(), run, Input{Records: batch()}); !errors.Is(err, ErrRunStarted) {
		t.Errorf("expected ErrRunStarted, got %v", err)
	}
}
