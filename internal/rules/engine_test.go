package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func hotLead() Input {
	return Input{
		Features: &domain.LeadFeatures{
			LeadID:                "lead-001",
			JobTitle:              "ceo",
			CompanySize:           5000,
			CompanySizeKnown:      true,
			Industry:              "software",
			EmailClicks:           3,
			DaysSinceLastActivity: 2,
			HasActivity:           true,
			Source:                "webinar",
			Status:                domain.StatusNew,
		},
		Breakdown: &domain.ScoreBreakdown{
			Demographic: 25, Firmographic: 25, Behavioral: 30, Engagement: 12, Temporal: 10,
			Composite: 100, Temperature: domain.TemperatureHot,
		},
	}
}

func rule(id, tag, expr string, priority int) *domain.SegmentRule {
	return &domain.SegmentRule{
		ID:         id,
		Name:       id,
		Tag:        tag,
		Expression: expr,
		Priority:   priority,
		Enabled:    true,
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if err := engine.LoadRule(rule("big", "enterprise", "company_size >= 1000", 1)); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}

	tests := []struct {
		name string
		cfg  *domain.SegmentRule
	}{
		{"InvalidSyntax", rule("bad", "x", "this is not valid CEL !!!", 0)},
		{"NonBoolean", rule("num", "x", "score * 2.0", 0)},
		{"UnknownVariable", rule("unk", "x", "amount > 10.0", 0)},
		{"MissingTag", rule("notag", "", "degraded", 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRule(tt.cfg); err == nil {
				t.Error("expected load error")
			}
		})
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected failed loads to leave 1 rule, got %d", engine.RulesCount())
	}
}

func TestEvaluate(t *testing.T) {
	engine, _ := NewEngine(2)
	defer engine.Close()
	ctx := context.Background()

	err := engine.LoadRules([]*domain.SegmentRule{
		rule("hot", "hot-exec", "temperature == 'hot' && job_title.contains('ceo')", 10),
		rule("webinar", "events", "source == 'webinar'", 5),
		rule("cold", "cold", "score < 40.0", 1),
		rule("factor", "strong-fit", "lead.firmographic >= 20.0 && lead.id == 'lead-001'", 3),
		{ID: "off", Tag: "disabled", Expression: "true", Enabled: false},
	})
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if engine.RulesCount() != 4 {
		t.Errorf("expected disabled rule skipped, got %d rules", engine.RulesCount())
	}

	results := engine.Evaluate(ctx, "tenant-001", hotLead())
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	matched := 0
	for _, r := range results {
		if r.Error != "" {
			t.Errorf("rule %s: unexpected error %s", r.RuleID, r.Error)
		}
		if r.Matched {
			matched++
		}
	}
	if matched != 3 {
		t.Errorf("expected 3 matches, got %d", matched)
	}

	tags := engine.Tags(ctx, "tenant-001", hotLead())
	want := []string{"hot-exec", "events", "strong-fit"}
	if fmt.Sprint(tags) != fmt.Sprint(want) {
		t.Errorf("expected tags %v, got %v", want, tags)
	}
}

func TestEvaluationErrorDoesNotFailLead(t *testing.T) {
	engine, _ := NewEngine(2)
	defer engine.Close()
	ctx := context.Background()

	engine.LoadRule(rule("missing-key", "broken", "lead['no_such_field'] == 'x'", 5))
	engine.LoadRule(rule("div", "ratio", "website_visits / downloads > 1", 4))
	engine.LoadRule(rule("ok", "events", "source == 'webinar'", 1))

	results := engine.Evaluate(ctx, "", hotLead())
	errored := 0
	for _, r := range results {
		if r.Error != "" {
			errored++
			if r.Matched {
				t.Errorf("rule %s: errored rule must not match", r.RuleID)
			}
		}
	}
	if errored != 2 {
		t.Errorf("expected 2 errored rules, got %d", errored)
	}

	tags := engine.Tags(ctx, "", hotLead())
	if len(tags) != 1 || tags[0] != "events" {
		t.Errorf("expected [events], got %v", tags)
	}
}

func TestTenantIsolation(t *testing.T) {
	engine, _ := NewEngine(4)
	defer engine.Close()
	ctx := context.Background()

	global := rule("g", "global", "true", 0)
	global.TenantID = GlobalTenantID
	a := rule("a", "tenant-a", "true", 1)
	a.TenantID = "tenant-a"
	engine.LoadRules([]*domain.SegmentRule{global, a})

	if tags := engine.Tags(ctx, "tenant-a", hotLead()); fmt.Sprint(tags) != "[tenant-a global]" {
		t.Errorf("tenant-a: unexpected tags %v", tags)
	}
	if tags := engine.Tags(ctx, "tenant-b", hotLead()); fmt.Sprint(tags) != "[global]" {
		t.Errorf("tenant-b: unexpected tags %v", tags)
	}
	if n := len(engine.GetLoadedRules("tenant-b")); n != 1 {
		t.Errorf("expected 1 rule for tenant-b, got %d", n)
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(4)
	defer engine.Close()

	engine.ReloadRules("tenant-a", []*domain.SegmentRule{rule("r1", "one", "true", 0)})
	if engine.RulesCount() != 1 {
		t.Fatalf("expected 1 rule, got %d", engine.RulesCount())
	}

	err := engine.ReloadRules("tenant-a", []*domain.SegmentRule{
		rule("r2", "two", "true", 0),
		rule("r3", "three", "not valid !!!", 0),
	})
	if err == nil {
		t.Fatal("expected reload error")
	}
	loaded := engine.GetLoadedRules("tenant-a")
	if len(loaded) != 1 || loaded[0].ID != "r1" {
		t.Errorf("failed reload must keep previous rules, got %v", loaded)
	}

	if err := engine.ReloadRules("tenant-a", []*domain.SegmentRule{rule("r2", "two", "true", 0)}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	loaded = engine.GetLoadedRules("tenant-a")
	if len(loaded) != 1 || loaded[0].ID != "r2" {
		t.Errorf("expected r2 after reload, got %v", loaded)
	}
}

func TestBuiltinSegments(t *testing.T) {
	engine, _ := NewEngine(4)
	defer engine.Close()

	for _, r := range BuiltinSegments() {
		if err := engine.ValidateRule(r); err != nil {
			t.Errorf("builtin %s does not compile: %v", r.ID, err)
		}
	}
	if err := engine.LoadRules(BuiltinSegments()); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}

	cold := Input{
		Features: &domain.LeadFeatures{
			LeadID: "lead-002", Downloads: 1, Degraded: true,
			JobTitle: domain.Unclassified, Industry: domain.Unclassified,
		},
		Breakdown: &domain.ScoreBreakdown{Composite: 16, Temperature: domain.TemperatureFrozen},
	}
	tags := engine.Tags(context.Background(), "tenant-001", cold)
	if fmt.Sprint(tags) != "[engaged-cold needs-enrichment]" {
		t.Errorf("unexpected builtin tags %v", tags)
	}

	tags = engine.Tags(context.Background(), "tenant-001", hotLead())
	if fmt.Sprint(tags) != "[enterprise]" {
		t.Errorf("unexpected builtin tags for hot lead %v", tags)
	}
}

func TestEvaluateCancelled(t *testing.T) {
	engine, _ := NewEngine(1)
	defer engine.Close()
	engine.LoadRule(rule("r", "t", "true", 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := engine.Evaluate(ctx, "", hotLead())
	if len(results) != 1 || results[0].Matched || results[0].Error == "" {
		t.Errorf("expected cancelled result, got %+v", results)
	}
}
