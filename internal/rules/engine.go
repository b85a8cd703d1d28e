// Package rules provides the CEL-Go based segment rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// GlobalTenantID holds rules that apply to every tenant.
const GlobalTenantID = "*"

// Engine is the CEL-based segment rule engine.
// Rules are compiled once and may be hot-reloaded per tenant.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]map[string]*CompiledRule // tenant -> rule ID -> rule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.SegmentRule
	Program cel.Program
}

// Input is a scored lead as seen by segment expressions.
type Input struct {
	Features  *domain.LeadFeatures
	Breakdown *domain.ScoreBreakdown
}

// NewEngine creates a new segment rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("lead", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("job_title", cel.StringType),
		cel.Variable("company_size", cel.IntType),
		cel.Variable("company_size_known", cel.BoolType),
		cel.Variable("industry", cel.StringType),
		cel.Variable("website_visits", cel.IntType),
		cel.Variable("pages_viewed", cel.IntType),
		cel.Variable("email_opens", cel.IntType),
		cel.Variable("email_clicks", cel.IntType),
		cel.Variable("downloads", cel.IntType),
		cel.Variable("days_since_last_activity", cel.IntType),
		cel.Variable("has_activity", cel.BoolType),
		cel.Variable("source", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("temperature", cel.StringType),
		cel.Variable("degraded", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.SegmentRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.SegmentRule) error {
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	tenant := tenantKey(cfg.TenantID)
	if e.compiledRules[tenant] == nil {
		e.compiledRules[tenant] = make(map[string]*CompiledRule)
	}
	e.compiledRules[tenant][cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(configs []*domain.SegmentRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces every rule of a tenant atomically. Nothing changes if
// any rule fails to compile.
func (e *Engine) ReloadRules(tenantID string, configs []*domain.SegmentRule) error {
	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules[tenantKey(tenantID)] = newRules
	return nil
}

// Evaluate runs the tenant's rules and the global rules against one lead in
// parallel. Evaluation errors are reported per rule and never fail the lead.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, in Input) []domain.SegmentResult {
	rules := e.rulesFor(tenantID)
	if len(rules) == 0 {
		return nil
	}

	activation := Activation(in)
	results := make([]domain.SegmentResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateRule(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()
	return results
}

// Tags returns the tags of matching rules, highest priority first.
func (e *Engine) Tags(ctx context.Context, tenantID string, in Input) []string {
	results := e.Evaluate(ctx, tenantID, in)
	if len(results) == 0 {
		return nil
	}
	priority := make(map[string]int, len(results))
	for _, r := range e.rulesFor(tenantID) {
		if p, ok := priority[r.Config.Tag]; !ok || r.Config.Priority > p {
			priority[r.Config.Tag] = r.Config.Priority
		}
	}

	seen := make(map[string]bool)
	tags := make([]string, 0, len(results))
	for _, r := range results {
		if r.Matched && !seen[r.Tag] {
			seen[r.Tag] = true
			tags = append(tags, r.Tag)
		}
	}
	sort.Slice(tags, func(a, b int) bool {
		if priority[tags[a]] != priority[tags[b]] {
			return priority[tags[a]] > priority[tags[b]]
		}
		return tags[a] < tags[b]
	})
	return tags
}

// Activation builds the CEL variables for a scored lead.
func Activation(in Input) map[string]any {
	f := in.Features
	if f == nil {
		f = &domain.LeadFeatures{}
	}
	b := in.Breakdown
	if b == nil {
		b = &domain.ScoreBreakdown{}
	}
	vars := map[string]any{
		"job_title":                f.JobTitle,
		"company_size":             int64(f.CompanySize),
		"company_size_known":       f.CompanySizeKnown,
		"industry":                 f.Industry,
		"website_visits":           int64(f.WebsiteVisits),
		"pages_viewed":             int64(f.PagesViewed),
		"email_opens":              int64(f.EmailOpens),
		"email_clicks":             int64(f.EmailClicks),
		"downloads":                int64(f.Downloads),
		"days_since_last_activity": int64(f.DaysSinceLastActivity),
		"has_activity":             f.HasActivity,
		"source":                   f.Source,
		"status":                   f.Status,
		"score":                    b.Composite,
		"temperature":              string(b.Temperature),
		"degraded":                 f.Degraded,
	}
	lead := make(map[string]any, len(vars)+6)
	for k, v := range vars {
		lead[k] = v
	}
	lead["id"] = f.LeadID
	lead[domain.FactorDemographic] = b.Demographic
	lead[domain.FactorFirmographic] = b.Firmographic
	lead[domain.FactorBehavioral] = b.Behavioral
	lead[domain.FactorEngagement] = b.Engagement
	lead[domain.FactorTemporal] = b.Temporal
	vars["lead"] = lead
	return vars
}

// RulesCount returns the number of loaded rules across all tenants.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, rules := range e.compiledRules {
		n += len(rules)
	}
	return n
}

// GetLoadedRules returns the rule configurations that apply to a tenant.
func (e *Engine) GetLoadedRules(tenantID string) []*domain.SegmentRule {
	rules := e.rulesFor(tenantID)
	out := make([]*domain.SegmentRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Config)
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]map[string]*CompiledRule)
	return nil
}

// rulesFor returns the tenant's and global rules in a stable order.
func (e *Engine) rulesFor(tenantID string) []*CompiledRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var rules []*CompiledRule
	for _, tenant := range []string{tenantKey(tenantID), GlobalTenantID} {
		for _, r := range e.compiledRules[tenant] {
			rules = append(rules, r)
		}
		if tenantKey(tenantID) == GlobalTenantID {
			break
		}
	}
	sort.Slice(rules, func(a, b int) bool {
		if rules[a].Config.Priority != rules[b].Config.Priority {
			return rules[a].Config.Priority > rules[b].Config.Priority
		}
		return rules[a].Config.ID < rules[b].Config.ID
	})
	return rules
}

func evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any) domain.SegmentResult {
	start := time.Now()
	result := domain.SegmentResult{
		RuleID: rule.Config.ID,
		Tag:    rule.Config.Tag,
	}

	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessUs = time.Since(start).Microseconds()
		return result
	}
	if matched, ok := out.(types.Bool); ok {
		result.Matched = bool(matched)
	}
	result.ProcessUs = time.Since(start).Microseconds()
	return result
}

func (e *Engine) compileRule(cfg *domain.SegmentRule) (*CompiledRule, error) {
	if cfg.Tag == "" {
		return nil, fmt.Errorf("rule %s: tag is required", cfg.ID)
	}
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

func tenantKey(tenantID string) string {
	if tenantID == "" {
		return GlobalTenantID
	}
	return tenantID
}
