package domain

import "time"

// Outcome classifies a per-lead or per-analysis result.
type Outcome string

const (
	// OutcomeOK means the value was computed from complete input.
	OutcomeOK Outcome = "ok"

	// OutcomeDegraded means the value was computed with default-substituted input.
	OutcomeDegraded Outcome = "degraded"

	// OutcomeFailed means the value could not be computed and was skipped.
	OutcomeFailed Outcome = "failed"
)

// LeadResult is the scoring result of one lead within a batch.
type LeadResult struct {
	LeadID    string             `json:"leadId,omitempty"`
	Outcome   Outcome            `json:"outcome"`
	Breakdown *ScoreBreakdown    `json:"breakdown,omitempty"`
	History   *ScoreHistoryEntry `json:"history,omitempty"`
	Unchanged bool               `json:"unchanged"`
	Segments  []string           `json:"segments,omitempty"`
	Reasons   []string           `json:"reasons,omitempty"`
	Error     string             `json:"error,omitempty"`
	ProcessUs int64              `json:"processUs"`
}

// RunSummary is the scoring-run summary handed to the workflow layer.
// The engine itself never sends notifications.
type RunSummary struct {
	RunID       string         `json:"runId"`
	TenantID    string         `json:"tenantId,omitempty"`
	Processed   int            `json:"processed"`
	Scored      int            `json:"scored"`
	Unchanged   int            `json:"unchanged"`
	Degraded    int            `json:"degraded"`
	Skipped     int            `json:"skipped"`
	HotLeads    []string       `json:"hot_leads"`
	Segments    map[string]int `json:"segments,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	DurationMs  int64          `json:"durationMs"`
}

// BatchResult bundles the per-lead results of one scoring run with its summary.
type BatchResult struct {
	Results []LeadResult `json:"results"`
	Summary RunSummary   `json:"summary"`
}
