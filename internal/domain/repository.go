// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// LeadStore is the narrow record-store contract the scoring service depends on.
// All methods require tenantID for strict multi-tenancy isolation.
type LeadStore interface {
	// FetchLeadsDueForScoring returns leads created or engaged since the given time.
	// A zero since returns every lead of the tenant.
	FetchLeadsDueForScoring(ctx context.Context, tenantID string, since time.Time) ([]LeadRecord, error)

	// PersistScoreUpdate stores the latest breakdown on the lead.
	PersistScoreUpdate(ctx context.Context, tenantID string, leadID string, breakdown *ScoreBreakdown) error

	// AppendScoreHistory appends an entry. Re-appending the same entry ID is a no-op.
	AppendScoreHistory(ctx context.Context, tenantID string, entry *ScoreHistoryEntry) error

	// AppendActivityLog records a scoring event on the lead's activity timeline.
	AppendActivityLog(ctx context.Context, tenantID string, leadID string, activityType string, metadata map[string]any) error
}

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	LeadStore

	// Lead operations
	UpsertLeads(ctx context.Context, tenantID string, leads []LeadRecord) (int, error)
	GetLead(ctx context.Context, tenantID string, leadID string) (LeadRecord, error)
	ListScoreHistory(ctx context.Context, tenantID string, leadID string, limit int) ([]*ScoreHistoryEntry, error)
	ListActivity(ctx context.Context, tenantID string, leadID string, limit int) ([]*ActivityEntry, error)

	// Ruleset operations
	SaveRuleset(ctx context.Context, tenantID string, ruleset *Ruleset) error
	GetRuleset(ctx context.Context, tenantID string) (*Ruleset, error)

	// Segment rule operations
	SaveSegmentRule(ctx context.Context, tenantID string, rule *SegmentRule) error
	ListSegmentRules(ctx context.Context, tenantID string) ([]*SegmentRule, error)
	DeleteSegmentRule(ctx context.Context, tenantID string, ruleID string) error

	// Model artifact operations
	SaveModel(ctx context.Context, tenantID string, model *ModelArtifact) error
	GetModel(ctx context.Context, tenantID string) (*ModelArtifact, error)

	// Analytics reports
	SaveReport(ctx context.Context, tenantID string, report *AnalyticsReport) error
	GetReport(ctx context.Context, tenantID string, reportID string) (*AnalyticsReport, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ActivityEntry is one row of a lead's activity timeline.
type ActivityEntry struct {
	ID           string         `json:"id"`
	LeadID       string         `json:"leadId"`
	ActivityType string         `json:"activityType"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
