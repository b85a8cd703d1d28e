package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaLeads keeps the raw record as JSON next to the latest score.
// updated_at moves on every upsert; scored_at on every persisted score.
const schemaLeads = `
CREATE TABLE IF NOT EXISTS leads (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    data TEXT NOT NULL,
    score DOUBLE PRECISION,
    temperature TEXT,
    breakdown TEXT,
    scored_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_leads_updated ON leads(tenant_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_leads_temperature ON leads(tenant_id, temperature);
`

const schemaScoreHistory = `
CREATE TABLE IF NOT EXISTS score_history (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    lead_id TEXT NOT NULL,
    previous_score DOUBLE PRECISION NOT NULL,
    new_score DOUBLE PRECISION NOT NULL,
    delta DOUBLE PRECISION NOT NULL,
    reason TEXT NOT NULL,
    ruleset_version TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_history_lead ON score_history(tenant_id, lead_id, created_at);
`

const schemaActivity = `
CREATE TABLE IF NOT EXISTS lead_activity (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    lead_id TEXT NOT NULL,
    activity_type TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lead_activity_lead ON lead_activity(tenant_id, lead_id, created_at);
`

const schemaRulesets = `
CREATE TABLE IF NOT EXISTS rulesets (
    tenant_id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    data TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaSegmentRules = `
CREATE TABLE IF NOT EXISTS segment_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT,
    tag TEXT NOT NULL,
    expression TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_segment_rules_enabled ON segment_rules(tenant_id, enabled);
`

const schemaModels = `
CREATE TABLE IF NOT EXISTS models (
    tenant_id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    data TEXT NOT NULL,
    trained_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaReports = `
CREATE TABLE IF NOT EXISTS analytics_reports (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    state TEXT NOT NULL,
    data TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLeads,
		schemaScoreHistory,
		schemaActivity,
		schemaRulesets,
		schemaSegmentRules,
		schemaModels,
		schemaReports,
	}
}
