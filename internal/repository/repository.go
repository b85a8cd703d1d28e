// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// defaultListLimit caps history and activity listings without an explicit limit.
const defaultListLimit = 100

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

// UpsertLeads stores raw lead records. Records without an identifier are
// skipped; the stored score of an existing lead is kept.
func (r *SQLRepository) UpsertLeads(ctx context.Context, tenantID string, leads []domain.LeadRecord) (int, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	query := r.rebind(`
		INSERT INTO leads (id, tenant_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	n := 0
	for _, lead := range leads {
		id := lead.ID()
		if id == "" {
			continue
		}
		data, err := json.Marshal(stripScore(lead))
		if err != nil {
			return 0, fmt.Errorf("%w: lead %s: %v", ErrInvalidInput, id, err)
		}
		if _, err := tx.ExecContext(ctx, query, id, tenantID, string(data), now, now); err != nil {
			return 0, fmt.Errorf("upsert lead %s: %w", id, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// stripScore drops caller-supplied score fields; the stored score is authoritative.
func stripScore(lead domain.LeadRecord) domain.LeadRecord {
	out := make(domain.LeadRecord, len(lead))
	for k, v := range lead {
		if k == domain.FieldPreviousScore || k == domain.FieldPreviousBreakdown {
			continue
		}
		out[k] = v
	}
	return out
}

const leadColumns = `id, data, score, breakdown`

// GetLead returns one raw lead with its stored score attached.
func (r *SQLRepository) GetLead(ctx context.Context, tenantID string, leadID string) (domain.LeadRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = ? AND id = ?`
	lead, err := scanLead(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, leadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lead, err
}

// FetchLeadsDueForScoring returns leads never scored or updated since the
// given time. A zero since returns every lead of the tenant.
func (r *SQLRepository) FetchLeadsDueForScoring(ctx context.Context, tenantID string, since time.Time) ([]domain.LeadRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = ?`
	args := []any{tenantID}
	if !since.IsZero() {
		query += ` AND (scored_at IS NULL OR updated_at >= ?)`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []domain.LeadRecord
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.LeadRecord, error) {
	var id, data string
	var score sql.NullFloat64
	var breakdown sql.NullString

	if err := row.Scan(&id, &data, &score, &breakdown); err != nil {
		return nil, err
	}

	lead := domain.LeadRecord{}
	if err := json.Unmarshal([]byte(data), &lead); err != nil {
		return nil, fmt.Errorf("failed to parse lead %s: %w", id, err)
	}
	lead[domain.FieldID] = id
	if score.Valid {
		lead[domain.FieldPreviousScore] = score.Float64
	}
	if breakdown.Valid && breakdown.String != "" {
		lead[domain.FieldPreviousBreakdown] = json.RawMessage(breakdown.String)
	}
	return lead, nil
}

// PersistScoreUpdate stores the latest breakdown on the lead.
func (r *SQLRepository) PersistScoreUpdate(ctx context.Context, tenantID string, leadID string, breakdown *domain.ScoreBreakdown) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if breakdown == nil {
		return fmt.Errorf("%w: breakdown is required", ErrInvalidInput)
	}

	data, err := json.Marshal(breakdown)
	if err != nil {
		return err
	}

	query := `
		UPDATE leads
		SET score = ?, temperature = ?, breakdown = ?, scored_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		breakdown.Composite, string(breakdown.Temperature), string(data), time.Now().UTC(),
		tenantID, leadID,
	)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// AppendScoreHistory appends an entry. Re-appending the same entry ID is a no-op.
func (r *SQLRepository) AppendScoreHistory(ctx context.Context, tenantID string, entry *domain.ScoreHistoryEntry) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("%w: history entry id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO score_history (
			id, tenant_id, lead_id, previous_score, new_score, delta, reason, ruleset_version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, tenantID, entry.LeadID,
		entry.PreviousScore, entry.NewScore, entry.Delta,
		entry.Reason, entry.RulesetVersion, entry.CreatedAt.UTC(),
	)
	return err
}

// ListScoreHistory returns the lead's history, newest first.
func (r *SQLRepository) ListScoreHistory(ctx context.Context, tenantID string, leadID string, limit int) ([]*domain.ScoreHistoryEntry, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, lead_id, previous_score, new_score, delta, reason, ruleset_version, created_at
		FROM score_history
		WHERE tenant_id = ? AND lead_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.ScoreHistoryEntry
	for rows.Next() {
		var e domain.ScoreHistoryEntry
		var version sql.NullString
		if err := rows.Scan(
			&e.ID, &e.LeadID, &e.PreviousScore, &e.NewScore, &e.Delta,
			&e.Reason, &version, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.RulesetVersion = version.String
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// AppendActivityLog records a scoring event on the lead's activity timeline.
func (r *SQLRepository) AppendActivityLog(ctx context.Context, tenantID string, leadID string, activityType string, metadata map[string]any) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("%w: activity metadata: %v", ErrInvalidInput, err)
	}

	query := `
		INSERT INTO lead_activity (id, tenant_id, lead_id, activity_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), tenantID, leadID, activityType, string(meta), time.Now().UTC(),
	)
	return err
}

// ListActivity returns the lead's activity timeline, newest first.
func (r *SQLRepository) ListActivity(ctx context.Context, tenantID string, leadID string, limit int) ([]*domain.ActivityEntry, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, lead_id, activity_type, metadata, created_at
		FROM lead_activity
		WHERE tenant_id = ? AND lead_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		var meta sql.NullString
		if err := rows.Scan(&e.ID, &e.LeadID, &e.ActivityType, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			json.Unmarshal([]byte(meta.String), &e.Metadata)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// SaveRuleset replaces the tenant's active ruleset.
func (r *SQLRepository) SaveRuleset(ctx context.Context, tenantID string, ruleset *domain.Ruleset) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	data, err := json.Marshal(ruleset)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rulesets (tenant_id, version, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleset.Version, string(data), time.Now().UTC())
	return err
}

// GetRuleset returns the tenant's active ruleset.
func (r *SQLRepository) GetRuleset(ctx context.Context, tenantID string) (*domain.Ruleset, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var data string
	var updatedAt time.Time
	query := `SELECT data, updated_at FROM rulesets WHERE tenant_id = ?`
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rs domain.Ruleset
	if err := json.Unmarshal([]byte(data), &rs); err != nil {
		return nil, fmt.Errorf("failed to parse ruleset: %w", err)
	}
	rs.TenantID = tenantID
	rs.UpdatedAt = updatedAt
	return &rs, nil
}

// SaveSegmentRule creates or replaces a segment rule.
func (r *SQLRepository) SaveSegmentRule(ctx context.Context, tenantID string, rule *domain.SegmentRule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO segment_rules (
			id, tenant_id, name, description, version, tag, expression, priority, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			tag = excluded.tag,
			expression = excluded.expression,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, rule.Version,
		rule.Tag, rule.Expression, rule.Priority, enabled,
		createdAt.UTC(), now,
	)
	return err
}

// ListSegmentRules returns the tenant's enabled rules, highest priority first.
func (r *SQLRepository) ListSegmentRules(ctx context.Context, tenantID string) ([]*domain.SegmentRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, description, version, tag, expression, priority, enabled, created_at
		FROM segment_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY priority DESC, id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SegmentRule
	for rows.Next() {
		var rule domain.SegmentRule
		var description, version sql.NullString
		var enabled int
		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &description, &version,
			&rule.Tag, &rule.Expression, &rule.Priority, &enabled, &rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		rule.Description = description.String
		rule.Version = version.String
		rule.Enabled = enabled == 1
		out = append(out, &rule)
	}
	return out, rows.Err()
}

// DeleteSegmentRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DeleteSegmentRule(ctx context.Context, tenantID string, ruleID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		UPDATE segment_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// SaveModel replaces the tenant's conversion model.
func (r *SQLRepository) SaveModel(ctx context.Context, tenantID string, model *domain.ModelArtifact) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	data, err := json.Marshal(model)
	if err != nil {
		return err
	}

	var trainedAt any
	if !model.TrainedAt.IsZero() {
		trainedAt = model.TrainedAt.UTC()
	}

	query := `
		INSERT INTO models (tenant_id, version, data, trained_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			trained_at = excluded.trained_at,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), tenantID, model.Version, string(data), trainedAt, time.Now().UTC())
	return err
}

// GetModel returns the tenant's conversion model.
func (r *SQLRepository) GetModel(ctx context.Context, tenantID string) (*domain.ModelArtifact, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var data string
	query := `SELECT data FROM models WHERE tenant_id = ?`
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var m domain.ModelArtifact
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	m.TenantID = tenantID
	return &m, nil
}

// SaveReport stores an analytics report, replacing an earlier state of the same run.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.AnalyticsReport) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if report.ID == "" {
		return fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	generatedAt := report.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	query := `
		INSERT INTO analytics_reports (id, tenant_id, state, data, generated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			state = excluded.state,
			data = excluded.data,
			generated_at = excluded.generated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), report.ID, tenantID, string(report.State), string(data), generatedAt.UTC())
	return err
}

// GetReport returns a stored analytics report.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.AnalyticsReport, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var data string
	query := `SELECT data FROM analytics_reports WHERE tenant_id = ? AND id = ?`
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var report domain.AnalyticsReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &report, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
