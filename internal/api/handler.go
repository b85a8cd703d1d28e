package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/predict"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

var validate = validator.New()

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	scoring   *pipeline.Service
	artifacts *pipeline.Artifacts
	analytics *analytics.Service
	version   string
	async     bool

	now func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		engine:    deps.Engine,
		scoring:   deps.Scoring,
		artifacts: deps.Artifacts,
		analytics: deps.Analytics,
		version:   deps.Version,
		async:     deps.Async && deps.Bus != nil,
		now:       time.Now,
	}
}

// Metadata is attached to scoring responses.
type Metadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// ============================================================================
// LEAD HANDLERS
// ============================================================================

// UpsertLeadsRequest is the request body for POST /leads.
type UpsertLeadsRequest struct {
	Leads []domain.LeadRecord `json:"leads" validate:"required,min=1,max=10000"`
}

// UpsertLeads stores raw lead records. Stored scores are kept so the next run
// can record history against them.
func (h *Handler) UpsertLeads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req UpsertLeadsRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	if !h.requireRepo(w) {
		return
	}

	n, err := h.repo.UpsertLeads(ctx, tenantID, req.Leads)
	if err != nil {
		h.writeErr(w, r, "failed to upsert leads", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"upserted": n,
		"ignored":  len(req.Leads) - n,
	})
}

// GetLead returns a stored lead record.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	leadID := chi.URLParam(r, "id")
	if !h.requireRepo(w) {
		return
	}

	lead, err := h.repo.GetLead(ctx, GetTenantID(ctx), leadID)
	if err != nil {
		h.writeErr(w, r, "failed to get lead", err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// GetLeadHistory returns the score history and activity timeline of a lead,
// newest first. ?limit= bounds both lists.
func (h *Handler) GetLeadHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	leadID := chi.URLParam(r, "id")
	if !h.requireRepo(w) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if _, err := h.repo.GetLead(ctx, tenantID, leadID); err != nil {
		h.writeErr(w, r, "failed to get lead", err)
		return
	}
	history, err := h.repo.ListScoreHistory(ctx, tenantID, leadID, limit)
	if err != nil {
		h.writeErr(w, r, "failed to list score history", err)
		return
	}
	activity, err := h.repo.ListActivity(ctx, tenantID, leadID, limit)
	if err != nil {
		h.writeErr(w, r, "failed to list activity", err)
		return
	}

	if history == nil {
		history = []*domain.ScoreHistoryEntry{}
	}
	if activity == nil {
		activity = []*domain.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leadId":   leadID,
		"history":  history,
		"activity": activity,
	})
}

// ============================================================================
// SCORING HANDLERS
// ============================================================================

// ScoreRequest is the request body for POST /score. Ruleset overrides the
// tenant's active ruleset for this call only.
type ScoreRequest struct {
	Leads   []domain.LeadRecord `json:"leads" validate:"required,min=1,max=10000"`
	Ruleset *domain.Ruleset     `json:"ruleset,omitempty"`
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	*domain.BatchResult
	RulesetVersion string   `json:"rulesetVersion"`
	Metadata       Metadata `json:"metadata"`
}

// Score scores inline records without touching the store. Records may carry
// previous_score to get a history entry back.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ScoreRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	if h.scoring == nil {
		writeError(w, http.StatusServiceUnavailable, "scoring not available")
		return
	}

	var rs domain.Ruleset
	switch {
	case req.Ruleset != nil:
		if err := scoring.ValidateRuleset(req.Ruleset); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rs = *req.Ruleset
	case h.artifacts != nil:
		var err error
		if rs, err = h.artifacts.Ruleset(ctx, tenantID); err != nil {
			h.writeErr(w, r, "failed to load ruleset", err)
			return
		}
	default:
		rs = domain.DefaultRuleset()
	}

	result, err := h.scoring.Runner().Run(ctx, tenantID, req.Leads, rs, h.now())
	if err != nil {
		h.writeErr(w, r, "scoring failed", err)
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		BatchResult:    result,
		RulesetVersion: rs.Version,
		Metadata: Metadata{
			TraceID: GetTraceID(ctx),
			TotalMs: time.Since(start).Milliseconds(),
			Version: h.version,
		},
	})
}

// RunRequest is the optional request body for POST /runs. A missing Since
// scores every lead of the tenant.
type RunRequest struct {
	Since *time.Time `json:"since,omitempty"`
}

// StartRun starts a store-backed scoring run. In async mode the request is
// handed to the worker and 202 is returned with the request ID.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req RunRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}
	var since time.Time
	if req.Since != nil {
		since = *req.Since
	}

	if h.async {
		runID := uuid.New().String()
		payload, err := json.Marshal(domain.ScoringRequest{RunID: runID, TenantID: tenantID, Since: since})
		if err != nil {
			h.writeErr(w, r, "failed to encode scoring request", err)
			return
		}
		if err := h.bus.Publish(ctx, tenantID, domain.TopicScoringRequested, payload); err != nil {
			h.writeErr(w, r, "failed to queue scoring run", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"requestId": runID,
			"status":    "queued",
		})
		return
	}

	if h.scoring == nil {
		writeError(w, http.StatusServiceUnavailable, "scoring not available")
		return
	}
	result, err := h.scoring.RunScoring(ctx, tenantID, since)
	if err != nil {
		h.writeErr(w, r, "scoring run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result.Summary)
}

// ============================================================================
// ANALYTICS HANDLERS
// ============================================================================

// RunAnalytics runs analytics over every stored lead of the tenant. The body
// is an optional set of analytics parameters.
func (h *Handler) RunAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var params domain.AnalyticsParameters
	if !decodeAndValidate(w, r, &params, true) {
		return
	}
	if h.analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics not available")
		return
	}

	if h.async {
		pending, err := h.analytics.Submit(ctx, tenantID, params)
		if err != nil {
			h.writeErr(w, r, "failed to queue analytics run", err)
			return
		}
		writeJSON(w, http.StatusAccepted, pending)
		return
	}

	report, err := h.analytics.Run(ctx, tenantID, "", params)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, domain.ErrInvalidBatch) && report != nil:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"report": report,
		})
	default:
		h.writeErr(w, r, "analytics run failed", err)
	}
}

// GetReport retrieves a stored analytics report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reportID := chi.URLParam(r, "id")
	if !h.requireRepo(w) {
		return
	}

	report, err := h.repo.GetReport(ctx, GetTenantID(ctx), reportID)
	if err != nil {
		h.writeErr(w, r, "failed to get report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// RULESET AND MODEL HANDLERS
// ============================================================================

// GetRuleset returns the tenant's active ruleset.
func (h *Handler) GetRuleset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.artifacts == nil {
		writeJSON(w, http.StatusOK, domain.DefaultRuleset())
		return
	}
	rs, err := h.artifacts.Ruleset(ctx, GetTenantID(ctx))
	if err != nil {
		h.writeErr(w, r, "failed to load ruleset", err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// PutRuleset validates and stores the tenant's ruleset. It applies to the
// next run.
func (h *Handler) PutRuleset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rs domain.Ruleset
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := scoring.ValidateRuleset(&rs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.requireRepo(w) {
		return
	}

	rs.TenantID = tenantID
	rs.UpdatedAt = h.now().UTC()
	if rs.ID == "" {
		rs.ID = uuid.New().String()
	}
	if err := h.repo.SaveRuleset(ctx, tenantID, &rs); err != nil {
		h.writeErr(w, r, "failed to save ruleset", err)
		return
	}
	if h.artifacts != nil {
		h.artifacts.Invalidate(ctx, tenantID, domain.CacheKeyRuleset)
	}

	slog.Info("ruleset updated", "tenant_id", tenantID, "version", rs.Version)
	writeJSON(w, http.StatusOK, rs)
}

// GetModel returns the tenant's conversion model.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.artifacts == nil {
		writeError(w, http.StatusNotFound, "no conversion model configured")
		return
	}
	model, err := h.artifacts.Model(ctx, GetTenantID(ctx))
	if err != nil {
		h.writeErr(w, r, "failed to load model", err)
		return
	}
	if model == nil {
		writeError(w, http.StatusNotFound, "no conversion model configured")
		return
	}
	writeJSON(w, http.StatusOK, model)
}

// PutModel validates and stores a trained conversion model for the tenant.
func (h *Handler) PutModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var model domain.ModelArtifact
	if !decodeAndValidate(w, r, &model, false) {
		return
	}
	if err := predict.ValidateModel(&model); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.requireRepo(w) {
		return
	}

	model.TenantID = tenantID
	if model.ID == "" {
		model.ID = uuid.New().String()
	}
	if err := h.repo.SaveModel(ctx, tenantID, &model); err != nil {
		h.writeErr(w, r, "failed to save model", err)
		return
	}
	if h.artifacts != nil {
		h.artifacts.Invalidate(ctx, tenantID, domain.CacheKeyModel)
	}

	slog.Info("conversion model updated", "tenant_id", tenantID, "version", model.Version)
	writeJSON(w, http.StatusOK, model)
}

// ============================================================================
// SEGMENT RULE HANDLERS
// ============================================================================

// ListRules returns the segment rules loaded for the tenant, global rules included.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusOK, map[string]any{"rules": []*domain.SegmentRule{}, "count": 0})
		return
	}
	loaded := h.engine.GetLoadedRules(GetTenantID(r.Context()))

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for POST /rules.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	Tag         string `json:"tag" validate:"required"`
	Expression  string `json:"expression" validate:"required"`
	Priority    int    `json:"priority"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// CreateRule validates a segment rule and stores it for the tenant.
// Call POST /rules/reload to apply it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}
	if !h.requireRepo(w) {
		return
	}

	rule := &domain.SegmentRule{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Tag:         req.Tag,
		Expression:  req.Expression,
		Priority:    req.Priority,
		Enabled:     req.Enabled == nil || *req.Enabled,
		CreatedAt:   h.now().UTC(),
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}
	if err := h.repo.SaveSegmentRule(ctx, tenantID, rule); err != nil {
		h.writeErr(w, r, "failed to save rule", err)
		return
	}

	slog.Info("segment rule created", "tenant_id", tenantID, "id", rule.ID, "tag", rule.Tag)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule disables a stored segment rule. Call POST /rules/reload to apply it.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")
	if !h.requireRepo(w) {
		return
	}

	if err := h.repo.DeleteSegmentRule(ctx, GetTenantID(ctx), ruleID); err != nil {
		h.writeErr(w, r, "failed to delete rule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Rule disabled. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules replaces the tenant's loaded segment rules with the stored ones.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}
	if !h.requireRepo(w) {
		return
	}

	stored, err := h.repo.ListSegmentRules(ctx, tenantID)
	if err != nil {
		h.writeErr(w, r, "failed to load rules from database", err)
		return
	}
	if err := h.engine.ReloadRules(tenantID, stored); err != nil {
		slog.Error("failed to reload rules into engine", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("segment rules reloaded", "tenant_id", tenantID, "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(stored),
	})
}

// ============================================================================
// HEALTH
// ============================================================================

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			components[name] = err.Error()
			return
		}
		components[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.scoring == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	rulesLoaded := 0
	if h.engine != nil {
		rulesLoaded = h.engine.RulesCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       "true",
		"async":       h.async,
		"rulesLoaded": rulesLoaded,
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return false
	}
	return true
}

// decodeAndValidate decodes the JSON body into dst and runs struct validation.
// With optional set an empty body leaves dst at its zero value.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	body := http.MaxBytesReader(w, r.Body, 32<<20)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			writeError(w, http.StatusBadRequest, "invalid JSON request body")
			return false
		}
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// writeErr maps domain errors onto HTTP status codes. Server-side failures are
// logged; client errors are not.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg,
			"path", r.URL.Path,
			"tenant_id", GetTenantID(r.Context()),
			"error", err,
		)
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidBatch):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
