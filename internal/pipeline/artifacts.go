package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// ArtifactStore is the part of the repository that holds per-tenant rulesets
// and model artifacts.
type ArtifactStore interface {
	GetRuleset(ctx context.Context, tenantID string) (*domain.Ruleset, error)
	GetModel(ctx context.Context, tenantID string) (*domain.ModelArtifact, error)
}

// Artifacts resolves the active ruleset and model of a tenant through the
// cache, then the store, then the configured fallbacks.
type Artifacts struct {
	store   ArtifactStore
	cache   domain.Cache
	ttl     time.Duration
	ruleset domain.Ruleset
	model   *domain.ModelArtifact
	logger  *slog.Logger
}

// NewArtifacts creates a resolver. fallbackRuleset is used when a tenant has
// no stored ruleset; fallbackModel (may be nil) when it has no stored model.
func NewArtifacts(store ArtifactStore, cache domain.Cache, ttl time.Duration, fallbackRuleset domain.Ruleset, fallbackModel *domain.ModelArtifact, logger *slog.Logger) *Artifacts {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Artifacts{
		store:   store,
		cache:   cache,
		ttl:     ttl,
		ruleset: fallbackRuleset,
		model:   fallbackModel,
		logger:  logger,
	}
}

// Ruleset returns the tenant's active ruleset.
func (a *Artifacts) Ruleset(ctx context.Context, tenantID string) (domain.Ruleset, error) {
	var rs domain.Ruleset
	if a.cached(ctx, tenantID, domain.CacheKeyRuleset, &rs) {
		return rs, nil
	}

	stored, err := a.store.GetRuleset(ctx, tenantID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return a.ruleset, nil
	case err != nil:
		return domain.Ruleset{}, err
	}
	if err := scoring.ValidateRuleset(stored); err != nil {
		a.logger.Warn("stored ruleset invalid, using fallback", "tenant_id", tenantID, "error", err)
		return a.ruleset, nil
	}
	a.remember(ctx, tenantID, domain.CacheKeyRuleset, stored)
	return *stored, nil
}

// Model returns the tenant's conversion model, or nil when none exists.
func (a *Artifacts) Model(ctx context.Context, tenantID string) (*domain.ModelArtifact, error) {
	var m domain.ModelArtifact
	if a.cached(ctx, tenantID, domain.CacheKeyModel, &m) {
		return &m, nil
	}

	stored, err := a.store.GetModel(ctx, tenantID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return a.model, nil
	case err != nil:
		return nil, err
	}
	a.remember(ctx, tenantID, domain.CacheKeyModel, stored)
	return stored, nil
}

// Invalidate drops the cached artifact stored under key.
func (a *Artifacts) Invalidate(ctx context.Context, tenantID, key string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Delete(ctx, tenantID, key); err != nil {
		a.logger.Warn("cache invalidation failed", "tenant_id", tenantID, "key", key, "error", err)
	}
}

func (a *Artifacts) cached(ctx context.Context, tenantID, key string, dst any) bool {
	if a.cache == nil {
		return false
	}
	data, err := a.cache.Get(ctx, tenantID, key)
	if err != nil || data == nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (a *Artifacts) remember(ctx context.Context, tenantID, key string, v any) {
	if a.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, tenantID, key, data, a.ttl); err != nil {
		a.logger.Warn("cache write failed", "tenant_id", tenantID, "key", key, "error", err)
	}
}
