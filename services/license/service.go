package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"hrplane/pkg/config"
	"hrplane/pkg/db/option"
	"hrplane/pkg/errutil"
	"hrplane/pkg/repository"
	"hrplane/services/audit"
)

// Auditor is the audit trail sink the validator writes to on every
// truth-establishing decision.
type Auditor interface {
	CreateLog(ctx context.Context, entry audit.Entry) (*audit.LicenseAudit, error)
}

type Service struct {
	db     *gorm.DB
	config *config.Config
	cache  *DecisionCache
	audit  Auditor
	now    func() time.Time

	licenses     repository.Repository[License]
	entitlements repository.Repository[ModuleEntitlement]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Audit  *audit.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		config:       p.Config,
		cache:        NewDecisionCache(p.Config.License.CacheTTL),
		audit:        p.Audit,
		now:          time.Now,
		licenses:     repository.ProvideStore[License](p.DB),
		entitlements: repository.ProvideStore[ModuleEntitlement](p.DB),
	}
}

// ValidateModuleAccess decides whether a tenant may use a module.
// Denial is a normal decision, not an error; only malformed input or an
// unreachable store produces an error, and a store failure is always a
// denial-by-error, never an implicit allow.
func (s *Service) ValidateModuleAccess(ctx context.Context, tenantID string, moduleKey ModuleKey, opts ValidateOptions) (*Decision, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", tenantID),
		zap.String("module_key", string(moduleKey)),
	)

	if tenantID == "" {
		return nil, errutil.BadRequest("tenant_id is required", nil)
	}
	if !moduleKey.IsValid() {
		// Caller error, not a tenant violation: no audit row.
		return nil, errutil.ValidationFailed("unrecognized module key", nil,
			errutil.WithDetails(errutil.Detail{Field: "module_key", Message: string(moduleKey)}))
	}

	key := DecisionKey{TenantID: tenantID, ModuleKey: moduleKey}

	// Cache hits reuse the original decision without re-logging:
	// auditing happens at the point of truth-establishing store reads.
	if !opts.SkipCache {
		if decision, ok := s.cache.Get(key); ok {
			return &decision, nil
		}
	}

	v, err := s.cache.Do(key, func() (interface{}, error) {
		return s.validateFromStore(ctx, tenantID, moduleKey, opts)
	})
	if err != nil {
		zapLog.Error("module access validation failed", zap.Error(err))
		return nil, err
	}

	decision := v.(*Decision)
	if decision.Valid {
		s.cache.Set(key, *decision)
	}

	return decision, nil
}

func (s *Service) validateFromStore(ctx context.Context, tenantID string, moduleKey ModuleKey, opts ValidateOptions) (*Decision, error) {
	lic, err := s.licenses.FindOne(ctx, &License{TenantID: tenantID})
	if err != nil {
		return nil, errutil.ServiceUnavailable("license store unavailable", err)
	}

	if lic == nil {
		s.writeAudit(ctx, tenantID, moduleKey, audit.EventLicenseNotFound, audit.DenialDetails{
			Reason: string(ReasonLicenseNotFound),
		})
		return &Decision{Valid: false, Reason: ReasonLicenseNotFound}, nil
	}

	ent, err := s.currentEntitlement(ctx, tenantID, moduleKey)
	if err != nil {
		return nil, errutil.ServiceUnavailable("license store unavailable", err)
	}

	if ent == nil || !ent.Enabled {
		s.writeAudit(ctx, tenantID, moduleKey, audit.EventModuleDisabled, audit.DenialDetails{
			Reason: string(ReasonModuleDisabled),
			Status: string(lic.Status),
		})
		return &Decision{Valid: false, Reason: ReasonModuleDisabled}, nil
	}

	// An expired status and a past expiry date are the same denial: the
	// status field may lag the wall clock between housekeeping runs.
	if lic.Status != StatusActive || !ent.ExpiresAt.After(s.now()) {
		expiresAt := ent.ExpiresAt
		s.writeAudit(ctx, tenantID, moduleKey, audit.EventLicenseExpired, audit.DenialDetails{
			Reason:    string(ReasonLicenseExpired),
			Status:    string(lic.Status),
			ExpiresAt: &expiresAt,
		})
		return &Decision{Valid: false, Reason: ReasonLicenseExpired}, nil
	}

	limits := s.effectiveLimits(ent)

	s.writeAudit(ctx, tenantID, moduleKey, audit.EventValidationSuccess, audit.ValidationDetails{
		Tier:      string(ent.Tier),
		SkipCache: opts.SkipCache,
	})

	return &Decision{
		Valid:  true,
		Tier:   ent.Tier,
		Limits: limits,
	}, nil
}

// EffectiveLimits resolves the ceilings currently in force for a tenant
// module: the entitlement's own limits over the configured tier
// defaults. Returns nil when the tenant holds no entitlement.
func (s *Service) EffectiveLimits(ctx context.Context, tenantID string, moduleKey ModuleKey) (map[LimitType]int64, error) {
	ent, err := s.currentEntitlement(ctx, tenantID, moduleKey)
	if err != nil {
		return nil, errutil.ServiceUnavailable("license store unavailable", err)
	}
	if ent == nil {
		return nil, nil
	}
	return s.effectiveLimits(ent), nil
}

// ClearCache invalidates cached decisions for one tenant, or the whole
// cache when tenantID is empty. Callers mutating a license must call
// this: the cache has no subscription to store changes.
func (s *Service) ClearCache(tenantID string) {
	if tenantID == "" {
		s.cache.Purge()
		zap.L().Info("license decision cache purged")
		return
	}
	s.cache.InvalidateTenant(tenantID)
	zap.L().Info("license decision cache invalidated", zap.String("tenant_id", tenantID))
}

func (s *Service) currentEntitlement(ctx context.Context, tenantID string, moduleKey ModuleKey) (*ModuleEntitlement, error) {
	return s.entitlements.FindOne(ctx, &ModuleEntitlement{
		TenantID:  tenantID,
		ModuleKey: moduleKey,
	}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "activated_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"activated_at": true},
	}))
}

func (s *Service) effectiveLimits(ent *ModuleEntitlement) map[LimitType]int64 {
	limits := make(map[LimitType]int64)

	if defaults, ok := s.config.License.TierLimits[string(ent.Tier)]; ok {
		for limitType, value := range defaults {
			limits[LimitType(limitType)] = value
		}
	}
	for limitType, value := range ent.Limits.Data() {
		limits[limitType] = value
	}

	return limits
}

func (s *Service) writeAudit(ctx context.Context, tenantID string, moduleKey ModuleKey, event audit.EventType, details any) {
	if _, err := s.audit.CreateLog(ctx, audit.Entry{
		TenantID:  tenantID,
		ModuleKey: string(moduleKey),
		EventType: event,
		Details:   details,
	}); err != nil {
		zap.L().Error("failed to write license audit event",
			zap.Error(err),
			zap.String("tenant_id", tenantID),
			zap.String("module_key", string(moduleKey)),
			zap.String("event_type", string(event)),
		)
	}
}
