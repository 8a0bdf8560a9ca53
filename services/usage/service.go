package usage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hrplane/pkg/config"
	"hrplane/pkg/db/option"
	"hrplane/pkg/errutil"
	"hrplane/pkg/rediskey"
	"hrplane/pkg/repository"
	"hrplane/pkg/task"
	"hrplane/pkg/taskname"
	"hrplane/services/audit"
	"hrplane/services/license"
)

var limitViolations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "usage_limit_violations_total",
}, []string{"limit_type"})

// Auditor is the audit trail sink limit violations are written to.
type Auditor interface {
	CreateLog(ctx context.Context, entry audit.Entry) (*audit.LicenseAudit, error)
}

// LimitSource resolves the ceilings currently in force for a tenant
// module, used to snapshot limits onto a new period record.
type LimitSource interface {
	EffectiveLimits(ctx context.Context, tenantID string, moduleKey license.ModuleKey) (map[license.LimitType]int64, error)
}

type Service struct {
	db     *gorm.DB
	config *config.Config
	node   *snowflake.Node
	rdb    *redis.Client
	asynq  task.Enqueuer
	audit  Auditor
	limits LimitSource
	repo   repository.Repository[UsageTracking]
	period PeriodFunc
	now    func() time.Time
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Config  *config.Config
	Node    *snowflake.Node
	Redis   *redis.Client `optional:"true"`
	Asynq   task.Enqueuer `optional:"true"`
	Audit   *audit.Service
	License *license.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		config: p.Config,
		node:   p.Node,
		rdb:    p.Redis,
		asynq:  p.Asynq,
		audit:  p.Audit,
		limits: p.License,
		repo:   repository.ProvideStore[UsageTracking](p.DB),
		period: PeriodFuncFor(p.Config.Usage.Period),
		now:    time.Now,
	}
}

// TrackUsage applies a signed usage delta for one limit type. On the
// immediate path the increment is limit-checked and persisted in a
// single row-locked transaction, so two concurrent calls can never both
// succeed past the ceiling. A delta that would breach the limit is
// rejected whole: there is no partial credit.
func (s *Service) TrackUsage(ctx context.Context, tenantID string, moduleKey license.ModuleKey, limitType license.LimitType, delta int64, opts TrackOptions) (*TrackResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", tenantID),
		zap.String("module_key", string(moduleKey)),
		zap.String("limit_type", string(limitType)),
		zap.Int64("delta", delta),
	)

	if tenantID == "" {
		return nil, errutil.BadRequest("tenant_id is required", nil)
	}
	if !moduleKey.IsValid() {
		return nil, errutil.ValidationFailed("unrecognized module key", nil)
	}
	if !limitType.IsValid() {
		return nil, errutil.ValidationFailed("unrecognized limit type", nil)
	}

	period := s.period(s.now())

	if !opts.Immediate {
		if err := s.deferDelta(ctx, tenantID, moduleKey, period, limitType, delta); err != nil {
			zapLog.Error("failed to defer usage delta", zap.Error(err))
			return nil, err
		}
		return &TrackResult{Deferred: true}, nil
	}

	newValue, violation, err := s.applyDelta(ctx, tenantID, moduleKey, period, limitType, delta)
	if err != nil {
		zapLog.Error("failed to apply usage delta", zap.Error(err))
		return nil, err
	}

	if violation != nil {
		s.reportViolation(ctx, tenantID, moduleKey, violation)
		return &TrackResult{Blocked: true, NewValue: violation.CurrentValue}, nil
	}

	return &TrackResult{NewValue: newValue}, nil
}

// applyDelta is the atomic read-modify-write at the heart of the
// tracker. The row is locked for the whole check-then-act so the limit
// invariant holds under concurrency. A returned violation means nothing
// was persisted.
func (s *Service) applyDelta(ctx context.Context, tenantID string, moduleKey license.ModuleKey, period string, limitType license.LimitType, delta int64) (int64, *audit.LimitExceededDetails, error) {
	var newValue int64
	var violation *audit.LimitExceededDetails

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		record, err := s.repo.WithTrx(tx).FindOne(ctx, &UsageTracking{
			TenantID:  tenantID,
			ModuleKey: moduleKey,
			Period:    period,
		}, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		if record == nil {
			record, err = s.createRecord(ctx, tx, tenantID, moduleKey, period)
			if err != nil {
				return err
			}
		}

		current := record.Usage.Data()[limitType]
		candidate := current + delta
		if candidate < 0 {
			candidate = 0
		}

		limits := record.Limits.Data()
		limit, bounded := limits[limitType]
		if bounded && delta > 0 && candidate > limit {
			violation = &audit.LimitExceededDetails{
				LimitType:    string(limitType),
				CurrentValue: current,
				LimitValue:   limit,
				Delta:        delta,
			}
			return nil
		}

		counters := record.Usage.Data()
		if counters == nil {
			counters = make(map[license.LimitType]int64)
		}
		counters[limitType] = candidate

		if err := s.repo.WithTrx(tx).Update(ctx, record.ID, map[string]any{
			"usage":      datatypes.NewJSONType(counters),
			"updated_at": s.now().UTC(),
		}); err != nil {
			return err
		}

		newValue = candidate
		return nil
	})
	if err != nil {
		return 0, nil, errutil.ServiceUnavailable("usage store unavailable", err)
	}

	return newValue, violation, nil
}

// createRecord lazily opens the period record, snapshotting the limits
// in force right now.
func (s *Service) createRecord(ctx context.Context, tx *gorm.DB, tenantID string, moduleKey license.ModuleKey, period string) (*UsageTracking, error) {
	limits, err := s.limits.EffectiveLimits(ctx, tenantID, moduleKey)
	if err != nil {
		return nil, err
	}
	if limits == nil {
		limits = make(map[license.LimitType]int64)
	}

	now := s.now().UTC()
	record := &UsageTracking{
		ID:        s.node.Generate().String(),
		CreatedAt: now,
		UpdatedAt: now,
		TenantID:  tenantID,
		ModuleKey: moduleKey,
		Period:    period,
		Usage:     datatypes.NewJSONType(make(map[license.LimitType]int64)),
		Limits:    datatypes.NewJSONType(limits),
	}

	if err := s.repo.WithTrx(tx).Create(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// deferDelta coalesces the delta into the period's pending hash and
// schedules a flush. Consistency is best-effort until the flush runs;
// the limit check happens there.
func (s *Service) deferDelta(ctx context.Context, tenantID string, moduleKey license.ModuleKey, period string, limitType license.LimitType, delta int64) error {
	if s.rdb == nil || s.asynq == nil {
		return errutil.ServiceUnavailable("deferred tracking is not configured", nil)
	}

	key := rediskey.BuildUsagePendingKey(tenantID, string(moduleKey), period)
	if err := s.rdb.HIncrBy(ctx, key, string(limitType), delta).Err(); err != nil {
		return errutil.ServiceUnavailable("usage buffer unavailable", err)
	}

	payload, err := json.Marshal(FlushPayload{TenantID: tenantID, ModuleKey: moduleKey, Period: period})
	if err != nil {
		return errutil.Internal("failed to encode flush payload", err)
	}

	if _, err := s.asynq.Enqueue(
		ctx,
		asynq.NewTask(taskname.UsageFlush, payload),
		asynq.Queue("low"),
	); err != nil {
		return errutil.ServiceUnavailable("failed to schedule usage flush", err)
	}

	return nil
}

func (s *Service) reportViolation(ctx context.Context, tenantID string, moduleKey license.ModuleKey, details *audit.LimitExceededDetails) {
	limitViolations.WithLabelValues(details.LimitType).Inc()

	if _, err := s.audit.CreateLog(ctx, audit.Entry{
		TenantID:  tenantID,
		ModuleKey: string(moduleKey),
		EventType: audit.EventLimitExceeded,
		Details:   details,
	}); err != nil {
		zap.L().Error("failed to write limit violation audit event",
			zap.Error(err),
			zap.String("tenant_id", tenantID),
			zap.String("module_key", string(moduleKey)),
			zap.String("limit_type", details.LimitType),
		)
	}
}
