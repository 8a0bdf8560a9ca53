package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"hrplane/pkg/errutil"
)

// Entry is the caller-facing shape of a new audit event. Severity is
// intentionally absent: it is derived from EventType on write.
type Entry struct {
	TenantID  string
	ModuleKey string
	EventType EventType
	Details   any
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo Repository
	now  func() time.Time
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		repo: NewRepository(p.DB),
		now:  time.Now,
	}
}

// CreateLog appends one audit row. The row is never mutated afterwards.
func (s *Service) CreateLog(ctx context.Context, entry Entry) (*LicenseAudit, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", entry.TenantID),
		zap.String("module_key", entry.ModuleKey),
		zap.String("event_type", string(entry.EventType)),
	)

	if entry.TenantID == "" {
		return nil, errutil.BadRequest("tenant_id is required", nil)
	}
	if !entry.EventType.IsValid() {
		return nil, errutil.ValidationFailed("unknown event type", nil)
	}

	var details []byte
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			zapLog.Error("failed to marshal audit details", zap.Error(err))
			return nil, errutil.Internal("failed to encode audit details", err)
		}
		details = b
	}

	record := &LicenseAudit{
		ID:        s.node.Generate().String(),
		TenantID:  entry.TenantID,
		ModuleKey: entry.ModuleKey,
		EventType: entry.EventType,
		Severity:  SeverityFor(entry.EventType),
		Details:   details,
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.Create(ctx, record); err != nil {
		zapLog.Error("failed to write audit record", zap.Error(err))
		return nil, errutil.Internal("failed to write audit record", err)
	}

	if record.Severity == SeverityCritical {
		zapLog.Warn("license violation recorded")
	}

	return record, nil
}

// QueryLogs returns audit rows matching the filter, newest first. An
// empty result for a well-formed filter is a normal outcome.
func (s *Service) QueryLogs(ctx context.Context, params ListParams) ([]LicenseAudit, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if params.TenantID == "" {
		// Never fall through to an unscoped query: that would leak
		// other tenants' records.
		return nil, errutil.BadRequest("tenant_id is required", nil)
	}
	if params.EventType != "" && !params.EventType.IsValid() {
		return nil, errutil.ValidationFailed("unknown event type", nil)
	}

	records, err := s.repo.List(ctx, params)
	if err != nil {
		zap.L().Error("failed to query audit records", zap.Error(err), zap.String("tenant_id", params.TenantID))
		return nil, errutil.Internal("failed to query audit records", err)
	}

	return records, nil
}

// CountLogs returns the number of rows matching the filter, for
// pagination metadata.
func (s *Service) CountLogs(ctx context.Context, params ListParams) (int64, error) {
	if params.TenantID == "" {
		return 0, errutil.BadRequest("tenant_id is required", nil)
	}
	count, err := s.repo.Count(ctx, params)
	if err != nil {
		return 0, errutil.Internal("failed to count audit records", err)
	}
	return count, nil
}
