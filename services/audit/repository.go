package audit

import (
	"context"
	"time"

	"gorm.io/gorm"

	"hrplane/pkg/db/pagination"
)

// ListParams describes filters applied when querying audit rows. All
// populated filters compose with AND. TenantID is validated by the
// service before the repository is reached.
type ListParams struct {
	TenantID  string
	ModuleKey string
	EventType EventType
	Severity  Severity
	StartDate *time.Time
	EndDate   *time.Time
	Page      pagination.Pagination
}

// Repository describes database operations available for audit rows.
// The store is append-only: there is no update or delete.
type Repository interface {
	Create(ctx context.Context, record *LicenseAudit) error
	List(ctx context.Context, params ListParams) ([]LicenseAudit, error)
	Count(ctx context.Context, params ListParams) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, record *LicenseAudit) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *gormRepository) scope(ctx context.Context, params ListParams) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&LicenseAudit{}).
		Where("tenant_id = ?", params.TenantID)

	if params.ModuleKey != "" {
		query = query.Where("module_key = ?", params.ModuleKey)
	}
	if params.EventType != "" {
		query = query.Where("event_type = ?", params.EventType)
	}
	if params.Severity != "" {
		query = query.Where("severity = ?", params.Severity)
	}
	if params.StartDate != nil {
		query = query.Where("created_at >= ?", *params.StartDate)
	}
	if params.EndDate != nil {
		query = query.Where("created_at <= ?", *params.EndDate)
	}

	return query
}

func (r *gormRepository) List(ctx context.Context, params ListParams) ([]LicenseAudit, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	page := params.Page.Normalize()

	query := r.scope(ctx, params).
		Order("created_at DESC").Order("id DESC").
		Offset(page.Skip).Limit(page.Limit)

	var records []LicenseAudit
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *gormRepository) Count(ctx context.Context, params ListParams) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var count int64
	if err := r.scope(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
