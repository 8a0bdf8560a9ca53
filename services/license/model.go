package license

import (
	"time"

	"gorm.io/datatypes"
)

// ModuleKey identifies an optional licensable feature area. The set is
// closed: unknown keys are rejected before any store access.
type ModuleKey string

const (
	ModuleAttendance ModuleKey = "attendance"
	ModuleLeave      ModuleKey = "leave"
	ModulePayroll    ModuleKey = "payroll"
	ModuleDocuments  ModuleKey = "documents"
	ModuleSurveys    ModuleKey = "surveys"
	ModuleTasks      ModuleKey = "tasks"
)

func (m ModuleKey) IsValid() bool {
	switch m {
	case ModuleAttendance, ModuleLeave, ModulePayroll, ModuleDocuments, ModuleSurveys, ModuleTasks:
		return true
	}
	return false
}

// Tier is the pricing level controlling default limits for a module.
type Tier string

const (
	TierStarter    Tier = "starter"
	TierBusiness   Tier = "business"
	TierEnterprise Tier = "enterprise"
)

func (t Tier) IsValid() bool {
	switch t {
	case TierStarter, TierBusiness, TierEnterprise:
		return true
	}
	return false
}

// LimitType names a metered resource inside a module entitlement.
type LimitType string

const (
	LimitEmployees LimitType = "employees"
	LimitStorage   LimitType = "storage"
	LimitAPICalls  LimitType = "api_calls"
)

func (l LimitType) IsValid() bool {
	switch l {
	case LimitEmployees, LimitStorage, LimitAPICalls:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// License is the per-tenant subscription record. One per tenant; never
// physically deleted, only superseded.
type License struct {
	ID             string    `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
	TenantID       string    `gorm:"column:tenant_id;uniqueIndex"`
	SubscriptionID string    `gorm:"column:subscription_id"`
	Status         Status    `gorm:"column:status"`
}

func (License) TableName() string {
	return "licenses"
}

// ModuleEntitlement grants a tenant access to one module under a tier
// with per-limit-type ceilings. Superseded entitlements stay in place
// for audit continuity; the newest activation wins.
type ModuleEntitlement struct {
	ID          string                                  `gorm:"column:id;primaryKey"`
	CreatedAt   time.Time                               `gorm:"column:created_at"`
	UpdatedAt   time.Time                               `gorm:"column:updated_at"`
	LicenseID   string                                  `gorm:"column:license_id;index"`
	TenantID    string                                  `gorm:"column:tenant_id;index:idx_module_entitlements_tenant_module"`
	ModuleKey   ModuleKey                               `gorm:"column:module_key;index:idx_module_entitlements_tenant_module"`
	Enabled     bool                                    `gorm:"column:enabled"`
	Tier        Tier                                    `gorm:"column:tier"`
	Limits      datatypes.JSONType[map[LimitType]int64] `gorm:"column:limits"`
	ActivatedAt time.Time                               `gorm:"column:activated_at"`
	ExpiresAt   time.Time                               `gorm:"column:expires_at"`
}

func (ModuleEntitlement) TableName() string {
	return "module_entitlements"
}

// Reason classifies why a validation decision denied access.
type Reason string

const (
	ReasonLicenseNotFound Reason = "LicenseNotFound"
	ReasonLicenseExpired  Reason = "LicenseExpired"
	ReasonModuleDisabled  Reason = "ModuleDisabled"
)

// Decision is the outcome of a module access validation. Denial is a
// normal value, not an error.
type Decision struct {
	Valid  bool                `json:"valid"`
	Reason Reason              `json:"reason,omitempty"`
	Tier   Tier                `json:"tier,omitempty"`
	Limits map[LimitType]int64 `json:"limits,omitempty"`
}

// ValidateOptions tunes a single validation call.
type ValidateOptions struct {
	// SkipCache forces a store read, bypassing the decision cache.
	SkipCache bool
}
