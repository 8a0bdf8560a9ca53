package audit

import (
	"time"

	"gorm.io/datatypes"
)

// EventType identifies what a LicenseAudit row records. The set is
// closed; SeverityFor must cover every member.
type EventType string

const (
	EventValidationSuccess EventType = "VALIDATION_SUCCESS"
	EventLicenseNotFound   EventType = "LICENSE_NOT_FOUND"
	EventLicenseExpired    EventType = "LICENSE_EXPIRED"
	EventModuleDisabled    EventType = "MODULE_DISABLED"
	EventLimitExceeded     EventType = "LIMIT_EXCEEDED"
)

func (e EventType) IsValid() bool {
	switch e {
	case EventValidationSuccess, EventLicenseNotFound, EventLicenseExpired,
		EventModuleDisabled, EventLimitExceeded:
		return true
	}
	return false
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SeverityFor derives the persisted severity from the event type. Callers
// never supply a severity: a denial or limit breach is always critical and
// a successful validation always info, no matter who writes the row.
func SeverityFor(event EventType) Severity {
	switch event {
	case EventValidationSuccess:
		return SeverityInfo
	case EventLicenseNotFound, EventLicenseExpired, EventModuleDisabled, EventLimitExceeded:
		return SeverityCritical
	}
	return SeverityCritical
}

// LicenseAudit is an append-only record of a licensing decision or a
// usage violation. Tenant and module are referenced by value so the
// trail survives deletion of the underlying license.
type LicenseAudit struct {
	ID        string         `gorm:"column:id;primaryKey" json:"id"`
	TenantID  string         `gorm:"column:tenant_id;index:idx_license_audits_tenant_created" json:"tenant_id"`
	ModuleKey string         `gorm:"column:module_key" json:"module_key"`
	EventType EventType      `gorm:"column:event_type" json:"event_type"`
	Severity  Severity       `gorm:"column:severity" json:"severity"`
	Details   datatypes.JSON `gorm:"column:details" json:"details,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;index:idx_license_audits_tenant_created" json:"created_at"`
}

func (LicenseAudit) TableName() string {
	return "license_audits"
}

// ValidationDetails is the payload for VALIDATION_SUCCESS rows.
type ValidationDetails struct {
	Tier      string `json:"tier,omitempty"`
	SkipCache bool   `json:"skip_cache,omitempty"`
}

// DenialDetails is the payload for LICENSE_NOT_FOUND, LICENSE_EXPIRED
// and MODULE_DISABLED rows.
type DenialDetails struct {
	Reason    string     `json:"reason"`
	Status    string     `json:"status,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// LimitExceededDetails is the payload for LIMIT_EXCEEDED rows.
type LimitExceededDetails struct {
	LimitType    string `json:"limit_type"`
	CurrentValue int64  `json:"current_value"`
	LimitValue   int64  `json:"limit_value"`
	Delta        int64  `json:"delta,omitempty"`
	Deferred     bool   `json:"deferred,omitempty"`
}
