package usage

import (
	"time"

	"gorm.io/datatypes"

	"hrplane/services/license"
)

// UsageTracking is the consumption record for one tenant module in one
// billing period. Limits are snapshotted at creation so a mid-period
// limit change never retroactively tightens an already-granted
// allowance. A period rollover creates a fresh record; old periods stay
// immutable for historical reporting.
type UsageTracking struct {
	ID        string                                          `gorm:"column:id;primaryKey"`
	CreatedAt time.Time                                       `gorm:"column:created_at"`
	UpdatedAt time.Time                                       `gorm:"column:updated_at"`
	TenantID  string                                          `gorm:"column:tenant_id;uniqueIndex:idx_usage_tracking_scope"`
	ModuleKey license.ModuleKey                               `gorm:"column:module_key;uniqueIndex:idx_usage_tracking_scope"`
	Period    string                                          `gorm:"column:period;uniqueIndex:idx_usage_tracking_scope"`
	Usage     datatypes.JSONType[map[license.LimitType]int64] `gorm:"column:usage"`
	Limits    datatypes.JSONType[map[license.LimitType]int64] `gorm:"column:limits"`
}

func (UsageTracking) TableName() string {
	return "usage_tracking"
}

// PeriodFunc buckets a point in time into a billing-cycle identifier.
type PeriodFunc func(time.Time) string

// MonthlyPeriod buckets by calendar month, e.g. "2026-09".
func MonthlyPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// DailyPeriod buckets by calendar day, e.g. "2026-09-01".
func DailyPeriod(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PeriodFuncFor selects the bucketing function for a configured
// granularity, defaulting to monthly.
func PeriodFuncFor(granularity string) PeriodFunc {
	if granularity == "daily" {
		return DailyPeriod
	}
	return MonthlyPeriod
}

// TrackOptions tunes a single tracking call.
type TrackOptions struct {
	// Immediate applies and limit-checks the increment synchronously.
	// When false the delta is coalesced in redis and applied by the
	// flush worker, trading bounded staleness for write amplification.
	Immediate bool
}

// TrackResult reports the outcome of a tracking call. Blocked means the
// increment would have breached the limit and was not applied.
type TrackResult struct {
	Blocked  bool  `json:"blocked"`
	NewValue int64 `json:"new_value,omitempty"`
	// Deferred is set on the batched path, where the new value is not
	// yet known.
	Deferred bool `json:"deferred,omitempty"`
}

// FlushPayload is the asynq payload draining one pending usage hash.
type FlushPayload struct {
	TenantID  string            `json:"tenant_id"`
	ModuleKey license.ModuleKey `json:"module_key"`
	Period    string            `json:"period"`
}
