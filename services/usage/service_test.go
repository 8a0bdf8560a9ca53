package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hrplane/pkg/config"
	"hrplane/pkg/db/option"
	"hrplane/pkg/repository"
	"hrplane/services/audit"
	"hrplane/services/license"
	"hrplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	withTrxFn     func(tx *gorm.DB) repository.Repository[T]
	findFn        func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn     func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	createFn      func(ctx context.Context, resource *T) error
	updateFn      func(ctx context.Context, resourceID string, resource any) error
	batchCreateFn func(ctx context.Context, resources []*T) error
	batchUpdateFn func(ctx context.Context, resources []*T) error
	countFn       func(ctx context.Context, query *T) (int64, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] {
	if m.withTrxFn != nil {
		return m.withTrxFn(tx)
	}
	return m
}

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, resourceID, resource)
	}
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if m.batchCreateFn != nil {
		return m.batchCreateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error {
	if m.batchUpdateFn != nil {
		return m.batchUpdateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, query)
	}
	return 0, nil
}

type auditorMock struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *auditorMock) CreateLog(ctx context.Context, entry audit.Entry) (*audit.LicenseAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return &audit.LicenseAudit{
		TenantID:  entry.TenantID,
		EventType: entry.EventType,
		Severity:  audit.SeverityFor(entry.EventType),
	}, nil
}

func (m *auditorMock) violations() []audit.LimitExceededDetails {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.LimitExceededDetails
	for _, entry := range m.entries {
		if entry.EventType == audit.EventLimitExceeded {
			out = append(out, *entry.Details.(*audit.LimitExceededDetails))
		}
	}
	return out
}

type limitSourceMock struct {
	calls  int
	limits map[license.LimitType]int64
	err    error
}

func (m *limitSourceMock) EffectiveLimits(ctx context.Context, tenantID string, moduleKey license.ModuleKey) (map[license.LimitType]int64, error) {
	m.calls++
	return m.limits, m.err
}

var testTime = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestTracker(t *testing.T, auditor *auditorMock, limits *limitSourceMock) *Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	return &Service{
		db:     testutil.NewTestDB(t),
		config: cfg,
		node:   node,
		audit:  auditor,
		limits: limits,
		period: MonthlyPeriod,
		now:    func() time.Time { return testTime },
	}
}

func trackedRecord(usage, limits map[license.LimitType]int64) *UsageTracking {
	return &UsageTracking{
		ID:        "rec-1",
		TenantID:  "tenant-a",
		ModuleKey: license.ModulePayroll,
		Period:    MonthlyPeriod(testTime),
		Usage:     datatypes.NewJSONType(usage),
		Limits:    datatypes.NewJSONType(limits),
	}
}

func TestTrackUsageValidation(t *testing.T) {
	svc := newTestTracker(t, &auditorMock{}, &limitSourceMock{})

	_, err := svc.TrackUsage(context.Background(), "", license.ModulePayroll, license.LimitEmployees, 1, TrackOptions{Immediate: true})
	require.Error(t, err)

	_, err = svc.TrackUsage(context.Background(), "tenant-a", "crm", license.LimitEmployees, 1, TrackOptions{Immediate: true})
	require.Error(t, err)

	_, err = svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, "widgets", 1, TrackOptions{Immediate: true})
	require.Error(t, err)
}

func TestTrackUsageIncrementsWithinLimit(t *testing.T) {
	auditor := &auditorMock{}
	svc := newTestTracker(t, auditor, &limitSourceMock{})

	var updated map[license.LimitType]int64
	svc.repo = &repoMock[UsageTracking]{
		findOneFn: func(ctx context.Context, _ *UsageTracking, _ ...option.QueryOption) (*UsageTracking, error) {
			return trackedRecord(
				map[license.LimitType]int64{license.LimitEmployees: 5},
				map[license.LimitType]int64{license.LimitEmployees: 10},
			), nil
		},
		updateFn: func(ctx context.Context, resourceID string, resource any) error {
			values := resource.(map[string]any)
			updated = values["usage"].(datatypes.JSONType[map[license.LimitType]int64]).Data()
			return nil
		},
	}

	result, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitEmployees, 3, TrackOptions{Immediate: true})
	require.NoError(t, err)
	require.False(t, result.Blocked)
	require.EqualValues(t, 8, result.NewValue)
	require.EqualValues(t, 8, updated[license.LimitEmployees])
	require.Empty(t, auditor.violations())
}

func TestTrackUsageBlocksAtLimit(t *testing.T) {
	auditor := &auditorMock{}
	svc := newTestTracker(t, auditor, &limitSourceMock{})

	var updateCalls int
	svc.repo = &repoMock[UsageTracking]{
		findOneFn: func(ctx context.Context, _ *UsageTracking, _ ...option.QueryOption) (*UsageTracking, error) {
			return trackedRecord(
				map[license.LimitType]int64{license.LimitEmployees: 100},
				map[license.LimitType]int64{license.LimitEmployees: 100},
			), nil
		},
		updateFn: func(ctx context.Context, resourceID string, resource any) error {
			updateCalls++
			return nil
		},
	}

	result, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitEmployees, 1, TrackOptions{Immediate: true})
	require.NoError(t, err)
	require.True(t, result.Blocked)
	require.EqualValues(t, 100, result.NewValue)
	require.Zero(t, updateCalls, "a blocked increment must not persist anything")

	violations := auditor.violations()
	require.Len(t, violations, 1)
	require.Equal(t, string(license.LimitEmployees), violations[0].LimitType)
	require.EqualValues(t, 100, violations[0].CurrentValue)
	require.EqualValues(t, 100, violations[0].LimitValue)
	require.EqualValues(t, 1, violations[0].Delta)
	require.False(t, violations[0].Deferred)
}

func TestTrackUsageAllowsReachingLimitExactly(t *testing.T) {
	svc := newTestTracker(t, &auditorMock{}, &limitSourceMock{})
	svc.repo = &repoMock[UsageTracking]{
		findOneFn: func(ctx context.Context, _ *UsageTracking, _ ...option.QueryOption) (*UsageTracking, error) {
			return trackedRecord(
				map[license.LimitType]int64{license.LimitEmployees: 99},
				map[license.LimitType]int64{license.LimitEmployees: 100},
			), nil
		},
	}

	result, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitEmployees, 1, TrackOptions{Immediate: true})
	require.NoError(t, err)
	require.False(t, result.Blocked)
	require.EqualValues(t, 100, result.NewValue)
}

func TestTrackUsageRejectsWholeDelta(t *testing.T) {
	auditor := &auditorMock{}
	svc := newTestTracker(t, auditor, &limitSourceMock{})

	var updateCalls int
	svc.repo = &repoMock[UsageTracking]{
		findOneFn: func(ctx context.Context, _ *UsageTracking, _ ...option.QueryOption) (*UsageTracking, error) {
			return trackedRecord(
				map[license.LimitType]int64{license.LimitEmployees: 95},
				map[license.LimitType]int64{license.LimitEmployees: 100},
			), nil
		},
		updateFn: func(ctx context.Context, resourceID string, resource any) error {
			updateCalls++
			return nil
		},
	}

	result, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitEmployees, 10, TrackOptions{Immediate: true})
	require.NoError(t, err)
	require.True(t, result.Blocked)
	require.Zero(t, updateCalls, "no partial credit for an oversized delta")
	require.Len(t, auditor.violations(), 1)
}

func TestTrackUsageFloorsAtZero(t *testing.T) {
	svc := newTestTracker(t, &auditorMock{}, &limitSourceMock{})

	var updated map[license.LimitType]int64
	svc.repo = &repoMock[UsageTracking]{
		findOneFn: func(ctx context.Context, _ *UsageTracking, _ ...option.QueryOption) (*UsageTracking, error) {
			return trackedRecord(
				map[license.LimitType]int64{license.LimitEmployees: 3},
				map[license.LimitType]int64{license.LimitEmployees: 100},
			), nil
		},
		updateFn: func(ctx context.Context, resourceID string, resource any) error {
			values := resource.(map[string]any)
			updated = values["usage"].(datatypes.JSONType[map[license.LimitType]int64]).Data()
			return nil
		},
	}

	result, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitEmployees, -5, TrackOptions{Immediate: true})
	require.NoError(t, err)
	require.EqualValues(t, 0, result.NewValue)
	require.EqualValues(t, 0, updated[license.LimitEmployees])
}

func TestTrackUsageUnboundedLimitType(t *testing.T) {
	svc := newTestTracker(t, &auditorMock{}, &limitSourceMock{})
	svc.repo = &repoMock[UsageTracking]{
		findOneFn: func(ctx context.Context, _ *UsageTracking, _ ...option.QueryOption) (*UsageTracking, error) {
			return trackedRecord(
				map[license.LimitType]int64{license.LimitAPICalls: 1_000_000},
				map[license.LimitType]int64{license.LimitEmployees: 100},
			), nil
		},
	}

	result, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitAPICalls, 500, TrackOptions{Immediate: true})
	require.NoError(t, err)
	require.False(t, result.Blocked)
	require.EqualValues(t, 1_000_500, result.NewValue)
}

func TestTrackUsageCreatesPeriodRecordWithSnapshot(t *testing.T) {
	auditor := &auditorMock{}
	limits := &limitSourceMock{limits: map[license.LimitType]int64{license.LimitEmployees: 10}}
	svc := newTestTracker(t, auditor, limits)

	var created *UsageTracking
	svc.repo = &repoMock[UsageTracking]{
		createFn: func(ctx context.Context, resource *UsageTracking) error {
			created = resource
			return nil
		},
	}

	result, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitEmployees, 4, TrackOptions{Immediate: true})
	require.NoError(t, err)
	require.EqualValues(t, 4, result.NewValue)

	require.NotNil(t, created)
	require.Equal(t, "tenant-a", created.TenantID)
	require.Equal(t, license.ModulePayroll, created.ModuleKey)
	require.Equal(t, "2026-03", created.Period)
	require.Equal(t, map[license.LimitType]int64{license.LimitEmployees: 10}, created.Limits.Data())
	require.Equal(t, 1, limits.calls)
}

func TestTrackUsageDeltaAloneExceedsFreshLimit(t *testing.T) {
	auditor := &auditorMock{}
	limits := &limitSourceMock{limits: map[license.LimitType]int64{license.LimitEmployees: 10}}
	svc := newTestTracker(t, auditor, limits)
	svc.repo = &repoMock[UsageTracking]{}

	result, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitEmployees, 11, TrackOptions{Immediate: true})
	require.NoError(t, err)
	require.True(t, result.Blocked)

	violations := auditor.violations()
	require.Len(t, violations, 1)
	require.EqualValues(t, 0, violations[0].CurrentValue)
	require.EqualValues(t, 11, violations[0].Delta)
}

func TestTrackUsageSnapshotIgnoresMidPeriodLimitChange(t *testing.T) {
	// The source now reports a tighter limit, but the period record was
	// opened under the old one; the snapshot governs.
	limits := &limitSourceMock{limits: map[license.LimitType]int64{license.LimitEmployees: 5}}
	svc := newTestTracker(t, &auditorMock{}, limits)
	svc.repo = &repoMock[UsageTracking]{
		findOneFn: func(ctx context.Context, _ *UsageTracking, _ ...option.QueryOption) (*UsageTracking, error) {
			return trackedRecord(
				map[license.LimitType]int64{},
				map[license.LimitType]int64{license.LimitEmployees: 10},
			), nil
		},
	}

	result, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitEmployees, 8, TrackOptions{Immediate: true})
	require.NoError(t, err)
	require.False(t, result.Blocked)
	require.EqualValues(t, 8, result.NewValue)
	require.Zero(t, limits.calls)
}

func TestTrackUsageStoreErrorFailsClosed(t *testing.T) {
	svc := newTestTracker(t, &auditorMock{}, &limitSourceMock{})
	svc.repo = &repoMock[UsageTracking]{
		findOneFn: func(ctx context.Context, _ *UsageTracking, _ ...option.QueryOption) (*UsageTracking, error) {
			return nil, errors.New("connection refused")
		},
	}

	result, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitEmployees, 1, TrackOptions{Immediate: true})
	require.Error(t, err)
	require.Nil(t, result)
}

func TestTrackUsageDeferredRequiresBuffer(t *testing.T) {
	svc := newTestTracker(t, &auditorMock{}, &limitSourceMock{})

	_, err := svc.TrackUsage(context.Background(), "tenant-a", license.ModulePayroll, license.LimitEmployees, 1, TrackOptions{})
	require.Error(t, err)
}

func TestPeriodBucketing(t *testing.T) {
	at := time.Date(2026, 9, 1, 23, 30, 0, 0, time.UTC)

	require.Equal(t, "2026-09", MonthlyPeriod(at))
	require.Equal(t, "2026-09-01", DailyPeriod(at))

	require.Equal(t, "2026-09", PeriodFuncFor("monthly")(at))
	require.Equal(t, "2026-09-01", PeriodFuncFor("daily")(at))
	require.Equal(t, "2026-09", PeriodFuncFor("")(at))
}
