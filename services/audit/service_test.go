package audit

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hrplane/pkg/db/pagination"
	"hrplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &LicenseAudit{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &Service{
		db:   db,
		node: node,
		repo: NewRepository(db),
		now:  time.Now,
	}
}

func TestSeverityDerivation(t *testing.T) {
	cases := map[EventType]Severity{
		EventValidationSuccess: SeverityInfo,
		EventLicenseNotFound:   SeverityCritical,
		EventLicenseExpired:    SeverityCritical,
		EventModuleDisabled:    SeverityCritical,
		EventLimitExceeded:     SeverityCritical,
	}

	for event, want := range cases {
		require.Equal(t, want, SeverityFor(event), "event %s", event)
	}
}

func TestCreateLogRejectsInvalidInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateLog(ctx, Entry{ModuleKey: "payroll", EventType: EventLicenseExpired})
	require.Error(t, err)

	_, err = svc.CreateLog(ctx, Entry{TenantID: "tenant-a", ModuleKey: "payroll", EventType: "SOMETHING_ELSE"})
	require.Error(t, err)
}

func TestCreateLogDerivesSeverity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	record, err := svc.CreateLog(ctx, Entry{
		TenantID:  "tenant-a",
		ModuleKey: "payroll",
		EventType: EventLicenseExpired,
		Details:   DenialDetails{Reason: "LicenseExpired", Status: "expired"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)
	require.Equal(t, SeverityCritical, record.Severity)
	require.JSONEq(t, `{"reason":"LicenseExpired","status":"expired"}`, string(record.Details))

	record, err = svc.CreateLog(ctx, Entry{
		TenantID:  "tenant-a",
		ModuleKey: "payroll",
		EventType: EventValidationSuccess,
	})
	require.NoError(t, err)
	require.Equal(t, SeverityInfo, record.Severity)
	require.Empty(t, record.Details)
}

func TestQueryLogsRequiresTenant(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.QueryLogs(context.Background(), ListParams{})
	require.Error(t, err)

	_, err = svc.CountLogs(context.Background(), ListParams{})
	require.Error(t, err)
}

func TestQueryLogsTenantIsolation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, tenantID := range []string{"tenant-a", "tenant-a", "tenant-b"} {
		_, err := svc.CreateLog(ctx, Entry{
			TenantID:  tenantID,
			ModuleKey: "leave",
			EventType: EventValidationSuccess,
		})
		require.NoError(t, err)
	}

	records, err := svc.QueryLogs(ctx, ListParams{TenantID: "tenant-a"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		require.Equal(t, "tenant-a", record.TenantID)
	}

	count, err := svc.CountLogs(ctx, ListParams{TenantID: "tenant-b"})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestQueryLogsFilterComposition(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []struct {
		moduleKey string
		eventType EventType
		at        time.Time
	}{
		{"payroll", EventValidationSuccess, base},
		{"payroll", EventLicenseExpired, base.Add(time.Hour)},
		{"payroll", EventLicenseExpired, base.Add(48 * time.Hour)},
		{"leave", EventLicenseExpired, base.Add(time.Hour)},
	}

	for _, e := range entries {
		at := e.at
		svc.now = func() time.Time { return at }
		_, err := svc.CreateLog(ctx, Entry{
			TenantID:  "tenant-a",
			ModuleKey: e.moduleKey,
			EventType: e.eventType,
		})
		require.NoError(t, err)
	}

	start := base.Add(30 * time.Minute)
	end := base.Add(2 * time.Hour)
	records, err := svc.QueryLogs(ctx, ListParams{
		TenantID:  "tenant-a",
		ModuleKey: "payroll",
		EventType: EventLicenseExpired,
		Severity:  SeverityCritical,
		StartDate: &start,
		EndDate:   &end,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "payroll", records[0].ModuleKey)
	require.True(t, records[0].CreatedAt.Equal(base.Add(time.Hour)))

	_, err = svc.QueryLogs(ctx, ListParams{TenantID: "tenant-a", EventType: "BOGUS"})
	require.Error(t, err)
}

func TestQueryLogsOrderingAndPagination(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		_, err := svc.CreateLog(ctx, Entry{
			TenantID:  "tenant-a",
			ModuleKey: "documents",
			EventType: EventValidationSuccess,
		})
		require.NoError(t, err)
	}

	first, err := svc.QueryLogs(ctx, ListParams{
		TenantID: "tenant-a",
		Page:     pagination.Pagination{Skip: 0, Limit: 2},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, first[0].CreatedAt.After(first[1].CreatedAt))

	second, err := svc.QueryLogs(ctx, ListParams{
		TenantID: "tenant-a",
		Page:     pagination.Pagination{Skip: 2, Limit: 2},
	})
	require.NoError(t, err)
	require.Len(t, second, 2)

	seen := map[string]bool{}
	for _, record := range append(first, second...) {
		require.False(t, seen[record.ID], "page overlap on %s", record.ID)
		seen[record.ID] = true
	}

	// Newest first across page boundaries.
	require.True(t, first[1].CreatedAt.After(second[0].CreatedAt) || first[1].CreatedAt.Equal(second[0].CreatedAt))
}
