package usage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hrplane/pkg/rediskey"
	"hrplane/services/license"
)

func TestParsePendingKey(t *testing.T) {
	key := rediskey.BuildUsagePendingKey("tenant-a", "payroll", "2026-03")

	payload, ok := parsePendingKey(key)
	require.True(t, ok)
	require.Equal(t, "tenant-a", payload.TenantID)
	require.Equal(t, license.ModulePayroll, payload.ModuleKey)
	require.Equal(t, "2026-03", payload.Period)
}

func TestParsePendingKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{
		"",
		"usage:pending",
		"usage:pending:tenant-a",
		"usage:pending:tenant-a:payroll",
		"other:tenant-a:payroll:2026-03",
	} {
		_, ok := parsePendingKey(key)
		require.False(t, ok, "key %q", key)
	}
}
