package rediskey

import "fmt"

// Usage keys (global convention across services)
const (
	UsagePendingPrefix = "usage:pending"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildUsagePendingKey returns "usage:pending:{tenantID}:{moduleKey}:{period}".
// The hash at this key accumulates deferred usage deltas, one field per
// limit type, until the flush worker drains it.
func BuildUsagePendingKey(tenantID, moduleKey, period string) string {
	return fmt.Sprintf("%s:%s:%s:%s", UsagePendingPrefix, tenantID, moduleKey, period)
}

// UsagePendingPattern matches every pending usage hash, used by the
// periodic flush sweep.
func UsagePendingPattern() string {
	return UsagePendingPrefix + ":*"
}
