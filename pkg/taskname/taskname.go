package taskname

const (
	// Usage tasks
	UsageFlush      = "usage:flush"
	UsageFlushSweep = "usage:flush:sweep"
)
