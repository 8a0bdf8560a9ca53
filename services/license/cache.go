package license

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "license_decision_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "license_decision_cache_miss_total"})
)

type DecisionKey struct {
	TenantID  string
	ModuleKey ModuleKey
}

type cachedDecision struct {
	decision Decision
	cachedAt time.Time
}

// DecisionCache holds validated access decisions for a fixed TTL so hot
// request paths avoid a store round trip. Entries are pure decision
// snapshots: writes are last-writer-wins. The clock is injectable so
// tests can drive expiry deterministically.
type DecisionCache struct {
	mu    sync.RWMutex
	items map[DecisionKey]cachedDecision
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group
}

func NewDecisionCache(ttl time.Duration) *DecisionCache {
	return &DecisionCache{
		items: make(map[DecisionKey]cachedDecision),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *DecisionCache) Get(key DecisionKey) (Decision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	if !ok || (c.ttl > 0 && c.now().Sub(v.cachedAt) > c.ttl) {
		cacheMiss.Inc()
		return Decision{}, false
	}
	cacheHits.Inc()
	return v.decision, true
}

func (c *DecisionCache) Set(key DecisionKey, decision Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cachedDecision{decision: decision, cachedAt: c.now()}
}

func (c *DecisionCache) Invalidate(key DecisionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// InvalidateTenant purges every cached decision for one tenant. Must be
// called after any external mutation of the tenant's license.
func (c *DecisionCache) InvalidateTenant(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if key.TenantID == tenantID {
			delete(c.items, key)
		}
	}
}

// Purge drops the entire cache.
func (c *DecisionCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[DecisionKey]cachedDecision)
}

// Do collapses concurrent loads of the same key into a single store
// read; every waiter receives the same decision.
func (c *DecisionCache) Do(key DecisionKey, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := c.group.Do(key.TenantID+":"+string(key.ModuleKey), fn)
	return v, err
}
