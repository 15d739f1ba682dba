package arbitrage

import (
	"sync"
	"time"
)

// HoldCache gates repeat signals per route. Entries are overwritten, never
// deleted, for the lifetime of the cache.
//
// A route is ready when it was seen before and at least hold has passed since
// the stored timestamp; in that case the timestamp is left untouched, so the
// route keeps reading as ready on every later observation. Any other
// observation stores now and is not ready.
type HoldCache struct {
	mu   sync.Mutex
	seen map[uint64]time.Time
	hold time.Duration
}

func NewHoldCache(hold time.Duration) *HoldCache {
	return &HoldCache{seen: make(map[uint64]time.Time), hold: hold}
}

// Observe applies the hold rule for routeID at now and reports readiness.
func (c *HoldCache) Observe(routeID uint64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.seen[routeID]; ok && now.Sub(prev) >= c.hold {
		return true
	}
	c.seen[routeID] = now
	return false
}

// Last returns the stored timestamp for routeID.
func (c *HoldCache) Last(routeID uint64) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.seen[routeID]
	return t, ok
}

func (c *HoldCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
