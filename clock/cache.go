// Package clock provides a periodically refreshed snapshot of the monotonic
// clock, so hot paths that need "now" many times per driver tick (timer wheel
// advances, delay computations) can read a cached value instead of calling
// time.Now() on every access.
//
// This mirrors the lastTickT / refTS caching pattern used by
// intuitivelabs-wtimer's WTimer, adapted to a single-writer (driver
// goroutine) discipline: Spak is only ever called from the driver loop, so no
// locking is required for the common case, only a lock-free publish for
// readers that may run on other goroutines (e.g. diagnostics).
package clock

import (
	"sync/atomic"
	"time"
)

// Cache holds a cached time.Time snapshot, refreshed by Spak.
type Cache struct {
	now atomic.Value // time.Time
}

// NewCache returns a Cache primed with the current time.
func NewCache() *Cache {
	c := &Cache{}
	c.now.Store(time.Now())
	return c
}

// Spak refreshes the cached snapshot. Called once per driver tick, before
// advancing either timer wheel, so both wheels see a consistent "now".
func (c *Cache) Spak() {
	c.now.Store(time.Now())
}

// Now returns the last snapshot taken by Spak. It never calls time.Now()
// itself, by design: staleness between ticks is the whole point of the cache.
func (c *Cache) Now() time.Time {
	return c.now.Load().(time.Time)
}
