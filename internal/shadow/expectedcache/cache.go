// Package expectedcache implements the expected-value cache (C2): a
// short-lived set of optimistic overrides per attribute that lets
// writes and invokes predict post-operation values for responsive UIs.
//
// The expiry/eviction shape is adapted from cc-backend's in-memory LRU
// cache (pkg/lrucache): entries carry their own expiration and a
// sweep reclaims everything past it, rescheduling itself at the
// earliest surviving deadline instead of polling on a fixed tick.
package expectedcache

import (
	"sync"
	"time"

	"github.com/nodefabric/shadowd/internal/shadow"
)

// minSweepDelay is the clamp on the next scheduled sweep (spec §4.2).
const minSweepDelay = 100 * time.Millisecond

type entry struct {
	value      shadow.DataValue
	expiresAt  time.Time
	generation uint64
}

// Lookup resolves the currently cached (non-optimistic) value for a
// path, used to decide whether an expected-value transition needs a
// synthetic report.
type Lookup func(path shadow.AttributePath) (shadow.DataValue, bool)

// Cache is one device's expected-value cache. Not safe to share across
// devices.
type Cache struct {
	mu             sync.Mutex
	entries        map[shadow.AttributePath]entry
	nextGeneration uint64
	now            func() time.Time
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[shadow.AttributePath]entry),
		now:     time.Now,
	}
}

// Pending is one (path, value) entry queued for insertion by Set.
type Pending struct {
	Path  shadow.AttributePath
	Value shadow.DataValue
}

// Set allocates one generation shared by every entry in expected, each
// expiring at now+interval. Returns the generation (so the caller can
// roll the whole batch back by it on failure) and the synthetic
// reports produced by any value transition (spec §4.2 "Report
// semantics on transition").
func (c *Cache) Set(expected []Pending, interval time.Duration, cached Lookup) (uint64, []shadow.AttributeReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextGeneration++
	generation := c.nextGeneration
	expiresAt := c.now().Add(interval)

	var reports []shadow.AttributeReport
	for _, p := range expected {
		prior, hadPrior := c.entries[p.Path]
		differs := false
		if hadPrior {
			differs = !prior.value.Equal(p.Value)
		} else if cv, ok := cached(p.Path); ok {
			differs = !cv.Equal(p.Value)
		} else {
			differs = true
		}

		c.entries[p.Path] = entry{value: p.Value, expiresAt: expiresAt, generation: generation}

		if differs {
			v := p.Value
			reports = append(reports, shadow.AttributeReport{Path: p.Path, Value: v})
		}
	}
	return generation, reports
}

// Remove removes the entry at path iff its generation matches
// (prevents removing a newer prediction). If the removed value
// differed from the current cached value, a report carrying the
// cached value is returned.
func (c *Cache) Remove(path shadow.AttributePath, generation uint64, cached Lookup) *shadow.AttributeReport {
	c.mu.Lock()
	e, ok := c.entries[path]
	if !ok || e.generation != generation {
		c.mu.Unlock()
		return nil
	}
	delete(c.entries, path)
	c.mu.Unlock()

	return reportIfDiffers(path, e.value, cached)
}

// Lookup returns a non-expired expected value for path. An expired
// entry found in-place is purged before returning "absent".
func (c *Cache) Lookup(path shadow.AttributePath) (shadow.DataValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok {
		return shadow.DataValue{}, false
	}
	if !e.expiresAt.After(c.now()) {
		delete(c.entries, path)
		return shadow.DataValue{}, false
	}
	return e.value, true
}

// Len reports the number of entries currently held, expired or not,
// for metrics purposes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// NextDeadline returns the earliest expiresAt among surviving entries,
// clamped to at least minSweepDelay from now, or false if the cache is
// empty.
func (c *Cache) NextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return time.Time{}, false
	}
	earliest := time.Time{}
	for _, e := range c.entries {
		if earliest.IsZero() || e.expiresAt.Before(earliest) {
			earliest = e.expiresAt
		}
	}
	if min := c.now().Add(minSweepDelay); earliest.Before(min) {
		earliest = min
	}
	return earliest, true
}

// Sweep removes all expired entries and returns the reports produced
// by any expired value that differed from the current cached value.
func (c *Cache) Sweep(cached Lookup) []shadow.AttributeReport {
	now := c.now()
	c.mu.Lock()
	var expired []struct {
		path  shadow.AttributePath
		value shadow.DataValue
	}
	for path, e := range c.entries {
		if !e.expiresAt.After(now) {
			expired = append(expired, struct {
				path  shadow.AttributePath
				value shadow.DataValue
			}{path, e.value})
			delete(c.entries, path)
		}
	}
	c.mu.Unlock()

	var reports []shadow.AttributeReport
	for _, x := range expired {
		if r := reportIfDiffers(x.path, x.value, cached); r != nil {
			reports = append(reports, *r)
		}
	}
	return reports
}

func reportIfDiffers(path shadow.AttributePath, expiredValue shadow.DataValue, cached Lookup) *shadow.AttributeReport {
	cv, ok := cached(path)
	if !ok || cv.Equal(expiredValue) {
		return nil
	}
	return &shadow.AttributeReport{Path: path, Value: cv}
}
