// Copyright 2026 The RHSS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package loccache implements the location cache: a bounded, advisory
// mapping from logical path to the tier that last held it. The cache is a
// hint, never a source of truth — every operation must be prepared to
// reprobe.
package loccache

import (
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/rhss-project/rhss/internal/telemetry"
	"github.com/rhss-project/rhss/internal/tierpolicy"
)

// Status is what a LocationEntry asserts about a path: present in a tier, or
// known absent from both.
type Status int

const (
	StatusAbsent Status = iota
	StatusPresent
)

// Entry is a cached location hint, not a guarantee.
type Entry struct {
	Tier       tierpolicy.Tier
	Status     Status
	InsertedAt int64 // unix nanos, from the injected Clock
}

// Result is returned by Lookup.
type Result struct {
	Hit   bool
	Entry Entry
}

// Cache is safe for concurrent use by multiple kernel-facing workers; this
// implementation chooses a single mutex over per-shard locking, wrapped as
// a jacobsa/syncutil.InvariantMutex so checkInvariants can assert that
// every prefixIndex member lies under its directory key, in
// tests without adding production overhead.
type Cache struct {
	mu    syncutil.InvariantMutex
	lru   *lru.Cache[string, Entry]
	clock timeutil.Clock
	cnt   *telemetry.Counters

	// GUARDED_BY(mu)
	prefixIndex map[string]map[string]struct{}

	hits, misses, inserts, evictions, invalidations atomic.Int64
}

// Counters is a point-in-time snapshot of a Cache's local counters, cheap to
// read in tests without scraping the prometheus registry (see
// internal/telemetry, which these same events also feed when non-nil).
type Counters struct {
	Hits, Misses, Inserts, Evictions, Invalidations int64
}

// Stats returns a snapshot of the cache's local counters.
func (c *Cache) Stats() Counters {
	return Counters{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Inserts:       c.inserts.Load(),
		Evictions:     c.evictions.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// New creates a Cache with the given soft capacity (10000 entries is a
// reasonable default).
func New(capacity int, clock timeutil.Clock, cnt *telemetry.Counters) (*Cache, error) {
	c := &Cache{
		clock:       clock,
		cnt:         cnt,
		prefixIndex: make(map[string]map[string]struct{}),
	}
	inner, err := lru.NewWithEvict[string, Entry](capacity, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = inner
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c, nil
}

func (c *Cache) checkInvariants() {
	// Every path tracked for prefix invalidation must start with the
	// directory key it is filed under; a mis-filed prefixIndex entry would
	// silently break InvalidatePrefix.
	for dir, members := range c.prefixIndex {
		for p := range members {
			if !strings.HasPrefix(p, dir) {
				panic("loccache: prefixIndex entry does not share its directory's prefix")
			}
		}
	}
}

func (c *Cache) onEvict(key string, _ Entry) {
	c.removeFromPrefixIndexLocked(key)
	c.evictions.Add(1)
	if c.cnt != nil {
		c.cnt.CacheEvictions.Inc()
	}
}

func (c *Cache) removeFromPrefixIndexLocked(p string) {
	for dir := range dirsOf(p) {
		if members, ok := c.prefixIndex[dir]; ok {
			delete(members, p)
			if len(members) == 0 {
				delete(c.prefixIndex, dir)
			}
		}
	}
}

// dirsOf yields every ancestor directory prefix of p ("a/b/c.txt" ->
// "a/b/", "a/").
func dirsOf(p string) map[string]struct{} {
	out := make(map[string]struct{})
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			out[p[:i+1]] = struct{}{}
		}
	}
	return out
}

func (c *Cache) addToPrefixIndexLocked(p string) {
	for dir := range dirsOf(p) {
		members, ok := c.prefixIndex[dir]
		if !ok {
			members = make(map[string]struct{})
			c.prefixIndex[dir] = members
		}
		members[p] = struct{}{}
	}
}

// Lookup returns the cached entry for p, if any. Callers must still
// re-verify against the filesystem before trusting it for a write-affecting
// decision.
func (c *Cache) Lookup(p string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(p)
	if !ok {
		c.misses.Add(1)
		if c.cnt != nil {
			c.cnt.CacheMisses.Inc()
		}
		return Result{}
	}
	c.hits.Add(1)
	if c.cnt != nil {
		c.cnt.CacheHits.Inc()
	}
	return Result{Hit: true, Entry: e}
}

// Insert records that p currently lives in tier t.
func (c *Cache) Insert(p string, t tierpolicy.Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(p, Entry{Tier: t, Status: StatusPresent, InsertedAt: c.clock.Now().UnixNano()})
}

func (c *Cache) insertLocked(p string, e Entry) {
	c.addToPrefixIndexLocked(p)
	c.lru.Add(p, e)
	c.inserts.Add(1)
	if c.cnt != nil {
		c.cnt.CacheInserts.Inc()
	}
}

// MarkAbsent records that p exists in neither tier.
func (c *Cache) MarkAbsent(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(p, Entry{Status: StatusAbsent, InsertedAt: c.clock.Now().UnixNano()})
}

// Invalidate removes any cached knowledge of p, forcing the next lookup to
// reprobe.
func (c *Cache) Invalidate(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Remove(p) {
		c.removeFromPrefixIndexLocked(p)
		c.invalidations.Add(1)
		if c.cnt != nil {
			c.cnt.CacheInvalidations.Inc()
		}
	}
}

// InvalidatePrefix removes every cached entry whose path lies under the
// directory dir (dir must end in "/"), used on directory rename/remove.
func (c *Cache) InvalidatePrefix(dir string) {
	if dir != "" && !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	members := c.prefixIndex[dir]
	for p := range members {
		if c.lru.Remove(p) {
			c.invalidations.Add(1)
			if c.cnt != nil {
				c.cnt.CacheInvalidations.Inc()
			}
		}
	}
	delete(c.prefixIndex, dir)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.prefixIndex = make(map[string]map[string]struct{})
}

// ListingEntry is a single resolved child used by BulkUpdateFromListing.
type ListingEntry struct {
	Name string
	Tier tierpolicy.Tier
}

// BulkUpdateFromListing amortises the cost of per-entry lookups after a
// directory scan by inserting every resolved child at once.
func (c *Cache) BulkUpdateFromListing(dir string, entries []ListingEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		p := e.Name
		if dir != "" {
			p = dir + "/" + e.Name
		}
		c.insertLocked(p, Entry{Tier: e.Tier, Status: StatusPresent, InsertedAt: c.clock.Now().UnixNano()})
	}
}

