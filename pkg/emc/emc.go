// Package emc implements the per-worker Exact-Match Cache (C2): a
// fixed-size, open-addressed cache from flow key to flow reference. Each
// worker owns exactly one Cache; there is no cross-worker coherence
// requirement (§3).
package emc

import "github.com/ssw-net/vswitchd-core/pkg/flowkey"

// DefaultShift and DefaultSegs match the spec's EM_FLOW_HASH_SHIFT and
// EM_FLOW_HASH_SEGS defaults: a 2^13 = 8192-entry table probed at 2
// positions per lookup.
const (
	DefaultShift = 13
	DefaultSegs  = 2
)

// FlowRef is the subset of a flow record the EMC needs to know about: a
// flow is "alive" as long as its dead-flag hasn't been set.
type FlowRef interface {
	Dead() bool
}

type entry struct {
	key  flowkey.Key
	flow FlowRef
}

func (e *entry) empty() bool { return e.flow == nil }

func (e *entry) alive() bool { return e.flow != nil && !e.flow.Dead() }

// Cache is one worker's exact-match cache.
type Cache struct {
	shift  uint
	segs   int
	size   uint32
	mask   uint32
	cursor uint32

	entries []entry

	// OnEvict, if set, is called with the flow reference an Insert
	// replaced or a SlowSweep or Reset cleared. It lets the owning flow
	// table route the dropped reference through epoch-deferred reclaim
	// instead of having the EMC know about reference counting itself.
	OnEvict func(FlowRef)
}

// New creates a cache with 2^shift entries and segs probe positions.
// Passing zero for either uses the spec defaults.
func New(shift uint, segs int) *Cache {
	if shift == 0 {
		shift = DefaultShift
	}
	if segs == 0 {
		segs = DefaultSegs
	}
	size := uint32(1) << shift
	return &Cache{
		shift:   shift,
		segs:    segs,
		size:    size,
		mask:    size - 1,
		entries: make([]entry, size),
	}
}

// Size returns the number of slots in the table.
func (c *Cache) Size() int { return int(c.size) }

func (c *Cache) probeIndex(hash uint32, seg int) uint32 {
	h := hash >> (uint(seg) * c.shift)
	return h & c.mask
}

// Lookup probes the SEGS positions for key.Hash in fixed order and returns
// the first alive, hash-and-byte-equal entry.
func (c *Cache) Lookup(key *flowkey.Key) (FlowRef, bool) {
	for seg := 0; seg < c.segs; seg++ {
		idx := c.probeIndex(key.Hash, seg)
		e := &c.entries[idx]
		if e.flow == nil || !e.alive() {
			continue
		}
		if e.key.Hash == key.Hash && flowkey.Equal(&e.key, key) {
			return e.flow, true
		}
	}
	return nil, false
}

// Insert binds key to flow. If key (same hash, byte-equal) is already
// present in one of its probe slots, that slot's flow pointer is replaced. Otherwise a replacement
// victim is chosen: the first empty slot among the probe positions, else
// the alive slot with the smallest stored hash, ties broken by probe
// order (the earlier position wins).
func (c *Cache) Insert(key *flowkey.Key, flow FlowRef) {
	for seg := 0; seg < c.segs; seg++ {
		idx := c.probeIndex(key.Hash, seg)
		e := &c.entries[idx]
		if !e.empty() && e.key.Hash == key.Hash && flowkey.Equal(&e.key, key) {
			old := e.flow
			e.flow = flow
			c.evict(old)
			return
		}
	}

	victim := uint32(0)
	found := false
	var victimHash uint32
	for seg := 0; seg < c.segs; seg++ {
		idx := c.probeIndex(key.Hash, seg)
		e := &c.entries[idx]
		if e.empty() {
			victim, found = idx, true
			break
		}
		if !found || e.key.Hash < victimHash {
			victim, victimHash, found = idx, e.key.Hash, true
		}
	}

	e := &c.entries[victim]
	old := e.flow
	e.key = *key
	e.flow = flow
	c.evict(old)
}

func (c *Cache) evict(old FlowRef) {
	if old != nil && c.OnEvict != nil {
		c.OnEvict(old)
	}
}

// SlowSweep visits one entry per call, advancing the cursor modulo the
// table size. If the visited entry holds a dead flow, it is cleared. This
// bounds memory held by stale entries without a global scan, and is meant
// to be called once per worker maintenance tick (§4.6).
func (c *Cache) SlowSweep() {
	e := &c.entries[c.cursor]
	if e.flow != nil && e.flow.Dead() {
		old := e.flow
		e.flow = nil
		c.evict(old)
	}
	c.cursor = (c.cursor + 1) & c.mask
}

// Reset clears every slot. Used when a worker re-enters POLLING after
// RELOADING: ownership of the EMC is preserved but its contents are not.
func (c *Cache) Reset() {
	for i := range c.entries {
		if c.entries[i].flow != nil {
			c.evict(c.entries[i].flow)
			c.entries[i] = entry{}
		}
	}
	c.cursor = 0
}
