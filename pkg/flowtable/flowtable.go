// Package flowtable implements the per-worker flow table (C4): a hash map
// keyed by the 128-bit flow id (ufid) from a flow's unmasked key down to
// its flow record (rule, actions, stats). One writer (the owning worker,
// under the caller's flow-mutex) and any number of epoch-protected readers.
// Grounded on the teacher's pkg/dlq RWMutex-guarded-map-plus-stats idiom,
// adapted from a channel-fed queue to a direct keyed map since a flow
// table has no queueing semantics.
package flowtable

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ssw-net/vswitchd-core/pkg/actions"
	"github.com/ssw-net/vswitchd-core/pkg/classifier"
	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
)

// DefaultCapacity is the fixed ceiling on flows per worker (§4.4).
const DefaultCapacity = 65536

// Stats holds the atomically-updated counters on a flow record. Written
// only by the owning worker, read by any thread under epoch protection.
type Stats struct {
	lastUsedMillis int64
	packets        uint64
	bytes          uint64
	tcpFlags       uint32
}

// Update folds n additional packets/bytes and ORs in observedFlags,
// stamping lastUsedMillis with now.
func (s *Stats) Update(now int64, packets, bytes uint64, observedFlags uint32) {
	atomic.StoreInt64(&s.lastUsedMillis, now)
	atomic.AddUint64(&s.packets, packets)
	atomic.AddUint64(&s.bytes, bytes)
	for {
		old := atomic.LoadUint32(&s.tcpFlags)
		next := old | observedFlags
		if next == old || atomic.CompareAndSwapUint32(&s.tcpFlags, old, next) {
			return
		}
	}
}

// Snapshot is a point-in-time copy of Stats safe to read without races.
type Snapshot struct {
	LastUsedMillis int64
	Packets        uint64
	Bytes          uint64
	TCPFlags       uint32
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		LastUsedMillis: atomic.LoadInt64(&s.lastUsedMillis),
		Packets:        atomic.LoadUint64(&s.packets),
		Bytes:          atomic.LoadUint64(&s.bytes),
		TCPFlags:       atomic.LoadUint32(&s.tcpFlags),
	}
}

// Flow is one installed flow record (§3 Flow Record). UnmaskedKey, Ufid,
// and OwnerWorkerID are immutable after creation. dead is set exactly once
// on removal. actions is swappable under the table's flow-mutex; readers
// observe either the old or new value atomically.
type Flow struct {
	UnmaskedKey   flowkey.Key
	Mask          flowkey.Mask
	Ufid          [16]byte
	OwnerWorkerID int

	Stats Stats

	dead    atomic.Bool
	actions atomic.Pointer[actions.List]
	rule    *classifier.Rule

	// batch is the per-flow transient accumulator described in §4.6 step
	// 3/8: packets classified to this flow within the current ingress
	// burst, cleared on commit. Not touched by any thread but the owning
	// worker, so it needs no synchronization.
	batch []actions.Packet
}

// Dead reports whether the flow has been removed. Implements
// emc.FlowRef so a Flow can be stored directly in a worker's EMC.
func (f *Flow) Dead() bool { return f.dead.Load() }

// Actions returns the flow's current action list.
func (f *Flow) Actions() actions.List {
	p := f.actions.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Rule returns the classifier rule backing this flow.
func (f *Flow) Rule() *classifier.Rule { return f.rule }

// AppendBatch appends pkt to the flow's transient per-burst batch (§4.6
// step 3). Caller must hold the table's flow-mutex (the owning worker,
// single-threaded within its own pipeline, needs no additional lock).
func (f *Flow) AppendBatch(pkt actions.Packet) { f.batch = append(f.batch, pkt) }

// TakeBatch returns and clears the flow's transient batch (§4.6 step 8:
// "the batch back-pointer on the flow is cleared before execution").
func (f *Flow) TakeBatch() []actions.Packet {
	b := f.batch
	f.batch = nil
	return b
}

// Table is a per-worker flow table.
type Table struct {
	mu       sync.RWMutex
	byUfid   map[[16]byte]*Flow
	capacity int

	classifier *classifier.Classifier
	ownerID    int
}

// New creates an empty table with the given capacity (0 selects
// DefaultCapacity) backed by cls for classifier insertion/removal.
func New(ownerID, capacity int, cls *classifier.Classifier) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		byUfid:     make(map[[16]byte]*Flow),
		capacity:   capacity,
		classifier: cls,
		ownerID:    ownerID,
	}
}

// Len returns the number of live flows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUfid)
}

// Lookup delegates to the classifier and recovers the flow from the
// matched rule's backpointer.
func (t *Table) Lookup(probes []*flowkey.Key) (*Flow, bool) {
	rules, ok := t.classifier.Lookup(probes)
	if !ok {
		return nil, false
	}
	for _, r := range rules {
		if r == nil {
			continue
		}
		if fl, ok := r.Flow.(*Flow); ok && !fl.Dead() {
			return fl, true
		}
	}
	return nil, false
}

// FindByUfid is a direct hash lookup by flow id.
func (t *Table) FindByUfid(ufid [16]byte) (*Flow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.byUfid[ufid]
	return f, ok
}

// Add builds a flow record from unmaskedKey AND-ed with mask, inserts a
// rule into the classifier, and inserts the flow into the table under a
// freshly minted ufid. Fails with CapacityExceeded once the table has
// reached its ceiling, or with MaskInvalid if mask selects a forbidden
// field (§3, §4.4).
func (t *Table) Add(unmaskedKey flowkey.Key, mask flowkey.Mask, acts actions.List, ownerWorkerID int) (*Flow, error) {
	if err := mask.Validate(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.byUfid) >= t.capacity {
		return nil, dperrors.CapacityExceeded("flowtable", "Add", "flow table is at capacity")
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, dperrors.New(dperrors.KindInvalid, "flowtable", "Add", "failed to mint ufid").Wrap(err)
	}
	var ufid [16]byte
	copy(ufid[:], id[:])
	for {
		if _, exists := t.byUfid[ufid]; !exists {
			break
		}
		id, _ = uuid.NewRandom()
		copy(ufid[:], id[:])
	}

	f := &Flow{
		UnmaskedKey:   unmaskedKey,
		Mask:          mask,
		Ufid:          ufid,
		OwnerWorkerID: ownerWorkerID,
	}
	f.actions.Store(&acts)

	masked := flowkey.Apply(&unmaskedKey, &mask)
	rule := &classifier.Rule{Key: masked, Flow: f}
	t.classifier.Insert(rule, mask)
	f.rule = rule

	t.byUfid[ufid] = f
	return f, nil
}

// Modify atomically swaps the actions-reference on the flow identified by
// ufid. The old action list is not explicitly freed (Go's GC reclaims it
// once unreferenced), matching the deferred-free discipion in spirit
// without needing an explicit epoch.Defer for a pure-value slice.
func (t *Table) Modify(ufid [16]byte, newActions actions.List) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.byUfid[ufid]
	if !ok {
		return dperrors.NotFound("flowtable", "Modify", "no such flow")
	}
	f.actions.Store(&newActions)
	return nil
}

// Remove removes the flow identified by ufid from the classifier and the
// table, and sets its dead-flag. The caller's flow-mutex serializes this
// against concurrent Add/Modify.
func (t *Table) Remove(ufid [16]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.byUfid[ufid]
	if !ok {
		return dperrors.NotFound("flowtable", "Remove", "no such flow")
	}
	t.classifier.Remove(f.rule)
	f.dead.Store(true)
	delete(t.byUfid, ufid)
	return nil
}

// Flush removes every flow in the table.
func (t *Table) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ufid, f := range t.byUfid {
		t.classifier.Remove(f.rule)
		f.dead.Store(true)
		delete(t.byUfid, ufid)
	}
}

// DumpEntry is one row of a Dump result. Actions and Stats are omitted
// when terse is requested.
type DumpEntry struct {
	Ufid          [16]byte
	Key           flowkey.Key
	Mask          flowkey.Mask
	OwnerWorkerID int
	Actions       actions.List
	Stats         Snapshot
}

// Dump returns up to limit flows starting at cursor (an opaque
// within-worker position), along with the cursor to resume from on the
// next call (0 once exhausted). Flows are visited in ascending ufid
// order, so a cursor resumes at the same position on the next call as
// long as no flow was added or removed in between; a mutation between
// calls can shift entries across the cursor (§4.4 "snapshot-consistent
// per-worker traversal").
func (t *Table) Dump(cursor uint32, terse bool, limit int) ([]DumpEntry, uint32) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 {
		limit = len(t.byUfid)
	}

	ufids := make([][16]byte, 0, len(t.byUfid))
	for u := range t.byUfid {
		ufids = append(ufids, u)
	}
	sort.Slice(ufids, func(i, j int) bool {
		return string(ufids[i][:]) < string(ufids[j][:])
	})

	if int(cursor) >= len(ufids) {
		return nil, 0
	}

	end := int(cursor) + limit
	if end > len(ufids) {
		end = len(ufids)
	}

	out := make([]DumpEntry, 0, end-int(cursor))
	for _, u := range ufids[cursor:end] {
		f := t.byUfid[u]
		e := DumpEntry{
			Ufid:          f.Ufid,
			Key:           f.UnmaskedKey,
			Mask:          f.Mask,
			OwnerWorkerID: f.OwnerWorkerID,
		}
		if !terse {
			e.Actions = f.Actions()
			e.Stats = f.Stats.Snapshot()
		}
		out = append(out, e)
	}

	next := uint32(end)
	if end >= len(ufids) {
		next = 0
	}
	return out, next
}
