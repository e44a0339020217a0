// Package classifier implements the tuple-space classifier (C3, "DPCLS"):
// an ordered collection of mask-partitioned subtables, looked up by
// batched, grouped probing. There is no rule priority: any matching rule is
// an acceptable result (§4.3).
package classifier

import (
	"sync"
	"sync/atomic"

	"github.com/ssw-net/vswitchd-core/pkg/epoch"
	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
)

// GroupSize is the hot-path batch width: lookups process this many
// unresolved probes per pass over a subtable, matching the spec's declared
// default group width.
const GroupSize = 16

// Rule is a (key, mask-reference) pair plus an opaque back-pointer to the
// owner's flow record. Flow is deliberately untyped (any) so this package
// does not need to import the flow-table package that embeds Rule inline
// in its flow records — the caller is responsible for the type assertion.
type Rule struct {
	Key  flowkey.Key
	Flow any

	mask       *flowkey.Mask
	subtable   *subtable
	bucketHash uint32
}

// Mask returns the mask of the subtable this rule lives in, or nil if the
// rule has not been inserted yet.
func (r *Rule) Mask() *flowkey.Mask { return r.mask }

type subtable struct {
	mask     flowkey.Mask
	maskHash uint32
	buckets  atomic.Pointer[map[uint32][]*Rule]
	ruleCount int64

	hits   uint64
	misses uint64
}

func newSubtable(mask flowkey.Mask) *subtable {
	st := &subtable{mask: mask, maskHash: flowkey.MaskHash(&mask)}
	empty := map[uint32][]*Rule{}
	st.buckets.Store(&empty)
	return st
}

func (st *subtable) empty() bool {
	return atomic.LoadInt64(&st.ruleCount) == 0
}

func (st *subtable) insertRule(hash uint32, r *Rule) {
	old := *st.buckets.Load()
	next := make(map[uint32][]*Rule, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	bucket := append([]*Rule{}, next[hash]...)
	next[hash] = append(bucket, r)
	st.buckets.Store(&next)

	r.subtable = st
	r.mask = &st.mask
	r.bucketHash = hash
	atomic.AddInt64(&st.ruleCount, 1)
}

func (st *subtable) removeRule(r *Rule) {
	old := *st.buckets.Load()
	bucket := old[r.bucketHash]
	next := make(map[uint32][]*Rule, len(old))
	for k, v := range old {
		next[k] = v
	}
	kept := make([]*Rule, 0, len(bucket))
	for _, x := range bucket {
		if x != r {
			kept = append(kept, x)
		}
	}
	if len(kept) == 0 {
		delete(next, r.bucketHash)
	} else {
		next[r.bucketHash] = kept
	}
	st.buckets.Store(&next)
	atomic.AddInt64(&st.ruleCount, -1)
}

// lookupBucket is the reader-side path: a single atomic load, no locking.
func (st *subtable) lookupBucket(hash uint32) []*Rule {
	m := *st.buckets.Load()
	return m[hash]
}

// Classifier is the per-worker DPCLS instance.
type Classifier struct {
	writerMu sync.Mutex

	subtables atomic.Pointer[[]*subtable]
	byMask    atomic.Pointer[map[uint32]*subtable]

	epoch *epoch.Domain
}

// New creates an empty classifier. dom may be nil, in which case subtable
// teardown happens immediately instead of being deferred (useful in tests
// that don't model worker quiescence).
func New(dom *epoch.Domain) *Classifier {
	c := &Classifier{epoch: dom}
	empty := []*subtable{}
	emptyMask := map[uint32]*subtable{}
	c.subtables.Store(&empty)
	c.byMask.Store(&emptyMask)
	return c
}

func (c *Classifier) findSubtable(mask *flowkey.Mask) *subtable {
	hash := flowkey.MaskHash(mask)
	m := *c.byMask.Load()
	for h, st := range m {
		if h == hash && flowkey.MaskEqual(&st.mask, mask) {
			return st
		}
	}
	return nil
}

// Insert locates or creates the subtable whose mask equals mask, pins
// rule.mask-ref to it, and inserts rule into the bucket selected by
// HashInMask(rule.Key, mask). New subtables are published into the
// classifier's ordered list atomically so concurrent readers never observe
// a partially-initialized subtable.
func (c *Classifier) Insert(rule *Rule, mask flowkey.Mask) {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	st := c.findSubtable(&mask)
	if st == nil {
		st = newSubtable(mask)
		oldList := *c.subtables.Load()
		newList := append(append([]*subtable{}, oldList...), st)
		c.subtables.Store(&newList)

		oldMask := *c.byMask.Load()
		newMask := make(map[uint32]*subtable, len(oldMask)+1)
		for k, v := range oldMask {
			newMask[k] = v
		}
		newMask[st.maskHash] = st
		c.byMask.Store(&newMask)
	}

	hash := flowkey.HashInMask(&rule.Key, &st.mask)
	st.insertRule(hash, rule)
}

// Remove removes rule from the subtable recorded in its mask-ref. If the
// subtable becomes empty, it is unpublished from the ordered list and its
// teardown is scheduled for when every worker has next quiesced.
func (c *Classifier) Remove(rule *Rule) {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	st := rule.subtable
	if st == nil {
		return
	}
	st.removeRule(rule)
	if !st.empty() {
		return
	}

	oldList := *c.subtables.Load()
	newList := make([]*subtable, 0, len(oldList))
	for _, s := range oldList {
		if s != st {
			newList = append(newList, s)
		}
	}
	c.subtables.Store(&newList)

	oldMask := *c.byMask.Load()
	newMask := make(map[uint32]*subtable, len(oldMask))
	for k, v := range oldMask {
		if v != st {
			newMask[k] = v
		}
	}
	c.byMask.Store(&newMask)

	if c.epoch != nil {
		c.epoch.Defer(func() {})
	}
}

// Lookup resolves a batch of probe keys against every subtable in order.
// It returns one rule per probe (nil where unresolved) and whether every
// probe was resolved. Processing is grouped into fixed-width passes of
// GroupSize unresolved probes per subtable, matching the hot-path batching
// constant in §4.3; grouping affects only cost, never the result.
func (c *Classifier) Lookup(probes []*flowkey.Key) ([]*Rule, bool) {
	n := len(probes)
	rules := make([]*Rule, n)
	unresolved := make([]bool, n)
	remaining := n
	for i := range unresolved {
		unresolved[i] = true
	}

	subtables := *c.subtables.Load()
	for _, st := range subtables {
		if remaining == 0 {
			break
		}
		for groupStart := 0; groupStart < n; groupStart += GroupSize {
			groupEnd := groupStart + GroupSize
			if groupEnd > n {
				groupEnd = n
			}
			for i := groupStart; i < groupEnd; i++ {
				if !unresolved[i] {
					continue
				}
				hash := flowkey.HashInMask(probes[i], &st.mask)
				bucket := st.lookupBucket(hash)
				matched := false
				for _, r := range bucket {
					if flowkey.MatchesInMask(&r.Key, &st.mask, probes[i]) {
						rules[i] = r
						unresolved[i] = false
						remaining--
						matched = true
						break
					}
				}
				if matched {
					atomic.AddUint64(&st.hits, 1)
				} else {
					atomic.AddUint64(&st.misses, 1)
				}
			}
		}
	}

	return rules, remaining == 0
}

// Sort reorders the subtable list by ascending hit-miss ratio so that
// subtables that resolve more probes are tried first on subsequent
// lookups. This is a best-effort cost optimization only: lookup results
// never depend on subtable order, only lookup cost does. Callers must not
// rely on any particular order surviving a Sort call.
func (c *Classifier) Sort() {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	old := *c.subtables.Load()
	sorted := append([]*subtable{}, old...)
	for i := 1; i < len(sorted); i++ {
		j := i
		for j > 0 && ratio(sorted[j]) < ratio(sorted[j-1]) {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			j--
		}
	}
	c.subtables.Store(&sorted)
}

func ratio(st *subtable) float64 {
	hits := atomic.LoadUint64(&st.hits)
	misses := atomic.LoadUint64(&st.misses)
	if hits+misses == 0 {
		return 0
	}
	return float64(misses) / float64(hits+misses)
}

// SubtableCount reports the number of live subtables, for tests and
// management introspection.
func (c *Classifier) SubtableCount() int {
	return len(*c.subtables.Load())
}
