// Package epoch implements the deferred-reclamation discipline described in
// §5: writers never free flow records, rules, subtables or action lists in
// place. They push frees onto a queue that drains only once every
// registered observer (worker) has announced quiescence at least once since
// the free was scheduled. This makes classifier/EMC/flow-table traversal
// lock-free for readers while still permitting a single writer to mutate.
package epoch

import "sync"

// Domain tracks deferred frees for one datapath. A worker registers itself
// as an observer on start and announces quiescence from its maintenance
// step (every ~1024 poll iterations, per §4.6); a writer schedules a free
// with Defer, and Reclaim is called periodically to run any frees every
// live observer has already quiesced past.
type Domain struct {
	mu        sync.Mutex
	seq       uint64
	observers map[int]uint64 // worker id -> last quiesced seq
	deferred  []deferredItem
}

type deferredItem struct {
	seq  uint64
	free func()
}

// New creates an empty epoch domain.
func New() *Domain {
	return &Domain{observers: make(map[int]uint64)}
}

// RegisterObserver adds a worker to the set that must quiesce before a free
// scheduled after this point can run.
func (d *Domain) RegisterObserver(workerID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers[workerID] = d.seq
}

// UnregisterObserver removes a worker (e.g. on DRAINING exit) from the
// quiescence set. Any frees pending only on that worker's observation can
// now proceed once the remaining observers quiesce.
func (d *Domain) UnregisterObserver(workerID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.observers, workerID)
}

// Quiesce is called by a worker to announce that it holds no references
// that predate this call. It advances the worker's watermark to the
// current sequence number.
func (d *Domain) Quiesce(workerID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.observers[workerID]; ok {
		d.observers[workerID] = d.seq
	}
}

// Defer schedules free to run once every currently-registered observer has
// quiesced at or past this point.
func (d *Domain) Defer(free func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.deferred = append(d.deferred, deferredItem{seq: d.seq, free: free})
}

// Reclaim runs every deferred free whose scheduling point every live
// observer has already quiesced past. It is safe to call from any thread
// holding no epoch-protected references of its own (typically the
// maintenance step of one designated worker, or the datapath root).
func (d *Domain) Reclaim() int {
	d.mu.Lock()
	minObserved := d.seq
	for _, observed := range d.observers {
		if observed < minObserved {
			minObserved = observed
		}
	}

	runnable := d.deferred[:0:0]
	remaining := d.deferred[:0:0]
	for _, item := range d.deferred {
		if item.seq <= minObserved {
			runnable = append(runnable, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	d.deferred = remaining
	d.mu.Unlock()

	for _, item := range runnable {
		item.free()
	}
	return len(runnable)
}

// Pending returns the number of frees not yet reclaimed. Used by tests and
// by management introspection.
func (d *Domain) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deferred)
}
