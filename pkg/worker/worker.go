// Package worker implements the poll-mode worker thread (C6): a
// POLLING/RELOADING/DRAINING state machine that owns a set of receive
// queues, a thread-local EMC, classifier, and flow table, and drives the
// ingress pipeline described in §4.6. Grounded on the teacher's
// pkg/workerpool (per-worker identity, atomic active-state, start/stop
// lifecycle) generalized from "pull tasks off a channel" to "poll owned
// receive queues", plus the state-machine steps the teacher had no
// equivalent of.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-net/vswitchd-core/pkg/actions"
	"github.com/ssw-net/vswitchd-core/pkg/classifier"
	"github.com/ssw-net/vswitchd-core/pkg/driver"
	"github.com/ssw-net/vswitchd-core/pkg/emc"
	"github.com/ssw-net/vswitchd-core/pkg/epoch"
	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
	"github.com/ssw-net/vswitchd-core/pkg/flowtable"
	"github.com/ssw-net/vswitchd-core/pkg/portset"
	"github.com/ssw-net/vswitchd-core/pkg/ratelimit"
	"github.com/ssw-net/vswitchd-core/pkg/upcall"
)

// NonCoreWorkerID is the reserved pseudo-worker id that services
// foreign-thread packet injection (e.g. the management "execute" command)
// even when no polling thread is running (§4.6 "Non-worker semantics").
const NonCoreWorkerID = -1

// State is one node of the worker state machine (§4.6).
type State int32

const (
	StateNone State = iota
	StatePolling
	StateReloading
	StateDraining
	StateExited
)

// DefaultMaintenanceInterval is how many POLLING iterations elapse between
// maintenance passes (EMC slow-sweep, epoch quiescence, reload check).
const DefaultMaintenanceInterval = 1024

// RxQueueAssignment binds one of this worker's owned receive queues to a
// port number and that port's local queue index.
type RxQueueAssignment struct {
	Port  uint32
	Queue int
}

// Snapshotter supplies a worker's rx-queue assignment when it re-enters
// RELOADING (§4.6). Implemented by the datapath root. Only the queue
// assignment is reacquired: a worker keeps no transmit-port snapshot of its
// own and resolves output ports through the shared port set on every
// transmit.
type Snapshotter interface {
	RxQueuesFor(workerID int) []RxQueueAssignment
}

// CycleStats accumulates wall-clock busy/idle time across poll iterations,
// a supplemented observability feature (SPEC_FULL) the original spec's
// "cycle-counters" field names but does not fully shape.
type CycleStats struct {
	busyNanos atomic.Int64
	idleNanos atomic.Int64
}

func (s *CycleStats) RecordBusy(d time.Duration) { s.busyNanos.Add(int64(d)) }
func (s *CycleStats) RecordIdle(d time.Duration) { s.idleNanos.Add(int64(d)) }

// Raw returns the cumulative busy/idle nanoseconds recorded so far. Never
// reset by the worker itself; a caller wanting a windowed ratio takes two
// readings and subtracts (the baseline-subtraction convention of §6).
func (s *CycleStats) Raw() (busyNanos, idleNanos int64) {
	return s.busyNanos.Load(), s.idleNanos.Load()
}

// BusyRatio returns the fraction of observed wall-clock time spent busy,
// or 0 before any cycle has been recorded.
func (s *CycleStats) BusyRatio() float64 {
	b := s.busyNanos.Load()
	i := s.idleNanos.Load()
	total := b + i
	if total == 0 {
		return 0
	}
	return float64(b) / float64(total)
}

// Config carries the per-worker construction parameters.
type Config struct {
	ID       int
	NumaID   int
	TxQueue  uint32
	MaxDepth int

	EMCShift          uint
	EMCSegs           int
	FlowTableCapacity int

	MaintenanceInterval int
}

// Worker owns a set of receive queues and drives the ingress pipeline.
// Never shares its EMC, classifier, or flow table with another worker
// (§3).
type Worker struct {
	ID       int
	NumaID   int
	TxQueue  uint32
	MaxDepth int

	state         atomic.Int32
	reloadSeq     atomic.Uint64
	appliedReload uint64
	exitLatch     atomic.Bool
	iterations    uint64
	maintEvery    int

	emc        *emc.Cache
	classifier *classifier.Classifier
	flows      *flowtable.Table
	epochDom   *epoch.Domain
	executor   *actions.Executor

	// flowMu is the worker's flow-mutex (§3): serializes Add/Modify/Remove
	// against the worker's own pipeline and any control thread installing
	// a flow under the non-worker-mutex.
	flowMu sync.Mutex

	rxQueues []RxQueueAssignment
	ports    *portset.Set
	drv      driver.Driver
	gate     *upcall.Gate
	counts   actions.Counters
	snapshot Snapshotter

	Stats  CycleStats
	Logger *logrus.Logger
}

// New constructs a worker with its own EMC, classifier, epoch domain, and
// flow table, wired to the shared port registry, driver, upcall gate, and
// counters given.
func New(cfg Config, ports *portset.Set, drv driver.Driver, gate *upcall.Gate, counts actions.Counters, limiter *ratelimit.Limiter, logger *logrus.Logger) *Worker {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 5
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if logger == nil {
		logger = logrus.New()
	}

	dom := epoch.New()
	dom.RegisterObserver(cfg.ID)
	cls := classifier.New(dom)

	w := &Worker{
		ID:         cfg.ID,
		NumaID:     cfg.NumaID,
		TxQueue:    cfg.TxQueue,
		MaxDepth:   cfg.MaxDepth,
		maintEvery: cfg.MaintenanceInterval,
		emc:        emc.New(cfg.EMCShift, cfg.EMCSegs),
		classifier: cls,
		epochDom:   dom,
		ports:      ports,
		drv:        drv,
		gate:       gate,
		counts:     counts,
		Logger:     logger,
	}
	w.flows = flowtable.New(cfg.ID, cfg.FlowTableCapacity, cls)
	w.executor = &actions.Executor{
		TxQueueID: cfg.TxQueue,
		MaxDepth:  cfg.MaxDepth,
		Tx:        w,
		Recirc:    w,
		Upcall:    w,
		Counts:    counts,
		Limiter:   limiter,
		Logger:    logger,
	}
	w.state.Store(int32(StateNone))
	return w
}

// State returns the worker's current state machine node.
func (w *Worker) State() State { return State(w.state.Load()) }

// SetRxQueues installs the worker's owned receive queues, used by the
// datapath root at creation and again after each RELOADING pass.
func (w *Worker) SetRxQueues(assignments []RxQueueAssignment) { w.rxQueues = assignments }

// RxQueues returns the worker's currently owned receive queues. Read
// racily against the worker's own poll loop, which only ever replaces the
// whole slice; callers see either the old or new assignment, never a torn
// one (§5 "reads best-effort").
func (w *Worker) RxQueues() []RxQueueAssignment { return w.rxQueues }

// SetSnapshotter installs the callback RELOADING uses to reacquire queue
// assignments from the datapath root.
func (w *Worker) SetSnapshotter(s Snapshotter) { w.snapshot = s }

// RequestReload signals the worker to leave POLLING and reacquire its
// queue assignments on its next maintenance cycle.
func (w *Worker) RequestReload() { w.reloadSeq.Add(1) }

// RequestExit sets the exit latch; the worker leaves POLLING for DRAINING
// at the start of its next poll iteration (§4.6 Cancellation).
func (w *Worker) RequestExit() { w.exitLatch.Store(true) }

// Run drives the POLLING/RELOADING/DRAINING state machine until ctx is
// canceled or RequestExit is called. Each POLLING iteration visits every
// owned receive queue once; maintenance runs every maintEvery iterations.
func (w *Worker) Run(ctx context.Context) {
	w.state.Store(int32(StatePolling))
	for {
		if ctx.Err() != nil || w.exitLatch.Load() {
			w.drain()
			return
		}

		if w.State() == StateReloading {
			w.reload()
			continue
		}

		iterStart := time.Now()
		busy := w.pollOnce()
		w.iterations++
		if w.iterations%uint64(w.maintEvery) == 0 {
			w.maintain()
		}
		if !busy {
			w.Stats.RecordIdle(time.Since(iterStart))
		}
	}
}

func (w *Worker) pollOnce() bool {
	busy := false
	for _, rq := range w.rxQueues {
		port, ok := w.ports.Get(rq.Port)
		if !ok {
			continue
		}
		pkts, err := w.drv.Receive(port.Handle, rq.Queue, 32)
		if err != nil {
			continue
		}
		if len(pkts) == 0 {
			continue
		}
		busy = true

		raw := make([][]byte, len(pkts))
		for i, p := range pkts {
			raw[i] = p.Bytes()
		}
		start := time.Now()
		w.Pipeline(raw, rq.Port)
		w.Stats.RecordBusy(time.Since(start))
	}
	return busy
}

func (w *Worker) maintain() {
	w.emc.SlowSweep()
	w.epochDom.Quiesce(w.ID)
	w.epochDom.Reclaim()
	if seq := w.reloadSeq.Load(); seq != w.appliedReload {
		w.state.Store(int32(StateReloading))
	}
}

func (w *Worker) reload() {
	if w.snapshot != nil {
		w.rxQueues = w.snapshot.RxQueuesFor(w.ID)
	}
	w.emc.Reset()
	w.appliedReload = w.reloadSeq.Load()
	w.state.Store(int32(StatePolling))
}

func (w *Worker) drain() {
	w.state.Store(int32(StateDraining))
	w.emc.Reset()
	w.rxQueues = nil
	w.state.Store(int32(StateExited))
}

// Pipeline runs the 8-step ingress pipeline (§4.6) over one received
// burst, all arriving on inPort.
func (w *Worker) Pipeline(burst [][]byte, inPort uint32) {
	pkts := make([]actions.Packet, 0, len(burst))
	for _, raw := range burst {
		key, err := flowkey.Extract(raw)
		if err != nil {
			w.countDrop("malformed_packet", 1)
			continue
		}
		pkts = append(pkts, actions.Packet{Data: raw, Key: key, InPort: inPort})
	}
	w.dispatch(pkts, inPort, 0)
}

// dispatch implements pipeline steps 2-8 for pkts at the given
// recirculation depth: EMC lookup, classifier lookup on misses, upcall
// escalation for what remains unresolved, then per-flow batch commit.
func (w *Worker) dispatch(pkts []actions.Packet, inPort uint32, depth int) {
	hitBatches := make(map[*flowtable.Flow][]actions.Packet)
	misses := make([]actions.Packet, 0, len(pkts))

	exactHits := 0
	for i := range pkts {
		p := &pkts[i]
		p.Key.Hash = flowkey.Hash(&p.Key, depth)
		if ref, ok := w.emc.Lookup(&p.Key); ok {
			if flow, ok := ref.(*flowtable.Flow); ok && !flow.Dead() {
				hitBatches[flow] = append(hitBatches[flow], *p)
				exactHits++
				continue
			}
		}
		misses = append(misses, *p)
	}
	if exactHits > 0 {
		w.countHit("exact", exactHits)
	}

	if len(misses) > 0 {
		probes := make([]*flowkey.Key, len(misses))
		for i := range misses {
			probes[i] = &misses[i].Key
		}
		rules, _ := w.classifier.Lookup(probes)

		maskedHits := 0
		unresolved := misses[:0:0]
		for i, r := range rules {
			if r != nil {
				if flow, ok := r.Flow.(*flowtable.Flow); ok && !flow.Dead() {
					w.emc.Insert(&misses[i].Key, flow)
					hitBatches[flow] = append(hitBatches[flow], misses[i])
					maskedHits++
					continue
				}
			}
			unresolved = append(unresolved, misses[i])
		}
		if maskedHits > 0 {
			w.countHit("masked", maskedHits)
		}
		misses = unresolved
	}

	if len(misses) > 0 {
		w.countHit("miss", len(misses))
	}

	for _, p := range misses {
		w.escalateMiss(p, depth)
	}

	now := nowMillis()
	for flow, batch := range hitBatches {
		w.commit(flow, batch, depth, now)
	}
}

// commit is pipeline step 8 for one flow's accumulated batch: update
// stats, then dispatch the action list.
func (w *Worker) commit(flow *flowtable.Flow, batch []actions.Packet, depth int, nowMs int64) {
	var bytes uint64
	var flags uint32
	for _, p := range batch {
		bytes += uint64(len(p.Data))
		if p.Key.Has(flowkey.WordTCPFlags) {
			flags |= uint32(p.Key.Words[flowkey.WordTCPFlags])
		}
	}
	flow.Stats.Update(nowMs, uint64(len(batch)), bytes, flags)
	w.executor.Execute(flow.Actions(), batch, depth)
}

// escalateMiss is the classifier-miss branch of §4.5's upcall path: on a
// successful upcall, the returned actions execute immediately, and if the
// callback also produced install actions, the new flow is installed under
// the flow-mutex after re-checking for a racing installer.
func (w *Worker) escalateMiss(p actions.Packet, depth int) {
	req := upcall.Request{
		Packet:   p.Data,
		Fields:   p.Key,
		WorkerID: w.ID,
		Kind:     upcall.KindMiss,
	}
	resp, err := w.gate.TryUpcall(context.Background(), req)
	if err != nil {
		w.countDrop("lost", 1)
		return
	}

	if acts, ok := resp.Actions.(actions.List); ok {
		w.executor.Execute(acts, []actions.Packet{p}, depth)
	}

	if resp.HaveInstall {
		w.installFromUpcall(p, resp)
	}
}

func (w *Worker) installFromUpcall(p actions.Packet, resp upcall.Response) {
	w.flowMu.Lock()
	defer w.flowMu.Unlock()

	probe := p.Key
	if _, ok := w.flows.Lookup([]*flowkey.Key{&probe}); ok {
		return
	}

	installActs, _ := resp.InstallActions.(actions.List)
	if err := actions.RejectConntrackInstall(installActs); err != nil {
		w.Logger.WithError(err).Warn("upcall install rejected")
		return
	}

	mask, ok := resp.InstallMask.(flowkey.Mask)
	if !ok {
		mask = exactMaskFor(p.Key)
	}

	flow, err := w.flows.Add(p.Key, mask, installActs, w.ID)
	if err != nil {
		w.Logger.WithError(err).Warn("flow install failed")
		return
	}
	w.emc.Insert(&p.Key, flow)
}

func exactMaskFor(k flowkey.Key) flowkey.Mask {
	var m flowkey.Mask
	for i := 0; i < int(flowkey.NumWords); i++ {
		w := flowkey.Word(i)
		if k.Has(w) {
			m.Set(w, ^uint64(0))
		}
	}
	return m
}

func (w *Worker) countDrop(reason string, n int) {
	if w.counts != nil {
		w.counts.IncDrop(reason, n)
	}
}

func (w *Worker) countHit(kind string, n int) {
	if w.counts != nil {
		w.counts.IncHit(kind, n)
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Transmit implements actions.Transmitter by routing to the driver handle
// registered for port.
func (w *Worker) Transmit(port uint32, txQueueID uint32, frames [][]byte) (int, error) {
	p, ok := w.ports.Get(port)
	if !ok {
		return 0, dperrors.PortNotFound("worker", "Transmit", "no such port")
	}
	batch := make([]driver.Packet, len(frames))
	for i, f := range frames {
		batch[i] = driver.BytesPacket(f)
	}
	return w.drv.Send(p.Handle, int(txQueueID), batch, true)
}

// Recirculate implements actions.Recirculator by re-entering the
// dispatch pipeline at depth, reusing each packet's current key.
func (w *Worker) Recirculate(packets []actions.Packet, inPort uint32, depth int) {
	w.dispatch(packets, inPort, depth)
}

// Escalate implements actions.Escalator for the Userspace action: invoke
// the upcall callback and return the actions it produced, with no
// flow-install side effect (installs are only performed from a classifier
// miss, per §4.5).
func (w *Worker) Escalate(pkt actions.Packet, userdata []byte) (actions.List, error) {
	req := upcall.Request{
		Packet:   pkt.Data,
		Fields:   pkt.Key,
		WorkerID: w.ID,
		Kind:     upcall.KindAction,
		Userdata: userdata,
	}
	resp, err := w.gate.TryUpcall(context.Background(), req)
	if err != nil {
		return nil, err
	}
	acts, _ := resp.Actions.(actions.List)
	return acts, nil
}

// ExecuteDebug drives the worker's executor directly with caller-supplied
// actions at the given recirculation depth, bypassing flow lookup
// entirely. Used by the management "execute single packet" debug
// operation (§4.7); never called from the ingress pipeline itself.
func (w *Worker) ExecuteDebug(acts actions.List, pkt actions.Packet, depth int) {
	w.executor.Execute(acts, []actions.Packet{pkt}, depth)
}

// Flows exposes the worker's flow table, e.g. for management dump/flush.
func (w *Worker) Flows() *flowtable.Table { return w.flows }

// EMC exposes the worker's exact-match cache, e.g. for test inspection.
func (w *Worker) EMC() *emc.Cache { return w.emc }

// Classifier exposes the worker's classifier.
func (w *Worker) Classifier() *classifier.Classifier { return w.classifier }
