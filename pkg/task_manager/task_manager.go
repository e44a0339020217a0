// Package task_manager runs the datapath root's periodic maintenance task
// (§4.7's "run" operation, the part of it that is root-level rather than
// per-worker): sampling worker busy-ratio, queue assignment, and flow-table
// occupancy, plus the registered port count, and publishing them through a
// Sink. Grounded on the teacher's named-task registry with a
// heartbeat/cleanup ticker loop (pkg/task_manager/task_manager.go),
// narrowed from an arbitrary-function task registry down to the one
// recurring sampling task the root needs; the per-worker EMC
// sweep/epoch-quiescence/reload-check maintenance already lives in each
// worker's own poll loop (§4.6) and has no business here.
package task_manager

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerSample is one worker's point-in-time stats.
type WorkerSample struct {
	ID            int
	BusyRatio     float64
	QueueCount    int
	FlowTableSize int
}

// StatFetcher gathers a fresh sample of every running worker plus the
// registered port count. It is satisfied by a closure over
// internal/datapath.Datapath's WorkerIDs/WorkerStats/Ports.
type StatFetcher func() (workers []WorkerSample, portsTotal int, err error)

// Sink publishes sampled stats. It is satisfied by an adapter over
// internal/metrics's gauge vectors.
type Sink interface {
	SetBusyRatio(workerID int, ratio float64)
	SetQueueCount(workerID int, n int)
	SetFlowTableSize(workerID int, n int)
	SetPortsTotal(n int)
}

// Config configures the sampling cadence.
type Config struct {
	Interval time.Duration `yaml:"interval"`
}

// Stats reports the sampler's run history, mirroring the task-level
// state/heartbeat fields the teacher's task struct tracked per task.
type Stats struct {
	Runs           int64
	Errors         int64
	LastRunAt      time.Time
	LastError      string
	WorkersLastRun int
}

// Manager runs one recurring sampling task.
type Manager struct {
	interval time.Duration
	fetch    StatFetcher
	sink     Sink
	logger   *logrus.Logger

	mu     sync.Mutex
	stats  Stats
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a sampler. fetch and sink must be non-nil.
func New(config Config, fetch StatFetcher, sink Sink, logger *logrus.Logger) *Manager {
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{interval: config.Interval, fetch: fetch, sink: sink, logger: logger}
}

// Start begins sampling in the background.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx)
}

// Stop halts sampling and waits for the background goroutine to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Stats returns a snapshot of the sampler's run history.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Manager) sample() {
	workers, portsTotal, err := m.fetch()

	m.mu.Lock()
	m.stats.Runs++
	m.stats.LastRunAt = time.Now()
	if err != nil {
		m.stats.Errors++
		m.stats.LastError = err.Error()
	} else {
		m.stats.LastError = ""
		m.stats.WorkersLastRun = len(workers)
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.WithError(err).Warn("stats sample failed")
		return
	}

	for _, w := range workers {
		m.sink.SetBusyRatio(w.ID, w.BusyRatio)
		m.sink.SetQueueCount(w.ID, w.QueueCount)
		m.sink.SetFlowTableSize(w.ID, w.FlowTableSize)
	}
	m.sink.SetPortsTotal(portsTotal)
}
