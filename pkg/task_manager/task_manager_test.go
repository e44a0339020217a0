package task_manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu         sync.Mutex
	busyRatio  map[int]float64
	queueCount map[int]int
	flowTable  map[int]int
	portsTotal int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		busyRatio:  make(map[int]float64),
		queueCount: make(map[int]int),
		flowTable:  make(map[int]int),
	}
}

func (s *fakeSink) SetBusyRatio(workerID int, ratio float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busyRatio[workerID] = ratio
}

func (s *fakeSink) SetQueueCount(workerID int, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueCount[workerID] = n
}

func (s *fakeSink) SetFlowTableSize(workerID int, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowTable[workerID] = n
}

func (s *fakeSink) SetPortsTotal(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portsTotal = n
}

func (s *fakeSink) snapshot() (map[int]float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]float64, len(s.busyRatio))
	for k, v := range s.busyRatio {
		out[k] = v
	}
	return out, s.portsTotal
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestManagerPublishesSampledStats(t *testing.T) {
	sink := newFakeSink()
	fetch := func() ([]WorkerSample, int, error) {
		return []WorkerSample{
			{ID: 0, BusyRatio: 0.5, QueueCount: 2, FlowTableSize: 10},
			{ID: 1, BusyRatio: 0.25, QueueCount: 1, FlowTableSize: 5},
		}, 3, nil
	}

	m := New(Config{Interval: 10 * time.Millisecond}, fetch, sink, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() {
		cancel()
		m.Stop()
	}()

	require.Eventually(t, func() bool {
		ratios, ports := sink.snapshot()
		return len(ratios) == 2 && ports == 3
	}, time.Second, 10*time.Millisecond)

	ratios, _ := sink.snapshot()
	assert.Equal(t, 0.5, ratios[0])
	assert.Equal(t, 0.25, ratios[1])

	stats := m.Stats()
	assert.Greater(t, stats.Runs, int64(0))
	assert.Equal(t, int64(0), stats.Errors)
	assert.Equal(t, 2, stats.WorkersLastRun)
}

func TestManagerRecordsFetchErrors(t *testing.T) {
	sink := newFakeSink()
	fetch := func() ([]WorkerSample, int, error) {
		return nil, 0, assert.AnError
	}

	m := New(Config{Interval: 10 * time.Millisecond}, fetch, sink, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	defer func() {
		cancel()
		m.Stop()
	}()

	require.Eventually(t, func() bool {
		return m.Stats().Errors > 0
	}, time.Second, 10*time.Millisecond)

	stats := m.Stats()
	assert.NotEmpty(t, stats.LastError)
}

func TestManagerStopWaitsForGoroutine(t *testing.T) {
	sink := newFakeSink()
	fetch := func() ([]WorkerSample, int, error) { return nil, 0, nil }

	m := New(Config{Interval: 5 * time.Millisecond}, fetch, sink, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	m.Stop()
}

func TestDefaultIntervalApplied(t *testing.T) {
	m := New(Config{}, func() ([]WorkerSample, int, error) { return nil, 0, nil }, newFakeSink(), testLogger())
	assert.Equal(t, 2*time.Second, m.interval)
}
