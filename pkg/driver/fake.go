package driver

import (
	"context"
	"sync"
)

// BytesPacket is the trivial Packet implementation FakeDriver hands back.
type BytesPacket []byte

func (p BytesPacket) Bytes() []byte { return p }

type fakeHandle struct {
	name     string
	devType  string
	numa     int
	pollMode bool
	rxQueues [][]Packet // one inbound queue of pending packets per rx queue
	sent     [][]Packet // one outbound log per tx queue
	mu       sync.Mutex
}

// FakeDriver is a minimal in-memory Driver used by tests and as the driver
// behind every port of cmd/datapath (also datapath.New's fallback when no
// driver is given). Grounded on the teacher's
// simplest sink (a direct, dependency-free reference implementation of an
// external interface) rather than any real hardware binding.
type FakeDriver struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
}

// NewFakeDriver creates an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{handles: make(map[string]*fakeHandle)}
}

func (d *FakeDriver) Open(_ context.Context, name, devType string) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := &fakeHandle{
		name:     name,
		devType:  devType,
		pollMode: true,
		rxQueues: make([][]Packet, 1),
		sent:     make([][]Packet, 1),
	}
	d.handles[name] = h
	return h, nil
}

func (d *FakeDriver) Close(h Handle) error {
	fh := h.(*fakeHandle)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handles, fh.name)
	return nil
}

// Enqueue adds packets to rxQueue's pending buffer, for tests to simulate
// inbound traffic.
func (d *FakeDriver) Enqueue(h Handle, rxQueue int, packets ...[]byte) {
	fh := h.(*fakeHandle)
	fh.mu.Lock()
	defer fh.mu.Unlock()
	for len(fh.rxQueues) <= rxQueue {
		fh.rxQueues = append(fh.rxQueues, nil)
	}
	for _, p := range packets {
		fh.rxQueues[rxQueue] = append(fh.rxQueues[rxQueue], BytesPacket(p))
	}
}

func (d *FakeDriver) Receive(h Handle, rxQueue int, maxBurst int) ([]Packet, error) {
	fh := h.(*fakeHandle)
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if rxQueue >= len(fh.rxQueues) || len(fh.rxQueues[rxQueue]) == 0 {
		return nil, ErrWouldBlock
	}
	n := maxBurst
	if n > len(fh.rxQueues[rxQueue]) {
		n = len(fh.rxQueues[rxQueue])
	}
	if n > 32 {
		n = 32
	}
	burst := fh.rxQueues[rxQueue][:n]
	fh.rxQueues[rxQueue] = fh.rxQueues[rxQueue][n:]
	return burst, nil
}

func (d *FakeDriver) Send(h Handle, txQueueID int, batch []Packet, steal bool) (int, error) {
	fh := h.(*fakeHandle)
	fh.mu.Lock()
	defer fh.mu.Unlock()
	for len(fh.sent) <= txQueueID {
		fh.sent = append(fh.sent, nil)
	}
	fh.sent[txQueueID] = append(fh.sent[txQueueID], batch...)
	return len(batch), nil
}

// Sent returns everything transmitted on txQueueID so far, for assertions.
func (d *FakeDriver) Sent(h Handle, txQueueID int) []Packet {
	fh := h.(*fakeHandle)
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if txQueueID >= len(fh.sent) {
		return nil
	}
	return fh.sent[txQueueID]
}

func (d *FakeDriver) NumaID(h Handle) int { return h.(*fakeHandle).numa }

func (d *FakeDriver) SetNumaID(h Handle, numa int) { h.(*fakeHandle).numa = numa }

func (d *FakeDriver) IsPollMode(h Handle) bool { return h.(*fakeHandle).pollMode }

func (d *FakeDriver) NumRxQueues(h Handle) int {
	fh := h.(*fakeHandle)
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return len(fh.rxQueues)
}

func (d *FakeDriver) Reconfigure(h Handle) error        { return nil }
func (d *FakeDriver) ReconfigureRequired(h Handle) bool { return false }

func (d *FakeDriver) PushTunnelHeader(h Handle, batch []Packet, data []byte) error {
	return nil
}

func (d *FakeDriver) PopTunnelHeader(h Handle, batch []Packet) error {
	return nil
}
