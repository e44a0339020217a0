// Package driver declares the contract the core requires of an external
// NIC driver (§6). This package intentionally has no real implementation:
// the datapath core only ever talks to a driver through this interface, and
// actually driving hardware is explicitly out of scope. A FakeDriver is
// provided for tests.
package driver

import "context"

// Handle identifies a driver-opened device.
type Handle interface{}

// Packet is an opaque handle to one received or transmitted frame buffer.
type Packet interface {
	Bytes() []byte
}

// Driver is the contract a NIC driver must satisfy.
type Driver interface {
	// Open attaches to the named device of the given type and returns a
	// handle, or an error if the device is unavailable.
	Open(ctx context.Context, name, devType string) (Handle, error)

	// Close releases the handle.
	Close(h Handle) error

	// Receive returns up to maxBurst packets from rxQueue, or
	// ErrWouldBlock if none are currently available. maxBurst is capped
	// at 32 per §6.
	Receive(h Handle, rxQueue int, maxBurst int) ([]Packet, error)

	// Send transmits batch on txQueueID. If steal is true the driver takes
	// ownership of the packet buffers (the caller must not reuse them).
	Send(h Handle, txQueueID int, batch []Packet, steal bool) (sent int, err error)

	NumaID(h Handle) int
	IsPollMode(h Handle) bool
	NumRxQueues(h Handle) int

	// Reconfigure is idempotent and is invoked by the datapath run step
	// before any queue belonging to h is touched.
	Reconfigure(h Handle) error
	ReconfigureRequired(h Handle) bool

	PushTunnelHeader(h Handle, batch []Packet, data []byte) error
	PopTunnelHeader(h Handle, batch []Packet) error
}

// ErrWouldBlock is returned by Receive when no packets are currently
// available on the queue (the driver-contract analog of EAGAIN).
var ErrWouldBlock = errWouldBlock{}

type errWouldBlock struct{}

func (errWouldBlock) Error() string { return "driver: receive would block" }
