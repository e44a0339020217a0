// Package upcall implements the externally-consumed upcall contract (§6)
// and the gate that enables/disables it. The gate is a plain RWMutex where
// the writer side (held during control-plane revalidator synchronization)
// excludes all readers: while held, every upcall attempt fails immediately
// with GateClosed and the packet is counted as lost. Grounded on the
// teacher's circuit breaker for the RWMutex-plus-callback idiom, simplified
// to a plain gate since this boundary has no failure-threshold state
// machine of its own.
package upcall

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
)

// Kind distinguishes why the upcall is being made.
type Kind int

const (
	KindMiss Kind = iota
	KindAction
)

// Request carries everything the upcall callback needs per §6.
type Request struct {
	Packet   []byte
	Fields   flowkey.Key
	Mask     flowkey.Mask
	Ufid     [16]byte
	WorkerID int
	Kind     Kind
	Userdata []byte
}

// Response is what a successful upcall returns. Actions and InstallActions
// are left untyped (any) so this package does not need to import the
// action-list type: callers type-assert into pkg/actions.List.
type Response struct {
	Actions        any
	InstallActions any
	InstallMask    any
	HaveInstall    bool
}

// Callback is the control-plane handler registered with a Gate.
type Callback func(ctx context.Context, req Request) (Response, error)

// Gate mediates access to the upcall callback. Reading (TryUpcall) never
// blocks: it either acquires the read side immediately or fails with
// GateClosed. Writing (Close/Open) is used by the control plane around
// revalidator synchronization.
type Gate struct {
	mu       sync.RWMutex
	callback Callback
	tracer   trace.Tracer
}

// NewGate creates a Gate with no callback registered. Upcalls fail with
// ErrGateClosed until SetCallback is called.
func NewGate() *Gate {
	return &Gate{tracer: otel.Tracer("vswitchd-core/upcall")}
}

// SetCallback installs the control-plane handler.
func (g *Gate) SetCallback(cb Callback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callback = cb
}

// Close acquires the write side, disabling all upcalls until Open is
// called. Used while the control plane revalidates installed flows.
func (g *Gate) Close() { g.mu.Lock() }

// Open releases the write side.
func (g *Gate) Open() { g.mu.Unlock() }

// ErrGateClosed is returned by TryUpcall when the write side is held or no
// callback is registered.
var ErrGateClosed = gateClosedError{}

type gateClosedError struct{}

func (gateClosedError) Error() string { return "upcall: gate closed" }

// TryUpcall attempts to invoke the registered callback under the gate's
// read side. It never blocks waiting for the writer: if the read side is
// unavailable, or no callback is registered, it returns ErrGateClosed
// immediately and the caller must count the packet as lost.
func (g *Gate) TryUpcall(ctx context.Context, req Request) (Response, error) {
	if !g.mu.TryRLock() {
		return Response{}, ErrGateClosed
	}
	defer g.mu.RUnlock()

	cb := g.callback
	if cb == nil {
		return Response{}, ErrGateClosed
	}

	ctx, span := g.tracer.Start(ctx, "upcall.dispatch",
		trace.WithAttributes())
	defer span.End()

	resp, err := cb(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}
	return resp, nil
}
