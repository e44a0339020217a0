package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-net/vswitchd-core/pkg/actions"
	"github.com/ssw-net/vswitchd-core/pkg/driver"
	"github.com/ssw-net/vswitchd-core/pkg/portset"
	"github.com/ssw-net/vswitchd-core/pkg/upcall"
)

func udpFrame(srcPort, dstPort uint16) []byte {
	frame := make([]byte, 42)
	copy(frame[0:6], []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa})
	copy(frame[6:12], []byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb})
	frame[12] = 0x08
	frame[13] = 0x00
	frame[14] = 0x45
	frame[23] = 17 // UDP
	copy(frame[26:30], []byte{10, 0, 0, 1})
	copy(frame[30:34], []byte{10, 0, 0, 2})
	frame[34] = byte(srcPort >> 8)
	frame[35] = byte(srcPort)
	frame[36] = byte(dstPort >> 8)
	frame[37] = byte(dstPort)
	return frame
}

func newTestWorker(t *testing.T, gate *upcall.Gate) (*Worker, *portset.Set, *driver.FakeDriver) {
	t.Helper()
	ports := portset.New()
	fd := driver.NewFakeDriver()
	w := New(Config{ID: 1, TxQueue: 0}, ports, fd, gate, nil, nil, nil)
	return w, ports, fd
}

func TestPipelineMissInstallsFlowThenHitsEMC(t *testing.T) {
	gate := upcall.NewGate()
	installed := false
	gate.SetCallback(func(ctx context.Context, req upcall.Request) (upcall.Response, error) {
		installed = true
		return upcall.Response{
			Actions:        actions.List{actions.Output{Port: 7}},
			InstallActions: actions.List{actions.Output{Port: 7}},
			HaveInstall:    true,
		}, nil
	})

	w, ports, fd := newTestWorker(t, gate)
	h, err := fd.Open(context.Background(), "eth0", "test")
	require.NoError(t, err)
	_, err = ports.Add("eth0", 7, &portset.Port{Handle: h, PollMode: true})
	require.NoError(t, err)

	w.Pipeline([][]byte{udpFrame(1000, 80)}, 1)
	assert.True(t, installed)
	assert.Equal(t, 1, w.Flows().Len())
	assert.Len(t, fd.Sent(h, 0), 1)

	installed = false
	w.Pipeline([][]byte{udpFrame(1000, 80)}, 1)
	assert.False(t, installed, "second packet should hit EMC, not upcall again")
	assert.Len(t, fd.Sent(h, 0), 2)
}

type dropCounter struct{ drops map[string]int }

func (c *dropCounter) IncDrop(reason string, n int) { c.drops[reason] += n }
func (c *dropCounter) IncHit(kind string, n int)    {}
func (c *dropCounter) ObserveRecircDepth(depth int) {}

func TestPipelineMissWithoutInstallCountsLostOnGateClosed(t *testing.T) {
	gate := upcall.NewGate()
	gate.Close()
	counts := &dropCounter{drops: map[string]int{}}
	w := New(Config{ID: 1, TxQueue: 0}, portset.New(), driver.NewFakeDriver(), gate, counts, nil, nil)

	w.Pipeline([][]byte{udpFrame(1, 2)}, 1)
	assert.Equal(t, 0, w.Flows().Len())
	assert.Equal(t, 1, counts.drops["lost"])
}

func TestTransmitRoutesThroughDriver(t *testing.T) {
	gate := upcall.NewGate()
	w, ports, fd := newTestWorker(t, gate)
	h, err := fd.Open(context.Background(), "eth0", "test")
	require.NoError(t, err)
	_, err = ports.Add("eth0", 3, &portset.Port{Handle: h})
	require.NoError(t, err)

	sent, err := w.Transmit(3, 0, [][]byte{[]byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, fd.Sent(h, 0), 1)
}

func TestTransmitUnknownPortFails(t *testing.T) {
	gate := upcall.NewGate()
	w, _, _ := newTestWorker(t, gate)
	_, err := w.Transmit(99, 0, [][]byte{[]byte("x")})
	require.Error(t, err)
}

func TestEscalateReturnsActionsWithoutInstalling(t *testing.T) {
	gate := upcall.NewGate()
	gate.SetCallback(func(ctx context.Context, req upcall.Request) (upcall.Response, error) {
		assert.Equal(t, upcall.KindAction, req.Kind)
		return upcall.Response{Actions: actions.List{actions.Output{Port: 1}}}, nil
	})
	w, _, _ := newTestWorker(t, gate)

	acts, err := w.Escalate(actions.Packet{Data: udpFrame(1, 2)}, []byte("ud"))
	require.NoError(t, err)
	assert.Equal(t, actions.List{actions.Output{Port: 1}}, acts)
	assert.Equal(t, 0, w.Flows().Len())
}

func TestRequestReloadTransitionsOnMaintain(t *testing.T) {
	gate := upcall.NewGate()
	w, _, _ := newTestWorker(t, gate)
	w.state.Store(int32(StatePolling))

	w.RequestReload()
	w.maintain()
	assert.Equal(t, StateReloading, w.State())

	w.reload()
	assert.Equal(t, StatePolling, w.State())
}

func TestDrainResetsEMCAndQueues(t *testing.T) {
	gate := upcall.NewGate()
	w, _, _ := newTestWorker(t, gate)
	w.SetRxQueues([]RxQueueAssignment{{Port: 1, Queue: 0}})

	w.drain()
	assert.Equal(t, StateExited, w.State())
	assert.Empty(t, w.rxQueues)
}
