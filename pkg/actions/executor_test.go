package actions

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
)

type fakeTransmitter struct {
	sent map[uint32][][]byte
}

func newFakeTransmitter() *fakeTransmitter {
	return &fakeTransmitter{sent: make(map[uint32][][]byte)}
}

func (f *fakeTransmitter) Transmit(port, txQueueID uint32, frames [][]byte) (int, error) {
	f.sent[port] = append(f.sent[port], frames...)
	return len(frames), nil
}

type fakeRecirculator struct {
	calls int
	depth int
}

func (f *fakeRecirculator) Recirculate(packets []Packet, inPort uint32, depth int) {
	f.calls++
	f.depth = depth
}

type fakeCounters struct {
	drops map[string]int
}

func newFakeCounters() *fakeCounters { return &fakeCounters{drops: make(map[string]int)} }

func (f *fakeCounters) IncDrop(reason string, n int) { f.drops[reason] += n }
func (f *fakeCounters) IncHit(kind string, n int)    {}
func (f *fakeCounters) ObserveRecircDepth(depth int) {}

func newTestExecutor() (*Executor, *fakeTransmitter, *fakeRecirculator, *fakeCounters) {
	tx := newFakeTransmitter()
	recirc := &fakeRecirculator{}
	counts := newFakeCounters()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	e := &Executor{
		TxQueueID: 0,
		MaxDepth:  5,
		Tx:        tx,
		Recirc:    recirc,
		Counts:    counts,
		Logger:    logger,
	}
	return e, tx, recirc, counts
}

func TestExecuteOutputTransmits(t *testing.T) {
	e, tx, _, _ := newTestExecutor()
	pkts := []Packet{{Data: []byte("p1")}, {Data: []byte("p2")}}
	e.Execute(List{Output{Port: 7}}, pkts, 0)
	assert.Len(t, tx.sent[7], 2)
}

func TestRecirculateBelowMaxDepthProceeds(t *testing.T) {
	e, _, recirc, counts := newTestExecutor()
	pkts := []Packet{{Data: []byte("p1")}}
	e.Execute(List{Recirculate{ID: 99}}, pkts, 0)
	assert.Equal(t, 1, recirc.calls)
	assert.Equal(t, 1, recirc.depth)
	assert.Zero(t, counts.drops["recirc_depth"])
}

// Scenario C, final step: a Recirculate action reached at MAX_DEPTH drops
// the packet instead of re-entering the pipeline.
func TestRecirculateAtMaxDepthDrops(t *testing.T) {
	e, _, recirc, counts := newTestExecutor()
	pkts := []Packet{{Data: []byte("p1")}}
	e.Execute(List{Recirculate{ID: 99}}, pkts, e.MaxDepth)
	assert.Equal(t, 0, recirc.calls)
	assert.Equal(t, 1, counts.drops["recirc_depth"])
}

func TestConntrackActionDrops(t *testing.T) {
	e, _, _, counts := newTestExecutor()
	pkts := []Packet{{Data: []byte("p1")}}
	e.Execute(List{Conntrack{}}, pkts, 0)
	assert.Equal(t, 1, counts.drops["unsupported_action"])
}

func TestSetOverwritesKeyWord(t *testing.T) {
	e, _, _, _ := newTestExecutor()
	pkts := []Packet{{}}
	e.Execute(List{Set{Word: flowkey.WordIPProto, Value: 6}}, pkts, 0)
	assert.True(t, pkts[0].Key.Has(flowkey.WordIPProto))
	assert.EqualValues(t, 6, pkts[0].Key.Words[flowkey.WordIPProto])
}

func TestSampleAppliesNestedActionsToPartialFractionOfBatch(t *testing.T) {
	e, tx, _, _ := newTestExecutor()
	pkts := make([]Packet, 2000)
	for i := range pkts {
		pkts[i] = Packet{Data: []byte("p")}
	}

	e.Execute(List{Sample{Probability: 1 << 30, Actions: List{Output{Port: 1}}}}, pkts, 0)

	sent := len(tx.sent[1])
	assert.Greater(t, sent, 0, "expected some packets to be sampled")
	assert.Less(t, sent, len(pkts), "expected probability 1<<30 (25%%) to exclude some packets")
}

func TestSampleZeroProbabilityAppliesToNoPackets(t *testing.T) {
	e, tx, _, _ := newTestExecutor()
	pkts := []Packet{{Data: []byte("p1")}, {Data: []byte("p2")}}

	e.Execute(List{Sample{Probability: 0, Actions: List{Output{Port: 1}}}}, pkts, 0)

	assert.Len(t, tx.sent[1], 0)
}

func TestHashActionIsNoop(t *testing.T) {
	e, tx, _, counts := newTestExecutor()
	pkts := []Packet{{Data: []byte("p1")}}
	e.Execute(List{Hash{Algorithm: "l4"}}, pkts, 0)
	assert.Empty(t, tx.sent)
	assert.Zero(t, counts.drops["unsupported_action"])
}

func TestRejectConntrackInstall(t *testing.T) {
	err := RejectConntrackInstall(List{Output{Port: 1}, Conntrack{}})
	require.Error(t, err)
}

func TestRejectConntrackInstallAllowsOtherActions(t *testing.T) {
	err := RejectConntrackInstall(List{Output{Port: 1}})
	require.NoError(t, err)
}
