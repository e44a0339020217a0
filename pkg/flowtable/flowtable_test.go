package flowtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-net/vswitchd-core/pkg/actions"
	"github.com/ssw-net/vswitchd-core/pkg/classifier"
	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
)

func ethTypeMask() flowkey.Mask {
	var m flowkey.Mask
	m.Set(flowkey.WordEthType, 0xffff)
	return m
}

func keyFor(ethType uint64) flowkey.Key {
	var k flowkey.Key
	k.Set(flowkey.WordEthType, ethType)
	return k
}

func newTable(capacity int) *Table {
	return New(1, capacity, classifier.New(nil))
}

func TestAddThenLookupResolves(t *testing.T) {
	tb := newTable(0)
	k := keyFor(0x0800)
	m := ethTypeMask()

	f, err := tb.Add(k, m, actions.List{actions.Output{Port: 1}}, 1)
	require.NoError(t, err)
	require.NotNil(t, f)

	probe := keyFor(0x0800)
	got, ok := tb.Lookup([]*flowkey.Key{&probe})
	require.True(t, ok)
	assert.Equal(t, f.Ufid, got.Ufid)
}

func TestAddRejectsForbiddenMaskField(t *testing.T) {
	tb := newTable(0)
	var m flowkey.Mask
	m.Set(flowkey.WordConnTrackState, 0xffffffff)

	_, err := tb.Add(keyFor(0x0800), m, nil, 1)
	require.Error(t, err)
	de, ok := dperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, dperrors.KindMaskInvalid, de.Kind)
}

func TestAddFailsAtCapacity(t *testing.T) {
	tb := newTable(1)
	m := ethTypeMask()

	_, err := tb.Add(keyFor(0x0800), m, nil, 1)
	require.NoError(t, err)

	_, err = tb.Add(keyFor(0x0806), m, nil, 1)
	require.Error(t, err)
	de, ok := dperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, dperrors.KindCapacityExceeded, de.Kind)
}

func TestFindByUfidReturnsInsertedFlow(t *testing.T) {
	tb := newTable(0)
	f, err := tb.Add(keyFor(0x0800), ethTypeMask(), nil, 1)
	require.NoError(t, err)

	got, ok := tb.FindByUfid(f.Ufid)
	require.True(t, ok)
	assert.Same(t, f, got)
}

func TestModifySwapsActions(t *testing.T) {
	tb := newTable(0)
	f, err := tb.Add(keyFor(0x0800), ethTypeMask(), actions.List{actions.Output{Port: 1}}, 1)
	require.NoError(t, err)

	require.NoError(t, tb.Modify(f.Ufid, actions.List{actions.Output{Port: 2}}))
	assert.Equal(t, actions.List{actions.Output{Port: 2}}, f.Actions())
}

func TestRemoveMarksDeadAndUnresolvesLookup(t *testing.T) {
	tb := newTable(0)
	f, err := tb.Add(keyFor(0x0800), ethTypeMask(), nil, 1)
	require.NoError(t, err)

	require.NoError(t, tb.Remove(f.Ufid))
	assert.True(t, f.Dead())

	probe := keyFor(0x0800)
	_, ok := tb.Lookup([]*flowkey.Key{&probe})
	assert.False(t, ok)

	_, ok = tb.FindByUfid(f.Ufid)
	assert.False(t, ok)
}

func TestFlushRemovesAllFlows(t *testing.T) {
	tb := newTable(0)
	_, err := tb.Add(keyFor(0x0800), ethTypeMask(), nil, 1)
	require.NoError(t, err)
	_, err = tb.Add(keyFor(0x0806), ethTypeMask(), nil, 1)
	require.NoError(t, err)

	tb.Flush()
	assert.Equal(t, 0, tb.Len())
}

func TestDumpPaginatesAndTerminatesCursor(t *testing.T) {
	tb := newTable(0)
	for i := uint64(0); i < 5; i++ {
		_, err := tb.Add(keyFor(0x0800+i), ethTypeMask(), nil, 1)
		require.NoError(t, err)
	}

	seen := 0
	cursor := uint32(0)
	for {
		entries, next := tb.Dump(cursor, true, 2)
		seen += len(entries)
		if next == 0 {
			break
		}
		cursor = next
	}
	assert.Equal(t, 5, seen)
}

func TestDumpTerseOmitsActionsAndStats(t *testing.T) {
	tb := newTable(0)
	_, err := tb.Add(keyFor(0x0800), ethTypeMask(), actions.List{actions.Output{Port: 1}}, 1)
	require.NoError(t, err)

	entries, _ := tb.Dump(0, true, 0)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Actions)
}

func TestBatchAppendAndTakeClears(t *testing.T) {
	tb := newTable(0)
	f, err := tb.Add(keyFor(0x0800), ethTypeMask(), nil, 1)
	require.NoError(t, err)

	f.AppendBatch(actions.Packet{Data: []byte("a")})
	f.AppendBatch(actions.Packet{Data: []byte("b")})

	batch := f.TakeBatch()
	assert.Len(t, batch, 2)
	assert.Empty(t, f.TakeBatch())
}

func TestStatsUpdateAccumulates(t *testing.T) {
	var s Stats
	s.Update(100, 1, 64, 0x02)
	s.Update(200, 2, 128, 0x10)

	snap := s.Snapshot()
	assert.EqualValues(t, 3, snap.Packets)
	assert.EqualValues(t, 192, snap.Bytes)
	assert.EqualValues(t, 0x12, snap.TCPFlags)
	assert.EqualValues(t, 200, snap.LastUsedMillis)
}
