package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-net/vswitchd-core/pkg/actions"
	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
	"github.com/ssw-net/vswitchd-core/pkg/flowtable"
)

func sampleEntries() []flowtable.DumpEntry {
	return []flowtable.DumpEntry{
		{
			Ufid:          [16]byte{1, 2, 3},
			Key:           flowkey.Key{Bitmap: 0x1, Words: [flowkey.NumWords]uint64{0xAABB}},
			Mask:          flowkey.Mask{Bitmap: 0x1, Words: [flowkey.NumWords]uint64{0xFFFF}},
			OwnerWorkerID: 2,
			Actions: actions.List{
				actions.Output{Port: 3},
				actions.Sample{Probability: 500, Actions: actions.List{actions.Recirculate{ID: 7}}},
			},
			Stats: flowtable.Snapshot{Packets: 10, Bytes: 640, TCPFlags: 0x12, LastUsedMillis: 1000},
		},
		{
			Ufid:          [16]byte{9, 9, 9},
			OwnerWorkerID: -1,
			Actions:       actions.List{actions.Conntrack{}},
		},
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	c, err := NewCodec()
	require.NoError(t, err)
	defer c.Close()

	entries := sampleEntries()
	blob, err := c.Encode(entries)
	require.NoError(t, err)
	assert.NotEmpty(t, blob)

	decoded, err := c.Decode(blob)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	assert.Equal(t, entries[0].Ufid, decoded[0].Ufid)
	assert.Equal(t, entries[0].Key, decoded[0].Key)
	assert.Equal(t, entries[0].Mask, decoded[0].Mask)
	assert.Equal(t, entries[0].OwnerWorkerID, decoded[0].OwnerWorkerID)
	assert.Equal(t, entries[0].Stats, decoded[0].Stats)
	require.Len(t, decoded[0].Actions, 2)
	assert.Equal(t, actions.Output{Port: 3}, decoded[0].Actions[0])

	sample, ok := decoded[0].Actions[1].(actions.Sample)
	require.True(t, ok)
	assert.Equal(t, uint32(500), sample.Probability)
	require.Len(t, sample.Actions, 1)
	assert.Equal(t, actions.Recirculate{ID: 7}, sample.Actions[0])

	require.Len(t, decoded[1].Actions, 1)
	assert.Equal(t, actions.Conntrack{}, decoded[1].Actions[0])
}

func TestEncodeEmptyDump(t *testing.T) {
	c, err := NewCodec()
	require.NoError(t, err)
	defer c.Close()

	blob, err := c.Encode(nil)
	require.NoError(t, err)

	decoded, err := c.Decode(blob)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeRejectsUnknownActionKind(t *testing.T) {
	c, err := NewCodec()
	require.NoError(t, err)
	defer c.Close()

	garbage := c.encoder.EncodeAll([]byte(`[{"ufid":[1,2,3],"actions":[{"kind":"nonexistent"}]}]`), nil)
	_, err = c.Decode(garbage)
	assert.Error(t, err)
}

func TestContentEncodingIsZstd(t *testing.T) {
	c, err := NewCodec()
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "zstd", c.ContentEncoding())
}
