package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-net/vswitchd-core/pkg/flowkey"
)

func ethTypeMask() flowkey.Mask {
	var m flowkey.Mask
	m.Set(flowkey.WordEthType, 0xffff)
	return m
}

func ethTypeAndProtoMask() flowkey.Mask {
	var m flowkey.Mask
	m.Set(flowkey.WordEthType, 0xffff)
	m.Set(flowkey.WordIPProto, 0xff)
	return m
}

func keyFor(ethType, proto uint64) flowkey.Key {
	var k flowkey.Key
	k.Set(flowkey.WordEthType, ethType)
	k.Set(flowkey.WordIPProto, proto)
	return k
}

func TestLookupNoRulesReturnsNotAllFound(t *testing.T) {
	c := New(nil)
	k := keyFor(0x0800, 17)
	_, allFound := c.Lookup([]*flowkey.Key{&k})
	assert.False(t, allFound)
}

func TestLookupResolvesInstalledRule(t *testing.T) {
	c := New(nil)
	m := ethTypeMask()
	k := keyFor(0x0800, 17)
	masked := flowkey.Apply(&k, &m)
	r := &Rule{Key: masked, Flow: "flow-a"}
	c.Insert(r, m)

	rules, allFound := c.Lookup([]*flowkey.Key{&k})
	require.True(t, allFound)
	assert.Equal(t, "flow-a", rules[0].Flow)
}

// Scenario F: two overlapping rules in different subtables, either match
// is acceptable — classification has no priority.
func TestOverlappingRulesEitherMatchAcceptable(t *testing.T) {
	c := New(nil)
	m1 := ethTypeMask()
	m2 := ethTypeAndProtoMask()
	k := keyFor(0x0800, 17)

	k1 := flowkey.Apply(&k, &m1)
	k2 := flowkey.Apply(&k, &m2)
	r1 := &Rule{Key: k1, Flow: "f1"}
	r2 := &Rule{Key: k2, Flow: "f2"}
	c.Insert(r1, m1)
	c.Insert(r2, m2)

	rules, allFound := c.Lookup([]*flowkey.Key{&k})
	require.True(t, allFound)
	assert.Contains(t, []string{"f1", "f2"}, rules[0].Flow)
}

func TestRemoveMakesSubtableEmptyAndUnpublished(t *testing.T) {
	c := New(nil)
	m := ethTypeMask()
	k := keyFor(0x0800, 17)
	masked := flowkey.Apply(&k, &m)
	r := &Rule{Key: masked}
	c.Insert(r, m)
	require.Equal(t, 1, c.SubtableCount())

	c.Remove(r)
	assert.Equal(t, 0, c.SubtableCount())

	_, allFound := c.Lookup([]*flowkey.Key{&k})
	assert.False(t, allFound)
}

func TestLookupBatchLargerThanGroupSize(t *testing.T) {
	c := New(nil)
	m := ethTypeMask()
	k := keyFor(0x0800, 17)
	masked := flowkey.Apply(&k, &m)
	r := &Rule{Key: masked, Flow: "f1"}
	c.Insert(r, m)

	probes := make([]*flowkey.Key, GroupSize*3+5)
	for i := range probes {
		kk := k
		probes[i] = &kk
	}
	rules, allFound := c.Lookup(probes)
	require.True(t, allFound)
	for _, rr := range rules {
		assert.Equal(t, "f1", rr.Flow)
	}
}

func TestDistinctMasksGetDistinctSubtables(t *testing.T) {
	c := New(nil)
	m1 := ethTypeMask()
	m2 := ethTypeAndProtoMask()
	k := keyFor(0x0800, 17)

	c.Insert(&Rule{Key: flowkey.Apply(&k, &m1)}, m1)
	c.Insert(&Rule{Key: flowkey.Apply(&k, &m2)}, m2)
	assert.Equal(t, 2, c.SubtableCount())
}

func TestSameMaskReusesSubtable(t *testing.T) {
	c := New(nil)
	m := ethTypeMask()
	k1 := keyFor(0x0800, 17)
	k2 := keyFor(0x86dd, 6)

	c.Insert(&Rule{Key: flowkey.Apply(&k1, &m)}, m)
	c.Insert(&Rule{Key: flowkey.Apply(&k2, &m)}, m)
	assert.Equal(t, 1, c.SubtableCount())
}
