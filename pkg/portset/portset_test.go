package portset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
)

func TestAddAllocatesNextFreeNumber(t *testing.T) {
	s := New()
	p1, err := s.Add("eth0", 0, &Port{PollMode: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, p1.Number)

	p2, err := s.Add("eth1", 0, &Port{PollMode: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, p2.Number)
}

func TestAddRejectsDuplicateName(t *testing.T) {
	s := New()
	_, err := s.Add("eth0", 0, &Port{})
	require.NoError(t, err)
	_, err = s.Add("eth0", 0, &Port{})
	require.Error(t, err)
	de, ok := dperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, dperrors.KindPortExists, de.Kind)
}

func TestRemoveProtectsLocalPort(t *testing.T) {
	s := New()
	_, err := s.Add("local", 0, &Port{})
	require.NoError(t, err)

	err = s.Remove(1)
	require.Error(t, err)
	de, _ := dperrors.As(err)
	assert.Equal(t, dperrors.KindPortLocalProtected, de.Kind)
}

func TestRenumberMovesPort(t *testing.T) {
	s := New()
	_, err := s.Add("eth0", 12, &Port{})
	require.NoError(t, err)

	require.NoError(t, s.Renumber(12, 200))

	_, ok := s.Get(12)
	assert.False(t, ok)
	p, ok := s.Get(200)
	require.True(t, ok)
	assert.Equal(t, "eth0", p.Name)
}

func TestNumaNodesOnlyCountsWorkerEligible(t *testing.T) {
	s := New()
	_, _ = s.Add("poll0", 0, &Port{PollMode: true, NumaID: 0})
	_, _ = s.Add("irq0", 0, &Port{PollMode: false, NumaID: 1})

	nodes := s.NumaNodes()
	assert.Equal(t, []int{0}, nodes)
}
