package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReclaimWaitsForAllObservers(t *testing.T) {
	d := New()
	d.RegisterObserver(1)
	d.RegisterObserver(2)

	freed := false
	d.Defer(func() { freed = true })

	// Neither worker has quiesced since the free was scheduled.
	assert.Equal(t, 0, d.Reclaim())
	assert.False(t, freed)

	d.Quiesce(1)
	assert.Equal(t, 0, d.Reclaim())
	assert.False(t, freed)

	d.Quiesce(2)
	assert.Equal(t, 1, d.Reclaim())
	assert.True(t, freed)
}

func TestReclaimIgnoresUnregisteredObservers(t *testing.T) {
	d := New()
	d.RegisterObserver(1)
	d.RegisterObserver(2)

	freed := false
	d.Defer(func() { freed = true })

	d.Quiesce(1)
	d.UnregisterObserver(2)
	assert.Equal(t, 1, d.Reclaim())
	assert.True(t, freed)
}

func TestDeferAfterQuiesceRequiresFreshQuiesce(t *testing.T) {
	d := New()
	d.RegisterObserver(1)
	d.Quiesce(1)

	freedA := false
	d.Defer(func() { freedA = true })
	assert.Equal(t, 0, d.Reclaim(), "worker hasn't quiesced since this free was scheduled")

	d.Quiesce(1)
	assert.Equal(t, 1, d.Reclaim())
	assert.True(t, freedA)
}

func TestNoObserversReclaimsImmediately(t *testing.T) {
	d := New()
	freed := false
	d.Defer(func() { freed = true })
	assert.Equal(t, 1, d.Reclaim())
	assert.True(t, freed)
}
