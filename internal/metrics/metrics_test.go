package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWorkerLabelFormatsNonNegativeAndNonWorker(t *testing.T) {
	assert.Equal(t, "0", workerLabel(0))
	assert.Equal(t, "3", workerLabel(3))
	assert.Equal(t, "non-worker", workerLabel(-1))
}

func TestWorkerCountersIncHitAndDrop(t *testing.T) {
	wc := NewWorkerCounters(7)

	wc.IncHit("exact", 2)
	wc.IncHit("masked", 1)
	wc.IncDrop("lost", 3)

	assert.Equal(t, float64(2), testutil.ToFloat64(HitsTotal.WithLabelValues("7", "exact")))
	assert.Equal(t, float64(1), testutil.ToFloat64(HitsTotal.WithLabelValues("7", "masked")))
	assert.Equal(t, float64(3), testutil.ToFloat64(DropsTotal.WithLabelValues("7", "lost")))
}

func TestWorkerCountersGauges(t *testing.T) {
	wc := NewWorkerCounters(2)

	wc.SetBusyRatio(0.42)
	wc.SetQueueCount(5)
	wc.SetFlowTableSize(1000)

	assert.InDelta(t, 0.42, testutil.ToFloat64(BusyRatio.WithLabelValues("2")), 0.0001)
	assert.Equal(t, float64(5), testutil.ToFloat64(QueueUtilization.WithLabelValues("2")))
	assert.Equal(t, float64(1000), testutil.ToFloat64(FlowTableSize.WithLabelValues("2")))
}

func TestObserveRecircDepthDoesNotPanic(t *testing.T) {
	wc := NewWorkerCounters(0)
	wc.ObserveRecircDepth(3)
}

func TestNewServerDefaultsMetricsPath(t *testing.T) {
	s := NewServer("127.0.0.1:0", "", nil)
	assert.NotNil(t, s)
}
