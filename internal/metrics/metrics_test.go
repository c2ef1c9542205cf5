package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesprial/readings/internal/usage"
)

func Test_Metrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TaskTriggered("a", "POWER")
		m.ActionFailed("a", "POWER")
		m.TransportMode("push")
		m.Reconnect()
		m.PollFallback()
		m.PollError()
		m.ObserveUsage(usage.Snapshot{})
		m.TasksLoaded(3)
	})
}

func Test_Metrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TaskTriggered("hot", "POWER")
	m.TaskTriggered("hot", "POWER")
	m.ActionFailed("hot", "POWER")
	m.Reconnect()
	m.PollFallback()
	m.PollError()
	m.PollError()
	m.TasksLoaded(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.triggers.WithLabelValues("hot", "POWER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actionFailures.WithLabelValues("hot", "POWER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pollErrors))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.tasksLoaded))
}

func Test_Metrics_TransportModeIsExclusive(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TransportMode("push")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transportMode.WithLabelValues("push")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.transportMode.WithLabelValues("poll")))

	m.TransportMode("poll")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.transportMode.WithLabelValues("push")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transportMode.WithLabelValues("poll")))

	m.TransportMode("")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.transportMode.WithLabelValues("poll")))
}

func Test_Metrics_ObserveUsage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveUsage(usage.Snapshot{CPUPercent: 42.5, MemoryBytes: 1024, DiskBytes: 2048})

	assert.Equal(t, 42.5, testutil.ToFloat64(m.usage.WithLabelValues("cpu")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.usage.WithLabelValues("memory")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.usage.WithLabelValues("disk")))

	n, err := testutil.GatherAndCount(reg, "readings_node_usage")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
