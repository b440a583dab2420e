package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	require.WithinDuration(t, time.Now(), timer.start, time.Second)
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	require.GreaterOrEqual(t, timer.Duration(), 5*time.Millisecond)
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_timer_observe_histogram"})
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDuration(h)

	var m dto.Metric
	require.NoError(t, h.Write(&m))
	require.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	require.Greater(t, m.GetHistogram().GetSampleSum(), 0.0)
}

func TestTimerMultipleObservations(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_timer_multi_histogram"})
	for i := 0; i < 3; i++ {
		timer := NewTimer()
		timer.ObserveDuration(h)
	}

	var m dto.Metric
	require.NoError(t, h.Write(&m))
	require.Equal(t, uint64(3), m.GetHistogram().GetSampleCount())
}
