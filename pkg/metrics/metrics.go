// Package metrics exposes the agent and server processes' Prometheus
// surface: request/ingest counters, queue and fleet gauges, and the
// /health and /live endpoints both binaries serve on their internal
// metrics listener. Grounded on the teacher's pkg/metrics (same
// Handler()/Timer shape, same component-health registry), with the
// cluster-specific gauges (nodes, raft, services) replaced by netwatch's
// own.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MetricsIngestedTotal counts aggregated metric entries the server has
	// accepted, by kind.
	MetricsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netwatch_metrics_ingested_total",
			Help: "Total aggregated metric entries ingested by the server, by kind",
		},
		[]string{"kind"},
	)

	// IngestRequestDuration times the server's /api/v1/metrics handler.
	IngestRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netwatch_ingest_request_duration_seconds",
			Help:    "Time taken to process one metrics ingest request",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AgentsTotal is the fleet size by problematic-health status.
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netwatch_agents_total",
			Help: "Number of known agents by whether the latest health check flagged them problematic",
		},
		[]string{"problematic"},
	)

	// BandwidthWaitersTotal is the current bandwidth test FIFO queue depth.
	BandwidthWaitersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netwatch_bandwidth_waiters_total",
			Help: "Agents currently queued for a bandwidth test download slot",
		},
	)

	// SendQueueDepth is the agent's outbox rows not yet sent (pending,
	// sending, or failed).
	SendQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netwatch_send_queue_depth",
			Help: "Agent metric_send_queue rows not yet delivered",
		},
	)

	// SendCyclesTotal counts the agent's send attempts by outcome.
	SendCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netwatch_send_cycles_total",
			Help: "Agent send cycles by outcome (delivered, failed)",
		},
		[]string{"outcome"},
	)

	// ProbeExecutionsTotal counts probe task runs by type and result.
	ProbeExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netwatch_probe_executions_total",
			Help: "Probe task executions by task type and success/failure",
		},
		[]string{"task_type", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		MetricsIngestedTotal,
		IngestRequestDuration,
		AgentsTotal,
		BandwidthWaitersTotal,
		SendQueueDepth,
		SendCyclesTotal,
		ProbeExecutionsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing one operation and recording it to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
