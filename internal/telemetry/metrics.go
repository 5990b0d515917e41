// Package telemetry exposes the agent's own pipeline health as Prometheus
// metrics: collection cycles, send attempts, batch dispositions and buffer depth.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "vitalis_agent"

// Metrics holds every pipeline metric on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	CollectionCycles   prometheus.Counter
	CollectorErrors    *prometheus.CounterVec
	CollectionDuration prometheus.Histogram
	PendingSnapshots   prometheus.Gauge

	BatchesFlushed   prometheus.Counter
	SnapshotsFlushed prometheus.Counter

	SendAttempts  *prometheus.CounterVec
	BatchOutcomes *prometheus.CounterVec
	DrainRuns     *prometheus.CounterVec

	BufferRecords   prometheus.Gauge
	BufferBytes     prometheus.Gauge
	BufferEvictions prometheus.Counter
}

// New creates and registers all pipeline metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		CollectionCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_cycles_total",
			Help:      "Completed collection cycles.",
		}),
		CollectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_errors_total",
			Help:      "Collector failures, including deadline misses.",
		}, []string{"collector"}),
		CollectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_duration_seconds",
			Help:      "Wall time of one collection cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		PendingSnapshots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_snapshots",
			Help:      "Snapshots waiting for the next batch flush.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Batches handed to the sender.",
		}),
		SnapshotsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_flushed_total",
			Help:      "Snapshots handed to the sender.",
		}),
		SendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "HTTP ingest attempts by outcome.",
		}, []string{"outcome"}),
		BatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_outcomes_total",
			Help:      "Final disposition of each send, by state and reason.",
		}, []string{"state", "reason"}),
		DrainRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_drains_total",
			Help:      "Buffer drain runs by result.",
		}, []string{"result"}),
		BufferRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_records",
			Help:      "Batches currently held in the local buffer.",
		}),
		BufferBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_bytes",
			Help:      "Payload bytes currently held in the local buffer.",
		}),
		BufferEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_evictions_total",
			Help:      "Records evicted to stay within buffer capacity.",
		}),
	}

	m.Registry.MustRegister(
		m.CollectionCycles,
		m.CollectorErrors,
		m.CollectionDuration,
		m.PendingSnapshots,
		m.BatchesFlushed,
		m.SnapshotsFlushed,
		m.SendAttempts,
		m.BatchOutcomes,
		m.DrainRuns,
		m.BufferRecords,
		m.BufferBytes,
		m.BufferEvictions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
