// Package metrics counts ingestion outcomes and batch writes on a private
// Prometheus registry. A one-shot CLI run dumps it as a textfile for the
// node exporter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "batteryetl"

// Metrics implements persist.Observer
type Metrics struct {
	registry      *prometheus.Registry
	ingestions    *prometheus.CounterVec
	written       prometheus.Counter
	retries       prometheus.Counter
	failures      prometheus.Counter
	batchDuration prometheus.Histogram
}

// New creates the collectors and registers them
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Ingestions by final state.",
		}, []string{"state"}),
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_written_total",
			Help:      "Measurement rows committed.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_retries_total",
			Help:      "Storage writes retried after contention.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failures_total",
			Help:      "Measurement batches that did not commit.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to commit one measurement batch, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	m.registry.MustRegister(m.ingestions, m.written, m.retries, m.failures, m.batchDuration)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) BatchWritten(rows int, elapsed time.Duration) {
	m.written.Add(float64(rows))
	m.batchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) BatchRetried() { m.retries.Inc() }

func (m *Metrics) BatchFailed() { m.failures.Inc() }

// IngestionFinished counts one ingestion under its final state
func (m *Metrics) IngestionFinished(state string) {
	m.ingestions.WithLabelValues(state).Inc()
}

// WriteTextfile writes all metrics in text exposition format
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
