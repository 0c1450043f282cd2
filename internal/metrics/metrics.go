// Package metrics exposes pool and server activity as prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jzx17/gopool/pkg/types"
)

const namespace = "gopool"

// PoolMetrics records worker pool lifecycle events. It implements types.Observer.
type PoolMetrics struct {
	JobsSubmitted prometheus.Counter
	JobsRejected  prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsFaulted   prometheus.Counter
	BusyWorkers   prometheus.Gauge
	QueueDepthG   prometheus.Gauge
	JobDuration   prometheus.Histogram
}

// ServerMetrics records connection handling
type ServerMetrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionErrors    *prometheus.CounterVec
	BytesWritten        prometheus.Counter
}

// Metrics bundles every collector registered by New
type Metrics struct {
	Pool   *PoolMetrics
	Server *ServerMetrics
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	pool := &PoolMetrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted by the pool.",
		}),
		JobsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_rejected_total",
			Help:      "Jobs submitted after shutdown began.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_completed_total",
			Help:      "Jobs that returned without error.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_failed_total",
			Help:      "Jobs that returned an error or panicked.",
		}),
		JobsFaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_faulted_total",
			Help:      "Jobs that panicked.",
		}),
		BusyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "busy_workers",
			Help:      "Workers currently executing a job.",
		}),
		QueueDepthG: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "job_duration_seconds",
			Help:      "Time spent executing a job.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	server := &ServerMetrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the listener.",
		}),
		ConnectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connection_errors_total",
			Help:      "Per-connection failures by operation.",
		}, []string{"op"}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "bytes_written_total",
			Help:      "Response bytes written to clients.",
		}),
	}

	collectors := []prometheus.Collector{
		pool.JobsSubmitted,
		pool.JobsRejected,
		pool.JobsCompleted,
		pool.JobsFailed,
		pool.JobsFaulted,
		pool.BusyWorkers,
		pool.QueueDepthG,
		pool.JobDuration,
		server.ConnectionsAccepted,
		server.ConnectionErrors,
		server.BytesWritten,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &Metrics{Pool: pool, Server: server}, nil
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *PoolMetrics) JobSubmitted() { m.JobsSubmitted.Inc() }

func (m *PoolMetrics) JobRejected() { m.JobsRejected.Inc() }

func (m *PoolMetrics) JobStarted(int) { m.BusyWorkers.Inc() }

func (m *PoolMetrics) JobFinished(_ int, d time.Duration, err error) {
	m.BusyWorkers.Dec()
	m.JobDuration.Observe(d.Seconds())

	switch {
	case err == nil:
		m.JobsCompleted.Inc()
	case types.IsJobFault(err):
		m.JobsFailed.Inc()
		m.JobsFaulted.Inc()
	default:
		m.JobsFailed.Inc()
	}
}

func (m *PoolMetrics) QueueDepth(n int) { m.QueueDepthG.Set(float64(n)) }

// ConnectionAccepted counts a connection handed to the pool
func (m *ServerMetrics) ConnectionAccepted() { m.ConnectionsAccepted.Inc() }

// ConnectionError counts a failed connection by the operation that failed
func (m *ServerMetrics) ConnectionError(op string) { m.ConnectionErrors.WithLabelValues(op).Inc() }

// Written counts response bytes
func (m *ServerMetrics) Written(n int) { m.BytesWritten.Add(float64(n)) }

var _ types.Observer = (*PoolMetrics)(nil)
