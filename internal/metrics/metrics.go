// Package metrics exposes Prometheus collectors for the execution plane and
// the health/metrics HTTP endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles every metric the server exports. It implements the
// engine's observer and the orchestrator's counter hooks.
type Collector struct {
	registry *prometheus.Registry

	tasksCreated   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	stepsRunning   prometheus.Gauge
	stepsReady     prometheus.Gauge
	queueSize      prometheus.Gauge
	stepDuration   *prometheus.HistogramVec
	streamClients  prometheus.Gauge
	streamBuffered prometheus.Gauge
}

// NewCollector creates and registers all collectors on a private registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasks_created_total",
			Help: "Tasks accepted by the orchestrator.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Tasks reaching a terminal status.",
		}, []string{"status"}),
		stepsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steps_running",
			Help: "Steps currently executing.",
		}),
		stepsReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steps_ready",
			Help: "Steps ready and waiting for a worker slot.",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_size",
			Help: "Length of the engine ready queue.",
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "step_duration_seconds",
			Help:    "Wall time of step attempts by terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"status"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stream_clients",
			Help: "Connected stream subscribers.",
		}),
		streamBuffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stream_bytes_buffered",
			Help: "Total bytes buffered across stream subscribers.",
		}),
	}
	reg.MustRegister(
		c.tasksCreated, c.tasksCompleted,
		c.stepsRunning, c.stepsReady, c.queueSize,
		c.stepDuration,
		c.streamClients, c.streamBuffered,
	)
	return c
}

// Registry returns the backing registry for exposition.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// TaskCreated counts an accepted submission.
func (c *Collector) TaskCreated() { c.tasksCreated.Inc() }

// TaskFinished counts a terminal task by status.
func (c *Collector) TaskFinished(status string) {
	c.tasksCompleted.WithLabelValues(status).Inc()
}

// StepRunning adjusts the running-steps gauge.
func (c *Collector) StepRunning(delta int) {
	c.stepsRunning.Add(float64(delta))
}

// QueueSize records the ready queue length.
func (c *Collector) QueueSize(n int) {
	c.stepsReady.Set(float64(n))
	c.queueSize.Set(float64(n))
}

// StepFinished observes a step attempt's duration by terminal status.
func (c *Collector) StepFinished(status string, d time.Duration) {
	c.stepDuration.WithLabelValues(status).Observe(d.Seconds())
}

// StreamClients adjusts the connected-subscriber gauge.
func (c *Collector) StreamClients(delta int) {
	c.streamClients.Add(float64(delta))
}

// StreamBuffered records the aggregate subscriber buffer size.
func (c *Collector) StreamBuffered(bytes int64) {
	c.streamBuffered.Set(float64(bytes))
}
