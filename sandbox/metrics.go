package sandbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus metrics of the execution engine.
// Uses a custom registry, no global state.
type Collector struct {
	Registry *prometheus.Registry

	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	NetworkRequestsTotal prometheus.Counter
	ActiveExecutions     prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered on a
// custom prometheus.Registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsbox",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total code executions by backend and terminal status.",
		}, []string{"backend", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jsbox",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Code execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"backend"}),

		NetworkRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jsbox",
			Subsystem: "sandbox",
			Name:      "network_requests_total",
			Help:      "Outbound calls attempted through the fetch bridge.",
		}),

		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jsbox",
			Subsystem: "sandbox",
			Name:      "active_executions",
			Help:      "Executions currently in flight.",
		}),
	}

	reg.MustRegister(
		c.ExecutionsTotal,
		c.ExecutionDuration,
		c.NetworkRequestsTotal,
		c.ActiveExecutions,
	)
	return c
}

// Terminal statuses recorded on ExecutionsTotal.
const (
	statusSuccess = "success"
	statusError   = "error"
	statusTimeout = "timeout"
)

// observe records one completed dispatch. Nil-safe so backends can run
// without a collector attached.
func (c *Collector) observe(backend, status string, duration time.Duration, networkRequests int) {
	if c == nil {
		return
	}
	c.ExecutionsTotal.WithLabelValues(backend, status).Inc()
	c.ExecutionDuration.WithLabelValues(backend).Observe(duration.Seconds())
	c.NetworkRequestsTotal.Add(float64(networkRequests))
}

func (c *Collector) active(delta float64) {
	if c == nil {
		return
	}
	c.ActiveExecutions.Add(delta)
}
