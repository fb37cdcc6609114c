package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/passdeck/passdeck/internal/resource"
)

// Collector holds all Prometheus metrics for passdeck.
type Collector struct {
	registry *prometheus.Registry

	fetchDuration *prometheus.HistogramVec
	fetchErrors   *prometheus.CounterVec
	sourceHealth  *prometheus.GaugeVec
	viewItems     *prometheus.GaugeVec
	batchTotal    *prometheus.CounterVec
	batchItems    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	sessionChecks *prometheus.CounterVec
	sessionAuthed prometheus.Gauge
}

// New creates all metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newCollector(reg, "passdeck")
}

func newCollector(reg *prometheus.Registry, ns string) *Collector {
	c := &Collector{
		registry: reg,
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    ns + "_fetch_duration_seconds",
				Help:    "Duration of collection fetches from the control plane",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"kind"},
		),
		fetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ns + "_fetch_errors_total",
				Help: "Total number of failed collection fetches per kind and reason",
			},
			[]string{"kind", "reason"},
		),
		sourceHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: ns + "_source_health",
				Help: "Health of a collection source (1=healthy, 0=unhealthy)",
			},
			[]string{"kind"},
		),
		viewItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: ns + "_view_items",
				Help: "Number of resources in the latest snapshot per kind",
			},
			[]string{"kind"},
		),
		batchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ns + "_batch_total",
				Help: "Total batch invocations per kind, action and outcome",
			},
			[]string{"kind", "action", "outcome"},
		),
		batchItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ns + "_batch_items_total",
				Help: "Total batch items per kind, action and result",
			},
			[]string{"kind", "action", "result"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    ns + "_batch_duration_seconds",
				Help:    "Duration of batch invocations",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"kind", "action"},
		),
		sessionChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ns + "_session_checks_total",
				Help: "Total session revalidations per result",
			},
			[]string{"result"},
		),
		sessionAuthed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: ns + "_session_authenticated",
				Help: "Whether an operator session is present (1=yes, 0=no)",
			},
		),
	}

	reg.MustRegister(
		c.fetchDuration,
		c.fetchErrors,
		c.sourceHealth,
		c.viewItems,
		c.batchTotal,
		c.batchItems,
		c.batchDuration,
		c.sessionChecks,
		c.sessionAuthed,
	)

	return c
}

// Registry returns the registry to expose over /metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// FetchCompleted observes a collection fetch.
func (c *Collector) FetchCompleted(kind resource.Kind, d time.Duration, items int) {
	c.fetchDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
	c.viewItems.WithLabelValues(string(kind)).Set(float64(items))
}

// FetchError increments the fetch error counter.
func (c *Collector) FetchError(kind resource.Kind, reason string) {
	c.fetchErrors.WithLabelValues(string(kind), reason).Inc()
}

// SetSourceHealth sets the health gauge for a kind.
func (c *Collector) SetSourceHealth(kind resource.Kind, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.sourceHealth.WithLabelValues(string(kind)).Set(val)
}

// RecordBatch counts one settled batch invocation.
func (c *Collector) RecordBatch(kind resource.Kind, action, outcome string, operated, failed int, d time.Duration) {
	k := string(kind)
	c.batchTotal.WithLabelValues(k, action, outcome).Inc()
	c.batchItems.WithLabelValues(k, action, "operated").Add(float64(operated))
	c.batchItems.WithLabelValues(k, action, "failed").Add(float64(failed))
	c.batchDuration.WithLabelValues(k, action).Observe(d.Seconds())
}

// RecordSessionCheck counts one session revalidation.
func (c *Collector) RecordSessionCheck(result string) {
	c.sessionChecks.WithLabelValues(result).Inc()
}

// SetAuthenticated sets the session gauge.
func (c *Collector) SetAuthenticated(authed bool) {
	val := 0.0
	if authed {
		val = 1.0
	}
	c.sessionAuthed.Set(val)
}

// RemoveKind removes all per-kind metrics.
func (c *Collector) RemoveKind(kind resource.Kind) {
	k := string(kind)
	c.fetchDuration.DeleteLabelValues(k)
	c.fetchErrors.DeletePartialMatch(prometheus.Labels{"kind": k})
	c.sourceHealth.DeleteLabelValues(k)
	c.viewItems.DeleteLabelValues(k)
	c.batchTotal.DeletePartialMatch(prometheus.Labels{"kind": k})
	c.batchItems.DeletePartialMatch(prometheus.Labels{"kind": k})
	c.batchDuration.DeletePartialMatch(prometheus.Labels{"kind": k})
}
