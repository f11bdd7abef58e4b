// Package metrics records call, retry, break and bulk activity of the
// execution engines.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Recorder receives engine events. Implementations must be safe for
// concurrent use, since parallel bulk execution records from many goroutines.
type Recorder interface {
	// ObserveCall records one invocation of an operation.
	ObserveCall(operation string, err error, d time.Duration)
	// ObserveRetry records a retry scheduled after a failed call.
	ObserveRetry(operation string)
	// ObserveBreak records an iteration stopped by a break condition.
	ObserveBreak(operation string, phase string)
	// ObserveBulkItem records the outcome of one batch item.
	ObserveBulkItem(mode string, outcome string)
}

// Nop discards all events.
type Nop struct{}

func (Nop) ObserveCall(string, error, time.Duration) {}
func (Nop) ObserveRetry(string)                      {}
func (Nop) ObserveBreak(string, string)              {}
func (Nop) ObserveBulkItem(string, string)           {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// PrometheusConfig holds configuration for the Prometheus recorder.
type PrometheusConfig struct {
	// Namespace prefixes every metric name.
	// Default: "clientfactory"
	Namespace string

	// HistogramBuckets are the buckets for call durations.
	// Default: prometheus.DefBuckets
	HistogramBuckets []float64
}

// Prometheus records engine events as Prometheus metrics in its own registry.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Prometheus struct {
	registry *prometheus.Registry

	callsTotal     *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	retriesTotal   *prometheus.CounterVec
	breaksTotal    *prometheus.CounterVec
	bulkItemsTotal *prometheus.CounterVec
}

// NewPrometheus creates a recorder with a private registry.
func NewPrometheus(config PrometheusConfig) *Prometheus {
	if config.Namespace == "" {
		config.Namespace = "clientfactory"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = prometheus.DefBuckets
	}

	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "calls_total",
			Help:      "Total number of operation calls.",
		}, []string{"operation", "success"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of operation calls in seconds.",
			Buckets:   config.HistogramBuckets,
		}, []string{"operation"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "retries_total",
			Help:      "Total number of retries scheduled by the iteration engine.",
		}, []string{"operation"}),
		breaksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "breaks_total",
			Help:      "Total number of iterations stopped by a break condition.",
		}, []string{"operation", "phase"}),
		bulkItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "bulk_items_total",
			Help:      "Total number of batch items by outcome.",
		}, []string{"mode", "outcome"}),
	}

	p.registry.MustRegister(p.callsTotal, p.callDuration, p.retriesTotal, p.breaksTotal, p.bulkItemsTotal)
	return p
}

func (p *Prometheus) ObserveCall(operation string, err error, d time.Duration) {
	p.callsTotal.WithLabelValues(operation, strconv.FormatBool(err == nil)).Inc()
	p.callDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (p *Prometheus) ObserveRetry(operation string) {
	p.retriesTotal.WithLabelValues(operation).Inc()
}

func (p *Prometheus) ObserveBreak(operation, phase string) {
	p.breaksTotal.WithLabelValues(operation, phase).Inc()
}

func (p *Prometheus) ObserveBulkItem(mode, outcome string) {
	p.bulkItemsTotal.WithLabelValues(mode, outcome).Inc()
}

// Gather returns the current metric families.
func (p *Prometheus) Gather() ([]*dto.MetricFamily, error) {
	return p.registry.Gather()
}

// Registry returns the private registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
