package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace = "indexroutes"
	promSubsystem = "custom"
)

// Prometheus implements the prometheus metrics backend.
type Prometheus struct {
	counterM   *prometheus.CounterVec
	gaugeM     *prometheus.GaugeVec
	histogramM *prometheus.HistogramVec

	opts     Options
	registry *prometheus.Registry
	handler  http.Handler
}

var _ Metrics = &Prometheus{}

// NewPrometheus returns a new Prometheus metric backend.
func NewPrometheus(opts Options) *Prometheus {
	namespace := promNamespace
	if opts.Prefix != "" {
		namespace = strings.TrimSuffix(opts.Prefix, ".")
	}

	buckets := opts.HistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	p := &Prometheus{
		counterM: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: promSubsystem,
			Name:      "total",
			Help:      "Total number of custom metrics.",
		}, []string{"key"}),
		gaugeM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: promSubsystem,
			Name:      "gauges",
			Help:      "Gauges number of custom metrics.",
		}, []string{"key"}),
		histogramM: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: promSubsystem,
			Name:      "duration_seconds",
			Help:      "Duration in seconds of custom metrics.",
			Buckets:   buckets,
		}, []string{"key"}),
		registry: opts.PrometheusRegistry,
		opts:     opts,
	}

	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}

	p.registerMetrics()
	return p
}

func (p *Prometheus) registerMetrics() {
	p.registry.MustRegister(p.counterM)
	p.registry.MustRegister(p.gaugeM)
	p.registry.MustRegister(p.histogramM)

	if p.opts.EnableRuntimeMetrics {
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p.registry.MustRegister(collectors.NewGoCollector())
	}
}

// CreateHandler returns a handler serving the registry in the Prometheus
// exposition format.
func (p *Prometheus) CreateHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) getHandler() http.Handler {
	if p.handler != nil {
		return p.handler
	}

	p.handler = p.CreateHandler()
	return p.handler
}

// RegisterHandler satisfies Metrics interface.
func (p *Prometheus) RegisterHandler(path string, mux *http.ServeMux) {
	mux.Handle(path, p.getHandler())
}

// MeasureSince satisfies Metrics interface.
func (p *Prometheus) MeasureSince(key string, start time.Time) {
	p.histogramM.WithLabelValues(key).Observe(time.Since(start).Seconds())
}

// IncCounter satisfies Metrics interface.
func (p *Prometheus) IncCounter(key string) {
	p.counterM.WithLabelValues(key).Inc()
}

// IncCounterBy satisfies Metrics interface.
func (p *Prometheus) IncCounterBy(key string, value int64) {
	p.counterM.WithLabelValues(key).Add(float64(value))
}

// UpdateGauge satisfies Metrics interface.
func (p *Prometheus) UpdateGauge(key string, v float64) {
	p.gaugeM.WithLabelValues(key).Set(v)
}
