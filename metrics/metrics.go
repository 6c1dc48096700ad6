package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	KeyIndexRequest         = "indexclient.request.%s"
	KeyIndexRequestDuration = "indexclient.request.duration.%s"
	KeyIndexRetry           = "indexclient.retry.%s"
	KeyIndexError           = "indexclient.error.%s"

	KeyIndexReady = "indexmanager.ready"

	KeyPass          = "reconciler.pass"
	KeyPassSkipped   = "reconciler.pass.skipped"
	KeyPassFailed    = "reconciler.pass.failed"
	KeyRoutesAdded   = "reconciler.routes.added"
	KeyRoutesUpdated = "reconciler.routes.updated"
	KeyRoutesRemoved = "reconciler.routes.removed"
	KeyRoutes        = "reconciler.routes"

	KeyServe    = "routetable.serve"
	KeyNotFound = "routetable.notfound"

	KeyRejected = "server.rejected"
)

// Metrics is the common interface of the metrics backends.
type Metrics interface {
	MeasureSince(key string, start time.Time)
	IncCounter(key string)
	IncCounterBy(key string, value int64)
	UpdateGauge(key string, value float64)
	RegisterHandler(path string, mux *http.ServeMux)
}

// Kind selects the metrics backends.
type Kind int

const (
	UnkownKind   Kind = 0
	CodaHaleKind Kind = 1 << iota
	PrometheusKind
	AllKind = CodaHaleKind | PrometheusKind
)

func (k Kind) String() string {
	switch k {
	case CodaHaleKind:
		return "codahale"
	case PrometheusKind:
		return "prometheus"
	case AllKind:
		return "all"
	default:
		return "unknown"
	}
}

// ParseMetricsKind parses a metrics flavour name.
func ParseMetricsKind(t string) Kind {
	switch t {
	case "codahale":
		return CodaHaleKind
	case "prometheus":
		return PrometheusKind
	case "all":
		return AllKind
	default:
		return UnkownKind
	}
}

// Options for initializing metrics collection.
type Options struct {
	// The metrics backends to use. Defaults to Prometheus.
	Format Kind

	// Common prefix for the keys of the different
	// collected metrics.
	Prefix string

	// If set, Go runtime metrics are collected.
	EnableRuntimeMetrics bool

	// Buckets of the Prometheus histograms. Defaults to
	// prometheus.DefBuckets.
	HistogramBuckets []float64

	// Registry of the Prometheus metrics, when nil, a new one is
	// created.
	PrometheusRegistry *prometheus.Registry
}

// Default is used where no metrics backend was configured.
var Default Metrics = NewVoid()

// NewMetrics creates the metrics backend(s) selected by the options.
func NewMetrics(o Options) Metrics {
	switch o.Format {
	case AllKind:
		return NewAll(o)
	case CodaHaleKind:
		return NewCodaHale(o)
	default:
		return NewPrometheus(o)
	}
}
