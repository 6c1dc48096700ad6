package metrics

import (
	"net/http"
	"strings"
	"time"
)

// All sends the metrics to both backends.
type All struct {
	prometheus *Prometheus
	codaHale   *CodaHale
}

var _ Metrics = &All{}

func NewAll(o Options) *All {
	return &All{
		prometheus: NewPrometheus(o),
		codaHale:   NewCodaHale(o),
	}
}

func (a *All) MeasureSince(key string, start time.Time) {
	a.prometheus.MeasureSince(key, start)
	a.codaHale.MeasureSince(key, start)
}

func (a *All) IncCounter(key string) {
	a.prometheus.IncCounter(key)
	a.codaHale.IncCounter(key)
}

func (a *All) IncCounterBy(key string, value int64) {
	a.prometheus.IncCounterBy(key, value)
	a.codaHale.IncCounterBy(key, value)
}

func (a *All) UpdateGauge(key string, v float64) {
	a.prometheus.UpdateGauge(key, v)
	a.codaHale.UpdateGauge(key, v)
}

// RegisterHandler serves the Prometheus format on path, and the CodaHale
// JSON on path/codahale/.
func (a *All) RegisterHandler(path string, mux *http.ServeMux) {
	a.prometheus.RegisterHandler(path, mux)
	a.codaHale.RegisterHandler(strings.TrimSuffix(path, "/")+"/codahale/", mux)
}
