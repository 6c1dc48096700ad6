package metrics

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

const statsRefreshDuration = 5 * time.Second

// CodaHale is the CodaHale format backend, implements Metrics interface in DropWizard's CodaHale metrics format.
type CodaHale struct {
	reg           metrics.Registry
	createTimer   func() metrics.Timer
	createCounter func() metrics.Counter
	createGauge   func() metrics.GaugeFloat64
	options       Options
	handler       http.Handler
}

var _ Metrics = &CodaHale{}

// NewCodaHale returns a new CodaHale backend of metrics.
func NewCodaHale(o Options) *CodaHale {
	c := &CodaHale{}
	c.reg = metrics.NewRegistry()
	c.createTimer = func() metrics.Timer { return createTimer(newUniformSample()) }
	c.createCounter = metrics.NewCounter
	c.createGauge = metrics.NewGaugeFloat64
	c.options = o

	if o.EnableRuntimeMetrics {
		metrics.RegisterRuntimeMemStats(c.reg)
		go metrics.CaptureRuntimeMemStats(c.reg, statsRefreshDuration)
	}

	return c
}

// NewVoid returns a backend that drops everything.
func NewVoid() *CodaHale {
	c := &CodaHale{}
	c.reg = metrics.NewRegistry()
	c.createTimer = func() metrics.Timer { return metrics.NilTimer{} }
	c.createCounter = func() metrics.Counter { return metrics.NilCounter{} }
	c.createGauge = func() metrics.GaugeFloat64 { return metrics.NilGaugeFloat64{} }
	return c
}

func (c *CodaHale) getTimer(key string) metrics.Timer {
	return c.reg.GetOrRegister(key, c.createTimer).(metrics.Timer)
}

func (c *CodaHale) MeasureSince(key string, start time.Time) {
	c.getTimer(key).UpdateSince(start)
}

func (c *CodaHale) getGauge(key string) metrics.GaugeFloat64 {
	return c.reg.GetOrRegister(key, c.createGauge).(metrics.GaugeFloat64)
}

func (c *CodaHale) UpdateGauge(key string, v float64) {
	c.getGauge(key).Update(v)
}

func (c *CodaHale) getCounter(key string) metrics.Counter {
	return c.reg.GetOrRegister(key, c.createCounter).(metrics.Counter)
}

func (c *CodaHale) IncCounter(key string) {
	c.getCounter(key).Inc(1)
}

func (c *CodaHale) IncCounterBy(key string, value int64) {
	c.getCounter(key).Inc(value)
}

func (c *CodaHale) RegisterHandler(path string, mux *http.ServeMux) {
	mux.Handle(path, c.getHandler(path))
}

func (c *CodaHale) CreateHandler(path string) http.Handler {
	return &codaHaleMetricsHandler{path: path, registry: c.reg, options: c.options}
}

func (c *CodaHale) getHandler(path string) http.Handler {
	if c.handler != nil {
		return c.handler
	}

	c.handler = c.CreateHandler(path)
	return c.handler
}

type codaHaleMetricsHandler struct {
	path     string
	registry metrics.Registry
	options  Options
}

func (c *codaHaleMetricsHandler) sendMetrics(w http.ResponseWriter, p string) {
	_, k := path.Split(p)

	metrics := filterMetrics(c.registry, c.options.Prefix, k)

	if len(metrics) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(metrics)
	} else {
		http.NotFound(w, nil)
	}
}

// This listener is only used to expose the metrics
func (c *codaHaleMetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	c.sendMetrics(w, strings.TrimPrefix(r.URL.Path, c.path))
}

func filterMetrics(reg metrics.Registry, prefix, key string) codaHaleMetrics {
	metrics := make(codaHaleMetrics)

	canonicalKey := strings.TrimPrefix(key, prefix)
	m := reg.Get(canonicalKey)
	if m != nil {
		metrics[key] = m
	} else {
		reg.Each(func(name string, i interface{}) {
			if key == "" || (strings.HasPrefix(name, canonicalKey)) {
				metrics[prefix+name] = i
			}
		})
	}
	return metrics
}

type codaHaleMetrics map[string]interface{}

func (sm codaHaleMetrics) MarshalJSON() ([]byte, error) {
	data := make(map[string]map[string]interface{})
	for name, metric := range sm {
		values := make(map[string]interface{})
		var metricsFamily string
		switch m := metric.(type) {
		case metrics.GaugeFloat64:
			metricsFamily = "gauges"
			values["value"] = m.Value()
		case metrics.Counter:
			metricsFamily = "counters"
			values["count"] = m.Count()
		case metrics.Timer:
			metricsFamily = "timers"
			s := m.Snapshot()
			ps := s.Percentiles([]float64{0.5, 0.75, 0.95, 0.99})
			values["count"] = s.Count()
			values["min"] = s.Min()
			values["max"] = s.Max()
			values["mean"] = s.Mean()
			values["median"] = ps[0]
			values["p75"] = ps[1]
			values["p95"] = ps[2]
			values["p99"] = ps[3]
		default:
			metricsFamily = "unknown"
			values["error"] = "unknown metrics type"
		}

		if data[metricsFamily] == nil {
			data[metricsFamily] = make(map[string]interface{})
		}

		data[metricsFamily][name] = values
	}

	return json.Marshal(data)
}
