// Package metricstest provides an in-memory Metrics implementation for
// tests.
package metricstest

import (
	"net/http"
	"sync"
	"time"

	"github.com/zalando/indexroutes/metrics"
)

type MockMetrics struct {
	Prefix string

	mu sync.Mutex

	// Metrics gathering
	counters map[string]int64
	gauges   map[string]float64
	measures map[string][]time.Duration
	Now      time.Time
}

var _ metrics.Metrics = &MockMetrics{}

//
// Public thread safe access to metrics
//

func (m *MockMetrics) WithCounters(f func(counters map[string]int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]int64)
	}
	f(m.counters)
}

func (m *MockMetrics) WithMeasures(f func(measures map[string][]time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.measures == nil {
		m.measures = make(map[string][]time.Duration)
	}
	f(m.measures)
}

func (m *MockMetrics) WithGauges(f func(map[string]float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges == nil {
		m.gauges = make(map[string]float64)
	}

	f(m.gauges)
}

// Counter returns the current value of a counter.
func (m *MockMetrics) Counter(key string) (v int64) {
	m.WithCounters(func(c map[string]int64) { v = c[m.Prefix+key] })
	return
}

// Gauge returns the current value of a gauge.
func (m *MockMetrics) Gauge(key string) (v float64) {
	m.WithGauges(func(g map[string]float64) { v = g[m.Prefix+key] })
	return
}

// Measures returns how many times a duration was measured.
func (m *MockMetrics) Measures(key string) (n int) {
	m.WithMeasures(func(ms map[string][]time.Duration) { n = len(ms[m.Prefix+key]) })
	return
}

//
// Interface Metrics
//

func (m *MockMetrics) MeasureSince(key string, start time.Time) {
	now := m.Now
	if now.IsZero() {
		now = time.Now()
	}

	key = m.Prefix + key
	m.WithMeasures(func(measures map[string][]time.Duration) {
		measures[key] = append(measures[key], now.Sub(start))
	})
}

func (m *MockMetrics) IncCounter(key string) {
	m.IncCounterBy(key, 1)
}

func (m *MockMetrics) IncCounterBy(key string, value int64) {
	key = m.Prefix + key
	m.WithCounters(func(counters map[string]int64) {
		counters[key] += value
	})
}

func (m *MockMetrics) UpdateGauge(key string, v float64) {
	key = m.Prefix + key
	m.WithGauges(func(gauges map[string]float64) {
		gauges[key] = v
	})
}

func (*MockMetrics) RegisterHandler(string, *http.ServeMux) {}
