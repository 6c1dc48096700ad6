package metricstest

import (
	"testing"
	"testing/synctest"
	"time"
)

func TestMockMetrics(t *testing.T) {
	m := &MockMetrics{}

	t.Run("test-measure-since", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			key := "test-measure-since"
			start := time.Now()
			time.Sleep(2 * time.Second)
			m.MeasureSince(key, start)

			if a, ok := m.measures[key]; !ok {
				t.Fatalf("Failed to find measure %q", key)
			} else if len(a) != 1 || a[0] != 2*time.Second {
				t.Fatalf("Failed to have one measurement of 2s, got: %v", a)
			}
		})
	})

	t.Run("test-inc-counter", func(t *testing.T) {
		key := "test-inc-counter"
		m.IncCounter(key)
		if i := m.Counter(key); i != 1 {
			t.Fatalf("Failed to get the right value after inc: %d", i)
		}

		m.IncCounterBy(key, 2)
		if i := m.Counter(key); i != 3 {
			t.Fatalf("Failed to get the right value after inc: %d", i)
		}
	})

	t.Run("test-update-gauge", func(t *testing.T) {
		key := "test-update-gauge"
		m.UpdateGauge(key, 2)
		m.UpdateGauge(key, 5)
		if v := m.Gauge(key); v != 5 {
			t.Fatalf("Failed to get the right gauge value: %v", v)
		}
	})

	t.Run("test-prefix", func(t *testing.T) {
		pm := &MockMetrics{Prefix: "pre."}
		pm.IncCounter("key")
		pm.WithCounters(func(c map[string]int64) {
			if c["pre.key"] != 1 {
				t.Fatalf("Failed to apply the prefix: %v", c)
			}
		})

		if pm.Measures("key") != 0 {
			t.Fatal("Unexpected measure")
		}
	})
}
