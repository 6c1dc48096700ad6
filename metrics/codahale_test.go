package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodaHaleHandler(t *testing.T) {
	c := NewCodaHale(Options{})
	c.IncCounter(KeyRoutesAdded)
	c.IncCounterBy(KeyRoutesAdded, 2)
	c.UpdateGauge(KeyRoutes, 3)
	c.MeasureSince(KeyPass, time.Now())

	mux := http.NewServeMux()
	c.RegisterHandler("/metrics/", mux)

	rsp := httptest.NewRecorder()
	mux.ServeHTTP(rsp, httptest.NewRequest("GET", "/metrics/", nil))
	require.Equal(t, http.StatusOK, rsp.Code)

	var data map[string]map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rsp.Body.Bytes(), &data))

	assert.Equal(t, float64(3), data["counters"][KeyRoutesAdded]["count"])
	assert.Equal(t, float64(3), data["gauges"][KeyRoutes]["value"])
	assert.Equal(t, float64(1), data["timers"][KeyPass]["count"])
}

func TestCodaHaleHandlerSingleKey(t *testing.T) {
	c := NewCodaHale(Options{})
	c.IncCounter(KeyRoutesAdded)
	c.IncCounter(KeyRoutesRemoved)

	h := c.CreateHandler("/metrics/")

	rsp := httptest.NewRecorder()
	h.ServeHTTP(rsp, httptest.NewRequest("GET", "/metrics/"+KeyRoutesRemoved, nil))
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Contains(t, rsp.Body.String(), KeyRoutesRemoved)
	assert.NotContains(t, rsp.Body.String(), KeyRoutesAdded)

	rsp = httptest.NewRecorder()
	h.ServeHTTP(rsp, httptest.NewRequest("GET", "/metrics/missing", nil))
	assert.Equal(t, http.StatusNotFound, rsp.Code)

	rsp = httptest.NewRecorder()
	h.ServeHTTP(rsp, httptest.NewRequest("POST", "/metrics/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rsp.Code)
}

func TestVoidDropsEverything(t *testing.T) {
	v := NewVoid()
	v.IncCounter(KeyPass)
	v.UpdateGauge(KeyRoutes, 1)
	v.MeasureSince(KeyServe, time.Now())

	c := v.getCounter(KeyPass)
	assert.Equal(t, int64(0), c.Count())
}
