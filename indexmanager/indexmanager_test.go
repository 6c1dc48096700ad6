package indexmanager_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/indexroutes/indexclient"
	"github.com/zalando/indexroutes/indexclient/indextest"
	"github.com/zalando/indexroutes/indexmanager"
	"github.com/zalando/indexroutes/logging/loggingtest"
	"github.com/zalando/indexroutes/metrics/metricstest"
)

const testIndex = "teraserver__endpoints"

var serverError = indextest.Response{
	Status: http.StatusInternalServerError,
	Body:   `{"error":{"type":"master_not_discovered_exception","reason":"no master"},"status":500}`,
}

type testManager struct {
	*indexmanager.Manager
	service *indextest.Service
	log     *loggingtest.TestLogger
	metrics *metricstest.MockMetrics
}

func newManager(t *testing.T, s *indextest.Service) *testManager {
	t.Helper()

	l := loggingtest.New()
	t.Cleanup(l.Close)

	c, err := indexclient.New(indexclient.Options{RoundTripper: s.RoundTripper(), Log: l})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	m := &metricstest.MockMetrics{}
	return &testManager{
		Manager: indexmanager.New(indexmanager.Options{
			Index:   testIndex,
			Client:  c,
			Log:     l,
			Metrics: m,
		}),
		service: s,
		log:     l,
		metrics: m,
	}
}

func TestEndpointMapping(t *testing.T) {
	m := indexmanager.EndpointMapping()
	assert.Contains(t, string(m), `"endpoint"`)

	m[0] = 'x'
	assert.NotEqual(t, m[0], indexmanager.EndpointMapping()[0])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "checking", indexmanager.Checking.String())
	assert.Equal(t, "verifying", indexmanager.Verifying.String())
	assert.Equal(t, "recovering", indexmanager.Recovering.String())
	assert.Equal(t, "ready", indexmanager.Ready.String())
	assert.Equal(t, "unknown", indexmanager.State(42).String())
}

func TestCreatesMissingIndex(t *testing.T) {
	s := indextest.New()
	m := newManager(t, s)

	assert.False(t, m.IsReady())
	require.NoError(t, m.Run(context.Background()))

	assert.True(t, m.IsReady())
	assert.Equal(t, indexmanager.Ready, m.State())
	assert.Equal(t, 1, s.Requests(indextest.Exists))
	assert.Equal(t, 1, s.Requests(indextest.Create))
	assert.Equal(t, 1, s.Requests(indextest.Search))
	assert.JSONEq(t, string(indexmanager.EndpointMapping()), string(s.Mapping(testIndex)))
	assert.Equal(t, float64(1), m.metrics.Gauge("indexmanager.ready"))

	select {
	case <-m.Ready():
	default:
		t.Fatal("ready channel not closed")
	}

	// running again does not signal again
	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 1, m.log.Count("index is ready"))
	assert.Equal(t, 1, s.Requests(indextest.Exists))
}

func TestExistingIndexIsNotCreated(t *testing.T) {
	s := indextest.New()
	s.Put(testIndex)

	for range 2 {
		m := newManager(t, s)
		require.NoError(t, m.Run(context.Background()))
		assert.True(t, m.IsReady())
		assert.Equal(t, 0, m.log.Count("[ERROR]"))
	}

	assert.Equal(t, 0, s.Requests(indextest.Create))
}

func TestConcurrentlyCreatedIndex(t *testing.T) {
	s := indextest.New()
	s.Put(testIndex)

	// the existence check misses the index created by another process
	s.Enqueue(indextest.Exists, indextest.Response{Status: http.StatusNotFound})

	m := newManager(t, s)
	require.NoError(t, m.Run(context.Background()))
	assert.True(t, m.IsReady())
	assert.Equal(t, 1, s.Requests(indextest.Create))
	assert.Equal(t, 0, m.log.Count("[ERROR]"))
	assert.Equal(t, 0, m.log.Count("attempting to connect"))
}

func TestVerifyPollsUntilSearchable(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := indextest.New()
		s.Put(testIndex)
		for range 3 {
			s.Enqueue(indextest.Search, serverError)
		}

		m := newManager(t, s)
		start := time.Now()
		require.NoError(t, m.Run(context.Background()))

		assert.Equal(t, 600*time.Millisecond, time.Since(start))
		assert.Equal(t, 4, s.Requests(indextest.Search))
		assert.Equal(t, 2, m.log.Count("[WARN] verifying index is open"))
		assert.True(t, m.IsReady())
	})
}

func TestRecoversAfterFailure(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := indextest.New()
		s.SetRecovery(testIndex, "INDEX")
		s.Enqueue(indextest.Exists, serverError, serverError)

		m := newManager(t, s)
		start := time.Now()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Run(context.Background()))
		}()

		synctest.Wait()
		assert.Equal(t, indexmanager.Recovering, m.State())
		assert.False(t, m.IsReady())
		assert.Equal(t, 1, m.log.Count("[ERROR] error creating index: master_not_discovered_exception: no master"))

		// first tick: the index service is still failing
		time.Sleep(3 * time.Second)
		synctest.Wait()
		assert.Equal(t, 1, m.log.Count("[INFO] attempting to connect to the index service, error: master_not_discovered_exception"))

		// second tick: the primary shard is recovering
		time.Sleep(3 * time.Second)
		synctest.Wait()
		assert.False(t, m.IsReady())
		assert.Equal(t, 1, s.Requests(indextest.Recovery))

		s.SetRecovery(testIndex, "DONE")
		<-m.Ready()
		wg.Wait()

		assert.Equal(t, 9*time.Second, time.Since(start))
		assert.Equal(t, 2, s.Requests(indextest.Recovery))
		assert.Equal(t, 0, s.Requests(indextest.Create))
		assert.Equal(t, 1, m.log.Count("connection to the index service has been established"))
	})
}

func TestRecoveryCreatesIndex(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := indextest.New()
		s.Enqueue(indextest.Exists, serverError)

		m := newManager(t, s)
		require.NoError(t, m.Run(context.Background()))

		assert.True(t, s.HasIndex(testIndex))
		assert.Equal(t, 1, s.Requests(indextest.Create))
		assert.Equal(t, 1, s.Requests(indextest.Recovery))
	})
}

func TestRunCanceled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := indextest.New()
		for range 100 {
			s.Enqueue(indextest.Exists, serverError)
		}

		m := newManager(t, s)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := m.Run(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, m.IsReady())
		assert.Equal(t, indexmanager.Recovering, m.State())
		assert.Equal(t, 4, s.Requests(indextest.Exists))
	})
}

type readiness struct {
	mu    sync.Mutex
	ready bool
	polls int
}

func (r *readiness) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	return r.ready
}

func (r *readiness) set() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = true
}

func TestWaitReady(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r := &readiness{}
		time.AfterFunc(7*time.Second, r.set)

		start := time.Now()
		require.NoError(t, indexmanager.WaitReady(context.Background(), r, 3*time.Second))
		assert.Equal(t, 9*time.Second, time.Since(start))
		assert.Equal(t, 4, r.polls)
	})

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := indexmanager.WaitReady(ctx, &readiness{}, 0)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
