package query_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/zalando/indexroutes/endpoints"
	"github.com/zalando/indexroutes/indexclient"
	"github.com/zalando/indexroutes/indexclient/indextest"
	"github.com/zalando/indexroutes/logging/loggingtest"
	"github.com/zalando/indexroutes/query"
)

type searcherFunc func(context.Context, indexclient.Query) (*indexclient.Result, error)

func (f searcherFunc) Search(ctx context.Context, q indexclient.Query) (*indexclient.Result, error) {
	return f(ctx, q)
}

func TestHandlerPassesCopy(t *testing.T) {
	endpoint := endpoints.Config{"endpoint": "/a", "index": "i1", "field": "x"}
	client := searcherFunc(func(context.Context, indexclient.Query) (*indexclient.Result, error) { return nil, nil })

	var (
		index string
		got   query.Config
	)

	c := query.CapabilityFunc(func(w http.ResponseWriter, r *http.Request, i string, qc query.Config) {
		index = i
		got = qc
		qc.Endpoint["field"] = "changed"
	})

	h := query.Handler(c, endpoint, client)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/a", nil))

	assert.Equal(t, "i1", index)
	assert.NotNil(t, got.Client)
	assert.Equal(t, "x", endpoint["field"])
}

type luceneTest struct {
	service *indextest.Service
	client  *indexclient.Client
	lucene  *query.Lucene
	log     *loggingtest.TestLogger
}

func newLuceneTest(t *testing.T, fullResponse bool) *luceneTest {
	l := loggingtest.New()
	t.Cleanup(l.Close)

	s := indextest.New()
	c, err := indexclient.New(indexclient.Options{RoundTripper: s.RoundTripper(), FullResponse: fullResponse, Log: l})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return &luceneTest{
		service: s,
		client:  c,
		lucene:  query.NewLucene(query.LuceneOptions{Log: l}),
		log:     l,
	}
}

func (lt *luceneTest) serve(endpoint endpoints.Config, url string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", url, nil)
	query.Handler(lt.lucene, endpoint, lt.client).ServeHTTP(rec, req)
	return rec
}

func TestLuceneResults(t *testing.T) {
	for _, fullResponse := range []bool{false, true} {
		lt := newLuceneTest(t, fullResponse)
		lt.service.Put("logs",
			map[string]string{"app": "foo", "msg": "1"},
			map[string]string{"app": "bar", "msg": "2"},
			map[string]string{"app": "foo", "msg": "3"},
		)

		rec := lt.serve(endpoints.Config{"endpoint": "/logs", "index": "logs"}, "/logs?q=app:foo")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.NotEmpty(t, rec.Header().Get(query.FlowIDHeader))

		var rsp struct {
			Total   int64             `json:"total"`
			Results []json.RawMessage `json:"results"`
		}

		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rsp))
		assert.Equal(t, int64(2), rsp.Total)
		require.Len(t, rsp.Results, 2)
		assert.JSONEq(t, `{"app":"foo","msg":"3"}`, string(rsp.Results[1]))
	}
}

func TestLuceneCount(t *testing.T) {
	lt := newLuceneTest(t, false)
	lt.service.Put("logs", map[string]string{"app": "foo"}, map[string]string{"app": "bar"})

	rec := lt.serve(endpoints.Config{"endpoint": "/logs", "index": "logs"}, "/logs?size=0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":2,"results":[]}`, rec.Body.String())
}

func TestLuceneFlowID(t *testing.T) {
	lt := newLuceneTest(t, false)
	lt.service.Put("logs")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/logs", nil)
	req.Header.Set(query.FlowIDHeader, "abc")
	query.Handler(lt.lucene, endpoints.Config{"endpoint": "/logs", "index": "logs"}, lt.client).ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(query.FlowIDHeader))
}

func TestLuceneQueryBuilding(t *testing.T) {
	for _, tt := range []struct {
		title    string
		endpoint endpoints.Config
		url      string
		q        string
		size     int
		from     int
		fields   []string
		sort     []string
	}{{
		title:    "defaults",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i"},
		url:      "/e",
		q:        "*",
		size:     query.DefaultSize,
	}, {
		title:    "endpoint query is combined",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "query": "app:foo"},
		url:      "/e?q=msg:1",
		q:        "(app:foo) AND (msg:1)",
		size:     query.DefaultSize,
	}, {
		title:    "nested groups",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "query": "app:foo"},
		url:      "/e?q=%28msg%3A1+OR+msg%3A2%29+AND+text%3A%22a%29%22",
		q:        `(app:foo) AND ((msg:1 OR msg:2) AND text:"a)")`,
		size:     query.DefaultSize,
	}, {
		title:    "endpoint query only",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "query": "app:foo"},
		url:      "/e",
		q:        "app:foo",
		size:     query.DefaultSize,
	}, {
		title:    "date range",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "date_field": "@timestamp"},
		url:      "/e?q=app:foo&date_start=2020-01-01",
		q:        "(app:foo) AND (@timestamp:[2020-01-01 TO *])",
		size:     query.DefaultSize,
	}, {
		title:    "paging",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "default_size": json.Number("20")},
		url:      "/e?start=40",
		q:        "*",
		size:     20,
		from:     40,
	}, {
		title:    "default size capped",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "max_size": json.Number("5")},
		url:      "/e",
		q:        "*",
		size:     5,
	}, {
		title:    "allowed fields",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "fields": []interface{}{"a", "b"}},
		url:      "/e",
		q:        "*",
		size:     query.DefaultSize,
		fields:   []string{"a", "b"},
	}, {
		title:    "requested fields",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "fields": []interface{}{"a", "b"}},
		url:      "/e?fields=b",
		q:        "*",
		size:     query.DefaultSize,
		fields:   []string{"b"},
	}, {
		title:    "sort",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "sort_enabled": true},
		url:      "/e?sort=date:desc",
		q:        "*",
		size:     query.DefaultSize,
		sort:     []string{"date:desc"},
	}, {
		title:    "default sort",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "sort_default": "date:asc"},
		url:      "/e",
		q:        "*",
		size:     query.DefaultSize,
		sort:     []string{"date:asc"},
	}} {
		t.Run(tt.title, func(t *testing.T) {
			var got indexclient.Query
			client := searcherFunc(func(_ context.Context, q indexclient.Query) (*indexclient.Result, error) {
				got = q
				return &indexclient.Result{Kind: indexclient.Documents}, nil
			})

			rec := httptest.NewRecorder()
			query.Handler(query.NewLucene(query.LuceneOptions{}), tt.endpoint, client).ServeHTTP(rec, httptest.NewRequest("GET", tt.url, nil))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			assert.Equal(t, "i", got.Index)
			assert.Equal(t, tt.q, got.Q)
			require.NotNil(t, got.Size)
			assert.Equal(t, tt.size, *got.Size)
			assert.Equal(t, tt.from, got.From)
			assert.Equal(t, tt.fields, got.Fields)
			assert.Equal(t, tt.sort, got.Sort)
		})
	}
}

func TestLuceneBadRequest(t *testing.T) {
	for _, tt := range []struct {
		title    string
		endpoint endpoints.Config
		url      string
		message  string
	}{{
		title:    "invalid size",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i"},
		url:      "/e?size=foo",
		message:  "size parameter must be a non-negative integer",
	}, {
		title:    "size too large",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "max_size": json.Number("10")},
		url:      "/e?size=11",
		message:  "size parameter must not be larger than 10",
	}, {
		title:    "negative start",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i"},
		url:      "/e?start=-1",
		message:  "start parameter must be a non-negative integer",
	}, {
		title:    "field not allowed",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "fields": []interface{}{"a"}},
		url:      "/e?fields=a,secret",
		message:  "field not allowed: secret",
	}, {
		title:    "sort not enabled",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i"},
		url:      "/e?sort=date:desc",
		message:  "sorting is not enabled for this endpoint",
	}, {
		title:    "invalid sort",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "sort_enabled": true},
		url:      "/e?sort=date",
		message:  "sort parameter must have the format field:asc or field:desc",
	}, {
		title:    "no date field",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i"},
		url:      "/e?date_end=2020-01-01",
		message:  "date range is not supported by this endpoint",
	}, {
		title:    "query closing the endpoint group",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "query": "tenant:acme"},
		url:      "/e?q=x%29+OR+%28%2A",
		message:  "q parameter has unbalanced parentheses",
	}, {
		title:    "unclosed group",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "query": "tenant:acme"},
		url:      "/e?q=%28x",
		message:  "q parameter has unbalanced parentheses",
	}, {
		title:    "unterminated phrase",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "query": "tenant:acme"},
		url:      "/e?q=msg%3A%22x",
		message:  "q parameter has an unterminated phrase",
	}, {
		title:    "escaped group end",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "query": "tenant:acme"},
		url:      "/e?q=x%5C",
		message:  "q parameter ends with an escape character",
	}, {
		title:    "date range closing the endpoint group",
		endpoint: endpoints.Config{"endpoint": "/e", "index": "i", "query": "tenant:acme", "date_field": "date"},
		url:      "/e?date_start=%2A%5D%29+OR+%28%2A",
		message:  "date range has unbalanced parentheses",
	}} {
		t.Run(tt.title, func(t *testing.T) {
			client := searcherFunc(func(context.Context, indexclient.Query) (*indexclient.Result, error) {
				t.Fatal("unexpected search")
				return nil, nil
			})

			rec := httptest.NewRecorder()
			query.Handler(query.NewLucene(query.LuceneOptions{}), tt.endpoint, client).ServeHTTP(rec, httptest.NewRequest("GET", tt.url, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, gjson.Get(rec.Body.String(), "error").String())
		})
	}
}

func TestLuceneIndexError(t *testing.T) {
	lt := newLuceneTest(t, false)

	rec := lt.serve(endpoints.Config{"endpoint": "/logs", "index": "missing"}, "/logs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "index_not_found_exception: no such index [missing]", gjson.Get(rec.Body.String(), "error").String())
	assert.Equal(t, 1, lt.log.Count("[ERROR] query failed: index_not_found_exception"))
}

type failingWriter struct {
	header http.Header
	status int
}

func (w *failingWriter) Header() http.Header { return w.header }

func (w *failingWriter) WriteHeader(status int) { w.status = status }

func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection closed") }

func TestLuceneWriteError(t *testing.T) {
	lt := newLuceneTest(t, false)
	lt.service.Put("logs", map[string]string{"app": "foo"})

	w := &failingWriter{header: make(http.Header)}
	query.Handler(lt.lucene, endpoints.Config{"endpoint": "/logs", "index": "logs"}, lt.client).ServeHTTP(w, httptest.NewRequest("GET", "/logs", nil))
	assert.Equal(t, http.StatusOK, w.status)
	assert.NoError(t, lt.log.WaitFor("[DEBUG] failed to write response: connection closed", time.Second))
}
