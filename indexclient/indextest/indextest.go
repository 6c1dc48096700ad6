// Package indextest provides an in-memory fake of the index service, and
// a helper starting a real Elasticsearch in a container.
package indextest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
)

// Op names the operations of the fake service.
type Op string

const (
	Exists   Op = "exists"
	Create   Op = "create"
	Recovery Op = "recovery"
	Search   Op = "search"
)

// Response is a canned response returned instead of the regular one.
type Response struct {
	Status int
	Body   string
}

// Rejected is the response of an overloaded service.
var Rejected = Response{
	Status: http.StatusTooManyRequests,
	Body:   `{"error":{"type":"es_rejected_execution_exception","reason":"rejected execution"},"status":429}`,
}

// ShardFailures returns a search response where the shards failed with
// the given reasons.
func ShardFailures(reasons ...string) Response {
	var failures []string
	for i, r := range reasons {
		failures = append(failures, fmt.Sprintf(`{"shard":%d,"reason":{"type":%q,"reason":"failed"}}`, i, r))
	}

	return Response{
		Status: http.StatusOK,
		Body: fmt.Sprintf(
			`{"_shards":{"total":%d,"successful":0,"failed":%d,"failures":[%s]},"hits":{"total":0,"hits":[]}}`,
			len(reasons), len(reasons), strings.Join(failures, ","),
		),
	}
}

type index struct {
	mapping  json.RawMessage
	docs     []json.RawMessage
	recovery []string
}

// Service is a fake index service. It supports the index existence
// check, the index creation, the recovery status and simple searches:
// the query "*", or field:value terms joined by AND.
type Service struct {
	mu       sync.Mutex
	indices  map[string]*index
	canned   map[Op][]Response
	requests map[Op]int
	queries  []string
}

var _ http.Handler = &Service{}

// New creates an empty fake service.
func New() *Service {
	return &Service{
		indices:  make(map[string]*index),
		canned:   make(map[Op][]Response),
		requests: make(map[Op]int),
	}
}

// Enqueue sets responses returned, in order, for the next requests of an
// operation.
func (s *Service) Enqueue(op Op, r ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned[op] = append(s.canned[op], r...)
}

// Put stores documents in an index, creating it when necessary.
func (s *Service) Put(name string, docs ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ix := s.getOrCreate(name)
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			panic(err)
		}

		ix.docs = append(ix.docs, b)
	}
}

// Replace replaces the documents of an index, creating it when necessary.
func (s *Service) Replace(name string, docs ...interface{}) {
	s.mu.Lock()
	s.getOrCreate(name).docs = nil
	s.mu.Unlock()
	s.Put(name, docs...)
}

// SetRecovery sets the recovery stages of the primary shards of an index.
func (s *Service) SetRecovery(name string, stages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(name).recovery = stages
}

// HasIndex tells whether the index was created.
func (s *Service) HasIndex(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indices[name]
	return ok
}

// Mapping returns the mapping the index was created with.
func (s *Service) Mapping(name string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ix, ok := s.indices[name]; ok {
		return ix.mapping
	}

	return nil
}

// Requests returns the number of the received requests of an operation.
func (s *Service) Requests(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[op]
}

// Queries returns the query strings of the received searches.
func (s *Service) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// RoundTripper returns a transport calling the service directly, without
// a network connection.
func (s *Service) RoundTripper() http.RoundTripper {
	return roundTripper{s}
}

type roundTripper struct {
	service *Service
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	rec := httptest.NewRecorder()
	rt.service.ServeHTTP(rec, req)
	rsp := rec.Result()
	rsp.Request = req
	return rsp, nil
}

func (s *Service) getOrCreate(name string) *index {
	ix, ok := s.indices[name]
	if !ok {
		ix = &index{recovery: []string{"DONE"}}
		s.indices[name] = ix
	}

	return ix
}

func (s *Service) next(op Op) (Response, bool) {
	s.requests[op]++
	if len(s.canned[op]) == 0 {
		return Response{}, false
	}

	r := s.canned[op][0]
	s.canned[op] = s.canned[op][1:]
	return r, true
}

func (s *Service) match(pattern string) []*index {
	var m []*index
	for name, ix := range s.indices {
		if ok, _ := path.Match(pattern, name); ok {
			m = append(m, ix)
		}
	}

	return m
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func notFound(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusNotFound, fmt.Sprintf(
		`{"error":{"root_cause":[{"type":"index_not_found_exception","reason":"no such index [%s]"}],"type":"index_not_found_exception","reason":"no such index [%s]"},"status":404}`,
		name, name,
	))
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	name := parts[0]

	var op Op
	switch {
	case len(parts) == 1 && r.Method == "HEAD":
		op = Exists
	case len(parts) == 1 && r.Method == "PUT":
		op = Create
	case len(parts) == 2 && parts[1] == "_recovery":
		op = Recovery
	case len(parts) == 2 && parts[1] == "_search":
		op = Search
	default:
		writeJSON(w, http.StatusBadRequest, `{"error":{"type":"illegal_argument_exception","reason":"unsupported request"},"status":400}`)
		return
	}

	if c, ok := s.next(op); ok {
		writeJSON(w, c.Status, c.Body)
		return
	}

	switch op {
	case Exists:
		if _, ok := s.indices[name]; ok {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case Create:
		s.create(w, r, name)
	case Recovery:
		s.recovery(w, name)
	case Search:
		s.search(w, r, name)
	}
}

func (s *Service) create(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := s.indices[name]; ok {
		writeJSON(w, http.StatusBadRequest, fmt.Sprintf(
			`{"error":{"root_cause":[{"type":"resource_already_exists_exception","reason":"index [%s] already exists"}],"type":"resource_already_exists_exception","reason":"index [%s] already exists"},"status":400}`,
			name, name,
		))
		return
	}

	b, _ := io.ReadAll(r.Body)
	ix := s.getOrCreate(name)
	ix.mapping = b
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"acknowledged":true,"shards_acknowledged":true,"index":%q}`, name))
}

func (s *Service) recovery(w http.ResponseWriter, name string) {
	ix, ok := s.indices[name]
	if !ok {
		notFound(w, name)
		return
	}

	var shards []string
	for i, stage := range ix.recovery {
		shards = append(shards, fmt.Sprintf(`{"id":%d,"primary":true,"stage":%q}`, i, stage))
		shards = append(shards, fmt.Sprintf(`{"id":%d,"primary":false,"stage":"INIT"}`, i))
	}

	writeJSON(w, http.StatusOK, fmt.Sprintf(`{%q:{"shards":[%s]}}`, name, strings.Join(shards, ",")))
}

func (s *Service) search(w http.ResponseWriter, r *http.Request, name string) {
	indices := s.match(name)
	if len(indices) == 0 && !strings.Contains(name, "*") {
		notFound(w, name)
		return
	}

	q := r.URL.Query()
	s.queries = append(s.queries, q.Get("q"))

	var hits []json.RawMessage
	for _, ix := range indices {
		for _, d := range ix.docs {
			if matches(d, q.Get("q")) {
				hits = append(hits, d)
			}
		}
	}

	total := len(hits)
	from, _ := strconv.Atoi(q.Get("from"))
	size := 10
	if v := q.Get("size"); v != "" {
		size, _ = strconv.Atoi(v)
	}

	hits = hits[min(from, len(hits)):]
	hits = hits[:min(size, len(hits))]

	var items []string
	for i, h := range hits {
		items = append(items, fmt.Sprintf(`{"_index":%q,"_id":"%d","_source":%s}`, name, from+i, h))
	}

	writeJSON(w, http.StatusOK, fmt.Sprintf(
		`{"took":1,"timed_out":false,"_shards":{"total":1,"successful":1,"failed":0},"hits":{"total":{"value":%d,"relation":"eq"},"hits":[%s]}}`,
		total, strings.Join(items, ","),
	))
}

func matches(doc json.RawMessage, q string) bool {
	for _, term := range strings.Split(q, " AND ") {
		if !matchTerm(doc, strings.Trim(term, "()")) {
			return false
		}
	}

	return true
}

func matchTerm(doc json.RawMessage, q string) bool {
	if q == "" || q == "*" {
		return true
	}

	field, value, ok := strings.Cut(q, ":")
	if !ok {
		return false
	}

	var m map[string]interface{}
	if err := json.Unmarshal(doc, &m); err != nil {
		return false
	}

	v, ok := m[field]
	if !ok {
		return false
	}

	if value == "*" {
		return true
	}

	return fmt.Sprint(v) == strings.Trim(value, `"`)
}
