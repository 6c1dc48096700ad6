package query

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/zalando/indexroutes/indexclient"
	"github.com/zalando/indexroutes/logging"
)

const (
	DefaultSize    = 100
	DefaultMaxSize = 10000
)

var sortExp = regexp.MustCompile(`^[\w.@-]+:(asc|desc)$`)

type badRequest struct {
	msg string
}

func (e badRequest) Error() string { return e.msg }

func badRequestf(f string, a ...interface{}) error {
	return badRequest{msg: fmt.Sprintf(f, a...)}
}

type LuceneOptions struct {
	// DefaultSize is used when neither the request nor the endpoint
	// sets the size. Defaults to 100.
	DefaultSize int

	// MaxSize is the maximum size, when the endpoint does not set
	// max_size. Defaults to 10000.
	MaxSize int

	Log logging.Logger
}

// Lucene is the default capability, querying the index with the Lucene
// query string syntax.
type Lucene struct {
	defaultSize int
	maxSize     int
	log         logging.Logger
}

var _ Capability = &Lucene{}

type response struct {
	Total   int64             `json:"total"`
	Results []json.RawMessage `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewLucene(o LuceneOptions) *Lucene {
	if o.DefaultSize <= 0 {
		o.DefaultSize = DefaultSize
	}

	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	return &Lucene{
		defaultSize: o.DefaultSize,
		maxSize:     o.MaxSize,
		log:         o.Log,
	}
}

func writeJSON(log logging.Logger, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("failed to write response: %v", err)
	}
}

// Serve queries the index with the parameters of the request.
func (l *Lucene) Serve(w http.ResponseWriter, r *http.Request, index string, c Config) {
	flowID := r.Header.Get(FlowIDHeader)
	if flowID == "" {
		flowID = uuid.New().String()
	}

	w.Header().Set(FlowIDHeader, flowID)
	log := l.log.WithFields(map[string]interface{}{"flow_id": flowID, "endpoint": c.Endpoint.Endpoint()})

	q, err := l.buildQuery(r, index, c)
	if err != nil {
		writeJSON(log, w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := c.Client.Search(r.Context(), q)
	if err != nil {
		msg := indexclient.ErrorMessage(err)
		log.Errorf("query failed: %s", msg)
		writeJSON(log, w, http.StatusInternalServerError, errorResponse{Error: msg})
		return
	}

	rsp := response{Total: result.Total, Results: []json.RawMessage{}}
	switch result.Kind {
	case indexclient.Documents:
		rsp.Results = append(rsp.Results, result.Documents...)
	case indexclient.Full:
		for _, h := range gjson.GetBytes(result.Raw, "hits.hits.#._source").Array() {
			rsp.Results = append(rsp.Results, json.RawMessage(h.Raw))
		}
	}

	log.Debugf("query returned %d of %d documents", len(rsp.Results), rsp.Total)
	writeJSON(log, w, http.StatusOK, rsp)
}

func intParam(r *http.Request, name string) (int, bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false, nil
	}

	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, false, badRequestf("%s parameter must be a non-negative integer", name)
	}

	return i, true, nil
}

func (l *Lucene) size(r *http.Request, c Config) (int, error) {
	maxSize := l.maxSize
	if m, ok := c.Endpoint.Int("max_size"); ok && m >= 0 {
		maxSize = m
	}

	size, ok, err := intParam(r, "size")
	if err != nil {
		return 0, err
	}

	if !ok {
		size = l.defaultSize
		if d, ok := c.Endpoint.Int("default_size"); ok && d >= 0 {
			size = d
		}

		return min(size, maxSize), nil
	}

	if size > maxSize {
		return 0, badRequestf("size parameter must not be larger than %d", maxSize)
	}

	return size, nil
}

func (l *Lucene) fields(r *http.Request, c Config) ([]string, error) {
	allowed := c.Endpoint.Strings("fields")
	v := r.URL.Query().Get("fields")
	if v == "" {
		return allowed, nil
	}

	var fields []string
	for _, f := range strings.Split(v, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}

		if len(allowed) > 0 && !slices.Contains(allowed, f) {
			return nil, badRequestf("field not allowed: %s", f)
		}

		fields = append(fields, f)
	}

	return fields, nil
}

func (l *Lucene) sort(r *http.Request, c Config) ([]string, error) {
	v := r.URL.Query().Get("sort")
	if v == "" {
		if d := c.Endpoint.StringValue("sort_default"); d != "" {
			return []string{d}, nil
		}

		return nil, nil
	}

	if !c.Endpoint.Bool("sort_enabled") {
		return nil, badRequestf("sorting is not enabled for this endpoint")
	}

	if !sortExp.MatchString(v) {
		return nil, badRequestf("sort parameter must have the format field:asc or field:desc")
	}

	return []string{v}, nil
}

func dateRange(r *http.Request, c Config) (string, error) {
	start := r.URL.Query().Get("date_start")
	end := r.URL.Query().Get("date_end")
	if start == "" && end == "" {
		return "", nil
	}

	field := c.Endpoint.StringValue("date_field")
	if field == "" {
		return "", badRequestf("date range is not supported by this endpoint")
	}

	if start == "" {
		start = "*"
	}

	if end == "" {
		end = "*"
	}

	return fmt.Sprintf("%s:[%s TO %s]", field, start, end), nil
}

// grouped checks that a query cannot close the group it is embedded in.
// Escaped characters and quoted phrases are skipped.
func grouped(name, q string) error {
	var depth int
	var quoted, escaped bool
	for _, c := range q {
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return badRequestf("%s has unbalanced parentheses", name)
			}
		}
	}

	switch {
	case depth != 0:
		return badRequestf("%s has unbalanced parentheses", name)
	case quoted:
		return badRequestf("%s has an unterminated phrase", name)
	case escaped:
		return badRequestf("%s ends with an escape character", name)
	default:
		return nil
	}
}

func (l *Lucene) buildQuery(r *http.Request, index string, c Config) (indexclient.Query, error) {
	q := indexclient.Query{Index: index}

	var parts []string
	if eq := c.Endpoint.StringValue("query"); eq != "" {
		parts = append(parts, eq)
	}

	if rq := r.URL.Query().Get("q"); rq != "" {
		if err := grouped("q parameter", rq); err != nil {
			return q, err
		}

		parts = append(parts, rq)
	}

	dr, err := dateRange(r, c)
	if err != nil {
		return q, err
	}

	if dr != "" {
		if err := grouped("date range", dr); err != nil {
			return q, err
		}

		parts = append(parts, dr)
	}

	switch len(parts) {
	case 0:
		q.Q = "*"
	case 1:
		q.Q = parts[0]
	default:
		q.Q = "(" + strings.Join(parts, ") AND (") + ")"
	}

	size, err := l.size(r, c)
	if err != nil {
		return q, err
	}

	q.Size = indexclient.Size(size)

	if q.From, _, err = intParam(r, "start"); err != nil {
		return q, err
	}

	if q.Fields, err = l.fields(r, c); err != nil {
		return q, err
	}

	if q.Sort, err = l.sort(r, c); err != nil {
		return q, err
	}

	return q, nil
}
