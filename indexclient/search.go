package indexclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Query of a search request.
type Query struct {
	// Index to search, wildcards are allowed.
	Index string

	// Q is a query in the Lucene query string syntax.
	Q string

	// Size is the maximum number of hits. When nil, the default of the
	// index service applies. When 0, only the count of the matching
	// documents is returned.
	Size *int

	// From is the offset of the first hit.
	From int

	// Sort, e.g. "date:desc".
	Sort []string

	// Fields to include from the source documents.
	Fields []string

	// Body is an optional JSON search body.
	Body []byte
}

// ResultKind tells which field of a Result is set.
type ResultKind int

const (
	// Documents contains the source documents.
	Documents ResultKind = iota

	// Count contains only the total count.
	Count

	// Full contains the raw response.
	Full
)

// Result of a search. Total is always set.
type Result struct {
	Kind      ResultKind
	Total     int64
	Documents []json.RawMessage
	Raw       json.RawMessage
}

// Size returns a pointer to n, for Query.Size.
func Size(n int) *int {
	return &n
}

func (q Query) values() url.Values {
	v := make(url.Values)
	if q.Q != "" {
		v.Set("q", q.Q)
	}

	if q.Size != nil {
		v.Set("size", strconv.Itoa(*q.Size))
	}

	if q.From > 0 {
		v.Set("from", strconv.Itoa(q.From))
	}

	if len(q.Sort) > 0 {
		v.Set("sort", strings.Join(q.Sort, ","))
	}

	if len(q.Fields) > 0 {
		v.Set("_source_includes", strings.Join(q.Fields, ","))
	}

	return v
}

// Search executes the query. Failed shards make the search fail, unless
// all of them rejected the execution, in which case the search is
// retried. Failures are not logged, the caller logs them.
func (c *Client) Search(ctx context.Context, q Query) (*Result, error) {
	method := "GET"
	if q.Body != nil {
		method = "POST"
	}

	counting := q.Size != nil && *q.Size == 0
	r, err := retry(ctx, c, opSearch, func() (*Result, error) {
		status, body, err := c.do(ctx, opSearch, method, "/"+url.PathEscape(q.Index)+"/_search", q.values(), q.Body)
		if err != nil {
			return nil, err
		}

		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return nil, parseError(opSearch, status, body)
		}

		if !gjson.ValidBytes(body) {
			return nil, &Error{Op: opSearch, StatusCode: status, Body: body, Reason: "invalid search response"}
		}

		if err := shardFailures(body); err != nil {
			return nil, err
		}

		return c.result(counting, body), nil
	})

	return r, err
}

func (c *Client) result(counting bool, body []byte) *Result {
	r := &Result{}

	// the total is either a number or an object with a value since 7.0
	total := gjson.GetBytes(body, "hits.total")
	if total.IsObject() {
		total = total.Get("value")
	}

	r.Total = total.Int()

	switch {
	case counting:
		r.Kind = Count
	case c.fullResponse:
		r.Kind = Full
		r.Raw = json.RawMessage(body)
	default:
		r.Kind = Documents
		r.Documents = []json.RawMessage{}
		for _, h := range gjson.GetBytes(body, "hits.hits.#._source").Array() {
			r.Documents = append(r.Documents, json.RawMessage(h.Raw))
		}
	}

	return r
}
