/*
Package query contains the capability serving the requests of the
endpoint routes, and its default implementation, querying the index
service with the Lucene query string syntax.

Request parameters of the default implementation:

	q           Lucene query, combined with the query of the endpoint
	size        number of the returned documents
	start       offset of the first returned document
	sort        field:asc or field:desc
	fields      comma separated list of the returned fields
	date_start  start of the date range, when the endpoint has a date field
	date_end    end of the date range, when the endpoint has a date field

Fields of the endpoint configuration shaping the queries:

	query         query required for every request
	max_size      maximum of the size parameter
	default_size  size used when the request has no size parameter
	fields        fields allowed to be returned, all of them by default
	sort_enabled  allows the sort parameter
	sort_default  sort used when the request has no sort parameter
	date_field    field used for the date range

The response is a JSON object with the total count of the matching
documents and the returned documents.
*/
package query

import (
	"context"
	"net/http"

	"github.com/zalando/indexroutes/endpoints"
	"github.com/zalando/indexroutes/indexclient"
)

// FlowIDHeader carries the id of a request.
const FlowIDHeader = "X-Flow-Id"

// Searcher is the part of the index client used to serve queries.
type Searcher interface {
	Search(ctx context.Context, q indexclient.Query) (*indexclient.Result, error)
}

// Config is the configuration of a single request: a copy of the
// endpoint configuration and the client of the index service.
type Config struct {
	Endpoint endpoints.Config
	Client   Searcher
}

// Capability serves the requests of the endpoints.
type Capability interface {
	Serve(w http.ResponseWriter, r *http.Request, index string, c Config)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(w http.ResponseWriter, r *http.Request, index string, c Config)

func (f CapabilityFunc) Serve(w http.ResponseWriter, r *http.Request, index string, c Config) {
	f(w, r, index, c)
}

// Handler returns the handler of an endpoint route. Every request gets
// its own copy of the endpoint configuration, and queries the index of
// the configuration.
func Handler(c Capability, endpoint endpoints.Config, client Searcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Serve(w, r, endpoint.Index(), Config{
			Endpoint: endpoint.Copy(),
			Client:   client,
		})
	})
}
