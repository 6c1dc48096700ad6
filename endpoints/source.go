package endpoints

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/zalando/indexroutes/indexclient"
	"github.com/zalando/indexroutes/logging"
)

// DefaultMaxConfigs is the default maximum number of configurations
// loaded by a single search.
const DefaultMaxConfigs = 10000

// Searcher is the part of the index client used by the source.
type Searcher interface {
	Search(ctx context.Context, q indexclient.Query) (*indexclient.Result, error)
}

type SourceOptions struct {
	// Index of the endpoint configurations.
	Index string

	Client Searcher

	// MaxConfigs defaults to DefaultMaxConfigs.
	MaxConfigs int

	Log logging.Logger
}

// Source loads the endpoint configurations from the index service. The
// source only reads the index.
type Source struct {
	index      string
	client     Searcher
	maxConfigs int
	log        logging.Logger
}

func NewSource(o SourceOptions) *Source {
	if o.MaxConfigs <= 0 {
		o.MaxConfigs = DefaultMaxConfigs
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	return &Source{
		index:      o.Index,
		client:     o.Client,
		maxConfigs: o.MaxConfigs,
		log:        o.Log,
	}
}

// Index returns the name of the endpoint index.
func (s *Source) Index() string {
	return s.index
}

// LoadAll returns all the endpoint configurations by endpoint. Invalid
// documents are skipped. When more documents have the same endpoint, the
// last one is used.
func (s *Source) LoadAll(ctx context.Context) (map[string]Config, error) {
	r, err := s.client.Search(ctx, indexclient.Query{
		Index: s.index,
		Q:     "*",
		Size:  indexclient.Size(s.maxConfigs),
	})
	if err != nil {
		return nil, err
	}

	var docs []json.RawMessage
	switch r.Kind {
	case indexclient.Documents:
		docs = r.Documents
	case indexclient.Full:
		for _, h := range gjson.GetBytes(r.Raw, "hits.hits.#._source").Array() {
			docs = append(docs, json.RawMessage(h.Raw))
		}
	default:
		return nil, fmt.Errorf("unexpected search result for the endpoint index: %d", r.Kind)
	}

	if r.Total > int64(len(docs)) {
		s.log.Warnf("loaded %d endpoint configurations out of %d", len(docs), r.Total)
	}

	configs := make(map[string]Config, len(docs))
	for _, d := range docs {
		c, err := Parse(d)
		if err != nil {
			s.log.Warnf("skipping endpoint configuration: %v", err)
			continue
		}

		configs[c.Endpoint()] = c
	}

	return configs, nil
}
