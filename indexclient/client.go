package indexclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/opentracing/opentracing-go"
	"github.com/tidwall/gjson"

	"github.com/zalando/indexroutes/logging"
	"github.com/zalando/indexroutes/metrics"
	snet "github.com/zalando/indexroutes/net"
)

const (
	opExists   = "exists"
	opCreate   = "create"
	opRecovery = "recovery"
	opSearch   = "search"
)

const (
	DefaultURL     = "http://127.0.0.1:9200"
	DefaultTimeout = 60 * time.Second
)

// Options for creating a client.
type Options struct {
	// URLs of the index service nodes. When a request fails in the
	// transport, the next request is sent to the next URL. Defaults to
	// http://127.0.0.1:9200.
	URLs []string

	// Timeout of a single HTTP request. Defaults to 60 seconds.
	Timeout time.Duration

	// Username and Password are used for basic authentication, when set.
	Username, Password string

	// FullResponse makes Search return the raw response of the index
	// service instead of the source documents of the hits.
	FullResponse bool

	// RoundTripper used for the requests. Defaults to the instrumented
	// transport of the net package.
	RoundTripper http.RoundTripper

	// Tracer used by the default transport.
	Tracer opentracing.Tracer

	// Log is used for the errors and the retries. Defaults to the
	// application log.
	Log logging.Logger

	// Metrics defaults to metrics.Default.
	Metrics metrics.Metrics
}

// Client of the index service. It is safe for concurrent use.
type Client struct {
	urls         []*url.URL
	next         atomic.Uint64
	httpClient   *http.Client
	username     string
	password     string
	fullResponse bool
	log          logging.Logger
	metrics      metrics.Metrics
	newBackOff   func() backoff.BackOff
	quit         chan struct{}
	once         sync.Once
}

// ShardRecovery is the recovery state of a single shard.
type ShardRecovery struct {
	Primary bool
	Stage   string
}

// New creates a client.
func New(o Options) (*Client, error) {
	if len(o.URLs) == 0 {
		o.URLs = []string{DefaultURL}
	}

	var urls []*url.URL
	for _, s := range o.URLs {
		u, err := url.Parse(strings.TrimSuffix(s, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid index service URL %q: %w", s, err)
		}

		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("invalid index service URL %q: unsupported scheme", s)
		}

		if u.User != nil && o.Username == "" {
			o.Username = u.User.Username()
			o.Password, _ = u.User.Password()
			u.User = nil
		}

		urls = append(urls, u)
	}

	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	quit := make(chan struct{})
	if o.RoundTripper == nil {
		o.RoundTripper = snet.NewTransport(snet.Options{
			Timeout:             o.Timeout,
			MaxIdleConnsPerHost: 8,
			Tracer:              o.Tracer,
			SpanName:            "index_request",
		}, quit)
	}

	return &Client{
		urls:         urls,
		httpClient:   &http.Client{Transport: o.RoundTripper, Timeout: o.Timeout},
		username:     o.Username,
		password:     o.Password,
		fullResponse: o.FullResponse,
		log:          o.Log,
		metrics:      o.Metrics,
		newBackOff:   func() backoff.BackOff { return NewRetryTimer() },
		quit:         quit,
	}, nil
}

// Close releases the idle connections of the default transport.
func (c *Client) Close() {
	c.once.Do(func() { close(c.quit) })
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.urls[c.next.Load()%uint64(len(c.urls))]
	u.Path = u.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a single request. The returned response body is read.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body []byte) (int, []byte, error) {
	var rb io.Reader
	if body != nil {
		rb = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), rb)
	if err != nil {
		return 0, nil, &Error{Op: op, Err: err}
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	c.metrics.IncCounter(fmt.Sprintf(metrics.KeyIndexRequest, op))
	rsp, err := c.httpClient.Do(req)
	if err != nil {
		c.next.Add(1)
		return 0, nil, &Error{Op: op, Err: err}
	}

	defer rsp.Body.Close()
	b, err := io.ReadAll(rsp.Body)
	c.metrics.MeasureSince(fmt.Sprintf(metrics.KeyIndexRequestDuration, op), start)
	if err != nil {
		return rsp.StatusCode, nil, &Error{Op: op, StatusCode: rsp.StatusCode, Err: err}
	}

	return rsp.StatusCode, b, nil
}

// retry executes the operation until it succeeds, fails with an error
// that is not retriable, or the context is canceled. Every call uses a
// new retry timer.
func retry[T any](ctx context.Context, c *Client, op string, f func() (T, error)) (T, error) {
	result, err := backoff.Retry(ctx, func() (T, error) {
		r, err := f()
		if err != nil && !IsRetriable(err) {
			return r, backoff.Permanent(err)
		}

		return r, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			c.metrics.IncCounter(fmt.Sprintf(metrics.KeyIndexRetry, op))
			c.log.Infof("index service rejected %s, retrying in %v: %s", op, d, ErrorMessage(err))
		}),
	)

	if err != nil {
		c.metrics.IncCounter(fmt.Sprintf(metrics.KeyIndexError, op))
	}

	return result, err
}

func (c *Client) logged(op string, err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Errorf("index service %s failed: %s", op, ErrorMessage(err))
	}

	return err
}

// IndexExists tells whether the index exists.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	exists, err := retry(ctx, c, opExists, func() (bool, error) {
		status, body, err := c.do(ctx, opExists, "HEAD", "/"+url.PathEscape(index), nil, nil)
		if err != nil {
			return false, err
		}

		switch {
		case status == http.StatusNotFound:
			return false, nil
		case status >= 200 && status < 300:
			return true, nil
		default:
			return false, parseError(opExists, status, body)
		}
	})

	return exists, c.logged(opExists, err)
}

// CreateIndex creates an index with the given mapping document. When the
// index already exists, the returned error matches ErrIndexAlreadyExists.
func (c *Client) CreateIndex(ctx context.Context, index string, mapping []byte) error {
	_, err := retry(ctx, c, opCreate, func() (struct{}, error) {
		status, body, err := c.do(ctx, opCreate, "PUT", "/"+url.PathEscape(index), nil, mapping)
		if err != nil {
			return struct{}{}, err
		}

		if status < 200 || status >= 300 {
			return struct{}{}, parseError(opCreate, status, body)
		}

		return struct{}{}, nil
	})

	if errors.Is(err, ErrIndexAlreadyExists) {
		return err
	}

	return c.logged(opCreate, err)
}

// RecoveryStatus returns the recovery state of the shards, by index name.
// An empty map means that the service has no recovery information yet.
func (c *Client) RecoveryStatus(ctx context.Context, index string) (map[string][]ShardRecovery, error) {
	status, err := retry(ctx, c, opRecovery, func() (map[string][]ShardRecovery, error) {
		status, body, err := c.do(ctx, opRecovery, "GET", "/"+url.PathEscape(index)+"/_recovery", nil, nil)
		if err != nil {
			return nil, err
		}

		if status < 200 || status >= 300 {
			return nil, parseError(opRecovery, status, body)
		}

		if !gjson.ValidBytes(body) {
			return nil, &Error{Op: opRecovery, StatusCode: status, Body: body, Reason: "invalid recovery response"}
		}

		result := make(map[string][]ShardRecovery)
		gjson.ParseBytes(body).ForEach(func(name, value gjson.Result) bool {
			shards := []ShardRecovery{}
			for _, s := range value.Get("shards").Array() {
				shards = append(shards, ShardRecovery{
					Primary: s.Get("primary").Bool(),
					Stage:   s.Get("stage").String(),
				})
			}

			result[name.String()] = shards
			return true
		})

		return result, nil
	})

	return status, c.logged(opRecovery, err)
}

// PrimariesRecovered tells whether every primary shard of the index
// finished its recovery.
func PrimariesRecovered(status map[string][]ShardRecovery, index string) bool {
	shards, ok := status[index]
	if !ok {
		return false
	}

	for _, s := range shards {
		if s.Primary && s.Stage != "DONE" {
			return false
		}
	}

	return true
}
