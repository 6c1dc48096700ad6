// Copyright 2015 Zalando SE
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package indexroutes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ot "github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/indexroutes/endpoints"
	"github.com/zalando/indexroutes/indexclient"
	"github.com/zalando/indexroutes/indexmanager"
	"github.com/zalando/indexroutes/logging"
	"github.com/zalando/indexroutes/metrics"
	"github.com/zalando/indexroutes/query"
	"github.com/zalando/indexroutes/reconciler"
	"github.com/zalando/indexroutes/routetable"
	"github.com/zalando/indexroutes/tracing"
)

const (
	defaultAddress         = ":9090"
	defaultContextName     = "teraserver"
	defaultShutdownTimeout = 30 * time.Second

	msgIndexNotReady = "endpoint index is not ready yet"
)

// Options to start the server.
type Options struct {
	// Network address that the endpoints are served on.
	Address string

	// Network address of the /metrics and /health endpoints. When
	// empty, the support listener is disabled.
	SupportListener string

	// URLs of the index service.
	IndexURLs []string

	// Basic authentication of the index service.
	IndexUsername string
	IndexPassword string

	// Timeout of a single request to the index service.
	IndexTimeout time.Duration

	// FullResponse makes the searches return the raw response of the
	// index service.
	FullResponse bool

	// IndexRoundTripper replaces the HTTP transport of the index client.
	IndexRoundTripper http.RoundTripper

	// ContextName determines the name of the endpoint index:
	// <ContextName>__endpoints. Defaults to teraserver.
	ContextName string

	// Interval between the reconciliation passes. When 0, the endpoints
	// are loaded only once.
	Interval time.Duration

	// DefaultQuerySize and MaxQuerySize are used by the default query
	// capability.
	DefaultQuerySize int
	MaxQuerySize     int

	// QueryCapability replaces the default Lucene query capability.
	QueryCapability query.Capability

	// Output file for the application log. Default is stderr.
	ApplicationLogOutput string

	ApplicationLogLevel       log.Level
	ApplicationLogPrefix      string
	ApplicationLogJSONEnabled bool

	// Output file for the access log. Default is stderr.
	AccessLogOutput      string
	AccessLogDisabled    bool
	AccessLogJSONEnabled bool

	// Log is passed to the components. Defaults to the application log.
	Log logging.Logger

	// MetricsFlavours, possible values: codahale, prometheus.
	MetricsFlavours        []string
	MetricsPrefix          string
	EnableRuntimeMetrics   bool
	HistogramMetricBuckets []float64

	// PrometheusRegistry is used by the prometheus metrics. When not
	// set, a new registry is created.
	PrometheusRegistry *prometheus.Registry

	// OpenTracing tracer name and its options, e.g. "basic" or "noop".
	OpenTracing []string

	// ShutdownTimeout of the listeners. Defaults to 30s.
	ShutdownTimeout time.Duration
}

// Server holds the components serving the endpoints.
type Server struct {
	options    Options
	log        logging.Logger
	metrics    metrics.Metrics
	tracer     ot.Tracer
	client     *indexclient.Client
	manager    *indexmanager.Manager
	table      *routetable.Table
	reconciler *reconciler.Reconciler
}

func (o Options) metricsKind() metrics.Kind {
	var kind metrics.Kind
	for _, f := range o.MetricsFlavours {
		kind |= metrics.ParseMetricsKind(f)
	}

	if kind == metrics.UnkownKind {
		kind = metrics.PrometheusKind
	}

	return kind
}

// New creates the components of the server. It does not contact the index
// service, it happens when the server is started with Serve.
func New(o Options) (*Server, error) {
	if o.Address == "" {
		o.Address = defaultAddress
	}

	if o.ContextName == "" {
		o.ContextName = defaultContextName
	}

	if len(o.OpenTracing) == 0 {
		o.OpenTracing = []string{"noop"}
	}

	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaultShutdownTimeout
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	tracer, err := tracing.InitTracer(o.OpenTracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize the tracer: %w", err)
	}

	m := metrics.NewMetrics(metrics.Options{
		Format:               o.metricsKind(),
		Prefix:               o.MetricsPrefix,
		EnableRuntimeMetrics: o.EnableRuntimeMetrics,
		HistogramBuckets:     o.HistogramMetricBuckets,
		PrometheusRegistry:   o.PrometheusRegistry,
	})

	client, err := indexclient.New(indexclient.Options{
		URLs:         o.IndexURLs,
		Timeout:      o.IndexTimeout,
		Username:     o.IndexUsername,
		Password:     o.IndexPassword,
		FullResponse: o.FullResponse,
		RoundTripper: o.IndexRoundTripper,
		Tracer:       tracer,
		Log:          o.Log,
		Metrics:      m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create the index client: %w", err)
	}

	index := endpoints.IndexName(o.ContextName)
	manager := indexmanager.New(indexmanager.Options{
		Index:   index,
		Client:  client,
		Log:     o.Log,
		Metrics: m,
	})

	table := routetable.New(routetable.Options{
		Log:     o.Log,
		Metrics: m,
	})

	capability := o.QueryCapability
	if capability == nil {
		capability = query.NewLucene(query.LuceneOptions{
			DefaultSize: o.DefaultQuerySize,
			MaxSize:     o.MaxQuerySize,
			Log:         o.Log,
		})
	}

	r := reconciler.New(reconciler.Options{
		Source: endpoints.NewSource(endpoints.SourceOptions{
			Index:  index,
			Client: client,
			Log:    o.Log,
		}),
		Table:      table,
		Capability: capability,
		Client:     client,
		Interval:   o.Interval,
		Ready:      manager,
		Log:        o.Log,
		Metrics:    m,
		Tracer:     tracer,
	})

	return &Server{
		options:    o,
		log:        o.Log,
		metrics:    m,
		tracer:     tracer,
		client:     client,
		manager:    manager,
		table:      table,
		reconciler: r,
	}, nil
}

// Handler serves the installed endpoints.
func (s *Server) Handler() http.Handler {
	return logging.NewHandler(wrapPatch(s.table, s.log, s.metrics))
}

// SupportHandler serves the /metrics and the /health endpoints.
func (s *Server) SupportHandler() http.Handler {
	mux := http.NewServeMux()
	s.metrics.RegisterHandler("/metrics", mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !s.manager.IsReady() {
			http.Error(w, msgIndexNotReady, http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// Ready is closed when the endpoint index is ready.
func (s *Server) Ready() <-chan struct{} {
	return s.manager.Ready()
}

// Table returns the route table of the endpoints.
func (s *Server) Table() *routetable.Table {
	return s.table
}

func (s *Server) listen(ctx context.Context, g *errgroup.Group, name string, srv *http.Server) {
	g.Go(func() error {
		s.log.Infof("%s listener on %v", name, srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("%s listener: %w", name, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.log.Errorf("unable to shut down the %s listener: %v", name, err)
		}

		return nil
	})
}

// Serve starts the listeners, makes sure that the endpoint index exists
// and starts the reconciliation of the endpoints. It blocks until the
// context is canceled or a listener fails.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	s.listen(ctx, g, "main", &http.Server{Addr: s.options.Address, Handler: s.Handler()})
	if s.options.SupportListener != "" {
		s.listen(ctx, g, "support", &http.Server{Addr: s.options.SupportListener, Handler: s.SupportHandler()})
	}

	g.Go(func() error {
		if err := s.manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		select {
		case <-s.manager.Ready():
		case <-ctx.Done():
			return nil
		}

		return s.reconciler.Run(ctx)
	})

	return g.Wait()
}

// Close releases the resources of the index client.
func (s *Server) Close() {
	s.client.Close()
}

func openLog(path string) (io.Writer, error) {
	if path == "" {
		return nil, nil
	}

	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
}

func initLog(o Options) error {
	appLog, err := openLog(o.ApplicationLogOutput)
	if err != nil {
		return fmt.Errorf("failed to open the application log: %w", err)
	}

	accessLog, err := openLog(o.AccessLogOutput)
	if err != nil {
		return fmt.Errorf("failed to open the access log: %w", err)
	}

	logging.Init(logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogOutput:      appLog,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogLevelSet:    true,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		AccessLogOutput:           accessLog,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
	})

	return nil
}

// Run initializes the logging, creates the server and serves the endpoints
// until SIGTERM or SIGINT is received.
func Run(o Options) error {
	if err := initLog(o); err != nil {
		return err
	}

	s, err := New(o)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	err = s.Serve(ctx)
	log.Info("server shut down")
	return err
}
