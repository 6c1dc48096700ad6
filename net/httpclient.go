package net

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/zalando/indexroutes/tracing"
)

const defaultSpanName = "index_request"

// Options are mostly passed to the http.Transport of the same
// name. Options.Timeout can be used as default for all timeouts, that
// are not set. You can pass an opentracing.Tracer
// https://godoc.org/github.com/opentracing/opentracing-go#Tracer,
// which can be nil to get the
// https://godoc.org/github.com/opentracing/opentracing-go#NoopTracer.
type Options struct {
	// DisableKeepAlives see https://golang.org/pkg/net/http/#Transport.DisableKeepAlives
	DisableKeepAlives bool
	// MaxIdleConns see https://golang.org/pkg/net/http/#Transport.MaxIdleConns
	MaxIdleConns int
	// MaxIdleConnsPerHost see https://golang.org/pkg/net/http/#Transport.MaxIdleConnsPerHost
	MaxIdleConnsPerHost int
	// Timeout sets all Timeouts, that are set to 0 to the given
	// value. Basically it's the default timeout value.
	Timeout time.Duration
	// TLSHandshakeTimeout see
	// https://golang.org/pkg/net/http/#Transport.TLSHandshakeTimeout,
	// if not set or set to 0, its using Options.Timeout.
	TLSHandshakeTimeout time.Duration
	// IdleConnTimeout see
	// https://golang.org/pkg/net/http/#Transport.IdleConnTimeout,
	// if not set or set to 0, its using Options.Timeout.
	IdleConnTimeout time.Duration
	// ResponseHeaderTimeout see
	// https://golang.org/pkg/net/http/#Transport.ResponseHeaderTimeout,
	// if not set or set to 0, its using Options.Timeout.
	ResponseHeaderTimeout time.Duration
	// Insecure skips the verification of the TLS certificates.
	Insecure bool
	// Tracer
	Tracer opentracing.Tracer
	// SpanName of the client spans, defaults to index_request.
	SpanName string
}

// Transport is an http.RoundTripper creating a client span for every
// request, and closing the idle connections periodically.
type Transport struct {
	tr       *http.Transport
	tracer   opentracing.Tracer
	spanName string
}

var _ http.RoundTripper = &Transport{}

// NewTransport creates a Transport. The idle connections are closed until
// quit is closed.
func NewTransport(options Options, quit <-chan struct{}) *Transport {
	// set default tracer
	if options.Tracer == nil {
		options.Tracer = &opentracing.NoopTracer{}
	}

	if options.SpanName == "" {
		options.SpanName = defaultSpanName
	}

	// set timeout defaults
	if options.TLSHandshakeTimeout == 0 {
		options.TLSHandshakeTimeout = options.Timeout
	}
	if options.IdleConnTimeout == 0 {
		options.IdleConnTimeout = options.Timeout
	}
	if options.ResponseHeaderTimeout == 0 {
		options.ResponseHeaderTimeout = options.Timeout
	}

	htransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DisableKeepAlives:     options.DisableKeepAlives,
		MaxIdleConns:          options.MaxIdleConns,
		MaxIdleConnsPerHost:   options.MaxIdleConnsPerHost,
		ResponseHeaderTimeout: options.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   options.TLSHandshakeTimeout,
		IdleConnTimeout:       options.IdleConnTimeout,
	}

	if options.Insecure {
		htransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if options.IdleConnTimeout > 0 {
		go func() {
			ticker := time.NewTicker(options.IdleConnTimeout)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					htransport.CloseIdleConnections()
				case <-quit:
					htransport.CloseIdleConnections()
					return
				}
			}
		}()
	}

	return &Transport{
		tr:       htransport,
		tracer:   options.Tracer,
		spanName: options.SpanName,
	}
}

// RoundTrip implements http.RoundTripper. The span of the request is a
// child of the span found in the request context.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	span := tracing.CreateSpan(t.spanName, req.Context(), t.tracer)
	defer span.Finish()

	span.SetTag(tracing.SpanKindTag, "client")
	span.SetTag(tracing.HTTPUrlTag, req.URL.String())
	span.SetTag(tracing.HTTPMethodTag, req.Method)

	req = req.Clone(req.Context())
	_ = t.tracer.Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(req.Header))
	req = injectClientTrace(req, span)

	rsp, err := t.tr.RoundTrip(req)
	if err != nil {
		span.SetTag(tracing.ErrorTag, true)
		span.LogKV("event", "error", "message", err.Error())
		return nil, err
	}

	span.SetTag(tracing.HTTPStatusCodeTag, strconv.Itoa(rsp.StatusCode))
	if rsp.StatusCode >= http.StatusInternalServerError {
		span.SetTag(tracing.ErrorTag, true)
	}

	return rsp, nil
}

func injectClientTrace(req *http.Request, span opentracing.Span) *http.Request {
	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			span.LogKV("DNS", "start")
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			span.LogKV("DNS", "end")
		},
		ConnectStart: func(string, string) {
			span.LogKV("connect", "start")
		},
		ConnectDone: func(string, string, error) {
			span.LogKV("connect", "end")
		},
		TLSHandshakeStart: func() {
			span.LogKV("TLS", "start")
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			span.LogKV("TLS", "end")
		},
		GetConn: func(string) {
			span.LogKV("get_conn", "start")
		},
		GotConn: func(httptrace.GotConnInfo) {
			span.LogKV("get_conn", "end")
		},
	}
	return req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
}
