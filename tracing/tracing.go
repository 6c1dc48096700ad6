// Package tracing selects the OpenTracing tracer used for the requests sent
// to the index service.
//
// Supported tracers:
//
//	noop                    no tracing (default)
//	basic [options...]      github.com/opentracing/basictracer-go, finished
//	                        spans are written to the application log at
//	                        debug level
//	mock                    github.com/opentracing/opentracing-go/mocktracer,
//	                        finished spans are kept in memory
//
// Options of the basic tracer: drop-all-logs, sample-modulo=<n>,
// max-logs-per-span=<n>.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	basic "github.com/opentracing/basictracer-go"
	ot "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	log "github.com/sirupsen/logrus"
)

// These constants are compatible with the tags in
// github.com/opentracing/opentracing-go/ext/tags.go
const (
	ComponentTag      = "component"
	HTTPUrlTag        = "http.url"
	HTTPMethodTag     = "http.method"
	SpanKindTag       = "span.kind"
	HTTPStatusCodeTag = "http.status_code"
	ErrorTag          = "error"
)

var (
	// ErrUnsupportedTracer is returned when an unsupported opentracing
	// implementation was requested as tracer
	ErrUnsupportedTracer = errors.New("invalid argument, not a supported tracer")
	// ErrMissingArguments is returned when an empty list is passed to InitTracer()
	ErrMissingArguments = errors.New("no arguments passed")
)

type logRecorder struct{}

func (logRecorder) RecordSpan(span basic.RawSpan) {
	log.WithFields(log.Fields{
		"trace":     span.Context.TraceID,
		"span":      span.Context.SpanID,
		"operation": span.Operation,
		"duration":  span.Duration,
		"tags":      span.Tags,
	}).Debug("span finished")
}

// InitTracer creates a tracer. The first element of opts is the name of
// the tracer, the rest are its options.
func InitTracer(opts []string) (ot.Tracer, error) {
	if len(opts) == 0 {
		return nil, ErrMissingArguments
	}

	impl, opts := opts[0], opts[1:]
	switch impl {
	case "noop":
		return &ot.NoopTracer{}, nil
	case "basic":
		return initBasic(opts)
	case "mock":
		return mocktracer.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTracer, impl)
	}
}

func initBasic(opts []string) (ot.Tracer, error) {
	var (
		sampleModulo uint64 = 1
		o                   = basic.DefaultOptions()
		err          error
	)

	for _, opt := range opts {
		k, v, _ := strings.Cut(opt, "=")
		switch k {
		case "drop-all-logs":
			o.DropAllLogs = true
		case "sample-modulo":
			if v == "" {
				return nil, missingArg(k)
			}
			sampleModulo, err = strconv.ParseUint(v, 10, 64)
			if err != nil || sampleModulo == 0 {
				return nil, invalidArg(k, v)
			}
		case "max-logs-per-span":
			if v == "" {
				return nil, missingArg(k)
			}
			o.MaxLogsPerSpan, err = strconv.Atoi(v)
			if err != nil {
				return nil, invalidArg(k, v)
			}
		default:
			return nil, fmt.Errorf("unknown option for the basic tracer: %s", k)
		}
	}

	o.ShouldSample = func(traceID uint64) bool { return traceID%sampleModulo == 0 }
	o.Recorder = logRecorder{}
	return basic.NewWithOptions(o), nil
}

func missingArg(opt string) error {
	return fmt.Errorf("missing argument for %s option", opt)
}

func invalidArg(opt, v string) error {
	return fmt.Errorf("invalid argument for %s option: %q", opt, v)
}

// CreateSpan creates a span with the given name, as a child of the span
// found in the context, if any.
func CreateSpan(name string, ctx context.Context, tracer ot.Tracer) ot.Span {
	parentSpan := ot.SpanFromContext(ctx)
	if parentSpan == nil {
		return tracer.StartSpan(name)
	}

	return tracer.StartSpan(name, ot.ChildOf(parentSpan.Context()))
}
