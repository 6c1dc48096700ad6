package logging

import (
	"net/http"
	"time"
)

// EndpointHeader is set by the route table on the response to name the
// endpoint that served the request. The access log handler reads it.
const EndpointHeader = "X-Endpoint"

type loggingWriter struct {
	writer http.ResponseWriter
	code   int
	bytes  int64
}

func (lw *loggingWriter) Write(data []byte) (count int, err error) {
	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	count, err = lw.writer.Write(data)
	lw.bytes += int64(count)
	return
}

func (lw *loggingWriter) WriteHeader(code int) {
	lw.writer.WriteHeader(code)
	if lw.code == 0 {
		lw.code = code
	}
}

func (lw *loggingWriter) Header() http.Header {
	return lw.writer.Header()
}

func (lw *loggingWriter) Flush() {
	if f, ok := lw.writer.(http.Flusher); ok {
		f.Flush()
	}
}

type loggingHandler struct {
	next http.Handler
}

// NewHandler wraps a handler and writes an access log entry for every
// request it serves.
func NewHandler(next http.Handler) http.Handler {
	return &loggingHandler{next: next}
}

func (lh *loggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	lw := &loggingWriter{writer: w}
	lh.next.ServeHTTP(lw, r)

	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	LogAccess(&AccessEntry{
		Request:      r,
		StatusCode:   lw.code,
		ResponseSize: lw.bytes,
		Duration:     time.Since(now),
		RequestTime:  now,
		Endpoint:     w.Header().Get(EndpointHeader),
	})
}
