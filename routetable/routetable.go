/*
Package routetable implements the live table of the endpoint routes.

A route is mounted at a path prefix: it handles the requests whose path
equals the prefix, or continues it with further path segments. When more
routes match a request, the one with the longest prefix is used. Paths are
cleaned before they are stored or matched.

The handler of an installed route can be replaced without removing the
route. Requests being served, or arriving concurrently, see either the old
or the new handler, never a missing route.
*/
package routetable

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dimfeld/httppath"

	"github.com/zalando/indexroutes/logging"
	"github.com/zalando/indexroutes/metrics"
)

var (
	ErrRouteExists   = errors.New("route already exists")
	ErrRouteNotFound = errors.New("route not found")
	ErrNilHandler    = errors.New("nil handler")
)

type handlerRef struct {
	handler http.Handler
}

// Route is an installed route.
type Route struct {
	path    string
	handler atomic.Pointer[handlerRef]
	removed atomic.Bool
}

// Path returns the cleaned path prefix of the route.
func (r *Route) Path() string {
	return r.path
}

// Handler returns the current handler of the route.
func (r *Route) Handler() http.Handler {
	return r.handler.Load().handler
}

type Options struct {
	Log     logging.Logger
	Metrics metrics.Metrics
}

// Table of the routes. It is safe for concurrent use. It implements
// http.Handler, responding with 404 when no route matches.
type Table struct {
	mu      sync.RWMutex
	routes  map[string]*Route
	log     logging.Logger
	metrics metrics.Metrics
}

var _ http.Handler = &Table{}

func New(o Options) *Table {
	if o.Log == nil {
		o.Log = logging.New()
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	return &Table{
		routes:  make(map[string]*Route),
		log:     o.Log,
		metrics: o.Metrics,
	}
}

// Clean returns the key of a path prefix.
func Clean(path string) string {
	p := httppath.Clean(path)
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}

	return p
}

// Install mounts a handler at the path prefix.
func (t *Table) Install(path string, h http.Handler) (*Route, error) {
	if h == nil {
		return nil, ErrNilHandler
	}

	r := &Route{path: Clean(path)}
	r.handler.Store(&handlerRef{handler: h})

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.routes[r.path]; ok {
		return nil, ErrRouteExists
	}

	t.routes[r.path] = r
	t.log.Debugf("route installed: %s", r.path)
	return r, nil
}

// Remove removes the route of the path prefix, and tells whether it
// existed.
func (t *Table) Remove(path string) bool {
	p := Clean(path)

	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[p]
	if !ok {
		return false
	}

	r.removed.Store(true)
	delete(t.routes, p)
	t.log.Debugf("route removed: %s", p)
	return true
}

// Find returns the route installed at the path prefix.
func (t *Table) Find(path string) (*Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[Clean(path)]
	return r, ok
}

// Replace swaps the handler of an installed route.
func (t *Table) Replace(r *Route, h http.Handler) error {
	if h == nil {
		return ErrNilHandler
	}

	if r == nil || r.removed.Load() {
		return ErrRouteNotFound
	}

	r.handler.Store(&handlerRef{handler: h})
	t.log.Debugf("route handler replaced: %s", r.path)
	return nil
}

// Paths returns the sorted path prefixes of the installed routes.
func (t *Table) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	paths := make([]string, 0, len(t.routes))
	for p := range t.routes {
		paths = append(paths, p)
	}

	sort.Strings(paths)
	return paths
}

// Len returns the number of the installed routes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Match returns the route with the longest prefix matching the path.
func (t *Table) Match(path string) (*Route, bool) {
	p := Clean(path)

	t.mu.RLock()
	defer t.mu.RUnlock()
	for {
		if r, ok := t.routes[p]; ok {
			return r, true
		}

		if p == "/" {
			return nil, false
		}

		i := strings.LastIndexByte(p, '/')
		if i == 0 {
			p = "/"
		} else {
			p = p[:i]
		}
	}
}

func (t *Table) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	r, ok := t.Match(req.URL.Path)
	if !ok {
		t.metrics.IncCounter(metrics.KeyNotFound)
		http.NotFound(w, req)
		return
	}

	w.Header().Set(logging.EndpointHeader, r.path)
	r.Handler().ServeHTTP(w, req)
	t.metrics.MeasureSince(metrics.KeyServe, start)
}
