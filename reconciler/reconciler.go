package reconciler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ot "github.com/opentracing/opentracing-go"

	"github.com/zalando/indexroutes/endpoints"
	"github.com/zalando/indexroutes/indexclient"
	"github.com/zalando/indexroutes/indexmanager"
	"github.com/zalando/indexroutes/logging"
	"github.com/zalando/indexroutes/metrics"
	"github.com/zalando/indexroutes/query"
	"github.com/zalando/indexroutes/routetable"
	"github.com/zalando/indexroutes/tracing"
)

const (
	LogReconcilerStarted = "starting endpoint reconciliation"
	LogReconcilerStopped = "endpoint reconciliation stopped"
	LogLoadingFailed     = "Error while loading endpoints"
)

// DefaultInterval between the passes.
const DefaultInterval = 10 * time.Minute

var ErrPassInProgress = errors.New("reconciliation pass in progress")

// Source of the endpoint configurations, by endpoint.
type Source interface {
	LoadAll(ctx context.Context) (map[string]endpoints.Config, error)
}

// RouteTable is the table changed by the reconciler.
type RouteTable interface {
	Install(path string, h http.Handler) (*routetable.Route, error)
	Remove(path string) bool
	Find(path string) (*routetable.Route, bool)
	Replace(r *routetable.Route, h http.Handler) error
}

type Options struct {
	Source Source
	Table  RouteTable

	// Capability serves the requests of the endpoints.
	Capability query.Capability

	// Client passed to the capability.
	Client query.Searcher

	// Interval between the passes. When 0, only the first pass is
	// executed.
	Interval time.Duration

	// Ready gates the first pass. When nil, the first pass is not
	// delayed.
	Ready indexmanager.Readiness

	// ReadyPollInterval defaults to 3s.
	ReadyPollInterval time.Duration

	Log     logging.Logger
	Metrics metrics.Metrics
	Tracer  ot.Tracer
}

// Changes of a pass, the lists contain sorted endpoints.
type Changes struct {
	Added   []string
	Updated []string
	Removed []string
}

// Empty tells whether the pass changed nothing.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

type Reconciler struct {
	options  Options
	pass     sync.Mutex
	snapshot atomic.Pointer[map[string]endpoints.Config]
}

func New(o Options) *Reconciler {
	if o.Capability == nil {
		o.Capability = query.NewLucene(query.LuceneOptions{Log: o.Log})
	}

	if o.ReadyPollInterval <= 0 {
		o.ReadyPollInterval = indexmanager.DefaultReadyPollInterval
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	if o.Tracer == nil {
		o.Tracer = &ot.NoopTracer{}
	}

	r := &Reconciler{options: o}
	empty := make(map[string]endpoints.Config)
	r.snapshot.Store(&empty)
	return r
}

// Snapshot returns the configurations applied by the last successful
// pass.
func (r *Reconciler) Snapshot() map[string]endpoints.Config {
	s := *r.snapshot.Load()
	c := make(map[string]endpoints.Config, len(s))
	for k, v := range s {
		c[k] = v.Copy()
	}

	return c
}

// Diff compares the previous and the current configurations.
func Diff(previous, current map[string]endpoints.Config) Changes {
	var c Changes
	for k, p := range previous {
		n, ok := current[k]
		switch {
		case !ok:
			c.Removed = append(c.Removed, k)
		case !endpoints.Equal(p, n):
			c.Updated = append(c.Updated, k)
		}
	}

	for k := range current {
		if _, ok := previous[k]; !ok {
			c.Added = append(c.Added, k)
		}
	}

	sort.Strings(c.Added)
	sort.Strings(c.Updated)
	sort.Strings(c.Removed)
	return c
}

// normalize keys the configurations by their cleaned route path. When
// more endpoints have the same path, the one sorting first is kept.
func normalize(configs map[string]endpoints.Config) map[string]endpoints.Config {
	n := make(map[string]endpoints.Config, len(configs))
	for k, c := range configs {
		p := routetable.Clean(k)
		if prev, ok := n[p]; ok && prev.Endpoint() < c.Endpoint() {
			continue
		}

		n[p] = c
	}

	return n
}

func (r *Reconciler) handler(c endpoints.Config) http.Handler {
	return query.Handler(r.options.Capability, c, r.options.Client)
}

// Pass executes a reconciliation pass.
func (r *Reconciler) Pass(ctx context.Context) (Changes, error) {
	if !r.pass.TryLock() {
		r.options.Metrics.IncCounter(metrics.KeyPassSkipped)
		r.options.Log.Debug("skipping reconciliation pass, another pass is in progress")
		return Changes{}, ErrPassInProgress
	}

	defer r.pass.Unlock()

	start := time.Now()
	defer r.options.Metrics.MeasureSince(metrics.KeyPass, start)

	span := tracing.CreateSpan("reconcile_endpoints", ctx, r.options.Tracer)
	defer span.Finish()
	ctx = ot.ContextWithSpan(ctx, span)

	log := r.options.Log.WithFields(map[string]interface{}{"pass": uuid.New().String()})

	loaded, err := r.options.Source.LoadAll(ctx)
	if err != nil {
		msg := indexclient.ErrorMessage(err)
		log.Errorf("%s, error: %s", LogLoadingFailed, msg)
		r.options.Metrics.IncCounter(metrics.KeyPassFailed)
		span.SetTag(tracing.ErrorTag, true)
		span.LogKV("event", "error", "message", msg)
		return Changes{}, err
	}

	current := normalize(loaded)
	previous := *r.snapshot.Load()
	changes := Diff(previous, current)

	for _, p := range changes.Removed {
		log.Warnf("removing endpoint %s", p)
		r.options.Table.Remove(p)
	}

	for _, p := range changes.Updated {
		log.Warnf("Configuration for endpoint %s has changed, changing its handle", p)
		log.Debugf("changes of endpoint %s: %s", p, endpoints.Diff(previous[p], current[p]))
		r.replace(log, p, current[p])
	}

	for _, p := range changes.Added {
		log.Infof("Setting endpoint %s with configuration: %s", p, current[p].JSON())
		r.install(log, p, current[p])
	}

	r.snapshot.Store(&current)

	r.options.Metrics.IncCounterBy(metrics.KeyRoutesAdded, int64(len(changes.Added)))
	r.options.Metrics.IncCounterBy(metrics.KeyRoutesUpdated, int64(len(changes.Updated)))
	r.options.Metrics.IncCounterBy(metrics.KeyRoutesRemoved, int64(len(changes.Removed)))
	r.options.Metrics.UpdateGauge(metrics.KeyRoutes, float64(len(current)))

	span.SetTag("endpoints.count", len(current))
	span.SetTag("endpoints.added", len(changes.Added))
	span.SetTag("endpoints.updated", len(changes.Updated))
	span.SetTag("endpoints.removed", len(changes.Removed))

	return changes, nil
}

func (r *Reconciler) replace(log logging.Logger, path string, c endpoints.Config) {
	route, ok := r.options.Table.Find(path)
	if !ok {
		log.Warnf("route of endpoint %s not found, installing it", path)
		r.install(log, path, c)
		return
	}

	if err := r.options.Table.Replace(route, r.handler(c)); err != nil {
		log.Errorf("failed to replace the handler of endpoint %s: %v", path, err)
	}
}

func (r *Reconciler) install(log logging.Logger, path string, c endpoints.Config) {
	_, err := r.options.Table.Install(path, r.handler(c))
	if errors.Is(err, routetable.ErrRouteExists) {
		r.replace(log, path, c)
		return
	}

	if err != nil {
		log.Errorf("failed to install endpoint %s: %v", path, err)
	}
}

// Run waits for the readiness of the index, executes the first pass, and
// then a pass on every interval, until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.options.Ready != nil {
		if err := indexmanager.WaitReady(ctx, r.options.Ready, r.options.ReadyPollInterval); err != nil {
			return nil
		}
	}

	r.options.Log.Infof("%s, interval: %v", LogReconcilerStarted, r.options.Interval)
	r.Pass(ctx)

	if r.options.Interval <= 0 {
		return nil
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(r.options.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.options.Log.Info(LogReconcilerStopped)
			return nil
		case <-ticker.C:
			// a pass may take longer than the interval, the next
			// one is skipped then
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Pass(ctx)
			}()
		}
	}
}
