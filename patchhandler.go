package indexroutes

import (
	"net/http"
	"regexp"

	"github.com/zalando/indexroutes/logging"
	"github.com/zalando/indexroutes/metrics"
)

// lookup injection attempts, e.g. ${jndi:ldap://...}, also in the
// query parameters that end up in the index queries
var jndiRx = regexp.MustCompile(`\W\Wjndi:`)

type patchHandler struct {
	next    http.Handler
	log     logging.Logger
	metrics metrics.Metrics
}

func wrapPatch(next http.Handler, l logging.Logger, m metrics.Metrics) http.Handler {
	return &patchHandler{next: next, log: l, metrics: m}
}

func matchJNDI(s string) bool {
	return jndiRx.MatchString(s)
}

func suspicious(r *http.Request) bool {
	if matchJNDI(r.RequestURI) {
		return true
	}

	for k, v := range r.Header {
		if matchJNDI(k) {
			return true
		}

		for _, vi := range v {
			if matchJNDI(vi) {
				return true
			}
		}
	}

	return false
}

func (p *patchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if suspicious(r) {
		p.metrics.IncCounter(metrics.KeyRejected)
		p.log.Debugf("rejected request to %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	p.next.ServeHTTP(w, r)
}
