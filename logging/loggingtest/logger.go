// Package loggingtest provides a Logger implementation that records the
// entries, and lets tests wait for them.
package loggingtest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zalando/indexroutes/logging"
)

type logSubscription struct {
	exp      string
	n        int
	response chan<- struct{}
}

type countRequest struct {
	exp      string
	response chan<- int
}

type logWatch struct {
	entries []string
	reqs    []*logSubscription
}

type channels struct {
	save   chan string
	notify chan logSubscription
	count  chan countRequest
	clear  chan struct{}
	quit   chan struct{}
}

// TestLogger records every entry prefixed with its level, e.g.
// "[WARN] removing endpoint /a".
type TestLogger struct {
	ch     *channels
	fields string
}

var _ logging.Logger = &TestLogger{}

// ErrWaitTimeout is returned when an expected entry did not arrive in time.
var ErrWaitTimeout = errors.New("timeout")

func (lw *logWatch) save(e string) {
	lw.entries = append(lw.entries, e)
	for i := len(lw.reqs) - 1; i >= 0; i-- {
		req := lw.reqs[i]
		if strings.Contains(e, req.exp) {
			req.n--
			if req.n <= 0 {
				close(req.response)
				lw.reqs = append(lw.reqs[:i], lw.reqs[i+1:]...)
			}
		}
	}
}

func (lw *logWatch) notify(req logSubscription) {
	for i := len(lw.entries) - 1; i >= 0; i-- {
		if strings.Contains(lw.entries[i], req.exp) {
			req.n--
			if req.n == 0 {
				break
			}
		}
	}

	if req.n <= 0 {
		close(req.response)
	} else {
		lw.reqs = append(lw.reqs, &req)
	}
}

func (lw *logWatch) count(exp string) int {
	var n int
	for _, e := range lw.entries {
		if strings.Contains(e, exp) {
			n++
		}
	}

	return n
}

func (lw *logWatch) clear() {
	lw.entries = nil
	lw.reqs = nil
}

// New creates a TestLogger. Close it when done.
func New() *TestLogger {
	lw := &logWatch{}
	ch := &channels{
		save:   make(chan string),
		notify: make(chan logSubscription),
		count:  make(chan countRequest),
		clear:  make(chan struct{}),
		quit:   make(chan struct{}),
	}

	go func() {
		for {
			select {
			case e := <-ch.save:
				lw.save(e)
			case req := <-ch.notify:
				lw.notify(req)
			case req := <-ch.count:
				req.response <- lw.count(req.exp)
			case <-ch.clear:
				lw.clear()
			case <-ch.quit:
				return
			}
		}
	}()

	return &TestLogger{ch: ch}
}

func (tl *TestLogger) store(level, msg string) {
	select {
	case tl.ch.save <- "[" + level + "] " + msg + tl.fields:
	case <-tl.ch.quit:
	}
}

func (tl *TestLogger) logf(level, f string, a ...interface{}) {
	tl.store(level, fmt.Sprintf(f, a...))
}

func (tl *TestLogger) log(level string, a ...interface{}) {
	tl.store(level, fmt.Sprint(a...))
}

// WaitForN waits until exp was found in at least n entries.
func (tl *TestLogger) WaitForN(exp string, n int, to time.Duration) error {
	found := make(chan struct{}, 1)
	tl.ch.notify <- logSubscription{exp, n, found}

	select {
	case <-found:
		return nil
	case <-time.After(to):
		return ErrWaitTimeout
	}
}

// WaitFor waits until exp was found in an entry.
func (tl *TestLogger) WaitFor(exp string, to time.Duration) error {
	return tl.WaitForN(exp, 1, to)
}

// Count returns how many entries contain exp.
func (tl *TestLogger) Count(exp string) int {
	rsp := make(chan int, 1)
	tl.ch.count <- countRequest{exp, rsp}
	return <-rsp
}

// Reset drops the recorded entries and the pending subscriptions.
func (tl *TestLogger) Reset() {
	tl.ch.clear <- struct{}{}
}

// Close stops the recording.
func (tl *TestLogger) Close() {
	close(tl.ch.quit)
}

func (tl *TestLogger) Error(a ...interface{})            { tl.log("ERROR", a...) }
func (tl *TestLogger) Errorf(f string, a ...interface{}) { tl.logf("ERROR", f, a...) }
func (tl *TestLogger) Warn(a ...interface{})             { tl.log("WARN", a...) }
func (tl *TestLogger) Warnf(f string, a ...interface{})  { tl.logf("WARN", f, a...) }
func (tl *TestLogger) Info(a ...interface{})             { tl.log("INFO", a...) }
func (tl *TestLogger) Infof(f string, a ...interface{})  { tl.logf("INFO", f, a...) }
func (tl *TestLogger) Debug(a ...interface{})            { tl.log("DEBUG", a...) }
func (tl *TestLogger) Debugf(f string, a ...interface{}) { tl.logf("DEBUG", f, a...) }

// WithFields returns a logger sharing the recorded entries, appending the
// fields as key=value pairs in key order.
func (tl *TestLogger) WithFields(fields map[string]interface{}) logging.Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	s := tl.fields
	for _, k := range keys {
		s += fmt.Sprintf(" %s=%v", k, fields[k])
	}

	return &TestLogger{ch: tl.ch, fields: s}
}
