package indexclient

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	initialRetryStart = 5 * time.Second
	initialRetryLimit = 10 * time.Second
	retryStartStep    = 5 * time.Second
	retryLimitStep    = 10 * time.Second
	maxRetryStart     = 30 * time.Second
	maxRetryLimit     = 60 * time.Second
)

// RetryTimer is the backoff of a single operation. The delay of each retry
// is drawn uniformly from the current window, then the window is widened
// for the next retry.
type RetryTimer struct {
	start, limit time.Duration
	random       func(n int64) int64
}

var _ backoff.BackOff = &RetryTimer{}

// NewRetryTimer creates a timer with the initial window.
func NewRetryTimer() *RetryTimer {
	return &RetryTimer{
		start:  initialRetryStart,
		limit:  initialRetryLimit,
		random: rand.Int64N,
	}
}

// Window returns the bounds of the next delay.
func (t *RetryTimer) Window() (start, limit time.Duration) {
	return t.start, t.limit
}

// NextBackOff returns the next delay and widens the window.
func (t *RetryTimer) NextBackOff() time.Duration {
	d := t.start
	if t.limit > t.start {
		d += time.Duration(t.random(int64(t.limit-t.start)/int64(time.Millisecond))) * time.Millisecond
	}

	t.limit = min(t.limit+retryLimitStep, maxRetryLimit)
	t.start = min(t.start+retryStartStep, maxRetryStart)
	return d
}

// Reset restores the initial window.
func (t *RetryTimer) Reset() {
	t.start = initialRetryStart
	t.limit = initialRetryLimit
}
