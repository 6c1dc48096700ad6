package indexclient

// SetRandom replaces the random source of the timer.
func (t *RetryTimer) SetRandom(f func(n int64) int64) {
	t.random = f
}

var ParseError = parseError
