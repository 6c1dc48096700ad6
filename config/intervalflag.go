package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	errIntervalNotNumber   = errors.New("interval parameter must be a number")
	errIntervalNotPositive = errors.New("interval parameter must be a positive number")
	errIntervalTooLarge    = fmt.Errorf("interval parameter must not be larger than %d", maxIntervalMillis)
)

const maxIntervalMillis = math.MaxInt64 / int64(time.Millisecond)

// intervalFlag is a duration given in milliseconds.
type intervalFlag struct {
	value    string
	duration time.Duration
}

func newIntervalFlag(ms int) *intervalFlag {
	return &intervalFlag{
		value:    strconv.Itoa(ms),
		duration: time.Duration(ms) * time.Millisecond,
	}
}

func (f *intervalFlag) Set(value string) error {
	value = strings.TrimSpace(value)
	ms, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return errIntervalNotNumber
	}

	if ms < 0 {
		return errIntervalNotPositive
	}

	if ms > float64(maxIntervalMillis) {
		return errIntervalTooLarge
	}

	f.value = value
	f.duration = time.Duration(ms * float64(time.Millisecond))
	return nil
}

func (f *intervalFlag) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v interface{}
	if err := unmarshal(&v); err != nil {
		return err
	}

	switch v.(type) {
	case int, int64, uint64, float64, string:
		return f.Set(fmt.Sprint(v))
	default:
		return errIntervalNotNumber
	}
}

func (f *intervalFlag) String() string {
	if f == nil {
		return ""
	}

	return f.value
}

// Duration returns the interval.
func (f *intervalFlag) Duration() time.Duration {
	if f == nil {
		return 0
	}

	return f.duration
}
