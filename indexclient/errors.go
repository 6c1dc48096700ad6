package indexclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	rejectedExecution       = "es_rejected_execution_exception"
	rejectedExecutionLegacy = "rejected_execution_exception"
	reduceSearchPhase       = "reduce_search_phase_exception"
	indexAlreadyExists      = "index_already_exists_exception"
	resourceAlreadyExists   = "resource_already_exists_exception"
)

var (
	// ErrIndexAlreadyExists matches the errors returned when creating an
	// index that already exists. Use errors.Is.
	ErrIndexAlreadyExists = errors.New("index already exists")

	// ErrShardFailures is wrapped by the errors returned for search
	// responses with failed shards.
	ErrShardFailures = errors.New("not all shards returned successful")
)

// Error is returned by the client when a request to the index service
// fails, either in the transport or with an error response.
type Error struct {
	// Op is the client operation, e.g. search.
	Op string

	// StatusCode of the response, 0 when no response was received.
	StatusCode int

	// Type of the error reported by the index service.
	Type string

	// RootCauses contains the types of the root causes reported by the
	// index service.
	RootCauses []string

	// Reason reported by the index service.
	Reason string

	// Body is the raw response body.
	Body []byte

	// Err is the transport error.
	Err error

	shards bool
}

// Error returns the normalized message of the error.
func (e *Error) Error() string {
	return e.message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error is ErrIndexAlreadyExists or
// ErrShardFailures.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrIndexAlreadyExists:
		return e.Type == indexAlreadyExists || e.Type == resourceAlreadyExists
	case ErrShardFailures:
		return e.shards
	default:
		return false
	}
}

func (e *Error) message() string {
	switch {
	case e.shards:
		return e.Reason
	case e.Reason != "" && e.Type != "":
		return fmt.Sprintf("%s: %s", e.Type, e.Reason)
	case e.Reason != "":
		return e.Reason
	case e.Err != nil:
		return e.Err.Error()
	case len(e.Body) > 0:
		return string(e.Body)
	case e.Type != "":
		return e.Type
	default:
		return fmt.Sprintf("unexpected response status: %d", e.StatusCode)
	}
}

// ErrorMessage returns the normalized message of an error returned by the
// client: the reason reported by the index service when available,
// otherwise the transport error, otherwise the raw response body.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.message()
	}

	return err.Error()
}

func isRejection(typ string) bool {
	return typ == rejectedExecution || typ == rejectedExecutionLegacy
}

// IsRetriable tells whether a request failed because the index service
// rejected its execution. A reduce phase failure is retriable when all of
// its root causes are rejections.
func IsRetriable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	if isRejection(e.Type) {
		return true
	}

	if e.Type != reduceSearchPhase || len(e.RootCauses) == 0 {
		return false
	}

	for _, rc := range e.RootCauses {
		if !isRejection(rc) {
			return false
		}
	}

	return true
}

// parseError reads the error of an unsuccessful response.
func parseError(op string, status int, body []byte) *Error {
	e := &Error{Op: op, StatusCode: status, Body: body}
	if !gjson.ValidBytes(body) {
		return e
	}

	errValue := gjson.GetBytes(body, "error")
	if errValue.Type == gjson.String {
		e.Reason = errValue.String()
		return e
	}

	e.Type = errValue.Get("type").String()
	e.Reason = errValue.Get("reason").String()
	for _, rc := range errValue.Get("root_cause.#.type").Array() {
		e.RootCauses = append(e.RootCauses, rc.String())
	}

	return e
}

// shardFailures returns an error when the search response reports failed
// shards. The error type is the common reason when all shards failed the
// same way.
func shardFailures(body []byte) *Error {
	if gjson.GetBytes(body, "_shards.failed").Int() == 0 {
		return nil
	}

	var reasons []string
	seen := make(map[string]bool)
	for _, r := range gjson.GetBytes(body, "_shards.failures.#.reason.type").Array() {
		if seen[r.String()] {
			continue
		}

		seen[r.String()] = true
		reasons = append(reasons, r.String())
	}

	if len(reasons) == 0 {
		reasons = []string{"unknown"}
	}

	e := &Error{
		Op:         opSearch,
		StatusCode: http.StatusOK,
		RootCauses: reasons,
		shards:     true,
		Reason:     fmt.Sprintf("%v: %s", ErrShardFailures, strings.Join(reasons, " | ")),
	}

	if len(reasons) == 1 {
		e.Type = reasons[0]
	} else {
		e.Type = "shard_failures"
	}

	return e
}
