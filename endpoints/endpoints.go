/*
Package endpoints contains the model of the endpoint configurations, and
the source loading them from the index service.

An endpoint configuration is a JSON document with at least two fields:
the endpoint, the path prefix where the endpoint is served, and the
index, the name of the index queried by the endpoint. Other fields shape
the queries, and are kept as they were stored. The endpoint is the key of
a configuration, two configurations are equal when all their fields are
equal.
*/
package endpoints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
)

const (
	EndpointField = "endpoint"
	IndexField    = "index"
)

// IndexSuffix is appended to the context name to get the name of the
// endpoint index.
const IndexSuffix = "__endpoints"

var ErrMissingEndpoint = errors.New("missing endpoint")

// Config is the configuration of an endpoint. Numbers are stored as
// json.Number.
type Config map[string]interface{}

// IndexName returns the name of the endpoint index of a context.
func IndexName(contextName string) string {
	return contextName + IndexSuffix
}

// Parse decodes an endpoint configuration. The endpoint field is
// required.
func Parse(doc []byte) (Config, error) {
	d := json.NewDecoder(bytes.NewReader(doc))
	d.UseNumber()

	var c Config
	if err := d.Decode(&c); err != nil {
		return nil, fmt.Errorf("invalid endpoint configuration: %w", err)
	}

	if c.Endpoint() == "" {
		return nil, ErrMissingEndpoint
	}

	return c, nil
}

// Endpoint returns the path prefix of the endpoint.
func (c Config) Endpoint() string {
	return c.StringValue(EndpointField)
}

// Index returns the index queried by the endpoint.
func (c Config) Index() string {
	return c.StringValue(IndexField)
}

// StringValue returns a string field, or "" when it is missing or not
// a string.
func (c Config) StringValue(key string) string {
	s, _ := c[key].(string)
	return s
}

// Strings returns a field that is either a string or a list of strings.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case string:
		return []string{v}
	case []interface{}:
		var s []string
		for _, vi := range v {
			if si, ok := vi.(string); ok {
				s = append(s, si)
			}
		}

		return s
	default:
		return nil
	}
}

// Int returns a numeric field, or false if it is missing or not an
// integer.
func (c Config) Int(key string) (int, bool) {
	switch v := c[key].(type) {
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case float64:
		return int(v), v == float64(int(v))
	case int:
		return v, true
	default:
		return 0, false
	}
}

// Bool returns a boolean field.
func (c Config) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Copy returns a deep copy of the configuration.
func (c Config) Copy() Config {
	if c == nil {
		return nil
	}

	return copyValue(map[string]interface{}(c)).(map[string]interface{})
}

func copyValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, vi := range vv {
			m[k] = copyValue(vi)
		}

		return m
	case Config:
		return Config(copyValue(map[string]interface{}(vv)).(map[string]interface{}))
	case []interface{}:
		s := make([]interface{}, len(vv))
		for i, vi := range vv {
			s[i] = copyValue(vi)
		}

		return s
	default:
		return v
	}
}

// JSON returns the configuration as a JSON document.
func (c Config) JSON() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%v", map[string]interface{}(c))
	}

	return string(b)
}

// Equal tells whether two configurations have the same fields with the
// same values.
func Equal(a, b Config) bool {
	return cmp.Equal(a, b)
}

// Diff returns a human readable difference of two configurations.
func Diff(a, b Config) string {
	return cmp.Diff(a, b)
}
