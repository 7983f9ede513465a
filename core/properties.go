package core

import (
	"strconv"
	"strings"
)

// Well-known binder property keys.
const (
	PropGroup                  = "group"
	PropConcurrency            = "concurrency"
	PropPartitionCount         = "partitionCount"
	PropPartitionKeyExpression = "partitionKeyExpression"
	PropMinPartitionCount      = "minPartitionCount"
	PropCount                  = "count"
	PropPartitionIndex         = "partitionIndex"
	PropNextModuleCount        = "nextModuleCount"
)

// Properties is a string bag of consumer, producer or binder settings.
type Properties map[string]string

// Clone copies p. Cloning nil yields nil.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the value for key, or def when unset or blank.
func (p Properties) String(key, def string) string {
	if v := strings.TrimSpace(p[key]); v != "" {
		return v
	}
	return def
}

// Int returns the value for key parsed as an int, or def when unset or
// not a number.
func (p Properties) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Bool returns the value for key parsed as a bool, or def.
func (p Properties) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// SetInt stores n under key.
func (p Properties) SetInt(key string, n int) {
	p[key] = strconv.Itoa(n)
}
