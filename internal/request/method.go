// Package request builds immutable HTTP requests from declared operation
// templates and call-time arguments, and models the responses they produce.
package request

import (
	"fmt"
	"strings"

	"github.com/example/clientfactory/internal/errs"
)

// Method is an HTTP verb.
type Method string

// Supported methods.
const (
	GET     Method = "GET"
	POST    Method = "POST"
	PUT     Method = "PUT"
	PATCH   Method = "PATCH"
	DELETE  Method = "DELETE"
	HEAD    Method = "HEAD"
	OPTIONS Method = "OPTIONS"
)

var validMethods = map[Method]bool{
	GET:     true,
	POST:    true,
	PUT:     true,
	PATCH:   true,
	DELETE:  true,
	HEAD:    true,
	OPTIONS: true,
}

// ParseMethod parses a case-insensitive method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if !validMethods[m] {
		return "", errs.Validation("request.method", "unsupported HTTP method %q", s)
	}
	return m, nil
}

// HasBody reports whether the method carries a structured request body.
// Keyword data for the remaining methods is sent as query parameters.
func (m Method) HasBody() bool {
	switch m {
	case POST, PUT, PATCH:
		return true
	}
	return false
}

func (m Method) String() string { return string(m) }

// MergeMode controls how declared headers and cookies combine with the
// values supplied at call time.
type MergeMode string

const (
	// Merge keeps caller values and fills gaps with declared values.
	Merge MergeMode = "merge"
	// Overwrite replaces caller values wholesale with declared values.
	Overwrite MergeMode = "overwrite"
)

// ParseMergeMode parses a merge mode. The empty string means Merge.
func ParseMergeMode(s string) (MergeMode, error) {
	switch MergeMode(strings.ToLower(s)) {
	case "", Merge:
		return Merge, nil
	case Overwrite:
		return Overwrite, nil
	}
	return "", fmt.Errorf("%w: unknown merge mode %q", errs.ErrValidation, s)
}

func mergeStrings(mode MergeMode, declared, supplied map[string]string) map[string]string {
	if mode == Overwrite && len(declared) > 0 {
		return copyStrings(declared)
	}
	out := make(map[string]string, len(declared)+len(supplied))
	for k, v := range declared {
		out[k] = v
	}
	for k, v := range supplied {
		out[k] = v
	}
	return out
}
