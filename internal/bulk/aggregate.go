package bulk

import (
	"strings"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/request"
)

// Aggregation selects what Result.Aggregate holds.
type Aggregation string

// Aggregation modes.
const (
	All          Aggregation = "all"
	First        Aggregation = "first"
	Last         Aggregation = "last"
	Success      Aggregation = "success"
	Failure      Aggregation = "failure"
	FirstSuccess Aggregation = "first_success"
	Count        Aggregation = "count"
	Custom       Aggregation = "custom"
)

// ParseAggregation parses an aggregation name, case-insensitively.
func ParseAggregation(s string) (Aggregation, error) {
	a := Aggregation(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch a {
	case "":
		return All, nil
	case All, First, Last, Success, Failure, FirstSuccess, Count, Custom:
		return a, nil
	}
	return "", errs.Configuration("bulk.aggregate", "unknown aggregation %q", s)
}

// Counts is the Count aggregation. Failures include items that returned an
// error as well as responses rejected by the error check.
type Counts struct {
	Successes int
	Failures  int
	Total     int
}

// ErrorCheck reports whether a response counts as a failure.
type ErrorCheck func(*request.Response) bool

// NotOK is the default ErrorCheck: any non-2xx response fails.
func NotOK(r *request.Response) bool { return !r.OK() }

// aggregate applies mode to the non-empty slots of responses, in input order.
func aggregate(mode Aggregation, responses []*request.Response, failed int, check ErrorCheck, custom func([]*request.Response) any) any {
	present := make([]*request.Response, 0, len(responses))
	for _, r := range responses {
		if r != nil {
			present = append(present, r)
		}
	}

	switch mode {
	case First:
		if len(present) == 0 {
			return nil
		}
		return present[0]
	case Last:
		if len(present) == 0 {
			return nil
		}
		return present[len(present)-1]
	case Success, Failure:
		want := mode == Failure
		out := []*request.Response{}
		for _, r := range present {
			if check(r) == want {
				out = append(out, r)
			}
		}
		return out
	case FirstSuccess:
		for _, r := range present {
			if !check(r) {
				return r
			}
		}
		return nil
	case Count:
		c := Counts{Total: len(present) + failed, Failures: failed}
		for _, r := range present {
			if check(r) {
				c.Failures++
			} else {
				c.Successes++
			}
		}
		return c
	case Custom:
		return custom(present)
	}
	return present
}
