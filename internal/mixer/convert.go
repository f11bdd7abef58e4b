package mixer

import (
	"fmt"
	"iter"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/example/clientfactory/internal/iteration"
)

// Config values arrive either typed from Go callers or as strings and plain
// numbers from the CLI and config files. These helpers accept both.

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	}
	return 0, fmt.Errorf("%v (%T) is not an integer", v, v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	}
	return false, fmt.Errorf("%v (%T) is not a boolean", v, v)
}

// toDuration accepts a time.Duration, a Go duration string, or a number of
// seconds.
func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case string:
		s := strings.TrimSpace(d)
		if parsed, err := time.ParseDuration(s); err == nil {
			return parsed, nil
		}
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a duration", d)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("%v (%T) is not a duration", v, v)
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return "", fmt.Errorf("%v (%T) is not a string", v, v)
}

// toSlice flattens any slice or array into []any. A comma-separated string
// is split.
func toSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case string:
		parts := strings.Split(s, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%v (%T) is not a list", v, v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func toBreaks(v any) ([]iteration.BreakCondition, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case iteration.BreakCondition:
		return []iteration.BreakCondition{b}, nil
	case []iteration.BreakCondition:
		return b, nil
	case []any:
		out := make([]iteration.BreakCondition, 0, len(b))
		for _, e := range b {
			cond, ok := e.(iteration.BreakCondition)
			if !ok {
				return nil, fmt.Errorf("%v (%T) is not a break condition", e, e)
			}
			out = append(out, cond)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%v (%T) is not a break condition", v, v)
}

func toCycles(v any) ([]*iteration.Cycle, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case *iteration.Cycle:
		return []*iteration.Cycle{c}, nil
	case []*iteration.Cycle:
		return c, nil
	}
	return nil, fmt.Errorf("%v (%T) is not a cycle", v, v)
}

func toSeq(v any) (iter.Seq[any], bool) {
	seq, ok := v.(iter.Seq[any])
	if !ok {
		if fn, isFn := v.(func(func(any) bool)); isFn {
			return iter.Seq[any](fn), true
		}
	}
	return seq, ok
}
