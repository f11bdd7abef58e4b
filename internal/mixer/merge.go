package mixer

import (
	"maps"
	"reflect"
	"strings"

	"dario.cat/mergo"

	"github.com/example/clientfactory/internal/errs"
)

// MergeStrategy combines a capability's existing config with a new one.
type MergeStrategy string

const (
	// Replace discards the existing config.
	Replace MergeStrategy = "replace"
	// Update is a shallow merge; new keys win.
	Update MergeStrategy = "update"
	// Deep merges nested maps recursively; new values win.
	Deep MergeStrategy = "deep"
	// Append concatenates slices of the same type and otherwise acts like Update.
	Append MergeStrategy = "append"
)

// ParseMergeStrategy parses a strategy name.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch m := MergeStrategy(strings.ToLower(strings.TrimSpace(s))); m {
	case Replace, Update, Deep, Append:
		return m, nil
	case "":
		return Update, nil
	}
	return "", errs.Configuration("mixer.merge", "unknown merge strategy %q", s)
}

// Merge returns the combination of existing and incoming. Neither input is
// modified.
func (s MergeStrategy) Merge(existing, incoming map[string]any) (map[string]any, error) {
	switch s {
	case Replace:
		return maps.Clone(incoming), nil
	case Update, "":
		out := maps.Clone(existing)
		if out == nil {
			out = make(map[string]any, len(incoming))
		}
		maps.Copy(out, incoming)
		return out, nil
	case Deep:
		out := deepCopy(existing)
		if err := mergo.Merge(&out, deepCopy(incoming), mergo.WithOverride); err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "mixer.merge", err)
		}
		return out, nil
	case Append:
		out := maps.Clone(existing)
		if out == nil {
			out = make(map[string]any, len(incoming))
		}
		for k, v := range incoming {
			out[k] = appendValues(out[k], v)
		}
		return out, nil
	}
	return nil, errs.Configuration("mixer.merge", "unknown merge strategy %q", s)
}

func appendValues(old, add any) any {
	a, b := reflect.ValueOf(old), reflect.ValueOf(add)
	if !a.IsValid() || a.Kind() != reflect.Slice || b.Kind() != reflect.Slice || a.Type() != b.Type() {
		return add
	}
	out := reflect.MakeSlice(a.Type(), 0, a.Len()+b.Len())
	out = reflect.AppendSlice(out, a)
	return reflect.AppendSlice(out, b).Interface()
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			v = deepCopy(nested)
		}
		out[k] = v
	}
	return out
}
