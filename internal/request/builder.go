package request

import (
	"fmt"
	"maps"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/clientfactory/internal/errs"
)

// Reserved keyword arguments. They configure the request instead of being
// sent as body or query data.
const (
	KeyHeaders        = "headers"
	KeyParams         = "params"
	KeyCookies        = "cookies"
	KeyTimeout        = "timeout"
	KeyAllowRedirects = "allow_redirects"
	KeyVerifyTLS      = "verify_tls"
	KeyJSON           = "json"
	KeyData           = "data"
)

// IsReserved reports whether key configures the request rather than carrying
// body or query data.
func IsReserved(key string) bool {
	switch key {
	case KeyHeaders, KeyParams, KeyCookies, KeyTimeout, KeyAllowRedirects, KeyVerifyTLS, KeyJSON, KeyData:
		return true
	}
	return false
}

// Target locates the resource a template is resolved against.
type Target struct {
	BaseURL      string `yaml:"baseURL" json:"baseURL"`
	ResourcePath string `yaml:"resourcePath,omitempty" json:"resourcePath,omitempty"`
}

// Build resolves tmpl against target with the given call arguments.
//
// Positional args bind path placeholders in template order, then remaining
// placeholders bind from kwargs by name. Keyword data that is not consumed by
// the path becomes the structured body for POST, PUT and PATCH, and query
// parameters for every other method. The kwargs map is not modified.
func Build(tmpl Template, target Target, args []any, kwargs map[string]any) (*Request, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	tmpl.Method, _ = ParseMethod(string(tmpl.Method))

	kw := copyAny(kwargs)
	path, err := substitute(tmpl.Path, args, kw)
	if err != nil {
		return nil, err
	}

	opts, rest, err := splitReserved(kw)
	if err != nil {
		return nil, err
	}

	if tmpl.Method.HasBody() {
		if len(rest) > 0 {
			body := copyAny(opts.JSON)
			maps.Copy(body, rest)
			opts.JSON = body
		}
	} else {
		if len(opts.JSON) > 0 {
			return nil, errs.Validation("request.build", "%s %s cannot carry a structured body", tmpl.Method, tmpl.Path)
		}
		params := copyAny(opts.Params)
		maps.Copy(params, rest)
		opts.Params = params
	}

	opts.Headers = mergeStrings(tmpl.HeaderMode, tmpl.Headers, opts.Headers)
	opts.Cookies = mergeStrings(tmpl.CookieMode, tmpl.Cookies, opts.Cookies)
	if tmpl.Timeout > 0 {
		opts.Timeout = tmpl.Timeout
	}

	return New(tmpl.Method, JoinURL(target.BaseURL, target.ResourcePath, path), opts)
}

// JoinURL joins segments with single slashes, ignoring empty segments and
// tolerating leading or trailing slashes on each.
func JoinURL(base string, segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	if b := strings.TrimRight(base, "/"); b != "" {
		parts = append(parts, b)
	}
	for _, s := range segments {
		if s = strings.Trim(s, "/"); s != "" {
			parts = append(parts, s)
		}
	}
	joined := strings.Join(parts, "/")
	if base == "" {
		return "/" + joined
	}
	return joined
}

// substitute binds placeholders and deletes every consumed key from kw.
func substitute(path string, args []any, kw map[string]any) (string, error) {
	names := placeholders(path)
	bound := make(map[string]string, len(names))
	for i, name := range names {
		if i < len(args) {
			bound[name] = fmt.Sprint(args[i])
			continue
		}
		v, ok := kw[name]
		if !ok || v == nil {
			return "", &errs.MissingPathParameterError{Name: name, Path: path}
		}
		bound[name] = fmt.Sprint(v)
	}
	for _, name := range names {
		delete(kw, name)
	}
	return placeholderPattern.ReplaceAllStringFunc(path, func(m string) string {
		return url.PathEscape(bound[m[1:len(m)-1]])
	}), nil
}

// splitReserved removes reserved keys from kw and returns them as Options
// alongside the remaining data.
func splitReserved(kw map[string]any) (Options, map[string]any, error) {
	var opts Options
	var err error

	for key, v := range kw {
		switch key {
		case KeyHeaders:
			opts.Headers, err = toStringMap(key, v)
		case KeyCookies:
			opts.Cookies, err = toStringMap(key, v)
		case KeyParams:
			opts.Params, err = toAnyMap(key, v)
		case KeyJSON:
			opts.JSON, err = toAnyMap(key, v)
		case KeyData:
			opts.Data, err = toBytes(v)
		case KeyTimeout:
			opts.Timeout, err = ToDuration(v)
		case KeyAllowRedirects:
			var b bool
			b, err = toBool(key, v)
			opts.NoRedirects = !b
		case KeyVerifyTLS:
			var b bool
			b, err = toBool(key, v)
			opts.InsecureSkipVerify = !b
		default:
			continue
		}
		if err != nil {
			return Options{}, nil, err
		}
		delete(kw, key)
	}
	return opts, kw, nil
}

func toStringMap(key string, v any) (map[string]string, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return copyStrings(m), nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
		return out, nil
	}
	return nil, errs.Validation("request.build", "%s must be a string map, got %T", key, v)
}

func toAnyMap(key string, v any) (map[string]any, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return copyAny(m), nil
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, nil
	}
	return nil, errs.Validation("request.build", "%s must be a map, got %T", key, v)
}

func toBytes(v any) ([]byte, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return append([]byte(nil), d...), nil
	case string:
		return []byte(d), nil
	}
	return nil, errs.Validation("request.build", "data must be bytes or string, got %T", v)
}

func toBool(key string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err == nil {
			return parsed, nil
		}
	}
	return false, errs.Validation("request.build", "%s must be a boolean, got %v", key, v)
}

// ToDuration converts a duration, a number of seconds, or a duration string
// such as "1.5s" to a time.Duration.
func ToDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return d, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, errs.Validation("request.build", "invalid duration %q", d)
		}
		return parsed, nil
	}
	return 0, errs.Validation("request.build", "invalid duration %v (%T)", v, v)
}
