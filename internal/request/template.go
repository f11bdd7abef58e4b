package request

import (
	"regexp"
	"time"

	"github.com/example/clientfactory/internal/errs"
)

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// Template is a declared HTTP operation. Templates are immutable once
// constructed; the builder never modifies one.
type Template struct {
	// Name identifies the operation, e.g. "products.list".
	Name string `yaml:"name" json:"name"`
	// Method is the HTTP verb.
	Method Method `yaml:"method" json:"method"`
	// Path may contain {name} placeholders.
	Path string `yaml:"path" json:"path"`
	// Headers and Cookies are declared defaults combined per their mode.
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Cookies    map[string]string `yaml:"cookies,omitempty" json:"cookies,omitempty"`
	HeaderMode MergeMode         `yaml:"headerMode,omitempty" json:"headerMode,omitempty"`
	CookieMode MergeMode         `yaml:"cookieMode,omitempty" json:"cookieMode,omitempty"`
	// Timeout, when set, overrides any timeout supplied at call time.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// QueryParams lists the query parameter names the operation accepts.
	QueryParams []string `yaml:"query,omitempty" json:"query,omitempty"`
	// BodyFields lists declared payload fields. Only body methods may declare them.
	BodyFields []string `yaml:"body,omitempty" json:"body,omitempty"`
	// Choices holds enumerated values for parameters, used to infer iteration values.
	Choices     map[string][]any `yaml:"choices,omitempty" json:"choices,omitempty"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
}

// PathParams returns the distinct placeholder names in Path, in order.
func (t Template) PathParams() []string {
	return placeholders(t.Path)
}

// Parameters returns every declared parameter name: path placeholders, then
// query parameters, then body fields.
func (t Template) Parameters() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	add(t.PathParams())
	add(t.QueryParams)
	add(t.BodyFields)
	return out
}

// Validate checks the template for internal consistency.
func (t Template) Validate() error {
	method, err := ParseMethod(string(t.Method))
	if err != nil {
		return err
	}
	if _, err := ParseMergeMode(string(t.HeaderMode)); err != nil {
		return err
	}
	if _, err := ParseMergeMode(string(t.CookieMode)); err != nil {
		return err
	}
	if len(t.BodyFields) > 0 && !method.HasBody() {
		return errs.Validation("request.template", "%s %s declares a payload but the method carries no body", t.Method, t.Path)
	}
	if t.Timeout < 0 {
		return errs.Validation("request.template", "negative timeout %s", t.Timeout)
	}
	return nil
}

func placeholders(path string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(path, -1)
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
