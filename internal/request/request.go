package request

import (
	"maps"
	"time"

	"github.com/example/clientfactory/internal/errs"
)

// Options carries the optional parts of a Request.
type Options struct {
	Headers map[string]string
	Params  map[string]any
	Cookies map[string]string
	// JSON and Data are mutually exclusive.
	JSON    map[string]any
	Data    []byte
	Timeout time.Duration
	// NoRedirects disables following redirects.
	NoRedirects bool
	// InsecureSkipVerify disables TLS verification.
	InsecureSkipVerify bool
}

// Request is an immutable HTTP request. Derived copies are produced with the
// With* methods; accessors return copies of internal maps.
type Request struct {
	method  Method
	url     string
	headers map[string]string
	params  map[string]any
	cookies map[string]string
	json    map[string]any
	data    []byte
	timeout time.Duration

	allowRedirects bool
	verifyTLS      bool
}

// New constructs a request.
func New(method Method, url string, opts Options) (*Request, error) {
	method, err := ParseMethod(string(method))
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, errs.Validation("request.new", "url is required")
	}
	if len(opts.JSON) > 0 && len(opts.Data) > 0 {
		return nil, errs.Validation("request.new", "json and data bodies are mutually exclusive")
	}
	if len(opts.JSON) > 0 && !method.HasBody() {
		return nil, errs.Validation("request.new", "%s request cannot carry a structured body", method)
	}
	if opts.Timeout < 0 {
		return nil, errs.Validation("request.new", "negative timeout %s", opts.Timeout)
	}
	return &Request{
		method:         method,
		url:            url,
		headers:        copyStrings(opts.Headers),
		params:         copyAny(opts.Params),
		cookies:        copyStrings(opts.Cookies),
		json:           copyAny(opts.JSON),
		data:           append([]byte(nil), opts.Data...),
		timeout:        opts.Timeout,
		allowRedirects: !opts.NoRedirects,
		verifyTLS:      !opts.InsecureSkipVerify,
	}, nil
}

func (r *Request) Method() Method             { return r.method }
func (r *Request) URL() string                { return r.url }
func (r *Request) Headers() map[string]string { return copyStrings(r.headers) }
func (r *Request) Params() map[string]any     { return copyAny(r.params) }
func (r *Request) Cookies() map[string]string { return copyStrings(r.cookies) }
func (r *Request) JSON() map[string]any       { return copyAny(r.json) }
func (r *Request) Data() []byte               { return append([]byte(nil), r.data...) }
func (r *Request) Timeout() time.Duration     { return r.timeout }
func (r *Request) AllowRedirects() bool       { return r.allowRedirects }
func (r *Request) VerifyTLS() bool            { return r.verifyTLS }
func (r *Request) HasJSON() bool              { return len(r.json) > 0 }
func (r *Request) HasData() bool              { return len(r.data) > 0 }
func (r *Request) Header(key string) string   { return r.headers[key] }

// WithHeaders returns a copy with headers merged over the existing ones.
func (r *Request) WithHeaders(headers map[string]string) *Request {
	c := r.clone()
	maps.Copy(c.headers, headers)
	return c
}

// WithParams returns a copy with query params merged over the existing ones.
func (r *Request) WithParams(params map[string]any) *Request {
	c := r.clone()
	maps.Copy(c.params, params)
	return c
}

// WithCookies returns a copy with cookies merged over the existing ones.
func (r *Request) WithCookies(cookies map[string]string) *Request {
	c := r.clone()
	maps.Copy(c.cookies, cookies)
	return c
}

// WithTimeout returns a copy with the given timeout.
func (r *Request) WithTimeout(d time.Duration) *Request {
	c := r.clone()
	c.timeout = d
	return c
}

// WithJSON returns a copy whose structured body has body merged over it.
func (r *Request) WithJSON(body map[string]any) (*Request, error) {
	if len(body) == 0 {
		return r.clone(), nil
	}
	if !r.method.HasBody() {
		return nil, errs.Validation("request.with_json", "%s request cannot carry a structured body", r.method)
	}
	if len(r.data) > 0 {
		return nil, errs.Validation("request.with_json", "json and data bodies are mutually exclusive")
	}
	c := r.clone()
	maps.Copy(c.json, body)
	return c, nil
}

func (r *Request) clone() *Request {
	c := *r
	c.headers = copyStrings(r.headers)
	c.params = copyAny(r.params)
	c.cookies = copyStrings(r.cookies)
	c.json = copyAny(r.json)
	if r.data != nil {
		c.data = append([]byte(nil), r.data...)
	}
	return &c
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	maps.Copy(out, m)
	return out
}

func copyAny(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	maps.Copy(out, m)
	return out
}
