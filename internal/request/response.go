package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jmespath/go-jmespath"
)

// ErrNoJSON is returned when a response body is empty and JSON is requested.
var ErrNoJSON = errors.New("request: response has no JSON body")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Method     Method
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request: %s %s returned status %d", e.Method, e.URL, e.StatusCode)
}

// Response is an immutable HTTP response. The decoded JSON body is computed
// once and cached.
//
// Thread Safety: Safe for concurrent use.
type Response struct {
	statusCode int
	headers    http.Header
	body       []byte
	cookies    map[string]string
	request    *Request
	elapsed    time.Duration

	jsonOnce sync.Once
	jsonData any
	jsonErr  error
}

// ResponseParts carries the values a transport collects into a Response.
type ResponseParts struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Cookies    map[string]string
	Request    *Request
	Elapsed    time.Duration
}

// NewResponse constructs a Response. The parts are copied.
func NewResponse(p ResponseParts) *Response {
	return &Response{
		statusCode: p.StatusCode,
		headers:    p.Headers.Clone(),
		body:       append([]byte(nil), p.Body...),
		cookies:    copyStrings(p.Cookies),
		request:    p.Request,
		elapsed:    p.Elapsed,
	}
}

func (r *Response) StatusCode() int            { return r.statusCode }
func (r *Response) Headers() http.Header       { return r.headers.Clone() }
func (r *Response) Header(key string) string   { return r.headers.Get(key) }
func (r *Response) Body() []byte               { return append([]byte(nil), r.body...) }
func (r *Response) Text() string               { return string(r.body) }
func (r *Response) Cookies() map[string]string { return copyStrings(r.cookies) }
func (r *Response) Request() *Request          { return r.request }
func (r *Response) Elapsed() time.Duration     { return r.elapsed }

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

// JSON returns the decoded body. Decoding happens on first use only.
func (r *Response) JSON() (any, error) {
	r.jsonOnce.Do(func() {
		if len(r.body) == 0 {
			r.jsonErr = ErrNoJSON
			return
		}
		if err := json.Unmarshal(r.body, &r.jsonData); err != nil {
			r.jsonErr = fmt.Errorf("request: decoding response body: %w", err)
		}
	})
	return r.jsonData, r.jsonErr
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(r.body) == 0 {
		return ErrNoJSON
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("request: decoding response body: %w", err)
	}
	return nil
}

// Extract evaluates a JMESPath expression, such as "data.items[0].id",
// against the decoded body.
func (r *Response) Extract(expr string) (any, error) {
	data, err := r.JSON()
	if err != nil {
		return nil, err
	}
	v, err := jmespath.Search(expr, data)
	if err != nil {
		return nil, fmt.Errorf("request: evaluating %q: %w", expr, err)
	}
	return v, nil
}

// StatusError returns a *StatusError for non-2xx responses and nil otherwise.
func (r *Response) StatusError() error {
	if r.OK() {
		return nil
	}
	e := &StatusError{StatusCode: r.statusCode, Body: string(r.body)}
	if r.request != nil {
		e.Method = r.request.Method()
		e.URL = r.request.URL()
	}
	return e
}
