// Package transport sends built requests over HTTP.
package transport

import (
	"context"
	"fmt"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/request"
)

// Port executes a request. A returned error means no response was obtained;
// non-2xx responses are returned as responses, not errors.
type Port interface {
	Send(ctx context.Context, req *request.Request) (*request.Response, error)
}

// PortFunc adapts a function to the Port interface.
type PortFunc func(ctx context.Context, req *request.Request) (*request.Response, error)

// Send calls f(ctx, req).
func (f PortFunc) Send(ctx context.Context, req *request.Request) (*request.Response, error) {
	return f(ctx, req)
}

// Error is a transport failure. It matches errs.ErrTransport.
type Error struct {
	Method  request.Method
	URL     string
	Attempt int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is classifies the error as a transport error.
func (e *Error) Is(target error) bool { return target == errs.ErrTransport }
