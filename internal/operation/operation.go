// Package operation binds a request template to a transport, producing a
// callable that validates, builds, sends and post-processes one request.
package operation

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/logger"
	"github.com/example/clientfactory/internal/metrics"
	"github.com/example/clientfactory/internal/payload"
	"github.com/example/clientfactory/internal/request"
	"github.com/example/clientfactory/internal/telemetry"
	"github.com/example/clientfactory/internal/transport"
)

// ErrNoPort is returned when an operation is executed without a transport.
var ErrNoPort = errors.New("operation: no transport port configured")

// PostProcessor turns a response into the call result.
type PostProcessor func(*request.Response) (any, error)

// Operation is a declared HTTP operation bound to a transport.
//
// Thread Safety: Safe for concurrent use.
type Operation struct {
	name      string
	tmpl      request.Template
	target    request.Target
	port      transport.Port
	validator payload.Validator
	post      PostProcessor
	logger    *zap.Logger
	recorder  metrics.Recorder
}

// Option configures an Operation.
type Option func(*Operation)

// WithValidator validates keyword data before the request is built.
func WithValidator(v payload.Validator) Option {
	return func(o *Operation) { o.validator = v }
}

// WithPostProcessor sets the response post-processor. Without one, Call
// returns the *request.Response.
func WithPostProcessor(p PostProcessor) Option {
	return func(o *Operation) { o.post = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Operation) { o.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Operation) { o.recorder = r }
}

// WithName overrides the operation name, which defaults to the template name
// or "METHOD path".
func WithName(name string) Option {
	return func(o *Operation) { o.name = name }
}

// New creates an operation.
func New(tmpl request.Template, target request.Target, port transport.Port, opts ...Option) *Operation {
	o := &Operation{
		name:     tmpl.Name,
		tmpl:     tmpl,
		target:   target,
		port:     port,
		logger:   zap.NewNop(),
		recorder: metrics.Nop{},
	}
	if o.name == "" {
		o.name = tmpl.Method.String() + " " + tmpl.Path
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.OrNop(o.logger)
	o.recorder = metrics.OrNop(o.recorder)
	return o
}

func (o *Operation) Name() string               { return o.name }
func (o *Operation) Template() request.Template { return o.tmpl }
func (o *Operation) Target() request.Target     { return o.target }

// Parameters returns the declared parameter names: template parameters
// followed by schema fields not already listed.
func (o *Operation) Parameters() []string {
	names := o.tmpl.Parameters()
	if s, ok := o.validator.(interface{ FieldNames() []string }); ok {
		for _, f := range s.FieldNames() {
			if !slices.Contains(names, f) {
				names = append(names, f)
			}
		}
	}
	return names
}

// Choices returns the declared values for a parameter, if any.
func (o *Operation) Choices(name string) []any {
	return slices.Clone(o.tmpl.Choices[name])
}

// Invoke calls the operation with keyword arguments only.
func (o *Operation) Invoke(ctx context.Context, kwargs map[string]any) (any, error) {
	return o.Call(ctx, nil, kwargs)
}

// Call validates kwargs, builds the request, sends it and applies the
// post-processor.
func (o *Operation) Call(ctx context.Context, args []any, kwargs map[string]any) (result any, err error) {
	ctx, span := telemetry.StartSpan(ctx, "operation.call",
		telemetry.WithAttribute("operation", o.name),
		telemetry.WithAttribute("http.method", o.tmpl.Method.String()),
		telemetry.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ctx, log := logger.WithCallID(ctx, o.logger, uuid.NewString())
	log = logger.WithTrace(ctx, log)

	start := time.Now()
	defer func() {
		o.recorder.ObserveCall(o.name, err, time.Since(start))
		if err != nil {
			telemetry.RecordError(span, err)
			return
		}
		telemetry.SetOK(span)
	}()

	req, err := o.build(args, kwargs)
	if err != nil {
		log.Debug("request build failed", zap.String("operation", o.name), zap.Error(err))
		return nil, err
	}

	log.Debug("sending request",
		zap.String("operation", o.name),
		zap.String("method", req.Method().String()),
		zap.String("url", req.URL()))

	resp, err := send(ctx, o.port, req)
	if err != nil {
		log.Debug("request failed", zap.String("operation", o.name), zap.Error(err))
		return nil, err
	}
	telemetry.SetAttributes(span, "http.status_code", resp.StatusCode())
	log.Debug("response received",
		zap.String("operation", o.name),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", resp.Elapsed()))

	if o.post == nil {
		return resp, nil
	}
	return o.post(resp)
}

// Prepare builds the request for a call without sending it.
func (o *Operation) Prepare(args []any, kwargs map[string]any) (*Executable, error) {
	req, err := o.build(args, kwargs)
	if err != nil {
		return nil, err
	}
	return &Executable{req: req, port: o.port, name: o.name}, nil
}

func (o *Operation) build(args []any, kwargs map[string]any) (*request.Request, error) {
	kw := kwargs
	if o.validator != nil {
		var err error
		kw, err = o.validate(kwargs)
		if err != nil {
			return nil, err
		}
	}
	return request.Build(o.tmpl, o.target, args, kw)
}

// validate runs the validator over the data keys only. Reserved keys bypass
// validation and are merged back afterwards.
func (o *Operation) validate(kwargs map[string]any) (map[string]any, error) {
	data := make(map[string]any, len(kwargs))
	reserved := make(map[string]any)
	for k, v := range kwargs {
		if request.IsReserved(k) {
			reserved[k] = v
			continue
		}
		data[k] = v
	}

	out, err := o.validator.Validate(data)
	if err != nil {
		if errs.IsValidation(err) {
			return nil, err
		}
		return nil, errs.Wrap(errs.KindValidation, "operation.validate", err)
	}
	if out == nil {
		out = make(map[string]any, len(reserved))
	}
	maps.Copy(out, reserved)
	return out, nil
}

// Executable is a built request paired with the port that will send it.
type Executable struct {
	req  *request.Request
	port transport.Port
	name string
}

// NewExecutable pairs a plain request with a port.
func NewExecutable(req *request.Request, port transport.Port) *Executable {
	return &Executable{req: req, port: port, name: req.Method().String() + " " + req.URL()}
}

func (e *Executable) Request() *request.Request { return e.req }
func (e *Executable) Name() string              { return e.name }

// Execute sends the prepared request.
func (e *Executable) Execute(ctx context.Context) (*request.Response, error) {
	return send(ctx, e.port, e.req)
}

// send classifies port failures as transport errors unless the port already
// classified them.
func send(ctx context.Context, port transport.Port, req *request.Request) (*request.Response, error) {
	if port == nil {
		return nil, errs.Wrap(errs.KindConfiguration, "operation.send", ErrNoPort)
	}
	resp, err := port.Send(ctx, req)
	if err != nil {
		var classified *errs.Error
		if errors.Is(err, errs.ErrTransport) || errors.As(err, &classified) {
			return nil, err
		}
		return nil, errs.Wrap(errs.KindTransport, "operation.send", err)
	}
	return resp, nil
}
