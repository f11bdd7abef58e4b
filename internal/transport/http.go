package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/example/clientfactory/internal/config"
	"github.com/example/clientfactory/internal/request"
)

// HTTPPort is the default Port. It applies default headers, authentication
// and an optional rate limit, then sends the request with net/http.
//
// Thread Safety: Safe for concurrent use.
type HTTPPort struct {
	secure   *http.Client
	insecure *http.Client
	headers  map[string]string
	auth     Authenticator
	limiter  *rate.Limiter
	retry    RetryConfig
	logger   *zap.Logger
}

// Option configures an HTTPPort.
type Option func(*HTTPPort)

// WithAuthenticator overrides the authenticator built from configuration.
func WithAuthenticator(a Authenticator) Option {
	return func(p *HTTPPort) { p.auth = a }
}

// WithRetry enables transport-level retries.
func WithRetry(cfg RetryConfig) Option {
	return func(p *HTTPPort) {
		if cfg.ShouldRetry == nil {
			cfg.ShouldRetry = RetryTransient
		}
		p.retry = cfg
	}
}

// WithLimiter overrides the limiter built from configuration.
func WithLimiter(l *rate.Limiter) Option {
	return func(p *HTTPPort) { p.limiter = l }
}

// WithHTTPClient sends every request through c. TLS verification flags on
// individual requests are then left to c's transport.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPPort) {
		p.secure = c
		p.insecure = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *HTTPPort) { p.logger = l }
}

// NewHTTPPort creates an HTTP port from configuration.
func NewHTTPPort(cfg config.HTTPConfig, authCfg *config.AuthConfig, opts ...Option) (*HTTPPort, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}

	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	insecure := base.Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	p := &HTTPPort{
		secure:   &http.Client{Transport: base, Timeout: cfg.Timeout},
		insecure: &http.Client{Transport: insecure, Timeout: cfg.Timeout},
		headers: map[string]string{
			"Accept":     "application/json",
			"User-Agent": "clientfactory/1.0",
		},
		retry:  NoRetry(),
		logger: zap.NewNop(),
	}
	if cfg.UserAgent != "" {
		p.headers["User-Agent"] = cfg.UserAgent
	}
	maps.Copy(p.headers, cfg.Headers)

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	auth, err := NewAuthenticator(authCfg)
	if err != nil {
		return nil, fmt.Errorf("creating authenticator: %w", err)
	}
	p.auth = auth

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Send executes req, retrying per the port's RetryConfig.
func (p *HTTPPort) Send(ctx context.Context, req *request.Request) (*request.Response, error) {
	target, err := encodeURL(req.URL(), req.Params())
	if err != nil {
		return nil, &Error{Method: req.Method(), URL: req.URL(), Err: err}
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, &Error{Method: req.Method(), URL: target, Err: err}
	}

	if req.Timeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout())
		defer cancel()
	}

	client := p.clientFor(req)

	var lastErr error
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retry.backoff(attempt)
			p.logger.Debug("retrying request",
				zap.String("method", req.Method().String()),
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, &Error{Method: req.Method(), URL: target, Attempt: attempt, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, &Error{Method: req.Method(), URL: target, Attempt: attempt, Err: err}
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method().String(), target, reader)
		if err != nil {
			return nil, &Error{Method: req.Method(), URL: target, Err: err}
		}
		p.setHeaders(httpReq, req.Headers(), contentType)
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
		for name, value := range req.Cookies() {
			httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
		}
		if p.auth != nil {
			if err := p.auth.Authenticate(ctx, httpReq); err != nil {
				return nil, &Error{Method: req.Method(), URL: target, Err: fmt.Errorf("authenticating request: %w", err)}
			}
		}

		start := time.Now()
		httpResp, err := client.Do(httpReq)
		elapsed := time.Since(start)

		if err != nil {
			lastErr = &Error{Method: req.Method(), URL: target, Attempt: attempt, Err: err}
			if attempt < p.retry.MaxRetries && p.retry.ShouldRetry(nil, err) {
				continue
			}
			return nil, lastErr
		}

		raw, readErr := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if readErr != nil {
			lastErr = &Error{Method: req.Method(), URL: target, Attempt: attempt, Err: fmt.Errorf("reading response body: %w", readErr)}
			if attempt < p.retry.MaxRetries && p.retry.ShouldRetry(nil, readErr) {
				continue
			}
			return nil, lastErr
		}

		if attempt < p.retry.MaxRetries && p.retry.ShouldRetry(httpResp, nil) {
			continue
		}

		cookies := make(map[string]string)
		for _, c := range httpResp.Cookies() {
			cookies[c.Name] = c.Value
		}
		return request.NewResponse(request.ResponseParts{
			StatusCode: httpResp.StatusCode,
			Headers:    httpResp.Header,
			Body:       raw,
			Cookies:    cookies,
			Request:    req,
			Elapsed:    elapsed,
		}), nil
	}
	return nil, lastErr
}

func (p *HTTPPort) clientFor(req *request.Request) *http.Client {
	base := p.secure
	if !req.VerifyTLS() {
		base = p.insecure
	}
	if req.AllowRedirects() {
		return base
	}
	c := *base
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &c
}

func (p *HTTPPort) setHeaders(req *http.Request, custom map[string]string, contentType string) {
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range custom {
		req.Header.Set(k, v)
	}
}

func encodeBody(req *request.Request) ([]byte, string, error) {
	switch {
	case req.HasJSON():
		b, err := json.Marshal(req.JSON())
		if err != nil {
			return nil, "", fmt.Errorf("marshaling request body: %w", err)
		}
		return b, "application/json", nil
	case req.HasData():
		return req.Data(), "", nil
	}
	return nil, "", nil
}

// encodeURL appends params to the query string. Slice values repeat the key.
func encodeURL(raw string, params map[string]any) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range params {
		rv := reflect.ValueOf(v)
		if v != nil && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
			q.Del(k)
			for i := 0; i < rv.Len(); i++ {
				q.Add(k, fmt.Sprint(rv.Index(i).Interface()))
			}
			continue
		}
		q.Set(k, fmt.Sprint(v))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
