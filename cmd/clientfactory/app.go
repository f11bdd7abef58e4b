package main

import (
	"cmp"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/clientfactory/internal/bulk"
	"github.com/example/clientfactory/internal/catalog"
	"github.com/example/clientfactory/internal/config"
	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/iteration"
	"github.com/example/clientfactory/internal/logger"
	"github.com/example/clientfactory/internal/metrics"
	"github.com/example/clientfactory/internal/mixer"
	"github.com/example/clientfactory/internal/operation"
	"github.com/example/clientfactory/internal/telemetry"
	"github.com/example/clientfactory/internal/transport"
)

var errUsage = errors.New("usage error")

// app holds the dependencies shared by every command. Fields set before
// setup runs (port, sleeper) are kept, which lets tests inject fakes.
type app struct {
	out io.Writer

	configPath  string
	catalogPath string
	baseURL     string
	logLevel    string
	output      string

	cfg      *config.Config
	log      *zap.Logger
	recorder metrics.Recorder
	tracer   *telemetry.Provider
	server   *http.Server
	port     transport.Port
	sleeper  iteration.Sleeper
	catalog  *catalog.Catalog
}

func newApp(out io.Writer) *app {
	return &app{out: out, output: "text"}
}

// setup loads configuration and builds the runtime stack. Catalog loading is
// skipped for commands that do not need it.
func (a *app) setup(ctx context.Context, needCatalog bool) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "cli.config", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	a.log, err = logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return err
	}
	a.log = a.log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	a.tracer, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:           cfg.Tracing.Enabled,
		CollectorEndpoint: cfg.Tracing.Endpoint,
		Insecure:          cfg.Tracing.Insecure,
		SamplingRatio:     cfg.Tracing.SamplingRatio,
		ServiceName:       cfg.App.Name,
	}, a.log)
	if err != nil {
		return err
	}

	a.recorder = metrics.Nop{}
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus(metrics.PrometheusConfig{Namespace: cfg.Metrics.Namespace})
		a.recorder = prom
		if err := a.serveMetrics(prom.Handler()); err != nil {
			return err
		}
	}

	if a.port == nil {
		opts := []transport.Option{transport.WithLogger(a.log)}
		if cfg.Retry.MaxRetries > 0 {
			opts = append(opts, transport.WithRetry(transport.RetryConfig{
				MaxRetries: cfg.Retry.MaxRetries,
				RetryDelay: cfg.Retry.Delay,
				MaxDelay:   cfg.Retry.MaxDelay,
				Multiplier: cfg.Retry.Multiplier,
			}))
		}
		port, err := transport.NewHTTPPort(cfg.HTTP, &cfg.Auth, opts...)
		if err != nil {
			return errs.Wrap(errs.KindConfiguration, "cli.transport", err)
		}
		a.port = port
	}

	if !needCatalog {
		return nil
	}
	path := cmp.Or(a.catalogPath, cfg.Catalog.Path)
	if path == "" {
		return errs.Configuration("cli", "no catalog: set catalog.path or pass --catalog")
	}
	a.catalog, err = catalog.LoadFile(ctx, path)
	if err != nil {
		return err
	}
	if base := cmp.Or(a.baseURL, cfg.HTTP.BaseURL); base != "" {
		a.catalog.Target.BaseURL = base
	}
	if a.catalog.Target.BaseURL == "" {
		return errs.Configuration("cli", "catalog %s has no base URL: set http.base_url or pass --base-url", path)
	}
	a.log.Debug("catalog loaded",
		zap.String("path", path),
		zap.String("name", a.catalog.Name),
		zap.Int("operations", a.catalog.Len()))
	return nil
}

func (a *app) serveMetrics(h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	ln, err := net.Listen("tcp", a.cfg.Metrics.Address)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "cli.metrics", err)
	}
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("address", ln.Addr().String()))
	return nil
}

// close releases what setup started. It is safe after a partial setup.
func (a *app) close(ctx context.Context) {
	if a.server != nil {
		_ = a.server.Shutdown(ctx)
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// mixer binds the named operation and wraps it with the built-in
// capabilities, configured from the loaded config.
func (a *app) mixer(name string) (*mixer.Mixer, error) {
	op, err := a.catalog.Bind(name, a.port,
		operation.WithLogger(a.log),
		operation.WithRecorder(a.recorder))
	if err != nil {
		return nil, err
	}

	iterOpts := []iteration.EngineOption{
		iteration.WithLogger(a.log),
		iteration.WithRecorder(a.recorder),
		iteration.WithBackoff(iteration.Exponential{
			Initial:    a.cfg.Retry.Delay,
			Max:        a.cfg.Retry.MaxDelay,
			Multiplier: a.cfg.Retry.Multiplier,
			Jitter:     0.25,
		}),
	}
	if a.sleeper != nil {
		iterOpts = append(iterOpts, iteration.WithSleeper(a.sleeper))
	}

	return mixer.New(op,
		mixer.WithLogger(a.log),
		mixer.WithBuiltins(mixer.Builtins{
			Logger:    a.log,
			Recorder:  a.recorder,
			Iteration: iterOpts,
			Bulk: bulk.Config{
				PoolSize: a.cfg.Bulk.PoolSize,
				Delay:    a.cfg.Bulk.Delay,
			},
		})), nil
}
