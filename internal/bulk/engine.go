package bulk

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/logger"
	"github.com/example/clientfactory/internal/metrics"
	"github.com/example/clientfactory/internal/request"
)

// DefaultPoolSize is the parallel worker limit when Config.PoolSize is zero.
const DefaultPoolSize = 10

// Mode selects how a batch runs.
type Mode string

const (
	// Sequential runs one item at a time, honouring dependencies.
	Sequential Mode = "sequential"
	// Parallel runs independent items on a bounded pool.
	Parallel Mode = "parallel"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential", "seq":
		return Sequential, nil
	case "parallel", "par", "concurrent":
		return Parallel, nil
	}
	return "", errs.Configuration("bulk.mode", "unknown bulk mode %q", s)
}

// ErrorPolicy selects what a failed item does to the rest of the batch.
type ErrorPolicy string

const (
	// Continue records the error and moves on.
	Continue ErrorPolicy = "continue"
	// Stop halts the batch and, in sequential mode, runs rollback hooks.
	Stop ErrorPolicy = "stop"
)

// ParseErrorPolicy parses a policy name. "break" and "raise" mean Stop.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return Continue, nil
	case "stop", "break", "raise":
		return Stop, nil
	}
	return "", errs.Configuration("bulk.policy", "unknown error policy %q", s)
}

// ErrorHandler decides whether the batch continues after item id failed.
// In parallel mode it is called from worker goroutines.
type ErrorHandler func(id string, err error) bool

// RollbackHook undoes the effects of a stopped sequential batch. It receives
// the responses collected before the stop, in execution order.
type RollbackHook func(ctx context.Context, done []*request.Response, trigger error) error

// Config controls one Engine.
type Config struct {
	Mode    Mode
	OnError ErrorPolicy
	// Handler, when set, overrides OnError.
	Handler ErrorHandler

	Aggregate Aggregation
	// Custom is required by the Custom aggregation.
	Custom     func([]*request.Response) any
	ErrorCheck ErrorCheck

	PoolSize int
	// Delay is the minimum spacing between item starts.
	Delay time.Duration

	Rollback []RollbackHook
	// KeepBatch leaves items in the batch after Execute.
	KeepBatch bool
}

// Result is the outcome of one Execute call.
type Result struct {
	// Responses holds one slot per item in insertion order. Slots of items
	// that failed or never ran are nil.
	Responses []*request.Response
	Errors    map[string]error
	// Order lists item IDs in the order they finished.
	Order     []string
	Aggregate any
	Stopped   bool
	Trigger   error
}

// Stats are cumulative counters across every Execute call.
type Stats struct {
	TotalExecuted int64
	TotalFailed   int64
	TotalSkipped  int64
}

// Engine executes batches.
//
// Thread Safety: Safe for concurrent use across different batches.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	recorder metrics.Recorder

	totalExecuted atomic.Int64
	totalFailed   atomic.Int64
	totalSkipped  atomic.Int64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine creates an engine. Empty config fields take their defaults.
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = Sequential
	}
	if cfg.OnError == "" {
		cfg.OnError = Continue
	}
	if cfg.Aggregate == "" {
		cfg.Aggregate = All
	}
	if cfg.ErrorCheck == nil {
		cfg.ErrorCheck = NotOK
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.OrNop(e.logger).With(zap.String("mode", string(cfg.Mode)))
	e.recorder = metrics.OrNop(e.recorder)
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Stats returns cumulative counters.
func (e *Engine) Stats() Stats {
	return Stats{
		TotalExecuted: e.totalExecuted.Load(),
		TotalFailed:   e.totalFailed.Load(),
		TotalSkipped:  e.totalSkipped.Load(),
	}
}

func (e *Engine) validate(b *Batch) error {
	const op = "bulk.execute"
	switch e.cfg.Mode {
	case Sequential, Parallel:
	default:
		return errs.Configuration(op, "unknown bulk mode %q", e.cfg.Mode)
	}
	switch e.cfg.OnError {
	case Continue, Stop:
	default:
		return errs.Configuration(op, "unknown error policy %q", e.cfg.OnError)
	}
	if _, err := ParseAggregation(string(e.cfg.Aggregate)); err != nil {
		return err
	}
	if e.cfg.Aggregate == Custom && e.cfg.Custom == nil {
		return errs.Configuration(op, "custom aggregation without an aggregator")
	}
	if e.cfg.PoolSize < 0 {
		return errs.Configuration(op, "negative pool size %d", e.cfg.PoolSize)
	}
	if e.cfg.Delay < 0 {
		return errs.Configuration(op, "negative delay %s", e.cfg.Delay)
	}
	if e.cfg.Mode == Parallel {
		if len(b.deps) > 0 {
			return errs.Configuration(op, "dependencies are not supported in parallel mode")
		}
		if len(e.cfg.Rollback) > 0 {
			return errs.Configuration(op, "rollback is not supported in parallel mode")
		}
	}
	return b.validateDeps()
}

// Execute runs every item in b. Item failures are reported in the Result;
// the returned error is reserved for configuration problems, cancellation
// and failed rollbacks. The Result is non-nil whenever any item ran.
func (e *Engine) Execute(ctx context.Context, b *Batch) (*Result, error) {
	if err := e.validate(b); err != nil {
		return nil, err
	}
	b.resetOutcomes()

	res := &Result{
		Responses: make([]*request.Response, len(b.items)),
		Errors:    make(map[string]error),
	}
	log := logger.FromContext(ctx, e.logger).With(zap.Int("items", len(b.items)))
	log.Debug("batch started")

	var limiter *rate.Limiter
	if e.cfg.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(e.cfg.Delay), 1)
	}

	var err error
	if e.cfg.Mode == Parallel {
		err = e.runParallel(ctx, b, res, limiter, log)
	} else {
		err = e.runSequential(ctx, b, res, limiter, log)
	}

	failed := 0
	for _, it := range b.items {
		if b.errors[it.id] != nil {
			failed++
		}
	}
	res.Aggregate = aggregate(e.cfg.Aggregate, res.Responses, failed, e.cfg.ErrorCheck, e.cfg.Custom)

	log.Info("batch finished",
		zap.Int("completed", len(res.Order)),
		zap.Int("failed", failed),
		zap.Bool("stopped", res.Stopped))

	if !e.cfg.KeepBatch {
		b.Clear()
	}
	return res, err
}

// proceed reports whether the batch continues after id failed with err.
func (e *Engine) proceed(id string, err error) bool {
	if e.cfg.Handler != nil {
		return e.cfg.Handler(id, err)
	}
	return e.cfg.OnError == Continue
}

func (e *Engine) observe(id string, err error, log *zap.Logger) {
	e.totalExecuted.Add(1)
	outcome := "success"
	if err != nil {
		outcome = "error"
		e.totalFailed.Add(1)
		log.Warn("batch item failed", zap.String("item", id), zap.Error(err))
	}
	e.recorder.ObserveBulkItem(string(e.cfg.Mode), outcome)
}

func (e *Engine) skip(n int) {
	e.totalSkipped.Add(int64(n))
	for range n {
		e.recorder.ObserveBulkItem(string(e.cfg.Mode), "skipped")
	}
}

func (e *Engine) runSequential(ctx context.Context, b *Batch, res *Result, limiter *rate.Limiter, log *zap.Logger) error {
	remaining := make([]int, len(b.items))
	for i := range remaining {
		remaining[i] = i
	}

	for len(remaining) > 0 {
		pos := slices.IndexFunc(remaining, func(idx int) bool { return b.ready(b.items[idx].id) })
		if pos < 0 {
			ids := make([]string, len(remaining))
			for i, idx := range remaining {
				ids[i] = b.items[idx].id
			}
			e.skip(len(remaining))
			return errs.Configuration("bulk.execute", "dependency deadlock among items %v", ids)
		}
		if err := wait(ctx, limiter); err != nil {
			e.skip(len(remaining))
			return err
		}

		idx := remaining[pos]
		remaining = slices.Delete(remaining, pos, pos+1)
		it := b.items[idx]

		resp, err := it.exe.Execute(ctx)
		b.record(it.id, resp, err)
		res.Order = append(res.Order, it.id)
		if err != nil {
			res.Errors[it.id] = err
		} else {
			res.Responses[idx] = resp
		}
		e.observe(it.id, err, log)

		if err != nil && !e.proceed(it.id, err) {
			res.Stopped, res.Trigger = true, err
			e.skip(len(remaining))
			log.Warn("batch stopped", zap.String("item", it.id), zap.Int("skipped", len(remaining)))
			return e.rollback(ctx, b, res, err, log)
		}
	}
	return nil
}

// rollback runs every hook with the responses gathered so far. Hook
// failures are joined into one RollbackError.
func (e *Engine) rollback(ctx context.Context, b *Batch, res *Result, trigger error, log *zap.Logger) error {
	if len(e.cfg.Rollback) == 0 {
		return nil
	}
	done := make([]*request.Response, 0, len(res.Order))
	for _, id := range res.Order {
		if r, ok := b.responses[id]; ok {
			done = append(done, r)
		}
	}

	var failures []error
	for _, hook := range e.cfg.Rollback {
		if err := hook(ctx, done, trigger); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) == 0 {
		log.Info("batch rolled back", zap.Int("responses", len(done)))
		return nil
	}
	err := &errs.RollbackError{Trigger: trigger, Err: errors.Join(failures...)}
	log.Error("batch rollback failed", zap.Error(err))
	return err
}

func (e *Engine) runParallel(ctx context.Context, b *Batch, res *Result, limiter *rate.Limiter, log *zap.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := len(b.items)
	responses := make([]*request.Response, n)
	failures := make([]error, n)
	ran := make([]bool, n)

	var (
		g       errgroup.Group
		stop    atomic.Bool
		skipped atomic.Int64
		mu      sync.Mutex
		order   []string
		trigger error
	)
	g.SetLimit(e.cfg.PoolSize)

	submitted := 0
	for i, it := range b.items {
		if stop.Load() || runCtx.Err() != nil {
			break
		}
		submitted++
		g.Go(func() error {
			if stop.Load() || wait(runCtx, limiter) != nil {
				skipped.Add(1)
				return nil
			}
			// In-flight items finish against the caller's context even after a stop.
			resp, err := it.exe.Execute(ctx)
			responses[i], failures[i], ran[i] = resp, err, true
			e.observe(it.id, err, log)

			mu.Lock()
			order = append(order, it.id)
			mu.Unlock()

			if err != nil && !e.proceed(it.id, err) && stop.CompareAndSwap(false, true) {
				mu.Lock()
				trigger = err
				mu.Unlock()
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()
	e.skip(n - submitted + int(skipped.Load()))

	for i, it := range b.items {
		if !ran[i] {
			continue
		}
		b.record(it.id, responses[i], failures[i])
		if failures[i] != nil {
			res.Errors[it.id] = failures[i]
		} else {
			res.Responses[i] = responses[i]
		}
	}
	res.Order = order

	if stop.Load() {
		res.Stopped, res.Trigger = true, trigger
		log.Warn("batch stopped", zap.Int("skipped", n-len(order)))
		return nil
	}
	return ctx.Err()
}

func wait(ctx context.Context, limiter *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
