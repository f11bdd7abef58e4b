package iteration

import (
	"context"
	"iter"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/logger"
	"github.com/example/clientfactory/internal/metrics"
)

// Parameter names tried, in order, when the primary cycle names no param.
var (
	PageParams   = []string{"page", "pagenum", "pagenumber", "pageno", "pagination", "p"}
	OffsetParams = []string{"offset", "start", "skip"}
)

// Invoker is the operation an Engine drives.
type Invoker interface {
	Invoke(ctx context.Context, kwargs map[string]any) (any, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, kwargs map[string]any) (any, error)

// Invoke calls f(ctx, kwargs).
func (f InvokerFunc) Invoke(ctx context.Context, kwargs map[string]any) (any, error) {
	return f(ctx, kwargs)
}

// Mode selects how secondary cycles combine with the primary cycle.
type Mode string

const (
	// Sequential walks each secondary cycle in turn for every primary value.
	Sequential Mode = "sequential"
	// Product enumerates the cartesian product, primary outermost.
	Product Mode = "product"
)

// ParseMode parses a mode name. "nested" is accepted for Product.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential", "seq":
		return Sequential, nil
	case "product", "nested", "prod":
		return Product, nil
	}
	return "", errs.Configuration("iteration.mode", "unknown cycle mode %q", s)
}

// Spec describes one top-level iteration.
type Spec struct {
	// Primary is required. Its param may be empty to auto-discover a
	// pagination or offset parameter.
	Primary *Cycle
	Cycles  []*Cycle
	Mode    Mode
	// Static kwargs are sent with every call; cycle values win over them.
	Static       map[string]any
	Breaks       []BreakCondition
	StoreResults bool
}

// Run is the collected outcome of Engine.Run.
type Run struct {
	Results []any
	Context *Context
}

// Engine drives an Invoker over the combinations a Spec describes.
//
// Thread Safety: Safe for concurrent use; each iteration owns its Context.
type Engine struct {
	invoker  Invoker
	name     string
	logger   *zap.Logger
	sleeper  Sleeper
	backoff  Backoff
	recorder metrics.Recorder
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithSleeper replaces the retry sleep, typically in tests.
func WithSleeper(s Sleeper) EngineOption {
	return func(e *Engine) { e.sleeper = s }
}

// WithBackoff overrides every cycle's constant retry delay.
func WithBackoff(b Backoff) EngineOption {
	return func(e *Engine) { e.backoff = b }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine creates an engine for inv.
func NewEngine(inv Invoker, opts ...EngineOption) *Engine {
	e := &Engine{
		invoker:  inv,
		name:     "iterate",
		logger:   zap.NewNop(),
		sleeper:  Sleep,
		recorder: metrics.Nop{},
	}
	if n, ok := inv.(interface{ Name() string }); ok && n.Name() != "" {
		e.name = n.Name()
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.OrNop(e.logger).With(zap.String("operation", e.name))
	e.recorder = metrics.OrNop(e.recorder)
	if e.sleeper == nil {
		e.sleeper = Sleep
	}
	return e
}

// Run iterates to completion and collects the results. On error the partial
// run is returned alongside it.
func (e *Engine) Run(ctx context.Context, spec Spec) (*Run, error) {
	ictx := &Context{}
	run := &Run{Context: ictx}
	for result, err := range e.iterate(ctx, spec, ictx) {
		if err != nil {
			return run, err
		}
		run.Results = append(run.Results, result)
	}
	return run, nil
}

// Iterate lazily yields one result per successful call. An error is yielded
// at most once, as the final element.
func (e *Engine) Iterate(ctx context.Context, spec Spec) iter.Seq2[any, error] {
	return e.iterate(ctx, spec, &Context{})
}

func (e *Engine) iterate(ctx context.Context, spec Spec, ictx *Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		ictx.reset(spec.StoreResults)

		p, err := e.plan(spec)
		if err != nil {
			yield(nil, err)
			return
		}

		for c := range p.combinations() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if e.shouldBreak(spec.Breaks, ictx, Outcome{Phase: PreCheck}) {
				return
			}

			result, swallowed, err := e.invoke(ctx, c, ictx)
			if err != nil {
				e.logger.Info("iteration stopped by error",
					zap.Int("iterations", ictx.Iterations),
					zap.Int("attempts", ictx.Attempts),
					zap.Error(err))
				yield(nil, err)
				return
			}
			if swallowed == nil && !yield(result, nil) {
				return
			}

			if e.shouldBreak(spec.Breaks, ictx, Outcome{Result: result, Err: swallowed, Phase: PostCheck}) {
				return
			}
		}
	}
}

// invoke calls the operation for one combination, applying the governing
// cycle's policy. A non-nil swallowed error means the combination was
// skipped; a non-nil err ends the iteration.
func (e *Engine) invoke(ctx context.Context, c combination, ictx *Context) (result any, swallowed, err error) {
	cycle := c.governing
	for attempt := 0; ; attempt++ {
		ictx.Attempts++
		e.logger.Debug("invoking", zap.Any("kwargs", c.kwargs), zap.Int("attempt", attempt))

		result, err := e.invoker.Invoke(ctx, maps.Clone(c.kwargs))
		if err == nil {
			ictx.recordSuccess(result)
			return result, nil, nil
		}
		if errs.IsFatal(err) {
			return nil, nil, err
		}

		ictx.recordError(err)
		if ctx.Err() != nil {
			return nil, nil, err
		}

		switch cycle.policy {
		case Stop:
			return nil, nil, err
		case Continue:
			e.logger.Warn("skipping failed combination", zap.String("param", cycle.param), zap.Error(err))
			return nil, err, nil
		case Retry:
			if attempt >= cycle.maxRetries {
				return nil, nil, err
			}
		case Callback:
			if attempt >= cycle.maxRetries || !cycle.callback(err, cycle) {
				return nil, nil, err
			}
		}

		delay := e.backoffFor(cycle).Delay(attempt + 1)
		e.recorder.ObserveRetry(e.name)
		e.logger.Warn("retrying failed call",
			zap.String("param", cycle.param),
			zap.Int("retry", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if serr := e.sleeper(ctx, delay); serr != nil {
			return nil, nil, serr
		}
	}
}

func (e *Engine) backoffFor(c *Cycle) Backoff {
	if e.backoff != nil {
		return e.backoff
	}
	return Constant(c.retryDelay)
}

func (e *Engine) shouldBreak(conds []BreakCondition, ictx *Context, out Outcome) bool {
	for _, cond := range conds {
		if cond.ShouldBreak(ictx, out) {
			e.recorder.ObserveBreak(e.name, out.Phase.String())
			e.logger.Info("iteration stopped by break condition",
				zap.Stringer("phase", out.Phase),
				zap.Int("iterations", ictx.Iterations),
				zap.Int("attempts", ictx.Attempts))
			return true
		}
	}
	return false
}

// plan is a validated Spec with every cycle's sequence generated.
type plan struct {
	mode   Mode
	static map[string]any
	cycles []planned
}

type planned struct {
	cycle *Cycle
	seq   iter.Seq[any]
}

type combination struct {
	kwargs    map[string]any
	governing *Cycle
}

func (e *Engine) plan(spec Spec) (*plan, error) {
	const op = "iteration.plan"
	if e.invoker == nil {
		return nil, errs.Configuration(op, "no invoker")
	}
	if spec.Primary == nil {
		return nil, errs.Configuration(op, "a primary cycle is required")
	}
	mode := spec.Mode
	if mode == "" {
		mode = Sequential
	}
	if mode != Sequential && mode != Product {
		return nil, errs.Configuration(op, "unknown cycle mode %q", mode)
	}

	primary := spec.Primary
	if primary.param == "" {
		param, err := e.discover()
		if err != nil {
			return nil, err
		}
		primary = primary.withParam(param)
	}

	p := &plan{mode: mode, static: spec.Static}
	for i, c := range append([]*Cycle{primary}, spec.Cycles...) {
		if c == nil {
			return nil, errs.Configuration(op, "cycle %d is nil", i)
		}
		if c.param == "" {
			return nil, errs.Configuration(op, "secondary cycle %d names no parameter", i)
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		if !c.HasSource() {
			choices := e.choices(c.param)
			if len(choices) == 0 {
				return nil, errs.Configuration(op, "cycle %q has no values and the operation declares no choices for it", c.param)
			}
			c = c.withValues(choices)
		}
		seq, err := c.Generate()
		if err != nil {
			return nil, err
		}
		p.cycles = append(p.cycles, planned{cycle: c, seq: seq})
	}
	return p, nil
}

func (e *Engine) discover() (string, error) {
	declared, ok := e.invoker.(interface{ Parameters() []string })
	if !ok {
		return "", errs.Configuration("iteration.discover", "no parameter named and the operation declares no parameters")
	}
	names := make(map[string]string)
	for _, n := range declared.Parameters() {
		names[strings.ToLower(n)] = n
	}
	for _, group := range [][]string{PageParams, OffsetParams} {
		for _, candidate := range group {
			if name, ok := names[candidate]; ok {
				return name, nil
			}
		}
	}
	return "", errs.Configuration("iteration.discover", "no pagination or offset parameter among %v", declared.Parameters())
}

func (e *Engine) choices(param string) []any {
	if c, ok := e.invoker.(interface{ Choices(string) []any }); ok {
		return c.Choices(param)
	}
	return nil
}

func (p *plan) combinations() iter.Seq[combination] {
	return func(yield func(combination) bool) {
		if p.mode == Product {
			p.product(yield)
			return
		}
		p.sequential(yield)
	}
}

func (p *plan) base() map[string]any {
	kw := make(map[string]any, len(p.static)+len(p.cycles))
	maps.Copy(kw, p.static)
	return kw
}

func (p *plan) sequential(yield func(combination) bool) {
	primary, secondaries := p.cycles[0], p.cycles[1:]
	for pv := range primary.seq {
		if len(secondaries) == 0 {
			kw := p.base()
			kw[primary.cycle.param] = pv
			if !yield(combination{kwargs: kw, governing: primary.cycle}) {
				return
			}
			continue
		}
		for _, s := range secondaries {
			for sv := range s.seq {
				kw := p.base()
				kw[primary.cycle.param] = pv
				kw[s.cycle.param] = sv
				if !yield(combination{kwargs: kw, governing: s.cycle}) {
					return
				}
			}
		}
	}
}

func (p *plan) product(yield func(combination) bool) {
	kw := p.base()
	var walk func(depth int) bool
	walk = func(depth int) bool {
		if depth == len(p.cycles) {
			return yield(combination{kwargs: maps.Clone(kw), governing: p.cycles[depth-1].cycle})
		}
		c := p.cycles[depth]
		for v := range c.seq {
			kw[c.cycle.param] = v
			if !walk(depth + 1) {
				return false
			}
		}
		return true
	}
	walk(0)
}
