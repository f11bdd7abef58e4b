package mixer

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/clientfactory/internal/bulk"
	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/iteration"
	"github.com/example/clientfactory/internal/metrics"
	"github.com/example/clientfactory/internal/request"
)

// Built-in capability names.
const (
	CapParams = "params"
	CapUntil  = "until"
	CapIter   = "iter"
	CapBatch  = "batch"
	CapPrep   = "prep"
)

// IterKeys are the config keys of the iter capability. Any other key is a
// static param; prefix a key with "_" to send one of these names as a param.
var IterKeys = []string{
	"param", "start", "end", "step", "values", "filter", "every",
	"onerror", "maxretries", "retrydelay", "callback", "limit",
	"cycles", "mode", "static", "store", "breaks",
}

// BatchKeys are the config keys of the batch capability.
var BatchKeys = []string{
	"items", "mode", "onerror", "handler", "aggregate", "custom",
	"errorcheck", "pool", "delay", "rollback", "keep",
}

// Builtins carries the dependencies of the built-in capabilities.
type Builtins struct {
	Logger   *zap.Logger
	Recorder metrics.Recorder
	// Iteration options are passed to every iteration engine.
	Iteration []iteration.EngineOption
	// Bulk is the base config that batch options override.
	Bulk bulk.Config
}

func (b Builtins) capabilities() []Capability {
	return []Capability{
		paramsCapability{},
		untilCapability{},
		iterCapability{deps: b},
		batchCapability{deps: b},
		prepCapability{},
	}
}

// params

type paramsCapability struct{}

func (paramsCapability) Metadata() Metadata {
	return Metadata{Name: CapParams, Priority: 1, Mode: Transform, Merge: Update}
}

func (paramsCapability) Configure(opts map[string]any) (map[string]any, error) { return opts, nil }

// Transform adds the static params; call kwargs win.
func (paramsCapability) Transform(_ context.Context, call Call) (map[string]any, error) {
	out := maps.Clone(call.Config)
	if out == nil {
		out = make(map[string]any, len(call.Kwargs))
	}
	maps.Copy(out, call.Kwargs)
	return out, nil
}

// until

type untilCapability struct{}

func (untilCapability) Metadata() Metadata {
	return Metadata{Name: CapUntil, Priority: 7, Mode: Deferred, Keys: []string{"breaks"}, AutoReset: true, Merge: Append}
}

func (untilCapability) Configure(opts map[string]any) (map[string]any, error) {
	breaks, err := toBreaks(opts["breaks"])
	if err != nil {
		return nil, errs.Configuration("mixer.until", "%v", err)
	}
	return map[string]any{"breaks": breaks}, nil
}

// prep

type prepCapability struct{}

func (prepCapability) Metadata() Metadata {
	return Metadata{Name: CapPrep, Priority: 10, Mode: Terminal, AutoReset: true, Merge: Update}
}

func (prepCapability) Configure(opts map[string]any) (map[string]any, error) { return opts, nil }

// Execute builds the request without sending it. Configured values are
// defaults for the call kwargs.
func (prepCapability) Execute(_ context.Context, call Call) (any, error) {
	kwargs := maps.Clone(call.Config)
	if kwargs == nil {
		kwargs = make(map[string]any, len(call.Kwargs))
	}
	maps.Copy(kwargs, call.Kwargs)
	return call.Target.Prepare(nil, kwargs)
}

// iter

type iterCapability struct {
	deps Builtins
}

func (iterCapability) Metadata() Metadata {
	return Metadata{
		Name:      CapIter,
		Priority:  8,
		Mode:      Terminal,
		Conflicts: []string{CapBatch},
		AutoReset: true,
		Merge:     Update,
	}
}

// Configure separates iteration settings from static params and checks the
// settings can build a spec.
func (iterCapability) Configure(opts map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	static := make(map[string]any)

	if s, ok := opts["static"]; ok {
		m, isMap := s.(map[string]any)
		if !isMap {
			return nil, errs.Configuration("mixer.iter", "static must be a map, got %T", s)
		}
		maps.Copy(static, m)
	}
	for k, v := range opts {
		switch {
		case k == "static":
		case strings.HasPrefix(k, "_") && slices.Contains(IterKeys, k[1:]):
			static[k[1:]] = v
		case slices.Contains(IterKeys, k):
			out[k] = v
		default:
			static[k] = v
		}
	}
	if len(static) > 0 {
		out["static"] = static
	}

	if _, err := iterSpec(out, nil, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// MergeConfig updates iteration settings and merges static params key by key,
// so repeated Iter calls accumulate them.
func (iterCapability) MergeConfig(existing, incoming map[string]any) (map[string]any, error) {
	out, err := Update.Merge(existing, incoming)
	if err != nil {
		return nil, err
	}
	old, _ := existing["static"].(map[string]any)
	add, _ := incoming["static"].(map[string]any)
	if len(old) > 0 && len(add) > 0 {
		if out["static"], err = Update.Merge(old, add); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Execute runs the iteration engine and returns its *iteration.Run.
func (c iterCapability) Execute(ctx context.Context, call Call) (any, error) {
	var extra []iteration.BreakCondition
	if until, ok := call.Peers[CapUntil]; ok {
		extra, _ = until["breaks"].([]iteration.BreakCondition)
	}
	spec, err := iterSpec(call.Config, extra, call.Kwargs)
	if err != nil {
		return nil, err
	}

	opts := append([]iteration.EngineOption{
		iteration.WithLogger(c.deps.Logger),
		iteration.WithRecorder(c.deps.Recorder),
	}, c.deps.Iteration...)
	return iteration.NewEngine(call.Target, opts...).Run(ctx, spec)
}

func iterSpec(cfg map[string]any, extra []iteration.BreakCondition, kwargs map[string]any) (iteration.Spec, error) {
	const op = "mixer.iter"
	bad := func(key string, err error) error {
		return errs.Configuration(op, "%s: %v", key, err)
	}

	var spec iteration.Spec
	var cycleOpts []iteration.CycleOption

	if v, ok := cfg["start"]; ok {
		cycleOpts = append(cycleOpts, iteration.Start(v))
	}
	if v, ok := cfg["end"]; ok {
		cycleOpts = append(cycleOpts, iteration.End(v))
	}
	if v, ok := cfg["step"]; ok {
		cycleOpts = append(cycleOpts, iteration.Step(v))
	}
	if v, ok := cfg["values"]; ok {
		if seq, isSeq := toSeq(v); isSeq {
			cycleOpts = append(cycleOpts, iteration.FromSeq(seq))
		} else {
			vals, err := toSlice(v)
			if err != nil {
				return spec, bad("values", err)
			}
			cycleOpts = append(cycleOpts, iteration.Values(vals...))
		}
	}
	if v, ok := cfg["filter"]; ok {
		keep, isFn := v.(func(any) bool)
		if !isFn {
			return spec, errs.Configuration(op, "filter must be func(any) bool, got %T", v)
		}
		cycleOpts = append(cycleOpts, iteration.Filter(keep))
	}
	if v, ok := cfg["every"]; ok {
		n, err := toInt(v)
		if err != nil {
			return spec, bad("every", err)
		}
		cycleOpts = append(cycleOpts, iteration.Every(n))
	}
	if v, ok := cfg["limit"]; ok {
		n, err := toInt(v)
		if err != nil {
			return spec, bad("limit", err)
		}
		cycleOpts = append(cycleOpts, iteration.MaterializeLimit(n))
	}

	maxRetries, retryDelay := 3, time.Second
	_, hasRetries := cfg["maxretries"]
	_, hasDelay := cfg["retrydelay"]
	if hasRetries {
		n, err := toInt(cfg["maxretries"])
		if err != nil {
			return spec, bad("maxretries", err)
		}
		maxRetries = n
	}
	if hasDelay {
		d, err := toDuration(cfg["retrydelay"])
		if err != nil {
			return spec, bad("retrydelay", err)
		}
		retryDelay = d
	}
	if hasRetries || hasDelay {
		cycleOpts = append(cycleOpts, iteration.Retries(maxRetries, retryDelay))
	}

	if v, ok := cfg["callback"]; ok {
		var fn iteration.ErrorCallback
		switch cb := v.(type) {
		case iteration.ErrorCallback:
			fn = cb
		case func(error, *iteration.Cycle) bool:
			fn = cb
		default:
			return spec, errs.Configuration(op, "callback has unsupported type %T", v)
		}
		cycleOpts = append(cycleOpts, iteration.WithCallback(fn))
	}
	// An explicit policy wins over the one implied by a callback.
	if v, ok := cfg["onerror"]; ok {
		var policy iteration.ErrorPolicy
		switch p := v.(type) {
		case iteration.ErrorPolicy:
			policy = p
		case string:
			parsed, err := iteration.ParseErrorPolicy(p)
			if err != nil {
				return spec, err
			}
			policy = parsed
		default:
			return spec, errs.Configuration(op, "onerror has unsupported type %T", v)
		}
		cycleOpts = append(cycleOpts, iteration.OnError(policy))
	}

	param := ""
	if v, ok := cfg["param"]; ok {
		s, err := toString(v)
		if err != nil {
			return spec, bad("param", err)
		}
		param = s
	}
	spec.Primary = iteration.NewCycle(param, cycleOpts...)

	cycles, err := toCycles(cfg["cycles"])
	if err != nil {
		return spec, bad("cycles", err)
	}
	spec.Cycles = cycles

	switch m := cfg["mode"].(type) {
	case nil:
	case iteration.Mode:
		spec.Mode = m
	case string:
		if spec.Mode, err = iteration.ParseMode(m); err != nil {
			return spec, err
		}
	default:
		return spec, errs.Configuration(op, "mode has unsupported type %T", m)
	}

	if v, ok := cfg["store"]; ok {
		if spec.StoreResults, err = toBool(v); err != nil {
			return spec, bad("store", err)
		}
	}

	breaks, err := toBreaks(cfg["breaks"])
	if err != nil {
		return spec, bad("breaks", err)
	}
	spec.Breaks = append(slices.Clone(breaks), extra...)

	static, _ := cfg["static"].(map[string]any)
	spec.Static = maps.Clone(static)
	if spec.Static == nil {
		spec.Static = make(map[string]any, len(kwargs))
	}
	maps.Copy(spec.Static, kwargs)
	return spec, nil
}

// batch

// Item is one call in a batch. Kwargs override the kwargs the batch is
// executed with. After lists item IDs that must complete first.
type Item struct {
	ID     string
	Kwargs map[string]any
	After  []string
}

type batchCapability struct {
	deps Builtins
}

func (batchCapability) Metadata() Metadata {
	return Metadata{
		Name:      CapBatch,
		Priority:  9,
		Mode:      Terminal,
		Keys:      BatchKeys,
		Conflicts: []string{CapIter},
		AutoReset: true,
		Merge:     Append,
	}
}

// Configure normalizes batch options to typed values so that Append merges
// items and rollback hooks across calls.
func (batchCapability) Configure(opts map[string]any) (map[string]any, error) {
	const op = "mixer.batch"
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		switch k {
		case "items":
			items, err := toItems(v)
			if err != nil {
				return nil, errs.Configuration(op, "items: %v", err)
			}
			out[k] = items
		case "mode":
			s, err := toString(v)
			if err != nil {
				return nil, errs.Configuration(op, "mode: %v", err)
			}
			if out[k], err = bulk.ParseMode(s); err != nil {
				return nil, err
			}
		case "onerror":
			if h, ok := toHandler(v); ok {
				out["handler"] = h
				continue
			}
			s, err := toString(v)
			if err != nil {
				return nil, errs.Configuration(op, "onerror: %v", err)
			}
			if out[k], err = bulk.ParseErrorPolicy(s); err != nil {
				return nil, err
			}
		case "handler":
			h, ok := toHandler(v)
			if !ok {
				return nil, errs.Configuration(op, "handler has unsupported type %T", v)
			}
			out[k] = h
		case "aggregate":
			s, err := toString(v)
			if err != nil {
				return nil, errs.Configuration(op, "aggregate: %v", err)
			}
			if out[k], err = bulk.ParseAggregation(s); err != nil {
				return nil, err
			}
		case "custom":
			fn, ok := v.(func([]*request.Response) any)
			if !ok {
				return nil, errs.Configuration(op, "custom has unsupported type %T", v)
			}
			out[k] = fn
		case "errorcheck":
			switch fn := v.(type) {
			case bulk.ErrorCheck:
				out[k] = fn
			case func(*request.Response) bool:
				out[k] = bulk.ErrorCheck(fn)
			default:
				return nil, errs.Configuration(op, "errorcheck has unsupported type %T", v)
			}
		case "pool":
			n, err := toInt(v)
			if err != nil {
				return nil, errs.Configuration(op, "pool: %v", err)
			}
			out[k] = n
		case "delay":
			d, err := toDuration(v)
			if err != nil {
				return nil, errs.Configuration(op, "delay: %v", err)
			}
			out[k] = d
		case "rollback":
			hooks, err := toHooks(v)
			if err != nil {
				return nil, errs.Configuration(op, "rollback: %v", err)
			}
			out[k] = hooks
		case "keep":
			b, err := toBool(v)
			if err != nil {
				return nil, errs.Configuration(op, "keep: %v", err)
			}
			out[k] = b
		}
	}
	return out, nil
}

// Execute prepares every item against the target and runs the batch. It
// returns the *bulk.Result.
func (c batchCapability) Execute(ctx context.Context, call Call) (any, error) {
	cfg := c.deps.Bulk
	conf := call.Config
	if v, ok := conf["mode"].(bulk.Mode); ok {
		cfg.Mode = v
	}
	if v, ok := conf["onerror"].(bulk.ErrorPolicy); ok {
		cfg.OnError = v
	}
	if v, ok := conf["handler"].(bulk.ErrorHandler); ok {
		cfg.Handler = v
	}
	if v, ok := conf["aggregate"].(bulk.Aggregation); ok {
		cfg.Aggregate = v
	}
	if v, ok := conf["custom"].(func([]*request.Response) any); ok {
		cfg.Custom = v
	}
	if v, ok := conf["errorcheck"].(bulk.ErrorCheck); ok {
		cfg.ErrorCheck = v
	}
	if v, ok := conf["pool"].(int); ok {
		cfg.PoolSize = v
	}
	if v, ok := conf["delay"].(time.Duration); ok {
		cfg.Delay = v
	}
	if v, ok := conf["rollback"].([]bulk.RollbackHook); ok {
		cfg.Rollback = append(slices.Clone(cfg.Rollback), v...)
	}
	if v, ok := conf["keep"].(bool); ok {
		cfg.KeepBatch = v
	}

	b := bulk.NewBatch()
	items, _ := conf["items"].([]Item)
	for _, it := range items {
		kwargs := maps.Clone(call.Kwargs)
		if kwargs == nil {
			kwargs = make(map[string]any, len(it.Kwargs))
		}
		maps.Copy(kwargs, it.Kwargs)
		exe, err := call.Target.Prepare(nil, kwargs)
		if err != nil {
			return nil, err
		}
		if it.ID == "" {
			b.Add(exe, it.After...)
			continue
		}
		if err := b.AddWithID(it.ID, exe, it.After...); err != nil {
			return nil, err
		}
	}

	engine := bulk.NewEngine(cfg, bulk.WithLogger(c.deps.Logger), bulk.WithRecorder(c.deps.Recorder))
	res, err := engine.Execute(ctx, b)
	if res == nil {
		return nil, err
	}
	return res, err
}

func toItems(v any) ([]Item, error) {
	switch it := v.(type) {
	case Item:
		return []Item{it}, nil
	case []Item:
		return slices.Clone(it), nil
	case map[string]any:
		return []Item{{Kwargs: it}}, nil
	case []map[string]any:
		out := make([]Item, len(it))
		for i, kw := range it {
			out[i] = Item{Kwargs: kw}
		}
		return out, nil
	}
	list, err := toSlice(v)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(list))
	for _, e := range list {
		sub, err := toItems(e)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

func toHandler(v any) (bulk.ErrorHandler, bool) {
	switch h := v.(type) {
	case bulk.ErrorHandler:
		return h, true
	case func(string, error) bool:
		return h, true
	}
	return nil, false
}

func toHooks(v any) ([]bulk.RollbackHook, error) {
	switch h := v.(type) {
	case bulk.RollbackHook:
		return []bulk.RollbackHook{h}, nil
	case func(context.Context, []*request.Response, error) error:
		return []bulk.RollbackHook{h}, nil
	case []bulk.RollbackHook:
		return slices.Clone(h), nil
	}
	return nil, errs.Configuration("mixer.batch", "unsupported rollback hook %T", v)
}
