// Package iteration drives repeated operation calls over parameter sweeps.
//
// A sweep is described by Cycles: one primary Cycle plus optional secondary
// Cycles combined sequentially or as a cartesian product. The Engine invokes
// the operation once per combination, applying the governing Cycle's error
// policy and stopping early when a BreakCondition fires.
package iteration

import (
	"fmt"
	"iter"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/clientfactory/internal/errs"
)

// DefaultMaterializeLimit caps how many values a one-shot source may produce.
const DefaultMaterializeLimit = 100_000

// ErrorPolicy selects how the engine reacts to a failed call.
type ErrorPolicy string

// Error policies.
const (
	Stop     ErrorPolicy = "stop"
	Continue ErrorPolicy = "continue"
	Retry    ErrorPolicy = "retry"
	Callback ErrorPolicy = "callback"
)

// ParseErrorPolicy parses a policy name, case-insensitively.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case Stop, Continue, Retry, Callback:
		return p, nil
	}
	return "", errs.Configuration("iteration.policy", "unknown error policy %q", s)
}

// ErrorCallback decides whether a failed call is retried.
type ErrorCallback func(err error, c *Cycle) bool

// Cycle is a named parameter's source of values. A Cycle has at most one
// source: a numeric progression, an explicit sequence, or a one-shot
// iter.Seq. A Cycle without a source takes its values from the declared
// choices of the invoked operation.
//
// Thread Safety: Safe for concurrent use once configured.
type Cycle struct {
	param string

	start, end, step any
	ranged           bool

	values    []any
	hasValues bool

	once  *oneShot
	limit int

	filter func(any) bool
	every  int

	policy     ErrorPolicy
	maxRetries int
	retryDelay time.Duration
	callback   ErrorCallback
}

// oneShot caches the values of a source that cannot be replayed.
type oneShot struct {
	seq    iter.Seq[any]
	once   sync.Once
	values []any
	err    error
}

// CycleOption configures a Cycle.
type CycleOption func(*Cycle)

// Start sets the first value of a numeric progression.
func Start(v any) CycleOption {
	return func(c *Cycle) { c.start, c.ranged = v, true }
}

// End sets the inclusive last value of a numeric progression.
func End(v any) CycleOption {
	return func(c *Cycle) { c.end, c.ranged = v, true }
}

// Step sets the progression increment. It defaults to 1.
func Step(v any) CycleOption {
	return func(c *Cycle) { c.step = v }
}

// Range is shorthand for Start, End and Step. A nil argument is left unset.
func Range(start, end, step any) CycleOption {
	return func(c *Cycle) {
		if start != nil {
			Start(start)(c)
		}
		if end != nil {
			End(end)(c)
		}
		if step != nil {
			Step(step)(c)
		}
	}
}

// Values sets an explicit sequence.
func Values(vals ...any) CycleOption {
	return func(c *Cycle) {
		c.values = append([]any(nil), vals...)
		c.hasValues = true
	}
}

// FromSeq sets a one-shot source. It is consumed on first use and cached.
func FromSeq(seq iter.Seq[any]) CycleOption {
	return func(c *Cycle) { c.once = &oneShot{seq: seq} }
}

// MaterializeLimit bounds how many values a one-shot source may produce
// before generation fails. Zero or less disables the limit.
func MaterializeLimit(n int) CycleOption {
	return func(c *Cycle) { c.limit = n }
}

// Filter drops values for which keep returns false.
func Filter(keep func(any) bool) CycleOption {
	return func(c *Cycle) { c.filter = keep }
}

// Every keeps every nth value of a sequence, counted after filtering.
// It has no effect on numeric progressions, which use Step instead.
func Every(n int) CycleOption {
	return func(c *Cycle) { c.every = n }
}

// OnError sets the error policy.
func OnError(p ErrorPolicy) CycleOption {
	return func(c *Cycle) { c.policy = p }
}

// Retries sets the retry budget and base delay used by Retry and Callback.
func Retries(max int, delay time.Duration) CycleOption {
	return func(c *Cycle) {
		c.maxRetries = max
		c.retryDelay = delay
	}
}

// WithCallback sets the callback and selects the Callback policy.
func WithCallback(fn ErrorCallback) CycleOption {
	return func(c *Cycle) {
		c.callback = fn
		c.policy = Callback
	}
}

// NewCycle creates a cycle for param. The default policy is Continue with
// three retries one second apart.
func NewCycle(param string, opts ...CycleOption) *Cycle {
	c := &Cycle{
		param:      param,
		limit:      DefaultMaterializeLimit,
		policy:     Continue,
		maxRetries: 3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cycle) Param() string             { return c.param }
func (c *Cycle) Policy() ErrorPolicy       { return c.policy }
func (c *Cycle) MaxRetries() int           { return c.maxRetries }
func (c *Cycle) RetryDelay() time.Duration { return c.retryDelay }

// HasSource reports whether the cycle declares its own values.
func (c *Cycle) HasSource() bool {
	return c.ranged || c.hasValues || c.once != nil
}

// Generate returns the cycle's values. Every returned sequence yields the
// same values in the same order.
func (c *Cycle) Generate() (iter.Seq[any], error) {
	switch {
	case c.ranged:
		return c.progression()
	case c.hasValues:
		return c.sequence(c.values), nil
	case c.once != nil:
		vals, err := c.materialize()
		if err != nil {
			return nil, err
		}
		return c.sequence(vals), nil
	}
	return nil, errs.Configuration("iteration.cycle", "cycle %q has no value source", c.param)
}

// withParam returns a copy of c bound to param.
func (c *Cycle) withParam(param string) *Cycle {
	cp := *c
	cp.param = param
	return &cp
}

// withValues returns a copy of c that yields vals.
func (c *Cycle) withValues(vals []any) *Cycle {
	cp := *c
	cp.values = append([]any(nil), vals...)
	cp.hasValues = true
	return &cp
}

func (c *Cycle) validate() error {
	switch c.policy {
	case Stop, Continue, Retry:
	case Callback:
		if c.callback == nil {
			return errs.Configuration("iteration.cycle", "cycle %q uses the callback policy without a callback", c.param)
		}
	default:
		return errs.Configuration("iteration.cycle", "cycle %q has unknown error policy %q", c.param, c.policy)
	}
	if c.maxRetries < 0 {
		return errs.Configuration("iteration.cycle", "cycle %q has negative max retries", c.param)
	}
	return nil
}

func (c *Cycle) materialize() ([]any, error) {
	o := c.once
	o.once.Do(func() {
		for v := range o.seq {
			if c.limit > 0 && len(o.values) >= c.limit {
				o.values = nil
				o.err = errs.Configuration("iteration.cycle",
					"one-shot source for %q exceeds %d values", c.param, c.limit)
				return
			}
			o.values = append(o.values, v)
		}
	})
	return o.values, o.err
}

func (c *Cycle) sequence(vals []any) iter.Seq[any] {
	return func(yield func(any) bool) {
		kept := 0
		for _, v := range vals {
			if c.filter != nil && !c.filter(v) {
				continue
			}
			kept++
			if c.every > 1 && (kept-1)%c.every != 0 {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

type numKind int

const (
	kindInt numKind = iota
	kindFloat
	kindDecimal
)

func (c *Cycle) progression() (iter.Seq[any], error) {
	op := "iteration.cycle"
	kind := kindInt

	start := decimal.Zero
	if c.start != nil {
		d, k, err := toDecimal(c.start)
		if err != nil {
			return nil, errs.Configuration(op, "cycle %q start: %v", c.param, err)
		}
		start, kind = d, max(kind, k)
	}

	step := decimal.NewFromInt(1)
	if c.step != nil {
		d, k, err := toDecimal(c.step)
		if err != nil {
			return nil, errs.Configuration(op, "cycle %q step: %v", c.param, err)
		}
		step, kind = d, max(kind, k)
	}
	if step.IsZero() {
		return nil, errs.Configuration(op, "cycle %q has a zero step", c.param)
	}

	var end decimal.Decimal
	bounded := c.end != nil
	if bounded {
		d, k, err := toDecimal(c.end)
		if err != nil {
			return nil, errs.Configuration(op, "cycle %q end: %v", c.param, err)
		}
		end, kind = d, max(kind, k)
	}

	within := func(v decimal.Decimal) bool {
		switch {
		case !bounded:
			return true
		case step.IsPositive():
			return v.LessThanOrEqual(end)
		default:
			return v.GreaterThanOrEqual(end)
		}
	}

	return func(yield func(any) bool) {
		for cur := start; within(cur); cur = cur.Add(step) {
			v := fromDecimal(cur, kind)
			if c.filter != nil && !c.filter(v) {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}, nil
}

func toDecimal(v any) (decimal.Decimal, numKind, error) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), kindInt, nil
	case int8:
		return decimal.NewFromInt(int64(n)), kindInt, nil
	case int16:
		return decimal.NewFromInt(int64(n)), kindInt, nil
	case int32:
		return decimal.NewFromInt(int64(n)), kindInt, nil
	case int64:
		return decimal.NewFromInt(n), kindInt, nil
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(n)), 0), kindInt, nil
	case uint8:
		return decimal.NewFromInt(int64(n)), kindInt, nil
	case uint16:
		return decimal.NewFromInt(int64(n)), kindInt, nil
	case uint32:
		return decimal.NewFromInt(int64(n)), kindInt, nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0), kindInt, nil
	case float32:
		return decimal.NewFromFloat32(n), kindFloat, nil
	case float64:
		return decimal.NewFromFloat(n), kindFloat, nil
	case decimal.Decimal:
		return n, kindDecimal, nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Decimal{}, 0, fmt.Errorf("not a number: %q", n)
		}
		if strings.ContainsAny(n, ".eE") {
			return d, kindFloat, nil
		}
		return d, kindInt, nil
	}
	return decimal.Decimal{}, 0, fmt.Errorf("not a number: %v (%T)", v, v)
}

func fromDecimal(d decimal.Decimal, kind numKind) any {
	switch kind {
	case kindInt:
		return int(d.IntPart())
	case kindFloat:
		return d.InexactFloat64()
	}
	return d
}
