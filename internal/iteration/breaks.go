package iteration

import "slices"

// Phase tells a BreakCondition when it is evaluated.
type Phase int

const (
	// PreCheck runs before a call; only the context is available.
	PreCheck Phase = iota
	// PostCheck runs after a successful or skipped call.
	PostCheck
)

func (p Phase) String() string {
	if p == PreCheck {
		return "pre"
	}
	return "post"
}

// Outcome is what a BreakCondition sees. Result is set after a successful
// call; Err is the swallowed error after a skipped one.
type Outcome struct {
	Result any
	Err    error
	Phase  Phase
}

// BreakCondition stops an iteration early.
type BreakCondition interface {
	ShouldBreak(ctx *Context, out Outcome) bool
}

// Func adapts a function to the BreakCondition interface.
type Func func(ctx *Context, out Outcome) bool

// ShouldBreak calls f(ctx, out).
func (f Func) ShouldBreak(ctx *Context, out Outcome) bool { return f(ctx, out) }

// ConsecutiveErrors breaks once n calls in a row have failed.
func ConsecutiveErrors(n int) BreakCondition {
	return Func(func(ctx *Context, _ Outcome) bool {
		return ctx.Errors.Consecutive >= n
	})
}

// MaxIterations breaks once n calls have succeeded.
func MaxIterations(n int) BreakCondition {
	return Func(func(ctx *Context, _ Outcome) bool {
		return ctx.Iterations >= n
	})
}

// When breaks when pred accepts the latest result. It never fires without
// a result.
func When(pred func(result any) bool) BreakCondition {
	return Func(func(_ *Context, out Outcome) bool {
		if out.Result == nil {
			return false
		}
		return pred(out.Result)
	})
}

type statusCoder interface {
	StatusCode() int
}

// StatusMatch breaks when the latest result carries a status code accepted
// by pred.
func StatusMatch(pred func(code int) bool) BreakCondition {
	return Func(func(_ *Context, out Outcome) bool {
		r, ok := out.Result.(statusCoder)
		if !ok || r == nil {
			return false
		}
		return pred(r.StatusCode())
	})
}

// StatusCode breaks when the latest response has one of codes.
func StatusCode(codes ...int) BreakCondition {
	return StatusMatch(func(code int) bool { return slices.Contains(codes, code) })
}

// BadRequest breaks on any non-2xx response.
func BadRequest() BreakCondition {
	return StatusMatch(func(code int) bool { return code < 200 || code >= 300 })
}

// All breaks when every condition breaks. All() never breaks.
func All(conds ...BreakCondition) BreakCondition {
	return Func(func(ctx *Context, out Outcome) bool {
		if len(conds) == 0 {
			return false
		}
		for _, c := range conds {
			if !c.ShouldBreak(ctx, out) {
				return false
			}
		}
		return true
	})
}

// Any breaks when at least one condition breaks.
func Any(conds ...BreakCondition) BreakCondition {
	return Func(func(ctx *Context, out Outcome) bool {
		for _, c := range conds {
			if c.ShouldBreak(ctx, out) {
				return true
			}
		}
		return false
	})
}
