package mixer

import (
	"context"

	"github.com/example/clientfactory/internal/iteration"
)

// Chain is a fluent builder over a Mixer. The first configuration error is
// kept and returned by Execute; later steps are skipped.
type Chain struct {
	m   *Mixer
	err error
}

// Chain starts a fluent configuration.
func (m *Mixer) Chain() *Chain { return &Chain{m: m} }

// With configures the named capability.
func (c *Chain) With(name string, opts map[string]any) *Chain {
	if c.err == nil {
		c.err = c.m.Configure(name, opts)
	}
	return c
}

// Params adds static params that persist across calls.
func (c *Chain) Params(kv map[string]any) *Chain { return c.With(CapParams, kv) }

// Until adds break conditions for a following iteration.
func (c *Chain) Until(conds ...iteration.BreakCondition) *Chain {
	return c.With(CapUntil, map[string]any{"breaks": conds})
}

// Iter configures an iteration. See IterKeys.
func (c *Chain) Iter(opts map[string]any) *Chain { return c.With(CapIter, opts) }

// Batch adds items to a batch.
func (c *Chain) Batch(items ...Item) *Chain {
	return c.With(CapBatch, map[string]any{"items": items})
}

// Prep makes the call return a prepared executable instead of sending.
func (c *Chain) Prep() *Chain { return c.With(CapPrep, nil) }

// Err returns the first configuration error.
func (c *Chain) Err() error { return c.err }

// Execute runs the mixer. After a configuration error the auto-reset
// configs are cleared and the error is returned.
func (c *Chain) Execute(ctx context.Context, kwargs map[string]any) (any, error) {
	if c.err != nil {
		c.m.resetAuto()
		return nil, c.err
	}
	return c.m.Execute(ctx, kwargs)
}
