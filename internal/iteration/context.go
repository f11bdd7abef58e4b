package iteration

import "slices"

// ErrorLog records failed calls.
type ErrorLog struct {
	History     []error
	Total       int
	Consecutive int
}

// Context is the state of one top-level iteration. Iterations counts
// successful calls; Attempts counts every call, retries included.
type Context struct {
	Iterations   int
	Attempts     int
	Errors       ErrorLog
	Results      []any
	StoreResults bool
}

func (c *Context) reset(store bool) {
	*c = Context{StoreResults: store}
}

func (c *Context) recordSuccess(result any) {
	c.Iterations++
	c.Errors.Consecutive = 0
	if c.StoreResults {
		c.Results = append(c.Results, result)
	}
}

func (c *Context) recordError(err error) {
	c.Errors.History = append(c.Errors.History, err)
	c.Errors.Total++
	c.Errors.Consecutive++
}

// Snapshot returns a copy that later calls do not modify.
func (c *Context) Snapshot() *Context {
	cp := *c
	cp.Errors.History = slices.Clone(c.Errors.History)
	cp.Results = slices.Clone(c.Results)
	return &cp
}
