// Package bulk executes batches of prepared requests, either in dependency
// order or in parallel on a bounded pool, and aggregates the responses.
package bulk

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/operation"
	"github.com/example/clientfactory/internal/request"
	"github.com/example/clientfactory/internal/transport"
)

// Executable is one unit of bulk work. *operation.Executable implements it.
type Executable interface {
	Execute(ctx context.Context) (*request.Response, error)
}

// ExecutableFunc adapts a function to the Executable interface.
type ExecutableFunc func(ctx context.Context) (*request.Response, error)

// Execute calls f(ctx).
func (f ExecutableFunc) Execute(ctx context.Context) (*request.Response, error) { return f(ctx) }

// FromRequest pairs a plain request with the port that sends it.
func FromRequest(req *request.Request, port transport.Port) Executable {
	return operation.NewExecutable(req, port)
}

type item struct {
	id  string
	exe Executable
}

// Batch accumulates work for one Engine.Execute call.
//
// Thread Safety: Not safe for concurrent use.
type Batch struct {
	items     []item
	index     map[string]int
	deps      map[string][]string
	responses map[string]*request.Response
	errors    map[string]error
	completed map[string]bool
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	b := &Batch{}
	b.Clear()
	return b
}

// Add appends exe with a generated ID and returns the ID. dependsOn lists
// IDs that must complete first; they may be added later.
func (b *Batch) Add(exe Executable, dependsOn ...string) string {
	id := uuid.NewString()
	b.append(id, exe, dependsOn)
	return id
}

// AddWithID appends exe under a caller-chosen ID.
func (b *Batch) AddWithID(id string, exe Executable, dependsOn ...string) error {
	if id == "" {
		return errs.Configuration("bulk.add", "empty item id")
	}
	if _, dup := b.index[id]; dup {
		return errs.Configuration("bulk.add", "duplicate item id %q", id)
	}
	b.append(id, exe, dependsOn)
	return nil
}

func (b *Batch) append(id string, exe Executable, dependsOn []string) {
	b.index[id] = len(b.items)
	b.items = append(b.items, item{id: id, exe: exe})
	if len(dependsOn) > 0 {
		b.deps[id] = slices.Clone(dependsOn)
	}
}

// Len returns the number of items.
func (b *Batch) Len() int { return len(b.items) }

// IDs returns item IDs in insertion order.
func (b *Batch) IDs() []string {
	ids := make([]string, len(b.items))
	for i, it := range b.items {
		ids[i] = it.id
	}
	return ids
}

// Response returns the recorded response for id.
func (b *Batch) Response(id string) (*request.Response, bool) {
	r, ok := b.responses[id]
	return r, ok
}

// Err returns the recorded error for id.
func (b *Batch) Err(id string) error { return b.errors[id] }

// Completed reports whether id has been attempted.
func (b *Batch) Completed(id string) bool { return b.completed[id] }

// Clear removes every item and recorded outcome.
func (b *Batch) Clear() {
	b.items = nil
	b.index = make(map[string]int)
	b.deps = make(map[string][]string)
	b.resetOutcomes()
}

func (b *Batch) resetOutcomes() {
	b.responses = make(map[string]*request.Response)
	b.errors = make(map[string]error)
	b.completed = make(map[string]bool)
}

func (b *Batch) record(id string, resp *request.Response, err error) {
	b.completed[id] = true
	if resp != nil {
		b.responses[id] = resp
	}
	if err != nil {
		b.errors[id] = err
	}
}

func (b *Batch) ready(id string) bool {
	for _, dep := range b.deps[id] {
		if !b.completed[dep] {
			return false
		}
	}
	return true
}

func (b *Batch) validateDeps() error {
	for _, it := range b.items {
		for _, dep := range b.deps[it.id] {
			if _, ok := b.index[dep]; !ok {
				return errs.Configuration("bulk.execute", "item %q depends on unknown item %q", it.id, dep)
			}
		}
	}
	return nil
}
