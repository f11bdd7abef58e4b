// Package catalog loads operation templates from OpenAPI documents or
// declarative YAML files and binds them to a transport.
package catalog

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/operation"
	"github.com/example/clientfactory/internal/payload"
	"github.com/example/clientfactory/internal/request"
	"github.com/example/clientfactory/internal/transport"
)

// Entry is one cataloged operation.
type Entry struct {
	Template request.Template
	// Schema validates payloads. It is nil when the operation declares none.
	Schema *payload.Schema
}

// Catalog is a named set of operation templates sharing one target.
//
// Thread Safety: Safe for concurrent reads once loaded.
type Catalog struct {
	Name    string
	Target  request.Target
	entries map[string]Entry
}

// New creates an empty catalog for target.
func New(name string, target request.Target) *Catalog {
	return &Catalog{Name: name, Target: target, entries: make(map[string]Entry)}
}

// Add registers a template. The method is normalized and the template
// validated; names must be unique.
func (c *Catalog) Add(tmpl request.Template, schema *payload.Schema) error {
	method, err := request.ParseMethod(string(tmpl.Method))
	if err != nil {
		return err
	}
	tmpl.Method = method
	if tmpl.Name == "" {
		tmpl.Name = strings.ToLower(string(method)) + ":" + tmpl.Path
	}
	if err := tmpl.Validate(); err != nil {
		return err
	}
	if _, dup := c.entries[tmpl.Name]; dup {
		return errs.Configuration("catalog.add", "duplicate operation %q", tmpl.Name)
	}
	c.entries[tmpl.Name] = Entry{Template: tmpl, Schema: schema}
	return nil
}

// Get returns the named entry.
func (c *Catalog) Get(name string) (Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// Names returns operation names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of operations.
func (c *Catalog) Len() int { return len(c.entries) }

// Bind builds an operation for name that sends through port. The entry's
// schema, if any, becomes the operation's validator; opts are applied after.
func (c *Catalog) Bind(name string, port transport.Port, opts ...operation.Option) (*operation.Operation, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, errs.Configuration("catalog.bind", "unknown operation %q", name)
	}
	var all []operation.Option
	if e.Schema != nil {
		all = append(all, operation.WithValidator(e.Schema))
	}
	return operation.New(e.Template, c.Target, port, append(all, opts...)...), nil
}

// LoadFile reads a catalog from path. Documents with a top-level "openapi"
// key are parsed as OpenAPI 3; anything else as a YAML catalog.
func LoadFile(ctx context.Context, path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "catalog.load", err)
	}
	var head struct {
		OpenAPI string `yaml:"openapi"`
	}
	// JSON is valid YAML, so one decode covers both encodings.
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, errs.Configuration("catalog.load", "%s: %v", filepath.Base(path), err)
	}
	if head.OpenAPI != "" {
		return LoadOpenAPI(ctx, data)
	}
	return LoadYAML(data)
}
