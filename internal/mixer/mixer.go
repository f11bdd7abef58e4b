// Package mixer orchestrates optional capabilities around one operation.
//
// Capabilities are configured per call through a Mixer and executed in
// priority order: transforms rewrite the call kwargs, deferred capabilities
// only publish their config, and the first terminal capability produces the
// result. When no terminal capability is configured the operation is invoked
// directly.
package mixer

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/example/clientfactory/internal/errs"
	"github.com/example/clientfactory/internal/logger"
	"github.com/example/clientfactory/internal/operation"
)

// Mode is how a capability takes part in execution.
type Mode int

const (
	Transform Mode = iota
	Deferred
	Terminal
)

func (m Mode) String() string {
	switch m {
	case Transform:
		return "transform"
	case Deferred:
		return "deferred"
	case Terminal:
		return "terminal"
	}
	return "unknown"
}

// Metadata describes a capability to the Mixer.
type Metadata struct {
	Name string
	// Priority orders execution; lower runs first.
	Priority int
	Mode     Mode
	// Keys lists accepted config keys. Nil accepts any key.
	Keys      []string
	Conflicts []string
	AutoReset bool
	Merge     MergeStrategy
}

// Target is the operation a Mixer orchestrates. *operation.Operation
// implements it.
type Target interface {
	Invoke(ctx context.Context, kwargs map[string]any) (any, error)
	Prepare(args []any, kwargs map[string]any) (*operation.Executable, error)
}

// Call is what a capability sees when it runs.
type Call struct {
	Target Target
	// Config is this capability's merged config.
	Config map[string]any
	// Peers holds the config of every configured capability, by name.
	Peers  map[string]map[string]any
	Kwargs map[string]any
}

// Capability is an optional behaviour attached to a Mixer.
type Capability interface {
	Metadata() Metadata
	// Configure validates and normalizes options before they are merged.
	Configure(opts map[string]any) (map[string]any, error)
}

// TerminalCapability produces the result of a call.
type TerminalCapability interface {
	Capability
	Execute(ctx context.Context, call Call) (any, error)
}

// Transformer rewrites call kwargs.
type Transformer interface {
	Capability
	Transform(ctx context.Context, call Call) (map[string]any, error)
}

// ConfigMerger is implemented by capabilities whose configs need more than
// the merge strategy named in their Metadata.
type ConfigMerger interface {
	MergeConfig(existing, incoming map[string]any) (map[string]any, error)
}

// Mixer holds the configured capabilities for one target.
//
// Thread Safety: Not safe for concurrent use.
type Mixer struct {
	target   Target
	registry map[string]Capability
	rank     map[string]int
	configs  map[string]map[string]any
	logger   *zap.Logger
	builtins Builtins
}

// Option configures a Mixer.
type Option func(*Mixer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mixer) { m.logger = l }
}

// WithBuiltins sets the dependencies handed to the built-in capabilities.
func WithBuiltins(b Builtins) Option {
	return func(m *Mixer) { m.builtins = b }
}

// New creates a Mixer for target with the built-in capabilities registered.
func New(target Target, opts ...Option) *Mixer {
	m := &Mixer{
		target:   target,
		registry: make(map[string]Capability),
		rank:     make(map[string]int),
		configs:  make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrNop(m.logger)
	if m.builtins.Logger == nil {
		m.builtins.Logger = m.logger
	}
	for _, c := range m.builtins.capabilities() {
		// Built-in names are unique.
		_ = m.Register(c)
	}
	return m
}

// Register adds a capability. Names must be unique.
func (m *Mixer) Register(c Capability) error {
	meta := c.Metadata()
	if meta.Name == "" {
		return errs.Configuration("mixer.register", "capability without a name")
	}
	if _, dup := m.registry[meta.Name]; dup {
		return errs.Configuration("mixer.register", "capability %q already registered", meta.Name)
	}
	switch meta.Mode {
	case Transform:
		if _, ok := c.(Transformer); !ok {
			return errs.Configuration("mixer.register", "transform capability %q has no Transform method", meta.Name)
		}
	case Terminal:
		if _, ok := c.(TerminalCapability); !ok {
			return errs.Configuration("mixer.register", "terminal capability %q has no Execute method", meta.Name)
		}
	}
	m.rank[meta.Name] = len(m.registry)
	m.registry[meta.Name] = c
	return nil
}

// Configure validates opts for the named capability and merges them into its
// config. Conflicts with already configured capabilities are rejected in
// both directions.
func (m *Mixer) Configure(name string, opts map[string]any) error {
	const op = "mixer.configure"
	c, ok := m.registry[name]
	if !ok {
		return errs.Configuration(op, "unknown capability %q", name)
	}
	meta := c.Metadata()

	if meta.Keys != nil {
		for k := range opts {
			if !slices.Contains(meta.Keys, k) {
				return errs.Configuration(op, "capability %q does not accept %q", name, k)
			}
		}
	}

	for other := range m.configs {
		if other == name {
			continue
		}
		if slices.Contains(meta.Conflicts, other) || slices.Contains(m.registry[other].Metadata().Conflicts, name) {
			return errs.Configuration(op, "capability %q conflicts with %q", name, other)
		}
	}

	normalized, err := c.Configure(maps.Clone(opts))
	if err != nil {
		return err
	}
	merge := meta.Merge.Merge
	if cm, ok := c.(ConfigMerger); ok {
		merge = cm.MergeConfig
	}
	merged, err := merge(m.configs[name], normalized)
	if err != nil {
		return err
	}
	m.configs[name] = merged
	m.logger.Debug("capability configured", zap.String("capability", name))
	return nil
}

// Configured returns configured capability names in execution order.
func (m *Mixer) Configured() []string {
	names := slices.Collect(maps.Keys(m.configs))
	slices.SortFunc(names, func(a, b string) int {
		pa, pb := m.registry[a].Metadata().Priority, m.registry[b].Metadata().Priority
		return cmp.Or(cmp.Compare(pa, pb), cmp.Compare(m.rank[a], m.rank[b]))
	})
	return names
}

// Config returns a copy of the named capability's config.
func (m *Mixer) Config(name string) (map[string]any, bool) {
	cfg, ok := m.configs[name]
	return maps.Clone(cfg), ok
}

// Reset clears every config, including persistent ones.
func (m *Mixer) Reset() {
	clear(m.configs)
}

// Execute runs the configured capabilities with kwargs. Configs of
// auto-reset capabilities are cleared afterwards, on success or failure.
func (m *Mixer) Execute(ctx context.Context, kwargs map[string]any) (any, error) {
	defer m.resetAuto()

	kwargs = maps.Clone(kwargs)
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	peers := make(map[string]map[string]any, len(m.configs))
	for name, cfg := range m.configs {
		peers[name] = maps.Clone(cfg)
	}

	for _, name := range m.Configured() {
		c := m.registry[name]
		call := Call{Target: m.target, Config: peers[name], Peers: peers, Kwargs: kwargs}

		switch c.Metadata().Mode {
		case Transform:
			next, err := c.(Transformer).Transform(ctx, call)
			if err != nil {
				return nil, err
			}
			kwargs = next
		case Deferred:
			continue
		case Terminal:
			m.logger.Debug("terminal capability", zap.String("capability", name))
			return c.(TerminalCapability).Execute(ctx, call)
		}
	}
	return m.target.Invoke(ctx, kwargs)
}

func (m *Mixer) resetAuto() {
	for name := range m.configs {
		if m.registry[name].Metadata().AutoReset {
			delete(m.configs, name)
		}
	}
}
