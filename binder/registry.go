package binder

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/miladsoleymani/cloudstream/broker"
	"github.com/miladsoleymani/cloudstream/core"
)

// Configuration names a binder and the registered broker sources that
// build it. Exactly one source must be a broker factory; the others are
// customizers applied to the broker.Config in order before the factory
// runs.
type Configuration struct {
	Name    string
	Sources []string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefault names the binder used when a binding does not name one.
func WithDefault(name string) RegistryOption {
	return func(r *Registry) { r.defaultName = name }
}

// WithBrokerConfig sets the transport settings of the named binder.
func WithBrokerConfig(name string, cfg broker.Config) RegistryOption {
	return func(r *Registry) { r.settings[name] = cfg }
}

// WithBinderOptions adds options applied to every binder the registry
// creates.
func WithBinderOptions(opts ...Option) RegistryOption {
	return func(r *Registry) { r.binderOpts = append(r.binderOpts, opts...) }
}

// WithRegistryLogger sets the logger handed to created binders.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry resolves binder names to binder instances. Binders are created
// on first use and cached for the lifetime of the registry.
type Registry struct {
	configs     map[string]Configuration
	order       []string
	defaultName string
	settings    map[string]broker.Config
	binderOpts  []Option
	logger      *slog.Logger

	mu        sync.Mutex
	instances map[string]*BrokerBinder
}

// NewRegistry validates configs and returns a registry over them.
func NewRegistry(configs []Configuration, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		configs:   make(map[string]Configuration, len(configs)),
		settings:  make(map[string]broker.Config),
		logger:    slog.Default(),
		instances: make(map[string]*BrokerBinder),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, c := range configs {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: binder name must not be blank", core.ErrConfiguration)
		}
		if _, dup := r.configs[name]; dup {
			return nil, fmt.Errorf("%w: duplicate binder %q", core.ErrConfiguration, name)
		}
		if len(c.Sources) == 0 {
			return nil, fmt.Errorf("%w: binder %q has no sources", core.ErrConfiguration, name)
		}
		c.Name = name
		c.Sources = append([]string(nil), c.Sources...)
		r.configs[name] = c
		r.order = append(r.order, name)
	}
	if r.defaultName != "" {
		if _, ok := r.configs[r.defaultName]; !ok {
			return nil, fmt.Errorf("%w: default binder %q is not configured", core.ErrConfiguration, r.defaultName)
		}
	}
	return r, nil
}

// Names returns the configured binder names in declaration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Configuration returns the configuration of the named binder.
func (r *Registry) Configuration(name string) (Configuration, bool) {
	c, ok := r.configs[name]
	return c, ok
}

// Binder returns the named binder, creating it on first use. A blank name
// selects the default binder, or the only binder when just one is
// configured.
func (r *Registry) Binder(name string) (core.Binder, error) {
	b, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// BrokerBinder is Binder returning the concrete type.
func (r *Registry) BrokerBinder(name string) (*BrokerBinder, error) {
	return r.resolve(name)
}

func (r *Registry) resolve(name string) (*BrokerBinder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		switch {
		case r.defaultName != "":
			name = r.defaultName
		case len(r.order) == 1:
			name = r.order[0]
		default:
			return nil, fmt.Errorf("%w: no default binder among %d configured", core.ErrBinderResolution, len(r.order))
		}
	}
	conf, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown binder %q", core.ErrBinderResolution, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.instances[name]; ok {
		return b, nil
	}
	b, err := r.create(conf)
	if err != nil {
		return nil, err
	}
	r.instances[name] = b
	return b, nil
}

func (r *Registry) create(conf Configuration) (*BrokerBinder, error) {
	cfg := r.settings[conf.Name].Clone()
	if cfg.Extra == nil {
		cfg.Extra = make(map[string]any)
	}

	var (
		factory     broker.Factory
		factoryName string
		customs     []broker.Customizer
	)
	for _, src := range conf.Sources {
		f, c, ok := broker.Lookup(src)
		if !ok {
			return nil, fmt.Errorf("%w: binder %q: unknown source %q", core.ErrBinderResolution, conf.Name, src)
		}
		if c != nil {
			customs = append(customs, c)
			continue
		}
		if factory != nil {
			return nil, fmt.Errorf("%w: binder %q: sources %q and %q are both transports",
				core.ErrConfiguration, conf.Name, factoryName, src)
		}
		factory, factoryName = f, src
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: binder %q: no transport among %v", core.ErrConfiguration, conf.Name, conf.Sources)
	}
	for _, c := range customs {
		if err := c(&cfg); err != nil {
			return nil, fmt.Errorf("%w: binder %q: %w", core.ErrConfiguration, conf.Name, err)
		}
	}

	br, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: binder %q: %w", core.ErrBinderResolution, conf.Name, err)
	}

	opts := append([]Option{WithLogger(r.logger)}, r.binderOpts...)
	opts = append(opts, WithMinPartitionCount(cfg.MinPartitionCount), WithDefaultGroup(cfg.Group))
	b := New(conf.Name, br, opts...)
	r.logger.Info("created binder", "binder", conf.Name, "transport", factoryName)
	return b, nil
}

// Close closes the transports of every binder created so far.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := r.instances[name].broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close binder %q: %w", name, err))
		}
		delete(r.instances, name)
	}
	return errors.Join(errs...)
}
