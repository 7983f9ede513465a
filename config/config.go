// Package config loads application configuration from YAML.
//
// References to environment variables are expanded before parsing:
//
//	${KAFKA_BROKERS}
//	${KAFKA_BROKERS:-localhost:9092}
//
// A minimal file:
//
//	defaultBinder: kafka
//	instanceIndex: 0
//	instanceCount: 1
//	binders:
//	  kafka:
//	    type: kafka
//	    brokers: ["${KAFKA_BROKERS:-localhost:9092}"]
//	bindings:
//	  input:
//	    destination: orders
//	    consumer:
//	      group: billing
//	  output:
//	    destination: topic:invoices
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miladsoleymani/cloudstream/binder"
	"github.com/miladsoleymani/cloudstream/binding"
	"github.com/miladsoleymani/cloudstream/broker"
	"github.com/miladsoleymani/cloudstream/core"
)

// Config is the root of a configuration file.
type Config struct {
	DefaultBinder                string             `yaml:"defaultBinder"`
	InstanceIndex                int                `yaml:"instanceIndex"`
	InstanceCount                int                `yaml:"instanceCount"`
	LegacyPartitionedFallThrough bool               `yaml:"legacyPartitionedFallThrough"`
	Binders                      map[string]Binder  `yaml:"binders"`
	Bindings                     map[string]Binding `yaml:"bindings"`
}

// Binder configures one named binder.
type Binder struct {
	// Type is shorthand for a single transport source.
	Type string `yaml:"type"`

	// Sources lists registered transports and customizers, in order.
	Sources []string `yaml:"sources"`

	Brokers           []string       `yaml:"brokers"`
	Group             string         `yaml:"group"`
	MinPartitionCount int            `yaml:"minPartitionCount"`
	Extra             map[string]any `yaml:"extra"`
}

// Binding configures the binding of one local channel.
type Binding struct {
	Destination    string         `yaml:"destination"`
	Binder         string         `yaml:"binder"`
	Partitioned    bool           `yaml:"partitioned"`
	PartitionCount int            `yaml:"partitionCount"`
	Consumer       map[string]any `yaml:"consumer"`
	Producer       map[string]any `yaml:"producer"`
}

// Loader reads configuration files.
type Loader struct {
	// Lookup resolves environment references. Default: os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load reads and parses the file at path using the default Loader.
func Load(path string) (*Config, error) {
	return Loader{}.Load(path)
}

// Parse parses YAML from r using the default Loader.
func Parse(r io.Reader) (*Config, error) {
	return Loader{}.Parse(r)
}

// Load reads and parses the file at path.
func (l Loader) Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return l.Parse(f)
}

// Parse expands environment references in r, decodes it and validates the
// result. Unknown keys are rejected.
func (l Loader) Parse(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.Expand(string(raw), l.expand)

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: config: %w", core.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l Loader) expand(ref string) string {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	name, def, hasDef := strings.Cut(ref, ":-")
	if v, ok := lookup(name); ok && (v != "" || !hasDef) {
		return v
	}
	return def
}

// Validate checks references between binders and bindings.
func (c *Config) Validate() error {
	for name, b := range c.Binders {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: config: blank binder name", core.ErrConfiguration)
		}
		if b.Type == "" && len(b.Sources) == 0 {
			return fmt.Errorf("%w: config: binder %q needs a type or sources", core.ErrConfiguration, name)
		}
	}
	if c.DefaultBinder != "" {
		if _, ok := c.Binders[c.DefaultBinder]; !ok {
			return fmt.Errorf("%w: config: default binder %q is not defined", core.ErrConfiguration, c.DefaultBinder)
		}
	}
	for name, b := range c.Bindings {
		if b.Binder == "" {
			continue
		}
		if _, ok := c.Binders[b.Binder]; !ok {
			return fmt.Errorf("%w: config: binding %q uses undefined binder %q", core.ErrConfiguration, name, b.Binder)
		}
	}
	if c.InstanceIndex < 0 || (c.InstanceCount > 0 && c.InstanceIndex >= c.InstanceCount) {
		return fmt.Errorf("%w: config: instance index %d out of range for count %d",
			core.ErrConfiguration, c.InstanceIndex, c.InstanceCount)
	}
	return nil
}

// BinderConfigurations returns the binder catalog, sorted by name.
func (c *Config) BinderConfigurations() []binder.Configuration {
	names := make([]string, 0, len(c.Binders))
	for name := range c.Binders {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]binder.Configuration, 0, len(names))
	for _, name := range names {
		b := c.Binders[name]
		sources := append([]string(nil), b.Sources...)
		if len(sources) == 0 {
			sources = []string{b.Type}
		}
		out = append(out, binder.Configuration{Name: name, Sources: sources})
	}
	return out
}

// RegistryOptions returns the registry options for the default binder and
// the transport settings of each binder.
func (c *Config) RegistryOptions() []binder.RegistryOption {
	var opts []binder.RegistryOption
	if c.DefaultBinder != "" {
		opts = append(opts, binder.WithDefault(c.DefaultBinder))
	}
	for name, b := range c.Binders {
		opts = append(opts, binder.WithBrokerConfig(name, broker.Config{
			Brokers:           b.Brokers,
			Group:             b.Group,
			MinPartitionCount: b.MinPartitionCount,
			Extra:             b.Extra,
		}))
	}
	return opts
}

// BindingProperties returns the binding service settings.
func (c *Config) BindingProperties() binding.Properties {
	props := binding.Properties{
		InstanceIndex:                c.InstanceIndex,
		InstanceCount:                c.InstanceCount,
		LegacyPartitionedFallThrough: c.LegacyPartitionedFallThrough,
		Bindings:                     make(map[string]binding.ChannelProperties, len(c.Bindings)),
	}
	if props.InstanceCount == 0 {
		props.InstanceCount = 1
	}
	for name, b := range c.Bindings {
		props.Bindings[name] = binding.ChannelProperties{
			Destination:    b.Destination,
			Binder:         b.Binder,
			Partitioned:    b.Partitioned,
			PartitionCount: b.PartitionCount,
			Consumer:       toProperties(b.Consumer),
			Producer:       toProperties(b.Producer),
		}
	}
	return props
}

func toProperties(m map[string]any) core.Properties {
	if m == nil {
		return nil
	}
	out := make(core.Properties, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}
