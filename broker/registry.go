package broker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/miladsoleymani/cloudstream/core"
)

// Factory creates a Broker from the given Config.
type Factory func(cfg Config) (core.Broker, error)

// Customizer adjusts a Config before the factory runs. Customizers let a
// binder configuration layer settings from several named sources.
type Customizer func(cfg *Config) error

var (
	mu          sync.RWMutex
	factories   = make(map[string]Factory)
	customizers = make(map[string]Customizer)
)

// Register adds a named broker factory. Plugins call this from init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// RegisterCustomizer adds a named Config customizer.
func RegisterCustomizer(name string, c Customizer) {
	mu.Lock()
	defer mu.Unlock()
	customizers[name] = c
}

// Lookup returns the factory or customizer registered under name. Exactly
// one of the two results is non-nil when ok is true.
func Lookup(name string) (f Factory, c Customizer, ok bool) {
	mu.RLock()
	defer mu.RUnlock()
	if f, ok := factories[name]; ok {
		return f, nil, true
	}
	if c, ok := customizers[name]; ok {
		return nil, c, true
	}
	return nil, nil, false
}

// Names lists the registered factories in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Create instantiates a broker by name using the registered factory.
func Create(name string, cfg Config) (core.Broker, error) {
	f, _, _ := Lookup(name)
	if f == nil {
		return nil, fmt.Errorf("%w: unknown broker %q", core.ErrBinderResolution, name)
	}
	return f(cfg)
}
