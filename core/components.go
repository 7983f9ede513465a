package core

import (
	"fmt"
	"strings"
	"sync"
)

// Registry resolves previously constructed components, such as channels and
// listener targets, by name.
type Registry interface {
	Lookup(name string) (any, bool)
}

// Components is a concurrency-safe Registry backed by a map.
type Components struct {
	mu    sync.RWMutex
	items map[string]any
}

// NewComponents creates an empty Components registry.
func NewComponents() *Components {
	return &Components{items: make(map[string]any)}
}

// Register adds a named component. Names are unique.
func (c *Components) Register(name string, v any) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: component name must not be blank", ErrConfiguration)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[name]; exists {
		return fmt.Errorf("%w: component %q already registered", ErrConfiguration, name)
	}
	c.items[name] = v
	return nil
}

// Lookup returns the named component.
func (c *Components) Lookup(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[name]
	return v, ok
}

// LookupOrRegister returns the named component, registering the result of
// create when it is absent. create runs under the registry lock.
func (c *Components) LookupOrRegister(name string, create func() (any, error)) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.items[name]; ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return nil, err
	}
	c.items[name] = v
	return v, nil
}
