package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds plugins by name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register validates p and adds it to the registry.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: nil plugin", ErrInvalidDescriptor)
	}
	d := p.Descriptor()
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, d.Name)
	}
	r.plugins[d.Name] = p
	return nil
}

// Lookup returns the plugin registered under name.
func (r *Registry) Lookup(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// List returns all plugins sorted by name.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Plugin, len(names))
	for i, name := range names {
		out[i] = r.plugins[name]
	}
	return out
}

var defaultRegistry = NewRegistry()

// Register adds p to the process-wide registry.
func Register(p Plugin) error {
	return defaultRegistry.Register(p)
}

// MustRegister is Register for use in init(); it panics on error.
func MustRegister(p Plugin) {
	if err := Register(p); err != nil {
		panic("failed to register plugin: " + err.Error())
	}
}

// Registered returns the process-wide plugins sorted by name.
func Registered() []Plugin {
	return defaultRegistry.List()
}

// Lookup finds a plugin in the process-wide registry.
func Lookup(name string) (Plugin, bool) {
	return defaultRegistry.Lookup(name)
}
