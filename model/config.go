package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// RegistryConfig is the JSON form of a Registry. It can stand alone or sit
// under a "model_registry" key in a larger config file.
type RegistryConfig struct {
	Capabilities map[string]*CapabilityConfig `json:"capabilities"`
	Endpoints    map[string]*EndpointConfig   `json:"endpoints"`
	Default      string                       `json:"default,omitempty"`
}

// LoadFromFile reads a registry config file and merges it over the built-in
// defaults.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model registry: %w", err)
	}
	return LoadFromJSON(data)
}

// LoadFromJSON parses data and merges it over the built-in defaults.
func LoadFromJSON(data []byte) (*Registry, error) {
	var wrapped struct {
		ModelRegistry *RegistryConfig `json:"model_registry"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse model registry: %w", err)
	}

	cfg := wrapped.ModelRegistry
	if cfg == nil {
		cfg = &RegistryConfig{}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse model registry: %w", err)
		}
	}

	r := NewDefaultRegistry()
	r.Merge(cfg)
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model registry: %w", err)
	}
	return r, nil
}

// Merge overlays cfg onto the registry. Entries with the same name are replaced.
func (r *Registry) Merge(cfg *RegistryConfig) {
	if cfg == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, c := range cfg.Capabilities {
		r.capabilities[Capability(name)] = c
	}
	for name, ep := range cfg.Endpoints {
		r.endpoints[name] = ep
	}
	if cfg.Default != "" {
		r.defaultModel = cfg.Default
	}
}

// ToConfig returns the registry in its JSON form.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make(map[string]*CapabilityConfig, len(r.capabilities))
	for c, cfg := range r.capabilities {
		caps[string(c)] = cfg
	}
	endpoints := make(map[string]*EndpointConfig, len(r.endpoints))
	for name, ep := range r.endpoints {
		endpoints[name] = ep
	}
	return &RegistryConfig{
		Capabilities: caps,
		Endpoints:    endpoints,
		Default:      r.defaultModel,
	}
}

// MarshalJSON encodes the registry as a RegistryConfig.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToConfig())
}
