package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry resolves capabilities to endpoint chains.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[Capability]*CapabilityConfig
	endpoints    map[string]*EndpointConfig
	defaultModel string

	health *healthTracker
}

// CapabilityConfig lists the endpoints serving a capability.
type CapabilityConfig struct {
	Description string `json:"description,omitempty"`

	// Preferred endpoints are tried first, in order.
	Preferred []string `json:"preferred"`

	// Fallback endpoints are tried once every preferred one has failed.
	Fallback []string `json:"fallback,omitempty"`
}

// EndpointConfig describes one model endpoint.
type EndpointConfig struct {
	// Provider selects the wire format: anthropic, ollama or openai.
	Provider string `json:"provider"`

	// URL overrides the provider's default base URL.
	URL string `json:"url,omitempty"`

	// Model is the identifier sent to the provider.
	Model string `json:"model"`

	// MaxTokens caps the completion length when a request does not set one.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// NewRegistry creates a registry from explicit capability and endpoint maps.
func NewRegistry(caps map[Capability]*CapabilityConfig, endpoints map[string]*EndpointConfig) *Registry {
	if caps == nil {
		caps = make(map[Capability]*CapabilityConfig)
	}
	if endpoints == nil {
		endpoints = make(map[string]*EndpointConfig)
	}
	return &Registry{
		capabilities: caps,
		endpoints:    endpoints,
		health:       newHealthTracker(DefaultHealthConfig()),
	}
}

// NewDefaultRegistry returns the built-in setup: a hosted model for thinking
// and a local Ollama model as the fallback for everything.
func NewDefaultRegistry() *Registry {
	r := NewRegistry(
		map[Capability]*CapabilityConfig{
			CapabilityThinking: {
				Description: CapabilityThinking.Description(),
				Preferred:   []string{"claude-sonnet"},
				Fallback:    []string{"claude-haiku", "qwen"},
			},
			CapabilityChat: {
				Description: CapabilityChat.Description(),
				Preferred:   []string{"claude-haiku"},
				Fallback:    []string{"qwen"},
			},
			CapabilityFast: {
				Description: CapabilityFast.Description(),
				Preferred:   []string{"qwen"},
			},
		},
		map[string]*EndpointConfig{
			"claude-sonnet": {
				Provider:  "anthropic",
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 1024,
			},
			"claude-haiku": {
				Provider:  "anthropic",
				Model:     "claude-haiku-3-5-20241022",
				MaxTokens: 1024,
			},
			"qwen": {
				Provider:  "ollama",
				URL:       "http://localhost:11434/v1",
				Model:     "qwen2.5:7b",
				MaxTokens: 1024,
			},
		},
	)
	r.defaultModel = "qwen"
	return r
}

// Resolve returns the first preferred endpoint for a capability, or the
// default endpoint when the capability is not configured.
func (r *Registry) Resolve(c Capability) string {
	chain := r.FallbackChain(c)
	if len(chain) == 0 {
		return ""
	}
	return chain[0]
}

// FallbackChain returns preferred then fallback endpoints for a capability.
func (r *Registry) FallbackChain(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.capabilities[c]
	if !ok {
		if r.defaultModel == "" {
			return nil
		}
		return []string{r.defaultModel}
	}

	chain := make([]string, 0, len(cfg.Preferred)+len(cfg.Fallback))
	seen := make(map[string]bool, cap(chain))
	for _, name := range append(append([]string{}, cfg.Preferred...), cfg.Fallback...) {
		if seen[name] {
			continue
		}
		seen[name] = true
		chain = append(chain, name)
	}
	return chain
}

// AvailableChain is FallbackChain without endpoints whose circuit is open.
// When every endpoint is open the full chain is returned.
func (r *Registry) AvailableChain(c Capability) []string {
	chain := r.FallbackChain(c)
	available := make([]string, 0, len(chain))
	for _, name := range chain {
		if r.IsAvailable(name) {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return chain
	}
	return available
}

// Endpoint returns the endpoint config for name, or nil.
func (r *Registry) Endpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[name]
}

// SetCapability adds or replaces a capability.
func (r *Registry) SetCapability(c Capability, cfg *CapabilityConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[c] = cfg
}

// SetEndpoint adds or replaces an endpoint.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[name] = cfg
}

// SetDefault sets the endpoint used for unconfigured capabilities.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultModel = name
}

// Capabilities returns configured capabilities in name order.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.capabilities))
	for c := range r.capabilities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Endpoints returns configured endpoint names in order.
func (r *Registry) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every referenced endpoint exists and has a provider
// and model.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, ep := range r.endpoints {
		if ep == nil {
			errs = append(errs, fmt.Errorf("endpoint %s: empty config", name))
			continue
		}
		if ep.Provider == "" {
			errs = append(errs, fmt.Errorf("endpoint %s: provider is required", name))
		}
		if ep.Model == "" {
			errs = append(errs, fmt.Errorf("endpoint %s: model is required", name))
		}
	}
	for c, cfg := range r.capabilities {
		if cfg == nil || len(cfg.Preferred) == 0 {
			errs = append(errs, fmt.Errorf("capability %s: at least one preferred endpoint is required", c))
			continue
		}
		for _, name := range append(append([]string{}, cfg.Preferred...), cfg.Fallback...) {
			if _, ok := r.endpoints[name]; !ok {
				errs = append(errs, fmt.Errorf("capability %s: unknown endpoint %s", c, name))
			}
		}
	}
	if r.defaultModel != "" {
		if _, ok := r.endpoints[r.defaultModel]; !ok {
			errs = append(errs, fmt.Errorf("default endpoint %s is not configured", r.defaultModel))
		}
	}
	return errors.Join(errs...)
}
