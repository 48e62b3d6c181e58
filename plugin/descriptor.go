package plugin

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/c360studio/semstreams/component"
)

// DefaultConfigFileName is used when a descriptor leaves ConfigFileName empty.
const DefaultConfigFileName = "config.toml"

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Descriptor is the static metadata the host reads at load time.
type Descriptor struct {
	// Name is unique within the host's plugin namespace.
	Name string `json:"name"`

	Version     string `json:"version"`
	Description string `json:"description"`
	Author      string `json:"author,omitempty"`
	License     string `json:"license,omitempty"`

	// Enabled is the compiled-in default; a config file may switch it off.
	Enabled bool `json:"enabled"`

	// Dependencies lists plugins the host must load before this one, in order.
	Dependencies []string `json:"dependencies"`

	// ModuleDependencies lists Go modules the plugin needs at build time.
	// Informational only; the host does not resolve them.
	ModuleDependencies []string `json:"module_dependencies"`

	// ConfigFileName is the file name under the plugin's config directory.
	ConfigFileName string `json:"config_file_name"`

	Keywords      []string `json:"keywords,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	RepositoryURL string   `json:"repository_url,omitempty"`

	ConfigSchema ConfigSchema `json:"config_schema"`
}

// ConfigFile returns the config file name, falling back to DefaultConfigFileName.
func (d Descriptor) ConfigFile() string {
	if d.ConfigFileName == "" {
		return DefaultConfigFileName
	}
	return d.ConfigFileName
}

// Validate checks that the descriptor is structurally well formed.
func (d Descriptor) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("%w: name %q must match %s", ErrInvalidDescriptor, d.Name, namePattern)
	}

	seen := make(map[string]bool, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		if dep == d.Name {
			return fmt.Errorf("%w: %s depends on itself", ErrInvalidDescriptor, d.Name)
		}
		if seen[dep] {
			return fmt.Errorf("%w: %s lists dependency %s twice", ErrInvalidDescriptor, d.Name, dep)
		}
		seen[dep] = true
	}

	if err := d.ConfigSchema.Validate(); err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}
	return nil
}

// Factory builds a handler component from its JSON config.
// It matches the semstreams registration factory signature.
type Factory = func(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error)

// HandlerInfo is the metadata for one event handler.
type HandlerInfo struct {
	// Name is the component name the handler registers under in the host.
	Name        string `json:"name"`
	Description string `json:"description"`

	// Weight orders handlers subscribed to the same event; higher runs first.
	Weight int `json:"weight"`

	// InterceptMessage marks handlers that may stop further processing of a message.
	InterceptMessage bool `json:"intercept_message"`

	// EventTypes lists the event types the handler subscribes to.
	EventTypes []string `json:"event_types"`

	Enabled bool `json:"enabled"`
}

// HandlerRegistration pairs handler metadata with the factory that builds it.
type HandlerRegistration struct {
	Info    HandlerInfo
	Factory Factory
	Schema  component.ConfigSchema
}

// Validate checks the registration can be handed to the host.
func (h HandlerRegistration) Validate() error {
	if h.Info.Name == "" {
		return fmt.Errorf("%w: handler name is required", ErrInvalidDescriptor)
	}
	if h.Factory == nil {
		return fmt.Errorf("%w: handler %s has no factory", ErrInvalidDescriptor, h.Info.Name)
	}
	return nil
}

// Plugin is a unit of host-loaded functionality.
//
// Components must return a non-empty list that is stable across calls.
type Plugin interface {
	Descriptor() Descriptor
	Components() []HandlerRegistration
}

// Configurable is implemented by plugins that derive component configs from
// their loaded config file. The returned map is keyed by component name.
type Configurable interface {
	ComponentConfigs(loaded *LoadedConfig) (map[string]json.RawMessage, error)
}
