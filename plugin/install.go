package plugin

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface is the part of the semstreams component registry Install needs.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Install registers every enabled handler of p with the host registry and
// returns the names of the components it registered. A disabled plugin
// installs nothing.
func Install(registry RegistryInterface, p Plugin) ([]string, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if p == nil {
		return nil, fmt.Errorf("%w: nil plugin", ErrInvalidDescriptor)
	}

	d := p.Descriptor()
	if !d.Enabled {
		return nil, nil
	}

	handlers := p.Components()
	if len(handlers) == 0 {
		return nil, fmt.Errorf("%w: %s declares no components", ErrInvalidDescriptor, d.Name)
	}

	var installed []string
	for _, h := range handlers {
		if err := h.Validate(); err != nil {
			return installed, fmt.Errorf("%s: %w", d.Name, err)
		}
		if !h.Info.Enabled {
			continue
		}

		description := h.Info.Description
		if description == "" {
			description = d.Description
		}

		err := registry.RegisterWithConfig(component.RegistrationConfig{
			Name:        h.Info.Name,
			Factory:     h.Factory,
			Schema:      h.Schema,
			Type:        "processor",
			Protocol:    "event",
			Domain:      "chat",
			Description: description,
			Version:     d.Version,
		})
		if err != nil {
			return installed, fmt.Errorf("register %s/%s: %w", d.Name, h.Info.Name, err)
		}
		installed = append(installed, h.Info.Name)
	}

	return installed, nil
}
