package proactivethinker

import (
	"fmt"

	"github.com/c360studio/semthink/plugin"
)

// Register registers the proactive thinker component with the given registry.
func Register(registry plugin.RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	_, err := plugin.Install(registry, Plugin{})
	return err
}
