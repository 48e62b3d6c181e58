// Package plugin defines the registration contract between semthink plugins
// and the semstreams host.
//
// A plugin is a static unit of metadata plus a factory list:
//
//	type Plugin interface {
//	    Descriptor() Descriptor
//	    Components() []HandlerRegistration
//	}
//
// The Descriptor carries the plugin name (unique within the host), an
// enable flag, the ordered names of plugins that must be loaded first, and
// a ConfigSchema mapping section name to field name to a typed,
// default-valued ConfigField. Components returns the event handlers the
// host should instantiate, each as a HandlerRegistration pairing handler
// metadata with the semstreams factory that builds it.
//
// Plugins register themselves from init():
//
//	func init() {
//	    plugin.MustRegister(Plugin{})
//	}
//
// The host binary then resolves dependency order, loads each plugin's TOML
// config file and installs the enabled handlers into the semstreams
// component registry:
//
//	ordered, err := plugin.ResolveOrder(plugin.Registered())
//	for _, p := range ordered {
//	    loaded, err := plugin.LoadConfig(pluginsDir, p.Descriptor(), logger)
//	    ...
//	    plugin.Install(componentRegistry, p)
//	}
//
// Config files are generated from the schema defaults on first load and
// regenerated (with a .bak backup) when the stored plugin.config_version
// differs from the schema's.
package plugin
