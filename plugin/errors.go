package plugin

import "errors"

// Sentinel errors returned by registration, ordering and config loading.
var (
	ErrInvalidDescriptor = errors.New("invalid plugin descriptor")
	ErrDuplicatePlugin   = errors.New("plugin already registered")
	ErrMissingDependency = errors.New("missing plugin dependency")
	ErrDependencyCycle   = errors.New("plugin dependency cycle")
	ErrInvalidConfig     = errors.New("invalid plugin config")
)
