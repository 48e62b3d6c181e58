package plugin

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"
)

// FieldType is the value type of a ConfigField.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldBool     FieldType = "bool"
	FieldDuration FieldType = "duration"
	FieldList     FieldType = "list"
)

// IsValid reports whether t is a known field type.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldString, FieldInt, FieldFloat, FieldBool, FieldDuration, FieldList:
		return true
	}
	return false
}

// Well-known section and field holding the config file version.
const (
	VersionSection = "plugin"
	VersionField   = "config_version"
	EnabledField   = "enabled"
)

// ConfigField describes one user-settable parameter.
type ConfigField struct {
	// Type is the value type; values read from the config file are coerced to it.
	Type FieldType `json:"type"`

	// Default is used when the config file does not set the field.
	Default any `json:"default"`

	// Description is written as a comment above the field in generated files.
	Description string `json:"description"`

	// Choices restricts string fields to a fixed set of values.
	Choices []string `json:"choices,omitempty"`
}

// ConfigSection maps field names to their descriptors.
type ConfigSection map[string]ConfigField

// ConfigSchema maps section names to sections.
type ConfigSchema map[string]ConfigSection

// Values holds resolved config values by section and field.
type Values map[string]map[string]any

// Validate checks that the field type is known and the default is assignable to it.
func (f ConfigField) Validate() error {
	if !f.Type.IsValid() {
		return fmt.Errorf("unknown field type %q", f.Type)
	}
	if len(f.Choices) > 0 && f.Type != FieldString {
		return fmt.Errorf("choices are only supported on string fields")
	}
	if _, err := f.Coerce(f.Default); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	return nil
}

// Coerce converts v to the field's Go representation.
// TOML integers arrive as int64 and durations as strings; both are accepted.
func (f ConfigField) Coerce(v any) (any, error) {
	switch f.Type {
	case FieldString:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(f.Type, v)
		}
		if len(f.Choices) > 0 && !slices.Contains(f.Choices, s) {
			return nil, fmt.Errorf("value %q not in %v", s, f.Choices)
		}
		return s, nil

	case FieldInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("value %v is not an integer", n)
			}
			return int(n), nil
		}
		return nil, typeError(f.Type, v)

	case FieldFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, typeError(f.Type, v)

	case FieldBool:
		b, ok := v.(bool)
		if !ok {
			return nil, typeError(f.Type, v)
		}
		return b, nil

	case FieldDuration:
		switch d := v.(type) {
		case time.Duration:
			return d, nil
		case string:
			parsed, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", d, err)
			}
			return parsed, nil
		}
		return nil, typeError(f.Type, v)

	case FieldList:
		switch l := v.(type) {
		case nil:
			return []string{}, nil
		case []string:
			return slices.Clone(l), nil
		case []any:
			out := make([]string, 0, len(l))
			for i, item := range l {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("item %d: %w", i, typeError(FieldString, item))
				}
				out = append(out, s)
			}
			return out, nil
		}
		return nil, typeError(f.Type, v)
	}
	return nil, fmt.Errorf("unknown field type %q", f.Type)
}

func typeError(want FieldType, got any) error {
	return fmt.Errorf("expected %s, got %T", want, got)
}

// Validate checks that every section and field is well formed.
func (s ConfigSchema) Validate() error {
	for _, section := range s.SectionNames() {
		if section == "" {
			return fmt.Errorf("%w: empty section name", ErrInvalidConfig)
		}
		fields := s[section]
		for _, name := range fields.FieldNames() {
			if name == "" {
				return fmt.Errorf("%w: empty field name in section %s", ErrInvalidConfig, section)
			}
			if err := fields[name].Validate(); err != nil {
				return fmt.Errorf("%w: %s.%s: %v", ErrInvalidConfig, section, name, err)
			}
		}
	}
	return nil
}

// SectionNames returns section names with the version section first and the
// rest sorted.
func (s ConfigSchema) SectionNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == VersionSection {
			return names[j] != VersionSection
		}
		if names[j] == VersionSection {
			return false
		}
		return names[i] < names[j]
	})
	return names
}

// FieldNames returns the field names sorted.
func (s ConfigSection) FieldNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Version returns the schema's config_version default, or "" if undeclared.
func (s ConfigSchema) Version() string {
	field, ok := s[VersionSection][VersionField]
	if !ok {
		return ""
	}
	v, _ := field.Default.(string)
	return v
}

// Defaults returns a Values populated from every field's default.
func (s ConfigSchema) Defaults() Values {
	values := make(Values, len(s))
	for section, fields := range s {
		values[section] = make(map[string]any, len(fields))
		for name, field := range fields {
			v, err := field.Coerce(field.Default)
			if err != nil {
				v = field.Default
			}
			values[section][name] = v
		}
	}
	return values
}

// Merge overlays raw (as decoded from a config file) onto the defaults.
// Keys not declared in the schema are ignored.
func (s ConfigSchema) Merge(raw map[string]any) (Values, error) {
	values := s.Defaults()
	for _, section := range s.SectionNames() {
		rawSection, ok := raw[section]
		if !ok {
			continue
		}
		fields, ok := rawSection.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: section %s is not a table", ErrInvalidConfig, section)
		}
		for _, name := range s[section].FieldNames() {
			v, ok := fields[name]
			if !ok {
				continue
			}
			coerced, err := s[section][name].Coerce(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidConfig, section, name, err)
			}
			values[section][name] = coerced
		}
	}
	return values, nil
}

// String returns a string value, or "" when unset or of another type.
func (v Values) String(section, name string) string {
	s, _ := v[section][name].(string)
	return s
}

// Int returns an int value, or 0 when unset.
func (v Values) Int(section, name string) int {
	n, _ := v[section][name].(int)
	return n
}

// Float returns a float value, or 0 when unset.
func (v Values) Float(section, name string) float64 {
	f, _ := v[section][name].(float64)
	return f
}

// Bool returns a bool value, or false when unset.
func (v Values) Bool(section, name string) bool {
	b, _ := v[section][name].(bool)
	return b
}

// Duration returns a duration value, or 0 when unset.
func (v Values) Duration(section, name string) time.Duration {
	d, _ := v[section][name].(time.Duration)
	return d
}

// List returns a list value, or nil when unset.
func (v Values) List(section, name string) []string {
	l, _ := v[section][name].([]string)
	return l
}

// Enabled reports the plugin.enabled switch. Files without it are enabled.
func (v Values) Enabled() bool {
	b, ok := v[VersionSection][EnabledField].(bool)
	return !ok || b
}
