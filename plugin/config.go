package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LoadedConfig is a plugin's config file after defaults, overrides and migration.
type LoadedConfig struct {
	Path   string
	Values Values

	// Created is set when the file did not exist and was generated from defaults.
	Created bool

	// Migrated is set when the file's config_version differed from the schema's
	// and the file was rewritten. The previous file is kept at Path + ".bak".
	Migrated bool
	// PreviousVersion is the config_version found in the file before migration.
	PreviousVersion string
}

// Enabled reports whether the config file leaves the plugin switched on.
func (c *LoadedConfig) Enabled() bool {
	return c == nil || c.Values.Enabled()
}

// ConfigPath returns <dir>/<plugin name>/<config file>.
func ConfigPath(dir string, d Descriptor) string {
	return filepath.Join(dir, d.Name, d.ConfigFile())
}

// LoadConfig reads the plugin's TOML config file, generating it from the
// schema defaults when missing and regenerating it when its config_version
// does not match the schema.
func LoadConfig(dir string, d Descriptor, logger *slog.Logger) (*LoadedConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := ConfigPath(dir, d)

	raw, err := readRaw(path)
	if errors.Is(err, fs.ErrNotExist) {
		values := d.ConfigSchema.Defaults()
		if err := WriteConfig(path, d.ConfigSchema, values); err != nil {
			return nil, err
		}
		logger.Info("Generated plugin config",
			"plugin", d.Name,
			"path", path)
		return &LoadedConfig{Path: path, Values: values, Created: true}, nil
	}
	if err != nil {
		return nil, err
	}

	want := d.ConfigSchema.Version()
	have := rawVersion(raw)
	if want != "" && have != want {
		return migrateConfig(path, d, raw, have, logger)
	}

	values, err := d.ConfigSchema.Merge(raw)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	logger.Debug("Loaded plugin config",
		"plugin", d.Name,
		"path", path,
		"version", have)

	return &LoadedConfig{Path: path, Values: values}, nil
}

// migrateConfig carries forward every value that is still valid under the
// current schema, backs up the old file and writes the new one.
func migrateConfig(path string, d Descriptor, raw map[string]any, from string, logger *slog.Logger) (*LoadedConfig, error) {
	values := d.ConfigSchema.Defaults()
	for _, section := range d.ConfigSchema.SectionNames() {
		fields, _ := raw[section].(map[string]any)
		for name, v := range fields {
			field, ok := d.ConfigSchema[section][name]
			if !ok {
				continue
			}
			coerced, err := field.Coerce(v)
			if err != nil {
				logger.Warn("Dropping invalid value during config migration",
					"plugin", d.Name,
					"field", section+"."+name,
					"error", err)
				continue
			}
			values[section][name] = coerced
		}
	}
	values[VersionSection][VersionField] = d.ConfigSchema.Version()

	old, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	backup := path + ".bak"
	if err := os.WriteFile(backup, old, 0o644); err != nil {
		return nil, fmt.Errorf("backup %s: %w", path, err)
	}

	if err := WriteConfig(path, d.ConfigSchema, values); err != nil {
		return nil, err
	}

	logger.Info("Migrated plugin config",
		"plugin", d.Name,
		"from", from,
		"to", d.ConfigSchema.Version(),
		"backup", backup)

	return &LoadedConfig{
		Path:            path,
		Values:          values,
		Migrated:        true,
		PreviousVersion: from,
	}, nil
}

// ReadConfig parses the file at path and merges it onto the schema defaults.
func ReadConfig(path string, schema ConfigSchema) (Values, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	values, err := schema.Merge(raw)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return values, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := make(map[string]any)
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return raw, nil
}

func rawVersion(raw map[string]any) string {
	section, _ := raw[VersionSection].(map[string]any)
	v, _ := section[VersionField].(string)
	return v
}

// WriteConfig renders values as a commented TOML file, one table per section,
// and replaces path atomically.
func WriteConfig(path string, schema ConfigSchema, values Values) error {
	data, err := RenderConfig(schema, values)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// RenderConfig returns the TOML text WriteConfig would write.
func RenderConfig(schema ConfigSchema, values Values) ([]byte, error) {
	var buf bytes.Buffer
	for i, section := range schema.SectionNames() {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "[%s]\n", section)

		fields := schema[section]
		for _, name := range fields.FieldNames() {
			field := fields[name]
			v, ok := values[section][name]
			if !ok {
				v = field.Default
			}

			if field.Description != "" {
				for _, line := range strings.Split(field.Description, "\n") {
					fmt.Fprintf(&buf, "# %s\n", line)
				}
			}
			if len(field.Choices) > 0 {
				fmt.Fprintf(&buf, "# choices: %s\n", strings.Join(field.Choices, ", "))
			}

			line, err := toml.Marshal(map[string]any{name: tomlValue(v)})
			if err != nil {
				return nil, fmt.Errorf("encode %s.%s: %w", section, name, err)
			}
			buf.Write(line)
		}
	}
	return buf.Bytes(), nil
}

func tomlValue(v any) any {
	switch t := v.(type) {
	case time.Duration:
		return t.String()
	case nil:
		return []string{}
	}
	return v
}
