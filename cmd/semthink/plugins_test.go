package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semthink/plugin"
	proactivethinker "github.com/c360studio/semthink/processor/proactive-thinker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRegistry struct {
	names []string
}

func (r *recordingRegistry) RegisterWithConfig(cfg component.RegistrationConfig) error {
	r.names = append(r.names, cfg.Name)
	return nil
}

type stubPlugin struct {
	name string
	deps []string
}

func (s stubPlugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:         s.name,
		Version:      "1.0.0",
		Enabled:      true,
		Dependencies: s.deps,
		ConfigSchema: plugin.ConfigSchema{
			plugin.VersionSection: {
				plugin.VersionField: {Type: plugin.FieldString, Default: "1.0.0"},
				plugin.EnabledField: {Type: plugin.FieldBool, Default: true},
			},
		},
	}
}

func (s stubPlugin) Components() []plugin.HandlerRegistration {
	return []plugin.HandlerRegistration{{
		Info: plugin.HandlerInfo{Name: s.name + "-handler", Enabled: true},
		Factory: func(json.RawMessage, component.Dependencies) (component.Discoverable, error) {
			return nil, errors.New("not built in tests")
		},
	}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInstallPlugins(t *testing.T) {
	dir := t.TempDir()
	reg := &recordingRegistry{}
	plugins := []plugin.Plugin{
		stubPlugin{name: "greeter", deps: []string{"base"}},
		stubPlugin{name: "base"},
		proactivethinker.Plugin{},
	}

	configs, err := installPlugins(reg, plugins, dir, quietLogger())
	require.NoError(t, err)

	assert.Less(t, indexOf(reg.names, "base-handler"), indexOf(reg.names, "greeter-handler"),
		"dependencies install first")
	assert.Contains(t, reg.names, proactivethinker.ComponentName)

	require.Contains(t, configs, proactivethinker.ComponentName)
	assert.NotContains(t, configs, "base-handler", "plugins without Configurable contribute no config")

	for _, name := range []string{"greeter", "base", proactivethinker.PluginName} {
		assert.FileExists(t, filepath.Join(dir, name, "config.toml"))
	}
}

func TestInstallPlugins_DisabledByConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("[plugin]\nconfig_version = \"1.0.0\"\nenabled = false\n"), 0o644))

	reg := &recordingRegistry{}
	_, err := installPlugins(reg, []plugin.Plugin{stubPlugin{name: "base"}}, dir, quietLogger())
	require.NoError(t, err)
	assert.Empty(t, reg.names)
}

func TestInstallPlugins_MissingDependency(t *testing.T) {
	reg := &recordingRegistry{}
	_, err := installPlugins(reg, []plugin.Plugin{stubPlugin{name: "greeter", deps: []string{"base"}}}, t.TempDir(), quietLogger())
	assert.ErrorIs(t, err, plugin.ErrMissingDependency)
	assert.Empty(t, reg.names)
}

func TestWritePluginConfig(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	require.NoError(t, writePluginConfig(&out, proactivethinker.PluginName, dir, false))
	assert.Contains(t, out.String(), "created ")

	out.Reset()
	require.NoError(t, writePluginConfig(&out, proactivethinker.PluginName, dir, true))
	assert.Contains(t, out.String(), "is up to date")
	assert.Contains(t, out.String(), "[thinker]")
	assert.Contains(t, out.String(), "配置文件版本")

	assert.ErrorContains(t, writePluginConfig(&out, "nope", dir, false), "unknown plugin")
}

func TestRenderPluginTable(t *testing.T) {
	var out bytes.Buffer
	renderPluginTable(&out, []plugin.Plugin{stubPlugin{name: "base"}, stubPlugin{name: "greeter", deps: []string{"base"}}})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "base-handler")
	assert.Contains(t, lines[2], "greeter")

	out.Reset()
	renderPluginTable(&out, nil)
	assert.Contains(t, out.String(), "No plugins registered.")
}

func TestRootCmd_Version(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "semthink version "+Version)
}

func TestRootCmd_PluginsList(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"plugins", "list"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), proactivethinker.PluginName)
	assert.Contains(t, out.String(), proactivethinker.ComponentName)
}

func indexOf(items []string, want string) int {
	for i, item := range items {
		if item == want {
			return i
		}
	}
	return -1
}
