package plugin

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPlugin is a minimal Plugin used across the package tests.
type stubPlugin struct {
	desc     Descriptor
	handlers []HandlerRegistration
}

func (s stubPlugin) Descriptor() Descriptor             { return s.desc }
func (s stubPlugin) Components() []HandlerRegistration { return s.handlers }

func stubFactory(json.RawMessage, component.Dependencies) (component.Discoverable, error) {
	return nil, errors.New("not built in tests")
}

func newStub(name string, deps ...string) stubPlugin {
	return stubPlugin{
		desc: Descriptor{
			Name:         name,
			Version:      "1.0.0",
			Enabled:      true,
			Dependencies: deps,
			ConfigSchema: ConfigSchema{
				VersionSection: {
					VersionField: {Type: FieldString, Default: "1.0.0", Description: "config file version"},
				},
			},
		},
		handlers: []HandlerRegistration{
			{
				Info:    HandlerInfo{Name: name + "-handler", Enabled: true},
				Factory: stubFactory,
			},
		},
	}
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Descriptor)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Descriptor) {}},
		{name: "empty name", mutate: func(d *Descriptor) { d.Name = "" }, wantErr: true},
		{name: "uppercase name", mutate: func(d *Descriptor) { d.Name = "Proactive" }, wantErr: true},
		{name: "underscore name", mutate: func(d *Descriptor) { d.Name = "proactive_thinker" }},
		{name: "self dependency", mutate: func(d *Descriptor) { d.Dependencies = []string{d.Name} }, wantErr: true},
		{name: "duplicate dependency", mutate: func(d *Descriptor) { d.Dependencies = []string{"a", "a"} }, wantErr: true},
		{
			name: "bad schema default",
			mutate: func(d *Descriptor) {
				d.ConfigSchema["extra"] = ConfigSection{"n": {Type: FieldInt, Default: "three"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newStub("stub").desc
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDescriptor) || errors.Is(err, ErrInvalidConfig))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDescriptor_ConfigFile(t *testing.T) {
	d := Descriptor{Name: "x"}
	assert.Equal(t, DefaultConfigFileName, d.ConfigFile())

	d.ConfigFileName = "settings.toml"
	assert.Equal(t, "settings.toml", d.ConfigFile())
}

func TestHandlerRegistration_Validate(t *testing.T) {
	assert.Error(t, HandlerRegistration{Factory: stubFactory}.Validate())
	assert.Error(t, HandlerRegistration{Info: HandlerInfo{Name: "h"}}.Validate())
	assert.NoError(t, HandlerRegistration{Info: HandlerInfo{Name: "h"}, Factory: stubFactory}.Validate())
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(newStub("beta")))
	require.NoError(t, r.Register(newStub("alpha")))

	err := r.Register(newStub("alpha"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicatePlugin)

	err = r.Register(nil)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	err = r.Register(newStub("Bad Name"))
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Descriptor().Name)
	assert.Equal(t, "beta", list[1].Descriptor().Name)

	p, ok := r.Lookup("beta")
	require.True(t, ok)
	assert.Equal(t, "beta", p.Descriptor().Name)

	_, ok = r.Lookup("gamma")
	assert.False(t, ok)
}

func TestMustRegister_PanicsOnDuplicate(t *testing.T) {
	saved := defaultRegistry
	defaultRegistry = NewRegistry()
	defer func() { defaultRegistry = saved }()

	MustRegister(newStub("once"))
	assert.Panics(t, func() { MustRegister(newStub("once")) })

	_, ok := Lookup("once")
	assert.True(t, ok)
	assert.Len(t, Registered(), 1)
}

// recordingRegistry captures RegisterWithConfig calls.
type recordingRegistry struct {
	configs []component.RegistrationConfig
	err     error
}

func (r *recordingRegistry) RegisterWithConfig(cfg component.RegistrationConfig) error {
	if r.err != nil {
		return r.err
	}
	r.configs = append(r.configs, cfg)
	return nil
}

func TestInstall(t *testing.T) {
	t.Run("registers enabled handlers", func(t *testing.T) {
		p := newStub("thinker")
		p.desc.Description = "thinks"
		p.handlers = append(p.handlers, HandlerRegistration{
			Info:    HandlerInfo{Name: "off", Enabled: false},
			Factory: stubFactory,
		})

		reg := &recordingRegistry{}
		names, err := Install(reg, p)
		require.NoError(t, err)
		assert.Equal(t, []string{"thinker-handler"}, names)

		require.Len(t, reg.configs, 1)
		cfg := reg.configs[0]
		assert.Equal(t, "thinker-handler", cfg.Name)
		assert.Equal(t, "processor", cfg.Type)
		assert.Equal(t, "chat", cfg.Domain)
		assert.Equal(t, "event", cfg.Protocol)
		assert.Equal(t, "1.0.0", cfg.Version)
		assert.Equal(t, "thinks", cfg.Description)
		assert.NotNil(t, cfg.Factory)
	})

	t.Run("disabled plugin installs nothing", func(t *testing.T) {
		p := newStub("thinker")
		p.desc.Enabled = false

		reg := &recordingRegistry{}
		names, err := Install(reg, p)
		require.NoError(t, err)
		assert.Empty(t, names)
		assert.Empty(t, reg.configs)
	})

	t.Run("no components", func(t *testing.T) {
		p := newStub("thinker")
		p.handlers = nil

		_, err := Install(&recordingRegistry{}, p)
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("nil registry", func(t *testing.T) {
		_, err := Install(nil, newStub("thinker"))
		assert.Error(t, err)
	})

	t.Run("host rejects", func(t *testing.T) {
		reg := &recordingRegistry{err: errors.New("duplicate factory")}
		_, err := Install(reg, newStub("thinker"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "thinker/thinker-handler")
	})
}

func TestSchema_Merge(t *testing.T) {
	schema := ConfigSchema{
		"plugin": {
			"config_version": {Type: FieldString, Default: "1.1.0"},
			"enabled":        {Type: FieldBool, Default: true},
		},
		"thinker": {
			"cooldown":    {Type: FieldDuration, Default: 2 * time.Hour},
			"max_per_day": {Type: FieldInt, Default: 3},
			"temperature": {Type: FieldFloat, Default: 0.8},
			"streams":     {Type: FieldList, Default: []string{"*"}},
			"mode":        {Type: FieldString, Default: "gentle", Choices: []string{"gentle", "chatty"}},
		},
	}
	require.NoError(t, schema.Validate())

	t.Run("defaults", func(t *testing.T) {
		v := schema.Defaults()
		assert.Equal(t, "1.1.0", v.String("plugin", "config_version"))
		assert.True(t, v.Enabled())
		assert.Equal(t, 2*time.Hour, v.Duration("thinker", "cooldown"))
		assert.Equal(t, 3, v.Int("thinker", "max_per_day"))
		assert.InDelta(t, 0.8, v.Float("thinker", "temperature"), 1e-9)
		assert.Equal(t, []string{"*"}, v.List("thinker", "streams"))
	})

	t.Run("overrides with toml types", func(t *testing.T) {
		v, err := schema.Merge(map[string]any{
			"plugin": map[string]any{"enabled": false},
			"thinker": map[string]any{
				"cooldown":    "45m",
				"max_per_day": int64(7),
				"temperature": int64(1),
				"streams":     []any{"qq:group:*"},
				"mode":        "chatty",
				"unknown":     "ignored",
			},
			"other": map[string]any{"x": 1},
		})
		require.NoError(t, err)
		assert.False(t, v.Enabled())
		assert.Equal(t, 45*time.Minute, v.Duration("thinker", "cooldown"))
		assert.Equal(t, 7, v.Int("thinker", "max_per_day"))
		assert.InDelta(t, 1.0, v.Float("thinker", "temperature"), 1e-9)
		assert.Equal(t, []string{"qq:group:*"}, v.List("thinker", "streams"))
		assert.Equal(t, "chatty", v.String("thinker", "mode"))
		_, kept := v["thinker"]["unknown"]
		assert.False(t, kept)
		_, kept = v["other"]
		assert.False(t, kept)
	})

	t.Run("rejects", func(t *testing.T) {
		cases := []map[string]any{
			{"thinker": "not a table"},
			{"thinker": map[string]any{"max_per_day": "many"}},
			{"thinker": map[string]any{"cooldown": "soon"}},
			{"thinker": map[string]any{"mode": "loud"}},
			{"thinker": map[string]any{"streams": []any{1}}},
			{"thinker": map[string]any{"max_per_day": 1.5}},
		}
		for _, raw := range cases {
			_, err := schema.Merge(raw)
			assert.ErrorIs(t, err, ErrInvalidConfig, "raw=%v", raw)
		}
	})
}

func TestSchema_SectionNamesPutsVersionFirst(t *testing.T) {
	schema := ConfigSchema{
		"alpha":  {},
		"plugin": {},
		"zeta":   {},
	}
	assert.Equal(t, []string{"plugin", "alpha", "zeta"}, schema.SectionNames())
}

func TestSchema_ValidateRejectsChoicesOnNonString(t *testing.T) {
	schema := ConfigSchema{
		"s": {"n": {Type: FieldInt, Default: 1, Choices: []string{"1"}}},
	}
	assert.ErrorIs(t, schema.Validate(), ErrInvalidConfig)

	schema = ConfigSchema{
		"s": {"n": {Type: "complex", Default: 1}},
	}
	assert.ErrorIs(t, schema.Validate(), ErrInvalidConfig)
}
