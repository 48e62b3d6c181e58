// Package proactivethinker is the proactive_thinker plugin: a processor that
// watches chat streams and, when one has gone quiet, asks a model whether the
// bot should say something.
package proactivethinker

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semthink/chat"
	"github.com/c360studio/semthink/model"
	"github.com/c360studio/semthink/plugin"
)

const (
	// PluginName is the plugin's name in the host namespace.
	PluginName = "proactive_thinker"

	// ComponentName is the name the event handler registers under.
	ComponentName = "proactive-thinker"

	// ConfigVersion is the current config file version. Bump it when the
	// schema changes so existing files are migrated.
	ConfigVersion = "1.1.0"

	// Version is the plugin version.
	Version = "0.2.0"
)

// Plugin is the proactive_thinker plugin unit.
type Plugin struct{}

var (
	_ plugin.Plugin       = Plugin{}
	_ plugin.Configurable = Plugin{}
)

func init() {
	plugin.MustRegister(Plugin{})
}

// Descriptor returns the plugin metadata.
func (Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:               PluginName,
		Version:            Version,
		Description:        "Lets the bot start conversations in chats that have gone quiet",
		Enabled:            true,
		Dependencies:       []string{},
		ModuleDependencies: []string{},
		ConfigFileName:     "config.toml",
		Keywords:           []string{"chat", "proactive", "llm"},
		Categories:         []string{"conversation"},
		ConfigSchema:       pluginSchema(),
	}
}

// Components returns the plugin's single event handler.
func (Plugin) Components() []plugin.HandlerRegistration {
	return []plugin.HandlerRegistration{
		{
			Info:    HandlerInfo(),
			Factory: NewComponent,
			Schema:  thinkerSchema,
		},
	}
}

// HandlerInfo describes the ProactiveThinkerEventHandler.
func HandlerInfo() plugin.HandlerInfo {
	t := chat.MessageType
	return plugin.HandlerInfo{
		Name:        ComponentName,
		Description: "ProactiveThinkerEventHandler: decides whether to speak in quiet chats",
		EventTypes:  []string{fmt.Sprintf("%s.%s.%s", t.Domain, t.Category, t.Version)},
		Enabled:     true,
	}
}

// ComponentConfigs maps the plugin config file onto the handler's JSON config.
func (Plugin) ComponentConfigs(loaded *plugin.LoadedConfig) (map[string]json.RawMessage, error) {
	values := pluginSchema().Defaults()
	if loaded != nil {
		values = loaded.Values
	}

	cfg := configFromValues(values, DefaultConfig())
	if loaded != nil {
		cfg.PluginConfigPath = loaded.Path
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s config: %w", PluginName, err)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s config: %w", ComponentName, err)
	}
	return map[string]json.RawMessage{ComponentName: raw}, nil
}

// configFromValues overlays plugin config values onto base.
func configFromValues(v plugin.Values, base Config) Config {
	cfg := base

	cfg.CheckInterval = v.Duration("thinker", "check_interval").String()
	cfg.SilenceThreshold = v.Duration("thinker", "silence_threshold").String()
	cfg.Cooldown = v.Duration("thinker", "cooldown").String()
	maxPerDay := v.Int("thinker", "max_per_day")
	cfg.MaxPerDay = &maxPerDay
	cfg.QuietHours = v.String("thinker", "quiet_hours")
	cfg.Timezone = v.String("thinker", "timezone")
	cfg.EnabledStreams = v.List("thinker", "enabled_streams")
	cfg.BlockedStreams = v.List("thinker", "blocked_streams")
	cfg.HistoryWindow = v.Int("thinker", "history_window")
	cfg.Capability = v.String("thinker", "capability")
	temperature := v.Float("thinker", "temperature")
	cfg.Temperature = &temperature
	cfg.AllowConsecutive = v.Bool("thinker", "allow_consecutive")

	cfg.TopicFeeds = v.List("feeds", "urls")
	cfg.FeedRefresh = v.Duration("feeds", "refresh").String()
	cfg.MaxTopicChars = v.Int("feeds", "max_chars")

	cfg.PersonaFile = v.String("persona", "file")
	cfg.ModelRegistryPath = v.String("models", "registry_file")
	return cfg
}

func pluginSchema() plugin.ConfigSchema {
	return plugin.ConfigSchema{
		plugin.VersionSection: {
			plugin.VersionField: {
				Type:        plugin.FieldString,
				Default:     ConfigVersion,
				Description: "配置文件版本",
			},
			plugin.EnabledField: {
				Type:        plugin.FieldBool,
				Default:     true,
				Description: "Set to false to keep the plugin loaded but silent",
			},
		},
		"thinker": {
			"check_interval": {
				Type:        plugin.FieldDuration,
				Default:     "1m",
				Description: "How often quiet chats are checked",
			},
			"silence_threshold": {
				Type:        plugin.FieldDuration,
				Default:     "30m",
				Description: "How long a chat must be quiet before the bot considers speaking",
			},
			"cooldown": {
				Type:        plugin.FieldDuration,
				Default:     "2h",
				Description: "Minimum time between two proactive messages in one chat",
			},
			"max_per_day": {
				Type:        plugin.FieldInt,
				Default:     3,
				Description: "Proactive messages allowed per chat per day; 0 for no limit",
			},
			"quiet_hours": {
				Type:        plugin.FieldString,
				Default:     "23-7",
				Description: "Local hours START-END when the bot never speaks first; empty to disable",
			},
			"timezone": {
				Type:        plugin.FieldString,
				Default:     "",
				Description: "IANA time zone for quiet hours and daily limits; empty for local time",
			},
			"enabled_streams": {
				Type:        plugin.FieldList,
				Default:     []string{"*"},
				Description: "Glob patterns of chat stream IDs the bot may speak in",
			},
			"blocked_streams": {
				Type:        plugin.FieldList,
				Default:     []string{},
				Description: "Glob patterns of chat stream IDs the bot never speaks in",
			},
			"history_window": {
				Type:        plugin.FieldInt,
				Default:     20,
				Description: "Recent messages shown to the model",
			},
			"capability": {
				Type:        plugin.FieldString,
				Default:     string(model.CapabilityThinking),
				Description: "Model capability used to decide",
				Choices:     model.KnownCapabilities(),
			},
			"temperature": {
				Type:        plugin.FieldFloat,
				Default:     0.8,
				Description: "Sampling temperature for the decision",
			},
			"allow_consecutive": {
				Type:        plugin.FieldBool,
				Default:     false,
				Description: "Allow speaking again when the bot sent the last message",
			},
		},
		"feeds": {
			"urls": {
				Type:        plugin.FieldList,
				Default:     []string{},
				Description: "HTTPS pages summarised as conversation material",
			},
			"refresh": {
				Type:        plugin.FieldDuration,
				Default:     "6h",
				Description: "How often each page is refetched",
			},
			"max_chars": {
				Type:        plugin.FieldInt,
				Default:     2000,
				Description: "Characters kept from each page",
			},
		},
		"persona": {
			"file": {
				Type:        plugin.FieldString,
				Default:     "",
				Description: "YAML persona file; empty for the built-in persona",
			},
		},
		"models": {
			"registry_file": {
				Type:        plugin.FieldString,
				Default:     "",
				Description: "JSON model registry merged over the built-in endpoints",
			},
		},
	}
}
