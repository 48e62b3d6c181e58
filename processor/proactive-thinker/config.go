package proactivethinker

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semthink/feed"
	"github.com/c360studio/semthink/model"
)

// thinkerSchema defines the configuration schema.
var thinkerSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the proactive thinker component.
// Durations are Go duration strings.
type Config struct {
	// StreamName is the JetStream stream carrying chat events.
	StreamName string `json:"stream_name"`

	// ConsumerName is the durable consumer for chat messages.
	ConsumerName string `json:"consumer_name"`

	// MessageSubject filters the chat messages to observe.
	MessageSubject string `json:"message_subject"`

	// ThoughtSubjectPrefix is prepended to the stream token when publishing thoughts.
	ThoughtSubjectPrefix string `json:"thought_subject_prefix"`

	// ActivityBucket is the KV bucket holding per-stream activity.
	ActivityBucket string `json:"activity_bucket"`

	// CheckInterval is how often quiet streams are evaluated.
	CheckInterval string `json:"check_interval"`

	// SilenceThreshold is how long a stream must be quiet before the bot considers speaking.
	SilenceThreshold string `json:"silence_threshold"`

	// Cooldown is the minimum gap between evaluations of the same silence,
	// and between two thoughts in one stream.
	Cooldown string `json:"cooldown"`

	// MaxPerDay caps thoughts per stream per local day. Nil uses the
	// default; zero means no limit.
	MaxPerDay *int `json:"max_per_day,omitempty"`

	// QuietHours is a local-hour range such as "23-7" during which the bot stays silent.
	QuietHours string `json:"quiet_hours,omitempty"`

	// Timezone is an IANA zone for quiet hours and daily limits. Empty means local time.
	Timezone string `json:"timezone,omitempty"`

	// EnabledStreams and BlockedStreams are glob patterns over stream IDs.
	EnabledStreams []string `json:"enabled_streams"`
	BlockedStreams []string `json:"blocked_streams,omitempty"`

	// HistoryWindow is how many recent messages are kept for the prompt.
	HistoryWindow int `json:"history_window"`

	// Capability is the model capability used for decisions.
	Capability string `json:"capability"`

	// Temperature for the decision call; nil leaves the endpoint default.
	Temperature *float64 `json:"temperature,omitempty"`

	// AllowConsecutive lets the bot speak again when it was the last speaker.
	AllowConsecutive bool `json:"allow_consecutive,omitempty"`

	PersonaFile       string `json:"persona_file,omitempty"`
	ModelRegistryPath string `json:"model_registry_path,omitempty"`

	// TopicFeeds are https pages summarised into the prompt as conversation material.
	TopicFeeds    []string `json:"topic_feeds,omitempty"`
	FeedRefresh   string   `json:"feed_refresh"`
	MaxTopicChars int      `json:"max_topic_chars"`

	// PluginConfigPath is the plugin's TOML file. When set, policy changes
	// in it apply without a restart.
	PluginConfigPath string `json:"plugin_config_path,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	temperature := 0.8
	maxPerDay := 3
	return Config{
		StreamName:           "CHAT",
		ConsumerName:         ComponentName,
		MessageSubject:       "chat.message.>",
		ThoughtSubjectPrefix: "chat.proactive",
		ActivityBucket:       "CHAT_ACTIVITY",
		CheckInterval:        "1m",
		SilenceThreshold:     "30m",
		Cooldown:             "2h",
		MaxPerDay:            &maxPerDay,
		QuietHours:           "23-7",
		EnabledStreams:       []string{"*"},
		HistoryWindow:        20,
		Capability:           string(model.CapabilityThinking),
		Temperature:          &temperature,
		FeedRefresh:          "6h",
		MaxTopicChars:        2000,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "chat-messages",
					Type:        "jetstream",
					Subject:     "chat.message.>",
					StreamName:  "CHAT",
					Description: "Observe chat messages to track stream activity",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "proactive-thoughts",
					Type:        "jetstream",
					Subject:     "chat.proactive.>",
					StreamName:  "CHAT",
					Description: "Publish unprompted messages for quiet streams",
					Required:    true,
				},
			},
		},
	}
}

// applyDefaults fills zero-valued fields from DefaultConfig.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.StreamName == "" {
		c.StreamName = d.StreamName
	}
	if c.ConsumerName == "" {
		c.ConsumerName = d.ConsumerName
	}
	if c.MessageSubject == "" {
		c.MessageSubject = d.MessageSubject
	}
	if c.ThoughtSubjectPrefix == "" {
		c.ThoughtSubjectPrefix = d.ThoughtSubjectPrefix
	}
	if c.ActivityBucket == "" {
		c.ActivityBucket = d.ActivityBucket
	}
	if c.CheckInterval == "" {
		c.CheckInterval = d.CheckInterval
	}
	if c.SilenceThreshold == "" {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.Cooldown == "" {
		c.Cooldown = d.Cooldown
	}
	if c.MaxPerDay == nil {
		c.MaxPerDay = d.MaxPerDay
	}
	if c.EnabledStreams == nil {
		c.EnabledStreams = d.EnabledStreams
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	if c.Capability == "" {
		c.Capability = d.Capability
	}
	if c.FeedRefresh == "" {
		c.FeedRefresh = d.FeedRefresh
	}
	if c.MaxTopicChars == 0 {
		c.MaxTopicChars = d.MaxTopicChars
	}
	if c.Ports == nil {
		c.Ports = d.Ports
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.MessageSubject == "" {
		return fmt.Errorf("message_subject is required")
	}
	if c.ThoughtSubjectPrefix == "" {
		return fmt.Errorf("thought_subject_prefix is required")
	}
	for field, v := range map[string]string{
		"check_interval":    c.CheckInterval,
		"silence_threshold": c.SilenceThreshold,
		"cooldown":          c.Cooldown,
		"feed_refresh":      c.FeedRefresh,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", field)
		}
	}
	if c.MaxPerDay != nil && *c.MaxPerDay < 0 {
		return fmt.Errorf("max_per_day must not be negative")
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("history_window must not be negative")
	}
	if _, err := ParseQuietHours(c.QuietHours); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if model.ParseCapability(c.Capability) == "" {
		return fmt.Errorf("unknown capability %q", c.Capability)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if err := validPatterns(c.EnabledStreams); err != nil {
		return fmt.Errorf("enabled_streams: %w", err)
	}
	if err := validPatterns(c.BlockedStreams); err != nil {
		return fmt.Errorf("blocked_streams: %w", err)
	}
	for _, u := range c.TopicFeeds {
		if err := feed.ValidateURL(u); err != nil {
			return fmt.Errorf("topic_feeds: %w", err)
		}
	}
	return nil
}

// GetMaxPerDay returns the daily thought limit, zero meaning unlimited.
func (c *Config) GetMaxPerDay() int {
	if c.MaxPerDay == nil {
		return 3
	}
	return *c.MaxPerDay
}

// GetCheckInterval returns the check interval, defaulting to one minute.
func (c *Config) GetCheckInterval() time.Duration {
	return parseDurationOr(c.CheckInterval, time.Minute)
}

// GetSilenceThreshold returns the silence threshold.
func (c *Config) GetSilenceThreshold() time.Duration {
	return parseDurationOr(c.SilenceThreshold, 30*time.Minute)
}

// GetCooldown returns the cooldown.
func (c *Config) GetCooldown() time.Duration {
	return parseDurationOr(c.Cooldown, 2*time.Hour)
}

// GetFeedRefresh returns the topic feed refresh interval.
func (c *Config) GetFeedRefresh() time.Duration {
	return parseDurationOr(c.FeedRefresh, 6*time.Hour)
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
