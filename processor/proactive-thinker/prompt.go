package proactivethinker

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/semthink/chat"
	"github.com/c360studio/semthink/feed"
	"github.com/c360studio/semthink/llm"
	"gopkg.in/yaml.v3"
)

// Persona describes who the bot is when it speaks unprompted.
type Persona struct {
	Name      string   `yaml:"name"`
	Identity  string   `yaml:"identity"`
	Style     string   `yaml:"style"`
	Interests []string `yaml:"interests,omitempty"`

	// Overrides replace fields for streams matching a glob. The first
	// matching override wins.
	Overrides []PersonaOverride `yaml:"overrides,omitempty"`
}

// PersonaOverride is a per-stream persona patch.
type PersonaOverride struct {
	Streams   string   `yaml:"streams"`
	Name      string   `yaml:"name,omitempty"`
	Identity  string   `yaml:"identity,omitempty"`
	Style     string   `yaml:"style,omitempty"`
	Interests []string `yaml:"interests,omitempty"`
}

// DefaultPersona is used when no persona file is configured.
func DefaultPersona() *Persona {
	return &Persona{
		Name:     "Mai",
		Identity: "a friendly regular in this chat who enjoys talking with people",
		Style:    "casual, short, one or two sentences, no emoji spam",
	}
}

// LoadPersona reads a YAML persona file. Empty fields keep their defaults.
func LoadPersona(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona: %w", err)
	}

	p := DefaultPersona()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse persona %s: %w", path, err)
	}
	for i, o := range p.Overrides {
		if o.Streams == "" {
			return nil, fmt.Errorf("persona override %d: streams is required", i)
		}
		if !doublestar.ValidatePattern(o.Streams) {
			return nil, fmt.Errorf("persona override %d: invalid pattern %q", i, o.Streams)
		}
	}
	return p, nil
}

// For returns the persona to use in streamID, with any override applied.
func (p *Persona) For(streamID string) Persona {
	out := *p
	out.Overrides = nil
	for _, o := range p.Overrides {
		if ok, _ := doublestar.Match(o.Streams, streamID); !ok {
			continue
		}
		if o.Name != "" {
			out.Name = o.Name
		}
		if o.Identity != "" {
			out.Identity = o.Identity
		}
		if o.Style != "" {
			out.Style = o.Style
		}
		if len(o.Interests) > 0 {
			out.Interests = o.Interests
		}
		break
	}
	return out
}

const decisionInstructions = `Decide whether to say something now. Only speak if you have something natural to add: a follow-up on the last topic, a light question, or something from the material below that fits this group. Staying quiet is often right.

Reply with a single JSON object and nothing else:
{"action": "speak" or "wait", "reason": "<short reason>", "message": "<what you would say, only when speaking>"}`

// BuildMessages assembles the decision prompt for one quiet stream.
func BuildMessages(persona *Persona, a *chat.Activity, topics []feed.Digest, now time.Time) []llm.Message {
	p := persona.For(a.StreamID)

	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s, %s.\n", p.Name, p.Identity)
	if p.Style != "" {
		fmt.Fprintf(&sys, "Speaking style: %s.\n", p.Style)
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&sys, "You are interested in: %s.\n", strings.Join(p.Interests, ", "))
	}
	sys.WriteString("\n")
	sys.WriteString(decisionInstructions)

	var user strings.Builder
	fmt.Fprintf(&user, "Chat: %s\n", a.StreamID)
	fmt.Fprintf(&user, "The chat has been quiet for %s.\n", humanDuration(a.SilentFor(now)))

	if len(a.Recent) > 0 {
		user.WriteString("\nRecent messages, oldest first:\n")
		for _, m := range a.Recent {
			speaker := m.Speaker
			if m.IsBot {
				speaker = p.Name + " (you)"
			}
			fmt.Fprintf(&user, "[%s] %s: %s\n", m.At.In(now.Location()).Format("15:04"), speaker, m.Content)
		}
	}

	if len(topics) > 0 {
		user.WriteString("\nThings you read recently:\n")
		for _, t := range topics {
			fmt.Fprintf(&user, "\n## %s\n%s\n", t.Title, t.Markdown)
		}
	}

	return []llm.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}
}

// humanDuration rounds to minutes, or hours once past two hours.
func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "less than a minute"
	case d < 2*time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
}
