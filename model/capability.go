// Package model maps semantic capabilities to concrete LLM endpoints.
//
// Handlers ask for a capability such as "thinking" instead of a model name;
// the Registry resolves it to an ordered chain of endpoints and tracks
// endpoint health so the chain can skip ones that keep failing.
package model

import "sort"

// Capability names what a request needs from a model.
type Capability string

const (
	// CapabilityThinking is for deciding whether and what to say unprompted.
	CapabilityThinking Capability = "thinking"

	// CapabilityChat is for ordinary conversational replies.
	CapabilityChat Capability = "chat"

	// CapabilityFast is for cheap, quick calls.
	CapabilityFast Capability = "fast"
)

var knownCapabilities = map[Capability]string{
	CapabilityThinking: "Deliberate proactive decisions in quiet conversations",
	CapabilityChat:     "Conversational replies",
	CapabilityFast:     "Quick, low-cost responses",
}

// IsValid reports whether c is a known capability.
func (c Capability) IsValid() bool {
	_, ok := knownCapabilities[c]
	return ok
}

func (c Capability) String() string {
	return string(c)
}

// Description returns the built-in description for a known capability.
func (c Capability) Description() string {
	return knownCapabilities[c]
}

// ParseCapability converts s to a Capability, returning "" for unknown values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}

// KnownCapabilities returns the built-in capabilities as sorted strings.
func KnownCapabilities() []string {
	out := make([]string, 0, len(knownCapabilities))
	for c := range knownCapabilities {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}
