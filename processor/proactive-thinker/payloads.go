package proactivethinker

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/c360studio/semstreams/message"
)

// ThoughtType is the message type for ProactiveThought payloads.
var ThoughtType = message.Type{
	Domain:   "chat",
	Category: "proactive",
	Version:  "v1",
}

// ProactiveThought is a message the bot decided to send to a quiet stream.
// Platform adapters deliver it.
type ProactiveThought struct {
	ThoughtID  string    `json:"thought_id"`
	StreamID   string    `json:"stream_id"`
	Platform   string    `json:"platform,omitempty"`
	Message    string    `json:"message"`
	Reason     string    `json:"reason,omitempty"`
	Model      string    `json:"model,omitempty"`
	Capability string    `json:"capability"`
	CreatedAt  time.Time `json:"created_at"`
}

// Schema returns the message type for this payload.
func (t *ProactiveThought) Schema() message.Type {
	return ThoughtType
}

// Validate validates the payload.
func (t *ProactiveThought) Validate() error {
	if t.ThoughtID == "" {
		return errors.New("thought_id is required")
	}
	if t.StreamID == "" {
		return errors.New("stream_id is required")
	}
	if t.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t *ProactiveThought) MarshalJSON() ([]byte, error) {
	type Alias ProactiveThought
	return json.Marshal((*Alias)(t))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ProactiveThought) UnmarshalJSON(data []byte) error {
	type Alias ProactiveThought
	return json.Unmarshal(data, (*Alias)(t))
}
